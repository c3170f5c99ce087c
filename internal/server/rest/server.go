// Package rest exposes the user and QR services over HTTP.
package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/ken-lyk/qrkeeper/internal/logging"
	"github.com/ken-lyk/qrkeeper/internal/server/config"
	"github.com/ken-lyk/qrkeeper/internal/server/models"
	"github.com/ken-lyk/qrkeeper/internal/server/services"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

type UserService interface {
	Register(ctx context.Context, name, email, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*services.AccessToken, error)
	Get(ctx context.Context, caller *models.User, id string) (*models.User, error)
	List(ctx context.Context, caller *models.User, page models.Page) ([]*models.User, error)
	Delete(ctx context.Context, caller *models.User, id string) error
}

type QRService interface {
	CreateFromValue(ctx context.Context, caller *models.User, path, data string) (*models.QRRecord, error)
	CreateFromImageData(ctx context.Context, caller *models.User, path, imageBase64 string) (*models.QRRecord, error)
	CreateFromImageFile(ctx context.Context, caller *models.User, filename, contentType string, body []byte) (*models.QRRecord, error)
	Get(ctx context.Context, caller *models.User, id string) (*models.QRRecord, error)
	List(ctx context.Context, caller *models.User, page models.Page) ([]*models.QRRecord, error)
	Delete(ctx context.Context, caller *models.User, id string) error
	ImageURL(ctx context.Context, caller *models.User, id string) (string, error)
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HTTPServer struct {
	address  string
	config   *config.Config
	guard    Authenticator
	users    UserService
	qrs      QRService
	db       Pinger
	metrics  *Metrics
	validate *validator.Validate
	logger   logging.Logger
}

func NewHTTPServer(cfg *config.Config, l logging.Logger, guard Authenticator, us UserService, qs QRService, db Pinger, m *Metrics) *HTTPServer {
	return &HTTPServer{
		address:  cfg.EndpointAddrHTTP,
		config:   cfg,
		guard:    guard,
		users:    us,
		qrs:      qs,
		db:       db,
		metrics:  m,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   l.With("module", "http_server"),
	}
}

// Router builds the full route tree.
func (s *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.middlewareStack()...)

	r.Get("/", s.banner)
	r.Get("/healthz", s.health)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.register)
		r.Post("/login", s.login)
		r.Post("/token", s.token)
	})

	r.Route("/qr", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/", s.listQR)
		r.Post("/", s.createQR)
		r.Post("/qr-image-data", s.createQRFromImageData)
		r.Post("/qr-image-file", s.createQRFromImageFile)
		r.Get("/{id}", s.getQR)
		r.Get("/{id}/image", s.qrImage)
		r.Delete("/{id}", s.deleteQR)
	})

	r.Route("/users", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/", s.listUsers)
		r.Get("/{id}", s.getUser)
		r.Delete("/{id}", s.deleteUser)
	})

	return r
}

func (s *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown failed", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
