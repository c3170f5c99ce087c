// Package server wires configuration, storage and services together and
// runs the HTTP API until the process is signalled to stop.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ken-lyk/qrkeeper/internal/logging"
	"github.com/ken-lyk/qrkeeper/internal/qrdecode"
	"github.com/ken-lyk/qrkeeper/internal/server/auth"
	"github.com/ken-lyk/qrkeeper/internal/server/cache"
	"github.com/ken-lyk/qrkeeper/internal/server/config"
	"github.com/ken-lyk/qrkeeper/internal/server/repositories/repomanager"
	"github.com/ken-lyk/qrkeeper/internal/server/rest"
	"github.com/ken-lyk/qrkeeper/internal/server/services"
	"github.com/ken-lyk/qrkeeper/internal/server/storage"
	"github.com/redis/go-redis/v9"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	redis       *redis.Client
	userService *services.UserService
	server      *rest.HTTPServer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(c.LogFormat, c.LogLevel)

	db, err := repomanager.OpenDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}

	var userCache cache.UserCache = cache.NopUserCache{}
	if c.CacheEnabled() {
		client, err := cache.NewRedisClient(ctx, c.RedisAddr)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("redis init error: %w", err)
		}
		app.redis = client
		userCache = cache.NewRedisUserCache(client, c.UserCacheTTL, logger)
	}

	var images services.ImageStore
	if c.StorageEnabled() {
		store, err := storage.NewS3ImageStore(ctx, c)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("s3 init error: %w", err)
		}
		images = store
	}

	tokens := auth.NewTokenService(c.SecretKey, c.AccessTokenValidityDuration)

	guard := services.NewGuard(db, rm, tokens, userCache, c, logger)
	app.userService = services.NewUserService(db, rm, tokens, images, userCache, c, logger)
	qs := services.NewQRService(db, rm, qrdecode.NewDecoder(logger), images, logger)

	app.server = rest.NewHTTPServer(c, logger, guard, app.userService, qs, db, rest.NewMetrics())

	logger.Info(ctx, "app initialised",
		"storage", c.StorageEnabled(),
		"cache", c.CacheEnabled(),
		"enforce_enabled_per_request", c.EnforceEnabledPerRequest)

	return app, nil
}

func (app *App) close() {
	if app.redis != nil {
		_ = app.redis.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.close()

	app.logger.Info(ctx, "Starting app...")

	if err := app.userService.EnsureAdmin(ctx, app.config.AdminName, app.config.AdminEmail, app.config.AdminPassword); err != nil {
		return fmt.Errorf("admin bootstrap: %w", err)
	}

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.logger.Info(ctx, "App stopped")
	return nil
}
