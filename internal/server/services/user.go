package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ken-lyk/qrkeeper/internal/common"
	"github.com/ken-lyk/qrkeeper/internal/dbx"
	"github.com/ken-lyk/qrkeeper/internal/logging"
	"github.com/ken-lyk/qrkeeper/internal/server/auth"
	"github.com/ken-lyk/qrkeeper/internal/server/cache"
	"github.com/ken-lyk/qrkeeper/internal/server/config"
	"github.com/ken-lyk/qrkeeper/internal/server/models"
	"github.com/ken-lyk/qrkeeper/internal/server/repositories/repomanager"
	"golang.org/x/crypto/bcrypt"
)

// AccessToken is what a successful login hands back to the client.
type AccessToken struct {
	Token     string
	TokenType string
	ExpiresIn time.Duration
}

type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	tokens      *auth.TokenService
	images      ImageStore
	cache       cache.UserCache
	bcryptCost  int
	logger      logging.Logger

	dummyOnce sync.Once
	dummyHash []byte
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, tokens *auth.TokenService, images ImageStore, c cache.UserCache, cfg *config.Config, l logging.Logger) *UserService {
	if c == nil {
		c = cache.NopUserCache{}
	}
	return &UserService{
		db:          db,
		repomanager: m,
		tokens:      tokens,
		images:      images,
		cache:       c,
		bcryptCost:  cfg.BcryptCost,
		logger:      l.With("module", "user_service"),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *UserService) hashPassword(password string) (string, error) {
	pw := []byte(password)
	defer common.WipeByteArray(pw)

	hash, err := bcrypt.GenerateFromPassword(pw, s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *UserService) checkPassword(hash, password string) bool {
	pw := []byte(password)
	defer common.WipeByteArray(pw)
	return bcrypt.CompareHashAndPassword([]byte(hash), pw) == nil
}

// burnComparison makes an unknown email cost the same as a wrong password.
func (s *UserService) burnComparison(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte(uuid.NewString()), s.bcryptCost)
	})
	s.checkPassword(string(s.dummyHash), password)
}

func (s *UserService) Register(ctx context.Context, name, email, password string) (*models.User, error) {
	email = normalizeEmail(email)
	repo := s.repomanager.Users(s.db)

	_, err := repo.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: email %q is already registered", common.ErrorConflict, email)
	case !errors.Is(err, common.ErrorNotFound):
		return nil, fmt.Errorf("error checking email: %w", err)
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleUser,
		Enabled:      true,
	}

	user, err = repo.Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

func (s *UserService) Login(ctx context.Context, email, password string) (*AccessToken, error) {
	email = normalizeEmail(email)

	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.burnComparison(password)
			return nil, common.ErrorInvalidCredentials
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}

	if !s.checkPassword(user.PasswordHash, password) {
		return nil, common.ErrorInvalidCredentials
	}

	if !user.Enabled {
		return nil, fmt.Errorf("%w: user %s", common.ErrorAccountDisabled, user.ID)
	}

	token, err := s.tokens.Issue(user.ID, user.Name, user.Role.String(), 0)
	if err != nil {
		return nil, fmt.Errorf("%w: issue token: %v", common.ErrorInternal, err)
	}

	return &AccessToken{Token: token, TokenType: common.TokenType, ExpiresIn: s.tokens.TTL()}, nil
}

func (s *UserService) Get(ctx context.Context, caller *models.User, id string) (*models.User, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, fmt.Errorf("%w: user %s", common.ErrorNotFound, id)
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: user %s", common.ErrorNotFound, id)
		}
		return nil, fmt.Errorf("error loading user %s: %w", id, err)
	}
	return user, nil
}

func (s *UserService) List(ctx context.Context, caller *models.User, page models.Page) ([]*models.User, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	users, err := s.repomanager.Users(s.db).List(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("error listing users: %w", err)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("%w: no users at offset %d", common.ErrorNotFound, page.Offset)
	}
	return users, nil
}

// Delete removes the user together with its QR records, then the images
// those records pointed at.
func (s *UserService) Delete(ctx context.Context, caller *models.User, id string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	if !validID(id) {
		return fmt.Errorf("%w: user %s", common.ErrorNotFound, id)
	}

	var keys []string
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		keys, err = s.repomanager.QRCodes(tx).ImageKeysByOwner(ctx, id)
		if err != nil {
			return fmt.Errorf("error collecting images: %w", err)
		}

		if err := s.repomanager.Users(tx).Delete(ctx, id); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return fmt.Errorf("%w: user %s", common.ErrorNotFound, id)
			}
			return fmt.Errorf("error deleting user %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(ctx, id)

	if s.images != nil {
		for _, key := range keys {
			if err := s.images.Delete(ctx, key); err != nil {
				s.logger.Warn(ctx, "orphaned image", "user_id", id, "key", key, "error", err)
			}
		}
	}

	s.logger.Info(ctx, "user deleted", "user_id", id, "images", len(keys))
	return nil
}

// EnsureAdmin makes sure an ADMIN account with email exists. An empty email
// disables the bootstrap.
func (s *UserService) EnsureAdmin(ctx context.Context, name, email, password string) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}

	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByEmail(ctx, email)
	if err == nil {
		if IsAdmin(user) {
			return nil
		}
		if err := repo.UpdateRole(ctx, user.ID, models.RoleAdmin); err != nil {
			return fmt.Errorf("error promoting %s: %w", user.ID, err)
		}
		s.cache.Invalidate(ctx, user.ID)
		s.logger.Info(ctx, "user promoted to admin", "user_id", user.ID)
		return nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return fmt.Errorf("error checking admin: %w", err)
	}

	if password == "" {
		return fmt.Errorf("%w: admin password is required", common.ErrorValidation)
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		return err
	}

	admin := &models.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		Enabled:      true,
	}
	if _, err := repo.Create(ctx, admin); err != nil {
		return fmt.Errorf("error creating admin: %w", err)
	}

	s.logger.Info(ctx, "admin account created", "user_id", admin.ID)
	return nil
}
