package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ken-lyk/qrkeeper/internal/common"
	"github.com/ken-lyk/qrkeeper/internal/logging"
	"github.com/ken-lyk/qrkeeper/internal/server/auth"
	"github.com/ken-lyk/qrkeeper/internal/server/cache"
	"github.com/ken-lyk/qrkeeper/internal/server/config"
	"github.com/ken-lyk/qrkeeper/internal/server/models"
	"github.com/ken-lyk/qrkeeper/internal/server/repositories/repomanager"
)

// Guard turns bearer tokens into users and decides who may touch what.
type Guard struct {
	db             *sql.DB
	repomanager    repomanager.RepositoryManager
	tokens         *auth.TokenService
	cache          cache.UserCache
	enforceEnabled bool
	logger         logging.Logger
}

func NewGuard(db *sql.DB, m repomanager.RepositoryManager, tokens *auth.TokenService, c cache.UserCache, cfg *config.Config, l logging.Logger) *Guard {
	if c == nil {
		c = cache.NopUserCache{}
	}
	return &Guard{
		db:             db,
		repomanager:    m,
		tokens:         tokens,
		cache:          c,
		enforceEnabled: cfg.EnforceEnabledPerRequest,
		logger:         l.With("module", "guard"),
	}
}

// ResolveCaller verifies token and loads its subject. The enabled flag is
// not looked at.
func (g *Guard) ResolveCaller(ctx context.Context, token string) (*models.User, error) {
	principal, err := g.tokens.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorUnauthenticated, err)
	}

	if !validID(principal.SubjectID) {
		return nil, fmt.Errorf("%w: malformed subject", common.ErrorUnauthenticated)
	}

	if u, ok := g.cache.Get(ctx, principal.SubjectID); ok {
		return u, nil
	}

	u, err := g.repomanager.Users(g.db).GetByID(ctx, principal.SubjectID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: subject %s no longer exists", common.ErrorUnauthenticated, principal.SubjectID)
		}
		g.logger.Error(ctx, "caller lookup failed", "user_id", principal.SubjectID, "error", err)
		return nil, fmt.Errorf("%w: caller lookup: %v", common.ErrorInternal, err)
	}

	g.cache.Set(ctx, u)
	return u, nil
}

// Authenticate is ResolveCaller plus the per-request disabled-account check.
func (g *Guard) Authenticate(ctx context.Context, token string) (*models.User, error) {
	u, err := g.ResolveCaller(ctx, token)
	if err != nil {
		return nil, err
	}
	if g.enforceEnabled && !u.Enabled {
		return nil, fmt.Errorf("%w: user %s", common.ErrorAccountDisabled, u.ID)
	}
	return u, nil
}

func (g *Guard) IsAdmin(u *models.User) bool {
	return IsAdmin(u)
}

func IsAdmin(u *models.User) bool {
	if u == nil {
		return false
	}
	switch u.Role {
	case models.RoleAdmin:
		return true
	case models.RoleUser:
		return false
	}
	return false
}

func requireAdmin(caller *models.User) error {
	if !IsAdmin(caller) {
		return fmt.Errorf("%w: admin role required", common.ErrorForbidden)
	}
	return nil
}

// validID reports whether id can name a row; ids are UUIDs and anything
// else cannot exist in the store.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// canAccess applies ownership scoping to a single record.
func canAccess(caller *models.User, rec *models.QRRecord) error {
	if IsAdmin(caller) {
		return nil
	}
	if caller == nil || rec.OwnerID != caller.ID {
		return fmt.Errorf("%w: qr %s", common.ErrorForbidden, rec.ID)
	}
	return nil
}
