package users

import (
	"context"

	"github.com/ken-lyk/qrkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, page models.Page) ([]*models.User, error)
	UpdateRole(ctx context.Context, id string, role models.Role) error
	Delete(ctx context.Context, id string) error
}
