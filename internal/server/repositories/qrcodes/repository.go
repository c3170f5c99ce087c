package qrcodes

import (
	"context"

	"github.com/ken-lyk/qrkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, rec *models.QRRecord) (*models.QRRecord, error)
	GetByID(ctx context.Context, id string) (*models.QRRecord, error)
	ListAll(ctx context.Context, page models.Page) ([]*models.QRRecord, error)
	ListByOwner(ctx context.Context, ownerID string, page models.Page) ([]*models.QRRecord, error)
	ImageKeysByOwner(ctx context.Context, ownerID string) ([]string, error)
	Delete(ctx context.Context, id string) error
}
