package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ken-lyk/qrkeeper/internal/common"
	"github.com/ken-lyk/qrkeeper/internal/logging"
	"github.com/ken-lyk/qrkeeper/internal/qrdecode"
	"github.com/ken-lyk/qrkeeper/internal/server/models"
	"github.com/ken-lyk/qrkeeper/internal/server/repositories/repomanager"
	"github.com/ken-lyk/qrkeeper/internal/server/storage"
)

// ImageStore keeps uploaded images. A nil ImageStore means uploads are
// decoded and dropped.
type ImageStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string) (string, error)
}

type QRService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	decoder     *qrdecode.Decoder
	images      ImageStore
	logger      logging.Logger
}

func NewQRService(db *sql.DB, m repomanager.RepositoryManager, d *qrdecode.Decoder, images ImageStore, l logging.Logger) *QRService {
	return &QRService{
		db:          db,
		repomanager: m,
		decoder:     d,
		images:      images,
		logger:      l.With("module", "qr_service"),
	}
}

func (s *QRService) CreateFromValue(ctx context.Context, caller *models.User, path, data string) (*models.QRRecord, error) {
	if data == "" {
		return nil, fmt.Errorf("%w: data must not be empty", common.ErrorInvalidPayload)
	}
	return s.create(ctx, caller, path, data, models.OriginDirectValue, "")
}

func (s *QRService) CreateFromImageData(ctx context.Context, caller *models.User, path, imageBase64 string) (*models.QRRecord, error) {
	data, err := s.firstPayload(ctx, s.decoder.DecodeFromBase64(ctx, imageBase64))
	if err != nil {
		return nil, err
	}
	return s.create(ctx, caller, path, data, models.OriginImageData, "")
}

// CreateFromImageFile uses filename as the record path. The upload is kept
// in the image store, when there is one.
func (s *QRService) CreateFromImageFile(ctx context.Context, caller *models.User, filename, contentType string, body []byte) (*models.QRRecord, error) {
	data, err := s.firstPayload(ctx, s.decoder.Decode(ctx, body))
	if err != nil {
		return nil, err
	}
	if caller == nil {
		return nil, common.ErrorUnauthenticated
	}

	var key string
	if s.images != nil {
		key = storage.NewStorageKey(caller.ID)
		if err := s.images.Put(ctx, key, contentType, body); err != nil {
			return nil, fmt.Errorf("%w: store image: %v", common.ErrorInternal, err)
		}
	}

	rec, err := s.create(ctx, caller, filename, data, models.OriginImageFile, key)
	if err != nil && key != "" {
		if derr := s.images.Delete(ctx, key); derr != nil {
			s.logger.Warn(ctx, "orphaned image", "key", key, "error", derr)
		}
	}
	return rec, err
}

func (s *QRService) firstPayload(ctx context.Context, payloads []string) (string, error) {
	if len(payloads) == 0 {
		return "", fmt.Errorf("%w: no QR code found in image", common.ErrorInvalidPayload)
	}
	if len(payloads) > 1 {
		s.logger.Info(ctx, "image holds several QR codes, keeping the first", "payloads", payloads)
	}
	return payloads[0], nil
}

func (s *QRService) create(ctx context.Context, caller *models.User, path, data string, origin models.Origin, imageKey string) (*models.QRRecord, error) {
	if caller == nil {
		return nil, common.ErrorUnauthenticated
	}

	rec := &models.QRRecord{
		ID:       uuid.NewString(),
		Path:     path,
		Data:     data,
		Origin:   origin,
		OwnerID:  caller.ID,
		ImageKey: imageKey,
		Enabled:  true,
	}

	rec, err := s.repomanager.QRCodes(s.db).Create(ctx, rec)
	if err != nil {
		// the caller's account was deleted after it was authenticated
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: user %s no longer exists", common.ErrorUnauthenticated, caller.ID)
		}
		return nil, fmt.Errorf("error creating qr record: %w", err)
	}

	s.logger.Info(ctx, "qr record created", "qr_id", rec.ID, "user_id", caller.ID, "origin", origin)
	return rec, nil
}

func (s *QRService) load(ctx context.Context, id string) (*models.QRRecord, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: qr %s", common.ErrorNotFound, id)
	}
	rec, err := s.repomanager.QRCodes(s.db).GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: qr %s", common.ErrorNotFound, id)
		}
		return nil, fmt.Errorf("error loading qr %s: %w", id, err)
	}
	return rec, nil
}

func (s *QRService) Get(ctx context.Context, caller *models.User, id string) (*models.QRRecord, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canAccess(caller, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns every record for admins and the caller's own records
// otherwise.
func (s *QRService) List(ctx context.Context, caller *models.User, page models.Page) ([]*models.QRRecord, error) {
	if caller == nil {
		return nil, common.ErrorUnauthenticated
	}

	repo := s.repomanager.QRCodes(s.db)

	var (
		recs []*models.QRRecord
		err  error
	)
	if IsAdmin(caller) {
		recs, err = repo.ListAll(ctx, page)
	} else {
		recs, err = repo.ListByOwner(ctx, caller.ID, page)
	}
	if err != nil {
		return nil, fmt.Errorf("error listing qr records: %w", err)
	}

	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: no qr records at offset %d", common.ErrorNotFound, page.Offset)
	}
	return recs, nil
}

// Delete is reserved for admins, owners included.
func (s *QRService) Delete(ctx context.Context, caller *models.User, id string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}

	rec, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repomanager.QRCodes(s.db).Delete(ctx, id); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("%w: qr %s", common.ErrorNotFound, id)
		}
		return fmt.Errorf("error deleting qr %s: %w", id, err)
	}

	if rec.ImageKey != "" && s.images != nil {
		if err := s.images.Delete(ctx, rec.ImageKey); err != nil {
			s.logger.Warn(ctx, "orphaned image", "qr_id", id, "key", rec.ImageKey, "error", err)
		}
	}

	s.logger.Info(ctx, "qr record deleted", "qr_id", id, "by", caller.ID)
	return nil
}

// ImageURL returns a short-lived download link for the uploaded image.
func (s *QRService) ImageURL(ctx context.Context, caller *models.User, id string) (string, error) {
	rec, err := s.Get(ctx, caller, id)
	if err != nil {
		return "", err
	}
	if rec.ImageKey == "" || s.images == nil {
		return "", fmt.Errorf("%w: qr %s has no stored image", common.ErrorNotFound, id)
	}

	url, err := s.images.PresignGet(ctx, rec.ImageKey)
	if err != nil {
		return "", fmt.Errorf("%w: presign: %v", common.ErrorInternal, err)
	}
	return url, nil
}
