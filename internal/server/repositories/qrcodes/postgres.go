// Package qrcodes provides the PostgreSQL-backed QR record store.
package qrcodes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ken-lyk/qrkeeper/internal/common"
	"github.com/ken-lyk/qrkeeper/internal/dbx"
	"github.com/ken-lyk/qrkeeper/internal/server/models"
)

// PostgresRepository implements QR record storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const qrColumns = `id, path, data, origin, user_id, COALESCE(image_key, ''), enabled, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.QRRecord, error) {
	rec := &models.QRRecord{}
	var origin string
	if err := row.Scan(&rec.ID, &rec.Path, &rec.Data, &origin, &rec.OwnerID, &rec.ImageKey,
		&rec.Enabled, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	o, err := models.ParseOrigin(origin)
	if err != nil {
		return nil, err
	}
	rec.Origin = o
	return rec, nil
}

// Create inserts rec and fills in the store-assigned timestamps. A missing
// owner yields common.ErrorNotFound.
func (r *PostgresRepository) Create(ctx context.Context, rec *models.QRRecord) (*models.QRRecord, error) {
	query :=
		`INSERT INTO qr_codes (id, path, data, origin, user_id, image_key, enabled)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		 RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		rec.ID, rec.Path, rec.Data, string(rec.Origin), rec.OwnerID, rec.ImageKey, rec.Enabled).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if dbx.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: owner %s", common.ErrorNotFound, rec.OwnerID)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.QRRecord, error) {
	query := `SELECT ` + qrColumns + ` FROM qr_codes WHERE id = $1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

// ListAll returns one page across every owner.
func (r *PostgresRepository) ListAll(ctx context.Context, page models.Page) ([]*models.QRRecord, error) {
	query := `SELECT ` + qrColumns + ` FROM qr_codes ORDER BY created_at, id OFFSET $1 LIMIT $2`
	return r.list(ctx, query, page.Offset, page.Limit)
}

// ListByOwner returns one page of the records owned by ownerID.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string, page models.Page) ([]*models.QRRecord, error) {
	query := `SELECT ` + qrColumns + ` FROM qr_codes WHERE user_id = $1 ORDER BY created_at, id OFFSET $2 LIMIT $3`
	return r.list(ctx, query, ownerID, page.Offset, page.Limit)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.QRRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.QRRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

// ImageKeysByOwner lists the storage keys of every stored image owned by ownerID.
func (r *PostgresRepository) ImageKeysByOwner(ctx context.Context, ownerID string) ([]string, error) {
	query := `SELECT image_key FROM qr_codes WHERE user_id = $1 AND image_key IS NOT NULL`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return keys, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM qr_codes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
