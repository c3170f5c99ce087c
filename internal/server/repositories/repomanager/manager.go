package repomanager

import (
	"context"
	"database/sql"

	"github.com/ken-lyk/qrkeeper/internal/dbx"
	"github.com/ken-lyk/qrkeeper/internal/server/repositories/qrcodes"
	"github.com/ken-lyk/qrkeeper/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so services can use
// the same code path inside and outside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	QRCodes(db dbx.DBTX) qrcodes.Repository
}
