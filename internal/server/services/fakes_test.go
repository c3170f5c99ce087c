package services

import (
	"bytes"
	"context"
	"database/sql"
	"image"
	"image/draw"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ken-lyk/qrkeeper/internal/common"
	"github.com/ken-lyk/qrkeeper/internal/dbx"
	"github.com/ken-lyk/qrkeeper/internal/logging"
	"github.com/ken-lyk/qrkeeper/internal/qrdecode"
	"github.com/ken-lyk/qrkeeper/internal/server/auth"
	"github.com/ken-lyk/qrkeeper/internal/server/config"
	"github.com/ken-lyk/qrkeeper/internal/server/models"
	"github.com/ken-lyk/qrkeeper/internal/server/repositories/qrcodes"
	"github.com/ken-lyk/qrkeeper/internal/server/repositories/repomanager"
	"github.com/ken-lyk/qrkeeper/internal/server/repositories/users"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"golang.org/x/crypto/bcrypt"
)

// -------- in-memory stores --------

type memStore struct {
	mu    sync.Mutex
	users []*models.User
	qrs   []*models.QRRecord
}

type memUsers struct{ s *memStore }

func (r *memUsers) Create(ctx context.Context, u *models.User) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, x := range r.s.users {
		if x.Email == u.Email {
			return nil, common.ErrorConflict
		}
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	r.s.users = append(r.s.users, &cp)
	return u, nil
}

func (r *memUsers) find(match func(*models.User) bool) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, x := range r.s.users {
		if match(x) {
			cp := *x
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.ID == id })
}

func (r *memUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.Email == email })
}

func (r *memUsers) List(ctx context.Context, page models.Page) ([]*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.User
	for i, x := range r.s.users {
		if i >= page.Offset && len(out) < page.Limit {
			cp := *x
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memUsers) UpdateRole(ctx context.Context, id string, role models.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, x := range r.s.users {
		if x.ID == id {
			x.Role = role
			return nil
		}
	}
	return common.ErrorNotFound
}

// Delete mirrors the ON DELETE CASCADE on qr_codes.user_id.
func (r *memUsers) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, x := range r.s.users {
		if x.ID == id {
			r.s.users = append(r.s.users[:i], r.s.users[i+1:]...)
			kept := r.s.qrs[:0]
			for _, q := range r.s.qrs {
				if q.OwnerID != id {
					kept = append(kept, q)
				}
			}
			r.s.qrs = kept
			return nil
		}
	}
	return common.ErrorNotFound
}

type memQRCodes struct{ s *memStore }

// Create mirrors the qr_codes.user_id foreign key.
func (r *memQRCodes) Create(ctx context.Context, rec *models.QRRecord) (*models.QRRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	owned := false
	for _, u := range r.s.users {
		if u.ID == rec.OwnerID {
			owned = true
			break
		}
	}
	if !owned {
		return nil, common.ErrorNotFound
	}
	now := time.Now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	cp := *rec
	r.s.qrs = append(r.s.qrs, &cp)
	return rec, nil
}

func (r *memQRCodes) GetByID(ctx context.Context, id string) (*models.QRRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, q := range r.s.qrs {
		if q.ID == id {
			cp := *q
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memQRCodes) filter(page models.Page, match func(*models.QRRecord) bool) []*models.QRRecord {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.QRRecord
	i := 0
	for _, q := range r.s.qrs {
		if !match(q) {
			continue
		}
		if i >= page.Offset && len(out) < page.Limit {
			cp := *q
			out = append(out, &cp)
		}
		i++
	}
	return out
}

func (r *memQRCodes) ListAll(ctx context.Context, page models.Page) ([]*models.QRRecord, error) {
	return r.filter(page, func(*models.QRRecord) bool { return true }), nil
}

func (r *memQRCodes) ListByOwner(ctx context.Context, ownerID string, page models.Page) ([]*models.QRRecord, error) {
	return r.filter(page, func(q *models.QRRecord) bool { return q.OwnerID == ownerID }), nil
}

func (r *memQRCodes) ImageKeysByOwner(ctx context.Context, ownerID string) ([]string, error) {
	var keys []string
	for _, q := range r.filter(models.Page{Limit: 1 << 30}, func(q *models.QRRecord) bool { return q.OwnerID == ownerID }) {
		if q.ImageKey != "" {
			keys = append(keys, q.ImageKey)
		}
	}
	return keys, nil
}

func (r *memQRCodes) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, q := range r.s.qrs {
		if q.ID == id {
			r.s.qrs = append(r.s.qrs[:i], r.s.qrs[i+1:]...)
			return nil
		}
	}
	return common.ErrorNotFound
}

type fakeRepoManager struct {
	users users.Repository
	qrs   qrcodes.Repository
}

func newFakeRepoManager() (*fakeRepoManager, *memStore) {
	s := &memStore{}
	return &fakeRepoManager{users: &memUsers{s: s}, qrs: &memQRCodes{s: s}}, s
}

func (f *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (f *fakeRepoManager) Users(dbx.DBTX) users.Repository            { return f.users }
func (f *fakeRepoManager) QRCodes(dbx.DBTX) qrcodes.Repository        { return f.qrs }

var _ repomanager.RepositoryManager = (*fakeRepoManager)(nil)

// -------- image store --------

type fakeImageStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	deleted []string
}

func newFakeImageStore() *fakeImageStore {
	return &fakeImageStore{objects: map[string][]byte{}}
}

func (f *fakeImageStore) Put(ctx context.Context, key, contentType string, body []byte) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = body
	return nil
}

func (f *fakeImageStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeImageStore) PresignGet(ctx context.Context, key string) (string, error) {
	return "https://s3.local/bucket/" + key + "?X-Amz-Signature=sig", nil
}

// -------- helpers --------

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func testConfig() *config.Config {
	return &config.Config{
		SecretKey:                   "k",
		AccessTokenValidityDuration: time.Hour,
		BcryptCost:                  bcrypt.MinCost,
		EnforceEnabledPerRequest:    true,
	}
}

type env struct {
	db     *sql.DB
	mock   sqlmock.Sqlmock
	store  *memStore
	rm     *fakeRepoManager
	tokens *auth.TokenService
	images *fakeImageStore
	guard  *Guard
	users  *UserService
	qrs    *QRService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := testConfig()
	db, mock := newSQLMockDB(t)
	rm, store := newFakeRepoManager()
	tokens := auth.NewTokenService(cfg.SecretKey, cfg.AccessTokenValidityDuration)
	images := newFakeImageStore()
	l := logging.Nop()

	return &env{
		db:     db,
		mock:   mock,
		store:  store,
		rm:     rm,
		tokens: tokens,
		images: images,
		guard:  NewGuard(db, rm, tokens, nil, cfg, l),
		users:  NewUserService(db, rm, tokens, images, nil, cfg, l),
		qrs:    NewQRService(db, rm, qrdecode.NewDecoder(l), images, l),
	}
}

func (e *env) mustRegister(t *testing.T, name, email string) *models.User {
	t.Helper()
	u, err := e.users.Register(context.Background(), name, email, "pw-"+name)
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return u
}

func (e *env) mustAdmin(t *testing.T) *models.User {
	t.Helper()
	if err := e.users.EnsureAdmin(context.Background(), "root", "root@example.com", "root-pw"); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	u, err := e.rm.users.GetByEmail(context.Background(), "root@example.com")
	if err != nil {
		t.Fatalf("admin lookup: %v", err)
	}
	return u
}

func qrPNG(t *testing.T, text string) []byte {
	t.Helper()
	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 256, 256, nil)
	if err != nil {
		t.Fatalf("encode qr: %v", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, matrix); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

// qrSheetPNG places one 200px symbol per text side by side on a white canvas.
func qrSheetPNG(t *testing.T, texts ...string) []byte {
	t.Helper()
	const size, gap = 200, 40
	canvas := image.NewGray(image.Rect(0, 0, len(texts)*(size+gap)+gap, size+2*gap))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	for i, text := range texts {
		matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, size, size, nil)
		if err != nil {
			t.Fatalf("encode qr: %v", err)
		}
		at := image.Pt(gap+i*(size+gap), gap)
		draw.Draw(canvas, image.Rectangle{Min: at, Max: at.Add(image.Pt(size, size))}, matrix, image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}
