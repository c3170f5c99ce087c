package services

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/ken-lyk/qrkeeper/internal/common"
	"github.com/ken-lyk/qrkeeper/internal/logging"
	"github.com/ken-lyk/qrkeeper/internal/qrdecode"
	"github.com/ken-lyk/qrkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQRService_CreateFromValue(t *testing.T) {
	e := newEnv(t)
	alice := e.mustRegister(t, "alice", "alice@example.com")

	rec, err := e.qrs.CreateFromValue(context.Background(), alice, "label", "abc123")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "label", rec.Path)
	assert.Equal(t, "abc123", rec.Data)
	assert.Equal(t, models.OriginDirectValue, rec.Origin)
	assert.Equal(t, alice.ID, rec.OwnerID)
	assert.True(t, rec.Enabled)
	assert.False(t, rec.CreatedAt.IsZero())

	_, err = e.qrs.CreateFromValue(context.Background(), alice, "label", "")
	assert.ErrorIs(t, err, common.ErrorInvalidPayload)
	assert.Len(t, e.store.qrs, 1)

	_, err = e.qrs.CreateFromValue(context.Background(), nil, "label", "x")
	assert.ErrorIs(t, err, common.ErrorUnauthenticated)
}

func TestQRService_CreateFromImageData(t *testing.T) {
	e := newEnv(t)
	alice := e.mustRegister(t, "alice", "alice@example.com")
	ctx := context.Background()

	encoded := base64.StdEncoding.EncodeToString(qrPNG(t, "HELLO"))
	rec, err := e.qrs.CreateFromImageData(ctx, alice, "p", encoded)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", rec.Data)
	assert.Equal(t, models.OriginImageData, rec.Origin)
	assert.Empty(t, rec.ImageKey)

	tests := []struct {
		name  string
		input string
	}{
		{"malformed base64", "!!!not base64!!!"},
		{"not an image", base64.StdEncoding.EncodeToString([]byte("plain text"))},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.qrs.CreateFromImageData(ctx, alice, "p", tt.input)
			if !errors.Is(err, common.ErrorInvalidPayload) {
				t.Fatalf("want ErrorInvalidPayload, got %v", err)
			}
		})
	}
	assert.Len(t, e.store.qrs, 1)
}

func TestQRService_CreateFromImageData_KeepsFirstPayload(t *testing.T) {
	e := newEnv(t)
	alice := e.mustRegister(t, "alice", "alice@example.com")
	ctx := context.Background()

	sheet := qrSheetPNG(t, "FIRST", "SECOND")
	decoded := qrdecode.NewDecoder(logging.Nop()).Decode(ctx, sheet)
	require.ElementsMatch(t, []string{"FIRST", "SECOND"}, decoded)

	rec, err := e.qrs.CreateFromImageData(ctx, alice, "sheet", base64.StdEncoding.EncodeToString(sheet))
	require.NoError(t, err)
	assert.Equal(t, decoded[0], rec.Data)
	assert.Len(t, e.store.qrs, 1)
}

func TestQRService_CreateAfterOwnerDeleted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.mustRegister(t, "alice", "alice@example.com")
	admin := e.mustAdmin(t)

	// alice was authenticated before the delete committed
	e.mock.ExpectBegin()
	e.mock.ExpectCommit()
	require.NoError(t, e.users.Delete(ctx, admin, alice.ID))

	_, err := e.qrs.CreateFromValue(ctx, alice, "", "abc")
	if !errors.Is(err, common.ErrorUnauthenticated) {
		t.Fatalf("want ErrorUnauthenticated, got %v", err)
	}

	_, err = e.qrs.CreateFromImageFile(ctx, alice, "hello.png", "image/png", qrPNG(t, "HELLO"))
	assert.ErrorIs(t, err, common.ErrorUnauthenticated)
	assert.Empty(t, e.images.objects)
	assert.Empty(t, e.store.qrs)
}

func TestQRService_MalformedID(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.mustRegister(t, "alice", "alice@example.com")
	admin := e.mustAdmin(t)

	_, err := e.qrs.Get(ctx, alice, "abc")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = e.qrs.ImageURL(ctx, alice, "abc")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.ErrorIs(t, e.qrs.Delete(ctx, admin, "abc"), common.ErrorNotFound)
}

func TestQRService_CreateFromImageFile(t *testing.T) {
	e := newEnv(t)
	alice := e.mustRegister(t, "alice", "alice@example.com")
	ctx := context.Background()
	img := qrPNG(t, "HELLO")

	rec, err := e.qrs.CreateFromImageFile(ctx, alice, "hello.png", "image/png", img)
	require.NoError(t, err)
	assert.Equal(t, "hello.png", rec.Path)
	assert.Equal(t, "HELLO", rec.Data)
	assert.Equal(t, models.OriginImageFile, rec.Origin)
	require.NotEmpty(t, rec.ImageKey)
	assert.Equal(t, img, e.images.objects[rec.ImageKey])

	_, err = e.qrs.CreateFromImageFile(ctx, alice, "junk.bin", "", []byte("junk"))
	assert.ErrorIs(t, err, common.ErrorInvalidPayload)
	assert.Len(t, e.images.objects, 1)
	assert.Len(t, e.store.qrs, 1)
}

func TestQRService_CreateFromImageFile_StoreFailure(t *testing.T) {
	e := newEnv(t)
	alice := e.mustRegister(t, "alice", "alice@example.com")
	e.images.putErr = errors.New("bucket gone")

	_, err := e.qrs.CreateFromImageFile(context.Background(), alice, "hello.png", "image/png", qrPNG(t, "HELLO"))
	assert.ErrorIs(t, err, common.ErrorInternal)
	assert.Empty(t, e.store.qrs)
}

func TestQRService_CreateFromImageFile_NoStore(t *testing.T) {
	e := newEnv(t)
	alice := e.mustRegister(t, "alice", "alice@example.com")
	svc := NewQRService(e.db, e.rm, qrdecode.NewDecoder(logging.Nop()), nil, logging.Nop())

	rec, err := svc.CreateFromImageFile(context.Background(), alice, "hello.png", "image/png", qrPNG(t, "HELLO"))
	require.NoError(t, err)
	assert.Empty(t, rec.ImageKey)

	_, err = svc.ImageURL(context.Background(), alice, rec.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestQRService_ListScoping(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.mustRegister(t, "alice", "alice@example.com")
	bob := e.mustRegister(t, "bob", "bob@example.com")
	admin := e.mustAdmin(t)

	_, err := e.qrs.List(ctx, alice, models.DefaultPage())
	assert.ErrorIs(t, err, common.ErrorNotFound)

	for _, d := range []string{"a1", "a2"} {
		_, err := e.qrs.CreateFromValue(ctx, alice, "", d)
		require.NoError(t, err)
	}
	_, err = e.qrs.CreateFromValue(ctx, bob, "", "b1")
	require.NoError(t, err)

	own, err := e.qrs.List(ctx, alice, models.DefaultPage())
	require.NoError(t, err)
	require.Len(t, own, 2)
	for _, r := range own {
		assert.Equal(t, alice.ID, r.OwnerID)
	}

	all, err := e.qrs.List(ctx, admin, models.DefaultPage())
	require.NoError(t, err)
	assert.Len(t, all, 3)

	paged, err := e.qrs.List(ctx, admin, models.Page{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "a2", paged[0].Data)
}

func TestQRService_Delete_AdminOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.mustRegister(t, "alice", "alice@example.com")
	admin := e.mustAdmin(t)

	rec, err := e.qrs.CreateFromImageFile(ctx, alice, "hello.png", "image/png", qrPNG(t, "HELLO"))
	require.NoError(t, err)

	err = e.qrs.Delete(ctx, alice, rec.ID)
	if !errors.Is(err, common.ErrorForbidden) {
		t.Fatalf("owner delete: want ErrorForbidden, got %v", err)
	}

	require.NoError(t, e.qrs.Delete(ctx, admin, rec.ID))
	assert.Empty(t, e.store.qrs)
	assert.Equal(t, []string{rec.ImageKey}, e.images.deleted)

	assert.ErrorIs(t, e.qrs.Delete(ctx, admin, rec.ID), common.ErrorNotFound)
}

func TestQRService_ImageURL(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.mustRegister(t, "alice", "alice@example.com")
	bob := e.mustRegister(t, "bob", "bob@example.com")

	rec, err := e.qrs.CreateFromImageFile(ctx, alice, "hello.png", "image/png", qrPNG(t, "HELLO"))
	require.NoError(t, err)

	url, err := e.qrs.ImageURL(ctx, alice, rec.ID)
	require.NoError(t, err)
	assert.Contains(t, url, rec.ImageKey)

	_, err = e.qrs.ImageURL(ctx, bob, rec.ID)
	assert.ErrorIs(t, err, common.ErrorForbidden)

	direct, err := e.qrs.CreateFromValue(ctx, alice, "", "abc")
	require.NoError(t, err)
	_, err = e.qrs.ImageURL(ctx, alice, direct.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestTwoUserScenario(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.mustRegister(t, "a", "a@example.com")
	e.mustRegister(t, "b", "b@example.com")

	authAs := func(email, pw string) *models.User {
		tok, err := e.users.Login(ctx, email, pw)
		require.NoError(t, err)
		u, err := e.guard.Authenticate(ctx, tok.Token)
		require.NoError(t, err)
		return u
	}
	userA := authAs("a@example.com", "pw-a")
	userB := authAs("b@example.com", "pw-b")

	rec, err := e.qrs.CreateFromValue(ctx, userA, "", "abc123")
	require.NoError(t, err)

	got, err := e.qrs.Get(ctx, userA, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.Data)
	assert.Equal(t, models.OriginDirectValue, got.Origin)

	_, err = e.qrs.Get(ctx, userB, rec.ID)
	assert.ErrorIs(t, err, common.ErrorForbidden)

	_, err = e.qrs.List(ctx, userB, models.DefaultPage())
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
