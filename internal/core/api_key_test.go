package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/proximity/internal/crypto"
	"github.com/edvin/proximity/internal/model"
)

func TestAPIKeyService_Create(t *testing.T) {
	db := &mockDB{}
	svc := NewAPIKeyService(db)
	ctx := context.Background()

	var storedHash string
	db.On("QueryRow", ctx, sqlLike("INSERT INTO api_keys"), mock.MatchedBy(func(args []any) bool {
		storedHash, _ = args[2].(string)
		return args[1] == "ci" && args[3] == model.RoleAdmin
	})).Return(valuesRow(time.Now()))

	key, raw, err := svc.Create(ctx, "ci", model.RoleAdmin, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "pxm_"))
	assert.Len(t, raw, len("pxm_")+64)
	assert.Equal(t, crypto.HashAPIKey(raw), storedHash)
	assert.Equal(t, storedHash, key.KeyHash)
	assert.NotContains(t, key.KeyHash, raw)
}

func TestAPIKeyService_Create_UnknownRole(t *testing.T) {
	_, _, err := NewAPIKeyService(&mockDB{}).Create(context.Background(), "ci", "root", nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAPIKeyService_Authenticate(t *testing.T) {
	db := &mockDB{}
	svc := NewAPIKeyService(db)
	ctx := context.Background()

	user := "user-7"
	db.On("QueryRow", ctx, sqlLike("WHERE key_hash = $1"), []any{crypto.HashAPIKey("pxm_good")}).
		Return(valuesRow("key-1", "ci", crypto.HashAPIKey("pxm_good"), model.RoleUser, &user, time.Now(), nil))
	db.On("QueryRow", ctx, sqlLike("WHERE key_hash = $1"), mock.Anything).Return(errRow(pgx.ErrNoRows))

	key, err := svc.Authenticate(ctx, "pxm_good")
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, key.Role)
	require.NotNil(t, key.UserID)
	assert.Equal(t, "user-7", *key.UserID)

	_, err = svc.Authenticate(ctx, "pxm_bad")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPIKeyService_Revoke(t *testing.T) {
	db := &mockDB{}
	svc := NewAPIKeyService(db)
	ctx := context.Background()

	db.On("Exec", ctx, sqlLike("SET revoked_at"), []any{"key-1"}).Return(updated(1), nil)
	db.On("Exec", ctx, sqlLike("SET revoked_at"), []any{"key-2"}).Return(updated(0), nil)

	require.NoError(t, svc.Revoke(ctx, "key-1"))
	assert.ErrorIs(t, svc.Revoke(ctx, "key-2"), ErrNotFound)
}

func TestAPIKeyService_Get_NotFound(t *testing.T) {
	db := &mockDB{}
	db.On("QueryRow", mock.Anything, sqlLike("WHERE id = $1"), []any{"missing"}).Return(errRow(pgx.ErrNoRows))

	_, err := NewAPIKeyService(db).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPIKeyService_List_HasMore(t *testing.T) {
	db := &mockDB{}
	svc := NewAPIKeyService(db)
	ctx := context.Background()
	now := time.Now()

	db.On("Query", ctx, sqlLike("WHERE id > $1 ORDER BY id LIMIT $2"), []any{"key-0", 2}).Return(newValueRows(
		[]any{"key-1", "ci", "h1", model.RoleAdmin, nil, now, nil},
		[]any{"key-2", "dev", "h2", model.RoleUser, nil, now, nil},
	), nil)

	keys, hasMore, err := svc.List(ctx, 1, "key-0")
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, keys, 1)
	assert.Equal(t, "key-1", keys[0].ID)
	db.AssertExpectations(t)
}
