package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/proximity/internal/crypto"
	"github.com/edvin/proximity/internal/model"
	"github.com/edvin/proximity/internal/platform"
)

const apiKeyPrefix = "pxm_"

// APIKeyService manages API keys. Only the SHA-256 hash of a key is stored.
type APIKeyService struct {
	db DB
}

func NewAPIKeyService(db DB) *APIKeyService {
	return &APIKeyService{db: db}
}

// Create generates a new API key and returns the record along with the raw
// key. The raw key cannot be recovered later.
func (s *APIKeyService) Create(ctx context.Context, name, role string, userID *string) (*model.APIKey, string, error) {
	if role != model.RoleAdmin && role != model.RoleUser {
		return nil, "", invalid("unknown role %q", role)
	}

	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		return nil, "", fmt.Errorf("generate api key: %w", err)
	}
	rawKey := apiKeyPrefix + hex.EncodeToString(rawBytes)

	key := &model.APIKey{
		ID:      platform.NewID(),
		Name:    name,
		KeyHash: crypto.HashAPIKey(rawKey),
		Role:    role,
		UserID:  userID,
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO api_keys (id, name, key_hash, role, user_id, created_at) VALUES ($1, $2, $3, $4, $5, now())
		 RETURNING created_at`,
		key.ID, key.Name, key.KeyHash, key.Role, key.UserID,
	).Scan(&key.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("insert api key: %w", err)
	}
	return key, rawKey, nil
}

const apiKeyColumns = `id, name, key_hash, role, user_id, created_at, revoked_at`

func scanAPIKey(row pgx.Row, k *model.APIKey) error {
	return row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.Role, &k.UserID, &k.CreatedAt, &k.RevokedAt)
}

// Get returns an API key by ID, revoked or not.
func (s *APIKeyService) Get(ctx context.Context, id string) (*model.APIKey, error) {
	var k model.APIKey
	err := scanAPIKey(s.db.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id), &k)
	if err != nil {
		return nil, lookupErr("api key", id, err)
	}
	return &k, nil
}

// List returns API keys ordered by ID with cursor-based pagination.
func (s *APIKeyService) List(ctx context.Context, limit int, cursor string) ([]model.APIKey, bool, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys`
	var args []any
	if cursor != "" {
		query += ` WHERE id > $1`
		args = append(args, cursor)
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		var k model.APIKey
		if err := scanAPIKey(rows, &k); err != nil {
			return nil, false, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate api keys: %w", err)
	}

	hasMore := len(keys) > limit
	if hasMore {
		keys = keys[:limit]
	}
	return keys, hasMore, nil
}

// Authenticate resolves a raw key to its unrevoked record.
func (s *APIKeyService) Authenticate(ctx context.Context, rawKey string) (*model.APIKey, error) {
	var k model.APIKey
	err := scanAPIKey(s.db.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL`,
		crypto.HashAPIKey(rawKey),
	), &k)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("api key: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("authenticate api key: %w", err)
	}
	return &k, nil
}

// Revoke soft-deletes an API key by setting revoked_at.
func (s *APIKeyService) Revoke(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL", id,
	)
	if err != nil {
		return fmt.Errorf("revoke api key %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("api key", id)
	}
	return nil
}
