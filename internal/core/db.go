package core

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/proximity/internal/proxmox"
)

// DB defines the database operations used by services.
// *pgxpool.Pool satisfies this interface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Sealer encrypts secrets before they are stored.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(encoded string) (string, error)
}

// ProxmoxClients resolves a host ID to its API client.
type ProxmoxClients interface {
	API(ctx context.Context, hostID string) (proxmox.API, error)
}
