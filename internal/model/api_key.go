package model

import "time"

// APIKey authenticates a caller against the API.
type APIKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	KeyHash   string     `json:"-"`
	Role      string     `json:"role"`
	UserID    *string    `json:"user_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)
