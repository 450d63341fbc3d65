package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/edvin/proximity/internal/api/response"
	"github.com/edvin/proximity/internal/model"
)

type contextKey string

const IdentityKey contextKey = "api_key_identity"

// Identity is the authenticated caller.
type Identity struct {
	ID     string
	Role   string
	UserID *string
}

// Authenticator resolves a raw API key. *core.APIKeyService satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, rawKey string) (*model.APIKey, error)
}

// Auth returns a middleware that validates the bearer token in the
// Authorization header.
func Auth(keys Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractAPIKey(r)
			if raw == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			key, err := keys.Authenticate(r.Context(), raw)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			identity := &Identity{ID: key.ID, Role: key.Role, UserID: key.UserID}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// WithIdentity stores the caller identity in ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

func extractAPIKey(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
