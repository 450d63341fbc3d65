package middleware

import (
	"context"
	"net/http"

	"github.com/edvin/proximity/internal/api/response"
	"github.com/edvin/proximity/internal/model"
)

// GetIdentity extracts the Identity from the request context.
func GetIdentity(ctx context.Context) *Identity {
	identity, _ := ctx.Value(IdentityKey).(*Identity)
	return identity
}

// IsAdmin checks if the identity has the admin role.
func IsAdmin(identity *Identity) bool {
	return identity != nil && identity.Role == model.RoleAdmin
}

// RequireAdmin returns middleware that rejects callers without the admin role.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsAdmin(GetIdentity(r.Context())) {
				response.WriteError(w, http.StatusForbidden, "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
