package handler

import (
	"net/http"
	"strconv"

	mw "github.com/edvin/proximity/internal/api/middleware"
)

// nextCursor returns the cursor for the page after items, where id returns
// the ID of the i-th item.
func nextCursor(hasMore bool, n int, id func(i int) string) string {
	if !hasMore || n == 0 {
		return ""
	}
	return id(n - 1)
}

// ownerID is the user the caller acts for, if its key is bound to one.
func ownerID(r *http.Request) *string {
	if identity := mw.GetIdentity(r.Context()); identity != nil {
		return identity.UserID
	}
	return nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
