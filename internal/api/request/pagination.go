package request

import (
	"fmt"
	"net/http"
	"strconv"
)

// Pagination is a keyset page request: up to Limit rows with an id greater
// than Cursor.
type Pagination struct {
	Limit  int
	Cursor string
}

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

// ParsePagination reads ?limit= and ?cursor=. A missing limit means
// DefaultLimit; a limit that is not a number in 1..MaxLimit is rejected so
// clients notice instead of silently getting a different page size.
func ParsePagination(r *http.Request) (Pagination, error) {
	q := r.URL.Query()
	p := Pagination{Limit: DefaultLimit, Cursor: q.Get("cursor")}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxLimit {
			return p, fmt.Errorf("limit must be an integer between 1 and %d, got %q", MaxLimit, raw)
		}
		p.Limit = limit
	}
	return p, nil
}
