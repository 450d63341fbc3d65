package response

import (
	"encoding/json"
	"net/http"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorBody is the body of every error response. Code is a stable,
// machine-readable name for the status; Error is meant for people.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error codes, one per status the API returns.
const (
	CodeInvalid            = "invalid_request"
	CodeUnauthenticated    = "unauthenticated"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeProxmoxUnavailable = "proxmox_unavailable"
	CodeNoCapacity         = "no_capacity"
	CodeExhausted          = "allocation_exhausted"
	CodeInternal           = "internal"
)

// CodeFor names an HTTP status. 502 means the Proxmox API could not be used,
// 503 that no node can take the container, 507 that the VMID or port range
// is used up.
func CodeFor(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return CodeInvalid
	case http.StatusUnauthorized:
		return CodeUnauthenticated
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusBadGateway:
		return CodeProxmoxUnavailable
	case http.StatusServiceUnavailable:
		return CodeNoCapacity
	case http.StatusInsufficientStorage:
		return CodeExhausted
	}
	return CodeInternal
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorBody{Error: message, Code: CodeFor(status)})
}

// Page is the body of the list endpoints. NextCursor is the id to pass as
// ?cursor= for the following page; it is empty on the last page.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// WritePage writes one page of items with status 200. A nil slice is
// written as an empty list.
func WritePage[T any](w http.ResponseWriter, items []T, nextCursor string) {
	if items == nil {
		items = []T{}
	}
	WriteJSON(w, http.StatusOK, Page[T]{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    nextCursor != "",
	})
}
