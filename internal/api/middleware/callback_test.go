package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/proximity/internal/core"
)

func callbackRecorder(seen *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = core.CallbackURLFrom(r.Context())
		w.WriteHeader(http.StatusAccepted)
	})
}

func TestCallbackURL_PassedToContext(t *testing.T) {
	var seen string
	req := httptest.NewRequest("POST", "/api/v1/applications", nil)
	req.Header.Set(CallbackHeader, "https://hooks.example.com/proximity?app=blog")
	rec := httptest.NewRecorder()

	CallbackURL(callbackRecorder(&seen)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "https://hooks.example.com/proximity?app=blog", seen)
}

func TestCallbackURL_Absent(t *testing.T) {
	seen := "unset"
	rec := httptest.NewRecorder()

	CallbackURL(callbackRecorder(&seen)).ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/applications", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, seen)
}

func TestCallbackURL_RejectsUnusableURL(t *testing.T) {
	for _, raw := range []string{"/relative/path", "ftp://hooks.example.com/x", "https://", "::not a url"} {
		t.Run(raw, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
			req := httptest.NewRequest("POST", "/api/v1/applications", nil)
			req.Header.Set(CallbackHeader, raw)
			rec := httptest.NewRecorder()

			CallbackURL(next).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, called)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body["error"], CallbackHeader)
			assert.Equal(t, "invalid_request", body["code"])
		})
	}
}
