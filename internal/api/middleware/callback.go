package middleware

import (
	"net/http"
	"net/url"

	"github.com/edvin/proximity/internal/api/response"
	"github.com/edvin/proximity/internal/core"
)

// CallbackHeader names the URL the worker POSTs to once the application or
// backup operation started by the request has finished.
const CallbackHeader = "X-Callback-URL"

// CallbackURL puts the callback URL of a request into its context, where
// the services pick it up when they start a workflow. A header that is not
// an absolute http or https URL is rejected with 400 before the operation
// starts, since the worker could never deliver to it.
func CallbackURL(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(CallbackHeader)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			response.WriteError(w, http.StatusBadRequest, CallbackHeader+" must be an absolute http or https URL")
			return
		}
		next.ServeHTTP(w, r.WithContext(core.WithCallbackURL(r.Context(), u.String())))
	})
}
