package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/proximity/internal/api/request"
	"github.com/edvin/proximity/internal/api/response"
	"github.com/edvin/proximity/internal/core"
)

// Setting handles the system settings endpoints. Encrypted values are
// never returned in clear text.
type Setting struct {
	svc *core.SettingsService
}

func NewSetting(svc *core.SettingsService) *Setting {
	return &Setting{svc: svc}
}

func (h *Setting) List(w http.ResponseWriter, r *http.Request) {
	settings, err := h.svc.List(r.Context())
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"items": settings})
}

func (h *Setting) Set(w http.ResponseWriter, r *http.Request) {
	key, err := request.RequireID(chi.URLParam(r, "key"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.SetSetting
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.svc.Set(r.Context(), key, req.Value)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, st)
}

// Resources returns the effective container defaults.
func (h *Setting) Resources(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Resources(r.Context())
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, res)
}
