package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/proximity/internal/api/response"
	"github.com/edvin/proximity/internal/catalog"
)

// Catalog serves the static app catalog.
type Catalog struct {
	cat *catalog.Catalog
}

func NewCatalog(cat *catalog.Catalog) *Catalog {
	return &Catalog{cat: cat}
}

func (h *Catalog) List(w http.ResponseWriter, _ *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string]any{"items": h.cat.List()})
}

func (h *Catalog) Get(w http.ResponseWriter, r *http.Request) {
	app, err := h.cat.Get(chi.URLParam(r, "id"))
	if errors.Is(err, catalog.ErrUnknownApp) {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, app)
}
