package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/proximity/internal/api/request"
	"github.com/edvin/proximity/internal/api/response"
	"github.com/edvin/proximity/internal/core"
	"github.com/edvin/proximity/internal/model"
)

// Application handles application lifecycle endpoints.
type Application struct {
	svc *core.ApplicationService
}

func NewApplication(svc *core.ApplicationService) *Application {
	return &Application{svc: svc}
}

// List lists applications with cursor-based pagination, optionally
// filtered by ?status=.
func (h *Application) List(w http.ResponseWriter, r *http.Request) {
	pg, err := request.ParsePagination(r)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := model.ApplicationStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		response.WriteError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
		return
	}

	apps, hasMore, err := h.svc.List(r.Context(), status, pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WritePage(w, apps, nextCursor(hasMore, len(apps), func(i int) string { return apps[i].ID }))
}

// Create deploys a catalog app. Provisioning continues asynchronously; the
// application is returned in deploying state.
func (h *Application) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateApplication
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	app, err := h.svc.Create(r.Context(), core.CreateApplicationParams{
		ID:          req.ID,
		Hostname:    req.Hostname,
		CatalogID:   req.CatalogID,
		HostID:      req.HostID,
		Node:        req.Node,
		Config:      req.Config,
		Environment: req.Environment,
		Volumes:     req.Volumes,
		OwnerID:     ownerID(r),
	})
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, app)
}

// Get retrieves an application by ID.
func (h *Application) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	app, err := h.svc.Get(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, app)
}

// Reconfigure changes the container's cores and memory.
func (h *Application) Reconfigure(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.ReconfigureApplication
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Cores == nil && req.MemoryMB == nil {
		response.WriteError(w, http.StatusBadRequest, "nothing to reconfigure")
		return
	}

	app, err := h.svc.Reconfigure(r.Context(), id, core.ReconfigureParams{Cores: req.Cores, MemoryMB: req.MemoryMB})
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, app)
}

// Delete removes the application, its container and its backups.
func (h *Application) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Application) Start(w http.ResponseWriter, r *http.Request) {
	h.power(w, r, h.svc.Start)
}

func (h *Application) Stop(w http.ResponseWriter, r *http.Request) {
	h.power(w, r, h.svc.Stop)
}

func (h *Application) Restart(w http.ResponseWriter, r *http.Request) {
	h.power(w, r, h.svc.Restart)
}

// power runs a synchronous power operation and returns the updated record.
func (h *Application) power(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) (*model.Application, error)) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	app, err := op(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, app)
}

// Retry reruns provisioning of an application in error state.
func (h *Application) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	app, err := h.svc.Retry(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, app)
}

// Clone deploys a copy of the application under a new hostname.
func (h *Application) Clone(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.CloneApplication
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	app, err := h.svc.Clone(r.Context(), id, req.Hostname)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, app)
}

// Status returns the stored status along with the live container state.
func (h *Application) Status(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.svc.Status(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, st)
}

// Stats returns CPU, memory and disk usage of the container.
func (h *Application) Stats(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.svc.Stats(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, stats)
}

// Logs returns the tail of the application's service logs (?lines=N).
func (h *Application) Logs(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	lines, err := queryInt(r, "lines", core.DefaultLogLines)
	if err != nil || lines < 1 {
		response.WriteError(w, http.StatusBadRequest, "lines must be a positive integer")
		return
	}

	logs, err := h.svc.Logs(r.Context(), id, lines)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"id":    id,
		"lines": min(lines, core.MaxLogLines),
		"logs":  logs,
	})
}
