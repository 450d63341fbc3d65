package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/proximity/internal/api/request"
	"github.com/edvin/proximity/internal/api/response"
	"github.com/edvin/proximity/internal/core"
)

// Host handles Proxmox host management. All endpoints are admin only.
type Host struct {
	svc *core.HostService
}

func NewHost(svc *core.HostService) *Host {
	return &Host{svc: svc}
}

func hostParams(req request.Host) core.HostParams {
	p := core.HostParams{
		Name:      req.Name,
		Host:      req.Host,
		Port:      req.Port,
		User:      req.User,
		Password:  req.Password,
		VerifyTLS: req.VerifyTLS,
		SSHPort:   req.SSHPort,
		IsActive:  true,
		IsDefault: req.IsDefault,
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	return p
}

func (h *Host) List(w http.ResponseWriter, r *http.Request) {
	hosts, err := h.svc.List(r.Context())
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"items": hosts})
}

// Create stores a new host. The password is required and stored encrypted.
func (h *Host) Create(w http.ResponseWriter, r *http.Request) {
	var req request.Host
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Password == "" {
		response.WriteError(w, http.StatusBadRequest, "password is required")
		return
	}

	host, err := h.svc.Create(r.Context(), hostParams(req))
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, host)
}

func (h *Host) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	host, err := h.svc.Get(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, host)
}

func (h *Host) Update(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.Host
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	host, err := h.svc.Update(r.Context(), id, hostParams(req))
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, host)
}

func (h *Host) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test connects to a stored host and reports its Proxmox version.
func (h *Host) Test(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	version, err := h.svc.Test(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version})
}

// TestCredentials checks credentials before they are stored.
func (h *Host) TestCredentials(w http.ResponseWriter, r *http.Request) {
	var req request.Host
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	version, err := h.svc.TestCredentials(r.Context(), hostParams(req))
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version})
}

// Nodes lists the nodes of every active host. Unreachable hosts are
// reported inline.
func (h *Host) Nodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.svc.Nodes(r.Context())
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"items": nodes})
}
