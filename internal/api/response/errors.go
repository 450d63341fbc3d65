package response

import (
	"errors"
	"net/http"

	"github.com/edvin/proximity/internal/allocator"
	"github.com/edvin/proximity/internal/core"
	"github.com/edvin/proximity/internal/proxmox"
)

// StatusFor maps a service error to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, allocator.ErrNoEligibleNode), errors.Is(err, allocator.ErrNodeUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, allocator.ErrPortExhausted), errors.Is(err, allocator.ErrVMIDExhausted):
		return http.StatusInsufficientStorage
	}
	switch proxmox.KindOf(err) {
	case proxmox.KindConnection, proxmox.KindTimeout, proxmox.KindAuth:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// WriteServiceError writes err with the status code StatusFor picks.
func WriteServiceError(w http.ResponseWriter, err error) {
	WriteError(w, StatusFor(err), err.Error())
}
