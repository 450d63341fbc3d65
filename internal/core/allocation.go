package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/proximity/internal/allocator"
)

// allocationStore reads the allocation state straight from the
// applications table, whatever the status of each row.
type allocationStore struct {
	db DB
}

func (s allocationStore) HostActive(ctx context.Context, hostID string) (bool, error) {
	var active bool
	err := s.db.QueryRow(ctx, "SELECT is_active FROM proxmox_hosts WHERE id = $1", hostID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, notFound("proxmox host", hostID)
	}
	if err != nil {
		return false, fmt.Errorf("get proxmox host %s: %w", hostID, err)
	}
	return active, nil
}

func (s allocationStore) UsedResources(ctx context.Context, hostID string) (allocator.Used, error) {
	rows, err := s.db.Query(ctx, "SELECT host_id, container_id, public_port, internal_port FROM applications")
	if err != nil {
		return allocator.Used{}, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	used := allocator.NewUsed()
	for rows.Next() {
		var host string
		var vmid, public, internal int
		if err := rows.Scan(&host, &vmid, &public, &internal); err != nil {
			return allocator.Used{}, fmt.Errorf("scan allocation: %w", err)
		}
		if host == hostID {
			used.VMIDs[vmid] = true
		}
		used.PublicPorts[public] = true
		used.InternalPorts[internal] = true
	}
	if err := rows.Err(); err != nil {
		return allocator.Used{}, fmt.Errorf("iterate allocations: %w", err)
	}
	return used, nil
}
