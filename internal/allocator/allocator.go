// Package allocator picks the node, VMID and port pair for a new application.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/edvin/proximity/internal/proxmox"
)

var (
	ErrNoEligibleNode = errors.New("no eligible node")
	ErrPortExhausted  = errors.New("port range exhausted")
	ErrVMIDExhausted  = errors.New("vmid range exhausted")
	// ErrNodeUnavailable is returned when a requested node is unknown or offline.
	ErrNodeUnavailable = errors.New("requested node unavailable")
)

// PortRange is an inclusive port interval.
type PortRange struct {
	Min int
	Max int
}

// Ranges configures the VMID and port spaces.
type Ranges struct {
	VMIDFloor   int
	VMIDCeiling int
	Public      PortRange
	Internal    PortRange
}

// DefaultRanges are the ranges used when nothing is configured.
var DefaultRanges = Ranges{
	VMIDFloor:   200,
	VMIDCeiling: 999999,
	Public:      PortRange{Min: 8100, Max: 8999},
	Internal:    PortRange{Min: 9100, Max: 9999},
}

// Placement is the allocation for one application.
type Placement struct {
	Node         string `json:"node"`
	VMID         int    `json:"vmid"`
	PublicPort   int    `json:"public_port"`
	InternalPort int    `json:"internal_port"`
}

// Used is the set of values already taken.
type Used struct {
	VMIDs         map[int]bool
	PublicPorts   map[int]bool
	InternalPorts map[int]bool
}

// Store reads the authoritative allocation state.
type Store interface {
	// HostActive reports whether the Proxmox host record is active.
	HostActive(ctx context.Context, hostID string) (bool, error)
	// UsedResources returns the VMIDs on hostID and the ports of every
	// application, whatever its status.
	UsedResources(ctx context.Context, hostID string) (Used, error)
}

// Cluster is the part of the Proxmox adapter the allocator needs.
type Cluster interface {
	ListNodes(ctx context.Context) ([]proxmox.NodeInfo, error)
	ListVMIDs(ctx context.Context) ([]int, error)
}

// SelectNode returns the online node with the most free memory. Ties go to
// the name that sorts first. hostActive false disqualifies every node.
func SelectNode(nodes []proxmox.NodeInfo, hostActive bool) (string, error) {
	if !hostActive {
		return "", ErrNoEligibleNode
	}

	eligible := make([]proxmox.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		if n.Online() {
			eligible = append(eligible, n)
		}
	}
	if len(eligible) == 0 {
		return "", ErrNoEligibleNode
	}

	sort.Slice(eligible, func(i, j int) bool {
		fi, fj := eligible[i].FreeMemory(), eligible[j].FreeMemory()
		if fi != fj {
			return fi > fj
		}
		return eligible[i].Name < eligible[j].Name
	})
	return eligible[0].Name, nil
}

// NextVMID returns the smallest VMID >= floor and <= ceiling not in used.
func NextVMID(used map[int]bool, floor, ceiling int) (int, error) {
	for id := floor; id <= ceiling; id++ {
		if !used[id] {
			return id, nil
		}
	}
	return 0, ErrVMIDExhausted
}

// NextPort returns the smallest port in r not in used.
func NextPort(used map[int]bool, r PortRange) (int, error) {
	for p := r.Min; p <= r.Max; p++ {
		if !used[p] {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %d-%d", ErrPortExhausted, r.Min, r.Max)
}

// Allocator computes placements against the store and the cluster.
type Allocator struct {
	store  Store
	ranges Ranges
}

func New(store Store, ranges Ranges) *Allocator {
	return &Allocator{store: store, ranges: ranges}
}

// SelectPlacement picks a node (unless node is set), a VMID and a port pair
// for a new application on hostID. The result is only a proposal: the
// caller commits it by inserting the application row, and the unique
// indexes reject it if a concurrent request took the same values.
func (a *Allocator) SelectPlacement(ctx context.Context, cluster Cluster, hostID, node string) (Placement, error) {
	active, err := a.store.HostActive(ctx, hostID)
	if err != nil {
		return Placement{}, fmt.Errorf("check host %s: %w", hostID, err)
	}

	nodes, err := cluster.ListNodes(ctx)
	if err != nil {
		return Placement{}, fmt.Errorf("list nodes: %w", err)
	}

	if node == "" {
		node, err = SelectNode(nodes, active)
		if err != nil {
			return Placement{}, err
		}
	} else if !active || !nodeOnline(nodes, node) {
		return Placement{}, fmt.Errorf("%w: %s", ErrNodeUnavailable, node)
	}

	used, err := a.store.UsedResources(ctx, hostID)
	if err != nil {
		return Placement{}, fmt.Errorf("load used resources: %w", err)
	}
	clusterIDs, err := cluster.ListVMIDs(ctx)
	if err != nil {
		return Placement{}, fmt.Errorf("list cluster vmids: %w", err)
	}
	if used.VMIDs == nil {
		used.VMIDs = map[int]bool{}
	}
	for _, id := range clusterIDs {
		used.VMIDs[id] = true
	}

	vmid, err := NextVMID(used.VMIDs, a.ranges.VMIDFloor, a.ranges.VMIDCeiling)
	if err != nil {
		return Placement{}, err
	}
	pub, err := NextPort(used.PublicPorts, a.ranges.Public)
	if err != nil {
		return Placement{}, err
	}
	internal, err := NextPort(used.InternalPorts, a.ranges.Internal)
	if err != nil {
		return Placement{}, err
	}

	return Placement{Node: node, VMID: vmid, PublicPort: pub, InternalPort: internal}, nil
}

func nodeOnline(nodes []proxmox.NodeInfo, name string) bool {
	for _, n := range nodes {
		if n.Name == name {
			return n.Online()
		}
	}
	return false
}

// NewUsed returns an empty Used with initialized maps.
func NewUsed() Used {
	return Used{VMIDs: map[int]bool{}, PublicPorts: map[int]bool{}, InternalPorts: map[int]bool{}}
}

// Add marks every value of p as used.
func (u Used) Add(p Placement) {
	u.VMIDs[p.VMID] = true
	u.PublicPorts[p.PublicPort] = true
	u.InternalPorts[p.InternalPort] = true
}
