// Package monitor caches container status reads so that dashboards polling
// many applications do not fan out to Proxmox on every request.
package monitor

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/edvin/proximity/internal/metrics"
	"github.com/edvin/proximity/internal/proxmox"
)

const defaultSize = 1024

// LoadFunc fetches a fresh status on a cache miss.
type LoadFunc func(ctx context.Context) (proxmox.ContainerStatus, error)

// Cache holds container statuses keyed by application ID.
type Cache struct {
	lru *expirable.LRU[string, proxmox.ContainerStatus]
}

// NewCache returns a cache whose entries expire after ttl. size <= 0 uses
// the default capacity.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = defaultSize
	}
	return &Cache{lru: expirable.NewLRU[string, proxmox.ContainerStatus](size, nil, ttl)}
}

// Status returns the cached status for appID or calls load. Errors are
// not cached.
func (c *Cache) Status(ctx context.Context, appID string, load LoadFunc) (proxmox.ContainerStatus, error) {
	if st, ok := c.lru.Get(appID); ok {
		metrics.StatsCacheLookups.WithLabelValues("hit").Inc()
		return st, nil
	}
	metrics.StatsCacheLookups.WithLabelValues("miss").Inc()

	st, err := load(ctx)
	if err != nil {
		return proxmox.ContainerStatus{}, err
	}
	c.lru.Add(appID, st)
	return st, nil
}

// Invalidate drops appID, called after any operation that changes the
// container state.
func (c *Cache) Invalidate(appID string) {
	c.lru.Remove(appID)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}
