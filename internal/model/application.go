package model

import "time"

// Application is a catalog app deployed into one LXC container.
type Application struct {
	ID            string            `json:"id"`
	Hostname      string            `json:"hostname"`
	CatalogID     string            `json:"catalog_id"`
	HostID        string            `json:"host_id"`
	Node          string            `json:"node"`
	ContainerID   int               `json:"container_id"`
	PublicPort    int               `json:"public_port"`
	InternalPort  int               `json:"internal_port"`
	Status        ApplicationStatus `json:"status"`
	StatusMessage *string           `json:"status_message,omitempty"`
	Config        map[string]any    `json:"config"`
	Environment   map[string]string `json:"environment"`
	Volumes       []string          `json:"volumes"`
	RootPassword  string            `json:"-"`
	IPAddress     *string           `json:"ip_address,omitempty"`
	URLs          []string          `json:"urls"`
	ClonedFrom    *string           `json:"cloned_from,omitempty"`
	OwnerID       *string           `json:"owner_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Resource keys read from Application.Config when present.
const (
	ConfigCores    = "cores"
	ConfigMemoryMB = "memory_mb"
	ConfigDiskGB   = "disk_gb"
)
