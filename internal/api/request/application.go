package request

// CreateApplication holds the request body for deploying a catalog app.
type CreateApplication struct {
	ID          string            `json:"id" validate:"omitempty,max=64"`
	Hostname    string            `json:"hostname" validate:"required,dnslabel"`
	CatalogID   string            `json:"catalog_id" validate:"required"`
	HostID      string            `json:"host_id"`
	Node        string            `json:"node"`
	Config      map[string]any    `json:"config"`
	Environment map[string]string `json:"environment"`
	Volumes     []string          `json:"volumes" validate:"dive,required"`
}

// ReconfigureApplication changes container resources. Omitted fields are
// left alone.
type ReconfigureApplication struct {
	Cores    *int `json:"cores" validate:"omitempty,min=1,max=128"`
	MemoryMB *int `json:"memory_mb" validate:"omitempty,min=128"`
}

// CloneApplication holds the hostname of the copy.
type CloneApplication struct {
	Hostname string `json:"hostname" validate:"required,dnslabel"`
}
