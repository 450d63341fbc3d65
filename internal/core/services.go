package core

import (
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/proximity/internal/allocator"
	"github.com/edvin/proximity/internal/catalog"
	"github.com/edvin/proximity/internal/monitor"
	"github.com/edvin/proximity/internal/proxmox"
)

// Deps holds everything NewServices needs besides the database and the
// Temporal client.
type Deps struct {
	Sealer   Sealer
	Catalog  *catalog.Catalog
	Cache    *monitor.Cache
	Ranges   allocator.Ranges
	Registry proxmox.RegistryConfig
	Logger   zerolog.Logger
}

type Services struct {
	Application *ApplicationService
	Backup      *BackupService
	Host        *HostService
	Setting     *SettingsService
	APIKey      *APIKeyService
	Catalog     *catalog.Catalog
	Registry    *proxmox.Registry
}

func NewServices(db DB, tc temporalclient.Client, deps Deps) *Services {
	hosts := NewHostService(db, deps.Sealer)
	registry := proxmox.NewRegistry(hosts, deps.Sealer, deps.Registry, deps.Logger)
	hosts.registry = registry

	settings := NewSettingsService(db, deps.Sealer)
	return &Services{
		Application: NewApplicationService(db, tc, registry, deps.Catalog, deps.Sealer, deps.Cache, deps.Ranges),
		Backup:      NewBackupService(db, tc, settings),
		Host:        hosts,
		Setting:     settings,
		APIKey:      NewAPIKeyService(db),
		Catalog:     deps.Catalog,
		Registry:    registry,
	}
}
