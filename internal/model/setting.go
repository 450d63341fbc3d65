package model

import (
	"strconv"
	"time"
)

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Encrypted bool      `json:"encrypted"`
	Category  string    `json:"category"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	SettingCategoryProxmox   = "proxmox"
	SettingCategoryNetwork   = "network"
	SettingCategoryResources = "resources"
)

// Known setting keys.
const (
	SettingNetworkBridge    = "network.bridge"
	SettingNetworkSubnet    = "network.subnet"
	SettingNetworkGateway   = "network.gateway"
	SettingNetworkDHCPStart = "network.dhcp_start"
	SettingNetworkDHCPEnd   = "network.dhcp_end"
	SettingMemoryMB         = "resources.memory_mb"
	SettingCores            = "resources.cores"
	SettingDiskGB           = "resources.disk_gb"
	SettingStoragePool      = "resources.storage_pool"
	SettingTemplate         = "resources.template"
	SettingBackupStorage    = "resources.backup_storage"
)

// ResourceDefaults are applied to newly created containers.
type ResourceDefaults struct {
	MemoryMB      int    `json:"memory_mb"`
	Cores         int    `json:"cores"`
	DiskGB        int    `json:"disk_gb"`
	StoragePool   string `json:"storage_pool"`
	Template      string `json:"template"`
	Bridge        string `json:"bridge"`
	BackupStorage string `json:"backup_storage"`
}

// DefaultResources is used for any setting that has not been stored.
var DefaultResources = ResourceDefaults{
	MemoryMB:      2048,
	Cores:         2,
	DiskGB:        8,
	StoragePool:   "local-lvm",
	Template:      "local:vztmpl/debian-12-standard_12.7-1_amd64.tar.zst",
	Bridge:        "vmbr0",
	BackupStorage: "local",
}

// Apply sets the field stored under key. Unknown keys and invalid numbers
// are ignored.
func (r *ResourceDefaults) Apply(key, value string) {
	atoi := func(dst *int) {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			*dst = n
		}
	}
	switch key {
	case SettingMemoryMB:
		atoi(&r.MemoryMB)
	case SettingCores:
		atoi(&r.Cores)
	case SettingDiskGB:
		atoi(&r.DiskGB)
	case SettingStoragePool:
		r.StoragePool = value
	case SettingTemplate:
		r.Template = value
	case SettingBackupStorage:
		r.BackupStorage = value
	case SettingNetworkBridge:
		r.Bridge = value
	}
}
