package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/edvin/proximity/internal/allocator"
)

type Config struct {
	ServiceName     string
	CoreDatabaseURL string
	TemporalAddress string
	HTTPListenAddr  string
	MetricsAddr     string
	LogLevel        string

	// SecretKey is the hex-encoded 32-byte key used to encrypt container
	// root passwords, Proxmox credentials and encrypted settings.
	SecretKey string

	TemporalTLSCert       string
	TemporalTLSKey        string
	TemporalTLSCACert     string
	TemporalTLSServerName string

	// ProxmoxCACert is an optional PEM bundle trusted for Proxmox hosts
	// with TLS verification enabled.
	ProxmoxCACert string

	// SSHUser and SSHKeyPath authenticate the worker against Proxmox nodes
	// when executing commands inside containers.
	SSHUser    string
	SSHKeyPath string

	VMIDFloor       int
	VMIDCeiling     int
	PublicPortMin   int
	PublicPortMax   int
	InternalPortMin int
	InternalPortMax int

	CatalogPath   string
	StatsCacheTTL time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:           getEnv("SERVICE_NAME", ""),
		CoreDatabaseURL:       getEnv("CORE_DATABASE_URL", ""),
		TemporalAddress:       getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		HTTPListenAddr:        getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsAddr:           getEnv("METRICS_ADDR", ":9090"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		SecretKey:             getEnv("SECRET_KEY", ""),
		TemporalTLSCert:       getEnv("TEMPORAL_TLS_CERT", ""),
		TemporalTLSKey:        getEnv("TEMPORAL_TLS_KEY", ""),
		TemporalTLSCACert:     getEnv("TEMPORAL_TLS_CA_CERT", ""),
		TemporalTLSServerName: getEnv("TEMPORAL_TLS_SERVER_NAME", ""),
		ProxmoxCACert:         getEnv("PROXMOX_CA_CERT", ""),
		SSHUser:               getEnv("PROXMOX_SSH_USER", "root"),
		SSHKeyPath:            getEnv("PROXMOX_SSH_KEY_PATH", ""),
		CatalogPath:           getEnv("CATALOG_PATH", "catalog/apps.yaml"),
	}

	var errs []string
	intVars := []struct {
		dst      *int
		key      string
		fallback int
	}{
		{&cfg.VMIDFloor, "VMID_FLOOR", 200},
		{&cfg.VMIDCeiling, "VMID_CEILING", 999999},
		{&cfg.PublicPortMin, "PUBLIC_PORT_MIN", 8100},
		{&cfg.PublicPortMax, "PUBLIC_PORT_MAX", 8999},
		{&cfg.InternalPortMin, "INTERNAL_PORT_MIN", 9100},
		{&cfg.InternalPortMax, "INTERNAL_PORT_MAX", 9999},
	}
	for _, v := range intVars {
		n, err := getEnvInt(v.key, v.fallback)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		*v.dst = n
	}

	ttl, err := time.ParseDuration(getEnv("STATS_CACHE_TTL", "10s"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("STATS_CACHE_TTL: %v", err))
	}
	cfg.StatsCacheTTL = ttl

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// Validate checks that the fields required by the given binary are set.
func (c *Config) Validate(service string) error {
	var missing []string
	require := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	switch service {
	case "proximity-api":
		require("CORE_DATABASE_URL", c.CoreDatabaseURL)
		require("TEMPORAL_ADDRESS", c.TemporalAddress)
		require("HTTP_LISTEN_ADDR", c.HTTPListenAddr)
		require("SECRET_KEY", c.SecretKey)
	case "proximity-worker":
		require("CORE_DATABASE_URL", c.CoreDatabaseURL)
		require("TEMPORAL_ADDRESS", c.TemporalAddress)
		require("SECRET_KEY", c.SecretKey)
		require("PROXMOX_SSH_KEY_PATH", c.SSHKeyPath)
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "missing required env vars: "+strings.Join(missing, ", "))
	}
	if (c.TemporalTLSCert == "") != (c.TemporalTLSKey == "") {
		problems = append(problems, "TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must both be set")
	}
	if c.PublicPortMin > c.PublicPortMax || c.InternalPortMin > c.InternalPortMax {
		problems = append(problems, "port range minimum exceeds maximum")
	}
	if overlaps(c.PublicPortMin, c.PublicPortMax, c.InternalPortMin, c.InternalPortMax) {
		problems = append(problems, "public and internal port ranges must be disjoint")
	}
	if c.VMIDFloor > c.VMIDCeiling {
		problems = append(problems, "VMID_FLOOR exceeds VMID_CEILING")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Ranges returns the VMID and port ranges the allocator places
// containers in. Both binaries allocate, so both must use the same ranges.
func (c *Config) Ranges() allocator.Ranges {
	return allocator.Ranges{
		VMIDFloor:   c.VMIDFloor,
		VMIDCeiling: c.VMIDCeiling,
		Public:      allocator.PortRange{Min: c.PublicPortMin, Max: c.PublicPortMax},
		Internal:    allocator.PortRange{Min: c.InternalPortMin, Max: c.InternalPortMax},
	}
}

func overlaps(aMin, aMax, bMin, bMax int) bool {
	if aMin == 0 && aMax == 0 || bMin == 0 && bMax == 0 {
		return false
	}
	return aMin <= bMax && bMin <= aMax
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}
