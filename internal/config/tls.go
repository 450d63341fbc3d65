package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TemporalTLS builds a *tls.Config from the Temporal TLS fields.
// Returns nil, nil if no cert/key is configured (plaintext mode).
func (c *Config) TemporalTLS() (*tls.Config, error) {
	if c.TemporalTLSCert == "" && c.TemporalTLSKey == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(c.TemporalTLSCert, c.TemporalTLSKey)
	if err != nil {
		return nil, fmt.Errorf("load temporal client cert: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ServerName:   c.TemporalTLSServerName,
	}

	if c.TemporalTLSCACert != "" {
		pool, err := loadCertPool(c.TemporalTLSCACert)
		if err != nil {
			return nil, fmt.Errorf("temporal CA cert: %w", err)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// ProxmoxRootCAs returns the CA pool trusted for Proxmox API connections,
// or nil to use the system roots.
func (c *Config) ProxmoxRootCAs() (*x509.CertPool, error) {
	if c.ProxmoxCACert == "" {
		return nil, nil
	}
	pool, err := loadCertPool(c.ProxmoxCACert)
	if err != nil {
		return nil, fmt.Errorf("proxmox CA cert: %w", err)
	}
	return pool, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("failed to parse %s", path)
	}
	return pool, nil
}
