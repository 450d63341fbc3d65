package proxmox

import (
	"context"
	"crypto/x509"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/proximity/internal/model"
)

// HostStore loads Proxmox host records.
type HostStore interface {
	GetHost(ctx context.Context, id string) (*model.ProxmoxHost, error)
}

// SecretOpener decrypts stored credentials.
type SecretOpener interface {
	Open(encoded string) (string, error)
}

// RegistryConfig holds settings shared by every client.
type RegistryConfig struct {
	SSHUser    string
	SSHKeyPath string
	RootCAs    *x509.CertPool
	Timeout    time.Duration
}

// Registry hands out one Client per host, rebuilt when the host record
// changes.
type Registry struct {
	hosts   HostStore
	secrets SecretOpener
	cfg     RegistryConfig
	logger  zerolog.Logger

	mu      sync.Mutex
	clients map[string]cachedClient
}

type cachedClient struct {
	client    *Client
	updatedAt time.Time
}

func NewRegistry(hosts HostStore, secrets SecretOpener, cfg RegistryConfig, logger zerolog.Logger) *Registry {
	return &Registry{
		hosts:   hosts,
		secrets: secrets,
		cfg:     cfg,
		logger:  logger,
		clients: map[string]cachedClient{},
	}
}

// Client returns the client for hostID.
func (r *Registry) Client(ctx context.Context, hostID string) (*Client, error) {
	host, err := r.hosts.GetHost(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("load proxmox host %s: %w", hostID, err)
	}

	r.mu.Lock()
	cached, ok := r.clients[hostID]
	r.mu.Unlock()
	if ok && cached.updatedAt.Equal(host.UpdatedAt) {
		return cached.client, nil
	}

	client, err := r.build(host)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.clients[hostID] = cachedClient{client: client, updatedAt: host.UpdatedAt}
	r.mu.Unlock()
	return client, nil
}

// API returns the client for hostID as the API interface.
func (r *Registry) API(ctx context.Context, hostID string) (API, error) {
	return r.Client(ctx, hostID)
}

// ClientFor builds an uncached client for a host record whose password is
// still in plaintext, used to test credentials before saving them.
func (r *Registry) ClientFor(host *model.ProxmoxHost) *Client {
	return NewClient(r.clientConfig(host, host.Password), nil, r.logger)
}

// Invalidate drops the cached client for hostID.
func (r *Registry) Invalidate(hostID string) {
	r.mu.Lock()
	delete(r.clients, hostID)
	r.mu.Unlock()
}

func (r *Registry) build(host *model.ProxmoxHost) (*Client, error) {
	password, err := r.secrets.Open(host.Password)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials for host %s: %w", host.Name, err)
	}

	var exec Executor
	if r.cfg.SSHKeyPath != "" || password != "" {
		sshUser := r.cfg.SSHUser
		if sshUser == "" {
			sshUser = sshUserFromRealm(host.User)
		}
		sshPassword := ""
		if r.cfg.SSHKeyPath == "" {
			sshPassword = password
		}
		e, err := NewSSHExecutor(sshUser, r.cfg.SSHKeyPath, sshPassword)
		if err != nil {
			return nil, fmt.Errorf("ssh executor for host %s: %w", host.Name, err)
		}
		exec = e
	}

	return NewClient(r.clientConfig(host, password), exec, r.logger), nil
}

func (r *Registry) clientConfig(host *model.ProxmoxHost, password string) Config {
	return Config{
		Host:      host.Host,
		Port:      host.Port,
		User:      host.User,
		Password:  password,
		VerifyTLS: host.VerifyTLS,
		RootCAs:   r.cfg.RootCAs,
		Timeout:   r.cfg.Timeout,
		SSHPort:   host.SSHPort,
	}
}

// sshUserFromRealm turns root@pam into root.
func sshUserFromRealm(user string) string {
	if i := strings.IndexByte(user, '@'); i > 0 {
		return user[:i]
	}
	return user
}
