package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/proximity/internal/db"
	"github.com/edvin/proximity/internal/model"
	"github.com/edvin/proximity/internal/platform"
	"github.com/edvin/proximity/internal/proxmox"
)

const hostColumns = `id, name, host, port, "user", password, verify_tls, ssh_port, is_active, is_default, created_at, updated_at`

func scanHost(row pgx.Row, h *model.ProxmoxHost) error {
	return row.Scan(&h.ID, &h.Name, &h.Host, &h.Port, &h.User, &h.Password, &h.VerifyTLS,
		&h.SSHPort, &h.IsActive, &h.IsDefault, &h.CreatedAt, &h.UpdatedAt)
}

// HostParams describes a Proxmox host. An empty Password on update keeps
// the stored one.
type HostParams struct {
	Name      string
	Host      string
	Port      int
	User      string
	Password  string
	VerifyTLS bool
	SSHPort   int
	IsActive  bool
	IsDefault bool
}

// HostNodes is the node list of one host. Error is set when the host could
// not be reached.
type HostNodes struct {
	HostID   string             `json:"host_id"`
	HostName string             `json:"host_name"`
	Nodes    []proxmox.NodeInfo `json:"nodes"`
	Error    string             `json:"error,omitempty"`
}

// HostService manages Proxmox host records. It is also the HostStore the
// client registry reads credentials from.
type HostService struct {
	db       DB
	sealer   Sealer
	registry *proxmox.Registry
}

func NewHostService(db DB, sealer Sealer) *HostService {
	return &HostService{db: db, sealer: sealer}
}

// GetHost returns the host with its password still sealed.
func (s *HostService) GetHost(ctx context.Context, id string) (*model.ProxmoxHost, error) {
	var h model.ProxmoxHost
	err := scanHost(s.db.QueryRow(ctx, `SELECT `+hostColumns+` FROM proxmox_hosts WHERE id = $1`, id), &h)
	if err != nil {
		return nil, lookupErr("proxmox host", id, err)
	}
	return &h, nil
}

func (s *HostService) Get(ctx context.Context, id string) (*model.ProxmoxHost, error) {
	return s.GetHost(ctx, id)
}

func (s *HostService) List(ctx context.Context) ([]model.ProxmoxHost, error) {
	rows, err := s.db.Query(ctx, `SELECT `+hostColumns+` FROM proxmox_hosts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list proxmox hosts: %w", err)
	}
	defer rows.Close()

	var hosts []model.ProxmoxHost
	for rows.Next() {
		var h model.ProxmoxHost
		if err := scanHost(rows, &h); err != nil {
			return nil, fmt.Errorf("scan proxmox host: %w", err)
		}
		hosts = append(hosts, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proxmox hosts: %w", err)
	}
	return hosts, nil
}

func (s *HostService) Create(ctx context.Context, p HostParams) (*model.ProxmoxHost, error) {
	if p.Password == "" {
		return nil, invalid("password is required")
	}
	sealed, err := s.sealer.Seal(p.Password)
	if err != nil {
		return nil, fmt.Errorf("encrypt host password: %w", err)
	}

	h := hostFromParams(p)
	h.ID = platform.NewID()
	h.Password = sealed

	if h.IsDefault {
		if err := s.clearDefault(ctx, h.ID); err != nil {
			return nil, err
		}
	}

	err = s.db.QueryRow(ctx,
		`INSERT INTO proxmox_hosts (id, name, host, port, "user", password, verify_tls, ssh_port, is_active, is_default, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		 RETURNING created_at, updated_at`,
		h.ID, h.Name, h.Host, h.Port, h.User, h.Password, h.VerifyTLS, h.SSHPort, h.IsActive, h.IsDefault,
	).Scan(&h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			return nil, conflict("proxmox host %q already exists", h.Name)
		}
		return nil, fmt.Errorf("insert proxmox host: %w", err)
	}
	return h, nil
}

func (s *HostService) Update(ctx context.Context, id string, p HostParams) (*model.ProxmoxHost, error) {
	current, err := s.GetHost(ctx, id)
	if err != nil {
		return nil, err
	}

	h := hostFromParams(p)
	h.ID = id
	h.CreatedAt = current.CreatedAt
	h.Password = current.Password
	if p.Password != "" {
		if h.Password, err = s.sealer.Seal(p.Password); err != nil {
			return nil, fmt.Errorf("encrypt host password: %w", err)
		}
	}

	if h.IsDefault && !current.IsDefault {
		if err := s.clearDefault(ctx, id); err != nil {
			return nil, err
		}
	}

	err = s.db.QueryRow(ctx,
		`UPDATE proxmox_hosts SET name = $1, host = $2, port = $3, "user" = $4, password = $5, verify_tls = $6,
		   ssh_port = $7, is_active = $8, is_default = $9, updated_at = now()
		 WHERE id = $10
		 RETURNING updated_at`,
		h.Name, h.Host, h.Port, h.User, h.Password, h.VerifyTLS, h.SSHPort, h.IsActive, h.IsDefault, id,
	).Scan(&h.UpdatedAt)
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			return nil, conflict("proxmox host %q already exists", h.Name)
		}
		return nil, lookupErr("proxmox host", id, err)
	}

	if s.registry != nil {
		s.registry.Invalidate(id)
	}
	return h, nil
}

// Delete removes a host that no application references.
func (s *HostService) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM proxmox_hosts WHERE id = $1", id)
	if err != nil {
		if db.ForeignKeyViolation(err) {
			return conflict("proxmox host %s still has applications", id)
		}
		return fmt.Errorf("delete proxmox host %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("proxmox host", id)
	}
	if s.registry != nil {
		s.registry.Invalidate(id)
	}
	return nil
}

// Test connects to a stored host and returns its version.
func (s *HostService) Test(ctx context.Context, id string) (proxmox.Version, error) {
	client, err := s.registry.Client(ctx, id)
	if err != nil {
		return proxmox.Version{}, err
	}
	return client.Version(ctx)
}

// TestCredentials checks a host definition before it is saved.
func (s *HostService) TestCredentials(ctx context.Context, p HostParams) (proxmox.Version, error) {
	return s.registry.ClientFor(hostFromParams(p)).Version(ctx)
}

// Nodes lists the nodes of every active host in parallel. An unreachable
// host is reported in its entry instead of failing the whole call.
func (s *HostService) Nodes(ctx context.Context) ([]HostNodes, error) {
	hosts, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var active []model.ProxmoxHost
	for _, h := range hosts {
		if h.IsActive {
			active = append(active, h)
		}
	}

	out := make([]HostNodes, len(active))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range active {
		g.Go(func() error {
			entry := HostNodes{HostID: h.ID, HostName: h.Name}
			client, err := s.registry.Client(gctx, h.ID)
			if err == nil {
				entry.Nodes, err = client.ListNodes(gctx)
			}
			if err != nil {
				entry.Error = err.Error()
			}
			sort.Slice(entry.Nodes, func(a, b int) bool { return entry.Nodes[a].Name < entry.Nodes[b].Name })
			out[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *HostService) clearDefault(ctx context.Context, exceptID string) error {
	_, err := s.db.Exec(ctx,
		"UPDATE proxmox_hosts SET is_default = false, updated_at = now() WHERE is_default AND id <> $1", exceptID)
	if err != nil {
		return fmt.Errorf("clear default proxmox host: %w", err)
	}
	return nil
}

func hostFromParams(p HostParams) *model.ProxmoxHost {
	h := &model.ProxmoxHost{
		Name:      p.Name,
		Host:      p.Host,
		Port:      p.Port,
		User:      p.User,
		Password:  p.Password,
		VerifyTLS: p.VerifyTLS,
		SSHPort:   p.SSHPort,
		IsActive:  p.IsActive,
		IsDefault: p.IsDefault,
	}
	if h.Port == 0 {
		h.Port = 8006
	}
	if h.SSHPort == 0 {
		h.SSHPort = 22
	}
	return h
}
