package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/proximity/internal/allocator"
	"github.com/edvin/proximity/internal/catalog"
	"github.com/edvin/proximity/internal/db"
	"github.com/edvin/proximity/internal/lifecycle"
	"github.com/edvin/proximity/internal/model"
	"github.com/edvin/proximity/internal/monitor"
	"github.com/edvin/proximity/internal/platform"
	"github.com/edvin/proximity/internal/provision"
	"github.com/edvin/proximity/internal/proxmox"
)

// maxAllocationAttempts bounds how often a placement is recomputed after a
// concurrent request took the same VMID or port.
const maxAllocationAttempts = 5

const (
	DefaultLogLines = 100
	MaxLogLines     = 5000
)

const applicationColumns = `id, hostname, catalog_id, host_id, node, container_id, public_port, internal_port,
	status, status_message, config, environment, volumes, root_password, ip_address, urls,
	cloned_from, owner_id, created_at, updated_at`

func scanApplication(row pgx.Row, a *model.Application) error {
	return row.Scan(&a.ID, &a.Hostname, &a.CatalogID, &a.HostID, &a.Node, &a.ContainerID,
		&a.PublicPort, &a.InternalPort, &a.Status, &a.StatusMessage, &a.Config, &a.Environment,
		&a.Volumes, &a.RootPassword, &a.IPAddress, &a.URLs, &a.ClonedFrom, &a.OwnerID,
		&a.CreatedAt, &a.UpdatedAt)
}

// CreateApplicationParams describes a deploy request. HostID and Node are
// optional; without a node the allocator picks one.
type CreateApplicationParams struct {
	ID          string
	Hostname    string
	CatalogID   string
	HostID      string
	Node        string
	Config      map[string]any
	Environment map[string]string
	Volumes     []string
	OwnerID     *string
}

// ReconfigureParams changes container resources. Nil fields are left alone.
type ReconfigureParams struct {
	Cores    *int `json:"cores,omitempty"`
	MemoryMB *int `json:"memory_mb,omitempty"`
}

// RuntimeStatus combines the stored status with the live container state.
type RuntimeStatus struct {
	ID             string                   `json:"id"`
	Status         model.ApplicationStatus  `json:"status"`
	StatusMessage  *string                  `json:"status_message,omitempty"`
	Container      *proxmox.ContainerStatus `json:"container,omitempty"`
	ContainerError string                   `json:"container_error,omitempty"`
}

// Stats is the resource usage of an application's container.
type Stats struct {
	ID               string  `json:"id"`
	State            string  `json:"state"`
	CPUPercent       float64 `json:"cpu_percent"`
	Cores            float64 `json:"cores"`
	MemoryBytes      int64   `json:"memory_bytes"`
	MemoryLimitBytes int64   `json:"memory_limit_bytes"`
	MemoryPercent    float64 `json:"memory_percent"`
	DiskBytes        int64   `json:"disk_bytes"`
	DiskLimitBytes   int64   `json:"disk_limit_bytes"`
	DiskPercent      float64 `json:"disk_percent"`
	UptimeSeconds    int64   `json:"uptime_seconds"`
}

type ApplicationService struct {
	db       DB
	tc       temporalclient.Client
	machine  *lifecycle.Machine
	alloc    *allocator.Allocator
	clients  ProxmoxClients
	catalog  *catalog.Catalog
	sealer   Sealer
	cache    *monitor.Cache
	settings *SettingsService
}

func NewApplicationService(db DB, tc temporalclient.Client, clients ProxmoxClients, cat *catalog.Catalog, sealer Sealer, cache *monitor.Cache, ranges allocator.Ranges) *ApplicationService {
	return &ApplicationService{
		db:       db,
		tc:       tc,
		machine:  lifecycle.New(db),
		alloc:    allocator.New(allocationStore{db: db}, ranges),
		clients:  clients,
		catalog:  cat,
		sealer:   sealer,
		cache:    cache,
		settings: NewSettingsService(db, sealer),
	}
}

// Create validates the request, allocates a placement, stores the
// application as deploying and hands provisioning to the worker.
func (s *ApplicationService) Create(ctx context.Context, p CreateApplicationParams) (*model.Application, error) {
	if !platform.ValidHostname(p.Hostname) {
		return nil, invalid("hostname %q is not a valid DNS label", p.Hostname)
	}
	if _, err := s.catalog.Get(p.CatalogID); err != nil {
		return nil, invalid("%s", err.Error())
	}

	hostID := p.HostID
	if hostID == "" {
		var err error
		if hostID, err = s.defaultHostID(ctx); err != nil {
			return nil, err
		}
	}
	cluster, err := s.clients.API(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("proxmox client for host %s: %w", hostID, err)
	}

	sealed, err := s.sealer.Seal(platform.NewSecret(24))
	if err != nil {
		return nil, fmt.Errorf("seal root password: %w", err)
	}

	app := &model.Application{
		ID:           p.ID,
		Hostname:     p.Hostname,
		CatalogID:    p.CatalogID,
		HostID:       hostID,
		Status:       model.AppDeploying,
		Config:       p.Config,
		Environment:  p.Environment,
		Volumes:      p.Volumes,
		RootPassword: sealed,
		OwnerID:      p.OwnerID,
	}
	if app.ID == "" {
		app.ID = platform.NewID()
	}

	if err := s.insertWithPlacement(ctx, cluster, app, p.Node); err != nil {
		return nil, err
	}

	if err := signalProvision(ctx, s.tc, app.ID, model.ProvisionTask{
		WorkflowName: "DeployApplicationWorkflow",
		WorkflowID:   workflowID("deploy", app.ID),
		Arg:          app.ID,
		ResourceType: "application",
		ResourceID:   app.ID,
	}); err != nil {
		return nil, s.abandon(ctx, app.ID, model.AppDeploying, model.AppError, "DeployApplicationWorkflow", err)
	}
	return app, nil
}

// insertWithPlacement commits a placement by inserting the row and lets the
// unique indexes arbitrate between concurrent requests. A collision on an
// allocated value recomputes the placement; a hostname collision is final.
func (s *ApplicationService) insertWithPlacement(ctx context.Context, cluster allocator.Cluster, app *model.Application, node string) error {
	for attempt := 1; ; attempt++ {
		placement, err := s.alloc.SelectPlacement(ctx, cluster, app.HostID, node)
		if err != nil {
			return fmt.Errorf("allocate placement: %w", err)
		}
		app.Node = placement.Node
		app.ContainerID = placement.VMID
		app.PublicPort = placement.PublicPort
		app.InternalPort = placement.InternalPort

		err = s.insert(ctx, app)
		if err == nil {
			return nil
		}
		constraint, ok := db.UniqueViolation(err)
		if !ok {
			return fmt.Errorf("insert application: %w", err)
		}
		switch constraint {
		case "applications_hostname_key":
			return conflict("hostname %s is already in use", app.Hostname)
		case "applications_pkey":
			return conflict("application %s already exists", app.ID)
		}
		if attempt >= maxAllocationAttempts {
			return conflict("placement for %s collided %d times, last on %s", app.Hostname, attempt, constraint)
		}
	}
}

func (s *ApplicationService) insert(ctx context.Context, app *model.Application) error {
	if app.Config == nil {
		app.Config = map[string]any{}
	}
	if app.Environment == nil {
		app.Environment = map[string]string{}
	}
	if app.Volumes == nil {
		app.Volumes = []string{}
	}
	if app.URLs == nil {
		app.URLs = []string{}
	}
	return s.db.QueryRow(ctx,
		`INSERT INTO applications (id, hostname, catalog_id, host_id, node, container_id, public_port, internal_port,
		   status, config, environment, volumes, root_password, urls, cloned_from, owner_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now(), now())
		 RETURNING created_at, updated_at`,
		app.ID, app.Hostname, app.CatalogID, app.HostID, app.Node, app.ContainerID, app.PublicPort, app.InternalPort,
		app.Status, app.Config, app.Environment, app.Volumes, app.RootPassword, app.URLs, app.ClonedFrom, app.OwnerID,
	).Scan(&app.CreatedAt, &app.UpdatedAt)
}

func (s *ApplicationService) defaultHostID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRow(ctx,
		"SELECT id FROM proxmox_hosts WHERE is_active ORDER BY is_default DESC, created_at LIMIT 1",
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: no active proxmox host configured", allocator.ErrNoEligibleNode)
	}
	if err != nil {
		return "", fmt.Errorf("get default proxmox host: %w", err)
	}
	return id, nil
}

func (s *ApplicationService) Get(ctx context.Context, id string) (*model.Application, error) {
	var a model.Application
	err := scanApplication(s.db.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id,
	), &a)
	if err != nil {
		return nil, lookupErr("application", id, err)
	}
	return &a, nil
}

// List returns applications ordered by ID, optionally filtered by status.
func (s *ApplicationService) List(ctx context.Context, status model.ApplicationStatus, limit int, cursor string) ([]model.Application, bool, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE true`
	args := []any{}
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, status)
		argIdx++
	}
	if cursor != "" {
		query += fmt.Sprintf(` AND id > $%d`, argIdx)
		args = append(args, cursor)
		argIdx++
	}

	query += ` ORDER BY id`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var apps []model.Application
	for rows.Next() {
		var a model.Application
		if err := scanApplication(rows, &a); err != nil {
			return nil, false, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, a)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate applications: %w", err)
	}

	hasMore := len(apps) > limit
	if hasMore {
		apps = apps[:limit]
	}
	return apps, hasMore, nil
}

func (s *ApplicationService) Start(ctx context.Context, id string) (*model.Application, error) {
	return s.power(ctx, id, lifecycle.OpStart)
}

func (s *ApplicationService) Stop(ctx context.Context, id string) (*model.Application, error) {
	return s.power(ctx, id, lifecycle.OpStop)
}

func (s *ApplicationService) Restart(ctx context.Context, id string) (*model.Application, error) {
	return s.power(ctx, id, lifecycle.OpRestart)
}

// power runs a start, stop or restart synchronously. The status is only
// written once the container call succeeded, and only if nothing else
// changed it in the meantime.
func (s *ApplicationService) power(ctx context.Context, id string, op lifecycle.Op) (*model.Application, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkOp(ctx, app, op); err != nil {
		return nil, err
	}

	api, err := s.clients.API(ctx, app.HostID)
	if err != nil {
		return nil, fmt.Errorf("proxmox client for host %s: %w", app.HostID, err)
	}

	start := func() error {
		task, err := api.StartContainer(ctx, app.Node, app.ContainerID)
		if err != nil {
			return err
		}
		return api.WaitForTask(ctx, app.Node, task, 0)
	}
	stop := func() error {
		task, err := api.StopContainer(ctx, app.Node, app.ContainerID, false)
		if err != nil {
			return err
		}
		return api.WaitForTask(ctx, app.Node, task, 0)
	}

	switch op {
	case lifecycle.OpStart:
		err = start()
	case lifecycle.OpStop:
		err = stop()
	case lifecycle.OpRestart:
		if err = stop(); err == nil {
			err = start()
		}
	}
	s.cache.Invalidate(id)
	if err != nil {
		return nil, fmt.Errorf("%s application %s: %w", op, id, err)
	}

	rule, _ := lifecycle.RuleFor(op)
	if err := s.machine.Transition(ctx, id, rule.From, rule.Target, nil); err != nil {
		return nil, transitionErr(err)
	}
	return s.Get(ctx, id)
}

// checkOp rejects op when the application state does not allow it or a
// backup operation holds the application.
func (s *ApplicationService) checkOp(ctx context.Context, app *model.Application, op lifecycle.Op) error {
	if err := lifecycle.Check(app.ID, op, app.Status); err != nil {
		return transitionErr(err)
	}
	busy, err := backupInFlight(ctx, s.db, app.ID)
	if err != nil {
		return err
	}
	if busy {
		return conflict("application %s has a backup operation in progress: cannot %s", app.ID, op)
	}
	return nil
}

// abandon moves an application out of the status an operation wrote when
// the operation's workflow could not be started, recording why. A removing
// application stays removing so that deleting it again retries.
func (s *ApplicationService) abandon(ctx context.Context, id string, from, to model.ApplicationStatus, workflowName string, err error) error {
	undoErr := s.machine.Transition(ctx, id, []model.ApplicationStatus{from}, to, signalFailureMessage(workflowName, err))
	return signalFailed(workflowName, err, undoErr)
}

func backupInFlight(ctx context.Context, db DB, appID string) (bool, error) {
	var busy bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM backups WHERE application_id = $1 AND status IN ('creating', 'restoring', 'deleting'))`,
		appID,
	).Scan(&busy)
	if err != nil {
		return false, fmt.Errorf("check backups of application %s: %w", appID, err)
	}
	return busy, nil
}

// Delete moves the application to removing and starts the removal.
// Deleting an application already in removing retries a failed removal.
func (s *ApplicationService) Delete(ctx context.Context, id string) error {
	app, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.checkOp(ctx, app, lifecycle.OpDelete); err != nil {
		return err
	}

	rule, _ := lifecycle.RuleFor(lifecycle.OpDelete)
	if err := s.machine.Transition(ctx, id, rule.From, rule.Target, nil); err != nil {
		return transitionErr(err)
	}
	s.cache.Invalidate(id)

	if err := signalProvision(ctx, s.tc, id, model.ProvisionTask{
		WorkflowName: "DeleteApplicationWorkflow",
		WorkflowID:   workflowID("delete", id),
		Arg:          id,
		ResourceType: "application",
		ResourceID:   id,
	}); err != nil {
		return s.abandon(ctx, id, model.AppRemoving, model.AppRemoving, "DeleteApplicationWorkflow", err)
	}
	return nil
}

// Retry reruns provisioning of a failed application from the start.
func (s *ApplicationService) Retry(ctx context.Context, id string) (*model.Application, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkOp(ctx, app, lifecycle.OpRetry); err != nil {
		return nil, err
	}

	rule, _ := lifecycle.RuleFor(lifecycle.OpRetry)
	if err := s.machine.Transition(ctx, id, rule.From, rule.Target, nil); err != nil {
		return nil, transitionErr(err)
	}
	s.cache.Invalidate(id)

	if err := signalProvision(ctx, s.tc, id, model.ProvisionTask{
		WorkflowName: "RetryApplicationWorkflow",
		WorkflowID:   workflowID("retry", id),
		Arg:          id,
		ResourceType: "application",
		ResourceID:   id,
	}); err != nil {
		return nil, s.abandon(ctx, id, model.AppDeploying, model.AppError, "RetryApplicationWorkflow", err)
	}
	return s.Get(ctx, id)
}

// Reconfigure changes the container CPU and memory allocation.
func (s *ApplicationService) Reconfigure(ctx context.Context, id string, p ReconfigureParams) (*model.Application, error) {
	if p.Cores == nil && p.MemoryMB == nil {
		return nil, invalid("nothing to reconfigure")
	}
	task := model.ReconfigureTask{ApplicationID: id}
	if p.Cores != nil {
		if *p.Cores < 1 {
			return nil, invalid("cores must be at least 1")
		}
		task.Cores = *p.Cores
	}
	if p.MemoryMB != nil {
		if *p.MemoryMB < 128 {
			return nil, invalid("memory_mb must be at least 128")
		}
		task.MemoryMB = *p.MemoryMB
	}

	app, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkOp(ctx, app, lifecycle.OpReconfigure); err != nil {
		return nil, err
	}

	rule, _ := lifecycle.RuleFor(lifecycle.OpReconfigure)
	if err := s.machine.Transition(ctx, id, rule.From, rule.Target, nil); err != nil {
		return nil, transitionErr(err)
	}
	s.cache.Invalidate(id)

	if err := signalProvision(ctx, s.tc, id, model.ProvisionTask{
		WorkflowName: "ReconfigureApplicationWorkflow",
		WorkflowID:   workflowID("reconfigure", id),
		Arg:          task,
		ResourceType: "application",
		ResourceID:   id,
	}); err != nil {
		return nil, s.abandon(ctx, id, model.AppUpdating, app.Status, "ReconfigureApplicationWorkflow", err)
	}
	return s.Get(ctx, id)
}

// Clone deploys a copy of a running or stopped application under a new
// hostname on the same node. The source container is snapshotted, not
// modified. The snapshot is recorded as a creating backup of the source,
// so it cannot overlap a backup, restore or second clone of the source.
func (s *ApplicationService) Clone(ctx context.Context, sourceID, hostname string) (*model.Application, error) {
	if !platform.ValidHostname(hostname) {
		return nil, invalid("hostname %q is not a valid DNS label", hostname)
	}
	src, err := s.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if err := s.checkOp(ctx, src, lifecycle.OpClone); err != nil {
		return nil, err
	}

	cluster, err := s.clients.API(ctx, src.HostID)
	if err != nil {
		return nil, fmt.Errorf("proxmox client for host %s: %w", src.HostID, err)
	}

	source := src.ID
	clone := &model.Application{
		ID:          platform.NewID(),
		Hostname:    hostname,
		CatalogID:   src.CatalogID,
		HostID:      src.HostID,
		Status:      model.AppDeploying,
		Config:      src.Config,
		Environment: src.Environment,
		Volumes:     src.Volumes,
		// The restored container keeps the source's root password.
		RootPassword: src.RootPassword,
		ClonedFrom:   &source,
		OwnerID:      src.OwnerID,
	}
	res, err := s.settings.Resources(ctx)
	if err != nil {
		return nil, err
	}
	snapshot := &model.Backup{
		ID:            platform.NewID(),
		ApplicationID: src.ID,
		StorageName:   res.BackupStorage,
		BackupType:    model.BackupTypeSnapshot,
		Compression:   model.CompressionZstd,
		Status:        model.BackupCreating,
	}
	if err := insertBackup(ctx, s.db, snapshot); err != nil {
		return nil, err
	}

	if err := s.insertWithPlacement(ctx, cluster, clone, src.Node); err != nil {
		if _, derr := s.db.Exec(ctx, "DELETE FROM backups WHERE id = $1", snapshot.ID); derr != nil {
			return nil, errors.Join(err, fmt.Errorf("remove clone snapshot record: %w", derr))
		}
		return nil, err
	}

	if err := signalProvision(ctx, s.tc, clone.ID, model.ProvisionTask{
		WorkflowName: "CloneApplicationWorkflow",
		WorkflowID:   workflowID("clone", clone.ID),
		Arg:          model.CloneTask{SourceID: src.ID, TargetID: clone.ID, SnapshotID: snapshot.ID},
		ResourceType: "application",
		ResourceID:   clone.ID,
	}); err != nil {
		abandonErr := s.abandon(ctx, clone.ID, model.AppDeploying, model.AppError, "CloneApplicationWorkflow", err)
		if rerr := releaseBackup(ctx, s.db, snapshot.ID, model.BackupCreating, model.BackupFailed,
			signalFailureMessage("CloneApplicationWorkflow", err)); rerr != nil {
			abandonErr = errors.Join(abandonErr, fmt.Errorf("release clone snapshot: %w", rerr))
		}
		return nil, abandonErr
	}
	return clone, nil
}

// Status returns the stored status together with the live container state.
// A failing container read is reported in the result, not as an error.
func (s *ApplicationService) Status(ctx context.Context, id string) (*RuntimeStatus, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	out := &RuntimeStatus{ID: app.ID, Status: app.Status, StatusMessage: app.StatusMessage}
	st, err := s.containerStatus(ctx, app)
	if err != nil {
		out.ContainerError = err.Error()
		return out, nil
	}
	out.Container = &st
	return out, nil
}

// Stats returns the resource usage of the application's container.
func (s *ApplicationService) Stats(ctx context.Context, id string) (*Stats, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	st, err := s.containerStatus(ctx, app)
	if err != nil {
		if proxmox.IsNotFound(err) {
			return nil, notFound("container of application", id)
		}
		return nil, fmt.Errorf("stats of application %s: %w", id, err)
	}

	return &Stats{
		ID:               app.ID,
		State:            st.Status,
		CPUPercent:       st.CPU * 100,
		Cores:            st.CPUs,
		MemoryBytes:      st.Mem,
		MemoryLimitBytes: st.MaxMem,
		MemoryPercent:    percent(st.Mem, st.MaxMem),
		DiskBytes:        st.Disk,
		DiskLimitBytes:   st.MaxDisk,
		DiskPercent:      percent(st.Disk, st.MaxDisk),
		UptimeSeconds:    st.Uptime,
	}, nil
}

func percent(used, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}

func (s *ApplicationService) containerStatus(ctx context.Context, app *model.Application) (proxmox.ContainerStatus, error) {
	return s.cache.Status(ctx, app.ID, func(ctx context.Context) (proxmox.ContainerStatus, error) {
		api, err := s.clients.API(ctx, app.HostID)
		if err != nil {
			return proxmox.ContainerStatus{}, err
		}
		return api.GetContainerStatus(ctx, app.Node, app.ContainerID)
	})
}

// Logs returns the last lines of the application's service logs.
func (s *ApplicationService) Logs(ctx context.Context, id string, lines int) (string, error) {
	if lines <= 0 {
		lines = DefaultLogLines
	}
	if lines > MaxLogLines {
		lines = MaxLogLines
	}

	app, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if app.Status != model.AppRunning {
		return "", conflict("application %s is %s: logs are only available while running", id, app.Status)
	}

	api, err := s.clients.API(ctx, app.HostID)
	if err != nil {
		return "", fmt.Errorf("proxmox client for host %s: %w", app.HostID, err)
	}
	out, err := api.ExecuteInContainer(ctx, app.Node, app.ContainerID, provision.LogsCommand(app.Hostname, lines), 30*time.Second, true)
	if err != nil {
		return "", fmt.Errorf("logs of application %s: %w", id, err)
	}
	return out, nil
}
