package activity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/proximity/internal/catalog"
	"github.com/edvin/proximity/internal/lifecycle"
	"github.com/edvin/proximity/internal/metrics"
	"github.com/edvin/proximity/internal/model"
	"github.com/edvin/proximity/internal/provision"
)

// DB defines the database operations used by activity structs.
// *pgxpool.Pool satisfies this interface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Error types carried by non-retryable application errors.
const (
	ErrTypeNotFound = "NOT_FOUND"
	ErrTypeConflict = "CONFLICT"
	ErrTypeInvalid  = "INVALID"
)

// CoreDB contains activities that read from and update the core database.
type CoreDB struct {
	db      DB
	catalog *catalog.Catalog
	machine *lifecycle.Machine
}

func NewCoreDB(db DB, cat *catalog.Catalog) *CoreDB {
	return &CoreDB{db: db, catalog: cat, machine: lifecycle.New(db)}
}

const applicationColumns = `id, hostname, catalog_id, host_id, node, container_id, public_port, internal_port,
	status, status_message, config, environment, volumes, root_password, ip_address, urls,
	cloned_from, owner_id, created_at, updated_at`

func scanApplication(row pgx.Row, a *model.Application) error {
	return row.Scan(&a.ID, &a.Hostname, &a.CatalogID, &a.HostID, &a.Node, &a.ContainerID,
		&a.PublicPort, &a.InternalPort, &a.Status, &a.StatusMessage, &a.Config, &a.Environment,
		&a.Volumes, &a.RootPassword, &a.IPAddress, &a.URLs, &a.ClonedFrom, &a.OwnerID,
		&a.CreatedAt, &a.UpdatedAt)
}

const backupColumns = `id, application_id, file_name, storage_name, size_bytes, backup_type, compression,
	status, error_message, completed_at, created_at, updated_at`

func scanBackup(row pgx.Row, b *model.Backup) error {
	return row.Scan(&b.ID, &b.ApplicationID, &b.FileName, &b.StorageName, &b.SizeBytes,
		&b.BackupType, &b.Compression, &b.Status, &b.ErrorMessage, &b.CompletedAt,
		&b.CreatedAt, &b.UpdatedAt)
}

// ContainerSpec is the effective container shape of an application.
type ContainerSpec struct {
	Template    string `json:"template"`
	Cores       int    `json:"cores"`
	MemoryMB    int    `json:"memory_mb"`
	DiskGB      int    `json:"disk_gb"`
	StoragePool string `json:"storage_pool"`
	Bridge      string `json:"bridge"`
}

// ApplicationContext bundles everything a workflow needs to act on one
// application. The root password stays sealed.
type ApplicationContext struct {
	Application model.Application      `json:"application"`
	CatalogApp  catalog.App            `json:"catalog_app"`
	Family      provision.Family       `json:"family"`
	Spec        ContainerSpec          `json:"spec"`
	Resources   model.ResourceDefaults `json:"resources"`
	Manifest    []byte                 `json:"manifest"`
}

// Ref addresses the application's container.
func (c ApplicationContext) Ref() ContainerRef {
	return RefFor(c.Application)
}

// GetApplication loads the stored application row only.
func (a *CoreDB) GetApplication(ctx context.Context, id string) (*model.Application, error) {
	var app model.Application
	err := scanApplication(a.db.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id), &app)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, temporal.NewNonRetryableApplicationError(fmt.Sprintf("application %s not found", id), ErrTypeNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get application %s: %w", id, err)
	}
	return &app, nil
}

// GetApplicationContext loads the application with its catalog entry,
// resource defaults and rendered compose manifest.
func (a *CoreDB) GetApplicationContext(ctx context.Context, id string) (*ApplicationContext, error) {
	stored, err := a.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	app := *stored

	catApp, err := a.catalog.Get(app.CatalogID)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalid, err)
	}
	family, err := provision.FamilyFor(catApp.BaseImage)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalid, err)
	}
	res, err := a.Resources(ctx)
	if err != nil {
		return nil, err
	}
	manifest, err := provision.RenderManifest(catApp, provision.ManifestParams{
		PublicPort:   app.PublicPort,
		InternalPort: app.InternalPort,
		Environment:  app.Environment,
		Volumes:      app.Volumes,
	})
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalid, err)
	}

	return &ApplicationContext{
		Application: app,
		CatalogApp:  catApp,
		Family:      family,
		Spec:        EffectiveSpec(app, catApp, res),
		Resources:   res,
		Manifest:    manifest,
	}, nil
}

// EffectiveSpec resolves the container shape: explicit application config
// first, then the larger of the catalog minimum and the stored default.
func EffectiveSpec(app model.Application, catApp catalog.App, res model.ResourceDefaults) ContainerSpec {
	spec := ContainerSpec{
		Template:    res.Template,
		Cores:       max(catApp.MinCores, res.Cores),
		MemoryMB:    max(catApp.MinMemoryMB, res.MemoryMB),
		DiskGB:      max(catApp.DiskGB, res.DiskGB),
		StoragePool: res.StoragePool,
		Bridge:      res.Bridge,
	}
	if catApp.Template != "" {
		spec.Template = catApp.Template
	}
	if n := configInt(app.Config, model.ConfigCores); n > 0 {
		spec.Cores = n
	}
	if n := configInt(app.Config, model.ConfigMemoryMB); n > 0 {
		spec.MemoryMB = n
	}
	if n := configInt(app.Config, model.ConfigDiskGB); n > 0 {
		spec.DiskGB = n
	}
	return spec
}

// configInt reads a positive integer from decoded JSON config.
func configInt(cfg map[string]any, key string) int {
	switch v := cfg[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

// Resources returns the stored container defaults merged over
// model.DefaultResources.
func (a *CoreDB) Resources(ctx context.Context) (model.ResourceDefaults, error) {
	res := model.DefaultResources
	rows, err := a.db.Query(ctx,
		"SELECT key, value FROM settings WHERE category IN ($1, $2)",
		model.SettingCategoryResources, model.SettingCategoryNetwork,
	)
	if err != nil {
		return res, fmt.Errorf("load resource settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return res, fmt.Errorf("scan setting: %w", err)
		}
		res.Apply(key, value)
	}
	return res, rows.Err()
}

// UpdateApplicationStatusParams holds the parameters for UpdateApplicationStatus.
type UpdateApplicationStatusParams struct {
	ID      string                    `json:"id"`
	From    []model.ApplicationStatus `json:"from"`
	To      model.ApplicationStatus   `json:"to"`
	Message *string                   `json:"message,omitempty"`
}

// UpdateApplicationStatus performs a lifecycle transition. A conflict means
// another operation took over the application and is not retried.
func (a *CoreDB) UpdateApplicationStatus(ctx context.Context, params UpdateApplicationStatusParams) error {
	err := a.machine.Transition(ctx, params.ID, params.From, params.To, params.Message)
	if slices.Equal(params.From, []model.ApplicationStatus{model.AppDeploying}) && params.To != model.AppRemoving {
		result := metrics.Result(err)
		if params.To == model.AppError {
			result = "failure"
		}
		metrics.DeploymentsTotal.WithLabelValues(result).Inc()
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, lifecycle.ErrConflict):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeConflict, err)
	case errors.Is(err, lifecycle.ErrNotFound):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNotFound, err)
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalid, err)
	}
	return err
}

// SetApplicationNetworkParams holds the parameters for SetApplicationNetwork.
type SetApplicationNetworkParams struct {
	ID        string   `json:"id"`
	IPAddress string   `json:"ip_address"`
	URLs      []string `json:"urls"`
}

// SetApplicationNetwork records the container address and the URLs it is
// reachable on.
func (a *CoreDB) SetApplicationNetwork(ctx context.Context, params SetApplicationNetworkParams) error {
	urls := params.URLs
	if urls == nil {
		urls = []string{}
	}
	_, err := a.db.Exec(ctx,
		"UPDATE applications SET ip_address = $1, urls = $2, updated_at = now() WHERE id = $3",
		params.IPAddress, urls, params.ID,
	)
	if err != nil {
		return fmt.Errorf("set network of application %s: %w", params.ID, err)
	}
	return nil
}

// UpdateApplicationResourcesParams holds the parameters for UpdateApplicationResources.
type UpdateApplicationResourcesParams struct {
	ID       string `json:"id"`
	Cores    int    `json:"cores"`
	MemoryMB int    `json:"memory_mb"`
}

// UpdateApplicationResources stores reconfigured CPU and memory in the
// application config. Zero values are left unchanged.
func (a *CoreDB) UpdateApplicationResources(ctx context.Context, params UpdateApplicationResourcesParams) error {
	patch := map[string]any{}
	if params.Cores > 0 {
		patch[model.ConfigCores] = params.Cores
	}
	if params.MemoryMB > 0 {
		patch[model.ConfigMemoryMB] = params.MemoryMB
	}
	if len(patch) == 0 {
		return nil
	}
	_, err := a.db.Exec(ctx,
		"UPDATE applications SET config = config || $1::jsonb, updated_at = now() WHERE id = $2",
		patch, params.ID,
	)
	if err != nil {
		return fmt.Errorf("update resources of application %s: %w", params.ID, err)
	}
	return nil
}

// DeleteApplication removes the application row; its backups cascade.
func (a *CoreDB) DeleteApplication(ctx context.Context, id string) error {
	_, err := a.db.Exec(ctx, "DELETE FROM applications WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete application %s: %w", id, err)
	}
	return nil
}

// BackupContext bundles a backup with the application it belongs to.
type BackupContext struct {
	Backup      model.Backup       `json:"backup"`
	Application ApplicationContext `json:"application"`
}

// GetBackup loads a backup record.
func (a *CoreDB) GetBackup(ctx context.Context, id string) (*model.Backup, error) {
	var b model.Backup
	err := scanBackup(a.db.QueryRow(ctx, `SELECT `+backupColumns+` FROM backups WHERE id = $1`, id), &b)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, temporal.NewNonRetryableApplicationError(fmt.Sprintf("backup %s not found", id), ErrTypeNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get backup %s: %w", id, err)
	}
	return &b, nil
}

// GetBackupContext loads a backup together with its application context.
func (a *CoreDB) GetBackupContext(ctx context.Context, id string) (*BackupContext, error) {
	b, err := a.GetBackup(ctx, id)
	if err != nil {
		return nil, err
	}
	app, err := a.GetApplicationContext(ctx, b.ApplicationID)
	if err != nil {
		return nil, err
	}
	return &BackupContext{Backup: *b, Application: *app}, nil
}

// ListApplicationBackups returns every backup of an application.
func (a *CoreDB) ListApplicationBackups(ctx context.Context, appID string) ([]model.Backup, error) {
	rows, err := a.db.Query(ctx,
		`SELECT `+backupColumns+` FROM backups WHERE application_id = $1 ORDER BY id`, appID,
	)
	if err != nil {
		return nil, fmt.Errorf("list backups of application %s: %w", appID, err)
	}
	defer rows.Close()

	var out []model.Backup
	for rows.Next() {
		var b model.Backup
		if err := scanBackup(rows, &b); err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backups: %w", err)
	}
	return out, nil
}

// CompleteBackupParams holds the parameters for CompleteBackup.
type CompleteBackupParams struct {
	ID        string `json:"id"`
	FileName  string `json:"file_name"`
	SizeBytes int64  `json:"size_bytes"`
}

// CompleteBackup records the archive of a finished backup.
func (a *CoreDB) CompleteBackup(ctx context.Context, params CompleteBackupParams) error {
	tag, err := a.db.Exec(ctx,
		`UPDATE backups SET status = $1, file_name = $2, size_bytes = $3, error_message = NULL,
		 completed_at = now(), updated_at = now()
		 WHERE id = $4 AND status = $5`,
		model.BackupCompleted, params.FileName, params.SizeBytes, params.ID, model.BackupCreating,
	)
	if err != nil {
		return fmt.Errorf("complete backup %s: %w", params.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("backup %s is no longer creating", params.ID), ErrTypeConflict, nil)
	}
	return nil
}

// SetBackupStatusParams holds the parameters for SetBackupStatus.
type SetBackupStatusParams struct {
	ID           string             `json:"id"`
	From         model.BackupStatus `json:"from"`
	To           model.BackupStatus `json:"to"`
	ErrorMessage *string            `json:"error_message,omitempty"`
}

// SetBackupStatus moves a backup from one status to another.
func (a *CoreDB) SetBackupStatus(ctx context.Context, params SetBackupStatusParams) error {
	tag, err := a.db.Exec(ctx,
		`UPDATE backups SET status = $1, error_message = $2, updated_at = now()
		 WHERE id = $3 AND status = $4`,
		params.To, params.ErrorMessage, params.ID, params.From,
	)
	if err != nil {
		return fmt.Errorf("set backup %s to %s: %w", params.ID, params.To, err)
	}
	if tag.RowsAffected() == 0 {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("backup %s is no longer %s", params.ID, params.From), ErrTypeConflict, nil)
	}
	return nil
}

// DeleteBackupRecord removes a backup row.
func (a *CoreDB) DeleteBackupRecord(ctx context.Context, id string) error {
	_, err := a.db.Exec(ctx, "DELETE FROM backups WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete backup %s: %w", id, err)
	}
	return nil
}

// CleanupFailedBackups deletes failed backup records older than the given
// age and returns how many were removed. Failed backups never hold an
// archive.
func (a *CoreDB) CleanupFailedBackups(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := a.db.Exec(ctx,
		"DELETE FROM backups WHERE status = $1 AND updated_at < $2",
		model.BackupFailed, time.Now().Add(-olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed backups: %w", err)
	}
	return tag.RowsAffected(), nil
}
