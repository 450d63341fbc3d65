package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/proximity/internal/db"
	"github.com/edvin/proximity/internal/lifecycle"
	"github.com/edvin/proximity/internal/model"
	"github.com/edvin/proximity/internal/platform"
)

const singleFlightIndex = "backups_single_flight"

const backupColumns = `id, application_id, file_name, storage_name, size_bytes, backup_type, compression,
	status, error_message, completed_at, created_at, updated_at`

func scanBackup(row pgx.Row, b *model.Backup) error {
	return row.Scan(&b.ID, &b.ApplicationID, &b.FileName, &b.StorageName, &b.SizeBytes,
		&b.BackupType, &b.Compression, &b.Status, &b.ErrorMessage, &b.CompletedAt,
		&b.CreatedAt, &b.UpdatedAt)
}

// CreateBackupParams selects how the backup is taken. Empty fields use the
// defaults: snapshot mode, zstd, and the configured backup storage.
type CreateBackupParams struct {
	BackupType  string
	Compression string
	StorageName string
}

type BackupService struct {
	db       DB
	tc       temporalclient.Client
	machine  *lifecycle.Machine
	settings *SettingsService
}

func NewBackupService(db DB, tc temporalclient.Client, settings *SettingsService) *BackupService {
	return &BackupService{db: db, tc: tc, machine: lifecycle.New(db), settings: settings}
}

// Create records a backup in creating state and starts it. The partial
// unique index on in-flight backups rejects a second concurrent operation
// on the same application.
func (s *BackupService) Create(ctx context.Context, appID string, p CreateBackupParams) (*model.Backup, error) {
	var status model.ApplicationStatus
	err := s.db.QueryRow(ctx, "SELECT status FROM applications WHERE id = $1", appID).Scan(&status)
	if err != nil {
		return nil, lookupErr("application", appID, err)
	}
	if err := lifecycle.Check(appID, lifecycle.OpBackup, status); err != nil {
		return nil, transitionErr(err)
	}

	b := &model.Backup{
		ID:            platform.NewID(),
		ApplicationID: appID,
		StorageName:   p.StorageName,
		BackupType:    p.BackupType,
		Compression:   p.Compression,
		Status:        model.BackupCreating,
	}
	if b.BackupType == "" {
		b.BackupType = model.BackupTypeSnapshot
	}
	if b.Compression == "" {
		b.Compression = model.CompressionZstd
	}
	if b.StorageName == "" {
		res, err := s.settings.Resources(ctx)
		if err != nil {
			return nil, err
		}
		b.StorageName = res.BackupStorage
	}

	if err := insertBackup(ctx, s.db, b); err != nil {
		return nil, err
	}

	if err := signalProvision(ctx, s.tc, appID, model.ProvisionTask{
		WorkflowName: "CreateBackupWorkflow",
		WorkflowID:   workflowID("backup-create", b.ID),
		Arg:          b.ID,
		ResourceType: "backup",
		ResourceID:   b.ID,
	}); err != nil {
		undoErr := releaseBackup(ctx, s.db, b.ID, model.BackupCreating, model.BackupFailed,
			signalFailureMessage("CreateBackupWorkflow", err))
		return nil, signalFailed("CreateBackupWorkflow", err, undoErr)
	}
	return b, nil
}

func (s *BackupService) Get(ctx context.Context, id string) (*model.Backup, error) {
	var b model.Backup
	err := scanBackup(s.db.QueryRow(ctx, `SELECT `+backupColumns+` FROM backups WHERE id = $1`, id), &b)
	if err != nil {
		return nil, lookupErr("backup", id, err)
	}
	return &b, nil
}

func (s *BackupService) ListByApplication(ctx context.Context, appID string, limit int, cursor string) ([]model.Backup, bool, error) {
	query := `SELECT ` + backupColumns + ` FROM backups WHERE application_id = $1`
	args := []any{appID}
	argIdx := 2

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
		return nil, false, fmt.Errorf("list backups for application %s: %w", appID, err)
	}
	defer rows.Close()

	var backups []model.Backup
	for rows.Next() {
		var b model.Backup
		if err := scanBackup(rows, &b); err != nil {
			return nil, false, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, b)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate backups: %w", err)
	}

	hasMore := len(backups) > limit
	if hasMore {
		backups = backups[:limit]
	}
	return backups, hasMore, nil
}

// Restore replaces the application's container with the backup. Only a
// completed backup of a running or stopped application can be restored;
// anything else is rejected before either record changes.
func (s *BackupService) Restore(ctx context.Context, id string) (*model.Backup, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != model.BackupCompleted {
		return nil, conflict("backup %s is %s: only completed backups can be restored", id, b.Status)
	}

	current, err := s.machine.Current(ctx, b.ApplicationID)
	if err != nil {
		return nil, transitionErr(err)
	}
	if err := lifecycle.Check(b.ApplicationID, lifecycle.OpRestore, current); err != nil {
		return nil, transitionErr(err)
	}

	if err := s.claim(ctx, id, model.BackupCompleted, model.BackupRestoring); err != nil {
		return nil, err
	}

	rule, _ := lifecycle.RuleFor(lifecycle.OpRestore)
	if err := s.machine.Transition(ctx, b.ApplicationID, rule.From, rule.Target, nil); err != nil {
		if rerr := releaseBackup(ctx, s.db, id, model.BackupRestoring, model.BackupCompleted, nil); rerr != nil {
			return nil, fmt.Errorf("revert backup %s after %v: %w", id, err, rerr)
		}
		return nil, transitionErr(err)
	}

	if err := signalProvision(ctx, s.tc, b.ApplicationID, model.ProvisionTask{
		WorkflowName: "RestoreBackupWorkflow",
		WorkflowID:   workflowID("backup-restore", id),
		Arg:          id,
		ResourceType: "backup",
		ResourceID:   id,
	}); err != nil {
		undoErr := errors.Join(
			releaseBackup(ctx, s.db, id, model.BackupRestoring, model.BackupCompleted, nil),
			s.machine.Transition(ctx, b.ApplicationID, []model.ApplicationStatus{rule.Target}, current,
				signalFailureMessage("RestoreBackupWorkflow", err)),
		)
		return nil, signalFailed("RestoreBackupWorkflow", err, undoErr)
	}

	b.Status = model.BackupRestoring
	return b, nil
}

// Delete removes a completed backup's file and then its record.
func (s *BackupService) Delete(ctx context.Context, id string) error {
	b, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if b.Status != model.BackupCompleted {
		return conflict("backup %s is %s: only completed backups can be deleted", id, b.Status)
	}
	if err := s.claim(ctx, id, model.BackupCompleted, model.BackupDeleting); err != nil {
		return err
	}

	if err := signalProvision(ctx, s.tc, b.ApplicationID, model.ProvisionTask{
		WorkflowName: "DeleteBackupWorkflow",
		WorkflowID:   workflowID("backup-delete", id),
		Arg:          id,
		ResourceType: "backup",
		ResourceID:   id,
	}); err != nil {
		undoErr := releaseBackup(ctx, s.db, id, model.BackupDeleting, model.BackupCompleted, nil)
		return signalFailed("DeleteBackupWorkflow", err, undoErr)
	}
	return nil
}

// insertBackup stores b in creating. The single-flight index turns a second
// in-flight backup of the same application into ErrConflict.
func insertBackup(ctx context.Context, conn DB, b *model.Backup) error {
	err := conn.QueryRow(ctx,
		`INSERT INTO backups (id, application_id, storage_name, backup_type, compression, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		 RETURNING created_at, updated_at`,
		b.ID, b.ApplicationID, b.StorageName, b.BackupType, b.Compression, b.Status,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if constraint, ok := db.UniqueViolation(err); ok && constraint == singleFlightIndex {
			return conflict("application %s already has a backup operation in progress", b.ApplicationID)
		}
		return fmt.Errorf("insert backup: %w", err)
	}
	return nil
}

// releaseBackup moves a backup out of a status the service wrote itself,
// for example when its workflow could not be started.
func releaseBackup(ctx context.Context, conn DB, id string, from, to model.BackupStatus, message *string) error {
	_, err := conn.Exec(ctx,
		"UPDATE backups SET status = $1, error_message = $2, updated_at = now() WHERE id = $3 AND status = $4",
		to, message, id, from,
	)
	if err != nil {
		return fmt.Errorf("set backup %s to %s: %w", id, to, err)
	}
	return nil
}

// claim moves a backup from one status to another in a single statement.
// It fails with ErrConflict when the backup changed concurrently or another
// backup of the same application is in flight.
func (s *BackupService) claim(ctx context.Context, id string, from, to model.BackupStatus) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE backups SET status = $1, error_message = NULL, updated_at = now() WHERE id = $2 AND status = $3",
		to, id, from,
	)
	if err != nil {
		if constraint, ok := db.UniqueViolation(err); ok && constraint == singleFlightIndex {
			return conflict("backup %s: another backup operation is in progress for the application", id)
		}
		return fmt.Errorf("set backup %s to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 0 {
		return conflict("backup %s is no longer %s", id, from)
	}
	return nil
}
