package workflow

import (
	"time"

	"go.temporal.io/sdk/workflow"
)

// DefaultFailedBackupRetention is how long failed backup records stay
// visible before the cleanup schedule removes them.
const DefaultFailedBackupRetention = 7 * 24 * time.Hour

// CleanupFailedBackupsWorkflow deletes failed backup records older than
// retention. Failed backups never produced an archive, so only the records
// are removed.
func CleanupFailedBackupsWorkflow(ctx workflow.Context, retention time.Duration) error {
	if retention <= 0 {
		retention = DefaultFailedBackupRetention
	}

	var deleted int64
	err := workflow.ExecuteActivity(dbCtx(ctx), "CleanupFailedBackups", retention).Get(ctx, &deleted)
	if err != nil {
		return err
	}

	logger := workflow.GetLogger(ctx)
	logger.Info("cleaned up failed backups", "deleted", deleted, "retention", retention)
	return nil
}
