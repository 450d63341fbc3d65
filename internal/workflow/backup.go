package workflow

import (
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/edvin/proximity/internal/activity"
	"github.com/edvin/proximity/internal/model"
	"github.com/edvin/proximity/internal/proxmox"
)

// backupTimeout bounds one vzdump or restore task.
const backupTimeout = 2 * time.Hour

// CreateBackupWorkflow takes a vzdump archive of the application's
// container. The backup record was written in creating state and holds the
// application's backup lock until it ends in completed or failed.
func CreateBackupWorkflow(ctx workflow.Context, backupID string) error {
	var bctx activity.BackupContext
	err := workflow.ExecuteActivity(dbCtx(ctx), "GetBackupContext", backupID).Get(ctx, &bctx)
	if err != nil {
		_ = setBackupStatus(ctx, backupID, model.BackupCreating, model.BackupFailed, err)
		return err
	}

	b := bctx.Backup
	var file proxmox.BackupFile
	err = workflow.ExecuteActivity(adapterCtx(ctx, backupTimeout), "CreateBackup", activity.CreateBackupParams{
		Ref:         bctx.Application.Ref(),
		Storage:     b.StorageName,
		Mode:        b.BackupType,
		Compression: b.Compression,
	}).Get(ctx, &file)
	if err != nil {
		_ = setBackupStatus(ctx, backupID, model.BackupCreating, model.BackupFailed, err)
		return err
	}

	return workflow.ExecuteActivity(dbCtx(ctx), "CompleteBackup", activity.CompleteBackupParams{
		ID:        backupID,
		FileName:  file.FileName,
		SizeBytes: file.Size,
	}).Get(ctx, nil)
}

// RestoreBackupWorkflow replaces the application's container with a
// completed backup. The backup is in restoring and the application in
// updating when it starts. On success the backup is completed again and the
// application stopped; on failure the backup is still marked completed and
// the application moves to error.
func RestoreBackupWorkflow(ctx workflow.Context, backupID string) error {
	logger := workflow.GetLogger(ctx)

	var b model.Backup
	err := workflow.ExecuteActivity(dbCtx(ctx), "GetBackup", backupID).Get(ctx, &b)
	if err != nil {
		return err
	}
	appID := b.ApplicationID

	fail := func(err error) error {
		_ = setBackupStatus(ctx, backupID, model.BackupRestoring, model.BackupCompleted, nil)
		_ = setApplicationError(ctx, appID, model.AppUpdating, err)
		return err
	}

	var ac activity.ApplicationContext
	err = workflow.ExecuteActivity(dbCtx(ctx), "GetApplicationContext", appID).Get(ctx, &ac)
	if err != nil {
		return fail(err)
	}
	if b.FileName == nil {
		return fail(invalidError("backup %s has no archive", backupID))
	}
	ref := ac.Ref()

	// The restore overwrites the container either way.
	err = workflow.ExecuteActivity(adapterCtx(ctx, containerPowerTimeout), "StopContainer", activity.StopContainerParams{
		Ref:   ref,
		Force: true,
	}).Get(ctx, nil)
	if err != nil {
		logger.Warn("stop before restore failed", "container", ref.String(), "error", err)
	}

	err = workflow.ExecuteActivity(adapterCtx(ctx, backupTimeout), "RestoreBackup", activity.RestoreBackupParams{
		Ref:     ref,
		File:    *b.FileName,
		Storage: ac.Spec.StoragePool,
		Force:   true,
	}).Get(ctx, nil)
	if err != nil {
		return fail(stepError("restore-backup", err))
	}

	if err := setBackupStatus(ctx, backupID, model.BackupRestoring, model.BackupCompleted, nil); err != nil {
		return err
	}
	return transition(ctx, appID, model.AppUpdating, model.AppStopped)
}

// DeleteBackupWorkflow removes a backup archive and then its record. If the
// archive cannot be removed the backup returns to completed, so it can be
// deleted again, and the cause is the workflow's error. error_message is
// only ever set on failed backups.
func DeleteBackupWorkflow(ctx workflow.Context, backupID string) error {
	var b model.Backup
	err := workflow.ExecuteActivity(dbCtx(ctx), "GetBackup", backupID).Get(ctx, &b)
	if activity.IsErrorType(err, activity.ErrTypeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if b.FileName != nil {
		var app model.Application
		err = workflow.ExecuteActivity(dbCtx(ctx), "GetApplication", b.ApplicationID).Get(ctx, &app)
		if err == nil {
			err = workflow.ExecuteActivity(adapterCtx(ctx, containerPowerTimeout), "DeleteBackupFile", activity.DeleteBackupFileParams{
				HostID:  app.HostID,
				Node:    app.Node,
				Storage: b.StorageName,
				File:    *b.FileName,
			}).Get(ctx, nil)
		}
		if err != nil {
			workflow.GetLogger(ctx).Warn("backup archive not deleted", "backup", backupID, "error", err)
			_ = setBackupStatus(ctx, backupID, model.BackupDeleting, model.BackupCompleted, nil)
			return err
		}
	}

	return workflow.ExecuteActivity(dbCtx(ctx), "DeleteBackupRecord", backupID).Get(ctx, nil)
}
