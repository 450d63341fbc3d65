package workflow

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/proximity/internal/activity"
	"github.com/edvin/proximity/internal/model"
)

// TaskQueue is served by the proximity worker.
const TaskQueue = "proximity-tasks"

// adapterRetryPolicy retries transient Proxmox failures twice with a fixed
// backoff. Permanent failures are non-retryable application errors.
var adapterRetryPolicy = &temporal.RetryPolicy{
	MaximumAttempts:    3,
	InitialInterval:    30 * time.Second,
	BackoffCoefficient: 1.0,
}

// dbCtx is used for activities that only touch the core database.
func dbCtx(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    5,
			InitialInterval:    time.Second,
			MaximumInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
		},
	})
}

// provisionCtx runs a provisioning activity exactly once. A failed step is
// recorded on the application instead of being retried. The activities
// heartbeat every 10s while they block on the adapter.
func provisionCtx(ctx workflow.Context, timeout time.Duration) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
}

// adapterCtx is used for container power, destroy and backup activities.
func adapterCtx(ctx workflow.Context, timeout time.Duration) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         adapterRetryPolicy,
	})
}

// failureMessage returns the message of the innermost application error,
// without the activity metadata Temporal adds around it.
func failureMessage(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Message() != "" {
		return appErr.Message()
	}
	return err.Error()
}

// stepError names the step a failure happened in, so the status message
// reads "{step}: {cause}".
func stepError(step string, err error) error {
	return fmt.Errorf("%s: %s", step, failureMessage(err))
}

// setApplicationError moves an application from one of the from states to
// error and records err as the status message. Callers ignore the returned
// error since the original failure is more important.
func setApplicationError(ctx workflow.Context, appID string, from model.ApplicationStatus, err error) error {
	msg := failureMessage(err)
	return workflow.ExecuteActivity(dbCtx(ctx), "UpdateApplicationStatus", activity.UpdateApplicationStatusParams{
		ID:      appID,
		From:    []model.ApplicationStatus{from},
		To:      model.AppError,
		Message: &msg,
	}).Get(ctx, nil)
}

// setRemovalFailed keeps an application in removing and records why the
// removal failed, so that deleting it again retries.
func setRemovalFailed(ctx workflow.Context, appID string, err error) error {
	msg := failureMessage(err)
	return workflow.ExecuteActivity(dbCtx(ctx), "UpdateApplicationStatus", activity.UpdateApplicationStatusParams{
		ID:      appID,
		From:    []model.ApplicationStatus{model.AppRemoving},
		To:      model.AppRemoving,
		Message: &msg,
	}).Get(ctx, nil)
}

// setBackupStatus moves a backup between states, recording err as the
// error message when it is non-nil.
func setBackupStatus(ctx workflow.Context, backupID string, from, to model.BackupStatus, err error) error {
	params := activity.SetBackupStatusParams{ID: backupID, From: from, To: to}
	if err != nil {
		msg := failureMessage(err)
		params.ErrorMessage = &msg
	}
	return workflow.ExecuteActivity(dbCtx(ctx), "SetBackupStatus", params).Get(ctx, nil)
}

// transition performs a lifecycle transition with a nil status message.
func transition(ctx workflow.Context, appID string, from, to model.ApplicationStatus) error {
	return workflow.ExecuteActivity(dbCtx(ctx), "UpdateApplicationStatus", activity.UpdateApplicationStatusParams{
		ID:   appID,
		From: []model.ApplicationStatus{from},
		To:   to,
	}).Get(ctx, nil)
}

// invalidError is a non-retryable failure detected inside a workflow.
func invalidError(format string, args ...any) error {
	return temporal.NewNonRetryableApplicationError(fmt.Sprintf(format, args...), activity.ErrTypeInvalid, nil)
}
