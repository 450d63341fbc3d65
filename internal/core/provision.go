package core

import (
	"context"
	"fmt"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/proximity/internal/model"
)

const taskQueue = "proximity-tasks"

// ctxKey is a context key type for callback URL propagation.
type ctxKey string

const callbackURLKey ctxKey = "callback_url"

// WithCallbackURL attaches a callback URL to the context for propagation
// to signalProvision without changing any service method signatures.
func WithCallbackURL(ctx context.Context, url string) context.Context {
	if url == "" {
		return ctx
	}
	return context.WithValue(ctx, callbackURLKey, url)
}

// CallbackURLFrom returns the callback URL set by WithCallbackURL, if any.
func CallbackURLFrom(ctx context.Context) string {
	if url, ok := ctx.Value(callbackURLKey).(string); ok {
		return url
	}
	return ""
}

// workflowID builds a human-readable Temporal workflow ID from a prefix and
// the resource ID.
func workflowID(prefix, id string) string {
	return fmt.Sprintf("%s-%s", prefix, id)
}

// signalProvision routes a workflow task through the per-application entity
// workflow, so that every task for one application runs in order.
func signalProvision(ctx context.Context, tc temporalclient.Client, appID string, task model.ProvisionTask) error {
	if task.CallbackURL == "" {
		task.CallbackURL = CallbackURLFrom(ctx)
	}

	wfID := workflowID("app", appID)
	_, err := tc.SignalWithStartWorkflow(ctx, wfID, model.ProvisionSignalName, task,
		temporalclient.StartWorkflowOptions{
			ID:        wfID,
			TaskQueue: taskQueue,
		},
		"AppProvisionWorkflow",
	)
	return err
}

// signalFailed reports a task that could not be handed to the worker. The
// caller has already undone the status it wrote; undoErr is set when that
// failed too.
func signalFailed(workflowName string, err, undoErr error) error {
	if undoErr != nil {
		return fmt.Errorf("signal %s: %w (restoring previous status: %v)", workflowName, err, undoErr)
	}
	return fmt.Errorf("signal %s: %w", workflowName, err)
}

// signalFailureMessage is the status message recorded when a task could not
// be started.
func signalFailureMessage(workflowName string, err error) *string {
	msg := fmt.Sprintf("start %s: %v", workflowName, err)
	return &msg
}
