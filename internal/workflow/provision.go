package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/proximity/internal/activity"
	"github.com/edvin/proximity/internal/model"
)

const (
	provisionIdleTimeout = 5 * time.Minute
	maxProvisionTasks    = 1000
)

// AppProvisionWorkflow is a long-running per-application orchestrator that
// runs tasks one at a time. Tasks arrive on the "provision" signal and each
// one runs as a child workflow, so operations on one application never
// overlap.
//
// The workflow completes after 5 idle minutes; SignalWithStartWorkflow
// starts a new run for the next task. After 1000 tasks it continues as new
// to keep the history bounded. Unread signals carry over.
func AppProvisionWorkflow(ctx workflow.Context) error {
	logger := workflow.GetLogger(ctx)
	signalCh := workflow.GetSignalChannel(ctx, model.ProvisionSignalName)

	processed := 0
	run := func(task model.ProvisionTask) bool {
		if err := executeProvisionTask(ctx, task); err != nil {
			logger.Error("provision task failed",
				"workflow", task.WorkflowName,
				"id", task.WorkflowID,
				"error", err)
		}
		processed++
		return processed >= maxProvisionTasks
	}

	for {
		for {
			var task model.ProvisionTask
			if !signalCh.ReceiveAsync(&task) {
				break
			}
			if run(task) {
				return workflow.NewContinueAsNewError(ctx, AppProvisionWorkflow)
			}
		}

		var task model.ProvisionTask
		gotSignal := false

		selector := workflow.NewSelector(ctx)
		selector.AddReceive(signalCh, func(c workflow.ReceiveChannel, _ bool) {
			c.Receive(ctx, &task)
			gotSignal = true
		})
		selector.AddFuture(workflow.NewTimer(ctx, provisionIdleTimeout), func(workflow.Future) {})
		selector.Select(ctx)

		if !gotSignal {
			return nil
		}
		if run(task) {
			return workflow.NewContinueAsNewError(ctx, AppProvisionWorkflow)
		}
	}
}

func executeProvisionTask(ctx workflow.Context, task model.ProvisionTask) error {
	childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
		WorkflowID: task.WorkflowID,
		TaskQueue:  TaskQueue,
	})
	childErr := workflow.ExecuteChildWorkflow(childCtx, task.WorkflowName, task.Arg).Get(ctx, nil)

	if task.CallbackURL != "" {
		fireCallback(ctx, task, childErr)
	}
	return childErr
}

// fireCallback reports the outcome of a task. Callback failures are logged
// and never block the orchestrator.
func fireCallback(ctx workflow.Context, task model.ProvisionTask, childErr error) {
	logger := workflow.GetLogger(ctx)

	payload := model.CallbackPayload{
		ResourceType: task.ResourceType,
		ResourceID:   task.ResourceID,
		Status:       model.CallbackStatusSucceeded,
	}
	if childErr != nil {
		payload.Status = model.CallbackStatusFailed
		payload.StatusMessage = failureMessage(childErr)
	}

	callbackCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    10,
			InitialInterval:    5 * time.Second,
			MaximumInterval:    5 * time.Minute,
			BackoffCoefficient: 2.0,
		},
	})

	err := workflow.ExecuteActivity(callbackCtx, "SendCallback", activity.SendCallbackParams{
		URL:     task.CallbackURL,
		Payload: payload,
	}).Get(ctx, nil)
	if err != nil {
		logger.Error("callback failed",
			"url", task.CallbackURL,
			"resource_type", task.ResourceType,
			"resource_id", task.ResourceID,
			"error", err)
	}
}
