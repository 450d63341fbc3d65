package lifecycle

import "github.com/edvin/proximity/internal/model"

// Op is a user-initiated operation on an application.
type Op string

const (
	OpStart       Op = "start"
	OpStop        Op = "stop"
	OpRestart     Op = "restart"
	OpRestore     Op = "restore"
	OpReconfigure Op = "reconfigure"
	OpDelete      Op = "delete"
	OpRetry       Op = "retry"
	OpBackup      Op = "backup"
	OpClone       Op = "clone"
)

// Rule describes where an operation may start from and the status it
// writes first. Target is empty for operations that do not change the
// application's own status.
type Rule struct {
	From   []model.ApplicationStatus
	Target model.ApplicationStatus
}

var rules = map[Op]Rule{
	OpStart:       {From: []model.ApplicationStatus{model.AppStopped}, Target: model.AppRunning},
	OpStop:        {From: []model.ApplicationStatus{model.AppRunning}, Target: model.AppStopped},
	OpRestart:     {From: []model.ApplicationStatus{model.AppRunning}, Target: model.AppRunning},
	OpRestore:     {From: []model.ApplicationStatus{model.AppRunning, model.AppStopped}, Target: model.AppUpdating},
	OpReconfigure: {From: []model.ApplicationStatus{model.AppRunning, model.AppStopped}, Target: model.AppUpdating},
	OpDelete:      {From: []model.ApplicationStatus{model.AppRunning, model.AppStopped, model.AppError, model.AppRemoving}, Target: model.AppRemoving},
	OpRetry:       {From: []model.ApplicationStatus{model.AppError}, Target: model.AppDeploying},
	OpBackup:      {From: []model.ApplicationStatus{model.AppRunning, model.AppStopped}},
	OpClone:       {From: []model.ApplicationStatus{model.AppRunning, model.AppStopped}},
}

// RuleFor returns the rule for op.
func RuleFor(op Op) (Rule, bool) {
	r, ok := rules[op]
	return r, ok
}

// Check returns a *ConflictError if op may not start while the application
// is in current.
func Check(appID string, op Op, current model.ApplicationStatus) error {
	r, ok := rules[op]
	if !ok {
		return &ConflictError{AppID: appID, Current: current, Op: op}
	}
	for _, s := range r.From {
		if s == current {
			return nil
		}
	}
	return &ConflictError{AppID: appID, Current: current, Target: r.Target, Op: op}
}
