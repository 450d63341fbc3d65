// Package lifecycle owns application status transitions. Every status write
// goes through Machine.Transition, which applies the edge table below as a
// compare-and-set against the database so concurrent operations on the same
// application cannot interleave.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/proximity/internal/model"
)

// DB is the subset of pgxpool.Pool used by the state machine.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("conflicting operation")
	// ErrNotFound is returned when the application row does not exist.
	ErrNotFound = errors.New("application not found")
	// ErrIllegalTransition reports a transition missing from the edge table.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// ConflictError is returned when the application is not in a state the
// requested transition or operation may start from.
type ConflictError struct {
	AppID   string
	Current model.ApplicationStatus
	Target  model.ApplicationStatus
	Op      Op
}

func (e *ConflictError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("application %s is %s: cannot %s", e.AppID, e.Current, e.Op)
	}
	return fmt.Sprintf("application %s is %s: cannot move to %s", e.AppID, e.Current, e.Target)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

var edges = map[model.ApplicationStatus][]model.ApplicationStatus{
	model.AppDeploying: {model.AppRunning, model.AppError, model.AppRemoving},
	model.AppRunning:   {model.AppRunning, model.AppStopped, model.AppUpdating, model.AppRemoving},
	model.AppStopped:   {model.AppRunning, model.AppUpdating, model.AppRemoving},
	model.AppUpdating:  {model.AppRunning, model.AppStopped, model.AppError, model.AppRemoving},
	model.AppError:     {model.AppDeploying, model.AppRemoving},
	// A failed container destroy leaves the record in removing; deleting
	// again retries the removal.
	model.AppRemoving: {model.AppRemoving},
}

// Allowed reports whether the edge from -> to exists.
func Allowed(from, to model.ApplicationStatus) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Sources returns every state with an edge into to, in declaration order.
func Sources(to model.ApplicationStatus) []model.ApplicationStatus {
	var out []model.ApplicationStatus
	for _, from := range model.ApplicationStatuses {
		if Allowed(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Machine applies transitions to stored applications.
type Machine struct {
	db DB
}

func New(db DB) *Machine {
	return &Machine{db: db}
}

// Transition moves appID from one of the from states to to and records
// message as the status message (nil clears it). An empty from means any
// state with an edge into to. It fails with a *ConflictError when the stored
// status is not one of from.
func (m *Machine) Transition(ctx context.Context, appID string, from []model.ApplicationStatus, to model.ApplicationStatus, message *string) error {
	if len(from) == 0 {
		from = Sources(to)
	}
	sources := make([]string, 0, len(from))
	for _, s := range from {
		if !Allowed(s, to) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, to)
		}
		sources = append(sources, string(s))
	}

	tag, err := m.db.Exec(ctx,
		`UPDATE applications SET status = $1, status_message = $2, updated_at = now()
		 WHERE id = $3 AND status = ANY($4)`,
		to, message, appID, sources,
	)
	if err != nil {
		return fmt.Errorf("transition application %s to %s: %w", appID, to, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := m.Current(ctx, appID)
	if err != nil {
		return err
	}
	return &ConflictError{AppID: appID, Current: current, Target: to}
}

// Current reads the stored status of appID.
func (m *Machine) Current(ctx context.Context, appID string) (model.ApplicationStatus, error) {
	var status model.ApplicationStatus
	err := m.db.QueryRow(ctx, "SELECT status FROM applications WHERE id = $1", appID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, appID)
	}
	if err != nil {
		return "", fmt.Errorf("get application %s status: %w", appID, err)
	}
	return status, nil
}
