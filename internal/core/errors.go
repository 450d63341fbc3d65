package core

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/proximity/internal/lifecycle"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
)

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// lookupErr maps a missing row to ErrNotFound.
func lookupErr(kind, id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(kind, id)
	}
	return fmt.Errorf("get %s %s: %w", kind, id, err)
}

// transitionErr maps state machine errors onto the service sentinels.
func transitionErr(err error) error {
	switch {
	case errors.Is(err, lifecycle.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, err.Error())
	case errors.Is(err, lifecycle.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, err.Error())
	}
	return err
}
