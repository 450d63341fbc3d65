package proxmox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies adapter failures.
type Kind string

const (
	KindConnection    Kind = "connection"
	KindTimeout       Kind = "timeout"
	KindNotFound      Kind = "not_found"
	KindAlreadyExists Kind = "already_exists"
	KindQuota         Kind = "quota"
	KindAuth          Kind = "auth"
	KindRemote        Kind = "remote"
)

// Error is returned by every Client call that fails.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// CommandError is a command executed in a container that exited non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = lastLine(e.Stdout)
	}
	return fmt.Sprintf("command exited with status %d: %s", e.ExitCode, msg)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// KindOf returns the kind of err, or "" if err did not come from the adapter.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func IsNotFound(err error) bool      { return KindOf(err) == KindNotFound }
func IsAlreadyExists(err error) bool { return KindOf(err) == KindAlreadyExists }

// IsTransient reports whether err is worth retrying: connection and timeout
// failures, or any error whose message mentions a timeout or connection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindConnection, KindTimeout:
		return true
	case KindNotFound, KindAlreadyExists, KindQuota, KindAuth:
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection")
}

// classifyMessage maps a Proxmox error message to a kind.
func classifyMessage(status int, msg string) Kind {
	m := strings.ToLower(msg)
	switch {
	case status == 401:
		return KindAuth
	case strings.Contains(m, "does not exist"), strings.Contains(m, "no such"), strings.Contains(m, "not found"):
		return KindNotFound
	case strings.Contains(m, "already exists"):
		return KindAlreadyExists
	case strings.Contains(m, "not enough"), strings.Contains(m, "insufficient"),
		strings.Contains(m, "quota"), strings.Contains(m, "no space left"):
		return KindQuota
	case strings.Contains(m, "timeout"), strings.Contains(m, "timed out"), status == 504:
		return KindTimeout
	case status == 0, status == 502, status == 503, strings.Contains(m, "connection"):
		return KindConnection
	case status == 404:
		return KindNotFound
	}
	return KindRemote
}

// transportError wraps a failure to reach the API at all.
func transportError(op string, err error) *Error {
	kind := KindConnection
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
