package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound marks lookups that matched no row.
var ErrNotFound = errors.New("not found")

// Kind classifies database errors for retry decisions.
type Kind string

const (
	KindConnection Kind = "connection"
	KindQuery      Kind = "query"
)

// Error wraps an engine error with its classification.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("database %s error during %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// transient reports whether an error is worth retrying with backoff.
// Connection-level failures are transient; constraint and syntax errors are
// permanent.
func transient(err error) bool {
	if err == nil {
		return false
	}
	var dbErr *Error
	if errors.As(err, &dbErr) && dbErr.Kind == KindConnection {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return transientMessage(err)
}

// transientMessage matches driver error text that indicates a connection
// level failure.
func transientMessage(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "connection reset", "broken pipe", "database is locked", "too many connections"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
