// Package warehouse defines the query-execution interface that histclean
// submits its rendered SQL through, and the error taxonomy every backend
// classifies its native failures into.
package warehouse

import (
	"context"
	"errors"
	"fmt"
)

// Warehouse accepts SQL text and returns a Job that can be awaited.
// Implementations must be safe for concurrent use by multiple goroutines,
// serializing access internally if the underlying client is not.
type Warehouse interface {
	// Submit starts executing stmt. It does not wait for the statement
	// to finish; errors returned here are submission errors only.
	Submit(ctx context.Context, table, stmt string) (Job, error)
	// RowCount returns the number of rows in table. ok is false when the
	// backend cannot report a count (for example, rows still in a
	// streaming buffer).
	RowCount(ctx context.Context, table string) (n int64, ok bool, err error)
	// Ping verifies credentials and that the target dataset exists.
	Ping(ctx context.Context) error
	Close() error
}

// Job is a submitted statement.
type Job interface {
	ID() string
	// Wait blocks until the statement completes or ctx is done.
	Wait(ctx context.Context) (*Result, error)
}

// Result describes a completed statement.
type Result struct {
	Rows         int64 // rows returned by a SELECT
	AffectedRows int64 // rows changed by DML, valid when HasAffected
	HasAffected  bool
}

// Kind classifies a warehouse failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindBadRequest
	KindConflict
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "notFound"
	case KindBadRequest:
		return "badRequest"
	case KindConflict:
		return "conflict"
	case KindTimeout:
		return "timeout"
	}
	return "unknown"
}

var (
	ErrNotFound   = errors.New("not found")
	ErrBadRequest = errors.New("bad request")
	ErrConflict   = errors.New("conflict")
	ErrTimeout    = errors.New("timed out")
)

// Error is a classified warehouse failure.
type Error struct {
	Kind    Kind
	Table   string
	Message string // message as reported by the warehouse
	Err     error
}

func (e *Error) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Table, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match a classified error against the Kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrBadRequest:
		return e.Kind == KindBadRequest
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrTimeout:
		return e.Kind == KindTimeout
	}
	return false
}

// NewError wraps err as a classified failure for table.
func NewError(kind Kind, table string, err error) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: kind, Table: table, Message: msg, Err: err}
}

// KindOf returns the Kind of err. Context deadline errors are Timeout,
// anything not classified by a backend is Unknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}
