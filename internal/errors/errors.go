package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a Retrace error code.
type ErrorCode string

const (
	ErrConnectionFailed ErrorCode = "CONNECTION_FAILED" // 503
	ErrQueryFailed      ErrorCode = "QUERY_FAILED"      // 500
	ErrMigrationFailed  ErrorCode = "MIGRATION_FAILED"  // 500
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"   // 400
	ErrNotFound         ErrorCode = "NOT_FOUND"         // 404
	ErrInternal         ErrorCode = "INTERNAL"          // 500
)

// RetraceError represents a structured error with code, status, and details.
// Query and Version are only populated for QUERY_FAILED and MIGRATION_FAILED.
type RetraceError struct {
	Code    ErrorCode
	Status  int
	Message string
	Query   string
	Version int
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *RetraceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying driver or filesystem error, if any.
func (e *RetraceError) Unwrap() error {
	return e.Cause
}

// NewConnectionFailed creates an error for a store that cannot be opened or created.
// Fatal to the caller's session.
func NewConnectionFailed(path string, cause error) *RetraceError {
	msg := "cannot open store"
	if cause != nil {
		msg = fmt.Sprintf("cannot open store at %s: %v", path, cause)
	}
	return &RetraceError{
		Code:    ErrConnectionFailed,
		Status:  503,
		Message: msg,
		Details: map[string]any{"path": path},
		Cause:   cause,
	}
}

// NewQueryFailed creates an error for a single failed statement.
// The engine message is preserved verbatim in Message.
func NewQueryFailed(query string, cause error) *RetraceError {
	msg := "query failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &RetraceError{
		Code:    ErrQueryFailed,
		Status:  500,
		Message: msg,
		Query:   compactQuery(query),
		Cause:   cause,
	}
}

// NewMigrationFailed creates an error for a schema migration that was rolled back.
func NewMigrationFailed(version int, cause error) *RetraceError {
	msg := fmt.Sprintf("migration %d failed", version)
	if cause != nil {
		msg = fmt.Sprintf("migration %d failed: %v", version, cause)
	}
	return &RetraceError{
		Code:    ErrMigrationFailed,
		Status:  500,
		Message: msg,
		Version: version,
		Details: map[string]any{"version": version},
		Cause:   cause,
	}
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *RetraceError {
	return &RetraceError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error. The storage layer never returns it;
// only the ops/web/mcp surfaces translate absent results into it.
func NewNotFound(kind string, id any) *RetraceError {
	return &RetraceError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %v", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

// NewInternal creates a 500 error for failures outside the store, such as
// writing an export file.
func NewInternal(err error) *RetraceError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &RetraceError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Cause:   err,
	}
}

// Is checks if an error (or anything it wraps) is a RetraceError with the given code.
func Is(err error, code ErrorCode) bool {
	var rErr *RetraceError
	if stderrors.As(err, &rErr) {
		return rErr.Code == code
	}
	return false
}

// IsConstraint reports whether err is a QUERY_FAILED caused by a SQLite
// UNIQUE, FOREIGN KEY, NOT NULL or CHECK constraint.
func IsConstraint(err error) bool {
	var rErr *RetraceError
	if !stderrors.As(err, &rErr) || rErr.Code != ErrQueryFailed {
		return false
	}
	return strings.Contains(rErr.Message, "constraint failed")
}

// compactQuery collapses whitespace so multi-line SQL reads well in logs.
func compactQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}
