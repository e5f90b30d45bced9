package repository

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is branching. Adapters return the typed errors
// below, which match these sentinels, so callers can discriminate outcomes
// without depending on a concrete backend.
var (
	// ErrNotFound matches failures where the requested identifier does not exist.
	ErrNotFound = errors.New("entity not found")
	// ErrDuplicateKey matches identifier collisions on insert.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrValidation matches entities or parameters rejected before any mutation.
	ErrValidation = errors.New("invalid entity")
	// ErrBackendUnavailable matches transport or connection failures of real
	// backends. The in-memory adapter never produces it.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrTxDone is returned by operations on a transaction that has already
	// been committed or rolled back.
	ErrTxDone = errors.New("transaction has already been committed or rolled back")
)

// NotFoundError reports a missing identifier.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id '%s' not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DuplicateKeyError reports an identifier collision on insert.
type DuplicateKeyError struct {
	Entity string
	ID     string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s with id '%s' already exists", e.Entity, e.ID)
}

func (e *DuplicateKeyError) Is(target error) bool { return target == ErrDuplicateKey }

// ValidationError reports a malformed entity rejected before any mutation.
// Cause carries the field-level detail, typically validator.FieldErrors.
type ValidationError struct {
	Entity string
	Cause  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Entity, e.Cause)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Cause }

// PaginationError reports a negative limit or offset.
type PaginationError struct {
	Param string
	Value int
}

func (e *PaginationError) Error() string {
	return fmt.Sprintf("%s must be non-negative, got %d", e.Param, e.Value)
}

func (e *PaginationError) Is(target error) bool { return target == ErrValidation }

// BackendUnavailableError reports an underlying transport or connection
// failure. It is propagated unchanged; retry policy belongs to callers.
type BackendUnavailableError struct {
	Op    string
	Cause error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable during %s: %v", e.Op, e.Cause)
}

func (e *BackendUnavailableError) Is(target error) bool { return target == ErrBackendUnavailable }

func (e *BackendUnavailableError) Unwrap() error { return e.Cause }
