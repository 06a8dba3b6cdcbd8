/*
errors.go - Centralized error types for the inventory ledger

PURPOSE:
  All error types in one place. Every structured error unwraps to a
  sentinel so callers (the HTTP layer, tests) can branch with errors.Is
  and still read the details with errors.As.

ERROR CATEGORIES:
  1. Caller errors - ValidationError, ApprovalRequiredError, NotFoundError
  2. Conflict errors - StaleSelectionError, AlreadyReversedError,
     ErrConcurrentModification
  3. Tank bound errors - InsufficientInventoryError, OverCapacityError
  4. Store errors - PersistenceError

PROPAGATION:
  One batch call yields one outcome. The first failing precondition or row
  aborts the whole batch; nothing is partially applied.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation            = errors.New("validation failed")
	ErrApprovalRequired      = errors.New("approval required")
	ErrStaleSelection        = errors.New("stale selection")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrOverCapacity          = errors.New("over capacity")
	ErrAlreadyReversed       = errors.New("already reversed")
	ErrNotFound              = errors.New("not found")
	ErrPersistence           = errors.New("persistence failure")

	// ErrConcurrentModification is returned by a store when a compare-and-swap
	// on the tank level finds a different value than the one read.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrLockNotObtained is returned by a Locker that gave up waiting.
	ErrLockNotObtained = errors.New("lock not obtained")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError is a malformed or missing input. The message is meant to be
// shown to the user as is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// ApprovalRequiredError rejects a filling batch submitted without approval.
type ApprovalRequiredError struct {
	BatchNumber string
}

func (e *ApprovalRequiredError) Error() string {
	if e.BatchNumber == "" {
		return "filling must be approved before cylinders are marked full"
	}
	return fmt.Sprintf("filling batch %s must be approved before cylinders are marked full", e.BatchNumber)
}

func (e *ApprovalRequiredError) Unwrap() error { return ErrApprovalRequired }

// StaleSelectionError means a selected cylinder no longer matches the
// precondition the caller selected it under. The caller must re-fetch.
type StaleSelectionError struct {
	CylinderID CylinderID
	Field      string // "status" or "location"
	Expected   string
	Actual     string
}

func (e *StaleSelectionError) Error() string {
	return fmt.Sprintf("cylinder %s: expected %s %q, found %q", e.CylinderID, e.Field, e.Expected, e.Actual)
}

func (e *StaleSelectionError) Unwrap() error { return ErrStaleSelection }

// InsufficientInventoryError means a tank operation would drive the level below zero.
type InsufficientInventoryError struct {
	TankID    TankID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory in tank %s: available %s kg, requested %s kg",
		e.TankID, e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientInventoryError) Unwrap() error { return ErrInsufficientInventory }

// OverCapacityError means a tank operation would drive the level above capacity.
type OverCapacityError struct {
	TankID    TankID
	Capacity  decimal.Decimal
	Resulting decimal.Decimal
}

func (e *OverCapacityError) Error() string {
	return fmt.Sprintf("tank %s over capacity: resulting level %s kg exceeds %s kg",
		e.TankID, e.Resulting.StringFixed(2), e.Capacity.StringFixed(2))
}

func (e *OverCapacityError) Unwrap() error { return ErrOverCapacity }

// AlreadyReversedError is returned on any second reversal of the same row.
type AlreadyReversedError struct {
	Ref        RecordRef
	ReversedAt *time.Time
	ReversedBy string
}

func (e *AlreadyReversedError) Error() string {
	return fmt.Sprintf("%s %s already reversed by %s", e.Ref.Kind, e.Ref.ID, e.ReversedBy)
}

func (e *AlreadyReversedError) Unwrap() error { return ErrAlreadyReversed }

// NotFoundError is an unknown id, or an inactive cylinder where an active one is required.
type NotFoundError struct {
	Kind RecordKind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(kind RecordKind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// PersistenceError wraps a failure of the underlying store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// persistence wraps raw store errors. Domain errors pass through untouched.
func persistence(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

func isDomainError(err error) bool {
	return IsClientError(err) || IsConflict(err) || IsNotFound(err) ||
		errors.Is(err, ErrPersistence) || errors.Is(err, ErrLockNotObtained)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the caller can fix the input and retry.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrApprovalRequired) ||
		errors.Is(err, ErrInsufficientInventory) ||
		errors.Is(err, ErrOverCapacity)
}

// IsConflict returns true if the error reflects state that changed underneath the caller.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStaleSelection) ||
		errors.Is(err, ErrAlreadyReversed) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// readRetry runs an idempotent read, retrying exactly once on a store failure.
// Writes never go through here.
func readRetry[T any](ctx context.Context, op string, read func(context.Context) (T, error)) (T, error) {
	v, err := read(ctx)
	if err == nil || isDomainError(err) || ctx.Err() != nil {
		return v, persistence(op, err)
	}
	v, err = read(ctx)
	return v, persistence(op, err)
}
