package core

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError means a guard failed before any write was attempted.
type ValidationError struct {
	Reason string
	Lines  []string // offending line ids, when the guard is line-specific
}

func (e *ValidationError) Error() string {
	if len(e.Lines) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s (lines: %s)", e.Reason, strings.Join(e.Lines, ", "))
}

// TransitionError means an illegal basket status change was requested.
type TransitionError struct {
	BasketID string
	From     BasketStatus
	To       BasketStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("basket %s cannot move from %s to %s", e.BasketID, e.From, e.To)
}

// ConfigurationError means the status mapping table has no entry for a status.
// It is fatal and must never be replaced by a default.
type ConfigurationError struct {
	Status BasketStatus
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason != "" {
		return "status mapping: " + e.Reason
	}
	return fmt.Sprintf("status mapping has no entry for basket status %q", e.Status)
}

// NotFoundError means an entity vanished between read and write.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// LockedBasketError means a line was touched while its basket no longer accepts edits.
type LockedBasketError struct {
	BasketID string
	Status   BasketStatus
}

func (e *LockedBasketError) Error() string {
	return fmt.Sprintf("basket %s is locked (status %s)", e.BasketID, e.Status)
}

// BatchFailure is one failed item of a batch write.
type BatchFailure struct {
	ID  string
	Err error
}

// PartialBatchError means some writes of a batch failed while others succeeded.
// Step names the stage of the unit of work that stopped: "purge", "redispatch",
// "map" or "persist". Nothing is retried or rolled back.
type PartialBatchError struct {
	Step      string
	Succeeded []string
	Failed    []BatchFailure
}

func (e *PartialBatchError) Error() string {
	ids := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		ids[i] = f.ID
	}
	return fmt.Sprintf("%s: %d of %d writes failed (%s)",
		e.Step, len(e.Failed), len(e.Failed)+len(e.Succeeded), strings.Join(ids, ", "))
}

// Unwrap exposes the per-item causes to errors.Is / errors.As.
func (e *PartialBatchError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f.Err
	}
	return errs
}

// SelectionError is returned by ToggleLineSelection. It wraps the validator's reason
// (a LockedBasketError or ValidationError) or the write failure.
type SelectionError struct {
	BasketID string
	LineID   string
	Err      error
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("line %s of basket %s: %v", e.LineID, e.BasketID, e.Err)
}

func (e *SelectionError) Unwrap() error { return e.Err }

// ReEvaluationError is returned by ReEvaluate.
type ReEvaluationError struct {
	BasketID string
	Updated  int
	Err      error
}

func (e *ReEvaluationError) Error() string {
	return fmt.Sprintf("re-evaluate basket %s (%d updated): %v", e.BasketID, e.Updated, e.Err)
}

func (e *ReEvaluationError) Unwrap() error { return e.Err }

// LockError means the finalization lock over a basket's requests could not be acquired.
type LockError struct {
	RequestIDs []string
	Err        error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("lock requests %s: %v", strings.Join(e.RequestIDs, ", "), e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }
