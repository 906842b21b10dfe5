/*
errors.go - Centralized error types for the points-accounting core

PURPOSE:
  All core error categories in one place. Every rejection names the
  violated precondition; all are detected before any write, so a returned
  error implies no transaction and no balance change.

ERROR CATEGORIES:
  1. Validation  - malformed, missing, or out-of-range input
  2. NotFound    - referenced member/transaction/event/promotion absent
  3. Conflict    - promotion already used, invalid promotion for the
                   purchase, redemption already processed
  4. Insufficient- balance would go negative, or event pool overdrawn
  5. Forbidden   - actor lacks the required tier or self-scope

USAGE:
  Callers classify with errors.Is:

    if errors.Is(err, ledger.ErrInsufficientBalance) { ... }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the actor lacks the required privilege
	// tier or is not the record's own recipient where self-scoping applies.
	ErrForbidden = errors.New("forbidden")

	// ErrInsufficientBalance is returned when an operation would drive a
	// member's balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientPool is returned when an event award would exceed the
	// event's remaining points budget.
	ErrInsufficientPool = errors.New("insufficient event points pool")

	// ErrPromotionNotApplicable is returned when a requested promotion id
	// is outside its window, unknown, or already consumed by the member.
	// A single bad id rejects the entire purchase.
	ErrPromotionNotApplicable = errors.New("promotion not applicable")

	// ErrAlreadyProcessed is returned when reprocessing a redemption that
	// has already been processed.
	ErrAlreadyProcessed = errors.New("redemption already processed")

	// ErrConcurrentModification is returned when a two-step operation
	// (suspicious toggle, redemption processing) detects that the record
	// changed between read and commit.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports a balance shortfall.
type InsufficientBalanceError struct {
	Member    MemberID
	Available int
	Requested int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %d, requested %d",
		e.Member, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InsufficientPoolError reports an event points pool overdraft.
type InsufficientPoolError struct {
	Event     EventID
	Remain    int
	Requested int
}

func (e *InsufficientPoolError) Error() string {
	return fmt.Sprintf("insufficient pool for event %s: remain %d, requested %d",
		e.Event, e.Remain, e.Requested)
}

func (e *InsufficientPoolError) Unwrap() error { return ErrInsufficientPool }

// PromotionError reports why a requested promotion id was rejected.
type PromotionError struct {
	Promotion PromotionID
	Member    MemberID
	Reason    string // "unknown", "inactive", "already used"
}

func (e *PromotionError) Error() string {
	return fmt.Sprintf("promotion %s rejected for %s: %s", e.Promotion, e.Member, e.Reason)
}

func (e *PromotionError) Unwrap() error { return ErrPromotionNotApplicable }

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is a caller mistake or state
// conflict rather than an internal fault. Client errors are never retried.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInsufficientPool) ||
		errors.Is(err, ErrPromotionNotApplicable) ||
		errors.Is(err, ErrAlreadyProcessed)
}

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsRetryable reports whether the operation might succeed if retried.
// Only optimistic-concurrency conflicts qualify.
func IsRetryable(err error) bool { return errors.Is(err, ErrConcurrentModification) }
