/*
store.go - Persistence interface consumed by the points-accounting core

PURPOSE:
  Defines the contract between the core and storage. The core never
  performs read-modify-write on balances: every balance change is a
  relative increment applied by the store inside the same atomic unit as
  the transaction-record creation.

CONSISTENCY CONTRACT:
  - CreateTransactions is all-or-nothing (transfer pair, event fan-out).
  - IncrementPoints applies a relative delta and rejects any result below
    zero with ErrInsufficientBalance; two concurrent increments against
    the same member must both be reflected, never last-write-wins.
  - SetTransactionSuspicious and ProcessRedemption are guarded by the
    record's current state at commit time (optimistic concurrency).
  - DebitPool re-checks the remaining budget at commit time.
  - WithTx brackets a multi-step operation in one storage transaction;
    an error from fn rolls everything back.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - ledger/store: in-memory store for tests and demos
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

// Store is the persistence surface the engine and projection consume.
type Store interface {
	// Members
	GetMember(ctx context.Context, id MemberID) (*Member, error)
	GetMemberByUsername(ctx context.Context, username string) (*Member, error)
	SaveMember(ctx context.Context, m Member) error
	// IncrementPoints applies a relative balance change. It fails with
	// ErrInsufficientBalance when the result would be negative, leaving
	// the balance untouched.
	IncrementPoints(ctx context.Context, id MemberID, delta int) error

	// Transactions (append-only; see the two guarded updates below)
	CreateTransaction(ctx context.Context, tx Transaction) error
	CreateTransactions(ctx context.Context, txs []Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	ListTransactions(ctx context.Context, f Filter, page, limit int) (int, []Transaction, error)
	// PromotionUsed reports whether any transaction links the member to
	// the promotion (one-time exclusivity check).
	PromotionUsed(ctx context.Context, promotion PromotionID, member MemberID) (bool, error)
	// SetTransactionSuspicious flips the flag only if the stored value
	// still equals current; otherwise ErrConcurrentModification.
	SetTransactionSuspicious(ctx context.Context, id TransactionID, current, next bool) error
	// ProcessRedemption sets the processing staff reference only if the
	// record is still unprocessed; otherwise ErrConcurrentModification.
	ProcessRedemption(ctx context.Context, id TransactionID, staff MemberID) error

	// Promotions
	GetPromotion(ctx context.Context, id PromotionID) (*Promotion, error)
	SavePromotion(ctx context.Context, p Promotion) error
	DeletePromotion(ctx context.Context, id PromotionID) error
	ListPromotions(ctx context.Context, f PromotionFilter, page, limit int) (int, []Promotion, error)

	// Events
	GetEvent(ctx context.Context, id EventID) (*Event, error)
	SaveEvent(ctx context.Context, e Event) error
	DeleteEvent(ctx context.Context, id EventID) error
	ListEvents(ctx context.Context, f EventFilter, page, limit int) (int, []Event, error)
	AddOrganizer(ctx context.Context, event EventID, member MemberID) error
	RemoveOrganizer(ctx context.Context, event EventID, member MemberID) error
	AddGuest(ctx context.Context, event EventID, member MemberID) error
	RemoveGuest(ctx context.Context, event EventID, member MemberID) error
	// DebitPool moves total points from remain to awarded, re-checking
	// remain >= total at commit time (ErrInsufficientPool on overdraft).
	DebitPool(ctx context.Context, id EventID, total int) error
	// SetPoolBudget applies an explicit budget edit: remain becomes
	// budget - awarded. Fails with ErrValidation if budget < awarded.
	SetPoolBudget(ctx context.Context, id EventID, budget int) error
}

// TxStore wraps Store with multi-step atomicity.
type TxStore interface {
	Store

	// WithTx executes fn within one storage transaction. If fn returns an
	// error the transaction rolls back and no partial state is visible.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// LISTING FILTERS (promotions, events)
// =============================================================================

// PromotionFilter selects promotions for listing. All set fields AND
// together. Started/Ended and Active are evaluated against Now.
// Active+UnusedBy implement the member-facing view: only in-window
// promotions the member has not consumed.
type PromotionFilter struct {
	Name     string
	Kind     PromotionKind
	Started  *bool
	Ended    *bool
	Active   bool
	UnusedBy MemberID
	Now      time.Time
}

// EventFilter selects events for listing. Started/Ended are evaluated
// against Now.
type EventFilter struct {
	Name        string
	Location    string
	Started     *bool
	Ended       *bool
	Published   *bool
	ExcludeFull bool
	Now         time.Time
}
