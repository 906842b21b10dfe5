/*
Package ledger provides the points-accounting core of the loyalty platform.

PURPOSE:
  This package contains the domain types and the rules that decide, for
  every mutating operation, how a member's point balance changes and which
  transaction records are created. It owns the invariants the rest of the
  system relies on:
  - A member's balance is an accumulator mutated only by the Engine,
    never recomputed from scratch.
  - Transactions are append-only; the only post-creation mutations are
    the suspicious flag and a redemption's processed-by reference, each
    with a defined balance side effect.
  - Multi-row writes (transfer pair, event fan-out) are all-or-nothing.

KEY CONCEPTS IN THIS FILE (types.go):
  - Member: identity plus a non-negative integer point balance
  - Transaction: an immutable ledger entry, one of five kinds
  - RedemptionState: the Unprocessed/Processed(by) sub-state of a
    redemption, with a total transition function
  - Promotion: temporal bonus windows (automatic or one-time)
  - Event: an awardable points budget with organizers and guests
  - Actor / Tier: the acting member and their privilege level

DESIGN PRINCIPLES:
  1. Precision: monetary amounts use decimal.Decimal, never float64
  2. Integer points: balances and transaction amounts are whole points
  3. Type safety: distinct ID types prevent mixing members/events/etc.
  4. Explicit state: redemption processing is a tagged state, not an
     overloaded nullable field

SEE ALSO:
  - engine.go: balance mutation rules per transaction kind
  - promotion.go: promotion validity and bonus resolution
  - pool.go: event points budget allocation
  - projection.go: read-side view shaping and filtering
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MemberID string
type TransactionID string
type PromotionID string
type EventID string

// =============================================================================
// PRIVILEGE TIERS
// =============================================================================

// Tier is the acting member's privilege level. Tiers are ordered; an
// operation that requires TierCashier accepts any tier at or above it.
type Tier int

const (
	TierRegular Tier = iota
	TierCashier
	TierManager
	TierSuperuser
)

func (t Tier) String() string {
	switch t {
	case TierCashier:
		return "cashier"
	case TierManager:
		return "manager"
	case TierSuperuser:
		return "superuser"
	default:
		return "regular"
	}
}

// ParseTier maps a stored role name to a Tier. Unknown roles are regular.
func ParseTier(role string) Tier {
	switch role {
	case "cashier":
		return TierCashier
	case "manager":
		return TierManager
	case "superuser":
		return TierSuperuser
	default:
		return TierRegular
	}
}

// Actor is the authenticated member on whose behalf an engine operation
// runs. The identity layer resolves it; the engine only consumes it.
type Actor struct {
	ID         MemberID
	Username   string
	Tier       Tier
	Suspicious bool
	Verified   bool
}

// AtLeast reports whether the actor holds the given tier or higher.
func (a Actor) AtLeast(t Tier) bool { return a.Tier >= t }

// =============================================================================
// MEMBER
// =============================================================================

// Member is a loyalty program member. Points is mutated exclusively by
// the Engine via relative increments; it never goes negative.
type Member struct {
	ID           MemberID
	Username     string
	Name         string
	Email        string
	PasswordHash string
	Points       int
	Suspicious   bool
	Verified     bool
	Role         string
	CreatedAt    time.Time
}

// Actor converts a member record into an acting identity.
func (m Member) Actor() Actor {
	return Actor{
		ID:         m.ID,
		Username:   m.Username,
		Tier:       ParseTier(m.Role),
		Suspicious: m.Suspicious,
		Verified:   m.Verified,
	}
}

// =============================================================================
// TRANSACTION
// =============================================================================

type TransactionKind string

const (
	KindPurchase   TransactionKind = "purchase"   // points earned from a monetary purchase
	KindAdjustment TransactionKind = "adjustment" // staff correction referencing a prior record
	KindRedemption TransactionKind = "redemption" // two-phase: requested, then processed
	KindTransfer   TransactionKind = "transfer"   // one half of an atomic member-to-member pair
	KindEventAward TransactionKind = "event"      // allocation from an event's points pool
)

// ValidKind reports whether s names a transaction kind.
func ValidKind(s string) bool {
	switch TransactionKind(s) {
	case KindPurchase, KindAdjustment, KindRedemption, KindTransfer, KindEventAward:
		return true
	}
	return false
}

// Transaction is an immutable ledger record. Amount, Kind and ReceivedBy
// never change after creation; Suspicious and (for redemptions) RelatedID
// are the only fields the engine updates later, each with a defined
// balance side effect.
//
// RelatedID's meaning depends on Kind:
//   adjustment: the corrected transaction's id
//   transfer:   the counterpart member's id
//   redemption: the processing staff member's id (empty until processed)
//   event:      the awarding event's id
type Transaction struct {
	ID           TransactionID
	Kind         TransactionKind
	Amount       int             // signed points; meaning depends on Kind
	Spent        decimal.Decimal // monetary spend, purchase only
	RelatedID    string
	Remark       string
	Suspicious   bool
	ReceivedBy   MemberID
	CreatedBy    MemberID
	PromotionIDs []PromotionID
	CreatedAt    time.Time
}

// UsedPromotion reports whether this record links its recipient to the
// given promotion. One-time promotion exclusivity is defined in terms of
// the existence of such a link.
func (t Transaction) UsedPromotion(id PromotionID) bool {
	for _, p := range t.PromotionIDs {
		if p == id {
			return true
		}
	}
	return false
}

// =============================================================================
// REDEMPTION STATE
// =============================================================================

// RedemptionState is the explicit Unprocessed/Processed(by) sub-state of
// a redemption transaction. The zero value is Unprocessed.
type RedemptionState struct {
	ProcessedBy MemberID
}

func (s RedemptionState) Processed() bool { return s.ProcessedBy != "" }

// Process is the total transition function for the two-phase redemption
// handshake. It fails on an already-processed state; the balance debit
// happens exactly when this transition succeeds.
func (s RedemptionState) Process(staff MemberID) (RedemptionState, error) {
	if s.Processed() {
		return s, ErrAlreadyProcessed
	}
	return RedemptionState{ProcessedBy: staff}, nil
}

// Redemption returns the record's redemption sub-state. Only meaningful
// when Kind is KindRedemption.
func (t Transaction) Redemption() RedemptionState {
	return RedemptionState{ProcessedBy: MemberID(t.RelatedID)}
}

// =============================================================================
// PROMOTION
// =============================================================================

type PromotionKind string

const (
	PromotionAutomatic PromotionKind = "automatic" // reusable within its window
	PromotionOneTime   PromotionKind = "one-time"  // at most once per member, ever
)

// Promotion is a bonus rule with a temporal validity window [Start, End).
// Rate is a fractional bonus added to the base earn rate; Points is a
// flat bonus. MinSpending, when set, gates application (not validity).
type Promotion struct {
	ID          PromotionID
	Name        string
	Description string
	Kind        PromotionKind
	StartTime   time.Time
	EndTime     time.Time
	MinSpending *decimal.Decimal
	Rate        decimal.Decimal
	Points      int
	CreatedAt   time.Time
}

// ActiveAt reports whether now falls inside [StartTime, EndTime).
func (p Promotion) ActiveAt(now time.Time) bool {
	return !now.Before(p.StartTime) && now.Before(p.EndTime)
}

// Applicable reports whether the promotion's minimum-spend gate (if any)
// is satisfied by the given purchase amount.
func (p Promotion) Applicable(spent decimal.Decimal) bool {
	return p.MinSpending == nil || spent.GreaterThanOrEqual(*p.MinSpending)
}

// =============================================================================
// EVENT
// =============================================================================

// Event carries an awardable points budget. The invariant
// PointsRemain + PointsAwarded == budget holds across awards; only an
// explicit budget edit by a manager changes the sum.
type Event struct {
	ID            EventID
	Name          string
	Description   string
	Location      string
	StartTime     time.Time
	EndTime       time.Time
	Capacity      *int
	PointsRemain  int
	PointsAwarded int
	Published     bool
	Organizers    []Member
	Guests        []Member
	CreatedAt     time.Time
}

func (e Event) IsOrganizer(id MemberID) bool {
	for _, m := range e.Organizers {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (e Event) IsGuest(id MemberID) bool {
	for _, m := range e.Guests {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Full reports whether the guest list has reached capacity.
func (e Event) Full() bool {
	return e.Capacity != nil && len(e.Guests) >= *e.Capacity
}

// ManagedBy reports whether the actor may run awards against this event:
// managers and above always, organizers for their own events.
func (e Event) ManagedBy(a Actor) bool {
	return a.AtLeast(TierManager) || e.IsOrganizer(a.ID)
}
