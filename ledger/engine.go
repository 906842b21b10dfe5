/*
engine.go - Ledger Engine: the state machine over transaction kinds

PURPOSE:
  The Engine is the only writer of member balances and transaction
  records. For each mutating operation it validates preconditions,
  consults the Promotion Resolver (purchase) or the Event Points Pool
  (event award), and issues the storage writes inside one transaction.

BALANCE RULES PER KIND:
  purchase    +round(spent x 100 x rate) + flat, unless the creating
              cashier is flagged suspicious (recorded, not credited)
  adjustment  +signed amount, result must stay >= 0
  redemption  no effect at request time; debit on mark-processed
  transfer    atomic pair: recipient +amount, sender -amount
  event       +amountPerGuest per recipient, pool debited by the total

RETROACTIVE MUTATIONS:
  Exactly two exist, each guarded by the record's state at commit time:
  - SetSuspicious: flips the flag and applies ReversalDelta once
  - MarkRedemptionProcessed: sets processed-by and debits the balance

FAILURE SEMANTICS:
  Every rejection happens before any write. WithTx guarantees that a
  storage failure mid-group leaves the ledger unchanged.

SEE ALSO:
  - promotion.go: purchase bonus resolution
  - pool.go: event allocation planning
  - projection.go: read-side rendering of what this file writes
*/
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type timeFunc func() time.Time

// Engine executes every balance-mutating operation of the platform.
type Engine struct {
	store TxStore

	// Now is the engine's clock. Tests override it to pin promotion
	// windows.
	Now timeFunc
}

func NewEngine(store TxStore) *Engine {
	return &Engine{store: store, Now: time.Now}
}

// =============================================================================
// REQUESTS
// =============================================================================

// PurchaseRequest records a monetary purchase for a member.
type PurchaseRequest struct {
	RecipientRef string // member id or username
	Spent        decimal.Decimal
	PromotionIDs []PromotionID
	Remark       string
}

// AdjustmentRequest corrects a prior record by a signed point amount.
// Adjustments never link promotions: a member-promotion link is what
// consumes a one-time promotion, and only the purchase path validates
// and applies them.
type AdjustmentRequest struct {
	RecipientRef string
	Amount       int
	RelatedID    TransactionID
	Remark       string
}

// =============================================================================
// PURCHASE
// =============================================================================

// CreatePurchase records a purchase and credits the earned points to the
// recipient, unless the creating cashier is themselves flagged
// suspicious, in which case the record is stored with the computed
// amount but no credit happens. The record's suspicious flag is copied
// from the cashier, not the recipient.
func (e *Engine) CreatePurchase(ctx context.Context, actor Actor, req PurchaseRequest) (*Transaction, error) {
	if !actor.AtLeast(TierCashier) {
		return nil, ErrForbidden
	}
	if !req.Spent.IsPositive() {
		return nil, &ValidationError{Field: "spent", Reason: "must be positive"}
	}

	var created Transaction
	err := e.store.WithTx(ctx, func(s Store) error {
		member, err := resolveMember(ctx, s, req.RecipientRef)
		if err != nil {
			return err
		}

		resolution, err := NewResolver(s).Resolve(ctx, member.ID, req.Spent, req.PromotionIDs, e.Now)
		if err != nil {
			return err
		}
		earned := resolution.Earned(req.Spent)

		created = Transaction{
			ID:           e.newID(),
			Kind:         KindPurchase,
			Amount:       earned,
			Spent:        req.Spent,
			Remark:       req.Remark,
			Suspicious:   actor.Suspicious,
			ReceivedBy:   member.ID,
			CreatedBy:    actor.ID,
			PromotionIDs: resolution.AppliedIDs(),
			CreatedAt:    e.Now(),
		}
		if err := s.CreateTransaction(ctx, created); err != nil {
			return err
		}
		if actor.Suspicious {
			return nil
		}
		return s.IncrementPoints(ctx, member.ID, earned)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// =============================================================================
// ADJUSTMENT
// =============================================================================

// CreateAdjustment applies a signed correction to a member's balance,
// referencing the transaction being corrected. The referenced record is
// not altered. The resulting balance must stay non-negative.
func (e *Engine) CreateAdjustment(ctx context.Context, actor Actor, req AdjustmentRequest) (*Transaction, error) {
	if !actor.AtLeast(TierManager) {
		return nil, ErrForbidden
	}

	var created Transaction
	err := e.store.WithTx(ctx, func(s Store) error {
		member, err := resolveMember(ctx, s, req.RecipientRef)
		if err != nil {
			return err
		}
		if member.Points+req.Amount < 0 {
			return &InsufficientBalanceError{
				Member:    member.ID,
				Available: member.Points,
				Requested: -req.Amount,
			}
		}
		related, err := s.GetTransaction(ctx, req.RelatedID)
		if err != nil {
			return err
		}
		if related == nil {
			return ErrNotFound
		}

		created = Transaction{
			ID:         e.newID(),
			Kind:       KindAdjustment,
			Amount:     req.Amount,
			RelatedID:  string(related.ID),
			Remark:     req.Remark,
			ReceivedBy: member.ID,
			CreatedBy:  actor.ID,
			CreatedAt:  e.Now(),
		}
		if err := s.CreateTransaction(ctx, created); err != nil {
			return err
		}
		return s.IncrementPoints(ctx, member.ID, req.Amount)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// =============================================================================
// REDEMPTION (two-phase)
// =============================================================================

// CreateRedemption opens an unprocessed redemption for the actor's own
// balance. No points move yet; the member can present the record (e.g.
// as a scannable reference) before a cashier commits the debit. The
// requested amount must not exceed the balance at request time. A nil
// amount defaults to zero.
func (e *Engine) CreateRedemption(ctx context.Context, actor Actor, amount *int, remark string) (*Transaction, error) {
	if !actor.Verified {
		return nil, ErrForbidden
	}
	requested := 0
	if amount != nil {
		if *amount < 0 {
			return nil, &ValidationError{Field: "amount", Reason: "must be non-negative"}
		}
		requested = *amount
	}

	var created Transaction
	err := e.store.WithTx(ctx, func(s Store) error {
		member, err := s.GetMember(ctx, actor.ID)
		if err != nil {
			return err
		}
		if member == nil {
			return ErrNotFound
		}
		if requested > member.Points {
			return &InsufficientBalanceError{
				Member:    member.ID,
				Available: member.Points,
				Requested: requested,
			}
		}

		created = Transaction{
			ID:         e.newID(),
			Kind:       KindRedemption,
			Amount:     requested,
			Remark:     remark,
			ReceivedBy: actor.ID,
			CreatedBy:  actor.ID,
			CreatedAt:  e.Now(),
		}
		return s.CreateTransaction(ctx, created)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// MarkRedemptionProcessed completes the handshake: it records the
// processing staff member and debits the stored amount, exactly once.
// The commit-time guard rejects a racing reprocess.
func (e *Engine) MarkRedemptionProcessed(ctx context.Context, actor Actor, id TransactionID) (*Transaction, error) {
	if !actor.AtLeast(TierCashier) {
		return nil, ErrForbidden
	}

	var processed Transaction
	err := e.store.WithTx(ctx, func(s Store) error {
		tx, err := s.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if tx == nil {
			return ErrNotFound
		}
		if tx.Kind != KindRedemption {
			return &ValidationError{Field: "transactionId", Reason: "not a redemption"}
		}
		state, err := tx.Redemption().Process(actor.ID)
		if err != nil {
			return err
		}

		if err := s.ProcessRedemption(ctx, id, state.ProcessedBy); err != nil {
			return err
		}
		if err := s.IncrementPoints(ctx, tx.ReceivedBy, -tx.Amount); err != nil {
			return err
		}

		processed = *tx
		processed.RelatedID = string(state.ProcessedBy)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &processed, nil
}

// =============================================================================
// TRANSFER
// =============================================================================

// CreateTransfer moves points from the actor to another member. The two
// records reference each other through RelatedID and are created
// atomically with both balance changes; their amounts sum to zero.
// Returns the recipient-side (credit) record.
func (e *Engine) CreateTransfer(ctx context.Context, actor Actor, recipientRef string, amount int, remark string) (*Transaction, error) {
	if !actor.Verified {
		return nil, ErrForbidden
	}
	if amount <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be a positive integer"}
	}

	var credit Transaction
	err := e.store.WithTx(ctx, func(s Store) error {
		sender, err := s.GetMember(ctx, actor.ID)
		if err != nil {
			return err
		}
		if sender == nil {
			return ErrNotFound
		}
		recipient, err := resolveMember(ctx, s, recipientRef)
		if err != nil {
			return err
		}
		if sender.Points < amount {
			return &InsufficientBalanceError{
				Member:    sender.ID,
				Available: sender.Points,
				Requested: amount,
			}
		}

		now := e.Now()
		credit = Transaction{
			ID:         e.newID(),
			Kind:       KindTransfer,
			Amount:     amount,
			RelatedID:  string(sender.ID),
			Remark:     remark,
			ReceivedBy: recipient.ID,
			CreatedBy:  sender.ID,
			CreatedAt:  now,
		}
		debit := Transaction{
			ID:         e.newID(),
			Kind:       KindTransfer,
			Amount:     -amount,
			RelatedID:  string(recipient.ID),
			Remark:     remark,
			ReceivedBy: sender.ID,
			CreatedBy:  sender.ID,
			CreatedAt:  now,
		}
		if err := s.CreateTransactions(ctx, []Transaction{credit, debit}); err != nil {
			return err
		}
		if err := s.IncrementPoints(ctx, sender.ID, -amount); err != nil {
			return err
		}
		return s.IncrementPoints(ctx, recipient.ID, amount)
	})
	if err != nil {
		return nil, err
	}
	return &credit, nil
}

// =============================================================================
// EVENT AWARD
// =============================================================================

// CreateEventAward allocates points from an event's pool to one guest or
// to every registered guest. Managers and the event's organizers may
// award. The pool debit, the records, and the balance credits commit
// together or not at all.
func (e *Engine) CreateEventAward(ctx context.Context, actor Actor, eventID EventID, amount int, guestRef string) ([]Transaction, error) {
	var created []Transaction
	err := e.store.WithTx(ctx, func(s Store) error {
		event, err := s.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if event == nil {
			return ErrNotFound
		}
		if !event.ManagedBy(actor) {
			return ErrForbidden
		}

		var guest *Member
		if guestRef != "" {
			guest, err = resolveMember(ctx, s, guestRef)
			if err != nil {
				return err
			}
		}
		plan, err := PlanAllocation(event, guest, amount)
		if err != nil {
			return err
		}

		if err := s.DebitPool(ctx, event.ID, plan.Total); err != nil {
			return err
		}

		now := e.Now()
		txs := make([]Transaction, len(plan.Recipients))
		for i, recipient := range plan.Recipients {
			txs[i] = Transaction{
				ID:         e.newID(),
				Kind:       KindEventAward,
				Amount:     plan.PerGuest,
				RelatedID:  string(event.ID),
				Remark:     event.Description,
				ReceivedBy: recipient.ID,
				CreatedBy:  actor.ID,
				CreatedAt:  now,
			}
		}
		if err := s.CreateTransactions(ctx, txs); err != nil {
			return err
		}
		for _, recipient := range plan.Recipients {
			if err := s.IncrementPoints(ctx, recipient.ID, plan.PerGuest); err != nil {
				return err
			}
		}
		created = txs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// =============================================================================
// SUSPICIOUS-FLAG REVERSAL
// =============================================================================

// ReversalDelta is the pure sign-flip operator behind suspicious-flag
// toggling: turning the flag on subtracts the stored amount from the
// recipient, turning it off adds it back, and setting it to its current
// value changes nothing.
func ReversalDelta(amount int, was, now bool) int {
	switch {
	case was == now:
		return 0
	case now:
		return -amount
	default:
		return amount
	}
}

// SetSuspicious flips a transaction's suspicious flag and applies the
// reversal delta to the recipient's balance exactly once. Toggling to
// the current value is a no-op. The flag update is guarded against a
// racing toggle of the same record.
func (e *Engine) SetSuspicious(ctx context.Context, actor Actor, id TransactionID, suspicious bool) (*Transaction, error) {
	if !actor.AtLeast(TierManager) {
		return nil, ErrForbidden
	}

	var updated Transaction
	err := e.store.WithTx(ctx, func(s Store) error {
		tx, err := s.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if tx == nil {
			return ErrNotFound
		}

		updated = *tx
		delta := ReversalDelta(tx.Amount, tx.Suspicious, suspicious)
		if delta == 0 {
			return nil
		}

		if err := s.SetTransactionSuspicious(ctx, id, tx.Suspicious, suspicious); err != nil {
			return err
		}
		if err := s.IncrementPoints(ctx, tx.ReceivedBy, delta); err != nil {
			return err
		}
		updated.Suspicious = suspicious
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) newID() TransactionID {
	return TransactionID(uuid.NewString())
}

// resolveMember looks a member up by id first, then by username.
func resolveMember(ctx context.Context, s Store, ref string) (*Member, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &ValidationError{Field: "recipient", Reason: "missing"}
	}
	m, err := s.GetMember(ctx, MemberID(ref))
	if err != nil {
		return nil, err
	}
	if m == nil {
		m, err = s.GetMemberByUsername(ctx, ref)
		if err != nil {
			return nil, err
		}
	}
	if m == nil {
		return nil, ErrNotFound
	}
	return m, nil
}
