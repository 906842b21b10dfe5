package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointforge/loyalty-engine/ledger"
	"github.com/pointforge/loyalty-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*ledger.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	engine := ledger.NewEngine(mem)
	engine.Now = func() time.Time { return testNow }
	return engine, mem
}

func seedMember(t *testing.T, s *store.Memory, id, username, role string, points int) ledger.Member {
	t.Helper()
	m := ledger.Member{
		ID:       ledger.MemberID(id),
		Username: username,
		Name:     username,
		Points:   points,
		Verified: true,
		Role:     role,
	}
	require.NoError(t, s.SaveMember(context.Background(), m))
	return m
}

func balance(t *testing.T, s *store.Memory, id string) int {
	t.Helper()
	m, err := s.GetMember(context.Background(), ledger.MemberID(id))
	require.NoError(t, err)
	require.NotNil(t, m)
	return m.Points
}

// =============================================================================
// PURCHASE TESTS
// =============================================================================

func TestCreatePurchase_BaseRateRounding(t *testing.T) {
	// GIVEN: A member with zero points and no promotions attached
	// WHEN: A cashier records a 19.99 purchase
	// THEN: The member earns round(1999 x 0.04) = 80 points

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedMember(t, mem, "m-1", "alice", "regular", 0)
	cashier := seedMember(t, mem, "c-1", "bob", "cashier", 0)

	tx, err := engine.CreatePurchase(ctx, cashier.Actor(), ledger.PurchaseRequest{
		RecipientRef: "alice",
		Spent:        decimal.RequireFromString("19.99"),
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.KindPurchase, tx.Kind)
	assert.Equal(t, 80, tx.Amount)
	assert.Equal(t, ledger.MemberID("m-1"), tx.ReceivedBy)
	assert.Equal(t, ledger.MemberID("c-1"), tx.CreatedBy)
	assert.Equal(t, 80, balance(t, mem, "m-1"))
}

func TestCreatePurchase_SuspiciousCashierRecordsWithoutCredit(t *testing.T) {
	// GIVEN: A cashier flagged suspicious
	// WHEN: They record a purchase
	// THEN: The record carries the computed amount and the suspicious
	//       flag, but the member's balance does not move

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedMember(t, mem, "m-1", "alice", "regular", 10)
	cashier := seedMember(t, mem, "c-1", "bob", "cashier", 0)
	cashier.Suspicious = true
	require.NoError(t, mem.SaveMember(ctx, cashier))

	tx, err := engine.CreatePurchase(ctx, cashier.Actor(), ledger.PurchaseRequest{
		RecipientRef: "m-1",
		Spent:        decimal.RequireFromString("19.99"),
	})
	require.NoError(t, err)

	assert.True(t, tx.Suspicious)
	assert.Equal(t, 80, tx.Amount)
	assert.Equal(t, 10, balance(t, mem, "m-1"))

	stored, err := mem.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Suspicious)
}

func TestCreatePurchase_RequiresCashierTier(t *testing.T) {
	engine, mem := newTestEngine(t)
	regular := seedMember(t, mem, "m-1", "alice", "regular", 0)

	_, err := engine.CreatePurchase(context.Background(), regular.Actor(), ledger.PurchaseRequest{
		RecipientRef: "alice",
		Spent:        decimal.RequireFromString("10.00"),
	})
	assert.ErrorIs(t, err, ledger.ErrForbidden)
}

func TestCreatePurchase_RejectsNonPositiveSpend(t *testing.T) {
	engine, mem := newTestEngine(t)
	cashier := seedMember(t, mem, "c-1", "bob", "cashier", 0)

	_, err := engine.CreatePurchase(context.Background(), cashier.Actor(), ledger.PurchaseRequest{
		RecipientRef: "bob",
		Spent:        decimal.Zero,
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestCreatePurchase_AppliesPromotions(t *testing.T) {
	// GIVEN: An active automatic promotion at rate 0.01 plus 10 flat points
	// WHEN: A 19.99 purchase requests it
	// THEN: Earned = round(1999 x 0.05) + 10 = 110 and the record links
	//       the promotion

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedMember(t, mem, "m-1", "alice", "regular", 0)
	cashier := seedMember(t, mem, "c-1", "bob", "cashier", 0)
	require.NoError(t, mem.SavePromotion(ctx, ledger.Promotion{
		ID:        "p-1",
		Name:      "double down",
		Kind:      ledger.PromotionAutomatic,
		StartTime: testNow.Add(-time.Hour),
		EndTime:   testNow.Add(time.Hour),
		Rate:      decimal.RequireFromString("0.01"),
		Points:    10,
	}))

	tx, err := engine.CreatePurchase(ctx, cashier.Actor(), ledger.PurchaseRequest{
		RecipientRef: "alice",
		Spent:        decimal.RequireFromString("19.99"),
		PromotionIDs: []ledger.PromotionID{"p-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, 110, tx.Amount)
	assert.Equal(t, []ledger.PromotionID{"p-1"}, tx.PromotionIDs)
	assert.Equal(t, 110, balance(t, mem, "m-1"))
}

func TestCreatePurchase_OneTimePromotionExclusivity(t *testing.T) {
	// GIVEN: A one-time promotion already consumed by the member
	// WHEN: A second purchase requests it
	// THEN: The whole purchase is rejected and nothing is written

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedMember(t, mem, "m-1", "alice", "regular", 0)
	cashier := seedMember(t, mem, "c-1", "bob", "cashier", 0)
	require.NoError(t, mem.SavePromotion(ctx, ledger.Promotion{
		ID:        "p-once",
		Name:      "welcome bonus",
		Kind:      ledger.PromotionOneTime,
		StartTime: testNow.Add(-time.Hour),
		EndTime:   testNow.Add(time.Hour),
		Points:    50,
	}))

	first, err := engine.CreatePurchase(ctx, cashier.Actor(), ledger.PurchaseRequest{
		RecipientRef: "alice",
		Spent:        decimal.RequireFromString("10.00"),
		PromotionIDs: []ledger.PromotionID{"p-once"},
	})
	require.NoError(t, err)
	assert.Equal(t, 90, first.Amount)

	_, err = engine.CreatePurchase(ctx, cashier.Actor(), ledger.PurchaseRequest{
		RecipientRef: "alice",
		Spent:        decimal.RequireFromString("10.00"),
		PromotionIDs: []ledger.PromotionID{"p-once"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrPromotionNotApplicable)

	count, _, err := mem.ListTransactions(ctx, ledger.Filter{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 90, balance(t, mem, "m-1"))
}

// =============================================================================
// ADJUSTMENT TESTS
// =============================================================================

func TestCreateAdjustment_SignedCorrection(t *testing.T) {
	// GIVEN: A member with 80 points from a recorded purchase
	// WHEN: A manager adjusts -30 referencing that purchase
	// THEN: The balance drops to 50 and the original record is untouched

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedMember(t, mem, "m-1", "alice", "regular", 0)
	cashier := seedMember(t, mem, "c-1", "bob", "cashier", 0)
	manager := seedMember(t, mem, "mg-1", "carol", "manager", 0)

	purchase, err := engine.CreatePurchase(ctx, cashier.Actor(), ledger.PurchaseRequest{
		RecipientRef: "alice",
		Spent:        decimal.RequireFromString("19.99"),
	})
	require.NoError(t, err)

	adj, err := engine.CreateAdjustment(ctx, manager.Actor(), ledger.AdjustmentRequest{
		RecipientRef: "alice",
		Amount:       -30,
		RelatedID:    purchase.ID,
		Remark:       "mispriced item",
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.KindAdjustment, adj.Kind)
	assert.Equal(t, -30, adj.Amount)
	assert.Equal(t, string(purchase.ID), adj.RelatedID)
	assert.Empty(t, adj.PromotionIDs)
	assert.Equal(t, 50, balance(t, mem, "m-1"))

	original, err := mem.GetTransaction(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, original.Amount)
}

func TestCreateAdjustment_RejectsOverdraft(t *testing.T) {
	// GIVEN: A member holding 80 points
	// WHEN: A manager adjusts -81
	// THEN: The adjustment is rejected and no record is created

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedMember(t, mem, "m-1", "alice", "regular", 0)
	cashier := seedMember(t, mem, "c-1", "bob", "cashier", 0)
	manager := seedMember(t, mem, "mg-1", "carol", "manager", 0)

	purchase, err := engine.CreatePurchase(ctx, cashier.Actor(), ledger.PurchaseRequest{
		RecipientRef: "alice",
		Spent:        decimal.RequireFromString("19.99"),
	})
	require.NoError(t, err)

	_, err = engine.CreateAdjustment(ctx, manager.Actor(), ledger.AdjustmentRequest{
		RecipientRef: "alice",
		Amount:       -81,
		RelatedID:    purchase.ID,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, 80, balance(t, mem, "m-1"))
}

func TestCreateAdjustment_RequiresManagerTier(t *testing.T) {
	engine, mem := newTestEngine(t)
	cashier := seedMember(t, mem, "c-1", "bob", "cashier", 0)

	_, err := engine.CreateAdjustment(context.Background(), cashier.Actor(), ledger.AdjustmentRequest{
		RecipientRef: "bob",
		Amount:       5,
		RelatedID:    "tx-x",
	})
	assert.ErrorIs(t, err, ledger.ErrForbidden)
}

func TestCreateAdjustment_UnknownRelatedTransaction(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedMember(t, mem, "m-1", "alice", "regular", 10)
	manager := seedMember(t, mem, "mg-1", "carol", "manager", 0)

	_, err := engine.CreateAdjustment(context.Background(), manager.Actor(), ledger.AdjustmentRequest{
		RecipientRef: "alice",
		Amount:       5,
		RelatedID:    "no-such-tx",
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// REDEMPTION TESTS (two-phase)
// =============================================================================

func TestRedemption_TwoPhaseHandshake(t *testing.T) {
	// GIVEN: A member with 100 points who opens a redemption for 60
	// WHEN: A cashier marks it processed
	// THEN: The debit happens at processing time, not request time, and
	//       the record references the processing staff member

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	member := seedMember(t, mem, "m-1", "alice", "regular", 100)
	cashier := seedMember(t, mem, "c-1", "bob", "cashier", 0)

	amount := 60
	req, err := engine.CreateRedemption(ctx, member.Actor(), &amount, "coffee voucher")
	require.NoError(t, err)

	assert.Equal(t, ledger.KindRedemption, req.Kind)
	assert.Empty(t, req.RelatedID)
	assert.Equal(t, 100, balance(t, mem, "m-1"), "no debit at request time")

	processed, err := engine.MarkRedemptionProcessed(ctx, cashier.Actor(), req.ID)
	require.NoError(t, err)

	assert.Equal(t, "c-1", processed.RelatedID)
	assert.Equal(t, 40, balance(t, mem, "m-1"))
}

func TestRedemption_ProcessedExactlyOnce(t *testing.T) {
	// GIVEN: A processed redemption
	// WHEN: A second cashier tries to process it again
	// THEN: The reprocess fails and no second debit happens

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	member := seedMember(t, mem, "m-1", "alice", "regular", 100)
	cashier := seedMember(t, mem, "c-1", "bob", "cashier", 0)
	other := seedMember(t, mem, "c-2", "dave", "cashier", 0)

	amount := 60
	req, err := engine.CreateRedemption(ctx, member.Actor(), &amount, "")
	require.NoError(t, err)
	_, err = engine.MarkRedemptionProcessed(ctx, cashier.Actor(), req.ID)
	require.NoError(t, err)

	_, err = engine.MarkRedemptionProcessed(ctx, other.Actor(), req.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrAlreadyProcessed)
	assert.Equal(t, 40, balance(t, mem, "m-1"))

	stored, err := mem.GetTransaction(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "c-1", stored.RelatedID, "first processor wins")
}

func TestCreateRedemption_RejectsExcessiveAmount(t *testing.T) {
	engine, mem := newTestEngine(t)
	member := seedMember(t, mem, "m-1", "alice", "regular", 50)

	amount := 51
	_, err := engine.CreateRedemption(context.Background(), member.Actor(), &amount, "")
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestCreateRedemption_RequiresVerifiedMember(t *testing.T) {
	engine, mem := newTestEngine(t)
	member := seedMember(t, mem, "m-1", "alice", "regular", 50)
	actor := member.Actor()
	actor.Verified = false

	amount := 10
	_, err := engine.CreateRedemption(context.Background(), actor, &amount, "")
	assert.ErrorIs(t, err, ledger.ErrForbidden)
}

func TestCreateRedemption_NilAmountDefaultsToZero(t *testing.T) {
	engine, mem := newTestEngine(t)
	member := seedMember(t, mem, "m-1", "alice", "regular", 0)

	req, err := engine.CreateRedemption(context.Background(), member.Actor(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, 0, req.Amount)
}

func TestMarkRedemptionProcessed_RejectsOtherKinds(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedMember(t, mem, "m-1", "alice", "regular", 0)
	cashier := seedMember(t, mem, "c-1", "bob", "cashier", 0)

	purchase, err := engine.CreatePurchase(ctx, cashier.Actor(), ledger.PurchaseRequest{
		RecipientRef: "alice",
		Spent:        decimal.RequireFromString("5.00"),
	})
	require.NoError(t, err)

	_, err = engine.MarkRedemptionProcessed(ctx, cashier.Actor(), purchase.ID)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// TRANSFER TESTS
// =============================================================================

func TestCreateTransfer_ConservesPoints(t *testing.T) {
	// GIVEN: Alice with 100 points, Bob with 0
	// WHEN: Alice transfers 50 to Bob
	// THEN: Balances end at 50/50 and the paired records sum to zero,
	//       referencing each other's member

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	alice := seedMember(t, mem, "m-1", "alice", "regular", 100)
	seedMember(t, mem, "m-2", "bob", "regular", 0)

	credit, err := engine.CreateTransfer(ctx, alice.Actor(), "bob", 50, "lunch")
	require.NoError(t, err)

	assert.Equal(t, 50, balance(t, mem, "m-1"))
	assert.Equal(t, 50, balance(t, mem, "m-2"))

	assert.Equal(t, ledger.KindTransfer, credit.Kind)
	assert.Equal(t, 50, credit.Amount)
	assert.Equal(t, ledger.MemberID("m-2"), credit.ReceivedBy)
	assert.Equal(t, "m-1", credit.RelatedID)

	count, txs, err := mem.ListTransactions(ctx, ledger.Filter{Kind: ledger.KindTransfer}, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	assert.Equal(t, 0, txs[0].Amount+txs[1].Amount)
}

func TestCreateTransfer_RejectsInsufficientBalance(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	alice := seedMember(t, mem, "m-1", "alice", "regular", 30)
	seedMember(t, mem, "m-2", "bob", "regular", 0)

	_, err := engine.CreateTransfer(ctx, alice.Actor(), "bob", 31, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	assert.Equal(t, 30, balance(t, mem, "m-1"))
	assert.Equal(t, 0, balance(t, mem, "m-2"))
	count, _, err := mem.ListTransactions(ctx, ledger.Filter{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCreateTransfer_RejectsNonPositiveAmount(t *testing.T) {
	engine, mem := newTestEngine(t)
	alice := seedMember(t, mem, "m-1", "alice", "regular", 30)

	_, err := engine.CreateTransfer(context.Background(), alice.Actor(), "bob", 0, "")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// EVENT AWARD TESTS
// =============================================================================

func seedEvent(t *testing.T, mem *store.Memory, id string, remain int, guests ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mem.SaveEvent(ctx, ledger.Event{
		ID:           ledger.EventID(id),
		Name:         "launch party",
		StartTime:    testNow.Add(-time.Hour),
		EndTime:      testNow.Add(time.Hour),
		PointsRemain: remain,
		Published:    true,
	}))
	for _, g := range guests {
		require.NoError(t, mem.AddGuest(ctx, ledger.EventID(id), ledger.MemberID(g)))
	}
}

func TestCreateEventAward_FanOutConservesPool(t *testing.T) {
	// GIVEN: An event with a 200-point pool and two guests
	// WHEN: A manager awards 100 to all guests
	// THEN: Each guest gains 100, the pool empties, and a further award
	//       fails with no partial effect

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedMember(t, mem, "g-1", "alice", "regular", 0)
	seedMember(t, mem, "g-2", "bob", "regular", 0)
	manager := seedMember(t, mem, "mg-1", "carol", "manager", 0)
	seedEvent(t, mem, "e-1", 200, "g-1", "g-2")

	txs, err := engine.CreateEventAward(ctx, manager.Actor(), "e-1", 100, "")
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, 100, balance(t, mem, "g-1"))
	assert.Equal(t, 100, balance(t, mem, "g-2"))

	event, err := mem.GetEvent(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, 0, event.PointsRemain)
	assert.Equal(t, 200, event.PointsAwarded)

	_, err = engine.CreateEventAward(ctx, manager.Actor(), "e-1", 1, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientPool)
	assert.Equal(t, 100, balance(t, mem, "g-1"))
}

func TestCreateEventAward_SingleGuest(t *testing.T) {
	// GIVEN: An event with two guests
	// WHEN: An organizer awards 30 to one named guest
	// THEN: Only that guest is credited and the pool drops by 30

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedMember(t, mem, "g-1", "alice", "regular", 0)
	seedMember(t, mem, "g-2", "bob", "regular", 0)
	organizer := seedMember(t, mem, "o-1", "carol", "regular", 0)
	seedEvent(t, mem, "e-1", 200, "g-1", "g-2")
	require.NoError(t, mem.AddOrganizer(ctx, "e-1", "o-1"))

	txs, err := engine.CreateEventAward(ctx, organizer.Actor(), "e-1", 30, "alice")
	require.NoError(t, err)
	require.Len(t, txs, 1)

	assert.Equal(t, ledger.KindEventAward, txs[0].Kind)
	assert.Equal(t, "e-1", txs[0].RelatedID)
	assert.Equal(t, 30, balance(t, mem, "g-1"))
	assert.Equal(t, 0, balance(t, mem, "g-2"))

	event, err := mem.GetEvent(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, 170, event.PointsRemain)
}

func TestCreateEventAward_RequiresOrganizerOrManager(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedMember(t, mem, "g-1", "alice", "regular", 0)
	outsider := seedMember(t, mem, "m-9", "mallory", "regular", 0)
	seedEvent(t, mem, "e-1", 200, "g-1")

	_, err := engine.CreateEventAward(context.Background(), outsider.Actor(), "e-1", 10, "")
	assert.ErrorIs(t, err, ledger.ErrForbidden)
}

func TestCreateEventAward_RejectsNonGuest(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedMember(t, mem, "g-1", "alice", "regular", 0)
	seedMember(t, mem, "m-2", "bob", "regular", 0)
	manager := seedMember(t, mem, "mg-1", "carol", "manager", 0)
	seedEvent(t, mem, "e-1", 200, "g-1")

	_, err := engine.CreateEventAward(context.Background(), manager.Actor(), "e-1", 10, "bob")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// SUSPICIOUS-FLAG REVERSAL TESTS
// =============================================================================

func TestReversalDelta(t *testing.T) {
	assert.Equal(t, 0, ledger.ReversalDelta(80, false, false))
	assert.Equal(t, 0, ledger.ReversalDelta(80, true, true))
	assert.Equal(t, -80, ledger.ReversalDelta(80, false, true))
	assert.Equal(t, 80, ledger.ReversalDelta(80, true, false))
}

func TestSetSuspicious_ToggleAppliesReversalOnce(t *testing.T) {
	// GIVEN: A credited purchase of 80 points
	// WHEN: Flagging it suspicious, flagging again, then clearing
	// THEN: The balance moves -80 exactly once and +80 exactly once

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedMember(t, mem, "m-1", "alice", "regular", 0)
	cashier := seedMember(t, mem, "c-1", "bob", "cashier", 0)
	manager := seedMember(t, mem, "mg-1", "carol", "manager", 0)

	purchase, err := engine.CreatePurchase(ctx, cashier.Actor(), ledger.PurchaseRequest{
		RecipientRef: "alice",
		Spent:        decimal.RequireFromString("19.99"),
	})
	require.NoError(t, err)
	require.Equal(t, 80, balance(t, mem, "m-1"))

	flagged, err := engine.SetSuspicious(ctx, manager.Actor(), purchase.ID, true)
	require.NoError(t, err)
	assert.True(t, flagged.Suspicious)
	assert.Equal(t, 0, balance(t, mem, "m-1"))

	// Idempotent: same target state, no further movement.
	again, err := engine.SetSuspicious(ctx, manager.Actor(), purchase.ID, true)
	require.NoError(t, err)
	assert.True(t, again.Suspicious)
	assert.Equal(t, 0, balance(t, mem, "m-1"))

	cleared, err := engine.SetSuspicious(ctx, manager.Actor(), purchase.ID, false)
	require.NoError(t, err)
	assert.False(t, cleared.Suspicious)
	assert.Equal(t, 80, balance(t, mem, "m-1"))
}

func TestSetSuspicious_RejectsReversalBelowZero(t *testing.T) {
	// GIVEN: A member who already transferred away most of a purchase's
	//        credited points
	// WHEN: A manager flags that purchase suspicious
	// THEN: The reversal would push the balance negative and is rejected;
	//       balance and flag stay untouched

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	alice := seedMember(t, mem, "m-1", "alice", "regular", 0)
	seedMember(t, mem, "m-2", "bob", "regular", 0)
	cashier := seedMember(t, mem, "c-1", "carol", "cashier", 0)
	manager := seedMember(t, mem, "mg-1", "dave", "manager", 0)

	purchase, err := engine.CreatePurchase(ctx, cashier.Actor(), ledger.PurchaseRequest{
		RecipientRef: "alice",
		Spent:        decimal.RequireFromString("19.99"),
	})
	require.NoError(t, err)
	_, err = engine.CreateTransfer(ctx, alice.Actor(), "bob", 60, "")
	require.NoError(t, err)
	require.Equal(t, 20, balance(t, mem, "m-1"))

	_, err = engine.SetSuspicious(ctx, manager.Actor(), purchase.ID, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	assert.Equal(t, 20, balance(t, mem, "m-1"))
	stored, err := mem.GetTransaction(ctx, purchase.ID)
	require.NoError(t, err)
	assert.False(t, stored.Suspicious)
}

func TestSetSuspicious_RequiresManagerTier(t *testing.T) {
	engine, mem := newTestEngine(t)
	cashier := seedMember(t, mem, "c-1", "bob", "cashier", 0)

	_, err := engine.SetSuspicious(context.Background(), cashier.Actor(), "tx-1", true)
	assert.ErrorIs(t, err, ledger.ErrForbidden)
}

func TestSetSuspicious_UnknownTransaction(t *testing.T) {
	engine, mem := newTestEngine(t)
	manager := seedMember(t, mem, "mg-1", "carol", "manager", 0)

	_, err := engine.SetSuspicious(context.Background(), manager.Actor(), "tx-nope", true)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
