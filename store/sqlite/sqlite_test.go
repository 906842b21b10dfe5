package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointforge/loyalty-engine/ledger"
	"github.com/pointforge/loyalty-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedMember(t *testing.T, store *sqlite.Store, id, username string, points int) {
	err := store.SaveMember(context.Background(), ledger.Member{
		ID:       ledger.MemberID(id),
		Username: username,
		Name:     username,
		Points:   points,
		Verified: true,
		Role:     "regular",
	})
	require.NoError(t, err)
}

func purchaseTx(id, recipient, creator string, amount int, spent string) ledger.Transaction {
	return ledger.Transaction{
		ID:         ledger.TransactionID(id),
		Kind:       ledger.KindPurchase,
		Amount:     amount,
		Spent:      decimal.RequireFromString(spent),
		ReceivedBy: ledger.MemberID(recipient),
		CreatedBy:  ledger.MemberID(creator),
		CreatedAt:  time.Now().UTC(),
	}
}

// =============================================================================
// BALANCE INCREMENT TESTS
// =============================================================================

func TestIncrementPoints_RelativeDelta(t *testing.T) {
	// GIVEN: A member with 100 points
	// WHEN: Applying +30 then -50
	// THEN: Balance reflects both deltas

	store := newTestStore(t)
	ctx := context.Background()
	seedMember(t, store, "m-1", "alice", 0)

	require.NoError(t, store.IncrementPoints(ctx, "m-1", 100))
	require.NoError(t, store.IncrementPoints(ctx, "m-1", 30))
	require.NoError(t, store.IncrementPoints(ctx, "m-1", -50))

	m, err := store.GetMember(ctx, "m-1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 80, m.Points)
}

func TestIncrementPoints_RejectsOverdraft(t *testing.T) {
	// GIVEN: A member with 40 points
	// WHEN: Debiting 41
	// THEN: The increment fails and the balance is untouched

	store := newTestStore(t)
	ctx := context.Background()
	seedMember(t, store, "m-1", "alice", 40)

	err := store.IncrementPoints(ctx, "m-1", -41)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	var insufficient *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 40, insufficient.Available)

	m, err := store.GetMember(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, 40, m.Points)
}

func TestIncrementPoints_UnknownMember(t *testing.T) {
	store := newTestStore(t)

	err := store.IncrementPoints(context.Background(), "nobody", 10)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// GUARDED UPDATE TESTS
// =============================================================================

func TestSetTransactionSuspicious_CurrentStateGuard(t *testing.T) {
	// GIVEN: A non-suspicious purchase record
	// WHEN: Flipping with the correct expected state, then again with a
	//       stale expectation
	// THEN: The first flip lands, the stale one loses the race

	store := newTestStore(t)
	ctx := context.Background()
	seedMember(t, store, "m-1", "alice", 0)
	seedMember(t, store, "c-1", "carol", 0)
	require.NoError(t, store.CreateTransaction(ctx, purchaseTx("tx-1", "m-1", "c-1", 80, "19.99")))

	require.NoError(t, store.SetTransactionSuspicious(ctx, "tx-1", false, true))

	err := store.SetTransactionSuspicious(ctx, "tx-1", false, true)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	err = store.SetTransactionSuspicious(ctx, "missing", false, true)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestProcessRedemption_ExactlyOnce(t *testing.T) {
	// GIVEN: An unprocessed redemption
	// WHEN: Two cashiers try to claim it
	// THEN: Only the first claim succeeds

	store := newTestStore(t)
	ctx := context.Background()
	seedMember(t, store, "m-1", "alice", 0)
	require.NoError(t, store.CreateTransaction(ctx, ledger.Transaction{
		ID:         "rdm-1",
		Kind:       ledger.KindRedemption,
		Amount:     -500,
		ReceivedBy: "m-1",
		CreatedBy:  "m-1",
		CreatedAt:  time.Now().UTC(),
	}))

	require.NoError(t, store.ProcessRedemption(ctx, "rdm-1", "staff-1"))

	err := store.ProcessRedemption(ctx, "rdm-1", "staff-2")
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	tx, err := store.GetTransaction(ctx, "rdm-1")
	require.NoError(t, err)
	assert.Equal(t, "staff-1", tx.RelatedID)
}

func TestDebitPool_CommitTimeCheck(t *testing.T) {
	// GIVEN: An event with 200 remaining points
	// WHEN: Debiting 150, then 100
	// THEN: The second debit fails with the pool error and remain is 50

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveEvent(ctx, ledger.Event{
		ID:           "ev-1",
		Name:         "launch party",
		StartTime:    time.Now(),
		EndTime:      time.Now().Add(2 * time.Hour),
		PointsRemain: 200,
	}))
	// points_remain is owned by DebitPool/SetPoolBudget after creation.
	require.NoError(t, store.SetPoolBudget(ctx, "ev-1", 200))

	require.NoError(t, store.DebitPool(ctx, "ev-1", 150))

	err := store.DebitPool(ctx, "ev-1", 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientPool)

	var pool *ledger.InsufficientPoolError
	require.ErrorAs(t, err, &pool)
	assert.Equal(t, 50, pool.Remain)

	ev, err := store.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, 50, ev.PointsRemain)
	assert.Equal(t, 150, ev.PointsAwarded)
}

func TestSetPoolBudget_MustCoverAwarded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveEvent(ctx, ledger.Event{
		ID:           "ev-1",
		Name:         "gala",
		StartTime:    time.Now(),
		EndTime:      time.Now().Add(time.Hour),
		PointsRemain: 500,
	}))
	require.NoError(t, store.SetPoolBudget(ctx, "ev-1", 500))
	require.NoError(t, store.DebitPool(ctx, "ev-1", 300))

	// Raising the budget adjusts remain relative to what was awarded.
	require.NoError(t, store.SetPoolBudget(ctx, "ev-1", 800))
	ev, err := store.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, 500, ev.PointsRemain)

	// Shrinking below the awarded total is rejected.
	err = store.SetPoolBudget(ctx, "ev-1", 200)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// TRANSACTIONAL ATOMICITY TESTS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A sender with 50 points
	// WHEN: A transfer-shaped unit credits the recipient but fails the
	//       sender's debit
	// THEN: Neither the records nor the credit survive

	store := newTestStore(t)
	ctx := context.Background()
	seedMember(t, store, "sender", "alice", 50)
	seedMember(t, store, "recipient", "bob", 0)

	err := store.WithTx(ctx, func(s ledger.Store) error {
		if err := s.CreateTransactions(ctx, []ledger.Transaction{
			{ID: "t-credit", Kind: ledger.KindTransfer, Amount: 80, ReceivedBy: "recipient", CreatedBy: "sender", CreatedAt: time.Now()},
			{ID: "t-debit", Kind: ledger.KindTransfer, Amount: -80, ReceivedBy: "sender", CreatedBy: "sender", CreatedAt: time.Now()},
		}); err != nil {
			return err
		}
		if err := s.IncrementPoints(ctx, "recipient", 80); err != nil {
			return err
		}
		return s.IncrementPoints(ctx, "sender", -80)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	recipient, err := store.GetMember(ctx, "recipient")
	require.NoError(t, err)
	assert.Equal(t, 0, recipient.Points, "credit must roll back")

	tx, err := store.GetTransaction(ctx, "t-credit")
	require.NoError(t, err)
	assert.Nil(t, tx, "records must roll back")
}

// =============================================================================
// LISTING TESTS
// =============================================================================

func TestListTransactions_FiltersAndPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedMember(t, store, "m-1", "alice", 0)
	seedMember(t, store, "m-2", "bob", 0)
	seedMember(t, store, "c-1", "carol", 0)

	base := time.Now().UTC()
	for i, tx := range []ledger.Transaction{
		purchaseTx("tx-1", "m-1", "c-1", 80, "19.99"),
		purchaseTx("tx-2", "m-2", "c-1", 40, "10.00"),
		{ID: "tx-3", Kind: ledger.KindAdjustment, Amount: -20, RelatedID: "tx-1", ReceivedBy: "m-1", CreatedBy: "c-1"},
	} {
		tx.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.CreateTransaction(ctx, tx))
	}

	// Recipient name filter matches username or display name.
	count, txs, err := store.ListTransactions(ctx, ledger.Filter{Name: "alice"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Newest first.
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TransactionID("tx-3"), txs[0].ID)
	assert.Equal(t, ledger.TransactionID("tx-1"), txs[1].ID)

	// relatedId combined with the kind filter.
	count, txs, err = store.ListTransactions(ctx, ledger.Filter{
		Kind: ledger.KindAdjustment, RelatedID: "tx-1",
	}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TransactionID("tx-3"), txs[0].ID)

	// Amount comparison.
	amount := 50
	count, _, err = store.ListTransactions(ctx, ledger.Filter{
		Amount: &amount, Operator: ledger.OpGTE,
	}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Pagination: count is the full match total, results are one page.
	count, txs, err = store.ListTransactions(ctx, ledger.Filter{}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Len(t, txs, 1)
}

func TestListPromotions_ActiveAndUnused(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedMember(t, store, "m-1", "alice", 0)
	seedMember(t, store, "c-1", "carol", 0)

	now := time.Now().UTC()
	require.NoError(t, store.SavePromotion(ctx, ledger.Promotion{
		ID: "p-live", Name: "double points", Kind: ledger.PromotionOneTime,
		StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour),
	}))
	require.NoError(t, store.SavePromotion(ctx, ledger.Promotion{
		ID: "p-over", Name: "spring bonus", Kind: ledger.PromotionAutomatic,
		StartTime: now.Add(-48 * time.Hour), EndTime: now.Add(-24 * time.Hour),
	}))

	count, ps, err := store.ListPromotions(ctx, ledger.PromotionFilter{Active: true, Now: now}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.Len(t, ps, 1)
	assert.Equal(t, ledger.PromotionID("p-live"), ps[0].ID)

	// Once alice consumes p-live it drops out of her unused view.
	tx := purchaseTx("tx-1", "m-1", "c-1", 160, "19.99")
	tx.PromotionIDs = []ledger.PromotionID{"p-live"}
	require.NoError(t, store.CreateTransaction(ctx, tx))

	count, _, err = store.ListPromotions(ctx, ledger.PromotionFilter{
		Active: true, UnusedBy: "m-1", Now: now,
	}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	used, err := store.PromotionUsed(ctx, "p-live", "m-1")
	require.NoError(t, err)
	assert.True(t, used)
}

func TestEventGuests_AddRemove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedMember(t, store, "m-1", "alice", 0)
	seedMember(t, store, "m-2", "bob", 0)
	require.NoError(t, store.SaveEvent(ctx, ledger.Event{
		ID: "ev-1", Name: "meetup",
		StartTime: time.Now(), EndTime: time.Now().Add(time.Hour),
	}))

	require.NoError(t, store.AddGuest(ctx, "ev-1", "m-1"))
	require.NoError(t, store.AddGuest(ctx, "ev-1", "m-2"))
	require.NoError(t, store.AddGuest(ctx, "ev-1", "m-1"), "re-adding is a no-op")
	require.NoError(t, store.AddOrganizer(ctx, "ev-1", "m-2"))

	ev, err := store.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Len(t, ev.Guests, 2)
	assert.True(t, ev.IsOrganizer("m-2"))

	require.NoError(t, store.RemoveGuest(ctx, "ev-1", "m-1"))
	ev, err = store.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Len(t, ev.Guests, 1)

	assert.ErrorIs(t, store.AddGuest(ctx, "missing", "m-1"), ledger.ErrNotFound)
}
