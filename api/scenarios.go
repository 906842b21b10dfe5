/*
scenarios.go - Demo data seeding

PURPOSE:
  Loads a small, self-consistent demo dataset for local development:
  one member per tier, an active promotion of each kind, and a published
  event with a points budget. Passwords are the usernames; never run
  this against real data.
*/
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pointforge/loyalty-engine/auth"
	"github.com/pointforge/loyalty-engine/ledger"
)

// Seed loads the demo dataset. Existing usernames are left untouched.
func Seed(ctx context.Context, store ledger.TxStore) error {
	members := []ledger.Member{
		{ID: "demo-regular", Username: "riley", Name: "Riley Demo", Role: "regular", Verified: true},
		{ID: "demo-cashier", Username: "casey", Name: "Casey Demo", Role: "cashier", Verified: true},
		{ID: "demo-manager", Username: "morgan", Name: "Morgan Demo", Role: "manager", Verified: true},
		{ID: "demo-superuser", Username: "sam", Name: "Sam Demo", Role: "superuser", Verified: true},
	}
	for _, m := range members {
		existing, err := store.GetMemberByUsername(ctx, m.Username)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		hash, err := auth.HashPassword(m.Username)
		if err != nil {
			return err
		}
		m.PasswordHash = hash
		m.CreatedAt = time.Now().UTC()
		if err := store.SaveMember(ctx, m); err != nil {
			return fmt.Errorf("failed to seed member %s: %w", m.Username, err)
		}
	}

	now := time.Now().UTC()
	minSpending := decimal.NewFromInt(20)
	promotions := []ledger.Promotion{
		{
			ID:          "demo-promo-rate",
			Name:        "double points week",
			Description: "extra 0.04 per dollar all week",
			Kind:        ledger.PromotionAutomatic,
			StartTime:   now.Add(-24 * time.Hour),
			EndTime:     now.Add(6 * 24 * time.Hour),
			Rate:        decimal.NewFromFloat(0.04),
		},
		{
			ID:          "demo-promo-flat",
			Name:        "welcome bonus",
			Description: "50 bonus points on a $20 purchase",
			Kind:        ledger.PromotionOneTime,
			StartTime:   now.Add(-24 * time.Hour),
			EndTime:     now.Add(30 * 24 * time.Hour),
			MinSpending: &minSpending,
			Points:      50,
		},
	}
	for _, p := range promotions {
		existing, err := store.GetPromotion(ctx, p.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		p.CreatedAt = now
		if err := store.SavePromotion(ctx, p); err != nil {
			return fmt.Errorf("failed to seed promotion %s: %w", p.ID, err)
		}
	}

	existing, err := store.GetEvent(ctx, "demo-event")
	if err != nil {
		return err
	}
	if existing == nil {
		capacity := 50
		event := ledger.Event{
			ID:           "demo-event",
			Name:         "launch night",
			Description:  "grand opening celebration",
			Location:     "main hall",
			StartTime:    now.Add(24 * time.Hour),
			EndTime:      now.Add(28 * time.Hour),
			Capacity:     &capacity,
			PointsRemain: 500,
			Published:    true,
			CreatedAt:    now,
		}
		if err := store.SaveEvent(ctx, event); err != nil {
			return fmt.Errorf("failed to seed event: %w", err)
		}
		if err := store.AddOrganizer(ctx, event.ID, "demo-manager"); err != nil {
			return err
		}
		if err := store.AddGuest(ctx, event.ID, "demo-regular"); err != nil {
			return err
		}
	}

	return nil
}
