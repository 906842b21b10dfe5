/*
promotion.go - Promotion Resolver

PURPOSE:
  Given a member, a purchase amount, and the promotion ids a cashier
  attached to the sale, decide which promotions actually apply and what
  the combined earn rate and flat bonus are.

RULES:
  - Every requested id must name a promotion that is currently inside its
    [start, end) window and not already consumed by this member. One bad
    id rejects the whole purchase (all-or-nothing validation).
  - Validated promotions whose minSpending gate is not met are silently
    dropped, not errors. Cashiers attach min-spend tiers optimistically.
  - The combined rate is the fixed base rate plus every applied
    promotion's rate; flat points accumulate separately.
  - Points are computed with a single rounding at the end:
    round(spent_cents x rate) + flat.

SIDE EFFECTS:
  None. The resolver is read-only; the Engine performs the member<->
  promotion linking write when it creates the purchase record.
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// BaseEarnRate is the points-per-cent rate every purchase earns before
// promotions: 4 points per dollar spent.
var BaseEarnRate = decimal.NewFromFloat(0.04)

var cents = decimal.NewFromInt(100)

// Resolution is the outcome of resolving a purchase's promotions.
// Rate already includes the base earn rate.
type Resolution struct {
	Applied     []Promotion
	Rate        decimal.Decimal
	BonusPoints int
}

// AppliedIDs returns the ids of the promotions that made the cut.
func (r Resolution) AppliedIDs() []PromotionID {
	ids := make([]PromotionID, len(r.Applied))
	for i, p := range r.Applied {
		ids[i] = p.ID
	}
	return ids
}

// Earned computes the points a purchase of the given monetary amount
// earns under this resolution. Single rounding at the end, half away
// from zero, matching round(spent x 100 x rate) + flat.
func (r Resolution) Earned(spent decimal.Decimal) int {
	rounded := spent.Mul(cents).Mul(r.Rate).Round(0)
	return int(rounded.IntPart()) + r.BonusPoints
}

// Resolver validates and combines promotions for the purchase path.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve validates every requested promotion id against the member and
// the clock, then applies the minSpending gate. Validation is atomic:
// the first unknown, inactive, or already-used id fails the whole call
// with a PromotionError and nothing is applied.
func (r *Resolver) Resolve(ctx context.Context, member MemberID, spent decimal.Decimal, requested []PromotionID, now timeFunc) (Resolution, error) {
	res := Resolution{Rate: BaseEarnRate}

	for _, id := range requested {
		promo, err := r.store.GetPromotion(ctx, id)
		if err != nil {
			return Resolution{}, err
		}
		if promo == nil {
			return Resolution{}, &PromotionError{Promotion: id, Member: member, Reason: "unknown"}
		}
		if !promo.ActiveAt(now()) {
			return Resolution{}, &PromotionError{Promotion: id, Member: member, Reason: "inactive"}
		}
		used, err := r.store.PromotionUsed(ctx, id, member)
		if err != nil {
			return Resolution{}, err
		}
		if used {
			return Resolution{}, &PromotionError{Promotion: id, Member: member, Reason: "already used"}
		}

		// Valid but below the min-spend tier: dropped, not an error.
		if !promo.Applicable(spent) {
			continue
		}

		res.Rate = res.Rate.Add(promo.Rate)
		res.BonusPoints += promo.Points
		res.Applied = append(res.Applied, *promo)
	}

	return res, nil
}
