/*
pool.go - Event Points Pool

PURPOSE:
  Tracks an event's awardable points budget and plans allocations from
  it. Planning is pure: given the event's current guest list and pool, it
  produces the recipients and the total debit, or fails. The Engine turns
  an accepted plan into EVENT_AWARD records and the pool debit inside one
  storage transaction.

INVARIANT:
  PointsRemain + PointsAwarded is constant across awards. Only an
  explicit budget edit (EditBudget, manager-only, rejected once awards
  would be stranded) changes the sum.
*/
package ledger

// Allocation is an accepted award plan: who gets points and how much
// leaves the pool.
type Allocation struct {
	Event      EventID
	Recipients []Member
	PerGuest   int
	Total      int
}

// PlanAllocation decides an event award. If guest is non-nil it must be
// a registered guest and receives perGuest points; if nil the award fans
// out to every current guest at perGuest each. Fails with
// InsufficientPoolError when the total exceeds the remaining budget.
//
// Capacity and guest-list races with concurrent organizer edits are not
// re-checked here; the pool debit is the only commit-time guard.
func PlanAllocation(event *Event, guest *Member, perGuest int) (Allocation, error) {
	if perGuest <= 0 {
		return Allocation{}, &ValidationError{Field: "amount", Reason: "must be a positive integer"}
	}

	var recipients []Member
	if guest != nil {
		if !event.IsGuest(guest.ID) {
			return Allocation{}, &ValidationError{Field: "guest", Reason: "not registered for this event"}
		}
		recipients = []Member{*guest}
	} else {
		recipients = event.Guests
	}

	total := perGuest * len(recipients)
	if total > event.PointsRemain {
		return Allocation{}, &InsufficientPoolError{
			Event:     event.ID,
			Remain:    event.PointsRemain,
			Requested: total,
		}
	}

	return Allocation{
		Event:      event.ID,
		Recipients: recipients,
		PerGuest:   perGuest,
		Total:      total,
	}, nil
}

// EditBudget validates an explicit points-budget edit and returns the new
// remaining pool. The budget can never drop below what has already been
// awarded.
func EditBudget(event *Event, budget int) (remain int, err error) {
	if budget < 0 {
		return 0, &ValidationError{Field: "points", Reason: "must be non-negative"}
	}
	if budget < event.PointsAwarded {
		return 0, &ValidationError{Field: "points", Reason: "below points already awarded"}
	}
	return budget - event.PointsAwarded, nil
}
