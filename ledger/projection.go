/*
projection.go - Ledger Query/Projection: read-side shaping

PURPOSE:
  Renders stored transactions into kind-specific views that match the
  write-side semantics exactly. The projection never touches balances;
  it only decides which fields a caller at a given privilege tier sees.

SHAPING RULES:
  - purchase views carry the monetary spend; non-purchase views carry
    the related reference instead
  - the suspicious flag is privileged-only; a non-privileged view of a
    suspicious purchase reports its earned figure as 0 even though the
    stored amount is the full computed value
  - an unprocessed redemption has no related reference yet

FILTERS:
  All filters AND together. relatedId is only meaningful combined with a
  kind filter, and a relational amount comparison requires an operator
  (gte or lte). Pagination is offset/limit over a stable
  reverse-chronological order.
*/
package ledger

import (
	"context"
)

// =============================================================================
// FILTER
// =============================================================================

// Operators accepted by the amount filter.
const (
	OpGTE = "gte"
	OpLTE = "lte"
)

// Filter is the compound transaction-listing predicate. Zero fields are
// inactive; active fields AND together.
type Filter struct {
	// Name matches the recipient's username or display name exactly.
	Name string
	// CreatedBy matches the creator's username or display name exactly.
	CreatedBy string
	Suspicious *bool
	Promotion  PromotionID
	Kind       TransactionKind
	RelatedID  string
	Amount     *int
	Operator   string
	// ReceivedBy scopes the listing to one member's own records.
	ReceivedBy MemberID
}

// Validate enforces the filter's internal dependencies before any query
// runs.
func (f Filter) Validate() error {
	if f.Kind != "" && !ValidKind(string(f.Kind)) {
		return &ValidationError{Field: "type", Reason: "unknown transaction type"}
	}
	if f.RelatedID != "" && f.Kind == "" {
		return &ValidationError{Field: "relatedId", Reason: "requires a type filter"}
	}
	if f.Amount != nil && f.Operator == "" {
		return &ValidationError{Field: "amount", Reason: "requires an operator"}
	}
	if f.Operator != "" && f.Operator != OpGTE && f.Operator != OpLTE {
		return &ValidationError{Field: "operator", Reason: "must be gte or lte"}
	}
	return nil
}

// Matches applies the filter to one record given its recipient and
// creator. Store implementations that cannot push predicates down (the
// in-memory store) evaluate with this; SQL stores must agree with it.
func (f Filter) Matches(tx Transaction, recipient, creator *Member) bool {
	if f.ReceivedBy != "" && tx.ReceivedBy != f.ReceivedBy {
		return false
	}
	if f.Name != "" {
		if recipient == nil || (recipient.Username != f.Name && recipient.Name != f.Name) {
			return false
		}
	}
	if f.CreatedBy != "" {
		if creator == nil || (creator.Username != f.CreatedBy && creator.Name != f.CreatedBy) {
			return false
		}
	}
	if f.Suspicious != nil && tx.Suspicious != *f.Suspicious {
		return false
	}
	if f.Promotion != "" && !tx.UsedPromotion(f.Promotion) {
		return false
	}
	if f.Kind != "" && tx.Kind != f.Kind {
		return false
	}
	if f.RelatedID != "" && tx.RelatedID != f.RelatedID {
		return false
	}
	if f.Amount != nil {
		switch f.Operator {
		case OpGTE:
			if tx.Amount < *f.Amount {
				return false
			}
		case OpLTE:
			if tx.Amount > *f.Amount {
				return false
			}
		}
	}
	return true
}

// NormalizePage applies pagination defaults (page 1, limit 10) and
// returns the offset.
func NormalizePage(page, limit int) (p, l, offset int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	return page, limit, (page - 1) * limit
}

// =============================================================================
// VIEWS
// =============================================================================

// TransactionView is the kind-specific read model of a transaction.
// Field presence depends on the record's kind and the caller's tier.
type TransactionView struct {
	ID           TransactionID   `json:"id"`
	Recipient    string          `json:"recipient"`
	Kind         TransactionKind `json:"type"`
	Spent        *float64        `json:"spent,omitempty"`
	Amount       int             `json:"amount"`
	RelatedID    *string         `json:"relatedId,omitempty"`
	PromotionIDs []PromotionID   `json:"promotionIds"`
	Suspicious   *bool           `json:"suspicious,omitempty"`
	Remark       string          `json:"remark"`
	CreatedBy    string          `json:"createdBy"`
	CreatedAt    string          `json:"createdAt,omitempty"`
}

// TransactionPage is a filtered, paginated listing.
type TransactionPage struct {
	Count   int               `json:"count"`
	Results []TransactionView `json:"results"`
}

// Projection renders stored transactions for callers.
type Projection struct {
	store Store
}

func NewProjection(store Store) *Projection {
	return &Projection{store: store}
}

// render shapes one record. names resolves member ids to usernames and
// may be shared across a page.
func render(tx Transaction, names map[MemberID]string, privileged bool) TransactionView {
	v := TransactionView{
		ID:           tx.ID,
		Recipient:    names[tx.ReceivedBy],
		Kind:         tx.Kind,
		Amount:       tx.Amount,
		PromotionIDs: tx.PromotionIDs,
		Remark:       tx.Remark,
		CreatedBy:    names[tx.CreatedBy],
	}
	if v.PromotionIDs == nil {
		v.PromotionIDs = []PromotionID{}
	}
	if !tx.CreatedAt.IsZero() {
		v.CreatedAt = tx.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}

	switch tx.Kind {
	case KindPurchase:
		spent, _ := tx.Spent.Float64()
		v.Spent = &spent
	default:
		if tx.RelatedID != "" {
			related := tx.RelatedID
			v.RelatedID = &related
		}
	}

	if privileged {
		suspicious := tx.Suspicious
		v.Suspicious = &suspicious
	} else if tx.Kind == KindPurchase && tx.Suspicious {
		// The stored amount stays intact; only the visible figure is zero.
		v.Amount = 0
	}
	return v
}

// Render shapes a single record, resolving the member names it needs.
func (p *Projection) Render(ctx context.Context, tx Transaction, privileged bool) (TransactionView, error) {
	names, err := p.names(ctx, []Transaction{tx})
	if err != nil {
		return TransactionView{}, err
	}
	return render(tx, names, privileged), nil
}

// Get renders one transaction by id.
func (p *Projection) Get(ctx context.Context, id TransactionID, privileged bool) (*TransactionView, error) {
	tx, err := p.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrNotFound
	}
	v, err := p.Render(ctx, *tx, privileged)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// List runs a validated filter with pagination and renders the page.
func (p *Projection) List(ctx context.Context, f Filter, page, limit int, privileged bool) (*TransactionPage, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	page, limit, _ = NormalizePage(page, limit)

	count, txs, err := p.store.ListTransactions(ctx, f, page, limit)
	if err != nil {
		return nil, err
	}
	names, err := p.names(ctx, txs)
	if err != nil {
		return nil, err
	}

	results := make([]TransactionView, len(txs))
	for i, tx := range txs {
		results[i] = render(tx, names, privileged)
	}
	return &TransactionPage{Count: count, Results: results}, nil
}

// names resolves the recipient and creator usernames for a batch of
// records, one lookup per distinct member.
func (p *Projection) names(ctx context.Context, txs []Transaction) (map[MemberID]string, error) {
	names := make(map[MemberID]string)
	for _, tx := range txs {
		for _, id := range []MemberID{tx.ReceivedBy, tx.CreatedBy} {
			if id == "" {
				continue
			}
			if _, ok := names[id]; ok {
				continue
			}
			m, err := p.store.GetMember(ctx, id)
			if err != nil {
				return nil, err
			}
			if m != nil {
				names[id] = m.Username
			}
		}
	}
	return names, nil
}
