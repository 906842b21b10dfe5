/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and the ledger core, not in DTOs. DTOs
  are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/projection.go: TransactionView, the transaction read model
*/
package api

import (
	"time"

	"github.com/pointforge/loyalty-engine/ledger"
)

// =============================================================================
// AUTH
// =============================================================================

// LoginRequest exchanges credentials for a session token.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenDTO is a minted session token.
type TokenDTO struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

// =============================================================================
// MEMBERS
// =============================================================================

// CreateMemberRequest registers a new member.
type CreateMemberRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateMemberRequest is the staff-facing member update. Nil fields are
// untouched.
type UpdateMemberRequest struct {
	Email      *string `json:"email,omitempty"`
	Verified   *bool   `json:"verified,omitempty"`
	Suspicious *bool   `json:"suspicious,omitempty"`
	Role       *string `json:"role,omitempty"`
}

// MemberDTO represents a member in API responses. The points balance is
// included only for the member themselves and for staff.
type MemberDTO struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Points     *int   `json:"points,omitempty"`
	Suspicious *bool  `json:"suspicious,omitempty"`
	Verified   bool   `json:"verified"`
	Role       string `json:"role"`
	CreatedAt  string `json:"createdAt,omitempty"`
}

func toMemberDTO(m *ledger.Member, privileged bool) MemberDTO {
	dto := MemberDTO{
		ID:       string(m.ID),
		Username: m.Username,
		Name:     m.Name,
		Verified: m.Verified,
		Role:     m.Role,
	}
	if !m.CreatedAt.IsZero() {
		dto.CreatedAt = m.CreatedAt.UTC().Format(time.RFC3339)
	}
	if privileged {
		dto.Email = m.Email
		points := m.Points
		dto.Points = &points
		suspicious := m.Suspicious
		dto.Suspicious = &suspicious
	}
	return dto
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// CreateTransactionRequest covers both staff-created kinds. Type selects
// which fields matter: "purchase" uses Spent and PromotionIDs,
// "adjustment" uses Amount and RelatedID.
type CreateTransactionRequest struct {
	Recipient    string   `json:"recipient"`
	Type         string   `json:"type"`
	Spent        *float64 `json:"spent,omitempty"`
	Amount       *int     `json:"amount,omitempty"`
	RelatedID    string   `json:"relatedId,omitempty"`
	PromotionIDs []string `json:"promotionIds,omitempty"`
	Remark       string   `json:"remark,omitempty"`
}

// RedemptionRequest opens a redemption against the caller's own balance.
type RedemptionRequest struct {
	Type   string `json:"type"`
	Amount *int   `json:"amount,omitempty"`
	Remark string `json:"remark,omitempty"`
}

// TransferRequest moves points from the caller to the path member.
type TransferRequest struct {
	Type   string `json:"type"`
	Amount int    `json:"amount"`
	Remark string `json:"remark,omitempty"`
}

// EventAwardRequest allocates from the path event's pool. An empty
// Guest fans out to every registered guest.
type EventAwardRequest struct {
	Type   string `json:"type"`
	Amount int    `json:"amount"`
	Guest  string `json:"guest,omitempty"`
}

// SuspiciousRequest sets a transaction's suspicious flag.
type SuspiciousRequest struct {
	Suspicious bool `json:"suspicious"`
}

// =============================================================================
// PROMOTIONS
// =============================================================================

// PromotionRequest creates or updates a promotion. For updates, nil
// fields are untouched.
type PromotionRequest struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Type        *string  `json:"type,omitempty"`
	StartTime   *string  `json:"startTime,omitempty"`
	EndTime     *string  `json:"endTime,omitempty"`
	MinSpending *float64 `json:"minSpending,omitempty"`
	Rate        *float64 `json:"rate,omitempty"`
	Points      *int     `json:"points,omitempty"`
}

// PromotionDTO represents a promotion in API responses.
type PromotionDTO struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	StartTime   string   `json:"startTime"`
	EndTime     string   `json:"endTime"`
	MinSpending *float64 `json:"minSpending,omitempty"`
	Rate        float64  `json:"rate"`
	Points      int      `json:"points"`
}

func toPromotionDTO(p ledger.Promotion) PromotionDTO {
	dto := PromotionDTO{
		ID:          string(p.ID),
		Name:        p.Name,
		Description: p.Description,
		Type:        string(p.Kind),
		StartTime:   p.StartTime.UTC().Format(time.RFC3339),
		EndTime:     p.EndTime.UTC().Format(time.RFC3339),
		Points:      p.Points,
	}
	dto.Rate, _ = p.Rate.Float64()
	if p.MinSpending != nil {
		min, _ := p.MinSpending.Float64()
		dto.MinSpending = &min
	}
	return dto
}

// PromotionPage is a paginated promotion listing.
type PromotionPage struct {
	Count   int            `json:"count"`
	Results []PromotionDTO `json:"results"`
}

// =============================================================================
// EVENTS
// =============================================================================

// EventRequest creates or updates an event. For updates, nil fields are
// untouched; Points edits the pool budget and is manager-only.
type EventRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Location    *string `json:"location,omitempty"`
	StartTime   *string `json:"startTime,omitempty"`
	EndTime     *string `json:"endTime,omitempty"`
	Capacity    *int    `json:"capacity,omitempty"`
	Points      *int    `json:"points,omitempty"`
	Published   *bool   `json:"published,omitempty"`
}

// EventDTO represents an event in API responses. Pool figures are
// privileged; regular members see only the guest count.
type EventDTO struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	Location      string      `json:"location"`
	StartTime     string      `json:"startTime"`
	EndTime       string      `json:"endTime"`
	Capacity      *int        `json:"capacity"`
	PointsRemain  *int        `json:"pointsRemain,omitempty"`
	PointsAwarded *int        `json:"pointsAwarded,omitempty"`
	Published     *bool       `json:"published,omitempty"`
	Organizers    []MemberDTO `json:"organizers"`
	Guests        []MemberDTO `json:"guests,omitempty"`
	GuestCount    int         `json:"numGuests"`
}

func toEventDTO(e *ledger.Event, privileged bool) EventDTO {
	dto := EventDTO{
		ID:          string(e.ID),
		Name:        e.Name,
		Description: e.Description,
		Location:    e.Location,
		StartTime:   e.StartTime.UTC().Format(time.RFC3339),
		EndTime:     e.EndTime.UTC().Format(time.RFC3339),
		Capacity:    e.Capacity,
		Organizers:  make([]MemberDTO, len(e.Organizers)),
		GuestCount:  len(e.Guests),
	}
	for i := range e.Organizers {
		dto.Organizers[i] = toMemberDTO(&e.Organizers[i], false)
	}
	if privileged {
		remain, awarded, published := e.PointsRemain, e.PointsAwarded, e.Published
		dto.PointsRemain = &remain
		dto.PointsAwarded = &awarded
		dto.Published = &published
		dto.Guests = make([]MemberDTO, len(e.Guests))
		for i := range e.Guests {
			dto.Guests[i] = toMemberDTO(&e.Guests[i], false)
		}
	}
	return dto
}

// EventPage is a paginated event listing.
type EventPage struct {
	Count   int        `json:"count"`
	Results []EventDTO `json:"results"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
