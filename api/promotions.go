/*
promotions.go - Promotion management endpoints

ENDPOINTS:
  POST   /api/promotions          Create (manager+)
  GET    /api/promotions          List; regular members see only active
                                  promotions they have not yet used
  GET    /api/promotions/{id}     Single promotion
  PATCH  /api/promotions/{id}     Update (manager+)
  DELETE /api/promotions/{id}     Delete (manager+)
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pointforge/loyalty-engine/ledger"
)

// CreatePromotion creates a promotion window.
func (h *Handler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	var req PromotionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p := ledger.Promotion{
		ID:        ledger.PromotionID(uuid.NewString()),
		CreatedAt: time.Now().UTC(),
	}
	if err := applyPromotionRequest(&p, req, true); err != nil {
		writeLedgerError(w, err)
		return
	}

	if err := h.Store.SavePromotion(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save promotion", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPromotionDTO(p))
}

// ListPromotions lists promotions. Non-managers are pinned to the
// member view: active windows they have not consumed.
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	q := r.URL.Query()

	f := ledger.PromotionFilter{
		Name: q.Get("name"),
		Kind: ledger.PromotionKind(q.Get("type")),
		Now:  time.Now(),
	}
	if actor.AtLeast(ledger.TierManager) {
		if v := q.Get("started"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "started must be a boolean", err)
				return
			}
			f.Started = &b
		}
		if v := q.Get("ended"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "ended must be a boolean", err)
				return
			}
			f.Ended = &b
		}
	} else {
		f.Active = true
		f.UnusedBy = actor.ID
	}

	count, ps, err := h.Store.ListPromotions(r.Context(), f,
		intQuery(q.Get("page")), intQuery(q.Get("limit")))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	page := PromotionPage{Count: count, Results: make([]PromotionDTO, len(ps))}
	for i, p := range ps {
		page.Results[i] = toPromotionDTO(p)
	}
	writeJSON(w, http.StatusOK, page)
}

// GetPromotion returns one promotion. Regular members only see windows
// that are currently active.
func (h *Handler) GetPromotion(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())

	p, err := h.Store.GetPromotion(r.Context(), ledger.PromotionID(chi.URLParam(r, "promotionId")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load promotion", err)
		return
	}
	if p == nil || (!actor.AtLeast(ledger.TierManager) && !p.ActiveAt(time.Now())) {
		writeLedgerError(w, ledger.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toPromotionDTO(*p))
}

// UpdatePromotion patches a promotion's fields.
func (h *Handler) UpdatePromotion(w http.ResponseWriter, r *http.Request) {
	var req PromotionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p, err := h.Store.GetPromotion(r.Context(), ledger.PromotionID(chi.URLParam(r, "promotionId")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load promotion", err)
		return
	}
	if p == nil {
		writeLedgerError(w, ledger.ErrNotFound)
		return
	}

	if err := applyPromotionRequest(p, req, false); err != nil {
		writeLedgerError(w, err)
		return
	}
	if err := h.Store.SavePromotion(r.Context(), *p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save promotion", err)
		return
	}
	writeJSON(w, http.StatusOK, toPromotionDTO(*p))
}

// DeletePromotion removes a promotion that has not yet started. Once
// the window opens, members may have planned around it; it can only be
// ended early via endTime.
func (h *Handler) DeletePromotion(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetPromotion(r.Context(), ledger.PromotionID(chi.URLParam(r, "promotionId")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load promotion", err)
		return
	}
	if p == nil {
		writeLedgerError(w, ledger.ErrNotFound)
		return
	}
	if !p.StartTime.After(time.Now()) {
		writeLedgerError(w, &ledger.ValidationError{Field: "promotion", Reason: "already started"})
		return
	}
	if err := h.Store.DeletePromotion(r.Context(), p.ID); err != nil {
		writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// applyPromotionRequest merges a request into a promotion. On creation
// every required field must be present and the window must open in the
// future. Once a promotion has started it is frozen except for its
// endTime; once it has ended nothing may change.
func applyPromotionRequest(p *ledger.Promotion, req PromotionRequest, creating bool) error {
	if !creating {
		now := time.Now()
		if !p.StartTime.After(now) {
			if req.Name != nil || req.Description != nil || req.Type != nil ||
				req.StartTime != nil || req.MinSpending != nil ||
				req.Rate != nil || req.Points != nil {
				return &ledger.ValidationError{Field: "promotion", Reason: "already started, only endTime may change"}
			}
			if req.EndTime != nil && !p.EndTime.After(now) {
				return &ledger.ValidationError{Field: "endTime", Reason: "promotion has ended"}
			}
		}
	}
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Type != nil {
		kind := ledger.PromotionKind(*req.Type)
		if kind != ledger.PromotionAutomatic && kind != ledger.PromotionOneTime {
			return &ledger.ValidationError{Field: "type", Reason: "must be automatic or one-time"}
		}
		p.Kind = kind
	}
	if req.StartTime != nil {
		t, err := time.Parse(time.RFC3339, *req.StartTime)
		if err != nil {
			return &ledger.ValidationError{Field: "startTime", Reason: "must be RFC 3339"}
		}
		p.StartTime = t
	}
	if req.EndTime != nil {
		t, err := time.Parse(time.RFC3339, *req.EndTime)
		if err != nil {
			return &ledger.ValidationError{Field: "endTime", Reason: "must be RFC 3339"}
		}
		p.EndTime = t
	}
	if req.MinSpending != nil {
		if *req.MinSpending < 0 {
			return &ledger.ValidationError{Field: "minSpending", Reason: "must be non-negative"}
		}
		d := decimal.NewFromFloat(*req.MinSpending)
		p.MinSpending = &d
	}
	if req.Rate != nil {
		if *req.Rate < 0 {
			return &ledger.ValidationError{Field: "rate", Reason: "must be non-negative"}
		}
		p.Rate = decimal.NewFromFloat(*req.Rate)
	}
	if req.Points != nil {
		if *req.Points < 0 {
			return &ledger.ValidationError{Field: "points", Reason: "must be non-negative"}
		}
		p.Points = *req.Points
	}

	if creating {
		if p.Name == "" {
			return &ledger.ValidationError{Field: "name", Reason: "missing"}
		}
		if p.Kind == "" {
			return &ledger.ValidationError{Field: "type", Reason: "missing"}
		}
		if p.StartTime.IsZero() || p.EndTime.IsZero() {
			return &ledger.ValidationError{Field: "startTime", Reason: "window is required"}
		}
		if !p.StartTime.After(time.Now()) {
			return &ledger.ValidationError{Field: "startTime", Reason: "must be in the future"}
		}
	}
	if !p.StartTime.IsZero() && !p.EndTime.IsZero() && !p.EndTime.After(p.StartTime) {
		return &ledger.ValidationError{Field: "endTime", Reason: "must be after startTime"}
	}
	return nil
}
