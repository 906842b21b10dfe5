/*
events.go - Event and points-pool endpoints

ENDPOINTS:
  POST   /api/events                          Create (manager+)
  GET    /api/events                          List; regular members see
                                              published events only
  GET    /api/events/{eventId}                Single event
  PATCH  /api/events/{eventId}                Update (organizer or manager;
                                              budget and publishing manager-only)
  DELETE /api/events/{eventId}                Delete unpublished (manager+)
  POST   /api/events/{eventId}/organizers     Add organizer (manager+)
  DELETE /api/events/{eventId}/organizers/{userId}
  POST   /api/events/{eventId}/guests         Add guest (organizer or manager)
  DELETE /api/events/{eventId}/guests/{userId} (manager+)
  POST   /api/events/{eventId}/guests/me      RSVP
  DELETE /api/events/{eventId}/guests/me      Withdraw RSVP
  POST   /api/events/{eventId}/transactions   Award from the pool
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pointforge/loyalty-engine/ledger"
)

// CreateEvent creates an event with its initial points budget.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !decodeBody(w, r, &req) {
		return
	}

	e := ledger.Event{
		ID:        ledger.EventID(uuid.NewString()),
		CreatedAt: time.Now().UTC(),
	}
	if err := applyEventRequest(&e, req, true); err != nil {
		writeLedgerError(w, err)
		return
	}
	if req.Points != nil {
		e.PointsRemain = *req.Points
	}

	if err := h.Store.SaveEvent(r.Context(), e); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save event", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventDTO(&e, true))
}

// ListEvents lists events. Non-managers only see published ones.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	q := r.URL.Query()
	privileged := actor.AtLeast(ledger.TierManager)

	f := ledger.EventFilter{
		Name:     q.Get("name"),
		Location: q.Get("location"),
		Now:      time.Now(),
	}
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
	if v := q.Get("showFull"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "showFull must be a boolean", err)
			return
		}
		f.ExcludeFull = !b
	}
	if privileged {
		if v := q.Get("published"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "published must be a boolean", err)
				return
			}
			f.Published = &b
		}
	} else {
		published := true
		f.Published = &published
	}

	count, es, err := h.Store.ListEvents(r.Context(), f,
		intQuery(q.Get("page")), intQuery(q.Get("limit")))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	page := EventPage{Count: count, Results: make([]EventDTO, len(es))}
	for i := range es {
		page.Results[i] = toEventDTO(&es[i], privileged)
	}
	writeJSON(w, http.StatusOK, page)
}

// GetEvent returns one event. Organizers see it like managers do;
// everyone else only sees it once published.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	event, ok := h.loadEvent(w, r)
	if !ok {
		return
	}

	privileged := event.ManagedBy(actor)
	if !privileged && !event.Published {
		writeLedgerError(w, ledger.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(event, privileged))
}

// UpdateEvent patches an event. Organizers may edit the descriptive
// fields; the points budget and the published flag stay manager-only.
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req EventRequest
	if !decodeBody(w, r, &req) {
		return
	}

	event, ok := h.loadEvent(w, r)
	if !ok {
		return
	}
	if !event.ManagedBy(actor) {
		writeLedgerError(w, ledger.ErrForbidden)
		return
	}
	if (req.Points != nil || req.Published != nil) && !actor.AtLeast(ledger.TierManager) {
		writeLedgerError(w, ledger.ErrForbidden)
		return
	}

	if err := applyEventRequest(event, req, false); err != nil {
		writeLedgerError(w, err)
		return
	}
	if err := h.Store.SaveEvent(r.Context(), *event); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save event", err)
		return
	}
	if req.Points != nil {
		if err := h.Store.SetPoolBudget(r.Context(), event.ID, *req.Points); err != nil {
			writeLedgerError(w, err)
			return
		}
		event.PointsRemain = *req.Points - event.PointsAwarded
	}
	writeJSON(w, http.StatusOK, toEventDTO(event, true))
}

// DeleteEvent removes an event that was never published.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	event, ok := h.loadEvent(w, r)
	if !ok {
		return
	}
	if event.Published {
		writeError(w, http.StatusBadRequest, "published events cannot be deleted",
			&ledger.ValidationError{Field: "published", Reason: "event is live"})
		return
	}
	if err := h.Store.DeleteEvent(r.Context(), event.ID); err != nil {
		writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ORGANIZERS AND GUESTS
// =============================================================================

type memberRefRequest struct {
	User string `json:"user"`
}

// AddOrganizer registers a member as an event organizer. Organizers
// cannot simultaneously be guests of the same event.
func (h *Handler) AddOrganizer(w http.ResponseWriter, r *http.Request) {
	var req memberRefRequest
	if !decodeBody(w, r, &req) {
		return
	}
	event, member, ok := h.loadEventAndMember(w, r, req.User)
	if !ok {
		return
	}
	if event.IsGuest(member.ID) {
		writeError(w, http.StatusBadRequest, "member is registered as a guest",
			&ledger.ValidationError{Field: "user", Reason: "already a guest"})
		return
	}
	if err := h.Store.AddOrganizer(r.Context(), event.ID, member.ID); err != nil {
		writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) RemoveOrganizer(w http.ResponseWriter, r *http.Request) {
	err := h.Store.RemoveOrganizer(r.Context(),
		ledger.EventID(chi.URLParam(r, "eventId")),
		ledger.MemberID(chi.URLParam(r, "userId")))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddGuest registers a member as a guest on behalf of an organizer.
func (h *Handler) AddGuest(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req memberRefRequest
	if !decodeBody(w, r, &req) {
		return
	}
	event, member, ok := h.loadEventAndMember(w, r, req.User)
	if !ok {
		return
	}
	if !event.ManagedBy(actor) {
		writeLedgerError(w, ledger.ErrForbidden)
		return
	}
	if err := h.registerGuest(w, r, event, member); err != nil {
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// Rsvp registers the caller as a guest of a published event.
func (h *Handler) Rsvp(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	event, ok := h.loadEvent(w, r)
	if !ok {
		return
	}
	if !event.Published {
		writeLedgerError(w, ledger.ErrNotFound)
		return
	}
	member, err := h.Store.GetMember(r.Context(), actor.ID)
	if err != nil || member == nil {
		writeError(w, http.StatusInternalServerError, "failed to load member", err)
		return
	}
	if err := h.registerGuest(w, r, event, member); err != nil {
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// WithdrawRsvp removes the caller from an event's guest list before the
// event has ended.
func (h *Handler) WithdrawRsvp(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	event, ok := h.loadEvent(w, r)
	if !ok {
		return
	}
	if time.Now().After(event.EndTime) {
		writeError(w, http.StatusGone, "event has ended", nil)
		return
	}
	if !event.IsGuest(actor.ID) {
		writeLedgerError(w, ledger.ErrNotFound)
		return
	}
	if err := h.Store.RemoveGuest(r.Context(), event.ID, actor.ID); err != nil {
		writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveGuest removes any guest (manager-only).
func (h *Handler) RemoveGuest(w http.ResponseWriter, r *http.Request) {
	err := h.Store.RemoveGuest(r.Context(),
		ledger.EventID(chi.URLParam(r, "eventId")),
		ledger.MemberID(chi.URLParam(r, "userId")))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// registerGuest applies the shared join rules: the event must not have
// ended, must have room, and organizers cannot double as guests.
func (h *Handler) registerGuest(w http.ResponseWriter, r *http.Request, event *ledger.Event, member *ledger.Member) error {
	if time.Now().After(event.EndTime) {
		writeError(w, http.StatusGone, "event has ended", nil)
		return ledger.ErrValidation
	}
	if event.IsOrganizer(member.ID) {
		writeError(w, http.StatusBadRequest, "member is an organizer",
			&ledger.ValidationError{Field: "user", Reason: "already an organizer"})
		return ledger.ErrValidation
	}
	if !event.IsGuest(member.ID) && event.Full() {
		writeError(w, http.StatusGone, "event is full", nil)
		return ledger.ErrValidation
	}
	if err := h.Store.AddGuest(r.Context(), event.ID, member.ID); err != nil {
		writeLedgerError(w, err)
		return err
	}
	return nil
}

// =============================================================================
// EVENT AWARDS
// =============================================================================

// CreateEventAward allocates points from the event's pool to one guest
// or to all of them.
func (h *Handler) CreateEventAward(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req EventAwardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Type != string(ledger.KindEventAward) {
		writeError(w, http.StatusBadRequest, "type must be event", nil)
		return
	}

	created, err := h.Engine.CreateEventAward(r.Context(), actor,
		ledger.EventID(chi.URLParam(r, "eventId")), req.Amount, req.Guest)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	h.observe(created...)

	views := make([]ledger.TransactionView, len(created))
	for i, tx := range created {
		view, err := h.Projection.Render(r.Context(), tx, actor.AtLeast(ledger.TierManager))
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		views[i] = view
	}
	// A named guest gets a single record back; fan-out gets the batch.
	if req.Guest != "" && len(views) == 1 {
		writeJSON(w, http.StatusCreated, views[0])
		return
	}
	writeJSON(w, http.StatusCreated, views)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) loadEvent(w http.ResponseWriter, r *http.Request) (*ledger.Event, bool) {
	event, err := h.Store.GetEvent(r.Context(), ledger.EventID(chi.URLParam(r, "eventId")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load event", err)
		return nil, false
	}
	if event == nil {
		writeLedgerError(w, ledger.ErrNotFound)
		return nil, false
	}
	return event, true
}

func (h *Handler) loadEventAndMember(w http.ResponseWriter, r *http.Request, ref string) (*ledger.Event, *ledger.Member, bool) {
	event, ok := h.loadEvent(w, r)
	if !ok {
		return nil, nil, false
	}
	member, err := h.Store.GetMember(r.Context(), ledger.MemberID(ref))
	if err == nil && member == nil {
		member, err = h.Store.GetMemberByUsername(r.Context(), ref)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load member", err)
		return nil, nil, false
	}
	if member == nil {
		writeLedgerError(w, ledger.ErrNotFound)
		return nil, nil, false
	}
	return event, member, true
}

// applyEventRequest merges descriptive fields. The points budget and
// published flag are handled by the callers. Once the event has started
// its descriptive fields and capacity are frozen; endTime may still be
// moved until the event ends.
func applyEventRequest(e *ledger.Event, req EventRequest, creating bool) error {
	if !creating {
		now := time.Now()
		if !e.StartTime.After(now) {
			if req.Name != nil || req.Description != nil || req.Location != nil ||
				req.StartTime != nil || req.Capacity != nil {
				return &ledger.ValidationError{Field: "event", Reason: "already started, only endTime may change"}
			}
			if req.EndTime != nil && !e.EndTime.After(now) {
				return &ledger.ValidationError{Field: "endTime", Reason: "event has ended"}
			}
		}
	}
	if req.Name != nil {
		e.Name = *req.Name
	}
	if req.Description != nil {
		e.Description = *req.Description
	}
	if req.Location != nil {
		e.Location = *req.Location
	}
	if req.StartTime != nil {
		t, err := time.Parse(time.RFC3339, *req.StartTime)
		if err != nil {
			return &ledger.ValidationError{Field: "startTime", Reason: "must be RFC 3339"}
		}
		e.StartTime = t
	}
	if req.EndTime != nil {
		t, err := time.Parse(time.RFC3339, *req.EndTime)
		if err != nil {
			return &ledger.ValidationError{Field: "endTime", Reason: "must be RFC 3339"}
		}
		e.EndTime = t
	}
	if req.Capacity != nil {
		if *req.Capacity <= 0 {
			return &ledger.ValidationError{Field: "capacity", Reason: "must be a positive integer"}
		}
		c := *req.Capacity
		e.Capacity = &c
	}
	if req.Published != nil {
		// Publishing is one-way.
		if e.Published && !*req.Published {
			return &ledger.ValidationError{Field: "published", Reason: "cannot unpublish"}
		}
		e.Published = *req.Published
	}

	if creating {
		if e.Name == "" {
			return &ledger.ValidationError{Field: "name", Reason: "missing"}
		}
		if e.StartTime.IsZero() || e.EndTime.IsZero() {
			return &ledger.ValidationError{Field: "startTime", Reason: "window is required"}
		}
		if req.Points == nil || *req.Points < 0 {
			return &ledger.ValidationError{Field: "points", Reason: "must be non-negative"}
		}
	}
	if !e.StartTime.IsZero() && !e.EndTime.IsZero() && !e.EndTime.After(e.StartTime) {
		return &ledger.ValidationError{Field: "endTime", Reason: "must be after startTime"}
	}
	return nil
}
