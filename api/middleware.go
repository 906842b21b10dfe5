/*
middleware.go - Authentication and error mapping

PURPOSE:
  Bridges HTTP to the ledger core: resolves the Bearer token into a
  ledger.Actor with fresh flags, enforces privilege tiers per route
  group, and maps core errors onto HTTP statuses.

ACTOR RESOLUTION:
  The token carries only identity. Suspicious/verified and the role are
  re-read from storage on every request so a mid-session flag change
  takes effect immediately.

STATUS MAPPING:
  400 validation, insufficient balance/pool, inapplicable promotion
  401 missing/invalid/expired token
  403 tier or self-scope violations
  404 missing records
  409 already-processed redemptions and optimistic-concurrency losses
  500 everything else
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pointforge/loyalty-engine/auth"
	"github.com/pointforge/loyalty-engine/ledger"
)

type contextKey int

const actorKey contextKey = iota

func withActor(ctx context.Context, a ledger.Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

func actorFrom(ctx context.Context) (ledger.Actor, bool) {
	a, ok := ctx.Value(actorKey).(ledger.Actor)
	return a, ok
}

// Authenticate validates the Bearer token and loads the member's current
// record into the request context as a ledger.Actor.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "authentication required", auth.ErrUnauthenticated)
			return
		}

		claims, err := h.Issuer.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid session", err)
			return
		}

		member, err := h.Store.GetMember(r.Context(), ledger.MemberID(claims.MemberID))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load member", err)
			return
		}
		if member == nil {
			writeError(w, http.StatusUnauthorized, "unknown member", auth.ErrUnauthenticated)
			return
		}

		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), member.Actor())))
	})
}

// Instrument records the request count and latency against the matched
// chi route pattern, so path parameters do not explode the label space.
func (h *Handler) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		h.Metrics.ObserveRequest(r.Method, route, ww.Status(), time.Since(start).Seconds())
	})
}

// RequireTier rejects requests below the given tier.
func RequireTier(tier ledger.Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "authentication required", auth.ErrUnauthenticated)
				return
			}
			if !actor.AtLeast(tier) {
				writeError(w, http.StatusForbidden, "insufficient clearance", ledger.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps a core error to its HTTP status.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, ledger.ErrAlreadyProcessed) || ledger.IsRetryable(err):
		writeError(w, http.StatusConflict, "conflict", err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, "invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", err)
		return false
	}
	return true
}
