/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:       Request logging
  2. Recoverer:    Panic recovery (500 instead of crash)
  3. RequestID:    Unique ID per request for tracing
  4. CORS:         Cross-origin requests for frontend
  5. Authenticate: Bearer token to ledger.Actor (API routes)

ROUTE GROUPS:
  /api/auth/*          Session tokens (public)
  /api/users/*         Members, self-scoped transactions, transfers
  /api/transactions/*  Staff-created records and retroactive updates
  /api/promotions/*    Promotion management
  /api/events/*        Events, RSVPs, pool awards
  /metrics             Prometheus scrape endpoint (public)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pointforge/loyalty-engine/ledger"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(h.Instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Handle("/metrics", h.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/tokens", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate)

			// Member routes
			r.Route("/users", func(r chi.Router) {
				r.With(RequireTier(ledger.TierCashier)).Post("/", h.CreateMember)
				r.Get("/me", h.GetMe)
				r.Post("/me/transactions", h.CreateRedemption)
				r.Get("/me/transactions", h.ListMyTransactions)
				r.With(RequireTier(ledger.TierCashier)).Get("/{userId}", h.GetMember)
				r.With(RequireTier(ledger.TierManager)).Patch("/{userId}", h.UpdateMember)
				r.Post("/{userId}/transactions", h.CreateTransfer)
			})

			// Transaction routes
			r.Route("/transactions", func(r chi.Router) {
				r.With(RequireTier(ledger.TierCashier)).Post("/", h.CreateTransaction)
				r.With(RequireTier(ledger.TierManager)).Get("/", h.ListTransactions)
				r.With(RequireTier(ledger.TierManager)).Get("/{transactionId}", h.GetTransaction)
				r.With(RequireTier(ledger.TierManager)).Patch("/{transactionId}/suspicious", h.SetSuspicious)
				r.With(RequireTier(ledger.TierCashier)).Patch("/{transactionId}/processed", h.MarkProcessed)
			})

			// Promotion routes
			r.Route("/promotions", func(r chi.Router) {
				r.Get("/", h.ListPromotions)
				r.Get("/{promotionId}", h.GetPromotion)
				r.With(RequireTier(ledger.TierManager)).Post("/", h.CreatePromotion)
				r.With(RequireTier(ledger.TierManager)).Patch("/{promotionId}", h.UpdatePromotion)
				r.With(RequireTier(ledger.TierManager)).Delete("/{promotionId}", h.DeletePromotion)
			})

			// Event routes
			r.Route("/events", func(r chi.Router) {
				r.Get("/", h.ListEvents)
				r.With(RequireTier(ledger.TierManager)).Post("/", h.CreateEvent)
				r.Route("/{eventId}", func(r chi.Router) {
					r.Get("/", h.GetEvent)
					r.Patch("/", h.UpdateEvent)
					r.With(RequireTier(ledger.TierManager)).Delete("/", h.DeleteEvent)
					r.With(RequireTier(ledger.TierManager)).Post("/organizers", h.AddOrganizer)
					r.With(RequireTier(ledger.TierManager)).Delete("/organizers/{userId}", h.RemoveOrganizer)
					r.Post("/guests", h.AddGuest)
					r.Post("/guests/me", h.Rsvp)
					r.Delete("/guests/me", h.WithdrawRsvp)
					r.With(RequireTier(ledger.TierManager)).Delete("/guests/{userId}", h.RemoveGuest)
					r.Post("/transactions", h.CreateEventAward)
				})
			})
		})
	})

	return r
}
