/*
handlers.go - HTTP handlers for sessions, members, and the ledger

PURPOSE:
  Exposes the points-accounting engine via REST. Handles HTTP
  request/response, JSON serialization, and delegates all balance and
  record semantics to the ledger core.

ENDPOINTS (this file):
  Sessions:
    POST   /api/auth/tokens                     Exchange credentials for a token

  Members:
    POST   /api/users                           Register a member (cashier+)
    GET    /api/users/me                        Own profile
    GET    /api/users/{userId}                  Member lookup (cashier+)
    PATCH  /api/users/{userId}                  Flags/role update (manager+)

  Transactions:
    POST   /api/transactions                    Purchase or adjustment (staff)
    GET    /api/transactions                    Filtered listing (manager+)
    GET    /api/transactions/{id}               Single record (manager+)
    PATCH  /api/transactions/{id}/suspicious    Flag toggle (manager+)
    PATCH  /api/transactions/{id}/processed     Redemption processing (cashier+)
    POST   /api/users/me/transactions           Redemption request (self)
    GET    /api/users/me/transactions           Own history (self)
    POST   /api/users/{userId}/transactions     Transfer to the path member

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input shape
  3. Call domain logic (engine, projection)
  4. Serialize response
  5. Map errors to statuses (middleware.go)

SEE ALSO:
  - dto.go: Request/response data structures
  - events.go, promotions.go: the remaining route groups
  - server.go: Router setup and middleware
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pointforge/loyalty-engine/auth"
	"github.com/pointforge/loyalty-engine/ledger"
	"github.com/pointforge/loyalty-engine/metrics"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      ledger.TxStore
	Engine     *ledger.Engine
	Projection *ledger.Projection
	Issuer     *auth.Issuer
	Metrics    *metrics.Metrics
}

// NewHandler creates a new handler around the given store.
func NewHandler(store ledger.TxStore, issuer *auth.Issuer, m *metrics.Metrics) *Handler {
	return &Handler{
		Store:      store,
		Engine:     ledger.NewEngine(store),
		Projection: ledger.NewProjection(store),
		Issuer:     issuer,
		Metrics:    m,
	}
}

func (h *Handler) observe(txs ...ledger.Transaction) {
	for _, tx := range txs {
		h.Metrics.ObserveTransaction(string(tx.Kind), tx.Amount, tx.Suspicious)
	}
}

// =============================================================================
// SESSIONS
// =============================================================================

// Login exchanges a username/password pair for a session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	member, err := h.Store.GetMemberByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load member", err)
		return
	}
	if member == nil || !auth.CheckPassword(req.Password, member.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials", nil)
		return
	}

	token, expires, err := h.Issuer.Issue(string(member.ID), member.Username, member.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token", err)
		return
	}
	writeJSON(w, http.StatusOK, TokenDTO{
		Token:     token,
		ExpiresAt: expires.UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// MEMBERS
// =============================================================================

// CreateMember registers a new member. Cashiers and above may register.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req CreateMemberRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required", nil)
		return
	}

	existing, err := h.Store.GetMemberByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check username", err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "username already taken", nil)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password", err)
		return
	}

	member := ledger.Member{
		ID:           ledger.MemberID(uuid.NewString()),
		Username:     req.Username,
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         "regular",
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.Store.SaveMember(r.Context(), member); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save member", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberDTO(&member, true))
}

// GetMe returns the caller's own profile with balance.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	member, err := h.Store.GetMember(r.Context(), actor.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load member", err)
		return
	}
	if member == nil {
		writeLedgerError(w, ledger.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(member, true))
}

// GetMember looks a member up by id or username.
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	ref := chi.URLParam(r, "userId")

	member, err := h.Store.GetMember(r.Context(), ledger.MemberID(ref))
	if err == nil && member == nil {
		member, err = h.Store.GetMemberByUsername(r.Context(), ref)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load member", err)
		return
	}
	if member == nil {
		writeLedgerError(w, ledger.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(member, actor.AtLeast(ledger.TierManager)))
}

// UpdateMember changes a member's flags or role. Suspicious/verified and
// role changes are manager territory; only a superuser may grant manager
// or superuser.
func (h *Handler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req UpdateMemberRequest
	if !decodeBody(w, r, &req) {
		return
	}

	member, err := h.Store.GetMember(r.Context(), ledger.MemberID(chi.URLParam(r, "userId")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load member", err)
		return
	}
	if member == nil {
		writeLedgerError(w, ledger.ErrNotFound)
		return
	}

	if req.Email != nil {
		member.Email = *req.Email
	}
	if req.Verified != nil {
		member.Verified = *req.Verified
	}
	if req.Suspicious != nil {
		member.Suspicious = *req.Suspicious
	}
	if req.Role != nil {
		next := ledger.ParseTier(*req.Role)
		if next >= ledger.TierManager && !actor.AtLeast(ledger.TierSuperuser) {
			writeLedgerError(w, ledger.ErrForbidden)
			return
		}
		member.Role = next.String()
	}

	if err := h.Store.SaveMember(r.Context(), *member); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save member", err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(member, true))
}

// =============================================================================
// TRANSACTIONS - staff-created kinds
// =============================================================================

// CreateTransaction records a purchase or an adjustment, selected by the
// body's type field. Tier checks live in the engine.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req CreateTransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	switch req.Type {
	case string(ledger.KindPurchase):
		if req.Spent == nil {
			writeError(w, http.StatusBadRequest, "spent is required for purchases", nil)
			return
		}
		created, err := h.Engine.CreatePurchase(r.Context(), actor, ledger.PurchaseRequest{
			RecipientRef: req.Recipient,
			Spent:        decimal.NewFromFloat(*req.Spent),
			PromotionIDs: promotionIDs(req.PromotionIDs),
			Remark:       req.Remark,
		})
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		h.observe(*created)
		h.renderCreated(w, r, *created, actor)

	case string(ledger.KindAdjustment):
		if req.Amount == nil {
			writeError(w, http.StatusBadRequest, "amount is required for adjustments", nil)
			return
		}
		created, err := h.Engine.CreateAdjustment(r.Context(), actor, ledger.AdjustmentRequest{
			RecipientRef: req.Recipient,
			Amount:       *req.Amount,
			RelatedID:    ledger.TransactionID(req.RelatedID),
			Remark:       req.Remark,
		})
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		h.observe(*created)
		h.renderCreated(w, r, *created, actor)

	default:
		writeError(w, http.StatusBadRequest, "type must be purchase or adjustment", nil)
	}
}

// ListTransactions runs the full filtered listing for managers.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	f, page, limit, ok := parseFilter(w, r)
	if !ok {
		return
	}
	pageData, err := h.Projection.List(r.Context(), f, page, limit, true)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageData)
}

// GetTransaction returns a single rendered record.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	view, err := h.Projection.Get(r.Context(),
		ledger.TransactionID(chi.URLParam(r, "transactionId")), true)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SetSuspicious toggles a record's suspicious flag, reversing its
// balance effect exactly once.
func (h *Handler) SetSuspicious(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req SuspiciousRequest
	if !decodeBody(w, r, &req) {
		return
	}

	updated, err := h.Engine.SetSuspicious(r.Context(), actor,
		ledger.TransactionID(chi.URLParam(r, "transactionId")), req.Suspicious)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	view, err := h.Projection.Render(r.Context(), *updated, true)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// MarkProcessed completes a redemption.
func (h *Handler) MarkProcessed(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())

	processed, err := h.Engine.MarkRedemptionProcessed(r.Context(), actor,
		ledger.TransactionID(chi.URLParam(r, "transactionId")))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	view, err := h.Projection.Render(r.Context(), *processed, true)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// =============================================================================
// TRANSACTIONS - self-scoped
// =============================================================================

// CreateRedemption opens a redemption against the caller's own balance.
func (h *Handler) CreateRedemption(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req RedemptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Type != string(ledger.KindRedemption) {
		writeError(w, http.StatusBadRequest, "type must be redemption", nil)
		return
	}

	created, err := h.Engine.CreateRedemption(r.Context(), actor, req.Amount, req.Remark)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	h.observe(*created)
	h.renderCreated(w, r, *created, actor)
}

// ListMyTransactions returns the caller's own history, unprivileged.
func (h *Handler) ListMyTransactions(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	f, page, limit, ok := parseFilter(w, r)
	if !ok {
		return
	}
	f.ReceivedBy = actor.ID
	f.Name, f.CreatedBy, f.Suspicious = "", "", nil

	pageData, err := h.Projection.List(r.Context(), f, page, limit, false)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageData)
}

// CreateTransfer moves points from the caller to the path member.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Type != string(ledger.KindTransfer) {
		writeError(w, http.StatusBadRequest, "type must be transfer", nil)
		return
	}

	credit, err := h.Engine.CreateTransfer(r.Context(), actor,
		chi.URLParam(r, "userId"), req.Amount, req.Remark)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	h.observe(*credit)
	h.renderCreated(w, r, *credit, actor)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) renderCreated(w http.ResponseWriter, r *http.Request, tx ledger.Transaction, actor ledger.Actor) {
	view, err := h.Projection.Render(r.Context(), tx, actor.AtLeast(ledger.TierManager))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func promotionIDs(ids []string) []ledger.PromotionID {
	out := make([]ledger.PromotionID, len(ids))
	for i, id := range ids {
		out[i] = ledger.PromotionID(id)
	}
	return out
}

// parseFilter reads the transaction listing query parameters.
func parseFilter(w http.ResponseWriter, r *http.Request) (ledger.Filter, int, int, bool) {
	q := r.URL.Query()
	f := ledger.Filter{
		Name:      q.Get("name"),
		CreatedBy: q.Get("createdBy"),
		Promotion: ledger.PromotionID(q.Get("promotionId")),
		Kind:      ledger.TransactionKind(q.Get("type")),
		RelatedID: q.Get("relatedId"),
		Operator:  q.Get("operator"),
	}
	if v := q.Get("suspicious"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "suspicious must be a boolean", err)
			return f, 0, 0, false
		}
		f.Suspicious = &b
	}
	if v := q.Get("amount"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "amount must be an integer", err)
			return f, 0, 0, false
		}
		f.Amount = &n
	}

	page, limit := intQuery(q.Get("page")), intQuery(q.Get("limit"))
	return f, page, limit, true
}

func intQuery(v string) int {
	n, _ := strconv.Atoi(v)
	return n
}
