// Package store provides an in-memory ledger.TxStore for tests and demos.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/pointforge/loyalty-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.TxStore. WithTx works on a deep copy of the
// whole state and swaps it in on success, so a failing multi-step
// operation leaves nothing behind.
type Memory struct {
	mu sync.RWMutex
	s  *state
}

type eventRecord struct {
	event      ledger.Event // Organizers/Guests kept empty here
	organizers []ledger.MemberID
	guests     []ledger.MemberID
}

type state struct {
	members      map[ledger.MemberID]ledger.Member
	byUsername   map[string]ledger.MemberID
	transactions []ledger.Transaction // append order == chronological
	promotions   map[ledger.PromotionID]ledger.Promotion
	promoOrder   []ledger.PromotionID
	events       map[ledger.EventID]*eventRecord
	eventOrder   []ledger.EventID
}

func NewMemory() *Memory {
	return &Memory{s: newState()}
}

func newState() *state {
	return &state{
		members:    make(map[ledger.MemberID]ledger.Member),
		byUsername: make(map[string]ledger.MemberID),
		promotions: make(map[ledger.PromotionID]ledger.Promotion),
		events:     make(map[ledger.EventID]*eventRecord),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.byUsername {
		c.byUsername[k] = v
	}
	c.transactions = append([]ledger.Transaction(nil), s.transactions...)
	for k, v := range s.promotions {
		c.promotions[k] = v
	}
	c.promoOrder = append([]ledger.PromotionID(nil), s.promoOrder...)
	for k, v := range s.events {
		c.events[k] = &eventRecord{
			event:      v.event,
			organizers: append([]ledger.MemberID(nil), v.organizers...),
			guests:     append([]ledger.MemberID(nil), v.guests...),
		}
	}
	c.eventOrder = append([]ledger.EventID(nil), s.eventOrder...)
	return c
}

// =============================================================================
// TRANSACTIONAL WRAPPER
// =============================================================================

// WithTx runs fn against a working copy; the copy becomes the live state
// only if fn succeeds.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.s.clone()
	if err := fn(&txMemory{s: work}); err != nil {
		return err
	}
	m.s = work
	return nil
}

// txMemory exposes the unlocked state as a ledger.Store inside WithTx.
type txMemory struct {
	s *state
}

// =============================================================================
// MEMBERS
// =============================================================================

func (s *state) getMember(id ledger.MemberID) *ledger.Member {
	if m, ok := s.members[id]; ok {
		copied := m
		return &copied
	}
	return nil
}

func (s *state) getMemberByUsername(username string) *ledger.Member {
	if id, ok := s.byUsername[username]; ok {
		return s.getMember(id)
	}
	return nil
}

func (s *state) saveMember(m ledger.Member) error {
	if prev, ok := s.members[m.ID]; ok && prev.Username != m.Username {
		delete(s.byUsername, prev.Username)
	}
	s.members[m.ID] = m
	s.byUsername[m.Username] = m.ID
	return nil
}

func (s *state) incrementPoints(id ledger.MemberID, delta int) error {
	m, ok := s.members[id]
	if !ok {
		return ledger.ErrNotFound
	}
	if m.Points+delta < 0 {
		return &ledger.InsufficientBalanceError{
			Member:    id,
			Available: m.Points,
			Requested: -delta,
		}
	}
	m.Points += delta
	s.members[id] = m
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *state) createTransactions(txs []ledger.Transaction) error {
	for _, tx := range txs {
		s.transactions = append(s.transactions, tx)
	}
	return nil
}

func (s *state) getTransaction(id ledger.TransactionID) *ledger.Transaction {
	for i := range s.transactions {
		if s.transactions[i].ID == id {
			copied := s.transactions[i]
			return &copied
		}
	}
	return nil
}

func (s *state) listTransactions(f ledger.Filter, page, limit int) (int, []ledger.Transaction, error) {
	_, limit, offset := ledger.NormalizePage(page, limit)

	var matched []ledger.Transaction
	// Reverse-chronological: newest first.
	for i := len(s.transactions) - 1; i >= 0; i-- {
		tx := s.transactions[i]
		if f.Matches(tx, s.getMember(tx.ReceivedBy), s.getMember(tx.CreatedBy)) {
			matched = append(matched, tx)
		}
	}

	count := len(matched)
	if offset >= count {
		return count, nil, nil
	}
	end := offset + limit
	if end > count {
		end = count
	}
	return count, matched[offset:end], nil
}

func (s *state) promotionUsed(promotion ledger.PromotionID, member ledger.MemberID) (bool, error) {
	for _, tx := range s.transactions {
		if tx.ReceivedBy == member && tx.UsedPromotion(promotion) {
			return true, nil
		}
	}
	return false, nil
}

func (s *state) setTransactionSuspicious(id ledger.TransactionID, current, next bool) error {
	for i := range s.transactions {
		if s.transactions[i].ID == id {
			if s.transactions[i].Suspicious != current {
				return ledger.ErrConcurrentModification
			}
			s.transactions[i].Suspicious = next
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (s *state) processRedemption(id ledger.TransactionID, staff ledger.MemberID) error {
	for i := range s.transactions {
		if s.transactions[i].ID == id {
			if s.transactions[i].RelatedID != "" {
				return ledger.ErrConcurrentModification
			}
			s.transactions[i].RelatedID = string(staff)
			return nil
		}
	}
	return ledger.ErrNotFound
}

// =============================================================================
// PROMOTIONS
// =============================================================================

func (s *state) getPromotion(id ledger.PromotionID) *ledger.Promotion {
	if p, ok := s.promotions[id]; ok {
		copied := p
		return &copied
	}
	return nil
}

func (s *state) savePromotion(p ledger.Promotion) error {
	if _, ok := s.promotions[p.ID]; !ok {
		s.promoOrder = append(s.promoOrder, p.ID)
	}
	s.promotions[p.ID] = p
	return nil
}

func (s *state) deletePromotion(id ledger.PromotionID) error {
	if _, ok := s.promotions[id]; !ok {
		return ledger.ErrNotFound
	}
	delete(s.promotions, id)
	for i, pid := range s.promoOrder {
		if pid == id {
			s.promoOrder = append(s.promoOrder[:i], s.promoOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *state) listPromotions(f ledger.PromotionFilter, page, limit int) (int, []ledger.Promotion, error) {
	_, limit, offset := ledger.NormalizePage(page, limit)
	now := f.Now
	if now.IsZero() {
		now = time.Now()
	}

	var matched []ledger.Promotion
	for _, id := range s.promoOrder {
		p := s.promotions[id]
		if f.Name != "" && p.Name != f.Name {
			continue
		}
		if f.Kind != "" && p.Kind != f.Kind {
			continue
		}
		if f.Started != nil && (!p.StartTime.After(now)) != *f.Started {
			continue
		}
		if f.Ended != nil && (!p.EndTime.After(now)) != *f.Ended {
			continue
		}
		if f.Active && !p.ActiveAt(now) {
			continue
		}
		if f.UnusedBy != "" {
			used, err := s.promotionUsed(p.ID, f.UnusedBy)
			if err != nil {
				return 0, nil, err
			}
			if used {
				continue
			}
		}
		matched = append(matched, p)
	}

	count := len(matched)
	if offset >= count {
		return count, nil, nil
	}
	end := offset + limit
	if end > count {
		end = count
	}
	return count, matched[offset:end], nil
}

// =============================================================================
// EVENTS
// =============================================================================

func (s *state) getEvent(id ledger.EventID) *ledger.Event {
	rec, ok := s.events[id]
	if !ok {
		return nil
	}
	ev := rec.event
	ev.Organizers = s.resolveMembers(rec.organizers)
	ev.Guests = s.resolveMembers(rec.guests)
	return &ev
}

func (s *state) resolveMembers(ids []ledger.MemberID) []ledger.Member {
	out := make([]ledger.Member, 0, len(ids))
	for _, id := range ids {
		if m := s.getMember(id); m != nil {
			out = append(out, *m)
		}
	}
	return out
}

func (s *state) saveEvent(e ledger.Event) error {
	rec, ok := s.events[e.ID]
	if !ok {
		rec = &eventRecord{}
		s.events[e.ID] = rec
		s.eventOrder = append(s.eventOrder, e.ID)
	}
	for _, m := range e.Organizers {
		rec.organizers = appendID(rec.organizers, m.ID)
	}
	for _, m := range e.Guests {
		rec.guests = appendID(rec.guests, m.ID)
	}
	e.Organizers, e.Guests = nil, nil
	rec.event = e
	return nil
}

func (s *state) deleteEvent(id ledger.EventID) error {
	if _, ok := s.events[id]; !ok {
		return ledger.ErrNotFound
	}
	delete(s.events, id)
	for i, eid := range s.eventOrder {
		if eid == id {
			s.eventOrder = append(s.eventOrder[:i], s.eventOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *state) listEvents(f ledger.EventFilter, page, limit int) (int, []ledger.Event, error) {
	_, limit, offset := ledger.NormalizePage(page, limit)
	now := f.Now
	if now.IsZero() {
		now = time.Now()
	}

	var matched []ledger.Event
	for _, id := range s.eventOrder {
		ev := s.getEvent(id)
		if f.Name != "" && ev.Name != f.Name {
			continue
		}
		if f.Location != "" && ev.Location != f.Location {
			continue
		}
		if f.Started != nil && (!ev.StartTime.After(now)) != *f.Started {
			continue
		}
		if f.Ended != nil && (!ev.EndTime.After(now)) != *f.Ended {
			continue
		}
		if f.Published != nil && ev.Published != *f.Published {
			continue
		}
		if f.ExcludeFull && ev.Full() {
			continue
		}
		matched = append(matched, *ev)
	}

	count := len(matched)
	if offset >= count {
		return count, nil, nil
	}
	end := offset + limit
	if end > count {
		end = count
	}
	return count, matched[offset:end], nil
}

func (s *state) addOrganizer(event ledger.EventID, member ledger.MemberID) error {
	rec, ok := s.events[event]
	if !ok {
		return ledger.ErrNotFound
	}
	rec.organizers = appendID(rec.organizers, member)
	return nil
}

func (s *state) removeOrganizer(event ledger.EventID, member ledger.MemberID) error {
	rec, ok := s.events[event]
	if !ok {
		return ledger.ErrNotFound
	}
	rec.organizers = removeID(rec.organizers, member)
	return nil
}

func (s *state) addGuest(event ledger.EventID, member ledger.MemberID) error {
	rec, ok := s.events[event]
	if !ok {
		return ledger.ErrNotFound
	}
	rec.guests = appendID(rec.guests, member)
	return nil
}

func (s *state) removeGuest(event ledger.EventID, member ledger.MemberID) error {
	rec, ok := s.events[event]
	if !ok {
		return ledger.ErrNotFound
	}
	rec.guests = removeID(rec.guests, member)
	return nil
}

func (s *state) debitPool(id ledger.EventID, total int) error {
	rec, ok := s.events[id]
	if !ok {
		return ledger.ErrNotFound
	}
	if rec.event.PointsRemain < total {
		return &ledger.InsufficientPoolError{
			Event:     id,
			Remain:    rec.event.PointsRemain,
			Requested: total,
		}
	}
	rec.event.PointsRemain -= total
	rec.event.PointsAwarded += total
	return nil
}

func (s *state) setPoolBudget(id ledger.EventID, budget int) error {
	rec, ok := s.events[id]
	if !ok {
		return ledger.ErrNotFound
	}
	remain, err := ledger.EditBudget(&rec.event, budget)
	if err != nil {
		return err
	}
	rec.event.PointsRemain = remain
	return nil
}

func appendID(ids []ledger.MemberID, id ledger.MemberID) []ledger.MemberID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeID(ids []ledger.MemberID, id ledger.MemberID) []ledger.MemberID {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// =============================================================================
// INTERFACE PLUMBING
// =============================================================================
// Memory methods take the lock; txMemory methods run inside WithTx where
// the lock is already held.

func (m *Memory) GetMember(_ context.Context, id ledger.MemberID) (*ledger.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.getMember(id), nil
}

func (m *Memory) GetMemberByUsername(_ context.Context, username string) (*ledger.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.getMemberByUsername(username), nil
}

func (m *Memory) SaveMember(_ context.Context, member ledger.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.saveMember(member)
}

func (m *Memory) IncrementPoints(_ context.Context, id ledger.MemberID, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.incrementPoints(id, delta)
}

func (m *Memory) CreateTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.createTransactions([]ledger.Transaction{tx})
}

func (m *Memory) CreateTransactions(_ context.Context, txs []ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.createTransactions(txs)
}

func (m *Memory) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.getTransaction(id), nil
}

func (m *Memory) ListTransactions(_ context.Context, f ledger.Filter, page, limit int) (int, []ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.listTransactions(f, page, limit)
}

func (m *Memory) PromotionUsed(_ context.Context, promotion ledger.PromotionID, member ledger.MemberID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.promotionUsed(promotion, member)
}

func (m *Memory) SetTransactionSuspicious(_ context.Context, id ledger.TransactionID, current, next bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.setTransactionSuspicious(id, current, next)
}

func (m *Memory) ProcessRedemption(_ context.Context, id ledger.TransactionID, staff ledger.MemberID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.processRedemption(id, staff)
}

func (m *Memory) GetPromotion(_ context.Context, id ledger.PromotionID) (*ledger.Promotion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.getPromotion(id), nil
}

func (m *Memory) SavePromotion(_ context.Context, p ledger.Promotion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.savePromotion(p)
}

func (m *Memory) DeletePromotion(_ context.Context, id ledger.PromotionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.deletePromotion(id)
}

func (m *Memory) ListPromotions(_ context.Context, f ledger.PromotionFilter, page, limit int) (int, []ledger.Promotion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.listPromotions(f, page, limit)
}

func (m *Memory) GetEvent(_ context.Context, id ledger.EventID) (*ledger.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.getEvent(id), nil
}

func (m *Memory) SaveEvent(_ context.Context, e ledger.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.saveEvent(e)
}

func (m *Memory) DeleteEvent(_ context.Context, id ledger.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.deleteEvent(id)
}

func (m *Memory) ListEvents(_ context.Context, f ledger.EventFilter, page, limit int) (int, []ledger.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.listEvents(f, page, limit)
}

func (m *Memory) AddOrganizer(_ context.Context, event ledger.EventID, member ledger.MemberID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.addOrganizer(event, member)
}

func (m *Memory) RemoveOrganizer(_ context.Context, event ledger.EventID, member ledger.MemberID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.removeOrganizer(event, member)
}

func (m *Memory) AddGuest(_ context.Context, event ledger.EventID, member ledger.MemberID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.addGuest(event, member)
}

func (m *Memory) RemoveGuest(_ context.Context, event ledger.EventID, member ledger.MemberID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.removeGuest(event, member)
}

func (m *Memory) DebitPool(_ context.Context, id ledger.EventID, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.debitPool(id, total)
}

func (m *Memory) SetPoolBudget(_ context.Context, id ledger.EventID, budget int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.setPoolBudget(id, budget)
}

// txMemory: same operations, no locking (WithTx holds the write lock).

func (t *txMemory) GetMember(_ context.Context, id ledger.MemberID) (*ledger.Member, error) {
	return t.s.getMember(id), nil
}

func (t *txMemory) GetMemberByUsername(_ context.Context, username string) (*ledger.Member, error) {
	return t.s.getMemberByUsername(username), nil
}

func (t *txMemory) SaveMember(_ context.Context, member ledger.Member) error {
	return t.s.saveMember(member)
}

func (t *txMemory) IncrementPoints(_ context.Context, id ledger.MemberID, delta int) error {
	return t.s.incrementPoints(id, delta)
}

func (t *txMemory) CreateTransaction(_ context.Context, tx ledger.Transaction) error {
	return t.s.createTransactions([]ledger.Transaction{tx})
}

func (t *txMemory) CreateTransactions(_ context.Context, txs []ledger.Transaction) error {
	return t.s.createTransactions(txs)
}

func (t *txMemory) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return t.s.getTransaction(id), nil
}

func (t *txMemory) ListTransactions(_ context.Context, f ledger.Filter, page, limit int) (int, []ledger.Transaction, error) {
	return t.s.listTransactions(f, page, limit)
}

func (t *txMemory) PromotionUsed(_ context.Context, promotion ledger.PromotionID, member ledger.MemberID) (bool, error) {
	return t.s.promotionUsed(promotion, member)
}

func (t *txMemory) SetTransactionSuspicious(_ context.Context, id ledger.TransactionID, current, next bool) error {
	return t.s.setTransactionSuspicious(id, current, next)
}

func (t *txMemory) ProcessRedemption(_ context.Context, id ledger.TransactionID, staff ledger.MemberID) error {
	return t.s.processRedemption(id, staff)
}

func (t *txMemory) GetPromotion(_ context.Context, id ledger.PromotionID) (*ledger.Promotion, error) {
	return t.s.getPromotion(id), nil
}

func (t *txMemory) SavePromotion(_ context.Context, p ledger.Promotion) error {
	return t.s.savePromotion(p)
}

func (t *txMemory) DeletePromotion(_ context.Context, id ledger.PromotionID) error {
	return t.s.deletePromotion(id)
}

func (t *txMemory) ListPromotions(_ context.Context, f ledger.PromotionFilter, page, limit int) (int, []ledger.Promotion, error) {
	return t.s.listPromotions(f, page, limit)
}

func (t *txMemory) GetEvent(_ context.Context, id ledger.EventID) (*ledger.Event, error) {
	return t.s.getEvent(id), nil
}

func (t *txMemory) SaveEvent(_ context.Context, e ledger.Event) error {
	return t.s.saveEvent(e)
}

func (t *txMemory) DeleteEvent(_ context.Context, id ledger.EventID) error {
	return t.s.deleteEvent(id)
}

func (t *txMemory) ListEvents(_ context.Context, f ledger.EventFilter, page, limit int) (int, []ledger.Event, error) {
	return t.s.listEvents(f, page, limit)
}

func (t *txMemory) AddOrganizer(_ context.Context, event ledger.EventID, member ledger.MemberID) error {
	return t.s.addOrganizer(event, member)
}

func (t *txMemory) RemoveOrganizer(_ context.Context, event ledger.EventID, member ledger.MemberID) error {
	return t.s.removeOrganizer(event, member)
}

func (t *txMemory) AddGuest(_ context.Context, event ledger.EventID, member ledger.MemberID) error {
	return t.s.addGuest(event, member)
}

func (t *txMemory) RemoveGuest(_ context.Context, event ledger.EventID, member ledger.MemberID) error {
	return t.s.removeGuest(event, member)
}

func (t *txMemory) DebitPool(_ context.Context, id ledger.EventID, total int) error {
	return t.s.debitPool(id, total)
}

func (t *txMemory) SetPoolBudget(_ context.Context, id ledger.EventID, budget int) error {
	return t.s.setPoolBudget(id, budget)
}

// Compile-time interface checks.
var (
	_ ledger.TxStore = (*Memory)(nil)
	_ ledger.Store   = (*txMemory)(nil)
)
