/*
Package sqlite provides the SQLite-backed implementation of the ledger
storage interfaces.

PURPOSE:
  Implements ledger.Store and ledger.TxStore using SQLite. In production,
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

CONSISTENCY:
  Balance changes are relative UPDATEs with the non-negativity check in
  the WHERE clause, so two concurrent increments both land and an
  overdraft simply matches zero rows. The two permitted post-creation
  updates on transactions (suspicious flag, redemption processing) carry
  the expected current state in the WHERE clause as well; a zero-row
  UPDATE against an existing record means someone got there first.

KEY TABLES:
  members:                identity plus the points accumulator
  transactions:           append-only ledger of all five kinds
  transaction_promotions: promotion links per transaction (exclusivity)
  promotions:             bonus rules with validity windows
  events:                 points budgets (remain/awarded pair)
  event_organizers:       organizer membership
  event_guests:           guest membership (RSVPs)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

SEE ALSO:
  - ledger/store.go: interface definitions and the consistency contract
  - ledger/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/pointforge/loyalty-engine/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		points INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
		suspicious BOOLEAN NOT NULL DEFAULT FALSE,
		verified BOOLEAN NOT NULL DEFAULT FALSE,
		role TEXT NOT NULL DEFAULT 'regular',
		created_at TEXT NOT NULL
	);

	-- Append-only ledger. The only UPDATEs ever issued touch suspicious
	-- and related_id (redemption processing); there are no DELETEs.
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		amount INTEGER NOT NULL,
		spent TEXT NOT NULL DEFAULT '0',
		related_id TEXT,
		remark TEXT NOT NULL DEFAULT '',
		suspicious BOOLEAN NOT NULL DEFAULT FALSE,
		received_by TEXT NOT NULL REFERENCES members(id),
		created_by TEXT NOT NULL REFERENCES members(id),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_received_by
		ON transactions(received_by);
	CREATE INDEX IF NOT EXISTS idx_transactions_kind
		ON transactions(kind);
	CREATE INDEX IF NOT EXISTS idx_transactions_created_at
		ON transactions(created_at DESC);

	-- Promotion links. One-time exclusivity is checked against this
	-- table via the recipient of the linking transaction.
	CREATE TABLE IF NOT EXISTS transaction_promotions (
		transaction_id TEXT NOT NULL REFERENCES transactions(id),
		promotion_id TEXT NOT NULL,
		PRIMARY KEY (transaction_id, promotion_id)
	);

	CREATE INDEX IF NOT EXISTS idx_transaction_promotions_promotion
		ON transaction_promotions(promotion_id);

	CREATE TABLE IF NOT EXISTS promotions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		min_spending TEXT,
		rate TEXT NOT NULL DEFAULT '0',
		points INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		capacity INTEGER,
		points_remain INTEGER NOT NULL DEFAULT 0 CHECK (points_remain >= 0),
		points_awarded INTEGER NOT NULL DEFAULT 0,
		published BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS event_organizers (
		event_id TEXT NOT NULL REFERENCES events(id),
		member_id TEXT NOT NULL REFERENCES members(id),
		PRIMARY KEY (event_id, member_id)
	);

	CREATE TABLE IF NOT EXISTS event_guests (
		event_id TEXT NOT NULL REFERENCES events(id),
		member_id TEXT NOT NULL REFERENCES members(id),
		PRIMARY KEY (event_id, member_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every operation against the enclosing sql.Tx. The store
// mutex is held by WithTx for its whole duration.
type txStore struct {
	tx *sql.Tx
}

// =============================================================================
// MEMBERS
// =============================================================================

func getMember(ctx context.Context, db dbtx, id ledger.MemberID) (*ledger.Member, error) {
	return scanMemberRow(db.QueryRowContext(ctx,
		memberColumns+" FROM members WHERE id = ?", id))
}

func getMemberByUsername(ctx context.Context, db dbtx, username string) (*ledger.Member, error) {
	return scanMemberRow(db.QueryRowContext(ctx,
		memberColumns+" FROM members WHERE username = ?", username))
}

const memberColumns = "SELECT id, username, name, email, password_hash, points, suspicious, verified, role, created_at"

func scanMemberRow(row *sql.Row) (*ledger.Member, error) {
	var m ledger.Member
	var createdAt string

	err := row.Scan(&m.ID, &m.Username, &m.Name, &m.Email, &m.PasswordHash,
		&m.Points, &m.Suspicious, &m.Verified, &m.Role, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan member: %w", err)
	}

	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &m, nil
}

func saveMember(ctx context.Context, db dbtx, m ledger.Member) error {
	query := `
		INSERT INTO members (id, username, name, email, password_hash, points, suspicious, verified, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			name = excluded.name,
			email = excluded.email,
			password_hash = excluded.password_hash,
			suspicious = excluded.suspicious,
			verified = excluded.verified,
			role = excluded.role
	`

	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx, query,
		m.ID, m.Username, m.Name, m.Email, m.PasswordHash, m.Points,
		m.Suspicious, m.Verified, m.Role,
		createdAt.Format(time.RFC3339),
	)
	return err
}

// incrementPoints carries the non-negativity check in the WHERE clause;
// a zero-row update against an existing member is an overdraft.
func incrementPoints(ctx context.Context, db dbtx, id ledger.MemberID, delta int) error {
	res, err := db.ExecContext(ctx,
		"UPDATE members SET points = points + ? WHERE id = ? AND points + ? >= 0",
		delta, id, delta)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var points int
	err = db.QueryRowContext(ctx, "SELECT points FROM members WHERE id = ?", id).Scan(&points)
	if err == sql.ErrNoRows {
		return ledger.ErrNotFound
	}
	if err != nil {
		return err
	}
	return &ledger.InsufficientBalanceError{Member: id, Available: points, Requested: -delta}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func createTransactions(ctx context.Context, db dbtx, txs []ledger.Transaction) error {
	for _, tx := range txs {
		_, err := db.ExecContext(ctx, `
			INSERT INTO transactions
			(id, kind, amount, spent, related_id, remark, suspicious, received_by, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tx.ID, tx.Kind, tx.Amount, tx.Spent.String(),
			nullString(tx.RelatedID), tx.Remark, tx.Suspicious,
			tx.ReceivedBy, tx.CreatedBy,
			tx.CreatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}

		for _, pid := range tx.PromotionIDs {
			_, err := db.ExecContext(ctx,
				"INSERT INTO transaction_promotions (transaction_id, promotion_id) VALUES (?, ?)",
				tx.ID, pid)
			if err != nil {
				return fmt.Errorf("failed to link promotion: %w", err)
			}
		}
	}
	return nil
}

const transactionColumns = `SELECT t.id, t.kind, t.amount, t.spent, t.related_id, t.remark,
       t.suspicious, t.received_by, t.created_by, t.created_at`

func getTransaction(ctx context.Context, db dbtx, id ledger.TransactionID) (*ledger.Transaction, error) {
	txs, err := queryTransactions(ctx, db,
		transactionColumns+" FROM transactions t WHERE t.id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func queryTransactions(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var (
			tx        ledger.Transaction
			spent     string
			relatedID sql.NullString
			createdAt string
		)
		if err := rows.Scan(&tx.ID, &tx.Kind, &tx.Amount, &spent, &relatedID,
			&tx.Remark, &tx.Suspicious, &tx.ReceivedBy, &tx.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Spent, _ = decimal.NewFromString(spent)
		tx.RelatedID = relatedID.String
		tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range txs {
		pids, err := transactionPromotions(ctx, db, txs[i].ID)
		if err != nil {
			return nil, err
		}
		txs[i].PromotionIDs = pids
	}
	return txs, nil
}

func transactionPromotions(ctx context.Context, db dbtx, id ledger.TransactionID) ([]ledger.PromotionID, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT promotion_id FROM transaction_promotions WHERE transaction_id = ? ORDER BY promotion_id",
		id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pids []ledger.PromotionID
	for rows.Next() {
		var pid ledger.PromotionID
		if err := rows.Scan(&pid); err != nil {
			return nil, err
		}
		pids = append(pids, pid)
	}
	return pids, rows.Err()
}

// transactionPredicate translates a ledger.Filter into a WHERE clause.
// Must agree with ledger.Filter.Matches.
func transactionPredicate(f ledger.Filter) (string, []any) {
	var where []string
	var args []any

	if f.ReceivedBy != "" {
		where = append(where, "t.received_by = ?")
		args = append(args, f.ReceivedBy)
	}
	if f.Name != "" {
		where = append(where, "(r.username = ? OR r.name = ?)")
		args = append(args, f.Name, f.Name)
	}
	if f.CreatedBy != "" {
		where = append(where, "(c.username = ? OR c.name = ?)")
		args = append(args, f.CreatedBy, f.CreatedBy)
	}
	if f.Suspicious != nil {
		where = append(where, "t.suspicious = ?")
		args = append(args, *f.Suspicious)
	}
	if f.Promotion != "" {
		where = append(where, `EXISTS (SELECT 1 FROM transaction_promotions tp
			WHERE tp.transaction_id = t.id AND tp.promotion_id = ?)`)
		args = append(args, f.Promotion)
	}
	if f.Kind != "" {
		where = append(where, "t.kind = ?")
		args = append(args, f.Kind)
	}
	if f.RelatedID != "" {
		where = append(where, "t.related_id = ?")
		args = append(args, f.RelatedID)
	}
	if f.Amount != nil {
		if f.Operator == ledger.OpGTE {
			where = append(where, "t.amount >= ?")
		} else {
			where = append(where, "t.amount <= ?")
		}
		args = append(args, *f.Amount)
	}

	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

const transactionJoins = ` FROM transactions t
	LEFT JOIN members r ON r.id = t.received_by
	LEFT JOIN members c ON c.id = t.created_by`

func listTransactions(ctx context.Context, db dbtx, f ledger.Filter, page, limit int) (int, []ledger.Transaction, error) {
	predicate, args := transactionPredicate(f)

	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*)"+transactionJoins+predicate, args...).Scan(&count)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	_, limit, offset := ledger.NormalizePage(page, limit)
	query := transactionColumns + transactionJoins + predicate +
		" ORDER BY t.created_at DESC, t.rowid DESC LIMIT ? OFFSET ?"
	txs, err := queryTransactions(ctx, db, query, append(args, limit, offset)...)
	if err != nil {
		return 0, nil, err
	}
	return count, txs, nil
}

func promotionUsed(ctx context.Context, db dbtx, promotion ledger.PromotionID, member ledger.MemberID) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transaction_promotions tp
		JOIN transactions t ON t.id = tp.transaction_id
		WHERE tp.promotion_id = ? AND t.received_by = ?`,
		promotion, member).Scan(&count)
	return count > 0, err
}

// setTransactionSuspicious flips the flag only when the stored value
// still matches the caller's expectation.
func setTransactionSuspicious(ctx context.Context, db dbtx, id ledger.TransactionID, current, next bool) error {
	res, err := db.ExecContext(ctx,
		"UPDATE transactions SET suspicious = ? WHERE id = ? AND suspicious = ?",
		next, id, current)
	if err != nil {
		return fmt.Errorf("failed to update suspicious flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return guardFailure(ctx, db, "transactions", string(id))
}

// processRedemption claims an unprocessed redemption for the given
// staff member.
func processRedemption(ctx context.Context, db dbtx, id ledger.TransactionID, staff ledger.MemberID) error {
	res, err := db.ExecContext(ctx,
		"UPDATE transactions SET related_id = ? WHERE id = ? AND related_id IS NULL",
		staff, id)
	if err != nil {
		return fmt.Errorf("failed to process redemption: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return guardFailure(ctx, db, "transactions", string(id))
}

// guardFailure distinguishes a missing row from a lost optimistic race
// after a guarded UPDATE matched nothing.
func guardFailure(ctx context.Context, db dbtx, table, id string) error {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&count)
	if err != nil {
		return err
	}
	if count == 0 {
		return ledger.ErrNotFound
	}
	return ledger.ErrConcurrentModification
}

// =============================================================================
// PROMOTIONS
// =============================================================================

const promotionColumns = "SELECT id, name, description, kind, start_time, end_time, min_spending, rate, points, created_at"

func getPromotion(ctx context.Context, db dbtx, id ledger.PromotionID) (*ledger.Promotion, error) {
	ps, err := queryPromotions(ctx, db, promotionColumns+" FROM promotions WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, nil
	}
	return &ps[0], nil
}

func queryPromotions(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.Promotion, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query promotions: %w", err)
	}
	defer rows.Close()

	var ps []ledger.Promotion
	for rows.Next() {
		var (
			p           ledger.Promotion
			start, end  string
			minSpending sql.NullString
			rate        string
			createdAt   string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Kind,
			&start, &end, &minSpending, &rate, &p.Points, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan promotion: %w", err)
		}
		p.StartTime, _ = time.Parse(time.RFC3339, start)
		p.EndTime, _ = time.Parse(time.RFC3339, end)
		if minSpending.Valid {
			d, _ := decimal.NewFromString(minSpending.String)
			p.MinSpending = &d
		}
		p.Rate, _ = decimal.NewFromString(rate)
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		ps = append(ps, p)
	}
	return ps, rows.Err()
}

func savePromotion(ctx context.Context, db dbtx, p ledger.Promotion) error {
	var minSpending *string
	if p.MinSpending != nil {
		v := p.MinSpending.String()
		minSpending = &v
	}

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO promotions (id, name, description, kind, start_time, end_time, min_spending, rate, points, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			kind = excluded.kind,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			min_spending = excluded.min_spending,
			rate = excluded.rate,
			points = excluded.points
	`

	_, err := db.ExecContext(ctx, query,
		p.ID, p.Name, p.Description, p.Kind,
		p.StartTime.Format(time.RFC3339), p.EndTime.Format(time.RFC3339),
		minSpending, p.Rate.String(), p.Points,
		createdAt.Format(time.RFC3339),
	)
	return err
}

func deletePromotion(ctx context.Context, db dbtx, id ledger.PromotionID) error {
	res, err := db.ExecContext(ctx, "DELETE FROM promotions WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func listPromotions(ctx context.Context, db dbtx, f ledger.PromotionFilter, page, limit int) (int, []ledger.Promotion, error) {
	now := f.Now
	if now.IsZero() {
		now = time.Now()
	}
	nowStr := now.Format(time.RFC3339)

	var where []string
	var args []any

	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, f.Name)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.Started != nil {
		if *f.Started {
			where = append(where, "start_time <= ?")
		} else {
			where = append(where, "start_time > ?")
		}
		args = append(args, nowStr)
	}
	if f.Ended != nil {
		if *f.Ended {
			where = append(where, "end_time <= ?")
		} else {
			where = append(where, "end_time > ?")
		}
		args = append(args, nowStr)
	}
	if f.Active {
		where = append(where, "start_time <= ? AND end_time > ?")
		args = append(args, nowStr, nowStr)
	}
	if f.UnusedBy != "" {
		where = append(where, `NOT EXISTS (
			SELECT 1 FROM transaction_promotions tp
			JOIN transactions t ON t.id = tp.transaction_id
			WHERE tp.promotion_id = promotions.id AND t.received_by = ?)`)
		args = append(args, f.UnusedBy)
	}

	predicate := ""
	if len(where) > 0 {
		predicate = " WHERE " + strings.Join(where, " AND ")
	}

	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM promotions"+predicate, args...).Scan(&count)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to count promotions: %w", err)
	}

	_, limit, offset := ledger.NormalizePage(page, limit)
	ps, err := queryPromotions(ctx, db,
		promotionColumns+" FROM promotions"+predicate+" ORDER BY created_at, id LIMIT ? OFFSET ?",
		append(args, limit, offset)...)
	if err != nil {
		return 0, nil, err
	}
	return count, ps, nil
}

// =============================================================================
// EVENTS
// =============================================================================

const eventColumns = "SELECT id, name, description, location, start_time, end_time, capacity, points_remain, points_awarded, published, created_at"

func getEvent(ctx context.Context, db dbtx, id ledger.EventID) (*ledger.Event, error) {
	es, err := queryEvents(ctx, db, eventColumns+" FROM events WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(es) == 0 {
		return nil, nil
	}

	ev := es[0]
	if ev.Organizers, err = eventMembers(ctx, db, "event_organizers", id); err != nil {
		return nil, err
	}
	if ev.Guests, err = eventMembers(ctx, db, "event_guests", id); err != nil {
		return nil, err
	}
	return &ev, nil
}

func queryEvents(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.Event, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var es []ledger.Event
	for rows.Next() {
		var (
			e          ledger.Event
			start, end string
			capacity   sql.NullInt64
			createdAt  string
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.Description, &e.Location,
			&start, &end, &capacity, &e.PointsRemain, &e.PointsAwarded,
			&e.Published, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.StartTime, _ = time.Parse(time.RFC3339, start)
		e.EndTime, _ = time.Parse(time.RFC3339, end)
		if capacity.Valid {
			c := int(capacity.Int64)
			e.Capacity = &c
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		es = append(es, e)
	}
	return es, rows.Err()
}

func eventMembers(ctx context.Context, db dbtx, table string, id ledger.EventID) ([]ledger.Member, error) {
	rows, err := db.QueryContext(ctx,
		memberColumns+" FROM members WHERE id IN (SELECT member_id FROM "+table+
			" WHERE event_id = ?) ORDER BY username", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []ledger.Member
	for rows.Next() {
		var m ledger.Member
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Username, &m.Name, &m.Email, &m.PasswordHash,
			&m.Points, &m.Suspicious, &m.Verified, &m.Role, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		members = append(members, m)
	}
	return members, rows.Err()
}

func saveEvent(ctx context.Context, db dbtx, e ledger.Event) error {
	var capacity *int
	if e.Capacity != nil {
		c := *e.Capacity
		capacity = &c
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO events (id, name, description, location, start_time, end_time, capacity,
			points_remain, points_awarded, published, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			location = excluded.location,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			capacity = excluded.capacity,
			published = excluded.published
	`

	_, err := db.ExecContext(ctx, query,
		e.ID, e.Name, e.Description, e.Location,
		e.StartTime.Format(time.RFC3339), e.EndTime.Format(time.RFC3339),
		capacity, e.PointsRemain, e.PointsAwarded, e.Published,
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return err
	}

	for _, m := range e.Organizers {
		if err := addEventMember(ctx, db, "event_organizers", e.ID, m.ID); err != nil {
			return err
		}
	}
	for _, m := range e.Guests {
		if err := addEventMember(ctx, db, "event_guests", e.ID, m.ID); err != nil {
			return err
		}
	}
	return nil
}

func deleteEvent(ctx context.Context, db dbtx, id ledger.EventID) error {
	res, err := db.ExecContext(ctx, "DELETE FROM events WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrNotFound
	}
	_, err = db.ExecContext(ctx, "DELETE FROM event_organizers WHERE event_id = ?", id)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, "DELETE FROM event_guests WHERE event_id = ?", id)
	return err
}

func listEvents(ctx context.Context, db dbtx, f ledger.EventFilter, page, limit int) (int, []ledger.Event, error) {
	now := f.Now
	if now.IsZero() {
		now = time.Now()
	}
	nowStr := now.Format(time.RFC3339)

	var where []string
	var args []any

	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, f.Name)
	}
	if f.Location != "" {
		where = append(where, "location = ?")
		args = append(args, f.Location)
	}
	if f.Started != nil {
		if *f.Started {
			where = append(where, "start_time <= ?")
		} else {
			where = append(where, "start_time > ?")
		}
		args = append(args, nowStr)
	}
	if f.Ended != nil {
		if *f.Ended {
			where = append(where, "end_time <= ?")
		} else {
			where = append(where, "end_time > ?")
		}
		args = append(args, nowStr)
	}
	if f.Published != nil {
		where = append(where, "published = ?")
		args = append(args, *f.Published)
	}
	if f.ExcludeFull {
		where = append(where, `(capacity IS NULL OR capacity >
			(SELECT COUNT(*) FROM event_guests WHERE event_id = events.id))`)
	}

	predicate := ""
	if len(where) > 0 {
		predicate = " WHERE " + strings.Join(where, " AND ")
	}

	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events"+predicate, args...).Scan(&count)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to count events: %w", err)
	}

	_, limit, offset := ledger.NormalizePage(page, limit)
	es, err := queryEvents(ctx, db,
		eventColumns+" FROM events"+predicate+" ORDER BY created_at, id LIMIT ? OFFSET ?",
		append(args, limit, offset)...)
	if err != nil {
		return 0, nil, err
	}

	for i := range es {
		if es[i].Organizers, err = eventMembers(ctx, db, "event_organizers", es[i].ID); err != nil {
			return 0, nil, err
		}
		if es[i].Guests, err = eventMembers(ctx, db, "event_guests", es[i].ID); err != nil {
			return 0, nil, err
		}
	}
	return count, es, nil
}

func addEventMember(ctx context.Context, db dbtx, table string, event ledger.EventID, member ledger.MemberID) error {
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE id = ?", event).Scan(&count)
	if err != nil {
		return err
	}
	if count == 0 {
		return ledger.ErrNotFound
	}

	_, err = db.ExecContext(ctx,
		"INSERT INTO "+table+" (event_id, member_id) VALUES (?, ?) ON CONFLICT DO NOTHING",
		event, member)
	return err
}

func removeEventMember(ctx context.Context, db dbtx, table string, event ledger.EventID, member ledger.MemberID) error {
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE id = ?", event).Scan(&count)
	if err != nil {
		return err
	}
	if count == 0 {
		return ledger.ErrNotFound
	}

	_, err = db.ExecContext(ctx,
		"DELETE FROM "+table+" WHERE event_id = ? AND member_id = ?",
		event, member)
	return err
}

// debitPool re-checks the remaining budget in the WHERE clause.
func debitPool(ctx context.Context, db dbtx, id ledger.EventID, total int) error {
	res, err := db.ExecContext(ctx, `
		UPDATE events SET points_remain = points_remain - ?, points_awarded = points_awarded + ?
		WHERE id = ? AND points_remain >= ?`,
		total, total, id, total)
	if err != nil {
		return fmt.Errorf("failed to debit pool: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var remain int
	err = db.QueryRowContext(ctx, "SELECT points_remain FROM events WHERE id = ?", id).Scan(&remain)
	if err == sql.ErrNoRows {
		return ledger.ErrNotFound
	}
	if err != nil {
		return err
	}
	return &ledger.InsufficientPoolError{Event: id, Remain: remain, Requested: total}
}

// setPoolBudget applies a budget edit; the new budget must cover what
// has already been awarded.
func setPoolBudget(ctx context.Context, db dbtx, id ledger.EventID, budget int) error {
	res, err := db.ExecContext(ctx, `
		UPDATE events SET points_remain = ? - points_awarded
		WHERE id = ? AND points_awarded <= ?`,
		budget, id, budget)
	if err != nil {
		return fmt.Errorf("failed to set pool budget: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE id = ?", id).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return ledger.ErrNotFound
	}
	return &ledger.ValidationError{Field: "points", Reason: "below points already awarded"}
}

// =============================================================================
// INTERFACE PLUMBING
// =============================================================================

func (s *Store) GetMember(ctx context.Context, id ledger.MemberID) (*ledger.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getMember(ctx, s.db, id)
}

func (s *Store) GetMemberByUsername(ctx context.Context, username string) (*ledger.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getMemberByUsername(ctx, s.db, username)
}

func (s *Store) SaveMember(ctx context.Context, m ledger.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveMember(ctx, s.db, m)
}

func (s *Store) IncrementPoints(ctx context.Context, id ledger.MemberID, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return incrementPoints(ctx, s.db, id, delta)
}

func (s *Store) CreateTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createTransactions(ctx, s.db, []ledger.Transaction{tx})
}

func (s *Store) CreateTransactions(ctx context.Context, txs []ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := createTransactions(ctx, sqlTx, txs); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, id)
}

func (s *Store) ListTransactions(ctx context.Context, f ledger.Filter, page, limit int) (int, []ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTransactions(ctx, s.db, f, page, limit)
}

func (s *Store) PromotionUsed(ctx context.Context, promotion ledger.PromotionID, member ledger.MemberID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return promotionUsed(ctx, s.db, promotion, member)
}

func (s *Store) SetTransactionSuspicious(ctx context.Context, id ledger.TransactionID, current, next bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setTransactionSuspicious(ctx, s.db, id, current, next)
}

func (s *Store) ProcessRedemption(ctx context.Context, id ledger.TransactionID, staff ledger.MemberID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return processRedemption(ctx, s.db, id, staff)
}

func (s *Store) GetPromotion(ctx context.Context, id ledger.PromotionID) (*ledger.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPromotion(ctx, s.db, id)
}

func (s *Store) SavePromotion(ctx context.Context, p ledger.Promotion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePromotion(ctx, s.db, p)
}

func (s *Store) DeletePromotion(ctx context.Context, id ledger.PromotionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deletePromotion(ctx, s.db, id)
}

func (s *Store) ListPromotions(ctx context.Context, f ledger.PromotionFilter, page, limit int) (int, []ledger.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPromotions(ctx, s.db, f, page, limit)
}

func (s *Store) GetEvent(ctx context.Context, id ledger.EventID) (*ledger.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEvent(ctx, s.db, id)
}

func (s *Store) SaveEvent(ctx context.Context, e ledger.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveEvent(ctx, s.db, e)
}

func (s *Store) DeleteEvent(ctx context.Context, id ledger.EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteEvent(ctx, s.db, id)
}

func (s *Store) ListEvents(ctx context.Context, f ledger.EventFilter, page, limit int) (int, []ledger.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEvents(ctx, s.db, f, page, limit)
}

func (s *Store) AddOrganizer(ctx context.Context, event ledger.EventID, member ledger.MemberID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addEventMember(ctx, s.db, "event_organizers", event, member)
}

func (s *Store) RemoveOrganizer(ctx context.Context, event ledger.EventID, member ledger.MemberID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeEventMember(ctx, s.db, "event_organizers", event, member)
}

func (s *Store) AddGuest(ctx context.Context, event ledger.EventID, member ledger.MemberID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addEventMember(ctx, s.db, "event_guests", event, member)
}

func (s *Store) RemoveGuest(ctx context.Context, event ledger.EventID, member ledger.MemberID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeEventMember(ctx, s.db, "event_guests", event, member)
}

func (s *Store) DebitPool(ctx context.Context, id ledger.EventID, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return debitPool(ctx, s.db, id, total)
}

func (s *Store) SetPoolBudget(ctx context.Context, id ledger.EventID, budget int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setPoolBudget(ctx, s.db, id, budget)
}

// txStore methods run within WithTx; no locking here.

func (t *txStore) GetMember(ctx context.Context, id ledger.MemberID) (*ledger.Member, error) {
	return getMember(ctx, t.tx, id)
}

func (t *txStore) GetMemberByUsername(ctx context.Context, username string) (*ledger.Member, error) {
	return getMemberByUsername(ctx, t.tx, username)
}

func (t *txStore) SaveMember(ctx context.Context, m ledger.Member) error {
	return saveMember(ctx, t.tx, m)
}

func (t *txStore) IncrementPoints(ctx context.Context, id ledger.MemberID, delta int) error {
	return incrementPoints(ctx, t.tx, id, delta)
}

func (t *txStore) CreateTransaction(ctx context.Context, tx ledger.Transaction) error {
	return createTransactions(ctx, t.tx, []ledger.Transaction{tx})
}

func (t *txStore) CreateTransactions(ctx context.Context, txs []ledger.Transaction) error {
	return createTransactions(ctx, t.tx, txs)
}

func (t *txStore) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return getTransaction(ctx, t.tx, id)
}

func (t *txStore) ListTransactions(ctx context.Context, f ledger.Filter, page, limit int) (int, []ledger.Transaction, error) {
	return listTransactions(ctx, t.tx, f, page, limit)
}

func (t *txStore) PromotionUsed(ctx context.Context, promotion ledger.PromotionID, member ledger.MemberID) (bool, error) {
	return promotionUsed(ctx, t.tx, promotion, member)
}

func (t *txStore) SetTransactionSuspicious(ctx context.Context, id ledger.TransactionID, current, next bool) error {
	return setTransactionSuspicious(ctx, t.tx, id, current, next)
}

func (t *txStore) ProcessRedemption(ctx context.Context, id ledger.TransactionID, staff ledger.MemberID) error {
	return processRedemption(ctx, t.tx, id, staff)
}

func (t *txStore) GetPromotion(ctx context.Context, id ledger.PromotionID) (*ledger.Promotion, error) {
	return getPromotion(ctx, t.tx, id)
}

func (t *txStore) SavePromotion(ctx context.Context, p ledger.Promotion) error {
	return savePromotion(ctx, t.tx, p)
}

func (t *txStore) DeletePromotion(ctx context.Context, id ledger.PromotionID) error {
	return deletePromotion(ctx, t.tx, id)
}

func (t *txStore) ListPromotions(ctx context.Context, f ledger.PromotionFilter, page, limit int) (int, []ledger.Promotion, error) {
	return listPromotions(ctx, t.tx, f, page, limit)
}

func (t *txStore) GetEvent(ctx context.Context, id ledger.EventID) (*ledger.Event, error) {
	return getEvent(ctx, t.tx, id)
}

func (t *txStore) SaveEvent(ctx context.Context, e ledger.Event) error {
	return saveEvent(ctx, t.tx, e)
}

func (t *txStore) DeleteEvent(ctx context.Context, id ledger.EventID) error {
	return deleteEvent(ctx, t.tx, id)
}

func (t *txStore) ListEvents(ctx context.Context, f ledger.EventFilter, page, limit int) (int, []ledger.Event, error) {
	return listEvents(ctx, t.tx, f, page, limit)
}

func (t *txStore) AddOrganizer(ctx context.Context, event ledger.EventID, member ledger.MemberID) error {
	return addEventMember(ctx, t.tx, "event_organizers", event, member)
}

func (t *txStore) RemoveOrganizer(ctx context.Context, event ledger.EventID, member ledger.MemberID) error {
	return removeEventMember(ctx, t.tx, "event_organizers", event, member)
}

func (t *txStore) AddGuest(ctx context.Context, event ledger.EventID, member ledger.MemberID) error {
	return addEventMember(ctx, t.tx, "event_guests", event, member)
}

func (t *txStore) RemoveGuest(ctx context.Context, event ledger.EventID, member ledger.MemberID) error {
	return removeEventMember(ctx, t.tx, "event_guests", event, member)
}

func (t *txStore) DebitPool(ctx context.Context, id ledger.EventID, total int) error {
	return debitPool(ctx, t.tx, id, total)
}

func (t *txStore) SetPoolBudget(ctx context.Context, id ledger.EventID, budget int) error {
	return setPoolBudget(ctx, t.tx, id, budget)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var (
	_ ledger.TxStore = (*Store)(nil)
	_ ledger.Store   = (*txStore)(nil)
)
