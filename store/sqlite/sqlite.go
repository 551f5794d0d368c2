/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.TxStore using SQLite. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

THE CONDITIONAL RESERVE:
  Credit enforcement is one guarded statement:

    UPDATE agents SET credit_used_cents = credit_used_cents + ?
    WHERE id = ? AND credit_used_cents + ? <= credit_limit_cents

  The rows-affected count is the verdict. Two concurrent reservations
  for the same agent serialize at the row; application code never
  reads the balance, checks it, and writes it back.

KEY TABLES:
  agents:          credit configuration + cached usage counter
  reservations:    the authoritative credit ledger (release flag, not delete)
  bookings:        versioned rows; stale writes are rejected
  commissions:     one per booking, enforced by a unique index
  payments:        append-only; final rows refuse updates
  audit_log:       who did what when
  reconcile_runs:  sweep outcomes

MONEY:
  Stored as integer cents so the guarded UPDATE compares exactly.
  Commission rates are stored as decimal strings.

WAL MODE:
  SQLite is opened with WAL for better concurrency: multiple readers
  don't block, a single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/agency.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: interface definitions and atomicity contracts
  - ledger/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/voyago/agency-ledger/ledger"
)

const timeFmt = time.RFC3339Nano

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	tx *sql.Tx // non-nil inside WithTx
}

var _ ledger.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer keeps the guarded UPDATE free of SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

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

func (s *Store) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// WithTx executes fn within a transaction. Nested calls reuse the open
// transaction, so Reserve and friends compose under a caller's WithTx.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	child := &Store{db: s.db, tx: tx}
	if err := fn(child); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		credit_limit_cents INTEGER NOT NULL DEFAULT 0 CHECK (credit_limit_cents >= 0),
		credit_used_cents INTEGER NOT NULL DEFAULT 0 CHECK (credit_used_cents >= 0),
		commission_rate TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		booking_id TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		released_at TEXT,
		release_reason TEXT
	);

	-- CRITICAL: at most one live hold per booking, ever.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_live_reservation
		ON reservations(booking_id) WHERE released_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_reservations_agent
		ON reservations(agent_id, released_at);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		agent_id TEXT,
		total_cents INTEGER NOT NULL,
		status TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_agent ON bookings(agent_id);
	CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status);

	CREATE TABLE IF NOT EXISTS commissions (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL UNIQUE,
		agent_id TEXT NOT NULL,
		booking_cents INTEGER NOT NULL,
		rate TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		status TEXT NOT NULL,
		due_date TEXT NOT NULL,
		approved_by TEXT,
		approved_at TEXT,
		paid_at TEXT,
		payment_method TEXT,
		payment_reference TEXT,
		cancelled_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_commissions_agent ON commissions(agent_id);
	CREATE INDEX IF NOT EXISTS idx_commissions_status ON commissions(status);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		booking_id TEXT,
		commission_id TEXT,
		amount_cents INTEGER NOT NULL,
		direction TEXT NOT NULL,
		status TEXT NOT NULL,
		method TEXT,
		reference TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_agent ON payments(agent_id);
	CREATE INDEX IF NOT EXISTS idx_payments_booking ON payments(booking_id) WHERE booking_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		entity_id TEXT,
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_id);

	CREATE TABLE IF NOT EXISTS reconcile_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		agents_checked INTEGER NOT NULL DEFAULT 0,
		credit_corrections INTEGER NOT NULL DEFAULT 0,
		commissions_created INTEGER NOT NULL DEFAULT 0,
		commissions_cancelled INTEGER NOT NULL DEFAULT 0,
		reservations_repaired INTEGER NOT NULL DEFAULT 0,
		notes TEXT
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string { return t.UTC().Format(timeFmt) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFmt, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

// =============================================================================
// AGENTS
// =============================================================================

func (s *Store) CreateAgent(ctx context.Context, agent ledger.AgentAccount) error {
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO agents (id, name, email, credit_limit_cents, credit_used_cents, commission_rate, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		agent.ID, agent.Name, agent.Email,
		agent.CreditLimit.Cents(), agent.CommissionRate.String(), formatTime(agent.CreatedAt))
	return err
}

func (s *Store) GetAgent(ctx context.Context, id ledger.AgentID) (*ledger.AgentAccount, error) {
	row := s.q().QueryRowContext(ctx, `
		SELECT id, name, COALESCE(email, ''), credit_limit_cents, credit_used_cents, commission_rate, created_at
		FROM agents WHERE id = ?`, id)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

func scanAgent(row *sql.Row) (*ledger.AgentAccount, error) {
	var (
		a           ledger.AgentAccount
		limitCents  int64
		usedCents   int64
		rateStr     string
		createdAt   string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &limitCents, &usedCents, &rateStr, &createdAt); err != nil {
		return nil, err
	}
	a.CreditLimit = ledger.FromCents(limitCents)
	a.CreditUsed = ledger.FromCents(usedCents)
	a.CommissionRate, _ = decimal.NewFromString(rateStr)
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]ledger.AgentAccount, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT id, name, COALESCE(email, ''), credit_limit_cents, credit_used_cents, commission_rate, created_at
		FROM agents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.AgentAccount
	for rows.Next() {
		var (
			a          ledger.AgentAccount
			limitCents int64
			usedCents  int64
			rateStr    string
			createdAt  string
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &limitCents, &usedCents, &rateStr, &createdAt); err != nil {
			return nil, err
		}
		a.CreditLimit = ledger.FromCents(limitCents)
		a.CreditUsed = ledger.FromCents(usedCents)
		a.CommissionRate, _ = decimal.NewFromString(rateStr)
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetCreditLimit is guarded the same way Reserve is: the new limit must
// cover the agent's current usage, otherwise a committed state would hold
// credit_used above credit_limit.
func (s *Store) SetCreditLimit(ctx context.Context, id ledger.AgentID, limit ledger.Money) error {
	res, err := s.q().ExecContext(ctx,
		`UPDATE agents SET credit_limit_cents = ? WHERE id = ? AND credit_used_cents <= ?`,
		limit.Cents(), id, limit.Cents())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Zero rows: either the agent is missing or the limit undercuts usage.
	var usedCents int64
	err = s.q().QueryRowContext(ctx,
		`SELECT credit_used_cents FROM agents WHERE id = ?`, id).Scan(&usedCents)
	if errors.Is(err, sql.ErrNoRows) {
		return &ledger.NotFoundError{Resource: "agent", ID: string(id)}
	}
	if err != nil {
		return err
	}
	return &ledger.InvalidStateError{
		Entity: "agent", ID: string(id),
		From: "credit_used " + ledger.FromCents(usedCents).String(),
		To:   "credit_limit " + limit.String(),
	}
}

func (s *Store) SetCommissionRate(ctx context.Context, id ledger.AgentID, rate decimal.Decimal) error {
	res, err := s.q().ExecContext(ctx,
		`UPDATE agents SET commission_rate = ? WHERE id = ?`, rate.String(), id)
	if err != nil {
		return err
	}
	return requireRow(res, "agent", string(id))
}

func requireRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &ledger.NotFoundError{Resource: resource, ID: id}
	}
	return nil
}

// =============================================================================
// RESERVATIONS - The conditional atomic operations
// =============================================================================

// Reserve enforces the credit limit with a single guarded UPDATE; the
// reservation row and the counter bump commit in the same transaction.
func (s *Store) Reserve(ctx context.Context, agentID ledger.AgentID, bookingID ledger.BookingID, amount ledger.Money) (*ledger.Reservation, error) {
	if !amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}

	var reservation *ledger.Reservation
	err := s.WithTx(ctx, func(ls ledger.Store) error {
		tx := ls.(*Store)
		cents := amount.Cents()

		res, err := tx.q().ExecContext(ctx, `
			UPDATE agents SET credit_used_cents = credit_used_cents + ?
			WHERE id = ? AND credit_used_cents + ? <= credit_limit_cents`,
			cents, agentID, cents)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return tx.reserveRejection(ctx, agentID, amount)
		}

		r := ledger.Reservation{
			ID:        ledger.ReservationID(uuid.NewString()),
			AgentID:   agentID,
			BookingID: bookingID,
			Amount:    amount,
			CreatedAt: time.Now().UTC(),
		}
		_, err = tx.q().ExecContext(ctx, `
			INSERT INTO reservations (id, agent_id, booking_id, amount_cents, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			r.ID, r.AgentID, r.BookingID, cents, formatTime(r.CreatedAt))
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateReservation
		}
		if err != nil {
			return err
		}
		reservation = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// reserveRejection decides why the guarded UPDATE matched nothing.
func (s *Store) reserveRejection(ctx context.Context, agentID ledger.AgentID, amount ledger.Money) error {
	var limitCents, usedCents int64
	err := s.q().QueryRowContext(ctx,
		`SELECT credit_limit_cents, credit_used_cents FROM agents WHERE id = ?`, agentID).
		Scan(&limitCents, &usedCents)
	if errors.Is(err, sql.ErrNoRows) {
		return &ledger.NotFoundError{Resource: "agent", ID: string(agentID)}
	}
	if err != nil {
		return err
	}
	available := limitCents - usedCents
	if available < 0 {
		available = 0
	}
	return &ledger.InsufficientCreditError{
		AgentID:   agentID,
		Required:  amount,
		Available: ledger.FromCents(available),
		Shortfall: ledger.FromCents(amount.Cents() - available),
	}
}

func (s *Store) Release(ctx context.Context, bookingID ledger.BookingID, reason string) (*ledger.Reservation, error) {
	var reservation *ledger.Reservation
	err := s.WithTx(ctx, func(ls ledger.Store) error {
		tx := ls.(*Store)

		var (
			r         ledger.Reservation
			cents     int64
			createdAt string
		)
		err := tx.q().QueryRowContext(ctx, `
			SELECT id, agent_id, amount_cents, created_at
			FROM reservations WHERE booking_id = ? AND released_at IS NULL`, bookingID).
			Scan(&r.ID, &r.AgentID, &cents, &createdAt)
		if errors.Is(err, sql.ErrNoRows) {
			// Already released or never reserved. No-op.
			return nil
		}
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if _, err := tx.q().ExecContext(ctx, `
			UPDATE reservations SET released_at = ?, release_reason = ? WHERE id = ?`,
			formatTime(now), reason, r.ID); err != nil {
			return err
		}
		if _, err := tx.q().ExecContext(ctx, `
			UPDATE agents SET credit_used_cents = MAX(credit_used_cents - ?, 0) WHERE id = ?`,
			cents, r.AgentID); err != nil {
			return err
		}

		r.BookingID = bookingID
		r.Amount = ledger.FromCents(cents)
		r.CreatedAt = parseTime(createdAt)
		r.ReleasedAt = &now
		r.ReleaseReason = reason
		reservation = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

func (s *Store) AdjustReservation(ctx context.Context, bookingID ledger.BookingID, newAmount ledger.Money) (*ledger.Reservation, error) {
	if !newAmount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}

	var reservation *ledger.Reservation
	err := s.WithTx(ctx, func(ls ledger.Store) error {
		tx := ls.(*Store)

		var (
			r         ledger.Reservation
			oldCents  int64
			createdAt string
		)
		err := tx.q().QueryRowContext(ctx, `
			SELECT id, agent_id, amount_cents, created_at
			FROM reservations WHERE booking_id = ? AND released_at IS NULL`, bookingID).
			Scan(&r.ID, &r.AgentID, &oldCents, &createdAt)
		if errors.Is(err, sql.ErrNoRows) {
			return &ledger.NotFoundError{Resource: "reservation", ID: string(bookingID)}
		}
		if err != nil {
			return err
		}

		delta := newAmount.Cents() - oldCents
		if delta > 0 {
			res, err := tx.q().ExecContext(ctx, `
				UPDATE agents SET credit_used_cents = credit_used_cents + ?
				WHERE id = ? AND credit_used_cents + ? <= credit_limit_cents`,
				delta, r.AgentID, delta)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				var limitCents, usedCents int64
				if err := tx.q().QueryRowContext(ctx,
					`SELECT credit_limit_cents, credit_used_cents FROM agents WHERE id = ?`, r.AgentID).
					Scan(&limitCents, &usedCents); err != nil {
					return err
				}
				available := limitCents - usedCents + oldCents
				if available < 0 {
					available = 0
				}
				return &ledger.InsufficientCreditError{
					AgentID:   r.AgentID,
					Required:  newAmount,
					Available: ledger.FromCents(available),
					Shortfall: ledger.FromCents(newAmount.Cents() - available),
				}
			}
		} else if delta < 0 {
			if _, err := tx.q().ExecContext(ctx, `
				UPDATE agents SET credit_used_cents = MAX(credit_used_cents + ?, 0) WHERE id = ?`,
				delta, r.AgentID); err != nil {
				return err
			}
		}

		if _, err := tx.q().ExecContext(ctx,
			`UPDATE reservations SET amount_cents = ? WHERE id = ?`, newAmount.Cents(), r.ID); err != nil {
			return err
		}

		r.BookingID = bookingID
		r.Amount = newAmount
		r.CreatedAt = parseTime(createdAt)
		reservation = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

func (s *Store) ActiveReservations(ctx context.Context, agentID ledger.AgentID) ([]ledger.Reservation, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT id, agent_id, booking_id, amount_cents, created_at
		FROM reservations WHERE agent_id = ? AND released_at IS NULL
		ORDER BY created_at`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Reservation
	for rows.Next() {
		var (
			r         ledger.Reservation
			cents     int64
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.AgentID, &r.BookingID, &cents, &createdAt); err != nil {
			return nil, err
		}
		r.Amount = ledger.FromCents(cents)
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CreditUsed(ctx context.Context, agentID ledger.AgentID) (ledger.Money, error) {
	var cents int64
	err := s.q().QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM reservations WHERE agent_id = ? AND released_at IS NULL`, agentID).Scan(&cents)
	if err != nil {
		return ledger.NewMoney(0), err
	}
	return ledger.FromCents(cents), nil
}

func (s *Store) OverwriteCreditUsed(ctx context.Context, agentID ledger.AgentID, used ledger.Money) error {
	res, err := s.q().ExecContext(ctx,
		`UPDATE agents SET credit_used_cents = ? WHERE id = ?`, used.Cents(), agentID)
	if err != nil {
		return err
	}
	return requireRow(res, "agent", string(agentID))
}

// =============================================================================
// BOOKINGS
// =============================================================================

const bookingCols = `id, COALESCE(agent_id, ''), total_cents, status, start_date, end_date, version, created_at, updated_at`

func (s *Store) CreateBooking(ctx context.Context, b ledger.Booking) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO bookings (id, agent_id, total_cents, status, start_date, end_date, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		b.ID, string(b.AgentID), b.TotalAmount.Cents(), string(b.Status),
		formatTime(b.StartDate), formatTime(b.EndDate),
		formatTime(b.CreatedAt), formatTime(b.CreatedAt))
	return err
}

func scanBooking(scan func(dest ...any) error) (*ledger.Booking, error) {
	var (
		b          ledger.Booking
		cents      int64
		status     string
		start, end string
		created    string
		updated    string
	)
	if err := scan(&b.ID, &b.AgentID, &cents, &status, &start, &end, &b.Version, &created, &updated); err != nil {
		return nil, err
	}
	b.TotalAmount = ledger.FromCents(cents)
	b.Status = ledger.BookingStatus(status)
	b.StartDate = parseTime(start)
	b.EndDate = parseTime(end)
	b.CreatedAt = parseTime(created)
	b.UpdatedAt = parseTime(updated)
	return &b, nil
}

func (s *Store) GetBooking(ctx context.Context, id ledger.BookingID) (*ledger.Booking, error) {
	row := s.q().QueryRowContext(ctx, `SELECT `+bookingCols+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) listBookings(ctx context.Context, where string, args ...any) ([]ledger.Booking, error) {
	rows, err := s.q().QueryContext(ctx,
		`SELECT `+bookingCols+` FROM bookings `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Booking
	for rows.Next() {
		b, err := scanBooking(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *Store) ListBookings(ctx context.Context) ([]ledger.Booking, error) {
	return s.listBookings(ctx, "")
}

func (s *Store) ListBookingsByAgent(ctx context.Context, agentID ledger.AgentID) ([]ledger.Booking, error) {
	return s.listBookings(ctx, "WHERE agent_id = ?", string(agentID))
}

func (s *Store) ListBookingsByStatus(ctx context.Context, statuses ...ledger.BookingStatus) ([]ledger.Booking, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return s.listBookings(ctx, "WHERE status IN ("+placeholders+")", args...)
}

// UpdateBooking is the optimistic write that serializes transitions: the
// row only changes when the caller saw the current version.
func (s *Store) UpdateBooking(ctx context.Context, b ledger.Booking) error {
	res, err := s.q().ExecContext(ctx, `
		UPDATE bookings
		SET agent_id = ?, total_cents = ?, status = ?, start_date = ?, end_date = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(b.AgentID), b.TotalAmount.Cents(), string(b.Status),
		formatTime(b.StartDate), formatTime(b.EndDate),
		formatTime(time.Now().UTC()), b.ID, b.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		existing, err := s.GetBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return &ledger.NotFoundError{Resource: "booking", ID: string(b.ID)}
		}
		return ledger.ErrConcurrencyConflict
	}
	return nil
}

// =============================================================================
// COMMISSIONS
// =============================================================================

const commissionCols = `id, booking_id, agent_id, booking_cents, rate, amount_cents, status, due_date,
	COALESCE(approved_by, ''), approved_at, paid_at,
	COALESCE(payment_method, ''), COALESCE(payment_reference, ''), cancelled_at, created_at, updated_at`

func (s *Store) CreateCommission(ctx context.Context, c ledger.Commission) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO commissions (id, booking_id, agent_id, booking_cents, rate, amount_cents, status, due_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.BookingID, c.AgentID, c.BookingAmount.Cents(), c.Rate.String(),
		c.Amount.Cents(), string(c.Status), formatTime(c.DueDate),
		formatTime(c.CreatedAt), formatTime(c.CreatedAt))
	if isUniqueViolation(err) {
		return ledger.ErrDuplicateCommission
	}
	return err
}

func scanCommission(scan func(dest ...any) error) (*ledger.Commission, error) {
	var (
		c             ledger.Commission
		bookingCents  int64
		rateStr       string
		amountCents   int64
		status        string
		dueDate       string
		approvedAt    sql.NullString
		paidAt        sql.NullString
		cancelledAt   sql.NullString
		created       string
		updated       string
	)
	if err := scan(&c.ID, &c.BookingID, &c.AgentID, &bookingCents, &rateStr, &amountCents,
		&status, &dueDate, &c.ApprovedBy, &approvedAt, &paidAt,
		&c.PaymentMethod, &c.PaymentReference, &cancelledAt, &created, &updated); err != nil {
		return nil, err
	}
	c.BookingAmount = ledger.FromCents(bookingCents)
	c.Rate, _ = decimal.NewFromString(rateStr)
	c.Amount = ledger.FromCents(amountCents)
	c.Status = ledger.CommissionStatus(status)
	c.DueDate = parseTime(dueDate)
	c.ApprovedAt = parseNullTime(approvedAt)
	c.PaidAt = parseNullTime(paidAt)
	c.CancelledAt = parseNullTime(cancelledAt)
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

func (s *Store) GetCommission(ctx context.Context, id ledger.CommissionID) (*ledger.Commission, error) {
	row := s.q().QueryRowContext(ctx, `SELECT `+commissionCols+` FROM commissions WHERE id = ?`, id)
	c, err := scanCommission(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) GetCommissionByBooking(ctx context.Context, bookingID ledger.BookingID) (*ledger.Commission, error) {
	row := s.q().QueryRowContext(ctx, `SELECT `+commissionCols+` FROM commissions WHERE booking_id = ?`, bookingID)
	c, err := scanCommission(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) listCommissions(ctx context.Context, where string, args ...any) ([]ledger.Commission, error) {
	rows, err := s.q().QueryContext(ctx,
		`SELECT `+commissionCols+` FROM commissions `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Commission
	for rows.Next() {
		c, err := scanCommission(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) ListCommissionsByAgent(ctx context.Context, agentID ledger.AgentID) ([]ledger.Commission, error) {
	return s.listCommissions(ctx, "WHERE agent_id = ?", string(agentID))
}

func (s *Store) ListCommissionsByStatus(ctx context.Context, statuses ...ledger.CommissionStatus) ([]ledger.Commission, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return s.listCommissions(ctx, "WHERE status IN ("+placeholders+")", args...)
}

func (s *Store) UpdateCommission(ctx context.Context, c ledger.Commission) error {
	var approvedAt, paidAt, cancelledAt any
	if c.ApprovedAt != nil {
		approvedAt = formatTime(*c.ApprovedAt)
	}
	if c.PaidAt != nil {
		paidAt = formatTime(*c.PaidAt)
	}
	if c.CancelledAt != nil {
		cancelledAt = formatTime(*c.CancelledAt)
	}
	res, err := s.q().ExecContext(ctx, `
		UPDATE commissions
		SET booking_cents = ?, rate = ?, amount_cents = ?, status = ?, due_date = ?,
		    approved_by = ?, approved_at = ?, paid_at = ?, payment_method = ?,
		    payment_reference = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ?`,
		c.BookingAmount.Cents(), c.Rate.String(), c.Amount.Cents(), string(c.Status),
		formatTime(c.DueDate), c.ApprovedBy, approvedAt, paidAt,
		c.PaymentMethod, c.PaymentReference, cancelledAt,
		formatTime(time.Now().UTC()), c.ID)
	if err != nil {
		return err
	}
	return requireRow(res, "commission", string(c.ID))
}

// =============================================================================
// PAYMENTS - Append-only
// =============================================================================

const paymentCols = `id, agent_id, COALESCE(booking_id, ''), COALESCE(commission_id, ''),
	amount_cents, direction, status, COALESCE(method, ''), COALESCE(reference, ''), created_at, updated_at`

func (s *Store) CreatePayment(ctx context.Context, p ledger.Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO payments (id, agent_id, booking_id, commission_id, amount_cents, direction, status, method, reference, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AgentID, string(p.BookingID), string(p.CommissionID),
		p.Amount.Cents(), string(p.Direction), string(p.Status),
		p.Method, p.Reference, formatTime(p.CreatedAt), formatTime(p.CreatedAt))
	return err
}

func scanPayment(scan func(dest ...any) error) (*ledger.Payment, error) {
	var (
		p         ledger.Payment
		cents     int64
		direction string
		status    string
		created   string
		updated   string
	)
	if err := scan(&p.ID, &p.AgentID, &p.BookingID, &p.CommissionID,
		&cents, &direction, &status, &p.Method, &p.Reference, &created, &updated); err != nil {
		return nil, err
	}
	p.Amount = ledger.FromCents(cents)
	p.Direction = ledger.PaymentDirection(direction)
	p.Status = ledger.PaymentStatus(status)
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

func (s *Store) GetPayment(ctx context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	row := s.q().QueryRowContext(ctx, `SELECT `+paymentCols+` FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePaymentStatus enforces append-only semantics: rows in a final
// status refuse further writes.
func (s *Store) UpdatePaymentStatus(ctx context.Context, id ledger.PaymentID, status ledger.PaymentStatus) error {
	res, err := s.q().ExecContext(ctx, `
		UPDATE payments SET status = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed', 'cancelled')`,
		string(status), formatTime(time.Now().UTC()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		existing, err := s.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return &ledger.NotFoundError{Resource: "payment", ID: string(id)}
		}
		return ledger.ErrImmutableRecord
	}
	return nil
}

func (s *Store) listPayments(ctx context.Context, where string, args ...any) ([]ledger.Payment, error) {
	rows, err := s.q().QueryContext(ctx,
		`SELECT `+paymentCols+` FROM payments `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Payment
	for rows.Next() {
		p, err := scanPayment(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) ListPaymentsByAgent(ctx context.Context, agentID ledger.AgentID) ([]ledger.Payment, error) {
	return s.listPayments(ctx, "WHERE agent_id = ?", string(agentID))
}

func (s *Store) ListPaymentsByBooking(ctx context.Context, bookingID ledger.BookingID) ([]ledger.Payment, error) {
	return s.listPayments(ctx, "WHERE booking_id = ?", string(bookingID))
}

// =============================================================================
// AUDIT LOG & RECONCILE RUNS
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return err
	}
	_, err = s.q().ExecContext(ctx, `
		INSERT INTO audit_log (id, at, actor_id, action, entity_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, formatTime(entry.At), entry.ActorID, string(entry.Action), entry.EntityID, string(payload))
	return err
}

func (s *Store) ListAudit(ctx context.Context, entityID string) ([]ledger.AuditEntry, error) {
	where := ""
	var args []any
	if entityID != "" {
		where = "WHERE entity_id = ?"
		args = append(args, entityID)
	}
	rows, err := s.q().QueryContext(ctx, `
		SELECT id, at, COALESCE(actor_id, ''), action, COALESCE(entity_id, ''), COALESCE(payload_json, '')
		FROM audit_log `+where+` ORDER BY at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.AuditEntry
	for rows.Next() {
		var (
			e       ledger.AuditEntry
			at      string
			action  string
			payload string
		)
		if err := rows.Scan(&e.ID, &at, &e.ActorID, &action, &e.EntityID, &payload); err != nil {
			return nil, err
		}
		e.At = parseTime(at)
		e.Action = ledger.AuditAction(action)
		if payload != "" {
			_ = json.Unmarshal([]byte(payload), &e.Payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) RecordRun(ctx context.Context, run ledger.ReconcileRun) error {
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO reconcile_runs (id, started_at, finished_at, agents_checked, credit_corrections,
			commissions_created, commissions_cancelled, reservations_repaired, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.StartedAt), formatTime(run.FinishedAt),
		run.AgentsChecked, run.CreditCorrections, run.CommissionsCreated,
		run.CommissionsCancelled, run.ReservationsRepaired, run.Notes)
	return err
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]ledger.ReconcileRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q().QueryContext(ctx, `
		SELECT id, started_at, finished_at, agents_checked, credit_corrections,
		       commissions_created, commissions_cancelled, reservations_repaired, COALESCE(notes, '')
		FROM reconcile_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.ReconcileRun
	for rows.Next() {
		var (
			r        ledger.ReconcileRun
			started  string
			finished string
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.AgentsChecked, &r.CreditCorrections,
			&r.CommissionsCreated, &r.CommissionsCancelled, &r.ReservationsRepaired, &r.Notes); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}
