/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces of the engine using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

INTERFACES IMPLEMENTED:
  schedule.TemplateStore: Availability templates, rules, overrides
  schedule.SlotStore:     Materialized slots with atomic claim
  booking.Store:          Bookings with compare-and-swap status updates
  booking.OfferingStore:  Sellable session types
  ledger.Store:           Append-only double-entry records
  payout.Store:           Withdrawal requests
  core.UnitOfWork:        Cross-store transactions
  core.JobScheduler:      Durable deferred jobs

APPEND-ONLY ENFORCEMENT:
  The ledger_entries table has no UPDATE and no DELETE statements anywhere
  in this package. Corrections are new balancing entries.

DATABASE AS ARBITER:
  Races are settled by the database, not by application locks:
  - Slot claims are a conditional UPDATE on is_booked = 0
  - Status transitions are a conditional UPDATE on the expected status
  - One pending payout per mentor is a partial unique index
  - Entry idempotency is a unique index on the key column

TRANSACTIONS:
  WithTx opens a *sql.Tx and threads it through the context; every store
  method picks it up transparently. Nested WithTx joins the open
  transaction. SQLite permits a single writer, so the pool is capped at one
  connection and no mutex is needed.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency
  and crash recovery.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - schedule/store.go, booking/types.go, ledger/types.go, payout/payout.go:
    the interface contracts this package fulfils
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mentorhive/booking-engine/core"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer; also keeps :memory: databases on one connection.
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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Availability templates (scheduling policy per mentor / per offering)
	CREATE TABLE IF NOT EXISTS availability_templates (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		timezone TEXT NOT NULL DEFAULT '',
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		min_notice_hours INTEGER NOT NULL DEFAULT 0,
		max_booking_days_ahead INTEGER NOT NULL DEFAULT 0,
		buffer_after_minutes INTEGER NOT NULL DEFAULT 0,
		slot_granularity_minutes INTEGER NOT NULL,
		max_bookings_per_day INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_templates_owner
		ON availability_templates(owner_id);

	-- At most one default template per mentor
	CREATE UNIQUE INDEX IF NOT EXISTS idx_templates_one_default
		ON availability_templates(owner_id) WHERE is_default;

	-- Weekly recurrence rules
	CREATE TABLE IF NOT EXISTS availability_rules (
		id TEXT PRIMARY KEY,
		template_id TEXT NOT NULL,
		weekday INTEGER NOT NULL,
		start_minute INTEGER NOT NULL,
		end_minute INTEGER NOT NULL,
		slot_index INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_rules_template
		ON availability_rules(template_id);

	-- Date overrides (dominate rules on their date)
	CREATE TABLE IF NOT EXISTS availability_overrides (
		id TEXT PRIMARY KEY,
		template_id TEXT NOT NULL,
		date TEXT NOT NULL,
		blocked BOOLEAN NOT NULL DEFAULT FALSE,
		start_minute INTEGER NOT NULL DEFAULT 0,
		end_minute INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT ''
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_overrides_template_date
		ON availability_overrides(template_id, date);

	-- Materialized bookable slots
	CREATE TABLE IF NOT EXISTS availability_slots (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		template_id TEXT,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		is_booked BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	-- No duplicate slot for the same owner and start (hot path: re-materialization)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_slots_owner_start
		ON availability_slots(owner_id, start_at);
	CREATE INDEX IF NOT EXISTS idx_slots_owner_range
		ON availability_slots(owner_id, start_at, end_at);

	-- Offerings
	CREATE TABLE IF NOT EXISTS offerings (
		id TEXT PRIMARY KEY,
		mentor_id TEXT NOT NULL,
		title TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL,
		price_value TEXT NOT NULL,
		price_currency TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		template_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_offerings_mentor
		ON offerings(mentor_id);

	-- Bookings
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		mentor_id TEXT NOT NULL,
		offering_id TEXT NOT NULL,
		slot_id TEXT,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL,
		price_value TEXT NOT NULL,
		price_currency TEXT NOT NULL,
		status TEXT NOT NULL,
		cancellation_reason TEXT NOT NULL DEFAULT '',
		cancelled_by TEXT,
		no_show_reported_at TEXT,
		dispute_opened_at TEXT,
		dispute_note TEXT NOT NULL DEFAULT '',
		pending_reschedule_start_at TEXT,
		pending_reschedule_end_at TEXT,
		reschedule_requested_by TEXT,
		student_reschedule_count INTEGER NOT NULL DEFAULT 0,
		mentor_reschedule_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Conflict detection scans a mentor's live bookings by time (hot path)
	CREATE INDEX IF NOT EXISTS idx_bookings_mentor_status_start
		ON bookings(mentor_id, status, start_at);
	CREATE INDEX IF NOT EXISTS idx_bookings_student
		ON bookings(student_id, start_at);
	CREATE INDEX IF NOT EXISTS idx_bookings_status_created
		ON bookings(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_bookings_status_end
		ON bookings(status, end_at);

	-- Ledger entries (append-only; no UPDATE or DELETE in this package)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		account TEXT NOT NULL,
		direction TEXT NOT NULL,
		amount_value TEXT NOT NULL,
		amount_currency TEXT NOT NULL,
		owner_id TEXT,
		ref_type TEXT NOT NULL,
		ref_id TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Balance derivation (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_owner_account
		ON ledger_entries(owner_id, account);
	CREATE INDEX IF NOT EXISTS idx_entries_ref
		ON ledger_entries(ref_type, ref_id);

	-- Payout requests
	CREATE TABLE IF NOT EXISTS payout_requests (
		id TEXT PRIMARY KEY,
		mentor_id TEXT NOT NULL,
		amount_value TEXT NOT NULL,
		amount_currency TEXT NOT NULL,
		status TEXT NOT NULL,
		mentor_note TEXT NOT NULL DEFAULT '',
		admin_note TEXT NOT NULL DEFAULT '',
		decided_by TEXT,
		decided_at TEXT,
		requested_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: at most one live request per mentor, enforced by the
	-- database so concurrent submissions cannot both land
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payouts_one_pending
		ON payout_requests(mentor_id) WHERE status = 'pending';
	CREATE INDEX IF NOT EXISTS idx_payouts_mentor
		ON payout_requests(mentor_id, requested_at DESC);
	CREATE INDEX IF NOT EXISTS idx_payouts_status
		ON payout_requests(status);

	-- Durable deferred jobs (escrow release, session reminders)
	CREATE TABLE IF NOT EXISTS scheduled_jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		run_at TEXT NOT NULL,
		done BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_due
		ON scheduled_jobs(done, run_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// UNIT OF WORK (core.UnitOfWork interface)
// =============================================================================

type txKey struct{}

// querier is the common surface of *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// h returns the context's open transaction, or the bare connection.
func (s *Store) h(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// WithTx runs fn inside a database transaction threaded through the
// context. Nested calls join the open transaction; only the outermost
// commits.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// JOB SCHEDULER (core.JobScheduler interface)
// =============================================================================

// Schedule persists a deferred job. Jobs survive restarts and fire from the
// sweeper, never from an in-process timer.
func (s *Store) Schedule(ctx context.Context, kind core.JobKind, payload string, runAt time.Time) error {
	_, err := s.h(ctx).ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, kind, payload, run_at, done, created_at)
		VALUES (?, ?, ?, ?, FALSE, ?)`,
		core.NewID(), string(kind), payload, fmtTime(runAt), fmtTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}
	return nil
}

// DueJobs returns undone jobs with run_at <= now, oldest first.
func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]core.Job, error) {
	rows, err := s.h(ctx).QueryContext(ctx, `
		SELECT id, kind, payload, run_at FROM scheduled_jobs
		WHERE done = FALSE AND run_at <= ?
		ORDER BY run_at ASC LIMIT ?`,
		fmtTime(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []core.Job
	for rows.Next() {
		var j core.Job
		var kind, runAt string
		if err := rows.Scan(&j.ID, &kind, &j.Payload, &runAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		j.Kind = core.JobKind(kind)
		j.RunAt = parseTime(runAt)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// MarkJobDone flags a job so it never fires again.
func (s *Store) MarkJobDone(ctx context.Context, id string) error {
	_, err := s.h(ctx).ExecContext(ctx,
		`UPDATE scheduled_jobs SET done = TRUE WHERE id = ?`, id)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// fmtTime stores second precision so stored strings compare
// lexicographically in time order.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func userPtr(ns sql.NullString) *core.UserID {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	u := core.UserID(ns.String)
	return &u
}

func userNull(u *core.UserID) sql.NullString {
	if u == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*u), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
