/*
payout.go - Payout request persistence

ONE LIVE REQUEST:
  The partial unique index idx_payouts_one_pending is the arbiter for the
  one-pending-request rule. InsertRequest maps its violation to
  core.ErrConflict.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mentorhive/booking-engine/core"
	"github.com/mentorhive/booking-engine/payout"
)

func (s *Store) InsertRequest(ctx context.Context, r payout.Request) error {
	_, err := s.h(ctx).ExecContext(ctx, `
		INSERT INTO payout_requests
		(id, mentor_id, amount_value, amount_currency, status, mentor_note,
		 admin_note, decided_by, decided_at, requested_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.ID), string(r.MentorID), r.Amount.Value.String(),
		r.Amount.Currency, string(r.Status), r.MentorNote, r.AdminNote,
		userNull(r.DecidedBy), nullTime(r.DecidedAt), fmtTime(r.RequestedAt), fmtTime(r.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &core.ConflictError{Resource: "payout", ID: string(r.ID), Detail: "mentor already has a pending payout request"}
		}
		return fmt.Errorf("failed to insert payout request: %w", err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id core.PayoutID) (*payout.Request, error) {
	row := s.h(ctx).QueryRowContext(ctx,
		selectPayout+` WHERE id = ?`, string(id))
	r, err := scanPayout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Kind: "payout", ID: string(id)}
	}
	return r, err
}

// UpdateRequestIf lands only while the stored status matches expected.
func (s *Store) UpdateRequestIf(ctx context.Context, r payout.Request, expected payout.Status) error {
	res, err := s.h(ctx).ExecContext(ctx, `
		UPDATE payout_requests SET
			status = ?, admin_note = ?, decided_by = ?, decided_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(r.Status), r.AdminNote, userNull(r.DecidedBy), nullTime(r.DecidedAt),
		fmtTime(r.UpdatedAt), string(r.ID), string(expected),
	)
	if err != nil {
		return fmt.Errorf("failed to update payout request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		err := s.h(ctx).QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM payout_requests WHERE id = ?)`,
			string(r.ID)).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return &core.NotFoundError{Kind: "payout", ID: string(r.ID)}
		}
		return &core.ConflictError{Resource: "payout", ID: string(r.ID), Detail: "request changed concurrently"}
	}
	return nil
}

func (s *Store) ListRequestsByMentor(ctx context.Context, mentor core.UserID) ([]payout.Request, error) {
	return s.queryPayouts(ctx,
		selectPayout+` WHERE mentor_id = ? ORDER BY requested_at DESC`,
		string(mentor))
}

func (s *Store) ListRequestsByStatus(ctx context.Context, status payout.Status) ([]payout.Request, error) {
	return s.queryPayouts(ctx,
		selectPayout+` WHERE status = ? ORDER BY requested_at`,
		string(status))
}

func (s *Store) queryPayouts(ctx context.Context, query string, args ...any) ([]payout.Request, error) {
	rows, err := s.h(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payout requests: %w", err)
	}
	defer rows.Close()

	var out []payout.Request
	for rows.Next() {
		r, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

const selectPayout = `
	SELECT id, mentor_id, amount_value, amount_currency, status, mentor_note,
	       admin_note, decided_by, decided_at, requested_at, updated_at
	FROM payout_requests`

func scanPayout(row rowScanner) (*payout.Request, error) {
	var r payout.Request
	var id, mentor, amountValue, status, requestedAt, updatedAt string
	var decidedBy, decidedAt sql.NullString
	err := row.Scan(&id, &mentor, &amountValue, &r.Amount.Currency, &status,
		&r.MentorNote, &r.AdminNote, &decidedBy, &decidedAt, &requestedAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.ID = core.PayoutID(id)
	r.MentorID = core.UserID(mentor)
	r.Amount.Value, err = decimal.NewFromString(amountValue)
	if err != nil {
		return nil, fmt.Errorf("failed to parse payout amount: %w", err)
	}
	r.Status = payout.Status(status)
	r.DecidedBy = userPtr(decidedBy)
	r.DecidedAt = timePtr(decidedAt)
	r.RequestedAt = parseTime(requestedAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}
