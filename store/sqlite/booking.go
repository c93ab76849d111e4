/*
booking.go - Booking and offering persistence

CAS UPDATES:
  UpdateBookingIf writes the whole row conditioned on the stored status
  still matching the caller's expectation. Zero rows affected means another
  writer transitioned the booking first; the caller gets core.ErrConflict
  and must re-read.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mentorhive/booking-engine/booking"
	"github.com/mentorhive/booking-engine/core"
)

// =============================================================================
// OFFERINGS (booking.OfferingStore interface)
// =============================================================================

func (s *Store) SaveOffering(ctx context.Context, o booking.Offering) error {
	var tmpl sql.NullString
	if o.TemplateID != nil {
		tmpl = sql.NullString{String: string(*o.TemplateID), Valid: true}
	}
	_, err := s.h(ctx).ExecContext(ctx, `
		INSERT INTO offerings
		(id, mentor_id, title, duration_minutes, price_value, price_currency,
		 is_active, template_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			duration_minutes = excluded.duration_minutes,
			price_value = excluded.price_value,
			price_currency = excluded.price_currency,
			is_active = excluded.is_active,
			template_id = excluded.template_id`,
		string(o.ID), string(o.MentorID), o.Title, o.DurationMinutes,
		o.Price.Value.String(), o.Price.Currency, o.IsActive, tmpl,
		fmtTime(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save offering: %w", err)
	}
	return nil
}

func (s *Store) GetOffering(ctx context.Context, id core.OfferingID) (*booking.Offering, error) {
	row := s.h(ctx).QueryRowContext(ctx, `
		SELECT id, mentor_id, title, duration_minutes, price_value, price_currency,
		       is_active, template_id, created_at
		FROM offerings WHERE id = ?`,
		string(id))

	var o booking.Offering
	var oid, mentor, priceValue, createdAt string
	var tmpl sql.NullString
	err := row.Scan(&oid, &mentor, &o.Title, &o.DurationMinutes, &priceValue,
		&o.Price.Currency, &o.IsActive, &tmpl, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Kind: "offering", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan offering: %w", err)
	}
	o.ID = core.OfferingID(oid)
	o.MentorID = core.UserID(mentor)
	o.Price.Value, err = decimal.NewFromString(priceValue)
	if err != nil {
		return nil, fmt.Errorf("failed to parse offering price: %w", err)
	}
	if tmpl.Valid {
		t := core.TemplateID(tmpl.String)
		o.TemplateID = &t
	}
	o.CreatedAt = parseTime(createdAt)
	return &o, nil
}

func (s *Store) ListOfferings(ctx context.Context, mentor core.UserID) ([]booking.Offering, error) {
	rows, err := s.h(ctx).QueryContext(ctx,
		`SELECT id FROM offerings WHERE mentor_id = ? ORDER BY created_at`,
		string(mentor))
	if err != nil {
		return nil, fmt.Errorf("failed to list offerings: %w", err)
	}
	defer rows.Close()

	var ids []core.OfferingID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, core.OfferingID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []booking.Offering
	for _, id := range ids {
		o, err := s.GetOffering(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}

// =============================================================================
// BOOKINGS (booking.Store interface)
// =============================================================================

func (s *Store) InsertBooking(ctx context.Context, b booking.Booking) error {
	var slot sql.NullString
	if b.SlotID != nil {
		slot = sql.NullString{String: string(*b.SlotID), Valid: true}
	}
	_, err := s.h(ctx).ExecContext(ctx, `
		INSERT INTO bookings
		(id, student_id, mentor_id, offering_id, slot_id, start_at, end_at,
		 duration_minutes, price_value, price_currency, status,
		 cancellation_reason, cancelled_by, no_show_reported_at,
		 dispute_opened_at, dispute_note, pending_reschedule_start_at,
		 pending_reschedule_end_at, reschedule_requested_by,
		 student_reschedule_count, mentor_reschedule_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(b.ID), string(b.StudentID), string(b.MentorID), string(b.OfferingID),
		slot, fmtTime(b.StartAt), fmtTime(b.EndAt), b.DurationMinutes,
		b.Price.Value.String(), b.Price.Currency, string(b.Status),
		b.CancellationReason, userNull(b.CancelledBy), nullTime(b.NoShowReportedAt),
		nullTime(b.DisputeOpenedAt), b.DisputeNote,
		nullTime(b.PendingRescheduleStartAt), nullTime(b.PendingRescheduleEndAt),
		userNull(b.RescheduleRequestedBy), b.StudentRescheduleCount,
		b.MentorRescheduleCount, fmtTime(b.CreatedAt), fmtTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id core.BookingID) (*booking.Booking, error) {
	row := s.h(ctx).QueryRowContext(ctx,
		selectBooking+` WHERE id = ?`, string(id))
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Kind: "booking", ID: string(id)}
	}
	return b, err
}

// UpdateBookingIf is the CAS write behind every status transition.
func (s *Store) UpdateBookingIf(ctx context.Context, b booking.Booking, expected booking.Status) error {
	var slot sql.NullString
	if b.SlotID != nil {
		slot = sql.NullString{String: string(*b.SlotID), Valid: true}
	}
	res, err := s.h(ctx).ExecContext(ctx, `
		UPDATE bookings SET
			slot_id = ?,
			start_at = ?,
			end_at = ?,
			duration_minutes = ?,
			status = ?,
			cancellation_reason = ?,
			cancelled_by = ?,
			no_show_reported_at = ?,
			dispute_opened_at = ?,
			dispute_note = ?,
			pending_reschedule_start_at = ?,
			pending_reschedule_end_at = ?,
			reschedule_requested_by = ?,
			student_reschedule_count = ?,
			mentor_reschedule_count = ?,
			updated_at = ?
		WHERE id = ? AND status = ?`,
		slot, fmtTime(b.StartAt), fmtTime(b.EndAt), b.DurationMinutes,
		string(b.Status), b.CancellationReason, userNull(b.CancelledBy),
		nullTime(b.NoShowReportedAt), nullTime(b.DisputeOpenedAt), b.DisputeNote,
		nullTime(b.PendingRescheduleStartAt), nullTime(b.PendingRescheduleEndAt),
		userNull(b.RescheduleRequestedBy), b.StudentRescheduleCount,
		b.MentorRescheduleCount, fmtTime(b.UpdatedAt),
		string(b.ID), string(expected),
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		err := s.h(ctx).QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM bookings WHERE id = ?)`,
			string(b.ID)).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return &core.NotFoundError{Kind: "booking", ID: string(b.ID)}
		}
		return &core.ConflictError{Resource: "booking", ID: string(b.ID), Detail: "booking changed concurrently"}
	}
	return nil
}

func (s *Store) BlockingByMentor(ctx context.Context, mentor core.UserID, from, to time.Time) ([]booking.Booking, error) {
	return s.queryBookings(ctx,
		selectBooking+` WHERE mentor_id = ?
			AND status IN (?, ?)
			AND start_at < ? AND end_at > ?
		ORDER BY start_at`,
		string(mentor), string(booking.StatusPendingPayment), string(booking.StatusConfirmed),
		fmtTime(to), fmtTime(from))
}

func (s *Store) ListByStudent(ctx context.Context, student core.UserID) ([]booking.Booking, error) {
	return s.queryBookings(ctx,
		selectBooking+` WHERE student_id = ? ORDER BY start_at DESC`,
		string(student))
}

func (s *Store) ListByMentor(ctx context.Context, mentor core.UserID) ([]booking.Booking, error) {
	return s.queryBookings(ctx,
		selectBooking+` WHERE mentor_id = ? ORDER BY start_at DESC`,
		string(mentor))
}

func (s *Store) StalePendingPayment(ctx context.Context, createdBefore time.Time) ([]booking.Booking, error) {
	return s.queryBookings(ctx,
		selectBooking+` WHERE status = ? AND created_at < ? ORDER BY created_at`,
		string(booking.StatusPendingPayment), fmtTime(createdBefore))
}

func (s *Store) ConfirmedEndedBefore(ctx context.Context, endedBefore time.Time) ([]booking.Booking, error) {
	return s.queryBookings(ctx,
		selectBooking+` WHERE status = ? AND end_at < ? ORDER BY end_at`,
		string(booking.StatusConfirmed), fmtTime(endedBefore))
}

func (s *Store) queryBookings(ctx context.Context, query string, args ...any) ([]booking.Booking, error) {
	rows, err := s.h(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var out []booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

const selectBooking = `
	SELECT id, student_id, mentor_id, offering_id, slot_id, start_at, end_at,
	       duration_minutes, price_value, price_currency, status,
	       cancellation_reason, cancelled_by, no_show_reported_at,
	       dispute_opened_at, dispute_note, pending_reschedule_start_at,
	       pending_reschedule_end_at, reschedule_requested_by,
	       student_reschedule_count, mentor_reschedule_count, created_at, updated_at
	FROM bookings`

func scanBooking(row rowScanner) (*booking.Booking, error) {
	var b booking.Booking
	var id, student, mentor, offering, startAt, endAt, priceValue, status, createdAt, updatedAt string
	var slot, cancelledBy, noShowAt, disputeAt, pendStart, pendEnd, requestedBy sql.NullString

	err := row.Scan(&id, &student, &mentor, &offering, &slot, &startAt, &endAt,
		&b.DurationMinutes, &priceValue, &b.Price.Currency, &status,
		&b.CancellationReason, &cancelledBy, &noShowAt, &disputeAt, &b.DisputeNote,
		&pendStart, &pendEnd, &requestedBy, &b.StudentRescheduleCount,
		&b.MentorRescheduleCount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	b.ID = core.BookingID(id)
	b.StudentID = core.UserID(student)
	b.MentorID = core.UserID(mentor)
	b.OfferingID = core.OfferingID(offering)
	if slot.Valid {
		sid := core.SlotID(slot.String)
		b.SlotID = &sid
	}
	b.StartAt = parseTime(startAt)
	b.EndAt = parseTime(endAt)
	b.Price.Value, err = decimal.NewFromString(priceValue)
	if err != nil {
		return nil, fmt.Errorf("failed to parse booking price: %w", err)
	}
	b.Status = booking.Status(status)
	b.CancelledBy = userPtr(cancelledBy)
	b.NoShowReportedAt = timePtr(noShowAt)
	b.DisputeOpenedAt = timePtr(disputeAt)
	b.PendingRescheduleStartAt = timePtr(pendStart)
	b.PendingRescheduleEndAt = timePtr(pendEnd)
	b.RescheduleRequestedBy = userPtr(requestedBy)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}
