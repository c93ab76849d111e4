/*
schedule.go - Template, rule, override and slot persistence

CLAIM ARBITRATION:
  ClaimSlot is a single conditional UPDATE on is_booked = 0. The database
  decides which concurrent claim wins; the loser sees zero rows affected
  and gets core.ErrConflict.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mentorhive/booking-engine/core"
	"github.com/mentorhive/booking-engine/schedule"
)

// =============================================================================
// TEMPLATES (schedule.TemplateStore interface)
// =============================================================================

func (s *Store) SaveTemplate(ctx context.Context, t schedule.Template) error {
	_, err := s.h(ctx).ExecContext(ctx, `
		INSERT INTO availability_templates
		(id, owner_id, name, timezone, is_default, min_notice_hours,
		 max_booking_days_ahead, buffer_after_minutes, slot_granularity_minutes,
		 max_bookings_per_day, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			timezone = excluded.timezone,
			is_default = excluded.is_default,
			min_notice_hours = excluded.min_notice_hours,
			max_booking_days_ahead = excluded.max_booking_days_ahead,
			buffer_after_minutes = excluded.buffer_after_minutes,
			slot_granularity_minutes = excluded.slot_granularity_minutes,
			max_bookings_per_day = excluded.max_bookings_per_day,
			updated_at = excluded.updated_at`,
		string(t.ID), string(t.OwnerID), t.Name, t.Timezone, t.IsDefault,
		t.MinNoticeHours, t.MaxBookingDaysAhead, t.BufferAfterMinutes,
		t.SlotGranularityMinutes, t.MaxBookingsPerDay,
		fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &core.ConflictError{Resource: "template", ID: string(t.ID), Detail: "owner already has a default template"}
		}
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, id core.TemplateID) (*schedule.Template, error) {
	row := s.h(ctx).QueryRowContext(ctx,
		selectTemplate+` WHERE id = ?`, string(id))
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Kind: "template", ID: string(id)}
	}
	return t, err
}

func (s *Store) DefaultTemplate(ctx context.Context, owner core.UserID) (*schedule.Template, error) {
	row := s.h(ctx).QueryRowContext(ctx,
		selectTemplate+` WHERE owner_id = ? AND is_default`, string(owner))
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Kind: "template", ID: "default:" + string(owner)}
	}
	return t, err
}

func (s *Store) ListTemplates(ctx context.Context, owner core.UserID) ([]schedule.Template, error) {
	rows, err := s.h(ctx).QueryContext(ctx,
		selectTemplate+` WHERE owner_id = ? ORDER BY created_at`, string(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var out []schedule.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTemplate(ctx context.Context, id core.TemplateID) error {
	res, err := s.h(ctx).ExecContext(ctx,
		`DELETE FROM availability_templates WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.NotFoundError{Kind: "template", ID: string(id)}
	}
	_, err = s.h(ctx).ExecContext(ctx,
		`DELETE FROM availability_rules WHERE template_id = ?`, string(id))
	if err != nil {
		return err
	}
	_, err = s.h(ctx).ExecContext(ctx,
		`DELETE FROM availability_overrides WHERE template_id = ?`, string(id))
	return err
}

func (s *Store) ClearDefault(ctx context.Context, owner core.UserID) error {
	_, err := s.h(ctx).ExecContext(ctx,
		`UPDATE availability_templates SET is_default = FALSE WHERE owner_id = ?`,
		string(owner))
	return err
}

const selectTemplate = `
	SELECT id, owner_id, name, timezone, is_default, min_notice_hours,
	       max_booking_days_ahead, buffer_after_minutes, slot_granularity_minutes,
	       max_bookings_per_day, created_at, updated_at
	FROM availability_templates`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*schedule.Template, error) {
	var t schedule.Template
	var id, owner, createdAt, updatedAt string
	err := row.Scan(&id, &owner, &t.Name, &t.Timezone, &t.IsDefault,
		&t.MinNoticeHours, &t.MaxBookingDaysAhead, &t.BufferAfterMinutes,
		&t.SlotGranularityMinutes, &t.MaxBookingsPerDay, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.ID = core.TemplateID(id)
	t.OwnerID = core.UserID(owner)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

// =============================================================================
// RULES
// =============================================================================

func (s *Store) SaveRule(ctx context.Context, r schedule.Rule) error {
	_, err := s.h(ctx).ExecContext(ctx, `
		INSERT INTO availability_rules
		(id, template_id, weekday, start_minute, end_minute, slot_index, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			weekday = excluded.weekday,
			start_minute = excluded.start_minute,
			end_minute = excluded.end_minute,
			slot_index = excluded.slot_index,
			is_active = excluded.is_active`,
		r.ID, string(r.TemplateID), int(r.Weekday), r.StartMinute, r.EndMinute,
		r.SlotIndex, r.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

func (s *Store) ListRules(ctx context.Context, template core.TemplateID) ([]schedule.Rule, error) {
	rows, err := s.h(ctx).QueryContext(ctx, `
		SELECT id, template_id, weekday, start_minute, end_minute, slot_index, is_active
		FROM availability_rules WHERE template_id = ?
		ORDER BY weekday, slot_index`,
		string(template))
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []schedule.Rule
	for rows.Next() {
		var r schedule.Rule
		var tmpl string
		var weekday int
		if err := rows.Scan(&r.ID, &tmpl, &weekday, &r.StartMinute, &r.EndMinute,
			&r.SlotIndex, &r.IsActive); err != nil {
			return nil, err
		}
		r.TemplateID = core.TemplateID(tmpl)
		r.Weekday = time.Weekday(weekday)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.h(ctx).ExecContext(ctx,
		`DELETE FROM availability_rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.NotFoundError{Kind: "rule", ID: id}
	}
	return nil
}

// =============================================================================
// OVERRIDES
// =============================================================================

func (s *Store) SaveOverride(ctx context.Context, o schedule.Override) error {
	_, err := s.h(ctx).ExecContext(ctx, `
		INSERT INTO availability_overrides
		(id, template_id, date, blocked, start_minute, end_minute, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(template_id, date) DO UPDATE SET
			blocked = excluded.blocked,
			start_minute = excluded.start_minute,
			end_minute = excluded.end_minute,
			reason = excluded.reason`,
		o.ID, string(o.TemplateID), o.Date, o.Blocked, o.StartMinute, o.EndMinute, o.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to save override: %w", err)
	}
	return nil
}

func (s *Store) ListOverrides(ctx context.Context, template core.TemplateID) ([]schedule.Override, error) {
	rows, err := s.h(ctx).QueryContext(ctx, `
		SELECT id, template_id, date, blocked, start_minute, end_minute, reason
		FROM availability_overrides WHERE template_id = ?
		ORDER BY date`,
		string(template))
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	var out []schedule.Override
	for rows.Next() {
		var o schedule.Override
		var tmpl string
		if err := rows.Scan(&o.ID, &tmpl, &o.Date, &o.Blocked, &o.StartMinute,
			&o.EndMinute, &o.Reason); err != nil {
			return nil, err
		}
		o.TemplateID = core.TemplateID(tmpl)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) DeleteOverride(ctx context.Context, id string) error {
	res, err := s.h(ctx).ExecContext(ctx,
		`DELETE FROM availability_overrides WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.NotFoundError{Kind: "override", ID: id}
	}
	return nil
}

// =============================================================================
// SLOTS (schedule.SlotStore interface)
// =============================================================================

func (s *Store) InsertSlots(ctx context.Context, slots []schedule.Slot) error {
	for _, sl := range slots {
		var tmpl sql.NullString
		if sl.TemplateID != nil {
			tmpl = sql.NullString{String: string(*sl.TemplateID), Valid: true}
		}
		_, err := s.h(ctx).ExecContext(ctx, `
			INSERT INTO availability_slots
			(id, owner_id, template_id, start_at, end_at, is_booked, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(sl.ID), string(sl.OwnerID), tmpl,
			fmtTime(sl.StartAt), fmtTime(sl.EndAt), sl.IsBooked, fmtTime(sl.CreatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return &core.ConflictError{Resource: "slot", ID: string(sl.ID), Detail: "a slot already starts at this time"}
			}
			return fmt.Errorf("failed to insert slot: %w", err)
		}
	}
	return nil
}

func (s *Store) GetSlot(ctx context.Context, id core.SlotID) (*schedule.Slot, error) {
	row := s.h(ctx).QueryRowContext(ctx,
		selectSlot+` WHERE id = ?`, string(id))
	sl, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Kind: "slot", ID: string(id)}
	}
	return sl, err
}

func (s *Store) ListSlots(ctx context.Context, owner core.UserID, template *core.TemplateID, from, to time.Time) ([]schedule.Slot, error) {
	query := selectSlot + ` WHERE owner_id = ? AND start_at >= ? AND start_at < ?`
	args := []any{string(owner), fmtTime(from), fmtTime(to)}
	if template != nil {
		query += ` AND template_id = ?`
		args = append(args, string(*template))
	}
	query += ` ORDER BY start_at`

	rows, err := s.h(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	defer rows.Close()

	var out []schedule.Slot
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sl)
	}
	return out, rows.Err()
}

func (s *Store) FindCovering(ctx context.Context, owner core.UserID, start, end time.Time) (*schedule.Slot, error) {
	row := s.h(ctx).QueryRowContext(ctx,
		selectSlot+` WHERE owner_id = ? AND is_booked = FALSE
			AND start_at <= ? AND end_at >= ?
		ORDER BY start_at LIMIT 1`,
		string(owner), fmtTime(start), fmtTime(end))
	sl, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Kind: "slot", ID: "covering:" + fmtTime(start)}
	}
	return sl, err
}

// ClaimSlot flips is_booked 0 -> 1 in one conditional write.
func (s *Store) ClaimSlot(ctx context.Context, id core.SlotID) error {
	res, err := s.h(ctx).ExecContext(ctx, `
		UPDATE availability_slots SET is_booked = TRUE
		WHERE id = ? AND is_booked = FALSE`,
		string(id))
	if err != nil {
		return fmt.Errorf("failed to claim slot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish a lost race from a missing slot.
		var exists bool
		err := s.h(ctx).QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM availability_slots WHERE id = ?)`,
			string(id)).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return &core.NotFoundError{Kind: "slot", ID: string(id)}
		}
		return &core.ConflictError{Resource: "slot", ID: string(id), Detail: "slot is already booked"}
	}
	return nil
}

func (s *Store) ReleaseSlot(ctx context.Context, id core.SlotID) error {
	res, err := s.h(ctx).ExecContext(ctx,
		`UPDATE availability_slots SET is_booked = FALSE WHERE id = ?`,
		string(id))
	if err != nil {
		return fmt.Errorf("failed to release slot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.NotFoundError{Kind: "slot", ID: string(id)}
	}
	return nil
}

// DeleteSlot removes a slot only while unbooked.
func (s *Store) DeleteSlot(ctx context.Context, id core.SlotID) error {
	res, err := s.h(ctx).ExecContext(ctx,
		`DELETE FROM availability_slots WHERE id = ? AND is_booked = FALSE`,
		string(id))
	if err != nil {
		return fmt.Errorf("failed to delete slot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.ConflictError{Resource: "slot", ID: string(id), Detail: "slot is booked or missing"}
	}
	return nil
}

const selectSlot = `
	SELECT id, owner_id, template_id, start_at, end_at, is_booked, created_at
	FROM availability_slots`

func scanSlot(row rowScanner) (*schedule.Slot, error) {
	var sl schedule.Slot
	var id, owner, startAt, endAt, createdAt string
	var tmpl sql.NullString
	err := row.Scan(&id, &owner, &tmpl, &startAt, &endAt, &sl.IsBooked, &createdAt)
	if err != nil {
		return nil, err
	}
	sl.ID = core.SlotID(id)
	sl.OwnerID = core.UserID(owner)
	if tmpl.Valid {
		t := core.TemplateID(tmpl.String)
		sl.TemplateID = &t
	}
	sl.StartAt = parseTime(startAt)
	sl.EndAt = parseTime(endAt)
	sl.CreatedAt = parseTime(createdAt)
	return &sl, nil
}
