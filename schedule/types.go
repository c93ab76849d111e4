/*
Package schedule turns a mentor's recurring availability into bookable slots.

PURPOSE:
  Two components live here, lowest in the dependency graph:
  - Resolver: a pure function from (template, rules, overrides, window) to
    the deterministic set of bookable time windows.
  - Inventory: the materialized, individually claimable slot records derived
    from the resolver, with atomic claim/release.

KEY CONCEPTS IN THIS FILE (types.go):
  - Template: per-mentor (default) or per-offering scheduling policy
  - Rule: weekly recurrence (weekday + minute range + slot index)
  - Override: a calendar date that blocks or replaces the rules
  - Slot: a concrete bookable window with an IsBooked flag

INVARIANTS:
  - Exactly one template per mentor has IsDefault = true
  - The default template is never deleted while referenced
  - A slot transitions to booked only through an atomic claim
  - Booked slots are never deleted by re-resolution

SEE ALSO:
  - resolver.go: rules+overrides -> windows
  - inventory.go: windows -> persisted slots, claim/release
*/
package schedule

import (
	"time"

	"github.com/mentorhive/booking-engine/core"
)

// =============================================================================
// TEMPLATE - Scheduling policy owned by a mentor
// =============================================================================

// DefaultBufferMinutes is the hard-coded fallback when neither the offering's
// custom template nor the mentor's default template resolves.
const DefaultBufferMinutes = 15

type Template struct {
	ID        core.TemplateID
	OwnerID   core.UserID
	Name      string
	Timezone  string // IANA name; rule minutes are interpreted here
	IsDefault bool

	MinNoticeHours         int
	MaxBookingDaysAhead    int
	BufferAfterMinutes     int
	SlotGranularityMinutes int
	MaxBookingsPerDay      int // 0 = unlimited

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t Template) Validate() error {
	if t.OwnerID == "" {
		return &core.ValidationError{Field: "owner_id", Message: "required"}
	}
	if t.SlotGranularityMinutes <= 0 {
		return &core.ValidationError{Field: "slot_granularity_minutes", Message: "must be positive"}
	}
	if t.MinNoticeHours < 0 || t.MaxBookingDaysAhead < 0 || t.BufferAfterMinutes < 0 || t.MaxBookingsPerDay < 0 {
		return &core.ValidationError{Field: "policy", Message: "negative values not allowed"}
	}
	if t.Timezone != "" {
		if _, err := time.LoadLocation(t.Timezone); err != nil {
			return &core.ValidationError{Field: "timezone", Message: "unknown timezone " + t.Timezone}
		}
	}
	return nil
}

// Location resolves the template timezone, defaulting to UTC.
func (t Template) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// =============================================================================
// RULE - Weekly recurring availability
// =============================================================================

// Rule declares one recurring range on a weekday. SlotIndex orders multiple
// disjoint ranges on the same day.
type Rule struct {
	ID          string
	TemplateID  core.TemplateID
	Weekday     time.Weekday
	StartMinute int // minutes from midnight in the template timezone
	EndMinute   int
	SlotIndex   int
	IsActive    bool
}

func (r Rule) Validate() error {
	if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
		return &core.ValidationError{Field: "weekday", Message: "out of range"}
	}
	if r.StartMinute < 0 || r.EndMinute > 24*60 || r.StartMinute >= r.EndMinute {
		return &core.ValidationError{Field: "time_range", Message: "start must precede end within the day"}
	}
	return nil
}

// =============================================================================
// OVERRIDE - Date-specific exception, strictly dominates rules
// =============================================================================

// Override either removes a date's availability entirely (Blocked) or
// replaces it with one explicit minute range.
type Override struct {
	ID          string
	TemplateID  core.TemplateID
	Date        string // "2006-01-02" in the template timezone
	Blocked     bool
	StartMinute int
	EndMinute   int
	Reason      string
}

func (o Override) Validate() error {
	if _, err := time.Parse("2006-01-02", o.Date); err != nil {
		return &core.ValidationError{Field: "date", Message: "expected YYYY-MM-DD"}
	}
	if !o.Blocked {
		if o.StartMinute < 0 || o.EndMinute > 24*60 || o.StartMinute >= o.EndMinute {
			return &core.ValidationError{Field: "time_range", Message: "start must precede end within the day"}
		}
	}
	return nil
}

// =============================================================================
// SLOT - Materialized bookable window
// =============================================================================

type Slot struct {
	ID         core.SlotID
	OwnerID    core.UserID
	TemplateID *core.TemplateID // nil = created manually against the default
	StartAt    time.Time        // UTC
	EndAt      time.Time        // UTC
	IsBooked   bool
	CreatedAt  time.Time
}

// Covers reports whether the slot fully contains [start, end).
func (s Slot) Covers(start, end time.Time) bool {
	return !s.StartAt.After(start) && !s.EndAt.Before(end)
}

// Window is a resolved bookable interval before materialization.
type Window struct {
	Start time.Time
	End   time.Time
}
