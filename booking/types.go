/*
Package booking owns the session booking lifecycle.

PURPOSE:
  The state machine that drives a booking from creation through payment,
  completion, cancellation, no-shows and disputes, plus the two-party
  reschedule negotiation and the time-conflict predicate shared by creation
  and reschedule approval.

STATE MACHINE:

  PendingPayment ──confirm──▶ Confirmed ──▶ Completed ──▶ Disputed
        │                        │   │                       │
      expire                  cancel  ├─▶ StudentNoShow      ├─▶ Cancelled (student favor)
        │                        │   └─▶ MentorNoShow       └─▶ Completed  (mentor favor)
        ▼                        ▼
     Expired                 Cancelled

  All terminal states are sinks. Disputed is reachable only from bookings
  that are completion-eligible (past end time) or already Completed.

OWNERSHIP:
  The Booking entity is mutated only through Service transition methods,
  never by direct field assignment elsewhere. Cross-entity relations are id
  references resolved through stores; no live back-pointers.
*/
package booking

import (
	"context"
	"time"

	"github.com/mentorhive/booking-engine/core"
)

// =============================================================================
// STATUS - Closed set, matched exhaustively
// =============================================================================

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusConfirmed      Status = "confirmed"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusDisputed       Status = "disputed"
	StatusStudentNoShow  Status = "student_no_show"
	StatusMentorNoShow   Status = "mentor_no_show"
	StatusExpired        Status = "expired"
)

// Terminal reports whether the status is a sink.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusStudentNoShow, StatusMentorNoShow, StatusExpired:
		return true
	case StatusPendingPayment, StatusConfirmed, StatusDisputed:
		return false
	}
	return false
}

// Blocking reports whether a booking in this status occupies the mentor's
// calendar for conflict detection.
func (s Status) Blocking() bool {
	return s == StatusPendingPayment || s == StatusConfirmed
}

// DisputeOutcome is the admin's resolution, matched exhaustively.
type DisputeOutcome int

const (
	OutcomeStudentFavor DisputeOutcome = iota
	OutcomeMentorFavor
)

func (o DisputeOutcome) String() string {
	switch o {
	case OutcomeStudentFavor:
		return "student_favor"
	case OutcomeMentorFavor:
		return "mentor_favor"
	}
	return "unknown"
}

// =============================================================================
// OFFERING - A mentor's sellable session type
// =============================================================================

type Offering struct {
	ID              core.OfferingID
	MentorID        core.UserID
	Title           string
	DurationMinutes int
	Price           core.Money
	IsActive        bool
	// TemplateID points at a dedicated availability template when the
	// offering overrides the mentor's default schedule.
	TemplateID *core.TemplateID
	CreatedAt  time.Time
}

// =============================================================================
// BOOKING
// =============================================================================

type Booking struct {
	ID         core.BookingID
	StudentID  core.UserID
	MentorID   core.UserID
	OfferingID core.OfferingID
	SlotID     *core.SlotID

	StartAt         time.Time
	EndAt           time.Time
	DurationMinutes int
	Price           core.Money // snapshot of the offering price at creation

	Status             Status
	CancellationReason string
	CancelledBy        *core.UserID

	NoShowReportedAt *time.Time
	DisputeOpenedAt  *time.Time
	DisputeNote      string

	// Pending reschedule proposal; committed times stay untouched until the
	// counter-party approves.
	PendingRescheduleStartAt *time.Time
	PendingRescheduleEndAt   *time.Time
	RescheduleRequestedBy    *core.UserID
	StudentRescheduleCount   int
	MentorRescheduleCount    int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsParticipant reports whether the user is a party to the booking.
func (b Booking) IsParticipant(u core.UserID) bool {
	return u == b.StudentID || u == b.MentorID
}

// HasPendingReschedule reports whether a proposal awaits a decision.
func (b Booking) HasPendingReschedule() bool {
	return b.PendingRescheduleStartAt != nil && b.PendingRescheduleEndAt != nil
}

// CompletionEligible reports whether the listed session time has fully
// elapsed.
func (b Booking) CompletionEligible(now time.Time) bool {
	return !now.Before(b.EndAt)
}

// =============================================================================
// STORES
// =============================================================================

// Store persists bookings. UpdateIf is the CAS primitive every transition
// uses: the write lands only while the stored status still equals expected,
// otherwise core.ErrConflict.
type Store interface {
	InsertBooking(ctx context.Context, b Booking) error
	GetBooking(ctx context.Context, id core.BookingID) (*Booking, error)
	UpdateBookingIf(ctx context.Context, b Booking, expected Status) error
	// BlockingByMentor returns the mentor's PendingPayment/Confirmed bookings
	// overlapping [from, to). Terminal bookings never conflict.
	BlockingByMentor(ctx context.Context, mentor core.UserID, from, to time.Time) ([]Booking, error)
	ListByStudent(ctx context.Context, student core.UserID) ([]Booking, error)
	ListByMentor(ctx context.Context, mentor core.UserID) ([]Booking, error)
	// StalePendingPayment returns PendingPayment bookings created before the cutoff.
	StalePendingPayment(ctx context.Context, createdBefore time.Time) ([]Booking, error)
	// ConfirmedEndedBefore returns Confirmed bookings whose EndAt is before the cutoff.
	ConfirmedEndedBefore(ctx context.Context, endedBefore time.Time) ([]Booking, error)
}

// OfferingStore persists offerings.
type OfferingStore interface {
	SaveOffering(ctx context.Context, o Offering) error
	GetOffering(ctx context.Context, id core.OfferingID) (*Offering, error)
	ListOfferings(ctx context.Context, mentor core.UserID) ([]Offering, error)
}
