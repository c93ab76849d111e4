/*
service.go - Booking transition methods

PURPOSE:
  Every lifecycle mutation of a booking goes through here. Each transition:
  1. Resolves the booking and checks the actor
  2. Checks the state guard and any time gate against the injected clock
  3. Re-validates authoritative state (slot flag, conflicting set) inside
     the same unit of work as its write
  4. Flips the status with a compare-and-swap write
  5. Hands the committed fact to the settlement sink

SINK:
  The LifecycleSink runs inside the same unit of work, so ledger postings
  commit or roll back together with the status flip. Notification delivery
  inside the sink is fire-and-forget and never fails the transition.
*/
package booking

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mentorhive/booking-engine/core"
	"github.com/mentorhive/booking-engine/schedule"
)

// =============================================================================
// LIFECYCLE SINK - Settlement reacts to committed transitions
// =============================================================================

// LifecycleSink receives booking lifecycle signals. Implemented by the
// settlement orchestrator; the state machine stays ignorant of ledger flows.
type LifecycleSink interface {
	BookingConfirmed(ctx context.Context, b Booking) error
	BookingCompleted(ctx context.Context, b Booking) error
	BookingCancelled(ctx context.Context, b Booking) error
	StudentNoShowRecorded(ctx context.Context, b Booking) error
	MentorNoShowRecorded(ctx context.Context, b Booking) error
	DisputeResolved(ctx context.Context, b Booking, outcome DisputeOutcome) error
	BookingRescheduled(ctx context.Context, b Booking) error
}

// NopSink ignores every signal.
type NopSink struct{}

func (NopSink) BookingConfirmed(context.Context, Booking) error              { return nil }
func (NopSink) BookingCompleted(context.Context, Booking) error              { return nil }
func (NopSink) BookingCancelled(context.Context, Booking) error              { return nil }
func (NopSink) StudentNoShowRecorded(context.Context, Booking) error         { return nil }
func (NopSink) MentorNoShowRecorded(context.Context, Booking) error          { return nil }
func (NopSink) DisputeResolved(context.Context, Booking, DisputeOutcome) error { return nil }
func (NopSink) BookingRescheduled(context.Context, Booking) error            { return nil }

// =============================================================================
// SERVICE
// =============================================================================

// Config carries the tunable gates of the state machine.
type Config struct {
	MinLeadTime         time.Duration // earliest bookable start relative to now
	MinDurationMinutes  int
	MaxDurationMinutes  int
	NoShowWaitMinutes   int
	SkipNoShowWait      bool // dev-mode bypass of the wait window
	PendingPaymentTTL   time.Duration // lifetime before the expiry sweep fires
}

// DefaultConfig mirrors the platform defaults.
func DefaultConfig() Config {
	return Config{
		MinLeadTime:        2 * time.Hour,
		MinDurationMinutes: 30,
		MaxDurationMinutes: 180,
		NoShowWaitMinutes:  15,
		PendingPaymentTTL:  30 * time.Minute,
	}
}

type Service struct {
	Bookings  Store
	Offerings OfferingStore
	Inventory *schedule.Inventory
	Sessions  core.SessionLookup
	Clock     core.Clock
	UoW       core.UnitOfWork
	Sink      LifecycleSink
	Config    Config
	Log       *zap.Logger
}

func NewService(bookings Store, offerings OfferingStore, inventory *schedule.Inventory, sessions core.SessionLookup, clock core.Clock, uow core.UnitOfWork, cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		Bookings:  bookings,
		Offerings: offerings,
		Inventory: inventory,
		Sessions:  sessions,
		Clock:     clock,
		UoW:       uow,
		Sink:      NopSink{},
		Config:    cfg,
		Log:       log,
	}
}

// =============================================================================
// OFFERINGS
// =============================================================================

func (s *Service) CreateOffering(ctx context.Context, o Offering) (*Offering, error) {
	if o.Title == "" {
		return nil, &core.ValidationError{Field: "title", Message: "required"}
	}
	if o.DurationMinutes < s.Config.MinDurationMinutes || o.DurationMinutes > s.Config.MaxDurationMinutes {
		return nil, &core.ValidationError{Field: "duration_minutes",
			Message: fmt.Sprintf("must be between %d and %d", s.Config.MinDurationMinutes, s.Config.MaxDurationMinutes)}
	}
	if !o.Price.IsPositive() {
		return nil, &core.ValidationError{Field: "price", Message: "must be positive"}
	}
	if o.ID == "" {
		o.ID = core.OfferingID(core.NewID())
	}
	o.CreatedAt = s.Clock.Now()
	if err := s.Offerings.SaveOffering(ctx, o); err != nil {
		return nil, err
	}
	return &o, nil
}

// =============================================================================
// CREATE -> PendingPayment
// =============================================================================

// Create opens a booking against an active offering. The slot is located
// but NOT claimed; the claim happens on payment capture.
func (s *Service) Create(ctx context.Context, student core.UserID, offeringID core.OfferingID, startAt time.Time) (*Booking, error) {
	now := s.Clock.Now()

	offering, err := s.Offerings.GetOffering(ctx, offeringID)
	if err != nil {
		return nil, err
	}
	if !offering.IsActive {
		return nil, &core.InvalidStateError{Entity: "offering", ID: string(offeringID), From: "inactive", Detail: "offering is not bookable"}
	}
	if student == offering.MentorID {
		return nil, &core.ValidationError{Field: "student_id", Message: "mentor cannot book own offering"}
	}
	if offering.DurationMinutes < s.Config.MinDurationMinutes || offering.DurationMinutes > s.Config.MaxDurationMinutes {
		return nil, &core.ValidationError{Field: "duration_minutes", Message: "offering duration out of bookable range"}
	}
	if startAt.Before(now.Add(s.Config.MinLeadTime)) {
		return nil, &core.ValidationError{Field: "start_at",
			Message: fmt.Sprintf("bookings require at least %s notice", s.Config.MinLeadTime)}
	}

	endAt := startAt.Add(time.Duration(offering.DurationMinutes) * time.Minute)

	slot, err := s.Inventory.Slots.FindCovering(ctx, offering.MentorID, startAt, endAt)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, &core.ValidationError{Field: "start_at", Message: "no available slot covers the requested time"}
		}
		return nil, err
	}

	buffer := s.Inventory.ResolveBuffer(ctx, offering.MentorID, offering.TemplateID)
	if conflict, err := s.findConflict(ctx, offering.MentorID, startAt, endAt, buffer, ""); err != nil {
		return nil, err
	} else if conflict != nil {
		return nil, &core.ConflictError{Resource: "booking", ID: string(conflict.ID), Detail: "overlaps an existing booking"}
	}

	slotID := slot.ID
	b := Booking{
		ID:              core.BookingID(core.NewID()),
		StudentID:       student,
		MentorID:        offering.MentorID,
		OfferingID:      offering.ID,
		SlotID:          &slotID,
		StartAt:         startAt.UTC(),
		EndAt:           endAt.UTC(),
		DurationMinutes: offering.DurationMinutes,
		Price:           offering.Price,
		Status:          StatusPendingPayment,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.Bookings.InsertBooking(ctx, b); err != nil {
		return nil, err
	}

	s.Log.Info("booking created",
		zap.String("booking_id", string(b.ID)),
		zap.String("mentor_id", string(b.MentorID)),
		zap.Time("start_at", b.StartAt))
	return &b, nil
}

// =============================================================================
// CONFIRM (payment captured) -> Confirmed
// =============================================================================

// ConfirmPayment claims the slot and confirms the booking in one unit of
// work. Under concurrent captures on the same slot exactly one caller wins;
// the loser gets core.ErrConflict and nothing is written.
func (s *Service) ConfirmPayment(ctx context.Context, id core.BookingID) (*Booking, error) {
	var confirmed *Booking
	err := s.UoW.WithTx(ctx, func(ctx context.Context) error {
		b, err := s.Bookings.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if b.Status != StatusPendingPayment {
			return &core.InvalidStateError{Entity: "booking", ID: string(id), From: string(b.Status), Detail: "only pending-payment bookings can be confirmed"}
		}
		if b.SlotID != nil {
			if err := s.Inventory.Claim(ctx, *b.SlotID); err != nil {
				return err
			}
		}
		b.Status = StatusConfirmed
		b.UpdatedAt = s.Clock.Now()
		if err := s.Bookings.UpdateBookingIf(ctx, *b, StatusPendingPayment); err != nil {
			return err
		}
		confirmed = b
		return s.Sink.BookingConfirmed(ctx, *b)
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// =============================================================================
// COMPLETE -> Completed
// =============================================================================

// Complete is mentor-only and gated on the listed end time having passed.
// An early video-room teardown does not forfeit the listed session time, so
// there is no early-completion path.
func (s *Service) Complete(ctx context.Context, actor core.UserID, id core.BookingID) (*Booking, error) {
	b, err := s.Bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor != b.MentorID {
		return nil, core.ErrUnauthorized
	}
	return s.complete(ctx, b)
}

// AutoComplete is the sweep-driven completion for confirmed bookings whose
// end time has long passed without a mentor action.
func (s *Service) AutoComplete(ctx context.Context, id core.BookingID) (*Booking, error) {
	b, err := s.Bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, b)
}

func (s *Service) complete(ctx context.Context, b *Booking) (*Booking, error) {
	if b.Status != StatusConfirmed {
		return nil, &core.InvalidStateError{Entity: "booking", ID: string(b.ID), From: string(b.Status), Detail: "only confirmed bookings can complete"}
	}
	if !b.CompletionEligible(s.Clock.Now()) {
		return nil, &core.InvalidStateError{Entity: "booking", ID: string(b.ID), From: string(b.Status), Detail: "session time has not elapsed"}
	}
	err := s.UoW.WithTx(ctx, func(ctx context.Context) error {
		b.Status = StatusCompleted
		b.UpdatedAt = s.Clock.Now()
		if err := s.Bookings.UpdateBookingIf(ctx, *b, StatusConfirmed); err != nil {
			return err
		}
		return s.Sink.BookingCompleted(ctx, *b)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// =============================================================================
// CANCEL -> Cancelled
// =============================================================================

// Cancel is open to either participant and always requires a reason. The
// claimed slot returns to the bookable pool.
func (s *Service) Cancel(ctx context.Context, actor core.UserID, id core.BookingID, reason string) (*Booking, error) {
	if reason == "" {
		return nil, &core.ValidationError{Field: "reason", Message: "cancellation requires a reason"}
	}
	b, err := s.Bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsParticipant(actor) {
		return nil, core.ErrUnauthorized
	}
	if b.Status != StatusPendingPayment && b.Status != StatusConfirmed {
		return nil, &core.InvalidStateError{Entity: "booking", ID: string(id), From: string(b.Status), Detail: "booking can no longer be cancelled"}
	}

	prev := b.Status
	err = s.UoW.WithTx(ctx, func(ctx context.Context) error {
		if prev == StatusConfirmed && b.SlotID != nil {
			if err := s.Inventory.Release(ctx, *b.SlotID); err != nil {
				return err
			}
		}
		b.Status = StatusCancelled
		b.CancellationReason = reason
		b.CancelledBy = &actor
		b.UpdatedAt = s.Clock.Now()
		if err := s.Bookings.UpdateBookingIf(ctx, *b, prev); err != nil {
			return err
		}
		if prev == StatusConfirmed {
			// Money only moves once captured.
			return s.Sink.BookingCancelled(ctx, *b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Expire times out a booking that never completed payment. Invoked by the
// external sweep, guarded solely on status.
func (s *Service) Expire(ctx context.Context, id core.BookingID) error {
	b, err := s.Bookings.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	if b.Status != StatusPendingPayment {
		return &core.InvalidStateError{Entity: "booking", ID: string(id), From: string(b.Status), Detail: "only pending-payment bookings expire"}
	}
	b.Status = StatusExpired
	b.UpdatedAt = s.Clock.Now()
	return s.Bookings.UpdateBookingIf(ctx, *b, StatusPendingPayment)
}

// =============================================================================
// NO-SHOW REPORTS
// =============================================================================

// ReportStudentNoShow is mentor-only, allowed once the wait window after the
// start time has elapsed, and rejected when the student is recorded as a
// participant of the paired video session.
func (s *Service) ReportStudentNoShow(ctx context.Context, actor core.UserID, id core.BookingID) (*Booking, error) {
	b, err := s.Bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor != b.MentorID {
		return nil, core.ErrUnauthorized
	}
	return s.reportNoShow(ctx, b, b.StudentID, StatusStudentNoShow)
}

// ReportMentorNoShow is the symmetric student-side report.
func (s *Service) ReportMentorNoShow(ctx context.Context, actor core.UserID, id core.BookingID) (*Booking, error) {
	b, err := s.Bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor != b.StudentID {
		return nil, core.ErrUnauthorized
	}
	return s.reportNoShow(ctx, b, b.MentorID, StatusMentorNoShow)
}

func (s *Service) reportNoShow(ctx context.Context, b *Booking, absentee core.UserID, target Status) (*Booking, error) {
	now := s.Clock.Now()
	if b.Status != StatusConfirmed {
		return nil, &core.InvalidStateError{Entity: "booking", ID: string(b.ID), From: string(b.Status), Detail: "no-show reports require a confirmed booking"}
	}
	wait := time.Duration(s.Config.NoShowWaitMinutes) * time.Minute
	if !s.Config.SkipNoShowWait && now.Before(b.StartAt.Add(wait)) {
		return nil, &core.InvalidStateError{Entity: "booking", ID: string(b.ID), From: string(b.Status),
			Detail: fmt.Sprintf("no-show window opens %d minutes after start", s.Config.NoShowWaitMinutes)}
	}

	participants, err := s.Sessions.Participants(ctx, "booking", string(b.ID))
	if err != nil {
		return nil, err
	}
	if participants[absentee] {
		return nil, &core.InvalidStateError{Entity: "booking", ID: string(b.ID), From: string(b.Status), Detail: "reported party joined the video session"}
	}

	err = s.UoW.WithTx(ctx, func(ctx context.Context) error {
		b.Status = target
		b.NoShowReportedAt = &now
		b.UpdatedAt = now
		if err := s.Bookings.UpdateBookingIf(ctx, *b, StatusConfirmed); err != nil {
			return err
		}
		switch target {
		case StatusStudentNoShow:
			return s.Sink.StudentNoShowRecorded(ctx, *b)
		case StatusMentorNoShow:
			return s.Sink.MentorNoShowRecorded(ctx, *b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// =============================================================================
// RESCHEDULE NEGOTIATION - Two-party propose / approve-or-reject
// =============================================================================

// ProposeReschedule records a proposal without touching the committed time.
func (s *Service) ProposeReschedule(ctx context.Context, actor core.UserID, id core.BookingID, newStart, newEnd time.Time) (*Booking, error) {
	b, err := s.Bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsParticipant(actor) {
		return nil, core.ErrUnauthorized
	}
	if b.Status != StatusConfirmed {
		return nil, &core.InvalidStateError{Entity: "booking", ID: string(id), From: string(b.Status), Detail: "only confirmed bookings can be rescheduled"}
	}
	if b.HasPendingReschedule() {
		return nil, &core.ConflictError{Resource: "booking", ID: string(id), Detail: "a reschedule proposal is already pending"}
	}

	now := s.Clock.Now()
	if !newStart.Before(newEnd) {
		return nil, &core.ValidationError{Field: "time_range", Message: "start must precede end"}
	}
	minutes := int(newEnd.Sub(newStart) / time.Minute)
	if minutes < s.Config.MinDurationMinutes || minutes > s.Config.MaxDurationMinutes {
		return nil, &core.ValidationError{Field: "duration_minutes", Message: "proposed duration out of bookable range"}
	}
	if newStart.Before(now.Add(s.Config.MinLeadTime)) {
		return nil, &core.ValidationError{Field: "start_at", Message: "proposed time is too soon"}
	}

	start, end := newStart.UTC(), newEnd.UTC()
	b.PendingRescheduleStartAt = &start
	b.PendingRescheduleEndAt = &end
	b.RescheduleRequestedBy = &actor
	b.UpdatedAt = now
	if err := s.Bookings.UpdateBookingIf(ctx, *b, StatusConfirmed); err != nil {
		return nil, err
	}
	return b, nil
}

// ApproveReschedule re-runs conflict detection against the CURRENT booking
// set: time may have elapsed since the proposal, so a window that was free
// then can conflict now. On conflict the approval fails and the booking
// keeps its original schedule (the proposal stays pending for the parties
// to retry or reject).
func (s *Service) ApproveReschedule(ctx context.Context, actor core.UserID, id core.BookingID) (*Booking, error) {
	var approved *Booking
	err := s.UoW.WithTx(ctx, func(ctx context.Context) error {
		b, err := s.Bookings.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if err := s.counterPartyCheck(b, actor); err != nil {
			return err
		}

		newStart, newEnd := *b.PendingRescheduleStartAt, *b.PendingRescheduleEndAt

		offering, err := s.Offerings.GetOffering(ctx, b.OfferingID)
		var custom *core.TemplateID
		if err == nil {
			custom = offering.TemplateID
		} else if !core.IsNotFound(err) {
			return err
		}
		buffer := s.Inventory.ResolveBuffer(ctx, b.MentorID, custom)

		if conflict, err := s.findConflict(ctx, b.MentorID, newStart, newEnd, buffer, b.ID); err != nil {
			return err
		} else if conflict != nil {
			return &core.ConflictError{Resource: "booking", ID: string(conflict.ID), Detail: "proposed time overlaps an existing booking"}
		}

		// The committed window moves; the originally claimed slot returns to
		// the pool since it no longer backs this booking.
		if b.SlotID != nil {
			if err := s.Inventory.Release(ctx, *b.SlotID); err != nil {
				return err
			}
			b.SlotID = nil
		}

		requester := *b.RescheduleRequestedBy
		b.StartAt = newStart
		b.EndAt = newEnd
		b.DurationMinutes = int(newEnd.Sub(newStart) / time.Minute)
		b.PendingRescheduleStartAt = nil
		b.PendingRescheduleEndAt = nil
		b.RescheduleRequestedBy = nil
		if requester == b.StudentID {
			b.StudentRescheduleCount++
		} else {
			b.MentorRescheduleCount++
		}
		b.UpdatedAt = s.Clock.Now()

		if err := s.Bookings.UpdateBookingIf(ctx, *b, StatusConfirmed); err != nil {
			return err
		}
		approved = b
		return s.Sink.BookingRescheduled(ctx, *b)
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// RejectReschedule clears the pending proposal and changes nothing else:
// the committed start/end stay exactly as they were before the proposal.
func (s *Service) RejectReschedule(ctx context.Context, actor core.UserID, id core.BookingID) (*Booking, error) {
	b, err := s.Bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.counterPartyCheck(b, actor); err != nil {
		return nil, err
	}
	b.PendingRescheduleStartAt = nil
	b.PendingRescheduleEndAt = nil
	b.RescheduleRequestedBy = nil
	b.UpdatedAt = s.Clock.Now()
	if err := s.Bookings.UpdateBookingIf(ctx, *b, b.Status); err != nil {
		return nil, err
	}
	return b, nil
}

// counterPartyCheck ensures a pending proposal exists and the actor is the
// party who did NOT request it.
func (s *Service) counterPartyCheck(b *Booking, actor core.UserID) error {
	if !b.HasPendingReschedule() || b.RescheduleRequestedBy == nil {
		return &core.InvalidStateError{Entity: "booking", ID: string(b.ID), From: string(b.Status), Detail: "no reschedule proposal is pending"}
	}
	if !b.IsParticipant(actor) || actor == *b.RescheduleRequestedBy {
		return core.ErrUnauthorized
	}
	return nil
}

// =============================================================================
// DISPUTES
// =============================================================================

// OpenDispute lets the student contest a session once its listed time has
// fully elapsed (or after completion).
func (s *Service) OpenDispute(ctx context.Context, actor core.UserID, id core.BookingID, note string) (*Booking, error) {
	b, err := s.Bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor != b.StudentID {
		return nil, core.ErrUnauthorized
	}
	now := s.Clock.Now()
	eligible := b.Status == StatusCompleted || (b.Status == StatusConfirmed && b.CompletionEligible(now))
	if !eligible {
		return nil, &core.InvalidStateError{Entity: "booking", ID: string(id), From: string(b.Status), Detail: "disputes open only after the session time has elapsed"}
	}

	prev := b.Status
	b.Status = StatusDisputed
	b.DisputeOpenedAt = &now
	b.DisputeNote = note
	b.UpdatedAt = now
	if err := s.Bookings.UpdateBookingIf(ctx, *b, prev); err != nil {
		return nil, err
	}
	return b, nil
}

// ResolveDispute routes the booking by the admin's outcome. Role enforcement
// for admins lives in the identity layer; the admin id is recorded for audit.
func (s *Service) ResolveDispute(ctx context.Context, admin core.UserID, id core.BookingID, outcome DisputeOutcome, note string) (*Booking, error) {
	b, err := s.Bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusDisputed {
		return nil, &core.InvalidStateError{Entity: "booking", ID: string(id), From: string(b.Status), Detail: "booking is not under dispute"}
	}

	err = s.UoW.WithTx(ctx, func(ctx context.Context) error {
		switch outcome {
		case OutcomeStudentFavor:
			b.Status = StatusCancelled
			b.CancellationReason = "dispute resolved in student's favor: " + note
		case OutcomeMentorFavor:
			b.Status = StatusCompleted
		default:
			return &core.ValidationError{Field: "outcome", Message: "unknown dispute outcome"}
		}
		b.UpdatedAt = s.Clock.Now()
		if err := s.Bookings.UpdateBookingIf(ctx, *b, StatusDisputed); err != nil {
			return err
		}
		return s.Sink.DisputeResolved(ctx, *b, outcome)
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("dispute resolved",
		zap.String("booking_id", string(id)),
		zap.String("outcome", outcome.String()),
		zap.String("admin_id", string(admin)))
	return b, nil
}
