/*
Package settlement wires the booking lifecycle to the money it moves.

PURPOSE:
  The orchestrator is the only component that knows which booking
  transitions move funds, and how. It implements booking.LifecycleSink,
  so it runs inside the same unit of work as the status flip: a confirmed
  booking without its capture entries (or the reverse) cannot be observed.

KEY CONCEPTS:
  - Capture on confirmation: the full session price lands in the mentor's
    escrow the moment payment is confirmed.
  - Delayed release: escrow holds for a clearance window after completion
    before moving to the mentor's available balance. The release is a
    scheduled job, never an in-process timer.
  - Refund tiering: cancellations of confirmed sessions refund by notice
    given, measured from the cancellation to the booked start.
  - Whoever holds it pays: a refund debits the escrow hold recorded for
    the booking. A zero hold means there is nothing to refund and the
    flow is a no-op, never an unbalanced post.
  - Idempotent flows: every posting carries a deterministic key derived
    from the booking and the flow; replays deduplicate at the ledger.

SEE ALSO:
  - ledger/ledger.go: the pair builders and balance derivation
  - booking/service.go: the transitions that feed this sink
*/
package settlement

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mentorhive/booking-engine/booking"
	"github.com/mentorhive/booking-engine/core"
	"github.com/mentorhive/booking-engine/ledger"
)

const refTypeBooking = "booking"

// =============================================================================
// REFUND TIERS
// =============================================================================

// RefundPercent maps the notice a cancelling party gives to the share of
// the price returned to the student.
//
//	>= 24h notice: full refund
//	6h - 24h:      half
//	<  6h:         nothing
func RefundPercent(notice time.Duration) int {
	switch {
	case notice >= 24*time.Hour:
		return 100
	case notice >= 6*time.Hour:
		return 50
	default:
		return 0
	}
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Config controls the settlement timing knobs.
type Config struct {
	EscrowClearance  time.Duration // wait after completion before release
	ReminderLeadTime time.Duration // session reminder fires this long before start
}

func DefaultConfig() Config {
	return Config{
		EscrowClearance:  24 * time.Hour,
		ReminderLeadTime: time.Hour,
	}
}

type Orchestrator struct {
	Ledger    *ledger.Ledger
	Jobs      core.JobScheduler
	Notifier  core.Notifier
	Clock     core.Clock
	Config    Config
	Log       *zap.Logger
}

func NewOrchestrator(led *ledger.Ledger, jobs core.JobScheduler, notifier core.Notifier, clock core.Clock, cfg Config, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if jobs == nil {
		jobs = core.NopScheduler{}
	}
	if notifier == nil {
		notifier = core.NopNotifier{}
	}
	return &Orchestrator{Ledger: led, Jobs: jobs, Notifier: notifier, Clock: clock, Config: cfg, Log: log}
}

var _ booking.LifecycleSink = (*Orchestrator)(nil)

// =============================================================================
// LIFECYCLE SINK
// =============================================================================

// BookingConfirmed captures the full price into the mentor's escrow and
// schedules the pre-session reminder.
func (o *Orchestrator) BookingConfirmed(ctx context.Context, b booking.Booking) error {
	pair := ledger.CapturePair(b.MentorID, b.Price, refTypeBooking, string(b.ID), "capture-"+string(b.ID))
	if err := o.Ledger.Post(ctx, pair...); err != nil {
		return err
	}

	remindAt := b.StartAt.Add(-o.Config.ReminderLeadTime)
	if remindAt.After(o.Clock.Now()) {
		if err := o.Jobs.Schedule(ctx, core.JobSessionReminder, string(b.ID), remindAt); err != nil {
			return err
		}
	}

	o.notify(ctx, b.StudentID, core.NotifyBookingConfirmed, string(b.ID))
	o.notify(ctx, b.MentorID, core.NotifyBookingConfirmed, string(b.ID))
	return nil
}

// BookingCompleted schedules the escrow release after the clearance window.
// The funds stay in escrow until the job fires, so a dispute opened in the
// window still finds them there.
func (o *Orchestrator) BookingCompleted(ctx context.Context, b booking.Booking) error {
	runAt := o.Clock.Now().Add(o.Config.EscrowClearance)
	if err := o.Jobs.Schedule(ctx, core.JobEscrowRelease, string(b.ID), runAt); err != nil {
		return err
	}
	o.notify(ctx, b.StudentID, core.NotifyBookingCompleted, string(b.ID))
	o.notify(ctx, b.MentorID, core.NotifyBookingCompleted, string(b.ID))
	return nil
}

// BookingCancelled refunds the student by the notice tier and routes the
// forfeited remainder to the mentor's available balance.
func (o *Orchestrator) BookingCancelled(ctx context.Context, b booking.Booking) error {
	held, err := o.Ledger.EscrowHolds(ctx, refTypeBooking, string(b.ID), b.Price.Currency)
	if err != nil {
		return err
	}
	if !held.IsPositive() {
		// Nothing captured, or already settled. Cancellation of unpaid
		// bookings moves no money.
		return nil
	}

	notice := b.StartAt.Sub(o.Clock.Now())
	pct := RefundPercent(notice)
	refund := held.Percent(pct)
	forfeit := held.Sub(refund)

	if refund.IsPositive() {
		pair := ledger.RefundPair(b.MentorID, ledger.AccountMentorEscrow, refund, refTypeBooking, string(b.ID), "refund-"+string(b.ID))
		if err := o.Ledger.Post(ctx, pair...); err != nil {
			return err
		}
		o.notify(ctx, b.StudentID, core.NotifyRefundIssued, string(b.ID))
	}
	if forfeit.IsPositive() {
		pair := ledger.ReleasePair(b.MentorID, forfeit, refTypeBooking, string(b.ID), "forfeit-"+string(b.ID))
		if err := o.Ledger.Post(ctx, pair...); err != nil {
			return err
		}
	}

	o.Log.Info("cancellation settled",
		zap.String("booking_id", string(b.ID)),
		zap.Int("refund_percent", pct),
		zap.String("refund", refund.String()),
		zap.String("forfeit", forfeit.String()))

	o.notify(ctx, b.StudentID, core.NotifyBookingCancelled, string(b.ID))
	o.notify(ctx, b.MentorID, core.NotifyBookingCancelled, string(b.ID))
	return nil
}

// StudentNoShowRecorded forfeits the full hold to the mentor. The release
// is immediate, not scheduled: a no-show booking is terminal and cannot be
// disputed, so there is no window for the clearance to protect.
func (o *Orchestrator) StudentNoShowRecorded(ctx context.Context, b booking.Booking) error {
	held, err := o.Ledger.EscrowHolds(ctx, refTypeBooking, string(b.ID), b.Price.Currency)
	if err != nil {
		return err
	}
	if held.IsPositive() {
		pair := ledger.ReleasePair(b.MentorID, held, refTypeBooking, string(b.ID), "noshow-student-"+string(b.ID))
		if err := o.Ledger.Post(ctx, pair...); err != nil {
			return err
		}
	}
	o.notify(ctx, b.StudentID, core.NotifyNoShowRecorded, string(b.ID))
	return nil
}

// MentorNoShowRecorded refunds the student in full.
func (o *Orchestrator) MentorNoShowRecorded(ctx context.Context, b booking.Booking) error {
	held, err := o.Ledger.EscrowHolds(ctx, refTypeBooking, string(b.ID), b.Price.Currency)
	if err != nil {
		return err
	}
	if held.IsPositive() {
		pair := ledger.RefundPair(b.MentorID, ledger.AccountMentorEscrow, held, refTypeBooking, string(b.ID), "noshow-mentor-"+string(b.ID))
		if err := o.Ledger.Post(ctx, pair...); err != nil {
			return err
		}
		o.notify(ctx, b.StudentID, core.NotifyRefundIssued, string(b.ID))
	}
	o.notify(ctx, b.MentorID, core.NotifyNoShowRecorded, string(b.ID))
	return nil
}

// DisputeResolved settles whatever the dispute froze. In the student's
// favor the full captured price is refunded regardless of notice, debited
// from wherever the funds sit: the remaining escrow hold first, and any
// already-released remainder from the mentor's available balance. In the
// mentor's favor the release is scheduled as for a normal completion.
func (o *Orchestrator) DisputeResolved(ctx context.Context, b booking.Booking, outcome booking.DisputeOutcome) error {
	held, err := o.Ledger.EscrowHolds(ctx, refTypeBooking, string(b.ID), b.Price.Currency)
	if err != nil {
		return err
	}

	switch outcome {
	case booking.OutcomeStudentFavor:
		if held.IsPositive() {
			pair := ledger.RefundPair(b.MentorID, ledger.AccountMentorEscrow, held, refTypeBooking, string(b.ID), "dispute-"+string(b.ID))
			if err := o.Ledger.Post(ctx, pair...); err != nil {
				return err
			}
		}
		released := b.Price.Sub(held)
		if released.IsPositive() {
			pair := ledger.RefundPair(b.MentorID, ledger.AccountMentorAvailable, released, refTypeBooking, string(b.ID), "dispute-clawback-"+string(b.ID))
			if err := o.Ledger.Post(ctx, pair...); err != nil {
				return err
			}
		}
		if held.IsPositive() || released.IsPositive() {
			o.notify(ctx, b.StudentID, core.NotifyRefundIssued, string(b.ID))
		}
	case booking.OutcomeMentorFavor:
		if held.IsPositive() {
			runAt := o.Clock.Now().Add(o.Config.EscrowClearance)
			if err := o.Jobs.Schedule(ctx, core.JobEscrowRelease, string(b.ID), runAt); err != nil {
				return err
			}
		}
	}

	o.notify(ctx, b.StudentID, core.NotifyDisputeResolved, string(b.ID))
	o.notify(ctx, b.MentorID, core.NotifyDisputeResolved, string(b.ID))
	return nil
}

// BookingRescheduled only notifies; the hold follows the booking, not the
// time slot.
func (o *Orchestrator) BookingRescheduled(ctx context.Context, b booking.Booking) error {
	o.notify(ctx, b.StudentID, core.NotifyBookingRescheduled, string(b.ID))
	o.notify(ctx, b.MentorID, core.NotifyBookingRescheduled, string(b.ID))
	return nil
}

// =============================================================================
// JOB HANDLERS
// =============================================================================

// ReleaseEscrow moves the remaining hold for a booking to the mentor's
// available balance. Fired by the escrow-release job; safe to replay since
// a drained hold posts nothing.
func (o *Orchestrator) ReleaseEscrow(ctx context.Context, b booking.Booking) error {
	if b.Status != booking.StatusCompleted {
		// A dispute (or its resolution) superseded the scheduled release.
		o.Log.Info("escrow release skipped",
			zap.String("booking_id", string(b.ID)),
			zap.String("status", string(b.Status)))
		return nil
	}
	held, err := o.Ledger.EscrowHolds(ctx, refTypeBooking, string(b.ID), b.Price.Currency)
	if err != nil {
		return err
	}
	if !held.IsPositive() {
		return nil
	}
	pair := ledger.ReleasePair(b.MentorID, held, refTypeBooking, string(b.ID), "release-"+string(b.ID))
	if err := o.Ledger.Post(ctx, pair...); err != nil {
		return err
	}
	o.Log.Info("escrow released",
		zap.String("booking_id", string(b.ID)),
		zap.String("mentor_id", string(b.MentorID)),
		zap.String("amount", held.String()))
	return nil
}

// SendSessionReminder notifies both parties ahead of a still-confirmed
// session. Stale reminders for moved or cancelled bookings are dropped.
func (o *Orchestrator) SendSessionReminder(ctx context.Context, b booking.Booking) error {
	if b.Status != booking.StatusConfirmed {
		return nil
	}
	if o.Clock.Now().After(b.StartAt) {
		return nil
	}
	o.notify(ctx, b.StudentID, core.NotifySessionReminder, string(b.ID))
	o.notify(ctx, b.MentorID, core.NotifySessionReminder, string(b.ID))
	return nil
}

// notify delivers best-effort. Settlement never fails on a notification.
func (o *Orchestrator) notify(ctx context.Context, user core.UserID, kind core.NotificationKind, payload string) {
	if err := o.Notifier.Notify(ctx, user, kind, payload); err != nil {
		o.Log.Warn("notification failed",
			zap.String("user_id", string(user)),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}
