/*
collab.go - External collaborator interfaces

PURPOSE:
  The engine is invoked as a library and calls out through these narrow
  interfaces. Identity, notification delivery, delayed-job infrastructure
  and video-room signaling all live outside this module; only their
  contracts are specified here.

FAILURE POLICY:
  Notifier is fire-and-forget: a delivery failure is logged at the call
  site and never rolls back the core transaction that already committed.
*/
package core

import (
	"context"
	"time"
)

// =============================================================================
// IDENTITY
// =============================================================================

// Identity resolves the current actor. The request layer owns authentication;
// the engine only consumes the resolved user id.
type Identity interface {
	CurrentUserID(ctx context.Context) (UserID, bool)
}

// StaticIdentity always reports the same user. Used in tests and tooling.
type StaticIdentity UserID

func (s StaticIdentity) CurrentUserID(ctx context.Context) (UserID, bool) {
	return UserID(s), s != ""
}

// =============================================================================
// DELAYED JOBS
// =============================================================================

type JobKind string

const (
	JobSessionReminder JobKind = "session_reminder"
	JobEscrowRelease   JobKind = "escrow_release"
)

// Job is a unit of deferred work. All "waiting" in the engine is expressed
// as a job fired back into it at RunAt, never as an in-process sleep.
type Job struct {
	ID      string
	Kind    JobKind
	Payload string
	RunAt   time.Time
}

// JobScheduler enqueues delayed work with the external job infrastructure.
type JobScheduler interface {
	Schedule(ctx context.Context, kind JobKind, payload string, runAt time.Time) error
}

// NopScheduler discards jobs. Default when no scheduler is wired.
type NopScheduler struct{}

func (NopScheduler) Schedule(ctx context.Context, kind JobKind, payload string, runAt time.Time) error {
	return nil
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type NotificationKind string

const (
	NotifyBookingConfirmed   NotificationKind = "booking_confirmed"
	NotifyBookingCancelled   NotificationKind = "booking_cancelled"
	NotifyBookingCompleted   NotificationKind = "booking_completed"
	NotifyBookingRescheduled NotificationKind = "booking_rescheduled"
	NotifyNoShowRecorded     NotificationKind = "no_show_recorded"
	NotifyDisputeResolved    NotificationKind = "dispute_resolved"
	NotifyRefundIssued       NotificationKind = "refund_issued"
	NotifyPayoutProcessed    NotificationKind = "payout_processed"
	NotifySessionReminder    NotificationKind = "session_reminder"
)

// Notifier delivers a notification to a user. Fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, user UserID, kind NotificationKind, payload string) error
}

// NopNotifier drops notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, user UserID, kind NotificationKind, payload string) error {
	return nil
}

// =============================================================================
// VIDEO SESSION LOOKUP
// =============================================================================

// SessionLookup reports who actually joined the video room paired with a
// resource. Consulted only by no-show reporting.
type SessionLookup interface {
	Participants(ctx context.Context, resourceType, resourceID string) (map[UserID]bool, error)
}

// EmptySessionLookup reports no participants for any resource.
type EmptySessionLookup struct{}

func (EmptySessionLookup) Participants(ctx context.Context, resourceType, resourceID string) (map[UserID]bool, error) {
	return map[UserID]bool{}, nil
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// UnitOfWork runs fn inside one transactional boundary of the backing store.
// Mutating operations re-read authoritative state inside the same boundary
// as their write (last-writer-revalidates). Nested calls join the outer
// transaction.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
