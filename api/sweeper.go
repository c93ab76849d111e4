/*
sweeper.go - Background sweeps for time-driven transitions

PURPOSE:
  Nothing in the engine sleeps in-process. Every time-driven behavior is a
  durable fact swept up by this component:
  - Pending-payment bookings past their TTL are expired
  - Confirmed bookings long past their end time are auto-completed
  - Due scheduled jobs (escrow releases, session reminders) are drained

DESIGN:
  - robfig/cron drives the cadence; each sweep is idempotent, so an
    overlapping or replayed run is harmless
  - A sweep failure on one record logs and moves on; one poisoned booking
    never blocks the rest of the queue

USAGE:
  sweeper := NewSweeper(bookings, settlement, store, clock, logger)
  sweeper.Start()
  defer sweeper.Stop()

SEE ALSO:
  - settlement/orchestrator.go: the job handlers
  - booking/service.go: Expire and AutoComplete
*/
package api

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mentorhive/booking-engine/booking"
	"github.com/mentorhive/booking-engine/core"
	"github.com/mentorhive/booking-engine/settlement"
)

// JobQueue is the durable deferred-job backlog the sweeper drains.
type JobQueue interface {
	DueJobs(ctx context.Context, now time.Time, limit int) ([]core.Job, error)
	MarkJobDone(ctx context.Context, id string) error
}

// Sweeper runs the periodic maintenance passes.
type Sweeper struct {
	Bookings   *booking.Service
	Settlement *settlement.Orchestrator
	Jobs       JobQueue
	Clock      core.Clock
	Log        *zap.Logger

	// AutoCompleteAfter is how long past end_at a confirmed booking waits
	// before the sweep completes it on the mentor's behalf.
	AutoCompleteAfter time.Duration

	cron *cron.Cron
}

func NewSweeper(bookings *booking.Service, orch *settlement.Orchestrator, jobs JobQueue, clock core.Clock, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		Bookings:          bookings,
		Settlement:        orch,
		Jobs:              jobs,
		Clock:             clock,
		Log:               log,
		AutoCompleteAfter: 24 * time.Hour,
		cron:              cron.New(),
	}
}

// Start registers the sweeps and begins the cron loop.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc("@every 1m", func() { s.RunOnce(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	s.Log.Info("sweeper started")
	return nil
}

// Stop halts the cron loop, waiting for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.Log.Info("sweeper stopped")
}

// RunOnce executes all sweeps a single time. Called by cron; exported so
// tests and operators can trigger it directly.
func (s *Sweeper) RunOnce(ctx context.Context) {
	s.expireStale(ctx)
	s.autoComplete(ctx)
	s.drainJobs(ctx)
}

// expireStale times out bookings whose payment never arrived.
func (s *Sweeper) expireStale(ctx context.Context) {
	cutoff := s.Clock.Now().Add(-s.Bookings.Config.PendingPaymentTTL)
	stale, err := s.Bookings.Bookings.StalePendingPayment(ctx, cutoff)
	if err != nil {
		s.Log.Error("stale booking scan failed", zap.Error(err))
		return
	}
	for _, b := range stale {
		if err := s.Bookings.Expire(ctx, b.ID); err != nil {
			// Lost a race with a concurrent confirm or cancel. Fine.
			if core.IsConflict(err) {
				continue
			}
			s.Log.Warn("failed to expire booking",
				zap.String("booking_id", string(b.ID)), zap.Error(err))
			continue
		}
		s.Log.Info("booking expired", zap.String("booking_id", string(b.ID)))
	}
}

// autoComplete settles confirmed bookings the mentor never marked done.
func (s *Sweeper) autoComplete(ctx context.Context) {
	cutoff := s.Clock.Now().Add(-s.AutoCompleteAfter)
	ended, err := s.Bookings.Bookings.ConfirmedEndedBefore(ctx, cutoff)
	if err != nil {
		s.Log.Error("auto-complete scan failed", zap.Error(err))
		return
	}
	for _, b := range ended {
		if _, err := s.Bookings.AutoComplete(ctx, b.ID); err != nil {
			if core.IsConflict(err) {
				continue
			}
			s.Log.Warn("failed to auto-complete booking",
				zap.String("booking_id", string(b.ID)), zap.Error(err))
			continue
		}
		s.Log.Info("booking auto-completed", zap.String("booking_id", string(b.ID)))
	}
}

// drainJobs fires every due scheduled job.
func (s *Sweeper) drainJobs(ctx context.Context) {
	jobs, err := s.Jobs.DueJobs(ctx, s.Clock.Now(), 100)
	if err != nil {
		s.Log.Error("job scan failed", zap.Error(err))
		return
	}
	for _, j := range jobs {
		if err := s.runJob(ctx, j); err != nil {
			s.Log.Warn("job failed",
				zap.String("job_id", j.ID),
				zap.String("kind", string(j.Kind)),
				zap.Error(err))
			continue
		}
		if err := s.Jobs.MarkJobDone(ctx, j.ID); err != nil {
			s.Log.Error("failed to mark job done", zap.String("job_id", j.ID), zap.Error(err))
		}
	}
}

func (s *Sweeper) runJob(ctx context.Context, j core.Job) error {
	b, err := s.Bookings.Bookings.GetBooking(ctx, core.BookingID(j.Payload))
	if err != nil {
		return err
	}
	switch j.Kind {
	case core.JobEscrowRelease:
		return s.Settlement.ReleaseEscrow(ctx, *b)
	case core.JobSessionReminder:
		return s.Settlement.SendSessionReminder(ctx, *b)
	}
	s.Log.Warn("unknown job kind", zap.String("kind", string(j.Kind)))
	return nil
}
