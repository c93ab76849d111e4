package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorhive/booking-engine/booking"
	"github.com/mentorhive/booking-engine/core"
	"github.com/mentorhive/booking-engine/ledger"
	"github.com/mentorhive/booking-engine/payout"
	"github.com/mentorhive/booking-engine/schedule"
	"github.com/mentorhive/booking-engine/settlement"
	"github.com/mentorhive/booking-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	sunday = time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)
	monday = time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
)

const (
	mentorID  = core.UserID("mentor-1")
	studentID = core.UserID("student-1")
	adminID   = core.UserID("admin-1")
)

// fakeSessions reports a fixed participant set for every booking.
type fakeSessions struct {
	joined map[core.UserID]bool
}

func (f *fakeSessions) Participants(ctx context.Context, resourceType, resourceID string) (map[core.UserID]bool, error) {
	if f.joined == nil {
		return map[core.UserID]bool{}, nil
	}
	return f.joined, nil
}

type fixture struct {
	store    *sqlite.Store
	clock    *core.FixedClock
	inv      *schedule.Inventory
	led      *ledger.Ledger
	svc      *booking.Service
	sessions *fakeSessions
	offering booking.Offering
}

// newFixture wires the full engine against an in-memory store: a mentor
// with a Monday 09:00-12:00 template (30 min buffer), materialized slots
// for the week, and a $100 hourly offering.
func newFixture(t *testing.T) *fixture {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	clock := core.NewFixedClock(sunday)
	inv := schedule.NewInventory(store, store, clock, store, nil)
	led := ledger.New(store, clock)

	orch := settlement.NewOrchestrator(led, store, core.NopNotifier{}, clock,
		settlement.DefaultConfig(), nil)

	sessions := &fakeSessions{}
	svc := booking.NewService(store, store, inv, sessions, clock, store,
		booking.DefaultConfig(), nil)
	svc.Sink = orch

	tpl, err := inv.CreateTemplate(ctx, schedule.Template{
		OwnerID:                mentorID,
		Name:                   "weekly",
		SlotGranularityMinutes: 60,
		BufferAfterMinutes:     30,
	})
	require.NoError(t, err)
	require.NoError(t, inv.Templates.SaveRule(ctx, schedule.Rule{
		ID: core.NewID(), TemplateID: tpl.ID, Weekday: time.Monday,
		StartMinute: 9 * 60, EndMinute: 12 * 60, IsActive: true,
	}))
	_, err = inv.Materialize(ctx, tpl.ID, monday, monday.AddDate(0, 0, 7))
	require.NoError(t, err)

	offering, err := svc.CreateOffering(ctx, booking.Offering{
		MentorID:        mentorID,
		Title:           "Systems design session",
		DurationMinutes: 60,
		Price:           core.NewMoneyFromInt(100, "USD"),
		IsActive:        true,
	})
	require.NoError(t, err)

	return &fixture{store: store, clock: clock, inv: inv, led: led, svc: svc,
		sessions: sessions, offering: *offering}
}

func (f *fixture) create(t *testing.T, start time.Time) *booking.Booking {
	b, err := f.svc.Create(context.Background(), studentID, f.offering.ID, start)
	require.NoError(t, err)
	return b
}

func (f *fixture) confirmed(t *testing.T, start time.Time) *booking.Booking {
	b := f.create(t, start)
	b, err := f.svc.ConfirmPayment(context.Background(), b.ID)
	require.NoError(t, err)
	return b
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_PendingPaymentWithPriceSnapshot(t *testing.T) {
	// GIVEN: An active $100 offering with a free Monday 09:00 slot
	// WHEN: The student books it
	// THEN: A pending-payment booking holds the price snapshot; the slot is
	//       located but NOT yet claimed

	f := newFixture(t)
	b := f.create(t, monday.Add(9*time.Hour))

	assert.Equal(t, booking.StatusPendingPayment, b.Status)
	assert.True(t, b.Price.Equal(core.NewMoneyFromInt(100, "USD")))
	require.NotNil(t, b.SlotID)

	slot, err := f.store.GetSlot(context.Background(), *b.SlotID)
	require.NoError(t, err)
	assert.False(t, slot.IsBooked, "slot claims happen at payment capture, not creation")
}

func TestCreate_PriceSnapshotSurvivesOfferingEdit(t *testing.T) {
	// A later price change must not touch an existing booking.
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, monday.Add(9*time.Hour))

	edited := f.offering
	edited.Price = core.NewMoneyFromInt(250, "USD")
	require.NoError(t, f.store.SaveOffering(ctx, edited))

	got, err := f.store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(core.NewMoneyFromInt(100, "USD")))
}

func TestCreate_InactiveOffering_Rejected(t *testing.T) {
	f := newFixture(t)
	inactive := f.offering
	inactive.IsActive = false
	require.NoError(t, f.store.SaveOffering(context.Background(), inactive))

	_, err := f.svc.Create(context.Background(), studentID, f.offering.ID, monday.Add(9*time.Hour))
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestCreate_TooSoon_Rejected(t *testing.T) {
	// Bookings need two hours of notice.
	f := newFixture(t)
	f.clock.Set(monday.Add(8 * time.Hour))

	_, err := f.svc.Create(context.Background(), studentID, f.offering.ID, monday.Add(9*time.Hour))
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestCreate_NoCoveringSlot_Rejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), studentID, f.offering.ID, monday.Add(20*time.Hour))
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestCreate_BufferConflict_Rejected(t *testing.T) {
	// GIVEN: A pending 09:00-10:00 booking and a 30-minute buffer
	// WHEN: Another student books 10:00-11:00
	// THEN: The booking is rejected: it starts inside the buffer zone

	f := newFixture(t)
	f.create(t, monday.Add(9*time.Hour))

	_, err := f.svc.Create(context.Background(), "student-2", f.offering.ID, monday.Add(10*time.Hour))
	assert.ErrorIs(t, err, core.ErrConflict)
}

func TestCreate_OutsideBuffer_Allowed(t *testing.T) {
	// 11:00 starts after the 09:00-10:00 booking's buffer ends at 10:30.
	f := newFixture(t)
	f.create(t, monday.Add(9*time.Hour))

	_, err := f.svc.Create(context.Background(), "student-2", f.offering.ID, monday.Add(11*time.Hour))
	assert.NoError(t, err)
}

func TestCreate_MentorCannotBookOwnOffering(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), mentorID, f.offering.ID, monday.Add(9*time.Hour))
	assert.ErrorIs(t, err, core.ErrValidation)
}

// =============================================================================
// CONFIRM
// =============================================================================

func TestConfirmPayment_ClaimsSlot(t *testing.T) {
	f := newFixture(t)
	b := f.confirmed(t, monday.Add(9*time.Hour))

	assert.Equal(t, booking.StatusConfirmed, b.Status)
	slot, err := f.store.GetSlot(context.Background(), *b.SlotID)
	require.NoError(t, err)
	assert.True(t, slot.IsBooked)
}

func TestConfirmPayment_LostSlotRace_NothingWritten(t *testing.T) {
	// GIVEN: A pending booking whose slot got claimed by someone else
	// WHEN: The payment confirmation lands
	// THEN: The confirm fails with a conflict and the booking stays
	//       pending-payment: the claim and status flip are one transaction

	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, monday.Add(9*time.Hour))

	require.NoError(t, f.inv.Claim(ctx, *b.SlotID))

	_, err := f.svc.ConfirmPayment(ctx, b.ID)
	assert.ErrorIs(t, err, core.ErrConflict)

	got, err := f.store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPendingPayment, got.Status)
}

func TestConfirmPayment_OnlyFromPendingPayment(t *testing.T) {
	f := newFixture(t)
	b := f.confirmed(t, monday.Add(9*time.Hour))

	_, err := f.svc.ConfirmPayment(context.Background(), b.ID)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

// =============================================================================
// COMPLETE
// =============================================================================

func TestComplete_BeforeEndTime_Rejected(t *testing.T) {
	// An early video-room teardown does not forfeit the listed session time.
	f := newFixture(t)
	b := f.confirmed(t, monday.Add(9*time.Hour))

	f.clock.Set(monday.Add(9*time.Hour + 30*time.Minute))
	_, err := f.svc.Complete(context.Background(), mentorID, b.ID)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestComplete_MentorOnly(t *testing.T) {
	f := newFixture(t)
	b := f.confirmed(t, monday.Add(9*time.Hour))
	f.clock.Set(monday.Add(10 * time.Hour))

	_, err := f.svc.Complete(context.Background(), studentID, b.ID)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestComplete_AfterEndTime(t *testing.T) {
	f := newFixture(t)
	b := f.confirmed(t, monday.Add(9*time.Hour))
	f.clock.Set(monday.Add(10 * time.Hour))

	done, err := f.svc.Complete(context.Background(), mentorID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCompleted, done.Status)
}

func TestAutoComplete_SweepsForgottenBooking(t *testing.T) {
	f := newFixture(t)
	b := f.confirmed(t, monday.Add(9*time.Hour))
	f.clock.Set(monday.AddDate(0, 0, 2))

	done, err := f.svc.AutoComplete(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCompleted, done.Status)
}

// =============================================================================
// CANCEL / EXPIRE
// =============================================================================

func TestCancel_RequiresReason(t *testing.T) {
	f := newFixture(t)
	b := f.confirmed(t, monday.Add(9*time.Hour))

	_, err := f.svc.Cancel(context.Background(), studentID, b.ID, "")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestCancel_ParticipantsOnly(t *testing.T) {
	f := newFixture(t)
	b := f.confirmed(t, monday.Add(9*time.Hour))

	_, err := f.svc.Cancel(context.Background(), "stranger", b.ID, "nope")
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestCancel_ReleasesSlot(t *testing.T) {
	// GIVEN: A confirmed booking holding its slot
	// WHEN: The student cancels
	// THEN: The slot returns to the bookable pool

	f := newFixture(t)
	ctx := context.Background()
	b := f.confirmed(t, monday.Add(9*time.Hour))

	cancelled, err := f.svc.Cancel(ctx, studentID, b.ID, "schedule conflict")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, cancelled.Status)
	assert.Equal(t, "schedule conflict", cancelled.CancellationReason)

	slot, err := f.store.GetSlot(ctx, *b.SlotID)
	require.NoError(t, err)
	assert.False(t, slot.IsBooked)
}

func TestCancel_TerminalBooking_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.confirmed(t, monday.Add(9*time.Hour))
	_, err := f.svc.Cancel(ctx, studentID, b.ID, "first")
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, studentID, b.ID, "second")
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestExpire_OnlyPendingPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.create(t, monday.Add(9*time.Hour))
	require.NoError(t, f.svc.Expire(ctx, pending.ID))
	got, err := f.store.GetBooking(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusExpired, got.Status)

	confirmed := f.confirmed(t, monday.Add(11*time.Hour))
	assert.ErrorIs(t, f.svc.Expire(ctx, confirmed.ID), core.ErrInvalidState)
}

// =============================================================================
// NO-SHOW REPORTS
// =============================================================================

func TestReportStudentNoShow_BeforeWaitWindow_Rejected(t *testing.T) {
	// GIVEN: A confirmed 09:00 session
	// WHEN: The mentor reports a no-show at 09:10
	// THEN: Too early; the window opens 15 minutes after start

	f := newFixture(t)
	b := f.confirmed(t, monday.Add(9*time.Hour))
	f.clock.Set(monday.Add(9*time.Hour + 10*time.Minute))

	_, err := f.svc.ReportStudentNoShow(context.Background(), mentorID, b.ID)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestReportStudentNoShow_AfterWait(t *testing.T) {
	f := newFixture(t)
	b := f.confirmed(t, monday.Add(9*time.Hour))
	f.clock.Set(monday.Add(9*time.Hour + 20*time.Minute))

	reported, err := f.svc.ReportStudentNoShow(context.Background(), mentorID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusStudentNoShow, reported.Status)
	assert.NotNil(t, reported.NoShowReportedAt)
}

func TestReportStudentNoShow_StudentJoined_Rejected(t *testing.T) {
	// GIVEN: The video session shows the student as a participant
	// WHEN: The mentor reports a student no-show anyway
	// THEN: The report is rejected

	f := newFixture(t)
	b := f.confirmed(t, monday.Add(9*time.Hour))
	f.clock.Set(monday.Add(9*time.Hour + 20*time.Minute))
	f.sessions.joined = map[core.UserID]bool{studentID: true}

	_, err := f.svc.ReportStudentNoShow(context.Background(), mentorID, b.ID)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestReportStudentNoShow_MentorOnly(t *testing.T) {
	f := newFixture(t)
	b := f.confirmed(t, monday.Add(9*time.Hour))
	f.clock.Set(monday.Add(9*time.Hour + 20*time.Minute))

	_, err := f.svc.ReportStudentNoShow(context.Background(), studentID, b.ID)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestReportMentorNoShow_Symmetric(t *testing.T) {
	f := newFixture(t)
	b := f.confirmed(t, monday.Add(9*time.Hour))
	f.clock.Set(monday.Add(9*time.Hour + 20*time.Minute))

	reported, err := f.svc.ReportMentorNoShow(context.Background(), studentID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusMentorNoShow, reported.Status)
}

func TestReportMentorNoShow_MentorJoined_Rejected(t *testing.T) {
	f := newFixture(t)
	b := f.confirmed(t, monday.Add(9*time.Hour))
	f.clock.Set(monday.Add(9*time.Hour + 20*time.Minute))
	f.sessions.joined = map[core.UserID]bool{mentorID: true}

	_, err := f.svc.ReportMentorNoShow(context.Background(), studentID, b.ID)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

// =============================================================================
// RESCHEDULE NEGOTIATION
// =============================================================================

func TestProposeReschedule_CommittedTimeUntouched(t *testing.T) {
	// GIVEN: A confirmed Monday 09:00 booking
	// WHEN: The student proposes Monday 11:00
	// THEN: The proposal is recorded but the committed time stays 09:00

	f := newFixture(t)
	ctx := context.Background()
	b := f.confirmed(t, monday.Add(9*time.Hour))

	proposed, err := f.svc.ProposeReschedule(ctx, studentID, b.ID,
		monday.Add(11*time.Hour), monday.Add(12*time.Hour))
	require.NoError(t, err)

	assert.True(t, proposed.StartAt.Equal(monday.Add(9*time.Hour)))
	require.NotNil(t, proposed.PendingRescheduleStartAt)
	assert.True(t, proposed.PendingRescheduleStartAt.Equal(monday.Add(11*time.Hour)))
	assert.Equal(t, studentID, *proposed.RescheduleRequestedBy)
}

func TestProposeReschedule_SecondProposal_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.confirmed(t, monday.Add(9*time.Hour))

	_, err := f.svc.ProposeReschedule(ctx, studentID, b.ID,
		monday.Add(11*time.Hour), monday.Add(12*time.Hour))
	require.NoError(t, err)

	_, err = f.svc.ProposeReschedule(ctx, mentorID, b.ID,
		monday.AddDate(0, 0, 7).Add(9*time.Hour), monday.AddDate(0, 0, 7).Add(10*time.Hour))
	assert.ErrorIs(t, err, core.ErrConflict)
}

func TestApproveReschedule_ProposerCannotApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.confirmed(t, monday.Add(9*time.Hour))
	_, err := f.svc.ProposeReschedule(ctx, studentID, b.ID,
		monday.Add(11*time.Hour), monday.Add(12*time.Hour))
	require.NoError(t, err)

	_, err = f.svc.ApproveReschedule(ctx, studentID, b.ID)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestApproveReschedule_SwapsTimeAndReleasesSlot(t *testing.T) {
	// GIVEN: A pending student proposal for Monday 11:00
	// WHEN: The mentor approves
	// THEN: The committed window moves, the old slot frees up, the
	//       student's reschedule counter increments, the proposal clears

	f := newFixture(t)
	ctx := context.Background()
	b := f.confirmed(t, monday.Add(9*time.Hour))
	oldSlot := *b.SlotID

	_, err := f.svc.ProposeReschedule(ctx, studentID, b.ID,
		monday.Add(11*time.Hour), monday.Add(12*time.Hour))
	require.NoError(t, err)

	approved, err := f.svc.ApproveReschedule(ctx, mentorID, b.ID)
	require.NoError(t, err)

	assert.True(t, approved.StartAt.Equal(monday.Add(11*time.Hour)))
	assert.Equal(t, 1, approved.StudentRescheduleCount)
	assert.Equal(t, 0, approved.MentorRescheduleCount)
	assert.False(t, approved.HasPendingReschedule())

	slot, err := f.store.GetSlot(ctx, oldSlot)
	require.NoError(t, err)
	assert.False(t, slot.IsBooked, "old slot no longer backs the booking")
}

func TestApproveReschedule_ConflictAtApprovalTime_KeepsOriginal(t *testing.T) {
	// GIVEN: A proposal for Monday 11:00, then another booking confirms
	//        at 11:00 before the approval
	// WHEN: The mentor approves
	// THEN: The approval fails with a conflict; the booking keeps its
	//       original schedule and the proposal stays pending

	f := newFixture(t)
	ctx := context.Background()
	b := f.confirmed(t, monday.Add(9*time.Hour))
	_, err := f.svc.ProposeReschedule(ctx, studentID, b.ID,
		monday.Add(11*time.Hour), monday.Add(12*time.Hour))
	require.NoError(t, err)

	// Time was free at proposal; not anymore.
	f.confirmed(t, monday.Add(11*time.Hour))

	_, err = f.svc.ApproveReschedule(ctx, mentorID, b.ID)
	assert.ErrorIs(t, err, core.ErrConflict)

	got, err := f.store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.StartAt.Equal(monday.Add(9*time.Hour)))
	assert.True(t, got.HasPendingReschedule(), "parties can still reject or retry")
}

func TestRejectReschedule_ClearsProposalOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.confirmed(t, monday.Add(9*time.Hour))
	_, err := f.svc.ProposeReschedule(ctx, mentorID, b.ID,
		monday.Add(11*time.Hour), monday.Add(12*time.Hour))
	require.NoError(t, err)

	rejected, err := f.svc.RejectReschedule(ctx, studentID, b.ID)
	require.NoError(t, err)

	assert.False(t, rejected.HasPendingReschedule())
	assert.True(t, rejected.StartAt.Equal(monday.Add(9*time.Hour)))
	assert.Equal(t, booking.StatusConfirmed, rejected.Status)
	assert.Equal(t, 0, rejected.MentorRescheduleCount)
}

// =============================================================================
// DISPUTES
// =============================================================================

func TestOpenDispute_BeforeSessionEnd_Rejected(t *testing.T) {
	f := newFixture(t)
	b := f.confirmed(t, monday.Add(9*time.Hour))

	_, err := f.svc.OpenDispute(context.Background(), studentID, b.ID, "did not happen")
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestOpenDispute_StudentOnly(t *testing.T) {
	f := newFixture(t)
	b := f.confirmed(t, monday.Add(9*time.Hour))
	f.clock.Set(monday.Add(10 * time.Hour))

	_, err := f.svc.OpenDispute(context.Background(), mentorID, b.ID, "hm")
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestOpenDispute_AfterEnd(t *testing.T) {
	f := newFixture(t)
	b := f.confirmed(t, monday.Add(9*time.Hour))
	f.clock.Set(monday.Add(10 * time.Hour))

	disputed, err := f.svc.OpenDispute(context.Background(), studentID, b.ID, "mentor left early")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusDisputed, disputed.Status)
	assert.NotNil(t, disputed.DisputeOpenedAt)
}

func TestOpenDispute_OnCompletedBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.confirmed(t, monday.Add(9*time.Hour))
	f.clock.Set(monday.Add(10 * time.Hour))
	_, err := f.svc.Complete(ctx, mentorID, b.ID)
	require.NoError(t, err)

	disputed, err := f.svc.OpenDispute(ctx, studentID, b.ID, "not as described")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusDisputed, disputed.Status)
}

func TestResolveDispute_StudentFavor_Cancels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.confirmed(t, monday.Add(9*time.Hour))
	f.clock.Set(monday.Add(10 * time.Hour))
	_, err := f.svc.OpenDispute(ctx, studentID, b.ID, "no session")
	require.NoError(t, err)

	resolved, err := f.svc.ResolveDispute(ctx, adminID, b.ID, booking.OutcomeStudentFavor, "verified")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, resolved.Status)
	assert.Contains(t, resolved.CancellationReason, "student's favor")
}

func TestResolveDispute_MentorFavor_Completes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.confirmed(t, monday.Add(9*time.Hour))
	f.clock.Set(monday.Add(10 * time.Hour))
	_, err := f.svc.OpenDispute(ctx, studentID, b.ID, "no session")
	require.NoError(t, err)

	resolved, err := f.svc.ResolveDispute(ctx, adminID, b.ID, booking.OutcomeMentorFavor, "session logs show delivery")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCompleted, resolved.Status)
}

func TestResolveDispute_OnlyWhileDisputed(t *testing.T) {
	f := newFixture(t)
	b := f.confirmed(t, monday.Add(9*time.Hour))

	_, err := f.svc.ResolveDispute(context.Background(), adminID, b.ID, booking.OutcomeStudentFavor, "")
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

// =============================================================================
// TERMINAL STATES ARE SINKS
// =============================================================================

func TestTerminalStates_AreSinks(t *testing.T) {
	// Every transition out of a terminal state must fail.
	f := newFixture(t)
	ctx := context.Background()
	b := f.confirmed(t, monday.Add(9*time.Hour))
	_, err := f.svc.Cancel(ctx, studentID, b.ID, "done with this")
	require.NoError(t, err)

	_, err = f.svc.ConfirmPayment(ctx, b.ID)
	assert.ErrorIs(t, err, core.ErrInvalidState)
	_, err = f.svc.Complete(ctx, mentorID, b.ID)
	assert.ErrorIs(t, err, core.ErrInvalidState)
	_, err = f.svc.ProposeReschedule(ctx, studentID, b.ID,
		monday.Add(11*time.Hour), monday.Add(12*time.Hour))
	assert.ErrorIs(t, err, core.ErrInvalidState)
	assert.ErrorIs(t, f.svc.Expire(ctx, b.ID), core.ErrInvalidState)
}

// =============================================================================
// PAYOUT INTERPLAY (shared fixture smoke test)
// =============================================================================

func TestConfirmedBooking_FundsVisibleInEscrowOnly(t *testing.T) {
	// Capture lands in escrow; nothing is payable until settlement releases.
	f := newFixture(t)
	ctx := context.Background()
	f.confirmed(t, monday.Add(9*time.Hour))

	m := mentorID
	escrow, err := f.led.Balance(ctx, &m, ledger.AccountMentorEscrow, "USD")
	require.NoError(t, err)
	assert.True(t, escrow.Equal(core.NewMoneyFromInt(100, "USD")))

	payouts := payout.NewService(f.store, f.led, f.clock, f.store,
		core.NewMoneyFromInt(10, "USD"), nil)
	_, err = payouts.Submit(ctx, mentorID, core.NewMoneyFromInt(50, "USD"), "")
	assert.ErrorIs(t, err, core.ErrValidation, "escrowed funds are not withdrawable")
}
