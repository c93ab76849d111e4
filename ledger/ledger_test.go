package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorhive/booking-engine/core"
	"github.com/mentorhive/booking-engine/ledger"
	"github.com/mentorhive/booking-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*ledger.Ledger, *core.FixedClock) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := core.NewFixedClock(time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC))
	return ledger.New(store, clock), clock
}

func usd(v int) core.Money {
	return core.NewMoneyFromInt(v, "USD")
}

const mentor = core.UserID("mentor-1")

// =============================================================================
// POST VALIDATION
// =============================================================================

func TestLedger_Post_CapturePair_BalancesMove(t *testing.T) {
	// GIVEN: An empty ledger
	// WHEN: A payment capture of $100 is posted for a booking
	// THEN: The mentor's escrow shows $100 and the platform clearing -$100

	led, _ := newTestLedger(t)
	ctx := context.Background()

	err := led.Post(ctx, ledger.CapturePair(mentor, usd(100), "booking", "bk-1", "capture-bk-1")...)
	require.NoError(t, err)

	m := mentor
	escrow, err := led.Balance(ctx, &m, ledger.AccountMentorEscrow, "USD")
	require.NoError(t, err)
	assert.True(t, escrow.Equal(usd(100)), "escrow should hold the captured amount, got %s", escrow)

	clearing, err := led.Balance(ctx, nil, ledger.AccountPlatformClearing, "USD")
	require.NoError(t, err)
	assert.True(t, clearing.Equal(usd(100).Neg()), "clearing mirrors the capture as a debit, got %s", clearing)
}

func TestLedger_Post_Unbalanced_Rejected(t *testing.T) {
	// GIVEN: Two entries whose debits and credits differ
	// WHEN: Posting them
	// THEN: The post fails with an unbalanced error and nothing is written

	led, _ := newTestLedger(t)
	ctx := context.Background()

	m := mentor
	err := led.Post(ctx,
		ledger.Entry{Account: ledger.AccountPlatformClearing, Direction: ledger.Debit, Amount: usd(100), RefType: "booking", RefID: "bk-1"},
		ledger.Entry{Account: ledger.AccountMentorEscrow, Direction: ledger.Credit, Amount: usd(90), OwnerID: &m, RefType: "booking", RefID: "bk-1"},
	)
	require.Error(t, err)
	var unbalanced *core.UnbalancedError
	assert.ErrorAs(t, err, &unbalanced)
	assert.ErrorIs(t, err, core.ErrUnbalanced)

	escrow, err := led.Balance(ctx, &m, ledger.AccountMentorEscrow, "USD")
	require.NoError(t, err)
	assert.True(t, escrow.IsZero(), "rejected post must not move any balance")
}

func TestLedger_Post_SingleAccount_Rejected(t *testing.T) {
	// GIVEN: A debit and credit on the same account and owner
	// WHEN: Posting the pair
	// THEN: The post is rejected even though sums match

	led, _ := newTestLedger(t)
	m := mentor

	err := led.Post(context.Background(),
		ledger.Entry{Account: ledger.AccountMentorEscrow, Direction: ledger.Debit, Amount: usd(50), OwnerID: &m, RefType: "booking", RefID: "bk-1"},
		ledger.Entry{Account: ledger.AccountMentorEscrow, Direction: ledger.Credit, Amount: usd(50), OwnerID: &m, RefType: "booking", RefID: "bk-1"},
	)
	assert.ErrorIs(t, err, core.ErrUnbalanced)
}

func TestLedger_Post_MixedCurrencies_Rejected(t *testing.T) {
	led, _ := newTestLedger(t)
	m := mentor

	err := led.Post(context.Background(),
		ledger.Entry{Account: ledger.AccountPlatformClearing, Direction: ledger.Debit, Amount: usd(50), RefType: "booking", RefID: "bk-1"},
		ledger.Entry{Account: ledger.AccountMentorEscrow, Direction: ledger.Credit, Amount: core.NewMoneyFromInt(50, "EUR"), OwnerID: &m, RefType: "booking", RefID: "bk-1"},
	)
	assert.ErrorIs(t, err, core.ErrUnbalanced)
}

func TestLedger_Post_NegativeAmount_Rejected(t *testing.T) {
	led, _ := newTestLedger(t)
	m := mentor

	err := led.Post(context.Background(),
		ledger.Entry{Account: ledger.AccountPlatformClearing, Direction: ledger.Debit, Amount: usd(-50), RefType: "booking", RefID: "bk-1"},
		ledger.Entry{Account: ledger.AccountMentorEscrow, Direction: ledger.Credit, Amount: usd(-50), OwnerID: &m, RefType: "booking", RefID: "bk-1"},
	)
	assert.ErrorIs(t, err, core.ErrUnbalanced)
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestLedger_Post_DuplicateKey_RejectedAtomically(t *testing.T) {
	// GIVEN: A capture already posted under a flow key
	// WHEN: The same flow is replayed with the same key
	// THEN: The replay fails with a conflict and balances are unchanged

	led, _ := newTestLedger(t)
	ctx := context.Background()
	m := mentor

	require.NoError(t, led.Post(ctx, ledger.CapturePair(mentor, usd(100), "booking", "bk-1", "capture-bk-1")...))

	err := led.Post(ctx, ledger.CapturePair(mentor, usd(100), "booking", "bk-1", "capture-bk-1")...)
	assert.ErrorIs(t, err, core.ErrConflict, "replayed key must collapse to a single write")

	escrow, err := led.Balance(ctx, &m, ledger.AccountMentorEscrow, "USD")
	require.NoError(t, err)
	assert.True(t, escrow.Equal(usd(100)), "balance must reflect exactly one capture, got %s", escrow)
}

// =============================================================================
// DERIVED BALANCES
// =============================================================================

func TestLedger_FullFlow_BalanceLaw(t *testing.T) {
	// GIVEN: Capture, release, and payout for the same $80 session
	// WHEN: Balances are derived after each step
	// THEN: Money is never created or destroyed across the accounts

	led, _ := newTestLedger(t)
	ctx := context.Background()
	m := mentor

	require.NoError(t, led.Post(ctx, ledger.CapturePair(mentor, usd(80), "booking", "bk-1", "capture-bk-1")...))
	require.NoError(t, led.Post(ctx, ledger.ReleasePair(mentor, usd(80), "booking", "bk-1", "release-bk-1")...))

	escrow, _ := led.Balance(ctx, &m, ledger.AccountMentorEscrow, "USD")
	available, _ := led.Balance(ctx, &m, ledger.AccountMentorAvailable, "USD")
	assert.True(t, escrow.IsZero(), "escrow drains on release")
	assert.True(t, available.Equal(usd(80)), "release lands in available")

	require.NoError(t, led.Post(ctx, ledger.PayoutPair(mentor, usd(80), "po-1", "payout-po-1")...))

	available, _ = led.Balance(ctx, &m, ledger.AccountMentorAvailable, "USD")
	paidOut, _ := led.Balance(ctx, &m, ledger.AccountMentorPayout, "USD")
	assert.True(t, available.IsZero(), "payout drains available")
	assert.True(t, paidOut.Equal(usd(80)))

	// Replaying the derivation gives the same answer: there is no cached
	// state to drift.
	again, _ := led.Balance(ctx, &m, ledger.AccountMentorPayout, "USD")
	assert.True(t, paidOut.Equal(again))
}

func TestLedger_EscrowHolds_TracksRemainder(t *testing.T) {
	// GIVEN: A $100 capture for a booking and a $40 partial refund
	// WHEN: Asking what escrow still holds for that booking
	// THEN: $60 remains

	led, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, led.Post(ctx, ledger.CapturePair(mentor, usd(100), "booking", "bk-1", "capture-bk-1")...))
	require.NoError(t, led.Post(ctx, ledger.RefundPair(mentor, ledger.AccountMentorEscrow, usd(40), "booking", "bk-1", "refund-bk-1")...))

	held, err := led.EscrowHolds(ctx, "booking", "bk-1", "USD")
	require.NoError(t, err)
	assert.True(t, held.Equal(usd(60)), "escrow should hold the unrefunded remainder, got %s", held)
}

func TestLedger_EscrowHolds_PerReference(t *testing.T) {
	// Holds are scoped per booking, not per mentor.
	led, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, led.Post(ctx, ledger.CapturePair(mentor, usd(100), "booking", "bk-1", "capture-bk-1")...))
	require.NoError(t, led.Post(ctx, ledger.CapturePair(mentor, usd(70), "booking", "bk-2", "capture-bk-2")...))

	held, err := led.EscrowHolds(ctx, "booking", "bk-2", "USD")
	require.NoError(t, err)
	assert.True(t, held.Equal(usd(70)))
}
