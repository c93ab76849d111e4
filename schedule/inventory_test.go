package schedule_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorhive/booking-engine/core"
	"github.com/mentorhive/booking-engine/schedule"
	"github.com/mentorhive/booking-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestInventory(t *testing.T) (*schedule.Inventory, *sqlite.Store, *core.FixedClock) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := core.NewFixedClock(now)
	return schedule.NewInventory(store, store, clock, store, nil), store, clock
}

func seedTemplate(t *testing.T, inv *schedule.Inventory, owner core.UserID) *schedule.Template {
	tpl, err := inv.CreateTemplate(context.Background(), schedule.Template{
		OwnerID:                owner,
		Name:                   "weekly",
		SlotGranularityMinutes: 60,
		BufferAfterMinutes:     10,
	})
	require.NoError(t, err)

	rule := mondayMorning()
	rule.TemplateID = tpl.ID
	require.NoError(t, inv.Templates.SaveRule(context.Background(), rule))
	return tpl
}

// =============================================================================
// TEMPLATE MANAGEMENT
// =============================================================================

func TestInventory_FirstTemplateBecomesDefault(t *testing.T) {
	// GIVEN: A mentor with no templates
	// WHEN: Creating one without the default flag
	// THEN: It is forced to be the default

	inv, _, _ := newTestInventory(t)
	tpl, err := inv.CreateTemplate(context.Background(), schedule.Template{
		OwnerID: "mentor-1", Name: "first", SlotGranularityMinutes: 30,
	})
	require.NoError(t, err)
	assert.True(t, tpl.IsDefault)
}

func TestInventory_NewDefaultDemotesOld(t *testing.T) {
	// GIVEN: A mentor with a default template
	// WHEN: Creating a second template flagged default
	// THEN: Exactly one default remains, and it is the new one

	inv, _, _ := newTestInventory(t)
	ctx := context.Background()

	first, err := inv.CreateTemplate(ctx, schedule.Template{
		OwnerID: "mentor-1", Name: "first", SlotGranularityMinutes: 30,
	})
	require.NoError(t, err)

	second, err := inv.CreateTemplate(ctx, schedule.Template{
		OwnerID: "mentor-1", Name: "second", SlotGranularityMinutes: 30, IsDefault: true,
	})
	require.NoError(t, err)

	def, err := inv.Templates.DefaultTemplate(ctx, "mentor-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, def.ID)

	demoted, err := inv.Templates.GetTemplate(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, demoted.IsDefault)
}

// saveFailsStore forces the save step of a template write to fail.
type saveFailsStore struct {
	schedule.TemplateStore
}

func (s saveFailsStore) SaveTemplate(ctx context.Context, tpl schedule.Template) error {
	return errors.New("disk full")
}

func TestInventory_FailedDefaultSwap_KeepsOldDefault(t *testing.T) {
	// GIVEN: A mentor with a default template
	// WHEN: Saving a replacement default fails after the demote
	// THEN: The old template is still the default; never zero defaults

	inv, store, _ := newTestInventory(t)
	ctx := context.Background()

	first, err := inv.CreateTemplate(ctx, schedule.Template{
		OwnerID: "mentor-1", Name: "first", SlotGranularityMinutes: 30,
	})
	require.NoError(t, err)

	inv.Templates = saveFailsStore{TemplateStore: store}
	_, err = inv.CreateTemplate(ctx, schedule.Template{
		OwnerID: "mentor-1", Name: "second", SlotGranularityMinutes: 30, IsDefault: true,
	})
	require.Error(t, err)

	def, err := store.DefaultTemplate(ctx, "mentor-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, def.ID)
}

func TestInventory_DefaultTemplateCannotBeDeleted(t *testing.T) {
	inv, _, _ := newTestInventory(t)
	tpl := seedTemplate(t, inv, "mentor-1")

	err := inv.DeleteTemplate(context.Background(), tpl.ID)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestInventory_ResolveBuffer_Precedence(t *testing.T) {
	// Custom template buffer > mentor default buffer > hard-coded fallback.
	inv, _, _ := newTestInventory(t)
	ctx := context.Background()

	seedTemplate(t, inv, "mentor-1") // default, buffer 10

	custom, err := inv.CreateTemplate(ctx, schedule.Template{
		OwnerID: "mentor-1", Name: "deep-dive", SlotGranularityMinutes: 90, BufferAfterMinutes: 30,
	})
	require.NoError(t, err)

	cid := custom.ID
	assert.Equal(t, 30*time.Minute, inv.ResolveBuffer(ctx, "mentor-1", &cid))
	assert.Equal(t, 10*time.Minute, inv.ResolveBuffer(ctx, "mentor-1", nil))
	assert.Equal(t, time.Duration(schedule.DefaultBufferMinutes)*time.Minute,
		inv.ResolveBuffer(ctx, "mentor-without-templates", nil))
}

// =============================================================================
// MATERIALIZATION
// =============================================================================

func TestInventory_Materialize_CreatesSlots(t *testing.T) {
	// GIVEN: A template with a Monday 09:00-12:00 rule
	// WHEN: Materializing one week
	// THEN: Three unbooked hourly slots exist

	inv, _, _ := newTestInventory(t)
	tpl := seedTemplate(t, inv, "mentor-1")

	slots, err := inv.Materialize(context.Background(), tpl.ID, monday, monday.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, slots, 3)
	for _, s := range slots {
		assert.False(t, s.IsBooked)
		assert.Equal(t, core.UserID("mentor-1"), s.OwnerID)
	}
}

func TestInventory_Materialize_Idempotent(t *testing.T) {
	// Re-materializing the same window must not duplicate slots.
	inv, store, _ := newTestInventory(t)
	tpl := seedTemplate(t, inv, "mentor-1")
	ctx := context.Background()

	_, err := inv.Materialize(ctx, tpl.ID, monday, monday.AddDate(0, 0, 7))
	require.NoError(t, err)
	again, err := inv.Materialize(ctx, tpl.ID, monday, monday.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Len(t, again, 3)

	stored, err := store.ListSlots(ctx, "mentor-1", nil, monday, monday.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestInventory_Materialize_RuleEditDropsUnbookedKeepsBooked(t *testing.T) {
	// GIVEN: Three materialized slots, one of them booked
	// WHEN: The rule shrinks to 09:00-10:00 and the window re-materializes
	// THEN: Unbooked strays are deleted; the booked slot survives

	inv, store, _ := newTestInventory(t)
	tpl := seedTemplate(t, inv, "mentor-1")
	ctx := context.Background()

	slots, err := inv.Materialize(ctx, tpl.ID, monday, monday.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, slots, 3)

	// Book the 11:00 slot.
	var booked schedule.Slot
	for _, s := range slots {
		if s.StartAt.Equal(monday.Add(11 * time.Hour)) {
			booked = s
		}
	}
	require.NoError(t, inv.Claim(ctx, booked.ID))

	// Shrink the rule.
	rule := mondayMorning()
	rule.TemplateID = tpl.ID
	rule.EndMinute = 10 * 60
	require.NoError(t, inv.Templates.SaveRule(ctx, rule))

	after, err := inv.Materialize(ctx, tpl.ID, monday, monday.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, after, 2, "09:00 window plus the protected booked slot")

	stored, err := store.ListSlots(ctx, "mentor-1", nil, monday, monday.AddDate(0, 0, 7))
	require.NoError(t, err)
	starts := map[int64]bool{}
	for _, s := range stored {
		starts[s.StartAt.Unix()] = true
	}
	assert.True(t, starts[monday.Add(9*time.Hour).Unix()])
	assert.True(t, starts[monday.Add(11*time.Hour).Unix()], "booked slot must survive re-resolution")
	assert.False(t, starts[monday.Add(10*time.Hour).Unix()], "unbooked stray must be deleted")
}

// =============================================================================
// CLAIM / RELEASE
// =============================================================================

func TestInventory_Claim_SecondClaimLoses(t *testing.T) {
	// GIVEN: One unbooked slot
	// WHEN: Two claims arrive
	// THEN: Exactly one succeeds; the other sees a conflict

	inv, _, _ := newTestInventory(t)
	ctx := context.Background()

	slot, err := inv.AddManualSlot(ctx, "mentor-1", monday.Add(9*time.Hour), monday.Add(10*time.Hour))
	require.NoError(t, err)

	require.NoError(t, inv.Claim(ctx, slot.ID))
	err = inv.Claim(ctx, slot.ID)
	assert.ErrorIs(t, err, core.ErrConflict)
}

func TestInventory_ReleaseReopensSlot(t *testing.T) {
	inv, store, _ := newTestInventory(t)
	ctx := context.Background()

	slot, err := inv.AddManualSlot(ctx, "mentor-1", monday.Add(9*time.Hour), monday.Add(10*time.Hour))
	require.NoError(t, err)
	require.NoError(t, inv.Claim(ctx, slot.ID))
	require.NoError(t, inv.Release(ctx, slot.ID))

	got, err := store.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBooked)
	require.NoError(t, inv.Claim(ctx, slot.ID), "released slot is claimable again")
}

func TestInventory_ManualSlot_PastRejected(t *testing.T) {
	inv, _, _ := newTestInventory(t)
	_, err := inv.AddManualSlot(context.Background(), "mentor-1",
		now.Add(-time.Hour), now)
	assert.ErrorIs(t, err, core.ErrValidation)
}
