/*
inventory.go - Materialized slot inventory and template management

PURPOSE:
  Bridges the pure resolver to durable state. Materialize reconciles the
  stored slot set against a fresh resolution: missing windows are inserted,
  unbooked strays are deleted, booked slots are never touched. Claim and
  Release delegate to the store's conditional writes.

RECONCILIATION:
  Re-resolving the same inputs yields the same windows, so Materialize is
  idempotent. After a rule edit it converges the inventory to the new rule
  set without disturbing anything a student already booked.
*/
package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mentorhive/booking-engine/core"
)

// Inventory manages templates and the materialized slot set.
type Inventory struct {
	Templates TemplateStore
	Slots     SlotStore
	Clock     core.Clock
	UoW       core.UnitOfWork
	Log       *zap.Logger
}

func NewInventory(templates TemplateStore, slots SlotStore, clock core.Clock, uow core.UnitOfWork, log *zap.Logger) *Inventory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Inventory{Templates: templates, Slots: slots, Clock: clock, UoW: uow, Log: log}
}

// =============================================================================
// TEMPLATE MANAGEMENT
// =============================================================================

// CreateTemplate validates and saves a template. A mentor's first template
// becomes the default regardless of the flag; a later default demotes the
// previous one so exactly one default exists per mentor.
func (inv *Inventory) CreateTemplate(ctx context.Context, t Template) (*Template, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = core.TemplateID(core.NewID())
	}
	now := inv.Clock.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	// The demote and the save land together or not at all: a failure between
	// them would leave the mentor with no default template.
	err := inv.UoW.WithTx(ctx, func(ctx context.Context) error {
		existing, err := inv.Templates.ListTemplates(ctx, t.OwnerID)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			t.IsDefault = true
		} else if t.IsDefault {
			if err := inv.Templates.ClearDefault(ctx, t.OwnerID); err != nil {
				return err
			}
		}
		return inv.Templates.SaveTemplate(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteTemplate removes a non-default template together with its unbooked
// slots. The default template is protected while it backs the mentor's
// schedule; promote another template first.
func (inv *Inventory) DeleteTemplate(ctx context.Context, id core.TemplateID) error {
	t, err := inv.Templates.GetTemplate(ctx, id)
	if err != nil {
		return err
	}
	if t.IsDefault {
		return &core.InvalidStateError{Entity: "template", ID: string(id), From: "default", Detail: "default template cannot be deleted while referenced"}
	}

	// Drop unbooked slots materialized from this template; booked ones stay.
	tid := t.ID
	slots, err := inv.Slots.ListSlots(ctx, t.OwnerID, &tid, time.Time{}, inv.Clock.Now().AddDate(10, 0, 0))
	if err != nil {
		return err
	}
	for _, s := range slots {
		if s.IsBooked {
			continue
		}
		if err := inv.Slots.DeleteSlot(ctx, s.ID); err != nil {
			return err
		}
	}
	return inv.Templates.DeleteTemplate(ctx, id)
}

// ResolveBuffer returns the buffer for a mentor, preferring the offering's
// custom template when it still exists, then the mentor's default template,
// then the hard-coded fallback.
func (inv *Inventory) ResolveBuffer(ctx context.Context, mentor core.UserID, custom *core.TemplateID) time.Duration {
	if custom != nil {
		if t, err := inv.Templates.GetTemplate(ctx, *custom); err == nil {
			return time.Duration(t.BufferAfterMinutes) * time.Minute
		}
	}
	if t, err := inv.Templates.DefaultTemplate(ctx, mentor); err == nil {
		return time.Duration(t.BufferAfterMinutes) * time.Minute
	}
	return DefaultBufferMinutes * time.Minute
}

// =============================================================================
// MATERIALIZATION
// =============================================================================

// Preview resolves the template over [from, to) without touching stored
// slots. Used to show a mentor what a rule edit would offer before
// materializing it.
func (inv *Inventory) Preview(ctx context.Context, templateID core.TemplateID, from, to time.Time) ([]Window, error) {
	t, err := inv.Templates.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	rules, err := inv.Templates.ListRules(ctx, templateID)
	if err != nil {
		return nil, err
	}
	overrides, err := inv.Templates.ListOverrides(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return Resolve(*t, rules, overrides, from, to, inv.Clock.Now()), nil
}

// Materialize resolves the template over [from, to) and reconciles stored
// slots with the result. Returns the slots now covering the window.
func (inv *Inventory) Materialize(ctx context.Context, templateID core.TemplateID, from, to time.Time) ([]Slot, error) {
	t, err := inv.Templates.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	rules, err := inv.Templates.ListRules(ctx, templateID)
	if err != nil {
		return nil, err
	}
	overrides, err := inv.Templates.ListOverrides(ctx, templateID)
	if err != nil {
		return nil, err
	}

	now := inv.Clock.Now()
	windows := Resolve(*t, rules, overrides, from, to, now)

	tid := t.ID

	// Keyed by Unix seconds: time.Time equality as a map key is location-sensitive.
	wanted := make(map[int64]Window, len(windows))
	for _, w := range windows {
		wanted[w.Start.Unix()] = w
	}

	// The delete/insert reconcile is one unit of work; a crash mid-way must
	// not leave the window half-converged.
	var kept, fresh []Slot
	deleted := 0
	err = inv.UoW.WithTx(ctx, func(ctx context.Context) error {
		existing, err := inv.Slots.ListSlots(ctx, t.OwnerID, &tid, from, to)
		if err != nil {
			return err
		}

		kept = make([]Slot, 0, len(windows))
		for _, s := range existing {
			if _, ok := wanted[s.StartAt.Unix()]; ok || s.IsBooked {
				kept = append(kept, s)
				delete(wanted, s.StartAt.Unix())
				continue
			}
			// Unbooked slot outside the new resolution.
			if err := inv.Slots.DeleteSlot(ctx, s.ID); err != nil {
				return err
			}
			deleted++
		}

		fresh = make([]Slot, 0, len(wanted))
		for _, w := range wanted {
			fresh = append(fresh, Slot{
				ID:         core.SlotID(core.NewID()),
				OwnerID:    t.OwnerID,
				TemplateID: &tid,
				StartAt:    w.Start,
				EndAt:      w.End,
				CreatedAt:  now,
			})
		}
		if len(fresh) == 0 {
			return nil
		}
		return inv.Slots.InsertSlots(ctx, fresh)
	})
	if err != nil {
		return nil, err
	}

	inv.Log.Info("materialized availability",
		zap.String("template_id", string(templateID)),
		zap.Int("resolved", len(windows)),
		zap.Int("inserted", len(fresh)),
		zap.Int("deleted", deleted))

	return append(kept, fresh...), nil
}

// AddManualSlot records a one-off slot created by the mentor outside any
// template resolution.
func (inv *Inventory) AddManualSlot(ctx context.Context, owner core.UserID, start, end time.Time) (*Slot, error) {
	if !start.Before(end) {
		return nil, &core.ValidationError{Field: "time_range", Message: "start must precede end"}
	}
	if start.Before(inv.Clock.Now()) {
		return nil, &core.ValidationError{Field: "start_at", Message: "slot starts in the past"}
	}
	s := Slot{
		ID:        core.SlotID(core.NewID()),
		OwnerID:   owner,
		StartAt:   start.UTC(),
		EndAt:     end.UTC(),
		CreatedAt: inv.Clock.Now(),
	}
	if err := inv.Slots.InsertSlots(ctx, []Slot{s}); err != nil {
		return nil, err
	}
	return &s, nil
}

// =============================================================================
// CLAIM / RELEASE
// =============================================================================

// Claim atomically marks a slot booked. The store's conditional write is the
// final arbiter between concurrent claims.
func (inv *Inventory) Claim(ctx context.Context, id core.SlotID) error {
	return inv.Slots.ClaimSlot(ctx, id)
}

// Release returns a slot to the bookable pool.
func (inv *Inventory) Release(ctx context.Context, id core.SlotID) error {
	return inv.Slots.ReleaseSlot(ctx, id)
}
