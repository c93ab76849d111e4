/*
store.go - Persistence interfaces for templates and slots

PURPOSE:
  Defines the contract between the scheduling domain and the database.
  Implementations: store/sqlite (production and tests).

CLAIM ARBITRATION:
  ClaimSlot must be a single conditional write: the database decides which
  of two concurrent claims wins. Two claims on the same slot yield exactly
  one success and one core.ErrConflict. Application-level check-then-act is
  not an acceptable implementation.
*/
package schedule

import (
	"context"
	"time"

	"github.com/mentorhive/booking-engine/core"
)

// TemplateStore persists templates with their rules and overrides.
type TemplateStore interface {
	SaveTemplate(ctx context.Context, t Template) error
	GetTemplate(ctx context.Context, id core.TemplateID) (*Template, error)
	// DefaultTemplate returns the owner's template with IsDefault = true,
	// or core.ErrNotFound.
	DefaultTemplate(ctx context.Context, owner core.UserID) (*Template, error)
	ListTemplates(ctx context.Context, owner core.UserID) ([]Template, error)
	DeleteTemplate(ctx context.Context, id core.TemplateID) error
	// ClearDefault unsets IsDefault on all of the owner's templates.
	ClearDefault(ctx context.Context, owner core.UserID) error

	SaveRule(ctx context.Context, r Rule) error
	ListRules(ctx context.Context, template core.TemplateID) ([]Rule, error)
	DeleteRule(ctx context.Context, id string) error

	SaveOverride(ctx context.Context, o Override) error
	ListOverrides(ctx context.Context, template core.TemplateID) ([]Override, error)
	DeleteOverride(ctx context.Context, id string) error
}

// SlotStore persists materialized slots.
type SlotStore interface {
	InsertSlots(ctx context.Context, slots []Slot) error
	GetSlot(ctx context.Context, id core.SlotID) (*Slot, error)
	// ListSlots returns the owner's slots with StartAt in [from, to).
	// A nil template matches any; otherwise only slots of that template.
	ListSlots(ctx context.Context, owner core.UserID, template *core.TemplateID, from, to time.Time) ([]Slot, error)
	// FindCovering returns an unbooked slot of the owner fully containing
	// [start, end), or core.ErrNotFound.
	FindCovering(ctx context.Context, owner core.UserID, start, end time.Time) (*Slot, error)
	// ClaimSlot atomically flips IsBooked false -> true.
	// Returns core.ErrConflict if already booked, core.ErrNotFound if absent.
	ClaimSlot(ctx context.Context, id core.SlotID) error
	// ReleaseSlot flips IsBooked back to false.
	ReleaseSlot(ctx context.Context, id core.SlotID) error
	// DeleteSlot removes a slot only while unbooked.
	DeleteSlot(ctx context.Context, id core.SlotID) error
}
