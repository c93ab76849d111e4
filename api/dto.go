/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator struct tags; handlers run
  them through the shared validator before touching domain logic.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/mentorhive/booking-engine/booking"
	"github.com/mentorhive/booking-engine/core"
	"github.com/mentorhive/booking-engine/ledger"
	"github.com/mentorhive/booking-engine/payout"
	"github.com/mentorhive/booking-engine/schedule"
)

// =============================================================================
// TEMPLATES AND SLOTS
// =============================================================================

type RuleRequest struct {
	Weekday     int  `json:"weekday" validate:"min=0,max=6"`
	StartMinute int  `json:"start_minute" validate:"min=0,max=1439"`
	EndMinute   int  `json:"end_minute" validate:"min=1,max=1440,gtfield=StartMinute"`
	SlotIndex   int  `json:"slot_index" validate:"min=0"`
	IsActive    bool `json:"is_active"`
}

type OverrideRequest struct {
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Blocked     bool   `json:"blocked"`
	StartMinute int    `json:"start_minute" validate:"min=0,max=1439"`
	EndMinute   int    `json:"end_minute" validate:"min=0,max=1440"`
	Reason      string `json:"reason"`
}

type CreateTemplateRequest struct {
	OwnerID                string            `json:"owner_id" validate:"required"`
	Name                   string            `json:"name" validate:"required"`
	Timezone               string            `json:"timezone"`
	IsDefault              bool              `json:"is_default"`
	MinNoticeHours         int               `json:"min_notice_hours" validate:"min=0"`
	MaxBookingDaysAhead    int               `json:"max_booking_days_ahead" validate:"min=0"`
	BufferAfterMinutes     int               `json:"buffer_after_minutes" validate:"min=0"`
	SlotGranularityMinutes int               `json:"slot_granularity_minutes" validate:"required,min=5"`
	MaxBookingsPerDay      int               `json:"max_bookings_per_day" validate:"min=0"`
	Rules                  []RuleRequest     `json:"rules" validate:"dive"`
	Overrides              []OverrideRequest `json:"overrides" validate:"dive"`
}

type TemplateDTO struct {
	ID                     string `json:"id"`
	OwnerID                string `json:"owner_id"`
	Name                   string `json:"name"`
	Timezone               string `json:"timezone,omitempty"`
	IsDefault              bool   `json:"is_default"`
	MinNoticeHours         int    `json:"min_notice_hours"`
	MaxBookingDaysAhead    int    `json:"max_booking_days_ahead"`
	BufferAfterMinutes     int    `json:"buffer_after_minutes"`
	SlotGranularityMinutes int    `json:"slot_granularity_minutes"`
	MaxBookingsPerDay      int    `json:"max_bookings_per_day"`
	CreatedAt              string `json:"created_at,omitempty"`
}

type MaterializeRequest struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

type ManualSlotRequest struct {
	OwnerID string `json:"owner_id" validate:"required"`
	StartAt string `json:"start_at" validate:"required"`
	EndAt   string `json:"end_at" validate:"required"`
}

type SlotDTO struct {
	ID         string  `json:"id"`
	OwnerID    string  `json:"owner_id"`
	TemplateID *string `json:"template_id,omitempty"`
	StartAt    string  `json:"start_at"`
	EndAt      string  `json:"end_at"`
	IsBooked   bool    `json:"is_booked"`
}

// WindowDTO is a resolved-but-not-materialized bookable window.
type WindowDTO struct {
	StartAt string `json:"start_at"`
	EndAt   string `json:"end_at"`
}

// =============================================================================
// OFFERINGS
// =============================================================================

type CreateOfferingRequest struct {
	MentorID        string  `json:"mentor_id" validate:"required"`
	Title           string  `json:"title" validate:"required"`
	DurationMinutes int     `json:"duration_minutes" validate:"required,min=30,max=180"`
	Price           string  `json:"price" validate:"required"`
	Currency        string  `json:"currency"`
	TemplateID      *string `json:"template_id,omitempty"`
}

type OfferingDTO struct {
	ID              string  `json:"id"`
	MentorID        string  `json:"mentor_id"`
	Title           string  `json:"title"`
	DurationMinutes int     `json:"duration_minutes"`
	Price           string  `json:"price"`
	Currency        string  `json:"currency"`
	IsActive        bool    `json:"is_active"`
	TemplateID      *string `json:"template_id,omitempty"`
}

// =============================================================================
// BOOKINGS
// =============================================================================

type CreateBookingRequest struct {
	OfferingID string `json:"offering_id" validate:"required"`
	StartAt    string `json:"start_at" validate:"required"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type ProposeRescheduleRequest struct {
	StartAt string `json:"start_at" validate:"required"`
	EndAt   string `json:"end_at" validate:"required"`
}

type OpenDisputeRequest struct {
	Note string `json:"note"`
}

type ResolveDisputeRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=student_favor mentor_favor"`
	Note    string `json:"note"`
}

type BookingDTO struct {
	ID              string `json:"id"`
	StudentID       string `json:"student_id"`
	MentorID        string `json:"mentor_id"`
	OfferingID      string `json:"offering_id"`
	StartAt         string `json:"start_at"`
	EndAt           string `json:"end_at"`
	DurationMinutes int    `json:"duration_minutes"`
	Price           string `json:"price"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`

	CancellationReason string `json:"cancellation_reason,omitempty"`
	DisputeNote        string `json:"dispute_note,omitempty"`

	PendingRescheduleStartAt *string `json:"pending_reschedule_start_at,omitempty"`
	PendingRescheduleEndAt   *string `json:"pending_reschedule_end_at,omitempty"`
	RescheduleRequestedBy    *string `json:"reschedule_requested_by,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// =============================================================================
// PAYOUTS AND BALANCES
// =============================================================================

type SubmitPayoutRequest struct {
	Amount   string `json:"amount" validate:"required"`
	Currency string `json:"currency"`
	Note     string `json:"note"`
}

type RejectPayoutRequest struct {
	Note string `json:"note"`
}

type PayoutDTO struct {
	ID          string `json:"id"`
	MentorID    string `json:"mentor_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	MentorNote  string `json:"mentor_note,omitempty"`
	AdminNote   string `json:"admin_note,omitempty"`
	RequestedAt string `json:"requested_at"`
}

type BalanceDTO struct {
	MentorID  string `json:"mentor_id"`
	Currency  string `json:"currency"`
	Escrow    string `json:"escrow"`
	Available string `json:"available"`
	PaidOut   string `json:"paid_out"`
}

// EntryDTO is one immutable ledger line in the audit view.
type EntryDTO struct {
	ID        string `json:"id"`
	Account   string `json:"account"`
	Direction string `json:"direction"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	RefType   string `json:"ref_type"`
	RefID     string `json:"ref_id"`
	CreatedAt string `json:"created_at"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toTemplateDTO(t schedule.Template) TemplateDTO {
	return TemplateDTO{
		ID:                     string(t.ID),
		OwnerID:                string(t.OwnerID),
		Name:                   t.Name,
		Timezone:               t.Timezone,
		IsDefault:              t.IsDefault,
		MinNoticeHours:         t.MinNoticeHours,
		MaxBookingDaysAhead:    t.MaxBookingDaysAhead,
		BufferAfterMinutes:     t.BufferAfterMinutes,
		SlotGranularityMinutes: t.SlotGranularityMinutes,
		MaxBookingsPerDay:      t.MaxBookingsPerDay,
		CreatedAt:              t.CreatedAt.Format(time.RFC3339),
	}
}

func toSlotDTO(s schedule.Slot) SlotDTO {
	dto := SlotDTO{
		ID:       string(s.ID),
		OwnerID:  string(s.OwnerID),
		StartAt:  s.StartAt.Format(time.RFC3339),
		EndAt:    s.EndAt.Format(time.RFC3339),
		IsBooked: s.IsBooked,
	}
	if s.TemplateID != nil {
		id := string(*s.TemplateID)
		dto.TemplateID = &id
	}
	return dto
}

func toOfferingDTO(o booking.Offering) OfferingDTO {
	dto := OfferingDTO{
		ID:              string(o.ID),
		MentorID:        string(o.MentorID),
		Title:           o.Title,
		DurationMinutes: o.DurationMinutes,
		Price:           o.Price.Value.String(),
		Currency:        o.Price.Currency,
		IsActive:        o.IsActive,
	}
	if o.TemplateID != nil {
		id := string(*o.TemplateID)
		dto.TemplateID = &id
	}
	return dto
}

func toBookingDTO(b booking.Booking) BookingDTO {
	dto := BookingDTO{
		ID:                 string(b.ID),
		StudentID:          string(b.StudentID),
		MentorID:           string(b.MentorID),
		OfferingID:         string(b.OfferingID),
		StartAt:            b.StartAt.Format(time.RFC3339),
		EndAt:              b.EndAt.Format(time.RFC3339),
		DurationMinutes:    b.DurationMinutes,
		Price:              b.Price.Value.String(),
		Currency:           b.Price.Currency,
		Status:             string(b.Status),
		CancellationReason: b.CancellationReason,
		DisputeNote:        b.DisputeNote,
		CreatedAt:          b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          b.UpdatedAt.Format(time.RFC3339),
	}
	if b.PendingRescheduleStartAt != nil {
		s := b.PendingRescheduleStartAt.Format(time.RFC3339)
		dto.PendingRescheduleStartAt = &s
	}
	if b.PendingRescheduleEndAt != nil {
		s := b.PendingRescheduleEndAt.Format(time.RFC3339)
		dto.PendingRescheduleEndAt = &s
	}
	if b.RescheduleRequestedBy != nil {
		s := string(*b.RescheduleRequestedBy)
		dto.RescheduleRequestedBy = &s
	}
	return dto
}

func toBookingDTOs(bs []booking.Booking) []BookingDTO {
	dtos := make([]BookingDTO, len(bs))
	for i, b := range bs {
		dtos[i] = toBookingDTO(b)
	}
	return dtos
}

func toPayoutDTO(r payout.Request) PayoutDTO {
	return PayoutDTO{
		ID:          string(r.ID),
		MentorID:    string(r.MentorID),
		Amount:      r.Amount.Value.String(),
		Currency:    r.Amount.Currency,
		Status:      string(r.Status),
		MentorNote:  r.MentorNote,
		AdminNote:   r.AdminNote,
		RequestedAt: r.RequestedAt.Format(time.RFC3339),
	}
}

func toWindowDTO(w schedule.Window) WindowDTO {
	return WindowDTO{
		StartAt: w.Start.Format(time.RFC3339),
		EndAt:   w.End.Format(time.RFC3339),
	}
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:        string(e.ID),
		Account:   string(e.Account),
		Direction: string(e.Direction),
		Amount:    e.Amount.Value.String(),
		Currency:  e.Amount.Currency,
		RefType:   e.RefType,
		RefID:     e.RefID,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

func templateIDPtr(s *string) *core.TemplateID {
	if s == nil || *s == "" {
		return nil
	}
	id := core.TemplateID(*s)
	return &id
}
