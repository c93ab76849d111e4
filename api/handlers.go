/*
handlers.go - HTTP API handlers for the booking engine

PURPOSE:
  Exposes the scheduling and settlement engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Templates:
    POST   /api/templates                    Create template (+rules/overrides)
    GET    /api/templates?owner_id=          List a mentor's templates
    GET    /api/templates/{id}               Get template details
    DELETE /api/templates/{id}               Delete (default protected)
    POST   /api/templates/{id}/materialize   Resolve and persist slots
    GET    /api/templates/{id}/preview       Resolve without persisting
    POST   /api/templates/{id}/rules         Add a recurring rule
    DELETE /api/templates/{id}/rules/{ruleID}          Remove a rule
    POST   /api/templates/{id}/overrides     Add a date override
    DELETE /api/templates/{id}/overrides/{overrideID}  Remove an override

  Slots:
    GET    /api/slots?owner_id=&from=&to=    List slots
    POST   /api/slots                        Add a manual slot

  Offerings:
    POST   /api/offerings                    Create offering
    GET    /api/offerings?mentor_id=         List a mentor's offerings

  Bookings:
    POST   /api/bookings                     Create (pending payment)
    GET    /api/bookings/{id}                Get booking
    GET    /api/bookings?student_id=|mentor_id=  List
    POST   /api/bookings/{id}/confirm        Payment captured
    POST   /api/bookings/{id}/complete       Mentor marks delivered
    POST   /api/bookings/{id}/cancel         Cancel with reason
    POST   /api/bookings/{id}/no-show/student  Mentor reports student absent
    POST   /api/bookings/{id}/no-show/mentor   Student reports mentor absent
    POST   /api/bookings/{id}/reschedule         Propose new time
    POST   /api/bookings/{id}/reschedule/approve Counter-party accepts
    POST   /api/bookings/{id}/reschedule/reject  Counter-party declines
    POST   /api/bookings/{id}/dispute            Student opens dispute
    POST   /api/bookings/{id}/dispute/resolve    Admin resolves

  Payouts:
    POST   /api/payouts                      Mentor requests withdrawal
    GET    /api/payouts/{id}                 Get request
    GET    /api/payouts?mentor_id=           List a mentor's requests
    POST   /api/payouts/{id}/approve         Operator approves
    POST   /api/payouts/{id}/reject          Operator rejects

  Balances:
    GET    /api/balances/{mentor_id}         Derived ledger balances
    GET    /api/balances/{mentor_id}/entries Full entry log (audit view)

ACTOR IDENTIFICATION:
  The acting user is taken from the X-User-ID header. There is no
  authentication middleware; an identity-aware gateway fronts this service
  in production.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 403: Actor is not allowed to perform the transition
  - 404: Resource not found
  - 409: Conflict (lost race, invalid state, duplicate)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mentorhive/booking-engine/booking"
	"github.com/mentorhive/booking-engine/core"
	"github.com/mentorhive/booking-engine/ledger"
	"github.com/mentorhive/booking-engine/payout"
	"github.com/mentorhive/booking-engine/schedule"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Inventory *schedule.Inventory
	Bookings  *booking.Service
	Payouts   *payout.Service
	Ledger    *ledger.Ledger
	Log       *zap.Logger

	validate *validator.Validate
}

// NewHandler creates a new handler wired to the domain services.
func NewHandler(inventory *schedule.Inventory, bookings *booking.Service, payouts *payout.Service, led *ledger.Ledger, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Inventory: inventory,
		Bookings:  bookings,
		Payouts:   payouts,
		Ledger:    led,
		Log:       log,
		validate:  validator.New(),
	}
}

// =============================================================================
// TEMPLATE HANDLERS
// =============================================================================

// CreateTemplate creates a template with its rules and overrides.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req CreateTemplateRequest
	if !h.decode(w, r, &req) {
		return
	}

	t := schedule.Template{
		ID:                     core.TemplateID(core.NewID()),
		OwnerID:                core.UserID(req.OwnerID),
		Name:                   req.Name,
		Timezone:               req.Timezone,
		IsDefault:              req.IsDefault,
		MinNoticeHours:         req.MinNoticeHours,
		MaxBookingDaysAhead:    req.MaxBookingDaysAhead,
		BufferAfterMinutes:     req.BufferAfterMinutes,
		SlotGranularityMinutes: req.SlotGranularityMinutes,
		MaxBookingsPerDay:      req.MaxBookingsPerDay,
	}

	created, err := h.Inventory.CreateTemplate(r.Context(), t)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	for _, rr := range req.Rules {
		rule := schedule.Rule{
			ID:          core.NewID(),
			TemplateID:  created.ID,
			Weekday:     time.Weekday(rr.Weekday),
			StartMinute: rr.StartMinute,
			EndMinute:   rr.EndMinute,
			SlotIndex:   rr.SlotIndex,
			IsActive:    rr.IsActive,
		}
		if err := rule.Validate(); err != nil {
			h.writeDomainError(w, err)
			return
		}
		if err := h.Inventory.Templates.SaveRule(r.Context(), rule); err != nil {
			h.writeDomainError(w, err)
			return
		}
	}
	for _, ro := range req.Overrides {
		ov := schedule.Override{
			ID:          core.NewID(),
			TemplateID:  created.ID,
			Date:        ro.Date,
			Blocked:     ro.Blocked,
			StartMinute: ro.StartMinute,
			EndMinute:   ro.EndMinute,
			Reason:      ro.Reason,
		}
		if err := ov.Validate(); err != nil {
			h.writeDomainError(w, err)
			return
		}
		if err := h.Inventory.Templates.SaveOverride(r.Context(), ov); err != nil {
			h.writeDomainError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, toTemplateDTO(*created))
}

// ListTemplates returns a mentor's templates.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner_id")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner_id query parameter required", nil)
		return
	}
	templates, err := h.Inventory.Templates.ListTemplates(r.Context(), core.UserID(owner))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]TemplateDTO, len(templates))
	for i, t := range templates {
		dtos[i] = toTemplateDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTemplate returns a single template.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id := core.TemplateID(chi.URLParam(r, "id"))
	t, err := h.Inventory.Templates.GetTemplate(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateDTO(*t))
}

// DeleteTemplate removes a non-default template.
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := core.TemplateID(chi.URLParam(r, "id"))
	if err := h.Inventory.DeleteTemplate(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MaterializeSlots resolves the template over a window and persists slots.
func (h *Handler) MaterializeSlots(w http.ResponseWriter, r *http.Request) {
	id := core.TemplateID(chi.URLParam(r, "id"))
	var req MaterializeRequest
	if !h.decode(w, r, &req) {
		return
	}
	from, ok := h.parseTime(w, "from", req.From)
	if !ok {
		return
	}
	to, ok := h.parseTime(w, "to", req.To)
	if !ok {
		return
	}

	slots, err := h.Inventory.Materialize(r.Context(), id, from, to)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]SlotDTO, len(slots))
	for i, s := range slots {
		dtos[i] = toSlotDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PreviewSlots resolves the template over a window without persisting
// anything. Lets a mentor inspect what a rule edit would offer.
func (h *Handler) PreviewSlots(w http.ResponseWriter, r *http.Request) {
	id := core.TemplateID(chi.URLParam(r, "id"))
	q := r.URL.Query()
	from, ok := h.parseTime(w, "from", q.Get("from"))
	if !ok {
		return
	}
	to, ok := h.parseTime(w, "to", q.Get("to"))
	if !ok {
		return
	}

	windows, err := h.Inventory.Preview(r.Context(), id, from, to)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]WindowDTO, len(windows))
	for i, win := range windows {
		dtos[i] = toWindowDTO(win)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddRule attaches a recurring rule to an existing template.
func (h *Handler) AddRule(w http.ResponseWriter, r *http.Request) {
	templateID := core.TemplateID(chi.URLParam(r, "id"))
	var req RuleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.Inventory.Templates.GetTemplate(r.Context(), templateID); err != nil {
		h.writeDomainError(w, err)
		return
	}

	rule := schedule.Rule{
		ID:          core.NewID(),
		TemplateID:  templateID,
		Weekday:     time.Weekday(req.Weekday),
		StartMinute: req.StartMinute,
		EndMinute:   req.EndMinute,
		SlotIndex:   req.SlotIndex,
		IsActive:    req.IsActive,
	}
	if err := rule.Validate(); err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := h.Inventory.Templates.SaveRule(r.Context(), rule); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": rule.ID})
}

// DeleteRule removes a rule. Already-materialized slots are untouched until
// the next materialization reconciles them.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.Inventory.Templates.DeleteRule(r.Context(), chi.URLParam(r, "ruleID")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddOverride attaches a date-specific override to an existing template.
func (h *Handler) AddOverride(w http.ResponseWriter, r *http.Request) {
	templateID := core.TemplateID(chi.URLParam(r, "id"))
	var req OverrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.Inventory.Templates.GetTemplate(r.Context(), templateID); err != nil {
		h.writeDomainError(w, err)
		return
	}

	ov := schedule.Override{
		ID:          core.NewID(),
		TemplateID:  templateID,
		Date:        req.Date,
		Blocked:     req.Blocked,
		StartMinute: req.StartMinute,
		EndMinute:   req.EndMinute,
		Reason:      req.Reason,
	}
	if err := ov.Validate(); err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := h.Inventory.Templates.SaveOverride(r.Context(), ov); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": ov.ID})
}

// DeleteOverride removes a date override.
func (h *Handler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	if err := h.Inventory.Templates.DeleteOverride(r.Context(), chi.URLParam(r, "overrideID")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SLOT HANDLERS
// =============================================================================

// ListSlots returns slots in a window.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner := q.Get("owner_id")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner_id query parameter required", nil)
		return
	}
	from, ok := h.parseTime(w, "from", q.Get("from"))
	if !ok {
		return
	}
	to, ok := h.parseTime(w, "to", q.Get("to"))
	if !ok {
		return
	}

	slots, err := h.Inventory.Slots.ListSlots(r.Context(), core.UserID(owner), nil, from, to)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]SlotDTO, len(slots))
	for i, s := range slots {
		dtos[i] = toSlotDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateManualSlot adds a one-off slot outside the recurring rules.
func (h *Handler) CreateManualSlot(w http.ResponseWriter, r *http.Request) {
	var req ManualSlotRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, ok := h.parseTime(w, "start_at", req.StartAt)
	if !ok {
		return
	}
	end, ok := h.parseTime(w, "end_at", req.EndAt)
	if !ok {
		return
	}

	slot, err := h.Inventory.AddManualSlot(r.Context(), core.UserID(req.OwnerID), start, end)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSlotDTO(*slot))
}

// =============================================================================
// OFFERING HANDLERS
// =============================================================================

// CreateOffering creates a sellable session type.
func (h *Handler) CreateOffering(w http.ResponseWriter, r *http.Request) {
	var req CreateOfferingRequest
	if !h.decode(w, r, &req) {
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid price", err)
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = core.DefaultCurrency
	}

	o := booking.Offering{
		MentorID:        core.UserID(req.MentorID),
		Title:           req.Title,
		DurationMinutes: req.DurationMinutes,
		Price:           core.Money{Value: price, Currency: currency},
		IsActive:        true,
		TemplateID:      templateIDPtr(req.TemplateID),
	}
	created, err := h.Bookings.CreateOffering(r.Context(), o)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOfferingDTO(*created))
}

// ListOfferings returns a mentor's offerings.
func (h *Handler) ListOfferings(w http.ResponseWriter, r *http.Request) {
	mentor := r.URL.Query().Get("mentor_id")
	if mentor == "" {
		writeError(w, http.StatusBadRequest, "mentor_id query parameter required", nil)
		return
	}
	offerings, err := h.Bookings.Offerings.ListOfferings(r.Context(), core.UserID(mentor))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]OfferingDTO, len(offerings))
	for i, o := range offerings {
		dtos[i] = toOfferingDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// CreateBooking opens a pending-payment booking for the acting student.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CreateBookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, ok := h.parseTime(w, "start_at", req.StartAt)
	if !ok {
		return
	}

	b, err := h.Bookings.Create(r.Context(), actor, core.OfferingID(req.OfferingID), start)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(*b))
}

// GetBooking returns a single booking.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id := core.BookingID(chi.URLParam(r, "id"))
	b, err := h.Bookings.Bookings.GetBooking(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// ListBookings returns bookings filtered by student or mentor.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()
	if student := q.Get("student_id"); student != "" {
		bs, err := h.Bookings.Bookings.ListByStudent(ctx, core.UserID(student))
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingDTOs(bs))
		return
	}
	if mentor := q.Get("mentor_id"); mentor != "" {
		bs, err := h.Bookings.Bookings.ListByMentor(ctx, core.UserID(mentor))
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingDTOs(bs))
		return
	}
	writeError(w, http.StatusBadRequest, "student_id or mentor_id query parameter required", nil)
}

// ConfirmBooking records the payment capture.
func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	id := core.BookingID(chi.URLParam(r, "id"))
	b, err := h.Bookings.ConfirmPayment(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// CompleteBooking lets the mentor mark the session delivered.
func (h *Handler) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := core.BookingID(chi.URLParam(r, "id"))
	b, err := h.Bookings.Complete(r.Context(), actor, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// CancelBooking cancels with a mandatory reason.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := core.BookingID(chi.URLParam(r, "id"))
	var req CancelBookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.Bookings.Cancel(r.Context(), actor, id, req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// ReportStudentNoShow records a student absence.
func (h *Handler) ReportStudentNoShow(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := core.BookingID(chi.URLParam(r, "id"))
	b, err := h.Bookings.ReportStudentNoShow(r.Context(), actor, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// ReportMentorNoShow records a mentor absence.
func (h *Handler) ReportMentorNoShow(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := core.BookingID(chi.URLParam(r, "id"))
	b, err := h.Bookings.ReportMentorNoShow(r.Context(), actor, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// ProposeReschedule records a new-time proposal.
func (h *Handler) ProposeReschedule(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := core.BookingID(chi.URLParam(r, "id"))
	var req ProposeRescheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, ok := h.parseTime(w, "start_at", req.StartAt)
	if !ok {
		return
	}
	end, ok := h.parseTime(w, "end_at", req.EndAt)
	if !ok {
		return
	}
	b, err := h.Bookings.ProposeReschedule(r.Context(), actor, id, start, end)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// ApproveReschedule accepts the pending proposal.
func (h *Handler) ApproveReschedule(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := core.BookingID(chi.URLParam(r, "id"))
	b, err := h.Bookings.ApproveReschedule(r.Context(), actor, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// RejectReschedule declines the pending proposal.
func (h *Handler) RejectReschedule(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := core.BookingID(chi.URLParam(r, "id"))
	b, err := h.Bookings.RejectReschedule(r.Context(), actor, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// OpenDispute lets the student contest a session.
func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := core.BookingID(chi.URLParam(r, "id"))
	var req OpenDisputeRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.Bookings.OpenDispute(r.Context(), actor, id, req.Note)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// ResolveDispute routes the booking by the admin's outcome.
func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := core.BookingID(chi.URLParam(r, "id"))
	var req ResolveDisputeRequest
	if !h.decode(w, r, &req) {
		return
	}
	outcome := booking.OutcomeStudentFavor
	if req.Outcome == "mentor_favor" {
		outcome = booking.OutcomeMentorFavor
	}
	b, err := h.Bookings.ResolveDispute(r.Context(), actor, id, outcome, req.Note)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// =============================================================================
// PAYOUT HANDLERS
// =============================================================================

// SubmitPayout opens a withdrawal request for the acting mentor.
func (h *Handler) SubmitPayout(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req SubmitPayoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = core.DefaultCurrency
	}

	p, err := h.Payouts.Submit(r.Context(), actor, core.Money{Value: amount, Currency: currency}, req.Note)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPayoutDTO(*p))
}

// GetPayout returns a single payout request.
func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	id := core.PayoutID(chi.URLParam(r, "id"))
	p, err := h.Payouts.Requests.GetRequest(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutDTO(*p))
}

// ListPayouts returns a mentor's payout history.
func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	mentor := r.URL.Query().Get("mentor_id")
	if mentor == "" {
		writeError(w, http.StatusBadRequest, "mentor_id query parameter required", nil)
		return
	}
	ps, err := h.Payouts.Requests.ListRequestsByMentor(r.Context(), core.UserID(mentor))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]PayoutDTO, len(ps))
	for i, p := range ps {
		dtos[i] = toPayoutDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApprovePayout completes the request and posts the ledger movement.
func (h *Handler) ApprovePayout(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := core.PayoutID(chi.URLParam(r, "id"))
	p, err := h.Payouts.Approve(r.Context(), actor, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutDTO(*p))
}

// RejectPayout closes the request without moving money.
func (h *Handler) RejectPayout(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := core.PayoutID(chi.URLParam(r, "id"))
	var req RejectPayoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Payouts.Reject(r.Context(), actor, id, req.Note)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutDTO(*p))
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance derives a mentor's ledger balances.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	mentor := core.UserID(chi.URLParam(r, "mentor_id"))
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = core.DefaultCurrency
	}
	ctx := r.Context()

	escrow, err := h.Ledger.Balance(ctx, &mentor, ledger.AccountMentorEscrow, currency)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	available, err := h.Ledger.Balance(ctx, &mentor, ledger.AccountMentorAvailable, currency)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	paidOut, err := h.Ledger.Balance(ctx, &mentor, ledger.AccountMentorPayout, currency)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		MentorID:  string(mentor),
		Currency:  currency,
		Escrow:    escrow.Value.String(),
		Available: available.Value.String(),
		PaidOut:   paidOut.Value.String(),
	})
}

// ListLedgerEntries returns the mentor's full entry log, oldest first.
// Replaying it reproduces every figure GetBalance reports.
func (h *Handler) ListLedgerEntries(w http.ResponseWriter, r *http.Request) {
	mentor := core.UserID(chi.URLParam(r, "mentor_id"))
	entries, err := h.Ledger.History(r.Context(), mentor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

// actor pulls the acting user from the X-User-ID header.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (core.UserID, bool) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header required", nil)
		return "", false
	}
	return core.UserID(id), true
}

// decode parses and validates a JSON request body.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err)
		return false
	}
	return true
}

func (h *Handler) parseTime(w http.ResponseWriter, field, value string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+field+", expected RFC3339", err)
		return time.Time{}, false
	}
	return t.UTC(), true
}

// writeDomainError maps domain errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case core.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, core.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "not allowed", err)
	case core.IsConflict(err), errors.Is(err, core.ErrInvalidState):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, core.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation failed", err)
	default:
		h.Log.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
