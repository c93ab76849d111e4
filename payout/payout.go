/*
Package payout implements the mentor withdrawal workflow.

PURPOSE:
  Mentors request withdrawals against their released (available) balance;
  an operator approves or rejects each request. Approval posts the balancing
  ledger movement and flips the request to completed in one unit of work.

KEY CONCEPTS:
  - One live request: a mentor may hold at most one pending request at a
    time. The store enforces this as the final arbiter; a second submission
    fails with a conflict no matter how the calls interleave.
  - Re-validation at approval: the available balance is derived from the
    ledger at approval time, inside the transaction. A balance that was
    sufficient at submission can have been spent since.
  - Rejection frees everything: a rejected request reserves nothing, so the
    full balance is immediately requestable again.

INVARIANTS:
  - PayoutAmount <= available balance at both submission and approval
  - Completed payout == ledger entries exist; never one without the other
*/
package payout

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mentorhive/booking-engine/core"
	"github.com/mentorhive/booking-engine/ledger"
)

// =============================================================================
// TYPES
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
)

// Request is one withdrawal attempt by a mentor.
type Request struct {
	ID          core.PayoutID
	MentorID    core.UserID
	Amount      core.Money
	Status      Status
	MentorNote  string // mentor's note to the operator, set at submission
	AdminNote   string // operator note on the decision
	DecidedBy   *core.UserID
	DecidedAt   *time.Time
	RequestedAt time.Time
	UpdatedAt   time.Time
}

// Store persists payout requests. InsertRequest must fail with
// core.ErrConflict when the mentor already holds a pending request.
type Store interface {
	InsertRequest(ctx context.Context, r Request) error
	GetRequest(ctx context.Context, id core.PayoutID) (*Request, error)
	UpdateRequestIf(ctx context.Context, r Request, expected Status) error
	ListRequestsByMentor(ctx context.Context, mentor core.UserID) ([]Request, error)
	ListRequestsByStatus(ctx context.Context, status Status) ([]Request, error)
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Requests Store
	Ledger   *ledger.Ledger
	Clock    core.Clock
	UoW      core.UnitOfWork
	Minimum  core.Money
	Log      *zap.Logger
}

func NewService(requests Store, led *ledger.Ledger, clock core.Clock, uow core.UnitOfWork, minimum core.Money, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{Requests: requests, Ledger: led, Clock: clock, UoW: uow, Minimum: minimum, Log: log}
}

// Submit opens a withdrawal request for the mentor's available balance. The
// note travels with the request for the operator to read.
func (s *Service) Submit(ctx context.Context, mentor core.UserID, amount core.Money, note string) (*Request, error) {
	if !amount.IsPositive() {
		return nil, &core.ValidationError{Field: "amount", Message: "must be positive"}
	}
	if amount.LessThan(s.Minimum) {
		return nil, &core.ValidationError{Field: "amount", Message: "below the minimum payout of " + s.Minimum.String()}
	}

	available, err := s.Ledger.Balance(ctx, &mentor, ledger.AccountMentorAvailable, amount.Currency)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(available) {
		return nil, &core.ValidationError{Field: "amount", Message: "exceeds available balance of " + available.String()}
	}

	now := s.Clock.Now()
	r := Request{
		ID:          core.PayoutID(core.NewID()),
		MentorID:    mentor,
		Amount:      amount,
		Status:      StatusPending,
		MentorNote:  note,
		RequestedAt: now,
		UpdatedAt:   now,
	}
	if err := s.Requests.InsertRequest(ctx, r); err != nil {
		return nil, err
	}

	s.Log.Info("payout requested",
		zap.String("payout_id", string(r.ID)),
		zap.String("mentor_id", string(mentor)),
		zap.String("amount", amount.String()))
	return &r, nil
}

// Reject closes the request without moving money.
func (s *Service) Reject(ctx context.Context, operator core.UserID, id core.PayoutID, note string) (*Request, error) {
	r, err := s.Requests.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPending {
		return nil, &core.InvalidStateError{Entity: "payout", ID: string(id), From: string(r.Status), Detail: "request already decided"}
	}
	now := s.Clock.Now()
	r.Status = StatusRejected
	r.AdminNote = note
	r.DecidedBy = &operator
	r.DecidedAt = &now
	r.UpdatedAt = now
	if err := s.Requests.UpdateRequestIf(ctx, *r, StatusPending); err != nil {
		return nil, err
	}
	return r, nil
}

// Approve re-derives the mentor's available balance inside the transaction,
// posts the payout movement and completes the request atomically. A balance
// shortfall at approval time fails with core.ErrConflict and leaves the
// request pending for the operator to reject or retry later.
func (s *Service) Approve(ctx context.Context, operator core.UserID, id core.PayoutID) (*Request, error) {
	var approved *Request
	err := s.UoW.WithTx(ctx, func(ctx context.Context) error {
		r, err := s.Requests.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return &core.InvalidStateError{Entity: "payout", ID: string(id), From: string(r.Status), Detail: "request already decided"}
		}

		available, err := s.Ledger.Balance(ctx, &r.MentorID, ledger.AccountMentorAvailable, r.Amount.Currency)
		if err != nil {
			return err
		}
		if r.Amount.GreaterThan(available) {
			return &core.ConflictError{Resource: "payout", ID: string(id),
				Detail: "available balance " + available.String() + " no longer covers the requested amount"}
		}

		pair := ledger.PayoutPair(r.MentorID, r.Amount, string(id), "payout-"+string(id))
		if err := s.Ledger.Post(ctx, pair...); err != nil {
			return err
		}

		now := s.Clock.Now()
		r.Status = StatusCompleted
		r.DecidedBy = &operator
		r.DecidedAt = &now
		r.UpdatedAt = now
		if err := s.Requests.UpdateRequestIf(ctx, *r, StatusPending); err != nil {
			return err
		}
		approved = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("payout approved",
		zap.String("payout_id", string(id)),
		zap.String("operator_id", string(operator)),
		zap.String("amount", approved.Amount.String()))
	return approved, nil
}
