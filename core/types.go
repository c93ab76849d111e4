/*
Package core provides the shared kernel for the booking engine.

PURPOSE:
  This package contains the primitives every domain package builds on:
  type-safe identifiers, fixed-point money, the injected clock, the error
  taxonomy, and the narrow interfaces to external collaborators (identity,
  delayed jobs, notifications, video-session lookup).

KEY CONCEPTS IN THIS FILE (types.go):
  - Typed IDs: UserID, BookingID, SlotID, ... (prevents mixing identifiers)
  - Money: a fixed-point amount with an ISO currency code

DESIGN PRINCIPLES:
  1. Precision: Money uses decimal.Decimal, never floats
  2. Type Safety: strong typing for IDs prevents cross-entity mixups
  3. No back-pointers: entities reference each other by ID only; relations
     are resolved through store lookups, never traversed in memory

SEE ALSO:
  - errors.go: error taxonomy shared by all domain packages
  - clock.go: injected time source
  - collab.go: external collaborator interfaces
*/
package core

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type TemplateID string
type SlotID string
type OfferingID string
type BookingID string
type EntryID string
type PayoutID string

// NewID returns a fresh random identifier for any entity.
func NewID() string { return uuid.NewString() }

// =============================================================================
// MONEY - Fixed-point amount with currency
// =============================================================================

// DefaultCurrency is used when callers do not specify one.
const DefaultCurrency = "USD"

type Money struct {
	Value    decimal.Decimal
	Currency string
}

func NewMoney(value float64, currency string) Money {
	return Money{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewMoneyFromInt(value int, currency string) Money {
	return Money{Value: decimal.NewFromInt(int64(value)), Currency: currency}
}

// MustParseMoney parses a decimal string, returning zero on malformed input.
func MustParseMoney(s, currency string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{Value: decimal.Zero, Currency: currency}
	}
	return Money{Value: d, Currency: currency}
}

func ZeroMoney(currency string) Money {
	return Money{Value: decimal.Zero, Currency: currency}
}

func (m Money) Add(b Money) Money          { return Money{Value: m.Value.Add(b.Value), Currency: m.Currency} }
func (m Money) Sub(b Money) Money          { return Money{Value: m.Value.Sub(b.Value), Currency: m.Currency} }
func (m Money) Neg() Money                 { return Money{Value: m.Value.Neg(), Currency: m.Currency} }
func (m Money) IsZero() bool               { return m.Value.IsZero() }
func (m Money) IsNegative() bool           { return m.Value.IsNegative() }
func (m Money) IsPositive() bool           { return m.Value.IsPositive() }
func (m Money) Equal(b Money) bool         { return m.Currency == b.Currency && m.Value.Equal(b.Value) }
func (m Money) GreaterThan(b Money) bool   { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool      { return m.Value.LessThan(b.Value) }
func (m Money) SameCurrency(b Money) bool  { return m.Currency == b.Currency }

// Percent returns p percent of the amount, e.g. m.Percent(50) for half.
func (m Money) Percent(p int) Money {
	pct := decimal.NewFromInt(int64(p)).Div(decimal.NewFromInt(100))
	return Money{Value: m.Value.Mul(pct), Currency: m.Currency}
}

func (m Money) String() string {
	return m.Value.StringFixed(2) + " " + m.Currency
}
