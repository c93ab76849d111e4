/*
Package ledger is the append-only double-entry account of value movement.

PURPOSE:
  Every economic event in the marketplace - payment capture, escrow release,
  refund, payout - lands here as a balanced set of entries. Balances are
  always derived by summing entries; there is no stored balance field that
  can drift out of sync with the log.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: entries are never updated or deleted
  2. BALANCED: every post's credits equal its debits, across at least two accounts
  3. DERIVED: balance(owner, account) = sum(credits) - sum(debits), computed on read
  4. IDEMPOTENT: a post key is written at most once

WHY DERIVED BALANCES?
  Recomputing on read sacrifices read performance for the guarantee that the
  balance is always consistent with the entry log - essential for audit and
  for recovery after partial failure.

SEE ALSO:
  - ledger.go: Post / Balance and the standard flow pair builders
*/
package ledger

import (
	"context"
	"time"

	"github.com/mentorhive/booking-engine/core"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// Account identifies one side of the double entry. Mentor accounts carry an
// owner id; platform accounts do not.
type Account string

const (
	// AccountMentorEscrow holds captured funds until the session outcome
	// determines final disposition.
	AccountMentorEscrow Account = "mentor_escrow"

	// AccountMentorAvailable is the mentor balance eligible for payout.
	AccountMentorAvailable Account = "mentor_available"

	// AccountMentorPayout accumulates completed withdrawals.
	AccountMentorPayout Account = "mentor_payout"

	// AccountPlatformClearing mirrors gateway captures into the ledger.
	AccountPlatformClearing Account = "platform_clearing"

	// AccountPlatformRefund books refunds issued back to students.
	AccountPlatformRefund Account = "platform_refund"
)

// IsPlatform reports whether the account is owned by the platform rather
// than a mentor.
func (a Account) IsPlatform() bool {
	return a == AccountPlatformClearing || a == AccountPlatformRefund
}

// =============================================================================
// ENTRIES
// =============================================================================

type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// Entry is one immutable row of the ledger. Amount is always positive;
// Direction carries the sign.
type Entry struct {
	ID        core.EntryID
	Account   Account
	Direction Direction
	Amount    core.Money
	OwnerID   *core.UserID // nil for platform accounts
	RefType   string       // "booking", "payout", "enrollment", ...
	RefID     string
	Key       string // idempotency key; "" = unconditioned
	CreatedAt time.Time
}

// Signed returns the entry's contribution to its account balance.
func (e Entry) Signed() core.Money {
	if e.Direction == Credit {
		return e.Amount
	}
	return e.Amount.Neg()
}

// =============================================================================
// STORE
// =============================================================================

// Store persists entries. Append-only: implementations expose no update or
// delete. AppendEntries is atomic and must reject a duplicate non-empty Key
// with core.ErrConflict.
type Store interface {
	AppendEntries(ctx context.Context, entries []Entry) error
	ListEntries(ctx context.Context, owner *core.UserID, account Account) ([]Entry, error)
	ListEntriesByOwner(ctx context.Context, owner core.UserID) ([]Entry, error)
	ListEntriesByRef(ctx context.Context, refType, refID string) ([]Entry, error)
	EntryKeyExists(ctx context.Context, key string) (bool, error)
}
