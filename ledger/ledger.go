/*
ledger.go - Post / Balance and the standard flow pairs

PURPOSE:
  Ledger validates that a post is balanced before handing it to the store,
  and derives balances by folding the entry log. The pair builders encode
  the four standard flows so callers cannot assemble lopsided entries:

    Capture:  debit platform_clearing        / credit mentor_escrow
    Release:  debit mentor_escrow            / credit mentor_available
    Refund:   debit mentor_escrow|available  / credit platform_refund
    Payout:   debit mentor_available         / credit mentor_payout

ERROR SEMANTICS:
  An unbalanced post is a programming error (core.ErrUnbalanced), not a user
  fault: it means a flow builder or caller broke the double-entry invariant.
  Duplicate post keys surface as core.ErrConflict and are safe to ignore for
  idempotent re-delivery.
*/
package ledger

import (
	"context"

	"github.com/mentorhive/booking-engine/core"
)

// Ledger is the write/read surface over the entry store.
type Ledger struct {
	Store Store
	Clock core.Clock
}

func New(store Store, clock core.Clock) *Ledger {
	return &Ledger{Store: store, Clock: clock}
}

// =============================================================================
// POST - The only write
// =============================================================================

// Post atomically appends a balanced set of entries or fails entirely.
func (l *Ledger) Post(ctx context.Context, entries ...Entry) error {
	if err := validate(entries); err != nil {
		return err
	}
	now := l.Clock.Now()
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = core.EntryID(core.NewID())
		}
		entries[i].CreatedAt = now
	}
	return l.Store.AppendEntries(ctx, entries)
}

func validate(entries []Entry) error {
	if len(entries) < 2 {
		return &core.UnbalancedError{Detail: "a post needs at least two entries"}
	}

	currency := entries[0].Amount.Currency
	debits := core.ZeroMoney(currency)
	credits := core.ZeroMoney(currency)
	accounts := make(map[string]bool, len(entries))

	for _, e := range entries {
		if !e.Amount.IsPositive() {
			return &core.UnbalancedError{Detail: "entry amounts must be positive"}
		}
		if e.Amount.Currency != currency {
			return &core.UnbalancedError{Detail: "mixed currencies in one post"}
		}
		if e.Account.IsPlatform() != (e.OwnerID == nil) {
			return &core.UnbalancedError{Detail: "owner id must be set exactly on mentor accounts"}
		}
		owner := ""
		if e.OwnerID != nil {
			owner = string(*e.OwnerID)
		}
		accounts[string(e.Account)+"/"+owner] = true

		switch e.Direction {
		case Debit:
			debits = debits.Add(e.Amount)
		case Credit:
			credits = credits.Add(e.Amount)
		default:
			return &core.UnbalancedError{Detail: "unknown direction " + string(e.Direction)}
		}
	}

	if !debits.Equal(credits) {
		return &core.UnbalancedError{Debits: debits, Credits: credits, Detail: "debits and credits differ"}
	}
	if len(accounts) < 2 {
		return &core.UnbalancedError{Detail: "a post must move value between accounts"}
	}
	return nil
}

// =============================================================================
// BALANCE - Always derived
// =============================================================================

// Balance folds the owner+account entry log into sum(credits) - sum(debits).
// Never cached; every read replays the log.
func (l *Ledger) Balance(ctx context.Context, owner *core.UserID, account Account, currency string) (core.Money, error) {
	entries, err := l.Store.ListEntries(ctx, owner, account)
	if err != nil {
		return core.Money{}, err
	}
	balance := core.ZeroMoney(currency)
	for _, e := range entries {
		balance = balance.Add(e.Signed())
	}
	return balance, nil
}

// History returns every entry touching the owner's accounts, oldest first.
// The audit view: replaying it reproduces every balance.
func (l *Ledger) History(ctx context.Context, owner core.UserID) ([]Entry, error) {
	return l.Store.ListEntriesByOwner(ctx, owner)
}

// EscrowHolds reports how much of a reference's captured amount still sits
// in the mentor's escrow (captures minus releases/refunds for that ref).
func (l *Ledger) EscrowHolds(ctx context.Context, refType, refID, currency string) (core.Money, error) {
	entries, err := l.Store.ListEntriesByRef(ctx, refType, refID)
	if err != nil {
		return core.Money{}, err
	}
	held := core.ZeroMoney(currency)
	for _, e := range entries {
		if e.Account == AccountMentorEscrow {
			held = held.Add(e.Signed())
		}
	}
	return held, nil
}

// =============================================================================
// STANDARD FLOW PAIRS
// =============================================================================

func mentorOwned(mentor core.UserID) *core.UserID { return &mentor }

// CapturePair books a gateway capture into the mentor's escrow.
func CapturePair(mentor core.UserID, amount core.Money, refType, refID, key string) []Entry {
	return []Entry{
		{Account: AccountPlatformClearing, Direction: Debit, Amount: amount, RefType: refType, RefID: refID, Key: keyed(key, "debit")},
		{Account: AccountMentorEscrow, Direction: Credit, Amount: amount, OwnerID: mentorOwned(mentor), RefType: refType, RefID: refID, Key: keyed(key, "credit")},
	}
}

// ReleasePair moves settled funds from escrow to the mentor's available balance.
func ReleasePair(mentor core.UserID, amount core.Money, refType, refID, key string) []Entry {
	return []Entry{
		{Account: AccountMentorEscrow, Direction: Debit, Amount: amount, OwnerID: mentorOwned(mentor), RefType: refType, RefID: refID, Key: keyed(key, "debit")},
		{Account: AccountMentorAvailable, Direction: Credit, Amount: amount, OwnerID: mentorOwned(mentor), RefType: refType, RefID: refID, Key: keyed(key, "credit")},
	}
}

// RefundPair returns funds to the student from whichever mentor account
// still holds them.
func RefundPair(mentor core.UserID, from Account, amount core.Money, refType, refID, key string) []Entry {
	return []Entry{
		{Account: from, Direction: Debit, Amount: amount, OwnerID: mentorOwned(mentor), RefType: refType, RefID: refID, Key: keyed(key, "debit")},
		{Account: AccountPlatformRefund, Direction: Credit, Amount: amount, RefType: refType, RefID: refID, Key: keyed(key, "credit")},
	}
}

// PayoutPair books a completed withdrawal.
func PayoutPair(mentor core.UserID, amount core.Money, refID, key string) []Entry {
	return []Entry{
		{Account: AccountMentorAvailable, Direction: Debit, Amount: amount, OwnerID: mentorOwned(mentor), RefType: "payout", RefID: refID, Key: keyed(key, "debit")},
		{Account: AccountMentorPayout, Direction: Credit, Amount: amount, OwnerID: mentorOwned(mentor), RefType: "payout", RefID: refID, Key: keyed(key, "credit")},
	}
}

func keyed(key, side string) string {
	if key == "" {
		return ""
	}
	return key + "-" + side
}
