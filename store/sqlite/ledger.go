/*
ledger.go - Append-only double-entry persistence

APPEND-ONLY ENFORCEMENT:
  This file contains no UPDATE and no DELETE on ledger_entries. The unique
  index on idempotency_key makes replayed flows collapse to a single write.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mentorhive/booking-engine/core"
	"github.com/mentorhive/booking-engine/ledger"
)

// AppendEntries writes all entries of a post atomically. Joins the caller's
// open transaction when there is one; otherwise opens its own.
func (s *Store) AppendEntries(ctx context.Context, entries []ledger.Entry) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		for _, e := range entries {
			var owner sql.NullString
			if e.OwnerID != nil {
				owner = sql.NullString{String: string(*e.OwnerID), Valid: true}
			}
			_, err := s.h(ctx).ExecContext(ctx, `
				INSERT INTO ledger_entries
				(id, account, direction, amount_value, amount_currency, owner_id,
				 ref_type, ref_id, idempotency_key, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				string(e.ID), string(e.Account), string(e.Direction),
				e.Amount.Value.String(), e.Amount.Currency, owner,
				e.RefType, e.RefID, nullString(e.Key), fmtTime(e.CreatedAt),
			)
			if err != nil {
				if isUniqueConstraintError(err) {
					return &core.ConflictError{Resource: "ledger_entry", ID: e.Key, Detail: "idempotency key already written"}
				}
				return fmt.Errorf("failed to append entry: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) ListEntries(ctx context.Context, owner *core.UserID, account ledger.Account) ([]ledger.Entry, error) {
	if owner == nil {
		return s.queryEntries(ctx,
			selectEntry+` WHERE owner_id IS NULL AND account = ? ORDER BY created_at, id`,
			string(account))
	}
	return s.queryEntries(ctx,
		selectEntry+` WHERE owner_id = ? AND account = ? ORDER BY created_at, id`,
		string(*owner), string(account))
}

func (s *Store) ListEntriesByOwner(ctx context.Context, owner core.UserID) ([]ledger.Entry, error) {
	return s.queryEntries(ctx,
		selectEntry+` WHERE owner_id = ? ORDER BY created_at, id`,
		string(owner))
}

func (s *Store) ListEntriesByRef(ctx context.Context, refType, refID string) ([]ledger.Entry, error) {
	return s.queryEntries(ctx,
		selectEntry+` WHERE ref_type = ? AND ref_id = ? ORDER BY created_at, id`,
		refType, refID)
}

func (s *Store) EntryKeyExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.h(ctx).QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE idempotency_key = ?)`,
		key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check entry key: %w", err)
	}
	return exists, nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := s.h(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var id, account, direction, amountValue, createdAt string
		var owner, key sql.NullString
		if err := rows.Scan(&id, &account, &direction, &amountValue,
			&e.Amount.Currency, &owner, &e.RefType, &e.RefID, &key, &createdAt); err != nil {
			return nil, err
		}
		e.ID = core.EntryID(id)
		e.Account = ledger.Account(account)
		e.Direction = ledger.Direction(direction)
		e.Amount.Value, err = decimal.NewFromString(amountValue)
		if err != nil {
			return nil, fmt.Errorf("failed to parse entry amount: %w", err)
		}
		e.OwnerID = userPtr(owner)
		e.Key = key.String
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

const selectEntry = `
	SELECT id, account, direction, amount_value, amount_currency, owner_id,
	       ref_type, ref_id, idempotency_key, created_at
	FROM ledger_entries`
