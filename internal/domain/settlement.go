package domain

import (
	"errors"
)

// SettlementLeg is one balance mutation inside an atomic settlement.
// Amount is always positive; Side decides the direction (debit decreases
// the account's balance and available balance, credit increases both).
type SettlementLeg struct {
	AccountID      string
	Side           EntrySide
	Amount         Money
	Type           TransactionType
	CounterpartyID *string
	Description    *string
}

// SettlementUnit pairs one balance leg with the journal lines recorded
// under that leg's transaction id. A unit with a nil Leg is a journal-only
// adjustment that touches no balances.
type SettlementUnit struct {
	Leg     *SettlementLeg
	Entries []*EntryLine
}

// SettlementRequest is the atomic unit of work the settlement store
// executes: all units commit together or nothing persists. ReverseOf, when
// set, names a completed transaction that must be marked reversed in the
// same commit; the new transaction records the negated amount and points
// back via ParentTransactionID.
type SettlementRequest struct {
	IdempotencyKey *string
	Units          []*SettlementUnit
	ReverseOf      *string
	Reference      *string
}

// Validate checks the request shape. Journal balance validation happens
// separately against the chart of accounts.
func (r *SettlementRequest) Validate() error {
	if len(r.Units) == 0 {
		return errors.New("at least one settlement unit required")
	}
	for _, u := range r.Units {
		if len(u.Entries) < 2 {
			return errors.New("at least 2 ledger entries required per unit")
		}
		if u.Leg == nil {
			continue
		}
		if u.Leg.AccountID == "" {
			return errors.New("account_id required for settlement leg")
		}
		if !u.Leg.Side.Valid() {
			return errors.New("leg side must be DR or CR")
		}
		if !u.Leg.Amount.IsPositive() {
			return errors.New("leg amount must be positive")
		}
		if !u.Leg.Type.Valid() {
			return errors.New("invalid transaction type")
		}
	}
	return nil
}

// AccountIDs returns the distinct balance accounts the request touches.
func (r *SettlementRequest) AccountIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, u := range r.Units {
		if u.Leg == nil || seen[u.Leg.AccountID] {
			continue
		}
		seen[u.Leg.AccountID] = true
		ids = append(ids, u.Leg.AccountID)
	}
	return ids
}

// MatchesResult reports whether a committed result could have been
// produced by this request. Used on idempotency-key replay: a key reused
// with a different payload must be rejected, not silently answered with
// the old transactions.
func (r *SettlementRequest) MatchesResult(result *SettlementResult) bool {
	if result == nil || len(r.Units) != len(result.Transactions) {
		return false
	}
	for i, u := range r.Units {
		txn := result.Transactions[i]
		if u.Leg == nil {
			if txn.Type != TransactionTypeAdjustment {
				return false
			}
			continue
		}
		if txn.AccountID != u.Leg.AccountID || txn.Type != u.Leg.Type {
			return false
		}
		amount := u.Leg.Amount
		if r.ReverseOf != nil {
			amount = amount.Neg()
		}
		if txn.Amount.Currency != amount.Currency || !txn.Amount.Amount.Equal(amount.Amount) {
			return false
		}
	}
	return true
}

// SettlementResult is what a committed settlement leaves behind: one
// transaction per unit plus the ledger entries recorded under them.
type SettlementResult struct {
	Transactions []*Transaction
	Entries      []*LedgerEntry
}
