package domain

import (
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/xerrors"

	"github.com/shopspring/decimal"
)

// LedgerEntry is one immutable line in the ledger. Entries sharing a
// transaction id form one journal entry; per transaction id and currency
// debits always equal credits. Entries are append-only and never updated;
// corrections are made with new offsetting entries.
type LedgerEntry struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	AccountName   string          `json:"account_name"`
	Category      AccountCategory `json:"category"`
	Side          EntrySide       `json:"side"`
	Amount        Money           `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Debit returns the debit amount of the entry (zero for credit lines).
func (e *LedgerEntry) Debit() decimal.Decimal {
	if e.Side == SideDebit {
		return e.Amount.Amount
	}
	return decimal.Zero
}

// Credit returns the credit amount of the entry (zero for debit lines).
func (e *LedgerEntry) Credit() decimal.Decimal {
	if e.Side == SideCredit {
		return e.Amount.Amount
	}
	return decimal.Zero
}

// EntryLine is the input shape for one ledger line of a journal entry.
type EntryLine struct {
	AccountName string    `json:"account_name"`
	Side        EntrySide `json:"side"`
	Amount      Money     `json:"amount"`
}

// Validate checks a single line in isolation.
func (l *EntryLine) Validate() error {
	if l.AccountName == "" {
		return errors.New("account_name required for all entries")
	}
	if !l.Side.Valid() {
		return errors.New("side must be DR or CR")
	}
	if !l.Amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	if l.Amount.Currency == "" {
		return errors.New("currency required for all entries")
	}
	return nil
}

// ValidateEntryLines applies the journal integrity checks: at least two
// lines, every account name resolves in the chart, and per currency the sum
// of debits equals the sum of credits exactly.
func ValidateEntryLines(chart *ChartOfAccounts, lines []*EntryLine) error {
	if len(lines) < 2 {
		return fmt.Errorf("at least 2 entries required for double-entry: %w", xerrors.ErrUnbalancedEntry)
	}

	sums := make(map[string]decimal.Decimal)
	for _, l := range lines {
		if err := l.Validate(); err != nil {
			return err
		}
		if _, err := chart.Lookup(l.AccountName); err != nil {
			return err
		}
		if l.Side == SideDebit {
			sums[l.Amount.Currency] = sums[l.Amount.Currency].Add(l.Amount.Amount)
		} else {
			sums[l.Amount.Currency] = sums[l.Amount.Currency].Sub(l.Amount.Amount)
		}
	}

	for currency, diff := range sums {
		if !diff.IsZero() {
			return fmt.Errorf("debits != credits for %s (difference %s): %w",
				currency, diff, xerrors.ErrUnbalancedEntry)
		}
	}
	return nil
}

// EntryFilter narrows ledger entry queries. Currency is required for
// reporting aggregation; time bounds are optional.
type EntryFilter struct {
	Currency    string
	AccountName *string
	StartDate   *time.Time
	EndDate     *time.Time
}
