package domain

import (
	"fmt"
	"time"

	"settlement-service/internal/xerrors"

	"github.com/shopspring/decimal"
)

// AccountStatus is the lifecycle state of a balance account.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusInactive  AccountStatus = "inactive"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusClosed    AccountStatus = "closed"
	AccountStatusFrozen    AccountStatus = "frozen"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusInactive, AccountStatusSuspended,
		AccountStatusClosed, AccountStatusFrozen:
		return true
	}
	return false
}

// CanTransact reports whether balance mutations are allowed.
func (s AccountStatus) CanTransact() bool {
	return s == AccountStatusActive
}

// AccountLimits caps debit activity. A zero value means no limit.
type AccountLimits struct {
	PerTransaction decimal.Decimal `json:"per_transaction"`
	Daily          decimal.Decimal `json:"daily"`
	Monthly        decimal.Decimal `json:"monthly"`
}

// Account holds the balance state for one owner in one currency.
// Mutated only through the settlement store; every mutation bumps Version.
//
// Invariants: Balance == Available + Pending, Available never negative.
// Available excludes pending amounts, and all funds and limit checks read
// Available only.
type Account struct {
	ID        string        `json:"id"`
	OwnerID   string        `json:"owner_id"`
	Currency  string        `json:"currency"`
	Balance   Money         `json:"balance"`
	Available Money         `json:"available_balance"`
	Pending   Money         `json:"pending_balance"`
	Limits    AccountLimits `json:"limits"`
	Status    AccountStatus `json:"status"`
	Version   int64         `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NewAccount creates an active account with zero balances.
func NewAccount(id, ownerID, currency string, limits AccountLimits) *Account {
	now := time.Now().UTC()
	return &Account{
		ID:        id,
		OwnerID:   ownerID,
		Currency:  currency,
		Balance:   ZeroMoney(currency),
		Available: ZeroMoney(currency),
		Pending:   ZeroMoney(currency),
		Limits:    limits,
		Status:    AccountStatusActive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CheckInvariant verifies the balance identity. A violation is an internal
// consistency bug, never a business condition.
func (a *Account) CheckInvariant() error {
	sum := a.Available.Amount.Add(a.Pending.Amount)
	if !a.Balance.Amount.Equal(sum) {
		return fmt.Errorf("account %s: balance %s != available %s + pending %s: %w",
			a.ID, a.Balance.Amount, a.Available.Amount, a.Pending.Amount, xerrors.ErrInternalServer)
	}
	if a.Available.IsNegative() {
		return fmt.Errorf("account %s: negative available balance %s: %w",
			a.ID, a.Available.Amount, xerrors.ErrInternalServer)
	}
	return nil
}

// Clone returns a deep copy, used by the memory store to validate a
// settlement before publishing any state.
func (a *Account) Clone() *Account {
	cp := *a
	return &cp
}

// ValidateCredit checks whether the account can accept a credit.
func (a *Account) ValidateCredit(amount Money) error {
	if !a.Status.CanTransact() {
		return fmt.Errorf("account %s is %s: %w", a.ID, a.Status, xerrors.ErrAccountInactive)
	}
	if amount.Currency != a.Currency {
		return fmt.Errorf("account %s holds %s, got %s: %w",
			a.ID, a.Currency, amount.Currency, xerrors.ErrCurrencyMismatch)
	}
	return nil
}

// ValidateDebit checks status, available funds and configured limits.
// debitedDay and debitedMonth are the account's already-settled debit
// totals for the current day and month.
func (a *Account) ValidateDebit(amount Money, debitedDay, debitedMonth decimal.Decimal) error {
	if !a.Status.CanTransact() {
		return fmt.Errorf("account %s is %s: %w", a.ID, a.Status, xerrors.ErrAccountInactive)
	}
	if amount.Currency != a.Currency {
		return fmt.Errorf("account %s holds %s, got %s: %w",
			a.ID, a.Currency, amount.Currency, xerrors.ErrCurrencyMismatch)
	}
	if a.Available.Amount.LessThan(amount.Amount) {
		return fmt.Errorf("account %s: available %s, required %s: %w",
			a.ID, a.Available.Amount, amount.Amount, xerrors.ErrInsufficientFunds)
	}
	if a.Limits.PerTransaction.IsPositive() && amount.Amount.GreaterThan(a.Limits.PerTransaction) {
		return fmt.Errorf("account %s: per-transaction limit %s: %w",
			a.ID, a.Limits.PerTransaction, xerrors.ErrLimitExceeded)
	}
	if a.Limits.Daily.IsPositive() && debitedDay.Add(amount.Amount).GreaterThan(a.Limits.Daily) {
		return fmt.Errorf("account %s: daily limit %s: %w",
			a.ID, a.Limits.Daily, xerrors.ErrLimitExceeded)
	}
	if a.Limits.Monthly.IsPositive() && debitedMonth.Add(amount.Amount).GreaterThan(a.Limits.Monthly) {
		return fmt.Errorf("account %s: monthly limit %s: %w",
			a.ID, a.Limits.Monthly, xerrors.ErrLimitExceeded)
	}
	return nil
}

// Apply mutates the balance in the given direction and bumps the version.
// Callers must have validated the mutation and hold the account's lock.
func (a *Account) Apply(side EntrySide, amount Money) {
	if side == SideCredit {
		a.Balance.Amount = a.Balance.Amount.Add(amount.Amount)
		a.Available.Amount = a.Available.Amount.Add(amount.Amount)
	} else {
		a.Balance.Amount = a.Balance.Amount.Sub(amount.Amount)
		a.Available.Amount = a.Available.Amount.Sub(amount.Amount)
	}
	a.Version++
	a.UpdatedAt = time.Now().UTC()
}

// BalanceSnapshot is the read model returned by balance queries.
type BalanceSnapshot struct {
	AccountID string    `json:"account_id"`
	Balance   Money     `json:"balance"`
	Available Money     `json:"available_balance"`
	Pending   Money     `json:"pending_balance"`
	Version   int64     `json:"version"`
	AsOf      time.Time `json:"as_of"`
}

// AccountFilter narrows account list queries.
type AccountFilter struct {
	OwnerID  *string
	Currency *string
	Status   *AccountStatus
}
