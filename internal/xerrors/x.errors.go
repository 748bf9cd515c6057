package xerrors

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ParsePGErrorCode extracts the SQLSTATE code from a postgres error.
func ParsePGErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code // e.g. 23505 for unique_violation
	}
	return "unknown"
}

// Generic
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalServer = errors.New("internal server error")
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input provided")
)

// Accounts and balances
var (
	ErrInvalidAccount    = errors.New("invalid account")
	ErrAccountInactive   = errors.New("account inactive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrLimitExceeded     = errors.New("limit exceeded")
	ErrVersionMismatch   = errors.New("balance version mismatch")
)

// Monetary values and conversion
var (
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrRateUnavailable  = errors.New("exchange rate unavailable")
)

// Journal integrity. ErrUnbalancedEntry indicates a programming defect in
// the caller, not a business condition; it must never be retried.
var (
	ErrUnbalancedEntry = errors.New("unbalanced journal entry")
)

// Transactions
var (
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrInvalidStateTransition  = errors.New("invalid transaction state transition")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)
