package domain

import (
	"fmt"
	"time"

	"settlement-service/internal/xerrors"
)

// TransactionType classifies a balance movement.
type TransactionType string

const (
	TransactionTypeCredit     TransactionType = "credit"
	TransactionTypeDebit      TransactionType = "debit"
	TransactionTypeTransfer   TransactionType = "transfer"
	TransactionTypePayment    TransactionType = "payment"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypeFee        TransactionType = "fee"
	TransactionTypeInterest   TransactionType = "interest"
	TransactionTypeAdjustment TransactionType = "adjustment"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeCredit, TransactionTypeDebit, TransactionTypeTransfer,
		TransactionTypePayment, TransactionTypeRefund, TransactionTypeFee,
		TransactionTypeInterest, TransactionTypeAdjustment:
		return true
	}
	return false
}

// TransactionStatus is the state machine position of a transaction.
//
//	pending -> processing -> {completed, failed}
//	completed -> reversed
//
// failed, cancelled and reversed are terminal.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
	TransactionStatusReversed   TransactionStatus = "reversed"
)

var validTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:    {TransactionStatusProcessing, TransactionStatusCancelled},
	TransactionStatusProcessing: {TransactionStatusCompleted, TransactionStatusFailed},
	TransactionStatusCompleted:  {TransactionStatusReversed},
}

// CanTransitionTo reports whether the state machine permits moving to next.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s TransactionStatus) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// Transition validates and returns the next status.
func (s TransactionStatus) Transition(next TransactionStatus) (TransactionStatus, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%s -> %s: %w", s, next, xerrors.ErrInvalidStateTransition)
	}
	return next, nil
}

// Transaction records one balance movement on one account. Immutable after
// creation except for status transitions. A reversed transaction has exactly
// one reversal pointing back via ParentTransactionID with the negated amount.
type Transaction struct {
	ID                  string            `json:"id"`
	AccountID           string            `json:"account_id"`
	Type                TransactionType   `json:"type"`
	Amount              Money             `json:"amount"`
	Status              TransactionStatus `json:"status"`
	BalanceBefore       Money             `json:"balance_before"`
	BalanceAfter        Money             `json:"balance_after"`
	ParentTransactionID *string           `json:"parent_transaction_id,omitempty"`
	CounterpartyID      *string           `json:"counterparty_id,omitempty"`
	PairID              *string           `json:"pair_id,omitempty"`
	IdempotencyKey      *string           `json:"idempotency_key,omitempty"`
	Description         *string           `json:"description,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// TransactionFilter narrows transaction list queries.
type TransactionFilter struct {
	AccountID *string
	Type      *TransactionType
	Status    *TransactionStatus
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}
