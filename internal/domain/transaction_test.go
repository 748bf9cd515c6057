package domain

import (
	"errors"
	"testing"

	"settlement-service/internal/xerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionStatus_Transitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    TransactionStatus
		to      TransactionStatus
		allowed bool
	}{
		{name: "pending to processing", from: TransactionStatusPending, to: TransactionStatusProcessing, allowed: true},
		{name: "processing to completed", from: TransactionStatusProcessing, to: TransactionStatusCompleted, allowed: true},
		{name: "processing to failed", from: TransactionStatusProcessing, to: TransactionStatusFailed, allowed: true},
		{name: "completed to reversed", from: TransactionStatusCompleted, to: TransactionStatusReversed, allowed: true},
		{name: "pending to completed skips processing", from: TransactionStatusPending, to: TransactionStatusCompleted, allowed: false},
		{name: "completed to pending", from: TransactionStatusCompleted, to: TransactionStatusPending, allowed: false},
		{name: "failed is terminal", from: TransactionStatusFailed, to: TransactionStatusProcessing, allowed: false},
		{name: "cancelled is terminal", from: TransactionStatusCancelled, to: TransactionStatusCompleted, allowed: false},
		{name: "reversed is terminal", from: TransactionStatusReversed, to: TransactionStatusCompleted, allowed: false},
		{name: "failed cannot be reversed", from: TransactionStatusFailed, to: TransactionStatusReversed, allowed: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))

			next, err := tt.from.Transition(tt.to)
			if tt.allowed {
				require.NoError(t, err)
				assert.Equal(t, tt.to, next)
			} else {
				assert.True(t, errors.Is(err, xerrors.ErrInvalidStateTransition))
			}
		})
	}
}

func TestTransactionStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.True(t, TransactionStatusFailed.Terminal())
	assert.True(t, TransactionStatusCancelled.Terminal())
	assert.True(t, TransactionStatusReversed.Terminal())
	assert.False(t, TransactionStatusPending.Terminal())
	assert.False(t, TransactionStatusCompleted.Terminal())
}
