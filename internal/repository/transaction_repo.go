package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type TransactionRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	List(ctx context.Context, filter *domain.TransactionFilter) ([]*domain.Transaction, error)
	// SumDebited returns the total debited from the account since the given
	// time, derived from completed balance-decreasing transactions. Used for
	// daily and monthly limit checks.
	SumDebited(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, error)
}

type transactionRepo struct {
	db *pgxpool.Pool
}

func NewTransactionRepo(db *pgxpool.Pool) TransactionRepository {
	return &transactionRepo{db: db}
}

const transactionColumns = `
	id, account_id, type, amount, currency, status,
	balance_before, balance_after,
	parent_transaction_id, counterparty_id, pair_id,
	idempotency_key, description, created_at, updated_at
`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var currency string
	err := row.Scan(
		&t.ID, &t.AccountID, &t.Type, &t.Amount.Amount, &currency, &t.Status,
		&t.BalanceBefore.Amount, &t.BalanceAfter.Amount,
		&t.ParentTransactionID, &t.CounterpartyID, &t.PairID,
		&t.IdempotencyKey, &t.Description, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrTransactionNotFound
		}
		return nil, err
	}
	t.Amount.Currency = currency
	t.BalanceBefore.Currency = currency
	t.BalanceAfter.Currency = currency
	return &t, nil
}

func (r *transactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id=$1
	`, id)
	return scanTransaction(row)
}

func (r *transactionRepo) List(ctx context.Context, filter *domain.TransactionFilter) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE 1=1`
	var args []any
	idx := 1

	if filter != nil {
		if filter.AccountID != nil {
			query += fmt.Sprintf(" AND account_id=$%d", idx)
			args = append(args, *filter.AccountID)
			idx++
		}
		if filter.Type != nil {
			query += fmt.Sprintf(" AND type=$%d", idx)
			args = append(args, *filter.Type)
			idx++
		}
		if filter.Status != nil {
			query += fmt.Sprintf(" AND status=$%d", idx)
			args = append(args, *filter.Status)
			idx++
		}
		if filter.StartDate != nil {
			query += fmt.Sprintf(" AND created_at >= $%d", idx)
			args = append(args, *filter.StartDate)
			idx++
		}
		if filter.EndDate != nil {
			query += fmt.Sprintf(" AND created_at <= $%d", idx)
			args = append(args, *filter.EndDate)
			idx++
		}
	}
	query += " ORDER BY created_at DESC"

	limit := 100
	if filter != nil && filter.Limit > 0 {
		limit = filter.Limit
	}
	query += fmt.Sprintf(" LIMIT $%d", idx)
	args = append(args, limit)
	idx++

	if filter != nil && filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (r *transactionRepo) SumDebited(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(balance_before - balance_after), 0)
		FROM transactions
		WHERE account_id=$1
		AND status=$2
		AND balance_after < balance_before
		AND created_at >= $3
	`, accountID, domain.TransactionStatusCompleted, since).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum debits: %w", err)
	}
	return total, nil
}
