package repository

import (
	"context"
	"fmt"

	"settlement-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type LedgerRepository interface {
	ListByTransaction(ctx context.Context, transactionID string) ([]*domain.LedgerEntry, error)
	// ListEntries returns entries matching the filter in posting order.
	// The reporting engine aggregates over this; entries are never updated
	// or deleted in place.
	ListEntries(ctx context.Context, filter *domain.EntryFilter) ([]*domain.LedgerEntry, error)
}

type ledgerRepo struct {
	db *pgxpool.Pool
}

func NewLedgerRepo(db *pgxpool.Pool) LedgerRepository {
	return &ledgerRepo{db: db}
}

const entryColumns = `
	id, transaction_id, account_name, category, side, amount, currency, created_at
`

func scanEntry(rows pgx.Rows) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var currency string
	if err := rows.Scan(
		&e.ID, &e.TransactionID, &e.AccountName, &e.Category,
		&e.Side, &e.Amount.Amount, &currency, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.Amount.Currency = currency
	return &e, nil
}

func (r *ledgerRepo) ListByTransaction(ctx context.Context, transactionID string) ([]*domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE transaction_id=$1
		ORDER BY created_at ASC, id ASC
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries by transaction: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *ledgerRepo) ListEntries(ctx context.Context, filter *domain.EntryFilter) ([]*domain.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE currency=$1`
	args := []any{filter.Currency}
	idx := 2

	if filter.AccountName != nil {
		query += fmt.Sprintf(" AND account_name=$%d", idx)
		args = append(args, *filter.AccountName)
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
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
