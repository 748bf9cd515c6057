package repository

import (
	"context"
	"errors"
	"fmt"

	"settlement-service/internal/domain"
	"settlement-service/internal/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	List(ctx context.Context, filter *domain.AccountFilter) ([]*domain.Account, error)
	UpdateStatus(ctx context.Context, id string, status domain.AccountStatus) error
}

type accountRepo struct {
	db *pgxpool.Pool
}

func NewAccountRepo(db *pgxpool.Pool) AccountRepository {
	return &accountRepo{db: db}
}

const accountColumns = `
	id, owner_id, currency,
	balance, available_balance, pending_balance,
	limit_per_transaction, limit_daily, limit_monthly,
	status, version, created_at, updated_at
`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID, &a.OwnerID, &a.Currency,
		&a.Balance.Amount, &a.Available.Amount, &a.Pending.Amount,
		&a.Limits.PerTransaction, &a.Limits.Daily, &a.Limits.Monthly,
		&a.Status, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	a.Balance.Currency = a.Currency
	a.Available.Currency = a.Currency
	a.Pending.Currency = a.Currency
	return &a, nil
}

func (r *accountRepo) Create(ctx context.Context, account *domain.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (
			id, owner_id, currency,
			balance, available_balance, pending_balance,
			limit_per_transaction, limit_daily, limit_monthly,
			status, version, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		account.ID, account.OwnerID, account.Currency,
		account.Balance.Amount, account.Available.Amount, account.Pending.Amount,
		account.Limits.PerTransaction, account.Limits.Daily, account.Limits.Monthly,
		account.Status, account.Version, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *accountRepo) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id=$1
	`, id)
	return scanAccount(row)
}

func (r *accountRepo) List(ctx context.Context, filter *domain.AccountFilter) ([]*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE 1=1`
	var args []any
	idx := 1

	if filter != nil {
		if filter.OwnerID != nil {
			query += fmt.Sprintf(" AND owner_id=$%d", idx)
			args = append(args, *filter.OwnerID)
			idx++
		}
		if filter.Currency != nil {
			query += fmt.Sprintf(" AND currency=$%d", idx)
			args = append(args, *filter.Currency)
			idx++
		}
		if filter.Status != nil {
			query += fmt.Sprintf(" AND status=$%d", idx)
			args = append(args, *filter.Status)
			idx++
		}
	}
	query += " ORDER BY created_at ASC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateStatus records a soft state change. Accounts are never deleted
// while ledger history references them.
func (r *accountRepo) UpdateStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts
		SET status=$2, version=version+1, updated_at=now()
		WHERE id=$1
	`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}
