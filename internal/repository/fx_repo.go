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

// RateRepository persists fetched exchange rates as a history table.
// The rate cache is the source the conversion service reads from; rows here
// exist for audit and for degraded-mode fallback across restarts.
type RateRepository interface {
	Save(ctx context.Context, rate *domain.ExchangeRate) error
	Latest(ctx context.Context, base, quote string) (*domain.ExchangeRate, error)
}

type fxRepo struct {
	db *pgxpool.Pool
}

func NewFXRepo(db *pgxpool.Pool) RateRepository {
	return &fxRepo{db: db}
}

func (r *fxRepo) Save(ctx context.Context, rate *domain.ExchangeRate) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO fx_rates (base_currency, quote_currency, rate, fetched_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (base_currency, quote_currency, fetched_at) DO NOTHING
	`, rate.Base, rate.Quote, rate.Rate, rate.FetchedAt)
	if err != nil {
		return fmt.Errorf("failed to save fx rate: %w", err)
	}
	return nil
}

func (r *fxRepo) Latest(ctx context.Context, base, quote string) (*domain.ExchangeRate, error) {
	row := r.db.QueryRow(ctx, `
		SELECT base_currency, quote_currency, rate, fetched_at
		FROM fx_rates
		WHERE base_currency=$1 AND quote_currency=$2
		ORDER BY fetched_at DESC
		LIMIT 1
	`, base, quote)

	var rate domain.ExchangeRate
	if err := row.Scan(&rate.Base, &rate.Quote, &rate.Rate, &rate.FetchedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest fx rate: %w", err)
	}
	return &rate, nil
}
