package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/xerrors"
	"settlement-service/pkg/utils"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// SettlementStore commits a settlement request as one atomic unit: balance
// mutations, transaction records and ledger entries persist together or not
// at all. Concurrent settlements against the same account are linearized by
// the store.
type SettlementStore interface {
	ExecuteSettlement(ctx context.Context, req *domain.SettlementRequest) (*domain.SettlementResult, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.SettlementResult, error)
}

type settlementRepo struct {
	db     *pgxpool.Pool
	chart  *domain.ChartOfAccounts
	ids    *utils.IDGenerator
	ledger LedgerRepository
}

func NewSettlementRepo(db *pgxpool.Pool, chart *domain.ChartOfAccounts, ids *utils.IDGenerator, ledger LedgerRepository) SettlementStore {
	return &settlementRepo{db: db, chart: chart, ids: ids, ledger: ledger}
}

func (r *settlementRepo) beginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// ExecuteSettlement runs the pessimistic path: accounts are locked with
// SELECT FOR UPDATE in deterministic id order to prevent deadlocks, every
// leg is validated against the locked state, and only then are balances,
// transactions and entries written.
func (r *settlementRepo) ExecuteSettlement(ctx context.Context, req *domain.SettlementRequest) (*domain.SettlementResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settlement request: %w", err)
	}
	// Debits must equal credits per currency within every unit before
	// anything is written.
	for _, unit := range req.Units {
		if err := domain.ValidateEntryLines(r.chart, unit.Entries); err != nil {
			return nil, err
		}
	}

	// Fast path: a settled key answers without opening a transaction.
	if req.IdempotencyKey != nil {
		existing, err := r.checkIdempotency(ctx, req)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Serialize concurrent requests sharing a key: the pre-check alone is
	// check-then-act, so both copies of a retried request could miss it
	// and commit twice. The advisory lock is released on commit/rollback.
	if req.IdempotencyKey != nil {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, *req.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("failed to lock idempotency key: %w", err)
		}
		existing, err := r.checkIdempotency(ctx, req)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	// Reversal target is locked and transitioned inside the same commit as
	// the offsetting transaction.
	if req.ReverseOf != nil {
		if err := r.markReversed(ctx, tx, *req.ReverseOf); err != nil {
			return nil, err
		}
	}

	accountIDs := req.AccountIDs()
	sort.Strings(accountIDs)

	accounts := make(map[string]*domain.Account, len(accountIDs))
	for _, id := range accountIDs {
		account, err := r.lockAccount(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		accounts[id] = account
	}

	// Validate every leg against locked state before mutating anything.
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	for _, unit := range req.Units {
		if unit.Leg == nil {
			continue
		}
		account := accounts[unit.Leg.AccountID]
		if unit.Leg.Side == domain.SideDebit {
			debitedDay, err := r.sumDebitedTx(ctx, tx, account.ID, dayStart)
			if err != nil {
				return nil, err
			}
			debitedMonth, err := r.sumDebitedTx(ctx, tx, account.ID, monthStart)
			if err != nil {
				return nil, err
			}
			if err := account.ValidateDebit(unit.Leg.Amount, debitedDay, debitedMonth); err != nil {
				return nil, err
			}
		} else {
			if err := account.ValidateCredit(unit.Leg.Amount); err != nil {
				return nil, err
			}
		}
	}

	var pairID *string
	if legCount(req) > 1 {
		p := r.ids.PairID()
		pairID = &p
	}

	result := &domain.SettlementResult{}

	for _, unit := range req.Units {
		txn, err := r.buildTransaction(req, unit, accounts, pairID, now)
		if err != nil {
			return nil, err
		}

		if unit.Leg != nil {
			account := accounts[unit.Leg.AccountID]
			account.Apply(unit.Leg.Side, unit.Leg.Amount)
			txn.BalanceAfter = account.Balance

			if err := r.updateBalance(ctx, tx, account); err != nil {
				return nil, err
			}
		}

		if err := r.insertTransaction(ctx, tx, txn); err != nil {
			return nil, err
		}
		result.Transactions = append(result.Transactions, txn)

		for _, line := range unit.Entries {
			chartAccount, err := r.chart.Lookup(line.AccountName)
			if err != nil {
				return nil, err
			}
			entry := &domain.LedgerEntry{
				ID:            r.ids.EntryID(),
				TransactionID: txn.ID,
				AccountName:   line.AccountName,
				Category:      chartAccount.Category,
				Side:          line.Side,
				Amount:        line.Amount,
				CreatedAt:     now,
			}
			if err := r.insertEntry(ctx, tx, entry); err != nil {
				return nil, err
			}
			result.Entries = append(result.Entries, entry)
		}
	}

	// The commit itself is not cancellable; a caller timeout only aborts
	// before this point.
	if err := tx.Commit(context.WithoutCancel(ctx)); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}
	return result, nil
}

// checkIdempotency resolves a replay: (nil, nil) means the key is unused,
// a non-nil result is the previously committed settlement. A key reused
// with a different payload is rejected.
func (r *settlementRepo) checkIdempotency(ctx context.Context, req *domain.SettlementRequest) (*domain.SettlementResult, error) {
	existing, err := r.GetByIdempotencyKey(ctx, *req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if !req.MatchesResult(existing) {
		return nil, fmt.Errorf("idempotency key %s reused with a different payload: %w",
			*req.IdempotencyKey, xerrors.ErrDuplicateIdempotencyKey)
	}
	return existing, nil
}

func legCount(req *domain.SettlementRequest) int {
	n := 0
	for _, u := range req.Units {
		if u.Leg != nil {
			n++
		}
	}
	return n
}

func (r *settlementRepo) buildTransaction(
	req *domain.SettlementRequest,
	unit *domain.SettlementUnit,
	accounts map[string]*domain.Account,
	pairID *string,
	now time.Time,
) (*domain.Transaction, error) {
	status := domain.TransactionStatusPending
	status, err := status.Transition(domain.TransactionStatusProcessing)
	if err != nil {
		return nil, err
	}
	status, err = status.Transition(domain.TransactionStatusCompleted)
	if err != nil {
		return nil, err
	}

	txn := &domain.Transaction{
		ID:                  r.ids.TransactionID(),
		Status:              status,
		ParentTransactionID: req.ReverseOf,
		IdempotencyKey:      req.IdempotencyKey,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if unit.Leg == nil {
		// Journal-only adjustment: no balance movement.
		currency := unit.Entries[0].Amount.Currency
		txn.Type = domain.TransactionTypeAdjustment
		txn.Amount = domain.ZeroMoney(currency)
		txn.BalanceBefore = domain.ZeroMoney(currency)
		txn.BalanceAfter = domain.ZeroMoney(currency)
		txn.Description = req.Reference
		return txn, nil
	}

	account := accounts[unit.Leg.AccountID]
	txn.AccountID = unit.Leg.AccountID
	txn.Type = unit.Leg.Type
	txn.Amount = unit.Leg.Amount
	txn.BalanceBefore = account.Balance
	txn.BalanceAfter = account.Balance // set after Apply
	txn.CounterpartyID = unit.Leg.CounterpartyID
	txn.PairID = pairID
	txn.Description = unit.Leg.Description

	// A reversal records the negated amount of the original movement.
	if req.ReverseOf != nil {
		txn.Amount = unit.Leg.Amount.Neg()
	}
	return txn, nil
}

func (r *settlementRepo) lockAccount(ctx context.Context, tx pgx.Tx, id string) (*domain.Account, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id=$1
		FOR UPDATE
	`, id)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil, fmt.Errorf("account %s: %w", id, xerrors.ErrInvalidAccount)
		}
		return nil, fmt.Errorf("failed to lock account %s: %w", id, err)
	}
	return account, nil
}

func (r *settlementRepo) markReversed(ctx context.Context, tx pgx.Tx, transactionID string) error {
	row := tx.QueryRow(ctx, `
		SELECT status FROM transactions WHERE id=$1 FOR UPDATE
	`, transactionID)

	var status domain.TransactionStatus
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("transaction %s: %w", transactionID, xerrors.ErrTransactionNotFound)
		}
		return fmt.Errorf("failed to lock transaction %s: %w", transactionID, err)
	}

	next, err := status.Transition(domain.TransactionStatusReversed)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE transactions SET status=$2, updated_at=now() WHERE id=$1
	`, transactionID, next)
	if err != nil {
		return fmt.Errorf("failed to mark transaction reversed: %w", err)
	}
	return nil
}

func (r *settlementRepo) sumDebitedTx(ctx context.Context, tx pgx.Tx, accountID string, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := tx.QueryRow(ctx, `
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

func (r *settlementRepo) updateBalance(ctx context.Context, tx pgx.Tx, account *domain.Account) error {
	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET balance=$2, available_balance=$3, pending_balance=$4,
		    version=$5, updated_at=$6
		WHERE id=$1 AND version=$5-1
	`, account.ID, account.Balance.Amount, account.Available.Amount,
		account.Pending.Amount, account.Version, account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update balance for account %s: %w", account.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", account.ID, xerrors.ErrVersionMismatch)
	}
	return nil
}

func (r *settlementRepo) insertTransaction(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (
			id, account_id, type, amount, currency, status,
			balance_before, balance_after,
			parent_transaction_id, counterparty_id, pair_id,
			idempotency_key, description, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		txn.ID, txn.AccountID, txn.Type, txn.Amount.Amount, txn.Amount.Currency, txn.Status,
		txn.BalanceBefore.Amount, txn.BalanceAfter.Amount,
		txn.ParentTransactionID, txn.CounterpartyID, txn.PairID,
		txn.IdempotencyKey, txn.Description, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return xerrors.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (r *settlementRepo) insertEntry(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (
			id, transaction_id, account_name, category, side, amount, currency, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		entry.ID, entry.TransactionID, entry.AccountName, entry.Category,
		entry.Side, entry.Amount.Amount, entry.Amount.Currency, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

func (r *settlementRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.SettlementResult, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE idempotency_key=$1
		ORDER BY created_at ASC, id ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query idempotency key: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, xerrors.ErrNotFound
	}

	result := &domain.SettlementResult{Transactions: txs}
	for _, t := range txs {
		entries, err := r.ledger.ListByTransaction(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		result.Entries = append(result.Entries, entries...)
	}
	return result, nil
}
