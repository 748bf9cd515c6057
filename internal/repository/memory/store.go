// Package memory provides an in-memory implementation of the repository
// interfaces. It backs tests and local development; semantics mirror the
// postgres store, including per-account linearization and all-or-nothing
// settlement commits.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"
	"settlement-service/internal/xerrors"
	"settlement-service/pkg/utils"

	"github.com/shopspring/decimal"
)

type Store struct {
	chart *domain.ChartOfAccounts
	ids   *utils.IDGenerator

	// Now is the clock used for timestamps and limit-period boundaries.
	// Tests override it.
	Now func() time.Time

	mu           sync.RWMutex
	accounts     map[string]*domain.Account
	transactions map[string]*domain.Transaction
	txOrder      []string
	entries      []*domain.LedgerEntry
	idempotency  map[string][]string // idempotency key -> transaction ids
	rates        map[string]*domain.ExchangeRate

	// Per-account mutexes serialize settlements touching the same account.
	// Acquired in sorted account-id order to avoid deadlocks. Per-key
	// mutexes serialize settlements sharing an idempotency key; a key lock
	// is always taken before any account lock.
	lockMu       sync.Mutex
	accountLocks map[string]*sync.Mutex
	keyLocks     map[string]*sync.Mutex
}

func NewStore(chart *domain.ChartOfAccounts) *Store {
	return &Store{
		chart:        chart,
		ids:          utils.NewIDGenerator(),
		Now:          func() time.Time { return time.Now().UTC() },
		accounts:     make(map[string]*domain.Account),
		transactions: make(map[string]*domain.Transaction),
		idempotency:  make(map[string][]string),
		rates:        make(map[string]*domain.ExchangeRate),
		accountLocks: make(map[string]*sync.Mutex),
		keyLocks:     make(map[string]*sync.Mutex),
	}
}

func (s *Store) accountLock(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if _, ok := s.accountLocks[id]; !ok {
		s.accountLocks[id] = &sync.Mutex{}
	}
	return s.accountLocks[id]
}

func (s *Store) keyLock(key string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if _, ok := s.keyLocks[key]; !ok {
		s.keyLocks[key] = &sync.Mutex{}
	}
	return s.keyLocks[key]
}

// ===============================
// SETTLEMENT STORE
// ===============================

// ExecuteSettlement validates every leg against the locked account state
// and only then publishes the new state. Nothing is observable until all
// mutations are applied under the store lock.
func (s *Store) ExecuteSettlement(ctx context.Context, req *domain.SettlementRequest) (*domain.SettlementResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settlement request: %w", err)
	}
	for _, unit := range req.Units {
		if err := domain.ValidateEntryLines(s.chart, unit.Entries); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The key lock is held through the commit so a concurrent request
	// carrying the same key observes the replay only after it is durable;
	// a plain check here would let both requests through the window.
	if req.IdempotencyKey != nil {
		lock := s.keyLock(*req.IdempotencyKey)
		lock.Lock()
		defer lock.Unlock()
		if existing, err := s.GetByIdempotencyKey(ctx, *req.IdempotencyKey); err == nil {
			if !req.MatchesResult(existing) {
				return nil, fmt.Errorf("idempotency key %s reused with a different payload: %w",
					*req.IdempotencyKey, xerrors.ErrDuplicateIdempotencyKey)
			}
			return existing, nil
		}
	}

	accountIDs := req.AccountIDs()
	sort.Strings(accountIDs)
	for _, id := range accountIDs {
		lock := s.accountLock(id)
		lock.Lock()
		defer lock.Unlock()
	}

	now := s.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	// Work on clones; originals stay untouched until commit.
	working := make(map[string]*domain.Account, len(accountIDs))
	s.mu.RLock()
	for _, id := range accountIDs {
		account, ok := s.accounts[id]
		if !ok {
			s.mu.RUnlock()
			return nil, fmt.Errorf("account %s: %w", id, xerrors.ErrInvalidAccount)
		}
		working[id] = account.Clone()
	}

	var reversed *domain.Transaction
	if req.ReverseOf != nil {
		original, ok := s.transactions[*req.ReverseOf]
		if !ok {
			s.mu.RUnlock()
			return nil, fmt.Errorf("transaction %s: %w", *req.ReverseOf, xerrors.ErrTransactionNotFound)
		}
		if !original.Status.CanTransitionTo(domain.TransactionStatusReversed) {
			s.mu.RUnlock()
			return nil, fmt.Errorf("%s -> %s: %w",
				original.Status, domain.TransactionStatusReversed, xerrors.ErrInvalidStateTransition)
		}
		reversed = original
	}
	s.mu.RUnlock()

	for _, unit := range req.Units {
		if unit.Leg == nil {
			continue
		}
		account := working[unit.Leg.AccountID]
		if unit.Leg.Side == domain.SideDebit {
			if err := account.ValidateDebit(
				unit.Leg.Amount,
				s.sumDebited(account.ID, dayStart),
				s.sumDebited(account.ID, monthStart),
			); err != nil {
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
		p := s.ids.PairID()
		pairID = &p
	}

	result := &domain.SettlementResult{}
	for _, unit := range req.Units {
		txn, err := s.buildTransaction(req, unit, working, pairID, now)
		if err != nil {
			return nil, err
		}
		if unit.Leg != nil {
			account := working[unit.Leg.AccountID]
			account.Apply(unit.Leg.Side, unit.Leg.Amount)
			txn.BalanceAfter = account.Balance
		}
		result.Transactions = append(result.Transactions, txn)

		for _, line := range unit.Entries {
			chartAccount, err := s.chart.Lookup(line.AccountName)
			if err != nil {
				return nil, err
			}
			result.Entries = append(result.Entries, &domain.LedgerEntry{
				ID:            s.ids.EntryID(),
				TransactionID: txn.ID,
				AccountName:   line.AccountName,
				Category:      chartAccount.Category,
				Side:          line.Side,
				Amount:        line.Amount,
				CreatedAt:     now,
			})
		}
	}

	// Commit: publish all state in one critical section. Once here, the
	// commit is no longer cancellable.
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, account := range working {
		s.accounts[id] = account
	}
	if reversed != nil {
		reversed.Status = domain.TransactionStatusReversed
		reversed.UpdatedAt = now
	}
	for _, txn := range result.Transactions {
		s.transactions[txn.ID] = txn
		s.txOrder = append(s.txOrder, txn.ID)
		if req.IdempotencyKey != nil {
			s.idempotency[*req.IdempotencyKey] = append(s.idempotency[*req.IdempotencyKey], txn.ID)
		}
	}
	s.entries = append(s.entries, result.Entries...)

	return result, nil
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

func (s *Store) buildTransaction(
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
		ID:                  s.ids.TransactionID(),
		Status:              status,
		ParentTransactionID: req.ReverseOf,
		IdempotencyKey:      req.IdempotencyKey,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if unit.Leg == nil {
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
	txn.BalanceAfter = account.Balance
	txn.CounterpartyID = unit.Leg.CounterpartyID
	txn.PairID = pairID
	txn.Description = unit.Leg.Description

	if req.ReverseOf != nil {
		txn.Amount = unit.Leg.Amount.Neg()
	}
	return txn, nil
}

// sumDebited scans completed balance-decreasing transactions since the
// given time. Callers hold the account lock.
func (s *Store) sumDebited(accountID string, since time.Time) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, txn := range s.transactions {
		if txn.AccountID != accountID || txn.Status != domain.TransactionStatusCompleted {
			continue
		}
		if txn.CreatedAt.Before(since) {
			continue
		}
		if txn.BalanceAfter.Amount.LessThan(txn.BalanceBefore.Amount) {
			total = total.Add(txn.BalanceBefore.Amount.Sub(txn.BalanceAfter.Amount))
		}
	}
	return total
}

func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (*domain.SettlementResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.idempotency[key]
	if !ok {
		return nil, xerrors.ErrNotFound
	}

	result := &domain.SettlementResult{}
	for _, id := range ids {
		txn := s.transactions[id]
		cp := *txn
		result.Transactions = append(result.Transactions, &cp)
		for _, e := range s.entries {
			if e.TransactionID == id {
				ec := *e
				result.Entries = append(result.Entries, &ec)
			}
		}
	}
	return result, nil
}

// ===============================
// ACCOUNT REPOSITORY
// ===============================

func (s *Store) Create(ctx context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[account.ID]; exists {
		return fmt.Errorf("account %s already exists: %w", account.ID, xerrors.ErrInvalidInput)
	}
	s.accounts[account.ID] = account.Clone()
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return account.Clone(), nil
}

func (s *Store) List(ctx context.Context, filter *domain.AccountFilter) ([]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var accounts []*domain.Account
	for _, a := range s.accounts {
		if filter != nil {
			if filter.OwnerID != nil && a.OwnerID != *filter.OwnerID {
				continue
			}
			if filter.Currency != nil && a.Currency != *filter.Currency {
				continue
			}
			if filter.Status != nil && a.Status != *filter.Status {
				continue
			}
		}
		accounts = append(accounts, a.Clone())
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	lock := s.accountLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	account.Status = status
	account.Version++
	account.UpdatedAt = s.Now()
	return nil
}

// ===============================
// TRANSACTION REPOSITORY
// ===============================

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txn, ok := s.transactions[id]
	if !ok {
		return nil, xerrors.ErrTransactionNotFound
	}
	cp := *txn
	return &cp, nil
}

func (s *Store) ListTransactions(ctx context.Context, filter *domain.TransactionFilter) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var txs []*domain.Transaction
	for i := len(s.txOrder) - 1; i >= 0; i-- {
		txn := s.transactions[s.txOrder[i]]
		if filter != nil {
			if filter.AccountID != nil && txn.AccountID != *filter.AccountID {
				continue
			}
			if filter.Type != nil && txn.Type != *filter.Type {
				continue
			}
			if filter.Status != nil && txn.Status != *filter.Status {
				continue
			}
			if filter.StartDate != nil && txn.CreatedAt.Before(*filter.StartDate) {
				continue
			}
			if filter.EndDate != nil && txn.CreatedAt.After(*filter.EndDate) {
				continue
			}
		}
		cp := *txn
		txs = append(txs, &cp)
		if filter != nil && filter.Limit > 0 && len(txs) >= filter.Limit {
			break
		}
	}
	return txs, nil
}

// ===============================
// LEDGER REPOSITORY
// ===============================

func (s *Store) ListByTransaction(ctx context.Context, transactionID string) ([]*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*domain.LedgerEntry
	for _, e := range s.entries {
		if e.TransactionID == transactionID {
			cp := *e
			entries = append(entries, &cp)
		}
	}
	return entries, nil
}

func (s *Store) ListEntries(ctx context.Context, filter *domain.EntryFilter) ([]*domain.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*domain.LedgerEntry
	for _, e := range s.entries {
		if e.Amount.Currency != filter.Currency {
			continue
		}
		if filter.AccountName != nil && e.AccountName != *filter.AccountName {
			continue
		}
		if filter.StartDate != nil && e.CreatedAt.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && e.CreatedAt.After(*filter.EndDate) {
			continue
		}
		cp := *e
		entries = append(entries, &cp)
	}
	return entries, nil
}

// ===============================
// RATE REPOSITORY
// ===============================

func (s *Store) Save(ctx context.Context, rate *domain.ExchangeRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rate
	s.rates[rate.Pair()] = &cp
	return nil
}

func (s *Store) Latest(ctx context.Context, base, quote string) (*domain.ExchangeRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rate, ok := s.rates[base+"/"+quote]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	cp := *rate
	return &cp, nil
}

// TransactionRepo exposes the store as a TransactionRepository. A separate
// view is needed because GetByID on the store itself resolves accounts.
func (s *Store) TransactionRepo() repository.TransactionRepository {
	return transactionView{s}
}

type transactionView struct {
	s *Store
}

func (v transactionView) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return v.s.GetTransaction(ctx, id)
}

func (v transactionView) List(ctx context.Context, filter *domain.TransactionFilter) ([]*domain.Transaction, error) {
	return v.s.ListTransactions(ctx, filter)
}

func (v transactionView) SumDebited(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, error) {
	return v.s.sumDebited(accountID, since), nil
}

// Compile-time interface checks.
var (
	_ repository.SettlementStore       = (*Store)(nil)
	_ repository.AccountRepository     = (*Store)(nil)
	_ repository.LedgerRepository      = (*Store)(nil)
	_ repository.RateRepository        = (*Store)(nil)
	_ repository.TransactionRepository = transactionView{}
)
