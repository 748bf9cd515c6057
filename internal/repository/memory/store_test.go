package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/xerrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMoney(t *testing.T, amount, currency string) domain.Money {
	t.Helper()
	m, err := domain.MoneyFromString(amount, currency)
	require.NoError(t, err)
	return m
}

func depositRequest(accountID string, amount domain.Money, key *string) *domain.SettlementRequest {
	return &domain.SettlementRequest{
		IdempotencyKey: key,
		Units: []*domain.SettlementUnit{{
			Leg: &domain.SettlementLeg{
				AccountID: accountID,
				Side:      domain.SideCredit,
				Amount:    amount,
				Type:      domain.TransactionTypeCredit,
			},
			Entries: []*domain.EntryLine{
				{AccountName: domain.ChartCash, Side: domain.SideDebit, Amount: amount},
				{AccountName: domain.ChartCustomerDeposits, Side: domain.SideCredit, Amount: amount},
			},
		}},
	}
}

func TestStore_AccountLifecycle(t *testing.T) {
	t.Parallel()

	store := NewStore(domain.DefaultChart())
	ctx := context.Background()

	account := domain.NewAccount("ACC-1", "owner-1", "USD", domain.AccountLimits{})
	require.NoError(t, store.Create(ctx, account))

	err := store.Create(ctx, account)
	assert.True(t, errors.Is(err, xerrors.ErrInvalidInput), "duplicate id must be rejected")

	got, err := store.GetByID(ctx, "ACC-1")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got.OwnerID)
	assert.Equal(t, domain.AccountStatusActive, got.Status)

	// Clones, not aliases: mutating the returned account must not leak
	// back into the store.
	got.Balance.Amount = decimal.RequireFromString("999")
	again, err := store.GetByID(ctx, "ACC-1")
	require.NoError(t, err)
	assert.True(t, again.Balance.IsZero())

	_, err = store.GetByID(ctx, "ACC-MISSING")
	assert.True(t, errors.Is(err, xerrors.ErrNotFound))

	require.NoError(t, store.UpdateStatus(ctx, "ACC-1", domain.AccountStatusFrozen))
	frozen, err := store.GetByID(ctx, "ACC-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusFrozen, frozen.Status)
	assert.Greater(t, frozen.Version, account.Version)

	err = store.UpdateStatus(ctx, "ACC-MISSING", domain.AccountStatusClosed)
	assert.True(t, errors.Is(err, xerrors.ErrNotFound))
}

func TestStore_ListAccountsFilter(t *testing.T) {
	t.Parallel()

	store := NewStore(domain.DefaultChart())
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, domain.NewAccount("ACC-1", "alice", "USD", domain.AccountLimits{})))
	require.NoError(t, store.Create(ctx, domain.NewAccount("ACC-2", "alice", "EUR", domain.AccountLimits{})))
	require.NoError(t, store.Create(ctx, domain.NewAccount("ACC-3", "bob", "USD", domain.AccountLimits{})))

	all, err := store.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	owner := "alice"
	mine, err := store.List(ctx, &domain.AccountFilter{OwnerID: &owner})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "ACC-1", mine[0].ID)

	currency := "EUR"
	eur, err := store.List(ctx, &domain.AccountFilter{OwnerID: &owner, Currency: &currency})
	require.NoError(t, err)
	require.Len(t, eur, 1)
	assert.Equal(t, "ACC-2", eur[0].ID)
}

func TestStore_SettlementRejectsUnbalancedUnit(t *testing.T) {
	t.Parallel()

	store := NewStore(domain.DefaultChart())
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, domain.NewAccount("ACC-1", "owner-1", "USD", domain.AccountLimits{})))

	amount := testMoney(t, "100.00", "USD")
	req := depositRequest("ACC-1", amount, nil)
	req.Units[0].Entries[1].Amount = testMoney(t, "90.00", "USD")

	_, err := store.ExecuteSettlement(ctx, req)
	assert.True(t, errors.Is(err, xerrors.ErrUnbalancedEntry))

	entries, err := store.ListEntries(ctx, &domain.EntryFilter{Currency: "USD"})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_SettlementUnknownAccount(t *testing.T) {
	t.Parallel()

	store := NewStore(domain.DefaultChart())
	_, err := store.ExecuteSettlement(context.Background(),
		depositRequest("ACC-GHOST", testMoney(t, "10.00", "USD"), nil))
	assert.True(t, errors.Is(err, xerrors.ErrInvalidAccount))
}

func TestStore_IdempotencyReplay(t *testing.T) {
	t.Parallel()

	store := NewStore(domain.DefaultChart())
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, domain.NewAccount("ACC-1", "owner-1", "USD", domain.AccountLimits{})))

	key := "replay-me"
	first, err := store.ExecuteSettlement(ctx, depositRequest("ACC-1", testMoney(t, "25.00", "USD"), &key))
	require.NoError(t, err)

	second, err := store.ExecuteSettlement(ctx, depositRequest("ACC-1", testMoney(t, "25.00", "USD"), &key))
	require.NoError(t, err)
	require.Len(t, second.Transactions, 1)
	assert.Equal(t, first.Transactions[0].ID, second.Transactions[0].ID)

	account, err := store.GetByID(ctx, "ACC-1")
	require.NoError(t, err)
	assert.Equal(t, "25", account.Balance.Amount.String())

	replayed, err := store.GetByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.Transactions[0].ID, replayed.Transactions[0].ID)

	_, err = store.GetByIdempotencyKey(ctx, "never-used")
	assert.True(t, errors.Is(err, xerrors.ErrNotFound))
}

func TestStore_IdempotencyConcurrentDuplicates(t *testing.T) {
	t.Parallel()

	store := NewStore(domain.DefaultChart())
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, domain.NewAccount("ACC-1", "owner-1", "USD", domain.AccountLimits{})))

	// Two copies of the same request race with one key; both must
	// resolve to a single committed deposit.
	key := "retry-storm"
	amount := testMoney(t, "25.00", "USD")
	results := make([]*domain.SettlementResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.ExecuteSettlement(ctx,
				depositRequest("ACC-1", amount, &key))
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].Transactions[0].ID, results[1].Transactions[0].ID)

	account, err := store.GetByID(ctx, "ACC-1")
	require.NoError(t, err)
	assert.Equal(t, "25", account.Balance.Amount.String(), "duplicate key must credit once")

	txs, err := store.ListTransactions(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestStore_IdempotencyKeyReusedWithDifferentPayload(t *testing.T) {
	t.Parallel()

	store := NewStore(domain.DefaultChart())
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, domain.NewAccount("ACC-1", "owner-1", "USD", domain.AccountLimits{})))
	require.NoError(t, store.Create(ctx, domain.NewAccount("ACC-2", "owner-2", "USD", domain.AccountLimits{})))

	key := "one-key"
	_, err := store.ExecuteSettlement(ctx, depositRequest("ACC-1", testMoney(t, "25.00", "USD"), &key))
	require.NoError(t, err)

	// Same key, different amount.
	_, err = store.ExecuteSettlement(ctx, depositRequest("ACC-1", testMoney(t, "99.00", "USD"), &key))
	assert.True(t, errors.Is(err, xerrors.ErrDuplicateIdempotencyKey))

	// Same key, different account.
	_, err = store.ExecuteSettlement(ctx, depositRequest("ACC-2", testMoney(t, "25.00", "USD"), &key))
	assert.True(t, errors.Is(err, xerrors.ErrDuplicateIdempotencyKey))

	// The original payload still replays cleanly.
	replayed, err := store.ExecuteSettlement(ctx, depositRequest("ACC-1", testMoney(t, "25.00", "USD"), &key))
	require.NoError(t, err)
	assert.Len(t, replayed.Transactions, 1)

	account, err := store.GetByID(ctx, "ACC-1")
	require.NoError(t, err)
	assert.Equal(t, "25", account.Balance.Amount.String())
}

func TestStore_ListEntriesFilters(t *testing.T) {
	t.Parallel()

	store := NewStore(domain.DefaultChart())
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, domain.NewAccount("ACC-1", "owner-1", "USD", domain.AccountLimits{})))
	require.NoError(t, store.Create(ctx, domain.NewAccount("ACC-2", "owner-2", "EUR", domain.AccountLimits{})))

	_, err := store.ExecuteSettlement(ctx, depositRequest("ACC-1", testMoney(t, "100.00", "USD"), nil))
	require.NoError(t, err)
	_, err = store.ExecuteSettlement(ctx, depositRequest("ACC-2", testMoney(t, "50.00", "EUR"), nil))
	require.NoError(t, err)

	usd, err := store.ListEntries(ctx, &domain.EntryFilter{Currency: "USD"})
	require.NoError(t, err)
	assert.Len(t, usd, 2)

	cash := domain.ChartCash
	cashOnly, err := store.ListEntries(ctx, &domain.EntryFilter{Currency: "USD", AccountName: &cash})
	require.NoError(t, err)
	require.Len(t, cashOnly, 1)
	assert.Equal(t, domain.SideDebit, cashOnly[0].Side)

	past := time.Now().UTC().Add(-time.Minute)
	before, err := store.ListEntries(ctx, &domain.EntryFilter{Currency: "USD", EndDate: &past})
	require.NoError(t, err)
	assert.Empty(t, before)
}

func TestStore_RateRepository(t *testing.T) {
	t.Parallel()

	store := NewStore(domain.DefaultChart())
	ctx := context.Background()

	_, err := store.Latest(ctx, "USD", "EUR")
	assert.True(t, errors.Is(err, xerrors.ErrNotFound))

	rate := &domain.ExchangeRate{
		Base:      "USD",
		Quote:     "EUR",
		Rate:      decimal.RequireFromString("0.85"),
		FetchedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Save(ctx, rate))

	got, err := store.Latest(ctx, "USD", "EUR")
	require.NoError(t, err)
	assert.True(t, got.Rate.Equal(rate.Rate))

	// Newer quotes replace older ones for the same pair.
	update := &domain.ExchangeRate{
		Base:      "USD",
		Quote:     "EUR",
		Rate:      decimal.RequireFromString("0.87"),
		FetchedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Save(ctx, update))

	got, err = store.Latest(ctx, "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, "0.87", got.Rate.String())
}

func TestStore_TransferPairAtomicity(t *testing.T) {
	t.Parallel()

	store := NewStore(domain.DefaultChart())
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, domain.NewAccount("ACC-1", "owner-1", "USD", domain.AccountLimits{})))
	require.NoError(t, store.Create(ctx, domain.NewAccount("ACC-2", "owner-2", "USD", domain.AccountLimits{})))

	_, err := store.ExecuteSettlement(ctx, depositRequest("ACC-1", testMoney(t, "100.00", "USD"), nil))
	require.NoError(t, err)

	amount := testMoney(t, "40.00", "USD")
	transfer := &domain.SettlementRequest{
		Units: []*domain.SettlementUnit{
			{
				Leg: &domain.SettlementLeg{
					AccountID: "ACC-1",
					Side:      domain.SideDebit,
					Amount:    amount,
					Type:      domain.TransactionTypeTransfer,
				},
				Entries: []*domain.EntryLine{
					{AccountName: domain.ChartCustomerDeposits, Side: domain.SideDebit, Amount: amount},
					{AccountName: domain.ChartClearing, Side: domain.SideCredit, Amount: amount},
				},
			},
			{
				Leg: &domain.SettlementLeg{
					AccountID: "ACC-2",
					Side:      domain.SideCredit,
					Amount:    amount,
					Type:      domain.TransactionTypeTransfer,
				},
				Entries: []*domain.EntryLine{
					{AccountName: domain.ChartClearing, Side: domain.SideDebit, Amount: amount},
					{AccountName: domain.ChartCustomerDeposits, Side: domain.SideCredit, Amount: amount},
				},
			},
		},
	}

	result, err := store.ExecuteSettlement(ctx, transfer)
	require.NoError(t, err)
	require.Len(t, result.Transactions, 2)
	require.NotNil(t, result.Transactions[0].PairID)
	assert.Equal(t, *result.Transactions[0].PairID, *result.Transactions[1].PairID)

	// A multi-leg request where any leg fails must leave no trace. ACC-2
	// has 40; debiting 50 from it fails, so ACC-1's credit must not land.
	badAmount := testMoney(t, "50.00", "USD")
	bad := &domain.SettlementRequest{
		Units: []*domain.SettlementUnit{
			{
				Leg: &domain.SettlementLeg{
					AccountID: "ACC-2",
					Side:      domain.SideDebit,
					Amount:    badAmount,
					Type:      domain.TransactionTypeTransfer,
				},
				Entries: []*domain.EntryLine{
					{AccountName: domain.ChartCustomerDeposits, Side: domain.SideDebit, Amount: badAmount},
					{AccountName: domain.ChartClearing, Side: domain.SideCredit, Amount: badAmount},
				},
			},
			{
				Leg: &domain.SettlementLeg{
					AccountID: "ACC-1",
					Side:      domain.SideCredit,
					Amount:    badAmount,
					Type:      domain.TransactionTypeTransfer,
				},
				Entries: []*domain.EntryLine{
					{AccountName: domain.ChartClearing, Side: domain.SideDebit, Amount: badAmount},
					{AccountName: domain.ChartCustomerDeposits, Side: domain.SideCredit, Amount: badAmount},
				},
			},
		},
	}

	_, err = store.ExecuteSettlement(ctx, bad)
	assert.True(t, errors.Is(err, xerrors.ErrInsufficientFunds))

	a1, err := store.GetByID(ctx, "ACC-1")
	require.NoError(t, err)
	a2, err := store.GetByID(ctx, "ACC-2")
	require.NoError(t, err)
	assert.Equal(t, "60", a1.Balance.Amount.String())
	assert.Equal(t, "40", a2.Balance.Amount.String())
}
