package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"settlement-service/internal/domain"
	"settlement-service/internal/pub"
	"settlement-service/internal/repository/memory"
	"settlement-service/internal/xerrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type settlementEnv struct {
	uc    *SettlementUsecase
	store *memory.Store
	chart *domain.ChartOfAccounts
}

func newSettlementEnv(t *testing.T) *settlementEnv {
	t.Helper()

	chart := domain.DefaultChart()
	store := memory.NewStore(chart)
	logger := zap.NewNop()

	fx := NewFXUsecase(&stubProvider{rate: decimal.RequireFromString("0.85")}, store, logger)
	publisher := pub.NewAuditPublisher(nil, nil, logger)

	uc := NewSettlementUsecase(
		store, store, store.TransactionRepo(), store, fx, publisher, nil, logger)

	return &settlementEnv{uc: uc, store: store, chart: chart}
}

// newFundedAccount creates an active account and funds it through a deposit
// so the ledger stays consistent with the balance.
func (e *settlementEnv) newFundedAccount(t *testing.T, id, currency, balance string) *domain.Account {
	t.Helper()

	account := domain.NewAccount(id, "owner-"+id, currency, domain.AccountLimits{})
	require.NoError(t, e.store.Create(context.Background(), account))

	if balance != "" {
		amount := mustAmount(t, balance, currency)
		_, err := e.uc.Deposit(context.Background(), id, amount, nil)
		require.NoError(t, err)
	}
	return account
}

func mustAmount(t *testing.T, amount, currency string) domain.Money {
	t.Helper()
	m, err := domain.MoneyFromString(amount, currency)
	require.NoError(t, err)
	return m
}

func assertEntriesBalance(t *testing.T, entries []*domain.LedgerEntry) {
	t.Helper()

	debits := make(map[string]decimal.Decimal)
	credits := make(map[string]decimal.Decimal)
	for _, e := range entries {
		cur := e.Amount.Currency
		if _, ok := debits[cur]; !ok {
			debits[cur] = decimal.Zero
			credits[cur] = decimal.Zero
		}
		debits[cur] = debits[cur].Add(e.Debit())
		credits[cur] = credits[cur].Add(e.Credit())
	}
	for cur := range debits {
		assert.True(t, debits[cur].Equal(credits[cur]),
			"entries unbalanced in %s: debits %s credits %s", cur, debits[cur], credits[cur])
	}
}

func TestSettlement_Deposit(t *testing.T) {
	t.Parallel()

	env := newSettlementEnv(t)
	env.newFundedAccount(t, "ACC-A", "USD", "")

	txn, err := env.uc.Deposit(context.Background(), "ACC-A", mustAmount(t, "100.00", "USD"), nil)
	require.NoError(t, err)

	assert.Equal(t, domain.TransactionStatusCompleted, txn.Status)
	assert.Equal(t, domain.TransactionTypeCredit, txn.Type)
	assert.Equal(t, "0", txn.BalanceBefore.Amount.String())
	assert.Equal(t, "100", txn.BalanceAfter.Amount.String())

	account, err := env.store.GetByID(context.Background(), "ACC-A")
	require.NoError(t, err)
	assert.Equal(t, "100", account.Balance.Amount.String())
	require.NoError(t, account.CheckInvariant())

	entries, err := env.store.ListByTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assertEntriesBalance(t, entries)
}

func TestSettlement_WithdrawInsufficientFundsLeavesNoTrace(t *testing.T) {
	t.Parallel()

	env := newSettlementEnv(t)
	env.newFundedAccount(t, "ACC-A", "USD", "30.00")

	before, err := env.store.ListTransactions(context.Background(), nil)
	require.NoError(t, err)

	_, err = env.uc.Withdraw(context.Background(), "ACC-A", mustAmount(t, "50.00", "USD"), nil)
	assert.True(t, errors.Is(err, xerrors.ErrInsufficientFunds))

	after, err := env.store.ListTransactions(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, after, len(before), "a rejected withdrawal must not create transactions")

	account, err := env.store.GetByID(context.Background(), "ACC-A")
	require.NoError(t, err)
	assert.Equal(t, "30", account.Balance.Amount.String())
}

func TestSettlement_SameCurrencyTransfer(t *testing.T) {
	t.Parallel()

	env := newSettlementEnv(t)
	env.newFundedAccount(t, "ACC-A", "USD", "100.00")
	env.newFundedAccount(t, "ACC-B", "USD", "")

	src, dst, err := env.uc.Transfer(context.Background(), "ACC-A", "ACC-B", mustAmount(t, "40.00", "USD"), nil)
	require.NoError(t, err)

	assert.Equal(t, domain.TransactionTypeTransfer, src.Type)
	require.NotNil(t, src.PairID)
	require.NotNil(t, dst.PairID)
	assert.Equal(t, *src.PairID, *dst.PairID)
	require.NotNil(t, src.CounterpartyID)
	assert.Equal(t, "ACC-B", *src.CounterpartyID)

	a, err := env.store.GetByID(context.Background(), "ACC-A")
	require.NoError(t, err)
	b, err := env.store.GetByID(context.Background(), "ACC-B")
	require.NoError(t, err)
	assert.Equal(t, "60", a.Balance.Amount.String())
	assert.Equal(t, "40", b.Balance.Amount.String())

	srcEntries, err := env.store.ListByTransaction(context.Background(), src.ID)
	require.NoError(t, err)
	dstEntries, err := env.store.ListByTransaction(context.Background(), dst.ID)
	require.NoError(t, err)
	assert.Len(t, srcEntries, 2)
	assert.Len(t, dstEntries, 2)
	assertEntriesBalance(t, append(srcEntries, dstEntries...))
}

func TestSettlement_CrossCurrencyTransfer(t *testing.T) {
	t.Parallel()

	env := newSettlementEnv(t)
	env.newFundedAccount(t, "ACC-A", "USD", "200.00")
	env.newFundedAccount(t, "ACC-B", "EUR", "")

	// Rate 0.85, fee 0.5%: source pays 100.50, destination receives
	// (100 - 0.50) * 0.85 = 84.58.
	src, dst, err := env.uc.Transfer(context.Background(), "ACC-A", "ACC-B", mustAmount(t, "100.00", "USD"), nil)
	require.NoError(t, err)

	assert.Equal(t, "100.5", src.Amount.Amount.String())
	assert.Equal(t, "USD", src.Amount.Currency)
	assert.Equal(t, "84.58", dst.Amount.Amount.String())
	assert.Equal(t, "EUR", dst.Amount.Currency)

	a, err := env.store.GetByID(context.Background(), "ACC-A")
	require.NoError(t, err)
	b, err := env.store.GetByID(context.Background(), "ACC-B")
	require.NoError(t, err)
	assert.Equal(t, "99.5", a.Balance.Amount.String())
	assert.Equal(t, "84.58", b.Balance.Amount.String())

	// Entries balance within each currency independently.
	srcEntries, err := env.store.ListByTransaction(context.Background(), src.ID)
	require.NoError(t, err)
	dstEntries, err := env.store.ListByTransaction(context.Background(), dst.ID)
	require.NoError(t, err)
	assertEntriesBalance(t, srcEntries)
	assertEntriesBalance(t, dstEntries)

	for _, e := range srcEntries {
		assert.Equal(t, "USD", e.Amount.Currency)
	}
	for _, e := range dstEntries {
		assert.Equal(t, "EUR", e.Amount.Currency)
	}
}

func TestSettlement_TransferCurrencyMismatch(t *testing.T) {
	t.Parallel()

	env := newSettlementEnv(t)
	env.newFundedAccount(t, "ACC-A", "USD", "100.00")
	env.newFundedAccount(t, "ACC-B", "USD", "")

	_, _, err := env.uc.Transfer(context.Background(), "ACC-A", "ACC-B", mustAmount(t, "10.00", "EUR"), nil)
	assert.True(t, errors.Is(err, xerrors.ErrCurrencyMismatch))
}

func TestSettlement_ReversalLaw(t *testing.T) {
	t.Parallel()

	env := newSettlementEnv(t)
	env.newFundedAccount(t, "ACC-A", "USD", "100.00")

	original, err := env.uc.Withdraw(context.Background(), "ACC-A", mustAmount(t, "25.00", "USD"), nil)
	require.NoError(t, err)

	reversal, err := env.uc.Reverse(context.Background(), original.ID, "customer dispute")
	require.NoError(t, err)

	// Negated amount pointing back at the original.
	assert.True(t, reversal.Amount.Amount.Equal(original.Amount.Amount.Neg()))
	require.NotNil(t, reversal.ParentTransactionID)
	assert.Equal(t, original.ID, *reversal.ParentTransactionID)

	reloaded, err := env.store.GetTransaction(context.Background(), original.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusReversed, reloaded.Status)

	// Balance restored.
	account, err := env.store.GetByID(context.Background(), "ACC-A")
	require.NoError(t, err)
	assert.Equal(t, "100", account.Balance.Amount.String())

	// Offsetting entries: same accounts and amounts, opposite sides.
	originalEntries, err := env.store.ListByTransaction(context.Background(), original.ID)
	require.NoError(t, err)
	reversalEntries, err := env.store.ListByTransaction(context.Background(), reversal.ID)
	require.NoError(t, err)
	require.Len(t, reversalEntries, len(originalEntries))
	assertEntriesBalance(t, reversalEntries)

	type key struct {
		account string
		side    domain.EntrySide
		amount  string
	}
	offsets := make(map[key]int)
	for _, e := range reversalEntries {
		offsets[key{e.AccountName, e.Side, e.Amount.Amount.String()}]++
	}
	for _, e := range originalEntries {
		k := key{e.AccountName, e.Side.Opposite(), e.Amount.Amount.String()}
		assert.Positive(t, offsets[k], "missing offset for %s %s", e.AccountName, e.Side)
		offsets[k]--
	}
}

func TestSettlement_ReverseTwiceFails(t *testing.T) {
	t.Parallel()

	env := newSettlementEnv(t)
	env.newFundedAccount(t, "ACC-A", "USD", "100.00")

	original, err := env.uc.Withdraw(context.Background(), "ACC-A", mustAmount(t, "10.00", "USD"), nil)
	require.NoError(t, err)

	_, err = env.uc.Reverse(context.Background(), original.ID, "first")
	require.NoError(t, err)

	_, err = env.uc.Reverse(context.Background(), original.ID, "second")
	assert.True(t, errors.Is(err, xerrors.ErrInvalidStateTransition))
}

func TestSettlement_ReverseUnknownTransaction(t *testing.T) {
	t.Parallel()

	env := newSettlementEnv(t)

	_, err := env.uc.Reverse(context.Background(), "TXN-MISSING", "reason")
	assert.True(t, errors.Is(err, xerrors.ErrTransactionNotFound))
}

func TestSettlement_ConcurrentWithdrawals(t *testing.T) {
	t.Parallel()

	env := newSettlementEnv(t)
	env.newFundedAccount(t, "ACC-A", "USD", "100.00")

	// Two concurrent withdrawals of 60.00: together they exceed the
	// available balance, alone they don't. Exactly one must succeed.
	amount := mustAmount(t, "60.00", "USD")
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = env.uc.Withdraw(context.Background(), "ACC-A", amount, nil)
		}(i)
	}
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, xerrors.ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)

	account, err := env.store.GetByID(context.Background(), "ACC-A")
	require.NoError(t, err)
	assert.Equal(t, "40", account.Balance.Amount.String())
	require.NoError(t, account.CheckInvariant())
}

func TestSettlement_PerTransactionLimit(t *testing.T) {
	t.Parallel()

	env := newSettlementEnv(t)

	account := domain.NewAccount("ACC-L", "owner-l", "USD", domain.AccountLimits{
		PerTransaction: decimal.RequireFromString("50.00"),
	})
	require.NoError(t, env.store.Create(context.Background(), account))
	_, err := env.uc.Deposit(context.Background(), "ACC-L", mustAmount(t, "500.00", "USD"), nil)
	require.NoError(t, err)

	_, err = env.uc.Withdraw(context.Background(), "ACC-L", mustAmount(t, "60.00", "USD"), nil)
	assert.True(t, errors.Is(err, xerrors.ErrLimitExceeded))

	_, err = env.uc.Withdraw(context.Background(), "ACC-L", mustAmount(t, "50.00", "USD"), nil)
	assert.NoError(t, err)
}

func TestSettlement_DailyLimit(t *testing.T) {
	t.Parallel()

	env := newSettlementEnv(t)

	account := domain.NewAccount("ACC-D", "owner-d", "USD", domain.AccountLimits{
		Daily: decimal.RequireFromString("100.00"),
	})
	require.NoError(t, env.store.Create(context.Background(), account))
	_, err := env.uc.Deposit(context.Background(), "ACC-D", mustAmount(t, "500.00", "USD"), nil)
	require.NoError(t, err)

	_, err = env.uc.Withdraw(context.Background(), "ACC-D", mustAmount(t, "70.00", "USD"), nil)
	require.NoError(t, err)

	// 70 already debited today; another 40 would breach the 100 cap.
	_, err = env.uc.Withdraw(context.Background(), "ACC-D", mustAmount(t, "40.00", "USD"), nil)
	assert.True(t, errors.Is(err, xerrors.ErrLimitExceeded))

	_, err = env.uc.Withdraw(context.Background(), "ACC-D", mustAmount(t, "30.00", "USD"), nil)
	assert.NoError(t, err)
}

func TestSettlement_IdempotentDeposit(t *testing.T) {
	t.Parallel()

	env := newSettlementEnv(t)
	env.newFundedAccount(t, "ACC-A", "USD", "")

	key := "dep-2026-08-001"
	first, err := env.uc.Deposit(context.Background(), "ACC-A", mustAmount(t, "100.00", "USD"), &key)
	require.NoError(t, err)

	second, err := env.uc.Deposit(context.Background(), "ACC-A", mustAmount(t, "100.00", "USD"), &key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	account, err := env.store.GetByID(context.Background(), "ACC-A")
	require.NoError(t, err)
	assert.Equal(t, "100", account.Balance.Amount.String(), "replayed deposit must not credit twice")
}

func TestSettlement_FrozenAccountRejected(t *testing.T) {
	t.Parallel()

	env := newSettlementEnv(t)
	env.newFundedAccount(t, "ACC-A", "USD", "50.00")
	require.NoError(t, env.store.UpdateStatus(context.Background(), "ACC-A", domain.AccountStatusFrozen))

	_, err := env.uc.Deposit(context.Background(), "ACC-A", mustAmount(t, "10.00", "USD"), nil)
	assert.True(t, errors.Is(err, xerrors.ErrAccountInactive))

	_, err = env.uc.Withdraw(context.Background(), "ACC-A", mustAmount(t, "10.00", "USD"), nil)
	assert.True(t, errors.Is(err, xerrors.ErrAccountInactive))
}

func TestSettlement_GetAccountBalance(t *testing.T) {
	t.Parallel()

	env := newSettlementEnv(t)
	env.newFundedAccount(t, "ACC-A", "USD", "75.25")

	snapshot, err := env.uc.GetAccountBalance(context.Background(), "ACC-A")
	require.NoError(t, err)
	assert.Equal(t, "75.25", snapshot.Balance.Amount.String())
	assert.Equal(t, "75.25", snapshot.Available.Amount.String())
	assert.True(t, snapshot.Pending.IsZero())

	_, err = env.uc.GetAccountBalance(context.Background(), "ACC-MISSING")
	assert.True(t, errors.Is(err, xerrors.ErrInvalidAccount))
}
