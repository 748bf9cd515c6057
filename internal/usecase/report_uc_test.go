package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/xerrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newReportEnv(t *testing.T) (*settlementEnv, *ReportUsecase) {
	t.Helper()

	env := newSettlementEnv(t)
	reports := NewReportUsecase(
		env.store, env.store.TransactionRepo(), env.store, env.chart, nil, zap.NewNop())
	return env, reports
}

// seedActivity funds a USD account and runs a cross-currency transfer so
// every report has cash, deposit, clearing and revenue activity to sum.
//
// USD after seeding: cash DR 200, deposits CR 99.50, clearing CR 100.00,
// fee_revenue CR 0.50. EUR: clearing DR 85.00, deposits CR 84.58,
// fx_revenue CR 0.42.
func seedActivity(t *testing.T, env *settlementEnv) {
	t.Helper()

	env.newFundedAccount(t, "ACC-A", "USD", "200.00")
	env.newFundedAccount(t, "ACC-B", "EUR", "")

	_, _, err := env.uc.Transfer(context.Background(), "ACC-A", "ACC-B", mustAmount(t, "100.00", "USD"), nil)
	require.NoError(t, err)
}

func rowByName(rows []*domain.TrialBalanceRow, name string) *domain.TrialBalanceRow {
	for _, r := range rows {
		if r.AccountName == name {
			return r
		}
	}
	return nil
}

func TestReport_TrialBalance(t *testing.T) {
	t.Parallel()

	env, reports := newReportEnv(t)
	seedActivity(t, env)
	asOf := time.Now().UTC().Add(time.Hour)

	tb, err := reports.TrialBalance(context.Background(), asOf, "USD")
	require.NoError(t, err)

	assert.True(t, tb.Balanced)
	assert.True(t, tb.TotalDebits.Equal(tb.TotalCredits))
	// Debit side: cash 200 + clearing -100. Credit side: deposits 99.50 +
	// fee revenue 0.50.
	assert.Equal(t, "100", tb.TotalDebits.String())
	assert.Equal(t, env.chart.Version(), tb.ChartVersion)

	cash := rowByName(tb.Rows, domain.ChartCash)
	require.NotNil(t, cash)
	assert.Equal(t, "200", cash.Balance.String())
	assert.Equal(t, domain.SideDebit, cash.Side)

	deposits := rowByName(tb.Rows, domain.ChartCustomerDeposits)
	require.NotNil(t, deposits)
	assert.Equal(t, "99.5", deposits.Balance.String())
	assert.Equal(t, domain.SideCredit, deposits.Side)

	fees := rowByName(tb.Rows, domain.ChartFeeRevenue)
	require.NotNil(t, fees)
	assert.Equal(t, "0.5", fees.Balance.String())

	// The EUR book balances independently.
	eur, err := reports.TrialBalance(context.Background(), asOf, "EUR")
	require.NoError(t, err)
	assert.True(t, eur.Balanced)
	assert.Equal(t, "85", eur.TotalDebits.String())

	spread := rowByName(eur.Rows, domain.ChartFXRevenue)
	require.NotNil(t, spread)
	assert.Equal(t, "0.42", spread.Balance.String())
}

func TestReport_TrialBalanceListsEveryChartAccount(t *testing.T) {
	t.Parallel()

	env, reports := newReportEnv(t)
	env.newFundedAccount(t, "ACC-A", "USD", "100.00")

	tb, err := reports.TrialBalance(context.Background(), time.Now().UTC().Add(time.Hour), "USD")
	require.NoError(t, err)

	// Inactive accounts still get a row, at zero.
	require.Len(t, tb.Rows, len(env.chart.Names()))
	idle := rowByName(tb.Rows, domain.ChartInterestExpense)
	require.NotNil(t, idle)
	assert.True(t, idle.Balance.IsZero())
	assert.True(t, idle.TotalDebits.IsZero())
	assert.True(t, idle.TotalCredits.IsZero())
	assert.True(t, tb.Balanced)
}

func TestReport_BalanceSheetIdentity(t *testing.T) {
	t.Parallel()

	env, reports := newReportEnv(t)
	seedActivity(t, env)

	bs, err := reports.BalanceSheet(context.Background(), time.Now().UTC().Add(time.Hour), "USD")
	require.NoError(t, err)

	assert.True(t, bs.Balanced)
	// Cash 200 net of the -100 clearing position.
	assert.Equal(t, "100", bs.TotalAssets.String())
	assert.Equal(t, "99.5", bs.TotalLiabilities.String())
	// Fee revenue shows up as current earnings in equity.
	assert.Equal(t, "0.5", bs.TotalEquity.String())
	assert.True(t, bs.TotalAssets.Equal(bs.TotalLiabilities.Add(bs.TotalEquity)))

	earnings := rowByName(bs.Equity, "current_earnings")
	require.NotNil(t, earnings)
	assert.Equal(t, "0.5", earnings.Balance.String())
}

func TestReport_IncomeStatement(t *testing.T) {
	t.Parallel()

	env, reports := newReportEnv(t)
	seedActivity(t, env)

	start := time.Now().UTC().Add(-time.Hour)
	end := time.Now().UTC().Add(time.Hour)

	usd, err := reports.IncomeStatement(context.Background(), start, end, "USD")
	require.NoError(t, err)
	assert.Equal(t, "0.5", usd.TotalRevenue.String())
	assert.True(t, usd.TotalExpenses.IsZero())
	assert.Equal(t, "0.5", usd.NetIncome.String())

	eur, err := reports.IncomeStatement(context.Background(), start, end, "EUR")
	require.NoError(t, err)
	assert.Equal(t, "0.42", eur.TotalRevenue.String())
	assert.Equal(t, "0.42", eur.NetIncome.String())
}

func TestReport_Reconcile(t *testing.T) {
	t.Parallel()

	env, reports := newReportEnv(t)
	seedActivity(t, env)
	asOf := time.Now().UTC().Add(time.Hour)

	t.Run("matched", func(t *testing.T) {
		rec, err := reports.Reconcile(context.Background(),
			domain.ChartCash, decimal.RequireFromString("200.00"), "USD", asOf)
		require.NoError(t, err)
		assert.True(t, rec.Matched)
		assert.Equal(t, "200", rec.InternalBalance.String())
		assert.True(t, rec.Difference.IsZero())
		assert.True(t, rec.VariancePercent.IsZero())
	})

	t.Run("mismatched", func(t *testing.T) {
		rec, err := reports.Reconcile(context.Background(),
			domain.ChartCash, decimal.RequireFromString("195.00"), "USD", asOf)
		require.NoError(t, err)
		assert.False(t, rec.Matched)
		assert.Equal(t, "5", rec.Difference.String())
		assert.Equal(t, "2.5641", rec.VariancePercent.String())
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := reports.Reconcile(context.Background(),
			"vault_of_secrets", decimal.Zero, "USD", asOf)
		assert.True(t, errors.Is(err, xerrors.ErrInvalidAccount))
	})
}

func TestReport_AccountStatement(t *testing.T) {
	t.Parallel()

	env, reports := newReportEnv(t)
	env.newFundedAccount(t, "ACC-S", "USD", "200.00")

	_, err := env.uc.Withdraw(context.Background(), "ACC-S", mustAmount(t, "50.00", "USD"), nil)
	require.NoError(t, err)

	start := time.Now().UTC().Add(-time.Hour)
	end := time.Now().UTC().Add(time.Hour)

	stmt, err := reports.AccountStatement(context.Background(), "ACC-S", start, end)
	require.NoError(t, err)

	assert.Equal(t, "ACC-S", stmt.AccountID)
	assert.Equal(t, "USD", stmt.Currency)
	assert.Equal(t, "0", stmt.OpeningBalance.String())
	assert.Equal(t, "150", stmt.ClosingBalance.String())
	assert.Equal(t, "50", stmt.TotalDebits.String())
	assert.Equal(t, "200", stmt.TotalCredits.String())
	assert.Len(t, stmt.Transactions, 2)
}

func TestReport_TrialBalanceStaysBalancedAfterReversal(t *testing.T) {
	t.Parallel()

	env, reports := newReportEnv(t)
	env.newFundedAccount(t, "ACC-R", "USD", "100.00")

	txn, err := env.uc.Withdraw(context.Background(), "ACC-R", mustAmount(t, "30.00", "USD"), nil)
	require.NoError(t, err)
	_, err = env.uc.Reverse(context.Background(), txn.ID, "operator error")
	require.NoError(t, err)

	tb, err := reports.TrialBalance(context.Background(), time.Now().UTC().Add(time.Hour), "USD")
	require.NoError(t, err)
	assert.True(t, tb.Balanced)

	// The reversal nets the withdrawal out; only the deposit remains.
	cash := rowByName(tb.Rows, domain.ChartCash)
	require.NotNil(t, cash)
	assert.Equal(t, "100", cash.Balance.String())
}
