package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"
	"settlement-service/internal/xerrors"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReportUsecase derives financial reports by aggregating committed ledger
// entries. It is purely read-side: it never mutates ledger state, and its
// queries honor caller cancellation independently of settlements.
type ReportUsecase struct {
	ledgerRepo      repository.LedgerRepository
	transactionRepo repository.TransactionRepository
	accountRepo     repository.AccountRepository
	chart           *domain.ChartOfAccounts
	redisClient     *redis.Client
	logger          *zap.Logger
}

func NewReportUsecase(
	ledgerRepo repository.LedgerRepository,
	transactionRepo repository.TransactionRepository,
	accountRepo repository.AccountRepository,
	chart *domain.ChartOfAccounts,
	redisClient *redis.Client,
	logger *zap.Logger,
) *ReportUsecase {
	return &ReportUsecase{
		ledgerRepo:      ledgerRepo,
		transactionRepo: transactionRepo,
		accountRepo:     accountRepo,
		chart:           chart,
		redisClient:     redisClient,
		logger:          logger,
	}
}

// ===============================
// TRIAL BALANCE
// ===============================

// TrialBalance aggregates every chart account's debits and credits up to
// asOf and reports the net balance on the account's natural side. A
// Balanced false result signals a ledger-integrity bug and is logged as
// such.
func (uc *ReportUsecase) TrialBalance(ctx context.Context, asOf time.Time, currency string) (*domain.TrialBalance, error) {
	rows, err := uc.aggregateRows(ctx, nil, &asOf, currency)
	if err != nil {
		return nil, err
	}

	report := &domain.TrialBalance{
		AsOf:         asOf,
		Currency:     currency,
		ChartVersion: uc.chart.Version(),
		Rows:         rows,
		TotalDebits:  decimal.Zero,
		TotalCredits: decimal.Zero,
	}

	for _, row := range rows {
		if row.Side == domain.SideDebit {
			report.TotalDebits = report.TotalDebits.Add(row.Balance)
		} else {
			report.TotalCredits = report.TotalCredits.Add(row.Balance)
		}
	}
	report.Balanced = report.TotalDebits.Equal(report.TotalCredits)

	if !report.Balanced {
		uc.logger.Error("trial balance out of balance",
			zap.String("currency", currency),
			zap.Time("as_of", asOf),
			zap.String("total_debits", report.TotalDebits.String()),
			zap.String("total_credits", report.TotalCredits.String()))
	}

	return report, nil
}

// ===============================
// BALANCE SHEET
// ===============================

// BalanceSheet partitions trial balance rows into assets, liabilities and
// equity. Net income for the period to date is folded into equity so that
// assets == liabilities + equity holds while revenue and expense accounts
// carry balances.
func (uc *ReportUsecase) BalanceSheet(ctx context.Context, asOf time.Time, currency string) (*domain.BalanceSheet, error) {
	rows, err := uc.aggregateRows(ctx, nil, &asOf, currency)
	if err != nil {
		return nil, err
	}

	sheet := &domain.BalanceSheet{
		AsOf:             asOf,
		Currency:         currency,
		TotalAssets:      decimal.Zero,
		TotalLiabilities: decimal.Zero,
		TotalEquity:      decimal.Zero,
	}

	netIncome := decimal.Zero
	for _, row := range rows {
		switch row.Category {
		case domain.CategoryAsset:
			sheet.Assets = append(sheet.Assets, row)
			sheet.TotalAssets = sheet.TotalAssets.Add(row.Balance)
		case domain.CategoryLiability:
			sheet.Liabilities = append(sheet.Liabilities, row)
			sheet.TotalLiabilities = sheet.TotalLiabilities.Add(row.Balance)
		case domain.CategoryEquity:
			sheet.Equity = append(sheet.Equity, row)
			sheet.TotalEquity = sheet.TotalEquity.Add(row.Balance)
		case domain.CategoryRevenue:
			netIncome = netIncome.Add(row.Balance)
		case domain.CategoryExpense:
			netIncome = netIncome.Sub(row.Balance)
		}
	}

	if !netIncome.IsZero() {
		row := &domain.TrialBalanceRow{
			AccountName: "current_earnings",
			DisplayName: "Current period earnings",
			Category:    domain.CategoryEquity,
			Balance:     netIncome,
			Side:        domain.SideCredit,
		}
		sheet.Equity = append(sheet.Equity, row)
		sheet.TotalEquity = sheet.TotalEquity.Add(netIncome)
	}

	sheet.Balanced = sheet.TotalAssets.Equal(sheet.TotalLiabilities.Add(sheet.TotalEquity))
	return sheet, nil
}

// ===============================
// INCOME STATEMENT
// ===============================

// IncomeStatement sums revenue and expense activity strictly within the
// period.
func (uc *ReportUsecase) IncomeStatement(ctx context.Context, start, end time.Time, currency string) (*domain.IncomeStatement, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("period end before start: %w", xerrors.ErrInvalidInput)
	}

	rows, err := uc.aggregateRows(ctx, &start, &end, currency)
	if err != nil {
		return nil, err
	}

	statement := &domain.IncomeStatement{
		PeriodStart:   start,
		PeriodEnd:     end,
		Currency:      currency,
		TotalRevenue:  decimal.Zero,
		TotalExpenses: decimal.Zero,
	}

	for _, row := range rows {
		switch row.Category {
		case domain.CategoryRevenue:
			statement.Revenue = append(statement.Revenue, row)
			statement.TotalRevenue = statement.TotalRevenue.Add(row.Balance)
		case domain.CategoryExpense:
			statement.Expenses = append(statement.Expenses, row)
			statement.TotalExpenses = statement.TotalExpenses.Add(row.Balance)
		}
	}

	statement.NetIncome = statement.TotalRevenue.Sub(statement.TotalExpenses)
	return statement, nil
}

// ===============================
// RECONCILIATION
// ===============================

// Reconcile compares the internally derived balance of one chart account
// against an externally supplied figure, e.g. a custodial bank statement.
// Read-only; drift detection is the caller's concern.
func (uc *ReportUsecase) Reconcile(ctx context.Context, accountName string, externalBalance decimal.Decimal, currency string, asOf time.Time) (*domain.Reconciliation, error) {
	chartAccount, err := uc.chart.Lookup(accountName)
	if err != nil {
		return nil, err
	}

	entries, err := uc.ledgerRepo.ListEntries(ctx, &domain.EntryFilter{
		Currency:    currency,
		AccountName: &accountName,
		EndDate:     &asOf,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load entries for reconciliation: %w", err)
	}

	debits, credits := decimal.Zero, decimal.Zero
	for _, e := range entries {
		debits = debits.Add(e.Debit())
		credits = credits.Add(e.Credit())
	}

	internal := debits.Sub(credits)
	if chartAccount.Category.NaturalSide() == domain.SideCredit {
		internal = credits.Sub(debits)
	}

	difference := internal.Sub(externalBalance)
	variance := decimal.Zero
	if !externalBalance.IsZero() {
		variance = difference.Div(externalBalance).Mul(decimal.NewFromInt(100)).Round(4)
	}

	return &domain.Reconciliation{
		AccountName:     accountName,
		Currency:        currency,
		AsOf:            asOf,
		InternalBalance: internal,
		ExternalBalance: externalBalance,
		Difference:      difference,
		VariancePercent: variance,
		Matched:         difference.IsZero(),
	}, nil
}

// ===============================
// ACCOUNT STATEMENT
// ===============================

// AccountStatement builds a period statement for one balance account from
// its completed transactions.
func (uc *ReportUsecase) AccountStatement(ctx context.Context, accountID string, start, end time.Time) (*domain.AccountStatement, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("period end before start: %w", xerrors.ErrInvalidInput)
	}

	account, err := uc.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", accountID, xerrors.ErrInvalidAccount)
	}

	status := domain.TransactionStatusCompleted
	txs, err := uc.transactionRepo.List(ctx, &domain.TransactionFilter{
		AccountID: &accountID,
		Status:    &status,
		StartDate: &start,
		EndDate:   &end,
		Limit:     10000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	statement := &domain.AccountStatement{
		AccountID:    accountID,
		Currency:     account.Currency,
		PeriodStart:  start,
		PeriodEnd:    end,
		TotalDebits:  decimal.Zero,
		TotalCredits: decimal.Zero,
		Transactions: txs,
	}

	for _, txn := range txs {
		if txn.BalanceAfter.Amount.LessThan(txn.BalanceBefore.Amount) {
			statement.TotalDebits = statement.TotalDebits.Add(
				txn.BalanceBefore.Amount.Sub(txn.BalanceAfter.Amount))
		} else {
			statement.TotalCredits = statement.TotalCredits.Add(
				txn.BalanceAfter.Amount.Sub(txn.BalanceBefore.Amount))
		}
	}

	statement.ClosingBalance = account.Balance.Amount
	statement.OpeningBalance = statement.ClosingBalance.
		Add(statement.TotalDebits).Sub(statement.TotalCredits)

	return statement, nil
}

// ===============================
// AGGREGATION
// ===============================

// aggregateRows sums entries per chart account within the window. The
// cached variant keys on the window since entries are append-only; recent
// windows use a short TTL.
func (uc *ReportUsecase) aggregateRows(ctx context.Context, start, end *time.Time, currency string) ([]*domain.TrialBalanceRow, error) {
	if currency == "" {
		return nil, fmt.Errorf("currency is required: %w", xerrors.ErrInvalidInput)
	}

	cacheKey := uc.buildRowsCacheKey(start, end, currency)
	if uc.redisClient != nil {
		if val, err := uc.redisClient.Get(ctx, cacheKey).Result(); err == nil {
			var rows []*domain.TrialBalanceRow
			if jsonErr := json.Unmarshal([]byte(val), &rows); jsonErr == nil {
				return rows, nil
			}
		}
	}

	entries, err := uc.ledgerRepo.ListEntries(ctx, &domain.EntryFilter{
		Currency:  currency,
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}

	type sums struct {
		debits  decimal.Decimal
		credits decimal.Decimal
	}
	byAccount := make(map[string]*sums)
	for _, e := range entries {
		s, ok := byAccount[e.AccountName]
		if !ok {
			s = &sums{debits: decimal.Zero, credits: decimal.Zero}
			byAccount[e.AccountName] = s
		}
		s.debits = s.debits.Add(e.Debit())
		s.credits = s.credits.Add(e.Credit())
	}

	var rows []*domain.TrialBalanceRow
	for _, name := range uc.chart.Names() {
		chartAccount, err := uc.chart.Lookup(name)
		if err != nil {
			return nil, err
		}
		// Accounts with no activity still get a zero row; the trial
		// balance reports every chart entry.
		s, ok := byAccount[name]
		if !ok {
			s = &sums{debits: decimal.Zero, credits: decimal.Zero}
		}

		row := &domain.TrialBalanceRow{
			AccountName:  name,
			DisplayName:  chartAccount.Description,
			Category:     chartAccount.Category,
			TotalDebits:  s.debits,
			TotalCredits: s.credits,
			Side:         chartAccount.Category.NaturalSide(),
		}
		if row.Side == domain.SideDebit {
			row.Balance = s.debits.Sub(s.credits)
		} else {
			row.Balance = s.credits.Sub(s.debits)
		}
		rows = append(rows, row)
	}

	if uc.redisClient != nil {
		if data, err := json.Marshal(rows); err == nil {
			_ = uc.redisClient.Set(ctx, cacheKey, data, 1*time.Minute).Err()
		}
	}

	return rows, nil
}

func (uc *ReportUsecase) buildRowsCacheKey(start, end *time.Time, currency string) string {
	key := fmt.Sprintf("report:rows:%s", currency)
	if start != nil {
		key += fmt.Sprintf(":from_%d", start.Unix())
	}
	if end != nil {
		key += fmt.Sprintf(":to_%d", end.Unix())
	}
	return key
}
