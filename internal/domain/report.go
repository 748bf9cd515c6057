package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrialBalanceRow is one chart account's aggregated position.
type TrialBalanceRow struct {
	AccountName  string          `json:"account_name"`
	DisplayName  string          `json:"display_name"`
	Category     AccountCategory `json:"category"`
	TotalDebits  decimal.Decimal `json:"total_debits"`
	TotalCredits decimal.Decimal `json:"total_credits"`
	Balance      decimal.Decimal `json:"balance"`
	Side         EntrySide       `json:"side"`
}

// TrialBalance lists every chart account's net balance on its natural side.
// Balanced false signals a ledger integrity bug, not a business condition.
type TrialBalance struct {
	AsOf         time.Time         `json:"as_of"`
	Currency     string            `json:"currency"`
	ChartVersion string            `json:"chart_version"`
	Rows         []*TrialBalanceRow `json:"rows"`
	TotalDebits  decimal.Decimal   `json:"total_debits"`
	TotalCredits decimal.Decimal   `json:"total_credits"`
	Balanced     bool              `json:"balanced"`
}

// BalanceSheet partitions asset, liability and equity balances.
// Asserts assets == liabilities + equity.
type BalanceSheet struct {
	AsOf             time.Time          `json:"as_of"`
	Currency         string             `json:"currency"`
	Assets           []*TrialBalanceRow `json:"assets"`
	Liabilities      []*TrialBalanceRow `json:"liabilities"`
	Equity           []*TrialBalanceRow `json:"equity"`
	TotalAssets      decimal.Decimal    `json:"total_assets"`
	TotalLiabilities decimal.Decimal    `json:"total_liabilities"`
	TotalEquity      decimal.Decimal    `json:"total_equity"`
	Balanced         bool               `json:"balanced"`
}

// IncomeStatement sums revenue and expense activity strictly within the
// period. NetIncome = revenue - expenses.
type IncomeStatement struct {
	PeriodStart   time.Time          `json:"period_start"`
	PeriodEnd     time.Time          `json:"period_end"`
	Currency      string             `json:"currency"`
	Revenue       []*TrialBalanceRow `json:"revenue"`
	Expenses      []*TrialBalanceRow `json:"expenses"`
	TotalRevenue  decimal.Decimal    `json:"total_revenue"`
	TotalExpenses decimal.Decimal    `json:"total_expenses"`
	NetIncome     decimal.Decimal    `json:"net_income"`
}

// Reconciliation compares an internally derived balance against an external
// source of truth, e.g. a custodial bank statement.
type Reconciliation struct {
	AccountName     string          `json:"account_name"`
	Currency        string          `json:"currency"`
	AsOf            time.Time       `json:"as_of"`
	InternalBalance decimal.Decimal `json:"internal_balance"`
	ExternalBalance decimal.Decimal `json:"external_balance"`
	Difference      decimal.Decimal `json:"difference"`
	VariancePercent decimal.Decimal `json:"variance_percent"`
	Matched         bool            `json:"matched"`
}

// AccountStatement is a period statement for one balance account: opening
// and closing balances plus the transactions in between.
type AccountStatement struct {
	AccountID      string          `json:"account_id"`
	Currency       string          `json:"currency"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	TotalDebits    decimal.Decimal `json:"total_debits"`
	TotalCredits   decimal.Decimal `json:"total_credits"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	Transactions   []*Transaction  `json:"transactions"`
}
