package domain

import (
	"fmt"
	"sort"

	"settlement-service/internal/xerrors"
)

// AccountCategory classifies a chart-of-accounts entry for reporting.
type AccountCategory string

const (
	CategoryAsset     AccountCategory = "asset"
	CategoryLiability AccountCategory = "liability"
	CategoryEquity    AccountCategory = "equity"
	CategoryRevenue   AccountCategory = "revenue"
	CategoryExpense   AccountCategory = "expense"
)

func (c AccountCategory) Valid() bool {
	switch c {
	case CategoryAsset, CategoryLiability, CategoryEquity, CategoryRevenue, CategoryExpense:
		return true
	}
	return false
}

// NaturalSide returns the side on which the category normally carries its
// balance: assets and expenses are debit-natural, the rest credit-natural.
func (c AccountCategory) NaturalSide() EntrySide {
	if c == CategoryAsset || c == CategoryExpense {
		return SideDebit
	}
	return SideCredit
}

// EntrySide is the debit/credit marker on a ledger entry.
type EntrySide string

const (
	SideDebit  EntrySide = "DR"
	SideCredit EntrySide = "CR"
)

func (s EntrySide) Valid() bool {
	return s == SideDebit || s == SideCredit
}

func (s EntrySide) Opposite() EntrySide {
	if s == SideDebit {
		return SideCredit
	}
	return SideDebit
}

// Chart-of-accounts keys used by the settlement orchestrator.
const (
	ChartCash             = "cash"
	ChartClearing         = "settlement_clearing"
	ChartCustomerDeposits = "customer_deposits"
	ChartFeeRevenue       = "fee_revenue"
	ChartFXRevenue        = "fx_revenue"
	ChartInterestExpense  = "interest_expense"
	ChartOperatingExpense = "operating_expense"
	ChartRetainedEarnings = "retained_earnings"
)

type ChartAccount struct {
	Name        string          `json:"name"`
	Category    AccountCategory `json:"category"`
	Description string          `json:"description,omitempty"`
}

// ChartOfAccounts is the immutable account registry loaded at startup.
// Every ledger entry's account name must resolve here.
type ChartOfAccounts struct {
	version  string
	accounts map[string]*ChartAccount
	names    []string
}

func NewChartOfAccounts(version string, accounts []*ChartAccount) (*ChartOfAccounts, error) {
	chart := &ChartOfAccounts{
		version:  version,
		accounts: make(map[string]*ChartAccount, len(accounts)),
	}
	for _, a := range accounts {
		if a.Name == "" || !a.Category.Valid() {
			return nil, fmt.Errorf("invalid chart account %q: %w", a.Name, xerrors.ErrInvalidInput)
		}
		if _, dup := chart.accounts[a.Name]; dup {
			return nil, fmt.Errorf("duplicate chart account %q: %w", a.Name, xerrors.ErrInvalidInput)
		}
		chart.accounts[a.Name] = a
		chart.names = append(chart.names, a.Name)
	}
	sort.Strings(chart.names)
	return chart, nil
}

func (c *ChartOfAccounts) Version() string {
	return c.version
}

// Lookup resolves an account name.
func (c *ChartOfAccounts) Lookup(name string) (*ChartAccount, error) {
	account, ok := c.accounts[name]
	if !ok {
		return nil, fmt.Errorf("chart account %q: %w", name, xerrors.ErrInvalidAccount)
	}
	return account, nil
}

// Names returns all account names in stable order.
func (c *ChartOfAccounts) Names() []string {
	return c.names
}

// DefaultChart is the built-in chart the service ships with.
func DefaultChart() *ChartOfAccounts {
	chart, err := NewChartOfAccounts("v1", []*ChartAccount{
		{Name: ChartCash, Category: CategoryAsset, Description: "Cash and wallet float"},
		{Name: ChartClearing, Category: CategoryAsset, Description: "In-flight settlement clearing"},
		{Name: ChartCustomerDeposits, Category: CategoryLiability, Description: "Customer deposit liabilities"},
		{Name: ChartFeeRevenue, Category: CategoryRevenue, Description: "Transaction and conversion fees"},
		{Name: ChartFXRevenue, Category: CategoryRevenue, Description: "Realized conversion spread"},
		{Name: ChartInterestExpense, Category: CategoryExpense, Description: "Interest paid on balances"},
		{Name: ChartOperatingExpense, Category: CategoryExpense, Description: "Operating costs"},
		{Name: ChartRetainedEarnings, Category: CategoryEquity, Description: "Accumulated earnings"},
	})
	if err != nil {
		panic(err)
	}
	return chart
}
