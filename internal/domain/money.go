package domain

import (
	"fmt"

	"settlement-service/internal/xerrors"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies are ISO 4217 currencies without minor units.
// Amounts in these currencies round to whole units.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "ISK": true,
	"JPY": true, "KMF": true, "KRW": true, "PYG": true, "RWF": true,
	"UGX": true, "UYI": true, "VND": true, "VUV": true, "XAF": true,
	"XOF": true, "XPF": true,
}

// MinorUnits returns the number of decimal places for a currency.
func MinorUnits(currency string) int32 {
	if zeroDecimalCurrencies[currency] {
		return 0
	}
	return 2
}

// Money is a fixed-point decimal amount in one currency. All monetary
// arithmetic in the service goes through this type; binary floating point
// is never used for money.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney builds a Money rounded to the currency's minor units
// (half away from zero).
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{
		Amount:   amount.Round(MinorUnits(currency)),
		Currency: currency,
	}
}

// MoneyFromString parses a decimal string amount.
func MoneyFromString(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", amount, xerrors.ErrInvalidInput)
	}
	return NewMoney(d, currency), nil
}

func ZeroMoney(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%s + %s: %w", m.Currency, other.Currency, xerrors.ErrCurrencyMismatch)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%s - %s: %w", m.Currency, other.Currency, xerrors.ErrCurrencyMismatch)
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// MulRate converts the amount into the target currency at the given rate,
// rounded per the target currency's minor units.
func (m Money) MulRate(rate decimal.Decimal, targetCurrency string) Money {
	return NewMoney(m.Amount.Mul(rate), targetCurrency)
}

// Percent returns the given percentage of the amount, rounded per the
// currency's minor units.
func (m Money) Percent(pct decimal.Decimal) Money {
	return NewMoney(m.Amount.Mul(pct).Div(decimal.NewFromInt(100)), m.Currency)
}

func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

func (m Money) Abs() Money {
	return Money{Amount: m.Amount.Abs(), Currency: m.Currency}
}

// Cmp compares amounts; currencies must already match.
func (m Money) Cmp(other Money) int {
	return m.Amount.Cmp(other.Amount)
}

func (m Money) IsZero() bool     { return m.Amount.IsZero() }
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

func (m Money) String() string {
	return m.Amount.StringFixed(MinorUnits(m.Currency)) + " " + m.Currency
}
