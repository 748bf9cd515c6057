package domain

import (
	"errors"
	"testing"

	"settlement-service/internal/xerrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMoney_RoundsPerCurrency(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		amount   string
		currency string
		expected string
	}{
		{name: "two decimal currency rounds half up", amount: "84.575", currency: "EUR", expected: "84.58"},
		{name: "two decimal currency keeps cents", amount: "100.50", currency: "USD", expected: "100.5"},
		{name: "zero decimal currency rounds to unit", amount: "1000.4", currency: "JPY", expected: "1000"},
		{name: "zero decimal currency rounds up", amount: "999.5", currency: "KRW", expected: "1000"},
		{name: "negative rounds away from zero", amount: "-84.575", currency: "USD", expected: "-84.58"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := decimal.RequireFromString(tt.amount)
			m := NewMoney(d, tt.currency)
			assert.Equal(t, tt.expected, m.Amount.String())
		})
	}
}

func TestMinorUnits(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int32(2), MinorUnits("USD"))
	assert.Equal(t, int32(2), MinorUnits("EUR"))
	assert.Equal(t, int32(0), MinorUnits("JPY"))
	assert.Equal(t, int32(0), MinorUnits("VND"))
}

func TestMoney_AddSub_CurrencyMismatch(t *testing.T) {
	t.Parallel()

	usd, err := MoneyFromString("10.00", "USD")
	require.NoError(t, err)
	eur, err := MoneyFromString("10.00", "EUR")
	require.NoError(t, err)

	_, err = usd.Add(eur)
	assert.True(t, errors.Is(err, xerrors.ErrCurrencyMismatch))

	_, err = usd.Sub(eur)
	assert.True(t, errors.Is(err, xerrors.ErrCurrencyMismatch))

	sum, err := usd.Add(usd)
	require.NoError(t, err)
	assert.Equal(t, "20", sum.Amount.String())
}

func TestMoney_Percent(t *testing.T) {
	t.Parallel()

	amount, err := MoneyFromString("100.00", "USD")
	require.NoError(t, err)

	fee := amount.Percent(decimal.RequireFromString("0.5"))
	assert.Equal(t, "0.5", fee.Amount.String())
	assert.Equal(t, "USD", fee.Currency)

	// Zero-decimal currency fee rounds to whole units.
	jpy, err := MoneyFromString("10000", "JPY")
	require.NoError(t, err)
	jpyFee := jpy.Percent(decimal.RequireFromString("0.5"))
	assert.Equal(t, "50", jpyFee.Amount.String())
}

func TestMoney_MulRate(t *testing.T) {
	t.Parallel()

	amount, err := MoneyFromString("99.50", "USD")
	require.NoError(t, err)

	converted := amount.MulRate(decimal.RequireFromString("0.85"), "EUR")
	assert.Equal(t, "84.58", converted.Amount.String())
	assert.Equal(t, "EUR", converted.Currency)

	toJPY := amount.MulRate(decimal.RequireFromString("150.1"), "JPY")
	assert.Equal(t, "14935", toJPY.Amount.String())
}

func TestMoneyFromString_Invalid(t *testing.T) {
	t.Parallel()

	_, err := MoneyFromString("not-a-number", "USD")
	assert.True(t, errors.Is(err, xerrors.ErrInvalidInput))
}

func TestMoney_Predicates(t *testing.T) {
	t.Parallel()

	zero := ZeroMoney("USD")
	assert.True(t, zero.IsZero())
	assert.False(t, zero.IsPositive())

	pos, _ := MoneyFromString("1.00", "USD")
	assert.True(t, pos.IsPositive())
	assert.True(t, pos.Neg().IsNegative())
	assert.Equal(t, 0, pos.Neg().Abs().Cmp(pos))
}
