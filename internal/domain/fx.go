package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeRate is a cached lookup aid, not an authoritative financial
// record. Staleness is bounded by the conversion service's TTL.
type ExchangeRate struct {
	Base      string          `json:"base_currency"`
	Quote     string          `json:"quote_currency"`
	Rate      decimal.Decimal `json:"rate"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Pair returns the cache key for the rate.
func (r *ExchangeRate) Pair() string {
	return r.Base + "/" + r.Quote
}

// ConversionQuote is the priced result of a currency conversion: the
// converted amount for the credit side and amount + fee for the debit side.
type ConversionQuote struct {
	From      string          `json:"from_currency"`
	To        string          `json:"to_currency"`
	Rate      decimal.Decimal `json:"rate"`
	Converted Money           `json:"converted_amount"`
	Fee       Money           `json:"fee"`
	TotalCost Money           `json:"total_cost"`
	Degraded  bool            `json:"degraded,omitempty"`
}
