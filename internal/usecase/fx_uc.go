package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"
	"settlement-service/internal/xerrors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// DefaultRateTTL bounds how stale a cached rate may be before a
	// refresh is attempted.
	DefaultRateTTL = 5 * time.Minute

	// DefaultFeePercent is the conversion fee, as a percentage of the
	// source amount.
	DefaultFeePercent = "0.5"
)

// RateProvider is the external exchange-rate feed.
type RateProvider interface {
	FetchRate(ctx context.Context, base, quote string) (*domain.ExchangeRate, error)
}

// ===============================
// HTTP RATE PROVIDER
// ===============================

// HTTPRateProvider fetches rates from an openexchangerates-style JSON feed:
// GET {baseURL}/latest.json?base=USD -> {"rates": {"EUR": 0.85, ...}, "timestamp": ...}
type HTTPRateProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPRateProvider(baseURL string) *HTTPRateProvider {
	return &HTTPRateProvider{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (p *HTTPRateProvider) FetchRate(ctx context.Context, base, quote string) (*domain.ExchangeRate, error) {
	url := fmt.Sprintf("%s/latest.json?base=%s", p.baseURL, base)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build rate request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate feed returned status %d", resp.StatusCode)
	}

	var data struct {
		Rates     map[string]decimal.Decimal `json:"rates"`
		Timestamp int64                      `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode rates: %w", err)
	}

	rate, ok := data.Rates[quote]
	if !ok {
		return nil, fmt.Errorf("pair %s/%s: %w", base, quote, xerrors.ErrRateUnavailable)
	}

	fetchedAt := time.Unix(data.Timestamp, 0).UTC()
	if data.Timestamp == 0 {
		fetchedAt = time.Now().UTC()
	}

	return &domain.ExchangeRate{
		Base:      base,
		Quote:     quote,
		Rate:      rate,
		FetchedAt: fetchedAt,
	}, nil
}

// ===============================
// FX USECASE
// ===============================

// FXUsecase resolves exchange rates through an owned TTL cache and prices
// conversions. Refresh failures degrade to the last-known rate instead of
// failing the caller.
type FXUsecase struct {
	provider RateProvider
	rateRepo repository.RateRepository
	logger   *zap.Logger

	ttl        time.Duration
	feePercent decimal.Decimal

	// Now is the cache clock. Tests override it to drive expiry.
	Now func() time.Time

	mu    sync.RWMutex
	cache map[string]*domain.ExchangeRate
}

// FXOption configures the FX usecase at construction.
type FXOption func(*FXUsecase)

// WithRateTTL sets how long a cached rate is served before a refresh is
// attempted. Non-positive durations keep the default.
func WithRateTTL(ttl time.Duration) FXOption {
	return func(uc *FXUsecase) {
		if ttl > 0 {
			uc.ttl = ttl
		}
	}
}

// WithFeePercent sets the conversion fee as a percentage of the source
// amount. Negative values keep the default.
func WithFeePercent(pct decimal.Decimal) FXOption {
	return func(uc *FXUsecase) {
		if !pct.IsNegative() {
			uc.feePercent = pct
		}
	}
}

func NewFXUsecase(
	provider RateProvider,
	rateRepo repository.RateRepository,
	logger *zap.Logger,
	opts ...FXOption,
) *FXUsecase {
	uc := &FXUsecase{
		provider:   provider,
		rateRepo:   rateRepo,
		logger:     logger,
		ttl:        DefaultRateTTL,
		feePercent: decimal.RequireFromString(DefaultFeePercent),
		Now:        func() time.Time { return time.Now().UTC() },
		cache:      make(map[string]*domain.ExchangeRate),
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// GetRate resolves the rate for a pair. Same-currency pairs return rate 1
// without touching cache or feed. The degraded flag reports that a stale
// cached rate was served after a refresh failure.
func (uc *FXUsecase) GetRate(ctx context.Context, base, quote string) (*domain.ExchangeRate, bool, error) {
	if base == quote {
		return &domain.ExchangeRate{
			Base:      base,
			Quote:     quote,
			Rate:      decimal.NewFromInt(1),
			FetchedAt: uc.Now(),
		}, false, nil
	}

	key := base + "/" + quote

	uc.mu.RLock()
	cached := uc.cache[key]
	uc.mu.RUnlock()

	now := uc.Now()
	if cached != nil && now.Sub(cached.FetchedAt) < uc.ttl {
		return cached, false, nil
	}

	fresh, err := uc.provider.FetchRate(ctx, base, quote)
	if err == nil {
		uc.mu.Lock()
		uc.cache[key] = fresh
		uc.mu.Unlock()

		// Write-through for audit; failures don't block conversion.
		if uc.rateRepo != nil {
			if saveErr := uc.rateRepo.Save(ctx, fresh); saveErr != nil {
				uc.logger.Warn("failed to persist exchange rate",
					zap.String("pair", key), zap.Error(saveErr))
			}
		}
		return fresh, false, nil
	}

	// Refresh failed: degrade to last-known rate rather than failing.
	if cached != nil {
		uc.logger.Warn("rate refresh failed, serving stale rate",
			zap.String("pair", key),
			zap.Time("fetched_at", cached.FetchedAt),
			zap.Error(err))
		return cached, true, nil
	}

	// One retry against the persisted rates before giving up.
	if uc.rateRepo != nil {
		if stored, repoErr := uc.rateRepo.Latest(ctx, base, quote); repoErr == nil {
			uc.logger.Warn("rate feed unavailable, serving persisted rate",
				zap.String("pair", key),
				zap.Time("fetched_at", stored.FetchedAt),
				zap.Error(err))
			uc.mu.Lock()
			uc.cache[key] = stored
			uc.mu.Unlock()
			return stored, true, nil
		}
	}

	return nil, false, fmt.Errorf("pair %s: %w", key, xerrors.ErrRateUnavailable)
}

// Convert prices a conversion. The fee is a fixed percentage of the source
// amount; the converted amount is the net amount (source minus fee) at the
// resolved rate, rounded per the target currency; total cost is amount plus
// fee on the debit side.
func (uc *FXUsecase) Convert(ctx context.Context, amount domain.Money, to string) (*domain.ConversionQuote, error) {
	if amount.Currency == to {
		return &domain.ConversionQuote{
			From:      amount.Currency,
			To:        to,
			Rate:      decimal.NewFromInt(1),
			Converted: amount,
			Fee:       domain.ZeroMoney(amount.Currency),
			TotalCost: amount,
		}, nil
	}

	rate, degraded, err := uc.GetRate(ctx, amount.Currency, to)
	if err != nil {
		return nil, err
	}

	fee := amount.Percent(uc.feePercent)
	net, err := amount.Sub(fee)
	if err != nil {
		return nil, err
	}
	total, err := amount.Add(fee)
	if err != nil {
		return nil, err
	}

	return &domain.ConversionQuote{
		From:      amount.Currency,
		To:        to,
		Rate:      rate.Rate,
		Converted: net.MulRate(rate.Rate, to),
		Fee:       fee,
		TotalCost: total,
		Degraded:  degraded,
	}, nil
}

// GrossConverted returns the source amount at the quoted rate before the
// fee, rounded per the target currency. The settlement orchestrator books
// the difference between gross and net as realized conversion revenue.
func (uc *FXUsecase) GrossConverted(amount domain.Money, quote *domain.ConversionQuote) domain.Money {
	return amount.MulRate(quote.Rate, quote.To)
}
