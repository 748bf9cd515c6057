package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// JournalUsecase is the integrity core: it validates balanced entry sets
// and posts them through the settlement store as one atomic batch.
// Entries are append-only; corrections are posted as offsetting entries.
type JournalUsecase struct {
	store       repository.SettlementStore
	ledgerRepo  repository.LedgerRepository
	chart       *domain.ChartOfAccounts
	redisClient *redis.Client
	logger      *zap.Logger
}

func NewJournalUsecase(
	store repository.SettlementStore,
	ledgerRepo repository.LedgerRepository,
	chart *domain.ChartOfAccounts,
	redisClient *redis.Client,
	logger *zap.Logger,
) *JournalUsecase {
	return &JournalUsecase{
		store:       store,
		ledgerRepo:  ledgerRepo,
		chart:       chart,
		redisClient: redisClient,
		logger:      logger,
	}
}

// Post validates and persists a standalone journal entry batch, e.g. a
// manual adjustment. Every line must resolve in the chart of accounts and
// debits must equal credits per currency; on any mismatch nothing is
// written. Returns the adjustment transaction the batch was filed under.
func (uc *JournalUsecase) Post(ctx context.Context, lines []*domain.EntryLine, reference *string, idempotencyKey *string) (*domain.SettlementResult, error) {
	if err := domain.ValidateEntryLines(uc.chart, lines); err != nil {
		// An unbalanced batch is an internal-consistency bug, not a
		// business outcome. Surface loudly and never retry.
		uc.logger.Error("rejected journal batch", zap.Int("lines", len(lines)), zap.Error(err))
		return nil, err
	}

	result, err := uc.store.ExecuteSettlement(ctx, &domain.SettlementRequest{
		IdempotencyKey: idempotencyKey,
		Reference:      reference,
		Units: []*domain.SettlementUnit{
			{Entries: lines},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to post journal batch: %w", err)
	}
	return result, nil
}

// GetByTransaction retrieves the journal entries posted under one
// transaction id, with caching. Entries never change once written, so the
// cache window is generous.
func (uc *JournalUsecase) GetByTransaction(ctx context.Context, transactionID string) ([]*domain.LedgerEntry, error) {
	cacheKey := fmt.Sprintf("ledger:txn:%s", transactionID)

	if uc.redisClient != nil {
		if val, err := uc.redisClient.Get(ctx, cacheKey).Result(); err == nil {
			var entries []*domain.LedgerEntry
			if jsonErr := json.Unmarshal([]byte(val), &entries); jsonErr == nil {
				return entries, nil
			}
		}
	}

	entries, err := uc.ledgerRepo.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entries: %w", err)
	}

	if uc.redisClient != nil && len(entries) > 0 {
		if data, err := json.Marshal(entries); err == nil {
			_ = uc.redisClient.Set(ctx, cacheKey, data, 1*time.Hour).Err()
		}
	}

	return entries, nil
}

// ListEntries returns entries matching the filter in posting order.
func (uc *JournalUsecase) ListEntries(ctx context.Context, filter *domain.EntryFilter) ([]*domain.LedgerEntry, error) {
	if filter == nil || filter.Currency == "" {
		return nil, fmt.Errorf("currency is required")
	}
	entries, err := uc.ledgerRepo.ListEntries(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}
