package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"
	"settlement-service/internal/xerrors"
	"settlement-service/pkg/utils"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type AccountUsecase struct {
	accountRepo repository.AccountRepository
	ids         *utils.IDGenerator
	redisClient *redis.Client
	logger      *zap.Logger
}

func NewAccountUsecase(
	accountRepo repository.AccountRepository,
	ids *utils.IDGenerator,
	redisClient *redis.Client,
	logger *zap.Logger,
) *AccountUsecase {
	return &AccountUsecase{
		accountRepo: accountRepo,
		ids:         ids,
		redisClient: redisClient,
		logger:      logger,
	}
}

// Create opens an active account with zero balances.
func (uc *AccountUsecase) Create(ctx context.Context, ownerID, currency string, limits domain.AccountLimits) (*domain.Account, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner_id is required: %w", xerrors.ErrInvalidInput)
	}
	if len(currency) != 3 {
		return nil, fmt.Errorf("currency must be a 3-letter ISO code: %w", xerrors.ErrInvalidInput)
	}
	if limits.PerTransaction.IsNegative() || limits.Daily.IsNegative() || limits.Monthly.IsNegative() {
		return nil, fmt.Errorf("limits must not be negative: %w", xerrors.ErrInvalidInput)
	}

	account := domain.NewAccount(uc.ids.AccountID(), ownerID, currency, limits)
	if err := uc.accountRepo.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	uc.logger.Info("account created",
		zap.String("account_id", account.ID),
		zap.String("owner_id", ownerID),
		zap.String("currency", currency))
	return account, nil
}

// GetByID retrieves an account with caching.
func (uc *AccountUsecase) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	cacheKey := fmt.Sprintf("accounts:id:%s", id)

	if uc.redisClient != nil {
		if val, err := uc.redisClient.Get(ctx, cacheKey).Result(); err == nil {
			var account domain.Account
			if jsonErr := json.Unmarshal([]byte(val), &account); jsonErr == nil {
				return &account, nil
			}
		}
	}

	account, err := uc.accountRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if uc.redisClient != nil {
		if data, err := json.Marshal(account); err == nil {
			_ = uc.redisClient.Set(ctx, cacheKey, data, 5*time.Minute).Err()
		}
	}

	return account, nil
}

// List retrieves accounts matching the filter.
func (uc *AccountUsecase) List(ctx context.Context, filter *domain.AccountFilter) ([]*domain.Account, error) {
	accounts, err := uc.accountRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// UpdateStatus changes the account lifecycle state. A non-active account
// rejects settlements until reactivated.
func (uc *AccountUsecase) UpdateStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid account status %q: %w", status, xerrors.ErrInvalidInput)
	}

	if err := uc.accountRepo.UpdateStatus(ctx, id, status); err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}

	if uc.redisClient != nil {
		_ = uc.redisClient.Del(ctx, fmt.Sprintf("accounts:id:%s", id)).Err()
		_ = uc.redisClient.Del(ctx, fmt.Sprintf("balance:account:%s", id)).Err()
	}

	uc.logger.Info("account status updated",
		zap.String("account_id", id),
		zap.String("status", string(status)))
	return nil
}
