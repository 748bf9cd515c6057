package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/pub"
	"settlement-service/internal/repository"
	"settlement-service/internal/xerrors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SettlementUsecase composes balance mutation, currency conversion and
// journal posting into atomic operations. Each operation either leaves a
// completed transaction with balanced ledger entries, or nothing.
type SettlementUsecase struct {
	store           repository.SettlementStore
	accountRepo     repository.AccountRepository
	transactionRepo repository.TransactionRepository
	ledgerRepo      repository.LedgerRepository
	fx              *FXUsecase
	publisher       *pub.AuditPublisher
	redisClient     *redis.Client
	logger          *zap.Logger
}

func NewSettlementUsecase(
	store repository.SettlementStore,
	accountRepo repository.AccountRepository,
	transactionRepo repository.TransactionRepository,
	ledgerRepo repository.LedgerRepository,
	fx *FXUsecase,
	publisher *pub.AuditPublisher,
	redisClient *redis.Client,
	logger *zap.Logger,
) *SettlementUsecase {
	return &SettlementUsecase{
		store:           store,
		accountRepo:     accountRepo,
		transactionRepo: transactionRepo,
		ledgerRepo:      ledgerRepo,
		fx:              fx,
		publisher:       publisher,
		redisClient:     redisClient,
		logger:          logger,
	}
}

// ===============================
// OPERATIONS
// ===============================

// Deposit credits the account and posts the matching journal entry:
// debit cash (asset up), credit customer deposits (liability up).
func (uc *SettlementUsecase) Deposit(ctx context.Context, accountID string, amount domain.Money, idempotencyKey *string) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("deposit amount must be positive: %w", xerrors.ErrInvalidInput)
	}

	req := &domain.SettlementRequest{
		IdempotencyKey: idempotencyKey,
		Units: []*domain.SettlementUnit{{
			Leg: &domain.SettlementLeg{
				AccountID: accountID,
				Side:      domain.SideCredit,
				Amount:    amount,
				Type:      domain.TransactionTypeCredit,
			},
			Entries: []*domain.EntryLine{
				{AccountName: domain.ChartCash, Side: domain.SideDebit, Amount: amount},
				{AccountName: domain.ChartCustomerDeposits, Side: domain.SideCredit, Amount: amount},
			},
		}},
	}

	result, err := uc.execute(ctx, "deposit", accountID, amount.Currency, req)
	if err != nil {
		return nil, err
	}
	return result.Transactions[0], nil
}

// Withdraw debits the account subject to funds and limit checks.
func (uc *SettlementUsecase) Withdraw(ctx context.Context, accountID string, amount domain.Money, idempotencyKey *string) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("withdrawal amount must be positive: %w", xerrors.ErrInvalidInput)
	}

	req := &domain.SettlementRequest{
		IdempotencyKey: idempotencyKey,
		Units: []*domain.SettlementUnit{{
			Leg: &domain.SettlementLeg{
				AccountID: accountID,
				Side:      domain.SideDebit,
				Amount:    amount,
				Type:      domain.TransactionTypeDebit,
			},
			Entries: []*domain.EntryLine{
				{AccountName: domain.ChartCustomerDeposits, Side: domain.SideDebit, Amount: amount},
				{AccountName: domain.ChartCash, Side: domain.SideCredit, Amount: amount},
			},
		}},
	}

	result, err := uc.execute(ctx, "withdraw", accountID, amount.Currency, req)
	if err != nil {
		return nil, err
	}
	return result.Transactions[0], nil
}

// Transfer moves value between two accounts as one atomic settlement with
// two linked legs. When currencies differ the source pays amount plus the
// conversion fee and the destination receives the converted net amount;
// journal entries balance within each currency independently, with the
// conversion spread booked as realized FX revenue.
func (uc *SettlementUsecase) Transfer(ctx context.Context, sourceID, destinationID string, amount domain.Money, idempotencyKey *string) (*domain.Transaction, *domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, nil, fmt.Errorf("transfer amount must be positive: %w", xerrors.ErrInvalidInput)
	}
	if sourceID == destinationID {
		return nil, nil, fmt.Errorf("source and destination must differ: %w", xerrors.ErrInvalidInput)
	}

	source, err := uc.accountRepo.GetByID(ctx, sourceID)
	if err != nil {
		return nil, nil, fmt.Errorf("account %s: %w", sourceID, xerrors.ErrInvalidAccount)
	}
	destination, err := uc.accountRepo.GetByID(ctx, destinationID)
	if err != nil {
		return nil, nil, fmt.Errorf("account %s: %w", destinationID, xerrors.ErrInvalidAccount)
	}
	if amount.Currency != source.Currency {
		return nil, nil, fmt.Errorf("transfer currency %s vs source %s: %w",
			amount.Currency, source.Currency, xerrors.ErrCurrencyMismatch)
	}

	var req *domain.SettlementRequest
	if source.Currency == destination.Currency {
		req = uc.buildSameCurrencyTransfer(source, destination, amount, idempotencyKey)
	} else {
		quote, err := uc.fx.Convert(ctx, amount, destination.Currency)
		if err != nil {
			uc.publisher.PublishFailed(ctx, "transfer", sourceID, amount.Currency, err)
			return nil, nil, err
		}
		req, err = uc.buildCrossCurrencyTransfer(source, destination, amount, quote, idempotencyKey)
		if err != nil {
			return nil, nil, err
		}
	}

	result, err := uc.execute(ctx, "transfer", sourceID, amount.Currency, req)
	if err != nil {
		return nil, nil, err
	}
	return result.Transactions[0], result.Transactions[1], nil
}

func (uc *SettlementUsecase) buildSameCurrencyTransfer(source, destination *domain.Account, amount domain.Money, idempotencyKey *string) *domain.SettlementRequest {
	return &domain.SettlementRequest{
		IdempotencyKey: idempotencyKey,
		Units: []*domain.SettlementUnit{
			{
				Leg: &domain.SettlementLeg{
					AccountID:      source.ID,
					Side:           domain.SideDebit,
					Amount:         amount,
					Type:           domain.TransactionTypeTransfer,
					CounterpartyID: &destination.ID,
				},
				Entries: []*domain.EntryLine{
					{AccountName: domain.ChartCustomerDeposits, Side: domain.SideDebit, Amount: amount},
					{AccountName: domain.ChartClearing, Side: domain.SideCredit, Amount: amount},
				},
			},
			{
				Leg: &domain.SettlementLeg{
					AccountID:      destination.ID,
					Side:           domain.SideCredit,
					Amount:         amount,
					Type:           domain.TransactionTypeTransfer,
					CounterpartyID: &source.ID,
				},
				Entries: []*domain.EntryLine{
					{AccountName: domain.ChartClearing, Side: domain.SideDebit, Amount: amount},
					{AccountName: domain.ChartCustomerDeposits, Side: domain.SideCredit, Amount: amount},
				},
			},
		},
	}
}

func (uc *SettlementUsecase) buildCrossCurrencyTransfer(source, destination *domain.Account, amount domain.Money, quote *domain.ConversionQuote, idempotencyKey *string) (*domain.SettlementRequest, error) {
	// Source currency side: the account pays amount + fee; the fee is
	// recognized as revenue and the principal moves through clearing.
	sourceEntries := []*domain.EntryLine{
		{AccountName: domain.ChartCustomerDeposits, Side: domain.SideDebit, Amount: quote.TotalCost},
		{AccountName: domain.ChartClearing, Side: domain.SideCredit, Amount: amount},
	}
	if quote.Fee.IsPositive() {
		sourceEntries = append(sourceEntries,
			&domain.EntryLine{AccountName: domain.ChartFeeRevenue, Side: domain.SideCredit, Amount: quote.Fee})
	}

	// Destination currency side: clearing receives the gross conversion of
	// the principal; the spread between gross and the net amount delivered
	// is realized FX revenue.
	gross := uc.fx.GrossConverted(amount, quote)
	spread, err := gross.Sub(quote.Converted)
	if err != nil {
		return nil, err
	}
	destEntries := []*domain.EntryLine{
		{AccountName: domain.ChartClearing, Side: domain.SideDebit, Amount: gross},
		{AccountName: domain.ChartCustomerDeposits, Side: domain.SideCredit, Amount: quote.Converted},
	}
	if spread.IsPositive() {
		destEntries = append(destEntries,
			&domain.EntryLine{AccountName: domain.ChartFXRevenue, Side: domain.SideCredit, Amount: spread})
	}

	return &domain.SettlementRequest{
		IdempotencyKey: idempotencyKey,
		Units: []*domain.SettlementUnit{
			{
				Leg: &domain.SettlementLeg{
					AccountID:      source.ID,
					Side:           domain.SideDebit,
					Amount:         quote.TotalCost,
					Type:           domain.TransactionTypeTransfer,
					CounterpartyID: &destination.ID,
				},
				Entries: sourceEntries,
			},
			{
				Leg: &domain.SettlementLeg{
					AccountID:      destination.ID,
					Side:           domain.SideCredit,
					Amount:         quote.Converted,
					Type:           domain.TransactionTypeTransfer,
					CounterpartyID: &source.ID,
				},
				Entries: destEntries,
			},
		},
	}, nil
}

// Reverse undoes a completed transaction: the original is marked reversed,
// a new transaction records the negated amount, and offsetting journal
// entries are posted. Legs of a paired transfer are reversed individually.
func (uc *SettlementUsecase) Reverse(ctx context.Context, transactionID, reason string) (*domain.Transaction, error) {
	original, err := uc.transactionRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if original.Status != domain.TransactionStatusCompleted {
		return nil, fmt.Errorf("%s -> %s: %w",
			original.Status, domain.TransactionStatusReversed, xerrors.ErrInvalidStateTransition)
	}

	originalEntries, err := uc.ledgerRepo.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	offsetting := make([]*domain.EntryLine, 0, len(originalEntries))
	for _, e := range originalEntries {
		offsetting = append(offsetting, &domain.EntryLine{
			AccountName: e.AccountName,
			Side:        e.Side.Opposite(),
			Amount:      e.Amount,
		})
	}

	unit := &domain.SettlementUnit{Entries: offsetting}
	if original.AccountID != "" {
		// Undo the balance movement: a debit is reversed by a credit of the
		// same magnitude.
		side := domain.SideCredit
		if original.BalanceAfter.Amount.GreaterThan(original.BalanceBefore.Amount) {
			side = domain.SideDebit
		}
		unit.Leg = &domain.SettlementLeg{
			AccountID:      original.AccountID,
			Side:           side,
			Amount:         original.Amount.Abs(),
			Type:           original.Type,
			CounterpartyID: original.CounterpartyID,
			Description:    &reason,
		}
	}

	req := &domain.SettlementRequest{
		Units:     []*domain.SettlementUnit{unit},
		ReverseOf: &transactionID,
		Reference: &reason,
	}

	result, err := uc.execute(ctx, "reverse", original.AccountID, original.Amount.Currency, req)
	if err != nil {
		return nil, err
	}
	return result.Transactions[0], nil
}

// ConvertQuote prices a conversion without moving money.
func (uc *SettlementUsecase) ConvertQuote(ctx context.Context, amount domain.Money, toCurrency string) (*domain.ConversionQuote, error) {
	return uc.fx.Convert(ctx, amount, toCurrency)
}

// GetAccountBalance returns the account's balance snapshot, cached
// briefly; settlements invalidate the cache on commit.
func (uc *SettlementUsecase) GetAccountBalance(ctx context.Context, accountID string) (*domain.BalanceSnapshot, error) {
	cacheKey := fmt.Sprintf("balance:account:%s", accountID)

	if uc.redisClient != nil {
		if val, err := uc.redisClient.Get(ctx, cacheKey).Result(); err == nil {
			var snapshot domain.BalanceSnapshot
			if jsonErr := json.Unmarshal([]byte(val), &snapshot); jsonErr == nil {
				return &snapshot, nil
			}
		}
	}

	account, err := uc.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", accountID, xerrors.ErrInvalidAccount)
	}

	snapshot := &domain.BalanceSnapshot{
		AccountID: account.ID,
		Balance:   account.Balance,
		Available: account.Available,
		Pending:   account.Pending,
		Version:   account.Version,
		AsOf:      account.UpdatedAt,
	}

	if uc.redisClient != nil {
		if data, err := json.Marshal(snapshot); err == nil {
			_ = uc.redisClient.Set(ctx, cacheKey, data, 30*time.Second).Err()
		}
	}

	return snapshot, nil
}

// GetTransaction returns a transaction with its journal entries.
func (uc *SettlementUsecase) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, []*domain.LedgerEntry, error) {
	txn, err := uc.transactionRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}
	entries, err := uc.ledgerRepo.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}
	return txn, entries, nil
}

// ListTransactions returns transactions matching the filter, newest first.
func (uc *SettlementUsecase) ListTransactions(ctx context.Context, filter *domain.TransactionFilter) ([]*domain.Transaction, error) {
	if filter == nil {
		filter = &domain.TransactionFilter{}
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}
	return uc.transactionRepo.List(ctx, filter)
}

// ===============================
// EXECUTION
// ===============================

func (uc *SettlementUsecase) execute(ctx context.Context, operation, accountID, currency string, req *domain.SettlementRequest) (*domain.SettlementResult, error) {
	result, err := uc.store.ExecuteSettlement(ctx, req)
	if err != nil {
		uc.logger.Warn("settlement rejected",
			zap.String("operation", operation),
			zap.String("account_id", accountID),
			zap.Error(err))
		uc.publisher.PublishFailed(ctx, operation, accountID, currency, err)
		return nil, err
	}

	uc.logger.Info("settlement committed",
		zap.String("operation", operation),
		zap.Int("transactions", len(result.Transactions)),
		zap.Int("entries", len(result.Entries)))

	uc.publisher.PublishCommitted(ctx, operation, result)
	uc.invalidateBalanceCaches(ctx, req)
	return result, nil
}

func (uc *SettlementUsecase) invalidateBalanceCaches(ctx context.Context, req *domain.SettlementRequest) {
	if uc.redisClient == nil {
		return
	}
	for _, id := range req.AccountIDs() {
		_ = uc.redisClient.Del(ctx, fmt.Sprintf("balance:account:%s", id)).Err()
		_ = uc.redisClient.Del(ctx, fmt.Sprintf("accounts:id:%s", id)).Err()
	}
}
