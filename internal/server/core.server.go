package server

import (
	"context"
	"net/http"
	"time"

	"settlement-service/internal/config"
	"settlement-service/internal/domain"
	hrest "settlement-service/internal/handler/rest"
	"settlement-service/internal/pub"
	"settlement-service/internal/repository"
	"settlement-service/internal/usecase"
	"settlement-service/pkg/utils"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Server owns the wired service graph and the HTTP listener.
type Server struct {
	httpServer *http.Server
	publisher  *pub.AuditPublisher
	logger     *zap.Logger
}

// New builds the full service: postgres-backed repositories, the default
// chart of accounts, usecases, audit publisher and REST surface.
func New(cfg config.AppConfig, logger *zap.Logger) (*Server, error) {
	dbpool, err := config.ConnectDB(logger)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       0,
	})

	chart := domain.DefaultChart()
	ids := utils.NewIDGenerator()

	// Repositories
	accountRepo := repository.NewAccountRepo(dbpool)
	transactionRepo := repository.NewTransactionRepo(dbpool)
	ledgerRepo := repository.NewLedgerRepo(dbpool)
	rateRepo := repository.NewFXRepo(dbpool)
	store := repository.NewSettlementRepo(dbpool, chart, ids, ledgerRepo)

	// Publisher
	publisher := pub.NewAuditPublisher(pub.NewAuditWriter(cfg.KafkaBrokers), rdb, logger)

	// Usecases
	fxOpts := []usecase.FXOption{usecase.WithRateTTL(cfg.RateTTL)}
	if pct, err := decimal.NewFromString(cfg.RateFeePercent); err == nil {
		fxOpts = append(fxOpts, usecase.WithFeePercent(pct))
	} else {
		logger.Warn("invalid RATE_FEE_PERCENT, using default",
			zap.String("value", cfg.RateFeePercent))
	}
	fxUC := usecase.NewFXUsecase(usecase.NewHTTPRateProvider(cfg.RateFeedURL), rateRepo, logger, fxOpts...)
	accountUC := usecase.NewAccountUsecase(accountRepo, ids, rdb, logger)
	journalUC := usecase.NewJournalUsecase(store, ledgerRepo, chart, rdb, logger)
	settlementUC := usecase.NewSettlementUsecase(
		store, accountRepo, transactionRepo, ledgerRepo, fxUC, publisher, rdb, logger)
	reportUC := usecase.NewReportUsecase(ledgerRepo, transactionRepo, accountRepo, chart, rdb, logger)

	// REST surface
	router := hrest.NewRouter(
		hrest.NewSettlementRestHandler(settlementUC, accountUC, journalUC, logger),
		hrest.NewAccountRestHandler(accountUC, logger),
		hrest.NewReportRestHandler(reportUC, logger),
	)

	return &Server{
		httpServer: &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: router,
		},
		publisher: publisher,
		logger:    logger,
	}, nil
}

// Start blocks serving HTTP until the listener fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("settlement service listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the audit publisher.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return s.publisher.Close()
}
