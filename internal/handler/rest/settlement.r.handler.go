package hrest

import (
	"encoding/json"
	"errors"
	"net/http"

	"settlement-service/internal/domain"
	"settlement-service/internal/usecase"
	"settlement-service/internal/xerrors"
	"settlement-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type SettlementRestHandler struct {
	settlementUC *usecase.SettlementUsecase
	accountUC    *usecase.AccountUsecase
	journalUC    *usecase.JournalUsecase
	logger       *zap.Logger
}

func NewSettlementRestHandler(
	settlementUC *usecase.SettlementUsecase,
	accountUC *usecase.AccountUsecase,
	journalUC *usecase.JournalUsecase,
	logger *zap.Logger,
) *SettlementRestHandler {
	return &SettlementRestHandler{
		settlementUC: settlementUC,
		accountUC:    accountUC,
		journalUC:    journalUC,
		logger:       logger,
	}
}

// statusFor maps the error taxonomy onto HTTP statuses. Business rejections
// are 4xx; integrity violations and unknowns are 5xx.
func statusFor(err error) int {
	switch {
	case errors.Is(err, xerrors.ErrInvalidInput), errors.Is(err, xerrors.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, xerrors.ErrNotFound),
		errors.Is(err, xerrors.ErrInvalidAccount),
		errors.Is(err, xerrors.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, xerrors.ErrAccountInactive):
		return http.StatusForbidden
	case errors.Is(err, xerrors.ErrInsufficientFunds),
		errors.Is(err, xerrors.ErrLimitExceeded),
		errors.Is(err, xerrors.ErrCurrencyMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, xerrors.ErrInvalidStateTransition),
		errors.Is(err, xerrors.ErrDuplicateIdempotencyKey),
		errors.Is(err, xerrors.ErrVersionMismatch):
		return http.StatusConflict
	case errors.Is(err, xerrors.ErrRateUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *SettlementRestHandler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		msg = "internal server error"
	}
	response.Error(w, status, msg)
}

// ===============================
// SETTLEMENT OPERATIONS
// ===============================

type MovementJSON struct {
	AccountID      string  `json:"account_id"`
	Amount         string  `json:"amount"`
	Currency       string  `json:"currency"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
}

func (h *SettlementRestHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var in MovementJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := domain.MoneyFromString(in.Amount, in.Currency)
	if err != nil {
		h.writeError(w, err)
		return
	}

	txn, err := h.settlementUC.Deposit(r.Context(), in.AccountID, amount, in.IdempotencyKey)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, txn)
}

func (h *SettlementRestHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var in MovementJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := domain.MoneyFromString(in.Amount, in.Currency)
	if err != nil {
		h.writeError(w, err)
		return
	}

	txn, err := h.settlementUC.Withdraw(r.Context(), in.AccountID, amount, in.IdempotencyKey)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, txn)
}

type TransferJSON struct {
	SourceID       string  `json:"source_id"`
	DestinationID  string  `json:"destination_id"`
	Amount         string  `json:"amount"`
	Currency       string  `json:"currency"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
}

type TransferResultJSON struct {
	Source      *domain.Transaction `json:"source_transaction"`
	Destination *domain.Transaction `json:"destination_transaction"`
}

func (h *SettlementRestHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var in TransferJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := domain.MoneyFromString(in.Amount, in.Currency)
	if err != nil {
		h.writeError(w, err)
		return
	}

	src, dst, err := h.settlementUC.Transfer(r.Context(), in.SourceID, in.DestinationID, amount, in.IdempotencyKey)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, TransferResultJSON{Source: src, Destination: dst})
}

type ReverseJSON struct {
	Reason string `json:"reason"`
}

func (h *SettlementRestHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "id")

	var in ReverseJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.Reason == "" {
		response.Error(w, http.StatusBadRequest, "reason is required")
		return
	}

	txn, err := h.settlementUC.Reverse(r.Context(), transactionID, in.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, txn)
}

type ConvertJSON struct {
	Amount       string `json:"amount"`
	FromCurrency string `json:"from_currency"`
	ToCurrency   string `json:"to_currency"`
}

func (h *SettlementRestHandler) ConvertQuote(w http.ResponseWriter, r *http.Request) {
	var in ConvertJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := domain.MoneyFromString(in.Amount, in.FromCurrency)
	if err != nil {
		h.writeError(w, err)
		return
	}

	quote, err := h.settlementUC.ConvertQuote(r.Context(), amount, in.ToCurrency)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, quote)
}

func (h *SettlementRestHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	snapshot, err := h.settlementUC.GetAccountBalance(r.Context(), accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, snapshot)
}

// ===============================
// TRANSACTIONS
// ===============================

type TransactionWithEntriesJSON struct {
	Transaction *domain.Transaction   `json:"transaction"`
	Entries     []*domain.LedgerEntry `json:"ledger_entries"`
}

func (h *SettlementRestHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "id")

	txn, entries, err := h.settlementUC.GetTransaction(r.Context(), transactionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, TransactionWithEntriesJSON{Transaction: txn, Entries: entries})
}

func (h *SettlementRestHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter := &domain.TransactionFilter{}
	q := r.URL.Query()
	if v := q.Get("account_id"); v != "" {
		filter.AccountID = &v
	}
	if v := q.Get("status"); v != "" {
		status := domain.TransactionStatus(v)
		filter.Status = &status
	}
	if v := q.Get("type"); v != "" {
		txType := domain.TransactionType(v)
		filter.Type = &txType
	}

	txs, err := h.settlementUC.ListTransactions(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, txs)
}

// ===============================
// JOURNAL
// ===============================

type EntryLineJSON struct {
	AccountName string `json:"account_name"`
	Side        string `json:"side"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
}

type PostJournalJSON struct {
	Lines          []EntryLineJSON `json:"lines"`
	Reference      *string         `json:"reference,omitempty"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
}

func (h *SettlementRestHandler) PostJournal(w http.ResponseWriter, r *http.Request) {
	var in PostJournalJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	lines := make([]*domain.EntryLine, 0, len(in.Lines))
	for _, l := range in.Lines {
		amount, err := domain.MoneyFromString(l.Amount, l.Currency)
		if err != nil {
			h.writeError(w, err)
			return
		}
		lines = append(lines, &domain.EntryLine{
			AccountName: l.AccountName,
			Side:        domain.EntrySide(l.Side),
			Amount:      amount,
		})
	}

	result, err := h.journalUC.Post(r.Context(), lines, in.Reference, in.IdempotencyKey)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, result)
}

func (h *SettlementRestHandler) GetJournal(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "id")

	entries, err := h.journalUC.GetByTransaction(r.Context(), transactionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, entries)
}
