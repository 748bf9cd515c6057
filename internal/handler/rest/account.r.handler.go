package hrest

import (
	"encoding/json"
	"net/http"

	"settlement-service/internal/domain"
	"settlement-service/internal/usecase"
	"settlement-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type AccountRestHandler struct {
	accountUC *usecase.AccountUsecase
	logger    *zap.Logger
}

func NewAccountRestHandler(accountUC *usecase.AccountUsecase, logger *zap.Logger) *AccountRestHandler {
	return &AccountRestHandler{accountUC: accountUC, logger: logger}
}

func (h *AccountRestHandler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		msg = "internal server error"
	}
	response.Error(w, status, msg)
}

type CreateAccountJSON struct {
	OwnerID             string `json:"owner_id"`
	Currency            string `json:"currency"`
	PerTransactionLimit string `json:"per_transaction_limit,omitempty"`
	DailyLimit          string `json:"daily_limit,omitempty"`
	MonthlyLimit        string `json:"monthly_limit,omitempty"`
}

func parseLimit(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func (h *AccountRestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in CreateAccountJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var limits domain.AccountLimits
	var err error
	if limits.PerTransaction, err = parseLimit(in.PerTransactionLimit); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid per_transaction_limit")
		return
	}
	if limits.Daily, err = parseLimit(in.DailyLimit); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid daily_limit")
		return
	}
	if limits.Monthly, err = parseLimit(in.MonthlyLimit); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid monthly_limit")
		return
	}

	account, err := h.accountUC.Create(r.Context(), in.OwnerID, in.Currency, limits)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, account)
}

func (h *AccountRestHandler) Get(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountUC.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, account)
}

func (h *AccountRestHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := &domain.AccountFilter{}
	q := r.URL.Query()
	if v := q.Get("owner_id"); v != "" {
		filter.OwnerID = &v
	}
	if v := q.Get("currency"); v != "" {
		filter.Currency = &v
	}
	if v := q.Get("status"); v != "" {
		status := domain.AccountStatus(v)
		filter.Status = &status
	}

	accounts, err := h.accountUC.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, accounts)
}

type UpdateStatusJSON struct {
	Status string `json:"status"`
}

func (h *AccountRestHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var in UpdateStatusJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.accountUC.UpdateStatus(r.Context(), chi.URLParam(r, "id"), domain.AccountStatus(in.Status))
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"account_id": chi.URLParam(r, "id"), "status": in.Status})
}
