package hrest

import (
	"net/http"
	"time"

	"settlement-service/internal/usecase"
	"settlement-service/pkg/response"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ReportRestHandler struct {
	reportUC *usecase.ReportUsecase
	logger   *zap.Logger
}

func NewReportRestHandler(reportUC *usecase.ReportUsecase, logger *zap.Logger) *ReportRestHandler {
	return &ReportRestHandler{reportUC: reportUC, logger: logger}
}

func (h *ReportRestHandler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		msg = "internal server error"
	}
	response.Error(w, status, msg)
}

func parseTime(q string, fallback time.Time) (time.Time, bool) {
	if q == "" {
		return fallback, true
	}
	t, err := time.Parse(time.RFC3339, q)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (h *ReportRestHandler) TrialBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	currency := q.Get("currency")
	asOf, ok := parseTime(q.Get("as_of"), time.Now().UTC())
	if !ok {
		response.Error(w, http.StatusBadRequest, "as_of must be RFC3339")
		return
	}

	report, err := h.reportUC.TrialBalance(r.Context(), asOf, currency)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, report)
}

func (h *ReportRestHandler) BalanceSheet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	currency := q.Get("currency")
	asOf, ok := parseTime(q.Get("as_of"), time.Now().UTC())
	if !ok {
		response.Error(w, http.StatusBadRequest, "as_of must be RFC3339")
		return
	}

	sheet, err := h.reportUC.BalanceSheet(r.Context(), asOf, currency)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, sheet)
}

func (h *ReportRestHandler) IncomeStatement(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	currency := q.Get("currency")

	now := time.Now().UTC()
	start, ok := parseTime(q.Get("start"), now.AddDate(0, -1, 0))
	if !ok {
		response.Error(w, http.StatusBadRequest, "start must be RFC3339")
		return
	}
	end, ok := parseTime(q.Get("end"), now)
	if !ok {
		response.Error(w, http.StatusBadRequest, "end must be RFC3339")
		return
	}

	statement, err := h.reportUC.IncomeStatement(r.Context(), start, end, currency)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, statement)
}

func (h *ReportRestHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	accountName := q.Get("account_name")
	currency := q.Get("currency")

	external, err := decimal.NewFromString(q.Get("external_balance"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "external_balance must be a decimal")
		return
	}
	asOf, ok := parseTime(q.Get("as_of"), time.Now().UTC())
	if !ok {
		response.Error(w, http.StatusBadRequest, "as_of must be RFC3339")
		return
	}

	result, err := h.reportUC.Reconcile(r.Context(), accountName, external, currency, asOf)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, result)
}

func (h *ReportRestHandler) AccountStatement(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	accountID := q.Get("account_id")

	now := time.Now().UTC()
	start, ok := parseTime(q.Get("start"), now.AddDate(0, -1, 0))
	if !ok {
		response.Error(w, http.StatusBadRequest, "start must be RFC3339")
		return
	}
	end, ok := parseTime(q.Get("end"), now)
	if !ok {
		response.Error(w, http.StatusBadRequest, "end must be RFC3339")
		return
	}

	statement, err := h.reportUC.AccountStatement(r.Context(), accountID, start, end)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, statement)
}
