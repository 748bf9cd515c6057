package hrest

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter assembles the REST surface of the settlement core.
func NewRouter(
	settlement *SettlementRestHandler,
	accounts *AccountRestHandler,
	reports *ReportRestHandler,
) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/settlement", func(r chi.Router) {
		r.Post("/deposit", settlement.Deposit)
		r.Post("/withdraw", settlement.Withdraw)
		r.Post("/transfer", settlement.Transfer)
		r.Post("/convert", settlement.ConvertQuote)

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", settlement.ListTransactions)
			r.Get("/{id}", settlement.GetTransaction)
			r.Post("/{id}/reverse", settlement.Reverse)
		})

		r.Route("/journal", func(r chi.Router) {
			r.Post("/", settlement.PostJournal)
			r.Get("/{id}", settlement.GetJournal)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", accounts.Create)
			r.Get("/", accounts.List)
			r.Get("/{id}", accounts.Get)
			r.Get("/{id}/balance", settlement.GetBalance)
			r.Patch("/{id}/status", accounts.UpdateStatus)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/trial-balance", reports.TrialBalance)
			r.Get("/balance-sheet", reports.BalanceSheet)
			r.Get("/income-statement", reports.IncomeStatement)
			r.Get("/reconcile", reports.Reconcile)
			r.Get("/statement", reports.AccountStatement)
		})
	})

	return r
}
