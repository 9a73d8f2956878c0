/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging through logrus
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /health               Liveness and store mode
  /metrics              Prometheus metrics
  /api/sales|purchases|expenses|transfers   Transaction facts
  /api/tanks|nozzles|fuel-types             Inventory reads
  /api/account-heads    Heads, balances, audit
  /api/customers        Credit customers and payments
  /api/shifts           Shift open/close/reconciliation
  /api/reports          P&L and sales summary
  /api/setup            Station setup import/export
  /api/scenarios        Demo stations

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/sales", func(r chi.Router) {
			r.Post("/", h.RecordSale)
			r.Get("/{id}", h.GetSale)
			r.Delete("/{id}", h.VoidSale)
		})
		r.Route("/purchases", func(r chi.Router) {
			r.Post("/", h.RecordPurchase)
			r.Get("/{id}", h.GetPurchase)
			r.Put("/{id}", h.CorrectPurchase)
			r.Delete("/{id}", h.DeletePurchase)
		})
		r.Route("/expenses", func(r chi.Router) {
			r.Post("/", h.RecordExpense)
			r.Get("/{id}", h.GetExpense)
			r.Put("/{id}", h.CorrectExpense)
			r.Delete("/{id}", h.DeleteExpense)
		})
		r.Route("/transfers", func(r chi.Router) {
			r.Post("/", h.RecordTransfer)
			r.Delete("/{id}", h.DeleteTransfer)
		})

		r.Route("/tanks", func(r chi.Router) {
			r.Get("/", h.ListTanks)
			r.Get("/low-stock", h.LowStock)
			r.Get("/{id}", h.GetTank)
		})
		r.Route("/nozzles", func(r chi.Router) {
			r.Get("/", h.ListNozzles)
			r.Get("/{id}", h.GetNozzle)
		})
		r.Get("/fuel-types", h.ListFuelTypes)

		r.Route("/account-heads", func(r chi.Router) {
			r.Get("/", h.ListAccountHeads)
			r.Post("/", h.CreateAccountHead)
			r.Get("/audit", h.AuditBalances)
			r.Get("/{id}/balance", h.GetBalance)
			r.Delete("/{id}", h.DeactivateAccountHead)
		})

		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.Post("/", h.CreateCustomer)
			r.Get("/aging", h.AgingReport)
			r.Get("/{id}/credit", h.CreditStatus)
			r.Get("/{id}/payments", h.ListPayments)
			r.Post("/{id}/payments", h.RecordPayment)
		})

		r.Route("/shifts", func(r chi.Router) {
			r.Post("/", h.OpenShift)
			r.Post("/{id}/close", h.CloseShift)
			r.Get("/{id}/reconciliation", h.ShiftReconciliation)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/daily-pl", h.DailyPL)
			r.Get("/monthly-pl", h.MonthlyPL)
			r.Get("/daily-sales", h.DailySales)
		})

		r.Route("/setup", func(r chi.Router) {
			r.Get("/", h.ExportSetup)
			r.Post("/", h.ImportSetup)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// requestLogger logs one line per request with logrus.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Debug("http request")
		})
	}
}
