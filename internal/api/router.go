package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

const defaultRequestTimeout = 15 * time.Second

// NewRouter registers the card ledger routes.
func NewRouter(h *Handler, log zerolog.Logger, timeout time.Duration) *chi.Mux {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Use(Recovery(log))
	r.Use(middleware.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", UserIDHeader, IdempotencyKeyHeader, "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireUser)

		r.Post("/cards", h.OpenCard)
		r.Get("/cards", h.ListCards)
		r.Route("/cards/{cardID}", func(r chi.Router) {
			r.Get("/", h.GetCard)
			r.Patch("/", h.UpdateCard)
			r.Delete("/", h.DeleteCard)
			r.Post("/charges", h.RecordCharge)
			r.Post("/payments", h.PayCard)
			r.Post("/limit", h.AdjustLimit)
			r.Get("/movements", h.History)
			r.Get("/reconcile", h.Reconcile)
			r.Post("/bills", h.GenerateBill)
			r.Get("/bills", h.ListBills)
			r.Post("/installments", h.CreatePlan)
			r.Get("/installments", h.ListPlans)
		})
		r.Post("/bills/{billID}/payments", h.PayBill)
		r.Post("/installments/{planID}/cancel", h.CancelPlan)
		r.Post("/installment-items/{itemID}/settle", h.SettleItem)
	})

	return r
}
