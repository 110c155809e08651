// Package api exposes the card ledger engine over HTTP.
package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/card-ledger-engine/internal/billing"
	"github.com/sheikh-saqib/card-ledger-engine/internal/errs"
	"github.com/sheikh-saqib/card-ledger-engine/internal/installments"
	"github.com/sheikh-saqib/card-ledger-engine/internal/ledger"
	"github.com/sheikh-saqib/card-ledger-engine/internal/logger"
	"github.com/sheikh-saqib/card-ledger-engine/internal/models"
	"github.com/sheikh-saqib/card-ledger-engine/internal/projection"
)

const dateLayout = "2006-01-02"

// Handler serves the card, bill and installment routes.
type Handler struct {
	cards *ledger.Ledger
	bills *billing.Manager
	plans *installments.Scheduler
	views *projection.Projector
	log   zerolog.Logger
}

func NewHandler(cards *ledger.Ledger, bills *billing.Manager, plans *installments.Scheduler, views *projection.Projector, log zerolog.Logger) *Handler {
	return &Handler{
		cards: cards,
		bills: bills,
		plans: plans,
		views: views,
		log:   logger.Component(log, "api"),
	}
}

func (h *Handler) logFor(r *http.Request) zerolog.Logger {
	return logger.FromContext(r.Context(), h.log)
}

// OpenCard handles POST /cards
func (h *Handler) OpenCard(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	var req models.OpenCardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	req.UserID = userID

	card, err := h.cards.OpenCard(r.Context(), req)
	if err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

// ListCards handles GET /cards
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	cards, err := h.cards.ListCards(r.Context(), userID)
	if err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cards": cards,
		"count": len(cards),
	})
}

// UpdateCard handles PATCH /cards/{cardID}. The limit is changed through
// POST /cards/{cardID}/limit, so credit_limit is an unknown field here.
func (h *Handler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	var req models.UpdateCardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	req.CardID = chi.URLParam(r, "cardID")
	req.UserID = userID

	card, err := h.cards.UpdateCard(r.Context(), req)
	if err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// DeleteCard handles DELETE /cards/{cardID}
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	if err := h.cards.DeleteCard(r.Context(), chi.URLParam(r, "cardID"), userID); err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCard handles GET /cards/{cardID}
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	view, err := h.views.Card(r.Context(), chi.URLParam(r, "cardID"), userID)
	if err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// RecordCharge handles POST /cards/{cardID}/charges
func (h *Handler) RecordCharge(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	var req models.MovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	req.CardID = chi.URLParam(r, "cardID")
	req.UserID = userID

	result, err := h.cards.RecordCharge(r.Context(), req)
	if err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// PayCard handles POST /cards/{cardID}/payments
func (h *Handler) PayCard(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	var req models.CardPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	req.CardID = chi.URLParam(r, "cardID")
	req.UserID = userID
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))

	result, err := h.bills.PayCard(r.Context(), req)
	if err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	writeJSON(w, replayStatus(result.Replayed), result)
}

// AdjustLimit handles POST /cards/{cardID}/limit
func (h *Handler) AdjustLimit(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	var req models.AdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	req.CardID = chi.URLParam(r, "cardID")
	req.UserID = userID

	result, err := h.cards.RecordAdjustment(r.Context(), req)
	if err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// History handles GET /cards/{cardID}/movements?limit=N
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeEngineError(w, h.logFor(r), errs.Wrap(errs.ErrInvalidRequest, "limit must be a positive integer, got %q", raw))
			return
		}
		limit = n
	}

	movements, err := h.cards.History(r.Context(), chi.URLParam(r, "cardID"), userID, limit)
	if err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"movements": movements,
		"count":     len(movements),
	})
}

// Reconcile handles GET /cards/{cardID}/reconcile. Drift answers 500 with
// the replay report attached.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	report, err := h.cards.Reconcile(r.Context(), chi.URLParam(r, "cardID"), userID)
	if err != nil {
		if errs.IsFatal(err) && report.CardID != "" {
			log := h.logFor(r)
			log.Error().Err(err).Bool("alert", true).Msg("reconciliation found drift")
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":  err.Error(),
				"kind":   errs.KindInconsistent,
				"alert":  true,
				"report": report,
			})
			return
		}
		writeEngineError(w, h.logFor(r), err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GenerateBill handles POST /cards/{cardID}/bills
func (h *Handler) GenerateBill(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	var req models.GenerateBillRequest
	if err := decodeJSON(r, &req); err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	req.CardID = chi.URLParam(r, "cardID")
	req.UserID = userID

	bill, err := h.bills.GenerateBill(r.Context(), req)
	if err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, bill)
}

// ListBills handles GET /cards/{cardID}/bills
func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	views, err := h.views.Bills(r.Context(), chi.URLParam(r, "cardID"), userID)
	if err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bills": views,
		"count": len(views),
	})
}

// PayBill handles POST /bills/{billID}/payments
func (h *Handler) PayBill(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	var req models.BillPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	req.BillID = chi.URLParam(r, "billID")
	req.UserID = userID
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))

	result, err := h.bills.PayBill(r.Context(), req)
	if err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	writeJSON(w, replayStatus(result.Replayed), result)
}

type createPlanBody struct {
	CategoryID           string          `json:"category_id"`
	Description          string          `json:"description"`
	Notes                string          `json:"notes"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	Installments         int             `json:"installments"`
	FirstInstallmentDate string          `json:"first_installment_date"` // YYYY-MM-DD, optional
}

// CreatePlan handles POST /cards/{cardID}/installments
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	var body createPlanBody
	if err := decodeJSON(r, &body); err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}

	req := models.CreatePlanRequest{
		CardID:       chi.URLParam(r, "cardID"),
		UserID:       userID,
		CategoryID:   body.CategoryID,
		Description:  body.Description,
		Notes:        body.Notes,
		TotalAmount:  body.TotalAmount,
		Installments: body.Installments,
	}
	if body.FirstInstallmentDate != "" {
		first, err := time.Parse(dateLayout, body.FirstInstallmentDate)
		if err != nil {
			writeEngineError(w, h.logFor(r), errs.Wrap(errs.ErrInvalidRequest, "first_installment_date must be YYYY-MM-DD"))
			return
		}
		req.FirstInstallmentDate = first
	}

	result, err := h.plans.CreatePlan(r.Context(), req)
	if err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ListPlans handles GET /cards/{cardID}/installments
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	views, err := h.views.Plans(r.Context(), chi.URLParam(r, "cardID"), userID)
	if err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"installments": views,
		"count":        len(views),
	})
}

// CancelPlan handles POST /installments/{planID}/cancel
func (h *Handler) CancelPlan(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	plan, err := h.plans.CancelPlan(r.Context(), chi.URLParam(r, "planID"), userID)
	if err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// SettleItem handles POST /installment-items/{itemID}/settle
func (h *Handler) SettleItem(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	var req models.SettleItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	req.ItemID = chi.URLParam(r, "itemID")
	req.UserID = userID

	result, err := h.plans.SettleItem(r.Context(), req)
	if err != nil {
		writeEngineError(w, h.logFor(r), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// replayStatus answers 200 for a replayed idempotent payment, 201 otherwise.
func replayStatus(replayed bool) int {
	if replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}
