package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanCancelled PlanStatus = "cancelled"
)

type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemPaid    ItemStatus = "paid"
	ItemOverdue ItemStatus = "overdue"
)

const (
	MinInstallments = 1
	MaxInstallments = 24
)

// InstallmentPlan is a purchase split over InstallmentsCount monthly items.
// Status is only authoritative when cancelled; otherwise it is derived from
// the items.
type InstallmentPlan struct {
	ID                   string          `json:"id"`
	CardID               string          `json:"card_id"`
	CategoryID           string          `json:"category_id"`
	Description          string          `json:"description"`
	Notes                string          `json:"notes,omitempty"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	InstallmentsCount    int             `json:"installments_count"`
	FirstInstallmentDate time.Time       `json:"first_installment_date"`
	Status               PlanStatus      `json:"status"`
	MovementID           string          `json:"movement_id"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

type InstallmentItem struct {
	ID                string          `json:"id"`
	PlanID            string          `json:"installment_id"`
	InstallmentNumber int             `json:"installment_number"`
	Amount            decimal.Decimal `json:"amount"`
	DueDate           time.Time       `json:"due_date"`
	Status            ItemStatus      `json:"status"`
	PaidDate          *time.Time      `json:"paid_date,omitempty"`
	AccountID         string          `json:"account_id,omitempty"`
}

// DerivePlanStatus recomputes a plan's status from its items.
func DerivePlanStatus(plan InstallmentPlan, items []InstallmentItem) PlanStatus {
	if plan.Status == PlanCancelled {
		return PlanCancelled
	}
	if len(items) == 0 {
		return PlanActive
	}
	for _, item := range items {
		if item.Status != ItemPaid {
			return PlanActive
		}
	}
	return PlanCompleted
}

// CreatePlanRequest describes an installment purchase.
type CreatePlanRequest struct {
	CardID               string          `json:"-"`
	UserID               string          `json:"-"`
	CategoryID           string          `json:"category_id"`
	Description          string          `json:"description"`
	Notes                string          `json:"notes"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	Installments         int             `json:"installments"`
	FirstInstallmentDate time.Time       `json:"first_installment_date"`
}

// SettleItemRequest marks one installment item as covered by an account.
type SettleItemRequest struct {
	ItemID    string          `json:"-"`
	UserID    string          `json:"-"`
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
}

type PlanResult struct {
	Plan     InstallmentPlan   `json:"plan"`
	Items    []InstallmentItem `json:"items"`
	Card     Card              `json:"card"`
	Movement LimitMovement     `json:"movement"`
}

type SettleItemResult struct {
	Item       InstallmentItem `json:"item"`
	Plan       InstallmentPlan `json:"plan"`
	PlanStatus PlanStatus      `json:"plan_status"`
}
