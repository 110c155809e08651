package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BillStatus string

const (
	BillOpen    BillStatus = "open"
	BillPartial BillStatus = "partial"
	BillPaid    BillStatus = "paid"
	BillOverdue BillStatus = "overdue"
)

// Bill is the obligation of one billing cycle. RemainingAmount is always
// TotalAmount - PaidAmount.
type Bill struct {
	ID              string          `json:"id"`
	CardID          string          `json:"card_id"`
	BillMonth       int             `json:"bill_month"`
	BillYear        int             `json:"bill_year"`
	ClosingDate     time.Time       `json:"closing_date"`
	DueDate         time.Time       `json:"due_date"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Status          BillStatus      `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsOverdue reports whether the bill still owes money after its due date.
func (b Bill) IsOverdue(today time.Time) bool {
	return b.RemainingAmount.Sign() > 0 && today.After(b.DueDate)
}

// EffectiveStatus derives the display status at today: overdue wins over
// open and partial once the due date has passed.
func (b Bill) EffectiveStatus(today time.Time) BillStatus {
	if b.Status != BillPaid && b.IsOverdue(today) {
		return BillOverdue
	}
	if b.Status == BillOverdue {
		if b.PaidAmount.Sign() > 0 {
			return BillPartial
		}
		return BillOpen
	}
	return b.Status
}

// GenerateBillRequest asks for the bill of one cycle.
type GenerateBillRequest struct {
	CardID string `json:"-"`
	UserID string `json:"-"`
	Month  int    `json:"month"`
	Year   int    `json:"year"`
}

// BillPaymentRequest pays part or all of a bill.
type BillPaymentRequest struct {
	BillID         string          `json:"-"`
	UserID         string          `json:"-"`
	IdempotencyKey string          `json:"-"`
	Amount         decimal.Decimal `json:"amount"`
	AccountID      string          `json:"account_id"`
	Description    string          `json:"description"`
}

type BillPaymentResult struct {
	Bill     Bill          `json:"bill"`
	Card     Card          `json:"card"`
	Movement LimitMovement `json:"movement"`
	Replayed bool          `json:"replayed,omitempty"`
}
