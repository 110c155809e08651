package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicMovementRecorded = "movement_recorded"
	TopicBillGenerated    = "bill_generated"
	TopicBillPaid         = "bill_paid"
	TopicPlanCreated      = "plan_created"
	TopicItemSettled      = "item_settled"
	TopicCardUpdated      = "card_updated"
	TopicCardDeleted      = "card_deleted"
)

type MovementRecorded struct {
	MovementID         string          `json:"movement_id"`
	CardID             string          `json:"card_id"`
	Sequence           int64           `json:"sequence"`
	MovementType       string          `json:"movement_type"`
	Amount             decimal.Decimal `json:"amount"`
	PreviousUsedAmount decimal.Decimal `json:"previous_used_amount"`
	NewUsedAmount      decimal.Decimal `json:"new_used_amount"`
	OccurredAt         time.Time       `json:"occurred_at"`
}

type BillGenerated struct {
	BillID      string          `json:"bill_id"`
	CardID      string          `json:"card_id"`
	BillMonth   int             `json:"bill_month"`
	BillYear    int             `json:"bill_year"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	DueDate     time.Time       `json:"due_date"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

type BillPaid struct {
	BillID          string          `json:"bill_id"`
	CardID          string          `json:"card_id"`
	Amount          decimal.Decimal `json:"amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Status          string          `json:"status"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

type PlanCreated struct {
	PlanID            string          `json:"plan_id"`
	CardID            string          `json:"card_id"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	InstallmentsCount int             `json:"installments_count"`
	OccurredAt        time.Time       `json:"occurred_at"`
}

type ItemSettled struct {
	ItemID            string          `json:"item_id"`
	PlanID            string          `json:"plan_id"`
	CardID            string          `json:"card_id"`
	InstallmentNumber int             `json:"installment_number"`
	Amount            decimal.Decimal `json:"amount"`
	AccountID         string          `json:"account_id,omitempty"`
	PlanStatus        string          `json:"plan_status"`
	OccurredAt        time.Time       `json:"occurred_at"`
}

type CardUpdated struct {
	CardID         string    `json:"card_id"`
	Name           string    `json:"name"`
	LastFourDigits string    `json:"last_four_digits"`
	ClosingDay     int       `json:"closing_day"`
	DueDay         int       `json:"due_day"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type CardDeleted struct {
	CardID     string    `json:"card_id"`
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Key routes every event of one card to the same partition.
func (e MovementRecorded) Key() string { return e.CardID }
func (e BillGenerated) Key() string    { return e.CardID }
func (e BillPaid) Key() string         { return e.CardID }
func (e PlanCreated) Key() string      { return e.CardID }
func (e ItemSettled) Key() string      { return e.CardID }
func (e CardUpdated) Key() string      { return e.CardID }
func (e CardDeleted) Key() string      { return e.CardID }
