// Package projection builds read-only views for the dashboard: the card
// snapshot with its limit alert, bills with their effective status and plans
// with per-item display state. Nothing here writes.
package projection

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/card-ledger-engine/internal/calendar"
	"github.com/sheikh-saqib/card-ledger-engine/internal/models"
	"github.com/sheikh-saqib/card-ledger-engine/internal/money"
)

type AlertLevel string

const (
	AlertNone     AlertLevel = "none"
	AlertOK       AlertLevel = "ok"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Thresholds are usage percentages at which the alert level rises.
type Thresholds struct {
	Notice   decimal.Decimal
	Warning  decimal.Decimal
	Critical decimal.Decimal
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Notice:   decimal.NewFromInt(50),
		Warning:  decimal.NewFromInt(75),
		Critical: decimal.NewFromInt(90),
	}
}

// Valid reports whether every level is reachable.
func (t Thresholds) Valid() bool {
	return t.Notice.IsPositive() &&
		t.Notice.LessThanOrEqual(t.Warning) &&
		t.Warning.LessThanOrEqual(t.Critical)
}

type LimitAlert struct {
	Level          AlertLevel      `json:"level"`
	UsagePercent   decimal.Decimal `json:"usage_percent"`
	AvailableLimit decimal.Decimal `json:"available_limit"`
}

// AlertFor grades the card's usage against t. Levels compare the exact ratio
// used*100 >= threshold*limit; only the reported percentage is rounded.
func AlertFor(card models.Card, t Thresholds) LimitAlert {
	alert := LimitAlert{
		Level:          AlertNone,
		UsagePercent:   money.Percent(card.UsedAmount, card.CreditLimit),
		AvailableLimit: card.Available(),
	}
	if card.CreditLimit.Sign() <= 0 {
		return alert
	}
	scaled := card.UsedAmount.Mul(decimal.NewFromInt(100))
	reaches := func(threshold decimal.Decimal) bool {
		return scaled.GreaterThanOrEqual(threshold.Mul(card.CreditLimit))
	}
	switch {
	case reaches(t.Critical):
		alert.Level = AlertCritical
	case reaches(t.Warning):
		alert.Level = AlertWarning
	case reaches(t.Notice):
		alert.Level = AlertOK
	}
	return alert
}

type CardView struct {
	Card            models.Card `json:"card"`
	Alert           LimitAlert  `json:"alert"`
	NextClosingDate time.Time   `json:"next_closing_date"`
	NextDueDate     time.Time   `json:"next_due_date"`
	DaysUntilDue    int         `json:"days_until_due"`
}

func NewCardView(card models.Card, t Thresholds, now time.Time) CardView {
	today := calendar.DateOnly(now)
	due := calendar.NextOnOrAfter(today, card.DueDay)
	return CardView{
		Card:            card,
		Alert:           AlertFor(card, t),
		NextClosingDate: calendar.NextOnOrAfter(today, card.ClosingDay),
		NextDueDate:     due,
		DaysUntilDue:    calendar.DaysBetween(today, due),
	}
}

type BillView struct {
	models.Bill
	EffectiveStatus models.BillStatus `json:"effective_status"`
	DaysUntilDue    int               `json:"days_until_due"`
}

func NewBillView(bill models.Bill, now time.Time) BillView {
	today := calendar.DateOnly(now)
	return BillView{
		Bill:            bill,
		EffectiveStatus: bill.EffectiveStatus(today),
		DaysUntilDue:    calendar.DaysBetween(today, bill.DueDate),
	}
}

// ItemState is how an installment item is shown to the user.
type ItemState string

const (
	ItemStatePaid    ItemState = "paid"
	ItemStateOverdue ItemState = "overdue"
	ItemStateDueSoon ItemState = "due_soon"
	ItemStateOnTime  ItemState = "on_time"
)

// DueSoonDays is the window in which a pending item counts as due soon.
const DueSoonDays = 7

func StateOf(item models.InstallmentItem, today time.Time) ItemState {
	if item.Status == models.ItemPaid {
		return ItemStatePaid
	}
	days := calendar.DaysBetween(today, item.DueDate)
	switch {
	case days < 0:
		return ItemStateOverdue
	case days <= DueSoonDays:
		return ItemStateDueSoon
	default:
		return ItemStateOnTime
	}
}

type ItemView struct {
	models.InstallmentItem
	State        ItemState `json:"state"`
	DaysUntilDue int       `json:"days_until_due"`
}

type PlanView struct {
	models.InstallmentPlan
	Items           []ItemView      `json:"items"`
	PaidCount       int             `json:"paid_count"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	NextItem        *ItemView       `json:"next_item,omitempty"`
}

// NewPlanView recomputes the plan status from its items and decorates each
// item with its display state. Items are expected in installment order.
func NewPlanView(plan models.InstallmentPlan, items []models.InstallmentItem, now time.Time) PlanView {
	today := calendar.DateOnly(now)
	plan.Status = models.DerivePlanStatus(plan, items)

	view := PlanView{
		InstallmentPlan: plan,
		Items:           make([]ItemView, len(items)),
		PaidAmount:      decimal.Zero,
	}
	for i, item := range items {
		view.Items[i] = ItemView{
			InstallmentItem: item,
			State:           StateOf(item, today),
			DaysUntilDue:    calendar.DaysBetween(today, item.DueDate),
		}
		if item.Status == models.ItemPaid {
			view.PaidCount++
			view.PaidAmount = view.PaidAmount.Add(item.Amount)
		} else if view.NextItem == nil {
			view.NextItem = &view.Items[i]
		}
	}
	view.RemainingAmount = plan.TotalAmount.Sub(view.PaidAmount)
	return view
}
