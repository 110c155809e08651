package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLimitMovement_Effect(t *testing.T) {
	amount := decimal.NewFromInt(40)
	assert.True(t, amount.Equal(LimitMovement{Type: MovementCharge, Amount: amount}.Effect()))
	assert.True(t, amount.Neg().Equal(LimitMovement{Type: MovementPayment, Amount: amount}.Effect()))
	assert.True(t, LimitMovement{Type: MovementAdjustment, Amount: decimal.NewFromInt(5000)}.Effect().IsZero())
}

func TestCard_Available(t *testing.T) {
	card := Card{CreditLimit: decimal.NewFromInt(1000), UsedAmount: decimal.NewFromInt(1200)}
	assert.True(t, decimal.NewFromInt(-200).Equal(card.Available()))
}

func TestBill_EffectiveStatus(t *testing.T) {
	due := time.Date(2026, time.April, 5, 0, 0, 0, 0, time.UTC)
	open := Bill{DueDate: due, Status: BillOpen, TotalAmount: decimal.NewFromInt(500), RemainingAmount: decimal.NewFromInt(500)}

	assert.Equal(t, BillOpen, open.EffectiveStatus(due))
	assert.Equal(t, BillOverdue, open.EffectiveStatus(due.AddDate(0, 0, 1)))

	paid := open
	paid.Status = BillPaid
	paid.RemainingAmount = decimal.Zero
	assert.Equal(t, BillPaid, paid.EffectiveStatus(due.AddDate(0, 1, 0)))

	// persisted overdue that has since been caught up on shows as partial
	partial := open
	partial.Status = BillOverdue
	partial.PaidAmount = decimal.NewFromInt(100)
	assert.Equal(t, BillPartial, partial.EffectiveStatus(due.AddDate(0, 0, -1)))
}

func TestDerivePlanStatus(t *testing.T) {
	plan := InstallmentPlan{Status: PlanActive}
	items := []InstallmentItem{{Status: ItemPaid}, {Status: ItemPending}}

	assert.Equal(t, PlanActive, DerivePlanStatus(plan, items))
	assert.Equal(t, PlanActive, DerivePlanStatus(plan, nil))

	items[1].Status = ItemPaid
	assert.Equal(t, PlanCompleted, DerivePlanStatus(plan, items))

	plan.Status = PlanCancelled
	assert.Equal(t, PlanCancelled, DerivePlanStatus(plan, items))
}
