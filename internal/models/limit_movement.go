package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type MovementType string

const (
	MovementCharge     MovementType = "charge"
	MovementPayment    MovementType = "payment"
	MovementAdjustment MovementType = "adjustment"
)

// LimitMovement is one immutable entry of a card's limit ledger. Amount is
// always positive; Type carries the direction. For adjustments Amount holds
// the new credit limit and the used amount stays unchanged.
type LimitMovement struct {
	ID                 string          `json:"id"`
	CardID             string          `json:"card_id"`
	Sequence           int64           `json:"sequence"` // 1-based, contiguous per card
	Type               MovementType    `json:"movement_type"`
	Amount             decimal.Decimal `json:"amount"`
	PreviousUsedAmount decimal.Decimal `json:"previous_used_amount"`
	NewUsedAmount      decimal.Decimal `json:"new_used_amount"`
	PreviousLimit      decimal.Decimal `json:"previous_limit"`
	NewLimit           decimal.Decimal `json:"new_limit"`
	Description        string          `json:"description"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Effect is the signed change this movement applies to the used amount.
func (m LimitMovement) Effect() decimal.Decimal {
	switch m.Type {
	case MovementCharge:
		return m.Amount
	case MovementPayment:
		return m.Amount.Neg()
	default:
		return decimal.Zero
	}
}

// MovementRequest asks the ledger to charge or pay down a card.
type MovementRequest struct {
	CardID      string          `json:"-"`
	UserID      string          `json:"-"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// CardPaymentRequest pays down a card directly, outside any bill.
type CardPaymentRequest struct {
	CardID         string          `json:"-"`
	UserID         string          `json:"-"`
	IdempotencyKey string          `json:"-"`
	Amount         decimal.Decimal `json:"amount"`
	AccountID      string          `json:"account_id"`
	Description    string          `json:"description"`
}

// IdempotencyTargetCard scopes a key to direct card payments; bill payments
// use the bill id as their target.
const IdempotencyTargetCard = "card"

// IdempotencyRecord remembers which payment a client key produced on a card.
type IdempotencyRecord struct {
	Key        string
	Target     string
	Amount     decimal.Decimal
	MovementID string
}

// Matches reports whether a retried request asks for the same payment.
func (r IdempotencyRecord) Matches(target string, amount decimal.Decimal) bool {
	return r.Target == target && r.Amount.Equal(amount)
}

// AdjustmentRequest changes a card's credit limit.
type AdjustmentRequest struct {
	CardID   string          `json:"-"`
	UserID   string          `json:"-"`
	NewLimit decimal.Decimal `json:"new_limit"`
	Reason   string          `json:"reason"`
}

// MovementResult is the outcome of one ledger mutation.
type MovementResult struct {
	Card     Card          `json:"card"`
	Movement LimitMovement `json:"movement"`
	Replayed bool          `json:"replayed,omitempty"`
}

// AdjustmentResult flags limits lowered below the current used amount.
type AdjustmentResult struct {
	Card      Card          `json:"card"`
	Movement  LimitMovement `json:"movement"`
	OverLimit bool          `json:"over_limit"`
}
