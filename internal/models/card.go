package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Card is a credit instrument owned by one user. UsedAmount only changes
// through limit movements.
type Card struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Name           string          `json:"name"`
	LastFourDigits string          `json:"last_four_digits"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
	UsedAmount     decimal.Decimal `json:"used_amount"`
	ClosingDay     int             `json:"closing_day"`
	DueDay         int             `json:"due_day"`
	MovementSeq    int64           `json:"movement_seq"` // sequence of the last movement appended
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Available is the unused part of the limit; negative after a limit was
// lowered below the used amount.
func (c Card) Available() decimal.Decimal {
	return c.CreditLimit.Sub(c.UsedAmount)
}

// UpdateCardRequest edits a card's descriptive fields and cycle days. Nil
// fields are left unchanged. The credit limit only changes through a limit
// adjustment.
type UpdateCardRequest struct {
	CardID         string  `json:"-"`
	UserID         string  `json:"-"`
	Name           *string `json:"name,omitempty"`
	LastFourDigits *string `json:"last_four_digits,omitempty"`
	ClosingDay     *int    `json:"closing_day,omitempty"`
	DueDay         *int    `json:"due_day,omitempty"`
}

// CardDependents counts the records that keep a card from being deleted.
type CardDependents struct {
	Movements int `json:"movements"`
	Bills     int `json:"bills"`
	Plans     int `json:"plans"`
}

func (d CardDependents) Any() bool {
	return d.Movements > 0 || d.Bills > 0 || d.Plans > 0
}

// OpenCardRequest registers a new card with nothing used.
type OpenCardRequest struct {
	UserID         string          `json:"-"`
	Name           string          `json:"name"`
	LastFourDigits string          `json:"last_four_digits"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
	ClosingDay     int             `json:"closing_day"`
	DueDay         int             `json:"due_day"`
}
