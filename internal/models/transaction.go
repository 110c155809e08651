package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const TransactionExpense = "expense"

// Transaction is an entry of the user's general transaction history. The
// engine writes expense records for card and bill payments.
type Transaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	CardID      string          `json:"card_id,omitempty"`
	AccountID   string          `json:"account_id,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Account is a funding account; read-only to the engine.
type Account struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// Category classifies installment purchases; read-only to the engine.
type Category struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}
