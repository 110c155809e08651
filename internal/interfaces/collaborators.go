package interfaces

import (
	"context"

	"github.com/sheikh-saqib/card-ledger-engine/internal/models"
)

// TransactionLedger receives the user-facing history records of payments.
// Writes are best-effort from the engine's point of view.
type TransactionLedger interface {
	RecordTransaction(ctx context.Context, tx models.Transaction) error
}

// AccountStore resolves funding accounts.
type AccountStore interface {
	GetAccount(ctx context.Context, accountID string) (models.Account, error)
}

// CategoryStore resolves purchase categories.
type CategoryStore interface {
	GetCategory(ctx context.Context, categoryID string) (models.Category, error)
}
