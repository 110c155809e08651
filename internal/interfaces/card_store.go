package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/card-ledger-engine/internal/models"
)

// CardStore persists cards and everything that hangs off them.
//
// InTx runs fn inside one atomic unit scoped to cardID. The card is locked
// against other units for the same card until fn returns; an error from fn
// discards every write made through the CardTx. It returns errs.ErrNotFound
// when the card does not exist.
type CardStore interface {
	InTx(ctx context.Context, cardID string, fn func(tx CardTx) error) error

	CreateCard(ctx context.Context, card models.Card) error
	GetCard(ctx context.Context, cardID string) (models.Card, error)
	ListCardIDs(ctx context.Context) ([]string, error)
	// ListCards returns the user's cards, oldest first.
	ListCards(ctx context.Context, userID string) ([]models.Card, error)

	// ListMovements returns every movement of the card in sequence order.
	ListMovements(ctx context.Context, cardID string) ([]models.LimitMovement, error)
	// RecentMovements returns at most n movements, newest first.
	RecentMovements(ctx context.Context, cardID string, n int) ([]models.LimitMovement, error)

	GetBill(ctx context.Context, billID string) (models.Bill, error)
	// ListBills returns the card's bills, newest cycle first.
	ListBills(ctx context.Context, cardID string) ([]models.Bill, error)
	// ListUnpaidBillsDueBefore returns open or partial bills with a due date
	// before day and something left to pay.
	ListUnpaidBillsDueBefore(ctx context.Context, day time.Time) ([]models.Bill, error)

	GetPlan(ctx context.Context, planID string) (models.InstallmentPlan, error)
	ListPlans(ctx context.Context, cardID string) ([]models.InstallmentPlan, error)
	ListItems(ctx context.Context, planID string) ([]models.InstallmentItem, error)
	GetItem(ctx context.Context, itemID string) (models.InstallmentItem, error)
}

// CardTx is the view of the store inside one atomic unit.
type CardTx interface {
	// Card returns the locked card, including writes made in this unit.
	Card() models.Card
	SaveCard(card models.Card) error
	// CountDependents counts the movements, bills and plans of the card.
	CountDependents() (models.CardDependents, error)
	// DeleteCard removes the card when the unit commits.
	DeleteCard() error

	AppendMovement(m models.LimitMovement) error
	// SumCharges totals charge movements created at or after from and
	// before to.
	SumCharges(from, to time.Time) (decimal.Decimal, error)

	BillExists(month, year int) (bool, error)
	InsertBill(bill models.Bill) error
	GetBill(billID string) (models.Bill, error)
	UpdateBill(bill models.Bill) error

	InsertPlan(plan models.InstallmentPlan, items []models.InstallmentItem) error
	GetPlan(planID string) (models.InstallmentPlan, error)
	UpdatePlan(plan models.InstallmentPlan) error
	GetItem(itemID string) (models.InstallmentItem, error)
	ListItems(planID string) ([]models.InstallmentItem, error)
	UpdateItem(item models.InstallmentItem) error

	// LookupIdempotencyKey returns the payment recorded under key for this
	// card, if any.
	LookupIdempotencyKey(key string) (models.IdempotencyRecord, bool, error)
	SaveIdempotencyKey(rec models.IdempotencyRecord) error
	GetMovement(movementID string) (models.LimitMovement, error)
}
