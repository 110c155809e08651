package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/sheikh-saqib/card-ledger-engine/internal/calendar"
	"github.com/sheikh-saqib/card-ledger-engine/internal/errs"
	interfaces "github.com/sheikh-saqib/card-ledger-engine/internal/interfaces" // interface CardStore
	"github.com/sheikh-saqib/card-ledger-engine/internal/models"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

const (
	cardColumns     = `id, user_id, name, last_four_digits, credit_limit, used_amount, closing_day, due_day, movement_seq, created_at, updated_at`
	movementColumns = `id, card_id, sequence, movement_type, amount, previous_used_amount, new_used_amount, previous_limit, new_limit, description, created_at`
	billColumns     = `id, card_id, bill_month, bill_year, closing_date, due_date, total_amount, paid_amount, remaining_amount, status, created_at, updated_at`
	planColumns     = `id, card_id, category_id, description, notes, total_amount, installments_count, first_installment_date, status, movement_id, created_at, updated_at`
	itemColumns     = `i.id, i.installment_id, i.installment_number, i.amount, i.due_date, i.status, i.paid_date, i.account_id`
)

type PostgresCardStore struct {
	db *sql.DB
}

func NewPostgresCardStore(db *sql.DB) *PostgresCardStore {
	return &PostgresCardStore{
		db: db,
	}
}

// Open connects with the lib/pq driver and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the tables when they do not exist yet.
func (p *PostgresCardStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

// InTx locks the card row with SELECT ... FOR UPDATE for the whole unit, so
// concurrent units on one card queue up behind each other.
func (p *PostgresCardStore) InTx(ctx context.Context, cardID string, fn func(tx interfaces.CardTx) error) (err error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	card, err := scanCard(dbTx.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1 FOR UPDATE`, cardID))
	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrNotFound, "card %s", cardID)
	}
	if err != nil {
		return err
	}

	if err = fn(&pgTx{ctx: ctx, tx: dbTx, card: card}); err != nil {
		return err
	}
	return dbTx.Commit()
}

func (p *PostgresCardStore) CreateCard(ctx context.Context, card models.Card) error {
	const query = `INSERT INTO cards (` + cardColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	_, err := p.db.ExecContext(ctx, query, card.ID, card.UserID, card.Name, card.LastFourDigits, card.CreditLimit,
		card.UsedAmount, card.ClosingDay, card.DueDay, card.MovementSeq, card.CreatedAt, card.UpdatedAt)
	return err
}

func (p *PostgresCardStore) GetCard(ctx context.Context, cardID string) (models.Card, error) {
	card, err := scanCard(p.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1`, cardID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Card{}, errs.Wrap(errs.ErrNotFound, "card %s", cardID)
	}
	return card, err
}

func (p *PostgresCardStore) ListCardIDs(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id FROM cards ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PostgresCardStore) ListCards(ctx context.Context, userID string) ([]models.Card, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards
	WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cards := make([]models.Card, 0)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

func (p *PostgresCardStore) ListMovements(ctx context.Context, cardID string) ([]models.LimitMovement, error) {
	return queryMovements(ctx, p.db, `SELECT `+movementColumns+` FROM limit_movements
	WHERE card_id = $1 ORDER BY sequence`, cardID)
}

func (p *PostgresCardStore) RecentMovements(ctx context.Context, cardID string, n int) ([]models.LimitMovement, error) {
	return queryMovements(ctx, p.db, `SELECT `+movementColumns+` FROM limit_movements
	WHERE card_id = $1 ORDER BY sequence DESC LIMIT $2`, cardID, n)
}

func (p *PostgresCardStore) GetBill(ctx context.Context, billID string) (models.Bill, error) {
	bill, err := scanBill(p.db.QueryRowContext(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1`, billID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Bill{}, errs.Wrap(errs.ErrNotFound, "bill %s", billID)
	}
	return bill, err
}

func (p *PostgresCardStore) ListBills(ctx context.Context, cardID string) ([]models.Bill, error) {
	return queryBills(ctx, p.db, `SELECT `+billColumns+` FROM bills
	WHERE card_id = $1 ORDER BY bill_year DESC, bill_month DESC`, cardID)
}

func (p *PostgresCardStore) ListUnpaidBillsDueBefore(ctx context.Context, day time.Time) ([]models.Bill, error) {
	return queryBills(ctx, p.db, `SELECT `+billColumns+` FROM bills
	WHERE status IN ('open', 'partial') AND remaining_amount > 0 AND due_date < $1 ORDER BY id`, calendar.DateOnly(day))
}

func (p *PostgresCardStore) GetPlan(ctx context.Context, planID string) (models.InstallmentPlan, error) {
	plan, err := scanPlan(p.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM installment_plans WHERE id = $1`, planID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.InstallmentPlan{}, errs.Wrap(errs.ErrNotFound, "installment plan %s", planID)
	}
	return plan, err
}

func (p *PostgresCardStore) ListPlans(ctx context.Context, cardID string) ([]models.InstallmentPlan, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+planColumns+` FROM installment_plans
	WHERE card_id = $1 ORDER BY created_at DESC, id`, cardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []models.InstallmentPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func (p *PostgresCardStore) ListItems(ctx context.Context, planID string) ([]models.InstallmentItem, error) {
	return queryItems(ctx, p.db, `SELECT `+itemColumns+` FROM installment_items i
	WHERE i.installment_id = $1 ORDER BY i.installment_number`, planID)
}

func (p *PostgresCardStore) GetItem(ctx context.Context, itemID string) (models.InstallmentItem, error) {
	item, err := scanItem(p.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM installment_items i WHERE i.id = $1`, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.InstallmentItem{}, errs.Wrap(errs.ErrNotFound, "installment item %s", itemID)
	}
	return item, err
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation && (constraint == "" || pqErr.Constraint == constraint)
}

var _ interfaces.CardStore = (*PostgresCardStore)(nil)
