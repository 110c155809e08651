package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/card-ledger-engine/internal/calendar"
	"github.com/sheikh-saqib/card-ledger-engine/internal/errs"
	interfaces "github.com/sheikh-saqib/card-ledger-engine/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-engine/internal/models"
)

// pgTx runs every statement of one unit on the transaction holding the card
// row lock.
type pgTx struct {
	ctx  context.Context
	tx   *sql.Tx
	card models.Card
}

func (t *pgTx) Card() models.Card { return t.card }

func (t *pgTx) SaveCard(card models.Card) error {
	if card.ID != t.card.ID {
		return errs.Wrap(errs.ErrInconsistent, "unit for card %s cannot save card %s", t.card.ID, card.ID)
	}
	const query = `UPDATE cards SET name = $2, last_four_digits = $3, credit_limit = $4, used_amount = $5,
	closing_day = $6, due_day = $7, movement_seq = $8, updated_at = $9
	WHERE id = $1`

	if _, err := t.tx.ExecContext(t.ctx, query, card.ID, card.Name, card.LastFourDigits, card.CreditLimit, card.UsedAmount,
		card.ClosingDay, card.DueDay, card.MovementSeq, card.UpdatedAt); err != nil {
		return err
	}
	t.card = card
	return nil
}

func (t *pgTx) CountDependents() (models.CardDependents, error) {
	var deps models.CardDependents
	err := t.tx.QueryRowContext(t.ctx, `SELECT
	(SELECT COUNT(*) FROM limit_movements WHERE card_id = $1),
	(SELECT COUNT(*) FROM bills WHERE card_id = $1),
	(SELECT COUNT(*) FROM installment_plans WHERE card_id = $1)`, t.card.ID).Scan(&deps.Movements, &deps.Bills, &deps.Plans)
	return deps, err
}

func (t *pgTx) DeleteCard() error {
	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM cards WHERE id = $1`, t.card.ID)
	return expectOne(res, err, "card", t.card.ID)
}

func (t *pgTx) AppendMovement(mv models.LimitMovement) error {
	if mv.CardID != t.card.ID {
		return errs.Wrap(errs.ErrInconsistent, "unit for card %s cannot append movement of card %s", t.card.ID, mv.CardID)
	}

	var lastSeq int64
	lastUsed := decimal.Zero
	err := t.tx.QueryRowContext(t.ctx, `SELECT sequence, new_used_amount FROM limit_movements
	WHERE card_id = $1 ORDER BY sequence DESC LIMIT 1`, mv.CardID).Scan(&lastSeq, &lastUsed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if mv.Sequence != lastSeq+1 {
		return errs.Wrap(errs.ErrInconsistent, "movement sequence %d, expected %d", mv.Sequence, lastSeq+1)
	}
	if !lastUsed.Equal(mv.PreviousUsedAmount) {
		return errs.Wrap(errs.ErrInconsistent, "movement %d breaks the chain: previous %s, last new %s",
			mv.Sequence, mv.PreviousUsedAmount.String(), lastUsed.String())
	}

	const query = `INSERT INTO limit_movements (` + movementColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	_, err = t.tx.ExecContext(t.ctx, query, mv.ID, mv.CardID, mv.Sequence, mv.Type, mv.Amount, mv.PreviousUsedAmount,
		mv.NewUsedAmount, mv.PreviousLimit, mv.NewLimit, mv.Description, mv.CreatedAt)
	if isUniqueViolation(err, "") {
		return errs.Wrap(errs.ErrInconsistent, "movement %d of card %s already exists", mv.Sequence, mv.CardID)
	}
	return err
}

func (t *pgTx) SumCharges(from, to time.Time) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM limit_movements
	WHERE card_id = $1 AND movement_type = 'charge' AND created_at >= $2 AND created_at < $3`

	var total decimal.Decimal
	err := t.tx.QueryRowContext(t.ctx, query, t.card.ID, from, to).Scan(&total)
	return total, err
}

func (t *pgTx) GetMovement(movementID string) (models.LimitMovement, error) {
	mv, err := scanMovement(t.tx.QueryRowContext(t.ctx, `SELECT `+movementColumns+` FROM limit_movements
	WHERE id = $1 AND card_id = $2`, movementID, t.card.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.LimitMovement{}, errs.Wrap(errs.ErrNotFound, "movement %s", movementID)
	}
	return mv, err
}

func (t *pgTx) BillExists(month, year int) (bool, error) {
	var exists int
	err := t.tx.QueryRowContext(t.ctx, `SELECT 1 FROM bills WHERE card_id = $1 AND bill_month = $2 AND bill_year = $3 LIMIT 1`,
		t.card.ID, month, year).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *pgTx) InsertBill(bill models.Bill) error {
	const query = `INSERT INTO bills (` + billColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	_, err := t.tx.ExecContext(t.ctx, query, bill.ID, t.card.ID, bill.BillMonth, bill.BillYear,
		calendar.DateOnly(bill.ClosingDate), calendar.DateOnly(bill.DueDate), bill.TotalAmount, bill.PaidAmount,
		bill.RemainingAmount, bill.Status, bill.CreatedAt, bill.UpdatedAt)
	if isUniqueViolation(err, "bills_card_cycle_key") {
		return errs.Wrap(errs.ErrDuplicateBill, "card %s %02d/%d", t.card.ID, bill.BillMonth, bill.BillYear)
	}
	return err
}

func (t *pgTx) GetBill(billID string) (models.Bill, error) {
	bill, err := scanBill(t.tx.QueryRowContext(t.ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1 AND card_id = $2`,
		billID, t.card.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Bill{}, errs.Wrap(errs.ErrNotFound, "bill %s", billID)
	}
	return bill, err
}

func (t *pgTx) UpdateBill(bill models.Bill) error {
	const query = `UPDATE bills SET paid_amount = $3, remaining_amount = $4, status = $5, updated_at = $6
	WHERE id = $1 AND card_id = $2`

	res, err := t.tx.ExecContext(t.ctx, query, bill.ID, t.card.ID, bill.PaidAmount, bill.RemainingAmount, bill.Status, bill.UpdatedAt)
	return expectOne(res, err, "bill", bill.ID)
}

func (t *pgTx) InsertPlan(plan models.InstallmentPlan, items []models.InstallmentItem) error {
	if plan.CardID != t.card.ID {
		return errs.Wrap(errs.ErrInconsistent, "unit for card %s cannot insert plan of card %s", t.card.ID, plan.CardID)
	}
	const planQuery = `INSERT INTO installment_plans (` + planColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	_, err := t.tx.ExecContext(t.ctx, planQuery, plan.ID, plan.CardID, plan.CategoryID, plan.Description, plan.Notes,
		plan.TotalAmount, plan.InstallmentsCount, calendar.DateOnly(plan.FirstInstallmentDate), plan.Status, plan.MovementID,
		plan.CreatedAt, plan.UpdatedAt)
	if err != nil {
		return err
	}

	const itemQuery = `INSERT INTO installment_items (id, installment_id, installment_number, amount, due_date, status, paid_date, account_id)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	for _, it := range items {
		_, err := t.tx.ExecContext(t.ctx, itemQuery, it.ID, plan.ID, it.InstallmentNumber, it.Amount,
			calendar.DateOnly(it.DueDate), it.Status, nullTime(it.PaidDate), it.AccountID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) GetPlan(planID string) (models.InstallmentPlan, error) {
	plan, err := scanPlan(t.tx.QueryRowContext(t.ctx, `SELECT `+planColumns+` FROM installment_plans
	WHERE id = $1 AND card_id = $2`, planID, t.card.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.InstallmentPlan{}, errs.Wrap(errs.ErrNotFound, "installment plan %s", planID)
	}
	return plan, err
}

func (t *pgTx) UpdatePlan(plan models.InstallmentPlan) error {
	res, err := t.tx.ExecContext(t.ctx, `UPDATE installment_plans SET status = $3, updated_at = $4
	WHERE id = $1 AND card_id = $2`, plan.ID, t.card.ID, plan.Status, plan.UpdatedAt)
	return expectOne(res, err, "installment plan", plan.ID)
}

func (t *pgTx) GetItem(itemID string) (models.InstallmentItem, error) {
	item, err := scanItem(t.tx.QueryRowContext(t.ctx, `SELECT `+itemColumns+` FROM installment_items i
	JOIN installment_plans p ON p.id = i.installment_id
	WHERE i.id = $1 AND p.card_id = $2`, itemID, t.card.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.InstallmentItem{}, errs.Wrap(errs.ErrNotFound, "installment item %s", itemID)
	}
	return item, err
}

func (t *pgTx) ListItems(planID string) ([]models.InstallmentItem, error) {
	if _, err := t.GetPlan(planID); err != nil {
		return nil, err
	}
	return queryItems(t.ctx, t.tx, `SELECT `+itemColumns+` FROM installment_items i
	WHERE i.installment_id = $1 ORDER BY i.installment_number`, planID)
}

func (t *pgTx) UpdateItem(item models.InstallmentItem) error {
	res, err := t.tx.ExecContext(t.ctx, `UPDATE installment_items i SET status = $3, paid_date = $4, account_id = $5
	FROM installment_plans p
	WHERE i.id = $1 AND p.id = i.installment_id AND p.card_id = $2`,
		item.ID, t.card.ID, item.Status, nullTime(item.PaidDate), item.AccountID)
	return expectOne(res, err, "installment item", item.ID)
}

func (t *pgTx) LookupIdempotencyKey(key string) (models.IdempotencyRecord, bool, error) {
	rec := models.IdempotencyRecord{Key: key}
	err := t.tx.QueryRowContext(t.ctx, `SELECT target, amount, movement_id FROM idempotency_keys
	WHERE card_id = $1 AND key = $2`, t.card.ID, key).Scan(&rec.Target, &rec.Amount, &rec.MovementID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return models.IdempotencyRecord{}, false, err
	}
	return rec, true, nil
}

func (t *pgTx) SaveIdempotencyKey(rec models.IdempotencyRecord) error {
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO idempotency_keys (card_id, key, target, amount, movement_id)
	VALUES ($1, $2, $3, $4, $5)`, t.card.ID, rec.Key, rec.Target, rec.Amount, rec.MovementID)
	if isUniqueViolation(err, "idempotency_keys_pkey") {
		return errs.Wrap(errs.ErrInvalidRequest, "idempotency key %q already used on card %s", rec.Key, t.card.ID)
	}
	return err
}

func expectOne(res sql.Result, err error, what, id string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.Wrap(errs.ErrNotFound, "%s %s", what, id)
	}
	return nil
}

var _ interfaces.CardTx = (*pgTx)(nil)
