package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/sheikh-saqib/card-ledger-engine/internal/calendar"
	"github.com/sheikh-saqib/card-ledger-engine/internal/models"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanCard(row rowScanner) (models.Card, error) {
	var c models.Card
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.LastFourDigits, &c.CreditLimit, &c.UsedAmount,
		&c.ClosingDay, &c.DueDay, &c.MovementSeq, &c.CreatedAt, &c.UpdatedAt)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, err
}

func scanMovement(row rowScanner) (models.LimitMovement, error) {
	var m models.LimitMovement
	err := row.Scan(&m.ID, &m.CardID, &m.Sequence, &m.Type, &m.Amount, &m.PreviousUsedAmount,
		&m.NewUsedAmount, &m.PreviousLimit, &m.NewLimit, &m.Description, &m.CreatedAt)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, err
}

func scanBill(row rowScanner) (models.Bill, error) {
	var b models.Bill
	err := row.Scan(&b.ID, &b.CardID, &b.BillMonth, &b.BillYear, &b.ClosingDate, &b.DueDate,
		&b.TotalAmount, &b.PaidAmount, &b.RemainingAmount, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	b.ClosingDate = calendar.DateOnly(b.ClosingDate)
	b.DueDate = calendar.DateOnly(b.DueDate)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, err
}

func scanPlan(row rowScanner) (models.InstallmentPlan, error) {
	var p models.InstallmentPlan
	err := row.Scan(&p.ID, &p.CardID, &p.CategoryID, &p.Description, &p.Notes, &p.TotalAmount,
		&p.InstallmentsCount, &p.FirstInstallmentDate, &p.Status, &p.MovementID, &p.CreatedAt, &p.UpdatedAt)
	p.FirstInstallmentDate = calendar.DateOnly(p.FirstInstallmentDate)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

func scanItem(row rowScanner) (models.InstallmentItem, error) {
	var it models.InstallmentItem
	var paid sql.NullTime
	err := row.Scan(&it.ID, &it.PlanID, &it.InstallmentNumber, &it.Amount, &it.DueDate, &it.Status, &paid, &it.AccountID)
	it.DueDate = calendar.DateOnly(it.DueDate)
	if paid.Valid {
		t := paid.Time.UTC()
		it.PaidDate = &t
	}
	return it, err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func queryMovements(ctx context.Context, q queryer, query string, args ...any) ([]models.LimitMovement, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []models.LimitMovement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func queryBills(ctx context.Context, q queryer, query string, args ...any) ([]models.Bill, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bills []models.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

func queryItems(ctx context.Context, q queryer, query string, args ...any) ([]models.InstallmentItem, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.InstallmentItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
