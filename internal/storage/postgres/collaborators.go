package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sheikh-saqib/card-ledger-engine/internal/errs"
	interfaces "github.com/sheikh-saqib/card-ledger-engine/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-engine/internal/models"
)

// PostgresReferenceStore reads accounts and categories owned by the rest of
// the application.
type PostgresReferenceStore struct {
	db *sql.DB
}

func NewPostgresReferenceStore(db *sql.DB) *PostgresReferenceStore {
	return &PostgresReferenceStore{db: db}
}

func (p *PostgresReferenceStore) GetAccount(ctx context.Context, accountID string) (models.Account, error) {
	var a models.Account
	err := p.db.QueryRowContext(ctx, `SELECT id, user_id, name FROM accounts WHERE id = $1`, accountID).
		Scan(&a.ID, &a.UserID, &a.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, errs.Wrap(errs.ErrNotFound, "account %s", accountID)
	}
	return a, err
}

func (p *PostgresReferenceStore) GetCategory(ctx context.Context, categoryID string) (models.Category, error) {
	var c models.Category
	err := p.db.QueryRowContext(ctx, `SELECT id, user_id, name FROM categories WHERE id = $1`, categoryID).
		Scan(&c.ID, &c.UserID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Category{}, errs.Wrap(errs.ErrNotFound, "category %s", categoryID)
	}
	return c, err
}

// PostgresTransactionLedger appends to the general transaction history.
type PostgresTransactionLedger struct {
	db *sql.DB
}

func NewPostgresTransactionLedger(db *sql.DB) *PostgresTransactionLedger {
	return &PostgresTransactionLedger{db: db}
}

func (p *PostgresTransactionLedger) RecordTransaction(ctx context.Context, tx models.Transaction) error {
	const query = `INSERT INTO transactions (id, user_id, type, description, amount, date, card_id, account_id, notes, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	_, err := p.db.ExecContext(ctx, query, tx.ID, tx.UserID, tx.Type, tx.Description, tx.Amount, tx.Date,
		tx.CardID, tx.AccountID, tx.Notes, tx.CreatedAt)
	return err
}

var (
	_ interfaces.AccountStore      = (*PostgresReferenceStore)(nil)
	_ interfaces.CategoryStore     = (*PostgresReferenceStore)(nil)
	_ interfaces.TransactionLedger = (*PostgresTransactionLedger)(nil)
)
