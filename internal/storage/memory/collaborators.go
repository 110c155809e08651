package memory

import (
	"context"
	"sync"

	"github.com/sheikh-saqib/card-ledger-engine/internal/errs"
	interfaces "github.com/sheikh-saqib/card-ledger-engine/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-engine/internal/models"
)

// ReferenceStore keeps accounts and categories in memory.
type ReferenceStore struct {
	mu         sync.RWMutex
	accounts   map[string]models.Account
	categories map[string]models.Category
}

func NewReferenceStore() *ReferenceStore {
	return &ReferenceStore{
		accounts:   make(map[string]models.Account),
		categories: make(map[string]models.Category),
	}
}

func (r *ReferenceStore) PutAccount(a models.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[a.ID] = a
}

func (r *ReferenceStore) PutCategory(c models.Category) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories[c.ID] = c
}

func (r *ReferenceStore) GetAccount(ctx context.Context, accountID string) (models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[accountID]
	if !ok {
		return models.Account{}, errs.Wrap(errs.ErrNotFound, "account %s", accountID)
	}
	return a, nil
}

func (r *ReferenceStore) GetCategory(ctx context.Context, categoryID string) (models.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.categories[categoryID]
	if !ok {
		return models.Category{}, errs.Wrap(errs.ErrNotFound, "category %s", categoryID)
	}
	return c, nil
}

// TransactionLog is an in-memory general transaction history.
type TransactionLog struct {
	mu           sync.Mutex
	transactions []models.Transaction
}

func NewTransactionLog() *TransactionLog {
	return &TransactionLog{}
}

func (l *TransactionLog) RecordTransaction(ctx context.Context, tx models.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.transactions = append(l.transactions, tx)
	return nil
}

// Transactions returns a copy of every recorded transaction.
func (l *TransactionLog) Transactions() []models.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	copied := make([]models.Transaction, len(l.transactions))
	copy(copied, l.transactions)
	return copied
}

var (
	_ interfaces.AccountStore      = (*ReferenceStore)(nil)
	_ interfaces.CategoryStore     = (*ReferenceStore)(nil)
	_ interfaces.TransactionLedger = (*TransactionLog)(nil)
)
