package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/card-ledger-engine/internal/errs"
	interfaces "github.com/sheikh-saqib/card-ledger-engine/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-engine/internal/models"
)

var day = time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

func newStoreWithCard(t *testing.T) *MemoryCardStore {
	t.Helper()
	s := NewMemoryCardStore()
	require.NoError(t, s.CreateCard(context.Background(), models.Card{
		ID: "card-1", UserID: "user-1", CreditLimit: decimal.NewFromInt(1000), UsedAmount: decimal.Zero,
	}))
	return s
}

func charge(seq int64, prev, amount int64) models.LimitMovement {
	return models.LimitMovement{
		ID:                 "mv-" + decimal.NewFromInt(seq).String(),
		CardID:             "card-1",
		Sequence:           seq,
		Type:               models.MovementCharge,
		Amount:             decimal.NewFromInt(amount),
		PreviousUsedAmount: decimal.NewFromInt(prev),
		NewUsedAmount:      decimal.NewFromInt(prev + amount),
		CreatedAt:          day,
	}
}

func TestInTx_RollbackLeavesNoTrace(t *testing.T) {
	s := newStoreWithCard(t)
	ctx := context.Background()

	err := s.InTx(ctx, "card-1", func(tx interfaces.CardTx) error {
		card := tx.Card()
		card.UsedAmount = decimal.NewFromInt(100)
		require.NoError(t, tx.SaveCard(card))
		require.NoError(t, tx.AppendMovement(charge(1, 0, 100)))
		require.NoError(t, tx.InsertBill(models.Bill{ID: "bill-1", CardID: "card-1", BillMonth: 3, BillYear: 2026}))
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")

	card, err := s.GetCard(ctx, "card-1")
	require.NoError(t, err)
	assert.True(t, card.UsedAmount.IsZero())
	movements, err := s.ListMovements(ctx, "card-1")
	require.NoError(t, err)
	assert.Empty(t, movements)
	_, err = s.GetBill(ctx, "bill-1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestInTx_CommitAppliesEverything(t *testing.T) {
	s := newStoreWithCard(t)
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, "card-1", func(tx interfaces.CardTx) error {
		if err := tx.AppendMovement(charge(1, 0, 100)); err != nil {
			return err
		}
		if err := tx.AppendMovement(charge(2, 100, 50)); err != nil {
			return err
		}
		return tx.SaveIdempotencyKey(models.IdempotencyRecord{
			Key: "key-1", Target: models.IdempotencyTargetCard, Amount: decimal.NewFromInt(50), MovementID: "mv-2",
		})
	}))

	recent, err := s.RecentMovements(ctx, "card-1", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, int64(2), recent[0].Sequence)

	require.NoError(t, s.InTx(ctx, "card-1", func(tx interfaces.CardTx) error {
		rec, found, err := tx.LookupIdempotencyKey("key-1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "mv-2", rec.MovementID)
		assert.True(t, rec.Matches(models.IdempotencyTargetCard, decimal.NewFromInt(50)))
		assert.False(t, rec.Matches("bill-1", decimal.NewFromInt(50)))

		mv, err := tx.GetMovement(rec.MovementID)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(150).Equal(mv.NewUsedAmount))

		err = tx.SaveIdempotencyKey(models.IdempotencyRecord{Key: "key-1", Target: "bill-1", MovementID: "mv-1"})
		assert.ErrorIs(t, err, errs.ErrInvalidRequest)
		return nil
	}))
}

func TestAppendMovement_RejectsBrokenChain(t *testing.T) {
	s := newStoreWithCard(t)
	ctx := context.Background()

	err := s.InTx(ctx, "card-1", func(tx interfaces.CardTx) error {
		return tx.AppendMovement(charge(2, 0, 100))
	})
	assert.ErrorIs(t, err, errs.ErrInconsistent, "sequence gap")

	err = s.InTx(ctx, "card-1", func(tx interfaces.CardTx) error {
		if err := tx.AppendMovement(charge(1, 0, 100)); err != nil {
			return err
		}
		return tx.AppendMovement(charge(2, 90, 10))
	})
	assert.ErrorIs(t, err, errs.ErrInconsistent, "previous used amount mismatch")
}

func TestInsertBill_Duplicate(t *testing.T) {
	s := newStoreWithCard(t)
	ctx := context.Background()
	bill := models.Bill{ID: "bill-1", CardID: "card-1", BillMonth: 3, BillYear: 2026}

	require.NoError(t, s.InTx(ctx, "card-1", func(tx interfaces.CardTx) error {
		return tx.InsertBill(bill)
	}))
	err := s.InTx(ctx, "card-1", func(tx interfaces.CardTx) error {
		bill.ID = "bill-2"
		return tx.InsertBill(bill)
	})
	assert.ErrorIs(t, err, errs.ErrDuplicateBill)
}

func TestInTx_CancelledContextDoesNotCommit(t *testing.T) {
	s := newStoreWithCard(t)
	ctx, cancel := context.WithCancel(context.Background())

	err := s.InTx(ctx, "card-1", func(tx interfaces.CardTx) error {
		cancel()
		return tx.AppendMovement(charge(1, 0, 100))
	})
	assert.ErrorIs(t, err, context.Canceled)

	movements, err := s.ListMovements(context.Background(), "card-1")
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func TestListUnpaidBillsDueBefore(t *testing.T) {
	s := newStoreWithCard(t)
	ctx := context.Background()
	bills := []models.Bill{
		{ID: "a", CardID: "card-1", BillMonth: 1, BillYear: 2026, DueDate: day.AddDate(0, 0, -10), Status: models.BillOpen, RemainingAmount: decimal.NewFromInt(10)},
		{ID: "b", CardID: "card-1", BillMonth: 2, BillYear: 2026, DueDate: day.AddDate(0, 0, -5), Status: models.BillPaid, RemainingAmount: decimal.Zero},
		{ID: "c", CardID: "card-1", BillMonth: 3, BillYear: 2026, DueDate: day, Status: models.BillPartial, RemainingAmount: decimal.NewFromInt(5)},
	}
	require.NoError(t, s.InTx(ctx, "card-1", func(tx interfaces.CardTx) error {
		for _, b := range bills {
			if err := tx.InsertBill(b); err != nil {
				return err
			}
		}
		return nil
	}))

	due, err := s.ListUnpaidBillsDueBefore(ctx, day)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "a", due[0].ID)

	listed, err := s.ListBills(ctx, "card-1")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, 3, listed[0].BillMonth, "newest cycle first")
}

func TestListCards_ByOwner(t *testing.T) {
	s := newStoreWithCard(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCard(ctx, models.Card{ID: "card-0", UserID: "user-1", CreatedAt: day.Add(-time.Hour)}))
	require.NoError(t, s.CreateCard(ctx, models.Card{ID: "card-2", UserID: "user-2", CreatedAt: day}))

	cards, err := s.ListCards(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "card-0", cards[0].ID)
	assert.Equal(t, "card-1", cards[1].ID)

	cards, err = s.ListCards(ctx, "user-3")
	require.NoError(t, err)
	assert.NotNil(t, cards)
	assert.Empty(t, cards)
}

func TestCountDependents_SeesStagedAndCommitted(t *testing.T) {
	s := newStoreWithCard(t)
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, "card-1", func(tx interfaces.CardTx) error {
		return tx.AppendMovement(charge(1, 0, 100))
	}))
	require.NoError(t, s.InTx(ctx, "card-1", func(tx interfaces.CardTx) error {
		require.NoError(t, tx.InsertBill(models.Bill{ID: "bill-1", CardID: "card-1", BillMonth: 3, BillYear: 2026}))
		require.NoError(t, tx.InsertPlan(models.InstallmentPlan{ID: "plan-1", CardID: "card-1"}, nil))

		deps, err := tx.CountDependents()
		require.NoError(t, err)
		assert.Equal(t, models.CardDependents{Movements: 1, Bills: 1, Plans: 1}, deps)
		assert.True(t, deps.Any())
		return nil
	}))
}

func TestDeleteCard_AppliesOnCommit(t *testing.T) {
	s := newStoreWithCard(t)
	ctx := context.Background()

	err := s.InTx(ctx, "card-1", func(tx interfaces.CardTx) error {
		deps, err := tx.CountDependents()
		require.NoError(t, err)
		assert.False(t, deps.Any())
		require.NoError(t, tx.DeleteCard())
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")
	_, err = s.GetCard(ctx, "card-1")
	require.NoError(t, err)

	require.NoError(t, s.InTx(ctx, "card-1", func(tx interfaces.CardTx) error {
		return tx.DeleteCard()
	}))
	_, err = s.GetCard(ctx, "card-1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	ids, err := s.ListCardIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
