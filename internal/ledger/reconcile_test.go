package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/card-ledger-engine/internal/errs"
	"github.com/sheikh-saqib/card-ledger-engine/internal/models"
	"github.com/sheikh-saqib/card-ledger-engine/internal/storage/memory"
)

// lossyStore drops the newest movement from ListMovements, simulating a log
// that lost a write the balance still reflects.
type lossyStore struct {
	*memory.MemoryCardStore
}

func (s lossyStore) ListMovements(ctx context.Context, cardID string) ([]models.LimitMovement, error) {
	all, err := s.MemoryCardStore.ListMovements(ctx, cardID)
	if err != nil || len(all) == 0 {
		return all, err
	}
	return all[:len(all)-1], nil
}

func mv(seq int64, kind models.MovementType, amount, prev, next string) models.LimitMovement {
	return models.LimitMovement{
		ID:                 "m",
		Sequence:           seq,
		Type:               kind,
		Amount:             d(amount),
		PreviousUsedAmount: d(prev),
		NewUsedAmount:      d(next),
	}
}

func TestReplay_ReproducesUsedAmount(t *testing.T) {
	used, err := Replay([]models.LimitMovement{
		mv(1, models.MovementCharge, "200", "0", "200"),
		mv(2, models.MovementCharge, "700", "200", "900"),
		mv(3, models.MovementAdjustment, "1500", "900", "900"),
		mv(4, models.MovementPayment, "400", "900", "500"),
	})
	require.NoError(t, err)
	assert.True(t, used.Equal(d("500")))
}

func TestReplay_DetectsBrokenChain(t *testing.T) {
	cases := map[string][]models.LimitMovement{
		"gap in previous": {
			mv(1, models.MovementCharge, "200", "0", "200"),
			mv(2, models.MovementCharge, "10", "250", "260"),
		},
		"wrong arithmetic": {
			mv(1, models.MovementCharge, "200", "0", "210"),
		},
		"sequence hole": {
			mv(1, models.MovementCharge, "200", "0", "200"),
			mv(3, models.MovementPayment, "50", "200", "150"),
		},
		"adjustment moves balance": {
			mv(1, models.MovementAdjustment, "500", "0", "20"),
		},
	}
	for name, movements := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Replay(movements)
			assert.ErrorIs(t, err, errs.ErrInconsistent)
			assert.True(t, errs.IsFatal(err))
		})
	}
}

func TestReconcile_Consistent(t *testing.T) {
	l, _ := newTestLedger(t)
	card := openCard(t, l, "1000")
	_, err := charge(l, card.ID, "200")
	require.NoError(t, err)
	_, err = pay(l, card.ID, "50")
	require.NoError(t, err)

	report, err := l.Reconcile(context.Background(), card.ID, owner)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.True(t, report.ReplayedUsedAmount.Equal(d("150")))
	assert.Equal(t, 2, report.Movements)
}

func TestReconcile_DriftIsInconsistent(t *testing.T) {
	store := lossyStore{memory.NewMemoryCardStore()}
	l := NewLedger(store)
	card := openCard(t, l, "1000")
	_, err := charge(l, card.ID, "200")
	require.NoError(t, err)
	_, err = charge(l, card.ID, "100")
	require.NoError(t, err)

	report, err := l.Reconcile(context.Background(), card.ID, owner)
	require.ErrorIs(t, err, errs.ErrInconsistent)
	assert.False(t, report.Consistent)
	assert.True(t, report.StoredUsedAmount.Equal(d("300")))
	assert.True(t, report.ReplayedUsedAmount.Equal(d("200")))
	assert.NotEmpty(t, report.Problem)

	reports, err := l.ReconcileAll(context.Background())
	assert.ErrorIs(t, err, errs.ErrInconsistent)
	assert.Len(t, reports, 1)
}
