package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/card-ledger-engine/internal/clock"
	"github.com/sheikh-saqib/card-ledger-engine/internal/errs"
	"github.com/sheikh-saqib/card-ledger-engine/internal/models"
	"github.com/sheikh-saqib/card-ledger-engine/internal/models/events"
	"github.com/sheikh-saqib/card-ledger-engine/internal/storage/memory"
)

const owner = "user-1"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	fail   bool
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	if p.fail {
		return errors.New("broker down")
	}
	return nil
}

func newTestLedger(t *testing.T, opts ...Option) (*Ledger, *memory.MemoryCardStore) {
	t.Helper()
	store := memory.NewMemoryCardStore()
	opts = append([]Option{WithClock(clock.NewFixed(time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)))}, opts...)
	return NewLedger(store, opts...), store
}

func openCard(t *testing.T, l *Ledger, limit string) models.Card {
	t.Helper()
	return openNamedCard(t, l, "Gold", limit)
}

func openNamedCard(t *testing.T, l *Ledger, name, limit string) models.Card {
	t.Helper()
	card, err := l.OpenCard(context.Background(), models.OpenCardRequest{
		UserID:         owner,
		Name:           name,
		LastFourDigits: "4242",
		CreditLimit:    d(limit),
		ClosingDay:     25,
		DueDay:         5,
	})
	require.NoError(t, err)
	return card
}

func charge(l *Ledger, cardID, amount string) (models.MovementResult, error) {
	return l.RecordCharge(context.Background(), models.MovementRequest{
		CardID: cardID, UserID: owner, Amount: d(amount), Description: "purchase",
	})
}

func pay(l *Ledger, cardID, amount string) (models.MovementResult, error) {
	return l.RecordPayment(context.Background(), models.MovementRequest{
		CardID: cardID, UserID: owner, Amount: d(amount), Description: "payment",
	})
}

func TestRecordCharge_LimitScenario(t *testing.T) {
	l, store := newTestLedger(t)
	card := openCard(t, l, "1000")
	_, err := charge(l, card.ID, "200")
	require.NoError(t, err)

	_, err = charge(l, card.ID, "900")
	require.ErrorIs(t, err, errs.ErrLimitExceeded)
	stored, err := store.GetCard(context.Background(), card.ID)
	require.NoError(t, err)
	assert.True(t, stored.UsedAmount.Equal(d("200")))

	res, err := charge(l, card.ID, "700")
	require.NoError(t, err)
	assert.True(t, res.Card.UsedAmount.Equal(d("900")))
	assert.Equal(t, models.MovementCharge, res.Movement.Type)
	assert.True(t, res.Movement.PreviousUsedAmount.Equal(d("200")))
	assert.True(t, res.Movement.NewUsedAmount.Equal(d("900")))
	assert.Equal(t, int64(2), res.Movement.Sequence)

	movements, err := store.ListMovements(context.Background(), card.ID)
	require.NoError(t, err)
	assert.Len(t, movements, 2)
}

func TestRecordCharge_ExactlyToLimit(t *testing.T) {
	l, _ := newTestLedger(t)
	card := openCard(t, l, "500")

	res, err := charge(l, card.ID, "500")
	require.NoError(t, err)
	assert.True(t, res.Card.Available().IsZero())

	_, err = charge(l, card.ID, "0.01")
	assert.ErrorIs(t, err, errs.ErrLimitExceeded)
}

func TestRecordCharge_InvalidAmounts(t *testing.T) {
	l, store := newTestLedger(t)
	card := openCard(t, l, "500")

	for _, amount := range []string{"0", "-5", "1.001"} {
		_, err := charge(l, card.ID, amount)
		assert.ErrorIs(t, err, errs.ErrInvalidAmount, amount)
	}
	movements, _ := store.ListMovements(context.Background(), card.ID)
	assert.Empty(t, movements)
}

func TestRecordPayment(t *testing.T) {
	l, store := newTestLedger(t)
	card := openCard(t, l, "1000")
	_, err := charge(l, card.ID, "300")
	require.NoError(t, err)

	_, err = pay(l, card.ID, "300.01")
	require.ErrorIs(t, err, errs.ErrInvalidAmount)
	stored, _ := store.GetCard(context.Background(), card.ID)
	assert.True(t, stored.UsedAmount.Equal(d("300")))

	res, err := pay(l, card.ID, "120.50")
	require.NoError(t, err)
	assert.True(t, res.Card.UsedAmount.Equal(d("179.50")))
	assert.Equal(t, models.MovementPayment, res.Movement.Type)
	assert.True(t, res.Movement.Amount.Equal(d("120.50")))

	res, err = pay(l, card.ID, "179.50")
	require.NoError(t, err)
	assert.True(t, res.Card.UsedAmount.IsZero())
}

func TestRecordAdjustment_LowerThanUsedWarns(t *testing.T) {
	l, _ := newTestLedger(t)
	card := openCard(t, l, "1000")
	_, err := charge(l, card.ID, "800")
	require.NoError(t, err)

	res, err := l.RecordAdjustment(context.Background(), models.AdjustmentRequest{
		CardID: card.ID, UserID: owner, NewLimit: d("600"), Reason: "risk review",
	})
	require.NoError(t, err)
	assert.True(t, res.OverLimit)
	assert.True(t, res.Card.CreditLimit.Equal(d("600")))
	assert.True(t, res.Card.UsedAmount.Equal(d("800")))
	assert.Equal(t, models.MovementAdjustment, res.Movement.Type)
	assert.True(t, res.Movement.PreviousUsedAmount.Equal(res.Movement.NewUsedAmount))
	assert.True(t, res.Movement.PreviousLimit.Equal(d("1000")))
	assert.True(t, res.Movement.NewLimit.Equal(d("600")))

	_, err = charge(l, card.ID, "1")
	assert.ErrorIs(t, err, errs.ErrLimitExceeded)

	res, err = l.RecordAdjustment(context.Background(), models.AdjustmentRequest{
		CardID: card.ID, UserID: owner, NewLimit: d("2000"),
	})
	require.NoError(t, err)
	assert.False(t, res.OverLimit)

	_, err = l.RecordAdjustment(context.Background(), models.AdjustmentRequest{
		CardID: card.ID, UserID: owner, NewLimit: decimal.Zero,
	})
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
}

func TestHistory_NewestFirst(t *testing.T) {
	l, _ := newTestLedger(t, WithHistoryLimit(2))
	card := openCard(t, l, "1000")
	for _, amount := range []string{"10", "20", "30"} {
		_, err := charge(l, card.ID, amount)
		require.NoError(t, err)
	}

	history, err := l.History(context.Background(), card.ID, owner, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Amount.Equal(d("30")))
	assert.True(t, history[1].Amount.Equal(d("20")))

	history, err = l.History(context.Background(), card.ID, owner, 10)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestOwnership_OtherUserSeesNotFound(t *testing.T) {
	l, _ := newTestLedger(t)
	card := openCard(t, l, "1000")

	_, err := l.RecordCharge(context.Background(), models.MovementRequest{
		CardID: card.ID, UserID: "intruder", Amount: d("10"),
	})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = l.History(context.Background(), card.ID, "intruder", 5)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = charge(l, "missing-card", "10")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestOpenCard_Validation(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.OpenCard(context.Background(), models.OpenCardRequest{UserID: owner, CreditLimit: d("0"), ClosingDay: 1, DueDay: 10})
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
	_, err = l.OpenCard(context.Background(), models.OpenCardRequest{UserID: owner, CreditLimit: d("10"), ClosingDay: 32, DueDay: 10})
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)
	_, err = l.OpenCard(context.Background(), models.OpenCardRequest{UserID: owner, CreditLimit: d("10"), ClosingDay: 3, DueDay: 10, LastFourDigits: "12a4"})
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)
}

func TestOpenCard_RejectsDuplicateNameAndDigits(t *testing.T) {
	l, _ := newTestLedger(t)
	openCard(t, l, "1000")

	_, err := l.OpenCard(context.Background(), models.OpenCardRequest{
		UserID: owner, Name: " gold ", LastFourDigits: "4242", CreditLimit: d("500"), ClosingDay: 1, DueDay: 10,
	})
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)

	_, err = l.OpenCard(context.Background(), models.OpenCardRequest{
		UserID: owner, Name: "Gold", LastFourDigits: "1111", CreditLimit: d("500"), ClosingDay: 1, DueDay: 10,
	})
	assert.NoError(t, err)
	_, err = l.OpenCard(context.Background(), models.OpenCardRequest{
		UserID: "user-2", Name: "Gold", LastFourDigits: "4242", CreditLimit: d("500"), ClosingDay: 1, DueDay: 10,
	})
	assert.NoError(t, err)
}

func TestListCards_OnlyTheUsersCards(t *testing.T) {
	l, _ := newTestLedger(t)
	gold := openNamedCard(t, l, "Gold", "1000")
	black := openNamedCard(t, l, "Black", "5000")
	_, err := l.OpenCard(context.Background(), models.OpenCardRequest{
		UserID: "user-2", Name: "Other", CreditLimit: d("100"), ClosingDay: 1, DueDay: 10,
	})
	require.NoError(t, err)

	cards, err := l.ListCards(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	ids := []string{cards[0].ID, cards[1].ID}
	assert.ElementsMatch(t, []string{gold.ID, black.ID}, ids)

	none, err := l.ListCards(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = l.ListCards(context.Background(), " ")
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)
}

func TestUpdateCard_EditsDetailsOnly(t *testing.T) {
	pub := &recordingPublisher{}
	l, store := newTestLedger(t, WithPublisher(pub))
	card := openCard(t, l, "1000")
	_, err := charge(l, card.ID, "300")
	require.NoError(t, err)

	name, digits, closing, due := " Platinum ", "9876", 28, 8
	updated, err := l.UpdateCard(context.Background(), models.UpdateCardRequest{
		CardID: card.ID, UserID: owner, Name: &name, LastFourDigits: &digits, ClosingDay: &closing, DueDay: &due,
	})
	require.NoError(t, err)
	assert.Equal(t, "Platinum", updated.Name)
	assert.Equal(t, "9876", updated.LastFourDigits)
	assert.Equal(t, 28, updated.ClosingDay)
	assert.Equal(t, 8, updated.DueDay)

	stored, err := store.GetCard(context.Background(), card.ID)
	require.NoError(t, err)
	assert.Equal(t, updated, stored)
	assert.True(t, stored.CreditLimit.Equal(d("1000")))
	assert.True(t, stored.UsedAmount.Equal(d("300")))
	assert.Equal(t, int64(1), stored.MovementSeq)
	assert.Equal(t, []string{events.TopicMovementRecorded, events.TopicCardUpdated}, pub.topics)

	// Only the fields that are set change.
	closing = 10
	updated, err = l.UpdateCard(context.Background(), models.UpdateCardRequest{CardID: card.ID, UserID: owner, ClosingDay: &closing})
	require.NoError(t, err)
	assert.Equal(t, "Platinum", updated.Name)
	assert.Equal(t, 10, updated.ClosingDay)
	assert.Equal(t, 8, updated.DueDay)
}

func TestUpdateCard_Rejections(t *testing.T) {
	l, store := newTestLedger(t)
	card := openCard(t, l, "1000")

	bad, letters := 0, "12ab"
	_, err := l.UpdateCard(context.Background(), models.UpdateCardRequest{CardID: card.ID, UserID: owner, DueDay: &bad})
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)
	_, err = l.UpdateCard(context.Background(), models.UpdateCardRequest{CardID: card.ID, UserID: owner, LastFourDigits: &letters})
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)

	name := "Stolen"
	_, err = l.UpdateCard(context.Background(), models.UpdateCardRequest{CardID: card.ID, UserID: "intruder", Name: &name})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	stored, err := store.GetCard(context.Background(), card.ID)
	require.NoError(t, err)
	assert.Equal(t, card, stored)
}

func TestDeleteCard(t *testing.T) {
	pub := &recordingPublisher{}
	l, store := newTestLedger(t, WithPublisher(pub))
	card := openCard(t, l, "1000")

	require.ErrorIs(t, l.DeleteCard(context.Background(), card.ID, "intruder"), errs.ErrNotFound)
	require.NoError(t, l.DeleteCard(context.Background(), card.ID, owner))

	_, err := store.GetCard(context.Background(), card.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, l.DeleteCard(context.Background(), card.ID, owner), errs.ErrNotFound)
	assert.Equal(t, []string{events.TopicCardDeleted}, pub.topics)
}

func TestDeleteCard_RejectedWhileInUse(t *testing.T) {
	l, store := newTestLedger(t)

	charged := openNamedCard(t, l, "Charged", "1000")
	_, err := charge(l, charged.ID, "10")
	require.NoError(t, err)
	_, err = pay(l, charged.ID, "10")
	require.NoError(t, err)

	billed := openNamedCard(t, l, "Billed", "1000")
	require.NoError(t, l.Within(context.Background(), billed.ID, owner, func(u *Unit) error {
		return u.Tx().InsertBill(models.Bill{
			ID: "bill-empty", CardID: billed.ID, BillMonth: 3, BillYear: 2026, Status: models.BillPaid,
		})
	}))

	for _, card := range []models.Card{charged, billed} {
		err := l.DeleteCard(context.Background(), card.ID, owner)
		assert.ErrorIs(t, err, errs.ErrCardInUse, card.Name)
		_, err = store.GetCard(context.Background(), card.ID)
		assert.NoError(t, err, card.Name)
	}
}

func TestCardLocks_StripedByID(t *testing.T) {
	l, _ := newTestLedger(t)
	assert.Same(t, l.getCardLock("card-1"), l.getCardLock("card-1"))

	stripes := make(map[uint32]bool)
	for i := 0; i < 10000; i++ {
		s := stripeOf(fmt.Sprintf("card-%d", i))
		require.Less(t, s, uint32(lockStripes))
		stripes[s] = true
	}
	assert.Len(t, stripes, lockStripes)
}

func TestWithin_FailureRollsBackEverything(t *testing.T) {
	l, store := newTestLedger(t)
	card := openCard(t, l, "1000")

	boom := errors.New("later step failed")
	err := l.Within(context.Background(), card.ID, owner, func(u *Unit) error {
		if _, err := u.Charge(d("400"), "first"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, _ := store.GetCard(context.Background(), card.ID)
	assert.True(t, stored.UsedAmount.IsZero())
	assert.Equal(t, int64(0), stored.MovementSeq)
	movements, _ := store.ListMovements(context.Background(), card.ID)
	assert.Empty(t, movements)
}

func TestConcurrentCharges_NeverExceedLimit(t *testing.T) {
	l, store := newTestLedger(t)
	card := openCard(t, l, "300")

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, rejected := 0, 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := charge(l, card.ID, "10")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else if errors.Is(err, errs.ErrLimitExceeded) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 30, accepted)
	assert.Equal(t, 20, rejected)
	stored, _ := store.GetCard(context.Background(), card.ID)
	assert.True(t, stored.UsedAmount.Equal(d("300")))

	report, err := l.Reconcile(context.Background(), card.ID, owner)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, 30, report.Movements)
}

func TestConcurrentChargesAndPayments_AcrossCards(t *testing.T) {
	l, _ := newTestLedger(t)
	cards := []models.Card{openNamedCard(t, l, "Gold", "10000"), openNamedCard(t, l, "Black", "10000")}

	var wg sync.WaitGroup
	for _, card := range cards {
		for i := 0; i < 20; i++ {
			wg.Add(2)
			go func(id string) {
				defer wg.Done()
				_, _ = charge(l, id, "25")
			}(card.ID)
			go func(id string) {
				defer wg.Done()
				_, _ = pay(l, id, "5")
			}(card.ID)
		}
	}
	wg.Wait()

	reports, err := l.ReconcileAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.True(t, r.Consistent)
		assert.True(t, r.StoredUsedAmount.Equal(r.ReplayedUsedAmount))
	}
}

func TestPublisher_ReceivesMovementEvents(t *testing.T) {
	pub := &recordingPublisher{}
	l, _ := newTestLedger(t, WithPublisher(pub))
	card := openCard(t, l, "1000")

	_, err := charge(l, card.ID, "10")
	require.NoError(t, err)
	_, err = charge(l, card.ID, "5000")
	require.Error(t, err)

	assert.Equal(t, []string{events.TopicMovementRecorded}, pub.topics)
}

func TestPublisher_FailureDoesNotFailCharge(t *testing.T) {
	l, _ := newTestLedger(t, WithPublisher(&recordingPublisher{fail: true}))
	card := openCard(t, l, "1000")

	res, err := charge(l, card.ID, "10")
	require.NoError(t, err)
	assert.True(t, res.Card.UsedAmount.Equal(d("10")))
}
