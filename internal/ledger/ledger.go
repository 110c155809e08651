package ledger

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/card-ledger-engine/internal/clock"
	"github.com/sheikh-saqib/card-ledger-engine/internal/errs"
	interfaces "github.com/sheikh-saqib/card-ledger-engine/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-engine/internal/logger"
	"github.com/sheikh-saqib/card-ledger-engine/internal/models"
	"github.com/sheikh-saqib/card-ledger-engine/internal/models/events"
	"github.com/sheikh-saqib/card-ledger-engine/internal/money"
)

const DefaultHistoryLimit = 50

// lockStripes bounds the number of card mutexes; cards whose ids hash to the
// same stripe are serialized together.
const lockStripes = 256

// Ledger keeps the used amount of every card consistent with its append-only
// movement log. Mutations on one card are serialized; different cards run in
// parallel.
type Ledger struct {
	store        interfaces.CardStore
	publisher    interfaces.EventPublisher
	clock        clock.Clock
	log          zerolog.Logger
	historyLimit int

	locks [lockStripes]sync.Mutex
}

type Option func(*Ledger)

func WithPublisher(p interfaces.EventPublisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = logger.Component(log, "ledger") }
}

// WithHistoryLimit sets how many movements History returns when the caller
// asks for none in particular.
func WithHistoryLimit(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.historyLimit = n
		}
	}
}

func NewLedger(store interfaces.CardStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:        store,
		clock:        clock.System{},
		log:          logger.Nop(),
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) getCardLock(cardID string) *sync.Mutex {
	return &l.locks[stripeOf(cardID)]
}

func stripeOf(cardID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(cardID))
	return h.Sum32() % lockStripes
}

// Clock exposes the ledger's time source to the components built on it.
func (l *Ledger) Clock() clock.Clock { return l.clock }

// Store exposes the card store for read-only projections.
func (l *Ledger) Store() interfaces.CardStore { return l.store }

// Within runs fn as one atomic unit on cardID: read the card, validate,
// append movements, save the card. Nothing is written unless fn returns nil.
// A non-empty userID must own the card, otherwise the card is reported as
// not found. Events queued by the unit are published after commit. fn must
// not open another unit, since two cards may share a lock stripe.
func (l *Ledger) Within(ctx context.Context, cardID, userID string, fn func(u *Unit) error) error {
	unit, err := l.commitUnit(ctx, cardID, userID, fn)
	if err != nil {
		if errs.IsFatal(err) {
			l.log.Error().Err(err).Str("card_id", cardID).Bool("alert", true).Msg("ledger invariant violated")
		}
		return err
	}

	for _, mv := range unit.recorded {
		l.publish(ctx, events.TopicMovementRecorded, events.MovementRecorded{
			MovementID:         mv.ID,
			CardID:             mv.CardID,
			Sequence:           mv.Sequence,
			MovementType:       string(mv.Type),
			Amount:             mv.Amount,
			PreviousUsedAmount: mv.PreviousUsedAmount,
			NewUsedAmount:      mv.NewUsedAmount,
			OccurredAt:         mv.CreatedAt,
		})
	}
	for _, ev := range unit.events {
		l.publish(ctx, ev.topic, ev.payload)
	}
	return nil
}

func (l *Ledger) commitUnit(ctx context.Context, cardID, userID string, fn func(u *Unit) error) (*Unit, error) {
	cardMutex := l.getCardLock(cardID)
	cardMutex.Lock()
	defer cardMutex.Unlock()

	var unit *Unit
	err := l.store.InTx(ctx, cardID, func(tx interfaces.CardTx) error {
		card := tx.Card()
		if userID != "" && card.UserID != userID {
			return errs.Wrap(errs.ErrNotFound, "card %s", cardID)
		}
		unit = &Unit{tx: tx, card: card, now: l.clock.Now()}
		if err := fn(unit); err != nil {
			return err
		}
		if unit.dirty {
			return tx.SaveCard(unit.card)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unit, nil
}

// publish is best-effort: the unit is already committed.
func (l *Ledger) publish(ctx context.Context, topic string, event any) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, topic, event); err != nil {
		l.log.Warn().Err(err).Str("topic", topic).Msg("event publish failed")
	}
}

func validateCycleDays(closingDay, dueDay int) error {
	if closingDay < 1 || closingDay > 31 || dueDay < 1 || dueDay > 31 {
		return errs.Wrap(errs.ErrInvalidRequest, "closing_day and due_day must be within 1-31, got %d and %d", closingDay, dueDay)
	}
	return nil
}

func normalizeDigits(raw string) (string, error) {
	digits := strings.TrimSpace(raw)
	if len(digits) > 4 || strings.Trim(digits, "0123456789") != "" {
		return "", errs.Wrap(errs.ErrInvalidRequest, "last_four_digits must be up to four digits")
	}
	return digits, nil
}

// OpenCard registers a card with nothing used and an empty movement log. A
// user cannot hold two cards with the same name and final digits.
func (l *Ledger) OpenCard(ctx context.Context, req models.OpenCardRequest) (models.Card, error) {
	if err := money.ValidatePositive("credit_limit", req.CreditLimit); err != nil {
		return models.Card{}, err
	}
	if err := validateCycleDays(req.ClosingDay, req.DueDay); err != nil {
		return models.Card{}, err
	}
	digits, err := normalizeDigits(req.LastFourDigits)
	if err != nil {
		return models.Card{}, err
	}
	name := strings.TrimSpace(req.Name)
	if req.UserID != "" {
		existing, err := l.store.ListCards(ctx, req.UserID)
		if err != nil {
			return models.Card{}, err
		}
		for _, c := range existing {
			if strings.EqualFold(c.Name, name) && c.LastFourDigits == digits {
				return models.Card{}, errs.Wrap(errs.ErrInvalidRequest, "a card named %q ending in %q already exists", name, digits)
			}
		}
	}

	now := l.clock.Now()
	card := models.Card{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		Name:           name,
		LastFourDigits: digits,
		CreditLimit:    req.CreditLimit,
		UsedAmount:     decimal.Zero,
		ClosingDay:     req.ClosingDay,
		DueDay:         req.DueDay,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := l.store.CreateCard(ctx, card); err != nil {
		return models.Card{}, err
	}
	l.log.Info().Str("card_id", card.ID).Str("credit_limit", card.CreditLimit.String()).Msg("card opened")
	return card, nil
}

// GetCard returns the card when userID owns it (or userID is empty).
func (l *Ledger) GetCard(ctx context.Context, cardID, userID string) (models.Card, error) {
	card, err := l.store.GetCard(ctx, cardID)
	if err != nil {
		return models.Card{}, err
	}
	if userID != "" && card.UserID != userID {
		return models.Card{}, errs.Wrap(errs.ErrNotFound, "card %s", cardID)
	}
	return card, nil
}

// ListCards returns the user's cards, oldest first.
func (l *Ledger) ListCards(ctx context.Context, userID string) ([]models.Card, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errs.Wrap(errs.ErrInvalidRequest, "user id is required")
	}
	return l.store.ListCards(ctx, userID)
}

// UpdateCard edits the name, final digits and cycle days of a card. The
// used amount, the limit and the movement log are untouched.
func (l *Ledger) UpdateCard(ctx context.Context, req models.UpdateCardRequest) (models.Card, error) {
	var card models.Card
	err := l.Within(ctx, req.CardID, req.UserID, func(u *Unit) error {
		next := u.card
		if req.Name != nil {
			next.Name = strings.TrimSpace(*req.Name)
		}
		if req.LastFourDigits != nil {
			digits, err := normalizeDigits(*req.LastFourDigits)
			if err != nil {
				return err
			}
			next.LastFourDigits = digits
		}
		if req.ClosingDay != nil {
			next.ClosingDay = *req.ClosingDay
		}
		if req.DueDay != nil {
			next.DueDay = *req.DueDay
		}
		if err := validateCycleDays(next.ClosingDay, next.DueDay); err != nil {
			return err
		}

		next.UpdatedAt = u.now
		u.card = next
		u.dirty = true
		u.Emit(events.TopicCardUpdated, events.CardUpdated{
			CardID:         next.ID,
			Name:           next.Name,
			LastFourDigits: next.LastFourDigits,
			ClosingDay:     next.ClosingDay,
			DueDay:         next.DueDay,
			OccurredAt:     u.now,
		})
		card = next
		return nil
	})
	if err != nil {
		return models.Card{}, err
	}
	l.log.Info().Str("card_id", card.ID).Int("closing_day", card.ClosingDay).Int("due_day", card.DueDay).Msg("card updated")
	return card, nil
}

// DeleteCard removes a card that never had a movement, a bill or an
// installment plan. Any of those rejects the deletion with ErrCardInUse.
func (l *Ledger) DeleteCard(ctx context.Context, cardID, userID string) error {
	err := l.Within(ctx, cardID, userID, func(u *Unit) error {
		deps, err := u.tx.CountDependents()
		if err != nil {
			return err
		}
		if deps.Any() {
			return errs.Wrap(errs.ErrCardInUse, "card %s has %d movements, %d bills and %d installment plans",
				cardID, deps.Movements, deps.Bills, deps.Plans)
		}
		if err := u.tx.DeleteCard(); err != nil {
			return err
		}
		u.Emit(events.TopicCardDeleted, events.CardDeleted{CardID: cardID, UserID: u.card.UserID, OccurredAt: u.now})
		return nil
	})
	if err != nil {
		return err
	}
	l.log.Info().Str("card_id", cardID).Msg("card deleted")
	return nil
}

// RecordCharge consumes part of the card's limit. Charges that would push
// the used amount past the credit limit are rejected before any write.
func (l *Ledger) RecordCharge(ctx context.Context, req models.MovementRequest) (models.MovementResult, error) {
	if err := money.ValidatePositive("amount", req.Amount); err != nil {
		return models.MovementResult{}, err
	}

	var result models.MovementResult
	err := l.Within(ctx, req.CardID, req.UserID, func(u *Unit) error {
		mv, err := u.Charge(req.Amount, req.Description)
		if err != nil {
			return err
		}
		result = models.MovementResult{Card: u.Card(), Movement: mv}
		return nil
	})
	if err != nil {
		return models.MovementResult{}, err
	}

	l.log.Info().Str("card_id", req.CardID).Str("amount", req.Amount.String()).
		Str("used_amount", result.Card.UsedAmount.String()).Msg("charge recorded")
	return result, nil
}

// RecordPayment gives back limit. A payment can never exceed the used amount.
func (l *Ledger) RecordPayment(ctx context.Context, req models.MovementRequest) (models.MovementResult, error) {
	if err := money.ValidatePositive("amount", req.Amount); err != nil {
		return models.MovementResult{}, err
	}

	var result models.MovementResult
	err := l.Within(ctx, req.CardID, req.UserID, func(u *Unit) error {
		mv, err := u.Pay(req.Amount, req.Description)
		if err != nil {
			return err
		}
		result = models.MovementResult{Card: u.Card(), Movement: mv}
		return nil
	})
	if err != nil {
		return models.MovementResult{}, err
	}

	l.log.Info().Str("card_id", req.CardID).Str("amount", req.Amount.String()).
		Str("used_amount", result.Card.UsedAmount.String()).Msg("payment recorded")
	return result, nil
}

// RecordAdjustment changes the credit limit. Lowering it below the used
// amount is allowed and reported through OverLimit.
func (l *Ledger) RecordAdjustment(ctx context.Context, req models.AdjustmentRequest) (models.AdjustmentResult, error) {
	if err := money.ValidatePositive("new_limit", req.NewLimit); err != nil {
		return models.AdjustmentResult{}, err
	}

	var result models.AdjustmentResult
	err := l.Within(ctx, req.CardID, req.UserID, func(u *Unit) error {
		mv, overLimit, err := u.Adjust(req.NewLimit, req.Reason)
		if err != nil {
			return err
		}
		result = models.AdjustmentResult{Card: u.Card(), Movement: mv, OverLimit: overLimit}
		return nil
	})
	if err != nil {
		return models.AdjustmentResult{}, err
	}

	event := l.log.Info()
	if result.OverLimit {
		event = l.log.Warn()
	}
	event.Str("card_id", req.CardID).Str("previous_limit", result.Movement.PreviousLimit.String()).
		Str("new_limit", req.NewLimit.String()).Bool("over_limit", result.OverLimit).Msg("limit adjusted")
	return result, nil
}

// History returns the most recent n movements of the card, newest first.
// n <= 0 uses the configured default.
func (l *Ledger) History(ctx context.Context, cardID, userID string, n int) ([]models.LimitMovement, error) {
	if _, err := l.GetCard(ctx, cardID, userID); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = l.historyLimit
	}
	return l.store.RecentMovements(ctx, cardID, n)
}

// Unit is one atomic ledger unit on a locked card. Units are created by
// Within and are not safe for use outside fn.
type Unit struct {
	tx       interfaces.CardTx
	card     models.Card
	now      time.Time
	dirty    bool
	recorded []models.LimitMovement
	events   []queuedEvent
}

type queuedEvent struct {
	topic   string
	payload any
}

// Card returns the card as modified so far by this unit.
func (u *Unit) Card() models.Card { return u.card }

// Tx gives components access to the rest of the store inside the unit.
func (u *Unit) Tx() interfaces.CardTx { return u.tx }

// Now is the time the unit started; every write in the unit uses it.
func (u *Unit) Now() time.Time { return u.now }

// Emit queues an event published only if the unit commits.
func (u *Unit) Emit(topic string, payload any) {
	u.events = append(u.events, queuedEvent{topic: topic, payload: payload})
}

type chargeOptions struct {
	limitPreChecked bool
}

type ChargeOption func(*chargeOptions)

// LimitPreChecked marks a charge whose amount the caller has already checked
// against the credit limit inside the same unit. Only installment plan
// creation uses it.
func LimitPreChecked() ChargeOption {
	return func(o *chargeOptions) { o.limitPreChecked = true }
}

func (u *Unit) Charge(amount decimal.Decimal, description string, opts ...ChargeOption) (models.LimitMovement, error) {
	if err := money.ValidatePositive("amount", amount); err != nil {
		return models.LimitMovement{}, err
	}
	var o chargeOptions
	for _, opt := range opts {
		opt(&o)
	}

	newUsed := u.card.UsedAmount.Add(amount)
	if !o.limitPreChecked && newUsed.GreaterThan(u.card.CreditLimit) {
		return models.LimitMovement{}, errs.Wrap(errs.ErrLimitExceeded,
			"charge %s on card %s: used %s, limit %s, available %s",
			amount.String(), u.card.ID, u.card.UsedAmount.String(), u.card.CreditLimit.String(), u.card.Available().String())
	}
	return u.append(models.MovementCharge, amount, newUsed, u.card.CreditLimit, description)
}

func (u *Unit) Pay(amount decimal.Decimal, description string) (models.LimitMovement, error) {
	if err := money.ValidatePositive("amount", amount); err != nil {
		return models.LimitMovement{}, err
	}
	if amount.GreaterThan(u.card.UsedAmount) {
		return models.LimitMovement{}, errs.Wrap(errs.ErrInvalidAmount,
			"payment %s exceeds used amount %s on card %s", amount.String(), u.card.UsedAmount.String(), u.card.ID)
	}
	return u.append(models.MovementPayment, amount, u.card.UsedAmount.Sub(amount), u.card.CreditLimit, description)
}

// Adjust sets a new credit limit. The movement records the used amount as
// unchanged; the bool reports a limit below the used amount.
func (u *Unit) Adjust(newLimit decimal.Decimal, reason string) (models.LimitMovement, bool, error) {
	if err := money.ValidatePositive("new_limit", newLimit); err != nil {
		return models.LimitMovement{}, false, err
	}
	mv, err := u.append(models.MovementAdjustment, newLimit, u.card.UsedAmount, newLimit, reason)
	if err != nil {
		return models.LimitMovement{}, false, err
	}
	return mv, newLimit.LessThan(u.card.UsedAmount), nil
}

func (u *Unit) append(kind models.MovementType, amount, newUsed, newLimit decimal.Decimal, description string) (models.LimitMovement, error) {
	mv := models.LimitMovement{
		ID:                 uuid.New().String(),
		CardID:             u.card.ID,
		Sequence:           u.card.MovementSeq + 1,
		Type:               kind,
		Amount:             amount,
		PreviousUsedAmount: u.card.UsedAmount,
		NewUsedAmount:      newUsed,
		PreviousLimit:      u.card.CreditLimit,
		NewLimit:           newLimit,
		Description:        description,
		CreatedAt:          u.now,
	}
	if !mv.PreviousUsedAmount.Add(mv.Effect()).Equal(mv.NewUsedAmount) {
		return models.LimitMovement{}, errs.Wrap(errs.ErrInconsistent, "movement %s does not balance", mv.ID)
	}
	if err := u.tx.AppendMovement(mv); err != nil {
		return models.LimitMovement{}, err
	}

	u.card.UsedAmount = newUsed
	u.card.CreditLimit = newLimit
	u.card.MovementSeq = mv.Sequence
	u.card.UpdatedAt = u.now
	u.dirty = true
	u.recorded = append(u.recorded, mv)
	return mv, nil
}
