// Package billing generates one bill per card cycle and applies payments to
// bills. Every bill payment gives the same amount back to the card's limit in
// the same atomic unit.
package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/card-ledger-engine/internal/calendar"
	"github.com/sheikh-saqib/card-ledger-engine/internal/errs"
	interfaces "github.com/sheikh-saqib/card-ledger-engine/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-engine/internal/ledger"
	"github.com/sheikh-saqib/card-ledger-engine/internal/logger"
	"github.com/sheikh-saqib/card-ledger-engine/internal/models"
	"github.com/sheikh-saqib/card-ledger-engine/internal/models/events"
	"github.com/sheikh-saqib/card-ledger-engine/internal/money"
)

type Manager struct {
	ledger       *ledger.Ledger
	store        interfaces.CardStore
	accounts     interfaces.AccountStore
	transactions interfaces.TransactionLedger
	log          zerolog.Logger
}

type Option func(*Manager)

// WithAccounts enables validation of the funding account named by payments.
func WithAccounts(a interfaces.AccountStore) Option {
	return func(m *Manager) { m.accounts = a }
}

// WithTransactionLedger records an expense transaction for every payment.
func WithTransactionLedger(t interfaces.TransactionLedger) Option {
	return func(m *Manager) { m.transactions = t }
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = logger.Component(log, "billing") }
}

func NewManager(l *ledger.Ledger, opts ...Option) *Manager {
	m := &Manager{
		ledger: l,
		store:  l.Store(),
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GenerateBill creates the bill of month/year from the charges recorded
// after the previous closing date up to and including this cycle's closing
// date. A second bill for the same cycle is rejected with ErrDuplicateBill.
func (m *Manager) GenerateBill(ctx context.Context, req models.GenerateBillRequest) (models.Bill, error) {
	if req.Month < 1 || req.Month > 12 {
		return models.Bill{}, errs.Wrap(errs.ErrInvalidRequest, "month must be within 1-12, got %d", req.Month)
	}
	if req.Year < 1 {
		return models.Bill{}, errs.Wrap(errs.ErrInvalidRequest, "year must be positive, got %d", req.Year)
	}

	var bill models.Bill
	err := m.ledger.Within(ctx, req.CardID, req.UserID, func(u *ledger.Unit) error {
		tx := u.Tx()
		exists, err := tx.BillExists(req.Month, req.Year)
		if err != nil {
			return err
		}
		if exists {
			return errs.Wrap(errs.ErrDuplicateBill, "card %s already has a bill for %02d/%d", req.CardID, req.Month, req.Year)
		}

		card := u.Card()
		closing, due := calendar.CycleDates(req.Year, time.Month(req.Month), card.ClosingDay, card.DueDay)
		previous := calendar.PreviousClosing(req.Year, time.Month(req.Month), card.ClosingDay)
		total, err := tx.SumCharges(previous.AddDate(0, 0, 1), closing.AddDate(0, 0, 1))
		if err != nil {
			return err
		}

		now := u.Now()
		bill = models.Bill{
			ID:              uuid.New().String(),
			CardID:          card.ID,
			BillMonth:       req.Month,
			BillYear:        req.Year,
			ClosingDate:     closing,
			DueDate:         due,
			TotalAmount:     total,
			PaidAmount:      decimal.Zero,
			RemainingAmount: total,
			Status:          models.BillOpen,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		switch {
		case total.IsZero():
			bill.Status = models.BillPaid
		case bill.IsOverdue(calendar.DateOnly(now)):
			bill.Status = models.BillOverdue
		}
		if err := tx.InsertBill(bill); err != nil {
			return err
		}

		u.Emit(events.TopicBillGenerated, events.BillGenerated{
			BillID:      bill.ID,
			CardID:      bill.CardID,
			BillMonth:   bill.BillMonth,
			BillYear:    bill.BillYear,
			TotalAmount: bill.TotalAmount,
			DueDate:     bill.DueDate,
			OccurredAt:  now,
		})
		return nil
	})
	if err != nil {
		return models.Bill{}, err
	}

	m.log.Info().Str("card_id", bill.CardID).Str("bill_id", bill.ID).
		Str("cycle", fmt.Sprintf("%02d/%d", bill.BillMonth, bill.BillYear)).
		Str("total_amount", bill.TotalAmount.String()).Str("status", string(bill.Status)).Msg("bill generated")
	return bill, nil
}

// PayBill applies amount to the bill and records a payment movement for
// the same amount on the card, all or nothing. A replayed idempotency key
// returns the original outcome without writing anything.
func (m *Manager) PayBill(ctx context.Context, req models.BillPaymentRequest) (models.BillPaymentResult, error) {
	if err := money.ValidatePositive("amount", req.Amount); err != nil {
		return models.BillPaymentResult{}, err
	}
	current, err := m.store.GetBill(ctx, req.BillID)
	if err != nil {
		return models.BillPaymentResult{}, err
	}
	if err := m.checkAccount(ctx, req.AccountID, req.UserID); err != nil {
		return models.BillPaymentResult{}, err
	}

	var result models.BillPaymentResult
	err = m.ledger.Within(ctx, current.CardID, req.UserID, func(u *ledger.Unit) error {
		tx := u.Tx()
		bill, err := tx.GetBill(req.BillID)
		if err != nil {
			return err
		}

		if req.IdempotencyKey != "" {
			mv, found, err := replay(tx, req.IdempotencyKey, bill.ID, req.Amount)
			if err != nil {
				return err
			}
			if found {
				result = models.BillPaymentResult{Bill: bill, Card: u.Card(), Movement: mv, Replayed: true}
				return nil
			}
		}

		if bill.Status == models.BillPaid || !bill.RemainingAmount.IsPositive() {
			return errs.Wrap(errs.ErrAlreadySettled, "bill %s is paid", bill.ID)
		}
		if req.Amount.GreaterThan(bill.RemainingAmount) {
			return errs.Wrap(errs.ErrOverPayment, "payment %s exceeds remaining %s of bill %s",
				req.Amount.String(), bill.RemainingAmount.String(), bill.ID)
		}

		description := strings.TrimSpace(req.Description)
		if description == "" {
			description = fmt.Sprintf("Bill payment %02d/%d", bill.BillMonth, bill.BillYear)
		}
		mv, err := u.Pay(req.Amount, description)
		if err != nil {
			return err
		}

		bill.PaidAmount = bill.PaidAmount.Add(req.Amount)
		bill.RemainingAmount = bill.TotalAmount.Sub(bill.PaidAmount)
		switch {
		case bill.RemainingAmount.IsZero():
			bill.Status = models.BillPaid
		case bill.RemainingAmount.LessThan(bill.TotalAmount):
			bill.Status = models.BillPartial
		}
		bill.UpdatedAt = u.Now()
		if err := tx.UpdateBill(bill); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			if err := tx.SaveIdempotencyKey(models.IdempotencyRecord{
				Key: req.IdempotencyKey, Target: bill.ID, Amount: req.Amount, MovementID: mv.ID,
			}); err != nil {
				return err
			}
		}

		u.Emit(events.TopicBillPaid, events.BillPaid{
			BillID:          bill.ID,
			CardID:          bill.CardID,
			Amount:          req.Amount,
			RemainingAmount: bill.RemainingAmount,
			Status:          string(bill.Status),
			OccurredAt:      u.Now(),
		})
		result = models.BillPaymentResult{Bill: bill, Card: u.Card(), Movement: mv}
		return nil
	})
	if err != nil {
		return models.BillPaymentResult{}, err
	}
	if result.Replayed {
		m.log.Info().Str("bill_id", req.BillID).Str("idempotency_key", req.IdempotencyKey).Msg("bill payment replayed")
		return result, nil
	}

	card := result.Card
	m.recordExpense(ctx, models.Transaction{
		UserID:      card.UserID,
		Description: fmt.Sprintf("Bill payment %s - %02d/%d", card.Name, result.Bill.BillMonth, result.Bill.BillYear),
		Amount:      req.Amount,
		Date:        result.Movement.CreatedAt,
		CardID:      card.ID,
		AccountID:   req.AccountID,
		Notes:       strings.TrimSpace(req.Description),
	})

	m.log.Info().Str("bill_id", result.Bill.ID).Str("amount", req.Amount.String()).
		Str("remaining_amount", result.Bill.RemainingAmount.String()).Str("status", string(result.Bill.Status)).Msg("bill paid")
	return result, nil
}

// PayCard gives limit back without settling any bill, for payments made
// straight to the card.
func (m *Manager) PayCard(ctx context.Context, req models.CardPaymentRequest) (models.MovementResult, error) {
	if err := money.ValidatePositive("amount", req.Amount); err != nil {
		return models.MovementResult{}, err
	}
	if err := m.checkAccount(ctx, req.AccountID, req.UserID); err != nil {
		return models.MovementResult{}, err
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Card payment"
	}

	var result models.MovementResult
	err := m.ledger.Within(ctx, req.CardID, req.UserID, func(u *ledger.Unit) error {
		tx := u.Tx()
		if req.IdempotencyKey != "" {
			mv, found, err := replay(tx, req.IdempotencyKey, models.IdempotencyTargetCard, req.Amount)
			if err != nil {
				return err
			}
			if found {
				result = models.MovementResult{Card: u.Card(), Movement: mv, Replayed: true}
				return nil
			}
		}

		mv, err := u.Pay(req.Amount, description)
		if err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			if err := tx.SaveIdempotencyKey(models.IdempotencyRecord{
				Key: req.IdempotencyKey, Target: models.IdempotencyTargetCard, Amount: req.Amount, MovementID: mv.ID,
			}); err != nil {
				return err
			}
		}
		result = models.MovementResult{Card: u.Card(), Movement: mv}
		return nil
	})
	if err != nil {
		return models.MovementResult{}, err
	}
	if result.Replayed {
		m.log.Info().Str("card_id", req.CardID).Str("idempotency_key", req.IdempotencyKey).Msg("card payment replayed")
		return result, nil
	}

	m.recordExpense(ctx, models.Transaction{
		UserID:      result.Card.UserID,
		Description: fmt.Sprintf("%s - %s", description, result.Card.Name),
		Amount:      req.Amount,
		Date:        result.Movement.CreatedAt,
		CardID:      result.Card.ID,
		AccountID:   req.AccountID,
		Notes:       "Card payment " + result.Card.Name,
	})

	m.log.Info().Str("card_id", req.CardID).Str("amount", req.Amount.String()).
		Str("used_amount", result.Card.UsedAmount.String()).Msg("card paid")
	return result, nil
}

// replay returns the movement an earlier payment recorded under key. A key
// reused for another target or amount is rejected rather than replayed.
func replay(tx interfaces.CardTx, key, target string, amount decimal.Decimal) (models.LimitMovement, bool, error) {
	rec, found, err := tx.LookupIdempotencyKey(key)
	if err != nil || !found {
		return models.LimitMovement{}, false, err
	}
	if !rec.Matches(target, amount) {
		return models.LimitMovement{}, false, errs.Wrap(errs.ErrInvalidRequest,
			"idempotency key %q was already used for a payment of %s to %s", key, rec.Amount.String(), rec.Target)
	}
	mv, err := tx.GetMovement(rec.MovementID)
	if err != nil {
		return models.LimitMovement{}, false, err
	}
	return mv, true, nil
}

// MarkOverdue moves every open or partial bill whose due date has passed to
// overdue and returns how many changed.
func (m *Manager) MarkOverdue(ctx context.Context) (int, error) {
	today := calendar.DateOnly(m.ledger.Clock().Now())
	candidates, err := m.store.ListUnpaidBillsDueBefore(ctx, today)
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return marked, err
		}
		changed := false
		err := m.ledger.Within(ctx, candidate.CardID, "", func(u *ledger.Unit) error {
			bill, err := u.Tx().GetBill(candidate.ID)
			if err != nil {
				return err
			}
			if bill.Status == models.BillPaid || bill.Status == models.BillOverdue || !bill.IsOverdue(today) {
				return nil
			}
			bill.Status = models.BillOverdue
			bill.UpdatedAt = u.Now()
			changed = true
			return u.Tx().UpdateBill(bill)
		})
		if err != nil {
			return marked, err
		}
		if changed {
			marked++
			m.log.Info().Str("bill_id", candidate.ID).Str("card_id", candidate.CardID).Msg("bill overdue")
		}
	}
	return marked, nil
}

// ListBills returns the card's bills, newest cycle first.
func (m *Manager) ListBills(ctx context.Context, cardID, userID string) ([]models.Bill, error) {
	if _, err := m.ledger.GetCard(ctx, cardID, userID); err != nil {
		return nil, err
	}
	return m.store.ListBills(ctx, cardID)
}

// GetBill returns one bill when userID owns its card.
func (m *Manager) GetBill(ctx context.Context, billID, userID string) (models.Bill, error) {
	bill, err := m.store.GetBill(ctx, billID)
	if err != nil {
		return models.Bill{}, err
	}
	if _, err := m.ledger.GetCard(ctx, bill.CardID, userID); err != nil {
		return models.Bill{}, errs.Wrap(errs.ErrNotFound, "bill %s", billID)
	}
	return bill, nil
}

func (m *Manager) checkAccount(ctx context.Context, accountID, userID string) error {
	if accountID == "" || m.accounts == nil {
		return nil
	}
	account, err := m.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if userID != "" && account.UserID != userID {
		return errs.Wrap(errs.ErrNotFound, "account %s", accountID)
	}
	return nil
}

// recordExpense writes the user-facing history entry. The payment is already
// committed, so a failure here is only logged.
func (m *Manager) recordExpense(ctx context.Context, tx models.Transaction) {
	if m.transactions == nil {
		return
	}
	tx.ID = uuid.New().String()
	tx.Type = models.TransactionExpense
	tx.CreatedAt = tx.Date
	if err := m.transactions.RecordTransaction(ctx, tx); err != nil {
		m.log.Warn().Err(err).Str("card_id", tx.CardID).Msg("expense transaction not recorded")
	}
}
