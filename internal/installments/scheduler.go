// Package installments splits purchases into monthly installment plans.
//
// A plan charges its full total to the card once, when it is created. Item
// settlement afterwards is bookkeeping only: it records which account
// covered a slice and never moves the card's used amount.
package installments

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sheikh-saqib/card-ledger-engine/internal/calendar"
	"github.com/sheikh-saqib/card-ledger-engine/internal/errs"
	interfaces "github.com/sheikh-saqib/card-ledger-engine/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-engine/internal/ledger"
	"github.com/sheikh-saqib/card-ledger-engine/internal/logger"
	"github.com/sheikh-saqib/card-ledger-engine/internal/models"
	"github.com/sheikh-saqib/card-ledger-engine/internal/models/events"
	"github.com/sheikh-saqib/card-ledger-engine/internal/money"
)

type Scheduler struct {
	ledger     *ledger.Ledger
	store      interfaces.CardStore
	categories interfaces.CategoryStore
	accounts   interfaces.AccountStore
	log        zerolog.Logger
}

type Option func(*Scheduler)

func WithCategories(c interfaces.CategoryStore) Option {
	return func(s *Scheduler) { s.categories = c }
}

func WithAccounts(a interfaces.AccountStore) Option {
	return func(s *Scheduler) { s.accounts = a }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = logger.Component(log, "installments") }
}

func NewScheduler(l *ledger.Ledger, opts ...Option) *Scheduler {
	s := &Scheduler{
		ledger: l,
		store:  l.Store(),
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePlan checks the full total against the available limit, charges it
// as one movement and writes the plan with all of its items, atomically.
// When no first installment date is given the card's next due date is used.
func (s *Scheduler) CreatePlan(ctx context.Context, req models.CreatePlanRequest) (models.PlanResult, error) {
	if err := money.ValidatePositive("total_amount", req.TotalAmount); err != nil {
		return models.PlanResult{}, err
	}
	if req.Installments < models.MinInstallments || req.Installments > models.MaxInstallments {
		return models.PlanResult{}, errs.Wrap(errs.ErrInvalidRequest, "installments must be within %d-%d, got %d",
			models.MinInstallments, models.MaxInstallments, req.Installments)
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return models.PlanResult{}, errs.Wrap(errs.ErrInvalidRequest, "description is required")
	}
	amounts, err := money.Split(req.TotalAmount, req.Installments)
	if err != nil {
		return models.PlanResult{}, err
	}
	if err := s.checkCategory(ctx, req.CategoryID, req.UserID); err != nil {
		return models.PlanResult{}, err
	}

	var result models.PlanResult
	err = s.ledger.Within(ctx, req.CardID, req.UserID, func(u *ledger.Unit) error {
		card := u.Card()
		if card.UsedAmount.Add(req.TotalAmount).GreaterThan(card.CreditLimit) {
			return errs.Wrap(errs.ErrLimitExceeded, "installment plan %s on card %s: available %s",
				req.TotalAmount.String(), card.ID, card.Available().String())
		}

		first := calendar.DateOnly(req.FirstInstallmentDate)
		if req.FirstInstallmentDate.IsZero() {
			first = calendar.NextOnOrAfter(u.Now(), card.DueDay)
		}

		mv, err := u.Charge(req.TotalAmount, fmt.Sprintf("%s (%dx)", description, req.Installments), ledger.LimitPreChecked())
		if err != nil {
			return err
		}

		now := u.Now()
		plan := models.InstallmentPlan{
			ID:                   uuid.New().String(),
			CardID:               card.ID,
			CategoryID:           req.CategoryID,
			Description:          description,
			Notes:                strings.TrimSpace(req.Notes),
			TotalAmount:          req.TotalAmount,
			InstallmentsCount:    req.Installments,
			FirstInstallmentDate: first,
			Status:               models.PlanActive,
			MovementID:           mv.ID,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		items := make([]models.InstallmentItem, len(amounts))
		for i, amount := range amounts {
			items[i] = models.InstallmentItem{
				ID:                uuid.New().String(),
				PlanID:            plan.ID,
				InstallmentNumber: i + 1,
				Amount:            amount,
				DueDate:           calendar.AddMonths(first, i),
				Status:            models.ItemPending,
			}
		}
		if err := u.Tx().InsertPlan(plan, items); err != nil {
			return err
		}

		u.Emit(events.TopicPlanCreated, events.PlanCreated{
			PlanID:            plan.ID,
			CardID:            plan.CardID,
			TotalAmount:       plan.TotalAmount,
			InstallmentsCount: plan.InstallmentsCount,
			OccurredAt:        now,
		})
		result = models.PlanResult{Plan: plan, Items: items, Card: u.Card(), Movement: mv}
		return nil
	})
	if err != nil {
		return models.PlanResult{}, err
	}

	s.log.Info().Str("card_id", req.CardID).Str("plan_id", result.Plan.ID).
		Str("total_amount", req.TotalAmount.String()).Int("installments", req.Installments).
		Str("used_amount", result.Card.UsedAmount.String()).Msg("installment plan created")
	return result, nil
}

// SettleItem marks one pending item as paid by the given account. The
// amount must match the item exactly. The card's used amount is not touched.
func (s *Scheduler) SettleItem(ctx context.Context, req models.SettleItemRequest) (models.SettleItemResult, error) {
	if err := money.ValidatePositive("amount", req.Amount); err != nil {
		return models.SettleItemResult{}, err
	}
	item, err := s.store.GetItem(ctx, req.ItemID)
	if err != nil {
		return models.SettleItemResult{}, err
	}
	plan, err := s.store.GetPlan(ctx, item.PlanID)
	if err != nil {
		return models.SettleItemResult{}, err
	}
	if err := s.checkAccount(ctx, req.AccountID, req.UserID); err != nil {
		return models.SettleItemResult{}, err
	}

	var result models.SettleItemResult
	err = s.ledger.Within(ctx, plan.CardID, req.UserID, func(u *ledger.Unit) error {
		tx := u.Tx()
		item, err := tx.GetItem(req.ItemID)
		if err != nil {
			return err
		}
		plan, err := tx.GetPlan(item.PlanID)
		if err != nil {
			return err
		}
		if item.Status != models.ItemPending {
			return errs.Wrap(errs.ErrAlreadySettled, "installment %d of plan %s is %s", item.InstallmentNumber, plan.ID, item.Status)
		}
		if plan.Status == models.PlanCancelled {
			return errs.Wrap(errs.ErrAlreadySettled, "installment plan %s is cancelled", plan.ID)
		}
		if !req.Amount.Equal(item.Amount) {
			return errs.Wrap(errs.ErrInvalidAmount, "installment %d is %s, got %s",
				item.InstallmentNumber, item.Amount.String(), req.Amount.String())
		}

		now := u.Now()
		item.Status = models.ItemPaid
		item.PaidDate = &now
		item.AccountID = req.AccountID
		if err := tx.UpdateItem(item); err != nil {
			return err
		}

		items, err := tx.ListItems(plan.ID)
		if err != nil {
			return err
		}
		status := models.DerivePlanStatus(plan, items)
		if status != plan.Status {
			plan.Status = status
			plan.UpdatedAt = now
			if err := tx.UpdatePlan(plan); err != nil {
				return err
			}
		}

		u.Emit(events.TopicItemSettled, events.ItemSettled{
			ItemID:            item.ID,
			PlanID:            plan.ID,
			CardID:            plan.CardID,
			InstallmentNumber: item.InstallmentNumber,
			Amount:            item.Amount,
			AccountID:         item.AccountID,
			PlanStatus:        string(status),
			OccurredAt:        now,
		})
		result = models.SettleItemResult{Item: item, Plan: plan, PlanStatus: status}
		return nil
	})
	if err != nil {
		return models.SettleItemResult{}, err
	}

	s.log.Info().Str("plan_id", result.Plan.ID).Str("item_id", result.Item.ID).
		Int("installment_number", result.Item.InstallmentNumber).Str("plan_status", string(result.PlanStatus)).
		Msg("installment item settled")
	return result, nil
}

// CancelPlan stops an active plan. Items stay as they are and the charge
// made at creation is not reversed.
func (s *Scheduler) CancelPlan(ctx context.Context, planID, userID string) (models.InstallmentPlan, error) {
	current, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return models.InstallmentPlan{}, err
	}

	var plan models.InstallmentPlan
	err = s.ledger.Within(ctx, current.CardID, userID, func(u *ledger.Unit) error {
		tx := u.Tx()
		p, err := tx.GetPlan(planID)
		if err != nil {
			return err
		}
		items, err := tx.ListItems(planID)
		if err != nil {
			return err
		}
		if status := models.DerivePlanStatus(p, items); status != models.PlanActive {
			return errs.Wrap(errs.ErrAlreadySettled, "installment plan %s is %s", planID, status)
		}
		p.Status = models.PlanCancelled
		p.UpdatedAt = u.Now()
		plan = p
		return tx.UpdatePlan(p)
	})
	if err != nil {
		return models.InstallmentPlan{}, err
	}

	s.log.Info().Str("plan_id", planID).Str("card_id", plan.CardID).Msg("installment plan cancelled")
	return plan, nil
}

// GetPlan returns the plan with its items; the status is recomputed.
func (s *Scheduler) GetPlan(ctx context.Context, planID, userID string) (models.InstallmentPlan, []models.InstallmentItem, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return models.InstallmentPlan{}, nil, err
	}
	if _, err := s.ledger.GetCard(ctx, plan.CardID, userID); err != nil {
		return models.InstallmentPlan{}, nil, errs.Wrap(errs.ErrNotFound, "installment plan %s", planID)
	}
	items, err := s.store.ListItems(ctx, planID)
	if err != nil {
		return models.InstallmentPlan{}, nil, err
	}
	plan.Status = models.DerivePlanStatus(plan, items)
	return plan, items, nil
}

func (s *Scheduler) checkCategory(ctx context.Context, categoryID, userID string) error {
	if categoryID == "" || s.categories == nil {
		return nil
	}
	category, err := s.categories.GetCategory(ctx, categoryID)
	if err != nil {
		return err
	}
	if userID != "" && category.UserID != userID {
		return errs.Wrap(errs.ErrNotFound, "category %s", categoryID)
	}
	return nil
}

func (s *Scheduler) checkAccount(ctx context.Context, accountID, userID string) error {
	if accountID == "" || s.accounts == nil {
		return nil
	}
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if userID != "" && account.UserID != userID {
		return errs.Wrap(errs.ErrNotFound, "account %s", accountID)
	}
	return nil
}
