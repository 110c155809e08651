package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/card-ledger-engine/internal/errs"
	"github.com/sheikh-saqib/card-ledger-engine/internal/models"
)

// ReconcileReport is the outcome of replaying one card's movement log.
type ReconcileReport struct {
	CardID             string          `json:"card_id"`
	Movements          int             `json:"movements"`
	ReplayedUsedAmount decimal.Decimal `json:"replayed_used_amount"`
	StoredUsedAmount   decimal.Decimal `json:"stored_used_amount"`
	Consistent         bool            `json:"consistent"`
	Problem            string          `json:"problem,omitempty"`
}

// Replay folds movements from a used amount of zero. It fails on the first
// movement that breaks the causal chain.
func Replay(movements []models.LimitMovement) (decimal.Decimal, error) {
	used := decimal.Zero
	for i, mv := range movements {
		if mv.Sequence != int64(i+1) {
			return used, errs.Wrap(errs.ErrInconsistent, "movement %s has sequence %d at position %d", mv.ID, mv.Sequence, i+1)
		}
		if !mv.PreviousUsedAmount.Equal(used) {
			return used, errs.Wrap(errs.ErrInconsistent, "movement %d starts at %s, chain is at %s",
				mv.Sequence, mv.PreviousUsedAmount.String(), used.String())
		}
		next := used.Add(mv.Effect())
		if !next.Equal(mv.NewUsedAmount) {
			return used, errs.Wrap(errs.ErrInconsistent, "movement %d ends at %s, replay gives %s",
				mv.Sequence, mv.NewUsedAmount.String(), next.String())
		}
		if next.Sign() < 0 {
			return used, errs.Wrap(errs.ErrInconsistent, "movement %d drives used amount negative", mv.Sequence)
		}
		used = next
	}
	return used, nil
}

// Reconcile replays the card's log while holding the card and compares the
// result to the stored used amount. Drift is reported as ErrInconsistent.
func (l *Ledger) Reconcile(ctx context.Context, cardID, userID string) (ReconcileReport, error) {
	var report ReconcileReport
	var drift error
	err := l.Within(ctx, cardID, userID, func(u *Unit) error {
		card := u.Card()
		movements, err := l.store.ListMovements(ctx, cardID)
		if err != nil {
			return err
		}

		report = ReconcileReport{
			CardID:           cardID,
			Movements:        len(movements),
			StoredUsedAmount: card.UsedAmount,
		}
		replayed, err := Replay(movements)
		report.ReplayedUsedAmount = replayed
		switch {
		case err != nil:
			drift = err
		case !replayed.Equal(card.UsedAmount):
			drift = errs.Wrap(errs.ErrInconsistent, "card %s stores used amount %s, log replays to %s",
				cardID, card.UsedAmount.String(), replayed.String())
		case int64(len(movements)) != card.MovementSeq:
			drift = errs.Wrap(errs.ErrInconsistent, "card %s expects %d movements, log has %d",
				cardID, card.MovementSeq, len(movements))
		}
		return nil
	})
	if err != nil {
		return ReconcileReport{}, err
	}

	if drift != nil {
		report.Problem = drift.Error()
		l.log.Error().Err(drift).Str("card_id", cardID).Bool("alert", true).Msg("ledger drift detected")
		return report, drift
	}
	report.Consistent = true
	return report, nil
}

// ReconcileAll reconciles every card. It keeps going past drifting cards and
// returns their errors joined.
func (l *Ledger) ReconcileAll(ctx context.Context) ([]ReconcileReport, error) {
	ids, err := l.store.ListCardIDs(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]ReconcileReport, 0, len(ids))
	var problems []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := l.Reconcile(ctx, id, "")
		if err != nil && !errs.IsFatal(err) {
			return reports, err
		}
		if err != nil {
			problems = append(problems, err)
		}
		reports = append(reports, report)
	}
	return reports, errors.Join(problems...)
}
