// Package jobs drives the periodic callers of the engine: the ledger
// reconciliation replay and the overdue sweep over unpaid bills.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sheikh-saqib/card-ledger-engine/internal/errs"
	"github.com/sheikh-saqib/card-ledger-engine/internal/ledger"
	"github.com/sheikh-saqib/card-ledger-engine/internal/logger"
)

// Reconciler replays every card's movement log.
type Reconciler interface {
	ReconcileAll(ctx context.Context) ([]ledger.ReconcileReport, error)
}

// OverdueMarker moves past-due bills to overdue.
type OverdueMarker interface {
	MarkOverdue(ctx context.Context) (int, error)
}

const defaultJobTimeout = 5 * time.Minute

// Jobs contains the logic of every scheduled task.
type Jobs struct {
	reconciler Reconciler
	bills      OverdueMarker
	log        zerolog.Logger
	timeout    time.Duration
}

func NewJobs(reconciler Reconciler, bills OverdueMarker, log zerolog.Logger, timeout time.Duration) *Jobs {
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	return &Jobs{
		reconciler: reconciler,
		bills:      bills,
		log:        logger.Component(log, "jobs"),
		timeout:    timeout,
	}
}

// Reconcile checks every card. Drift is logged with alert=true; the job
// itself never repairs anything.
func (j *Jobs) Reconcile() {
	j.log.Info().Msg("starting reconciliation job")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	reports, err := j.reconciler.ReconcileAll(ctx)
	drifted := 0
	for _, r := range reports {
		if !r.Consistent {
			drifted++
			j.log.Error().Str("card_id", r.CardID).Str("problem", r.Problem).Bool("alert", true).Msg("card ledger drift")
		}
	}
	if err != nil && !errs.IsFatal(err) {
		j.log.Error().Err(err).Int("checked", len(reports)).Msg("reconciliation job failed")
		return
	}

	j.log.Info().Int("checked", len(reports)).Int("drifted", drifted).Msg("reconciliation job finished")
}

// SweepOverdue persists the overdue status on past-due bills.
func (j *Jobs) SweepOverdue() {
	j.log.Info().Msg("starting overdue sweep job")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	marked, err := j.bills.MarkOverdue(ctx)
	if err != nil {
		j.log.Error().Err(err).Int("marked", marked).Msg("overdue sweep job failed")
		return
	}

	j.log.Info().Int("marked", marked).Msg("overdue sweep job finished")
}
