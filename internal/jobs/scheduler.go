package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/sheikh-saqib/card-ledger-engine/internal/logger"
)

// Schedules holds the cron specs of the jobs; an empty spec disables a job.
type Schedules struct {
	Reconcile    string
	OverdueSweep string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	log       zerolog.Logger
	schedules Schedules
}

func NewScheduler(jobs *Jobs, log zerolog.Logger, schedules Schedules) *Scheduler {
	log = logger.Component(log, "cron")
	cronLog := log
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(&cronLog))))

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		log:       log,
		schedules: schedules,
	}
}

// Register adds the jobs to the cron table. It fails on an unparsable spec.
func (s *Scheduler) Register() error {
	entries := []struct {
		name string
		spec string
		run  func()
	}{
		{"reconciliation", s.schedules.Reconcile, s.jobs.Reconcile},
		{"overdue sweep", s.schedules.OverdueSweep, s.jobs.SweepOverdue},
	}
	for _, e := range entries {
		if e.spec == "" {
			s.log.Info().Str("job", e.name).Msg("job disabled")
			continue
		}
		if _, err := s.cron.AddFunc(e.spec, e.run); err != nil {
			return fmt.Errorf("schedule %s job %q: %w", e.name, e.spec, err)
		}
		s.log.Info().Str("job", e.name).Str("schedule", e.spec).Msg("job scheduled")
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler; the returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Entries is the number of scheduled jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
