package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sheikh-saqib/card-ledger-engine/internal/api"
	"github.com/sheikh-saqib/card-ledger-engine/internal/billing"
	"github.com/sheikh-saqib/card-ledger-engine/internal/config"
	"github.com/sheikh-saqib/card-ledger-engine/internal/events/kafka"
	"github.com/sheikh-saqib/card-ledger-engine/internal/events/logging"
	"github.com/sheikh-saqib/card-ledger-engine/internal/installments"
	interfaces "github.com/sheikh-saqib/card-ledger-engine/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-engine/internal/jobs"
	"github.com/sheikh-saqib/card-ledger-engine/internal/ledger"
	"github.com/sheikh-saqib/card-ledger-engine/internal/logger"
	"github.com/sheikh-saqib/card-ledger-engine/internal/projection"
	"github.com/sheikh-saqib/card-ledger-engine/internal/storage/memory"
	"github.com/sheikh-saqib/card-ledger-engine/internal/storage/postgres"
)

const shutdownTimeout = 10 * time.Second

// backend groups the store and the collaborator stores that share it.
type backend struct {
	cards        interfaces.CardStore
	accounts     interfaces.AccountStore
	categories   interfaces.CategoryStore
	transactions interfaces.TransactionLedger
	db           *sql.DB
}

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		bootLog := logger.New("info")
		bootLog.Fatal().Err(err).Msg("config load failed")
	}
	log := logger.New(cfg.LogLevel)
	log.Info().Str("port", cfg.ServerPort).Msg("starting card ledger engine")

	ctx := context.Background()
	store, err := openBackend(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	if store.db != nil {
		defer store.db.Close()
	}

	publisher, closePublisher := newPublisher(cfg, log)
	defer closePublisher()

	cards := ledger.NewLedger(store.cards,
		ledger.WithPublisher(publisher),
		ledger.WithLogger(log),
		ledger.WithHistoryLimit(cfg.HistoryDefaultLimit),
	)
	bills := billing.NewManager(cards,
		billing.WithAccounts(store.accounts),
		billing.WithTransactionLedger(store.transactions),
		billing.WithLogger(log),
	)
	plans := installments.NewScheduler(cards,
		installments.WithAccounts(store.accounts),
		installments.WithCategories(store.categories),
		installments.WithLogger(log),
	)
	views := projection.NewProjector(cards,
		projection.WithAlertThresholds(cfg.LimitAlertNoticePercent, cfg.LimitAlertWarningPercent, cfg.LimitAlertCriticalPercent),
	)

	scheduler := jobs.NewScheduler(jobs.NewJobs(cards, bills, log, 0), log, jobs.Schedules{
		Reconcile:    cfg.ReconcileSchedule,
		OverdueSweep: cfg.OverdueSweepSchedule,
	})
	if err := scheduler.Register(); err != nil {
		log.Fatal().Err(err).Msg("job schedule invalid")
	}
	scheduler.Start()

	handler := api.NewHandler(cards, bills, plans, views, log)
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           api.NewRouter(handler, log, cfg.RequestTimeout()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutdown started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn().Msg("jobs still running at shutdown")
	}

	log.Info().Msg("shutdown complete")
}

// openBackend uses Postgres when DATABASE_URL is set and the in-memory store
// otherwise.
func openBackend(ctx context.Context, cfg config.Config, log zerolog.Logger) (backend, error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set; using the in-memory store")
		refs := memory.NewReferenceStore()
		return backend{
			cards:        memory.NewMemoryCardStore(),
			accounts:     refs,
			categories:   refs,
			transactions: memory.NewTransactionLog(),
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return backend{}, err
	}
	cards := postgres.NewPostgresCardStore(db)
	if err := cards.Migrate(ctx); err != nil {
		db.Close()
		return backend{}, err
	}
	log.Info().Msg("database connected")

	refs := postgres.NewPostgresReferenceStore(db)
	return backend{
		cards:        cards,
		accounts:     refs,
		categories:   refs,
		transactions: postgres.NewPostgresTransactionLedger(db),
		db:           db,
	}, nil
}

// newPublisher returns the Kafka publisher when brokers are configured and a
// log-only publisher otherwise.
func newPublisher(cfg config.Config, log zerolog.Logger) (interfaces.EventPublisher, func()) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		log.Warn().Msg("KAFKA_BROKERS not set; events are only logged")
		return logging.NewPublisher(log), func() {}
	}

	p := kafka.NewPublisher(brokers, cfg.KafkaTopicPrefix)
	log.Info().Strs("brokers", brokers).Str("topic_prefix", cfg.KafkaTopicPrefix).Msg("kafka publisher ready")
	return p, func() {
		if err := p.Close(); err != nil {
			log.Warn().Err(err).Msg("kafka publisher close failed")
		}
	}
}
