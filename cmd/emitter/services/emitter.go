package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/nats-io/nats.go"

	"github.com/ord-network/emitter/config"
	"github.com/ord-network/emitter/internal/amounts"
	"github.com/ord-network/emitter/internal/emitter"
	"github.com/ord-network/emitter/internal/emitter/store/postgresql"
	"github.com/ord-network/emitter/internal/ledger"
	"github.com/ord-network/emitter/internal/mq"
)

var ErrUnsupportedDbMode = errors.New("unsupported db mode")

// App wires the emitter's services over a shared store and ledger connection.
type App struct {
	logger *slog.Logger
	cfg    *config.EmitterConfig

	store     *postgresql.PostgreSQL
	manager   *ledger.Manager
	scheduler *emitter.Scheduler
	natsConn  *nats.Conn
}

func NewApp(logger *slog.Logger, cfg *config.EmitterConfig) *App {
	return &App{
		logger: logger,
		cfg:    cfg,
	}
}

// StartEmitter brings up the emission pipeline: store, ledger connection,
// budget gate, confirmation tracker, submitter and scheduler. The returned
// function shuts the pipeline down in reverse order.
func (a *App) StartEmitter() (func(), error) {
	logger := a.logger.With(slog.String("service", "emitter"))
	logger.Info("Starting")

	emissionStore, err := a.ensureStore()
	if err != nil {
		return nil, err
	}

	manager, err := a.ensureManager()
	if err != nil {
		return nil, err
	}

	tip, dailyCap, err := a.tipAndCap()
	if err != nil {
		return nil, fmt.Errorf("failed to parse amounts: %w", err)
	}

	signer, err := emitter.NewEd25519Signer(a.cfg.Emitter.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	trackerOpts := []emitter.TrackerOption{
		emitter.WithTrackerPollInterval(a.cfg.Emitter.PollInterval),
	}
	submitterOpts := []emitter.SubmitterOption{}

	if a.cfg.QueueURL != "" {
		natsConn, err := mq.NewNatsConnection(a.cfg.QueueURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to message queue: %w", err)
		}
		a.natsConn = natsConn

		trackerOpts = append(trackerOpts, emitter.WithTrackerEventPublisher(natsConn))
		submitterOpts = append(submitterOpts, emitter.WithSubmitterEventPublisher(natsConn))
	}

	gate := emitter.NewBudgetGate(emissionStore, a.cfg.Ledger.ID, dailyCap,
		emitter.WithPaused(a.cfg.Emitter.Paused))

	tracker := emitter.NewTracker(emissionStore, manager, logger, a.cfg.Ledger.ID,
		a.cfg.Emitter.Confirmations, trackerOpts...)

	err = tracker.ResumeSubmitted(context.Background())
	if err != nil {
		logger.Error("failed to resume submitted emissions", slog.String("err", err.Error()))
	}

	submitter := emitter.NewSubmitter(emissionStore, manager, gate, signer, tracker,
		logger, a.cfg.Ledger.ID, tip, submitterOpts...)

	scheduler := emitter.NewScheduler(emissionStore, manager, submitter, logger,
		a.cfg.Ledger.ID, a.cfg.Emitter.IntervalSeconds, tip,
		emitter.WithTickInterval(a.cfg.Emitter.TickInterval))
	a.scheduler = scheduler

	var statsCollector *emitter.StatsCollector
	if a.cfg.PrometheusAddr != "" {
		statsCollector = emitter.NewStatsCollector(logger, emissionStore, a.cfg.Ledger.ID)
		err = statsCollector.Start()
		if err != nil {
			return nil, err
		}
	}

	manager.StartMonitor(context.Background())
	scheduler.Start()

	stopFn := func() {
		logger.Info("Shutting down emission service")

		scheduler.GracefulStop()
		tracker.GracefulStop()

		if statsCollector != nil {
			statsCollector.Shutdown()
		}

		manager.Release()

		if a.natsConn != nil {
			err := a.natsConn.Drain()
			if err != nil {
				logger.Error("failed to drain nats connection", slog.String("err", err.Error()))
			}
			a.natsConn.Close()
		}

		err := emissionStore.Close(context.Background())
		if err != nil {
			logger.Error("failed to close emission store", slog.String("err", err.Error()))
		}

		logger.Info("Shutdown complete")
	}

	return stopFn, nil
}

func (a *App) ensureStore() (*postgresql.PostgreSQL, error) {
	if a.store != nil {
		return a.store, nil
	}

	if a.cfg.Db.Mode != "postgres" {
		return nil, errors.Join(ErrUnsupportedDbMode, fmt.Errorf("mode: %s", a.cfg.Db.Mode))
	}

	pg := a.cfg.Db.Postgres
	emissionStore, err := postgresql.New(pg.DSN(), pg.MaxIdleConns, pg.MaxOpenConns)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres store: %w", err)
	}

	err = emissionStore.Migrate()
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a.store = emissionStore
	return a.store, nil
}

func (a *App) ensureManager() (*ledger.Manager, error) {
	if a.manager != nil {
		return a.manager, nil
	}

	dialer := ledger.NewDialer(a.logger, ledger.WithRequestTimeout(a.cfg.Ledger.RequestTimeout))

	manager, err := ledger.NewManager(a.cfg.Ledger.RPCEndpoints, dialer, a.logger)
	if err != nil {
		return nil, err
	}

	a.manager = manager
	return a.manager, nil
}

func (a *App) tipAndCap() (*big.Int, *big.Int, error) {
	tip, err := amounts.ParseAI3(a.cfg.Emitter.TipAI3)
	if err != nil {
		return nil, nil, err
	}

	dailyCap, err := amounts.ParseAI3(a.cfg.Emitter.DailyCapAI3)
	if err != nil {
		return nil, nil, err
	}

	return tip, dailyCap, nil
}
