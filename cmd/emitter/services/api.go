package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ord-network/emitter/internal/api"
	"github.com/ord-network/emitter/internal/emitter"
)

// stoppedScheduler stands in when only the API service runs in this process.
type stoppedScheduler struct{}

func (stoppedScheduler) Running() bool { return false }

// StartAPIServer brings up the read-only status API over the shared store
// and ledger connection.
func (a *App) StartAPIServer() (func(), error) {
	logger := a.logger.With(slog.String("service", "api"))
	logger.Info("Starting")

	emissionStore, err := a.ensureStore()
	if err != nil {
		return nil, err
	}

	manager, err := a.ensureManager()
	if err != nil {
		return nil, err
	}

	cacheStore, err := NewCacheStore(a.cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache store: %w", err)
	}

	tip, dailyCap, err := a.tipAndCap()
	if err != nil {
		return nil, fmt.Errorf("failed to parse amounts: %w", err)
	}

	var schedulerStatus api.SchedulerStatus = stoppedScheduler{}
	if a.scheduler != nil {
		schedulerStatus = a.scheduler
	}

	handlerOpts := []api.HandlerOption{
		api.WithPaused(a.cfg.Emitter.Paused),
	}

	if a.cfg.Emitter.SigningKey != "" {
		signer, err := emitter.NewEd25519Signer(a.cfg.Emitter.SigningKey)
		if err == nil {
			handlerOpts = append(handlerOpts, api.WithSignerAddress(signer.Address()))
		}
	}

	handler := api.NewHandler(emissionStore, manager, schedulerStatus, cacheStore, logger,
		a.cfg.Ledger.ID, a.cfg.Emitter.IntervalSeconds, tip, dailyCap,
		a.cfg.Emitter.Confirmations, handlerOpts...)

	server := api.NewServer(logger, handler, a.cfg.Api.Address, a.cfg.PrometheusAddr != "")

	go func() {
		err := server.Start()
		if err != nil {
			logger.Error("Failed to start API server", slog.String("err", err.Error()))
		}
	}()

	stopFn := func() {
		logger.Info("Shutting down api")
		server.Shutdown()
		logger.Info("Shutdown complete")
	}

	return stopFn, nil
}
