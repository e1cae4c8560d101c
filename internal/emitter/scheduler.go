package emitter

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ord-network/emitter/internal/backoff"
	"github.com/ord-network/emitter/internal/emitter/store"
	"github.com/ord-network/emitter/internal/period"
)

const tickIntervalDefault = 1 * time.Second

// PeriodSubmitter runs the emission pipeline for one reserved period.
type PeriodSubmitter interface {
	SubmitForPeriod(ctx context.Context, periodID int64) error
}

// Scheduler derives the current period from the on-chain clock on every tick
// and hands newly reserved periods to the submitter. Reservation in the store
// is what makes emission at-most-once; the scheduler itself keeps no durable
// state and is safe to restart at any point.
type Scheduler struct {
	store     store.EmissionStore
	conns     ConnectionSource
	submitter PeriodSubmitter
	logger    *slog.Logger

	ledgerID        string
	intervalSeconds int64
	tipShannons     *big.Int
	tickInterval    time.Duration
	retryPolicy     *backoff.Policy

	lastSeenPeriod int64
	running        atomic.Bool

	ctx       context.Context
	cancelAll context.CancelFunc
	waitGroup *sync.WaitGroup
}

type SchedulerOption func(*Scheduler)

func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.tickInterval = d
	}
}

func WithSchedulerRetryPolicy(p *backoff.Policy) SchedulerOption {
	return func(s *Scheduler) {
		s.retryPolicy = p
	}
}

func NewScheduler(
	st store.EmissionStore,
	conns ConnectionSource,
	submitter PeriodSubmitter,
	logger *slog.Logger,
	ledgerID string,
	intervalSeconds int64,
	tipShannons *big.Int,
	opts ...SchedulerOption,
) *Scheduler {
	s := &Scheduler{
		store:           st,
		conns:           conns,
		submitter:       submitter,
		logger:          logger.With(slog.String("module", "scheduler")),
		ledgerID:        ledgerID,
		intervalSeconds: intervalSeconds,
		tipShannons:     tipShannons,
		tickInterval:    tickIntervalDefault,
		retryPolicy:     backoff.New(),
		lastSeenPeriod:  -1,
		waitGroup:       &sync.WaitGroup{},
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx, cancelAll := context.WithCancel(context.Background())
	s.ctx = ctx
	s.cancelAll = cancelAll

	return s
}

// Start launches the tick loop. A tick that fails to reach the ledger backs
// off exponentially; a successful tick resets the policy and returns to the
// regular cadence.
func (s *Scheduler) Start() {
	s.running.Store(true)
	s.waitGroup.Add(1)

	go func() {
		defer s.waitGroup.Done()
		defer s.running.Store(false)

		delay := s.tickInterval
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(delay):
			}

			err := s.tick(s.ctx)
			if err != nil {
				delay = s.retryPolicy.Next()
				s.logger.Warn("scheduler tick failed",
					slog.Duration("retryIn", delay),
					slog.String("err", err.Error()),
				)
				continue
			}

			s.retryPolicy.Reset()
			delay = s.tickInterval
		}
	}()
}

// tick resolves the current period and reserves it if it is new. On-chain
// time is authoritative; host wall time never enters the period calculation.
func (s *Scheduler) tick(ctx context.Context) error {
	rpc, err := s.conns.Acquire(ctx)
	if err != nil {
		return err
	}

	periodID, err := period.Current(ctx, rpc, s.intervalSeconds)
	if err != nil {
		return err
	}

	if periodID == s.lastSeenPeriod {
		return nil
	}

	reserved, err := s.store.Reserve(ctx, s.ledgerID, periodID, s.tipShannons)
	if err != nil {
		// leave lastSeenPeriod untouched so the next tick re-attempts the
		// idempotent reservation
		return err
	}
	s.lastSeenPeriod = periodID

	if !reserved {
		// another instance, or an earlier run, owns this period
		s.logger.Debug("period already reserved", slog.Int64("periodId", periodID))
		return nil
	}

	s.logger.Info("period reserved", slog.Int64("periodId", periodID))

	s.waitGroup.Add(1)
	go func() {
		defer s.waitGroup.Done()

		err := s.submitter.SubmitForPeriod(s.ctx, periodID)
		if err != nil {
			s.logger.Error("emission failed",
				slog.Int64("periodId", periodID),
				slog.String("err", err.Error()),
			)
		}
	}()

	return nil
}

// Running reports whether the tick loop is active, for the status API.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// GracefulStop halts the tick loop and waits for in-flight submissions.
func (s *Scheduler) GracefulStop() {
	s.cancelAll()
	s.waitGroup.Wait()
}
