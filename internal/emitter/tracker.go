package emitter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ord-network/emitter/internal/backoff"
	"github.com/ord-network/emitter/internal/emitter/store"
	"github.com/ord-network/emitter/internal/ledger"
)

const (
	trackerPollIntervalDefault = 6 * time.Second
	confirmationsDefault       = 10
)

// Tracker watches submitted records until they reach the required
// confirmation depth, detecting reorgs along the way. Each tracked period
// runs in its own goroutine so a slow confirmation never blocks submission of
// later periods.
type Tracker struct {
	store     store.EmissionStore
	conns     ConnectionSource
	publisher EventPublisher
	logger    *slog.Logger

	ledgerID       string
	confirmations  uint64
	pollInterval   time.Duration
	newRetryPolicy func() *backoff.Policy

	ctx       context.Context
	cancelAll context.CancelFunc
	waitGroup *sync.WaitGroup
}

type TrackerOption func(*Tracker)

func WithTrackerPollInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		t.pollInterval = d
	}
}

func WithTrackerEventPublisher(p EventPublisher) TrackerOption {
	return func(t *Tracker) {
		t.publisher = p
	}
}

// WithTrackerRetryPolicy sets the factory for ledger retry backoff. The
// policy is mutable state, so every tracked period gets its own instance.
func WithTrackerRetryPolicy(newPolicy func() *backoff.Policy) TrackerOption {
	return func(t *Tracker) {
		t.newRetryPolicy = newPolicy
	}
}

func NewTracker(s store.EmissionStore, conns ConnectionSource, logger *slog.Logger, ledgerID string, confirmations uint64, opts ...TrackerOption) *Tracker {
	if confirmations == 0 {
		confirmations = confirmationsDefault
	}

	t := &Tracker{
		store:         s,
		conns:         conns,
		logger:        logger.With(slog.String("module", "tracker")),
		ledgerID:      ledgerID,
		confirmations: confirmations,
		pollInterval:  trackerPollIntervalDefault,
		newRetryPolicy: func() *backoff.Policy {
			return backoff.New()
		},
		waitGroup: &sync.WaitGroup{},
	}

	for _, opt := range opts {
		opt(t)
	}

	ctx, cancelAll := context.WithCancel(context.Background())
	t.ctx = ctx
	t.cancelAll = cancelAll

	return t
}

// StartTracking spawns confirmation tracking for an included record. It
// returns immediately; progress is observable through the store.
func (t *Tracker) StartTracking(periodID int64, inclusion ledger.BlockRef) {
	t.waitGroup.Add(1)
	go func() {
		defer t.waitGroup.Done()
		t.Track(t.ctx, periodID, inclusion)
	}()
}

// Track follows one submitted record until confirmation depth is reached, a
// reorg displaces the inclusion block, or ctx ends. On a reorg the row is
// left in submitted so operators can see the dangling record.
func (t *Tracker) Track(ctx context.Context, periodID int64, inclusion ledger.BlockRef) {
	err := t.store.MarkIncluded(ctx, t.ledgerID, periodID, inclusion.Hash, inclusion.Number)
	if err != nil {
		t.logger.Error("failed to record inclusion block",
			slog.Int64("periodId", periodID),
			slog.String("err", err.Error()),
		)
	}

	target := inclusion.Number + t.confirmations
	retry := t.newRetryPolicy()

	t.logger.Info("tracking confirmations",
		slog.Int64("periodId", periodID),
		slog.Uint64("inclusionBlock", inclusion.Number),
		slog.Uint64("targetBlock", target),
	)

	for {
		head, err := t.headAfterDelay(ctx, retry, t.pollInterval)
		if err != nil {
			return
		}

		if head.Number < target {
			continue
		}

		// depth reached; verify the inclusion block survived
		hashNow, err := t.hashAt(ctx, retry, inclusion.Number)
		if err != nil {
			return
		}

		if hashNow != inclusion.Hash {
			t.logger.Warn("inclusion block reorged out, abandoning confirmation",
				slog.Int64("periodId", periodID),
				slog.Uint64("blockNumber", inclusion.Number),
				slog.String("expectedHash", inclusion.Hash),
				slog.String("observedHash", hashNow),
			)
			return
		}

		depth := head.Number - inclusion.Number
		t.confirm(ctx, periodID, inclusion, depth)
		return
	}
}

// headAfterDelay sleeps for the poll interval (or a backoff delay after a
// failure) and then fetches the best block. It only returns an error when ctx
// is done.
func (t *Tracker) headAfterDelay(ctx context.Context, retry *backoff.Policy, delay time.Duration) (ledger.BlockRef, error) {
	for {
		select {
		case <-ctx.Done():
			return ledger.BlockRef{}, ctx.Err()
		case <-time.After(delay):
		}

		rpc, err := t.conns.Acquire(ctx)
		if err == nil {
			var head ledger.BlockRef
			head, err = rpc.BestBlock(ctx)
			if err == nil {
				retry.Reset()
				return head, nil
			}
		}

		delay = retry.Next()
		t.logger.Warn("best block poll failed, retrying",
			slog.Duration("retryIn", delay),
			slog.String("err", err.Error()),
		)
	}
}

func (t *Tracker) hashAt(ctx context.Context, retry *backoff.Policy, number uint64) (string, error) {
	for {
		rpc, err := t.conns.Acquire(ctx)
		if err == nil {
			var hash string
			hash, err = rpc.BlockHashAt(ctx, number)
			if err == nil {
				retry.Reset()
				return hash, nil
			}
		}

		delay := retry.Next()
		t.logger.Warn("block hash lookup failed, retrying",
			slog.Uint64("blockNumber", number),
			slog.Duration("retryIn", delay),
			slog.String("err", err.Error()),
		)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (t *Tracker) confirm(ctx context.Context, periodID int64, inclusion ledger.BlockRef, depth uint64) {
	// block author is decoration on the status API; confirmation does not
	// depend on it
	author := ""
	rpc, err := t.conns.Acquire(ctx)
	if err == nil {
		author, err = rpc.BlockAuthor(ctx, inclusion.Hash)
		if err != nil {
			t.logger.Warn("failed to resolve block author",
				slog.String("blockHash", inclusion.Hash),
				slog.String("err", err.Error()),
			)
		}
	}

	err = t.store.MarkConfirmed(ctx, t.ledgerID, periodID, depth, author)
	if err != nil {
		t.logger.Error("failed to mark emission as confirmed",
			slog.Int64("periodId", periodID),
			slog.String("err", err.Error()),
		)
		return
	}

	t.logger.Info("emission confirmed",
		slog.Int64("periodId", periodID),
		slog.Uint64("confirmationDepth", depth),
		slog.String("blockAuthor", author),
	)

	publishEvent(t.publisher, t.logger, TopicEmissionConfirmed, emissionEvent{
		LedgerID: t.ledgerID,
		PeriodID: periodID,
		Status:   string(store.StatusConfirmed),
		Depth:    depth,
	})
}

// ResumeSubmitted re-attaches tracking to rows left in submitted by a
// previous run, using their recorded inclusion block.
func (t *Tracker) ResumeSubmitted(ctx context.Context) error {
	rows, err := t.store.List(ctx, t.ledgerID, store.ListFilter{
		Status:  store.StatusSubmitted,
		OrderBy: "period_id_asc",
	})
	if err != nil {
		return err
	}

	resumed := 0
	for _, row := range rows {
		if row.InclusionBlockNumber == nil || row.InclusionBlockHash == "" {
			// submitted before any inclusion was observed; the tx hash alone
			// is not enough to poll depth, leave for the operator
			t.logger.Warn("submitted emission has no inclusion block, not resuming",
				slog.Int64("periodId", row.PeriodID),
				slog.String("txHash", row.TxHash),
			)
			continue
		}

		t.StartTracking(row.PeriodID, ledger.BlockRef{
			Hash:   row.InclusionBlockHash,
			Number: *row.InclusionBlockNumber,
		})
		resumed++
	}

	if resumed > 0 {
		t.logger.Info("resumed confirmation tracking", slog.Int("emissions", resumed))
	}

	return nil
}

// GracefulStop cancels all tracking goroutines and waits for them.
func (t *Tracker) GracefulStop() {
	t.cancelAll()
	t.waitGroup.Wait()
}
