package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ord-network/emitter/internal/backoff"
	"github.com/ord-network/emitter/internal/emitter/store"
	"github.com/ord-network/emitter/internal/ledger"
)

const submitAttemptsDefault = 5

var (
	// ErrDispatchRejected: the ledger refused the transaction logic. Terminal
	// for the period; the scheduler moves on.
	ErrDispatchRejected = errors.New("dispatch rejected by ledger")
	// ErrSubmissionIncomplete: the watch ended without an inclusion-class
	// event, so the record never demonstrably reached a block.
	ErrSubmissionIncomplete = errors.New("submission ended without inclusion")
)

// ConnectionSource yields the shared live ledger connection.
type ConnectionSource interface {
	Acquire(ctx context.Context) (ledger.RPC, error)
}

// ConfirmationStarter detaches confirmation tracking for an included record.
type ConfirmationStarter interface {
	StartTracking(periodID int64, inclusion ledger.BlockRef)
}

// Submitter drives one period's emission: budget gate, compose, sign, send,
// persist, hand off to confirmation tracking. The local store is only moved
// to submitted after the ledger reported the record inside a block.
type Submitter struct {
	store     store.EmissionStore
	conns     ConnectionSource
	gate      *BudgetGate
	signer    Signer
	tracking  ConfirmationStarter
	publisher EventPublisher
	logger    *slog.Logger

	ledgerID    string
	tipShannons *big.Int

	maxAttempts    int
	newRetryPolicy func() *backoff.Policy
}

func NewSubmitter(
	s store.EmissionStore,
	conns ConnectionSource,
	gate *BudgetGate,
	signer Signer,
	tracking ConfirmationStarter,
	logger *slog.Logger,
	ledgerID string,
	tipShannons *big.Int,
	opts ...SubmitterOption,
) *Submitter {
	sub := &Submitter{
		store:       s,
		conns:       conns,
		gate:        gate,
		signer:      signer,
		tracking:    tracking,
		logger:      logger.With(slog.String("module", "submitter")),
		ledgerID:    ledgerID,
		tipShannons: tipShannons,
		maxAttempts: submitAttemptsDefault,
		newRetryPolicy: func() *backoff.Policy {
			return backoff.New()
		},
	}

	for _, opt := range opts {
		opt(sub)
	}

	return sub
}

type SubmitterOption func(*Submitter)

func WithSubmitterEventPublisher(p EventPublisher) SubmitterOption {
	return func(s *Submitter) {
		s.publisher = p
	}
}

func WithSubmitAttempts(n int) SubmitterOption {
	return func(s *Submitter) {
		s.maxAttempts = n
	}
}

func WithSubmitterRetryPolicy(newPolicy func() *backoff.Policy) SubmitterOption {
	return func(s *Submitter) {
		s.newRetryPolicy = newPolicy
	}
}

// SubmitForPeriod runs the full pipeline for one reserved period.
func (s *Submitter) SubmitForPeriod(ctx context.Context, periodID int64) error {
	decision, err := s.gate.Check(ctx, s.tipShannons)
	if err != nil {
		return fmt.Errorf("budget check for period %d: %w", periodID, err)
	}

	if !decision.Allowed {
		spent := "0"
		if decision.SpentToday != nil {
			spent = decision.SpentToday.String()
		}
		s.logger.Warn("emission blocked by budget",
			slog.Int64("periodId", periodID),
			slog.String("reason", decision.Reason),
			slog.String("spentToday", spent),
			slog.String("tipShannons", s.tipShannons.String()),
			slog.String("dailyCapShannons", s.gate.DailyCap().String()),
		)

		err = s.store.RecordSkipped(ctx, s.ledgerID, periodID, s.tipShannons)
		if err != nil {
			return fmt.Errorf("record skipped for period %d: %w", periodID, err)
		}

		publishEvent(s.publisher, s.logger, TopicEmissionSkipped, emissionEvent{
			LedgerID: s.ledgerID,
			PeriodID: periodID,
			Status:   string(store.StatusSkippedBudget),
		})
		return nil
	}

	record := ComposeRecord(s.ledgerID, periodID, s.tipShannons)
	payload := []byte(record.String())

	signature, err := s.signer.SignRecord(payload)
	if err != nil {
		// a broken signing key does not heal on retry; fail the period so the
		// row does not stay scheduled without an owner
		s.markFailed(ctx, periodID)
		return fmt.Errorf("sign record for period %d: %w", periodID, err)
	}

	events, err := s.submitWithRetry(ctx, periodID, record, ledger.SignedRecord{
		Payload:   payload,
		Signature: signature,
		Signer:    s.signer.Address(),
		Tip:       s.tipShannons,
	})
	if err != nil {
		s.markFailed(ctx, periodID)
		return err
	}

	lastTxHash := ""
	for ev := range events {
		if ev.TxHash != "" {
			lastTxHash = ev.TxHash
		}
		switch {
		case ev.Type == ledger.EventDispatchError:
			s.logger.Error("dispatch rejected",
				slog.Int64("periodId", periodID),
				slog.String("txHash", ev.TxHash),
				slog.String("err", ev.Err),
			)
			s.markFailed(ctx, periodID)
			publishEvent(s.publisher, s.logger, TopicEmissionFailed, emissionEvent{
				LedgerID: s.ledgerID,
				PeriodID: periodID,
				Status:   string(store.StatusFailed),
				TxHash:   ev.TxHash,
			})
			return errors.Join(ErrDispatchRejected, errors.New(ev.Err))

		case ev.Type.Included():
			// first inclusion-class event is authoritative
			err = s.store.MarkSubmitted(ctx, s.ledgerID, periodID, ev.TxHash, record.String())
			if err != nil {
				return fmt.Errorf("mark submitted for period %d: %w", periodID, err)
			}

			s.logger.Info("record included",
				slog.Int64("periodId", periodID),
				slog.String("txHash", ev.TxHash),
				slog.String("blockHash", ev.Block.Hash),
				slog.Uint64("blockNumber", ev.Block.Number),
			)

			publishEvent(s.publisher, s.logger, TopicEmissionSubmitted, emissionEvent{
				LedgerID:    s.ledgerID,
				PeriodID:    periodID,
				Status:      string(store.StatusSubmitted),
				TxHash:      ev.TxHash,
				TipShannons: s.tipShannons.String(),
			})

			s.tracking.StartTracking(periodID, ev.Block)
			return nil
		}
	}

	// the watch closed without the record reaching a block; its on-chain fate
	// is unknown, so hand the tx hash to operators before failing the row
	s.logger.Warn("watch ended without inclusion, marking failed; verify the transaction on chain",
		slog.Int64("periodId", periodID),
		slog.String("txHash", lastTxHash),
	)
	s.markFailed(ctx, periodID)
	return fmt.Errorf("period %d: %w", periodID, ErrSubmissionIncomplete)
}

// submitWithRetry acquires a connection and dispatches the record, backing
// off and retrying on transient ledger failures. After the final attempt the
// caller marks the period failed.
func (s *Submitter) submitWithRetry(ctx context.Context, periodID int64, record Record, signed ledger.SignedRecord) (<-chan ledger.SubmitEvent, error) {
	retry := s.newRetryPolicy()

	for attempt := 1; ; attempt++ {
		rpc, err := s.conns.Acquire(ctx)
		if err == nil {
			s.logger.Info("submitting record",
				slog.Int64("periodId", periodID),
				slog.String("tipShannons", s.tipShannons.String()),
				slog.String("record", record.String()),
			)

			var events <-chan ledger.SubmitEvent
			events, err = rpc.SubmitAndWatch(ctx, signed)
			if err == nil {
				return events, nil
			}
		}

		if attempt >= s.maxAttempts {
			return nil, fmt.Errorf("submit for period %d after %d attempts: %w", periodID, attempt, err)
		}

		delay := retry.Next()
		s.logger.Warn("submission attempt failed, retrying",
			slog.Int64("periodId", periodID),
			slog.Int("attempt", attempt),
			slog.Duration("retryIn", delay),
			slog.String("err", err.Error()),
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("submit for period %d: %w", periodID, ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (s *Submitter) markFailed(ctx context.Context, periodID int64) {
	err := s.store.MarkFailed(ctx, s.ledgerID, periodID)
	if err != nil {
		s.logger.Error("failed to mark emission as failed",
			slog.Int64("periodId", periodID),
			slog.String("err", err.Error()),
		)
	}
}
