package store

import (
	"context"
	"errors"
	"math/big"
	"time"
)

var (
	ErrNotFound = errors.New("emission could not be found")
	// ErrInvalidTransition guards the state machine: a transition was
	// attempted against a row that is not in the required source state. This
	// signals an out-of-order background completion and must never be
	// swallowed.
	ErrInvalidTransition = errors.New("invalid emission status transition")
)

// Status of an emission row. Transitions:
// scheduled -> submitted -> {confirmed | failed}
// scheduled -> skipped_budget (terminal)
// scheduled -> failed (submission attempt never reached a block)
type Status string

const (
	StatusScheduled     Status = "scheduled"
	StatusSubmitted     Status = "submitted"
	StatusConfirmed     Status = "confirmed"
	StatusFailed        Status = "failed"
	StatusSkippedBudget Status = "skipped_budget"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusSubmitted, StatusConfirmed, StatusFailed, StatusSkippedBudget:
		return true
	}
	return false
}

// Emission is one reward-signaling attempt for one period on one ledger.
type Emission struct {
	LedgerID             string     `json:"ledgerId"`
	PeriodID             int64      `json:"periodId"`
	Status               Status     `json:"status"`
	ScheduledAt          time.Time  `json:"scheduledAt"`
	EmittedAt            *time.Time `json:"emittedAt"`
	ConfirmedAt          *time.Time `json:"confirmedAt"`
	PayloadRecord        string     `json:"payloadRecord"`
	TipShannons          *big.Int   `json:"tipShannons"`
	TxHash               string     `json:"txHash"`
	InclusionBlockHash   string     `json:"inclusionBlockHash"`
	InclusionBlockNumber *uint64    `json:"inclusionBlockNumber"`
	ConfirmationDepth    *uint64    `json:"confirmationDepth"`
	BlockAuthor          string     `json:"blockAuthor"`
}

// ListFilter narrows and orders List results.
type ListFilter struct {
	Status     Status
	PeriodFrom *int64
	PeriodTo   *int64
	Limit      int
	Offset     int
	OrderBy    string // period_id_asc|period_id_desc|emitted_at_asc|emitted_at_desc|scheduled_at_asc|scheduled_at_desc
}

// EmissionStore persists the emission state machine. Reserve is the sole
// concurrency-control point for at-most-once emission per period: its
// atomicity must come from the storage engine's uniqueness constraint, never
// from application-level check-then-insert.
type EmissionStore interface {
	// Reserve inserts a scheduled row for (ledgerID, periodID). It returns
	// true iff this call created the row.
	Reserve(ctx context.Context, ledgerID string, periodID int64, tipShannons *big.Int) (bool, error)

	// MarkSubmitted moves scheduled -> submitted and sets emitted_at.
	MarkSubmitted(ctx context.Context, ledgerID string, periodID int64, txHash, payloadRecord string) error

	// MarkIncluded records the inclusion block on a submitted row without
	// changing status. Re-observations overwrite.
	MarkIncluded(ctx context.Context, ledgerID string, periodID int64, blockHash string, blockNumber uint64) error

	// MarkConfirmed moves submitted -> confirmed and sets confirmed_at.
	MarkConfirmed(ctx context.Context, ledgerID string, periodID int64, confirmationDepth uint64, blockAuthor string) error

	// MarkFailed moves scheduled or submitted -> failed. Terminal.
	MarkFailed(ctx context.Context, ledgerID string, periodID int64) error

	// RecordSkipped inserts a skipped_budget row, or annotates an existing
	// scheduled row as skipped. Idempotent; never demotes a submitted or
	// terminal row.
	RecordSkipped(ctx context.Context, ledgerID string, periodID int64, tipShannons *big.Int) error

	// SumSpent sums tip_shannons over rows with status submitted or
	// confirmed and emitted_at >= since.
	SumSpent(ctx context.Context, ledgerID string, since time.Time) (*big.Int, error)

	Get(ctx context.Context, ledgerID string, periodID int64) (*Emission, error)
	Latest(ctx context.Context, ledgerID string) (*Emission, error)
	List(ctx context.Context, ledgerID string, filter ListFilter) ([]*Emission, error)
	CountByStatus(ctx context.Context, ledgerID string) (map[Status]int64, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
