// Package period derives the integer period identifier from the ledger's own
// on-chain clock. The local wall clock is never consulted: the scheduler's
// notion of "now" has to agree with what inclusion and confirmation checks
// observe on chain later.
package period

import (
	"context"
	"errors"
)

var ErrInvalidInterval = errors.New("interval must be positive")

// Clock is the subset of the ledger RPC the period clock needs.
type Clock interface {
	OnChainTimeMs(ctx context.Context) (int64, error)
}

// ID maps an on-chain timestamp in milliseconds onto a period index:
// floor(ts / (intervalSeconds * 1000)).
func ID(onChainTimestampMs int64, intervalSeconds int64) int64 {
	return onChainTimestampMs / (intervalSeconds * 1000)
}

// Current queries the ledger clock and returns the period the chain is in
// right now.
func Current(ctx context.Context, clock Clock, intervalSeconds int64) (int64, error) {
	if intervalSeconds <= 0 {
		return 0, ErrInvalidInterval
	}

	tsMs, err := clock.OnChainTimeMs(ctx)
	if err != nil {
		return 0, err
	}

	return ID(tsMs, intervalSeconds), nil
}
