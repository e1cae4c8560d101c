package emitter

import (
	"context"
	"math/big"
	"time"
)

const (
	ReasonPaused       = "paused"
	ReasonOverDailyCap = "over_daily_cap"
)

// SpendStore is the slice of the emission store the gate reads.
type SpendStore interface {
	SumSpent(ctx context.Context, ledgerID string, since time.Time) (*big.Int, error)
}

// Decision is the gate's verdict for one prospective emission.
type Decision struct {
	Allowed    bool
	Reason     string
	SpentToday *big.Int
}

// BudgetGate bounds spend per UTC day. It is advisory: the read here and the
// later markSubmitted write are not one atomic step, so two interleaved
// submissions can undercount by one tip. The cap is a soft operational guard
// against runaway spend, not a ledger.
type BudgetGate struct {
	store    SpendStore
	ledgerID string
	dailyCap *big.Int
	paused   bool
	now      func() time.Time
}

type BudgetGateOption func(*BudgetGate)

func WithGateNow(nowFunc func() time.Time) BudgetGateOption {
	return func(g *BudgetGate) {
		g.now = nowFunc
	}
}

func WithPaused(paused bool) BudgetGateOption {
	return func(g *BudgetGate) {
		g.paused = paused
	}
}

func NewBudgetGate(s SpendStore, ledgerID string, dailyCap *big.Int, opts ...BudgetGateOption) *BudgetGate {
	g := &BudgetGate{
		store:    s,
		ledgerID: ledgerID,
		dailyCap: dailyCap,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Check allows an emission iff spentToday + tip <= dailyCap. Equality is
// allowed; one shannon over is denied.
func (g *BudgetGate) Check(ctx context.Context, tipShannons *big.Int) (Decision, error) {
	if g.paused {
		return Decision{Allowed: false, Reason: ReasonPaused}, nil
	}

	since := StartOfUTCDay(g.now())
	spent, err := g.store.SumSpent(ctx, g.ledgerID, since)
	if err != nil {
		return Decision{}, err
	}

	prospective := new(big.Int).Add(spent, tipShannons)
	if prospective.Cmp(g.dailyCap) > 0 {
		return Decision{Allowed: false, Reason: ReasonOverDailyCap, SpentToday: spent}, nil
	}

	return Decision{Allowed: true, SpentToday: spent}, nil
}

// DailyCap exposes the configured cap for status reporting.
func (g *BudgetGate) DailyCap() *big.Int {
	return new(big.Int).Set(g.dailyCap)
}

// StartOfUTCDay returns 00:00:00 UTC of the day containing t, the opening of
// the budget window.
func StartOfUTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
