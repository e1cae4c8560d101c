package emitter

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ord-network/emitter/internal/emitter/store"
)

const statCollectionIntervalDefault = 60 * time.Second

var ErrFailedToRegisterStats = errors.New("failed to register stats collector")

// StatsCollector periodically surfaces the emission state machine and budget
// consumption as prometheus gauges.
type StatsCollector struct {
	emissionsByStatus  *prometheus.GaugeVec
	spentTodayShannons prometheus.Gauge

	store    store.EmissionStore
	logger   *slog.Logger
	ledgerID string

	statCollectionInterval time.Duration
	now                    func() time.Time

	cancelAll context.CancelFunc
	ctx       context.Context
	waitGroup *sync.WaitGroup
}

type StatsCollectorOption func(*StatsCollector)

func WithStatCollectionInterval(d time.Duration) StatsCollectorOption {
	return func(c *StatsCollector) {
		c.statCollectionInterval = d
	}
}

func WithStatsNow(nowFunc func() time.Time) StatsCollectorOption {
	return func(c *StatsCollector) {
		c.now = nowFunc
	}
}

func NewStatsCollector(logger *slog.Logger, s store.EmissionStore, ledgerID string, opts ...StatsCollectorOption) *StatsCollector {
	c := &StatsCollector{
		emissionsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ord_emitter_emissions_total",
			Help: "Number of emissions by status",
		}, []string{"status"}),
		spentTodayShannons: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ord_emitter_spent_today_shannons",
			Help: "Tip amount spent since the start of the current UTC day, in shannons",
		}),

		store:                  s,
		logger:                 logger.With(slog.String("module", "stats")),
		ledgerID:               ledgerID,
		statCollectionInterval: statCollectionIntervalDefault,
		now:                    time.Now,
		waitGroup:              &sync.WaitGroup{},
	}

	for _, opt := range opts {
		opt(c)
	}

	ctx, cancelAll := context.WithCancel(context.Background())
	c.ctx = ctx
	c.cancelAll = cancelAll

	return c
}

func (c *StatsCollector) Start() error {
	ticker := time.NewTicker(c.statCollectionInterval)

	err := registerStats(c.emissionsByStatus, c.spentTodayShannons)
	if err != nil {
		return err
	}

	c.waitGroup.Add(1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Recovered from panic", "panic", r, slog.String("stacktrace", string(debug.Stack())))
			}
		}()
		defer func() {
			unregisterStats(c.emissionsByStatus, c.spentTodayShannons)
			c.waitGroup.Done()
		}()

		for {
			select {
			case <-c.ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				c.collect()
			}
		}
	}()

	return nil
}

func (c *StatsCollector) collect() {
	counts, err := c.store.CountByStatus(c.ctx, c.ledgerID)
	if err != nil {
		c.logger.Error("failed to count emissions", slog.String("err", err.Error()))
		return
	}

	for _, status := range []store.Status{
		store.StatusScheduled,
		store.StatusSubmitted,
		store.StatusConfirmed,
		store.StatusFailed,
		store.StatusSkippedBudget,
	} {
		c.emissionsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}

	spent, err := c.store.SumSpent(c.ctx, c.ledgerID, StartOfUTCDay(c.now()))
	if err != nil {
		c.logger.Error("failed to sum spent tips", slog.String("err", err.Error()))
		return
	}

	spentFloat, _ := new(big.Float).SetInt(spent).Float64()
	c.spentTodayShannons.Set(spentFloat)
}

func (c *StatsCollector) Shutdown() {
	c.cancelAll()
	c.waitGroup.Wait()
}

func registerStats(cs ...prometheus.Collector) error {
	for _, c := range cs {
		err := prometheus.Register(c)
		if err != nil {
			return errors.Join(ErrFailedToRegisterStats, err)
		}
	}

	return nil
}

func unregisterStats(cs ...prometheus.Collector) {
	for _, c := range cs {
		_ = prometheus.Unregister(c)
	}
}
