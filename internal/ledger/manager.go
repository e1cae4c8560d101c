package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ord-network/emitter/internal/backoff"
)

const (
	healthTimeoutDefault = 2 * time.Second
	dialTimeoutDefault   = 10 * time.Second
	monitorIntervalDefault = 5 * time.Second
)

// Dialer opens a connection to one endpoint. The returned RPC must be ready
// for use once the dialer returns without error.
type Dialer func(ctx context.Context, addr string) (RPC, error)

// Manager owns the single shared ledger connection. A connection counts as
// live only after the endpoint answered a health probe, not merely after the
// transport opened. Acquire fails fast with ErrConnectionUnavailable when no
// endpoint is reachable; the retry cadence belongs to the caller. The
// background monitor re-establishes a dropped connection with backoff so
// subsequent Acquire calls are served again once the endpoint recovers.
type Manager struct {
	mu   sync.Mutex
	conn RPC

	addrs []string
	next  int
	dial  Dialer

	policy        *backoff.Policy
	logger        *slog.Logger
	healthTimeout time.Duration
	dialTimeout   time.Duration

	monitorInterval time.Duration
	cancelMonitor   context.CancelFunc
	monitorWg       sync.WaitGroup
}

type ManagerOption func(*Manager)

func WithHealthTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.healthTimeout = d
	}
}

func WithDialTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.dialTimeout = d
	}
}

func WithMonitorInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.monitorInterval = d
	}
}

func WithBackoffPolicy(p *backoff.Policy) ManagerOption {
	return func(m *Manager) {
		m.policy = p
	}
}

func NewManager(addrs []string, dial Dialer, logger *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	if len(addrs) == 0 {
		return nil, errors.New("at least one ledger endpoint is required")
	}

	m := &Manager{
		addrs:           addrs,
		dial:            dial,
		logger:          logger.With(slog.String("module", "ledger")),
		policy:          backoff.New(),
		healthTimeout:   healthTimeoutDefault,
		dialTimeout:     dialTimeoutDefault,
		monitorInterval: monitorIntervalDefault,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Acquire returns the live connection, establishing one if necessary. When no
// endpoint is reachable it returns ErrConnectionUnavailable; the error is
// retryable and the caller decides when to try again.
func (m *Manager) Acquire(ctx context.Context) (RPC, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		healthCtx, cancel := context.WithTimeout(ctx, m.healthTimeout)
		err := m.conn.Ping(healthCtx)
		cancel()
		if err == nil {
			return m.conn, nil
		}

		m.logger.Warn("connection unhealthy, dropping", slog.String("err", err.Error()))
		m.dropLocked()
	}

	return m.connectLocked(ctx)
}

// Release closes the current connection and stops the reconnect monitor.
func (m *Manager) Release() {
	if m.cancelMonitor != nil {
		m.cancelMonitor()
		m.monitorWg.Wait()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked()
}

// StartMonitor keeps the connection alive in the background. On a dropped
// connection it redials with the backoff policy until the endpoint is healthy
// again.
func (m *Manager) StartMonitor(ctx context.Context) {
	monitorCtx, cancel := context.WithCancel(ctx)
	m.cancelMonitor = cancel

	m.monitorWg.Add(1)

	go func() {
		defer m.monitorWg.Done()

		timer := time.NewTimer(m.monitorInterval)
		defer timer.Stop()

		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-timer.C:
			}

			_, err := m.Acquire(monitorCtx)
			if err != nil {
				delay := m.policy.Next()
				m.logger.Warn("reconnect failed, backing off",
					slog.String("err", err.Error()),
					slog.Duration("delay", delay),
				)
				timer.Reset(delay)
				continue
			}

			m.policy.Reset()
			timer.Reset(m.monitorInterval)
		}
	}()
}

func (m *Manager) connectLocked(ctx context.Context) (RPC, error) {
	var lastErr error

	for range m.addrs {
		addr := m.addrs[m.next%len(m.addrs)]
		m.next++

		dialCtx, cancel := context.WithTimeout(ctx, m.dialTimeout)
		conn, err := m.dial(dialCtx, addr)
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("dial %s: %w", addr, err)
			continue
		}

		healthCtx, cancel := context.WithTimeout(ctx, m.healthTimeout)
		err = conn.Ping(healthCtx)
		cancel()
		if err != nil {
			_ = conn.Close()
			lastErr = fmt.Errorf("handshake %s: %w", addr, err)
			continue
		}

		m.logger.Info("connected", slog.String("addr", addr))
		m.conn = conn
		return conn, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no endpoints configured")
	}

	return nil, errors.Join(ErrConnectionUnavailable, lastErr)
}

func (m *Manager) dropLocked() {
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
}
