// Package mq connects the emitter to its NATS message queue. Emission
// lifecycle events are published fire-and-forget; the queue being down never
// blocks the emission pipeline.
package mq

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsConnection is the subset of *nats.Conn the emitter uses.
type NatsConnection interface {
	Publish(subj string, data []byte) error
	Drain() error
	Close()
}

func NewNatsConnection(natsURL string, logger *slog.Logger) (*nats.Conn, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, err
	}

	opts := []nats.Option{
		nats.Name(hostname),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("connection error", slog.String("err", err.Error()))
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error("client disconnected", slog.String("err", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("client reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("client closed")
		}),
		nats.RetryOnFailedConnect(true),
		nats.PingInterval(2 * time.Minute),
		nats.MaxPingsOutstanding(2),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
	}

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS server: %v", err)
	}

	return nc, nil
}
