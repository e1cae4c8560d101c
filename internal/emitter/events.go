package emitter

import (
	"encoding/json"
	"log/slog"
	"time"
)

const (
	TopicEmissionSubmitted = "emission.submitted"
	TopicEmissionConfirmed = "emission.confirmed"
	TopicEmissionFailed    = "emission.failed"
	TopicEmissionSkipped   = "emission.skipped"
)

// EventPublisher hands emission lifecycle events to downstream consumers.
// *nats.Conn satisfies it directly. A nil publisher disables events.
type EventPublisher interface {
	Publish(subj string, data []byte) error
}

type emissionEvent struct {
	LedgerID    string `json:"ledgerId"`
	PeriodID    int64  `json:"periodId"`
	Status      string `json:"status"`
	TxHash      string `json:"txHash,omitempty"`
	TipShannons string `json:"tipShannons,omitempty"`
	Depth       uint64 `json:"confirmationDepth,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// publishEvent is best-effort: a broken queue never interferes with the
// emission pipeline itself.
func publishEvent(publisher EventPublisher, logger *slog.Logger, topic string, ev emissionEvent) {
	if publisher == nil {
		return
	}

	ev.Timestamp = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("failed to marshal emission event", slog.String("err", err.Error()))
		return
	}

	err = publisher.Publish(topic, data)
	if err != nil {
		logger.Warn("failed to publish emission event",
			slog.String("topic", topic),
			slog.Int64("periodId", ev.PeriodID),
			slog.String("err", err.Error()),
		)
	}
}
