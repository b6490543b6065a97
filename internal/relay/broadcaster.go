package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/osc-relay-service/internal/metrics"
	"github.com/skypro1111/osc-relay-service/internal/protocol"
	"github.com/skypro1111/osc-relay-service/internal/stream"
)

// Result summarizes one Broadcast call.
type Result struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Broadcaster pushes messages to every registered subscriber.
type Broadcaster struct {
	registry *stream.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewBroadcaster creates a broadcaster over registry. m may be nil.
func NewBroadcaster(registry *stream.Registry, logger *slog.Logger, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		logger:   logger,
		metrics:  m,
	}
}

// Broadcast serializes msg once and hands the payload to each subscriber in
// a registry snapshot. A subscriber whose Send fails is unregistered and
// closed; the remaining subscribers are still served.
func (b *Broadcaster) Broadcast(msg *protocol.Message) Result {
	start := time.Now()

	payload, err := protocol.MarshalWire(msg)
	if err != nil {
		b.logger.Error("Failed to serialize message for broadcast",
			slog.String("address", msg.Address),
			slog.String("error", err.Error()),
		)
		return Result{}
	}

	var res Result
	for _, sub := range b.registry.Snapshot() {
		if err := send(sub, payload); err != nil {
			res.Failed++
			b.drop(sub, err)
			continue
		}
		res.Delivered++
	}

	b.metrics.RecordBroadcast(res.Delivered, len(payload), time.Since(start).Seconds())

	b.logger.Debug("Message broadcast",
		slog.String("address", msg.Address),
		slog.Int("delivered", res.Delivered),
		slog.Int("failed", res.Failed),
		slog.Int("payload_size", len(payload)),
	)

	return res
}

// drop removes a subscriber after a failed send
func (b *Broadcaster) drop(sub stream.Subscriber, cause error) {
	b.registry.Unregister(sub.ID())

	if err := sub.Close(); err != nil {
		b.logger.Debug("Error closing failed subscriber",
			slog.String("subscriber_id", sub.ID()),
			slog.String("error", err.Error()),
		)
	}

	reason := failureReason(cause)
	b.metrics.RecordSendFailure(reason)

	b.logger.Warn("Dropped subscriber after failed send",
		slog.String("subscriber_id", sub.ID()),
		slog.String("reason", reason),
		slog.String("error", cause.Error()),
	)
}

// send isolates the caller from a subscriber implementation that panics
func send(sub stream.Subscriber, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return sub.Send(payload)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, stream.ErrBackpressure):
		return "backpressure"
	case errors.Is(err, stream.ErrSubscriberClosed):
		return "closed"
	default:
		return "error"
	}
}
