package relay

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/skypro1111/osc-relay-service/internal/metrics"
	"github.com/skypro1111/osc-relay-service/internal/protocol"
	"github.com/skypro1111/osc-relay-service/internal/stream"
)

// Engine owns the relay state shared by the listener and the HTTP server:
// the last-value cache, the subscriber registry and the broadcaster.
// It is created once at startup and passed to its collaborators.
type Engine struct {
	cache       LastValue
	registry    *stream.Registry
	broadcaster *Broadcaster
	logger      *slog.Logger
	metrics     *metrics.Metrics

	messagesDispatched atomic.Uint64
	decodeErrors       atomic.Uint64
	deliveries         atomic.Uint64
	sendFailures       atomic.Uint64
}

// NewEngine creates an engine with an empty cache and registry. m may be nil.
func NewEngine(logger *slog.Logger, m *metrics.Metrics) *Engine {
	registry := stream.NewRegistry(logger, m.SetSubscribers)

	return &Engine{
		registry:    registry,
		broadcaster: NewBroadcaster(registry, logger, m),
		logger:      logger,
		metrics:     m,
	}
}

// HandlePacket decodes one datagram and dispatches the resulting message.
// A decode failure leaves the cache untouched, reaches no subscriber and is
// returned as a *protocol.DecodeError.
func (e *Engine) HandlePacket(data []byte) (Result, error) {
	msg, err := protocol.Decode(data)
	if err != nil {
		e.decodeErrors.Add(1)
		e.metrics.RecordDecodeError()
		return Result{}, err
	}
	e.metrics.RecordMessageDecoded()

	return e.Dispatch(msg), nil
}

// Dispatch stores msg as the last value and broadcasts it. Calls must not
// overlap if per-subscriber ordering matters.
func (e *Engine) Dispatch(msg *protocol.Message) Result {
	e.logger.Debug("Received OSC message",
		slog.String("address", msg.Address),
		slog.String("type_tags", msg.TypeTags()),
		slog.Int("args", len(msg.Args)),
	)

	e.cache.Set(msg)
	res := e.broadcaster.Broadcast(msg)

	e.messagesDispatched.Add(1)
	e.deliveries.Add(uint64(res.Delivered))
	e.sendFailures.Add(uint64(res.Failed))

	return res
}

// Last returns the most recently dispatched message.
func (e *Engine) Last() (*protocol.Message, bool) {
	return e.cache.Get()
}

// Registry returns the subscriber registry.
func (e *Engine) Registry() *stream.Registry {
	return e.registry
}

// Close unregisters and closes every subscriber.
func (e *Engine) Close() {
	e.registry.CloseAll()
}

// Stats returns current engine statistics
func (e *Engine) Stats() EngineStatistics {
	stats := EngineStatistics{
		MessagesDispatched: e.messagesDispatched.Load(),
		DecodeErrors:       e.decodeErrors.Load(),
		Deliveries:         e.deliveries.Load(),
		SendFailures:       e.sendFailures.Load(),
		Subscribers:        e.registry.Len(),
	}
	if msg, ok := e.cache.Get(); ok {
		stats.LastAddress = msg.Address
		updated := e.cache.UpdatedAt()
		stats.LastUpdated = &updated
	}
	return stats
}

// EngineStatistics represents relay counters for the stats endpoint
type EngineStatistics struct {
	MessagesDispatched uint64     `json:"messages_dispatched"`
	DecodeErrors       uint64     `json:"decode_errors"`
	Deliveries         uint64     `json:"deliveries"`
	SendFailures       uint64     `json:"send_failures"`
	Subscribers        int        `json:"subscribers"`
	LastAddress        string     `json:"last_address,omitempty"`
	LastUpdated        *time.Time `json:"last_updated,omitempty"`
}
