package stream

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig controls per-connection queueing and liveness.
type WSConfig struct {
	QueueSize      int           // pending payloads before Send reports backpressure
	WriteTimeout   time.Duration // deadline for a single frame write
	PongTimeout    time.Duration // max silence from the peer before the connection is dropped
	PingInterval   time.Duration // must be shorter than PongTimeout
	MaxMessageSize int64         // read limit for client frames
}

// DefaultWSConfig returns the settings used when none are configured.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		QueueSize:      64,
		WriteTimeout:   5 * time.Second,
		PongTimeout:    60 * time.Second,
		PingInterval:   54 * time.Second,
		MaxMessageSize: 512,
	}
}

// WSSubscriber is a Subscriber backed by a WebSocket connection. Payloads
// are queued by Send and written in order by a single writer goroutine.
type WSSubscriber struct {
	id          string
	conn        *websocket.Conn
	config      WSConfig
	logger      *slog.Logger
	connectedAt time.Time

	queue      chan []byte
	done       chan struct{}
	connClosed chan struct{}
	closed     atomic.Bool
	closeOnce  sync.Once
	onClose    func(id string)
	wg         sync.WaitGroup

	messagesSent atomic.Uint64
	bytesSent    atomic.Uint64
}

var _ Subscriber = (*WSSubscriber)(nil)

// NewWSSubscriber wraps an upgraded connection. onClose, if non-nil, runs
// exactly once when the subscriber closes for any reason.
func NewWSSubscriber(id string, conn *websocket.Conn, cfg WSConfig, logger *slog.Logger, onClose func(id string)) *WSSubscriber {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}

	return &WSSubscriber{
		id:          id,
		conn:        conn,
		config:      cfg,
		logger:      logger.With(slog.String("subscriber_id", id)),
		connectedAt: time.Now(),
		queue:       make(chan []byte, cfg.QueueSize),
		done:        make(chan struct{}),
		connClosed:  make(chan struct{}),
		onClose:     onClose,
	}
}

// ID returns the subscriber identifier
func (s *WSSubscriber) ID() string { return s.id }

// RemoteAddr returns the peer address
func (s *WSSubscriber) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// ConnectedAt returns when the subscriber was created
func (s *WSSubscriber) ConnectedAt() time.Time { return s.connectedAt }

// MessagesSent returns the number of payloads written to the connection
func (s *WSSubscriber) MessagesSent() uint64 { return s.messagesSent.Load() }

// Done is closed when the subscriber closes.
func (s *WSSubscriber) Done() <-chan struct{} { return s.done }

// Start launches the reader and writer goroutines.
func (s *WSSubscriber) Start() {
	s.wg.Add(2)
	go s.writePump()
	go s.readPump()
}

// Send queues payload without blocking. The payload must not be modified
// afterwards; it may be shared with other subscribers.
func (s *WSSubscriber) Send(payload []byte) error {
	if s.closed.Load() {
		return ErrSubscriberClosed
	}

	select {
	case <-s.done:
		return ErrSubscriberClosed
	case s.queue <- payload:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close marks the subscriber closed, runs the onClose hook and releases the
// connection in the background. It never waits on network I/O, so a peer
// that stopped reading cannot stall the caller. Only the first call has any
// effect.
func (s *WSSubscriber) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)

		go s.closeConn()

		s.logger.Debug("Subscriber closed",
			slog.Uint64("messages_sent", s.messagesSent.Load()),
			slog.Duration("connected_for", time.Since(s.connectedAt)),
		)

		if s.onClose != nil {
			s.onClose(s.id)
		}
	})
	return nil
}

// closeConn sends a close frame and closes the connection. The frame waits
// for any in-flight write, which is itself bounded by WriteTimeout.
func (s *WSSubscriber) closeConn() {
	defer close(s.connClosed)

	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("Error closing subscriber connection", slog.String("error", err.Error()))
	}
}

// Wait blocks until the connection goroutines have exited and, once the
// subscriber is closed, until the connection itself is released.
func (s *WSSubscriber) Wait() {
	s.wg.Wait()
	if s.closed.Load() {
		<-s.connClosed
	}
}

// writePump is the only goroutine writing data frames to the connection
func (s *WSSubscriber) writePump() {
	defer s.wg.Done()
	defer s.Close()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case payload := <-s.queue:
			if err := s.write(websocket.TextMessage, payload); err != nil {
				s.logger.Warn("Failed to write to subscriber", slog.String("error", err.Error()))
				return
			}
			s.messagesSent.Add(1)
			s.bytesSent.Add(uint64(len(payload)))

		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("Failed to ping subscriber", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// readPump drains client frames so control frames are processed and
// detects disconnects
func (s *WSSubscriber) readPump() {
	defer s.wg.Done()
	defer s.Close()

	s.conn.SetReadLimit(s.config.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				s.logger.Debug("Subscriber connection lost", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (s *WSSubscriber) write(messageType int, data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}
