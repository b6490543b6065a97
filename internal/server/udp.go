package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/skypro1111/osc-relay-service/internal/config"
	"github.com/skypro1111/osc-relay-service/internal/metrics"
	"github.com/skypro1111/osc-relay-service/internal/protocol"
	"github.com/skypro1111/osc-relay-service/internal/relay"
)

const (
	// maxDatagramSize is the largest UDP payload that can be received
	maxDatagramSize = 65535

	// readDeadline bounds each blocking read so cancellation is observed
	readDeadline = 1 * time.Second

	// previewBytes is how much of a rejected packet is logged
	previewBytes = 32
)

// PacketHandler consumes raw datagrams in arrival order.
type PacketHandler interface {
	HandlePacket(data []byte) (relay.Result, error)
}

// BindError reports that a listening socket could not be opened.
type BindError struct {
	Network string
	Address string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s %s: %v", e.Network, e.Address, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// SocketError reports that the UDP socket became unusable after binding.
type SocketError struct {
	Consecutive int
	Err         error
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("udp socket failed after %d consecutive errors: %v", e.Consecutive, e.Err)
}

func (e *SocketError) Unwrap() error { return e.Err }

// UDPServer receives OSC datagrams and hands them to a PacketHandler from a
// single receive loop.
type UDPServer struct {
	conn    *net.UDPConn
	config  *config.ServerConfig
	logger  *slog.Logger
	handler PacketHandler
	metrics *metrics.Metrics

	stopped atomic.Bool

	packetsReceived atomic.Uint64
	packetsDecoded  atomic.Uint64
	decodeErrors    atomic.Uint64
	socketErrors    atomic.Uint64
}

// NewUDPServer creates a new UDP server instance. m may be nil.
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger, handler PacketHandler, m *metrics.Metrics) *UDPServer {
	return &UDPServer{
		config:  cfg,
		logger:  logger,
		handler: handler,
		metrics: m,
	}
}

// Listen binds the UDP socket. A failure is returned as *BindError.
func (s *UDPServer) Listen() error {
	address := net.JoinHostPort(s.config.BindAddress, fmt.Sprintf("%d", s.config.UDPPort))

	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return &BindError{Network: "udp", Address: address, Err: err}
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return &BindError{Network: "udp", Address: address, Err: err}
	}

	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP server listening",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.String("message_format", s.config.MessageFormat),
		slog.Int("buffer_size", s.config.BufferSize),
	)

	return nil
}

// LocalAddr returns the bound address, or nil before Listen.
func (s *UDPServer) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Serve runs the receive loop until ctx is cancelled or Stop is called, in
// which case it returns nil. An unusable socket ends the loop with a
// *SocketError.
func (s *UDPServer) Serve(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("udp server is not listening")
	}

	buffer := make([]byte, maxDatagramSize)
	consecutiveErrors := 0

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Receive loop stopping due to context cancellation")
			return nil
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			if s.shuttingDown(ctx) {
				return nil
			}
			consecutiveErrors++
			if serr := s.socketFailure(err, consecutiveErrors); serr != nil {
				return serr
			}
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if s.shuttingDown(ctx) {
				return nil
			}
			consecutiveErrors++
			if serr := s.socketFailure(err, consecutiveErrors); serr != nil {
				return serr
			}
			continue
		}
		consecutiveErrors = 0

		s.packetsReceived.Add(1)
		s.metrics.RecordPacketReceived(n)

		// buffer is reused by the next read
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		s.handleDatagram(packetData, remoteAddr)
	}
}

// handleDatagram decodes and dispatches a single datagram
func (s *UDPServer) handleDatagram(data []byte, remoteAddr *net.UDPAddr) {
	res, err := s.handler.HandlePacket(data)
	if err != nil {
		s.decodeErrors.Add(1)

		attrs := []any{
			slog.String("remote_addr", remoteAddr.String()),
			slog.Int("packet_size", len(data)),
			slog.String("error", err.Error()),
		}
		var decodeErr *protocol.DecodeError
		if errors.As(err, &decodeErr) {
			attrs = append(attrs, slog.String("preview", decodeErr.Preview(previewBytes)))
		}
		s.logger.Warn("Failed to decode OSC packet", attrs...)
		return
	}

	s.packetsDecoded.Add(1)

	s.logger.Debug("OSC packet processed",
		slog.String("remote_addr", remoteAddr.String()),
		slog.Int("packet_size", len(data)),
		slog.Int("delivered", res.Delivered),
		slog.Int("failed", res.Failed),
	)
}

// socketFailure records a read error and returns a *SocketError if the loop
// must end
func (s *UDPServer) socketFailure(err error, consecutive int) error {
	s.socketErrors.Add(1)
	s.metrics.RecordSocketError()

	if isFatalSocketError(err) || consecutive > s.config.MaxConsecutiveErrors {
		s.logger.Error("UDP socket unusable",
			slog.Int("consecutive_errors", consecutive),
			slog.String("error", err.Error()),
		)
		return &SocketError{Consecutive: consecutive, Err: err}
	}

	s.logger.Warn("Failed to read UDP packet",
		slog.Int("consecutive_errors", consecutive),
		slog.String("error", err.Error()),
	)
	return nil
}

func (s *UDPServer) shuttingDown(ctx context.Context) bool {
	return ctx.Err() != nil || s.stopped.Load()
}

// isFatalSocketError reports errors after which the socket cannot be read again
func isFatalSocketError(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EBADF) ||
		errors.Is(err, syscall.ENOTSOCK)
}

// Stop closes the socket, ending a running Serve call.
func (s *UDPServer) Stop() error {
	if s.conn == nil || !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	s.logger.Info("Stopping UDP server...")

	err := s.conn.Close()

	stats := s.GetStatistics()
	s.logger.Info("UDP server stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_decoded", stats.PacketsDecoded),
		slog.Uint64("decode_errors", stats.DecodeErrors),
		slog.Uint64("socket_errors", stats.SocketErrors),
	)

	if err != nil {
		return fmt.Errorf("failed to close UDP socket: %w", err)
	}
	return nil
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	return ServerStatistics{
		PacketsReceived: s.packetsReceived.Load(),
		PacketsDecoded:  s.packetsDecoded.Load(),
		DecodeErrors:    s.decodeErrors.Load(),
		SocketErrors:    s.socketErrors.Load(),
	}
}

// ServerStatistics represents UDP listener counters
type ServerStatistics struct {
	PacketsReceived uint64 `json:"packets_received"`
	PacketsDecoded  uint64 `json:"packets_decoded"`
	DecodeErrors    uint64 `json:"decode_errors"`
	SocketErrors    uint64 `json:"socket_errors"`
}
