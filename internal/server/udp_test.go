package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/osc-relay-service/internal/config"
	"github.com/skypro1111/osc-relay-service/internal/protocol"
	"github.com/skypro1111/osc-relay-service/internal/relay"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testServerConfig() *config.ServerConfig {
	cfg := config.Default().Server
	cfg.BindAddress = "127.0.0.1"
	cfg.UDPPort = 0
	cfg.MaxConsecutiveErrors = 3
	return &cfg
}

// startUDPServer binds a listener on an ephemeral port and runs Serve until
// the test ends
func startUDPServer(t *testing.T, handler PacketHandler) (*UDPServer, <-chan error) {
	t.Helper()

	srv := NewUDPServer(testServerConfig(), newTestLogger(), handler, nil)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		_ = srv.Stop()
	})
	return srv, done
}

func udpPort(t *testing.T, srv *UDPServer) int {
	t.Helper()
	addr, ok := srv.LocalAddr().(*net.UDPAddr)
	require.True(t, ok)
	return addr.Port
}

func sendRaw(t *testing.T, srv *UDPServer, data []byte) {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, srv.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func TestUDPServerReceivesOSCMessage(t *testing.T) {
	engine := relay.NewEngine(newTestLogger(), nil)
	srv, _ := startUDPServer(t, engine)

	client := osc.NewClient("127.0.0.1", udpPort(t, srv))
	require.NoError(t, client.Send(osc.NewMessage("/test/1", int32(42))))

	require.Eventually(t, func() bool {
		_, ok := engine.Last()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	last, _ := engine.Last()
	assert.Equal(t, protocol.NewMessage("/test/1", protocol.Int(42)), last)

	stats := srv.GetStatistics()
	assert.Equal(t, uint64(1), stats.PacketsReceived)
	assert.Equal(t, uint64(1), stats.PacketsDecoded)
	assert.Equal(t, uint64(0), stats.DecodeErrors)
}

func TestUDPServerSurvivesMalformedPackets(t *testing.T) {
	engine := relay.NewEngine(newTestLogger(), nil)
	srv, _ := startUDPServer(t, engine)

	sendRaw(t, srv, []byte("garbage!"))
	sendRaw(t, srv, []byte{})
	sendRaw(t, srv, []byte("#bundle\x00"))

	client := osc.NewClient("127.0.0.1", udpPort(t, srv))
	require.NoError(t, client.Send(osc.NewMessage("/after", "ok")))

	require.Eventually(t, func() bool {
		last, ok := engine.Last()
		return ok && last.Address == "/after"
	}, 2*time.Second, 10*time.Millisecond)

	stats := srv.GetStatistics()
	assert.Equal(t, uint64(4), stats.PacketsReceived)
	assert.Equal(t, uint64(3), stats.DecodeErrors)
	assert.Equal(t, uint64(1), stats.PacketsDecoded)
}

func TestUDPServerPreservesArrivalOrder(t *testing.T) {
	engine := relay.NewEngine(newTestLogger(), nil)
	srv, _ := startUDPServer(t, engine)

	client := osc.NewClient("127.0.0.1", udpPort(t, srv))
	const count = 20
	for i := 0; i < count; i++ {
		require.NoError(t, client.Send(osc.NewMessage("/seq", int32(i))))
	}

	require.Eventually(t, func() bool {
		last, ok := engine.Last()
		return ok && last.Args[0].Value == int32(count-1)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUDPServerBindFailure(t *testing.T) {
	first := NewUDPServer(testServerConfig(), newTestLogger(), relay.NewEngine(newTestLogger(), nil), nil)
	require.NoError(t, first.Listen())
	t.Cleanup(func() { _ = first.Stop() })

	cfg := testServerConfig()
	cfg.UDPPort = udpPort(t, first)
	second := NewUDPServer(cfg, newTestLogger(), relay.NewEngine(newTestLogger(), nil), nil)

	err := second.Listen()
	require.Error(t, err)

	var bindErr *BindError
	require.True(t, errors.As(err, &bindErr))
	assert.Equal(t, "udp", bindErr.Network)
	assert.Contains(t, bindErr.Address, fmt.Sprintf("%d", cfg.UDPPort))
}

func TestUDPServerServeBeforeListen(t *testing.T) {
	srv := NewUDPServer(testServerConfig(), newTestLogger(), relay.NewEngine(newTestLogger(), nil), nil)
	assert.Error(t, srv.Serve(context.Background()))
	assert.Nil(t, srv.LocalAddr())
	assert.NoError(t, srv.Stop())
}

func TestUDPServerStopEndsServe(t *testing.T) {
	srv, done := startUDPServer(t, relay.NewEngine(newTestLogger(), nil))

	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}

func TestUDPServerContextCancelEndsServe(t *testing.T) {
	srv := NewUDPServer(testServerConfig(), newTestLogger(), relay.NewEngine(newTestLogger(), nil), nil)
	require.NoError(t, srv.Listen())
	t.Cleanup(func() { _ = srv.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestUDPServerClosedSocketIsFatal(t *testing.T) {
	srv := NewUDPServer(testServerConfig(), newTestLogger(), relay.NewEngine(newTestLogger(), nil), nil)
	require.NoError(t, srv.Listen())

	// Closed underneath the server rather than through Stop
	require.NoError(t, srv.conn.Close())

	err := srv.Serve(context.Background())
	require.Error(t, err)

	var socketErr *SocketError
	require.True(t, errors.As(err, &socketErr))
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.Equal(t, uint64(1), srv.GetStatistics().SocketErrors)
}

func TestSocketFailureThreshold(t *testing.T) {
	srv := NewUDPServer(testServerConfig(), newTestLogger(), nil, nil)
	transient := errors.New("connection refused")

	for i := 1; i <= srv.config.MaxConsecutiveErrors; i++ {
		assert.NoError(t, srv.socketFailure(transient, i), "error %d should be tolerated", i)
	}

	err := srv.socketFailure(transient, srv.config.MaxConsecutiveErrors+1)
	var socketErr *SocketError
	require.True(t, errors.As(err, &socketErr))
	assert.Equal(t, srv.config.MaxConsecutiveErrors+1, socketErr.Consecutive)
}

func TestIsFatalSocketError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"closed", net.ErrClosed, true},
		{"wrapped closed", &net.OpError{Op: "read", Net: "udp", Err: net.ErrClosed}, true},
		{"bad descriptor", syscall.EBADF, true},
		{"not a socket", fmt.Errorf("read: %w", syscall.ENOTSOCK), true},
		{"connection refused", syscall.ECONNREFUSED, false},
		{"eof", io.EOF, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, isFatalSocketError(tt.err))
		})
	}
}

func TestErrorTypes(t *testing.T) {
	cause := errors.New("address already in use")

	bindErr := &BindError{Network: "udp", Address: "0.0.0.0:57121", Err: cause}
	assert.Equal(t, "failed to bind udp 0.0.0.0:57121: address already in use", bindErr.Error())
	assert.ErrorIs(t, bindErr, cause)

	socketErr := &SocketError{Consecutive: 4, Err: cause}
	assert.Contains(t, socketErr.Error(), "4 consecutive errors")
	assert.ErrorIs(t, socketErr, cause)
}
