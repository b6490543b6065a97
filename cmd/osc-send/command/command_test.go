package command

import (
	"bytes"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/osc-relay-service/internal/protocol"
)

func TestParseArg(t *testing.T) {
	tests := []struct {
		input   string
		want    protocol.Arg
		wantErr bool
	}{
		{input: "42", want: protocol.Int(42)},
		{input: "-7", want: protocol.Int(-7)},
		{input: "0.75", want: protocol.Float(0.75)},
		{input: "1e3", want: protocol.Float(1000)},
		{input: "hello", want: protocol.String("hello")},
		{input: "NaN", want: protocol.String("NaN")},
		{input: "4294967296", want: protocol.Float(4294967296)},
		{input: "s:42", want: protocol.String("42")},
		{input: "s:", want: protocol.String("")},
		{input: "i:12", want: protocol.Int(12)},
		{input: "f:2", want: protocol.Float(2)},
		{input: "b:0a0b", want: protocol.Blob([]byte{0x0a, 0x0b})},
		{input: "x:unknown", want: protocol.String("x:unknown")},
		{input: "http://example.com", want: protocol.String("http://example.com")},
		{input: "i:abc", wantErr: true},
		{input: "f:abc", wantErr: true},
		{input: "b:zz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseArg(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// listenUDP returns a local receiver and its port
func listenUDP(t *testing.T) (*net.UDPConn, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

func receive(t *testing.T, conn *net.UDPConn) *protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 2048)
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	msg, err := protocol.Decode(buf[:n])
	require.NoError(t, err)
	return msg
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSendCommand(t *testing.T) {
	conn, port := listenUDP(t)

	out, err := run(t, "send", "/test/1", "42", "hello", "0.5", "--blob", "0a0b0c", "--port", strconv.Itoa(port))
	require.NoError(t, err)
	assert.Contains(t, out, "Sent Message{Address:/test/1")

	want := protocol.NewMessage("/test/1",
		protocol.Int(42),
		protocol.String("hello"),
		protocol.Float(0.5),
		protocol.Blob([]byte{0x0a, 0x0b, 0x0c}),
	)
	assert.Equal(t, want, receive(t, conn))
}

func TestTouchCommandRepeat(t *testing.T) {
	conn, port := listenUDP(t)

	_, err := run(t, "touch", "3", "--port", strconv.Itoa(port), "--repeat", "3", "--interval", "0s")
	require.NoError(t, err)

	want := protocol.NewMessage("/touch", protocol.Int(3))
	for i := 0; i < 3; i++ {
		assert.Equal(t, want, receive(t, conn))
	}
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{"missing address", []string{"send"}, "requires at least 1 arg"},
		{"bad address", []string{"send", "test"}, "address must start with '/'"},
		{"bad blob", []string{"send", "/x", "--blob", "xyz"}, "invalid --blob value"},
		{"pad out of range", []string{"touch", "12"}, "pad must be an integer between 0 and 11"},
		{"pad not a number", []string{"touch", "one"}, "pad must be an integer"},
		{"bad port", []string{"touch", "1", "--port", "0"}, "port must be between 1 and 65535"},
		{"bad repeat", []string{"touch", "1", "--repeat", "0"}, "repeat must be at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
