package stream

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newWSPair returns a server-side subscriber and the client end of the same
// connection.
func newWSPair(t *testing.T, cfg WSConfig, start bool, onClose func(string)) (*WSSubscriber, *websocket.Conn) {
	t.Helper()

	subs := make(chan *WSSubscriber, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		sub := NewWSSubscriber("test-sub", conn, cfg, newTestLogger(), onClose)
		if start {
			sub.Start()
		}
		subs <- sub
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case sub := <-subs:
		t.Cleanup(func() { _ = sub.Close() })
		return sub, client
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscriber")
	}
	return nil, nil
}

func TestWSSubscriberDeliversInOrder(t *testing.T) {
	sub, client := newWSPair(t, DefaultWSConfig(), true, nil)

	const count = 20
	for i := 0; i < count; i++ {
		require.NoError(t, sub.Send([]byte(fmt.Sprintf("msg-%d", i))))
	}

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	for i := 0; i < count; i++ {
		messageType, data, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, messageType)
		assert.Equal(t, fmt.Sprintf("msg-%d", i), string(data))
	}

	assert.Eventually(t, func() bool { return sub.MessagesSent() == count }, time.Second, 10*time.Millisecond)
}

func TestWSSubscriberBackpressure(t *testing.T) {
	cfg := DefaultWSConfig()
	cfg.QueueSize = 2

	// Not started: nothing drains the queue.
	sub, _ := newWSPair(t, cfg, false, nil)

	require.NoError(t, sub.Send([]byte("one")))
	require.NoError(t, sub.Send([]byte("two")))
	assert.ErrorIs(t, sub.Send([]byte("three")), ErrBackpressure)
}

func TestWSSubscriberSendAfterClose(t *testing.T) {
	closed := make(chan string, 2)
	sub, client := newWSPair(t, DefaultWSConfig(), true, func(id string) { closed <- id })

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	assert.ErrorIs(t, sub.Send([]byte("late")), ErrSubscriberClosed)

	select {
	case id := <-closed:
		assert.Equal(t, "test-sub", id)
	case <-time.After(time.Second):
		t.Fatal("onClose was not called")
	}
	assert.Empty(t, closed)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	assert.Error(t, err)
}

func TestWSSubscriberClientDisconnect(t *testing.T) {
	closed := make(chan string, 2)
	sub, client := newWSPair(t, DefaultWSConfig(), true, func(id string) { closed <- id })

	require.NoError(t, client.Close())

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not notice the disconnect")
	}

	sub.Wait()
	assert.Equal(t, "test-sub", <-closed)
	assert.ErrorIs(t, sub.Send([]byte("gone")), ErrSubscriberClosed)
}

// fillUntilBackpressure queues large payloads to a peer that never reads
// until the subscriber reports a full queue.
func fillUntilBackpressure(t *testing.T, sub *WSSubscriber) {
	t.Helper()

	payload := make([]byte, 1<<20)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		err := sub.Send(payload)
		if errors.Is(err, ErrBackpressure) {
			return
		}
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("subscriber never reported backpressure")
}

func TestWSSubscriberCloseWithStalledPeer(t *testing.T) {
	cfg := DefaultWSConfig()
	cfg.QueueSize = 4
	cfg.WriteTimeout = 3 * time.Second
	cfg.MaxMessageSize = 1 << 20

	closed := make(chan string, 1)
	sub, _ := newWSPair(t, cfg, true, func(id string) { closed <- id })

	fillUntilBackpressure(t, sub)

	// Give the writer time to block inside a frame write.
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	require.NoError(t, sub.Close())
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.Equal(t, "test-sub", <-closed)
	assert.ErrorIs(t, sub.Send([]byte("late")), ErrSubscriberClosed)

	waited := make(chan struct{})
	go func() {
		sub.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(cfg.WriteTimeout + 3*time.Second):
		t.Fatal("connection goroutines did not exit")
	}
}
