package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

type chanBus struct {
	domain.SignalBus
	mu    sync.Mutex
	chans map[string]chan []byte
	ready chan string
}

func newChanBus() *chanBus {
	return &chanBus{chans: make(map[string]chan []byte), ready: make(chan string, 8)}
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 4)
	b.mu.Lock()
	b.chans[channel] = ch
	b.mu.Unlock()
	b.ready <- channel
	return ch, nil
}

func (b *chanBus) send(channel string, payload string) {
	b.mu.Lock()
	ch := b.chans[channel]
	b.mu.Unlock()
	ch <- []byte(payload)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubRelaysBusMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newChanBus()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(bus, logger, Config{
		Mode:     "full",
		Snapshot: func() any { return map[string]int{"loops": 2} },
	})
	go hub.Run(ctx)
	for range defaultChannels {
		<-bus.ready
	}

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()
	conn := dial(t, srv)

	hello := readFrame(t, conn)
	assert.Equal(t, "hello", hello.Channel)
	assert.Contains(t, string(hello.Data), `"mode":"full"`)
	assert.Contains(t, string(hello.Data), `"loops":2`)

	bus.send(domain.ChannelDecision, `{"symbol":"600519","action":"BUY"}`)
	got := readFrame(t, conn)
	assert.Equal(t, domain.ChannelDecision, got.Channel)
	assert.JSONEq(t, `{"symbol":"600519","action":"BUY"}`, string(got.Data))

	// Unsubscribed channels are filtered per client.
	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelStatus}}))
	time.Sleep(50 * time.Millisecond)
	bus.send(domain.ChannelStatus, `{"state":"running"}`)
	bus.send(domain.ChannelTrade, `plain text`)
	got = readFrame(t, conn)
	assert.Equal(t, domain.ChannelTrade, got.Channel)
	assert.Equal(t, `"plain text"`, string(got.Data))
}

func TestIsSubscribedWildcard(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:*": true}}
	assert.True(t, c.isSubscribed(domain.ChannelTrade))
	assert.False(t, c.isSubscribed("stream:events"))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:3000"})
	req := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, check(req))
	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, check(req))
	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(req))
}

func httpHandler(h *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", h.HandleWS)
	return mux
}
