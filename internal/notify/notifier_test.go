package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartmonitor/internal/crypto"
)

func TestNotifierFiltersEvents(t *testing.T) {
	sender := &captureSender{}
	n := NewNotifier([]Sender{sender}, []string{"trade_signal"}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), "heartbeat", "t", "m"))
	assert.Empty(t, sender.messages)

	require.NoError(t, n.Notify(context.Background(), "trade_signal", "t", "m"))
	assert.Len(t, sender.messages, 1)
}

func TestNotifierContinuesPastFailingSender(t *testing.T) {
	bad := &captureSender{err: errors.New("down")}
	good := &captureSender{}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	assert.Error(t, err)
	assert.Len(t, good.messages, 1)
}

func TestWebhookSender(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookSender(srv.URL).Send(context.Background(), "title", "body"))
	assert.Contains(t, got, "application/json")

	fail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer fail.Close()
	assert.Error(t, NewDiscordSender(fail.URL).Send(context.Background(), "title", "body"))
}

func TestWebhookSenderSignsBody(t *testing.T) {
	signer := crypto.NewWebhookSigner("hook-secret")
	var verified bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verified = signer.Verify(r.Header.Get(crypto.HeaderTimestamp), body, r.Header.Get(crypto.HeaderSignature))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL).WithSigner(signer)
	require.NoError(t, sender.Send(context.Background(), "BUY 600519", "confidence 82"))
	assert.True(t, verified)
}
