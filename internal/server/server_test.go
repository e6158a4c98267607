package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartmonitor/internal/server/handler"
)

func testHandlers(logger *slog.Logger) Handlers {
	return Handlers{
		Health:   handler.NewHealthHandler("full", false, nil, logger),
		Monitors: handler.NewMonitorHandler(nil, logger),
		History:  handler.NewHistoryHandler(nil, nil, nil, logger),
		Events:   handler.NewEventsHandler(nil, logger),
	}
}

func TestRoutesAndAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(Config{APIKey: "k"}, testHandlers(logger), nil, nil, logger)

	tests := []struct {
		name, method, path, key string
		code                    int
	}{
		{"health is public", http.MethodGet, "/api/health", "", http.StatusOK},
		{"monitors need key", http.MethodGet, "/api/monitors", "", http.StatusUnauthorized},
		{"decisions without journal", http.MethodGet, "/api/decisions", "k", http.StatusServiceUnavailable},
		{"events without bus", http.MethodGet, "/api/events", "k", http.StatusServiceUnavailable},
		{"ws absent without hub", http.MethodGet, "/ws", "k", http.StatusNotFound},
		{"wrong method", http.MethodPatch, "/api/monitors", "k", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}

func TestServeAndShutdown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(Config{}, testHandlers(logger), nil, nil, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-errCh)
}
