package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

// DecisionLister reads journaled decisions.
type DecisionLister interface {
	ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Decision, error)
}

// TradeLister reads journaled orders.
type TradeLister interface {
	ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Order, error)
}

// NotificationLister reads journaled notifications.
type NotificationLister interface {
	ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.NotificationRecord, error)
}

// HistoryHandler serves the journal read endpoints. Every lister is optional;
// a missing one answers 503.
type HistoryHandler struct {
	decisions     DecisionLister
	trades        TradeLister
	notifications NotificationLister
	logger        *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(decisions DecisionLister, trades TradeLister, notifications NotificationLister, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		decisions:     decisions,
		trades:        trades,
		notifications: notifications,
		logger:        logHandler(logger, "history"),
	}
}

const errJournalDisabled = "journal storage is not configured"

// ListDecisions returns recent decisions, newest first.
// GET /api/decisions?symbol=600519&since=2026-10-01&limit=50&offset=0
func (h *HistoryHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	if h.decisions == nil {
		writeError(w, http.StatusServiceUnavailable, errJournalDisabled)
		return
	}
	out, err := h.decisions.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list decisions")
		return
	}
	if out == nil {
		out = []domain.Decision{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": out})
}

// ListTrades returns recent orders, newest first.
// GET /api/trades?symbol=600519&limit=50
func (h *HistoryHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	if h.trades == nil {
		writeError(w, http.StatusServiceUnavailable, errJournalDisabled)
		return
	}
	out, err := h.trades.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list trades")
		return
	}
	if out == nil {
		out = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}

// ListNotifications returns recently forwarded notifications.
// GET /api/notifications?symbol=600519&limit=50
func (h *HistoryHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	if h.notifications == nil {
		writeError(w, http.StatusServiceUnavailable, errJournalDisabled)
		return
	}
	out, err := h.notifications.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list notifications")
		return
	}
	if out == nil {
		out = []domain.NotificationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}
