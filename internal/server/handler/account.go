package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

// Book is the read side of the engine's account ledger.
type Book interface {
	Snapshot(now time.Time) domain.AccountSnapshot
	Holdings(now time.Time) []domain.Holding
	Pending() []domain.SettlementEntry
}

// OpenPositions lists journaled open positions.
type OpenPositions interface {
	ListOpen(ctx context.Context) ([]domain.Holding, error)
}

// AccountHandler serves the account and position endpoints.
type AccountHandler struct {
	book      Book
	positions OpenPositions
	now       func() time.Time
	logger    *slog.Logger
}

// NewAccountHandler creates an AccountHandler. positions may be nil when no
// durable store is configured.
func NewAccountHandler(book Book, positions OpenPositions, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		book:      book,
		positions: positions,
		now:       time.Now,
		logger:    logHandler(logger, "account"),
	}
}

type accountResponse struct {
	Account  domain.AccountSnapshot   `json:"account"`
	Holdings []domain.Holding         `json:"holdings"`
	Pending  []domain.SettlementEntry `json:"pending_settlement"`
}

// GetAccount returns the ledger summary with every holding and the lots
// still waiting on settlement.
// GET /api/account
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	resp := accountResponse{
		Account:  h.book.Snapshot(now),
		Holdings: h.book.Holdings(now),
		Pending:  h.book.Pending(),
	}
	if resp.Holdings == nil {
		resp.Holdings = []domain.Holding{}
	}
	if resp.Pending == nil {
		resp.Pending = []domain.SettlementEntry{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListPositions returns open positions. The journal is preferred since it
// survives restarts; the in-memory ledger answers when it is absent.
// GET /api/positions
func (h *AccountHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	source := "ledger"
	var (
		positions []domain.Holding
		err       error
	)
	if h.positions != nil {
		source = "journal"
		positions, err = h.positions.ListOpen(r.Context())
		if err != nil {
			writeServiceError(w, r, h.logger, err, "failed to list positions")
			return
		}
	} else {
		positions = h.book.Holdings(h.now())
	}
	if positions == nil {
		positions = []domain.Holding{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "positions": positions})
}
