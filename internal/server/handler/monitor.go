package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
	"github.com/alanyoungcy/smartmonitor/internal/monitor"
)

// TaskService defines the methods that the monitor handler requires from the
// service layer.
type TaskService interface {
	Register(ctx context.Context, task domain.MonitorTask) (domain.MonitorTask, error)
	Update(ctx context.Context, task domain.MonitorTask) (domain.MonitorTask, error)
	SetEnabled(ctx context.Context, symbol string, enabled bool) (domain.MonitorTask, error)
	Remove(ctx context.Context, symbol string) error
	Get(ctx context.Context, symbol string) (domain.MonitorTask, error)
	List(ctx context.Context) ([]domain.MonitorTask, error)
	Statuses() []monitor.Status
	RunOnce(ctx context.Context, symbol string) (monitor.Outcome, error)
}

// MonitorHandler serves the monitor task endpoints.
type MonitorHandler struct {
	tasks  TaskService
	logger *slog.Logger
}

// NewMonitorHandler creates a MonitorHandler with the given service and logger.
func NewMonitorHandler(tasks TaskService, logger *slog.Logger) *MonitorHandler {
	return &MonitorHandler{tasks: tasks, logger: logHandler(logger, "monitor")}
}

// presetRequest declares a position held outside the brokerage view.
type presetRequest struct {
	Quantity  int64           `json:"quantity"`
	CostBasis decimal.Decimal `json:"cost_basis"`
	OpenDate  string          `json:"open_date,omitempty"`
}

// taskRequest is the body accepted by POST and PUT. Pointer fields default
// to true when omitted.
type taskRequest struct {
	Symbol               string         `json:"symbol"`
	Name                 string         `json:"name"`
	CheckIntervalSeconds int            `json:"check_interval_seconds"`
	AutoTrade            bool           `json:"auto_trade"`
	TradingHoursOnly     *bool          `json:"trading_hours_only"`
	PositionSizePct      float64        `json:"position_size_pct"`
	StopLossPct          float64        `json:"stop_loss_pct"`
	TakeProfitPct        float64        `json:"take_profit_pct"`
	Enabled              *bool          `json:"enabled"`
	Notify               *bool          `json:"notify"`
	Preset               *presetRequest `json:"preset"`
}

func (req taskRequest) task() (domain.MonitorTask, error) {
	t := domain.MonitorTask{
		Symbol:               req.Symbol,
		Name:                 req.Name,
		CheckIntervalSeconds: req.CheckIntervalSeconds,
		AutoTrade:            req.AutoTrade,
		TradingHoursOnly:     boolOr(req.TradingHoursOnly, true),
		PositionSizePct:      req.PositionSizePct,
		StopLossPct:          req.StopLossPct,
		TakeProfitPct:        req.TakeProfitPct,
		Enabled:              boolOr(req.Enabled, true),
		Notify:               boolOr(req.Notify, true),
	}
	if p := req.Preset; p != nil && p.Quantity != 0 {
		preset := &domain.PresetPosition{Quantity: p.Quantity, CostBasis: p.CostBasis}
		if p.OpenDate != "" {
			d, err := time.Parse(time.DateOnly, p.OpenDate)
			if err != nil {
				return domain.MonitorTask{}, fmt.Errorf("%w: preset open_date %q is not YYYY-MM-DD", domain.ErrInvalidTask, p.OpenDate)
			}
			preset.OpenDate = d
		}
		t.Preset = preset
	}
	return t, nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

// monitorView pairs a task with its loop status, when running.
type monitorView struct {
	domain.MonitorTask
	Status *monitor.Status `json:"status,omitempty"`
}

type listMonitorsResponse struct {
	Monitors []monitorView `json:"monitors"`
}

// ListMonitors returns every registered task with the state of its loop.
// GET /api/monitors
func (h *MonitorHandler) ListMonitors(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list monitors")
		return
	}

	statuses := make(map[string]monitor.Status)
	for _, st := range h.tasks.Statuses() {
		statuses[st.Symbol] = st
	}

	views := make([]monitorView, 0, len(tasks))
	for _, t := range tasks {
		v := monitorView{MonitorTask: t}
		if st, ok := statuses[t.Symbol]; ok {
			v.Status = &st
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, listMonitorsResponse{Monitors: views})
}

// GetMonitor returns one task.
// GET /api/monitors/{symbol}
func (h *MonitorHandler) GetMonitor(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	task, err := h.tasks.Get(r.Context(), symbol)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get monitor")
		return
	}
	v := monitorView{MonitorTask: task}
	for _, st := range h.tasks.Statuses() {
		if st.Symbol == symbol {
			v.Status = &st
			break
		}
	}
	writeJSON(w, http.StatusOK, v)
}

// CreateMonitor registers a new task and starts it when enabled.
// POST /api/monitors
func (h *MonitorHandler) CreateMonitor(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	task, err := req.task()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.tasks.Register(r.Context(), task)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to register monitor")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateMonitor replaces a task's settings. The symbol comes from the path.
// PUT /api/monitors/{symbol}
func (h *MonitorHandler) UpdateMonitor(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Symbol = pathParam(r, "symbol")
	task, err := req.task()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.tasks.Update(r.Context(), task)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to update monitor")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteMonitor stops and removes a task.
// DELETE /api/monitors/{symbol}
func (h *MonitorHandler) DeleteMonitor(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if err := h.tasks.Remove(r.Context(), symbol); err != nil {
		writeServiceError(w, r, h.logger, err, "failed to remove monitor")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "symbol": symbol})
}

// StartMonitor enables a task.
// POST /api/monitors/{symbol}/start
func (h *MonitorHandler) StartMonitor(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// StopMonitor disables a task without removing it.
// POST /api/monitors/{symbol}/stop
func (h *MonitorHandler) StopMonitor(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *MonitorHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	task, err := h.tasks.SetEnabled(r.Context(), pathParam(r, "symbol"), enabled)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to change monitor state")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// RunMonitor performs one immediate analysis of the task's symbol.
// POST /api/monitors/{symbol}/run
func (h *MonitorHandler) RunMonitor(w http.ResponseWriter, r *http.Request) {
	out, err := h.tasks.RunOnce(r.Context(), pathParam(r, "symbol"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to run monitor")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ListStatuses reports every running loop.
// GET /api/status
func (h *MonitorHandler) ListStatuses(w http.ResponseWriter, r *http.Request) {
	statuses := h.tasks.Statuses()
	if statuses == nil {
		statuses = []monitor.Status{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"loops": statuses})
}
