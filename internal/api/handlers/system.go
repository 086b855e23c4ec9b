package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/anstrom/ipprism/internal/analysis"
	"github.com/anstrom/ipprism/internal/db"
	"github.com/anstrom/ipprism/internal/logging"
	"github.com/anstrom/ipprism/internal/reputation"
	"github.com/anstrom/ipprism/internal/scheduler"
)

// Timeout constants.
const (
	healthCheckTimeout = 5 * time.Second
	accountTimeout     = 15 * time.Second
)

// Status constants.
const (
	StatusHealthy       = "healthy"
	StatusUnhealthy     = "unhealthy"
	StatusNotConfigured = "not configured"
)

// DatabasePinger defines the interface for database health checking.
type DatabasePinger interface {
	Ping(ctx context.Context) error
}

// AccountChecker reports the primary service's account usage.
// *reputation.PrimaryClient implements it.
type AccountChecker interface {
	Configured() bool
	AccountStatus(ctx context.Context) (*reputation.AccountStatus, error)
}

// Refresher is the scheduler surface exposed over the API.
// *scheduler.Scheduler implements it.
type Refresher interface {
	Status() scheduler.Status
	RefreshNow(ctx context.Context) (*analysis.Outcome, error)
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// StatsResponse is the dashboard summary plus the number of analyses
// currently running on this server.
type StatsResponse struct {
	db.DashboardStats
	RunningAnalyses int `json:"running_analyses"`
}

// SystemHandler serves health, statistics, account and scheduler endpoints.
type SystemHandler struct {
	database  DatabasePinger
	store     Store
	account   AccountChecker
	refresher Refresher
	manager   *Manager
	logger    *logging.Logger
	startTime time.Time
}

// NewSystemHandler creates a system handler. account and refresher may be nil.
func NewSystemHandler(
	database DatabasePinger,
	store Store,
	account AccountChecker,
	refresher Refresher,
	manager *Manager,
	logger *logging.Logger,
) *SystemHandler {
	return &SystemHandler{
		database:  database,
		store:     store,
		account:   account,
		refresher: refresher,
		manager:   manager,
		logger:    logger.WithComponent("api.system"),
		startTime: time.Now(),
	}
}

// Health handles GET /api/v1/health.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	response := HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    map[string]string{},
	}

	switch {
	case h.database == nil:
		response.Checks["database"] = StatusNotConfigured
	case h.database.Ping(ctx) != nil:
		response.Checks["database"] = StatusUnhealthy
		response.Status = StatusUnhealthy
	default:
		response.Checks["database"] = StatusHealthy
	}

	if h.account == nil || !h.account.Configured() {
		response.Checks["primary_key"] = StatusNotConfigured
	} else {
		response.Checks["primary_key"] = StatusHealthy
	}

	statusCode := http.StatusOK
	if response.Status != StatusHealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, r, statusCode, response)
}

// Stats handles GET /api/v1/stats.
func (h *SystemHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.DashboardStats(r.Context())
	if err != nil {
		writeAppError(w, r, h.logger.Logger, err)
		return
	}

	running := 0
	if h.manager != nil {
		for _, view := range h.manager.List() {
			if view.State == RunRunning {
				running++
			}
		}
	}

	writeJSON(w, r, http.StatusOK, StatsResponse{DashboardStats: *stats, RunningAnalyses: running})
}

// Account handles GET /api/v1/account.
func (h *SystemHandler) Account(w http.ResponseWriter, r *http.Request) {
	if h.account == nil || !h.account.Configured() {
		writeError(w, r, http.StatusServiceUnavailable, errors.New("primary API key not configured"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), accountTimeout)
	defer cancel()

	status, err := h.account.AccountStatus(ctx)
	if err != nil {
		writeAppError(w, r, h.logger.Logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// SchedulerStatus handles GET /api/v1/scheduler.
func (h *SystemHandler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		writeError(w, r, http.StatusNotFound, errors.New("scheduler is not enabled"))
		return
	}
	writeJSON(w, r, http.StatusOK, h.refresher.Status())
}

// SchedulerRefresh handles POST /api/v1/scheduler/refresh. It runs the
// refresh synchronously and returns its outcome, or 204 when nothing is
// stale.
func (h *SystemHandler) SchedulerRefresh(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		writeError(w, r, http.StatusNotFound, errors.New("scheduler is not enabled"))
		return
	}

	outcome, err := h.refresher.RefreshNow(r.Context())
	switch {
	case errors.Is(err, scheduler.ErrRefreshInProgress):
		writeError(w, r, http.StatusConflict, err)
	case err != nil:
		writeAppError(w, r, h.logger.Logger, err)
	case outcome == nil:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, r, http.StatusOK, outcome)
	}
}
