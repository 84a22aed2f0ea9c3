package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"stockledger-api/pkg/logger"
	"stockledger-api/pkg/response"
)

const readyTimeout = 2 * time.Second

// Pinger is the subset of the store the probes need.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the liveness, readiness and status probes.
type Handler struct {
	store     Pinger
	version   string
	startTime time.Time
	logg      *logger.Logger
}

// New creates a new probe handler.
func New(store Pinger, version string, logg *logger.Logger) *Handler {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Handler{store: store, version: version, startTime: time.Now(), logg: logg}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	})
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Check represents an individual readiness check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Ready handles GET /api/v1/ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := []Check{
		{Name: "api", Status: "ok"},
		h.checkStore(r.Context()),
	}

	allReady := true
	for _, check := range checks {
		if check.Status != "ok" {
			allReady = false
			break
		}
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, ReadyResponse{
		Ready:     allReady,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

func (h *Handler) checkStore(ctx context.Context) Check {
	if h.store == nil {
		return Check{Name: "database", Status: "not_configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logg.Warn(h.logg.WithField(ctx, "error", err.Error()), "ready.store_unreachable")
		return Check{Name: "database", Status: "error", Error: "unreachable"}
	}
	return Check{Name: "database", Status: "ok"}
}

// StatusChecks represents the checks in status response
type StatusChecks struct {
	Database string  `json:"database"`
	MemoryMB float64 `json:"memory_mb"`
}

// StatusResponse represents the unified status response for monitoring
type StatusResponse struct {
	Service       string       `json:"service"`
	Status        string       `json:"status"`
	Timestamp     string       `json:"timestamp"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	PingMS        int64        `json:"ping_ms"`
	Checks        StatusChecks `json:"checks"`
}

// Status handles GET /api/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	memoryMB := float64(memStats.Alloc) / 1024 / 1024

	pingStart := time.Now()
	db := h.checkStore(r.Context())
	pingMS := time.Since(pingStart).Milliseconds()

	overall := "ok"
	if db.Status != "ok" {
		overall = "degraded"
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	response.OK(w, StatusResponse{
		Service:       "stockledger-api",
		Status:        overall,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		PingMS:        pingMS,
		Checks: StatusChecks{
			Database: db.Status,
			MemoryMB: float64(int(memoryMB*100)) / 100,
		},
	})
}
