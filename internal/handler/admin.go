package handler

import (
	"net/http"
	"runtime"
	"time"

	"stockledger-api/internal/cache"
	"stockledger-api/internal/repository"
	"stockledger-api/internal/service"
	"stockledger-api/pkg/apierror"
	"stockledger-api/pkg/logger"
	"stockledger-api/pkg/response"
)

// AdminHandler handles admin-related HTTP requests.
type AdminHandler struct {
	store     repository.Store
	stats     *service.StatsEngine
	cache     cache.Cache
	dbType    string
	cacheType string
	startTime time.Time
	logg      *logger.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(
	store repository.Store,
	stats *service.StatsEngine,
	c cache.Cache,
	dbType, cacheType string,
	logg *logger.Logger,
) *AdminHandler {
	if logg == nil {
		logg = logger.Nop()
	}
	return &AdminHandler{
		store:     store,
		stats:     stats,
		cache:     c,
		dbType:    dbType,
		cacheType: cacheType,
		startTime: time.Now(),
		logg:      logg,
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["db_type"] = h.dbType
	stats["cache_type"] = h.cacheType

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	if info, err := h.store.Info(ctx); err == nil {
		info["status"] = "connected"
		stats["database"] = info
	} else {
		h.logg.Warn(h.logg.WithField(ctx, "error", err.Error()), "admin.store_info_failed")
		stats["database"] = map[string]interface{}{"status": "error"}
	}

	if ledger, err := h.stats.GetStats(ctx); err == nil {
		stats["ledger"] = ledger
	} else {
		stats["ledger"] = map[string]interface{}{"status": "error"}
	}

	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}

// ClearCache handles POST /api/v1/admin/cache/clear
func (h *AdminHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.cache.Clear(ctx); err != nil {
		response.Error(ctx, h.logg, w, apierror.Wrap(apierror.KindUnavailable, err, "cache clear failed"))
		return
	}
	h.stats.Invalidate(ctx)
	h.logg.Info(ctx, "admin.cache_cleared")
	response.OK(w, map[string]string{"status": "cleared"})
}
