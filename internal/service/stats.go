package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"stockledger-api/internal/cache"
	"stockledger-api/internal/metrics"
	"stockledger-api/internal/model"
	"stockledger-api/internal/repository"
	"stockledger-api/pkg/logger"
)

const (
	statsCacheKey = "ledger:stats"
	// statsQueryTimeout bounds a shared aggregate load, which outlives any single caller.
	statsQueryTimeout = 10 * time.Second
)

// StatsEngine serves the aggregate stats snapshot and stock alerts.
type StatsEngine struct {
	store   repository.ItemStore
	cache   cache.Cache
	ttl     time.Duration
	metrics *metrics.LedgerMetrics
	logg    *logger.Logger

	group singleflight.Group
	// generation is bumped on every invalidation so loads started before a
	// mutation neither share their result with later callers nor repopulate the cache.
	generation atomic.Uint64
}

// NewStatsEngine creates a stats engine. A nil cache or a ttl <= 0 disables caching.
func NewStatsEngine(store repository.ItemStore, c cache.Cache, ttl time.Duration, m *metrics.LedgerMetrics, logg *logger.Logger) *StatsEngine {
	if c == nil || ttl <= 0 {
		c = cache.NopCache{}
		ttl = 0
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &StatsEngine{
		store:   store,
		cache:   c,
		ttl:     ttl,
		metrics: m,
		logg:    logg,
	}
}

// GetStats returns the stats snapshot, from cache when fresh.
func (e *StatsEngine) GetStats(ctx context.Context) (model.Stats, error) {
	if stats, ok := e.cached(ctx); ok {
		return stats, nil
	}

	gen := e.generation.Load()
	v, err, _ := e.group.Do(statsCacheKey+":"+strconv.FormatUint(gen, 10), func() (interface{}, error) {
		// collapsed callers wait on this load, so the first caller's cancellation must not end it
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statsQueryTimeout)
		defer cancel()

		stats, err := e.store.AggregateStats(ctx)
		if err != nil {
			return model.Stats{}, err
		}
		e.metrics.SetStats(stats)
		e.storeSnapshot(ctx, gen, stats)
		return stats, nil
	})
	if err != nil {
		return model.Stats{}, err
	}
	return v.(model.Stats), nil
}

// Refresh recomputes the snapshot from storage, bypassing the cache, and
// publishes it to the gauges.
func (e *StatsEngine) Refresh(ctx context.Context) (model.Stats, error) {
	gen := e.generation.Load()
	stats, err := e.store.AggregateStats(ctx)
	if err != nil {
		return model.Stats{}, err
	}
	e.metrics.SetStats(stats)
	e.storeSnapshot(ctx, gen, stats)
	return stats, nil
}

// Invalidate drops the cached snapshot. Called after every mutation.
func (e *StatsEngine) Invalidate(ctx context.Context) {
	e.generation.Add(1)
	if e.ttl <= 0 {
		return
	}
	if err := e.cache.Delete(ctx, statsCacheKey); err != nil {
		e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "stats.cache_invalidate_failed")
	}
}

// GetAlerts lists the stock alerts of every item outside its thresholds. Never cached.
func (e *StatsEngine) GetAlerts(ctx context.Context) ([]model.Alert, error) {
	items, err := e.store.ListAlertItems(ctx)
	if err != nil {
		return nil, err
	}

	alerts := make([]model.Alert, 0, len(items))
	for _, item := range items {
		alerts = append(alerts, alertsFor(item)...)
	}
	return alerts, nil
}

// alertsFor classifies one item. Zero stock reports only OUT_OF_STOCK.
func alertsFor(item model.Item) []model.Alert {
	var alerts []model.Alert
	newAlert := func(t model.AlertType, details string) model.Alert {
		return model.Alert{
			ItemID:       item.ID,
			ItemName:     item.Name,
			CurrentStock: item.CurrentStock,
			Type:         t,
			Details:      details,
		}
	}

	switch {
	case item.IsOutOfStock():
		alerts = append(alerts, newAlert(model.AlertOutOfStock, "Item is out of stock"))
	case item.IsLowStock():
		alerts = append(alerts, newAlert(model.AlertLowStock,
			fmt.Sprintf("Stock %d is below minimum threshold %d", item.CurrentStock, item.MinStockThreshold)))
	}
	if item.IsOverstocked() {
		alerts = append(alerts, newAlert(model.AlertOverstock,
			fmt.Sprintf("Stock %d exceeds maximum threshold %d", item.CurrentStock, item.MaxStockThreshold)))
	}
	return alerts
}

func (e *StatsEngine) cached(ctx context.Context) (model.Stats, bool) {
	if e.ttl <= 0 {
		return model.Stats{}, false
	}
	data, err := e.cache.Get(ctx, statsCacheKey)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "stats.cache_read_failed")
		}
		return model.Stats{}, false
	}
	var stats model.Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "stats.cache_decode_failed")
		return model.Stats{}, false
	}
	return stats, true
}

// storeSnapshot caches stats computed at generation gen unless a mutation happened since.
func (e *StatsEngine) storeSnapshot(ctx context.Context, gen uint64, stats model.Stats) {
	if e.ttl <= 0 || e.generation.Load() != gen {
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, statsCacheKey, data, e.ttl); err != nil {
		e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "stats.cache_write_failed")
		return
	}
	if e.generation.Load() != gen {
		_ = e.cache.Delete(ctx, statsCacheKey)
	}
}
