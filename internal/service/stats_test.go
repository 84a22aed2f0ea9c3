package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger-api/internal/metrics"
	"stockledger-api/internal/model"
	"stockledger-api/internal/repository"
	"stockledger-api/pkg/logger"
)

func TestGetStatsExample(t *testing.T) {
	f := newFixture(t)
	for i, stock := range []int{0, 5, 20} {
		f.createItem(t, string(rune('A'+i)), stock)
	}

	stats, err := f.stats.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.Stats{TotalItems: 3, TotalStock: 25, LowStockItems: 2, OutOfStockItems: 1}, stats)
}

func TestGetStatsSeesMutationsDespiteCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "A", 5)

	stats, err := f.stats.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalStock)

	_, err = f.ledger.RecordTransaction(ctx, record(model.TransactionIn, item.ID, 10))
	require.NoError(t, err)

	stats, err = f.stats.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(15), stats.TotalStock)
	assert.Equal(t, int64(0), stats.LowStockItems)

	require.NoError(t, f.ledger.DeleteItem(ctx, item.ID))
	stats, err = f.stats.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Stats{}, stats)
}

// countingStore counts aggregate queries.
type countingStore struct {
	repository.ItemStore
	calls atomic.Int32
	delay time.Duration
}

func (s *countingStore) AggregateStats(ctx context.Context) (model.Stats, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	return s.ItemStore.AggregateStats(ctx)
}

func TestGetStatsServesFromCache(t *testing.T) {
	f := newFixture(t)
	f.createItem(t, "A", 5)

	counting := &countingStore{ItemStore: f.store}
	engine := NewStatsEngine(counting, newMemoryCache(t), time.Minute, nil, logger.Nop())

	for i := 0; i < 3; i++ {
		_, err := engine.GetStats(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), counting.calls.Load())

	engine.Invalidate(context.Background())
	_, err := engine.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), counting.calls.Load())
}

func TestGetStatsCollapsesConcurrentMisses(t *testing.T) {
	f := newFixture(t)
	f.createItem(t, "A", 5)

	counting := &countingStore{ItemStore: f.store, delay: 50 * time.Millisecond}
	engine := NewStatsEngine(counting, nil, 0, nil, logger.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := engine.GetStats(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, int64(5), stats.TotalStock)
		}()
	}
	wg.Wait()

	assert.Less(t, counting.calls.Load(), int32(10))
}

func TestGetAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out := f.createItem(t, "OUT", 0)
	low := f.createItem(t, "LOW", 4)
	f.createItem(t, "OK", 50)
	over := f.createItem(t, "OVER", 1001)

	alerts, err := f.stats.GetAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 3)

	byItem := map[int64]model.AlertType{}
	for _, a := range alerts {
		byItem[a.ItemID] = a.Type
	}
	assert.Equal(t, model.AlertOutOfStock, byItem[out.ID])
	assert.Equal(t, model.AlertLowStock, byItem[low.ID])
	assert.Equal(t, model.AlertOverstock, byItem[over.ID])
}

func TestAlertsForBothBounds(t *testing.T) {
	// min above max is allowed, so one item can be both low and overstocked
	alerts := alertsFor(model.Item{ID: 1, CurrentStock: 30, MinStockThreshold: 50, MaxStockThreshold: 20})
	require.Len(t, alerts, 2)
	assert.Equal(t, model.AlertLowStock, alerts[0].Type)
	assert.Equal(t, model.AlertOverstock, alerts[1].Type)
}

func TestStatsRefresherPublishesGauges(t *testing.T) {
	f := newFixture(t)
	f.createItem(t, "A", 0)
	f.createItem(t, "B", 7)

	reg := prometheus.NewRegistry()
	engine := NewStatsEngine(f.store, nil, 0, metrics.NewLedgerMetrics(reg), logger.Nop())
	refresher := NewStatsRefresher(engine, RefresherConfig{Interval: time.Hour}, logger.Nop())

	stats, err := refresher.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), stats.TotalStock)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var items float64
	for _, mf := range mfs {
		if mf.GetName() == "ledger_items" {
			items = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 2.0, items)

	refresher.Start()
	refresher.Stop()
	refresher.Stop()
}

func TestStatsRefresherDisabledWithZeroInterval(t *testing.T) {
	f := newFixture(t)
	refresher := NewStatsRefresher(f.stats, RefresherConfig{}, logger.Nop())

	refresher.Start()
	refresher.Stop()
}

// blockingStore holds AggregateStats until released or its context ends.
type blockingStore struct {
	repository.ItemStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) AggregateStats(ctx context.Context) (model.Stats, error) {
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return model.Stats{}, ctx.Err()
	}
	return s.ItemStore.AggregateStats(ctx)
}

func TestGetStatsSurvivesFirstCallerCancellation(t *testing.T) {
	f := newFixture(t)
	f.createItem(t, "A", 5)

	store := &blockingStore{ItemStore: f.store, entered: make(chan struct{}), release: make(chan struct{})}
	engine := NewStatsEngine(store, nil, 0, nil, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		stats model.Stats
		err   error
	}
	first := make(chan result, 1)
	go func() {
		stats, err := engine.GetStats(ctx)
		first <- result{stats, err}
	}()

	<-store.entered
	waiter := make(chan result, 1)
	go func() {
		stats, err := engine.GetStats(context.Background())
		waiter <- result{stats, err}
	}()

	cancel()
	close(store.release)

	for _, ch := range []chan result{first, waiter} {
		res := <-ch
		require.NoError(t, res.err)
		assert.Equal(t, int64(5), res.stats.TotalStock)
	}
}
