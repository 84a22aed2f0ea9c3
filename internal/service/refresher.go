package service

import (
	"context"
	"sync"
	"time"

	"stockledger-api/internal/model"
	"stockledger-api/pkg/logger"
)

// RefresherConfig holds configuration for the stats refresher.
type RefresherConfig struct {
	// Interval is how often stats are recomputed. Zero disables the refresher.
	Interval time.Duration

	// Timeout bounds a single refresh. Default: 30 seconds
	Timeout time.Duration
}

// StatsRefresher periodically recomputes the stats snapshot so the Prometheus
// gauges stay current between API reads.
type StatsRefresher struct {
	engine    *StatsEngine
	config    RefresherConfig
	logg      *logger.Logger
	ticker    *time.Ticker
	stopCh    chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewStatsRefresher creates a new stats refresher.
func NewStatsRefresher(engine *StatsEngine, config RefresherConfig, logg *logger.Logger) *StatsRefresher {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &StatsRefresher{
		engine: engine,
		config: config,
		logg:   logg,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start begins the refresh loop. It runs one refresh immediately.
// Does nothing when the interval is zero.
func (s *StatsRefresher) Start() {
	s.mu.Lock()
	if s.isRunning || s.config.Interval <= 0 {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	ctx := s.logg.WithField(context.Background(), "component", "stats_refresher")
	s.logg.Info(s.logg.WithField(ctx, "interval", s.config.Interval.String()), "stats_refresher.started")

	go s.run(ctx)
}

func (s *StatsRefresher) run(ctx context.Context) {
	defer close(s.done)

	s.refresh(ctx)
	for {
		select {
		case <-s.ticker.C:
			s.refresh(ctx)
		case <-s.stopCh:
			s.logg.Info(ctx, "stats_refresher.stopped")
			return
		}
	}
}

func (s *StatsRefresher) refresh(ctx context.Context) {
	if _, err := s.RunNow(ctx); err != nil {
		s.logg.Error(ctx, "stats_refresher.failed", err)
	}
}

// Stop stops the refresher and waits for an in-flight refresh to finish.
func (s *StatsRefresher) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		running := s.isRunning
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
		s.mu.Unlock()

		if running {
			<-s.done
		}
	})
}

// RunNow triggers an immediate refresh.
func (s *StatsRefresher) RunNow(ctx context.Context) (model.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	return s.engine.Refresh(ctx)
}
