package metrics

import (
	"context"
	"time"

	"github.com/migadu/sora-sieve/logger"
)

// StoreStatsProvider reports the contents of the persistent binary store.
type StoreStatsProvider interface {
	GetStats(ctx context.Context) (count int64, totalSize int64, err error)
}

// CacheStatsProvider reports the size of the in-memory binary cache.
type CacheStatsProvider interface {
	Len() int
}

// Collector periodically refreshes the gauges that are expensive to keep
// current on every operation.
type Collector struct {
	store    StoreStatsProvider
	cache    CacheStatsProvider
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector. Either provider may be nil.
func NewCollector(store StoreStatsProvider, cache CacheStatsProvider, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 60 * time.Second
	}
	return &Collector{
		store:    store,
		cache:    cache,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start(ctx context.Context) {
	c.collect(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	logger.Info("MetricsCollector started", "interval", c.interval)

	for {
		select {
		case <-ctx.Done():
			logger.Info("MetricsCollector stopping due to context cancellation")
			return
		case <-c.stopCh:
			logger.Info("MetricsCollector stopping due to stop signal")
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

// Stop signals the collector to stop
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect(ctx context.Context) {
	if c.cache != nil {
		BinaryCacheEntries.WithLabelValues("memory").Set(float64(c.cache.Len()))
	}
	if c.store == nil {
		return
	}
	count, size, err := c.store.GetStats(ctx)
	if err != nil {
		logger.Error("MetricsCollector: error collecting store metrics", "error", err)
		return
	}
	BinaryCacheEntries.WithLabelValues("store").Set(float64(count))
	BinaryStoreSizeBytes.Set(float64(size))
	logger.Debug("MetricsCollector: updated store metrics", "binaries", count, "size_bytes", size)
}
