package service

import (
	"context"
	"sync"
	"time"

	"github.com/itchan-dev/threadsync/shared/logger"
)

// DedupeGarbageCollector expires the mutation ids kept to deduplicate reply retries.
// Retention must outlive the longest time a client keeps retrying one mutation.
type DedupeGarbageCollector struct {
	storage   DedupeStorage
	retention time.Duration
	now       func() time.Time

	mu               sync.Mutex
	lastCleanupStats DedupeCleanupStats
}

// DedupeCleanupStats tracks metrics from the last garbage collection run.
type DedupeCleanupStats struct {
	RunAt      time.Time
	Forgotten  int
	Remaining  int
	DurationMs int64
}

type DedupeStorage interface {
	ForgetMutations(cutoff time.Time) (forgotten, remaining int)
}

func NewDedupeGarbageCollector(storage DedupeStorage, retention time.Duration) *DedupeGarbageCollector {
	return &DedupeGarbageCollector{
		storage:   storage,
		retention: retention,
		now:       time.Now,
	}
}

// StartBackgroundCleanup runs RunCleanup every interval until ctx is done.
func (gc *DedupeGarbageCollector) StartBackgroundCleanup(ctx context.Context, interval time.Duration) {
	log := logger.Component("gc")
	ticker := time.NewTicker(interval)
	log.Info("started dedupe cleanup", "interval", interval, "retention", gc.retention)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := gc.RunCleanup()
				if stats.Forgotten > 0 {
					log.Info("dedupe cleanup completed",
						"forgotten", stats.Forgotten,
						"remaining", stats.Remaining,
						"duration_ms", stats.DurationMs,
					)
				}
			case <-ctx.Done():
				log.Info("dedupe cleanup stopped")
				return
			}
		}
	}()
}

// RunCleanup executes a single cycle. It can be called manually for maintenance.
func (gc *DedupeGarbageCollector) RunCleanup() DedupeCleanupStats {
	start := gc.now()
	forgotten, remaining := gc.storage.ForgetMutations(start.Add(-gc.retention))
	stats := DedupeCleanupStats{
		RunAt:      start,
		Forgotten:  forgotten,
		Remaining:  remaining,
		DurationMs: gc.now().Sub(start).Milliseconds(),
	}

	gc.mu.Lock()
	gc.lastCleanupStats = stats
	gc.mu.Unlock()
	return stats
}

func (gc *DedupeGarbageCollector) GetLastCleanupStats() DedupeCleanupStats {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.lastCleanupStats
}
