// Package cleanup runs the periodic purge of expired assets.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/song-service/internal/metrics"
)

// Purger deletes every expired asset and reports how many were removed.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// Task purges expired assets on a fixed interval.
type Task struct {
	purger   Purger
	interval time.Duration
	metrics  *metrics.Collector
	log      *logger.Logger
	now      func() time.Time
}

// NewTask creates a purge task.
func NewTask(purger Purger, interval time.Duration, collector *metrics.Collector, log *logger.Logger) *Task {
	return &Task{
		purger:   purger,
		interval: interval,
		metrics:  collector,
		log:      log,
		now:      time.Now,
	}
}

// RunOnce performs a single purge.
func (t *Task) RunOnce(ctx context.Context) (int, error) {
	deleted, err := t.purger.PurgeExpired(ctx, t.now())
	t.metrics.AddPurged(deleted)

	if err != nil {
		return deleted, fmt.Errorf("purge removed %d assets before failing: %w", deleted, err)
	}

	return deleted, nil
}

// Run purges once immediately and then every interval until ctx is cancelled.
// A failed purge is logged and retried on the next tick.
func (t *Task) Run(ctx context.Context) error {
	if t.interval <= 0 {
		return fmt.Errorf("purge interval must be positive, got %s", t.interval)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		t.purge(ctx)

		select {
		case <-ctx.Done():
			t.log.Info("Purge task stopped")

			return nil
		case <-ticker.C:
		}
	}
}

func (t *Task) purge(ctx context.Context) {
	deleted, err := t.RunOnce(ctx)
	if err != nil {
		t.log.Error("Asset purge failed: %v", err)

		return
	}

	t.log.Info("Asset purge removed %d expired assets", deleted)
}
