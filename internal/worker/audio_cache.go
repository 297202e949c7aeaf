// Package worker runs background maintenance loops for the server.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// AudioCache defines the cache operation needed by the prune worker.
type AudioCache interface {
	Prune(cutoff time.Time) (int, error)
}

// AudioCacheWorker removes synthesized audio older than a TTL.
type AudioCacheWorker struct {
	cache    AudioCache
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewAudioCacheWorker creates a worker that prunes audio older than ttl
// every interval.
func NewAudioCacheWorker(cache AudioCache, ttl, interval time.Duration) *AudioCacheWorker {
	return &AudioCacheWorker{
		cache:    cache,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
	}
}

// Run starts the worker loop. Prunes immediately on start, then on each
// interval. Respects context cancellation for graceful shutdown.
func (w *AudioCacheWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "audio-cache-prune",
		"ttl", w.ttl.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "audio-cache-prune",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.prune(ctx)
		}
	}
}

// prune runs one pass and logs the outcome.
func (w *AudioCacheWorker) prune(ctx context.Context) {
	removed, err := w.cache.Prune(w.now().Add(-w.ttl))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("audio cache prune failed",
			"component", "worker",
			"action", "prune_failed",
			"removed", removed,
			"error", err,
		)
		return
	}
	if removed > 0 {
		slog.Info("audio cache pruned",
			"component", "worker",
			"action", "prune_complete",
			"removed", removed,
		)
	}
}
