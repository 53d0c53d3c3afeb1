package repository

import (
	"context"
	"time"

	"airadio/logger"
)

// ObjectRemover deletes a stored object by key, letting tests substitute
// a fake instead of requiring a live MinIO connection.
type ObjectRemover interface {
	RemoveObject(ctx context.Context, key string) error
}

// ArtworkJanitor periodically evicts least-recently-used artwork cache
// entries once their total size exceeds capBytes, deleting each
// evicted entry's backing object too. Runs as a low-priority background
// loop, never inline in a request path, per spec's artwork cache
// eviction note.
type ArtworkJanitor struct {
	store    Store
	objects  ObjectRemover
	capBytes int64
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewArtworkJanitor builds a janitor ready to Run.
func NewArtworkJanitor(store Store, objects ObjectRemover, capBytes int64, interval time.Duration) *ArtworkJanitor {
	return &ArtworkJanitor{
		store:    store,
		objects:  objects,
		capBytes: capBytes,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run evicts on a fixed interval until Stop is called. Intended to be
// launched with `go`.
func (j *ArtworkJanitor) Run(ctx context.Context) {
	defer close(j.done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweep(ctx)
		case <-j.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the loop and waits for it to exit.
func (j *ArtworkJanitor) Stop() {
	close(j.stop)
	<-j.done
}

func (j *ArtworkJanitor) sweep(ctx context.Context) {
	evicted, err := j.store.EvictArtworkOverCap(ctx, j.capBytes)
	if err != nil {
		logger.Warn("artwork janitor eviction query failed", logger.ErrorField(err))
		return
	}
	for _, entry := range evicted {
		if err := j.objects.RemoveObject(ctx, entry.LocalPath); err != nil {
			logger.Warn("artwork janitor object delete failed",
				logger.String("key", entry.Key), logger.String("path", entry.LocalPath), logger.ErrorField(err))
			continue
		}
	}
	if len(evicted) > 0 {
		logger.Info("artwork janitor evicted cold entries", logger.Int("count", len(evicted)))
	}
}
