// Package repository is the coordination core's Store (spec component
// C2): the single durable source of truth for play history, TTS
// artifacts, and cached artwork, backed by GORM over MySQL with Redis
// standing in front of the hottest lookups.
package repository

import (
	"context"
	"time"

	"airadio/model"
)

// Store is the durable state boundary every other component talks
// through. Implementations must make CommitPlayEvent and RegisterTTS
// safe for concurrent callers.
type Store interface {
	// CommitPlayEvent inserts a PlayEvent, enforcing the sliding dedup
	// window. Returns ErrDuplicateEvent (with the existing event's ID) if
	// an equivalent event already exists within model.DedupWindow.
	CommitPlayEvent(ctx context.Context, ev *model.PlayEvent) (int64, error)

	// LookupByDedup finds a PlayEvent by its bucketed dedup key, for
	// producer retries that want an idempotent fast path before paying
	// for the full range scan.
	LookupByDedup(ctx context.Context, key string) (*model.PlayEvent, bool, error)

	// LinkTTS attaches a synthesized artifact to an already-committed
	// PlayEvent (kind=dj).
	LinkTTS(ctx context.Context, eventID, ttsID int64) error

	// RegisterTTS inserts a new artifact in TTSPending status and returns
	// its ID.
	RegisterTTS(ctx context.Context, artifact *model.TTSArtifact) (int64, error)

	// MarkTTS transitions an artifact's status, enforcing
	// model.CanTransition. Returns ErrIllegalTransition otherwise.
	MarkTTS(ctx context.Context, id int64, status model.TTSStatus) error

	// GetTTS fetches an artifact by id.
	GetTTS(ctx context.Context, id int64) (*model.TTSArtifact, error)

	// SweepStalePending transitions any TTSArtifact stuck in pending for
	// longer than maxAge to failed, returning the count moved.
	SweepStalePending(ctx context.Context, maxAge time.Duration) (int, error)

	// History returns PlayEvents newest first, with kind=dj rows carrying
	// their linked TTS transcript text. beforeEpochMs, if non-zero,
	// restricts results to events strictly older than it, for cursor
	// pagination (?before=).
	History(ctx context.Context, limit int, beforeEpochMs int64) ([]model.PlayEvent, error)

	// RecentDJEvent reports whether a kind=dj PlayEvent exists with
	// EpochMs >= sinceMs, backing the DJ pipeline's freshness gate
	// (spec's "before armed -> generating, query C2 for any DJ-kind event
	// within the last min_dj_spacing_ms").
	RecentDJEvent(ctx context.Context, sinceMs int64) (bool, error)

	// PutArtwork upserts a cache entry and touches its LastUsedAt.
	PutArtwork(ctx context.Context, entry *model.ArtworkCacheEntry) error

	// GetArtwork looks up a cache entry by key and touches LastUsedAt on
	// hit.
	GetArtwork(ctx context.Context, key string) (*model.ArtworkCacheEntry, bool, error)

	// EvictArtworkOverCap deletes the least-recently-used artwork entries
	// until total cached bytes are at or under capBytes, returning the
	// evicted entries so the caller can also delete their backing
	// objects.
	EvictArtworkOverCap(ctx context.Context, capBytes int64) ([]model.ArtworkCacheEntry, error)
}
