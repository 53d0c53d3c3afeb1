package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"airadio/logger"
	"airadio/model"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// gormStore is the production Store, grounded on the teacher's
// repository/track_repository.go transactional style (BeginTx/CommitTx/
// RollbackTx wrapped as a single db.Transaction call here) and on
// db/redis.go's client for the dedup fast path.
type gormStore struct {
	db    *gorm.DB
	redis *redis.Client
}

// NewGormStore builds a Store over an already-connected GORM handle and
// an optional Redis client. redis may be nil, in which case the dedup
// fast path is skipped and every commit pays for the range scan.
func NewGormStore(db *gorm.DB, rdb *redis.Client) Store {
	return &gormStore{db: db, redis: rdb}
}

const redisDedupPrefix = "airadio:dedup:"
const redisDedupTTL = model.DedupWindow * 3

func (s *gormStore) CommitPlayEvent(ctx context.Context, ev *model.PlayEvent) (int64, error) {
	if ev.DedupKey == "" {
		ev.DedupKey = model.ComputeDedupKey(ev.Kind, ev.EpochMs, ev.Title, ev.Artist)
	}

	// Fast racy pre-check: if another goroutine/process already claimed
	// this dedup key very recently, don't even touch the database. A
	// negative here is not authoritative (Redis can miss or be down), so
	// a false negative always falls through to the range scan below.
	if s.redis != nil {
		ok, err := s.redis.SetNX(ctx, redisDedupPrefix+ev.DedupKey, ev.EpochMs, redisDedupTTL).Result()
		if err == nil && !ok {
			existing, found, lerr := s.LookupByDedup(ctx, ev.DedupKey)
			if lerr == nil && found {
				return existing.ID, ErrDuplicateEvent
			}
		}
	}

	var insertedID int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lo := ev.EpochMs - model.DedupWindow.Milliseconds()
		hi := ev.EpochMs + model.DedupWindow.Milliseconds()

		var existing model.PlayEvent
		err := tx.Where("kind = ? AND title = ? AND artist = ? AND epoch_ms BETWEEN ? AND ?",
			ev.Kind, ev.Title, ev.Artist, lo, hi).
			Order("epoch_ms ASC").
			First(&existing).Error
		if err == nil {
			insertedID = existing.ID
			return ErrDuplicateEvent
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("dedup scan: %w", err)
		}

		if err := tx.Create(ev).Error; err != nil {
			return fmt.Errorf("insert play event: %w", err)
		}
		insertedID = ev.ID
		return nil
	})

	if errors.Is(err, ErrDuplicateEvent) {
		return insertedID, ErrDuplicateEvent
	}
	if err != nil {
		logger.Error("commit play event failed", logger.ErrorField(err))
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return insertedID, nil
}

func (s *gormStore) LookupByDedup(ctx context.Context, key string) (*model.PlayEvent, bool, error) {
	var ev model.PlayEvent
	err := s.db.WithContext(ctx).Where("dedup_key = ?", key).Order("epoch_ms DESC").First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &ev, true, nil
}

// LinkTTS attaches a TTSArtifact to a PlayEvent, but only once the
// artifact is ready: a play_event.tts_entry_id reference is invariant
// to always point at a ready artifact, so pending/failed/garbage
// artifacts are rejected rather than linked and fixed up later.
func (s *gormStore) LinkTTS(ctx context.Context, eventID, ttsID int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var artifact model.TTSArtifact
		if err := tx.First(&artifact, ttsID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load tts artifact: %w", err)
		}
		if artifact.Status != model.TTSReady {
			return ErrNotReady
		}

		res := tx.Model(&model.PlayEvent{}).Where("id = ?", eventID).Update("tts_entry_id", ttsID)
		if res.Error != nil {
			return fmt.Errorf("link tts to play event: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})

	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotReady) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *gormStore) RegisterTTS(ctx context.Context, artifact *model.TTSArtifact) (int64, error) {
	artifact.Status = model.TTSPending
	if err := s.db.WithContext(ctx).Create(artifact).Error; err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return artifact.ID, nil
}

func (s *gormStore) MarkTTS(ctx context.Context, id int64, status model.TTSStatus) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var artifact model.TTSArtifact
		if err := tx.Where("id = ?", id).First(&artifact).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if !model.CanTransition(artifact.Status, status) {
			return ErrIllegalTransition
		}
		if err := tx.Model(&artifact).Update("status", status).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	})
}

func (s *gormStore) GetTTS(ctx context.Context, id int64) (*model.TTSArtifact, error) {
	var artifact model.TTSArtifact
	err := s.db.WithContext(ctx).First(&artifact, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &artifact, nil
}

func (s *gormStore) SweepStalePending(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	res := s.db.WithContext(ctx).Model(&model.TTSArtifact{}).
		Where("status = ? AND created_at < ?", model.TTSPending, cutoff).
		Update("status", model.TTSFailed)
	if res.Error != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, res.Error)
	}
	if res.RowsAffected > 0 {
		logger.Warn("swept stuck pending tts artifacts", logger.Int64("count", res.RowsAffected))
	}
	return int(res.RowsAffected), nil
}

// History pages newest-first by epoch_ms rather than id; the two agree
// for every row this store commits, and callers paging "what played
// before this moment" want timestamp order.
func (s *gormStore) History(ctx context.Context, limit int, beforeEpochMs int64) ([]model.PlayEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("epoch_ms DESC").Limit(limit)
	if beforeEpochMs > 0 {
		q = q.Where("epoch_ms < ?", beforeEpochMs)
	}
	var events []model.PlayEvent
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Join in TTS transcript text for dj rows, mirroring database.py's
	// get_history LEFT JOIN against tts_entries.
	var ttsIDs []int64
	for _, e := range events {
		if e.Kind == model.KindDJ && e.TTSID != nil {
			ttsIDs = append(ttsIDs, *e.TTSID)
		}
	}
	if len(ttsIDs) > 0 {
		var artifacts []model.TTSArtifact
		if err := s.db.WithContext(ctx).Where("id IN ?", ttsIDs).Find(&artifacts).Error; err == nil {
			byID := make(map[int64]string, len(artifacts))
			for _, a := range artifacts {
				byID[a.ID] = a.Text
			}
			for i := range events {
				if events[i].TTSID != nil {
					events[i].TTSText = byID[*events[i].TTSID]
				}
			}
		}
	}

	return events, nil
}

func (s *gormStore) RecentDJEvent(ctx context.Context, sinceMs int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.PlayEvent{}).
		Where("kind = ? AND epoch_ms >= ?", model.KindDJ, sinceMs).
		Limit(1).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count > 0, nil
}

func (s *gormStore) PutArtwork(ctx context.Context, entry *model.ArtworkCacheEntry) error {
	now := time.Now()
	entry.LastUsedAt = now
	if entry.CachedAt.IsZero() {
		entry.CachedAt = now
	}
	err := s.db.WithContext(ctx).Save(entry).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *gormStore) GetArtwork(ctx context.Context, key string) (*model.ArtworkCacheEntry, bool, error) {
	var entry model.ArtworkCacheEntry
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.db.WithContext(ctx).Model(&entry).Update("last_used_at", time.Now())
	return &entry, true, nil
}

func (s *gormStore) EvictArtworkOverCap(ctx context.Context, capBytes int64) ([]model.ArtworkCacheEntry, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&model.ArtworkCacheEntry{}).
		Select("COALESCE(SUM(size_bytes), 0)").Scan(&total).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if total <= capBytes {
		return nil, nil
	}

	var candidates []model.ArtworkCacheEntry
	if err := s.db.WithContext(ctx).Order("last_used_at ASC").Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var evicted []model.ArtworkCacheEntry
	for _, c := range candidates {
		if total <= capBytes {
			break
		}
		if err := s.db.WithContext(ctx).Delete(&model.ArtworkCacheEntry{}, "cache_key = ?", c.Key).Error; err != nil {
			logger.Warn("evict artwork entry failed", logger.String("key", c.Key), logger.ErrorField(err))
			continue
		}
		total -= c.SizeBytes
		evicted = append(evicted, c)
	}
	return evicted, nil
}
