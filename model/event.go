package model

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// EventKind distinguishes a music play from a spoken DJ segment.
type EventKind string

const (
	KindSong EventKind = "song"
	KindDJ   EventKind = "dj"
)

// DedupWindow is the width of the window within which two events with the
// same (kind, title, artist) are considered the same event.
const DedupWindow = 10 * time.Second

// ExtraBag is an opaque key/value bag attached to a PlayEvent, stored as a
// JSON column.
type ExtraBag map[string]string

// PlayEvent is an append-only record of a track (or DJ line) that played,
// or is about to play, on the stream.
type PlayEvent struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind       EventKind `gorm:"column:kind;index;not null" json:"kind"`
	EpochMs    int64     `gorm:"column:epoch_ms;index" json:"epochMs"`
	Title      string    `gorm:"column:title" json:"title"`
	Artist     string    `gorm:"column:artist" json:"artist"`
	Album      string    `gorm:"column:album" json:"album,omitempty"`
	SourceURI  string    `gorm:"column:source_uri" json:"sourceUri,omitempty"`
	ArtworkRef string    `gorm:"column:artwork_ref" json:"artworkRef,omitempty"`
	TTSID      *int64    `gorm:"column:tts_entry_id;index" json:"ttsId,omitempty"`
	ExtraJSON  string    `gorm:"column:extra_json" json:"-"`
	// DedupKey is a coarse, bucketed fingerprint used only to give producer
	// retries a fast idempotency lookup (LookupByDedup). It is NOT the
	// authority for the sliding-window uniqueness invariant: two events
	// whose true epoch_ms values are within DedupWindow of each other can
	// land in different buckets near a boundary, so CommitPlayEvent also
	// runs a range scan over (kind, title, artist, epoch_ms) before
	// inserting. See repository.gormStore.CommitPlayEvent.
	DedupKey  string    `gorm:"column:dedup_key;index:idx_play_dedup" json:"-"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"-"`

	// TTSText is populated on read for kind=dj events by joining against
	// TTSArtifact; it is not a database column.
	TTSText string `gorm:"-" json:"ttsText,omitempty"`
}

func (PlayEvent) TableName() string { return "play_events" }

// Extra decodes the opaque metadata bag.
func (e *PlayEvent) Extra() ExtraBag {
	if e.ExtraJSON == "" {
		return ExtraBag{}
	}
	var bag ExtraBag
	if err := json.Unmarshal([]byte(e.ExtraJSON), &bag); err != nil {
		return ExtraBag{}
	}
	return bag
}

// SetExtra encodes the opaque metadata bag.
func (e *PlayEvent) SetExtra(bag ExtraBag) {
	if len(bag) == 0 {
		e.ExtraJSON = ""
		return
	}
	b, _ := json.Marshal(bag)
	e.ExtraJSON = string(b)
}

// DedupBucket returns the 10-second bucket epoch_ms falls into, used to
// build the dedup key. Two events in the same bucket with the same
// (kind, title, artist) collide.
func DedupBucket(epochMs int64) int64 {
	w := DedupWindow.Milliseconds()
	return epochMs / w
}

// ComputeDedupKey derives the content fingerprint used to suppress
// duplicate PlayEvents within the dedup window.
func ComputeDedupKey(kind EventKind, epochMs int64, title, artist string) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%d|%s|%s", kind, DedupBucket(epochMs), title, artist)
	return hex.EncodeToString(h.Sum(nil))
}
