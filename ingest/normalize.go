// Package ingest is the coordination core's Ingest pipeline (spec
// component C8): normalize, dedup, commit, broadcast, and arm the next DJ
// job, fed both by the audio engine's out-of-band POST /api/event and by
// metacache's own change detection as a backstop.
package ingest

import (
	"strings"
	"time"

	"airadio/model"
)

// maxClockSkew bounds how far an event's epoch_ms may drift from wall
// clock time before it is clamped to now; a caller can be behind on a
// retry or slightly ahead on a scheduled announcement, never a day off.
const maxClockSkew = 24 * time.Hour

// Input is the caller-supplied shape of an ingest request, whether it
// arrived over HTTP or was synthesized by the metacache backstop.
type Input struct {
	Kind      model.EventKind
	Title     string
	Artist    string
	Album     string
	SourceURI string
	EpochMs   int64 // 0 means "use now"
}

// normalize trims and clamps an Input into a PlayEvent ready for
// CommitPlayEvent, computing its dedup key.
func normalize(in Input, now time.Time) *model.PlayEvent {
	title := strings.TrimSpace(in.Title)
	artist := strings.TrimSpace(in.Artist)
	album := strings.TrimSpace(in.Album)
	kind := in.Kind
	if kind == "" {
		kind = model.KindSong
	}

	epochMs := in.EpochMs
	nowMs := now.UnixMilli()
	if epochMs == 0 {
		epochMs = nowMs
	} else if diff := epochMs - nowMs; diff > maxClockSkew.Milliseconds() || diff < -maxClockSkew.Milliseconds() {
		epochMs = nowMs
	}

	ev := &model.PlayEvent{
		Kind:      kind,
		EpochMs:   epochMs,
		Title:     title,
		Artist:    artist,
		Album:     album,
		SourceURI: strings.TrimSpace(in.SourceURI),
	}
	ev.DedupKey = model.ComputeDedupKey(kind, epochMs, title, artist)
	return ev
}
