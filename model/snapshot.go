package model

// TrackRef identifies a track by the fields the engine reports for it,
// without any persisted identity.
type TrackRef struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album,omitempty"`
	ArtworkRef string `json:"artworkRef,omitempty"`
}

// NowSnapshot is C3's derived view of what is currently playing.
type NowSnapshot struct {
	Title            string  `json:"title"`
	Artist           string  `json:"artist"`
	Album            string  `json:"album,omitempty"`
	ArtworkRef       string  `json:"artworkRef,omitempty"`
	TrackStartedAtMs int64   `json:"trackStartedAtMs"`
	CapturedAtMs     int64   `json:"capturedAtMs"`
	Stale            bool    `json:"stale"`
	RemainingSec     float64 `json:"remainingSec,omitempty"`
	HasRemaining     bool    `json:"-"`
}

// NextSnapshot is C3's derived view of the upcoming queue, excluding the
// currently playing entry.
type NextSnapshot struct {
	Entries      []TrackRef `json:"entries"`
	CapturedAtMs int64      `json:"capturedAtMs"`
	Stale        bool       `json:"stale"`
}
