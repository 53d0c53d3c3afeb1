package model

import "time"

// TTSStatus is the lifecycle state of a synthesized artifact.
type TTSStatus string

const (
	TTSPending TTSStatus = "pending"
	TTSReady   TTSStatus = "ready"
	TTSFailed  TTSStatus = "failed"
	TTSGarbage TTSStatus = "garbage"
)

// TTSMode records what kind of spoken segment an artifact holds.
type TTSMode string

const (
	ModeIntro  TTSMode = "intro"
	ModeOutro  TTSMode = "outro"
	ModeCustom TTSMode = "custom"
)

// TTSArtifact is a synthesized audio file plus its transcript, registered
// with the store before it is ever played.
type TTSArtifact struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EpochMs          int64     `gorm:"column:epoch_ms;uniqueIndex" json:"epochMs"`
	Text             string    `gorm:"column:text" json:"text"`
	AudioPath        string    `gorm:"column:audio_path" json:"audioPath"`
	TranscriptPath   string    `gorm:"column:transcript_path" json:"transcriptPath"`
	TrackTitle       string    `gorm:"column:track_title" json:"trackTitle"`
	TrackArtist      string    `gorm:"column:track_artist" json:"trackArtist"`
	Mode             TTSMode   `gorm:"column:mode" json:"mode"`
	Status           TTSStatus `gorm:"column:status;index" json:"status"`
	SizeBytes        int64     `gorm:"column:size_bytes" json:"sizeBytes"`
	DurationMs       int64     `gorm:"column:duration_ms" json:"durationMs"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (TTSArtifact) TableName() string { return "tts_artifacts" }

// legalTransition reports whether a status transition is permitted.
// pending -> ready|failed, ready -> garbage. All other transitions,
// including any transition out of failed or garbage, are illegal.
func legalTransition(from, to TTSStatus) bool {
	switch from {
	case TTSPending:
		return to == TTSReady || to == TTSFailed
	case TTSReady:
		return to == TTSGarbage
	default:
		return false
	}
}

// CanTransition is exported for callers that want to pre-check before
// issuing a write (e.g. to short-circuit without a round-trip).
func CanTransition(from, to TTSStatus) bool {
	return legalTransition(from, to)
}
