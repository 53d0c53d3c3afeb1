package model

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// JobState is a state in the DJJob state machine described in spec §4.5.
type JobState string

const (
	JobArmed        JobState = "armed"
	JobGenerating   JobState = "generating"
	JobSynthesizing JobState = "synthesizing"
	JobRegistered   JobState = "registered"
	JobEnqueued     JobState = "enqueued"
	JobFailed       JobState = "failed"
	JobCancelled    JobState = "cancelled"
)

// Terminal reports whether a state has no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case JobEnqueued, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// DJJob is C5's in-memory unit of work: "produce and enqueue an intro for
// this upcoming track". DJJob is never persisted; only its eventual
// TTSArtifact/PlayEvent side effects are.
type DJJob struct {
	JobID          string
	TargetEpochMs  int64
	TrackTitle     string
	TrackArtist    string
	State          JobState
	DedupKey       string
	FailureReason  string
	TTSArtifactID  int64
}

// ComputeJobDedupKey mirrors spec §3's dedup_key = hash(title, artist, target_epoch_ms).
func ComputeJobDedupKey(title, artist string, targetEpochMs int64) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%s|%d", title, artist, targetEpochMs)
	return hex.EncodeToString(h.Sum(nil))
}
