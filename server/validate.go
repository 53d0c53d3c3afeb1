package server

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// maxEventClockSkew bounds how far a caller-supplied epoch_ms may drift
// from server time before it is replaced outright, per spec's "within
// ±1 day of server time or replaced with server time" validation rule.
const maxEventClockSkew = 24 * time.Hour

// normalizeField NFC-normalizes and trims a user-supplied string field,
// so "café" typed with a combining accent and "café" typed as one
// codepoint compare and dedup identically.
func normalizeField(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// clampEpochMs replaces epochMs with the current server time if it is
// zero or drifts more than maxEventClockSkew from it.
func clampEpochMs(epochMs int64, now time.Time) int64 {
	nowMs := now.UnixMilli()
	if epochMs == 0 {
		return nowMs
	}
	diff := epochMs - nowMs
	if diff > maxEventClockSkew.Milliseconds() || diff < -maxEventClockSkew.Milliseconds() {
		return nowMs
	}
	return epochMs
}
