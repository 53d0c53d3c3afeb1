package djpipeline

import "strings"

// validateText applies the quality gates of the DJ line generation
// pipeline, in order: a line must fall within [minChars, maxChars], must
// not contain any forbidden token, and, when artist is non-empty and not
// a generic placeholder, must actually mention the artist it is meant to
// introduce. That last gate guards against artist drift, where a tier
// generates a plausible-sounding line about the wrong track.
func validateText(text string, minChars, maxChars int, forbidden []string, artist, title string) error {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minChars || len(trimmed) > maxChars {
		return ErrQuarantinedText
	}
	lower := strings.ToLower(trimmed)
	for _, tok := range forbidden {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok != "" && strings.Contains(lower, tok) {
			return ErrQuarantinedText
		}
	}
	if a := strings.ToLower(strings.TrimSpace(artist)); a != "" && !isGenericArtist(a) {
		if !strings.Contains(lower, a) {
			return ErrQuarantinedText
		}
	}
	return nil
}

// isGenericArtist reports whether a lowercased, trimmed artist name is
// one of the engine's own placeholders rather than a real artist,
// mirroring skipIntro's "AI DJ" guard.
func isGenericArtist(a string) bool {
	switch a {
	case "ai dj", "unknown", "unknown artist", "various artists":
		return true
	}
	return false
}

// skipIntro mirrors dj_daemon.py's should_generate_intro guard against
// the engine's own placeholder metadata ("AI DJ" / "DJ Intro") being fed
// back in as if it were a real upcoming track.
func skipIntro(artist, title string) bool {
	a := strings.ToLower(strings.TrimSpace(artist))
	t := strings.ToLower(strings.TrimSpace(title))
	return a == "ai dj" || t == "dj intro" || (a == "" && t == "")
}
