package llm

import (
	"context"
	"strings"
	"testing"

	"airadio/provider"
)

func TestTemplateTierNeverFails(t *testing.T) {
	tier := NewTemplateTier()
	resp, err := tier.Call(context.Background(), provider.Request{
		Params: map[string]string{"current_title": "Song A", "next_title": "Song B", "next_artist": "Artist"},
	})
	if err != nil {
		t.Fatalf("template tier must never fail, got %v", err)
	}
	if resp.Text == "" {
		t.Fatal("expected non-empty generated text")
	}
}

// TestTemplateTierAlwaysMentionsArtist covers every % len(templates)
// branch, since only one of them used to interpolate next_artist; the
// terminal tier must pass the same artist-presence gate every other
// tier is held to, or it stops being a guaranteed-to-succeed fallback.
func TestTemplateTierAlwaysMentionsArtist(t *testing.T) {
	tier := NewTemplateTier()
	titles := []string{"Bt", "A", "Song", "Track Nine", "Bt2"}
	for _, title := range titles {
		resp, err := tier.Call(context.Background(), provider.Request{
			Params: map[string]string{"next_title": title, "next_artist": "Ba"},
		})
		if err != nil {
			t.Fatalf("template tier must never fail, got %v", err)
		}
		if !strings.Contains(strings.ToLower(resp.Text), "ba") {
			t.Fatalf("expected text for title %q to mention the artist, got %q", title, resp.Text)
		}
	}
}

func TestTemplateTierHealthAlwaysOK(t *testing.T) {
	if err := NewTemplateTier().Health(context.Background()); err != nil {
		t.Fatalf("expected template tier to always be healthy, got %v", err)
	}
}

func TestLocalExecTierFailsCleanlyWithoutCommand(t *testing.T) {
	tier := NewLocalExecTier("local", "", 0)
	if _, err := tier.Call(context.Background(), provider.Request{Text: "hi"}); err == nil {
		t.Fatal("expected an error when no command is configured")
	}
}
