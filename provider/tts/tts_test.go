package tts

import (
	"context"
	"testing"

	"airadio/provider"
)

func TestOfflineTierProducesPlayableWAV(t *testing.T) {
	tier := NewOfflineTier()
	resp, err := tier.Call(context.Background(), provider.Request{Text: "hello"})
	if err != nil {
		t.Fatalf("offline tier must never fail, got %v", err)
	}
	if len(resp.Audio) < 44 {
		t.Fatalf("expected at least a WAV header, got %d bytes", len(resp.Audio))
	}
	if string(resp.Audio[0:4]) != "RIFF" || string(resp.Audio[8:12]) != "WAVE" {
		t.Fatalf("expected a valid WAV container, got header %q", resp.Audio[:12])
	}
}

func TestOfflineTierHealthAlwaysOK(t *testing.T) {
	if err := NewOfflineTier().Health(context.Background()); err != nil {
		t.Fatalf("expected offline tier to always be healthy, got %v", err)
	}
}
