package engine

import "testing"

func TestParseKVLines(t *testing.T) {
	lines := []string{`title="Song Title"`, `artist="Some Artist"`, "not a kv line", "END"}
	kv := parseKVLines(lines)

	if kv["title"] != "Song Title" {
		t.Fatalf("expected title to parse, got %q", kv["title"])
	}
	if kv["artist"] != "Some Artist" {
		t.Fatalf("expected artist to parse, got %q", kv["artist"])
	}
}

func TestUnescapeValueDecodesUnicodeEscapes(t *testing.T) {
	wireValue := "Caf" + "\\u00e9"
	got := unescapeValue(wireValue)
	want := "Café"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestUnescapeValueDropsEmbeddedNullEscape(t *testing.T) {
	wireValue := "track" + "\\u0000" + "name"
	got := unescapeValue(wireValue)
	if got != "trackname" {
		t.Fatalf("expected embedded null escape stripped, got %q", got)
	}
}

func TestSplitLinesDropsEndSentinel(t *testing.T) {
	lines := splitLines("a=1\r\nb=2\r\nEND\r\n")
	if len(lines) != 2 || lines[0] != "a=1" || lines[1] != "b=2" {
		t.Fatalf("unexpected lines: %v", lines)
	}
}

func TestTrackInfoFromKVParsesRemaining(t *testing.T) {
	kv := map[string]string{"title": "Song", "artist": "Artist", "remaining": "12.5"}
	info := trackInfoFromKV("42", kv)
	if !info.HasRemaining || info.RemainingSec != 12.5 {
		t.Fatalf("expected remaining=12.5, got %+v", info)
	}
}

func TestTrackInfoFromKVWithoutRemaining(t *testing.T) {
	info := trackInfoFromKV("42", map[string]string{"title": "Song"})
	if info.HasRemaining {
		t.Fatalf("expected HasRemaining false when the engine reports no remaining key, got %+v", info)
	}
}
