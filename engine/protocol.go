package engine

import (
	"strconv"
	"strings"
)

// TrackInfo is what the engine reports about one queued or playing
// request, parsed from a "request.metadata <id>" response.
type TrackInfo struct {
	RequestID    string
	Title        string
	Artist       string
	Album        string
	Filename     string
	RemainingSec float64
	HasRemaining bool
}

// parseKVLines parses "key=\"value\"" lines the way
// metadata_daemon.py's parse_kv_lines does, tolerating lines with no
// '=' (skipped) and stripping surrounding quotes.
func parseKVLines(lines []string) map[string]string {
	result := make(map[string]string, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || line == "END" {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		value = strings.Trim(value, `"`)
		result[key] = unescapeValue(value)
	}
	return result
}

// unescapeValue strips embedded NUL escapes and decodes \uXXXX sequences
// liquidsoap sometimes leaves in filename metadata, generalizing the ad
// hoc "\\u0000" stripping liquidsoap_queue_http.py performs.
func unescapeValue(s string) string {
	if !strings.Contains(s, `\u`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+5 < len(s) && s[i+1] == 'u' {
			if code, err := strconv.ParseInt(s[i+2:i+6], 16, 32); err == nil {
				if code != 0 {
					b.WriteRune(rune(code))
				}
				i += 5
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func trackInfoFromKV(rid string, kv map[string]string) TrackInfo {
	info := TrackInfo{
		RequestID: rid,
		Title:     kv["title"],
		Artist:    kv["artist"],
		Album:     kv["album"],
		Filename:  firstNonEmpty(kv["filename"], kv["initial_uri"]),
	}
	info.RemainingSec, info.HasRemaining = remainingSeconds(kv)
	return info
}

// remainingSeconds parses the "remaining" key liquidsoap's
// get_current_metadata reports on the currently playing request, the
// number of seconds left before it ends.
func remainingSeconds(kv map[string]string) (float64, bool) {
	v, ok := kv["remaining"]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// splitLines normalizes engine line endings and drops the trailing END
// sentinel, mirroring liquidsoap_connection_pool.py's response cleanup.
func splitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "END" {
			continue
		}
		out = append(out, line)
	}
	return out
}
