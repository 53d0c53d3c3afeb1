// Package tts supplies concrete Provider tiers for speech synthesis: a
// hosted HTTP API, a local subprocess model (grounded on
// _examples/original_source/tts_xtts.py's --text/--out CLI shape), and
// an offline terminal fallback that returns a short silence clip so the
// DJ pipeline always has bytes to hand the engine.
package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"airadio/provider"
)

// HostedTier calls a remote HTTP TTS endpoint and reads back raw audio
// bytes, grounded on core/netease/client.go's HTTP client wrapper
// shape.
type HostedTier struct {
	name       string
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    provider.RateLimiter
	minGap     time.Duration
}

// NewHostedTier builds an HTTP-backed synthesis tier.
func NewHostedTier(name, endpoint, apiKey string, timeout time.Duration, limiter provider.RateLimiter, minGap time.Duration) *HostedTier {
	return &HostedTier{
		name:       name,
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		minGap:     minGap,
	}
}

func (t *HostedTier) Name() string { return t.name }

func (t *HostedTier) Call(ctx context.Context, req provider.Request) (provider.Response, error) {
	if t.endpoint == "" {
		return provider.Response{}, fmt.Errorf("%s: no endpoint configured", t.name)
	}
	if t.limiter != nil {
		ok, err := t.limiter.Allow(ctx, t.name, t.minGap)
		if err == nil && !ok {
			return provider.Response{}, provider.ErrRateLimited
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(req.Text))
	if err != nil {
		return provider.Response{}, err
	}
	httpReq.Header.Set("Content-Type", "text/plain")
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return provider.Response{}, fmt.Errorf("%s: %w", t.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return provider.Response{}, fmt.Errorf("%s: status %d", t.name, resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Response{}, fmt.Errorf("%s: read audio: %w", t.name, err)
	}
	return provider.Response{Audio: audio}, nil
}

func (t *HostedTier) Health(ctx context.Context) error {
	if t.endpoint == "" {
		return fmt.Errorf("%s: no endpoint configured", t.name)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// LocalExecTier synthesizes by invoking a local model command with
// --text and --out flags, following tts_xtts.py's CLI contract.
type LocalExecTier struct {
	name    string
	command string
	timeout time.Duration
}

// NewLocalExecTier builds a subprocess-backed synthesis tier.
func NewLocalExecTier(name, command string, timeout time.Duration) *LocalExecTier {
	return &LocalExecTier{name: name, command: command, timeout: timeout}
}

func (t *LocalExecTier) Name() string { return t.name }

func (t *LocalExecTier) Call(ctx context.Context, req provider.Request) (provider.Response, error) {
	if t.command == "" {
		return provider.Response{}, fmt.Errorf("%s: no command configured", t.name)
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	outFile, err := os.CreateTemp("", "airadio-tts-*.wav")
	if err != nil {
		return provider.Response{}, err
	}
	outPath := outFile.Name()
	outFile.Close()
	defer os.Remove(outPath)

	parts := strings.Fields(t.command)
	args := append(append([]string{}, parts[1:]...), "--text", req.Text, "--out", outPath)
	cmd := exec.CommandContext(ctx, parts[0], args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return provider.Response{}, fmt.Errorf("%s: %w: %s", t.name, err, stderr.String())
	}

	audio, err := os.ReadFile(outPath)
	if err != nil {
		return provider.Response{}, fmt.Errorf("%s: read output: %w", t.name, err)
	}
	return provider.Response{Audio: audio}, nil
}

func (t *LocalExecTier) Health(ctx context.Context) error {
	if t.command == "" {
		return fmt.Errorf("%s: no command configured", t.name)
	}
	return nil
}

// OfflineTier is the terminal fallback: it never fails, returning a
// minimal valid WAV header framing silence so downstream size/duration
// checks still have something plausible to evaluate.
type OfflineTier struct{}

// NewOfflineTier builds the always-succeeds fallback tier.
func NewOfflineTier() *OfflineTier { return &OfflineTier{} }

func (t *OfflineTier) Name() string { return "offline" }

func (t *OfflineTier) Call(ctx context.Context, req provider.Request) (provider.Response, error) {
	return provider.Response{Audio: silenceWAV(2 * time.Second)}, nil
}

func (t *OfflineTier) Health(ctx context.Context) error { return nil }

const sampleRate = 22050

// silenceWAV builds a minimal mono 16-bit PCM WAV file of the given
// duration, entirely silent.
func silenceWAV(d time.Duration) []byte {
	numSamples := int(d.Seconds() * sampleRate)
	dataSize := numSamples * 2
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	writeLE32(buf, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	writeLE32(buf, 16)
	writeLE16(buf, 1)          // PCM
	writeLE16(buf, 1)          // mono
	writeLE32(buf, sampleRate)
	writeLE32(buf, sampleRate*2) // byte rate
	writeLE16(buf, 2)          // block align
	writeLE16(buf, 16)         // bits per sample

	buf.WriteString("data")
	writeLE32(buf, uint32(dataSize))
	buf.Write(make([]byte, dataSize))

	return buf.Bytes()
}

func writeLE32(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 24))
}

func writeLE16(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
}
