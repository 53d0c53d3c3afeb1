// Package provider is the coordination core's Provider Registry (spec
// component C6): a tiered fallback chain over LLM and TTS providers.
// Each tier implements the same small interface named in spec.md §9
// (Name/Call/Health); the registry advances to the next tier on
// failure and never advances back on success, matching the spec's
// fallback contract.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrAllTiersFailed is returned when every tier in a registry's chain
// rejected or failed a call.
var ErrAllTiersFailed = errors.New("provider: all tiers failed")

// ErrRateLimited is returned by a tier when it is currently throttled.
var ErrRateLimited = errors.New("provider: rate limited")

// Request is the opaque input to a Call. LLM and TTS tiers interpret
// Text and Params differently; both share this shape so the
// registry's fallback loop stays generic.
type Request struct {
	Text   string
	Params map[string]string
}

// Response is what a tier's Call returns on success. Only one of Text
// or Audio is populated, depending on the tier kind.
type Response struct {
	Text  string
	Audio []byte
}

// Provider is one fallback tier.
type Provider interface {
	Name() string
	Call(ctx context.Context, req Request) (Response, error)
	Health(ctx context.Context) error
}

// tierStats tracks a tier's lifetime success/failure counts, surfaced
// through Registry.Stats for /api/health.
type tierStats struct {
	successes int64
	failures  int64
}

// Registry holds an ordered chain of tiers and calls them in order,
// stopping at the first success.
type Registry struct {
	tiers []Provider
	stats map[string]*tierStats
}

// NewRegistry builds a Registry over tiers in fallback order (index 0
// tried first).
func NewRegistry(tiers ...Provider) *Registry {
	stats := make(map[string]*tierStats, len(tiers))
	for _, t := range tiers {
		stats[t.Name()] = &tierStats{}
	}
	return &Registry{tiers: tiers, stats: stats}
}

// Call tries each tier in order, returning the first success. It
// returns ErrAllTiersFailed, wrapping the last tier's error, if every
// tier fails.
func (r *Registry) Call(ctx context.Context, req Request) (Response, string, error) {
	return r.CallWithAccept(ctx, req, nil)
}

// CallWithAccept is Call plus an application-level acceptance check: a
// tier that returns a response accept rejects is treated the same as a
// tier that returned an error, and the registry advances to the next
// tier instead of returning the rejected response. A nil accept makes
// this identical to Call, so TTS callers with no quality gate of their
// own can keep using the plain form.
func (r *Registry) CallWithAccept(ctx context.Context, req Request, accept func(Response) error) (Response, string, error) {
	var lastErr error
	for _, tier := range r.tiers {
		resp, err := tier.Call(ctx, req)
		if err == nil && accept != nil {
			err = accept(resp)
		}
		if err == nil {
			r.stats[tier.Name()].successes++
			return resp, tier.Name(), nil
		}
		r.stats[tier.Name()].failures++
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrAllTiersFailed
	}
	return Response{}, "", errors.Join(ErrAllTiersFailed, lastErr)
}

// TierStat is a snapshot of one tier's counters.
type TierStat struct {
	Name      string
	Successes int64
	Failures  int64
}

// Stats returns a snapshot of every tier's counters in fallback order.
func (r *Registry) Stats() []TierStat {
	out := make([]TierStat, 0, len(r.tiers))
	for _, t := range r.tiers {
		s := r.stats[t.Name()]
		out = append(out, TierStat{Name: t.Name(), Successes: s.successes, Failures: s.failures})
	}
	return out
}

// Health runs Health against every tier and returns the first healthy
// tier's name, or an error if none respond.
func (r *Registry) Health(ctx context.Context) (string, error) {
	var lastErr error
	for _, tier := range r.tiers {
		if err := tier.Health(ctx); err == nil {
			return tier.Name(), nil
		} else {
			lastErr = err
		}
	}
	return "", errors.Join(ErrAllTiersFailed, lastErr)
}

// RateLimiter is a small helper embedded by HTTP-backed tiers that need
// to space out calls; RedisRateLimiter in this package is its
// Redis-backed implementation.
type RateLimiter interface {
	Allow(ctx context.Context, key string, minGap time.Duration) (bool, error)
}
