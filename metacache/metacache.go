// Package metacache is the coordination core's Metadata Cache (spec
// component C3): a single ticker goroutine that polls the engine and
// holds derived Now/Next snapshots for lock-free reads, grounded on
// _examples/original_source/metadata_daemon.py's poll loop.
package metacache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"airadio/bus"
	"airadio/engine"
	"airadio/logger"
	"airadio/model"

	"github.com/go-redis/redis/v8"
)

const (
	redisNowKey  = "airadio:now:snapshot"
	redisNextKey = "airadio:next:snapshot"
)

// Cache polls engine.Adapter on a fixed interval and exposes the last
// derived snapshots without ever blocking a reader on network I/O.
type Cache struct {
	eng   engine.Adapter
	bus   *bus.Bus
	redis *redis.Client

	tick         time.Duration
	stalenessCap time.Duration
	nextK        int

	now  atomic.Pointer[model.NowSnapshot]
	next atomic.Pointer[model.NextSnapshot]

	lastTrackKey     string
	trackStartedAtMs int64

	stop chan struct{}
	done chan struct{}
}

// New builds a Cache. Call Run to start polling.
func New(eng engine.Adapter, b *bus.Bus, rdb *redis.Client, tick, stalenessCap time.Duration, nextK int) *Cache {
	if nextK <= 0 {
		nextK = 8
	}
	c := &Cache{
		eng:          eng,
		bus:          b,
		redis:        rdb,
		tick:         tick,
		stalenessCap: stalenessCap,
		nextK:        nextK,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	c.now.Store(&model.NowSnapshot{Stale: true})
	c.next.Store(&model.NextSnapshot{Stale: true})
	return c
}

// Run polls until Stop is called. Intended to be launched with `go`.
func (c *Cache) Run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	c.poll(ctx)
	for {
		select {
		case <-ticker.C:
			c.poll(ctx)
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts polling and waits for the loop to exit.
func (c *Cache) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Cache) poll(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, c.tick)
	defer cancel()

	nowInfo, err := c.eng.Now(ctx)
	capturedAt := time.Now().UnixMilli()

	if err != nil {
		logger.Warn("metacache poll failed", logger.ErrorField(err))
		c.markStaleIfExpired(capturedAt)
		return
	}

	trackKey := nowInfo.Artist + "\x00" + nowInfo.Title
	if trackKey != c.lastTrackKey {
		c.lastTrackKey = trackKey
		c.trackStartedAtMs = capturedAt
		c.bus.Publish(bus.TopicTrackChanged, model.TrackRef{
			Title:  nowInfo.Title,
			Artist: nowInfo.Artist,
			Album:  nowInfo.Album,
		})
	}

	snapshot := &model.NowSnapshot{
		Title:            nowInfo.Title,
		Artist:           nowInfo.Artist,
		Album:            nowInfo.Album,
		TrackStartedAtMs: c.trackStartedAtMs,
		CapturedAtMs:     capturedAt,
		Stale:            false,
		RemainingSec:     nowInfo.RemainingSec,
		HasRemaining:     nowInfo.HasRemaining,
	}
	c.now.Store(snapshot)
	c.mirrorToRedis(ctx, redisNowKey, snapshot)
	c.bus.Publish(bus.TopicNowUpdated, snapshot)

	upcoming, err := c.eng.Upcoming(ctx, c.nextK)
	if err != nil {
		logger.Warn("metacache upcoming poll failed", logger.ErrorField(err))
	} else {
		entries := make([]model.TrackRef, 0, len(upcoming))
		for _, t := range upcoming {
			entries = append(entries, model.TrackRef{Title: t.Title, Artist: t.Artist, Album: t.Album})
		}
		next := &model.NextSnapshot{Entries: entries, CapturedAtMs: capturedAt, Stale: false}
		c.next.Store(next)
		c.mirrorToRedis(ctx, redisNextKey, next)
	}
}

// markStaleIfExpired flips the held snapshots' Stale flag once the last
// successful capture is older than stalenessCap, without discarding the
// last-known values.
func (c *Cache) markStaleIfExpired(nowMs int64) {
	now := c.now.Load()
	if now != nil && !now.Stale && time.Duration(nowMs-now.CapturedAtMs)*time.Millisecond > c.stalenessCap {
		stale := *now
		stale.Stale = true
		c.now.Store(&stale)
	}
	next := c.next.Load()
	if next != nil && !next.Stale && time.Duration(nowMs-next.CapturedAtMs)*time.Millisecond > c.stalenessCap {
		stale := *next
		stale.Stale = true
		c.next.Store(&stale)
	}
}

func (c *Cache) mirrorToRedis(ctx context.Context, key string, v interface{}) {
	if c.redis == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, b, c.stalenessCap*2).Err(); err != nil {
		logger.Warn("metacache redis mirror failed", logger.String("key", key), logger.ErrorField(err))
	}
}

// Now returns the last snapshot without blocking.
func (c *Cache) Now() model.NowSnapshot {
	return *c.now.Load()
}

// Next returns the last upcoming-queue snapshot without blocking.
func (c *Cache) Next() model.NextSnapshot {
	return *c.next.Load()
}
