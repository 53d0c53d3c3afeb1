// Package bus is the coordination core's in-process event bus (spec
// component C4): a mutex-guarded subscriber registry whose Publish fans
// events out, on the caller's goroutine, to bounded per-subscriber
// channels, grounded on the teacher's RoomHub
// (core/room/hub.go) register/unregister/broadcast loop, generalized
// from per-room client sets to per-topic subscriber sets.
package bus

import (
	"sync"
	"time"

	"airadio/logger"
)

// Topic names the kinds of events C8/C5/C3 publish and C7 forwards to
// websocket clients.
type Topic string

const (
	TopicTrackChanged Topic = "track_changed"
	TopicDJStarted    Topic = "dj_started"
	TopicDJReady      Topic = "dj_ready"
	TopicDJFailed     Topic = "dj_failed"
	TopicNowUpdated   Topic = "now_updated"
)

// Event is a single message travelling through the bus.
type Event struct {
	Topic     Topic       `json:"topic"`
	Payload   interface{} `json:"payload"`
	EmittedAt int64       `json:"emittedAt"`
}

type subscriber struct {
	id     uint64
	topics map[Topic]bool // empty map means "all topics"
	ch     chan Event
	drops  uint64
}

// Bus is the pub/sub hub. Publish never blocks: a subscriber whose
// buffer is full has its oldest queued event dropped to make room,
// mirroring the RoomHub's "buffer full -> drop" policy but keeping the
// subscriber connected instead of forcibly unregistering it, since spec
// clients are expected to tolerate a lag_hint rather than a disconnect.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	nextID      uint64
	bufferSize  int
}

// New builds a Bus whose subscriber channels are bufferSize deep.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	return &Bus{
		subscribers: make(map[uint64]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscription is a live handle a caller reads events from and closes
// when done.
type Subscription struct {
	bus *Bus
	sub *subscriber
}

// C returns the channel to receive events on.
func (s *Subscription) C() <-chan Event { return s.sub.ch }

// LagHint reports how many events have been dropped for this
// subscriber since it connected, so callers can surface a "you may have
// missed updates" hint to their own clients.
func (s *Subscription) LagHint() uint64 {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	return s.sub.drops
}

// Close unregisters the subscription and releases its channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subscribers[s.sub.id]; ok {
		delete(s.bus.subscribers, s.sub.id)
		close(s.sub.ch)
	}
}

// Subscribe registers a new subscription. An empty topics list receives
// every published event.
func (b *Bus) Subscribe(topics ...Topic) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	set := make(map[Topic]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	sub := &subscriber{
		id:     b.nextID,
		topics: set,
		ch:     make(chan Event, b.bufferSize),
	}
	b.subscribers[sub.id] = sub
	return &Subscription{bus: b, sub: sub}
}

// Publish fans an event out to every interested subscriber without
// blocking the caller.
func (b *Bus) Publish(topic Topic, payload interface{}) {
	ev := Event{Topic: topic, Payload: payload, EmittedAt: time.Now().UnixMilli()}

	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if len(sub.topics) == 0 || sub.topics[topic] {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- ev:
		default:
			// Buffer full: drop the oldest queued event to make room for
			// this one, then account the drop under the write lock.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
			b.mu.Lock()
			sub.drops++
			b.mu.Unlock()
			logger.Warn("bus subscriber lagging, dropped oldest event",
				logger.Int64("subscriber", int64(sub.id)), logger.String("topic", string(topic)))
		}
	}
}

// SubscriberCount reports the current number of live subscriptions,
// used by /api/health.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
