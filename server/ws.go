package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"airadio/bus"
	"airadio/logger"
	"airadio/repository"

	"github.com/gorilla/websocket"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 4096
)

// wsFrame is one message pushed to a websocket client, named per spec's
// three frame types plus the lag_hint frame C4's drop-oldest policy
// surfaces to a slow consumer.
type wsFrame struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	EmittedAt int64       `json:"emittedAt"`
}

// hub upgrades incoming connections and, per connection, owns a direct
// bus.Subscription -- there is no central fan-out loop, since the bus
// already gives each subscriber its own bounded, drop-oldest channel;
// generalizing the teacher's per-room Client/RoomHub pattern to a single
// global stream just means every connection subscribes to the whole bus.
type hub struct {
	b            *bus.Bus
	store        repository.Store
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
	stop         chan struct{}
}

func newHub(b *bus.Bus, store repository.Store, writeTimeout time.Duration) *hub {
	return &hub{
		b:            b,
		store:        store,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		stop: make(chan struct{}),
	}
}

func (h *hub) shutdown() { close(h.stop) }

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	sub := h.b.Subscribe()
	send := make(chan []byte, 32)

	go h.writePump(conn, sub, send)
	h.readPump(conn, sub, send)
}

// readPump only exists to detect the client going away (this push
// channel is one-directional); any inbound frame is discarded, matching
// the teacher's ReadPump-drives-cleanup shape without its message
// dispatch.
func (h *hub) readPump(conn *websocket.Conn, sub *bus.Subscription, send chan []byte) {
	defer func() {
		sub.Close()
		close(send)
		conn.Close()
	}()

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump translates bus events into wsFrames and pings on an idle
// timer, exactly like the teacher's WritePump.
func (h *hub) writePump(conn *websocket.Conn, sub *bus.Subscription, send chan []byte) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	var lastLag uint64
	ctx := context.Background()

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if lag := sub.LagHint(); lag > lastLag {
				lastLag = lag
				h.writeFrame(conn, wsFrame{Type: "lag_hint", Payload: lag, EmittedAt: time.Now().UnixMilli()})
			}
			for _, frame := range h.translate(ctx, ev) {
				if err := h.writeFrame(conn, frame); err != nil {
					return
				}
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-h.stop:
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (h *hub) writeFrame(conn *websocket.Conn, frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil
	}
	conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// translate maps an internal bus.Event onto the external frame types
// spec.md names. A track_changed event also triggers a history_update
// fetch, since a newly committed PlayEvent is exactly what changed.
func (h *hub) translate(ctx context.Context, ev bus.Event) []wsFrame {
	base := wsFrame{EmittedAt: ev.EmittedAt}

	switch ev.Topic {
	case bus.TopicTrackChanged:
		frames := []wsFrame{{Type: "track_update", Payload: ev.Payload, EmittedAt: ev.EmittedAt}}
		if recent, err := h.store.History(ctx, 1, 0); err == nil && len(recent) > 0 {
			frames = append(frames, wsFrame{Type: "history_update", Payload: recent, EmittedAt: ev.EmittedAt})
		}
		return frames
	case bus.TopicNowUpdated:
		base.Type = "track_update"
		base.Payload = ev.Payload
		return []wsFrame{base}
	case bus.TopicDJStarted, bus.TopicDJReady, bus.TopicDJFailed:
		base.Type = "dj_state"
		base.Payload = ev.Payload
		return []wsFrame{base}
	default:
		return nil
	}
}
