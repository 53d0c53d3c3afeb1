package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"airadio/bus"
	"airadio/config"
	"airadio/djpipeline"
	"airadio/engine"
	"airadio/ingest"
	"airadio/metacache"
	"airadio/model"
	"airadio/provider"
	"airadio/repository"
	"airadio/scheduler"
)

type fakeStore struct {
	mu       sync.Mutex
	events   []model.PlayEvent
	nextID   int64
	artworks map[string]model.ArtworkCacheEntry

	historyLimit int
}

func (s *fakeStore) CommitPlayEvent(ctx context.Context, ev *model.PlayEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.Kind == ev.Kind && e.Title == ev.Title && e.Artist == ev.Artist {
			return e.ID, repository.ErrDuplicateEvent
		}
	}
	s.nextID++
	ev.ID = s.nextID
	s.events = append(s.events, *ev)
	return ev.ID, nil
}
func (s *fakeStore) LookupByDedup(ctx context.Context, key string) (*model.PlayEvent, bool, error) {
	return nil, false, nil
}
func (s *fakeStore) LinkTTS(ctx context.Context, eventID, ttsID int64) error { return nil }
func (s *fakeStore) RegisterTTS(ctx context.Context, artifact *model.TTSArtifact) (int64, error) {
	return 1, nil
}
func (s *fakeStore) MarkTTS(ctx context.Context, id int64, status model.TTSStatus) error { return nil }
func (s *fakeStore) GetTTS(ctx context.Context, id int64) (*model.TTSArtifact, error) {
	return nil, repository.ErrNotFound
}
func (s *fakeStore) SweepStalePending(ctx context.Context, maxAge time.Duration) (int, error) {
	return 0, nil
}
func (s *fakeStore) History(ctx context.Context, limit int, beforeEpochMs int64) ([]model.PlayEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyLimit = limit
	out := make([]model.PlayEvent, len(s.events))
	copy(out, s.events)
	return out, nil
}
func (s *fakeStore) RecentDJEvent(ctx context.Context, sinceMs int64) (bool, error) {
	return false, nil
}
func (s *fakeStore) PutArtwork(ctx context.Context, entry *model.ArtworkCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artworks == nil {
		s.artworks = make(map[string]model.ArtworkCacheEntry)
	}
	s.artworks[entry.Key] = *entry
	return nil
}
func (s *fakeStore) GetArtwork(ctx context.Context, key string) (*model.ArtworkCacheEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.artworks[key]
	if !ok {
		return nil, false, nil
	}
	return &entry, true, nil
}
func (s *fakeStore) EvictArtworkOverCap(ctx context.Context, capBytes int64) ([]model.ArtworkCacheEntry, error) {
	return nil, nil
}

type fakeEngine struct {
	failNow bool
}

func (e *fakeEngine) Now(ctx context.Context) (engine.TrackInfo, error) {
	if e.failNow {
		return engine.TrackInfo{}, engine.ErrEngineUnavailable
	}
	return engine.TrackInfo{Title: "Current", Artist: "Now Artist"}, nil
}
func (e *fakeEngine) Upcoming(ctx context.Context, n int) ([]engine.TrackInfo, error) { return nil, nil }
func (e *fakeEngine) EnqueueTTS(ctx context.Context, path string) error               { return nil }
func (e *fakeEngine) Skip(ctx context.Context) error                                 { return nil }
func (e *fakeEngine) Close()                                                         {}

type stubTier struct {
	name string
	resp provider.Response
}

func (t *stubTier) Name() string { return t.name }
func (t *stubTier) Call(ctx context.Context, req provider.Request) (provider.Response, error) {
	return t.resp, nil
}
func (t *stubTier) Health(ctx context.Context) error { return nil }

func newTestServer(t *testing.T, eng *fakeEngine, store *fakeStore) *Server {
	t.Helper()
	b := bus.New(8)
	meta := metacache.New(eng, b, nil, 20*time.Millisecond, time.Second, 8)
	ctx, cancel := context.WithCancel(context.Background())
	go meta.Run(ctx)
	time.Sleep(10 * time.Millisecond)
	t.Cleanup(func() {
		cancel()
		meta.Stop()
	})

	sched := scheduler.New()
	sched.Run(5 * time.Millisecond)
	t.Cleanup(sched.Stop)

	llm := provider.NewRegistry(&stubTier{name: "hosted", resp: provider.Response{Text: "A perfectly fine generated line."}})
	tts := provider.NewRegistry(&stubTier{name: "primary", resp: provider.Response{Audio: []byte("wavwavwav")}})
	pipeline := djpipeline.New(djpipeline.Deps{
		Store: store, Eng: eng, LLM: llm, TTS: tts, Bus: b,
		Cfg: &config.Config{MaxConcurrentJobs: 1, TextMinChars: 4, TextMaxChars: 200, MinAudioBytes: 4},
	})
	ingestor := ingest.New(ingest.Deps{
		Store: store, Bus: b, Sched: sched, Meta: meta, Pipeline: pipeline,
		DJDelay: 10 * time.Millisecond,
	})

	cfg := &config.Config{
		HTTPAddr: ":0", HTTPTimeout: time.Second, WSWriteTimeout: time.Second,
		EngineEnqTimeout: time.Second,
	}
	return New(Deps{
		Store: store, Meta: meta, Bus: b, Sched: sched, Eng: eng,
		Ingestor: ingestor, Pipeline: pipeline, LLM: llm, TTS: tts, Cfg: cfg,
	})
}

func TestGetNow(t *testing.T) {
	store := &fakeStore{}
	eng := &fakeEngine{}
	srv := newTestServer(t, eng, store)

	req := httptest.NewRequest(http.MethodGet, "/api/now", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap model.NowSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
}

func TestPostEventDedup(t *testing.T) {
	store := &fakeStore{}
	eng := &fakeEngine{}
	srv := newTestServer(t, eng, store)

	body := `{"kind":"song","title":"Song A","artist":"Artist A","epoch_ms":1000000}`
	req1 := httptest.NewRequest(http.MethodPost, "/api/event", strings.NewReader(body))
	w1 := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w1, req1)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w1.Code, w1.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/event", strings.NewReader(body))
	w2 := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w2, req2)

	var resp map[string]bool
	if err := json.Unmarshal(w2.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !resp["deduped"] {
		t.Fatal("expected second identical event to be deduped")
	}
}

func TestPostEventRejectsMissingFields(t *testing.T) {
	store := &fakeStore{}
	eng := &fakeEngine{}
	srv := newTestServer(t, eng, store)

	req := httptest.NewRequest(http.MethodPost, "/api/event", strings.NewReader(`{"kind":"song"}`))
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestPostSkipReturns202Immediately(t *testing.T) {
	store := &fakeStore{}
	eng := &fakeEngine{}
	srv := newTestServer(t, eng, store)

	req := httptest.NewRequest(http.MethodPost, "/api/skip", nil)
	w := httptest.NewRecorder()

	start := time.Now()
	srv.httpServer.Handler.ServeHTTP(w, req)
	elapsed := time.Since(start)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if elapsed > 200*time.Millisecond {
		t.Fatalf("expected skip to return immediately, took %s", elapsed)
	}
}

func TestGetHealthReflectsEngineFailure(t *testing.T) {
	store := &fakeStore{}
	eng := &fakeEngine{failNow: true}
	srv := newTestServer(t, eng, store)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when engine is unreachable, got %d", w.Code)
	}
}

func TestGetHistoryHonorsLimit(t *testing.T) {
	store := &fakeStore{}
	eng := &fakeEngine{}
	srv := newTestServer(t, eng, store)

	for i := 0; i < 3; i++ {
		store.CommitPlayEvent(context.Background(), &model.PlayEvent{
			Kind: model.KindSong, Title: "T", Artist: "A" + string(rune('0'+i)), EpochMs: int64(1000 + i),
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/history?limit=2", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	store.mu.Lock()
	gotLimit := store.historyLimit
	store.mu.Unlock()
	if gotLimit != 2 {
		t.Fatalf("expected limit 2 passed to store, got %d", gotLimit)
	}
}
