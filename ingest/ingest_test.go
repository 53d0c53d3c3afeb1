package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"airadio/bus"
	"airadio/config"
	"airadio/djpipeline"
	"airadio/engine"
	"airadio/metacache"
	"airadio/model"
	"airadio/provider"
	"airadio/repository"
	"airadio/scheduler"
)

type fakeStore struct {
	mu     sync.Mutex
	events []model.PlayEvent
	nextID int64
}

func newFakeStore() *fakeStore { return &fakeStore{} }

func (s *fakeStore) CommitPlayEvent(ctx context.Context, ev *model.PlayEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lo := ev.EpochMs - model.DedupWindow.Milliseconds()
	hi := ev.EpochMs + model.DedupWindow.Milliseconds()
	for _, e := range s.events {
		if e.Kind == ev.Kind && e.Title == ev.Title && e.Artist == ev.Artist &&
			e.EpochMs >= lo && e.EpochMs <= hi {
			return e.ID, repository.ErrDuplicateEvent
		}
	}
	s.nextID++
	ev.ID = s.nextID
	s.events = append(s.events, *ev)
	return ev.ID, nil
}
func (s *fakeStore) LookupByDedup(ctx context.Context, key string) (*model.PlayEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.DedupKey == key {
			cp := e
			return &cp, true, nil
		}
	}
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
	return nil, nil
}
func (s *fakeStore) PutArtwork(ctx context.Context, entry *model.ArtworkCacheEntry) error {
	return nil
}
func (s *fakeStore) GetArtwork(ctx context.Context, key string) (*model.ArtworkCacheEntry, bool, error) {
	return nil, false, nil
}
func (s *fakeStore) EvictArtworkOverCap(ctx context.Context, capBytes int64) ([]model.ArtworkCacheEntry, error) {
	return nil, nil
}
func (s *fakeStore) RecentDJEvent(ctx context.Context, sinceMs int64) (bool, error) {
	return false, nil
}
func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type fakeEngine struct {
	next  []engine.TrackInfo
	nowTI engine.TrackInfo
}

func (e *fakeEngine) Now(ctx context.Context) (engine.TrackInfo, error) {
	if e.nowTI.Title != "" || e.nowTI.HasRemaining {
		return e.nowTI, nil
	}
	return engine.TrackInfo{Title: "Current", Artist: "Now Artist"}, nil
}
func (e *fakeEngine) Upcoming(ctx context.Context, n int) ([]engine.TrackInfo, error) {
	return e.next, nil
}
func (e *fakeEngine) EnqueueTTS(ctx context.Context, path string) error { return nil }
func (e *fakeEngine) Skip(ctx context.Context) error                   { return nil }
func (e *fakeEngine) Close()                                           {}

type stubTier struct {
	name string
	resp provider.Response
}

func (t *stubTier) Name() string { return t.name }
func (t *stubTier) Call(ctx context.Context, req provider.Request) (provider.Response, error) {
	return t.resp, nil
}
func (t *stubTier) Health(ctx context.Context) error { return nil }

func newTestMetacache(t *testing.T, eng engine.Adapter) *metacache.Cache {
	t.Helper()
	c := metacache.New(eng, bus.New(4), nil, 50*time.Millisecond, time.Second, 8)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	t.Cleanup(func() {
		cancel()
		c.Stop()
	})
	return c
}

func newTestIngestor(t *testing.T, store repository.Store) (*Ingestor, *bus.Bus) {
	t.Helper()
	eng := &fakeEngine{next: []engine.TrackInfo{{Title: "Next Song", Artist: "Next Artist"}}}
	ing, b, _ := newTestIngestorWithEngine(t, store, eng, 10*time.Millisecond)
	return ing, b
}

func newTestIngestorWithEngine(t *testing.T, store repository.Store, eng *fakeEngine, djDelay time.Duration) (*Ingestor, *bus.Bus, *fakeEngine) {
	t.Helper()
	b := bus.New(8)
	meta := newTestMetacache(t, eng)
	sched := scheduler.New()
	sched.Run(5 * time.Millisecond)
	t.Cleanup(sched.Stop)

	llm := provider.NewRegistry(&stubTier{name: "hosted", resp: provider.Response{Text: "A perfectly fine generated line."}})
	tts := provider.NewRegistry(&stubTier{name: "primary", resp: provider.Response{Audio: []byte("wavwavwav")}})
	pipeline := djpipeline.New(djpipeline.Deps{
		Store: store, Eng: eng, LLM: llm, TTS: tts, Bus: b,
		Cfg: &config.Config{
			MaxConcurrentJobs: 1, TextMinChars: 4, TextMaxChars: 200,
			MinAudioBytes: 4, EnqueueRetries: 1, EnqueueBackoff: time.Millisecond,
		},
	})

	return New(Deps{
		Store: store, Bus: b, Sched: sched, Meta: meta, Pipeline: pipeline,
		DJDelay: djDelay,
	}), b, eng
}

func TestIngestEventDedupsWithinWindow(t *testing.T) {
	store := newFakeStore()
	ing, _ := newTestIngestor(t, store)

	deduped1, err := ing.IngestEvent(context.Background(), Input{Title: "Track A", Artist: "Artist A", EpochMs: 1_000_000})
	if err != nil || deduped1 {
		t.Fatalf("expected first ingest to succeed without dedup, got deduped=%v err=%v", deduped1, err)
	}

	deduped2, err := ing.IngestEvent(context.Background(), Input{Title: "Track A", Artist: "Artist A", EpochMs: 1_005_000})
	if err != nil {
		t.Fatalf("unexpected error on second ingest: %v", err)
	}
	if !deduped2 {
		t.Fatal("expected second ingest within the dedup window to be deduped")
	}
	if store.count() != 1 {
		t.Fatalf("expected exactly one committed event, got %d", store.count())
	}
}

func TestIngestEventUsesRemainingSecondsForDJTiming(t *testing.T) {
	store := newFakeStore()
	eng := &fakeEngine{
		next:  []engine.TrackInfo{{Title: "Next Song", Artist: "Next Artist"}},
		nowTI: engine.TrackInfo{Title: "Current", Artist: "Now Artist", RemainingSec: 0.14, HasRemaining: true},
	}
	djDelay := 100 * time.Millisecond
	ing, _, _ := newTestIngestorWithEngine(t, store, eng, djDelay)

	if _, err := ing.IngestEvent(context.Background(), Input{Title: "Track X", Artist: "Artist X", EpochMs: 3_000_000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// remaining (140ms) - djDelay (100ms) leaves a 40ms fire delay, well
	// short of the fixed 100ms djDelay a track with no known remaining
	// time would have used.
	time.Sleep(70 * time.Millisecond)
	if ing.sched.Pending() != 0 {
		t.Fatalf("expected the duration-aware timer to have already fired by now, %d still pending", ing.sched.Pending())
	}
}

func TestIngestEventArmsNextDJJobOnce(t *testing.T) {
	store := newFakeStore()
	ing, _ := newTestIngestor(t, store)

	if _, err := ing.IngestEvent(context.Background(), Input{Title: "Track B", Artist: "Artist B", EpochMs: 2_000_000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ing.IngestEvent(context.Background(), Input{Title: "Track B2", Artist: "Artist B2", EpochMs: 2_030_000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ing.sched.Pending() > 1 {
		t.Fatalf("expected re-arming to replace the previous timer, got %d pending", ing.sched.Pending())
	}
}
