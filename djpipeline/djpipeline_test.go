package djpipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"airadio/bus"
	"airadio/config"
	"airadio/engine"
	"airadio/model"
	"airadio/provider"
	"airadio/repository"
)

type fakeStore struct {
	mu        sync.Mutex
	artifacts map[int64]*model.TTSArtifact
	nextID    int64
	recentDJ  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{artifacts: make(map[int64]*model.TTSArtifact)}
}

func (s *fakeStore) CommitPlayEvent(ctx context.Context, ev *model.PlayEvent) (int64, error) {
	return 1, nil
}
func (s *fakeStore) LookupByDedup(ctx context.Context, key string) (*model.PlayEvent, bool, error) {
	return nil, false, nil
}
func (s *fakeStore) LinkTTS(ctx context.Context, eventID, ttsID int64) error { return nil }
func (s *fakeStore) RegisterTTS(ctx context.Context, artifact *model.TTSArtifact) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	artifact.ID = s.nextID
	artifact.Status = model.TTSPending
	cp := *artifact
	s.artifacts[s.nextID] = &cp
	return s.nextID, nil
}
func (s *fakeStore) MarkTTS(ctx context.Context, id int64, status model.TTSStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !model.CanTransition(a.Status, status) {
		return repository.ErrIllegalTransition
	}
	a.Status = status
	return nil
}
func (s *fakeStore) GetTTS(ctx context.Context, id int64) (*model.TTSArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
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
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recentDJ, nil
}

type fakeEngine struct {
	mu      sync.Mutex
	pushed  []string
	failN   int
}

func (e *fakeEngine) Now(ctx context.Context) (engine.TrackInfo, error) { return engine.TrackInfo{}, nil }
func (e *fakeEngine) Upcoming(ctx context.Context, n int) ([]engine.TrackInfo, error) {
	return nil, nil
}
func (e *fakeEngine) EnqueueTTS(ctx context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failN > 0 {
		e.failN--
		return errors.New("engine unavailable")
	}
	e.pushed = append(e.pushed, path)
	return nil
}
func (e *fakeEngine) Skip(ctx context.Context) error { return nil }
func (e *fakeEngine) Close()                         {}

type stubTier struct {
	name string
	resp provider.Response
	err  error
}

func (t *stubTier) Name() string { return t.name }
func (t *stubTier) Call(ctx context.Context, req provider.Request) (provider.Response, error) {
	return t.resp, t.err
}
func (t *stubTier) Health(ctx context.Context) error { return t.err }

func testConfig() *config.Config {
	return &config.Config{
		MinDJSpacing:      0,
		MaxConcurrentJobs: 2,
		TextMinChars:      4,
		TextMaxChars:      120,
		ForbiddenTokens:   []string{"artificial", "generated"},
		MinAudioBytes:     4,
		EnqueueRetries:    1,
		EnqueueBackoff:    time.Millisecond,
	}
}

func waitForState(t *testing.T, get func() model.JobState, want model.JobState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if get() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", want, get())
}

func TestPipelineEnqueuesGeneratedIntro(t *testing.T) {
	store := newFakeStore()
	eng := &fakeEngine{}
	llm := provider.NewRegistry(&stubTier{name: "hosted", resp: provider.Response{Text: "Coming up next, Artist B."}})
	tts := provider.NewRegistry(&stubTier{name: "primary", resp: provider.Response{Audio: []byte("wavwavwav")}})
	b := bus.New(8)

	p := &Pipeline{
		store: store, eng: eng, llm: llm, tts: tts, bus: b,
		live:          config.NewLiveSettings(testConfig()),
		maxConcurrent: 2, minAudioBytes: 4, enqueueRetries: 1, enqueueBackoff: time.Millisecond,
		introCache: newIntroCache(8, time.Hour),
		sem:        make(chan struct{}, 2),
		pending:    make(map[string]bool),
	}

	job, err := p.Propose(context.Background(), 1000, model.TrackRef{Title: "Song B", Artist: "Artist B"})
	if err != nil {
		t.Fatalf("unexpected propose error: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job to be armed")
	}

	waitForState(t, func() model.JobState { return job.State }, model.JobEnqueued)

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if len(eng.pushed) != 1 {
		t.Fatalf("expected one engine push, got %d", len(eng.pushed))
	}
}

func TestPipelineSkipsPlaceholderTrack(t *testing.T) {
	store := newFakeStore()
	eng := &fakeEngine{}
	llm := provider.NewRegistry(&stubTier{name: "hosted", resp: provider.Response{Text: "unused"}})
	tts := provider.NewRegistry(&stubTier{name: "primary", resp: provider.Response{Audio: []byte("wav")}})
	b := bus.New(8)

	p := &Pipeline{
		store: store, eng: eng, llm: llm, tts: tts, bus: b,
		live:          config.NewLiveSettings(testConfig()),
		maxConcurrent: 2, minAudioBytes: 4,
		introCache: newIntroCache(8, time.Hour),
		sem:        make(chan struct{}, 2),
		pending:    make(map[string]bool),
	}

	job, err := p.Propose(context.Background(), 1000, model.TrackRef{Title: "DJ Intro", Artist: "AI DJ"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job != nil {
		t.Fatal("expected placeholder track to be skipped without arming a job")
	}
}

func TestPipelineOnCooldownRejectsSecondProposal(t *testing.T) {
	store := newFakeStore()
	eng := &fakeEngine{}
	llm := provider.NewRegistry(&stubTier{name: "hosted", resp: provider.Response{Text: "A perfectly fine generated line."}})
	tts := provider.NewRegistry(&stubTier{name: "primary", resp: provider.Response{Audio: []byte("wavwavwav")}})
	b := bus.New(8)

	cfg := testConfig()
	cfg.MinDJSpacing = time.Hour
	p := &Pipeline{
		store: store, eng: eng, llm: llm, tts: tts, bus: b,
		live:          config.NewLiveSettings(cfg),
		maxConcurrent: 2, minAudioBytes: 4, enqueueRetries: 1, enqueueBackoff: time.Millisecond,
		introCache: newIntroCache(8, time.Hour),
		sem:        make(chan struct{}, 2),
		pending:    make(map[string]bool),
		lastDJAtMs: nowMs(),
	}

	_, err := p.Propose(context.Background(), 2000, model.TrackRef{Title: "Song C", Artist: "Artist C"})
	if !errors.Is(err, ErrOnCooldown) {
		t.Fatalf("expected ErrOnCooldown, got %v", err)
	}
}

func TestPipelineFreshnessGateCancelsJob(t *testing.T) {
	store := newFakeStore()
	store.recentDJ = true
	eng := &fakeEngine{}
	llm := provider.NewRegistry(&stubTier{name: "hosted", resp: provider.Response{Text: "A perfectly fine generated line."}})
	tts := provider.NewRegistry(&stubTier{name: "primary", resp: provider.Response{Audio: []byte("wavwavwav")}})
	b := bus.New(8)

	p := &Pipeline{
		store: store, eng: eng, llm: llm, tts: tts, bus: b,
		live:          config.NewLiveSettings(testConfig()),
		maxConcurrent: 2, minAudioBytes: 4, enqueueRetries: 1, enqueueBackoff: time.Millisecond,
		introCache: newIntroCache(8, time.Hour),
		sem:        make(chan struct{}, 2),
		pending:    make(map[string]bool),
	}

	job, err := p.Propose(context.Background(), 1000, model.TrackRef{Title: "Song D", Artist: "Artist D"})
	if err != nil {
		t.Fatalf("unexpected propose error: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job to be armed even though it will be cancelled by the freshness gate")
	}

	waitForState(t, func() model.JobState { return job.State }, model.JobCancelled)

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if len(eng.pushed) != 0 {
		t.Fatalf("expected no engine push when the freshness gate cancels the job, got %d", len(eng.pushed))
	}
}

func TestValidateTextRejectsForbiddenToken(t *testing.T) {
	err := validateText("This track was generated by a machine.", 4, 200, []string{"generated"}, "Artist", "Title")
	if !errors.Is(err, ErrQuarantinedText) {
		t.Fatalf("expected ErrQuarantinedText, got %v", err)
	}
}

func TestValidateTextRejectsTooShort(t *testing.T) {
	err := validateText("Hi", 10, 200, nil, "Artist", "Title")
	if !errors.Is(err, ErrQuarantinedText) {
		t.Fatalf("expected ErrQuarantinedText, got %v", err)
	}
}

func TestValidateTextRejectsMissingArtist(t *testing.T) {
	err := validateText("Here's a track worth your time.", 4, 200, nil, "Artist B", "Song B")
	if !errors.Is(err, ErrQuarantinedText) {
		t.Fatalf("expected ErrQuarantinedText for missing artist mention, got %v", err)
	}
}

func TestValidateTextAcceptsArtistMention(t *testing.T) {
	err := validateText("Coming up next, Artist B.", 4, 200, nil, "Artist B", "Song B")
	if err != nil {
		t.Fatalf("expected artist mention to pass, got %v", err)
	}
}

func TestValidateTextSkipsArtistGateForGenericArtist(t *testing.T) {
	err := validateText("Back after this.", 4, 200, nil, "AI DJ", "DJ Intro")
	if err != nil {
		t.Fatalf("expected generic artist to skip the presence gate, got %v", err)
	}
}

// TestGenerateTextAdvancesTierOnQualityReject exercises the fallback
// contract end to end: a tier that emits a forbidden token is rejected
// and skipped, and the next tier's line is used instead.
func TestGenerateTextAdvancesTierOnQualityReject(t *testing.T) {
	tier1 := &stubTier{name: "tier1", resp: provider.Response{Text: "This intro is artificial."}}
	tier2 := &stubTier{name: "tier2", resp: provider.Response{Text: "Up next, Artist E, with something new."}}
	p := &Pipeline{
		llm:  provider.NewRegistry(tier1, tier2),
		live: config.NewLiveSettings(testConfig()),
	}

	text, err := p.generateText(context.Background(), &model.DJJob{TrackArtist: "Artist E", TrackTitle: "Song E"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != tier2.resp.Text {
		t.Fatalf("expected fallback to tier2's text, got %q", text)
	}

	stats := p.llm.Stats()
	if stats[0].Failures != 1 || stats[1].Successes != 1 {
		t.Fatalf("unexpected tier stats: %+v", stats)
	}
}
