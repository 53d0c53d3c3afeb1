// Package djpipeline is the coordination core's DJ Line pipeline (spec
// component C5): given an upcoming track, it decides whether a spoken
// intro is warranted, generates the line, synthesizes audio for it, and
// hands the result to the Engine Adapter's queue. Grounded on
// _examples/original_source/dj_daemon.py's should_generate_intro /
// generate_intro / is_intro_cached flow, reworked into the state machine
// of model.DJJob.
package djpipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"airadio/bus"
	"airadio/config"
	"airadio/engine"
	"airadio/logger"
	"airadio/model"
	"airadio/provider"
	"airadio/repository"
	"airadio/storage"
)

// Pipeline owns the concurrency guard, intro cache, and orchestration for
// turning an upcoming track into a queued spoken intro.
type Pipeline struct {
	store repository.Store
	eng   engine.Adapter
	llm   *provider.Registry
	tts   *provider.Registry
	bus   *bus.Bus
	live  *config.LiveSettings

	maxConcurrent  int
	minAudioBytes  int64
	enqueueRetries int
	enqueueBackoff time.Duration
	djDelay        time.Duration
	styleHints     []string

	introCache *introCache

	sem chan struct{}

	mu         sync.Mutex
	pending    map[string]bool // dedup_key -> queued/running
	lastDJAtMs int64
}

// Deps bundles the collaborators a Pipeline needs. Cfg supplies the
// static tuning knobs; New derives the hot-reloadable subset
// (MinDJSpacing, text length bounds, forbidden tokens) from it through
// config.Live.
type Deps struct {
	Store repository.Store
	Eng   engine.Adapter
	LLM   *provider.Registry
	TTS   *provider.Registry
	Bus   *bus.Bus
	Cfg   *config.Config
}

// New builds a Pipeline ready to accept Propose calls.
func New(d Deps) *Pipeline {
	return &Pipeline{
		store:          d.Store,
		eng:            d.Eng,
		llm:            d.LLM,
		tts:            d.TTS,
		bus:            d.Bus,
		live:           config.Live(d.Cfg),
		maxConcurrent:  d.Cfg.MaxConcurrentJobs,
		minAudioBytes:  d.Cfg.MinAudioBytes,
		enqueueRetries: d.Cfg.EnqueueRetries,
		enqueueBackoff: d.Cfg.EnqueueBackoff,
		djDelay:        time.Duration(d.Cfg.DJDelayMs) * time.Millisecond,
		styleHints:     d.Cfg.StylesHints,
		introCache:     newIntroCache(512, 24*time.Hour),
		sem:            make(chan struct{}, maxInt(d.Cfg.MaxConcurrentJobs, 1)),
		pending:        make(map[string]bool),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Propose evaluates whether an intro should be generated for the
// transition from current to next, and if so starts the pipeline in the
// background. It returns the armed job (or nil if skipped) and any
// immediate rejection reason (ErrOnCooldown, ErrBackpressure).
//
// This mirrors should_generate_intro's ordered checks: placeholder-track
// skip, freshness/cooldown gate, then dedup against in-flight jobs.
func (p *Pipeline) Propose(ctx context.Context, targetEpochMs int64, next model.TrackRef) (*model.DJJob, error) {
	if skipIntro(next.Artist, next.Title) {
		return nil, nil
	}

	p.mu.Lock()
	sinceLast := time.Duration(nowMs()-p.lastDJAtMs) * time.Millisecond
	if p.lastDJAtMs != 0 && sinceLast < p.live.MinDJSpacing() {
		p.mu.Unlock()
		return nil, ErrOnCooldown
	}

	dedupKey := model.ComputeJobDedupKey(next.Title, next.Artist, targetEpochMs)
	if p.pending[dedupKey] {
		p.mu.Unlock()
		return nil, nil
	}
	p.pending[dedupKey] = true
	p.mu.Unlock()

	job := &model.DJJob{
		JobID:         dedupKey,
		TargetEpochMs: targetEpochMs,
		TrackTitle:    next.Title,
		TrackArtist:   next.Artist,
		State:         model.JobArmed,
		DedupKey:      dedupKey,
	}

	select {
	case p.sem <- struct{}{}:
	default:
		p.releasePending(dedupKey)
		return nil, ErrBackpressure
	}

	go p.run(context.WithoutCancel(ctx), job)
	return job, nil
}

func (p *Pipeline) releasePending(dedupKey string) {
	p.mu.Lock()
	delete(p.pending, dedupKey)
	p.mu.Unlock()
}

func nowMs() int64 { return time.Now().UnixMilli() }

// run drives one job through armed -> generating -> synthesizing ->
// registered -> enqueued, publishing bus events at each meaningful
// transition and releasing the concurrency slot on any exit.
func (p *Pipeline) run(ctx context.Context, job *model.DJJob) {
	defer func() {
		<-p.sem
		p.releasePending(job.DedupKey)
	}()

	if recent, err := p.store.RecentDJEvent(ctx, nowMs()-p.live.MinDJSpacing().Milliseconds()); err != nil {
		logger.Warn("freshness gate query failed, proceeding optimistically",
			logger.String("job_id", job.JobID), logger.ErrorField(err))
	} else if recent {
		job.State = model.JobCancelled
		logger.Info("dj job cancelled by freshness gate",
			logger.String("job_id", job.JobID),
			logger.String("track_title", job.TrackTitle))
		return
	}

	if cached, ok := p.introCache.Lookup(job.TrackArtist, job.TrackTitle); ok {
		p.enqueueCached(ctx, job, cached)
		return
	}

	p.bus.Publish(bus.TopicDJStarted, job)
	job.State = model.JobGenerating

	text, err := p.generateText(ctx, job)
	if err != nil {
		p.fail(job, fmt.Sprintf("generation failed: %v", err))
		return
	}

	job.State = model.JobSynthesizing
	audio, err := p.synthesize(ctx, job, text)
	if err != nil {
		p.fail(job, fmt.Sprintf("synthesis failed: %v", err))
		return
	}

	audioPath, transcriptPath, err := p.persist(ctx, job, text, audio)
	if err != nil {
		p.fail(job, fmt.Sprintf("persist failed: %v", err))
		return
	}

	artifact := &model.TTSArtifact{
		EpochMs:        job.TargetEpochMs,
		Text:           text,
		AudioPath:      audioPath,
		TranscriptPath: transcriptPath,
		TrackTitle:     job.TrackTitle,
		TrackArtist:    job.TrackArtist,
		Mode:           model.ModeIntro,
		Status:         model.TTSPending,
		SizeBytes:      int64(len(audio)),
	}
	ttsID, err := p.store.RegisterTTS(ctx, artifact)
	if err != nil {
		p.fail(job, fmt.Sprintf("register failed: %v", err))
		return
	}
	job.TTSArtifactID = ttsID

	if err := p.store.MarkTTS(ctx, ttsID, model.TTSReady); err != nil {
		p.fail(job, fmt.Sprintf("mark ready failed: %v", err))
		return
	}
	job.State = model.JobRegistered

	if err := p.enqueueWithRetry(ctx, audioPath); err != nil {
		p.fail(job, fmt.Sprintf("enqueue failed: %v", err))
		return
	}

	p.introCache.Put(job.TrackArtist, job.TrackTitle, audioPath)
	job.State = model.JobEnqueued
	p.mu.Lock()
	p.lastDJAtMs = nowMs()
	p.mu.Unlock()

	p.bus.Publish(bus.TopicDJReady, job)
	logger.Info("dj job enqueued",
		logger.String("job_id", job.JobID),
		logger.String("track_title", job.TrackTitle),
		logger.String("track_artist", job.TrackArtist))
}

// enqueueCached replays a previously generated intro without touching
// the LLM/TTS registries, matching is_intro_cached's short-circuit.
func (p *Pipeline) enqueueCached(ctx context.Context, job *model.DJJob, path string) {
	job.State = model.JobEnqueued
	if err := p.enqueueWithRetry(ctx, path); err != nil {
		p.fail(job, fmt.Sprintf("cached enqueue failed: %v", err))
		return
	}
	p.mu.Lock()
	p.lastDJAtMs = nowMs()
	p.mu.Unlock()
	p.bus.Publish(bus.TopicDJReady, job)
	logger.Info("dj job served from intro cache",
		logger.String("job_id", job.JobID), logger.String("path", path))
}

func (p *Pipeline) fail(job *model.DJJob, reason string) {
	// A registered job's artifact is already ready, and ready may only
	// move to garbage.
	artifactStatus := model.TTSFailed
	if job.State == model.JobRegistered {
		artifactStatus = model.TTSGarbage
	}
	job.State = model.JobFailed
	job.FailureReason = reason
	if job.TTSArtifactID != 0 {
		_ = p.store.MarkTTS(context.Background(), job.TTSArtifactID, artifactStatus)
	}
	p.bus.Publish(bus.TopicDJFailed, job)
	logger.Warn("dj job failed",
		logger.String("job_id", job.JobID), logger.String("reason", reason))
}

// generateText calls the LLM registry with the quality gates wired in as
// the registry's acceptance check, so a tier whose line fails a gate is
// treated the same as a tier that errored outright and the registry
// advances to the next one instead of returning the rejected text.
func (p *Pipeline) generateText(ctx context.Context, job *model.DJJob) (string, error) {
	req := provider.Request{
		Params: map[string]string{
			"next_title":  job.TrackTitle,
			"next_artist": job.TrackArtist,
		},
	}
	accept := func(resp provider.Response) error {
		return validateText(resp.Text, p.live.TextMinChars(), p.live.TextMaxChars(),
			p.live.ForbiddenTokens(), job.TrackArtist, job.TrackTitle)
	}
	resp, _, err := p.llm.CallWithAccept(ctx, req, accept)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (p *Pipeline) synthesize(ctx context.Context, job *model.DJJob, text string) ([]byte, error) {
	resp, _, err := p.tts.Call(ctx, provider.Request{Text: text})
	if err != nil {
		return nil, err
	}
	if int64(len(resp.Audio)) < p.minAudioBytes {
		return nil, fmt.Errorf("synthesized audio too short: %d bytes", len(resp.Audio))
	}
	return resp.Audio, nil
}

func (p *Pipeline) persist(ctx context.Context, job *model.DJJob, text string, audio []byte) (audioPath, transcriptPath string, err error) {
	audioKey := fmt.Sprintf("dj/%s.wav", job.DedupKey)
	audioPath, err = storage.PutBytes(ctx, audioKey, audio, "audio/wav")
	if err != nil {
		return "", "", err
	}
	transcriptKey := fmt.Sprintf("dj/%s.txt", job.DedupKey)
	transcriptPath, err = storage.PutBytes(ctx, transcriptKey, []byte(text), "text/plain")
	if err != nil {
		return "", "", err
	}
	return audioPath, transcriptPath, nil
}

// enqueueWithRetry pushes path onto the engine's queue, retrying with a
// fixed backoff on transient engine unavailability.
func (p *Pipeline) enqueueWithRetry(ctx context.Context, path string) error {
	var lastErr error
	for attempt := 0; attempt <= p.enqueueRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.enqueueBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := p.eng.EnqueueTTS(ctx, path); err != nil {
			lastErr = err
			logger.Warn("engine enqueue attempt failed",
				logger.Int("attempt", attempt), logger.ErrorField(err))
			continue
		}
		return nil
	}
	return lastErr
}
