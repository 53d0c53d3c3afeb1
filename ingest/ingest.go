package ingest

import (
	"context"
	"errors"
	"time"

	"airadio/bus"
	"airadio/djpipeline"
	"airadio/logger"
	"airadio/metacache"
	"airadio/model"
	"airadio/repository"
	"airadio/scheduler"
)

// armSlot is the scheduler id every arm-next-DJ-job timer shares, so
// arming a new one always cancels whatever was previously pending for
// the next transition, per spec's Cancel(previousArmedJob)/ArmAfter pair.
const armSlot = "ingest:next-dj-job"

// Ingestor drives the four-step pipeline of spec §4.8: normalize, commit,
// broadcast, arm.
type Ingestor struct {
	store    repository.Store
	bus      *bus.Bus
	sched    *scheduler.Scheduler
	meta     *metacache.Cache
	pipeline *djpipeline.Pipeline
	djDelay  time.Duration
}

// Deps bundles the collaborators an Ingestor needs.
type Deps struct {
	Store    repository.Store
	Bus      *bus.Bus
	Sched    *scheduler.Scheduler
	Meta     *metacache.Cache
	Pipeline *djpipeline.Pipeline
	DJDelay  time.Duration
}

// New builds an Ingestor.
func New(d Deps) *Ingestor {
	return &Ingestor{
		store:    d.Store,
		bus:      d.Bus,
		sched:    d.Sched,
		meta:     d.Meta,
		pipeline: d.Pipeline,
		djDelay:  d.DJDelay,
	}
}

// IngestEvent runs the four-step pipeline for one event. deduped is true
// when an equivalent event already existed within the dedup window, in
// which case steps 3 and 4 are skipped and the caller should treat this
// as a success (200 OK, deduped=true per spec §4.8's error handling
// note), not a failure.
func (i *Ingestor) IngestEvent(ctx context.Context, in Input) (deduped bool, err error) {
	return i.ingest(ctx, in, true)
}

// ingestBackstop is the same pipeline invoked by the metacache change
// detector when no POST /api/event arrived for a track it saw change.
// The broadcast step is skipped because metacache already published
// track_changed itself; only the commit and arm steps still need to run.
func (i *Ingestor) ingestBackstop(ctx context.Context, in Input) (deduped bool, err error) {
	return i.ingest(ctx, in, false)
}

func (i *Ingestor) ingest(ctx context.Context, in Input, broadcast bool) (bool, error) {
	ev := normalize(in, time.Now())

	if _, err := i.store.CommitPlayEvent(ctx, ev); err != nil {
		if errors.Is(err, repository.ErrDuplicateEvent) {
			return true, nil
		}
		return false, err
	}

	if broadcast {
		i.bus.Publish(bus.TopicTrackChanged, model.TrackRef{
			Title:  ev.Title,
			Artist: ev.Artist,
			Album:  ev.Album,
		})
	}

	i.armNextDJJob(ctx)
	return false, nil
}

// armNextDJJob cancels whatever DJ-job timer was pending for the
// previous transition and arms a new one, targeting the first entry of
// the metacache's current NextSnapshot. When the engine reports how many
// seconds remain on the track that just started, the timer is set to
// fire djDelay before that track actually ends instead of djDelay after
// it started, so generation lead time stays constant across tracks of
// very different lengths. Without that figure it falls back to the
// fixed djDelay-from-now behavior.
func (i *Ingestor) armNextDJJob(ctx context.Context) {
	i.sched.Cancel(armSlot)

	next := i.meta.Next()
	if len(next.Entries) == 0 {
		return
	}
	predicted := next.Entries[0]

	delay := i.djDelay
	if now := i.meta.Now(); now.HasRemaining && now.RemainingSec > 0 {
		if remaining := time.Duration(now.RemainingSec * float64(time.Second)); remaining > i.djDelay {
			delay = remaining - i.djDelay
		}
	}

	i.sched.ArmAfter(armSlot, delay, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		targetEpochMs := time.Now().Add(i.djDelay).UnixMilli()
		if _, err := i.pipeline.Propose(jobCtx, targetEpochMs, predicted); err != nil {
			logger.Warn("dj job proposal rejected",
				logger.String("title", predicted.Title),
				logger.String("artist", predicted.Artist),
				logger.ErrorField(err))
		}
	})
}

// RunBackstop subscribes to track_changed events published by metacache
// and re-runs the ingest pipeline for any that were not already
// committed via POST /api/event, closing the gap spec §4.8 names as
// input source (b). It runs until ctx is cancelled.
func (i *Ingestor) RunBackstop(ctx context.Context) {
	sub := i.bus.Subscribe(bus.TopicTrackChanged)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			ref, ok := ev.Payload.(model.TrackRef)
			if !ok {
				continue
			}
			now := i.meta.Now()
			deduped, err := i.ingestBackstop(ctx, Input{
				Kind:    model.KindSong,
				Title:   ref.Title,
				Artist:  ref.Artist,
				Album:   ref.Album,
				EpochMs: now.TrackStartedAtMs,
			})
			if err != nil {
				logger.Warn("backstop ingest failed", logger.ErrorField(err))
				continue
			}
			if !deduped {
				logger.Info("backstop ingest committed an event that skipped POST /api/event",
					logger.String("title", ref.Title), logger.String("artist", ref.Artist))
			}
		}
	}
}
