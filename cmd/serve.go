package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"airadio/bus"
	"airadio/config"
	"airadio/db"
	"airadio/djpipeline"
	"airadio/engine"
	"airadio/ingest"
	"airadio/logger"
	"airadio/metacache"
	"airadio/model"
	"airadio/provider"
	"airadio/provider/llm"
	"airadio/provider/tts"
	"airadio/repository"
	"airadio/scheduler"
	"airadio/server"
	"airadio/storage"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the AI Radio coordination core: engine polling, DJ pipeline, and the HTTP/WS API.",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe wires every component in dependency order -- storage and
// state boundaries first, then the daemons that poll and derive from
// them, then the API surface that reads and drives all of it -- and
// blocks until an interrupt or SIGTERM asks it to shut down, following
// the teacher's server.Start() init sequence (config, object storage,
// database, then schema).
func runServe() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.InfoLevel,
		OutputPath: "logs/airadio.log",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})

	if err := storage.InitMinio(cfg); err != nil {
		logger.Fatal("failed to initialize object storage", logger.ErrorField(err))
	}

	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("failed to connect to database", logger.ErrorField(err))
	}
	defer db.CloseGormDB()

	if err := db.ConnectRedis(cfg); err != nil {
		logger.Fatal("failed to connect to redis", logger.ErrorField(err))
	}
	defer db.CloseRedis()

	if err := db.AutoMigrateModels(
		&model.PlayEvent{},
		&model.TTSArtifact{},
		&model.ArtworkCacheEntry{},
	); err != nil {
		logger.Fatal("failed to migrate schema", logger.ErrorField(err))
	}

	store := repository.NewGormStore(db.GormDB, db.RedisClient)

	eng := engine.New(engine.Config{
		Host:           cfg.EngineHost,
		Port:           cfg.EnginePort,
		QueueName:      cfg.EngineQueueName,
		IngestURL:      cfg.EngineIngestURL,
		CmdTimeout:     cfg.EngineCmdTimeout,
		EnqueueTimeout: cfg.EngineEnqTimeout,
		ReconnectMin:   cfg.EngineReconnectMin,
		ReconnectMax:   cfg.EngineReconnectMax,
	})
	defer eng.Close()

	evBus := bus.New(cfg.BusSubscriberBuffer)

	meta := metacache.New(eng, evBus, db.RedisClient, cfg.MetaTickInterval, cfg.StalenessCap, cfg.NextSnapshotK)

	sched := scheduler.New()
	sched.Run(100 * time.Millisecond)
	defer sched.Stop()

	limiter := provider.NewRedisRateLimiter(db.RedisClient)
	llmRegistry := buildLLMRegistry(cfg, limiter)
	ttsRegistry := buildTTSRegistry(cfg, limiter)

	pipeline := djpipeline.New(djpipeline.Deps{
		Store: store, Eng: eng, LLM: llmRegistry, TTS: ttsRegistry, Bus: evBus, Cfg: cfg,
	})

	ingestor := ingest.New(ingest.Deps{
		Store: store, Bus: evBus, Sched: sched, Meta: meta, Pipeline: pipeline,
		DJDelay: time.Duration(cfg.DJDelayMs) * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go meta.Run(ctx)
	defer meta.Stop()
	go ingestor.RunBackstop(ctx)

	sweepStalePending(ctx, store, cfg.ArtifactGCAge)
	go runSweepLoop(ctx, store, cfg.ArtifactGCAge)

	janitor := repository.NewArtworkJanitor(store, objectRemover{}, cfg.ArtworkCacheCap, time.Hour)
	go janitor.Run(ctx)
	defer janitor.Stop()

	config.WatchAndReload(ctx.Done())

	srv := server.New(server.Deps{
		Store: store, Meta: meta, Bus: evBus, Sched: sched, Eng: eng,
		Ingestor: ingestor, Pipeline: pipeline, LLM: llmRegistry, TTS: ttsRegistry, Cfg: cfg,
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		logger.Fatal("http server exited with error", logger.ErrorField(err))
	}
}

// buildLLMRegistry assembles the DJ line generation fallback chain from
// cfg.LLMTiers, always terminating in the template tier so the pipeline
// never has to treat "no line generated" as a case to handle. A spec
// with a Command becomes a local subprocess tier; every other spec,
// whatever its Name, becomes a hosted HTTP tier.
func buildLLMRegistry(cfg *config.Config, limiter provider.RateLimiter) *provider.Registry {
	tiers := make([]provider.Provider, 0, len(cfg.LLMTiers)+1)
	for _, spec := range cfg.LLMTiers {
		if spec.Command != "" {
			tiers = append(tiers, llm.NewLocalExecTier(spec.Name, spec.Command, spec.Timeout))
			continue
		}
		tiers = append(tiers, llm.NewHostedTier(spec.Name, spec.Endpoint, spec.APIKey, spec.Timeout, limiter, spec.RateLimitDelay))
	}
	tiers = append(tiers, llm.NewTemplateTier())
	return provider.NewRegistry(tiers...)
}

// buildTTSRegistry mirrors buildLLMRegistry for the synthesis chain,
// terminating in the offline silence tier.
func buildTTSRegistry(cfg *config.Config, limiter provider.RateLimiter) *provider.Registry {
	tiers := make([]provider.Provider, 0, len(cfg.TTSTiers)+1)
	for _, spec := range cfg.TTSTiers {
		if spec.Command != "" {
			tiers = append(tiers, tts.NewLocalExecTier(spec.Name, spec.Command, spec.Timeout))
			continue
		}
		tiers = append(tiers, tts.NewHostedTier(spec.Name, spec.Endpoint, spec.APIKey, spec.Timeout, limiter, spec.RateLimitDelay))
	}
	tiers = append(tiers, tts.NewOfflineTier())
	return provider.NewRegistry(tiers...)
}

// objectRemover adapts storage's package-level functions to
// repository.ObjectRemover.
type objectRemover struct{}

func (objectRemover) RemoveObject(ctx context.Context, key string) error {
	return storage.RemoveObject(ctx, key)
}

// sweepStalePending runs the crash-safety sweep once at startup, moving
// any TTSArtifact left in pending by a process that died mid-synthesis
// to failed, so it never blocks a future MarkTTS transition.
func sweepStalePending(ctx context.Context, store repository.Store, maxAge time.Duration) {
	n, err := store.SweepStalePending(ctx, maxAge)
	if err != nil {
		logger.Warn("startup pending-artifact sweep failed", logger.ErrorField(err))
		return
	}
	if n > 0 {
		logger.Info("swept stale pending tts artifacts", logger.Int("count", n))
	}
}

// runSweepLoop re-runs the same sweep on an hourly cadence, catching
// artifacts that got stuck after startup rather than only at boot.
func runSweepLoop(ctx context.Context, store repository.Store, maxAge time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepStalePending(ctx, store, maxAge)
		}
	}
}
