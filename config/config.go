// Package config loads AI Radio's configuration from environment
// variables (via an optional .env file), with hardcoded defaults for
// everything except secrets. It also watches the .env file with fsnotify
// so a subset of settings can be hot-reloaded without a restart.
package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"

	"airadio/logger"
)

// ProviderSpec is one tier of a fallback chain (LLM or TTS).
type ProviderSpec struct {
	Name           string
	Timeout        time.Duration
	Retries        int
	RateLimitDelay time.Duration
	Endpoint       string
	APIKey         string
	Command        string // for exec-based local providers
}

// Config is the full set of tunables for the coordination core.
type Config struct {
	// Engine adapter (C1)
	EngineHost         string
	EnginePort         string
	EngineIngestURL    string // alternate HTTP PUT ingestion port; empty disables it
	EngineQueueName    string // single configured queue name (spec §9 open question)
	EngineCmdTimeout   time.Duration
	EngineEnqTimeout   time.Duration
	EngineReconnectMin time.Duration
	EngineReconnectMax time.Duration

	// Store (C2)
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	ArtifactDir       string // local staging dir before upload to object storage
	ArtworkCacheCap   int64  // bytes
	EventRetentionN   int
	EventRetentionAge time.Duration

	// MediaRoot is the on-disk library root the engine plays tracks from.
	// getCover resolves a requested track's folder art relative to it,
	// grounded on find_missing_art.py's MEDIA_ROOT walk. Empty disables
	// on-demand cover fetching; /api/cover then only ever serves whatever
	// is already cached plus the default cover.
	MediaRoot string

	// Metadata cache (C3)
	MetaTickInterval time.Duration
	NextSnapshotK    int
	StalenessCap     time.Duration

	// Event bus (C4)
	BusSubscriberBuffer int

	// DJ pipeline (C5)
	MinDJSpacing      time.Duration
	MaxConcurrentJobs int
	DJDelayMs         int64
	TextMinChars      int
	TextMaxChars      int
	ForbiddenTokens   []string
	MinAudioBytes     int64
	EnqueueRetries    int
	EnqueueBackoff    time.Duration
	StylesHints       []string

	// Provider registry (C6)
	LLMTiers []ProviderSpec
	TTSTiers []ProviderSpec

	// HTTP/WS API (C7)
	HTTPAddr       string
	HTTPTimeout    time.Duration
	WSWriteTimeout time.Duration

	// Housekeeping
	ArtifactGCAge time.Duration
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return fallback
}

// Load reads configuration from the environment, having first attempted
// to load a .env file from the current directory (godotenv never
// overrides a variable already set in the real environment).
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, relying on environment and defaults")
	}

	return &Config{
		EngineHost:         getEnv("ENGINE_HOST", "127.0.0.1"),
		EnginePort:         getEnv("ENGINE_PORT", "1234"),
		EngineIngestURL:    getEnv("ENGINE_INGEST_URL", ""),
		EngineQueueName:    getEnv("ENGINE_QUEUE_NAME", "dj_queue"),
		EngineCmdTimeout:   getEnvDuration("ENGINE_CMD_TIMEOUT", 1*time.Second),
		EngineEnqTimeout:   getEnvDuration("ENGINE_ENQUEUE_TIMEOUT", 3*time.Second),
		EngineReconnectMin: getEnvDuration("ENGINE_RECONNECT_MIN", 100*time.Millisecond),
		EngineReconnectMax: getEnvDuration("ENGINE_RECONNECT_MAX", 5*time.Second),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "airadio"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "airadio"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		ArtifactDir:       getEnv("ARTIFACT_DIR", "artifacts"),
		ArtworkCacheCap:   getEnvInt64("ARTWORK_CACHE_CAP_BYTES", 500*1024*1024),
		EventRetentionN:   getEnvInt("EVENT_RETENTION_N", 5000),
		EventRetentionAge: getEnvDuration("EVENT_RETENTION_AGE", 30*24*time.Hour),
		MediaRoot:         getEnv("MEDIA_ROOT", ""),

		MetaTickInterval: getEnvDuration("META_TICK_INTERVAL", 3*time.Second),
		NextSnapshotK:    getEnvInt("NEXT_SNAPSHOT_K", 8),
		StalenessCap:     getEnvDuration("STALENESS_CAP", 30*time.Second),

		BusSubscriberBuffer: getEnvInt("BUS_SUBSCRIBER_BUFFER", 32),

		MinDJSpacing:      getEnvDuration("MIN_DJ_SPACING", 45*time.Second),
		MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 1),
		DJDelayMs:         getEnvInt64("DJ_DELAY_MS", 30_000),
		TextMinChars:      getEnvInt("TEXT_MIN_CHARS", 6),
		TextMaxChars:      getEnvInt("TEXT_MAX_CHARS", 200),
		ForbiddenTokens: getEnvList("FORBIDDEN_TOKENS", []string{
			"ai", "artificial", "algorithm", "database", "model", "generated",
		}),
		MinAudioBytes:  getEnvInt64("MIN_AUDIO_BYTES", 1000),
		EnqueueRetries: getEnvInt("ENQUEUE_RETRIES", 3),
		EnqueueBackoff: getEnvDuration("ENQUEUE_BACKOFF", 500*time.Millisecond),
		StylesHints: getEnvList("DJ_STYLE_HINTS", []string{
			"upbeat", "chill", "late-night", "morning-drive", "curious",
		}),

		LLMTiers: defaultLLMTiers(),
		TTSTiers: defaultTTSTiers(),

		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		HTTPTimeout:    getEnvDuration("HTTP_TIMEOUT", 5*time.Second),
		WSWriteTimeout: getEnvDuration("WS_WRITE_TIMEOUT", 2*time.Second),

		ArtifactGCAge: getEnvDuration("ARTIFACT_GC_AGE", 24*time.Hour),
	}
}

func defaultLLMTiers() []ProviderSpec {
	return []ProviderSpec{
		{
			Name:     "hosted",
			Timeout:  getEnvDuration("LLM_HOSTED_TIMEOUT", 20*time.Second),
			Retries:  getEnvInt("LLM_HOSTED_RETRIES", 1),
			Endpoint: getEnv("LLM_HOSTED_ENDPOINT", ""),
			APIKey:   os.Getenv("LLM_HOSTED_API_KEY"),
		},
		{
			Name:     "local-a",
			Timeout:  getEnvDuration("LLM_LOCAL_A_TIMEOUT", 15*time.Second),
			Retries:  getEnvInt("LLM_LOCAL_A_RETRIES", 0),
			Command:  getEnv("LLM_LOCAL_A_CMD", ""),
			Endpoint: getEnv("LLM_LOCAL_A_ENDPOINT", ""),
		},
		{
			Name:     "local-b",
			Timeout:  getEnvDuration("LLM_LOCAL_B_TIMEOUT", 15*time.Second),
			Retries:  getEnvInt("LLM_LOCAL_B_RETRIES", 0),
			Command:  getEnv("LLM_LOCAL_B_CMD", ""),
			Endpoint: getEnv("LLM_LOCAL_B_ENDPOINT", ""),
		},
		{
			Name:    "template",
			Timeout: time.Second,
		},
	}
}

func defaultTTSTiers() []ProviderSpec {
	return []ProviderSpec{
		{
			Name:     "primary",
			Timeout:  getEnvDuration("TTS_PRIMARY_TIMEOUT", 60*time.Second),
			Retries:  getEnvInt("TTS_PRIMARY_RETRIES", 1),
			Endpoint: getEnv("TTS_PRIMARY_ENDPOINT", ""),
			APIKey:   os.Getenv("TTS_PRIMARY_API_KEY"),
		},
		{
			Name:     "secondary",
			Timeout:  getEnvDuration("TTS_SECONDARY_TIMEOUT", 60*time.Second),
			Retries:  getEnvInt("TTS_SECONDARY_RETRIES", 0),
			Command:  getEnv("TTS_SECONDARY_CMD", ""),
			Endpoint: getEnv("TTS_SECONDARY_ENDPOINT", ""),
		},
		{
			Name:    "offline",
			Timeout: 30 * time.Second,
		},
	}
}

// Hot-reloadable subset. These are the only fields a watcher-triggered
// reload replaces in place; connection settings (DB/Redis/MinIO/engine
// host) require a restart, matching the teacher's own practice of only
// ever calling ConnectDB/ConnectRedis once at startup.
type LiveSettings struct {
	minDJSpacing      atomic.Int64
	textMinChars      atomic.Int64
	textMaxChars      atomic.Int64
	forbidden         atomic.Value // []string
}

var (
	liveOnce  sync.Once
	liveState *LiveSettings
)

// NewLiveSettings builds a standalone hot-reloadable settings view seeded
// from base. Most callers want the process-wide singleton from Live;
// this is exported mainly so tests can construct an isolated view
// without touching that singleton.
func NewLiveSettings(base *Config) *LiveSettings {
	l := &LiveSettings{}
	l.apply(base)
	return l
}

// Live returns the process-wide hot-reloadable settings view, seeded from
// the given base config on first call. Later calls ignore base and
// return the same instance; use WatchAndReload to push updates into it.
func Live(base *Config) *LiveSettings {
	liveOnce.Do(func() {
		liveState = NewLiveSettings(base)
	})
	return liveState
}

func (l *LiveSettings) MinDJSpacing() time.Duration { return time.Duration(l.minDJSpacing.Load()) }
func (l *LiveSettings) TextMinChars() int           { return int(l.textMinChars.Load()) }
func (l *LiveSettings) TextMaxChars() int           { return int(l.textMaxChars.Load()) }
func (l *LiveSettings) ForbiddenTokens() []string   { return l.forbidden.Load().([]string) }

func (l *LiveSettings) apply(c *Config) {
	l.minDJSpacing.Store(int64(c.MinDJSpacing))
	l.textMinChars.Store(int64(c.TextMinChars))
	l.textMaxChars.Store(int64(c.TextMaxChars))
	l.forbidden.Store(c.ForbiddenTokens)
}

// WatchAndReload watches the working directory's .env file for changes
// and re-runs Load, applying the hot-reloadable subset to the live view.
// The watch runs in the background until stop is closed. Grounded on the teacher's fsnotify usage in server/ws_stream.go,
// there used to detect finished HLS segments; here it detects config
// edits instead.
func WatchAndReload(stop <-chan struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config watcher unavailable", logger.ErrorField(err))
		return
	}
	if err := watcher.Add("."); err != nil {
		logger.Warn("config watcher add failed", logger.ErrorField(err))
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if strings.HasSuffix(ev.Name, ".env") && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					cfg := Load()
					Live(cfg).apply(cfg)
					logger.Info("configuration hot-reloaded", logger.String("file", ev.Name))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", logger.ErrorField(err))
			case <-stop:
				return
			}
		}
	}()
}
