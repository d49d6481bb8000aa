package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/couchcryptid/watershed-sentinel/internal/domain"
	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Kafka feed ingestion and alert publication.
	KafkaEnabled         bool
	KafkaBrokers         []string
	KafkaFeedTopicPrefix string
	KafkaAlertTopic      string
	KafkaGroupID         string
	KafkaDrainTimeout    time.Duration

	// Reference data and tuning.
	TuningFile    string
	AdjacencyFile string
	FixturePath   string
	Sources       []domain.Source

	// Two-tier persistence.
	LocalCachePath string
	BlobEndpoint   string
	BlobBucket     string
	BlobAccessKey  string
	BlobSecretKey  string
	BlobRegion     string
	BlobUseSSL     bool
	BlobPrefix     string
	PersistTimeout time.Duration

	// Cycle scheduling.
	AdapterTimeout time.Duration
	CycleInterval  time.Duration
	LeaseTTL       time.Duration

	// Reverse geocoding of events that carry only coordinates.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// BlobEnabled reports whether the durable remote tier is configured.
func (c *Config) BlobEnabled() bool {
	return c.BlobEndpoint != "" && c.BlobBucket != ""
}

// Load reads configuration from environment variables, applying defaults where
// unset. A .env file in the working directory is honoured when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	drainTimeout, err := parseDuration("KAFKA_DRAIN_TIMEOUT", "2s", false)
	if err != nil {
		return nil, err
	}
	persistTimeout, err := parseDuration("PERSIST_TIMEOUT", "5s", false)
	if err != nil {
		return nil, err
	}
	adapterTimeout, err := parseDuration("ADAPTER_TIMEOUT", "30s", false)
	if err != nil {
		return nil, err
	}
	cycleInterval, err := parseDuration("CYCLE_INTERVAL", "5m", true)
	if err != nil {
		return nil, err
	}
	leaseTTL, err := parseDuration("LEASE_TTL", "12m", false)
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := parseDuration("MAPBOX_TIMEOUT", "5s", false)
	if err != nil {
		return nil, err
	}
	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	sources, err := parseSources(sharedcfg.EnvOrDefault("SOURCES", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		KafkaEnabled:         os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:         sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaFeedTopicPrefix: sharedcfg.EnvOrDefault("KAFKA_FEED_TOPIC_PREFIX", "sentinel-feed"),
		KafkaAlertTopic:      sharedcfg.EnvOrDefault("KAFKA_ALERT_TOPIC", "sentinel-alerts"),
		KafkaGroupID:         sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "watershed-sentinel"),
		KafkaDrainTimeout:    drainTimeout,

		TuningFile:    os.Getenv("TUNING_FILE"),
		AdjacencyFile: os.Getenv("ADJACENCY_FILE"),
		FixturePath:   os.Getenv("FIXTURE_PATH"),
		Sources:       sources,

		LocalCachePath: sharedcfg.EnvOrDefault("LOCAL_CACHE_PATH", "data/sentinel.db"),
		BlobEndpoint:   os.Getenv("BLOB_ENDPOINT"),
		BlobBucket:     os.Getenv("BLOB_BUCKET"),
		BlobAccessKey:  os.Getenv("BLOB_ACCESS_KEY"),
		BlobSecretKey:  os.Getenv("BLOB_SECRET_KEY"),
		BlobRegion:     sharedcfg.EnvOrDefault("BLOB_REGION", "auto"),
		BlobUseSSL:     sharedcfg.EnvOrDefault("BLOB_USE_SSL", "true") == "true",
		BlobPrefix:     sharedcfg.EnvOrDefault("BLOB_PREFIX", "sentinel"),
		PersistTimeout: persistTimeout,

		AdapterTimeout: adapterTimeout,
		CycleInterval:  cycleInterval,
		LeaseTTL:       leaseTTL,

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),
	}

	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	if cfg.KafkaEnabled && cfg.KafkaAlertTopic == "" {
		return nil, errors.New("KAFKA_ALERT_TOPIC is required when KAFKA_ENABLED is true")
	}
	// Feed polls run under ADAPTER_TIMEOUT; the drain must end first or no offsets commit.
	if cfg.KafkaEnabled && cfg.KafkaDrainTimeout >= cfg.AdapterTimeout {
		return nil, fmt.Errorf("KAFKA_DRAIN_TIMEOUT (%s) must be shorter than ADAPTER_TIMEOUT (%s)", cfg.KafkaDrainTimeout, cfg.AdapterTimeout)
	}
	if (cfg.BlobEndpoint == "") != (cfg.BlobBucket == "") {
		return nil, errors.New("BLOB_ENDPOINT and BLOB_BUCKET must be set together")
	}
	if cfg.BlobEnabled() && (cfg.BlobAccessKey == "" || cfg.BlobSecretKey == "") {
		return nil, errors.New("BLOB_ACCESS_KEY and BLOB_SECRET_KEY are required when the blob tier is enabled")
	}

	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	return cfg, nil
}

// parseDuration reads a duration variable. Zero is accepted only when
// allowZero is set; negative values are always rejected.
func parseDuration(key, def string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}

// parseSources resolves a comma-separated list of feed names. An empty list
// enables every known source.
func parseSources(s string) ([]domain.Source, error) {
	if strings.TrimSpace(s) == "" {
		return append([]domain.Source(nil), domain.AllSources...), nil
	}
	var out []domain.Source
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		src, ok := domain.ParseSource(part)
		if !ok {
			return nil, fmt.Errorf("invalid SOURCES entry %q", part)
		}
		out = append(out, src)
	}
	return out, nil
}
