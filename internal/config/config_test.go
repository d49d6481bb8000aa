package config

import (
	"testing"
	"time"

	"github.com/couchcryptid/watershed-sentinel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultBroker = "localhost:9092"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "sentinel-feed", cfg.KafkaFeedTopicPrefix)
	assert.Equal(t, "sentinel-alerts", cfg.KafkaAlertTopic)
	assert.Equal(t, "watershed-sentinel", cfg.KafkaGroupID)
	assert.Equal(t, 2*time.Second, cfg.KafkaDrainTimeout)
	assert.Equal(t, "data/sentinel.db", cfg.LocalCachePath)
	assert.False(t, cfg.BlobEnabled())
	assert.Equal(t, "auto", cfg.BlobRegion)
	assert.True(t, cfg.BlobUseSSL)
	assert.Equal(t, 5*time.Second, cfg.PersistTimeout)
	assert.Equal(t, 30*time.Second, cfg.AdapterTimeout)
	assert.Equal(t, 5*time.Minute, cfg.CycleInterval)
	assert.Equal(t, 12*time.Minute, cfg.LeaseTTL)
	assert.Equal(t, domain.AllSources, cfg.Sources)
	assert.False(t, cfg.MapboxEnabled)
	assert.Equal(t, 5*time.Second, cfg.MapboxTimeout)
	assert.Equal(t, 1000, cfg.MapboxCacheSize)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_FEED_TOPIC_PREFIX", "feeds")
	t.Setenv("KAFKA_ALERT_TOPIC", "alerts")
	t.Setenv("KAFKA_DRAIN_TIMEOUT", "500ms")
	t.Setenv("BLOB_ENDPOINT", "acct.r2.cloudflarestorage.com")
	t.Setenv("BLOB_BUCKET", "sentinel")
	t.Setenv("BLOB_ACCESS_KEY", "key")
	t.Setenv("BLOB_SECRET_KEY", "secret")
	t.Setenv("CYCLE_INTERVAL", "0s")
	t.Setenv("LEASE_TTL", "20m")
	t.Setenv("SOURCES", "sso_cso, QPE_RAINFALL")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "feeds", cfg.KafkaFeedTopicPrefix)
	assert.Equal(t, "alerts", cfg.KafkaAlertTopic)
	assert.Equal(t, 500*time.Millisecond, cfg.KafkaDrainTimeout)
	assert.True(t, cfg.BlobEnabled())
	assert.Zero(t, cfg.CycleInterval, "zero disables the in-process scheduler")
	assert.Equal(t, 20*time.Minute, cfg.LeaseTTL)
	assert.Equal(t, []domain.Source{domain.SourceSSOCSO, domain.SourceQPERainfall}, cfg.Sources)
}

func TestLoad_DrainTimeoutNotShorterThanAdapterTimeout(t *testing.T) {
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_DRAIN_TIMEOUT", "45s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_DRAIN_TIMEOUT")

	t.Setenv("ADAPTER_TIMEOUT", "45s")
	_, err = Load()
	require.Error(t, err, "equal timeouts still cut the drain short")

	t.Setenv("ADAPTER_TIMEOUT", "1m")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.KafkaDrainTimeout)
}

func TestLoad_DrainTimeoutIgnoredWithoutKafka(t *testing.T) {
	t.Setenv("KAFKA_DRAIN_TIMEOUT", "45s")
	_, err := Load()
	require.NoError(t, err)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidPersistTimeout(t *testing.T) {
	t.Setenv("PERSIST_TIMEOUT", "0s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PERSIST_TIMEOUT")
}

func TestLoad_NegativeCycleInterval(t *testing.T) {
	t.Setenv("CYCLE_INTERVAL", "-1m")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CYCLE_INTERVAL")
}

func TestLoad_UnknownSource(t *testing.T) {
	t.Setenv("SOURCES", "SSO_CSO,TIDE_GAUGE")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TIDE_GAUGE")
}

func TestLoad_BlobEndpointWithoutBucket(t *testing.T) {
	t.Setenv("BLOB_ENDPOINT", "acct.r2.cloudflarestorage.com")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BLOB_BUCKET")
}

func TestLoad_BlobWithoutCredentials(t *testing.T) {
	t.Setenv("BLOB_ENDPOINT", "acct.r2.cloudflarestorage.com")
	t.Setenv("BLOB_BUCKET", "sentinel")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BLOB_ACCESS_KEY")
}

func TestLoad_MapboxEnabledByToken(t *testing.T) {
	t.Setenv("MAPBOX_TOKEN", "pk.test")
	t.Setenv("MAPBOX_CACHE_SIZE", "250")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.MapboxEnabled)
	assert.Equal(t, 250, cfg.MapboxCacheSize)
}

func TestLoad_MapboxExplicitlyDisabled(t *testing.T) {
	t.Setenv("MAPBOX_TOKEN", "pk.test")
	t.Setenv("MAPBOX_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.MapboxEnabled)
}

func TestLoad_MapboxEnabledWithoutToken(t *testing.T) {
	t.Setenv("MAPBOX_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAPBOX_TOKEN")
}

func TestLoad_InvalidMapboxCacheSizeFallsBack(t *testing.T) {
	t.Setenv("MAPBOX_CACHE_SIZE", "-3")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.MapboxCacheSize)
}
