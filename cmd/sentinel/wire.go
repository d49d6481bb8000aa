package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/watershed-sentinel/internal/adapter/blobstore"
	"github.com/couchcryptid/watershed-sentinel/internal/adapter/boltstore"
	"github.com/couchcryptid/watershed-sentinel/internal/adapter/fixture"
	"github.com/couchcryptid/watershed-sentinel/internal/adapter/kafka"
	"github.com/couchcryptid/watershed-sentinel/internal/adapter/mapbox"
	"github.com/couchcryptid/watershed-sentinel/internal/adjacency"
	"github.com/couchcryptid/watershed-sentinel/internal/config"
	"github.com/couchcryptid/watershed-sentinel/internal/dedup"
	"github.com/couchcryptid/watershed-sentinel/internal/domain"
	"github.com/couchcryptid/watershed-sentinel/internal/lease"
	"github.com/couchcryptid/watershed-sentinel/internal/observability"
	"github.com/couchcryptid/watershed-sentinel/internal/pipeline"
	"github.com/couchcryptid/watershed-sentinel/internal/queue"
	"github.com/couchcryptid/watershed-sentinel/internal/scoring"
	"github.com/couchcryptid/watershed-sentinel/internal/sources"
	"github.com/couchcryptid/watershed-sentinel/internal/store"
	"github.com/jonboulle/clockwork"
)

// app holds the wired process and the resources it must close.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	clock    clockwork.Clock
	pipeline *pipeline.Pipeline

	closers []func() error
}

func loadTuning(path string) (*config.Tuning, error) {
	if path == "" {
		return config.DefaultTuning()
	}
	return config.LoadTuning(path)
}

func newApp(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*app, error) {
	a := &app{cfg: cfg, logger: logger, clock: clockwork.NewRealClock()}

	tuning, err := loadTuning(cfg.TuningFile)
	if err != nil {
		return nil, fmt.Errorf("load tuning: %w", err)
	}
	idx, err := adjacency.Load(cfg.AdjacencyFile)
	if err != nil {
		return nil, err
	}
	for _, problem := range idx.Validate() {
		logger.Warn("adjacency table problem", "error", problem)
	}

	st, err := a.openStore(metrics)
	if err != nil {
		a.Close()
		return nil, err
	}

	adapters, err := a.adapters()
	if err != nil {
		a.Close()
		return nil, err
	}

	var alerts pipeline.AlertPublisher
	if cfg.KafkaEnabled {
		w := kafka.NewAlertWriter(cfg, logger)
		a.closers = append(a.closers, w.Close)
		alerts = w
		logger.Info("alert publication enabled", "topic", cfg.KafkaAlertTopic)
	}

	a.pipeline = pipeline.New(pipeline.Deps{
		Adapters:       adapters,
		Queue:          queue.New(st, dedup.New(tuning.Dedup), tuning.Decay.Window, a.clock, logger, metrics),
		Scorer:         scoring.NewScorer(tuning, idx, st, a.clock, logger, metrics),
		Sources:        sources.NewTracker(tuning.Polling, st, a.clock, logger, metrics),
		Adjacency:      idx,
		Lease:          lease.NewManager(st.Durable(), cfg.LeaseTTL, a.clock, logger),
		Alerts:         alerts,
		Geocoder:       a.geocoder(metrics),
		Clock:          a.clock,
		Logger:         logger,
		Metrics:        metrics,
		Window:         tuning.Decay.Window,
		AdapterTimeout: cfg.AdapterTimeout,
		Interval:       cfg.CycleInterval,
	})
	return a, nil
}

// openStore builds the two-tier store: bbolt on local disk, optionally
// fronting an S3-compatible bucket.
func (a *app) openStore(metrics *observability.Metrics) (*store.Tiered, error) {
	local, err := boltstore.Open(a.cfg.LocalCachePath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, local.Close)

	var remote store.Store
	if a.cfg.BlobEnabled() {
		bs, err := blobstore.New(blobstore.Config{
			Endpoint:  a.cfg.BlobEndpoint,
			Bucket:    a.cfg.BlobBucket,
			AccessKey: a.cfg.BlobAccessKey,
			SecretKey: a.cfg.BlobSecretKey,
			Region:    a.cfg.BlobRegion,
			UseSSL:    a.cfg.BlobUseSSL,
			Prefix:    a.cfg.BlobPrefix,
		})
		if err != nil {
			return nil, err
		}
		remote = bs
		a.logger.Info("remote persistence tier enabled", "endpoint", a.cfg.BlobEndpoint, "bucket", a.cfg.BlobBucket)
	} else {
		a.logger.Info("remote persistence tier disabled; local cache only", "path", a.cfg.LocalCachePath)
	}
	return store.NewTiered(local, remote, a.cfg.PersistTimeout, a.logger, metrics), nil
}

// adapters prefers a replay fixture when FIXTURE_PATH is set, otherwise the
// Kafka feed topics when enabled.
func (a *app) adapters() ([]pipeline.Adapter, error) {
	var out []pipeline.Adapter
	switch {
	case a.cfg.FixturePath != "":
		feed, err := fixture.Load(a.cfg.FixturePath)
		if err != nil {
			return nil, err
		}
		for _, ad := range fixture.NewAdapters(feed, a.cfg.Sources, a.clock) {
			out = append(out, ad)
		}
		a.logger.Info("replaying fixture", "path", a.cfg.FixturePath, "records", len(feed.Records))
	case a.cfg.KafkaEnabled:
		for _, src := range a.cfg.Sources {
			ad := kafka.NewFeedAdapter(a.cfg, src, a.logger)
			a.closers = append(a.closers, ad.Close)
			out = append(out, ad)
		}
		a.logger.Info("kafka feed adapters enabled", "sources", len(out), "prefix", a.cfg.KafkaFeedTopicPrefix)
	default:
		a.logger.Warn("no adapters configured; set FIXTURE_PATH or KAFKA_ENABLED")
	}
	return out, nil
}

// geocoder returns a cached Mapbox reverse geocoder, or nil when disabled.
func (a *app) geocoder(metrics *observability.Metrics) domain.Geocoder {
	if !a.cfg.MapboxEnabled {
		metrics.GeocodeEnabled.Set(0)
		return nil
	}
	metrics.GeocodeEnabled.Set(1)
	a.logger.Info("reverse geocoding enabled", "cache_size", a.cfg.MapboxCacheSize, "timeout", a.cfg.MapboxTimeout)
	client := mapbox.NewClient(a.cfg.MapboxToken, a.cfg.MapboxTimeout, metrics, a.logger)
	return mapbox.NewCachedGeocoder(client, a.cfg.MapboxCacheSize, metrics)
}

// Close releases adapters, writers, and the local store in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
