package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/watershed-sentinel/internal/config"
	"github.com/couchcryptid/watershed-sentinel/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// messageReader is the subset of *kafkago.Reader the feed adapter needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// FeedAdapter drains one source topic per poll. External fetchers publish
// ChangeEvent JSON to <prefix>.<SOURCE>; the adapter turns whatever arrived
// since the last poll into an adapter batch. It implements pipeline.Adapter.
type FeedAdapter struct {
	source domain.Source
	topic  string
	reader messageReader
	drain  time.Duration
	logger *slog.Logger
}

// FeedTopic returns the topic carrying events for src.
func FeedTopic(prefix string, src domain.Source) string {
	return prefix + "." + string(src)
}

// NewFeedAdapter creates a consumer-group reader for the source's feed topic.
func NewFeedAdapter(cfg *config.Config, src domain.Source, logger *slog.Logger) *FeedAdapter {
	topic := FeedTopic(cfg.KafkaFeedTopicPrefix, src)
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    topic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newFeedAdapter(src, topic, r, cfg.KafkaDrainTimeout, logger)
}

func newFeedAdapter(src domain.Source, topic string, r messageReader, drain time.Duration, logger *slog.Logger) *FeedAdapter {
	return &FeedAdapter{
		source: src,
		topic:  topic,
		reader: r,
		drain:  drain,
		logger: logger.With("source", src, "topic", topic),
	}
}

func (a *FeedAdapter) Source() domain.Source { return a.source }

// Poll fetches messages until the drain timeout elapses.
// Records already in the known-id set are skipped, so redelivery after a
// failed commit does not produce duplicates. Undecodable messages are
// committed and logged.
func (a *FeedAdapter) Poll(ctx context.Context, state domain.SourceState) (domain.AdapterResult, error) {
	drainCtx, cancel := context.WithTimeout(ctx, a.drain)
	defer cancel()

	known := append([]string(nil), state.KnownRecordIDs...)
	seen := make(map[string]bool, len(known))
	for _, id := range known {
		seen[id] = true
	}

	var (
		events  []domain.ChangeEvent
		fetched []kafkago.Message
		latest  time.Time
	)
	for {
		msg, err := a.reader.FetchMessage(drainCtx)
		if err != nil {
			if ctx.Err() != nil {
				return domain.AdapterResult{}, fmt.Errorf("drain %s: %w", a.topic, ctx.Err())
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return domain.AdapterResult{}, fmt.Errorf("fetch %s: %w", a.topic, err)
		}
		fetched = append(fetched, msg)
		if msg.Time.After(latest) {
			latest = msg.Time
		}

		ev, err := decodeMessage(a.source, msg)
		if err != nil {
			a.logger.Warn("skipping undecodable feed message", "offset", msg.Offset, "error", err)
			continue
		}
		id := ev.Metadata.SourceRecordID
		if seen[id] {
			continue
		}
		seen[id] = true
		known = append(known, id)
		events = append(events, ev)
	}

	if len(fetched) > 0 {
		if err := a.reader.CommitMessages(ctx, fetched...); err != nil {
			a.logger.Warn("commit feed offsets failed", "messages", len(fetched), "error", err)
		}
	}

	update := domain.StateUpdate{KnownRecordIDs: known}
	if !latest.IsZero() {
		update.LastTimestamps = map[string]time.Time{a.topic: latest.UTC()}
	}
	a.logger.Debug("drained feed topic", "messages", len(fetched), "events", len(events))
	return domain.AdapterResult{Events: events, State: update}, nil
}

func (a *FeedAdapter) Close() error {
	return a.reader.Close()
}

// decodeMessage parses a ChangeEvent. The message key stands in for a
// missing source record id; the source defaults to the topic's source.
func decodeMessage(src domain.Source, msg kafkago.Message) (domain.ChangeEvent, error) {
	var ev domain.ChangeEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	if ev.Source == "" {
		ev.Source = src
	}
	if ev.Metadata.SourceRecordID == "" {
		ev.Metadata.SourceRecordID = string(msg.Key)
	}
	if ev.Metadata.SourceRecordID == "" {
		return domain.ChangeEvent{}, errors.New("change event has no source record id")
	}
	if ev.SourceTimestamp == nil && !msg.Time.IsZero() {
		t := msg.Time.UTC()
		ev.SourceTimestamp = &t
	}
	return ev, nil
}
