package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/watershed-sentinel/internal/adjacency"
	"github.com/couchcryptid/watershed-sentinel/internal/domain"
	"github.com/couchcryptid/watershed-sentinel/internal/lease"
	"github.com/couchcryptid/watershed-sentinel/internal/observability"
	"github.com/couchcryptid/watershed-sentinel/internal/queue"
	"github.com/couchcryptid/watershed-sentinel/internal/scoring"
	"github.com/couchcryptid/watershed-sentinel/internal/sources"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Adapter polls one upstream feed. Implementations must not touch shared
// state: they read the supplied SourceState and return new events plus a
// partial state update for the core to persist.
type Adapter interface {
	Source() domain.Source
	Poll(ctx context.Context, state domain.SourceState) (domain.AdapterResult, error)
}

// AlertPublisher delivers escalation and stand-down alerts downstream.
type AlertPublisher interface {
	PublishAlerts(ctx context.Context, alerts []domain.Alert) error
}

// Deps are the collaborators a Pipeline drives. Lease, Alerts, and Geocoder
// are optional.
type Deps struct {
	Adapters  []Adapter
	Queue     *queue.Queue
	Scorer    *scoring.Scorer
	Sources   *sources.Tracker
	Adjacency *adjacency.Index
	Lease     *lease.Manager
	Alerts    AlertPublisher
	Geocoder  domain.Geocoder
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Metrics   *observability.Metrics

	Window         time.Duration // decay window, reapplied at read time
	AdapterTimeout time.Duration
	Interval       time.Duration // zero runs a single cycle
}

// Report summarizes one cycle.
type Report struct {
	Skipped    bool
	Polled     int
	Failed     int
	Dropped    int
	Geocoded   int
	Admitted   int
	Suppressed int
	Upgraded   int
	Units      int
	Elevated   int
	Resolved   int
	Alerts     int
	Duration   time.Duration
}

// Pipeline is the per-process context object that owns the queue, scorer, and
// source state between cycles. Cycles are serialized; reads go through the
// immutable Snapshot published at the end of each cycle.
type Pipeline struct {
	deps     Deps
	snapshot atomic.Pointer[Snapshot]
	ready    atomic.Bool
	running  atomic.Bool
}

// New creates a Pipeline. Call Warm before the first cycle.
func New(deps Deps) *Pipeline {
	p := &Pipeline{deps: deps}
	p.snapshot.Store(&Snapshot{Window: deps.Window, adjacency: deps.Adjacency})
	return p
}

// Warm restores queue, scored output, and source state from persistence.
// Failures are logged; the pipeline starts empty for anything it could not
// load.
func (p *Pipeline) Warm(ctx context.Context) {
	log := p.deps.Logger
	if err := p.deps.Queue.Warm(ctx); err != nil {
		log.Warn("queue warm failed; starting empty", "error", err)
	}
	units, err := p.deps.Scorer.Warm(ctx)
	if err != nil {
		log.Warn("scored output warm failed; starting empty", "error", err)
	}
	if err := p.deps.Sources.Warm(ctx); err != nil {
		log.Warn("source state warm failed; all sources due", "error", err)
	}
	p.publish(units, time.Time{})
}

// CheckReadiness returns nil once a cycle has completed in this process.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no scoring cycle has completed yet")
	}
	return nil
}

// Snapshot returns the latest published read view. Never nil.
func (p *Pipeline) Snapshot() *Snapshot {
	return p.snapshot.Load()
}

// Run executes cycles on the configured interval until the context is
// cancelled. With a zero interval it runs one cycle and returns.
func (p *Pipeline) Run(ctx context.Context) error {
	p.deps.Logger.Info("pipeline started",
		"interval", p.deps.Interval,
		"adapters", len(p.deps.Adapters),
	)
	p.deps.Metrics.PipelineRunning.Set(1)
	defer p.deps.Metrics.PipelineRunning.Set(0)

	p.runOnce(ctx, false)
	if p.deps.Interval <= 0 {
		return nil
	}

	ticker := p.deps.Clock.NewTicker(p.deps.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.deps.Logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			p.runOnce(ctx, false)
		}
	}
}

func (p *Pipeline) runOnce(ctx context.Context, force bool) {
	if _, err := p.RunCycle(ctx, force); err != nil && ctx.Err() == nil {
		p.deps.Logger.Error("cycle failed", "error", err)
	}
}

// RunCycle polls every due adapter concurrently, then normalizes, enqueues,
// scores, publishes alerts, persists source state, and publishes a new
// snapshot. force polls every adapter regardless of backoff. A lease held by
// another process skips the cycle.
func (p *Pipeline) RunCycle(ctx context.Context, force bool) (Report, error) {
	if !p.running.CompareAndSwap(false, true) {
		p.deps.Metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		return Report{Skipped: true}, nil
	}
	defer p.running.Store(false)

	start := p.deps.Clock.Now()
	log := p.deps.Logger

	if p.deps.Lease != nil {
		l, err := p.deps.Lease.Acquire(ctx)
		switch {
		case errors.Is(err, lease.ErrHeld):
			p.deps.Metrics.LeaseContention.Inc()
			p.deps.Metrics.CyclesTotal.WithLabelValues("skipped").Inc()
			log.Info("cycle skipped; build lease held elsewhere", "holder", l.HolderID, "expires_at", l.ExpiresAt)
			return Report{Skipped: true}, nil
		case err != nil:
			log.Warn("build lease unavailable; running unguarded", "error", err)
		default:
			defer func() {
				if err := p.deps.Lease.Release(context.WithoutCancel(ctx)); err != nil {
					log.Warn("build lease release failed", "error", err)
				}
			}()
		}
	}

	var rep Report
	events := p.poll(ctx, force, &rep)
	rep.Geocoded = p.resolveStates(ctx, events)

	enq := p.deps.Queue.Enqueue(ctx, events)
	rep.Admitted, rep.Suppressed, rep.Upgraded = enq.Admitted, enq.Suppressed, enq.Upgraded

	scored := p.deps.Scorer.Score(ctx, p.deps.Queue)
	rep.Units = len(scored.Units)
	rep.Resolved = len(scored.NewResolved)
	for _, u := range scored.Units {
		if u.Level.Elevated() {
			rep.Elevated++
		}
	}
	rep.Alerts = p.publishAlerts(ctx, scored.Alerts)

	p.deps.Sources.Persist(ctx)
	p.publish(scored.Units, scored.ScoredAt)
	p.ready.Store(true)

	rep.Duration = p.deps.Clock.Since(start)
	p.deps.Metrics.CyclesTotal.WithLabelValues("completed").Inc()
	p.deps.Metrics.CycleDuration.Observe(rep.Duration.Seconds())
	log.Info("cycle completed",
		"polled", rep.Polled,
		"failed", rep.Failed,
		"geocoded", rep.Geocoded,
		"admitted", rep.Admitted,
		"suppressed", rep.Suppressed,
		"units", rep.Units,
		"elevated", rep.Elevated,
		"resolved", rep.Resolved,
		"duration", rep.Duration,
	)
	return rep, ctx.Err()
}

type pollResult struct {
	source domain.Source
	result domain.AdapterResult
	err    error
}

// poll runs the due adapters concurrently and folds their results into the
// source tracker. Adapter failures never fail the cycle.
func (p *Pipeline) poll(ctx context.Context, force bool, rep *Report) []domain.ChangeEvent {
	now := p.deps.Clock.Now()

	var due []Adapter
	var states []domain.SourceState
	for _, a := range p.deps.Adapters {
		if force || p.deps.Sources.Due(a.Source(), now) {
			due = append(due, a)
			states = append(states, p.deps.Sources.State(a.Source()))
		}
	}

	results := make([]pollResult, len(due))
	var g errgroup.Group
	for i, a := range due {
		g.Go(func() error {
			actx, cancel := p.adapterContext(ctx)
			defer cancel()
			res, err := a.Poll(actx, states[i])
			results[i] = pollResult{source: a.Source(), result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var events []domain.ChangeEvent
	for _, r := range results {
		rep.Polled++
		src := string(r.source)
		if r.err != nil {
			rep.Failed++
			p.deps.Metrics.AdapterPolls.WithLabelValues(src, "error").Inc()
			p.deps.Sources.RecordFailure(r.source, r.err)
			continue
		}
		p.deps.Metrics.AdapterPolls.WithLabelValues(src, "success").Inc()
		p.deps.Sources.RecordSuccess(r.source, r.result.State)

		batch, dropped := domain.NormalizeBatch(r.source, r.result.Events, now)
		if dropped > 0 {
			rep.Dropped += dropped
			p.deps.Metrics.MalformedEvents.Add(float64(dropped))
			p.deps.Logger.Warn("dropped events with mismatched source", "source", src, "dropped", dropped)
		}
		events = append(events, batch...)
	}
	return events
}

// resolveStates fills in the state for located events that carry no unit or
// state, in place, and returns how many were resolved.
func (p *Pipeline) resolveStates(ctx context.Context, events []domain.ChangeEvent) int {
	if p.deps.Geocoder == nil {
		return 0
	}
	resolved := 0
	for i := range events {
		ev, ok := domain.ResolveState(ctx, events[i], p.deps.Geocoder, p.deps.Logger)
		if ok {
			events[i] = ev
			resolved++
		}
	}
	if resolved > 0 {
		p.deps.Metrics.GeocodedEvents.Add(float64(resolved))
	}
	return resolved
}

func (p *Pipeline) adapterContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.deps.AdapterTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.deps.AdapterTimeout)
}

// publishAlerts sends the cycle's alerts. Failures are logged and counted as
// unpublished.
func (p *Pipeline) publishAlerts(ctx context.Context, alerts []domain.Alert) int {
	if p.deps.Alerts == nil || len(alerts) == 0 {
		return 0
	}
	if err := p.deps.Alerts.PublishAlerts(ctx, alerts); err != nil {
		p.deps.Logger.Error("alert publish failed", "alerts", len(alerts), "error", err)
		return 0
	}
	for _, a := range alerts {
		p.deps.Metrics.AlertsPublished.WithLabelValues(string(a.Kind)).Inc()
	}
	return len(alerts)
}

func (p *Pipeline) publish(units []domain.ScoredUnit, scoredAt time.Time) {
	if units == nil {
		units = []domain.ScoredUnit{}
	}
	p.snapshot.Store(&Snapshot{
		Units:     units,
		Events:    p.deps.Queue.AllEvents(),
		Stats:     p.deps.Queue.Stats(),
		Resolved:  p.deps.Scorer.Resolved(),
		Sources:   p.deps.Sources.States(),
		ScoredAt:  scoredAt,
		Window:    p.deps.Window,
		adjacency: p.deps.Adjacency,
	})
}
