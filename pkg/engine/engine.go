// Package engine owns every long-lived detector structure for the lifetime
// of one run: the event bus, the aggregator, the signatures and automaton,
// the response controller, the three detection pathways and the scheduler.
package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/lucid-vigil/ransomguard/pkg/actions"
	"github.com/lucid-vigil/ransomguard/pkg/aggregator"
	"github.com/lucid-vigil/ransomguard/pkg/ahocorasick"
	"github.com/lucid-vigil/ransomguard/pkg/classifier"
	"github.com/lucid-vigil/ransomguard/pkg/config"
	deterrors "github.com/lucid-vigil/ransomguard/pkg/errors"
	"github.com/lucid-vigil/ransomguard/pkg/events"
	"github.com/lucid-vigil/ransomguard/pkg/metrics"
	"github.com/lucid-vigil/ransomguard/pkg/monitors/base"
	"github.com/lucid-vigil/ransomguard/pkg/monitors/behavior"
	"github.com/lucid-vigil/ransomguard/pkg/monitors/ransomnote"
	"github.com/lucid-vigil/ransomguard/pkg/monitors/static"
	"github.com/lucid-vigil/ransomguard/pkg/response"
	"github.com/lucid-vigil/ransomguard/pkg/scheduler"
	"github.com/lucid-vigil/ransomguard/pkg/signatures"
	"github.com/lucid-vigil/ransomguard/pkg/sources"
	"github.com/lucid-vigil/ransomguard/pkg/sources/bpf"
	"github.com/lucid-vigil/ransomguard/pkg/sources/fswatch"
	"github.com/lucid-vigil/ransomguard/pkg/verdict"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const component = "engine"

// shardBuffer is the queue depth between the router and each aggregation
// worker.
const shardBuffer = 256

// Engine wires the detector. Build it with New and start it with Run; an
// Engine runs once.
type Engine struct {
	cfg    *config.Config
	logger zerolog.Logger

	metrics    *metrics.Metrics
	bus        *events.Bus
	aggregator *aggregator.Aggregator
	store      *signatures.Store
	automaton  *ahocorasick.Automaton
	dispatcher *actions.ActionDispatcher // nil when an executor is injected
	controller *response.Controller
	dedupe     *events.EventDeduplicator
	publisher  verdict.Publisher
	scheduler  *scheduler.Scheduler
	source     sources.Source

	behavior   *behavior.BehaviorMonitor
	static     *static.StaticMonitor
	ransomNote *ransomnote.RansomNoteMonitor // nil when the classifier is disabled

	running   atomic.Bool
	startedAt atomic.Pointer[time.Time]
}

type options struct {
	source     sources.Source
	sourceSet  bool
	executor   response.Executor
	report     io.Writer
	reportSet  bool
	publisher  verdict.Publisher
	registry   prometheus.Registerer
	classifier classifier.Classifier
	resolver   *base.PathResolver
}

// Option customizes an Engine.
type Option func(*options)

// WithSource replaces the configured event source. nil runs without one.
func WithSource(s sources.Source) Option {
	return func(o *options) { o.source, o.sourceSet = s, true }
}

// WithExecutor replaces the action dispatcher behind the response controller.
func WithExecutor(e response.Executor) Option {
	return func(o *options) { o.executor = e }
}

// WithReport sends the per-cycle table to w instead of stdout. nil disables it.
func WithReport(w io.Writer) Option {
	return func(o *options) { o.report, o.reportSet = w, true }
}

// WithPublisher replaces the log and NATS verdict publishers.
func WithPublisher(p verdict.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithRegistry registers the detector metrics with r.
func WithRegistry(r prometheus.Registerer) Option {
	return func(o *options) { o.registry = r }
}

// WithClassifier replaces the configured ransom note classifier. It has no
// effect unless the classifier is enabled.
func WithClassifier(c classifier.Classifier) Option {
	return func(o *options) { o.classifier = c }
}

// WithResolver replaces the process cwd lookup used for relative paths.
func WithResolver(r *base.PathResolver) Option {
	return func(o *options) { o.resolver = r }
}

// New loads the signatures, compiles the automaton and wires every pathway.
// Every error it returns is a configuration error.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		cfg:    cfg,
		logger: logger.With().Str("component", component).Logger(),
	}
	e.metrics = metrics.New(o.registry)

	store, err := signatures.Load(cfg.Signatures.Patterns, cfg.Signatures.PatternsPath, cfg.Signatures.DenylistPath)
	if err != nil {
		return nil, deterrors.NewConfigError(component, err, map[string]interface{}{
			"patterns_path": cfg.Signatures.PatternsPath,
			"denylist_path": cfg.Signatures.DenylistPath,
		})
	}
	e.store = store

	e.automaton, err = ahocorasick.New(events.Alphabet, store.Patterns())
	if err != nil {
		return nil, deterrors.NewConfigError(component, err, nil)
	}

	mode, err := response.ParseKillMode(cfg.Actions.KillMode)
	if err != nil {
		return nil, deterrors.NewConfigError(component, err, nil)
	}
	executor := o.executor
	if executor == nil {
		e.dispatcher = actions.NewActionDispatcher(cfg.Actions.Enabled)
		executor = e.dispatcher
	}
	e.controller = response.NewController(executor, mode, logger, e.metrics)

	if e.publisher, err = e.buildPublisher(o.publisher); err != nil {
		return nil, deterrors.NewConfigError(component, err, map[string]interface{}{"nats_url": cfg.NATS.URL})
	}

	resolver := o.resolver
	if resolver == nil {
		resolver = base.NewPathResolver()
	}

	e.bus = events.NewBus(logger, cfg.EventBus.BufferSize, cfg.EventBus.CreatedBufferSize, e.metrics)
	e.aggregator = aggregator.New(e.metrics)
	e.dedupe = events.NewEventDeduplicator(cfg.EventBus.DedupeSize, cfg.EventBus.DedupeWindow)

	var report io.Writer
	switch {
	case o.reportSet:
		report = o.report
	case cfg.Detector.Report:
		report = os.Stdout
	}
	e.behavior = behavior.NewBehaviorMonitor(e.aggregator, e.automaton, cfg.Detector.Threshold,
		e.controller, e.publisher, report, logger, e.metrics)
	e.static = static.NewStaticMonitor(store, e.controller, resolver, logger, e.metrics)

	if cfg.Classifier.Enabled {
		c := o.classifier
		if c == nil {
			if c, err = buildClassifier(cfg.Classifier); err != nil {
				return nil, deterrors.NewConfigError(component, err, map[string]interface{}{
					"model_path": cfg.Classifier.ModelPath,
					"command":    cfg.Classifier.Command,
				})
			}
		}
		e.ransomNote = ransomnote.NewRansomNoteMonitor(c, e.controller, resolver, cfg.Classifier.MaxBytes, logger, e.metrics)
	}

	e.scheduler = scheduler.NewScheduler()
	if err := e.scheduler.RegisterMonitor(e.behavior, cfg.Detector.Interval, cfg.Detector.Count); err != nil {
		return nil, deterrors.NewConfigError(component, err, nil)
	}

	if o.sourceSet {
		e.source = o.source
	} else if e.source, err = buildSource(cfg.Source, logger); err != nil {
		return nil, deterrors.NewConfigError(component, err, nil)
	}

	return e, nil
}

func (e *Engine) buildPublisher(injected verdict.Publisher) (verdict.Publisher, error) {
	if injected != nil {
		return injected, nil
	}
	pubs := verdict.Multi{verdict.NewLogPublisher(e.logger)}
	if e.cfg.NATS.URL != "" {
		np, err := verdict.NewNATSPublisher(e.cfg.NATS.URL, e.cfg.NATS.Subject, e.logger)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, np)
	}
	return pubs, nil
}

func buildClassifier(cfg config.ClassifierConfig) (classifier.Classifier, error) {
	if cfg.Command != "" {
		return classifier.NewExecClassifier(cfg.Command, cfg.Timeout)
	}
	return classifier.LoadLinearModel(cfg.ModelPath)
}

func buildSource(cfg config.SourceConfig, logger zerolog.Logger) (sources.Source, error) {
	switch cfg.Type {
	case config.SourceEBPF:
		return bpf.New(cfg.ObjectPath, logger), nil
	case config.SourceFSNotify:
		return fswatch.New(cfg.WatchPaths, cfg.SettleDelay, logger), nil
	case config.SourceNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown event source %q", cfg.Type)
	}
}

// Run starts the source, the consumers and the control loop, and blocks
// until ctx is cancelled, the cycle count is reached or the source fails.
// Shutdown waits for the in-flight cycle and drains the queues.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine already started")
	}
	defer e.running.Store(false)
	now := time.Now()
	e.startedAt.Store(&now)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var consumers sync.WaitGroup
	consumers.Add(2)
	go func() {
		defer consumers.Done()
		e.aggregate(e.cfg.EventBus.Workers)
	}()
	go func() {
		defer consumers.Done()
		e.consumeCreated(ctx)
	}()

	var sourceWg sync.WaitGroup
	sourceErr := make(chan error, 1)
	if e.source != nil {
		sourceWg.Add(1)
		go func() {
			defer sourceWg.Done()
			e.logger.Info().Str("source", e.source.Name()).Msg("Event source starting")
			sourceErr <- e.source.Run(ctx, e.bus)
		}()
	} else {
		e.logger.Warn().Msg("No event source configured, only injected events are processed")
	}

	e.scheduler.Start(ctx)
	e.logger.Info().
		Dur("interval", e.cfg.Detector.Interval).
		Int("threshold", e.cfg.Detector.Threshold).
		Int("patterns", len(e.store.Patterns())).
		Int("denylist", e.store.DenylistSize()).
		Bool("classifier", e.ransomNote != nil).
		Bool("enforce", e.enforcing()).
		Str("kill_mode", string(e.controller.Mode())).
		Msg("Detector running")

	var runErr error
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-e.scheduler.Done():
			e.logger.Info().Msg("Cycle limit reached")
			break wait
		case err := <-sourceErr:
			if err != nil {
				runErr = fmt.Errorf("event source %s: %w", e.source.Name(), err)
				break wait
			}
			e.logger.Info().Str("source", e.source.Name()).Msg("Event source stopped")
			sourceErr = nil
		}
	}

	cancel()
	e.scheduler.Wait()
	sourceWg.Wait()
	e.bus.Close()
	consumers.Wait()

	if err := e.publisher.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to close verdict publisher")
	}
	stats := e.bus.Stats()
	e.logger.Info().
		Uint64("published", stats.Published).
		Uint64("dropped", stats.Dropped).
		Uint64("saturated", e.aggregator.Saturated()).
		Msg("Detector stopped")
	return runErr
}

// aggregate feeds operation events into the aggregator until the bus closes
// and every shard has drained. Events are routed to a shard by entity key so
// each entity's operations are recorded in arrival order regardless of the
// worker count. Events without a process cannot be attributed and only serve
// the creation pathways.
func (e *Engine) aggregate(workers int) {
	if workers < 1 {
		workers = 1
	}
	shards := make([]chan events.Event, workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan events.Event, shardBuffer)
		wg.Add(1)
		go func(in <-chan events.Event) {
			defer wg.Done()
			for ev := range in {
				e.aggregator.Record(ev)
			}
		}(shards[i])
	}

	for ev := range e.bus.Ops() {
		if ev.ProcessID() == 0 {
			continue
		}
		shards[shardFor(ev.Key(), workers)] <- ev
	}
	for _, ch := range shards {
		close(ch)
	}
	wg.Wait()
}

func shardFor(key events.EntityKey, n int) int {
	var tgid [4]byte
	binary.LittleEndian.PutUint32(tgid[:], key.Tgid)
	d := xxhash.New()
	_, _ = d.Write(tgid[:])
	_, _ = d.WriteString(key.Filename)
	return int(d.Sum64() % uint64(n))
}

// consumeCreated runs the one-shot pathways serially per creation event.
func (e *Engine) consumeCreated(ctx context.Context) {
	for ev := range e.bus.Created() {
		if ctx.Err() != nil {
			continue
		}
		e.handleCreated(ctx, ev)
	}
}

func (e *Engine) handleCreated(ctx context.Context, ev events.Event) {
	if e.dedupe.IsDuplicate(ev) {
		return
	}
	// A denylisted file is deleted, leaving nothing to classify.
	if v, ok := e.static.HandleCreated(ctx, ev); ok {
		e.emit(ctx, v)
		return
	}
	if e.ransomNote == nil {
		return
	}
	if v, ok := e.ransomNote.HandleCreated(ctx, ev); ok {
		e.emit(ctx, v)
	}
}

func (e *Engine) emit(ctx context.Context, v verdict.Verdict) {
	e.metrics.VerdictEmitted(string(v.Source))
	if err := e.publisher.Publish(ctx, v); err != nil {
		e.logger.Warn().Err(err).Str("verdict_id", v.ID).Msg("Failed to publish verdict")
	}
}

func (e *Engine) enforcing() bool {
	if e.dispatcher != nil {
		return e.dispatcher.IsEnabled()
	}
	return e.cfg.Actions.Enabled
}

// Publish injects an event as if the source had captured it.
func (e *Engine) Publish(ev events.Event) error {
	return e.bus.Publish(ev)
}

// Metrics returns the detector metrics.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}
