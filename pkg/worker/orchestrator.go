// Package worker drives one worker plugin over payloads. For every payload
// it hashes, scans, dispatches to further workers, recursively processes
// carved, decoded and extracted sub-payloads, archives, and finally shapes,
// decorates, persists and renders the results.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vulntor/stoq/pkg/dispatch"
	"github.com/vulntor/stoq/pkg/payload"
	"github.com/vulntor/stoq/pkg/plugin"
	"github.com/vulntor/stoq/pkg/ratelimit"
	"github.com/vulntor/stoq/pkg/results"
)

// DefaultReader is the reader used when a worker names none.
const DefaultReader = "file"

// Request describes the input of one Start call. Payload wins over Path;
// with neither, the worker's configured source is drained.
type Request struct {
	Payload []byte
	Path    string
	// Meta is attached to root payloads as source_meta.
	Meta map[string]any
	// RateLimit and ArchiveConnector override the worker options for this
	// request.
	RateLimit        string
	ArchiveConnector string
}

// Output is the shaped result of a Start call.
type Output struct {
	Envelopes []results.Envelope
	// Rendered holds one document per envelope when a template is
	// configured and rendered cleanly.
	Rendered []string
	Roots    []*results.Record
}

// shared is the state forks of one orchestrator have in common.
type shared struct {
	mu       sync.Mutex
	engines  map[engineKey]*dispatch.Engine
	template string
}

// engineKey identifies a compiled rule set. Instances of the same worker
// loaded by different forks share one engine.
type engineKey struct {
	worker string
	file   string
	rules  string
	nocase bool
}

// Orchestrator runs the pipeline of one activated worker instance.
type Orchestrator struct {
	worker   *plugin.Instance
	children *plugin.Children
	limiter  *ratelimit.Limiter
	metrics  *Metrics
	renderer *results.Renderer
	handler  func(*Output)
	logger   zerolog.Logger

	shared *shared
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLimiter shares a rate limiter between orchestrators.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

// WithMetrics enables metric collection.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRenderer shares a template renderer.
func WithRenderer(r *results.Renderer) Option {
	return func(o *Orchestrator) { o.renderer = r }
}

// WithHandler streams source mode: the output of every payload pass is
// handed to fn as soon as it completes instead of being collected into the
// Start result. Calls are serialized.
func WithHandler(fn func(*Output)) Option {
	return func(o *Orchestrator) { o.handler = fn }
}

// New creates an orchestrator around an activated worker instance.
func New(inst *plugin.Instance, opts ...Option) (*Orchestrator, error) {
	if inst == nil {
		return nil, fmt.Errorf("%w: nil worker instance", plugin.ErrConfig)
	}
	if inst.Category() != plugin.CategoryWorker || inst.Worker == nil || inst.Children() == nil {
		return nil, fmt.Errorf("%w: %s %q is not a worker", plugin.ErrCapability, inst.Category(), inst.Name())
	}
	if !inst.IsActivated() {
		return nil, fmt.Errorf("%w: worker %q is not activated", plugin.ErrConfig, inst.Name())
	}

	o := &Orchestrator{
		worker:   inst,
		children: inst.Children(),
		logger:   inst.Logger(),
		shared: &shared{
			engines:  make(map[engineKey]*dispatch.Engine),
			template: inst.Worker.Template,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.limiter == nil {
		o.limiter = ratelimit.New(ratelimit.WithLogger(o.logger))
	}
	if o.renderer == nil {
		o.renderer = results.NewRenderer()
	}
	return o, nil
}

// Worker returns the worker instance driven by o.
func (o *Orchestrator) Worker() *plugin.Instance { return o.worker }

// Fork returns an orchestrator over the same worker with its own, empty
// child caches. Rate limiter, metrics and dispatch rules are shared.
func (o *Orchestrator) Fork() *Orchestrator {
	f := *o
	f.children = o.children.Fork()
	return &f
}

// release deactivates the children a fork activated.
func (o *Orchestrator) release() {
	if o.children.Owner() == nil {
		o.children.DeactivateEverything()
	}
}

// Close deactivates every child and the worker itself.
func (o *Orchestrator) Close() {
	o.children.DeactivateEverything()
}

// Start processes the payloads resolved from req. It reports false when
// nothing was produced, either because no payload could be resolved or
// because every payload was rate limited. Stage failures never surface
// here; they are logged, counted and attached to the affected record.
//
// In source mode every payload runs its own complete pass, results are
// decorated and saved as each pass completes, and the returned output
// collects the per-payload outputs unless a handler consumes them.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Output, bool) {
	if req.Payload == nil && req.Path == "" {
		return o.ingest(ctx, req)
	}

	data := req.Payload
	if data == nil {
		var err error
		if data, err = o.read(ctx, req.Path); err != nil {
			o.logger.Error().Err(err).Str("path", req.Path).Msg("Unable to read payload")
			return nil, false
		}
	}
	p := payload.New(data, payload.WithPath(req.Path), payload.WithSourceMeta(req.Meta))
	root := o.process(ctx, p, req)
	if root == nil {
		o.logger.Debug().Err(ErrUnresolvedPayload).Msg("Nothing produced")
		return nil, false
	}
	return o.finish(ctx, []*results.Record{root}), true
}

// read resolves path through the worker's reader.
func (o *Orchestrator) read(ctx context.Context, path string) ([]byte, error) {
	name := o.worker.Worker.Reader
	if name == "" {
		name = DefaultReader
	}
	inst, err := o.children.Load(ctx, name, plugin.CategoryReader)
	if err != nil {
		o.failure(nil, StageRead, name, err)
		return nil, err
	}
	r, _ := inst.Reader()
	data, err := call(func() ([]byte, error) { return r.Read(ctx, path) })
	if err != nil {
		o.failure(nil, StageRead, name, err)
		return nil, err
	}
	return data, nil
}

// process runs one root payload through the rate gate and the pipeline.
func (o *Orchestrator) process(ctx context.Context, p *payload.Payload, req Request) *results.Record {
	name := o.worker.Name()
	spec := req.RateLimit
	if spec == "" {
		spec = o.worker.Worker.RateLimit
	}
	if spec != "" && !o.limiter.Allow(name, spec) {
		o.metrics.rateLimit(name)
		o.logger.Debug().Str("uuid", p.UUID).Str("ratelimit", spec).Msg("Payload skipped by rate limit")
		return nil
	}

	o.metrics.payload(name)
	st := &passState{archiveOverride: req.ArchiveConnector}
	return o.scanPayload(ctx, st, o.worker, p, newLineage(name, p))
}

// finish shapes the root records and runs the envelope stages.
func (o *Orchestrator) finish(ctx context.Context, roots []*results.Record) *Output {
	cfg := o.worker.Worker
	out := &Output{Roots: roots}

	envelopes := results.Shape(o.worker.Name(), o.worker.Common.MaxTLP, roots, cfg.CombinedResults)
	for _, env := range envelopes {
		env = o.decorate(ctx, env)
		if cfg.SaveResults {
			o.save(ctx, env)
		}
		if cfg.FlattenResults {
			env = results.Flatten(env, cfg.FlattenDelimiter)
		}
		out.Envelopes = append(out.Envelopes, env)
	}

	if tmpl := o.currentTemplate(); tmpl != "" {
		rendered := make([]string, 0, len(out.Envelopes))
		for _, env := range out.Envelopes {
			doc, err := o.renderer.Render(tmpl, env)
			if err != nil {
				o.failure(nil, StageTemplate, tmpl, err)
				o.clearTemplate()
				rendered = nil
				break
			}
			rendered = append(rendered, doc)
		}
		out.Rendered = rendered
	}
	return out
}

func (o *Orchestrator) currentTemplate() string {
	o.shared.mu.Lock()
	defer o.shared.mu.Unlock()
	return o.shared.template
}

func (o *Orchestrator) clearTemplate() {
	o.shared.mu.Lock()
	o.shared.template = ""
	o.shared.mu.Unlock()
}

// decorate hands env to the configured decorator. A failing decorator
// leaves the envelope untouched.
func (o *Orchestrator) decorate(ctx context.Context, env results.Envelope) results.Envelope {
	name := o.worker.Worker.Decorator
	if name == "" {
		return env
	}
	inst, err := o.children.Load(ctx, name, plugin.CategoryDecorator)
	if err != nil {
		o.failure(nil, StageDecorate, name, err)
		return env
	}
	d, _ := inst.Decorator()
	decorated, err := call(func() (results.Envelope, error) { return d.Decorate(ctx, env) })
	if err != nil {
		o.failure(nil, StageDecorate, name, err)
		return env
	}
	if decorated == nil {
		return env
	}
	return decorated
}

// save hands env to every output connector.
func (o *Orchestrator) save(ctx context.Context, env results.Envelope) {
	for _, name := range o.worker.Worker.OutputConnectors {
		inst, err := o.children.Load(ctx, name, plugin.CategoryConnector)
		if err != nil {
			o.failure(nil, StageSave, name, err)
			continue
		}
		conn, ok := inst.Connector()
		if !ok {
			o.failure(nil, StageSave, name, fmt.Errorf("%w: connector cannot save results", plugin.ErrCapability))
			continue
		}
		ack, err := call(func() (map[string]any, error) { return conn.Save(ctx, env) })
		if err != nil {
			o.failure(nil, StageSave, name, err)
			continue
		}
		o.logger.Debug().Str("connector", name).Interface("ack", ack).Msg("Results saved")
	}
}

// failure logs and counts an absorbed stage error and, when rec is set,
// attaches it to the record.
func (o *Orchestrator) failure(rec *results.Record, stage Stage, pluginName string, err error) {
	serr := stageError(stage, pluginName, err)
	o.metrics.failure(stage, pluginName)
	o.logger.Warn().Err(serr).Str("stage", string(stage)).Str("plugin", pluginName).Msg("Stage failed")
	if rec != nil {
		rec.AddError(serr.Error())
	}
}

// engineFor returns the dispatch engine of a worker instance, nil when the
// worker has no dispatch rules.
func (o *Orchestrator) engineFor(w *plugin.Instance) *dispatch.Engine {
	cfg := w.Worker
	if cfg.Dispatch == "" && cfg.DispatchRules == "" {
		return nil
	}

	key := engineKey{
		worker: w.Name(),
		file:   cfg.Dispatch,
		rules:  cfg.DispatchRules,
		nocase: cfg.DispatchNoCase,
	}
	o.shared.mu.Lock()
	defer o.shared.mu.Unlock()
	if e, ok := o.shared.engines[key]; ok {
		return e
	}

	src := dispatch.FromFile(cfg.Dispatch)
	if cfg.DispatchRules != "" {
		src = dispatch.FromBytes([]byte(cfg.DispatchRules))
	}
	e := dispatch.NewEngine(src,
		dispatch.WithNoCase(cfg.DispatchNoCase),
		dispatch.WithLogger(w.Logger()),
	)
	o.shared.engines[key] = e
	return e
}

// childrenOf returns the caches a worker loads its plugins from. The
// orchestrated worker uses the orchestrator's caches so forks stay
// isolated.
func (o *Orchestrator) childrenOf(w *plugin.Instance) *plugin.Children {
	if w == o.worker {
		return o.children
	}
	return w.Children()
}
