package worker

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/vulntor/stoq/pkg/payload"
	"github.com/vulntor/stoq/pkg/plugin"
	"github.com/vulntor/stoq/pkg/results"
)

// passState is shared by every pass started from one root payload.
type passState struct {
	archiveOverride string
	lastID          atomic.Int64
}

func (s *passState) nextID() int {
	return int(s.lastID.Add(1))
}

// lineage is what is already in progress along the current chain: the
// workers running on the current payload and the fingerprints of the
// payload and its ancestors.
type lineage struct {
	workers   map[string]struct{}
	ancestors map[string]struct{}
}

func newLineage(worker string, p *payload.Payload) lineage {
	return lineage{
		workers:   map[string]struct{}{worker: {}},
		ancestors: map[string]struct{}{p.Fingerprint(): {}},
	}
}

func (l lineage) running(worker string) bool {
	_, ok := l.workers[worker]
	return ok
}

func (l lineage) seen(fingerprint string) bool {
	_, ok := l.ancestors[fingerprint]
	return ok
}

// withWorker extends the in-progress set for a dispatch on the same
// payload.
func (l lineage) withWorker(worker string) lineage {
	workers := maps.Clone(l.workers)
	workers[worker] = struct{}{}
	return lineage{workers: workers, ancestors: l.ancestors}
}

// descend starts the lineage of a sub-payload processed by worker.
func (l lineage) descend(worker, fingerprint string) lineage {
	ancestors := maps.Clone(l.ancestors)
	ancestors[fingerprint] = struct{}{}
	return lineage{
		workers:   map[string]struct{}{worker: {}},
		ancestors: ancestors,
	}
}

type extractionStage struct {
	stage    Stage
	category plugin.Category
	names    []string
}

// scanPayload runs the pipeline of worker w on p: hash, scan, dispatch,
// carve, decode, extract and archive. The returned record holds the
// worker's contribution and, in that order, the records of dispatched
// workers and of sub-payloads.
func (o *Orchestrator) scanPayload(ctx context.Context, st *passState, w *plugin.Instance, p *payload.Payload, lin lineage) *results.Record {
	cfg := w.Worker
	rec := results.NewRecord(w.Name(), nil)
	o.metrics.scan(w.Name())

	if cfg.HashPayload && p.Hashes == nil {
		p.ComputeHashes()
	}

	impl, _ := w.AsWorker()
	scan, err := call(func() (map[string]any, error) { return impl.Scan(ctx, p) })
	if err != nil {
		o.failure(rec, StageScan, w.Name(), err)
	} else {
		rec.Scan = scan
	}

	logger := w.Logger()
	for _, target := range o.dispatchTargets(w, p) {
		if target == w.Name() {
			o.metrics.guard("self")
			logger.Warn().
				Err(ErrRecursionGuard).
				Str("target", target).
				Str("uuid", p.UUID).
				Msg("Skipping dispatch to self")
			continue
		}
		if lin.running(target) {
			o.metrics.guard("in_progress")
			logger.Warn().
				Err(ErrRecursionGuard).
				Str("target", target).
				Str("uuid", p.UUID).
				Msg("Worker already in progress on this payload, skipping dispatch")
			continue
		}
		child, err := o.childrenOf(w).Load(ctx, target, plugin.CategoryWorker)
		if err != nil {
			o.failure(rec, StageDispatch, target, err)
			continue
		}
		o.metrics.dispatch(target)
		rec.Add(o.scanPayload(ctx, st, child, p.Clone(), lin.withWorker(target)))
	}

	stages := []extractionStage{
		{stage: StageCarve, category: plugin.CategoryCarver, names: cfg.Carvers},
		{stage: StageDecode, category: plugin.CategoryDecoder, names: cfg.Decoders},
		{stage: StageExtract, category: plugin.CategoryExtractor, names: cfg.Extractors},
	}
	for _, s := range stages {
		for _, name := range s.names {
			parts, err := call(func() ([]payload.Extracted, error) {
				return o.runExtraction(ctx, w, s, name, p.Data)
			})
			if err != nil {
				o.failure(rec, s.stage, name, err)
				continue
			}
			o.metrics.extract(s.stage, name, len(parts))
			for _, part := range parts {
				rec.Add(o.scanChild(ctx, st, w, p, part, name, lin))
			}
		}
	}

	o.archive(ctx, st, w, p, rec)

	rec.Meta = p.Meta()
	return rec
}

// scanChild processes one extracted region as a nested payload of parent.
// Regions beyond the depth bound or identical to an ancestor are skipped.
func (o *Orchestrator) scanChild(ctx context.Context, st *passState, w *plugin.Instance, parent *payload.Payload, part payload.Extracted, producer string, lin lineage) *results.Record {
	logger := w.Logger()
	if parent.Depth+1 > w.Worker.MaxDepth {
		o.metrics.guard("depth")
		logger.Warn().
			Err(ErrRecursionGuard).
			Int("max_depth", w.Worker.MaxDepth).
			Str("producer", producer).
			Msg("Maximum depth reached, dropping sub-payload")
		return nil
	}

	child := parent.Child(part, st.nextID(), producer)
	fp := child.Fingerprint()
	if lin.seen(fp) {
		o.metrics.guard("repeat")
		logger.Debug().
			Str("producer", producer).
			Str("sha256", fp).
			Msg("Sub-payload repeats an ancestor, skipping")
		return nil
	}
	return o.scanPayload(ctx, st, w, child, lin.descend(w.Name(), fp))
}

func (o *Orchestrator) runExtraction(ctx context.Context, w *plugin.Instance, s extractionStage, name string, data []byte) ([]payload.Extracted, error) {
	inst, err := o.childrenOf(w).Load(ctx, name, s.category)
	if err != nil {
		return nil, err
	}
	switch s.category {
	case plugin.CategoryCarver:
		c, _ := inst.Carver()
		return c.Carve(ctx, data)
	case plugin.CategoryDecoder:
		d, _ := inst.Decoder()
		return d.Decode(ctx, data)
	case plugin.CategoryExtractor:
		e, _ := inst.Extractor()
		return e.Extract(ctx, data)
	default:
		return nil, fmt.Errorf("%w: %s", plugin.ErrInvalidCategory, s.category)
	}
}

// archive stores p through the archive connector and records the
// acknowledgement in the payload metadata.
func (o *Orchestrator) archive(ctx context.Context, st *passState, w *plugin.Instance, p *payload.Payload, rec *results.Record) {
	name := w.Worker.ArchiveConnector
	if w == o.worker && st.archiveOverride != "" {
		name = st.archiveOverride
	}
	if name == "" {
		return
	}

	inst, err := o.childrenOf(w).Load(ctx, name, plugin.CategoryConnector)
	if err != nil {
		o.failure(rec, StageArchive, name, err)
		return
	}
	a, ok := inst.Archiver()
	if !ok {
		o.failure(rec, StageArchive, name, fmt.Errorf("%w: connector cannot archive payloads", plugin.ErrCapability))
		return
	}
	ack, err := call(func() (map[string]any, error) { return a.Archive(ctx, p) })
	if err != nil {
		o.failure(rec, StageArchive, name, err)
		return
	}
	p.Archive = ack
}

// dispatchTargets returns the sorted union of the rule matches and the
// static workers of w.
func (o *Orchestrator) dispatchTargets(w *plugin.Instance, p *payload.Payload) []string {
	targets := slices.Clone(w.Worker.Workers)
	if e := o.engineFor(w); e != nil {
		targets = append(targets, e.Classify(p.Data)...)
	}
	slices.Sort(targets)
	return slices.Compact(targets)
}
