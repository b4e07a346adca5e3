package worker

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vulntor/stoq/pkg/payload"
	"github.com/vulntor/stoq/pkg/plugin"
	"github.com/vulntor/stoq/pkg/results"
)

// ingest drains the worker's source. Payloads are processed by at most
// `concurrency` goroutines, each with a forked orchestrator, and each
// payload is shaped, decorated and saved as soon as its pass completes.
// Outputs are handed to the handler or collected in completion order.
func (o *Orchestrator) ingest(ctx context.Context, req Request) (*Output, bool) {
	name := o.worker.Worker.Source
	if name == "" {
		o.logger.Debug().Err(ErrUnresolvedPayload).Msg("No source configured")
		return nil, false
	}
	inst, err := o.children.Load(ctx, name, plugin.CategorySource)
	if err != nil {
		o.failure(nil, StageSource, name, err)
		return nil, false
	}
	src, _ := inst.Source()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go func() {
		logger := inst.Logger()
		_, err := call(func() (struct{}, error) { return struct{}{}, inst.Heartbeat(hbCtx) })
		if err != nil && hbCtx.Err() == nil {
			logger.Warn().Err(err).Msg("Heartbeat failed")
		}
	}()

	limit := o.worker.Worker.Concurrency
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var (
		mu        sync.Mutex
		out       = &Output{}
		processed int
	)
	emit := func(ref payload.Ref) error {
		g.Go(func() error {
			fork := o.Fork()
			defer fork.release()

			p, err := fork.resolveRef(gctx, ref)
			if err != nil {
				fork.logger.Warn().Err(err).Str("path", ref.Path).Msg("Dropping source payload")
				return nil
			}
			rec := fork.process(gctx, p, req)
			if rec == nil {
				return nil
			}
			// A scanned payload is persisted even when ingestion is being
			// canceled.
			part := fork.finish(context.WithoutCancel(gctx), []*results.Record{rec})

			mu.Lock()
			defer mu.Unlock()
			processed++
			if o.handler != nil {
				o.handler(part)
				return nil
			}
			out.merge(part)
			return nil
		})
		return gctx.Err()
	}
	_, err = call(func() (struct{}, error) { return struct{}{}, src.Ingest(gctx, emit) })
	_ = g.Wait()
	if err != nil && ctx.Err() == nil {
		o.failure(nil, StageSource, name, err)
	}

	o.logger.Debug().Str("source", name).Int("payloads", processed).Msg("Source drained")
	if processed == 0 {
		return nil, false
	}
	if len(out.Rendered) != len(out.Envelopes) {
		out.Rendered = nil
	}
	return out, true
}

// merge appends the output of one payload pass.
func (out *Output) merge(part *Output) {
	out.Roots = append(out.Roots, part.Roots...)
	out.Envelopes = append(out.Envelopes, part.Envelopes...)
	out.Rendered = append(out.Rendered, part.Rendered...)
}

// resolveRef turns a source reference into a root payload, reading its
// path when no bytes were supplied.
func (o *Orchestrator) resolveRef(ctx context.Context, ref payload.Ref) (*payload.Payload, error) {
	if ref.Data != nil {
		return payload.FromRef(ref, ref.Data), nil
	}
	if ref.Path == "" {
		return nil, fmt.Errorf("%w: empty source reference", ErrUnresolvedPayload)
	}
	data, err := o.read(ctx, ref.Path)
	if err != nil {
		return nil, err
	}
	return payload.FromRef(ref, data), nil
}
