package worker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vulntor/stoq/pkg/payload"
	"github.com/vulntor/stoq/pkg/plugin"
)

// counter counts scans per worker name.
type counter struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *counter) inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = make(map[string]int)
	}
	c.n[name]++
}

func (c *counter) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[name]
}

type echoWorker struct {
	name  string
	scans *counter
	opts  struct {
		Label string `option:"label" default:"none"`
	}
}

func (w *echoWorker) Activate(_ context.Context, inst *plugin.Instance) error {
	w.name = inst.Name()
	return nil
}

func (w *echoWorker) OptionTarget() any { return &w.opts }

func (w *echoWorker) Scan(_ context.Context, p *payload.Payload) (map[string]any, error) {
	w.scans.inc(w.name)
	return map[string]any{"label": w.opts.Label, "size": p.Size()}, nil
}

type boomWorker struct{}

func (boomWorker) Scan(context.Context, *payload.Payload) (map[string]any, error) {
	return nil, errors.New("boom")
}

// splitCarver carves the regions between '|' separators.
type splitCarver struct{}

func (splitCarver) Carve(_ context.Context, data []byte) ([]payload.Extracted, error) {
	if !bytes.Contains(data, []byte("|")) {
		return nil, nil
	}
	var out []payload.Extracted
	for i, part := range bytes.Split(data, []byte("|")) {
		out = append(out, payload.Extracted{Meta: map[string]any{"index": i}, Data: part})
	}
	return out, nil
}

// growDecoder always yields a new, longer payload.
type growDecoder struct{}

func (growDecoder) Decode(_ context.Context, data []byte) ([]payload.Extracted, error) {
	return []payload.Extracted{{Data: append(bytes.Clone(data), '!')}}, nil
}

// sameDecoder yields its input unchanged.
type sameDecoder struct{}

func (sameDecoder) Decode(_ context.Context, data []byte) ([]payload.Extracted, error) {
	return []payload.Extracted{{Data: bytes.Clone(data)}}, nil
}

type failingExtractor struct{}

func (failingExtractor) Extract(context.Context, []byte) ([]payload.Extracted, error) {
	return nil, errors.New("corrupt archive")
}

type memStore struct {
	mu       sync.Mutex
	saved    []map[string]any
	archived []string
}

type memConnector struct{ store *memStore }

func (c memConnector) Save(_ context.Context, env map[string]any) (map[string]any, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.saved = append(c.store.saved, env)
	return map[string]any{"index": len(c.store.saved) - 1}, nil
}

func (c memConnector) Archive(_ context.Context, p *payload.Payload) (map[string]any, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.archived = append(c.store.archived, p.UUID)
	return map[string]any{"key": p.UUID}, nil
}

type markerDecorator struct{}

func (markerDecorator) Decorate(_ context.Context, env map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(env)+1)
	for k, v := range env {
		out[k] = v
	}
	out["decorated"] = true
	return out, nil
}

type fileReader struct{}

func (fileReader) Read(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

type listSource struct {
	opts struct {
		Items []string `option:"items"`
	}
}

func (s *listSource) OptionTarget() any { return &s.opts }

func (s *listSource) Ingest(ctx context.Context, emit func(payload.Ref) error) error {
	for i, item := range s.opts.Items {
		if err := emit(payload.Ref{Data: []byte(item), Meta: map[string]any{"index": i}}); err != nil {
			return err
		}
	}
	return nil
}

// heldSource emits its items and then blocks until hold is closed or ctx
// is done, like a queue consumer waiting for more messages.
type heldSource struct {
	hold <-chan struct{}
	opts struct {
		Items []string `option:"items"`
	}
}

func (s *heldSource) OptionTarget() any { return &s.opts }

func (s *heldSource) Ingest(ctx context.Context, emit func(payload.Ref) error) error {
	for _, item := range s.opts.Items {
		if err := emit(payload.Ref{Data: []byte(item)}); err != nil {
			return err
		}
	}
	select {
	case <-s.hold:
	case <-ctx.Done():
	}
	return nil
}

type panicCarver struct{}

func (panicCarver) Carve(context.Context, []byte) ([]payload.Extracted, error) {
	panic("index out of range")
}

type harness struct {
	t     *testing.T
	reg   *plugin.Registry
	mgr   *plugin.Manager
	scans *counter
	store *memStore
	hold  chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithLogger(t, zerolog.Nop())
}

func newHarnessWithLogger(t *testing.T, logger zerolog.Logger) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		reg:   plugin.NewRegistry(plugin.WithRegistryLogger(zerolog.Nop())),
		scans: &counter{},
		store: &memStore{},
		hold:  make(chan struct{}),
	}

	f := plugin.NewFactories()
	f.Register(plugin.CategoryWorker, "echo", func() any { return &echoWorker{scans: h.scans} })
	f.Register(plugin.CategoryWorker, "boom", func() any { return boomWorker{} })
	f.Register(plugin.CategoryCarver, "split", func() any { return splitCarver{} })
	f.Register(plugin.CategoryDecoder, "grow", func() any { return growDecoder{} })
	f.Register(plugin.CategoryDecoder, "same", func() any { return sameDecoder{} })
	f.Register(plugin.CategoryExtractor, "failing", func() any { return failingExtractor{} })
	f.Register(plugin.CategoryConnector, "mem", func() any { return memConnector{store: h.store} })
	f.Register(plugin.CategoryDecorator, "marker", func() any { return markerDecorator{} })
	f.Register(plugin.CategoryReader, "file", func() any { return fileReader{} })
	f.Register(plugin.CategorySource, "list", func() any { return &listSource{} })
	f.Register(plugin.CategorySource, "held", func() any { return &heldSource{hold: h.hold} })
	f.Register(plugin.CategoryCarver, "panic", func() any { return panicCarver{} })

	h.mgr = plugin.NewManager(h.reg, plugin.WithFactories(f), plugin.WithLogger(logger))

	h.add("split", plugin.CategoryCarver, "split", nil)
	h.add("panic", plugin.CategoryCarver, "panic", nil)
	h.add("grow", plugin.CategoryDecoder, "grow", nil)
	h.add("same", plugin.CategoryDecoder, "same", nil)
	h.add("failing", plugin.CategoryExtractor, "failing", nil)
	h.add("mem", plugin.CategoryConnector, "mem", nil)
	h.add("marker", plugin.CategoryDecorator, "marker", nil)
	h.add("file", plugin.CategoryReader, "file", nil)
	return h
}

func (h *harness) add(name string, category plugin.Category, module string, opts map[string]any) {
	h.t.Helper()
	require.NoError(h.t, h.reg.Register(&plugin.Descriptor{
		Name:     name,
		Category: category,
		Module:   module,
		Options:  opts,
	}))
}

func (h *harness) worker(name string, opts map[string]any) {
	h.add(name, plugin.CategoryWorker, "echo", opts)
}

func (h *harness) saved() int {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return len(h.store.saved)
}

func (h *harness) orchestrator(name string, opts ...Option) *Orchestrator {
	h.t.Helper()
	inst, err := h.mgr.Load(context.Background(), name, plugin.CategoryWorker)
	require.NoError(h.t, err)
	o, err := New(inst, opts...)
	require.NoError(h.t, err)
	h.t.Cleanup(o.Close)
	return o
}

func rootResults(t *testing.T, out *Output) []any {
	t.Helper()
	require.NotNil(t, out)
	require.NotEmpty(t, out.Envelopes)
	list, ok := out.Envelopes[0]["results"].([]any)
	require.True(t, ok)
	return list
}

func nested(t *testing.T, rec map[string]any) []map[string]any {
	t.Helper()
	list, ok := rec["results"].([]any)
	require.True(t, ok)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		out = append(out, item.(map[string]any))
	}
	return out
}
