package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulntor/stoq/pkg/plugin"
)

func TestNew_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := New(nil)
	require.True(t, errors.Is(err, plugin.ErrConfig))

	carver, err := h.mgr.Load(ctx, "split", plugin.CategoryCarver)
	require.NoError(t, err)
	_, err = New(carver)
	require.True(t, errors.Is(err, plugin.ErrCapability))

	h.worker("alpha", nil)
	w, err := h.mgr.Load(ctx, "alpha", plugin.CategoryWorker)
	require.NoError(t, err)
	require.NoError(t, w.Deactivate())
	_, err = New(w)
	require.True(t, errors.Is(err, plugin.ErrConfig))
}

func TestStart_NothingResolvable(t *testing.T) {
	h := newHarness(t)
	h.worker("alpha", nil)
	o := h.orchestrator("alpha")
	ctx := context.Background()

	out, ok := o.Start(ctx, Request{})
	assert.False(t, ok)
	assert.Nil(t, out)

	out, ok = o.Start(ctx, Request{Path: filepath.Join(t.TempDir(), "missing.bin")})
	assert.False(t, ok)
	assert.Nil(t, out)

	h.worker("beta", map[string]any{"reader": "nosuchreader"})
	out, ok = h.orchestrator("beta").Start(ctx, Request{Path: "/etc/hostname"})
	assert.False(t, ok)
	assert.Nil(t, out)
}

func TestStart_WorkerOptionsResult(t *testing.T) {
	h := newHarness(t)
	h.worker("simple_worker", map[string]any{"label": "configured", "max_tlp": "WHITE"})
	o := h.orchestrator("simple_worker")

	out, ok := o.Start(context.Background(), Request{
		Payload: []byte("hello"),
		Meta:    map[string]any{"test_key": "test value"},
	})
	require.True(t, ok)
	require.Len(t, out.Envelopes, 1)

	env := out.Envelopes[0]
	assert.Equal(t, "simple_worker", env["plugin"])
	assert.Equal(t, "white", env["tlp"])
	assert.Equal(t, 1, env["payloads"])
	assert.NotEmpty(t, env["uuid"])
	assert.NotEmpty(t, env["date"])

	rec := rootResults(t, out)[0].(map[string]any)
	assert.Equal(t, "simple_worker", rec["plugin"])
	assert.Equal(t, map[string]any{"test_key": "test value"}, rec["source_meta"])
	assert.Equal(t, 0, rec["payload_id"])
	assert.Equal(t, 5, rec["size"])
	scan := rec["scan"].(map[string]any)
	assert.Equal(t, "configured", scan["label"])
	assert.NotContains(t, rec, "hashes")
}

func TestStart_HashPayload(t *testing.T) {
	h := newHarness(t)
	h.worker("alpha", map[string]any{"hashpayload": true})
	out, ok := h.orchestrator("alpha").Start(context.Background(), Request{Payload: []byte("abc")})
	require.True(t, ok)

	rec := rootResults(t, out)[0].(map[string]any)
	hashes := rec["hashes"].(map[string]string)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hashes["sha256"])
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", hashes["md5"])
	for _, alg := range []string{"sha1", "sha512", "blake3"} {
		assert.NotEmpty(t, hashes[alg], alg)
	}
}

func TestStart_FromPath(t *testing.T) {
	h := newHarness(t)
	h.worker("alpha", nil)
	path := filepath.Join(t.TempDir(), "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte("from disk"), 0o644))

	out, ok := h.orchestrator("alpha").Start(context.Background(), Request{Path: path})
	require.True(t, ok)

	rec := rootResults(t, out)[0].(map[string]any)
	assert.Equal(t, "sample.txt", rec["filename"])
	assert.Equal(t, path, rec["path"])
	assert.Equal(t, len("from disk"), rec["size"])
}

func TestStart_SelfDispatchGuard(t *testing.T) {
	var logs bytes.Buffer
	h := newHarnessWithLogger(t, zerolog.New(&logs))
	h.worker("alpha", map[string]any{"workers": []any{"alpha", "beta"}})
	h.worker("beta", map[string]any{"workers": "alpha"})
	o := h.orchestrator("alpha")

	out, ok := o.Start(context.Background(), Request{Payload: []byte("loop")})
	require.True(t, ok)

	assert.Equal(t, 1, h.scans.get("alpha"))
	assert.Equal(t, 1, h.scans.get("beta"))

	root := rootResults(t, out)[0].(map[string]any)
	children := nested(t, root)
	require.Len(t, children, 1)
	assert.Equal(t, "beta", children[0]["plugin"])
	assert.Equal(t, root["uuid"], children[0]["uuid"], "dispatch keeps the payload")
	assert.Empty(t, nested(t, children[0]))
	assert.Equal(t, 2, out.Envelopes[0]["payloads"])

	var line string
	for _, l := range strings.Split(logs.String(), "\n") {
		if strings.Contains(l, "Skipping dispatch to self") {
			line = l
		}
	}
	require.NotEmpty(t, line)
	assert.Contains(t, line, `"level":"warn"`)
	assert.Contains(t, line, `"target":"alpha"`)
}

func TestStart_DispatchedMetadataIsolated(t *testing.T) {
	h := newHarness(t)
	h.worker("alpha", map[string]any{"workers": "beta"})
	h.worker("beta", map[string]any{"hashpayload": true, "archive_connector": "mem"})

	out, ok := h.orchestrator("alpha").Start(context.Background(), Request{Payload: []byte("shared")})
	require.True(t, ok)

	root := rootResults(t, out)[0].(map[string]any)
	assert.NotContains(t, root, "hashes")
	assert.NotContains(t, root, "archive")

	child := nested(t, root)[0]
	assert.Equal(t, root["uuid"], child["uuid"])
	assert.Contains(t, child, "hashes")
	assert.Contains(t, child, "archive")
}

func TestStart_DispatchRules(t *testing.T) {
	rules := "rules:\n  - name: pe\n    pattern: MZ\n    offset: 0\n    workers: [pe]\n  - name: text\n    pattern: this program\n    nocase: true\n    workers: [pe, strings]\n"

	tests := []struct {
		name    string
		payload string
		want    []string
	}{
		{name: "no match", payload: "plain text", want: []string{}},
		{name: "magic at offset", payload: "MZ\x90\x00", want: []string{"pe"}},
		{name: "magic elsewhere", payload: "xxMZ", want: []string{}},
		{name: "union de-duplicated", payload: "MZ This Program cannot", want: []string{"pe", "strings"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.worker("alpha", map[string]any{"dispatch_rules": rules})
			h.worker("pe", nil)
			h.worker("strings", nil)

			out, ok := h.orchestrator("alpha").Start(context.Background(), Request{Payload: []byte(tt.payload)})
			require.True(t, ok)

			got := []string{}
			for _, child := range nested(t, rootResults(t, out)[0].(map[string]any)) {
				got = append(got, child["plugin"].(string))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStart_DispatchRulesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nocase: true\nrules:\n  - pattern: pdf\n    workers: [beta]\n"), 0o644))

	h := newHarness(t)
	h.worker("alpha", map[string]any{"dispatch": path})
	h.worker("beta", nil)

	out, ok := h.orchestrator("alpha").Start(context.Background(), Request{Payload: []byte("%PDF-1.7")})
	require.True(t, ok)
	children := nested(t, rootResults(t, out)[0].(map[string]any))
	require.Len(t, children, 1)
	assert.Equal(t, "beta", children[0]["plugin"])
}

func TestStart_CarvedSubPayloads(t *testing.T) {
	h := newHarness(t)
	h.worker("alpha", map[string]any{"carvers": "split"})

	out, ok := h.orchestrator("alpha").Start(context.Background(), Request{Payload: []byte("a|bb|ccc")})
	require.True(t, ok)
	assert.Equal(t, 4, out.Envelopes[0]["payloads"])

	root := rootResults(t, out)[0].(map[string]any)
	children := nested(t, root)
	require.Len(t, children, 3)
	for i, child := range children {
		assert.Equal(t, "alpha", child["plugin"])
		assert.Equal(t, root["uuid"], child["puuid"])
		assert.Equal(t, i+1, child["payload_id"])
		assert.Equal(t, i, child["index"])
		assert.Equal(t, "split", child["extracted_by"])
		assert.Equal(t, i+1, child["size"])
	}
}

func TestStart_RecursionBounds(t *testing.T) {
	t.Run("max depth", func(t *testing.T) {
		h := newHarness(t)
		h.worker("alpha", map[string]any{"decoders": "grow", "max_depth": 3})
		out, ok := h.orchestrator("alpha").Start(context.Background(), Request{Payload: []byte("x")})
		require.True(t, ok)
		assert.Equal(t, 4, out.Roots[0].Count())
		assert.Equal(t, 4, h.scans.get("alpha"))
	})

	t.Run("repeated content", func(t *testing.T) {
		h := newHarness(t)
		h.worker("alpha", map[string]any{"decoders": "same"})
		out, ok := h.orchestrator("alpha").Start(context.Background(), Request{Payload: []byte("x")})
		require.True(t, ok)
		assert.Equal(t, 1, out.Roots[0].Count())
	})
}

func TestStart_StageFailuresAbsorbed(t *testing.T) {
	h := newHarness(t)
	h.add("bomb", plugin.CategoryWorker, "boom", nil)
	h.worker("alpha", map[string]any{
		"workers":    "bomb,ghost",
		"extractors": "failing",
	})

	out, ok := h.orchestrator("alpha").Start(context.Background(), Request{Payload: []byte("data")})
	require.True(t, ok)

	root := rootResults(t, out)[0].(map[string]any)
	errs := root["errors"].([]string)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "dispatch ghost")
	assert.Contains(t, errs[1], "extract failing")

	children := nested(t, root)
	require.Len(t, children, 1)
	assert.Equal(t, "bomb", children[0]["plugin"])
	assert.Equal(t, map[string]any{}, children[0]["scan"])
	assert.Equal(t, []string{"scan bomb: boom"}, children[0]["errors"])
}

func TestStart_PanickingPluginAbsorbed(t *testing.T) {
	h := newHarness(t)
	h.worker("alpha", map[string]any{"carvers": "panic,split"})

	out, ok := h.orchestrator("alpha").Start(context.Background(), Request{Payload: []byte("a|b")})
	require.True(t, ok)

	root := rootResults(t, out)[0].(map[string]any)
	errs := root["errors"].([]string)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "carve panic: plugin panicked: index out of range")
	assert.Len(t, nested(t, root), 2, "later carvers still run")
}

func TestStart_CombinedVersusList(t *testing.T) {
	h := newHarness(t)
	h.worker("combined", map[string]any{"carvers": "split"})
	h.worker("listed", map[string]any{"carvers": "split", "combined_results": false})
	ctx := context.Background()

	out, ok := h.orchestrator("combined").Start(ctx, Request{Payload: []byte("a|b")})
	require.True(t, ok)
	require.Len(t, out.Envelopes, 1)
	assert.Equal(t, 3, out.Envelopes[0]["payloads"])

	out, ok = h.orchestrator("listed").Start(ctx, Request{Payload: []byte("a|b")})
	require.True(t, ok)
	require.Len(t, out.Envelopes, 3)
	root := out.Roots[0].Map()
	for i, env := range out.Envelopes {
		assert.Equal(t, 1, env["payloads"])
		rec := env["results"].([]any)[0].(map[string]any)
		assert.Empty(t, rec["results"])
		if i < 2 {
			assert.Equal(t, root["uuid"], rec["puuid"])
		} else {
			assert.Equal(t, root["uuid"], rec["uuid"], "root completes last")
		}
	}
}

func TestStart_Flatten(t *testing.T) {
	tests := []struct {
		name  string
		opts  map[string]any
		delim string
	}{
		{name: "default delimiter", opts: map[string]any{"flatten_results": true}, delim: ":"},
		{name: "underscore", opts: map[string]any{"flatten_results": true, "flatten_delimiter": "_"}, delim: "_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.worker("alpha", tt.opts)
			out, ok := h.orchestrator("alpha").Start(context.Background(), Request{
				Payload: []byte("hi"),
				Meta:    map[string]any{"k": "v"},
			})
			require.True(t, ok)

			env := out.Envelopes[0]
			d := tt.delim
			assert.Equal(t, "alpha", env["results"+d+"0"+d+"plugin"])
			assert.Equal(t, "v", env["results"+d+"0"+d+"source_meta"+d+"k"])
			assert.Equal(t, "none", env["results"+d+"0"+d+"scan"+d+"label"])
			assert.NotContains(t, env, "results")
			assert.Equal(t, "alpha", env["plugin"])
		})
	}
}

func TestStart_DecorateSaveArchive(t *testing.T) {
	h := newHarness(t)
	h.worker("alpha", map[string]any{
		"decorator":         "marker",
		"saveresults":       true,
		"output_connectors": []string{"mem"},
		"archive_connector": "mem",
	})

	out, ok := h.orchestrator("alpha").Start(context.Background(), Request{Payload: []byte("keep me")})
	require.True(t, ok)

	env := out.Envelopes[0]
	assert.Equal(t, true, env["decorated"])

	require.Len(t, h.store.saved, 1)
	assert.Equal(t, true, h.store.saved[0]["decorated"], "decorated before persisting")

	rec := rootResults(t, out)[0].(map[string]any)
	require.Len(t, h.store.archived, 1)
	assert.Equal(t, map[string]any{"key": rec["uuid"]}, rec["archive"])
}

func TestStart_SaveResultsDisabled(t *testing.T) {
	h := newHarness(t)
	h.worker("alpha", map[string]any{"output_connectors": "mem"})
	_, ok := h.orchestrator("alpha").Start(context.Background(), Request{Payload: []byte("x")})
	require.True(t, ok)
	assert.Empty(t, h.store.saved)
}

func TestStart_RequestOverrides(t *testing.T) {
	h := newHarness(t)
	h.worker("alpha", nil)
	o := h.orchestrator("alpha")
	ctx := context.Background()

	out, ok := o.Start(ctx, Request{Payload: []byte("x"), ArchiveConnector: "mem", RateLimit: "1/3"})
	require.True(t, ok)
	rec := rootResults(t, out)[0].(map[string]any)
	assert.Contains(t, rec, "archive")

	_, ok = o.Start(ctx, Request{Payload: []byte("x"), RateLimit: "1/3"})
	assert.False(t, ok, "second call within the period is rate limited")
}

func TestStart_RateLimit(t *testing.T) {
	h := newHarness(t)
	h.worker("alpha", map[string]any{"ratelimit": "1/3"})
	h.worker("open", map[string]any{"ratelimit": "garbage"})
	ctx := context.Background()

	o := h.orchestrator("alpha")
	_, ok := o.Start(ctx, Request{Payload: []byte("one")})
	assert.True(t, ok)
	_, ok = o.Start(ctx, Request{Payload: []byte("two")})
	assert.False(t, ok)

	open := h.orchestrator("open")
	for range 3 {
		_, ok = open.Start(ctx, Request{Payload: []byte("x")})
		assert.True(t, ok, "an invalid rate spec does not gate")
	}
}

func TestStart_Template(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.tmpl")
	bad := filepath.Join(dir, "bad.tmpl")
	require.NoError(t, os.WriteFile(good, []byte("{{ .plugin }}|{{ .tlp }}|{{ .payloads }}"), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("{{ .plugin.nope }}"), 0o644))

	h := newHarness(t)
	h.worker("good", map[string]any{"template": good})
	h.worker("bad", map[string]any{"template": bad})
	h.worker("missing", map[string]any{"template": filepath.Join(dir, "missing.tmpl")})
	ctx := context.Background()

	out, ok := h.orchestrator("good").Start(ctx, Request{Payload: []byte("x")})
	require.True(t, ok)
	assert.Equal(t, []string{"good|white|1"}, out.Rendered)

	for _, name := range []string{"bad", "missing"} {
		o := h.orchestrator(name)
		out, ok = o.Start(ctx, Request{Payload: []byte("x")})
		require.True(t, ok, name)
		assert.Nil(t, out.Rendered, name)
		assert.Len(t, out.Envelopes, 1, name)
		assert.Empty(t, o.currentTemplate(), "template reference cleared")
	}
}

func TestStart_SourceMode(t *testing.T) {
	h := newHarness(t)
	h.add("items", plugin.CategorySource, "list", map[string]any{
		"items": []any{"one", "two", "three", "four", "five"},
	})
	h.worker("alpha", map[string]any{"source": "items", "concurrency": 2, "carvers": "split"})

	inst, err := h.mgr.Load(context.Background(), "alpha", plugin.CategoryWorker)
	require.NoError(t, err)
	o, err := New(inst)
	require.NoError(t, err)

	out, ok := o.Start(context.Background(), Request{})
	require.True(t, ok)
	require.Len(t, out.Roots, 5)
	require.Len(t, out.Envelopes, 5, "one envelope per payload pass")
	assert.Equal(t, 5, h.scans.get("alpha"))

	seen := map[any]bool{}
	for _, env := range out.Envelopes {
		assert.Equal(t, 1, env["payloads"])
		list := env["results"].([]any)
		require.Len(t, list, 1)
		meta := list[0].(map[string]any)["source_meta"].(map[string]any)
		seen[meta["index"]] = true
	}
	assert.Len(t, seen, 5)

	// Forks release their own children; Close releases the rest.
	o.Close()
	assert.Equal(t, 0, h.mgr.Live())
}

func TestStart_SourceModeSavesWhileRunning(t *testing.T) {
	h := newHarness(t)
	h.add("queue", plugin.CategorySource, "held", map[string]any{
		"items": []any{"one", "two", "three"},
	})
	h.worker("alpha", map[string]any{
		"source":            "queue",
		"concurrency":       2,
		"saveresults":       true,
		"output_connectors": "mem",
	})
	var (
		mu      sync.Mutex
		handled int
	)
	o := h.orchestrator("alpha", WithHandler(func(out *Output) {
		mu.Lock()
		defer mu.Unlock()
		handled += len(out.Envelopes)
	}))
	handledCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return handled
	}

	done := make(chan *Output, 1)
	go func() {
		out, ok := o.Start(context.Background(), Request{})
		assert.True(t, ok)
		done <- out
	}()

	require.Eventually(t, func() bool { return h.saved() == 3 && handledCount() == 3 }, 2*time.Second, 5*time.Millisecond,
		"results are saved while the source is still running")

	close(h.hold)
	select {
	case out := <-done:
		require.NotNil(t, out)
		assert.Empty(t, out.Envelopes, "handled outputs are not retained")
	case <-time.After(2 * time.Second):
		t.Fatal("source did not drain")
	}
	assert.Equal(t, 3, h.saved())
}

func TestStart_SourceModeCanceled(t *testing.T) {
	h := newHarness(t)
	h.add("queue", plugin.CategorySource, "held", map[string]any{"items": []any{"one"}})
	h.worker("alpha", map[string]any{
		"source":            "queue",
		"saveresults":       true,
		"output_connectors": "mem",
	})
	o := h.orchestrator("alpha")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		deadline := time.Now().Add(2 * time.Second)
		for h.saved() < 1 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
	}()

	out, ok := o.Start(ctx, Request{})
	require.True(t, ok)
	assert.Len(t, out.Envelopes, 1)
	assert.Equal(t, 1, h.saved())
}

func TestStart_SourceModeSharesDispatchEngines(t *testing.T) {
	items := make([]any, 50)
	for i := range items {
		items[i] = fmt.Sprintf("payload %d", i)
	}

	h := newHarness(t)
	h.add("items", plugin.CategorySource, "list", map[string]any{"items": items})
	h.worker("alpha", map[string]any{"source": "items", "concurrency": 4, "workers": "beta"})
	h.worker("beta", map[string]any{"dispatch_rules": "rules:\n  - pattern: payload\n    workers: [gamma]\n"})
	h.worker("gamma", nil)
	o := h.orchestrator("alpha")

	out, ok := o.Start(context.Background(), Request{})
	require.True(t, ok)
	require.Len(t, out.Envelopes, 50)
	assert.Equal(t, 50, h.scans.get("gamma"))

	o.shared.mu.Lock()
	defer o.shared.mu.Unlock()
	assert.Len(t, o.shared.engines, 1)
}

func TestFork_IsolatesChildren(t *testing.T) {
	h := newHarness(t)
	h.worker("alpha", map[string]any{"carvers": "split"})
	o := h.orchestrator("alpha")
	ctx := context.Background()

	fork := o.Fork()
	require.NotSame(t, o.children, fork.children)
	assert.Nil(t, fork.children.Owner())

	_, ok := fork.Start(ctx, Request{Payload: []byte("a|b")})
	require.True(t, ok)
	assert.Equal(t, 1, fork.children.Len(plugin.CategoryCarver))
	assert.Equal(t, 0, o.children.Len(plugin.CategoryCarver))

	fork.release()
	assert.True(t, o.Worker().IsActivated(), "releasing a fork keeps the worker")
}

func TestMetrics(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, m)
	m.scan("noop")
	m.failure(StageScan, "noop")

	reg := prometheus.NewRegistry()
	m, err = NewMetrics(reg)
	require.NoError(t, err)

	h := newHarness(t)
	h.worker("alpha", map[string]any{"carvers": "split", "extractors": "failing"})
	_, ok := h.orchestrator("alpha", WithMetrics(m)).Start(context.Background(), Request{Payload: []byte("a|b")})
	require.True(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.payloads.WithLabelValues("alpha")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.scans.WithLabelValues("alpha")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.extracted.WithLabelValues("carve", "split")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.stageFailures.WithLabelValues("extract", "failing")))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "duplicate registration")
}

func TestStageError(t *testing.T) {
	cause := errors.New("disk full")
	err := error(stageError(StageSave, "filedir", cause))

	assert.True(t, errors.Is(err, ErrStageFailure))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrRecursionGuard))
	assert.Equal(t, "save filedir: disk full", err.Error())

	var serr *StageError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, StageSave, serr.Stage)
}
