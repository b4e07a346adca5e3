package builtin

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulntor/stoq/pkg/plugin"
	"github.com/vulntor/stoq/pkg/worker"
)

func TestDescriptors_HaveFactories(t *testing.T) {
	descs, err := Descriptors()
	require.NoError(t, err)
	require.Len(t, descs, 17)

	factories := plugin.DefaultFactories()
	for _, d := range descs {
		_, ok := factories.Lookup(d.Category, d.ModuleName())
		assert.True(t, ok, "no factory for %s", d.Key())
		assert.Equal(t, "3.0.0", d.MinStoqVersion, d.Name)
	}
}

func gzipped(t *testing.T, name, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Name = name
	_, err := zw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newMimetypeWorker(t *testing.T) *worker.Orchestrator {
	t.Helper()
	opt, err := RegistryOption()
	require.NoError(t, err)
	reg := plugin.NewRegistry(opt, plugin.WithRegistryLogger(zerolog.Nop()))

	mgr := plugin.NewManager(reg,
		plugin.WithLogger(zerolog.Nop()),
		plugin.WithGlobalOptions(map[string]map[string]map[string]any{
			"worker": {"mimetype": {"extractors": "gzip", "decoders": "b64"}},
		}),
	)
	inst, err := mgr.Load(context.Background(), "mimetype", plugin.CategoryWorker)
	require.NoError(t, err)

	o, err := worker.New(inst)
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o
}

func TestBuiltin_ScanGzip(t *testing.T) {
	o := newMimetypeWorker(t)

	out, ok := o.Start(context.Background(), worker.Request{Payload: gzipped(t, "notes.txt", "hello stoq")})
	require.True(t, ok)
	require.Len(t, out.Roots, 1)

	root := out.Roots[0]
	assert.Equal(t, "application/gzip", root.Scan["mimetype"])
	require.Len(t, root.Results, 1)
	child := root.Results[0]
	assert.Equal(t, "notes.txt", child.Meta["filename"])
	assert.Equal(t, "text/plain; charset=utf-8", child.Scan["mimetype"])
	assert.Empty(t, root.Errors)
}

func TestBuiltin_ScanFromPath(t *testing.T) {
	o := newMimetypeWorker(t)

	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7\n"), 0o600))

	out, ok := o.Start(context.Background(), worker.Request{Path: path})
	require.True(t, ok)
	require.Len(t, out.Roots, 1)
	assert.Equal(t, "application/pdf", out.Roots[0].Scan["mimetype"])
	assert.Equal(t, "doc.pdf", out.Roots[0].Meta["filename"])
}
