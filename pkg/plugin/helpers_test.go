// Copyright 2025 Stoq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vulntor/stoq/pkg/payload"
)

// writeDescriptor creates <root>/<unit>/plugin.yaml with body.
func writeDescriptor(t *testing.T, root, unit, body string) string {
	t.Helper()
	dir := filepath.Join(root, unit)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "plugin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

type fakeSource struct{ activated, deactivated int }

func (f *fakeSource) Ingest(_ context.Context, emit func(payload.Ref) error) error {
	return emit(payload.Ref{Data: []byte("from source")})
}

func (f *fakeSource) Activate(context.Context, *Instance) error {
	f.activated++
	return nil
}

func (f *fakeSource) Deactivate() error {
	f.deactivated++
	return nil
}

type fakeReader struct{}

func (fakeReader) Read(context.Context, string) ([]byte, error) { return []byte("read"), nil }

type fakeWorkerOptions struct {
	Label string `option:"label" default:"none"`
}

type fakeWorker struct {
	opts fakeWorkerOptions
}

func (w *fakeWorker) Scan(context.Context, *payload.Payload) (map[string]any, error) {
	return map[string]any{"label": w.opts.Label}, nil
}

func (w *fakeWorker) OptionTarget() any { return &w.opts }

type fakeCarver struct{}

func (fakeCarver) Carve(context.Context, []byte) ([]payload.Extracted, error) { return nil, nil }

type fakeDecoder struct{}

func (fakeDecoder) Decode(context.Context, []byte) ([]payload.Extracted, error) { return nil, nil }

type fakeExtractor struct{}

func (fakeExtractor) Extract(context.Context, []byte) ([]payload.Extracted, error) { return nil, nil }

type fakeConnector struct{}

func (fakeConnector) Save(context.Context, map[string]any) (map[string]any, error) { return nil, nil }

type fakeDecorator struct{}

func (fakeDecorator) Decorate(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{"decorated": true}, nil
}

// testFactories registers one fake per category under the module "fake".
func testFactories() *Factories {
	f := NewFactories()
	f.Register(CategorySource, "fake", func() any { return &fakeSource{} })
	f.Register(CategoryReader, "fake", func() any { return fakeReader{} })
	f.Register(CategoryWorker, "fake", func() any { return &fakeWorker{} })
	f.Register(CategoryCarver, "fake", func() any { return fakeCarver{} })
	f.Register(CategoryDecoder, "fake", func() any { return fakeDecoder{} })
	f.Register(CategoryExtractor, "fake", func() any { return fakeExtractor{} })
	f.Register(CategoryConnector, "fake", func() any { return fakeConnector{} })
	f.Register(CategoryDecorator, "fake", func() any { return fakeDecorator{} })
	// Registered as a worker but lacks Scan.
	f.Register(CategoryWorker, "broken", func() any { return fakeReader{} })
	return f
}

// fullPluginDir writes one descriptor per category, each backed by "fake".
func fullPluginDir(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, c := range Categories {
		writeDescriptor(t, root, "example_"+string(c), "name: example_"+string(c)+"\ncategory: "+string(c)+"\nmodule: fake\n")
	}
	return root
}
