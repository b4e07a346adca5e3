// Copyright 2025 Stoq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vulntor/stoq/pkg/version"
)

func newTestManager(t *testing.T, dirs []string, opts ...ManagerOption) *Manager {
	t.Helper()
	reg := NewRegistry(WithRegistryLogger(zerolog.Nop()))
	require.NoError(t, reg.Collect(dirs))
	opts = append([]ManagerOption{WithFactories(testFactories()), WithLogger(zerolog.Nop())}, opts...)
	return NewManager(reg, opts...)
}

func TestManager_LoadDeactivate_AllCategories(t *testing.T) {
	m := newTestManager(t, []string{fullPluginDir(t)})
	ctx := context.Background()

	for _, c := range Categories {
		t.Run(string(c), func(t *testing.T) {
			inst, err := m.Load(ctx, "example_"+string(c), c)
			require.NoError(t, err)
			require.True(t, inst.IsActivated())
			require.Equal(t, c, inst.Category())
			require.Equal(t, "example_"+string(c), inst.Name())
			require.False(t, inst.Incompatible())
			require.Equal(t, "white", inst.Common.MaxTLP)
			require.True(t, hasCapability(c, inst.Impl()))

			require.NoError(t, m.Deactivate(inst))
			require.False(t, inst.IsActivated())
			// idempotent
			require.NoError(t, inst.Deactivate())
			require.False(t, inst.IsActivated())
		})
	}
	require.Equal(t, 0, m.Live())
}

func TestManager_Load_Errors(t *testing.T) {
	root := fullPluginDir(t)
	writeDescriptor(t, root, "broken", "name: broken\ncategory: worker\n")
	writeDescriptor(t, root, "orphan", "name: orphan\ncategory: worker\nmodule: unregistered\n")
	m := newTestManager(t, []string{root})
	ctx := context.Background()

	_, err := m.Load(ctx, "example_worker", Category("scanner"))
	require.True(t, errors.Is(err, ErrInvalidCategory))

	_, err = m.Load(ctx, "missing", CategoryWorker)
	require.True(t, errors.Is(err, ErrPluginNotFound))

	_, err = m.Load(ctx, "broken", CategoryWorker)
	require.True(t, errors.Is(err, ErrConfig))
	require.True(t, errors.Is(err, ErrCapability))

	_, err = m.Load(ctx, "orphan", CategoryWorker)
	require.True(t, errors.Is(err, ErrConfig))
	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	require.Equal(t, "orphan", cerr.Name)
}

func TestManager_VersionGate(t *testing.T) {
	tests := []struct {
		name         string
		min, max     string
		incompatible bool
	}{
		{"no constraints", "", "", false},
		{"min satisfied", "3.0.0", "", false},
		{"min equal is ok", "3.1.0", "", false},
		{"min too high", "4.0.0", "", true},
		{"max exclusive", "", "3.1.0", true},
		{"max above", "", "3.2", false},
		{"window", "3.0", "4.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			body := "name: gated\ncategory: decoder\nmodule: fake\n"
			if tt.min != "" {
				body += "min_stoq_version: \"" + tt.min + "\"\n"
			}
			if tt.max != "" {
				body += "max_stoq_version: \"" + tt.max + "\"\n"
			}
			writeDescriptor(t, root, "gated", body)

			m := newTestManager(t, []string{root}, WithVersion(version.Static("3.1.0")))
			inst, err := m.Load(context.Background(), "gated", CategoryDecoder)
			require.NoError(t, err, "incompatible plugins still activate")
			require.True(t, inst.IsActivated())
			require.Equal(t, tt.incompatible, inst.Incompatible())
		})
	}
}

func TestCheckCompatibility(t *testing.T) {
	ok, err := CheckCompatibility(version.Static("3.0.0"), "3.0.1", "")
	require.False(t, ok)
	require.True(t, errors.Is(err, ErrIncompatibleVersion))

	ok, err = CheckCompatibility(version.Static("garbage"), "1.0.0", "")
	require.False(t, ok)
	require.Error(t, err)

	ok, err = CheckCompatibility(version.Static("garbage"), "", "")
	require.True(t, ok)
	require.NoError(t, err)
}

func TestManager_OptionInjection(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "w", `name: w
category: worker
module: fake
options:
  label: from-descriptor
  max_tlp: GREEN
  hashpayload: true
  unknown_key: 1
`)

	global := map[string]map[string]map[string]any{
		"worker": {
			"w": {"max_tlp": "RED", "hashpayload": nil, "label": "from-config"},
		},
	}
	m := newTestManager(t, []string{root}, WithGlobalOptions(global))

	inst, err := m.Load(context.Background(), "w", CategoryWorker)
	require.NoError(t, err)
	require.Equal(t, "red", inst.Common.MaxTLP)
	require.NotNil(t, inst.Worker)
	require.True(t, inst.Worker.HashPayload, "nil override keeps descriptor default")
	require.Equal(t, "from-config", inst.Impl().(*fakeWorker).opts.Label)
	require.Equal(t, 1, inst.Settings()["unknown_key"])
	require.NotNil(t, inst.Children())
	require.Same(t, inst, inst.Children().Owner())
}

func TestManager_WorkerOptionsResult(t *testing.T) {
	m := newTestManager(t, []string{fullPluginDir(t)})
	inst, err := m.Load(context.Background(), "example_worker", CategoryWorker)
	require.NoError(t, err)

	w, ok := inst.AsWorker()
	require.True(t, ok)
	out, err := w.Scan(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "none", out["label"], "struct default applies without options")
}

func TestManager_ActivatorAndTeardown(t *testing.T) {
	m := newTestManager(t, []string{fullPluginDir(t)})
	ctx := context.Background()

	src, err := m.Load(ctx, "example_source", CategorySource)
	require.NoError(t, err)
	_, err = m.Load(ctx, "example_reader", CategoryReader)
	require.NoError(t, err)
	require.Equal(t, 2, m.Live())

	fs := src.Impl().(*fakeSource)
	require.Equal(t, 1, fs.activated)

	m.Teardown()
	require.Equal(t, 0, m.Live())
	require.Equal(t, 1, fs.deactivated)
	require.False(t, src.IsActivated())

	// second teardown is a no-op
	m.Teardown()
	require.Equal(t, 1, fs.deactivated)
}

func TestManager_Rebuild(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "a", "name: a\ncategory: carver\nmodule: fake\n")
	m := newTestManager(t, []string{root})
	require.Equal(t, 1, m.Registry().Count())

	writeDescriptor(t, root, "b", "name: b\ncategory: carver\nmodule: fake\n")
	require.NoError(t, m.Rebuild())
	require.Equal(t, 2, m.Registry().Count())
}
