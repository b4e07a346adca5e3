// Copyright 2025 Stoq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package plugin

import (
	"github.com/rs/zerolog"

	"github.com/vulntor/stoq/pkg/version"
)

// ManagerOption is a functional option for configuring Manager.
//
// Example:
//
//	mgr := plugin.NewManager(reg,
//	    plugin.WithGlobalOptions(cfg.Plugins.Options),
//	    plugin.WithLogger(logger),
//	)
type ManagerOption func(*Manager)

// WithGlobalOptions sets the configuration overrides, keyed as
// category -> name -> option. Nil values never override descriptor defaults.
func WithGlobalOptions(global map[string]map[string]map[string]any) ManagerOption {
	return func(m *Manager) {
		if global != nil {
			m.global = global
		}
	}
}

// WithVersion sets the running framework version used by the compatibility
// gate.
//
// Default: version.Current()
func WithVersion(v version.Provider) ManagerOption {
	return func(m *Manager) {
		if v != nil {
			m.version = v
		}
	}
}

// WithLogger sets a custom logger for the manager and the instances it
// activates.
//
// Default: zerolog global logger
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithFactories sets the implementation factory table.
//
// Default: DefaultFactories()
func WithFactories(f *Factories) ManagerOption {
	return func(m *Manager) {
		if f != nil {
			m.factories = f
		}
	}
}
