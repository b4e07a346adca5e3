// Copyright 2025 Stoq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vulntor/stoq/pkg/version"
)

// Manager activates plugins out of a Registry. It owns the factory table,
// the configuration overrides and the set of live instances.
type Manager struct {
	registry  *Registry
	factories *Factories
	global    map[string]map[string]map[string]any
	version   version.Provider
	logger    zerolog.Logger

	mu   sync.Mutex
	live map[*Instance]struct{}
}

// NewManager creates a manager over reg.
func NewManager(reg *Registry, opts ...ManagerOption) *Manager {
	if reg == nil {
		reg = NewRegistry()
	}
	m := &Manager{
		registry:  reg,
		factories: DefaultFactories(),
		version:   version.Current(),
		logger:    log.Logger,
		live:      make(map[*Instance]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the descriptor registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Factories returns the implementation factory table.
func (m *Manager) Factories() *Factories { return m.factories }

// Collect rebuilds the registry from dirs.
func (m *Manager) Collect(dirs []string) error {
	return m.registry.Collect(dirs)
}

// Rebuild re-collects the directories of the last successful Collect.
func (m *Manager) Rebuild() error {
	return m.registry.Collect(m.registry.Dirs())
}

// Load activates a new instance of the named plugin.
func (m *Manager) Load(ctx context.Context, name string, category Category) (*Instance, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	desc, ok := m.registry.Get(name, category)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrPluginNotFound, category, name)
	}

	factory, ok := m.factories.Lookup(category, desc.ModuleName())
	if !ok {
		return nil, &ConfigError{
			Category: category,
			Name:     name,
			Err:      fmt.Errorf("%w: no implementation for module %q", ErrPluginNotFound, desc.ModuleName()),
		}
	}
	impl := factory()
	if !hasCapability(category, impl) {
		return nil, &ConfigError{
			Category: category,
			Name:     name,
			Err:      fmt.Errorf("%w: %T is not a %s", ErrCapability, impl, category),
		}
	}

	inst := &Instance{
		desc:     desc,
		impl:     impl,
		category: category,
		name:     name,
		logger:   m.logger.With().Str("component", string(category)+"."+name).Logger(),
	}

	if ok, err := CheckCompatibility(m.version, desc.MinStoqVersion, desc.MaxStoqVersion); !ok {
		inst.incompatible = true
		inst.logger.Warn().
			Err(err).
			Str("min_stoq_version", desc.MinStoqVersion).
			Str("max_stoq_version", desc.MaxStoqVersion).
			Msg("Plugin is not compatible with the running stoq version, activating anyway")
	}

	if err := m.bind(inst); err != nil {
		return nil, err
	}

	if act, ok := impl.(Activator); ok {
		if err := act.Activate(ctx, inst); err != nil {
			return nil, &ConfigError{Category: category, Name: name, Err: err}
		}
	}

	if category == CategoryWorker {
		inst.children = newChildren(m, inst)
	}

	inst.mu.Lock()
	inst.activated = true
	inst.mu.Unlock()

	m.mu.Lock()
	m.live[inst] = struct{}{}
	m.mu.Unlock()

	inst.logger.Debug().Bool("incompatible", inst.incompatible).Msg("Activated")
	return inst, nil
}

// bind merges descriptor defaults with the configuration overrides and
// applies them onto the instance option structs.
func (m *Manager) bind(inst *Instance) error {
	var override map[string]any
	if byName, ok := m.global[string(inst.category)]; ok {
		override = byName[inst.name]
	}
	merged := MergeOptions(inst.desc.Options, override)

	targets := []any{&inst.Common}
	if inst.category == CategoryWorker {
		inst.Worker = &WorkerConfig{}
		targets = append(targets, inst.Worker)
	}
	if ot, ok := inst.impl.(OptionsTarget); ok {
		targets = append(targets, ot.OptionTarget())
	}

	unknown, err := BindOptions(merged, targets...)
	if err != nil {
		return &ConfigError{Category: inst.category, Name: inst.name, Err: err}
	}
	for _, key := range unknown {
		inst.logger.Warn().Str("option", key).Msg("Ignoring unrecognized option")
	}
	inst.settings = merged
	return nil
}

// forget drops a deactivated instance from the live set.
func (m *Manager) forget(inst *Instance) {
	m.mu.Lock()
	delete(m.live, inst)
	m.mu.Unlock()
}

// Deactivate deactivates inst and drops it from the live set.
func (m *Manager) Deactivate(inst *Instance) error {
	if inst == nil {
		return nil
	}
	defer m.forget(inst)
	return inst.Deactivate()
}

// Live returns the number of activated instances.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Teardown deactivates every instance the manager activated.
func (m *Manager) Teardown() {
	m.mu.Lock()
	live := make([]*Instance, 0, len(m.live))
	for inst := range m.live {
		live = append(live, inst)
	}
	m.live = make(map[*Instance]struct{})
	m.mu.Unlock()

	for _, inst := range live {
		_ = inst.Deactivate()
	}
}

// NewChildren creates owner-less child caches, used for forked passes.
func (m *Manager) NewChildren() *Children {
	return newChildren(m, nil)
}

// CheckCompatibility evaluates the version gate:
// min_ok = min == "" || running >= min, max_ok = max == "" || running < max.
// The returned error explains a failed gate.
func CheckCompatibility(running version.Provider, minVersion, maxVersion string) (bool, error) {
	if minVersion == "" && maxVersion == "" {
		return true, nil
	}
	current, err := running.Semver()
	if err != nil {
		return false, fmt.Errorf("%w: running version: %w", ErrIncompatibleVersion, err)
	}

	if minVersion != "" {
		lower, err := semver.NewVersion(minVersion)
		if err != nil {
			return false, fmt.Errorf("%w: min_stoq_version %q: %w", ErrIncompatibleVersion, minVersion, err)
		}
		if current.LessThan(lower) {
			return false, fmt.Errorf("%w: %s < %s", ErrIncompatibleVersion, current, lower)
		}
	}
	if maxVersion != "" {
		upper, err := semver.NewVersion(maxVersion)
		if err != nil {
			return false, fmt.Errorf("%w: max_stoq_version %q: %w", ErrIncompatibleVersion, maxVersion, err)
		}
		if !current.LessThan(upper) {
			return false, fmt.Errorf("%w: %s >= %s", ErrIncompatibleVersion, current, upper)
		}
	}
	return true, nil
}
