// Copyright 2025 Stoq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package plugin

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Factory creates a fresh, unconfigured plugin implementation.
type Factory func() any

// Factories maps (category, module) to implementation factories.
type Factories struct {
	mu sync.RWMutex
	m  map[Key]Factory
}

// NewFactories creates an empty factory table.
func NewFactories() *Factories {
	return &Factories{m: make(map[Key]Factory)}
}

// Register adds or replaces the factory for (category, module).
func (f *Factories) Register(category Category, module string, factory Factory) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := Key{Category: category, Name: module}
	if _, exists := f.m[key]; exists {
		log.Warn().Str("category", string(category)).Str("module", module).Msg("Plugin factory is being overwritten")
	}
	f.m[key] = factory
}

// Lookup returns the factory for (category, module).
func (f *Factories) Lookup(category Category, module string) (Factory, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	factory, ok := f.m[Key{Category: category, Name: module}]
	return factory, ok
}

// Modules returns the registered keys, sorted.
func (f *Factories) Modules() []Key {
	f.mu.RLock()
	defer f.mu.RUnlock()

	keys := make([]Key, 0, len(f.m))
	for k := range f.m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

var defaultFactories = NewFactories()

// RegisterFactory registers a factory in the process-wide table. Built-in
// plugins call it from init.
func RegisterFactory(category Category, module string, factory Factory) {
	defaultFactories.Register(category, module, factory)
}

// DefaultFactories returns the process-wide factory table.
func DefaultFactories() *Factories {
	return defaultFactories
}
