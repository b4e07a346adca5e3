// Copyright 2025 Stoq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package plugin

import (
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DuplicatePolicy decides which descriptor wins when the same
// (category, name) appears more than once across directories.
type DuplicatePolicy string

const (
	// DuplicateFirst keeps the first descriptor in directory order.
	DuplicateFirst DuplicatePolicy = "first"
	// DuplicateLast lets later directories override earlier ones.
	DuplicateLast DuplicatePolicy = "last"
)

// Registry indexes plugin descriptors by (category, name). It is rebuilt
// wholesale by Collect and read concurrently afterwards.
type Registry struct {
	// Descriptor storage (category -> name -> descriptor)
	entries map[Category]map[string]*Descriptor

	// Insertion order per category, for deterministic iteration
	order map[Category][]string

	dirs     []string
	baseline []*Descriptor
	policy   DuplicatePolicy
	logger   zerolog.Logger

	// Thread-safe access
	mu sync.RWMutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDuplicatePolicy sets the duplicate resolution policy.
func WithDuplicatePolicy(p DuplicatePolicy) RegistryOption {
	return func(r *Registry) {
		if p == DuplicateFirst || p == DuplicateLast {
			r.policy = p
		}
	}
}

// WithRegistryLogger sets the logger used for collection warnings.
func WithRegistryLogger(l zerolog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l.With().Str("component", "plugin.registry").Logger()
	}
}

// WithBaseline adds descriptors that are present after every successful
// Collect unless a directory provides the same (category, name).
func WithBaseline(descs ...*Descriptor) RegistryOption {
	return func(r *Registry) {
		r.baseline = append(r.baseline, descs...)
	}
}

// NewRegistry creates a registry holding only the baseline descriptors.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		policy: DuplicateFirst,
		logger: log.With().Str("component", "plugin.registry").Logger(),
	}
	r.reset()
	for _, opt := range opts {
		opt(r)
	}
	r.fillBaseline(r.entries, r.order)
	return r
}

// fillBaseline adds the baseline descriptors missing from entries.
func (r *Registry) fillBaseline(entries map[Category]map[string]*Descriptor, order map[Category][]string) {
	for _, d := range r.baseline {
		if _, taken := entries[d.Category][d.Name]; taken {
			continue
		}
		r.insert(entries, order, d)
	}
}

// reset empties the index. Must be called with lock held.
func (r *Registry) reset() {
	r.entries = make(map[Category]map[string]*Descriptor, len(Categories))
	r.order = make(map[Category][]string, len(Categories))
	r.dirs = nil
}

// Collect replaces the registry contents with the descriptors found under
// dirs, walked in the given order. A missing or unreadable directory fails
// the whole call and leaves the registry empty. Malformed descriptors are
// skipped with a warning.
func (r *Registry) Collect(dirs []string) error {
	entries := make(map[Category]map[string]*Descriptor, len(Categories))
	order := make(map[Category][]string, len(Categories))

	for _, dir := range dirs {
		found, skipped, err := Discover(dir)
		if err != nil {
			r.mu.Lock()
			r.reset()
			// Keep the directories so a later Rebuild can retry.
			r.dirs = append([]string(nil), dirs...)
			r.mu.Unlock()
			r.logger.Error().Err(err).Str("dir", dir).Msg("Plugin directory unusable, registry cleared")
			return fmt.Errorf("%w: %s: %w", ErrRegistryUnusable, dir, err)
		}

		for _, serr := range skipped {
			r.logger.Warn().Err(serr).Str("dir", dir).Msg("Skipping malformed plugin descriptor")
		}

		for _, d := range found {
			r.insert(entries, order, d)
		}
	}
	r.fillBaseline(entries, order)

	r.mu.Lock()
	r.entries = entries
	r.order = order
	r.dirs = append([]string(nil), dirs...)
	r.mu.Unlock()

	r.logger.Debug().Strs("dirs", dirs).Int("count", r.Count()).Msg("Collected plugins")
	return nil
}

// insert applies the duplicate policy while adding d to the given index.
func (r *Registry) insert(entries map[Category]map[string]*Descriptor, order map[Category][]string, d *Descriptor) {
	byName, ok := entries[d.Category]
	if !ok {
		byName = make(map[string]*Descriptor)
		entries[d.Category] = byName
	}

	if existing, dup := byName[d.Name]; dup {
		kept, dropped := existing, d
		if r.policy == DuplicateLast {
			kept, dropped = d, existing
			byName[d.Name] = d
		}
		r.logger.Warn().
			Str("category", string(d.Category)).
			Str("plugin", d.Name).
			Str("kept", kept.Path).
			Str("skipped", dropped.Path).
			Msg("Duplicate plugin descriptor")
		return
	}

	byName[d.Name] = d
	order[d.Category] = append(order[d.Category], d.Name)
}

// Register adds a single descriptor, subject to the duplicate policy.
// Used for descriptors that are not backed by a directory.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("cannot register nil descriptor")
	}
	if err := d.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.insert(r.entries, r.order, d)
	return nil
}

// Get retrieves a descriptor. Empty or unknown inputs miss.
func (r *Registry) Get(name string, category Category) (*Descriptor, bool) {
	if name == "" || !category.Valid() {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.entries[category][name]
	return d, ok
}

// List lazily yields the descriptors of one category in collection order.
func (r *Registry) List(category Category) iter.Seq2[string, *Descriptor] {
	return func(yield func(string, *Descriptor) bool) {
		if !category.Valid() {
			return
		}
		r.mu.RLock()
		names := append([]string(nil), r.order[category]...)
		r.mu.RUnlock()

		for _, name := range names {
			d, ok := r.Get(name, category)
			if !ok {
				continue
			}
			if !yield(name, d) {
				return
			}
		}
	}
}

// ListAll lazily yields every descriptor, category by category.
func (r *Registry) ListAll() iter.Seq2[Key, *Descriptor] {
	return func(yield func(Key, *Descriptor) bool) {
		for _, category := range Categories {
			for name, d := range r.List(category) {
				if !yield(Key{Category: category, Name: name}, d) {
					return
				}
			}
		}
	}
}

// Names returns the sorted, de-duplicated names across all categories.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, byName := range r.entries {
		for name := range byName {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the total number of descriptors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, byName := range r.entries {
		n += len(byName)
	}
	return n
}

// Categories returns per-category descriptor counts.
func (r *Registry) Categories() map[Category]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[Category]int, len(r.entries))
	for category, byName := range r.entries {
		result[category] = len(byName)
	}
	return result
}

// Dirs returns the directories of the last Collect.
func (r *Registry) Dirs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.dirs...)
}
