// Copyright 2025 Stoq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package plugin

import (
	"context"
	"sync"
)

// Children holds the activated plugins a worker uses, one cache per
// category. Instances are activated on first use and reused afterwards.
type Children struct {
	mgr   *Manager
	owner *Instance

	mu    sync.Mutex
	cache map[Category]map[string]*Instance
}

func newChildren(m *Manager, owner *Instance) *Children {
	return &Children{
		mgr:   m,
		owner: owner,
		cache: make(map[Category]map[string]*Instance, len(Categories)),
	}
}

// Owner returns the worker owning the caches, nil for forked caches.
func (c *Children) Owner() *Instance { return c.owner }

// Manager returns the manager used to activate children.
func (c *Children) Manager() *Manager { return c.mgr }

// Load returns the cached active instance or activates and caches a new one.
func (c *Children) Load(ctx context.Context, name string, category Category) (*Instance, error) {
	if inst, ok := c.Get(name, category); ok {
		return inst, nil
	}

	inst, err := c.mgr.Load(ctx, name, category)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	byName, ok := c.cache[category]
	if !ok {
		byName = make(map[string]*Instance)
		c.cache[category] = byName
	}
	// Another goroutine may have won the race; keep the first.
	if existing, ok := byName[name]; ok && existing.IsActivated() {
		_ = c.mgr.Deactivate(inst)
		return existing, nil
	}
	byName[name] = inst
	return inst, nil
}

// Get returns a cached active instance.
func (c *Children) Get(name string, category Category) (*Instance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.cache[category][name]
	if !ok || !inst.IsActivated() {
		return nil, false
	}
	return inst, true
}

// Len returns the number of cached instances of a category.
func (c *Children) Len(category Category) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache[category])
}

// Fork returns empty, owner-less caches backed by the same manager.
func (c *Children) Fork() *Children {
	return newChildren(c.mgr, nil)
}

// DeactivateEverything deactivates every cached child, category by
// category, and then the owner.
func (c *Children) DeactivateEverything() {
	c.mu.Lock()
	cache := c.cache
	c.cache = make(map[Category]map[string]*Instance, len(Categories))
	c.mu.Unlock()

	for _, category := range Categories {
		for _, inst := range cache[category] {
			if nested := inst.Children(); nested != nil && nested != c {
				nested.DeactivateEverything()
				continue
			}
			_ = c.mgr.Deactivate(inst)
		}
	}

	if c.owner != nil {
		_ = c.mgr.Deactivate(c.owner)
	}
}
