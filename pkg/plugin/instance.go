// Copyright 2025 Stoq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package plugin

import (
	"context"
	"maps"
	"sync"

	"github.com/rs/zerolog"
)

// Instance is one activated plugin. Category and name never change after
// construction.
type Instance struct {
	desc     *Descriptor
	impl     any
	category Category
	name     string

	// Common holds options shared by every category.
	Common Common
	// Worker is set for worker plugins only.
	Worker *WorkerConfig

	settings     map[string]any
	logger       zerolog.Logger
	incompatible bool
	children     *Children

	mu        sync.Mutex
	activated bool
}

// Name returns the plugin name.
func (i *Instance) Name() string { return i.name }

// Category returns the plugin category.
func (i *Instance) Category() Category { return i.category }

// Descriptor returns the descriptor the instance was built from.
func (i *Instance) Descriptor() *Descriptor { return i.desc }

// Impl returns the underlying implementation.
func (i *Instance) Impl() any { return i.impl }

// Logger returns the instance logger, scoped "<category>.<name>".
func (i *Instance) Logger() zerolog.Logger { return i.logger }

// Incompatible reports whether the version gate failed at activation.
func (i *Instance) Incompatible() bool { return i.incompatible }

// Children returns the child caches of a worker, nil for other categories.
func (i *Instance) Children() *Children { return i.children }

// Settings returns a copy of the merged option map.
func (i *Instance) Settings() map[string]any {
	return maps.Clone(i.settings)
}

// IsActivated reports whether the instance is active.
func (i *Instance) IsActivated() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.activated
}

// Deactivate releases the implementation. It is idempotent.
func (i *Instance) Deactivate() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.activated {
		return nil
	}
	i.activated = false
	if d, ok := i.impl.(Deactivator); ok {
		if err := d.Deactivate(); err != nil {
			i.logger.Warn().Err(err).Msg("Deactivate failed")
			return err
		}
	}
	i.logger.Debug().Msg("Deactivated")
	return nil
}

// Heartbeat forwards to the implementation when it supports liveness
// reporting.
func (i *Instance) Heartbeat(ctx context.Context) error {
	if hb, ok := i.impl.(Heartbeater); ok {
		return hb.Heartbeat(ctx)
	}
	return nil
}

// Source returns the source capability.
func (i *Instance) Source() (Source, bool) {
	s, ok := i.impl.(Source)
	return s, ok
}

// Reader returns the reader capability.
func (i *Instance) Reader() (Reader, bool) {
	r, ok := i.impl.(Reader)
	return r, ok
}

// AsWorker returns the worker capability.
func (i *Instance) AsWorker() (Worker, bool) {
	w, ok := i.impl.(Worker)
	return w, ok
}

// Carver returns the carver capability.
func (i *Instance) Carver() (Carver, bool) {
	c, ok := i.impl.(Carver)
	return c, ok
}

// Decoder returns the decoder capability.
func (i *Instance) Decoder() (Decoder, bool) {
	d, ok := i.impl.(Decoder)
	return d, ok
}

// Extractor returns the extractor capability.
func (i *Instance) Extractor() (Extractor, bool) {
	e, ok := i.impl.(Extractor)
	return e, ok
}

// Connector returns the connector capability.
func (i *Instance) Connector() (Connector, bool) {
	c, ok := i.impl.(Connector)
	return c, ok
}

// Archiver returns the archive capability of a connector.
func (i *Instance) Archiver() (Archiver, bool) {
	a, ok := i.impl.(Archiver)
	return a, ok
}

// Decorator returns the decorator capability.
func (i *Instance) Decorator() (Decorator, bool) {
	d, ok := i.impl.(Decorator)
	return d, ok
}
