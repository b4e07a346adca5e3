// Copyright 2025 Stoq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package plugin

import (
	"context"

	"github.com/vulntor/stoq/pkg/payload"
)

// Source discovers payloads and hands each one to emit. Ingest returns when
// the source is exhausted, emit fails, or ctx is canceled.
type Source interface {
	Ingest(ctx context.Context, emit func(payload.Ref) error) error
}

// Reader turns a path into payload bytes.
type Reader interface {
	Read(ctx context.Context, path string) ([]byte, error)
}

// Worker scans a payload and returns its own result contribution.
type Worker interface {
	Scan(ctx context.Context, p *payload.Payload) (map[string]any, error)
}

// Carver extracts sub-regions of a payload by delimiter or signature.
type Carver interface {
	Carve(ctx context.Context, data []byte) ([]payload.Extracted, error)
}

// Decoder normalizes a payload by a byte transform.
type Decoder interface {
	Decode(ctx context.Context, data []byte) ([]payload.Extracted, error)
}

// Extractor pulls embedded content (archive members) out of a payload.
type Extractor interface {
	Extract(ctx context.Context, data []byte) ([]payload.Extracted, error)
}

// Connector persists a results envelope and returns an acknowledgement.
type Connector interface {
	Save(ctx context.Context, envelope map[string]any) (map[string]any, error)
}

// Archiver is implemented by connectors that can store raw payloads.
type Archiver interface {
	Archive(ctx context.Context, p *payload.Payload) (map[string]any, error)
}

// Decorator post-processes a complete results envelope.
type Decorator interface {
	Decorate(ctx context.Context, envelope map[string]any) (map[string]any, error)
}

// Activator is implemented by plugins that need setup once their options
// are bound (opening connections, compiling patterns).
type Activator interface {
	Activate(ctx context.Context, inst *Instance) error
}

// Deactivator releases resources acquired in Activate.
type Deactivator interface {
	Deactivate() error
}

// Heartbeater is implemented by long-running plugins that report liveness
// while a worker runs in source mode.
type Heartbeater interface {
	Heartbeat(ctx context.Context) error
}

// OptionsTarget is implemented by plugins accepting their own options. The
// returned pointer to a struct is bound with `option` tags.
type OptionsTarget interface {
	OptionTarget() any
}

// hasCapability reports whether impl implements the interface its category
// requires.
func hasCapability(category Category, impl any) bool {
	switch category {
	case CategorySource:
		_, ok := impl.(Source)
		return ok
	case CategoryReader:
		_, ok := impl.(Reader)
		return ok
	case CategoryWorker:
		_, ok := impl.(Worker)
		return ok
	case CategoryCarver:
		_, ok := impl.(Carver)
		return ok
	case CategoryDecoder:
		_, ok := impl.(Decoder)
		return ok
	case CategoryExtractor:
		_, ok := impl.(Extractor)
		return ok
	case CategoryConnector:
		_, ok := impl.(Connector)
		if !ok {
			_, ok = impl.(Archiver)
		}
		return ok
	case CategoryDecorator:
		_, ok := impl.(Decorator)
		return ok
	default:
		return false
	}
}
