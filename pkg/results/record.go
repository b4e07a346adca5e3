// Package results builds the result tree of a scan and shapes it into the
// envelopes handed to decorators, connectors and callers.
package results

import (
	"maps"
	"sync"
)

// Record is the result of one payload processed by one worker: the
// payload metadata, the worker's own contribution and the nested records of
// dispatched workers and extracted sub-payloads.
type Record struct {
	Plugin  string
	Meta    map[string]any
	Scan    map[string]any
	Errors  []string
	Results []*Record

	mu sync.Mutex
}

// NewRecord creates a record for plugin with a snapshot of meta.
func NewRecord(plugin string, meta map[string]any) *Record {
	return &Record{
		Plugin: plugin,
		Meta:   maps.Clone(meta),
	}
}

// Add appends a nested record.
func (r *Record) Add(child *Record) {
	if child == nil {
		return
	}
	r.mu.Lock()
	r.Results = append(r.Results, child)
	r.mu.Unlock()
}

// AddError records a stage failure against this record.
func (r *Record) AddError(msg string) {
	r.mu.Lock()
	r.Errors = append(r.Errors, msg)
	r.mu.Unlock()
}

// SetMeta sets one metadata key.
func (r *Record) SetMeta(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Meta == nil {
		r.Meta = make(map[string]any)
	}
	r.Meta[key] = value
}

// Count returns the number of records in the tree rooted at r.
func (r *Record) Count() int {
	n := 1
	for _, c := range r.Results {
		n += c.Count()
	}
	return n
}

// Shallow returns a copy of r without nested records.
func (r *Record) Shallow() *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Record{
		Plugin: r.Plugin,
		Meta:   r.Meta,
		Scan:   r.Scan,
		Errors: r.Errors,
	}
}

// PostOrder visits the descendants of r before r itself, which is the
// order in which a scan completes them.
func (r *Record) PostOrder(fn func(*Record)) {
	for _, c := range r.Results {
		c.PostOrder(fn)
	}
	fn(r)
}

// Walk visits r and its descendants depth first.
func (r *Record) Walk(fn func(*Record)) {
	fn(r)
	for _, c := range r.Results {
		c.Walk(fn)
	}
}

// Map renders the record tree as plain maps. Metadata keys sit at the top
// level next to plugin, scan and results; record fields win on conflicts.
func (r *Record) Map() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]any, len(r.Meta)+4)
	for k, v := range r.Meta {
		out[k] = v
	}
	out["plugin"] = r.Plugin
	scan := r.Scan
	if scan == nil {
		scan = map[string]any{}
	}
	out["scan"] = scan
	nested := make([]any, 0, len(r.Results))
	for _, c := range r.Results {
		nested = append(nested, c.Map())
	}
	out["results"] = nested
	if len(r.Errors) > 0 {
		out["errors"] = append([]string(nil), r.Errors...)
	}
	return out
}
