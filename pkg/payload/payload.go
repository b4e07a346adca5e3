// Package payload holds the unit of analysis that flows through a worker
// pipeline together with its metadata.
package payload

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"maps"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// Ref is a payload reference handed over by a source plugin. Either Data or
// Path is set; a Path is resolved through a reader.
type Ref struct {
	Path string
	Data []byte
	Meta map[string]any
}

// Extracted is one (metadata, bytes) pair produced by a carver, decoder or
// extractor.
type Extracted struct {
	Meta map[string]any
	Data []byte
}

// Payload is an opaque byte sequence plus the metadata accumulated while it
// is processed.
type Payload struct {
	ID         int
	UUID       string
	ParentUUID string
	Data       []byte
	Filename   string
	Path       string
	Depth      int
	// ExtractedBy names the plugin that produced this payload, if any.
	ExtractedBy string
	SourceMeta  map[string]any
	Extra       map[string]any
	Hashes      map[string]string
	Archive     map[string]any
}

// Option configures a new Payload.
type Option func(*Payload)

// WithPath records the origin path and derives the filename from it.
func WithPath(path string) Option {
	return func(p *Payload) {
		p.Path = path
		if p.Filename == "" {
			p.Filename = baseName(path)
		}
	}
}

// WithFilename overrides the filename.
func WithFilename(name string) Option {
	return func(p *Payload) { p.Filename = name }
}

// WithSourceMeta attaches metadata supplied by the caller or a source.
func WithSourceMeta(meta map[string]any) Option {
	return func(p *Payload) {
		if meta != nil {
			p.SourceMeta = meta
		}
	}
}

// New creates a root payload.
func New(data []byte, opts ...Option) *Payload {
	p := &Payload{
		UUID:       uuid.NewString(),
		Data:       data,
		SourceMeta: map[string]any{},
		Extra:      map[string]any{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FromRef builds a root payload from a source reference with already
// resolved bytes.
func FromRef(ref Ref, data []byte) *Payload {
	return New(data, WithPath(ref.Path), WithSourceMeta(ref.Meta))
}

// Child derives a nested payload from an extracted region. Recognized meta
// keys ("filename") are lifted, the rest is kept as region metadata.
func (p *Payload) Child(e Extracted, id int, producer string) *Payload {
	c := &Payload{
		ID:          id,
		UUID:        uuid.NewString(),
		ParentUUID:  p.UUID,
		Data:        e.Data,
		Depth:       p.Depth + 1,
		ExtractedBy: producer,
		SourceMeta:  map[string]any{},
		Extra:       map[string]any{},
	}
	for k, v := range e.Meta {
		if k == "filename" {
			if s, ok := v.(string); ok {
				c.Filename = s
				continue
			}
		}
		c.Extra[k] = v
	}
	return c
}

// Clone returns a copy sharing Data whose metadata can change
// independently of p.
func (p *Payload) Clone() *Payload {
	c := *p
	c.SourceMeta = maps.Clone(p.SourceMeta)
	c.Extra = maps.Clone(p.Extra)
	c.Hashes = maps.Clone(p.Hashes)
	c.Archive = maps.Clone(p.Archive)
	return &c
}

// Size returns the payload length in bytes.
func (p *Payload) Size() int {
	return len(p.Data)
}

// ComputeHashes fills Hashes with md5, sha1, sha256, sha512 and blake3 hex
// digests.
func (p *Payload) ComputeHashes() map[string]string {
	hashers := map[string]hash.Hash{
		"md5":    md5.New(),
		"sha1":   sha1.New(),
		"sha256": sha256.New(),
		"sha512": sha512.New(),
		"blake3": blake3.New(),
	}
	out := make(map[string]string, len(hashers))
	for name, h := range hashers {
		h.Write(p.Data)
		out[name] = hex.EncodeToString(h.Sum(nil))
	}
	p.Hashes = out
	return out
}

// Fingerprint is the sha256 identity used to detect repeated content.
func (p *Payload) Fingerprint() string {
	if s, ok := p.Hashes["sha256"]; ok {
		return s
	}
	sum := sha256.Sum256(p.Data)
	return hex.EncodeToString(sum[:])
}

// Meta renders the payload metadata as the map stored in result records.
func (p *Payload) Meta() map[string]any {
	m := map[string]any{
		"payload_id":  p.ID,
		"uuid":        p.UUID,
		"size":        p.Size(),
		"source_meta": p.SourceMeta,
	}
	if p.ParentUUID != "" {
		m["puuid"] = p.ParentUUID
	}
	if p.Filename != "" {
		m["filename"] = p.Filename
	}
	if p.Path != "" {
		m["path"] = p.Path
	}
	if p.ExtractedBy != "" {
		m["extracted_by"] = p.ExtractedBy
	}
	if len(p.Hashes) > 0 {
		m["hashes"] = p.Hashes
	}
	if p.Archive != nil {
		m["archive"] = p.Archive
	}
	for k, v := range p.Extra {
		if _, taken := m[k]; !taken {
			m[k] = v
		}
	}
	return m
}

func baseName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}
