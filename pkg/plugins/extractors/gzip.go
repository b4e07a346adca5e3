package extractors

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/vulntor/stoq/pkg/payload"
	"github.com/vulntor/stoq/pkg/plugin"
)

func init() {
	plugin.RegisterFactory(plugin.CategoryExtractor, "gzip", func() any { return &Gzip{} })
}

// GzipOptions configures Gzip.
type GzipOptions struct {
	MaxSize int64 `option:"max_size" default:"104857600"`
}

// Gzip decompresses a gzip stream. Payloads without the gzip magic yield
// nothing.
type Gzip struct {
	Options GzipOptions
}

func (g *Gzip) OptionTarget() any { return &g.Options }

func (g *Gzip) Extract(_ context.Context, data []byte) ([]payload.Extracted, error) {
	if !bytes.HasPrefix(data, []byte{0x1f, 0x8b}) {
		return nil, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()

	var r io.Reader = zr
	if g.Options.MaxSize > 0 {
		r = io.LimitReader(zr, g.Options.MaxSize)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}

	meta := map[string]any{}
	if zr.Name != "" {
		meta["filename"] = zr.Name
	}
	if zr.Comment != "" {
		meta["comment"] = zr.Comment
	}
	return []payload.Extracted{{Meta: meta, Data: body}}, nil
}
