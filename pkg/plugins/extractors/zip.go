// Package extractors holds the built-in extractor plugins.
package extractors

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"

	"github.com/vulntor/stoq/pkg/payload"
	"github.com/vulntor/stoq/pkg/plugin"
)

func init() {
	plugin.RegisterFactory(plugin.CategoryExtractor, "zip", func() any { return &Zip{} })
}

// ZipOptions configures Zip.
type ZipOptions struct {
	// MaxSize skips members whose uncompressed size is larger.
	MaxSize uint64 `option:"max_size" default:"104857600"`
	// MaxMembers bounds the number of members extracted.
	MaxMembers int `option:"max_members" default:"1000"`
}

// Zip extracts the members of a zip archive. Payloads that are not zip
// archives yield nothing.
type Zip struct {
	Options ZipOptions

	logger zerolog.Logger
}

func (z *Zip) OptionTarget() any { return &z.Options }

func (z *Zip) Activate(_ context.Context, inst *plugin.Instance) error {
	z.logger = inst.Logger()
	return nil
}

func (z *Zip) Extract(ctx context.Context, data []byte) ([]payload.Extracted, error) {
	if !bytes.HasPrefix(data, []byte("PK\x03\x04")) && !bytes.HasPrefix(data, []byte("PK\x05\x06")) {
		return nil, nil
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("zip: %w", err)
	}

	var out []payload.Extracted
	for _, f := range zr.File {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if f.FileInfo().IsDir() {
			continue
		}
		if z.Options.MaxMembers > 0 && len(out) >= z.Options.MaxMembers {
			z.logger.Warn().Int("max_members", z.Options.MaxMembers).Msg("Member limit reached")
			break
		}
		if z.Options.MaxSize > 0 && f.UncompressedSize64 > z.Options.MaxSize {
			z.logger.Debug().Str("member", f.Name).Uint64("size", f.UncompressedSize64).Msg("Skipping oversized member")
			continue
		}

		body, err := readMember(f, z.Options.MaxSize)
		if err != nil {
			z.logger.Warn().Err(err).Str("member", f.Name).Msg("Unable to extract member")
			continue
		}
		out = append(out, payload.Extracted{
			Meta: map[string]any{
				"filename":   f.Name,
				"compressed": f.CompressedSize64,
				"modified":   f.Modified.UTC(),
			},
			Data: body,
		})
	}
	return out, nil
}

func readMember(f *zip.File, limit uint64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if limit > 0 {
		r = io.LimitReader(rc, int64(limit))
	}
	return io.ReadAll(r)
}
