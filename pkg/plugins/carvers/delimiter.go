// Package carvers holds the built-in carver plugins.
package carvers

import (
	"bytes"
	"context"
	"errors"

	"github.com/vulntor/stoq/pkg/payload"
	"github.com/vulntor/stoq/pkg/plugin"
)

func init() {
	plugin.RegisterFactory(plugin.CategoryCarver, "delimiter", func() any { return &Delimiter{} })
}

// DelimiterOptions configures Delimiter.
type DelimiterOptions struct {
	Start          string `option:"start"`
	End            string `option:"end"`
	IncludeMarkers bool   `option:"include_markers"`
	// IgnoreCase matches the markers regardless of ASCII letter case.
	IgnoreCase bool `option:"ignorecase"`
}

// Delimiter carves every region enclosed by a start and an end marker.
// Regions do not overlap; an unterminated start marker is ignored.
type Delimiter struct {
	Options DelimiterOptions
}

func (d *Delimiter) OptionTarget() any { return &d.Options }

func (d *Delimiter) Activate(context.Context, *plugin.Instance) error {
	if d.Options.Start == "" || d.Options.End == "" {
		return errors.New("delimiter: start and end markers are required")
	}
	return nil
}

func (d *Delimiter) Carve(_ context.Context, data []byte) ([]payload.Extracted, error) {
	start, end := []byte(d.Options.Start), []byte(d.Options.End)
	hay := data
	if d.Options.IgnoreCase {
		start, end, hay = foldASCII(start), foldASCII(end), foldASCII(data)
	}

	var out []payload.Extracted
	pos := 0
	for pos < len(data) {
		i := bytes.Index(hay[pos:], start)
		if i < 0 {
			break
		}
		from := pos + i
		bodyFrom := from + len(start)
		j := bytes.Index(hay[bodyFrom:], end)
		if j < 0 {
			break
		}
		bodyTo := bodyFrom + j
		to := bodyTo + len(end)

		region := data[bodyFrom:bodyTo]
		offset := bodyFrom
		if d.Options.IncludeMarkers {
			region = data[from:to]
			offset = from
		}
		out = append(out, payload.Extracted{
			Meta: map[string]any{"offset": offset, "length": len(region)},
			Data: bytes.Clone(region),
		})
		pos = to
	}
	return out, nil
}

// foldASCII lowercases ASCII letters and keeps every other byte, so offsets
// into the result are offsets into b.
func foldASCII(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			c |= 0x20
		}
		out[i] = c
	}
	return out
}
