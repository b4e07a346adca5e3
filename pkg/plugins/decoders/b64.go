// Package decoders holds the built-in decoder plugins.
package decoders

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"

	"github.com/vulntor/stoq/pkg/payload"
	"github.com/vulntor/stoq/pkg/plugin"
)

func init() {
	plugin.RegisterFactory(plugin.CategoryDecoder, "b64", func() any { return &Base64{} })
}

// Base64Options configures Base64.
type Base64Options struct {
	// MinLength is the shortest encoded run considered.
	MinLength int `option:"min_length" default:"16"`
}

// Base64 decodes every base64 run of at least MinLength characters.
type Base64 struct {
	Options Base64Options

	pattern *regexp.Regexp
}

func (b *Base64) OptionTarget() any { return &b.Options }

func (b *Base64) Activate(context.Context, *plugin.Instance) error {
	if b.Options.MinLength < 4 {
		b.Options.MinLength = 4
	}
	b.pattern = regexp.MustCompile(fmt.Sprintf(`[A-Za-z0-9+/]{%d,}={0,2}`, b.Options.MinLength))
	return nil
}

func (b *Base64) Decode(_ context.Context, data []byte) ([]payload.Extracted, error) {
	if b.pattern == nil {
		if err := b.Activate(context.Background(), nil); err != nil {
			return nil, err
		}
	}

	var out []payload.Extracted
	for _, loc := range b.pattern.FindAllIndex(data, -1) {
		run := data[loc[0]:loc[1]]
		decoded := make([]byte, base64.StdEncoding.DecodedLen(len(run)))
		n, err := base64.StdEncoding.Decode(decoded, run)
		if err != nil {
			continue
		}
		out = append(out, payload.Extracted{
			Meta: map[string]any{"offset": loc[0], "encoding": "base64"},
			Data: decoded[:n],
		})
	}
	return out, nil
}
