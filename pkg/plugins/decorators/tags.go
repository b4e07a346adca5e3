// Package decorators holds the built-in decorator plugins.
package decorators

import (
	"context"
	"maps"

	"github.com/vulntor/stoq/pkg/plugin"
	"github.com/vulntor/stoq/pkg/results"
)

func init() {
	plugin.RegisterFactory(plugin.CategoryDecorator, "tags", func() any { return &Tags{} })
}

// TagsOptions configures Tags.
type TagsOptions struct {
	Tags []string `option:"tags"`
}

// Tags marks envelopes as decorated and attaches the configured tags.
type Tags struct {
	Options TagsOptions
}

func (t *Tags) OptionTarget() any { return &t.Options }

func (t *Tags) Decorate(_ context.Context, env map[string]any) (map[string]any, error) {
	out := maps.Clone(env)
	out[results.KeyDecorated] = true
	tags := t.Options.Tags
	if tags == nil {
		tags = []string{}
	}
	out["tags"] = tags
	return out, nil
}
