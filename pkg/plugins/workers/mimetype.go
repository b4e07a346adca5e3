// Package workers holds the built-in worker plugins.
package workers

import (
	"context"

	"github.com/gabriel-vasile/mimetype"

	"github.com/vulntor/stoq/pkg/payload"
	"github.com/vulntor/stoq/pkg/plugin"
)

func init() {
	plugin.RegisterFactory(plugin.CategoryWorker, "mimetype", func() any { return &MimeType{} })
}

// MimeType detects the media type of a payload from its content.
type MimeType struct{}

func (MimeType) Scan(_ context.Context, p *payload.Payload) (map[string]any, error) {
	m := mimetype.Detect(p.Data)

	var parents []string
	for parent := m.Parent(); parent != nil; parent = parent.Parent() {
		parents = append(parents, parent.String())
	}
	return map[string]any{
		"mimetype":  m.String(),
		"extension": m.Extension(),
		"parents":   parents,
	}, nil
}
