package results

import (
	"time"

	"github.com/google/uuid"
)

// Envelope keys.
const (
	KeyDate      = "date"
	KeyUUID      = "uuid"
	KeyPlugin    = "plugin"
	KeyPayloads  = "payloads"
	KeyTLP       = "tlp"
	KeyResults   = "results"
	KeyDecorated = "decorated"
	KeyTemplate  = "template"
)

// Envelope is the externally visible result shape:
// {date, uuid, plugin, payloads, tlp, results}.
type Envelope = map[string]any

// NewEnvelope wraps records produced by plugin.
func NewEnvelope(plugin, tlp string, records []*Record) Envelope {
	rendered := make([]any, 0, len(records))
	payloads := 0
	for _, r := range records {
		rendered = append(rendered, r.Map())
		payloads += r.Count()
	}
	return Envelope{
		KeyDate:     time.Now().UTC().Format(time.RFC3339Nano),
		KeyUUID:     uuid.NewString(),
		KeyPlugin:   plugin,
		KeyPayloads: payloads,
		KeyTLP:      tlp,
		KeyResults:  rendered,
	}
}

// Shape builds the envelopes for a finished scan from its root records.
// Combined mode yields one envelope holding every tree. Otherwise every
// record becomes its own envelope, without nested records, in completion
// order: children before parents, roots in the order given.
func Shape(plugin, tlp string, roots []*Record, combined bool) []Envelope {
	if len(roots) == 0 {
		return nil
	}
	if combined {
		return []Envelope{NewEnvelope(plugin, tlp, roots)}
	}
	var out []Envelope
	for _, root := range roots {
		root.PostOrder(func(r *Record) {
			out = append(out, NewEnvelope(plugin, tlp, []*Record{r.Shallow()}))
		})
	}
	return out
}
