// Package connectors holds the built-in connector plugins: result sinks
// and payload archivers.
package connectors

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/vulntor/stoq/pkg/plugin"
	"github.com/vulntor/stoq/pkg/results"
)

func init() {
	plugin.RegisterFactory(plugin.CategoryConnector, "stdout", func() any { return &Stdout{} })
}

// StdoutOptions configures Stdout.
type StdoutOptions struct {
	Indent bool `option:"indent" default:"true"`
}

// Stdout writes each envelope as JSON to standard output.
type Stdout struct {
	Options StdoutOptions

	mu sync.Mutex
	// Out defaults to os.Stdout.
	Out io.Writer
}

func (s *Stdout) OptionTarget() any { return &s.Options }

func (s *Stdout) Save(_ context.Context, env map[string]any) (map[string]any, error) {
	marshal := results.Marshal
	if s.Options.Indent {
		marshal = results.MarshalIndent
	}
	data, err := marshal(env)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.Out
	if out == nil {
		out = os.Stdout
	}
	if _, err := out.Write(append(data, '\n')); err != nil {
		return nil, err
	}
	return nil, nil
}
