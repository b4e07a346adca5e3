package connectors

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/vulntor/stoq/pkg/plugin"
	"github.com/vulntor/stoq/pkg/results"
)

func init() {
	plugin.RegisterFactory(plugin.CategoryConnector, "nats", func() any { return &NATS{} })
}

// NATSOptions configures NATS.
type NATSOptions struct {
	URL     string `option:"url" default:"nats://127.0.0.1:4222"`
	Subject string `option:"subject" default:"stoq.results"`
}

// NATS publishes envelopes on a subject.
type NATS struct {
	Options NATSOptions

	nc *nats.Conn
}

func (n *NATS) OptionTarget() any { return &n.Options }

func (n *NATS) Activate(_ context.Context, inst *plugin.Instance) error {
	if n.Options.Subject == "" {
		return errors.New("nats: subject is required")
	}
	name := "stoq"
	if inst != nil {
		name = "stoq." + inst.Name()
	}
	nc, err := nats.Connect(n.Options.URL, nats.Name(name))
	if err != nil {
		return fmt.Errorf("nats: connect %s: %w", n.Options.URL, err)
	}
	n.nc = nc
	return nil
}

func (n *NATS) Save(_ context.Context, env map[string]any) (map[string]any, error) {
	if n.nc == nil {
		return nil, errors.New("nats: connector not activated")
	}
	data, err := results.Marshal(env)
	if err != nil {
		return nil, err
	}
	if err := n.nc.Publish(n.Options.Subject, data); err != nil {
		return nil, fmt.Errorf("nats: publish: %w", err)
	}
	return map[string]any{"subject": n.Options.Subject}, nil
}

// Heartbeat flushes the connection, failing when the server is gone.
func (n *NATS) Heartbeat(ctx context.Context) error {
	if n.nc == nil {
		return nil
	}
	return n.nc.FlushWithContext(ctx)
}

func (n *NATS) Deactivate() error {
	if n.nc != nil {
		return n.nc.Drain()
	}
	return nil
}
