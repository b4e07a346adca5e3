package connectors

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vulntor/stoq/pkg/plugin"
	"github.com/vulntor/stoq/pkg/results"
)

func init() {
	plugin.RegisterFactory(plugin.CategoryConnector, "amqp", func() any { return &AMQP{} })
}

// AMQPOptions configures AMQP.
type AMQPOptions struct {
	URL        string `option:"url"`
	Exchange   string `option:"exchange"`
	RoutingKey string `option:"routing_key" default:"stoq.results"`
	// Queue is declared when publishing to the default exchange.
	Queue string `option:"queue" default:"stoq.results"`
}

// AMQP publishes envelopes to a RabbitMQ exchange.
type AMQP struct {
	Options AMQPOptions

	conn *amqp.Connection
	ch   *amqp.Channel
}

func (a *AMQP) OptionTarget() any { return &a.Options }

func (a *AMQP) Activate(context.Context, *plugin.Instance) error {
	if a.Options.URL == "" {
		return errors.New("amqp: url is required")
	}
	conn, err := amqp.Dial(a.Options.URL)
	if err != nil {
		return fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp: channel: %w", err)
	}
	if a.Options.Exchange == "" {
		if _, err := ch.QueueDeclare(a.Options.Queue, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("amqp: declare %s: %w", a.Options.Queue, err)
		}
		a.Options.RoutingKey = a.Options.Queue
	}
	a.conn, a.ch = conn, ch
	return nil
}

func (a *AMQP) Save(ctx context.Context, env map[string]any) (map[string]any, error) {
	if a.ch == nil {
		return nil, errors.New("amqp: connector not activated")
	}
	data, err := results.Marshal(env)
	if err != nil {
		return nil, err
	}
	id, _ := env[results.KeyUUID].(string)
	err = a.ch.PublishWithContext(ctx, a.Options.Exchange, a.Options.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Body:         data,
	})
	if err != nil {
		return nil, fmt.Errorf("amqp: publish: %w", err)
	}
	return map[string]any{"exchange": a.Options.Exchange, "routing_key": a.Options.RoutingKey}, nil
}

func (a *AMQP) Deactivate() error {
	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
