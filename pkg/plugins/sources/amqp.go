package sources

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/vulntor/stoq/pkg/payload"
	"github.com/vulntor/stoq/pkg/plugin"
)

func init() {
	plugin.RegisterFactory(plugin.CategorySource, "amqp", func() any { return &AMQP{} })
}

// AMQPOptions configures the AMQP source.
type AMQPOptions struct {
	URL      string `option:"url"`
	Queue    string `option:"queue" default:"stoq"`
	Prefetch int    `option:"prefetch" default:"10"`
	Durable  bool   `option:"durable" default:"true"`
	// MaxMessages stops ingestion after that many messages; zero drains
	// until the context is canceled.
	MaxMessages int `option:"max_messages"`
}

// AMQP consumes payloads from a RabbitMQ queue. Messages are acked once
// emitted.
type AMQP struct {
	Options AMQPOptions

	conn   *amqp.Connection
	ch     *amqp.Channel
	logger zerolog.Logger
}

func (a *AMQP) OptionTarget() any { return &a.Options }

func (a *AMQP) Activate(_ context.Context, inst *plugin.Instance) error {
	if a.Options.URL == "" {
		return errors.New("amqp: url is required")
	}
	a.logger = inst.Logger()

	conn, err := amqp.Dial(a.Options.URL)
	if err != nil {
		return fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp: channel: %w", err)
	}
	if a.Options.Prefetch > 0 {
		if err := ch.Qos(a.Options.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("amqp: qos: %w", err)
		}
	}
	if _, err := ch.QueueDeclare(a.Options.Queue, a.Options.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp: declare %s: %w", a.Options.Queue, err)
	}
	a.conn, a.ch = conn, ch
	return nil
}

// Ingest emits message bodies until ctx is canceled, the channel closes
// or MaxMessages is reached.
func (a *AMQP) Ingest(ctx context.Context, emit func(payload.Ref) error) error {
	if a.ch == nil {
		return errors.New("amqp: source not activated")
	}
	msgs, err := a.ch.Consume(a.Options.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp: consume %s: %w", a.Options.Queue, err)
	}

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			ref := payload.Ref{
				Data: msg.Body,
				Meta: map[string]any{
					"message_id":   msg.MessageId,
					"content_type": msg.ContentType,
					"routing_key":  msg.RoutingKey,
					"queue":        a.Options.Queue,
				},
			}
			if err := emit(ref); err != nil {
				_ = msg.Nack(false, true)
				return err
			}
			if err := msg.Ack(false); err != nil {
				a.logger.Warn().Err(err).Str("message_id", msg.MessageId).Msg("Ack failed")
			}
			seen++
			if a.Options.MaxMessages > 0 && seen >= a.Options.MaxMessages {
				return nil
			}
		}
	}
}

// Heartbeat blocks until ctx is done and fails if the broker connection
// drops first.
func (a *AMQP) Heartbeat(ctx context.Context) error {
	if a.conn == nil {
		return nil
	}
	closed := a.conn.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-closed:
		if !ok || err == nil {
			return nil
		}
		return fmt.Errorf("amqp: connection closed: %w", err)
	}
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
