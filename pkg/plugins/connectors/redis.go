package connectors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vulntor/stoq/pkg/payload"
	"github.com/vulntor/stoq/pkg/plugin"
	"github.com/vulntor/stoq/pkg/results"
)

func init() {
	plugin.RegisterFactory(plugin.CategoryConnector, "redis", func() any { return &Redis{} })
}

// RedisOptions configures Redis.
type RedisOptions struct {
	Addr     string `option:"addr" default:"localhost:6379"`
	Password string `option:"password"`
	DB       int    `option:"db"`
	// List receives one JSON document per envelope.
	List          string        `option:"list" default:"stoq:results"`
	ArchivePrefix string        `option:"archive_prefix" default:"stoq:archive:"`
	ArchiveTTL    time.Duration `option:"archive_ttl"`
}

// Redis pushes envelopes onto a list and archives payloads under
// prefixed keys.
type Redis struct {
	Options RedisOptions

	client *redis.Client
}

func (r *Redis) OptionTarget() any { return &r.Options }

func (r *Redis) Activate(ctx context.Context, _ *plugin.Instance) error {
	if r.Options.Addr == "" {
		return errors.New("redis: addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     r.Options.Addr,
		Password: r.Options.Password,
		DB:       r.Options.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis: ping %s: %w", r.Options.Addr, err)
	}
	r.client = client
	return nil
}

func (r *Redis) Save(ctx context.Context, env map[string]any) (map[string]any, error) {
	if r.client == nil {
		return nil, errors.New("redis: connector not activated")
	}
	data, err := results.Marshal(env)
	if err != nil {
		return nil, err
	}
	n, err := r.client.LPush(ctx, r.Options.List, data).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: push: %w", err)
	}
	return map[string]any{"list": r.Options.List, "length": n}, nil
}

func (r *Redis) Archive(ctx context.Context, p *payload.Payload) (map[string]any, error) {
	if r.client == nil {
		return nil, errors.New("redis: connector not activated")
	}
	key := r.Options.ArchivePrefix + p.Fingerprint()
	if err := r.client.Set(ctx, key, p.Data, r.Options.ArchiveTTL).Err(); err != nil {
		return nil, fmt.Errorf("redis: set %s: %w", key, err)
	}
	return map[string]any{"key": key}, nil
}

// Heartbeat pings the server.
func (r *Redis) Heartbeat(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Deactivate() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
