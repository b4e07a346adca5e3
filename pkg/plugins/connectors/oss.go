package connectors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/vulntor/stoq/pkg/payload"
	"github.com/vulntor/stoq/pkg/plugin"
	"github.com/vulntor/stoq/pkg/results"
)

func init() {
	plugin.RegisterFactory(plugin.CategoryConnector, "oss", func() any { return &OSS{} })
}

// OSSOptions configures OSS.
type OSSOptions struct {
	Endpoint        string `option:"endpoint"`
	AccessKeyID     string `option:"access_key_id"`
	AccessKeySecret string `option:"access_key_secret"`
	Bucket          string `option:"bucket"`
	Prefix          string `option:"prefix" default:"stoq/"`
}

// OSS stores envelopes and archived payloads in an Aliyun OSS bucket.
type OSS struct {
	Options OSSOptions

	bucket *oss.Bucket
}

func (o *OSS) OptionTarget() any { return &o.Options }

func (o *OSS) Activate(context.Context, *plugin.Instance) error {
	if o.Options.Endpoint == "" || o.Options.Bucket == "" {
		return errors.New("oss: endpoint and bucket are required")
	}
	client, err := oss.New(o.Options.Endpoint, o.Options.AccessKeyID, o.Options.AccessKeySecret)
	if err != nil {
		return fmt.Errorf("oss: client: %w", err)
	}
	bucket, err := client.Bucket(o.Options.Bucket)
	if err != nil {
		return fmt.Errorf("oss: bucket %s: %w", o.Options.Bucket, err)
	}
	o.bucket = bucket
	return nil
}

func (o *OSS) key(parts ...string) string {
	return strings.TrimPrefix(o.Options.Prefix+strings.Join(parts, "/"), "/")
}

func (o *OSS) Save(_ context.Context, env map[string]any) (map[string]any, error) {
	if o.bucket == nil {
		return nil, errors.New("oss: connector not activated")
	}
	id, _ := env[results.KeyUUID].(string)
	if id == "" {
		return nil, errors.New("oss: envelope has no uuid")
	}
	data, err := results.Marshal(env)
	if err != nil {
		return nil, err
	}
	key := o.key("results", id+".json")
	if err := o.bucket.PutObject(key, bytes.NewReader(data), oss.ContentType("application/json")); err != nil {
		return nil, fmt.Errorf("oss: put %s: %w", key, err)
	}
	return map[string]any{"bucket": o.Options.Bucket, "key": key}, nil
}

func (o *OSS) Archive(_ context.Context, p *payload.Payload) (map[string]any, error) {
	if o.bucket == nil {
		return nil, errors.New("oss: connector not activated")
	}
	key := o.key("archive", p.Fingerprint())
	if err := o.bucket.PutObject(key, bytes.NewReader(p.Data)); err != nil {
		return nil, fmt.Errorf("oss: put %s: %w", key, err)
	}
	return map[string]any{"bucket": o.Options.Bucket, "key": key}, nil
}
