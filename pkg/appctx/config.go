// Package appctx carries the loaded configuration and the plugin manager
// through command contexts.
package appctx

import (
	"context"

	"github.com/vulntor/stoq/pkg/config"
	"github.com/vulntor/stoq/pkg/plugin"
)

type key string

const (
	configKey  key = "stoq.config.manager"
	pluginsKey key = "stoq.plugin.manager"
)

// WithConfig stores the shared config manager on context.
func WithConfig(ctx context.Context, manager *config.Manager) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, configKey, manager)
}

// Config retrieves the shared config manager from context.
func Config(ctx context.Context) (*config.Manager, bool) {
	if ctx == nil {
		return nil, false
	}
	mgr, ok := ctx.Value(configKey).(*config.Manager)
	return mgr, ok && mgr != nil
}

// WithPlugins stores the plugin manager on context.
func WithPlugins(ctx context.Context, manager *plugin.Manager) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, pluginsKey, manager)
}

// Plugins retrieves the plugin manager from context.
func Plugins(ctx context.Context) (*plugin.Manager, bool) {
	if ctx == nil {
		return nil, false
	}
	mgr, ok := ctx.Value(pluginsKey).(*plugin.Manager)
	return mgr, ok && mgr != nil
}
