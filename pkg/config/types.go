// pkg/config/types.go
package config

// Config is the root configuration structure for stoq.
type Config struct {
	Log     LogConfig     `description:"Logging configuration" koanf:"log"`
	Plugins PluginsConfig `description:"Plugin discovery and options" koanf:"plugins"`
	Run     RunConfig     `description:"Runtime worker settings" koanf:"run"`
}

// LogConfig holds logging related configuration.
type LogConfig struct {
	Level      string `description:"Log level set to stoq logs." koanf:"level"`
	Format     string `description:"stoq log format: json | text" koanf:"format"`
	File       string `description:"Log file path" koanf:"file"`
	MaxSizeMB  int    `description:"Rotate the log file after this many megabytes" koanf:"max_size_mb"`
	MaxBackups int    `description:"Rotated log files to keep" koanf:"max_backups"`
}

// PluginsConfig holds the plugin registry settings and per-plugin option
// overrides keyed as options.<category>.<name>.<option>.
type PluginsConfig struct {
	Dirs            []string                             `description:"Ordered plugin descriptor directories" koanf:"dirs"`
	DuplicatePolicy string                               `description:"Duplicate descriptor policy: first | last" koanf:"duplicate_policy"`
	Options         map[string]map[string]map[string]any `description:"Per-plugin option overrides" koanf:"options"`
}

// PluginOptions returns the override map for one plugin, or nil.
func (p PluginsConfig) PluginOptions(category, name string) map[string]any {
	if p.Options == nil {
		return nil
	}
	return p.Options[category][name]
}
