// pkg/config/config.go
package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/vulntor/stoq/pkg/paths"
)

// Global Koanf instance, initialized once at startup.
var (
	k    *koanf.Koanf
	once sync.Once
)

// InitGlobalConfig initializes the global Koanf instance.
// This should be called early in the application lifecycle, before Load.
func InitGlobalConfig() {
	once.Do(func() {
		k = koanf.New(".")
	})
}

// Manager handles loading and accessing application configuration.
type Manager struct {
	koanfInstance *koanf.Koanf
	currentConfig Config
	mu            sync.RWMutex
}

// NewManager creates a new Manager backed by the global Koanf instance.
func NewManager() *Manager {
	InitGlobalConfig()
	return &Manager{
		koanfInstance: k,
	}
}

// DefaultConfig returns a new Config struct populated with hardcoded default values.
// These serve as the baseline configuration if no other sources override them.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:     "info",
			Format:    "text",
			File:      "",
			MaxSizeMB: 50,
		},
		Plugins: PluginsConfig{
			Dirs:            []string{paths.PluginDir()},
			DuplicatePolicy: "first",
		},
		Run: DefaultRunConfig(),
	}
}

// Load loads configuration from the default sources (defaults, file, env,
// flags) in priority order and populates the manager's current config.
func (m *Manager) Load(flags *pflag.FlagSet, customConfigFilePath string) error {
	debug := false
	if flags != nil {
		if f := flags.Lookup("debug"); f != nil && f.Value.String() == "true" {
			debug = true
		}
	}
	return m.LoadWithSources(DefaultSources(customConfigFilePath, flags, debug))
}

// LoadWithSources loads the given sources, lowest priority first.
func (m *Manager) LoadWithSources(sources []ConfigSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Priority() < sources[j].Priority()
	})
	for _, src := range sources {
		if err := src.Load(m.koanfInstance); err != nil {
			return fmt.Errorf("config source %s: %w", src.Name(), err)
		}
		log.Debug().Str("source", src.Name()).Int("priority", src.Priority()).Msg("Loaded config source")
	}

	var newCfg Config
	if err := m.koanfInstance.UnmarshalWithConf("", &newCfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("error unmarshaling final config: %w", err)
	}
	m.currentConfig = newCfg
	m.postProcessConfig()
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentConfig
}

// Koanf exposes the underlying instance for raw lookups.
func (m *Manager) Koanf() *koanf.Koanf {
	return m.koanfInstance
}

// postProcessConfig handles any adjustments needed after loading and unmarshaling.
func (m *Manager) postProcessConfig() {
	switch m.currentConfig.Plugins.DuplicatePolicy {
	case "first", "last":
	default:
		log.Warn().
			Str("duplicate_policy", m.currentConfig.Plugins.DuplicatePolicy).
			Msg("Unknown plugins.duplicate_policy, using 'first'")
		m.currentConfig.Plugins.DuplicatePolicy = "first"
	}
	if m.currentConfig.Run.Concurrency <= 0 {
		m.currentConfig.Run.Concurrency = DefaultRunConfig().Concurrency
	}
}

// DefaultConfigAsMap converts the DefaultConfig struct to a map[string]interface{}
// for Koanf's confmap.Provider.
func DefaultConfigAsMap() map[string]interface{} {
	def := DefaultConfig()
	return map[string]interface{}{
		// Log configuration
		"log.level":       def.Log.Level,
		"log.format":      def.Log.Format,
		"log.file":        def.Log.File,
		"log.max_size_mb": def.Log.MaxSizeMB,
		"log.max_backups": def.Log.MaxBackups,

		// Plugin configuration
		"plugins.dirs":             def.Plugins.Dirs,
		"plugins.duplicate_policy": def.Plugins.DuplicatePolicy,

		// Run configuration
		"run.worker":       def.Run.Worker,
		"run.source":       def.Run.Source,
		"run.concurrency":  def.Run.Concurrency,
		"run.metrics_addr": def.Run.MetricsAddr,
		"run.watch":        def.Run.Watch,
	}
}

// BindFlags defines command-line flags corresponding to configuration settings.
// These flags allow overriding config file / environment variable settings.
func BindFlags(flags *pflag.FlagSet) {
	var flagvar bool
	flags.BoolVar(&flagvar, "debug", false, "Enable debug logging")
	flags.StringSlice("plugins.dirs", nil, "Plugin descriptor directories, searched in order")
}
