package config

import (
	"github.com/spf13/pflag"
)

// RunConfig holds the settings for a long-running worker started by
// 'stoq run'.
type RunConfig struct {
	Worker      string `description:"Worker plugin driving the pipeline" koanf:"worker"`
	Source      string `description:"Source plugin override" koanf:"source"`
	Concurrency int    `description:"Number of concurrent payload passes" koanf:"concurrency"`
	MetricsAddr string `description:"Prometheus listen address (empty disables)" koanf:"metrics_addr"`
	Watch       bool   `description:"Re-collect plugins when descriptor directories change" koanf:"watch"`
}

// DefaultRunConfig returns the default runtime configuration.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Worker:      "mimetype",
		Concurrency: 4,
	}
}

// BindRunFlags binds run-specific flags to the provided FlagSet.
//
// Flags are namespaced under 'run.' to avoid conflicts with global flags.
// Example: --run.worker, --run.concurrency
func BindRunFlags(flags *pflag.FlagSet) {
	defaults := DefaultRunConfig()

	flags.String("run.worker", defaults.Worker, "Worker plugin driving the pipeline")
	flags.String("run.source", defaults.Source, "Source plugin (overrides the worker's source option)")
	flags.Int("run.concurrency", defaults.Concurrency, "Number of concurrent payload passes")
	flags.String("run.metrics_addr", defaults.MetricsAddr, "Expose Prometheus metrics on this address")
	flags.Bool("run.watch", defaults.Watch, "Re-collect plugins when descriptor directories change")
}
