package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vulntor/stoq/pkg/appctx"
	"github.com/vulntor/stoq/pkg/config"
	"github.com/vulntor/stoq/pkg/logging"
	"github.com/vulntor/stoq/pkg/paths"
	"github.com/vulntor/stoq/pkg/plugin"
	"github.com/vulntor/stoq/pkg/plugins/builtin"
)

const cliExecutable = "stoq"

// NewCommand constructs the top-level stoq command. Every subcommand runs
// with the configuration loaded and the plugin manager bootstrapped.
func NewCommand() *cobra.Command {
	var (
		configFile string
		manager    *plugin.Manager
		logCloser  io.Closer
	)

	cmd := &cobra.Command{
		Use:   cliExecutable,
		Short: "stoq routes payloads through a pipeline of analysis plugins",
		Long: `stoq analyzes arbitrary payloads by routing them through plugins: sources
discover payloads, workers scan them, carvers, decoders and extractors
produce nested payloads, connectors persist results and decorators
post-process them.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfgManager := config.NewManager()
			if err := cfgManager.Load(cmd.Flags(), configFile); err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			cfg := cfgManager.Get()

			logCloser = setupLogging(cfg.Log)

			mgr, err := bootstrap(cfg)
			if err != nil {
				return err
			}
			manager = mgr

			ctx := appctx.WithConfig(cmd.Context(), cfgManager)
			ctx = appctx.WithPlugins(ctx, manager)
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if manager != nil {
				manager.Teardown()
			}
			if logCloser != nil {
				return logCloser.Close()
			}
			return nil
		},
	}

	cmd.SilenceUsage = true

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddGroup(&cobra.Group{ID: "scan", Title: "Scan Commands"})
	cmd.AddGroup(&cobra.Group{ID: "core", Title: "Core Commands"})

	cmd.AddCommand(newScanCommand())
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newPluginCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func setupLogging(cfg config.LogConfig) io.Closer {
	logging.UseFormat(cfg.Format)
	closer := logging.ConfigureFileOutput(logging.FileOptions{
		Path:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	})
	if err := logging.ConfigureGlobalLogging(cfg.Level); err != nil {
		log.Warn().Err(err).Msg("Failed to configure logging")
	}
	return closer
}

// bootstrap builds the registry over the built-in descriptors and the
// configured directories, and the manager carrying the option overrides.
func bootstrap(cfg config.Config) (*plugin.Manager, error) {
	baseline, err := builtin.RegistryOption()
	if err != nil {
		return nil, fmt.Errorf("load built-in plugins: %w", err)
	}
	reg := plugin.NewRegistry(
		baseline,
		plugin.WithDuplicatePolicy(plugin.DuplicatePolicy(cfg.Plugins.DuplicatePolicy)),
		plugin.WithRegistryLogger(logging.Component("plugin.registry")),
	)

	dirs := cfg.Plugins.Dirs
	for _, dir := range dirs {
		if dir == paths.PluginDir() {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create plugin directory: %w", err)
			}
		}
	}
	if len(dirs) > 0 {
		if err := reg.Collect(dirs); err != nil {
			return nil, err
		}
	}

	return plugin.NewManager(reg,
		plugin.WithGlobalOptions(cfg.Plugins.Options),
		plugin.WithLogger(log.Logger),
	), nil
}

func pluginManager(ctx context.Context) (*plugin.Manager, error) {
	mgr, ok := appctx.Plugins(ctx)
	if !ok {
		return nil, fmt.Errorf("plugin manager not initialized")
	}
	return mgr, nil
}
