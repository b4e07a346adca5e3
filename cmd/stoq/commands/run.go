package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vulntor/stoq/cmd/stoq/internal/format"
	"github.com/vulntor/stoq/pkg/appctx"
	"github.com/vulntor/stoq/pkg/config"
	"github.com/vulntor/stoq/pkg/plugin"
	"github.com/vulntor/stoq/pkg/worker"
)

func newRunCommand() *cobra.Command {
	var (
		output  string
		noColor bool
	)

	cmd := &cobra.Command{
		Use:     "run",
		GroupID: "core",
		Short:   "Run a worker over its configured source",
		Long: `Run the configured worker in source mode: every payload emitted by the
source is processed concurrently, each in its own pass, and its results are
saved and printed as soon as that pass completes.`,
		Example: `  # Process everything the worker's source emits
  stoq run --run.worker mimetype --run.source dirwalk

  # Expose Prometheus metrics and re-collect plugins on change
  stoq run --run.metrics_addr :9102 --run.watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgManager, ok := appctx.Config(cmd.Context())
			if !ok {
				return errors.New("configuration not loaded")
			}
			if err := format.ValidateMode(output); err != nil {
				return fmt.Errorf("%w: %v", plugin.ErrConfig, err)
			}
			f := format.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), format.ParseMode(output), false, !noColor)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, f, cfgManager.Get().Run)
		},
	}

	config.BindRunFlags(cmd.Flags())
	cmd.Flags().StringVarP(&output, "output", "o", "json", "Output format: json | table")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runWorker(ctx context.Context, f format.Formatter, cfg config.RunConfig) error {
	mgr, err := pluginManager(ctx)
	if err != nil {
		return err
	}

	inst, err := mgr.Load(ctx, cfg.Worker, plugin.CategoryWorker)
	if err != nil {
		return err
	}
	if cfg.Source != "" {
		inst.Worker.Source = cfg.Source
	}
	if cfg.Concurrency > 0 {
		inst.Worker.Concurrency = cfg.Concurrency
	}
	if inst.Worker.Source == "" {
		return fmt.Errorf("%w: worker %q has no source configured", plugin.ErrConfig, cfg.Worker)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := worker.NewMetrics(promReg)
	if err != nil {
		return err
	}
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, promReg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Watch {
		watcher, err := plugin.NewDirWatcher(mgr, log.Logger, func(err error) {
			if err != nil {
				log.Warn().Err(err).Msg("Plugin re-collection failed")
				return
			}
			log.Info().Int("plugins", mgr.Registry().Count()).Msg("Plugins re-collected")
		})
		if err != nil {
			return fmt.Errorf("watch plugin directories: %w", err)
		}
		defer watcher.Close()
		go func() {
			if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("Plugin watcher stopped")
			}
		}()
	}

	checkConnectors(ctx, inst)

	o, err := worker.New(inst,
		worker.WithMetrics(metrics),
		worker.WithHandler(func(out *worker.Output) {
			if err := printOutput(f, out); err != nil {
				log.Error().Err(err).Msg("Unable to print results")
			}
		}),
	)
	if err != nil {
		return err
	}
	defer o.Close()

	log.Info().
		Str("worker", cfg.Worker).
		Str("source", inst.Worker.Source).
		Int("concurrency", inst.Worker.Concurrency).
		Msg("Worker started")

	if _, ok := o.Start(ctx, worker.Request{}); !ok {
		return fmt.Errorf("source %s: %w", inst.Worker.Source, worker.ErrUnresolvedPayload)
	}
	log.Info().Str("worker", cfg.Worker).Msg("Source drained")
	return nil
}

// checkConnectors sends one heartbeat to each output connector so that a
// broken sink is reported before payloads flow.
func checkConnectors(ctx context.Context, inst *plugin.Instance) {
	for _, name := range inst.Worker.OutputConnectors {
		conn, err := inst.Children().Load(ctx, name, plugin.CategoryConnector)
		if err != nil {
			log.Warn().Err(err).Str("connector", name).Msg("Unable to load output connector")
			continue
		}
		hbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := conn.Heartbeat(hbCtx); err != nil {
			log.Warn().Err(err).Str("connector", name).Msg("Connector heartbeat failed")
		}
		cancel()
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	return srv
}
