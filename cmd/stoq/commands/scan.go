package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vulntor/stoq/cmd/stoq/internal/format"
	"github.com/vulntor/stoq/pkg/appctx"
	"github.com/vulntor/stoq/pkg/plugin"
	"github.com/vulntor/stoq/pkg/worker"
)

type scanOptions struct {
	worker    string
	output    string
	quiet     bool
	noColor   bool
	rateLimit string
	archive   string
	meta      map[string]string
}

func newScanCommand() *cobra.Command {
	opts := scanOptions{}

	cmd := &cobra.Command{
		Use:     "scan [file...]",
		GroupID: "scan",
		Short:   "Scan files, or standard input, with a worker",
		Long: `Scan each file with the selected worker and print the result envelopes.
Without arguments the payload is read from standard input.`,
		Example: `  # Scan a file with the default worker
  stoq scan sample.bin

  # Scan several files with the entropy worker, as a table
  stoq scan -w entropy -o table a.bin b.bin

  # Scan standard input and archive it
  cat sample.bin | stoq scan --archive filedir`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := format.ValidateMode(opts.output); err != nil {
				return fmt.Errorf("%w: %v", plugin.ErrConfig, err)
			}
			f := format.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), format.ParseMode(opts.output), opts.quiet, !opts.noColor)
			return runScan(cmd.Context(), cmd.InOrStdin(), f, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.worker, "worker", "w", "", "Worker plugin (default: run.worker)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "json", "Output format: json | table")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress the summary line")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&opts.rateLimit, "ratelimit", "", `Rate limit for the worker, as "N/M" (N calls per M seconds)`)
	cmd.Flags().StringVar(&opts.archive, "archive", "", "Archive connector overriding the worker's archive_connector")
	cmd.Flags().StringToStringVar(&opts.meta, "meta", nil, "Metadata attached to every payload (key=value)")

	return cmd
}

func runScan(ctx context.Context, stdin io.Reader, f format.Formatter, opts scanOptions, files []string) error {
	mgr, err := pluginManager(ctx)
	if err != nil {
		return err
	}
	name := opts.worker
	if name == "" {
		if cfg, ok := appctx.Config(ctx); ok {
			name = cfg.Get().Run.Worker
		}
	}

	inst, err := mgr.Load(ctx, name, plugin.CategoryWorker)
	if err != nil {
		return err
	}
	o, err := worker.New(inst)
	if err != nil {
		return err
	}
	defer o.Close()

	meta := make(map[string]any, len(opts.meta))
	for k, v := range opts.meta {
		meta[k] = v
	}
	base := worker.Request{
		Meta:             meta,
		RateLimit:        opts.rateLimit,
		ArchiveConnector: opts.archive,
	}

	var requests []worker.Request
	if len(files) == 0 {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		req := base
		req.Payload = data
		requests = append(requests, req)
	}
	for _, file := range files {
		req := base
		req.Path = file
		requests = append(requests, req)
	}

	scanned := 0
	for _, req := range requests {
		out, ok := o.Start(ctx, req)
		if !ok {
			label := req.Path
			if label == "" {
				label = "stdin"
			}
			_ = f.PrintError(fmt.Errorf("%s: %w", label, worker.ErrUnresolvedPayload))
			continue
		}
		scanned++
		if err := printOutput(f, out); err != nil {
			return err
		}
	}

	if err := f.PrintSummary(fmt.Sprintf("Scanned %d of %d payload(s) with %s", scanned, len(requests), name)); err != nil {
		return err
	}
	if scanned == 0 {
		return worker.ErrUnresolvedPayload
	}
	return nil
}

// printOutput prints rendered templates when present, envelopes otherwise.
func printOutput(f format.Formatter, out *worker.Output) error {
	if out.Rendered != nil {
		for _, text := range out.Rendered {
			if err := f.PrintText(text); err != nil {
				return err
			}
		}
		return nil
	}
	if f.Mode() == format.ModeTable {
		return f.PrintTable(format.RecordHeaders, format.RecordRows(out.Roots))
	}
	for _, env := range out.Envelopes {
		if err := f.PrintJSON(env); err != nil {
			return err
		}
	}
	return nil
}
