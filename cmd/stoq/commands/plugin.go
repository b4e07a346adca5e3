package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vulntor/stoq/cmd/stoq/internal/format"
	"github.com/vulntor/stoq/pkg/plugin"
)

func newPluginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plugin",
		GroupID: "core",
		Short:   "Inspect collected plugins",
		Long: `Inspect the plugins known to stoq: the built-in plugins plus every
descriptor collected from plugins.dirs.`,
		Example: `  # List every plugin
  stoq plugin list

  # List extractors only
  stoq plugin list extractor

  # Show one descriptor
  stoq plugin info worker mimetype`,
	}

	cmd.AddCommand(newPluginListCommand())
	cmd.AddCommand(newPluginInfoCommand())

	return cmd
}

func newPluginListCommand() *cobra.Command {
	var (
		output  string
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "list [category]",
		Short: "List plugins, optionally for one category",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := pluginManager(cmd.Context())
			if err != nil {
				return err
			}
			var filter plugin.Category
			if len(args) == 1 {
				filter = plugin.Category(strings.ToLower(args[0]))
				if !filter.Valid() {
					return fmt.Errorf("%w: %q", plugin.ErrInvalidCategory, args[0])
				}
			}

			f := format.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), format.ParseMode(output), false, !noColor)
			rows := pluginRows(mgr.Registry(), filter)
			if err := f.PrintTable([]string{"category", "name", "module", "version", "origin"}, rows); err != nil {
				return err
			}
			return f.PrintSummary(fmt.Sprintf("%d plugin(s)", len(rows)))
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: json | table")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	return cmd
}

func pluginRows(reg *plugin.Registry, filter plugin.Category) [][]string {
	var rows [][]string
	for key, d := range reg.ListAll() {
		if filter != "" && key.Category != filter {
			continue
		}
		version := d.Version
		if version == "" {
			version = "-"
		}
		rows = append(rows, []string{string(key.Category), d.Name, d.ModuleName(), version, d.Path})
	}
	return rows
}

func newPluginInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <category> <name>",
		Short: "Show a plugin descriptor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := pluginManager(cmd.Context())
			if err != nil {
				return err
			}
			category := plugin.Category(strings.ToLower(args[0]))
			if !category.Valid() {
				return fmt.Errorf("%w: %q", plugin.ErrInvalidCategory, args[0])
			}
			d, ok := mgr.Registry().Get(args[1], category)
			if !ok {
				return fmt.Errorf("%w: %s %q", plugin.ErrPluginNotFound, category, args[1])
			}
			return format.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), format.ModeJSON, true, false).PrintJSON(d)
		},
	}
}
