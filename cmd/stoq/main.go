package main

import (
	"fmt"
	"os"

	"github.com/vulntor/stoq/cmd/stoq/commands"
	"github.com/vulntor/stoq/pkg/plugin"
)

// Exit codes:
//   - 0: success
//   - 1: general error
//   - 2: invalid usage or plugin configuration
//   - 4: plugin or plugin directory not found
func main() {
	if err := commands.NewCommand().Execute(); err != nil {
		for _, hint := range plugin.Suggestions(err) {
			fmt.Fprintf(os.Stderr, "  hint: %s\n", hint)
		}
		os.Exit(plugin.ExitCode(err))
	}
}
