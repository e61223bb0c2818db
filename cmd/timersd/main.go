// Command timersd hosts the redis-timers dispatch engine: it exposes
// subcommands to schedule and remove timers, list what is currently
// pending, and run the dispatch loop that drains due timers on a fixed
// cadence. Modeled on the teacher's migrations CLI
// (internal/infrastructure/migrations/cli.go): one *cobra.Command tree
// built from a small struct holding the process's shared dependencies.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "timersd:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "timersd",
		Short: "Distributed delayed-task dispatcher backed by Redis",
		Long:  "timersd schedules, removes, lists, and dispatches Redis-backed delayed timers.",
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (optional; env vars and defaults apply otherwise)")

	app := &cli{configPath: &configPath}

	root.AddCommand(
		app.serveCommand(),
		app.setCommand(),
		app.removeCommand(),
		app.listCommand(),
	)

	return root
}

// cli bundles the flags shared by every subcommand. Each subcommand builds
// its own config/logger/engine from these at RunE time rather than at
// construction, so cobra's flag parsing has already happened.
type cli struct {
	configPath *string
}
