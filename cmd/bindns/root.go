// Package main implements the bindns CLI: mount/bind/unmount/session
// commands plus the hidden __session re-exec entry point that becomes a
// session process's main loop. Grounded on
// function61-varasto/cmd/sto/main.go's package-level Entrypoint()
// convention — each subcommand file exposes a newXxxCommand() *cobra.Command
// constructor that root.go wires together.
package main

import (
	"fmt"
	"os"

	"bindns/internal/config"
	"bindns/internal/logging"
	"bindns/internal/nsfs"

	"github.com/spf13/cobra"
)

var (
	verbose bool
	quiet   bool
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "bindns",
		Short:         "Per-session Plan-9-style namespace manager backed by FUSE",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log := logging.GetLogger()
			switch {
			case verbose:
				log.SetLevel(logging.LevelDebug)
			case quiet:
				log.SetLevel(logging.LevelError)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logs")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all but error-level logs")

	root.AddCommand(newMountCommand())
	root.AddCommand(newBindCommand())
	root.AddCommand(newUnmountCommand())
	root.AddCommand(newSessionCommand())
	root.AddCommand(newInternalSessionCommand())

	return root
}

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bindns: %v\n", err)
		os.Exit(nsfs.ToExitCode(err))
	}
}

func defaultConfig() config.Config {
	return config.Default()
}
