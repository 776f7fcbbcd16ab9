package main

import (
	"bindns/internal/session"

	"github.com/spf13/cobra"
)

// newInternalSessionCommand implements the hidden __session subcommand:
// the actual body of a session process, launched by
// supervisor.EnsureSession via os/exec self-re-exec rather than fork(),
// since Go cannot safely fork() without an immediate exec. Never invoked
// directly by a user; hidden from --help.
func newInternalSessionCommand() *cobra.Command {
	var mountPoint, source, registryRoot string

	cmd := &cobra.Command{
		Use:    "__session",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return session.Run(registryRoot, defaultConfig().BinaryName, mountPoint, source)
		},
	}
	cmd.Flags().StringVar(&mountPoint, "mount", "", "mount point this session owns")
	cmd.Flags().StringVar(&source, "source", "", "initial backing directory bound at mount")
	cmd.Flags().StringVar(&registryRoot, "registry-root", "", "registry directory shared with the supervisor")
	cmd.MarkFlagRequired("mount")
	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("registry-root")
	return cmd
}
