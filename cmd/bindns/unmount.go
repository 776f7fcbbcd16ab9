package main

import (
	"path/filepath"

	"bindns/internal/nsfs"
	"bindns/internal/supervisor"

	"github.com/spf13/cobra"
)

// newUnmountCommand implements spec §6's `unmount [--force] <mount_point>`
// and §4.6's unmount(): a single Shutdown round trip to the owning
// session. Without --force a busy mount (open file handles) surfaces as
// exit code 6; with --force the session lazily detaches the mount
// regardless (spec §8 invariant 8).
func newUnmountCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "unmount <mount_point>",
		Short: "Tear down the session owning a mount point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mountPoint, err := filepath.Abs(args[0])
			if err != nil {
				return nsfs.New(nsfs.OpRemove, args[0], nsfs.KindInvalidPath, err)
			}

			sup, err := supervisor.New(defaultConfig())
			if err != nil {
				return err
			}
			return sup.Unmount(mountPoint, force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "detach the mount even if files are open")
	return cmd
}
