package main

import (
	"path/filepath"

	"bindns/internal/nsfs"
	"bindns/internal/supervisor"

	"github.com/spf13/cobra"
)

// newMountCommand implements spec §6's `mount <source> <mount_point>`:
// ensure_session followed by an explicit Bind(mount_point, source,
// Replace), matching the CLI table's two-step effect even though a fresh
// session's startup already binds root_source at mount_point — the
// explicit Bind is a no-op in that case and authoritative when the
// session already existed.
func newMountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount <source> <mount_point>",
		Short: "Mount a source directory as a virtual namespace root",
		Args:  cobra.RangeArgs(2, 3), // optional node_id (args[2]) is accepted but unused: no 9P layer exists to address
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := filepath.Abs(args[0])
			if err != nil {
				return nsfs.New(nsfs.OpInsert, args[0], nsfs.KindInvalidPath, err)
			}
			mountPoint, err := filepath.Abs(args[1])
			if err != nil {
				return nsfs.New(nsfs.OpInsert, args[1], nsfs.KindInvalidPath, err)
			}

			sup, err := supervisor.New(defaultConfig())
			if err != nil {
				return err
			}
			if _, err := sup.EnsureSession(mountPoint, source); err != nil {
				if nsErr, ok := err.(*nsfs.Error); !ok || nsErr.Kind != nsfs.KindAlreadyExists {
					return err
				}
			}
			return sup.Bind(mountPoint, source, mountPoint, "replace")
		},
	}
	return cmd
}
