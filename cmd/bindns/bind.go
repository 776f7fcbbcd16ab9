package main

import (
	"path/filepath"

	"bindns/internal/nsfs"
	"bindns/internal/supervisor"

	"github.com/spf13/cobra"
)

// newBindCommand implements spec §6's `bind [-b|-a|-r|-c] <source>
// <target>`: ensure_session for target (so bind can open a brand new
// namespace the same way mount does), then Bind(target, source, mode).
func newBindCommand() *cobra.Command {
	var before, after, replace, create bool

	cmd := &cobra.Command{
		Use:   "bind <source> <target>",
		Short: "Bind a source directory into a virtual path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := "before" // default per spec §6
			switch {
			case replace:
				mode = "replace"
			case create:
				mode = "create"
			case after:
				mode = "after"
			case before:
				mode = "before"
			}

			source, err := filepath.Abs(args[0])
			if err != nil {
				return nsfs.New(nsfs.OpInsert, args[0], nsfs.KindInvalidPath, err)
			}
			target, err := filepath.Abs(args[1])
			if err != nil {
				return nsfs.New(nsfs.OpInsert, args[1], nsfs.KindInvalidPath, err)
			}

			sup, err := supervisor.New(defaultConfig())
			if err != nil {
				return err
			}
			if _, err := sup.EnsureSession(target, source); err != nil {
				if nsErr, ok := err.(*nsfs.Error); !ok || nsErr.Kind != nsfs.KindAlreadyExists {
					return err
				}
			}
			return sup.Bind(target, source, target, mode)
		},
	}

	cmd.Flags().BoolVarP(&before, "before", "b", false, "prepend the new binding (default)")
	cmd.Flags().BoolVarP(&after, "after", "a", false, "append the new binding")
	cmd.Flags().BoolVarP(&replace, "replace", "r", false, "replace the binding stack")
	cmd.Flags().BoolVarP(&create, "create", "c", false, "create target directory and replace the binding stack")
	return cmd
}
