package main

import (
	"fmt"
	"os"

	"bindns/internal/nsfs"
	"bindns/internal/registry"
	"bindns/internal/supervisor"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// newSessionCommand implements spec §6's unified session verb: -l/--list,
// -k/--kill <id>, -p/--purge, and a bare `<id>` argument that prints the
// SessionRecord. Grounded on function61-varasto/pkg/stoclient's
// tablewriter usage for -l's tabular output.
func newSessionCommand() *cobra.Command {
	var list, purge bool
	var kill string

	cmd := &cobra.Command{
		Use:   "session [id]",
		Short: "Inspect or control live sessions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := supervisor.New(defaultConfig())
			if err != nil {
				return err
			}

			switch {
			case list:
				return runSessionList(sup)
			case kill != "":
				return sup.Kill(kill)
			case purge:
				return runSessionPurge(sup)
			case len(args) == 1:
				return runSessionPrint(sup, args[0])
			default:
				return cmd.Help()
			}
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "enumerate live sessions")
	cmd.Flags().StringVarP(&kill, "kill", "k", "", "kill the session by id")
	cmd.Flags().BoolVarP(&purge, "purge", "p", false, "kill every live session")
	return cmd
}

func runSessionList(sup *supervisor.Supervisor) error {
	records, err := sup.List()
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"SESSION ID", "PID", "MOUNT POINT", "SOURCE", "STATE", "CREATED"})
	for _, r := range records {
		table.Append([]string{
			r.SessionID, fmt.Sprintf("%d", r.OwnerPID), r.MountPoint, r.RootSource,
			string(r.State), r.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
	return nil
}

func runSessionPurge(sup *supervisor.Supervisor) error {
	result, err := sup.Purge()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "killed %d session(s), %d failed\n", result.Killed, result.Failed)
	return nil
}

func runSessionPrint(sup *supervisor.Supervisor, id string) error {
	record, err := sup.FindByID(id)
	if err != nil {
		if err == registry.ErrNotFound {
			return nsfs.New(nsfs.OpResolve, id, nsfs.KindNotFound, err)
		}
		return err
	}
	fmt.Fprintf(os.Stdout, "session_id:  %s\n", record.SessionID)
	fmt.Fprintf(os.Stdout, "owner_pid:   %d\n", record.OwnerPID)
	fmt.Fprintf(os.Stdout, "mount_point: %s\n", record.MountPoint)
	fmt.Fprintf(os.Stdout, "root_source: %s\n", record.RootSource)
	fmt.Fprintf(os.Stdout, "state:       %s\n", record.State)
	fmt.Fprintf(os.Stdout, "created_at:  %s\n", record.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(os.Stdout, "bindings:\n")
	for _, b := range record.Bindings {
		fmt.Fprintf(os.Stdout, "  %-6s %s -> %s (order %d)\n", b.Mode, b.VirtualPath, b.BackingDir, b.Order)
	}
	fmt.Fprintf(os.Stdout, "history:\n")
	for _, h := range record.History {
		fmt.Fprintf(os.Stdout, "  %-6s %s -> %s at %s\n", h.Mode, h.Source, h.Target, h.At.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}
