package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/modoterra/devconsole/pkg/transport/uds"
)

var processesJSON bool

var processesCmd = &cobra.Command{
	Use:     "processes",
	Aliases: []string{"ps"},
	Short:   "List supervised processes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(5*time.Second, func(ctx context.Context, c *uds.Client) error {
			procs, err := c.Processes(ctx)
			if err != nil {
				return err
			}
			if processesJSON {
				return printJSON(cmd.OutOrStdout(), procs)
			}
			if len(procs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no supervised processes")
				return nil
			}
			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTATUS\tPID\tRESTARTS\tMEM\tCOMMAND")
			for _, p := range procs {
				pid := "-"
				if p.PID > 0 {
					pid = fmt.Sprint(p.PID)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					p.Name, p.Status, pid, p.Restarts, formatBytes(p.MemBytes), p.Command)
			}
			return tw.Flush()
		})
	},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Start, stop or restart a supervised process",
}

func processActionCmd(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <name>",
		Short: fmt.Sprintf("%s a supervised process", action),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(30*time.Second, func(ctx context.Context, c *uds.Client) error {
				if err := c.ProcessAction(ctx, args[0], action); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s ✓\n", args[0], action)
				return nil
			})
		},
	}
}

func init() {
	processesCmd.Flags().BoolVar(&processesJSON, "json", false, "print processes as JSON")
	for _, action := range []string{"start", "stop", "restart"} {
		processCmd.AddCommand(processActionCmd(action))
	}
	rootCmd.AddCommand(processesCmd)
	rootCmd.AddCommand(processCmd)
}
