package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/modoterra/devconsole/pkg/core"
	"github.com/modoterra/devconsole/pkg/transport/uds"
)

var execJSON bool

var execCmd = &cobra.Command{
	Use:   "exec <command line...>",
	Short: "Run a console command",
	Long:  "Run a console command. Arguments are joined with spaces; \"-\" reads the line from stdin.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		line := strings.Join(args, " ")
		if line == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			line = strings.TrimSpace(string(data))
		}
		var res core.Result
		err := withClient(5*time.Minute, func(ctx context.Context, c *uds.Client) error {
			var err error
			res, err = c.Execute(ctx, line, map[string]any{"client": "cli"})
			return err
		})
		if err != nil {
			return err
		}
		if execJSON {
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		} else {
			printResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), res)
		}
		if res.Kind == core.KindError {
			return errSilent
		}
		return nil
	},
}

var historyJSON bool

var historyCmd = &cobra.Command{
	Use:   "history [N]",
	Short: "Show recent console commands",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit := 20
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid count %q", args[0])
			}
			limit = n
		}
		return withClient(5*time.Second, func(ctx context.Context, c *uds.Client) error {
			records, err := c.History(ctx, limit)
			if err != nil {
				return err
			}
			if historyJSON {
				return printJSON(cmd.OutOrStdout(), records)
			}
			// Oldest first reads naturally in a terminal.
			for i := len(records) - 1; i >= 0; i-- {
				r := records[i]
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", r.Timestamp.Local().Format("15:04:05"), r.Command)
			}
			return nil
		})
	},
}

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List console commands",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(5*time.Second, func(ctx context.Context, c *uds.Client) error {
			cmds, err := c.Commands(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, info := range cmds {
				origin := "custom"
				if info.Builtin {
					origin = info.Group
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Usage, origin, info.Description)
			}
			return tw.Flush()
		})
	},
}

func init() {
	execCmd.Flags().BoolVar(&execJSON, "json", false, "print the raw result as JSON")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print records as JSON")

	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(commandsCmd)
}

