package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/modoterra/devconsole/pkg/core"
	"github.com/modoterra/devconsole/pkg/logs"
	"github.com/modoterra/devconsole/pkg/transport/uds"
)

var logsFlags struct {
	limit  int
	level  string
	since  string
	where  string
	follow bool
	json   bool
}

var logsCmd = &cobra.Command{
	Use:   "logs [source]",
	Short: "Show or follow log entries",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := logs.DefaultSource
		if len(args) == 1 {
			source = args[0]
		}
		level := ""
		if logsFlags.level != "" {
			l, ok := core.LookupLevel(logsFlags.level)
			if !ok {
				return fmt.Errorf("unknown level %q", logsFlags.level)
			}
			level = string(l)
		}
		since, err := parseSince(logsFlags.since, time.Now())
		if err != nil {
			return err
		}

		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		entries, err := client.Logs(ctx, uds.LogsRequest{
			Source: source,
			Limit:  logsFlags.limit,
			Level:  level,
			Since:  since,
			Where:  logsFlags.where,
		})
		cancel()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		// Entries arrive newest first.
		for i := len(entries) - 1; i >= 0; i-- {
			printEntry(out, entries[i])
		}
		if !logsFlags.follow {
			return nil
		}

		lines := make(chan core.LogEntry, 256)
		client.OnEvent(func(msg uds.Message) {
			if msg.Method != uds.EventLogsLine {
				return
			}
			e, err := uds.DecodeLogLine(msg)
			if err != nil {
				return
			}
			select {
			case lines <- e:
			default:
			}
		})
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		err = client.Subscribe(ctx, source)
		cancel()
		if err != nil {
			return err
		}

		sig, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		for {
			select {
			case e := <-lines:
				if level != "" && string(e.Level) != level {
					continue
				}
				printEntry(out, e)
			case <-client.Done():
				return fmt.Errorf("daemon closed the connection")
			case <-sig.Done():
				return nil
			}
		}
	},
}

func printEntry(w io.Writer, e core.LogEntry) {
	if logsFlags.json {
		printJSON(w, e)
		return
	}
	fmt.Fprintln(w, formatEntry(w, e))
}

// parseSince accepts a duration ("15m", meaning that long ago) or an
// RFC 3339 timestamp.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: want a duration or RFC 3339 time", s)
	}
	return t, nil
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List log sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(5*time.Second, func(ctx context.Context, c *uds.Client) error {
			sources, err := c.Sources(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tENTRIES\tPATH")
			for _, s := range sources {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Name, s.Entries, s.Path)
			}
			return tw.Flush()
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear <source>",
	Short: "Empty a log source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(5*time.Second, func(ctx context.Context, c *uds.Client) error {
			if err := c.ClearLogs(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", args[0])
			return nil
		})
	},
}

var aliasCmd = &cobra.Command{
	Use:   "alias <prefix> <alias>",
	Short: "Route channels starting with prefix to a logical source",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(5*time.Second, func(ctx context.Context, c *uds.Client) error {
			if err := c.SetAlias(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s* → %s\n", args[0], args[1])
			return nil
		})
	},
}

func init() {
	f := logsCmd.Flags()
	f.IntVarP(&logsFlags.limit, "limit", "n", 50, "maximum number of entries")
	f.StringVar(&logsFlags.level, "level", "", "only entries of this level")
	f.StringVar(&logsFlags.since, "since", "", "only entries newer than a duration ago or an RFC 3339 time")
	f.StringVar(&logsFlags.where, "where", "", "CEL filter over entry fields")
	f.BoolVarP(&logsFlags.follow, "follow", "f", false, "keep streaming new entries")
	f.BoolVar(&logsFlags.json, "json", false, "print entries as JSON")

	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(aliasCmd)
}
