package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/modoterra/devconsole/internal/buildinfo"
	"github.com/modoterra/devconsole/pkg/config"
	"github.com/modoterra/devconsole/pkg/transport/uds"
	tuimodel "github.com/modoterra/devconsole/pkg/tui/model"
)

// errSilent is returned by commands that already reported their failure.
var errSilent = errors.New("command failed")

var (
	socketPath string
	noColor    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errSilent) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "devconsole",
	Short:         "Diagnostic console for development environments",
	Long:          "devconsole talks to devconsoled: run console commands, query and follow logs, and manage supervised processes.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runTUI,
}

func init() {
	defaultSocket := config.DefaultSocket
	if v := os.Getenv("DEVCONSOLE_SOCKET"); v != "" {
		defaultSocket = v
	}
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", defaultSocket, "daemon socket path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runTUI(_ *cobra.Command, _ []string) error {
	ensureDaemon()
	p := tea.NewProgram(tuimodel.New(socketPath), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// ensureDaemon starts devconsoled in the background unless one already
// answers on the socket. A socket file left behind by a crashed daemon does
// not count.
func ensureDaemon() {
	if daemonAlive() {
		return
	}
	cmd := exec.Command("devconsoled", "--socket", socketPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: could not start devconsoled:", err)
		return
	}
	go cmd.Wait()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if daemonAlive() {
			return
		}
	}
	fmt.Fprintln(os.Stderr, "warning: devconsoled did not come up, continuing anyway")
}

func daemonAlive() bool {
	client, err := uds.Dial(socketPath)
	if err != nil {
		return false
	}
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = client.Ping(ctx)
	return err == nil
}

func dialDaemon() (*uds.Client, error) {
	client, err := uds.Dial(socketPath)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon at %s: %w", socketPath, err)
	}
	return client, nil
}

// withClient dials the daemon and runs fn under a request timeout.
func withClient(timeout time.Duration, fn func(ctx context.Context, c *uds.Client) error) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return fn(ctx, client)
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if daemon is running",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(2*time.Second, func(ctx context.Context, c *uds.Client) error {
			pong, err := c.Ping(ctx)
			if err != nil {
				return err
			}
			if pong.Pong {
				fmt.Fprintf(cmd.OutOrStdout(), "pong ✓ devconsoled %s, console %s, up %s\n",
					pong.Version, pong.ID, pong.Uptime.Round(time.Second))
			}
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String("devconsole"))
	},
}

var daemonConfig string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start devconsoled in the foreground (for debugging)",
	Long:  "Normally the TUI starts the daemon. Use this to run it manually.",
	RunE: func(_ *cobra.Command, _ []string) error {
		args := []string{"--socket", socketPath}
		if daemonConfig != "" {
			args = append(args, "--config", daemonConfig)
		}
		cmd := exec.Command("devconsoled", args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd.Run()
	},
}

func init() {
	daemonCmd.Flags().StringVar(&daemonConfig, "config", "", "path to "+config.FileName)
}
