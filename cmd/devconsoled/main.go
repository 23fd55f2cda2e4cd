package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/modoterra/devconsole/internal/buildinfo"
	"github.com/modoterra/devconsole/pkg/config"
	"github.com/modoterra/devconsole/pkg/console"
	"github.com/modoterra/devconsole/pkg/daemon"
	"github.com/modoterra/devconsole/pkg/host"
)

var (
	configPath string
	socketFlag string
	listenFlag string
	debugFlag  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "devconsoled",
	Short:         "devconsole daemon",
	Long:          "devconsoled hosts a diagnostic console next to a small HTTP application, supervises configured processes and serves the console over a Unix socket.",
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE:          run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String("devconsoled"))
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to "+config.FileName+" (default: search upward from the working directory)")
	rootCmd.Flags().StringVar(&socketFlag, "socket", "", "override daemon.socket")
	rootCmd.Flags().StringVar(&listenFlag, "listen", "", "override daemon.listen")
	rootCmd.Flags().BoolVar(&debugFlag, "debug", false, "debug logging; also reported as the host debug flag")
	rootCmd.AddCommand(versionCmd)
}

// newLogger writes text to a terminal and JSON otherwise, e.g. under systemd.
func newLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debugFlag {
		opts.Level = slog.LevelDebug
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func newAccessCore() zapcore.Core {
	level := zapcore.InfoLevel
	if debugFlag {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if term.IsTerminal(int(os.Stderr.Fd())) {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	return zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
}

// loadConfig reads the explicit config file, or the nearest one above the
// working directory, or falls back to defaults rooted at the working
// directory.
func loadConfig(logger *slog.Logger) (*config.Config, error) {
	path := configPath
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		found, ok := config.Find(wd)
		if !ok {
			logger.Info("no config file found, using defaults", "dir", wd)
			cfg := config.Default()
			cfg.Root = wd
			return cfg, nil
		}
		path = found
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Info("config loaded", "path", path, "sources", len(cfg.Logs.Sources), "exec", len(cfg.Daemon.Exec))
	return cfg, nil
}

func hostSettings(cfg *config.Config) map[string]any {
	env := os.Getenv("DEVCONSOLE_ENV")
	if env == "" {
		env = "development"
	}
	return map[string]any{
		"ENV":        env,
		"DEBUG":      debugFlag,
		"TESTING":    false,
		"LISTEN":     cfg.Daemon.Listen,
		"SOCKET":     cfg.Daemon.Socket,
		"ROOT":       cfg.Root,
		"SECRET_KEY": os.Getenv("SECRET_KEY"),
	}
}

func run(_ *cobra.Command, _ []string) error {
	base := newLogger()

	cfg, err := loadConfig(base)
	if err != nil {
		return err
	}
	config.FromEnv(cfg)
	if socketFlag != "" {
		cfg.Daemon.Socket = socketFlag
	}
	if listenFlag != "" {
		cfg.Daemon.Listen = listenFlag
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			base.Error("config validation", "err", e)
		}
		return fmt.Errorf("invalid configuration: %d error(s)", len(errs))
	}

	app := host.New(host.Options{
		Name:       cfg.Name,
		Debug:      debugFlag,
		Settings:   hostSettings(cfg),
		Extensions: []string{"supervisor", "journal", "console"},
	})
	c, err := console.New(console.Options{
		Config:  cfg,
		Host:    app,
		Logger:  base.With("component", "console"),
		Version: buildinfo.Version,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	// The transport stays on the base logger: its own log lines describe
	// pushing log lines and must not be captured.
	logger := base
	if cfg.Logs.CaptureRoot {
		logger = slog.New(c.Attach("root", "devconsoled").SlogHandler(base.Handler()))
		slog.SetDefault(logger)
	}
	app.SetLogger(zap.New(zapcore.NewTee(
		newAccessCore(),
		c.Attach("http.access", "http").ZapCore(zapcore.DebugLevel),
	)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := daemon.NewSupervisor(ctx, c.Emit, logger.With("component", "supervisor"))
	for name, x := range cfg.Daemon.Exec {
		c.SetAlias(daemon.Channel(name), name)
		if err := sup.Register(name, x); err != nil {
			return err
		}
	}

	d, err := daemon.New(daemon.Options{
		Console:    c,
		Socket:     cfg.Daemon.Socket,
		Version:    buildinfo.Version,
		Supervisor: sup,
		Logger:     base.With("component", "daemon"),
	})
	if err != nil {
		return err
	}
	journal := daemon.NewJournalFollower(c.Emit, logger.With("component", "journal"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Run(gctx) })
	g.Go(func() error {
		if err := app.ListenAndServe(gctx, cfg.Daemon.Listen); err != nil {
			return fmt.Errorf("host listen %s: %w", cfg.Daemon.Listen, err)
		}
		return nil
	})
	g.Go(func() error {
		daemon.NewPollLoop(d, cfg.Daemon.PollInterval, base.With("component", "poll")).Run(gctx)
		return nil
	})
	journal.Follow(gctx, cfg.Daemon.Journal...)
	sup.StartAll()

	if ok, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady); err != nil {
		logger.Warn("sd_notify failed", "err", err)
	} else if ok {
		logger.Debug("notified systemd")
	}
	logger.Info("devconsoled started",
		"version", buildinfo.Version,
		"socket", cfg.Daemon.Socket,
		"listen", cfg.Daemon.Listen,
		"console", c.ID(),
	)

	err = g.Wait()
	logger.Info("shutting down")
	_, _ = sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
	sup.StopAll()
	journal.Wait()
	d.Shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
