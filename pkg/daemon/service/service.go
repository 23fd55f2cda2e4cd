// Package service manages the devconsoled systemd user service unit.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/kballard/go-shellquote"
)

// UnitName is the systemd user unit of the daemon.
const UnitName = "devconsoled.service"

// UnitContents returns the systemd unit file contents for the given binary
// path. A non-empty configPath is passed to the daemon with --config.
func UnitContents(binaryPath, configPath string) string {
	execStart := shellquote.Join(binaryPath)
	if configPath != "" {
		execStart += " --config " + shellquote.Join(configPath)
	}
	return fmt.Sprintf(`[Unit]
Description=devconsole daemon: diagnostic console for development environments
Documentation=https://github.com/modoterra/devconsole

[Service]
Type=notify
ExecStart=%s
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`, execStart)
}

// UnitPath returns the path to the systemd user unit file.
func UnitPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "systemd", "user", UnitName), nil
}

// Install writes the unit file, reloads the user manager and enables and
// starts the service.
func Install(ctx context.Context, configPath string) error {
	binaryPath, err := exec.LookPath("devconsoled")
	if err != nil {
		return fmt.Errorf("devconsoled not found in PATH: %w", err)
	}
	binaryPath, err = filepath.Abs(binaryPath)
	if err != nil {
		return fmt.Errorf("cannot resolve devconsoled path: %w", err)
	}
	if configPath != "" {
		if configPath, err = filepath.Abs(configPath); err != nil {
			return fmt.Errorf("cannot resolve config path: %w", err)
		}
	}

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	if err := os.WriteFile(unitPath, []byte(UnitContents(binaryPath, configPath)), 0o644); err != nil {
		return fmt.Errorf("cannot write unit file: %w", err)
	}

	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	if _, _, err := conn.EnableUnitFilesContext(ctx, []string{unitPath}, false, true); err != nil {
		return fmt.Errorf("enable %s: %w", UnitName, err)
	}
	return runJob(ctx, "start", func(ch chan<- string) (int, error) {
		return conn.StartUnitContext(ctx, UnitName, "replace", ch)
	})
}

// Uninstall stops and disables the service, removes the unit file and
// reloads the user manager.
func Uninstall(ctx context.Context) error {
	unitPath, err := UnitPath()
	if err != nil {
		return err
	}

	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	// Not running or not enabled is fine.
	_ = runJob(ctx, "stop", func(ch chan<- string) (int, error) {
		return conn.StopUnitContext(ctx, UnitName, "replace", ch)
	})
	_, _ = conn.DisableUnitFilesContext(ctx, []string{UnitName}, false)

	if err := os.Remove(unitPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cannot remove unit file: %w", err)
	}
	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	return nil
}

func runJob(ctx context.Context, action string, start func(chan<- string) (int, error)) error {
	ch := make(chan string, 1)
	if _, err := start(ch); err != nil {
		return fmt.Errorf("systemd %s %s: %w", action, UnitName, err)
	}
	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("systemd %s %s: job result %q", action, UnitName, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UnitState is the live state of the daemon unit.
type UnitState struct {
	LoadState   string
	ActiveState string
	SubState    string
	MainPID     uint32
	MemBytes    uint64
}

// String formats the state the way systemctl status summarizes it.
func (s UnitState) String() string {
	if s.SubState == "" {
		return s.ActiveState
	}
	return fmt.Sprintf("%s (%s)", s.ActiveState, s.SubState)
}

// State queries the user manager for the daemon unit.
func State(ctx context.Context) (UnitState, error) {
	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return UnitState{}, fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	units, err := conn.ListUnitsByNamesContext(ctx, []string{UnitName})
	if err != nil {
		return UnitState{}, fmt.Errorf("list units: %w", err)
	}
	if len(units) == 0 {
		return UnitState{ActiveState: "unknown"}, nil
	}
	u := units[0]
	st := UnitState{LoadState: u.LoadState, ActiveState: u.ActiveState, SubState: u.SubState}
	if u.ActiveState == "active" {
		props, err := conn.GetUnitTypePropertiesContext(ctx, UnitName, "Service")
		if err == nil {
			if pid, ok := props["MainPID"].(uint32); ok {
				st.MainPID = pid
			}
			if mem, ok := props["MemoryCurrent"].(uint64); ok && mem != ^uint64(0) {
				st.MemBytes = mem
			}
		}
	}
	return st, nil
}

// Status returns a human-readable status string.
func Status(ctx context.Context, socketPath string) string {
	var lines []string

	if _, err := os.Stat(socketPath); err == nil {
		lines = append(lines, "socket: active ("+socketPath+")")
	} else {
		lines = append(lines, "socket: inactive ("+socketPath+")")
	}

	unitPath, err := UnitPath()
	if err != nil {
		return strings.Join(lines, "\n")
	}
	if _, statErr := os.Stat(unitPath); statErr != nil {
		lines = append(lines, "systemd user service: not installed")
		return strings.Join(lines, "\n")
	}

	st, err := State(ctx)
	if err != nil {
		lines = append(lines, "systemd user service: unknown ("+err.Error()+")")
		return strings.Join(lines, "\n")
	}
	line := "systemd user service: " + st.String()
	if st.MainPID > 0 {
		line += fmt.Sprintf(", pid %d", st.MainPID)
	}
	lines = append(lines, line)
	return strings.Join(lines, "\n")
}
