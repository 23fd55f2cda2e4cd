package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/modoterra/devconsole/pkg/transport/uds"
)

// PollLoop periodically refreshes file sources for live subscribers and
// broadcasts changes in supervised process state.
type PollLoop struct {
	daemon   *Daemon
	interval time.Duration
	logger   *slog.Logger

	last map[string]uds.ProcessInfo
}

// NewPollLoop creates a poll loop for the given daemon.
func NewPollLoop(d *Daemon, interval time.Duration, logger *slog.Logger) *PollLoop {
	if logger == nil {
		logger = slog.Default()
	}
	return &PollLoop{daemon: d, interval: interval, logger: logger}
}

// Run starts the poll loop. Blocks until ctx is cancelled.
func (pl *PollLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(pl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pl.tick()
		}
	}
}

func (pl *PollLoop) tick() {
	// File sources are only read on query; subscribers would otherwise
	// never see appended lines.
	if pl.daemon.hasLogSubscribers() {
		pl.daemon.console.Monitor().RefreshFiles()
	}

	if pl.daemon.supervisor == nil {
		return
	}
	current := make(map[string]uds.ProcessInfo)
	for _, info := range pl.daemon.supervisor.List() {
		current[info.Name] = info
	}
	delta := computeDelta(pl.last, current)
	pl.last = current
	if !delta.HasChanges() {
		return
	}
	evt, err := uds.NewEvent(uds.EventProcessesDelta, delta)
	if err != nil {
		pl.logger.Error("encode processes delta", "err", err)
		return
	}
	pl.daemon.Server().Broadcast(evt)
}

// Delta represents process changes between poll cycles.
type Delta struct {
	Added   []uds.ProcessInfo `json:"added,omitempty"`
	Updated []uds.ProcessInfo `json:"updated,omitempty"`
	Removed []string          `json:"removed,omitempty"`
}

// HasChanges returns true if the delta contains any changes.
func (d Delta) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Updated) > 0 || len(d.Removed) > 0
}

func computeDelta(old, new map[string]uds.ProcessInfo) Delta {
	var d Delta
	for name, info := range new {
		prev, existed := old[name]
		if !existed {
			d.Added = append(d.Added, info)
		} else if processChanged(prev, info) {
			d.Updated = append(d.Updated, info)
		}
	}
	for name := range old {
		if _, exists := new[name]; !exists {
			d.Removed = append(d.Removed, name)
		}
	}
	return d
}

func processChanged(a, b uds.ProcessInfo) bool {
	return a.Status != b.Status ||
		a.PID != b.PID ||
		a.Restarts != b.Restarts ||
		a.MemBytes != b.MemBytes
}
