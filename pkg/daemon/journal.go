package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/modoterra/devconsole/pkg/core"
)

// JournalChannelPrefix prefixes the log channel of every followed unit.
const JournalChannelPrefix = "journal."

// journalCommand builds the follower process. Tests replace it.
var journalCommand = func(ctx context.Context, unit string) *exec.Cmd {
	return exec.CommandContext(ctx, "journalctl", "--follow", "--unit", unit, "--output", "cat", "--lines", "0")
}

// JournalFollower streams the journal of systemd units into a Sink on
// channel "journal.<unit>".
type JournalFollower struct {
	sink   Sink
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewJournalFollower creates a follower that writes into sink.
func NewJournalFollower(sink Sink, logger *slog.Logger) *JournalFollower {
	if logger == nil {
		logger = slog.Default()
	}
	return &JournalFollower{sink: sink, logger: logger}
}

// Follow tails the given units until ctx is cancelled. A journalctl that
// exits early is restarted with backoff.
func (j *JournalFollower) Follow(ctx context.Context, units ...string) {
	for _, unit := range units {
		j.wg.Add(1)
		go func() {
			defer j.wg.Done()
			j.follow(ctx, unit)
		}()
	}
}

// Wait blocks until every follower has exited.
func (j *JournalFollower) Wait() { j.wg.Wait() }

func (j *JournalFollower) follow(ctx context.Context, unit string) {
	channel := JournalChannelPrefix + unit
	failures := 0
	for ctx.Err() == nil {
		started := time.Now()
		if err := j.stream(ctx, unit, channel); err != nil && ctx.Err() == nil {
			j.logger.Warn("journal follower stopped", "unit", unit, "err", err)
		}
		if time.Since(started) > time.Minute {
			failures = 0
		}
		failures++

		timer := time.NewTimer(backoff(failures))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (j *JournalFollower) stream(ctx context.Context, unit, channel string) error {
	cmd := journalCommand(ctx, unit)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("journalctl pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("journalctl start: %w", err)
	}
	j.logger.Info("following journal", "unit", unit)

	readErr := forwardLines(stdout, func(line string) {
		j.sink(channel, string(core.ExtractLevel(line)), line)
	})
	waitErr := cmd.Wait()
	if readErr != nil {
		return readErr
	}
	return waitErr
}
