package console

import (
	"context"
	"fmt"

	"github.com/modoterra/devconsole/pkg/core"
	"github.com/modoterra/devconsole/pkg/logs"
	"github.com/modoterra/devconsole/pkg/terminal"
)

// Emit records a log event produced on channel. It never fails.
func (c *Console) Emit(channel, level, message string) {
	c.monitor.Emit(channel, level, message)
}

// Entries returns up to limit entries of source, newest first, optionally
// restricted to one level.
func (c *Console) Entries(source string, limit int, level string) []core.LogEntry {
	return c.monitor.Entries(source, limit, level)
}

// Query runs a filtered log query against source.
func (c *Console) Query(source string, q logs.Query) ([]core.LogEntry, error) {
	return c.monitor.Query(source, q)
}

// Sources lists known logical sources.
func (c *Console) Sources() []string {
	return c.monitor.Sources()
}

// SetAlias routes channels starting with prefix to alias.
func (c *Console) SetAlias(prefix, alias string) {
	c.monitor.SetAlias(prefix, alias)
}

// Attach connects a producer channel, optionally routed to alias.
func (c *Console) Attach(channel, alias string) *logs.Attachment {
	return c.monitor.Attach(channel, alias)
}

// ClearLogs empties source. Remote callers are refused unless
// logs.allow_clear is set; local callers use Monitor().Clear.
func (c *Console) ClearLogs(source string) error {
	if !c.cfg.Logs.AllowClear {
		return fmt.Errorf("clear logs: %w", ErrDisabled)
	}
	c.monitor.Clear(source)
	c.logger.Info("logs cleared", "source", source)
	return nil
}

// Subscribe returns a channel of newly ingested entries and a function that
// ends the subscription.
func (c *Console) Subscribe() (<-chan core.LogEntry, func()) {
	return c.monitor.Subscribe()
}

// Register adds or replaces a custom command.
func (c *Console) Register(name string, h terminal.Handler, description string) error {
	return c.engine.Register(name, h, description)
}

// Execute runs one command line on behalf of submitter.
func (c *Console) Execute(ctx context.Context, line string, submitter map[string]any) core.Result {
	return c.engine.Execute(ctx, line, submitter)
}

// Commands returns every command sorted by name.
func (c *Console) Commands() []core.CommandInfo {
	list := c.engine.List()
	out := make([]core.CommandInfo, len(list))
	for i, cmd := range list {
		out[i] = core.CommandInfo{
			Name:        cmd.Name,
			Description: cmd.Description,
			Usage:       cmd.Usage,
			Group:       cmd.Group,
			Builtin:     cmd.Builtin,
		}
	}
	return out
}

// History returns up to limit past invocations, newest first.
func (c *Console) History(limit int) []core.HistoryRecord {
	return c.engine.History(limit)
}

// Close detaches every producer and ends all log subscriptions. It is safe
// to call more than once.
func (c *Console) Close() error {
	c.closeOnce.Do(func() {
		c.monitor.Close()
		c.logger.Debug("console closed", "id", c.id)
	})
	return nil
}
