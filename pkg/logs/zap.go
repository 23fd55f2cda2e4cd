package logs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/modoterra/devconsole/pkg/core"
)

type zapCore struct {
	zapcore.LevelEnabler
	att    *Attachment
	fields []zapcore.Field
}

// ZapCore returns a zapcore.Core feeding the attachment, for use with
// zapcore.NewTee next to a host's own cores. A named logger overrides the
// attachment channel.
func (a *Attachment) ZapCore(enab zapcore.LevelEnabler) zapcore.Core {
	if enab == nil {
		enab = zapcore.DebugLevel
	}
	return &zapCore{LevelEnabler: enab, att: a}
}

func (c *zapCore) Enabled(l zapcore.Level) bool {
	return c.att.Active() && c.LevelEnabler.Enabled(l)
}

func (c *zapCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

func (c *zapCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *zapCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	keys := make([]string, 0, len(enc.Fields))
	for k := range enc.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(ent.Message)
	for _, k := range keys {
		v := fmt.Sprint(enc.Fields[k])
		if v == "" || strings.ContainsAny(v, " \t\n\"=") {
			v = strconv.Quote(v)
		}
		b.WriteString(" " + k + "=" + v)
	}
	if ent.Stack != "" {
		b.WriteString("\n" + ent.Stack)
	}
	c.att.emit(ent.LoggerName, zapLevel(ent.Level), b.String())
	return nil
}

func (c *zapCore) Sync() error { return nil }

func zapLevel(l zapcore.Level) core.Level {
	switch {
	case l >= zapcore.DPanicLevel:
		return core.LevelCritical
	case l == zapcore.ErrorLevel:
		return core.LevelError
	case l == zapcore.WarnLevel:
		return core.LevelWarning
	case l == zapcore.InfoLevel:
		return core.LevelInfo
	default:
		return core.LevelDebug
	}
}
