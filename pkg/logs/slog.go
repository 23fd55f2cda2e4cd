package logs

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/modoterra/devconsole/pkg/core"
)

// ChannelKey is the attribute that overrides the producer channel of a
// record, e.g. logger.With(logs.ChannelKey, "http.access").
const ChannelKey = "logger"

// Handler is a slog.Handler that records into a Monitor and optionally
// forwards every record to a next handler.
type Handler struct {
	att     *Attachment
	next    slog.Handler
	channel string
	prefix  string // open group names joined with "."
	attrs   string // preformatted " k=v" pairs
}

// SlogHandler returns a handler feeding the attachment. next may be nil.
func (a *Attachment) SlogHandler(next slog.Handler) *Handler {
	return &Handler{att: a, next: next}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.att.Active() {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		err = h.next.Handle(ctx, r.Clone())
	}
	if !h.att.Active() {
		return err
	}

	channel := h.channel
	var b strings.Builder
	b.WriteString(r.Message)
	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		if h.prefix == "" && a.Key == ChannelKey {
			channel = a.Value.String()
			return true
		}
		appendAttr(&b, h.prefix, a)
		return true
	})
	h.att.emit(channel, slogLevel(r.Level), b.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	if h.next != nil {
		h2.next = h.next.WithAttrs(attrs)
	}
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		if h.prefix == "" && a.Key == ChannelKey {
			h2.channel = a.Value.String()
			continue
		}
		appendAttr(&b, h.prefix, a)
	}
	h2.attrs = b.String()
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	if h.next != nil {
		h2.next = h.next.WithGroup(name)
	}
	h2.prefix = h.prefix + name + "."
	return &h2
}

func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(b, p, ga)
		}
		return
	}
	v := a.Value.String()
	if v == "" || strings.ContainsAny(v, " \t\n\"=") {
		v = strconv.Quote(v)
	}
	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(v)
}

func slogLevel(l slog.Level) core.Level {
	switch {
	case l >= slog.LevelError+4:
		return core.LevelCritical
	case l >= slog.LevelError:
		return core.LevelError
	case l >= slog.LevelWarn:
		return core.LevelWarning
	case l >= slog.LevelInfo:
		return core.LevelInfo
	default:
		return core.LevelDebug
	}
}
