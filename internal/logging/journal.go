package logging

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

// Identifier is the syslog identifier attached to every journal entry.
const Identifier = "os_patching"

// journalSend is swapped out in tests.
var (
	journalSend      = journal.Send
	journalAvailable = journal.Enabled
)

// journalHandler writes records to the systemd journal. Attributes are
// rendered into the message as key=value pairs; the component and run id are
// also sent as journal fields so they can be filtered with journalctl.
type journalHandler struct {
	identifier string
	level      slog.Leveler
	prefix     string
	attrs      []slog.Attr
}

func newJournalHandler(identifier string, level slog.Leveler) *journalHandler {
	return &journalHandler{identifier: identifier, level: level}
}

func (h *journalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *journalHandler) Handle(_ context.Context, record slog.Record) error {
	vars := map[string]string{
		"SYSLOG_IDENTIFIER": h.identifier,
	}

	var b strings.Builder
	b.WriteString(record.Message)

	write := func(a slog.Attr) bool {
		appendAttr(&b, vars, "", a)
		return true
	}
	for _, a := range h.attrs {
		write(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		return write(a)
	})

	return journalSend(b.String(), priority(record.Level), vars)
}

func (h *journalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		merged = append(merged, a)
	}
	return &journalHandler{
		identifier: h.identifier,
		level:      h.level,
		prefix:     h.prefix,
		attrs:      merged,
	}
}

func (h *journalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	attrs := make([]slog.Attr, len(h.attrs))
	copy(attrs, h.attrs)
	return &journalHandler{
		identifier: h.identifier,
		level:      h.level,
		prefix:     h.prefix + name + ".",
		attrs:      attrs,
	}
}

func appendAttr(b *strings.Builder, vars map[string]string, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(b, vars, groupPrefix, ga)
		}
		return
	}

	key := prefix + a.Key
	value := a.Value.String()

	switch key {
	case KeyComponent:
		vars["COMPONENT"] = value
	case KeyRunID:
		vars["RUN_ID"] = value
	}

	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	if value == "" || strings.ContainsAny(value, " =\"\n\t") {
		value = strconv.Quote(value)
	}
	b.WriteString(value)
}

func priority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}
