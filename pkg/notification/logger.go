package notification

import (
	"context"
	"log/slog"
	"os"
)

// LogFunc is the legacy logging callback kept for applications that predate
// the structured logger. It receives a level and a pre-formatted line.
type LogFunc func(level slog.Level, msg string)

// ResolveLogger picks the logger the router will use, by priority:
// an explicitly supplied *slog.Logger wins, then a legacy LogFunc bridged
// through a slog handler, then a default JSON logger on stdout.
func ResolveLogger(logger *slog.Logger, legacy LogFunc) *slog.Logger {
	if logger != nil {
		return logger
	}
	if legacy != nil {
		return slog.New(funcHandler{fn: legacy})
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// funcHandler bridges a LogFunc into the slog handler interface. Attributes
// and groups are appended to the message text since the callback is flat.
type funcHandler struct {
	fn    LogFunc
	attrs []slog.Attr
}

func (h funcHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h funcHandler) Handle(_ context.Context, rec slog.Record) error {
	msg := rec.Message
	appendAttr := func(a slog.Attr) bool {
		msg += " " + a.Key + "=" + a.Value.String()
		return true
	}
	for _, a := range h.attrs {
		appendAttr(a)
	}
	rec.Attrs(appendAttr)
	h.fn(rec.Level, msg)
	return nil
}

func (h funcHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return funcHandler{fn: h.fn, attrs: merged}
}

func (h funcHandler) WithGroup(_ string) slog.Handler { return h }
