package telemetry

import (
	"context"
	"log/slog"
	"strings"

	gosentry "github.com/getsentry/sentry-go"

	"github.com/g960059/pnp/internal/security"
)

// Handler tees slog records to Sentry: errors become events, warnings and
// info records become breadcrumbs. Debug records are never forwarded.
// Messages and string fields are redacted before they are handed to Sentry;
// the inner handler sees the record unchanged.
type Handler struct {
	inner  slog.Handler
	attrs  []slog.Attr
	groups []string
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	err := h.inner.Handle(ctx, r)
	if !enabled || r.Level < slog.LevelInfo {
		return err
	}
	fields := security.RedactFields(h.fields(r))
	msg := security.Redact(r.Message)
	switch {
	case r.Level >= slog.LevelError:
		gosentry.WithScope(func(scope *gosentry.Scope) {
			scope.SetLevel(gosentry.LevelError)
			scope.SetExtras(fields)
			gosentry.CaptureMessage(msg)
		})
	case r.Level >= slog.LevelWarn:
		addBreadcrumb(gosentry.LevelWarning, msg, fields)
	default:
		addBreadcrumb(gosentry.LevelInfo, msg, fields)
	}
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	next.inner = h.inner.WithAttrs(attrs)
	for _, a := range attrs {
		next.attrs = append(next.attrs, h.qualify(a))
	}
	return next
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	next.inner = h.inner.WithGroup(name)
	next.groups = append(next.groups, name)
	return next
}

func (h *Handler) clone() *Handler {
	return &Handler{
		inner:  h.inner,
		attrs:  append([]slog.Attr(nil), h.attrs...),
		groups: append([]string(nil), h.groups...),
	}
}

func (h *Handler) qualify(a slog.Attr) slog.Attr {
	if len(h.groups) == 0 {
		return a
	}
	return slog.Attr{Key: strings.Join(h.groups, ".") + "." + a.Key, Value: a.Value}
}

// fields flattens handler and record attributes into Sentry extras.
func (h *Handler) fields(r slog.Record) map[string]any {
	out := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		out[a.Key] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		a = h.qualify(a)
		out[a.Key] = a.Value.Resolve().Any()
		return true
	})
	for k, v := range out {
		if e, ok := v.(error); ok {
			out[k] = e.Error()
		}
	}
	return out
}

func addBreadcrumb(level gosentry.Level, msg string, fields map[string]any) {
	gosentry.AddBreadcrumb(&gosentry.Breadcrumb{
		Level:    level,
		Category: "log",
		Message:  msg,
		Data:     fields,
	})
}
