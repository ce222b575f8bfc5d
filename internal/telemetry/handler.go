package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

// Handler is a slog.Handler that emits every record to an OTel logger and
// then passes it on to the next handler, so logs reach both the terminal and
// the collector.
type Handler struct {
	next   slog.Handler
	logger log.Logger
	prefix string
	attrs  []log.KeyValue
}

// NewHandler wraps next, emitting records to logger.
func NewHandler(next slog.Handler, logger log.Logger) *Handler {
	return &Handler{next: next, logger: logger}
}

// Bridge wraps next with a Handler bound to the global logger provider
// installed by [Setup].
func Bridge(next slog.Handler) *Handler {
	return NewHandler(next, global.GetLoggerProvider().Logger(DefaultServiceName))
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var rec log.Record
	rec.SetTimestamp(r.Time)
	rec.SetObservedTimestamp(time.Now())
	rec.SetBody(log.StringValue(r.Message))
	rec.SetSeverity(severity(r.Level))
	rec.SetSeverityText(r.Level.String())
	rec.AddAttributes(h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		rec.AddAttributes(convert(h.prefix, a)...)
		return true
	})
	h.logger.Emit(ctx, rec)

	return h.next.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	kvs := make([]log.KeyValue, len(h.attrs), len(h.attrs)+len(attrs))
	copy(kvs, h.attrs)
	for _, a := range attrs {
		kvs = append(kvs, convert(h.prefix, a)...)
	}
	return &Handler{next: h.next.WithAttrs(attrs), logger: h.logger, prefix: h.prefix, attrs: kvs}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &Handler{next: h.next.WithGroup(name), logger: h.logger, prefix: h.prefix + name + ".", attrs: h.attrs}
}

func severity(l slog.Level) log.Severity {
	switch {
	case l >= slog.LevelError:
		return log.SeverityError
	case l >= slog.LevelWarn:
		return log.SeverityWarn
	case l >= slog.LevelInfo:
		return log.SeverityInfo
	default:
		return log.SeverityDebug
	}
}

// convert flattens a into OTel key/values; groups become dotted keys.
func convert(prefix string, a slog.Attr) []log.KeyValue {
	v := a.Value.Resolve()
	key := prefix + a.Key
	switch v.Kind() {
	case slog.KindGroup:
		var out []log.KeyValue
		for _, ga := range v.Group() {
			out = append(out, convert(key+".", ga)...)
		}
		return out
	case slog.KindString:
		return []log.KeyValue{log.String(key, v.String())}
	case slog.KindInt64:
		return []log.KeyValue{log.Int64(key, v.Int64())}
	case slog.KindUint64:
		return []log.KeyValue{log.Int64(key, int64(v.Uint64()))} //nolint:gosec // counters never overflow int64
	case slog.KindFloat64:
		return []log.KeyValue{log.Float64(key, v.Float64())}
	case slog.KindBool:
		return []log.KeyValue{log.Bool(key, v.Bool())}
	case slog.KindDuration:
		return []log.KeyValue{log.String(key, v.Duration().String())}
	case slog.KindTime:
		return []log.KeyValue{log.String(key, v.Time().Format(time.RFC3339Nano))}
	default:
		if err, ok := v.Any().(error); ok {
			return []log.KeyValue{log.String(key, err.Error())}
		}
		return []log.KeyValue{log.String(key, fmt.Sprint(v.Any()))}
	}
}
