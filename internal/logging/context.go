package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	flowIDKey ctxKey = iota
	runIDKey
	nodeIDKey
	docIDKey
)

// correlationKeys maps each context key to its log attribute name,
// in the order attributes are emitted.
var correlationKeys = []struct {
	key  ctxKey
	attr string
}{
	{flowIDKey, "flow_id"},
	{runIDKey, "run_id"},
	{nodeIDKey, "node_id"},
	{docIDKey, "doc_id"},
}

// WithFlowID returns a context carrying the flow ID.
func WithFlowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, flowIDKey, id)
}

// WithRunID returns a context carrying the run ID.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithNodeID returns a context carrying the node ID.
func WithNodeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, nodeIDKey, id)
}

// WithDocID returns a context carrying the document ID.
func WithDocID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, docIDKey, id)
}

// WithRun sets the flow, run and document IDs at once.
func WithRun(ctx context.Context, flowID, runID, docID string) context.Context {
	ctx = WithFlowID(ctx, flowID)
	ctx = WithRunID(ctx, runID)
	return WithDocID(ctx, docID)
}

func FlowID(ctx context.Context) string { return value(ctx, flowIDKey) }
func RunID(ctx context.Context) string  { return value(ctx, runIDKey) }
func NodeID(ctx context.Context) string { return value(ctx, nodeIDKey) }
func DocID(ctx context.Context) string  { return value(ctx, docIDKey) }

func value(ctx context.Context, k ctxKey) string {
	v, _ := ctx.Value(k).(string)
	return v
}

// attrs returns the non-empty correlation IDs on ctx.
func attrs(ctx context.Context) []slog.Attr {
	var out []slog.Attr
	for _, ck := range correlationKeys {
		if v := value(ctx, ck.key); v != "" {
			out = append(out, slog.String(ck.attr, v))
		}
	}
	return out
}

// LogWith returns a logger enriched with the correlation IDs on ctx.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range attrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler and adds the correlation IDs
// on the record's context, so callers just use logger.InfoContext(ctx, ...).
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps inner with correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(attrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(as []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(as)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// ParseLevel maps debug|info|warn|error onto slog levels. Unknown values are info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
