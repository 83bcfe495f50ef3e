package tools

import (
	"context"

	"weave/internal/history"
)

type historyCtxKey struct{}

// WithHistory attaches a read-only snapshot of the thread's history so
// introspective tools (history_dump) can answer without a direct dependency
// on the engine or checkpointer.
func WithHistory(ctx context.Context, h *history.History) context.Context {
	return context.WithValue(ctx, historyCtxKey{}, h)
}

// HistoryFromContext returns the snapshot attached by WithHistory, or nil if
// none was set.
func HistoryFromContext(ctx context.Context) *history.History {
	h, _ := ctx.Value(historyCtxKey{}).(*history.History)
	return h
}
