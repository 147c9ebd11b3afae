// Package logging defines the structured-logging interface used across the
// library. Implementations wrap a concrete backend (slog here); callers
// depend only on Logger so the backend can be swapped without touching
// internal/orchestrator, internal/manager, or cmd/limectl.
package logging

import "context"

// Logger is a context-aware, structured logger. The variadic args are
// key-value pairs, e.g. log.Info(ctx, "session established", "peer", deviceID).
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key-value
	// pairs, used to bind a peer device id or local user id for the
	// duration of one orchestrator call.
	With(args ...any) Logger
}

// Noop discards every call; used where a caller hasn't wired a Logger (the
// Manager's zero value, tests that don't assert on log output).
type Noop struct{}

func (Noop) Debug(context.Context, string, ...any) {}
func (Noop) Info(context.Context, string, ...any)  {}
func (Noop) Warn(context.Context, string, ...any)  {}
func (Noop) Error(context.Context, string, ...any) {}
func (Noop) With(...any) Logger                    { return Noop{} }
