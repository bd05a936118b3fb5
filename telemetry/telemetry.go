// Package telemetry integrates dispatcher and bus instrumentation with Clue
// logging and OTEL metrics.
package telemetry

import (
	"context"
	"time"
)

// Logger captures structured logging used throughout the core. Implementations
// typically delegate to Clue but the interface is intentionally small so tests
// can provide lightweight stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter and histogram helpers for core instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}
