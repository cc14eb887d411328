package otel

import (
	"os"
	"sync/atomic"
)

// traceEnabled is set once at package init. Atomic for safe concurrent access
// (production reads in session goroutines, test writes via setTraceEnabled).
var traceEnabled atomic.Bool

func init() {
	traceEnabled.Store(os.Getenv("FEEDCARD_TRACE") != "")
}

// TraceEnabled reports whether FEEDCARD_TRACE is set. When true, debug-level
// events (skipped activations, projection recomputes) are emitted too.
func TraceEnabled() bool {
	return traceEnabled.Load()
}

// setTraceEnabled overrides the traceEnabled flag for testing.
func setTraceEnabled(v bool) {
	traceEnabled.Store(v)
}

// Debug emits a debug-level event, but only when tracing is enabled.
func (l *Logger) Debug(e Event) {
	if !TraceEnabled() {
		return
	}
	e.Level = LevelDebug
	l.Emit(e)
}
