// Package audit delivers WARN and ERROR events to an operator-facing sink.
// Delivery is synchronous but best-effort: a failing sink never blocks
// business logic.
package audit

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
)

// Level classifies an audit event.
type Level string

const (
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Sink receives audit events.
type Sink interface {
	Emit(ctx context.Context, level Level, event string, fields map[string]any)
}

// LogSink writes audit events to a standard logger.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a logger-backed sink.
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSink{logger: logger}
}

// Compile-time interface check.
var _ Sink = (*LogSink)(nil)

// Emit writes one event line. Field order is sorted for stable output.
func (s *LogSink) Emit(_ context.Context, level Level, event string, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	s.logger.Printf("%s %s%s", level, event, b.String())
}

// Nop discards all events.
type Nop struct{}

// Compile-time interface check.
var _ Sink = Nop{}

// Emit discards the event.
func (Nop) Emit(context.Context, Level, string, map[string]any) {}
