// Package logging provides the three log streams used across the engine.
//
// Ops carries lifecycle events, dropped samples and errors. Diag carries one
// line per estimation cycle. Trace carries per-datagram telemetry. Each stream
// can be pointed at its own writer or switched off with a nil writer.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

var (
	mu          sync.RWMutex
	opsLogger   = newLogger("[nav] ", os.Stderr)
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures all three logging streams at once.
// Pass nil for any writer to disable that stream.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	opsLogger = newLogger("[nav] ", w.Ops)
	diagLogger = newLogger("[nav] ", w.Diag)
	traceLogger = newLogger("[nav] ", w.Trace)
}

// SetLevel enables the streams up to and including level, writing to w.
// Valid levels: "ops", "diag", "trace", "off".
func SetLevel(level string, w io.Writer) error {
	switch level {
	case "off":
		SetLogWriters(LogWriters{})
	case "ops", "":
		SetLogWriters(LogWriters{Ops: w})
	case "diag":
		SetLogWriters(LogWriters{Ops: w, Diag: w})
	case "trace":
		SetLogWriters(LogWriters{Ops: w, Diag: w, Trace: w})
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	return nil
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...interface{}) {
	mu.RLock()
	l := opsLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) {
	mu.RLock()
	l := diagLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Tracef logs to the trace stream.
func Tracef(format string, args ...interface{}) {
	mu.RLock()
	l := traceLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}
