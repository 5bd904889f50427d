// Package sandboxlog is the structured logging sink for the sandbox
// subsystem: a global, stderr-only logger extended with a trailing
// key=value field list, so it stays diffable with plain log lines while
// still carrying structured data the Dispatcher and Image Manager need
// to report (backend choice, profile, outcome, fallback reason).
//
// Always writes to stderr: sandboxd is invoked as a subprocess and stdout
// must stay reserved for the Result JSON (or whatever wire protocol the
// caller expects), matching internal/logging/logger.go's own rationale.
package sandboxlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
)

// Fields carries structured key=value pairs appended to a log line.
type Fields map[string]any

type logger struct {
	debugEnabled bool
	out          *log.Logger
}

var (
	mu     sync.Mutex
	global *logger
)

// Initialize sets up the global logger. Safe to call more than once;
// the most recent call wins.
func Initialize(debugMode bool) {
	mu.Lock()
	defer mu.Unlock()
	var w io.Writer = os.Stderr
	global = &logger{
		debugEnabled: debugMode,
		out:          log.New(w, "", log.LstdFlags),
	}
}

func ensure() *logger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = &logger{out: log.New(os.Stderr, "", log.LstdFlags)}
	}
	return global
}

// IsDebugEnabled reports whether Debug lines will actually be emitted.
func IsDebugEnabled() bool {
	return ensure().debugEnabled
}

// Info logs an informational event with optional structured fields.
func Info(event string, fields ...Fields) {
	ensure().emit("INFO", event, mergeFields(fields))
}

// Warn logs a degraded-but-handled condition, e.g. falling back to the
// subprocess executor.
func Warn(event string, fields ...Fields) {
	ensure().emit("WARN", event, mergeFields(fields))
}

// Error logs a failure.
func Error(event string, fields ...Fields) {
	ensure().emit("ERROR", event, mergeFields(fields))
}

// Debug logs a message only when debug mode was enabled at Initialize.
func Debug(event string, fields ...Fields) {
	l := ensure()
	if !l.debugEnabled {
		return
	}
	l.emit("DEBUG", event, mergeFields(fields))
}

func mergeFields(fs []Fields) Fields {
	if len(fs) == 0 {
		return nil
	}
	if len(fs) == 1 {
		return fs[0]
	}
	merged := Fields{}
	for _, f := range fs {
		for k, v := range f {
			merged[k] = v
		}
	}
	return merged
}

func (l *logger) emit(level, event string, fields Fields) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(": ")
	b.WriteString(event)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	l.out.Print(b.String())
}
