// Package obslog is the process-wide leveled logger: a thin wrapper over
// the standard library's log.Logger, gated by the level named in
// MSTREAM_LOG_LEVEL (spec.md §6), plus a ring buffer of the most recent
// lines so an operator can inspect recent activity without a log shipper,
// sized by [system.logs].buffer_size. Modeled on mock_interview's
// metrics.Collector: atomics/a mutex-guarded slice, no external logging
// library, matching the teacher's plain-log-package style.
package obslog

import (
	"fmt"
	"log"
	"os"
	"sync"
)

// Level orders the four levels the core observes, least to most severe.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Logger gates stdlib log output by level and retains the last BufferSize
// formatted lines for later inspection.
type Logger struct {
	out   *log.Logger
	level Level

	mu      sync.Mutex
	buffer  []string
	maxSize int
	next    int
}

// New builds a Logger writing to stderr, gated at level, retaining
// bufferSize recent lines (0 disables retention).
func New(level Level, bufferSize int) *Logger {
	return &Logger{
		out:     log.New(os.Stderr, "", log.LstdFlags),
		level:   level,
		maxSize: bufferSize,
	}
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	line := fmt.Sprintf("[%s] %s", level, fmt.Sprintf(format, args...))
	l.record(line)
	if level >= l.level {
		l.out.Print(line)
	}
}

func (l *Logger) record(line string) {
	if l.maxSize <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buffer) < l.maxSize {
		l.buffer = append(l.buffer, line)
		return
	}
	l.buffer[l.next%l.maxSize] = line
	l.next++
}

// Recent returns the retained lines in chronological order.
func (l *Logger) Recent() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buffer) < l.maxSize || l.next == 0 {
		out := make([]string, len(l.buffer))
		copy(out, l.buffer)
		return out
	}
	out := make([]string, l.maxSize)
	for i := 0; i < l.maxSize; i++ {
		out[i] = l.buffer[(l.next+i)%l.maxSize]
	}
	return out
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, format, args...) }

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
	os.Exit(1)
}
