package observe

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Logger is a minimal structured logging interface.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: logging must be best-effort and must not panic.
type Logger interface {
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)
	WithQuery(meta QueryMeta) Logger
}

// Field represents a structured log field.
type Field struct {
	Key   string
	Value any
}

// QueryMeta identifies a query for telemetry purposes.
type QueryMeta struct {
	Domain string // Data domain (fires, floods, ...)
	Key    string // Canonical key string
}

// SpanName returns the deterministic span name for a fetch of this query.
// Format: query.fetch.<domain>
func (m QueryMeta) SpanName() string {
	return "query.fetch." + m.Domain
}

// LogLevel represents a logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLogLevel parses a string log level.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// structuredLogger is a JSON structured logger implementation.
type structuredLogger struct {
	level     LogLevel
	writer    io.Writer
	mu        *sync.Mutex
	baseAttrs map[string]any
}

// NewLogger creates a new structured logger with the given level.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a new structured logger with a custom writer.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	return &structuredLogger{
		level:     ParseLogLevel(level),
		writer:    w,
		mu:        &sync.Mutex{},
		baseAttrs: make(map[string]any),
	}
}

// WithQuery returns a logger with query context attached.
func (l *structuredLogger) WithQuery(meta QueryMeta) Logger {
	attrs := make(map[string]any, len(l.baseAttrs)+2)
	for k, v := range l.baseAttrs {
		attrs[k] = v
	}
	attrs["query.domain"] = meta.Domain
	if meta.Key != "" {
		attrs["query.key"] = meta.Key
	}

	return &structuredLogger{
		level:     l.level,
		writer:    l.writer,
		mu:        l.mu,
		baseAttrs: attrs,
	}
}

func (l *structuredLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(LevelInfo, msg, fields)
}

func (l *structuredLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(LevelWarn, msg, fields)
}

func (l *structuredLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(LevelError, msg, fields)
}

func (l *structuredLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(LevelDebug, msg, fields)
}

func (l *structuredLogger) log(level LogLevel, msg string, fields []Field) {
	if level < l.level {
		return
	}

	record := make(map[string]any, len(l.baseAttrs)+len(fields)+3)
	for k, v := range l.baseAttrs {
		record[k] = v
	}
	record["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	record["level"] = level.String()
	record["msg"] = msg

	for _, f := range fields {
		if isRedacted(f.Key) {
			record[f.Key] = "[REDACTED]"
			continue
		}
		record[f.Key] = f.Value
	}

	line, err := json.Marshal(record)
	if err != nil {
		// Best effort: drop the record rather than panic.
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	_, _ = l.writer.Write(line)
	l.mu.Unlock()
}

func isRedacted(key string) bool {
	for _, r := range RedactedFields {
		if key == r {
			return true
		}
	}
	return false
}
