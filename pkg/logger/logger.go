// Package logger defines the structured logging interface used across certguard
// and a small JSON implementation for contexts where zap is not yet configured.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/certguard/pkg/constants"
)

// Logger is the structured logger handed to every component.
type Logger interface {
	Debug(ctx context.Context, message string, fields ...Field)
	Info(ctx context.Context, message string, fields ...Field)
	Warn(ctx context.Context, message string, fields ...Field)
	// Error logs message with err attached as the "error" field.
	Error(ctx context.Context, message string, err error, fields ...Field)

	WithFields(fields ...Field) Logger
	WithComponent(component string) Logger
}

// Field is a key-value pair attached to a log line.
type Field struct {
	Key   string
	Value interface{}
}

func String(key string, value string) Field { return Field{Key: key, Value: value} }

func Int(key string, value int) Field { return Field{Key: key, Value: value} }

func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Err creates the "error" field; a nil error logs as null.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value.Format(time.RFC3339)}
}

// redactedKeys are masked wherever they appear in a field key.
var redactedKeys = []string{"password", "secret", "token", "authorization", "tax_id"}

// LogEntry is one JSON line written by the logger.
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
	SpanID    string                 `json:"span_id,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

type logger struct {
	level      constants.LogLevel
	output     io.Writer
	mu         *sync.Mutex
	component  string
	baseFields []Field
}

// NewLogger writes JSON lines at or above level to output, stdout when nil.
func NewLogger(level constants.LogLevel, output io.Writer) Logger {
	if output == nil {
		output = os.Stdout
	}
	return &logger{level: level, output: output, mu: &sync.Mutex{}}
}

func (l *logger) Debug(ctx context.Context, message string, fields ...Field) {
	l.log(ctx, constants.LogLevelDebug, message, fields)
}

func (l *logger) Info(ctx context.Context, message string, fields ...Field) {
	l.log(ctx, constants.LogLevelInfo, message, fields)
}

func (l *logger) Warn(ctx context.Context, message string, fields ...Field) {
	l.log(ctx, constants.LogLevelWarn, message, fields)
}

func (l *logger) Error(ctx context.Context, message string, err error, fields ...Field) {
	if err != nil {
		fields = append(fields, Err(err))
	}
	l.log(ctx, constants.LogLevelError, message, fields)
}

func (l *logger) WithFields(fields ...Field) Logger {
	child := *l
	child.baseFields = append(append(make([]Field, 0, len(l.baseFields)+len(fields)), l.baseFields...), fields...)
	return &child
}

func (l *logger) WithComponent(component string) Logger {
	child := *l
	child.component = component
	return &child
}

func (l *logger) log(ctx context.Context, level constants.LogLevel, message string, fields []Field) {
	if level < l.level {
		return
	}
	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     strings.ToUpper(level.String()),
		Component: l.component,
		Message:   message,
		Fields:    make(map[string]interface{}, len(l.baseFields)+len(fields)),
	}

	if ctx != nil {
		if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
			entry.TraceID = sc.TraceID().String()
			entry.SpanID = sc.SpanID().String()
		}
		if requestID := ctx.Value(constants.ContextKeyRequestID); requestID != nil {
			entry.Fields["request_id"] = requestID
		}
	}
	if level >= constants.LogLevelError {
		if _, file, line, ok := runtime.Caller(2); ok {
			entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
		}
	}

	for _, f := range l.baseFields {
		entry.Fields[f.Key] = redact(f.Key, f.Value)
	}
	for _, f := range fields {
		entry.Fields[f.Key] = redact(f.Key, f.Value)
	}

	data, err := json.Marshal(entry)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		fmt.Fprintf(l.output, "[%s] %s: %s (marshal error: %v)\n", entry.Timestamp, entry.Level, message, err)
		return
	}
	fmt.Fprintln(l.output, string(data))
}

// redact masks secrets and raw tax ids, keeping the ends of long strings.
func redact(key string, value interface{}) interface{} {
	k := strings.ToLower(key)
	for _, sensitive := range redactedKeys {
		if !strings.Contains(k, sensitive) {
			continue
		}
		s, ok := value.(string)
		switch {
		case !ok || s == "":
			return "***REDACTED***"
		case len(s) <= 8:
			return "***"
		default:
			return s[:4] + "***" + s[len(s)-4:]
		}
	}
	return value
}
