// Package logger provides structured JSON logging shared by every stage of
// the ingestion pipeline.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log entry.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

var levelRank = map[LogLevel]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel maps a level name to a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "WARNING":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// LogEntry is one structured log line.
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Service   string                 `json:"service"`
	ItemID    string                 `json:"item_id,omitempty"`
	Duration  *int64                 `json:"duration_ms,omitempty"`
	DataCount *int                   `json:"data_count,omitempty"`
	Error     *ErrorDetails          `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ErrorDetails provides structured error information.
type ErrorDetails struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// sink is shared between a logger and the loggers derived from it so that
// concurrent workers never interleave partial lines.
type sink struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// Logger provides structured logging functionality.
type Logger struct {
	serviceName string
	itemID      string
	minLevel    LogLevel
	sink        *sink
}

// New creates a logger writing to stderr at the level named by LOG_LEVEL.
func New(serviceName string) *Logger {
	return NewWithWriter(serviceName, os.Stderr, ParseLevel(os.Getenv("LOG_LEVEL")))
}

// NewWithWriter creates a logger writing to w, dropping entries below minLevel.
func NewWithWriter(serviceName string, w io.Writer, minLevel LogLevel) *Logger {
	return &Logger{
		serviceName: serviceName,
		minLevel:    minLevel,
		sink:        &sink{out: w, now: time.Now},
	}
}

// Discard returns a logger that writes nothing. Useful for tests.
func Discard() *Logger {
	return NewWithWriter("discard", io.Discard, LevelError)
}

// WithItem returns a logger that tags every entry with an item ID.
func (l *Logger) WithItem(itemID string) *Logger {
	newLogger := *l
	newLogger.itemID = itemID
	return &newLogger
}

// WithLevel returns a logger sharing the same sink with a different threshold.
func (l *Logger) WithLevel(level LogLevel) *Logger {
	newLogger := *l
	newLogger.minLevel = level
	return &newLogger
}

// Info logs an informational message.
func (l *Logger) Info(message string, metadata ...map[string]interface{}) {
	l.log(LevelInfo, message, nil, nil, nil, metadata...)
}

// InfoWithCount logs an informational message with a data count.
func (l *Logger) InfoWithCount(message string, count int, metadata ...map[string]interface{}) {
	l.log(LevelInfo, message, nil, &count, nil, metadata...)
}

// InfoWithDuration logs an informational message with a duration.
func (l *Logger) InfoWithDuration(message string, duration time.Duration, metadata ...map[string]interface{}) {
	durationMs := duration.Milliseconds()
	l.log(LevelInfo, message, &durationMs, nil, nil, metadata...)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, metadata ...map[string]interface{}) {
	l.log(LevelWarn, message, nil, nil, nil, metadata...)
}

// Error logs an error message.
func (l *Logger) Error(message string, err error, metadata ...map[string]interface{}) {
	var errorDetails *ErrorDetails
	if err != nil {
		errorDetails = &ErrorDetails{
			Type:    fmt.Sprintf("%T", err),
			Message: err.Error(),
		}
		if appErr, ok := err.(*AppError); ok {
			errorDetails.Type = string(appErr.Type)
			errorDetails.Code = appErr.Code
		}
	}
	l.log(LevelError, message, nil, nil, errorDetails, metadata...)
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, metadata ...map[string]interface{}) {
	l.log(LevelDebug, message, nil, nil, nil, metadata...)
}

func (l *Logger) log(level LogLevel, message string, duration *int64, dataCount *int, errorDetails *ErrorDetails, metadata ...map[string]interface{}) {
	if levelRank[level] < levelRank[l.minLevel] {
		return
	}

	entry := LogEntry{
		Timestamp: l.sink.now().UTC().Format(time.RFC3339),
		Level:     level,
		Message:   message,
		Service:   l.serviceName,
		ItemID:    l.itemID,
		Duration:  duration,
		DataCount: dataCount,
		Error:     errorDetails,
	}
	if len(metadata) > 0 && metadata[0] != nil {
		entry.Metadata = metadata[0]
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		jsonBytes = []byte(fmt.Sprintf(`{"level":%q,"message":%q,"marshal_error":%q}`, level, message, err.Error()))
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.out.Write(append(jsonBytes, '\n'))
}
