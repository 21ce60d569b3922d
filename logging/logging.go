// Package logging provides real-time console output for the messaging core.
// The state store's activity log is the durable record; this package exists
// for operators watching a listener process, not for forensics.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger provides leveled key=value logging to stdout.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
}

// New creates a new Logger at info level writing to stdout.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]any) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]any) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]any) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- messaging event helpers ---

// Published logs a confirmed publish.
func (l *Logger) Published(queue, messageType, messageID string) {
	l.Info("published", map[string]any{
		"queue":      queue,
		"type":       messageType,
		"message_id": messageID,
	})
}

// PublishFailed logs a publish that was not confirmed.
func (l *Logger) PublishFailed(queue string, err error) {
	l.Error("publish_failed", map[string]any{
		"queue": queue,
		"error": err.Error(),
	})
}

// Received logs an incoming delivery.
func (l *Logger) Received(queue, messageType string, redelivered bool) {
	l.Debug("received", map[string]any{
		"queue":       queue,
		"type":        messageType,
		"redelivered": redelivered,
	})
}

// Committed logs a successfully processed and acked message.
func (l *Logger) Committed(queue, messageType string, writes int) {
	l.Info("committed", map[string]any{
		"queue":  queue,
		"type":   messageType,
		"writes": writes,
	})
}

// RolledBack logs a handler failure that was undone and requeued.
func (l *Logger) RolledBack(queue string, writes int, err error) {
	l.Warn("rolled_back", map[string]any{
		"queue":  queue,
		"writes": writes,
		"error":  err.Error(),
	})
}

// Dropped logs a malformed message that was nacked without requeue.
// One of the two user-visible warnings this core emits.
func (l *Logger) Dropped(queue string, err error) {
	l.Warn("dropped_malformed", map[string]any{
		"queue": queue,
		"error": err.Error(),
	})
}

// ConsumerRestart logs a consumer loop reconnecting after a channel fault.
func (l *Logger) ConsumerRestart(queue string, attempt int, err error) {
	l.Warn("consumer_restart", map[string]any{
		"queue":   queue,
		"attempt": attempt,
		"error":   err.Error(),
	})
}

// ConnectionExhausted logs dial retries running out. The other
// user-visible warning.
func (l *Logger) ConnectionExhausted(attempts int, err error) {
	l.Error("connection_exhausted", map[string]any{
		"attempts": attempts,
		"error":    err.Error(),
	})
}
