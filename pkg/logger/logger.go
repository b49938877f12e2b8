package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l LogLevel) String() string {
	return [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}[l]
}

// ParseLevel converts a level name into a LogLevel, defaulting to INFO
func ParseLevel(name string) LogLevel {
	switch name {
	case "DEBUG", "debug":
		return DEBUG
	case "WARN", "warn":
		return WARN
	case "ERROR", "error":
		return ERROR
	case "FATAL", "fatal":
		return FATAL
	default:
		return INFO
	}
}

// Logger is a leveled structured logger writing text or JSON lines
type Logger struct {
	level      LogLevel
	writer     io.Writer
	structured bool
}

type entry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

var defaultLogger = New(INFO, os.Stdout, false)

// New creates a logger writing entries at or above level to writer.
// When structured is true each entry is emitted as a single JSON line.
func New(level LogLevel, writer io.Writer, structured bool) *Logger {
	return &Logger{
		level:      level,
		writer:     writer,
		structured: structured,
	}
}

// SetDefault replaces the logger used by the package-level functions
func SetDefault(l *Logger) {
	defaultLogger = l
}

func (l *Logger) log(level LogLevel, message string, err error, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level.String(),
		Message:   message,
		Fields:    fields,
	}
	if err != nil {
		e.Error = err.Error()
	}

	if l.structured {
		data, _ := json.Marshal(e)
		fmt.Fprintln(l.writer, string(data))
		return
	}

	line := fmt.Sprintf("[%s] %s: %s", e.Timestamp, e.Level, e.Message)
	if len(e.Fields) > 0 {
		line += fmt.Sprintf(" %+v", e.Fields)
	}
	if e.Error != "" {
		line += fmt.Sprintf(" error=%s", e.Error)
	}
	fmt.Fprintln(l.writer, line)
}

// Debug logs a debug message with optional fields
func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.log(DEBUG, message, nil, fields)
}

// Info logs an informational message with optional fields
func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.log(INFO, message, nil, fields)
}

// Warn logs a warning message with optional fields
func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.log(WARN, message, nil, fields)
}

// Error logs an error message with optional fields
func (l *Logger) Error(message string, err error, fields map[string]interface{}) {
	l.log(ERROR, message, err, fields)
}

// Fatal logs the message and terminates the process
func (l *Logger) Fatal(message string, err error, fields map[string]interface{}) {
	l.log(FATAL, message, err, fields)
	os.Exit(1)
}

// Convenience functions backed by the default logger

func Debug(message string, fields map[string]interface{}) {
	defaultLogger.Debug(message, fields)
}

func Info(message string, fields map[string]interface{}) {
	defaultLogger.Info(message, fields)
}

func Warn(message string, fields map[string]interface{}) {
	defaultLogger.Warn(message, fields)
}

func Error(message string, err error, fields map[string]interface{}) {
	defaultLogger.Error(message, err, fields)
}

func Fatal(message string, err error, fields map[string]interface{}) {
	defaultLogger.Fatal(message, err, fields)
}
