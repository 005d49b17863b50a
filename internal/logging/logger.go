// Package logging provides the printf-style logging contract used across
// the core. Components depend on the Logger interface only; the default
// implementation appends levelled lines to a debug log file so that the
// RPC byte stream on stdout stays clean.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sync"
)

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	default:
		return "ERROR"
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

// FileLogger writes levelled, component-tagged lines to a shared log file.
type FileLogger struct {
	logger    *log.Logger
	level     LogLevel
	component string
	mu        *sync.Mutex
}

var (
	sharedMu   sync.Mutex
	sharedOnce sync.Once
	sharedLog  *log.Logger
)

func sharedDestination() *log.Logger {
	sharedOnce.Do(func() {
		path := os.Getenv("METATOOL_LOG")
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				sharedLog = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
				return
			}
			dir := filepath.Join(home, ".awesome-plugin")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				sharedLog = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
				return
			}
			path = filepath.Join(dir, "metatool-debug.log")
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			sharedLog = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
			return
		}
		sharedLog = log.New(f, "", log.LstdFlags|log.Lmicroseconds)
	})
	return sharedLog
}

// NewComponentLogger returns the default application logger scoped to a
// component tag.
func NewComponentLogger(component string) *FileLogger {
	level := INFO
	if os.Getenv("METATOOL_DEBUG") != "" {
		level = DEBUG
	}
	return &FileLogger{
		logger:    sharedDestination(),
		level:     level,
		component: component,
		mu:        &sharedMu,
	}
}

// SetLevel overrides the minimum level emitted by this logger.
func (l *FileLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *FileLogger) log(level LogLevel, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.component != "" {
		l.logger.Printf("[%s] [%s] %s", level, l.component, msg)
		return
	}
	l.logger.Printf("[%s] %s", level, msg)
}

func (l *FileLogger) Debug(format string, args ...any) { l.log(DEBUG, format, args...) }
func (l *FileLogger) Info(format string, args ...any)  { l.log(INFO, format, args...) }
func (l *FileLogger) Warn(format string, args ...any)  { l.log(WARN, format, args...) }
func (l *FileLogger) Error(format string, args ...any) { l.log(ERROR, format, args...) }

type multiLogger struct {
	loggers []Logger
}

// Multi returns a logger fan-out that calls every non-nil logger in order.
func Multi(loggers ...Logger) Logger {
	flattened := make([]Logger, 0, len(loggers))
	for _, logger := range loggers {
		if IsNil(logger) {
			continue
		}
		if ml, ok := logger.(*multiLogger); ok {
			flattened = append(flattened, ml.loggers...)
			continue
		}
		flattened = append(flattened, logger)
	}
	switch len(flattened) {
	case 0:
		return Nop()
	case 1:
		return flattened[0]
	default:
		return &multiLogger{loggers: flattened}
	}
}

func (m *multiLogger) Debug(format string, args ...any) {
	for _, l := range m.loggers {
		l.Debug(format, args...)
	}
}

func (m *multiLogger) Info(format string, args ...any) {
	for _, l := range m.loggers {
		l.Info(format, args...)
	}
}

func (m *multiLogger) Warn(format string, args ...any) {
	for _, l := range m.loggers {
		l.Warn(format, args...)
	}
}

func (m *multiLogger) Error(format string, args ...any) {
	for _, l := range m.loggers {
		l.Error(format, args...)
	}
}
