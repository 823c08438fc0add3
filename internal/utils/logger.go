// Package utils provides shared utilities for the Warp proxy.
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

const defaultLogFile = "logs/warp_api.log"

// ANSI color codes for the startup banner
const (
	colorReset  = "\033[0m"
	colorBright = "\033[1m"
	colorCyan   = "\033[36m"
)

// Logger wraps a zerolog logger writing to both the console and a log file.
type Logger struct {
	mu             sync.RWMutex
	zl             zerolog.Logger
	isDebugEnabled bool
}

// NewLogger creates a Logger writing to stderr and the given log file.
// A file open failure degrades to console-only logging.
func NewLogger(logFile string) *Logger {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}

	var writer zerolog.LevelWriter = zerolog.MultiLevelWriter(console)
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err == nil {
			if f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				writer = zerolog.MultiLevelWriter(console, f)
			}
		}
	}

	zl := zerolog.New(writer).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// SetDebug enables or disables debug output
func (l *Logger) SetDebug(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.isDebugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func (l *Logger) IsDebugEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isDebugEnabled
}

// Info logs a standard info message
func (l *Logger) Info(message string, args ...interface{}) {
	l.zl.Info().Msgf(message, args...)
}

// Success logs a success message
func (l *Logger) Success(message string, args ...interface{}) {
	l.zl.Info().Msgf("✅ "+message, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, args ...interface{}) {
	l.zl.Warn().Msgf(message, args...)
}

// Error logs an error message
func (l *Logger) Error(message string, args ...interface{}) {
	l.zl.Error().Msgf(message, args...)
}

// Debug logs a debug message (only if debug mode is enabled)
func (l *Logger) Debug(message string, args ...interface{}) {
	if l.IsDebugEnabled() {
		l.zl.Debug().Msgf(message, args...)
	}
}

// Header prints a section header to stdout
func (l *Logger) Header(title string) {
	fmt.Printf("\n%s%s=== %s ===%s\n\n", colorBright, colorCyan, title, colorReset)
}

// Global logger instance
var (
	globalLogger     *Logger
	globalLoggerOnce sync.Once
)

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	globalLoggerOnce.Do(func() {
		globalLogger = NewLogger(defaultLogFile)
	})
	return globalLogger
}

// Info logs a standard info message using the global logger
func Info(message string, args ...interface{}) {
	GetLogger().Info(message, args...)
}

// Success logs a success message using the global logger
func Success(message string, args ...interface{}) {
	GetLogger().Success(message, args...)
}

// Warn logs a warning message using the global logger
func Warn(message string, args ...interface{}) {
	GetLogger().Warn(message, args...)
}

// Error logs an error message using the global logger
func Error(message string, args ...interface{}) {
	GetLogger().Error(message, args...)
}

// Debug logs a debug message using the global logger
func Debug(message string, args ...interface{}) {
	GetLogger().Debug(message, args...)
}

// Header prints a section header using the global logger
func Header(title string) {
	GetLogger().Header(title)
}

// SetDebug enables or disables debug mode on the global logger
func SetDebug(enabled bool) {
	GetLogger().SetDebug(enabled)
}

// IsDebug returns whether debug mode is enabled on the global logger
func IsDebug() bool {
	return GetLogger().IsDebugEnabled()
}
