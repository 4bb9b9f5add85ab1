// nanobot - Ultra-lightweight personal AI agent
// License: MIT
//
// Copyright (c) 2026 nanobot contributors

// Package logger is the process-wide component logger. Every call site tags
// its records with a component name and an optional field map; records go to
// stderr as text and, when enabled, to a JSON-lines file.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a config string to a level. Unknown strings yield INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

type state struct {
	mu       sync.RWMutex
	level    *slog.LevelVar
	console  slog.Handler
	file     slog.Handler
	fileSink io.Closer
}

var std = newState(os.Stderr)

func newState(w io.Writer) *state {
	lv := new(slog.LevelVar)
	lv.Set(slog.LevelInfo)
	return &state{
		level:   lv,
		console: slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv}),
	}
}

// SetLevel changes the minimum level for console and file output.
func SetLevel(level LogLevel) {
	std.level.Set(level.slogLevel())
}

// GetLevel returns the current minimum level.
func GetLevel() LogLevel {
	switch std.level.Level() {
	case slog.LevelDebug:
		return DEBUG
	case slog.LevelWarn:
		return WARN
	case slog.LevelError:
		return ERROR
	default:
		return INFO
	}
}

// SetOutput redirects console output. Used by tests and the CLI, which
// must keep the prompt line clean.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.console = slog.NewTextHandler(w, &slog.HandlerOptions{Level: std.level})
}

// EnableFileLogging additionally writes JSON records to filePath.
func EnableFileLogging(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	std.mu.Lock()
	defer std.mu.Unlock()
	if std.fileSink != nil {
		std.fileSink.Close()
	}
	std.file = slog.NewJSONHandler(f, &slog.HandlerOptions{Level: std.level})
	std.fileSink = f
	return nil
}

// DisableFileLogging closes the JSON log file, if any.
func DisableFileLogging() {
	std.mu.Lock()
	defer std.mu.Unlock()
	if std.fileSink != nil {
		std.fileSink.Close()
	}
	std.file = nil
	std.fileSink = nil
}

func logMessage(level LogLevel, component string, message string, fields map[string]interface{}) {
	lvl := level.slogLevel()
	ctx := context.Background()

	std.mu.RLock()
	console, file := std.console, std.file
	std.mu.RUnlock()

	if !console.Enabled(ctx, lvl) && (file == nil || !file.Enabled(ctx, lvl)) {
		return
	}

	attrs := make([]slog.Attr, 0, len(fields)+1)
	if component != "" {
		attrs = append(attrs, slog.String("component", component))
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}

	logger := slog.New(console)
	logger.LogAttrs(ctx, lvl, message, attrs...)
	if file != nil {
		slog.New(file).LogAttrs(ctx, lvl, message, attrs...)
	}
}

func Debug(message string) { logMessage(DEBUG, "", message, nil) }
func DebugC(component string, message string) { logMessage(DEBUG, component, message, nil) }
func DebugF(message string, fields map[string]interface{}) {
	logMessage(DEBUG, "", message, fields)
}
func DebugCF(component string, message string, fields map[string]interface{}) {
	logMessage(DEBUG, component, message, fields)
}

func Info(message string) { logMessage(INFO, "", message, nil) }
func InfoC(component string, message string) { logMessage(INFO, component, message, nil) }
func InfoF(message string, fields map[string]interface{}) {
	logMessage(INFO, "", message, fields)
}
func InfoCF(component string, message string, fields map[string]interface{}) {
	logMessage(INFO, component, message, fields)
}

func Warn(message string) { logMessage(WARN, "", message, nil) }
func WarnC(component string, message string) { logMessage(WARN, component, message, nil) }
func WarnF(message string, fields map[string]interface{}) {
	logMessage(WARN, "", message, fields)
}
func WarnCF(component string, message string, fields map[string]interface{}) {
	logMessage(WARN, component, message, fields)
}

func Error(message string) { logMessage(ERROR, "", message, nil) }
func ErrorC(component string, message string) { logMessage(ERROR, component, message, nil) }
func ErrorF(message string, fields map[string]interface{}) {
	logMessage(ERROR, "", message, fields)
}
func ErrorCF(component string, message string, fields map[string]interface{}) {
	logMessage(ERROR, component, message, fields)
}
