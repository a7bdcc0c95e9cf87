// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Rebus components.
//
// Both the gateway and the rebus CLI log through this package. The
// defaults follow Unix conventions: human-readable text on stderr,
// nothing else. File logging is opt-in and always JSON, so the files
// can be fed to log tooling without a parsing step.
//
// # Architecture
//
// The package is a thin layer over the standard library slog package.
// A single Logger fans records out to up to two destinations:
//
//	┌───────────────────────────────────────────┐
//	│                 Logger                    │
//	│  ┌──────────────┐  ┌──────────────────┐   │
//	│  │    stderr    │  │     log file     │   │
//	│  │  (default)   │  │    (optional)    │   │
//	│  └──────────────┘  └──────────────────┘   │
//	└───────────────────────────────────────────┘
//
// # Basic Usage
//
// For CLI commands that only need stderr:
//
//	logger := logging.Default()
//	logger.Info("building key mapping", "key", key)
//	logger.Error("fingerprint failed", "error", err)
//
// # File Logging
//
// The gateway enables the file sink alongside stderr:
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.rebus/logs", // ~ is expanded
//	    Service: "gateway",
//	    JSON:    true,
//	})
//	defer logger.Close() // flushes and closes the file
//
// Files are named {service}_{date}.log and appended to across
// restarts on the same day.
package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level identifies the severity of a log message.
//
// Levels are ordered: Debug < Info < Warn < Error. A logger configured
// at a given level discards messages below it.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	// Example: "bucket chosen", "fingerprint bits", "cache hit"
	LevelDebug Level = iota

	// LevelInfo is for normal operational events.
	// Example: "mapping built", "server started", "key assigned"
	LevelInfo

	// LevelWarn is for situations that are suspicious but survivable.
	// Example: "corpus changed under a live mapping", "retrying"
	LevelWarn

	// LevelError is for failed operations.
	// Example: "history write failed", "corpus unreadable"
	LevelError
)

// String returns the human-readable name of the level.
//
// Returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// toSlogLevel bridges our Level to the standard library's slog.Level.
func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a config string to a Level.
//
// Accepts "debug", "info", "warn", "error" in any case. Unknown or
// empty strings fall back to LevelInfo so a typo in a config file
// never silences the logs.
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG", "Debug":
		return LevelDebug
	case "warn", "WARN", "Warn", "warning":
		return LevelWarn
	case "error", "ERROR", "Error":
		return LevelError
	default:
		return LevelInfo
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures the Logger behavior.
//
// The zero value is a usable configuration: Info level, text format,
// stderr only.
//
// CLI default:
//
//	Config{} // Info, stderr, text
//
// Gateway:
//
//	Config{
//	    Level:   LevelInfo,
//	    LogDir:  "~/.rebus/logs",
//	    Service: "gateway",
//	    JSON:    true,
//	}
type Config struct {
	// Level sets the minimum log level.
	//
	// Messages below this level are discarded.
	// Default: LevelInfo
	Level Level

	// LogDir enables file logging to the specified directory.
	//
	// When set, logs are written to both stderr and a file named
	// "{Service}_{YYYY-MM-DD}.log" in JSON format. The directory is
	// created with 0750 permissions if it doesn't exist.
	//
	// A leading ~ is expanded to the user's home directory:
	//   "~/.rebus/logs" -> "/home/user/.rebus/logs"
	//
	// Default: "" (file logging disabled)
	LogDir string

	// Service identifies the component generating logs.
	//
	// The value is attached to every log entry as the "service"
	// attribute, and names the log file when LogDir is set.
	//
	// Recommended values: "gateway", "cli"
	// Default: "" (no service attribute, file falls back to "rebus")
	Service string

	// JSON switches the stderr output to JSON format.
	//
	// File logs are always JSON regardless of this setting; they exist
	// for machines, not for eyes.
	//
	// Default: false (text format for stderr)
	JSON bool

	// Quiet disables stderr output.
	//
	// When true, logs only go to the file (if LogDir is set). Useful
	// when the CLI is rendering tables and stderr noise would tear
	// the output.
	//
	// Default: false (stderr enabled)
	Quiet bool
}

// =============================================================================
// Logger
// =============================================================================

// Logger provides structured logging with multi-destination output.
//
// Logger wraps slog.Logger with simultaneous stderr and file output
// and proper cleanup via Close. It is safe for concurrent use.
//
// Always close a logger that has file logging configured:
//
//	logger := logging.New(config)
//	defer logger.Close()
//
// Use With to create a child logger carrying extra attributes:
//
//	keyLogger := logger.With("key", key)
//	keyLogger.Info("mapping built") // includes key
type Logger struct {
	// slog is the underlying structured logger
	slog *slog.Logger

	// config stores the configuration for reference
	config Config

	// file is the optional log file handle (nil if file logging disabled)
	file *os.File

	// mu protects the file handle during Close
	mu sync.Mutex
}

// New creates a Logger from the given configuration.
//
// Destinations are assembled from the config: a stderr handler unless
// Quiet is set, and a file handler when LogDir is set. If the log
// directory or file cannot be created the logger still works, just
// without the file sink; logging must never be the reason a process
// fails to start.
//
// The returned Logger should be closed with Close when file logging
// is in use.
func New(config Config) *Logger {
	var handlers []slog.Handler

	opts := &slog.HandlerOptions{
		Level: config.Level.toSlogLevel(),
	}

	if !config.Quiet {
		var stderrHandler slog.Handler
		if config.JSON {
			stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
		} else {
			stderrHandler = slog.NewTextHandler(os.Stderr, opts)
		}
		handlers = append(handlers, stderrHandler)
	}

	logger := &Logger{config: config}

	if config.LogDir != "" {
		logDir := expandPath(config.LogDir)
		if err := os.MkdirAll(logDir, 0750); err == nil {
			serviceName := config.Service
			if serviceName == "" {
				serviceName = "rebus"
			}
			filename := fmt.Sprintf("%s_%s.log", serviceName, time.Now().Format("2006-01-02"))
			logPath := filepath.Join(logDir, filename)

			file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
			if err == nil {
				logger.file = file
				// File logs are always JSON.
				handlers = append(handlers, slog.NewJSONHandler(file, opts))
			}
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		// Quiet with no file sink still gets a stderr fallback.
		handler = slog.NewTextHandler(os.Stderr, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{
			slog.String("service", config.Service),
		})
	}

	logger.slog = slog.New(handler)
	return logger
}

// Default returns a logger with CLI-friendly settings: Info level,
// text format on stderr, service "rebus".
func Default() *Logger {
	return New(Config{
		Level:   LevelInfo,
		Service: "rebus",
	})
}

// Debug logs a message at Debug level.
//
// Args are key-value pairs, slog style:
//
//	logger.Debug("bucket chosen", "char", "Q", "bucket", 17)
func (l *Logger) Debug(msg string, args ...any) {
	l.slog.Debug(msg, args...)
}

// Info logs a message at Info level.
func (l *Logger) Info(msg string, args ...any) {
	l.slog.Info(msg, args...)
}

// Warn logs a message at Warn level.
func (l *Logger) Warn(msg string, args ...any) {
	l.slog.Warn(msg, args...)
}

// Error logs a message at Error level.
//
// For fatal errors that should terminate the program, follow with
// os.Exit; the logger never exits on your behalf.
func (l *Logger) Error(msg string, args ...any) {
	l.slog.Error(msg, args...)
}

// With returns a new Logger whose entries carry the additional
// attributes. The parent logger is not modified; the file handle is
// shared, so only close one of them.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:   l.slog.With(args...),
		config: l.config,
		file:   l.file, // shared handle
	}
}

// Slog returns the underlying slog.Logger for call sites that want
// slog features this wrapper doesn't expose, or for handing to
// libraries that accept a *slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close syncs and closes the log file, if one is open.
//
// Safe to call on a logger without a file sink, and safe to call more
// than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	var errs []error
	if err := l.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync log file: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close log file: %w", err))
	}
	l.file = nil
	return errors.Join(errs...)
}

// =============================================================================
// Multi-Handler (Internal)
// =============================================================================

// multiHandler fans out log records to multiple slog handlers.
//
// This is what lets stderr stay human-readable text while the file
// sink writes JSON from the same log call.
type multiHandler struct {
	handlers []slog.Handler
}

// Enabled returns true if any handler is enabled for the level.
func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle sends the record to all enabled handlers.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// WithAttrs returns a new handler with additional attributes.
func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

// WithGroup returns a new handler with a group name.
func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// =============================================================================
// Helpers
// =============================================================================

// expandPath expands a leading ~ to the user's home directory.
//
// Examples:
//   - "~/.rebus/logs" -> "/home/user/.rebus/logs"
//   - "/var/log"      -> "/var/log" (unchanged)
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
