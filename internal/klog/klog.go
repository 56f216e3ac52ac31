// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package klog is the kernel's structured logger, generalizing the
// teacher's internal/logger: a slog.Logger with a five-level severity
// scale (TRACE/DEBUG/INFO/WARNING/ERROR), a choice of text or JSON
// handler, and optional rotation to a file via lumberjack.
package klog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels, mapped onto slog's int levels the same way the
// teacher's logger does: evenly spaced by 4 so slog's default level
// comparisons (info=0, warn=4, error=8) still line up, with TRACE/DEBUG
// filling the negative range below info.
const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.Level(-4)
	LevelInfo    = slog.Level(0)
	LevelWarning = slog.Level(4)
	LevelError   = slog.Level(8)
)

var levelNames = map[slog.Level]string{
	LevelTrace:   "TRACE",
	LevelDebug:   "DEBUG",
	LevelInfo:    "INFO",
	LevelWarning: "WARNING",
	LevelError:   "ERROR",
}

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok {
			if name, ok := levelNames[lvl]; ok {
				a.Value = slog.StringValue(name)
			}
		}
	}
	return a
}

// Config controls how New builds a logger.
type Config struct {
	// Format is "text" or "json".
	Format string
	// Level is one of trace/debug/info/warning/error (case-insensitive).
	Level string
	// FilePath, if non-empty, routes output through a lumberjack rotating
	// writer instead of stderr.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func parseLevel(s string) slog.Level {
	switch s {
	case "trace", "TRACE":
		return LevelTrace
	case "debug", "DEBUG":
		return LevelDebug
	case "warning", "WARNING", "warn", "WARN":
		return LevelWarning
	case "error", "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

var defaultLogger *slog.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level:       LevelInfo,
	ReplaceAttr: replaceAttr,
}))

// New builds a logger per cfg and installs it as the package default.
func New(cfg Config) *slog.Logger {
	var w io.Writer = os.Stderr
	if cfg.FilePath != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), ReplaceAttr: replaceAttr}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	l := slog.New(h)
	defaultLogger = l
	return l
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Default returns the package's current default logger.
func Default() *slog.Logger { return defaultLogger }

func Tracef(format string, args ...any)   { defaultLogger.Log(context.Background(), LevelTrace, sprintf(format, args...)) }
func Debugf(format string, args ...any)   { defaultLogger.Log(context.Background(), LevelDebug, sprintf(format, args...)) }
func Infof(format string, args ...any)    { defaultLogger.Log(context.Background(), LevelInfo, sprintf(format, args...)) }
func Warningf(format string, args ...any) { defaultLogger.Log(context.Background(), LevelWarning, sprintf(format, args...)) }
func Errorf(format string, args ...any)   { defaultLogger.Log(context.Background(), LevelError, sprintf(format, args...)) }

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
