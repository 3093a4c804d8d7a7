// Copyright 2025 The extentfs Authors. All Rights Reserved.
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

// Package logger provides the process-wide severity logger. Output goes
// to stderr by default, or to a size-rotated file when configured.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels. TRACE and WARNING extend the slog built-ins the same
// way cloud logging severities do.
const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	LevelOff     = slog.Level(12)
)

var (
	programLevel = new(slog.LevelVar)

	defaultLogger = slog.New(newTextHandler(os.Stderr, programLevel))
)

// RotateConfig bounds a log file's growth.
type RotateConfig struct {
	MaxSizeMb   int
	BackupCount int
	Compress    bool
}

// Setup points the process logger at filePath (stderr when empty) at
// the given severity. Severity is one of trace, debug, info, warning,
// error, off (case-insensitive).
func Setup(filePath, severity string, rotate RotateConfig) error {
	if err := setLevel(severity); err != nil {
		return err
	}

	var w io.Writer = os.Stderr
	if filePath != "" {
		w = &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    rotate.MaxSizeMb,
			MaxBackups: rotate.BackupCount,
			Compress:   rotate.Compress,
		}
	}
	defaultLogger = slog.New(newTextHandler(w, programLevel))
	return nil
}

func setLevel(severity string) error {
	switch strings.ToLower(severity) {
	case "trace":
		programLevel.Set(LevelTrace)
	case "debug":
		programLevel.Set(LevelDebug)
	case "", "info":
		programLevel.Set(LevelInfo)
	case "warning":
		programLevel.Set(LevelWarning)
	case "error":
		programLevel.Set(LevelError)
	case "off":
		programLevel.Set(LevelOff)
	default:
		return fmt.Errorf("unknown log severity %q", severity)
	}
	return nil
}

// newTextHandler renders records as text with a severity= attribute
// named after our extended level set.
func newTextHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key != slog.LevelKey {
				return a
			}
			a.Key = "severity"
			switch a.Value.Any().(slog.Level) {
			case LevelTrace:
				a.Value = slog.StringValue("TRACE")
			case LevelWarning:
				a.Value = slog.StringValue("WARNING")
			default:
				a.Value = slog.StringValue(a.Value.Any().(slog.Level).String())
			}
			return a
		},
	})
}

func logf(level slog.Level, format string, v ...any) {
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

func Tracef(format string, v ...any) {
	logf(LevelTrace, format, v...)
}

func Debugf(format string, v ...any) {
	logf(LevelDebug, format, v...)
}

func Infof(format string, v ...any) {
	logf(LevelInfo, format, v...)
}

func Warnf(format string, v ...any) {
	logf(LevelWarning, format, v...)
}

func Errorf(format string, v ...any) {
	logf(LevelError, format, v...)
}
