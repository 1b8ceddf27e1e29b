// Copyright 2024 Google LLC
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

// Package logger builds the log/slog logger used across the façade and
// CLI, with the five severities and JSON/text handler choice cfg.Config
// exposes. Unlike the teacher's internal/logger, this package hands back
// a *slog.Logger instance rather than installing a package-level global:
// spec.md §9's notes on avoiding ambient global state ("inject as a
// filesystem context object rather than ambient globals") apply to
// logging the same way they do to the device/cache/free-map/open-inode
// singletons.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/alyssaaa7/pintosfs/cfg"
)

// The custom severity levels. DEBUG/INFO/WARNING/ERROR line up with
// slog's own level numbers; TRACE is a finer level slog doesn't have
// built in.
const (
	LevelTrace   slog.Level = -8
	LevelDebug   slog.Level = slog.LevelDebug
	LevelInfo    slog.Level = slog.LevelInfo
	LevelWarning slog.Level = slog.LevelWarn
	LevelError   slog.Level = slog.LevelError
	levelOff     slog.Level = 1 << 10
)

func level(sev cfg.LogSeverity) slog.Level {
	switch string(sev) {
	case cfg.TRACE:
		return LevelTrace
	case cfg.DEBUG:
		return LevelDebug
	case cfg.WARNING:
		return LevelWarning
	case cfg.ERROR:
		return LevelError
	case cfg.OFF:
		return levelOff
	default:
		return LevelInfo
	}
}

func severityName(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return "TRACE"
	case l <= LevelDebug:
		return "DEBUG"
	case l <= LevelInfo:
		return "INFO"
	case l <= LevelWarning:
		return "WARNING"
	default:
		return "ERROR"
	}
}

// replaceAttr renames slog's builtin "level" key to "severity" and
// renders it as one of the five names above, matching the vocabulary
// cfg.LogSeverity uses.
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		l, _ := a.Value.Any().(slog.Level)
		a.Key = "severity"
		a.Value = slog.StringValue(severityName(l))
	}
	return a
}

func newHandler(w io.Writer, format cfg.LogFormat, minLevel slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: minLevel, ReplaceAttr: replaceAttr}
	if string(format) == cfg.LogFormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// New builds a *slog.Logger per lc, plus a close function for the log
// file (a no-op if logging to stderr). Close should be called during
// FS.Shutdown.
func New(lc cfg.LogConfig) (*slog.Logger, func() error, error) {
	var w io.Writer = os.Stderr
	closeFn := func() error { return nil }

	if lc.File != "" {
		f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, err
		}
		w = f
		closeFn = f.Close
	}

	sev := lc.Severity
	if sev == "" {
		sev = cfg.LogSeverity(cfg.INFO)
	}
	format := lc.Format
	if format == "" {
		format = cfg.LogFormat(cfg.LogFormatText)
	}

	return slog.New(newHandler(w, format, level(sev))), closeFn, nil
}
