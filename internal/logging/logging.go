// Package logging builds the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects level and destination. An empty File logs to stdout only.
type Options struct {
	Level string
	File  string
}

// New returns a JSON slog logger. When File is set, output is duplicated to
// a size-rotated file.
func New(opts Options) (*slog.Logger, io.Closer) {
	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		hook := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    128, // MB
			MaxAge:     30,  // days
			MaxBackups: 30,
		}
		w = io.MultiWriter(os.Stdout, hook)
		closer = hook
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})
	return slog.New(handler), closer
}

// ParseLevel maps debug/info/warn/error (any case, short forms allowed) to a
// slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "D", "DBG", "DEBUG":
		return slog.LevelDebug
	case "W", "WRN", "WARN", "WARNING":
		return slog.LevelWarn
	case "E", "ERR", "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
