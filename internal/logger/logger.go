package logger

import (
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

var base atomic.Pointer[slog.Logger]

func init() {
	base.Store(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

// Init installs the process-wide JSON logger at the given level
// ("debug", "info", "warn", "error"; anything else means info).
func Init(level string) {
	SetOutput(os.Stdout, level)
	Info("logger initialized", map[string]any{"level": parseLevel(level).String()})
}

// SetOutput redirects log lines to w. Tests use it to capture output.
func SetOutput(w io.Writer, level string) {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	base.Store(slog.New(h))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Debug(msg string, fields map[string]any) {
	base.Load().Debug(msg, attrs(fields)...)
}

func Info(msg string, fields map[string]any) {
	base.Load().Info(msg, attrs(fields)...)
}

func Warn(msg string, fields map[string]any) {
	base.Load().Warn(msg, attrs(fields)...)
}

func Error(msg string, fields map[string]any) {
	base.Load().Error(msg, attrs(fields)...)
}

func Fatal(msg string, fields map[string]any) {
	base.Load().Error(msg, append(attrs(fields), "fatal", true)...)
	os.Exit(1)
}

// TokenHint shortens a bearer credential to something safe to log.
func TokenHint(token string) string {
	if len(token) <= 6 {
		return "***"
	}
	return token[:6] + "..."
}

// attrs flattens fields in key order so output is stable.
func attrs(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]any, 0, len(fields)*2)
	for _, k := range keys {
		out = append(out, k, fields[k])
	}
	return out
}
