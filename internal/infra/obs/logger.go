package obs

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger configures slog with colorful dev output and JSON for production-like envs.
// When file is set, records go to a rotated log file instead of stdout.
func NewLogger(env, file string) *slog.Logger {
	level := slog.LevelInfo
	var writer io.Writer = os.Stdout
	if file != "" {
		writer = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		}
	}
	if isDevEnv(env) {
		level = slog.LevelDebug
		handler := tint.NewHandler(writer, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
			AddSource:  true,
			NoColor:    file != "",
		})
		return slog.New(handler)
	}
	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})
	return slog.New(handler)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func isDevEnv(env string) bool {
	return env == "dev" || env == "local"
}
