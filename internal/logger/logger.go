package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Init sends the default slog logger to a file so the terminal stays free
// for chat output.
func Init(path, level string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(file, &slog.HandlerOptions{Level: ParseLevel(level)}))
	slog.SetDefault(logger)
	return nil
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
