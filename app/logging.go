package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// newLogger returns the session logger. Logs go to the terminal through a
// charmbracelet handler, or to logFile as text when one is configured. The
// returned func closes the log file.
func newLogger(errOut io.Writer, verbose bool, logFile string) (*slog.Logger, func() error, error) {
	level, charmLevel := slog.LevelInfo, charmlog.InfoLevel
	if verbose {
		level, charmLevel = slog.LevelDebug, charmlog.DebugLevel
	}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open log file: %w", err)
		}
		handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})
		return slog.New(handler), f.Close, nil
	}

	handler := charmlog.NewWithOptions(errOut, charmlog.Options{
		Level:           charmLevel,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	return slog.New(handler), func() error { return nil }, nil
}
