// Package logging builds the structured loggers used by the rewriter and the
// CLI. Level, prefix and file output come from environment variables.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nxadm/tail"
)

// LoggerCloser wraps a logger and provides a Close method for cleanup
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

// Close closes the underlying writer if it's closeable
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// ParseLevel maps a level name to a log level, defaulting to info.
func ParseLevel(name string) log.Level {
	switch strings.ToLower(name) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// NewLoggerWithWriter creates a new logger with the provided writer
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
	lg.SetLevel(ParseLevel(os.Getenv("SMALITAINT_LOG_LEVEL")))

	prefix := os.Getenv("SMALITAINT_LOG_PREFIX")
	if prefix == "" {
		prefix = "smalitaint "
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr && w != os.Stdout {
		closer = c
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

// NewLogger creates a new logger based on environment variables
// SMALITAINT_LOG_LEVEL: debug, info, warn, error (default: info)
// SMALITAINT_LOG_PREFIX: prefix for log messages (default: "smalitaint ")
// SMALITAINT_LOG_TO_FILE: when set to "1", logs to a timestamped file instead of stderr
func NewLogger() *LoggerCloser {
	output := io.Writer(os.Stderr)

	if os.Getenv("SMALITAINT_LOG_TO_FILE") == "1" {
		logFile := LogFileName(time.Now())
		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err == nil {
			output = f
		}
		// If file creation fails, fall back to stderr
	}

	return NewLoggerWithWriter(output)
}

// LogFileName is the file NewLogger writes to when file logging is enabled.
func LogFileName(t time.Time) string {
	return fmt.Sprintf("smalitaint-%s.log", t.Format("20060102-150405"))
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return strings.EqualFold(os.Getenv("SMALITAINT_LOG_LEVEL"), "debug")
}

// LatestLogFile returns the newest log file NewLogger wrote in dir.
func LatestLogFile(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "smalitaint-*.log"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no smalitaint log files in %s", dir)
	}
	// names carry a sortable timestamp
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// Follow copies the lines of a log file to w. With follow set it keeps
// waiting for new lines until ctx is done.
func Follow(ctx context.Context, path string, w io.Writer, follow bool) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    follow,
		ReOpen:    follow,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return err
	}
	defer t.Cleanup()
	defer func() { _ = t.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Wait()
			}
			if line.Err != nil {
				return line.Err
			}
			if _, err := fmt.Fprintln(w, line.Text); err != nil {
				return err
			}
		}
	}
}
