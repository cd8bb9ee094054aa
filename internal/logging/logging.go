// v1
// internal/logging/logging.go
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DualLogger fans slog output to stdout and, when a path is given, an
// append-only log file.
type DualLogger struct {
	Logger *slog.Logger
	file   *os.File
}

// New builds the process logger. An empty path logs to stdout only.
// The parent directory is created if needed.
func New(path, level string) (*DualLogger, error) {
	writers := []io.Writer{os.Stdout}

	var file *os.File
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		var err error
		file, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		writers = append(writers, file)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: ParseLevel(level)})
	return &DualLogger{Logger: slog.New(handler), file: file}, nil
}

// Close releases the log file handle, if one was opened.
func (d *DualLogger) Close() error {
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}

// ParseLevel maps a config string onto a slog level. Unknown values
// fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
