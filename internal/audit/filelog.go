package audit

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func stdoutLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("stream", "audit")
}

// NewFileLogger returns a JSON logger appending to path. An empty path, or
// a file that cannot be opened, logs to stdout instead. The returned closer
// releases the file.
func NewFileLogger(path string, lg *slog.Logger) (*slog.Logger, io.Closer) {
	if path == "" {
		return stdoutLogger(), nopCloser{}
	}

	f, err := openAppend(path)
	if err != nil {
		if lg != nil {
			lg.Warn("audit log file unavailable, falling back to stdout", "path", path, "error", err)
		}
		return stdoutLogger(), nopCloser{}
	}
	return slog.New(slog.NewJSONHandler(f, nil)), f
}

func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
}
