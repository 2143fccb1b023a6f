package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/scitags/ntstat-go/types"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	StreamKey string = "stream"
	LevelKey  string = slog.LevelKey
)

func logReplacements(groups []string, a slog.Attr) slog.Attr {
	// Remove time.
	if a.Key == slog.TimeKey && len(groups) == 0 && !logTimeFlag {
		return slog.Attr{}
	}

	// Remove the directory from the source's filename.
	if a.Key == slog.SourceKey {
		source := a.Value.Any().(*slog.Source)
		source.File = filepath.Base(source.File)
	}

	// slog doesn't know about our trace level and would print DEBUG-1.
	if a.Key == LevelKey && len(groups) == 0 {
		if level, ok := a.Value.Any().(slog.Level); ok && level == types.LevelTrace {
			return slog.String(a.Key, "TRACE")
		}
	}

	// Streams are way too verbose when printed with %+v.
	if a.Key == StreamKey {
		if s, ok := a.Value.Any().(types.Stream); ok {
			return slog.String(a.Key, s.Key.String())
		}
	}

	return a
}

// logWriter is where logs end up: stderr unless --log-file asks for a
// rotated file, which comes in handy when running as a launchd daemon.
func logWriter() io.Writer {
	if logFileFlag == "" {
		return os.Stderr
	}

	return &lumberjack.Logger{
		Filename:   logFileFlag,
		MaxSize:    logMaxSizeFlag, // megabytes
		MaxBackups: logMaxBackupsFlag,
		Compress:   true,
	}
}
