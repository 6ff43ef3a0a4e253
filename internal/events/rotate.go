package events

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultConsoleMaxBytes matches the size cap of the plugin console log.
const DefaultConsoleMaxBytes int64 = 2 * 1024 * 1024

const megabyte = 1024 * 1024

// OpenConsoleFile returns a size-rotated writer for the console log that
// keeps a single backup. lumberjack sizes in whole megabytes, so maxBytes is
// rounded up.
func OpenConsoleFile(path string, maxBytes int64) (*lumberjack.Logger, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultConsoleMaxBytes
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("console log dir: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    consoleMaxMegabytes(maxBytes),
		MaxBackups: 1,
		LocalTime:  true,
	}, nil
}

func consoleMaxMegabytes(maxBytes int64) int {
	return int((maxBytes + megabyte - 1) / megabyte)
}
