// Package paniclogger appends crash reports to <logs>/panic.log so that a
// toolshedctl panic leaves a trace even when stderr was not captured.
package paniclogger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	panicLogFile = "panic.log"
	maxFileSize  = 5 * 1024 * 1024
)

var (
	logFile  *os.File
	fileLock sync.Mutex
	logDir   string
	initOnce sync.Once
	initErr  error
)

// Init opens dir/panic.log for appending, creating dir when needed. Only the
// first call has an effect.
func Init(dir string) error {
	initOnce.Do(func() {
		if dir == "" {
			initErr = fmt.Errorf("panic log folder is not set")
			return
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			initErr = fmt.Errorf("failed to create logs directory: %w", err)
			return
		}
		logDir = dir

		var err error
		logFile, err = os.OpenFile(filepath.Join(dir, panicLogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			initErr = fmt.Errorf("failed to open panic log file: %w", err)
		}
	})
	return initErr
}

// Path returns the panic log location, or "" before a successful Init.
func Path() string {
	fileLock.Lock()
	defer fileLock.Unlock()
	if logFile == nil {
		return ""
	}
	return filepath.Join(logDir, panicLogFile)
}

// LogPanic records a recovered panic. Without a log file the report goes to
// stderr.
func LogPanic(where string, panicError any, stackTrace string) {
	fileLock.Lock()
	defer fileLock.Unlock()

	entry := formatEntry(time.Now(), where, panicError, stackTrace)
	if logFile == nil {
		_, _ = fmt.Fprint(os.Stderr, entry)
		return
	}

	if err := rotateIfNeeded(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to rotate panic log: %v\n", err)
	}
	if _, err := logFile.WriteString(entry); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to write panic log: %v\n%s", err, entry)
	}
	_ = logFile.Sync()
}

func formatEntry(at time.Time, where string, panicError any, stackTrace string) string {
	rule := strings.Repeat("=", 80)
	return fmt.Sprintf(
		"\n%s\nPANIC in toolshedctl\n%s\n"+
			"Timestamp: %s\n"+
			"PID:       %d\n"+
			"Command:   %s\n"+
			"Context:   %s\n"+
			"Error:     %v\n"+
			"\nStack Trace:\n%s\n%s\n\n",
		rule, rule,
		at.Format("2006-01-02T15:04:05.000Z07:00"),
		os.Getpid(),
		strings.Join(os.Args, " "),
		where,
		panicError,
		stackTrace,
		rule,
	)
}

// rotateIfNeeded keeps one previous generation as panic.log.old.
func rotateIfNeeded() error {
	if logFile == nil {
		return nil
	}
	stat, err := logFile.Stat()
	if err != nil {
		return err
	}
	if stat.Size() < maxFileSize {
		return nil
	}

	_ = logFile.Close()
	logFile = nil

	logPath := filepath.Join(logDir, panicLogFile)
	backupPath := logPath + ".old"
	_ = os.Remove(backupPath)
	if err := os.Rename(logPath, backupPath); err != nil {
		return err
	}
	logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	return err
}

// Close closes the panic log.
func Close() error {
	fileLock.Lock()
	defer fileLock.Unlock()

	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// Reset forgets a previous Init. FOR TESTING ONLY.
func Reset() {
	fileLock.Lock()
	defer fileLock.Unlock()

	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = nil
	logDir = ""
	initOnce = sync.Once{}
	initErr = nil
}
