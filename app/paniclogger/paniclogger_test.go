package paniclogger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestInit(t *testing.T) {
	logsDir := filepath.Join(t.TempDir(), "logs")
	Reset()
	defer Reset()

	if err := Init(logsDir); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(logsDir, panicLogFile)); err != nil {
		t.Errorf("panic.log file was not created: %v", err)
	}
	if got := Path(); got != filepath.Join(logsDir, panicLogFile) {
		t.Errorf("Path() = %q", got)
	}

	// Later calls keep the first folder.
	if err := Init(t.TempDir()); err != nil {
		t.Errorf("second Init() failed: %v", err)
	}
	if got := Path(); got != filepath.Join(logsDir, panicLogFile) {
		t.Errorf("Path() after second Init = %q", got)
	}
}

func TestInitWithoutFolder(t *testing.T) {
	Reset()
	defer Reset()

	if err := Init(""); err == nil {
		t.Fatal("Init(\"\") should fail")
	}
	if Path() != "" {
		t.Error("Path() should be empty after a failed Init")
	}
}

func TestLogPanic(t *testing.T) {
	logsDir := t.TempDir()
	Reset()
	defer Reset()

	if err := Init(logsDir); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	LogPanic("ensure pex", "boom", "goroutine 1 [running]")

	content, err := os.ReadFile(filepath.Join(logsDir, panicLogFile))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	for _, want := range []string{"PANIC in toolshedctl", "ensure pex", "boom", "goroutine 1 [running]"} {
		if !strings.Contains(string(content), want) {
			t.Errorf("panic log does not contain %q", want)
		}
	}
}

func TestLogPanicWithoutInit(t *testing.T) {
	Reset()
	// Falls back to stderr.
	LogPanic("test", "error", "stack")
}

func TestClose(t *testing.T) {
	Reset()
	defer Reset()

	if err := Init(t.TempDir()); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if err := Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	if err := Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestConcurrentLogPanic(t *testing.T) {
	logsDir := t.TempDir()
	Reset()
	defer Reset()

	if err := Init(logsDir); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	const numGoroutines = 10
	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			LogPanic("concurrent test", "test error", "stack trace")
		}()
	}
	wg.Wait()

	content, err := os.ReadFile(filepath.Join(logsDir, panicLogFile))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if count := strings.Count(string(content), "PANIC in toolshedctl"); count != numGoroutines {
		t.Errorf("Expected %d panic entries, got %d", numGoroutines, count)
	}
}
