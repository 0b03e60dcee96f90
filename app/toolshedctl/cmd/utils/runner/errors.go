package runner

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotInstalled is returned when the requested program cannot be found.
var ErrNotInstalled = errors.New("is not installed")

// CmdError describes a subprocess that could not be launched or exited with a
// non-zero status. It carries the exit code and captured stderr, which is
// crucial for debugging failed installs.
type CmdError struct {
	Program  string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

// Error implements the error interface for CmdError.
func (e *CmdError) Error() string {
	switch {
	case errors.Is(e.Err, ErrNotInstalled):
		return fmt.Sprintf("%s is not installed", e.Program)
	case e.ExitCode > 0:
		msg := fmt.Sprintf("%s exited with code %d", e.Program, e.ExitCode)
		if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
			msg += ": " + stderr
		}
		return msg
	default:
		return fmt.Sprintf("%s failed: %v", e.Program, e.Err)
	}
}

// Unwrap provides access to the underlying error.
func (e *CmdError) Unwrap() error {
	return e.Err
}

// Command returns the full command line, for logs.
func (e *CmdError) Command() string {
	return strings.TrimSpace(e.Program + " " + strings.Join(e.Args, " "))
}
