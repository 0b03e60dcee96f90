package sharedvenv

import (
	"errors"
	"fmt"
)

var (
	// ErrToolingNotFound is returned when the environment-creation tool is not
	// available on this host. There is no fallback.
	ErrToolingNotFound = errors.New("environment creation tool not found")

	// ErrLockNotHeld is returned when a mutating operation runs without the
	// environment's lock.
	ErrLockNotHeld = errors.New("environment lock is not held")

	// ErrInstallUnverified is returned when an install exited successfully but
	// the manifest still does not list the module.
	ErrInstallUnverified = errors.New("not listed in the environment manifest after install")
)

// ToolingError names the tool that could not be located.
type ToolingError struct {
	Tool string
}

// Error implements the error interface.
func (e *ToolingError) Error() string {
	return fmt.Sprintf("can't determine path to %s", e.Tool)
}

// Is makes errors.Is(err, ErrToolingNotFound) work.
func (e *ToolingError) Is(target error) bool {
	return target == ErrToolingNotFound
}

// RelocationError is a read or write failure while rewriting paths. Files
// handled before the failure keep their rewritten content.
type RelocationError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *RelocationError) Error() string {
	return fmt.Sprintf("can't %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap provides access to the underlying error.
func (e *RelocationError) Unwrap() error {
	return e.Err
}

// SpecError reports a module specification that can't be parsed.
type SpecError struct {
	Spec string
	Err  error
}

// Error implements the error interface.
func (e *SpecError) Error() string {
	return fmt.Sprintf("invalid module spec '%s': %v", e.Spec, e.Err)
}

// Unwrap provides access to the underlying error.
func (e *SpecError) Unwrap() error {
	return e.Err
}
