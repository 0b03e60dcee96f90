// Package abort provides the fatal-failure strategy used by toolshedctl.
//
// Low-level helpers (file operations, subprocess execution) abort the process
// when they run in fatal mode and have no meaningful local recovery. The
// strategy is injected so that tests can observe the abort message instead of
// terminating the test binary.
package abort

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Aborter terminates the current operation with a single-line message.
// Implementations must not return normally.
type Aborter interface {
	Abort(message string)
}

// exitAborter prints the message and exits with a non-zero status.
type exitAborter struct {
	out  io.Writer
	exit func(code int)
}

// NewExit returns the production Aborter: it prints "❌ <message>" to stderr
// and exits with status 1.
func NewExit() Aborter {
	return &exitAborter{out: os.Stderr, exit: os.Exit}
}

// Abort implements Aborter.
func (a *exitAborter) Abort(message string) {
	_, _ = fmt.Fprintf(a.out, "❌ %s\n", singleLine(message))
	a.exit(1)
}

// Error is the panic value raised by the Panicking aborter.
type Error struct {
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// panicking raises *Error instead of exiting, so callers can recover it.
type panicking struct{}

// NewPanicking returns an Aborter that panics with *Error.
// It is intended for tests and for embedding toolshed in long-running hosts.
func NewPanicking() Aborter {
	return panicking{}
}

// Abort implements Aborter.
func (panicking) Abort(message string) {
	panic(&Error{Message: singleLine(message)})
}

// Catch runs fn and returns the abort message raised through a Panicking
// aborter, or "" if fn returned normally. Other panics are re-raised.
func Catch(fn func()) (message string) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(*Error); ok {
				message = e.Message
				return
			}
			panic(r)
		}
	}()
	fn()
	return ""
}

// singleLine collapses multi-line messages (e.g. subprocess stderr) so every
// abort path prints exactly one line.
func singleLine(message string) string {
	return strings.Join(strings.Fields(message), " ")
}
