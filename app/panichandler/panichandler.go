// Package panichandler turns panics into panic.log reports.
package panichandler

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/toolshed/toolshed/app/paniclogger"
)

// Recover logs a panic and re-raises it, so the process still exits with
// a crash status.
// Usage: defer panichandler.Recover("toolshedctl")
func Recover(where string) {
	if r := recover(); r != nil {
		report(where, r)
		panic(r)
	}
}

// RecoverError logs a panic and stores it in *errp instead of crashing. It
// is meant for worker goroutines whose errors are collected by a group.
// Usage: defer panichandler.RecoverError("manifest "+path, &err)
func RecoverError(where string, errp *error) {
	if r := recover(); r != nil {
		report(where, r)
		if errp != nil {
			*errp = fmt.Errorf("panic in %s: %v", where, r)
		}
	}
}

func report(where string, r any) {
	stackTrace := string(debug.Stack())
	paniclogger.LogPanic(where, r, stackTrace)
	slog.Error("caught panic",
		slog.String("context", where),
		slog.Any("error", r),
		slog.String("stack", stackTrace),
	)
}
