//go:build !windows

package softlock

import (
	"errors"
	"math"

	"golang.org/x/sys/unix"
)

// ProcessAlive reports whether a process with the given id is running on this
// host. Signal 0 checks existence without delivering anything; EPERM means the
// process exists but belongs to someone else.
func ProcessAlive(pid int) bool {
	if pid <= 0 || pid > math.MaxInt32 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
