//go:build windows

package softlock

import (
	"math"

	"github.com/shirou/gopsutil/process"
)

// ProcessAlive reports whether a process with the given id is running on this host.
func ProcessAlive(pid int) bool {
	if pid <= 0 || pid > math.MaxInt32 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}
