package softlock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Holder is the content of a lock file.
type Holder struct {
	PID        int
	AcquiredAt time.Time
	// Empty is set when the file had no content at all, which happens while
	// its creator is still writing it.
	Empty   bool
	ModTime time.Time
}

type holderState int

const (
	holderAlive holderState = iota
	holderStale
	holderGone
)

func formatRecord(pid int, at time.Time) string {
	return fmt.Sprintf("%d %s\n", pid, at.UTC().Format(time.RFC3339Nano))
}

// ParsePID parses a process id as written in a lock file. Anything that is not
// a positive integer that fits a 32-bit pid yields 0, which no liveness probe
// considers running. Larger values would be truncated by the kernel.
func ParsePID(s string) int {
	pid, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil || pid <= 0 {
		return 0
	}
	return int(pid)
}

// ReadHolder parses the lock file at lockPath.
func ReadHolder(lockPath string) (Holder, error) {
	info, err := os.Stat(lockPath)
	if err != nil {
		return Holder{}, err
	}
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return Holder{}, err
	}

	h := Holder{ModTime: info.ModTime()}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		h.Empty = true
		return h, nil
	}
	h.PID = ParsePID(fields[0])
	if len(fields) > 1 {
		if at, err := time.Parse(time.RFC3339Nano, fields[1]); err == nil {
			h.AcquiredAt = at
		}
	}
	return h, nil
}

func (o *options) inspect(lockPath string) (Holder, holderState) {
	h, err := ReadHolder(lockPath)
	if errors.Is(err, fs.ErrNotExist) {
		return h, holderGone
	}
	if err != nil {
		// Unreadable: let the caller wait, it may become readable.
		return h, holderAlive
	}
	return h, h.state(o.alive, time.Now())
}

func (h Holder) state(alive func(int) bool, now time.Time) holderState {
	if h.Empty {
		if now.Sub(h.ModTime) < emptyHolderGrace {
			return holderAlive
		}
		return holderStale
	}
	if alive(h.PID) {
		return holderAlive
	}
	return holderStale
}

// Status describes the lock on a path, as seen from outside.
type Status struct {
	LockPath    string
	Held        bool
	Holder      Holder
	Alive       bool
	ProcessName string
}

// Stale reports whether the lock file exists but its holder is gone.
func (s Status) Stale() bool {
	return s.Held && !s.Alive
}

// Inspect reports who holds the lock on target, without acquiring it.
func Inspect(target string) (Status, error) {
	st := Status{LockPath: LockPath(target)}
	h, err := ReadHolder(st.LockPath)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("can't read lock file %s: %w", st.LockPath, err)
	}
	st.Held = true
	st.Holder = h
	st.Alive = h.state(ProcessAlive, time.Now()) == holderAlive
	if st.Alive && h.PID > 0 {
		if p, err := process.NewProcess(int32(h.PID)); err == nil {
			st.ProcessName, _ = p.Name()
		}
	}
	return st, nil
}

// ClearStale removes the lock file on target if its holder is no longer
// running. With force it is removed regardless. It reports whether a file was
// removed.
func ClearStale(target string, force bool) (bool, error) {
	st, err := Inspect(target)
	if err != nil && !force {
		return false, err
	}
	if !st.Held && err == nil {
		return false, nil
	}
	if !force && !st.Stale() {
		return false, nil
	}
	if err := os.Remove(st.LockPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("can't remove lock file %s: %w", st.LockPath, err)
	}
	return true, nil
}
