// Package softlock implements a cross-process mutual-exclusion primitive that
// relies only on exclusive file creation, not on OS advisory locks (which are
// unreliable on some network filesystems and mounts).
//
// Locking a path P creates the sibling file "P.lock" holding the owner's
// process id and acquisition time. A lock file whose recorded process is no
// longer running is stale and is reclaimed by the next acquirer.
//
// Staleness is decided with a local process-liveness probe, so the lock only
// provides mutual exclusion between processes on the same host. It is
// advisory: participants that bypass it are not ordered.
package softlock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// Suffix is appended to the locked path to name its lock file.
	Suffix = ".lock"
	// DefaultPollInterval is the sleep between two acquisition attempts.
	DefaultPollInterval = 50 * time.Millisecond
	// emptyHolderGrace is how long an empty lock file is assumed to be in the
	// middle of being written by its creator.
	emptyHolderGrace = time.Second
)

// ErrLockTimeout matches every *TimeoutError.
var ErrLockTimeout = errors.New("lock timeout")

// TimeoutError is returned when a lock could not be acquired in time.
// It is always recoverable: callers may retry with a longer timeout.
type TimeoutError struct {
	Path    string
	Timeout time.Duration
	Holder  int
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("can't acquire lock %s within %s", e.Path, e.Timeout)
	if e.Holder > 0 {
		msg += fmt.Sprintf(" (held by pid %d)", e.Holder)
	}
	return msg
}

// Is makes errors.Is(err, ErrLockTimeout) work.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrLockTimeout
}

// Lock is a held soft lock. It exclusively owns its lock file until released.
type Lock struct {
	target   string
	lockPath string
	pid      int
	record   string
	logger   *slog.Logger

	mu       sync.Mutex
	released bool
}

// Option customizes Acquire.
type Option func(*options)

type options struct {
	pollInterval time.Duration
	logger       *slog.Logger
	pid          int
	alive        func(pid int) bool
	watch        bool
}

// WithPollInterval changes the sleep between two acquisition attempts.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithLogger sets the logger used for stale-lock and wait diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPID records pid instead of the current process id as the holder.
func WithPID(pid int) Option {
	return func(o *options) {
		o.pid = pid
	}
}

// WithLivenessProbe replaces ProcessAlive when deciding staleness.
func WithLivenessProbe(alive func(pid int) bool) Option {
	return func(o *options) {
		if alive != nil {
			o.alive = alive
		}
	}
}

// WithoutWatch disables the filesystem watcher; waiting then relies on polling only.
func WithoutWatch() Option {
	return func(o *options) {
		o.watch = false
	}
}

// LockPath returns the lock file path for target.
func LockPath(target string) string {
	return filepath.Clean(target) + Suffix
}

// Acquire locks path, waiting up to timeout while another live process holds
// it. A zero timeout performs exactly one attempt. Stale locks are removed and
// retried immediately without consuming the wait budget.
//
// Known gap: under continuous stale-lock churn a waiter can keep retrying
// without ever timing out.
func Acquire(ctx context.Context, path string, timeout time.Duration, opts ...Option) (*Lock, error) {
	o := options{
		pollInterval: DefaultPollInterval,
		logger:       slog.New(slog.DiscardHandler),
		pid:          os.Getpid(),
		alive:        ProcessAlive,
		watch:        true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if timeout < 0 {
		timeout = 0
	}

	l := &Lock{
		target:   filepath.Clean(path),
		lockPath: LockPath(path),
		pid:      o.pid,
		logger:   o.logger,
	}

	var watcher *fsnotify.Watcher
	defer func() {
		if watcher != nil {
			_ = watcher.Close()
		}
	}()

	start := time.Now()
	for {
		created, err := l.tryCreate()
		if err != nil {
			return nil, err
		}
		if created {
			o.logger.DebugContext(ctx, "Lock acquired", "lock", l.lockPath, "waited", time.Since(start))
			return l, nil
		}

		holder, state := o.inspect(l.lockPath)
		switch state {
		case holderGone:
			continue
		case holderStale:
			o.logger.InfoContext(ctx, "Reclaiming stale lock", "lock", l.lockPath, "pid", holder.PID)
			if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("can't remove stale lock %s: %w", l.lockPath, err)
			}
			continue
		}

		elapsed := time.Since(start)
		if elapsed >= timeout {
			return nil, &TimeoutError{Path: l.target, Timeout: timeout, Holder: holder.PID}
		}
		if watcher == nil && o.watch {
			watcher = newWatcher(filepath.Dir(l.lockPath))
			o.watch = watcher != nil
		}
		if err := wait(ctx, min(o.pollInterval, timeout-elapsed), watcher, l.lockPath); err != nil {
			return nil, fmt.Errorf("waiting for lock %s: %w", l.lockPath, err)
		}
	}
}

// WithLock runs fn while holding the lock on path. The lock is released on
// every exit path, including errors and panics.
func WithLock(ctx context.Context, path string, timeout time.Duration, fn func(*Lock) error, opts ...Option) (err error) {
	l, err := Acquire(ctx, path, timeout, opts...)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, l.Release())
	}()
	return fn(l)
}

// tryCreate attempts the exclusive creation of the lock file. It reports
// false, nil when the file already exists.
func (l *Lock) tryCreate() (bool, error) {
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(filepath.Dir(l.lockPath), 0o755); mkErr != nil {
			return false, fmt.Errorf("can't create lock folder for %s: %w", l.lockPath, mkErr)
		}
		f, err = os.OpenFile(l.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	}
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("can't create lock file %s: %w", l.lockPath, err)
	}

	l.record = formatRecord(l.pid, time.Now())
	_, werr := f.WriteString(l.record)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(l.lockPath)
		return false, fmt.Errorf("can't write lock file %s: %w", l.lockPath, err)
	}
	return true, nil
}

// Release removes the lock file if it still exists and still belongs to this
// lock. Releasing twice, or after the file was deleted or taken over by
// someone else, is a no-op.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true

	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		l.logger.Warn("Can't read lock file on release, removing it anyway", "lock", l.lockPath, "error", err)
	} else if strings.TrimSpace(string(data)) != strings.TrimSpace(l.record) {
		l.logger.Warn("Lock file was taken over by another holder, leaving it", "lock", l.lockPath)
		return nil
	}

	if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("can't release lock %s: %w", l.lockPath, err)
	}
	l.logger.Debug("Lock released", "lock", l.lockPath)
	return nil
}

// Locked reports whether the lock file currently exists.
func (l *Lock) Locked() bool {
	_, err := os.Lstat(l.lockPath)
	return err == nil
}

// Target returns the locked path.
func (l *Lock) Target() string {
	return l.target
}

// PID returns the process id recorded as holder.
func (l *Lock) PID() int {
	return l.pid
}

// String returns the lock file path.
func (l *Lock) String() string {
	return l.lockPath
}

func newWatcher(dir string) *fsnotify.Watcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil
	}
	return w
}

// wait sleeps for d, returning early when the lock file is removed or renamed.
func wait(ctx context.Context, d time.Duration, w *fsnotify.Watcher, lockPath string) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w != nil {
		events, errs = w.Events, w.Errors
	}
	name := filepath.Base(lockPath)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) == name && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				return nil
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		}
	}
}
