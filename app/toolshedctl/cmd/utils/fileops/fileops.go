// Package fileops provides the dry-run aware file primitives used to build and
// maintain tool environments. Calls return a tri-state Result; in fatal mode a
// failure aborts through the configured abort.Aborter instead.
package fileops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/abort"
)

// Result is the tri-state outcome of a file operation.
type Result int

const (
	// Failed means the operation was attempted and failed (non-fatal mode only).
	Failed Result = -1
	// NoOp means there was nothing to do.
	NoOp Result = 0
	// Done means the operation succeeded, or would have succeeded in dry-run mode.
	Done Result = 1
)

// Mode selects whether mutating calls touch the filesystem.
type Mode int

const (
	// Execute performs every operation.
	Execute Mode = iota
	// DryRun logs the intended action and reports success without side effects.
	DryRun
)

// ErrSourceInDestination is returned when the destination of a copy or move
// is an ancestor of the source's parent folder.
var ErrSourceInDestination = errors.New("source contained in destination")

// ErrNotExist is returned when the source of an operation is missing.
var ErrNotExist = errors.New("does not exist")

// IOError carries the failed operation, the offending path and the cause.
type IOError struct {
	Op   string
	Path string
	Dest string
	Err  error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	if errors.Is(e.Err, ErrNotExist) {
		return fmt.Sprintf("%s %s", e.Path, e.Err)
	}
	if e.Dest != "" {
		return fmt.Sprintf("can't %s %s -> %s: %v", e.Op, e.Path, e.Dest, e.Err)
	}
	return fmt.Sprintf("can't %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap provides access to the underlying error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// FileOps defines the file primitives used by the environment manager.
// Every mutating call honours the configured Mode.
type FileOps interface {
	// Copy copies a file or a directory tree, replacing an existing destination.
	Copy(ctx context.Context, src, dst string, fatal bool) Result

	// Move renames src to dst, replacing an existing destination. Falls back to
	// copy+delete when the rename crosses devices.
	Move(ctx context.Context, src, dst string, fatal bool) Result

	// Delete removes a file or a directory tree. A missing path is a NoOp.
	Delete(ctx context.Context, path string, fatal bool) Result

	// Write stores content at path, creating parent folders as needed.
	// It returns the number of bytes written (0 for an empty path) and aborts
	// on failure.
	Write(ctx context.Context, path, content string, quiet bool) int

	// MakeExecutable adds the executable bits to path.
	MakeExecutable(ctx context.Context, path string, fatal bool) Result

	// Touch creates an empty file or refreshes the modification time of an
	// existing one. Aborts on failure.
	Touch(ctx context.Context, path string) Result

	// EnsureFolder creates path (and parents) if it does not exist yet.
	EnsureFolder(ctx context.Context, path string, fatal bool) Result

	// DryRun reports whether mutating calls are simulated.
	DryRun() bool
}

// Options configures a FileOps implementation.
type Options struct {
	Mode    Mode
	Logger  *slog.Logger
	Aborter abort.Aborter
}

// fileOpsImpl implements the FileOps interface.
type fileOpsImpl struct {
	mode    Mode
	logger  *slog.Logger
	aborter abort.Aborter
}

// New creates a FileOps. A nil logger discards output and a nil aborter exits
// the process on fatal failures.
func New(opts Options) FileOps {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	aborter := opts.Aborter
	if aborter == nil {
		aborter = abort.NewExit()
	}
	return &fileOpsImpl{mode: opts.Mode, logger: logger, aborter: aborter}
}

// DryRun implements the FileOps interface.
func (f *fileOpsImpl) DryRun() bool {
	return f.mode == DryRun
}

// fail reports err either by aborting or by logging it and returning Failed.
func (f *fileOpsImpl) fail(ctx context.Context, fatal bool, err error) Result {
	if fatal {
		f.aborter.Abort(err.Error())
		return Failed
	}
	f.logger.ErrorContext(ctx, "File operation failed", "error", err)
	return Failed
}

// checkTransfer validates a copy/move request. It returns NoOp when there is
// nothing to do, Failed (through fail) for invalid requests, and Done when the
// transfer may proceed.
func (f *fileOpsImpl) checkTransfer(ctx context.Context, op, src, dst string, fatal bool) Result {
	if src == "" || dst == "" || src == dst {
		return NoOp
	}
	parent := absPath(filepath.Dir(src))
	target := absPath(dst)
	if parent != target && isWithin(parent, target) {
		return f.fail(ctx, fatal, &IOError{Op: op, Path: src, Dest: dst, Err: ErrSourceInDestination})
	}
	return Done
}

// Copy implements the FileOps interface.
func (f *fileOpsImpl) Copy(ctx context.Context, src, dst string, fatal bool) Result {
	cleanSrc, cleanDst := cleanOrEmpty(src), cleanOrEmpty(dst)
	if r := f.checkTransfer(ctx, "copy", cleanSrc, cleanDst, fatal); r != Done {
		return r
	}
	if f.DryRun() {
		f.logger.InfoContext(ctx, fmt.Sprintf("Would copy %s -> %s", src, dst))
		return Done
	}

	info, err := os.Lstat(cleanSrc)
	if err != nil {
		return f.fail(ctx, fatal, &IOError{Op: "copy", Path: cleanSrc, Err: notExistOr(err)})
	}
	f.logger.DebugContext(ctx, "Copying", "from", cleanSrc, "to", cleanDst)

	if err := os.RemoveAll(cleanDst); err != nil {
		return f.fail(ctx, fatal, &IOError{Op: "copy", Path: cleanSrc, Dest: cleanDst, Err: err})
	}
	if err := os.MkdirAll(filepath.Dir(cleanDst), 0o755); err != nil {
		return f.fail(ctx, fatal, &IOError{Op: "copy", Path: cleanSrc, Dest: cleanDst, Err: err})
	}
	if info.IsDir() {
		err = copyTree(cleanSrc, cleanDst)
	} else {
		err = copyFile(cleanSrc, cleanDst, info)
	}
	if err != nil {
		return f.fail(ctx, fatal, &IOError{Op: "copy", Path: cleanSrc, Dest: cleanDst, Err: err})
	}
	return Done
}

// Move implements the FileOps interface.
func (f *fileOpsImpl) Move(ctx context.Context, src, dst string, fatal bool) Result {
	cleanSrc, cleanDst := cleanOrEmpty(src), cleanOrEmpty(dst)
	if r := f.checkTransfer(ctx, "move", cleanSrc, cleanDst, fatal); r != Done {
		return r
	}
	if f.DryRun() {
		f.logger.InfoContext(ctx, fmt.Sprintf("Would move %s -> %s", src, dst))
		return Done
	}

	info, err := os.Lstat(cleanSrc)
	if err != nil {
		return f.fail(ctx, fatal, &IOError{Op: "move", Path: cleanSrc, Err: notExistOr(err)})
	}
	f.logger.DebugContext(ctx, "Moving", "from", cleanSrc, "to", cleanDst)

	if err := os.RemoveAll(cleanDst); err != nil {
		return f.fail(ctx, fatal, &IOError{Op: "move", Path: cleanSrc, Dest: cleanDst, Err: err})
	}
	// Ensure target dir exists before any move attempt
	if err := os.MkdirAll(filepath.Dir(cleanDst), 0o755); err != nil {
		return f.fail(ctx, fatal, &IOError{Op: "move", Path: cleanSrc, Dest: cleanDst, Err: err})
	}

	// Fast path
	err = os.Rename(cleanSrc, cleanDst)
	if err == nil {
		return Done
	}
	if !isCrossDevice(cleanSrc, cleanDst, err) {
		return f.fail(ctx, fatal, &IOError{Op: "move", Path: cleanSrc, Dest: cleanDst, Err: err})
	}

	f.logger.DebugContext(ctx, "Cross-device move detected, falling back to copy+delete")
	if info.IsDir() {
		err = copyTree(cleanSrc, cleanDst)
		if err == nil {
			err = os.RemoveAll(cleanSrc)
		}
	} else {
		err = copyThenReplace(cleanSrc, cleanDst)
	}
	if err != nil {
		return f.fail(ctx, fatal, &IOError{Op: "move", Path: cleanSrc, Dest: cleanDst, Err: err})
	}
	return Done
}

// Delete implements the FileOps interface.
func (f *fileOpsImpl) Delete(ctx context.Context, path string, fatal bool) Result {
	if path == "" {
		return NoOp
	}
	if f.DryRun() {
		f.logger.InfoContext(ctx, fmt.Sprintf("Would delete %s", path))
		return Done
	}
	cleanPath := filepath.Clean(path)
	info, err := os.Lstat(cleanPath)
	if os.IsNotExist(err) {
		return NoOp
	}
	f.logger.DebugContext(ctx, "Deleting", "path", cleanPath)
	if err == nil && info.IsDir() {
		err = os.RemoveAll(cleanPath)
	} else {
		err = os.Remove(cleanPath)
	}
	if err != nil {
		return f.fail(ctx, fatal, &IOError{Op: "delete", Path: cleanPath, Err: err})
	}
	return Done
}

// Write implements the FileOps interface.
func (f *fileOpsImpl) Write(ctx context.Context, path, content string, quiet bool) int {
	if path == "" {
		return 0
	}
	if f.DryRun() {
		if !quiet {
			f.logger.InfoContext(ctx, fmt.Sprintf("Would write %d bytes to %s", len(content), path))
		}
		return len(content)
	}
	cleanPath := filepath.Clean(path)
	if !quiet {
		f.logger.DebugContext(ctx, "Writing file", "path", cleanPath, "bytes", len(content))
	}
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		f.fail(ctx, true, &IOError{Op: "write", Path: cleanPath, Err: err})
		return 0
	}
	if err := os.WriteFile(cleanPath, []byte(content), 0o644); err != nil {
		f.fail(ctx, true, &IOError{Op: "write", Path: cleanPath, Err: err})
		return 0
	}
	return len(content)
}

// MakeExecutable implements the FileOps interface.
func (f *fileOpsImpl) MakeExecutable(ctx context.Context, path string, fatal bool) Result {
	if path == "" {
		return NoOp
	}
	if f.DryRun() {
		f.logger.InfoContext(ctx, fmt.Sprintf("Would make %s executable", path))
		return Done
	}
	cleanPath := filepath.Clean(path)
	info, err := os.Stat(cleanPath)
	if err != nil {
		return f.fail(ctx, fatal, &IOError{Op: "chmod", Path: cleanPath, Err: notExistOr(err)})
	}
	f.logger.DebugContext(ctx, "Making executable", "path", cleanPath)
	if err := os.Chmod(cleanPath, info.Mode().Perm()|0o111); err != nil {
		return f.fail(ctx, fatal, &IOError{Op: "chmod", Path: cleanPath, Err: err})
	}
	return Done
}

// Touch implements the FileOps interface.
func (f *fileOpsImpl) Touch(ctx context.Context, path string) Result {
	if path == "" {
		return NoOp
	}
	if f.DryRun() {
		f.logger.InfoContext(ctx, fmt.Sprintf("Would touch %s", path))
		return Done
	}
	cleanPath := filepath.Clean(path)
	now := time.Now()
	if err := os.Chtimes(cleanPath, now, now); err == nil {
		return Done
	}
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return f.fail(ctx, true, &IOError{Op: "touch", Path: cleanPath, Err: err})
	}
	file, err := os.OpenFile(cleanPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return f.fail(ctx, true, &IOError{Op: "touch", Path: cleanPath, Err: err})
	}
	if err := file.Close(); err != nil {
		return f.fail(ctx, true, &IOError{Op: "touch", Path: cleanPath, Err: err})
	}
	return Done
}

// EnsureFolder implements the FileOps interface.
func (f *fileOpsImpl) EnsureFolder(ctx context.Context, path string, fatal bool) Result {
	if path == "" {
		return NoOp
	}
	cleanPath := filepath.Clean(path)
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return NoOp
	}
	if f.DryRun() {
		f.logger.InfoContext(ctx, fmt.Sprintf("Would create folder %s", path))
		return Done
	}
	f.logger.DebugContext(ctx, "Creating folder", "path", cleanPath)
	if err := os.MkdirAll(cleanPath, 0o755); err != nil {
		return f.fail(ctx, fatal, &IOError{Op: "create folder", Path: cleanPath, Err: err})
	}
	return Done
}

func cleanOrEmpty(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// isWithin reports whether path is equal to or below dir.
func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func notExistOr(err error) error {
	if os.IsNotExist(err) {
		return ErrNotExist
	}
	return err
}

// isCrossDevice detects cross-device/drive moves.
// On Windows it compares volume names, elsewhere it looks for EXDEV.
func isCrossDevice(src, dst string, renameErr error) bool {
	if runtime.GOOS == "windows" {
		return !strings.EqualFold(filepath.VolumeName(src), filepath.VolumeName(dst))
	}
	msg := strings.ToLower(renameErr.Error())
	return strings.Contains(msg, "cross-device") || strings.Contains(msg, "exdev")
}

// copyThenReplace copies src -> dst atomically (temp file + rename), then removes src.
func copyThenReplace(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat src: %w", err)
	}
	tmp := dst + ".tmp-copy"
	if err := copyFile(src, tmp, info); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp to final: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove src after copy: %w", err)
	}
	return nil
}

// copyFile copies a regular file or recreates a symlink, keeping the mode.
func copyFile(src, dst string, info fs.FileInfo) error {
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return fmt.Errorf("read link: %w", err)
		}
		return os.Symlink(target, dst)
	}

	sf, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open src: %w", err)
	}
	defer sf.Close()

	df, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create dst: %w", err)
	}
	if _, err := io.Copy(df, sf); err != nil {
		_ = df.Close()
		return fmt.Errorf("copy data: %w", err)
	}
	if err := df.Sync(); err != nil {
		_ = df.Close()
		return fmt.Errorf("sync dst: %w", err)
	}
	if err := df.Close(); err != nil {
		return fmt.Errorf("close dst: %w", err)
	}
	return nil
}

// copyTree recursively copies the directory src to dst.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := os.Lstat(path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(path, target, info)
	})
}
