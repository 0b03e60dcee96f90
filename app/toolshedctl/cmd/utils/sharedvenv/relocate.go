package sharedvenv

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// maxScriptSize bounds the bin entries considered for relocation; anything
// larger is a compiled executable.
const maxScriptSize = 1 << 20

// Relocator rewrites absolute paths embedded in environment scripts.
type Relocator struct {
	DryRun bool
	Logger *slog.Logger
}

// Relocate rewrites from into to with a default Relocator.
func Relocate(path, from, to string) (int, error) {
	return Relocator{}.Relocate(path, from, to)
}

// Relocate replaces every occurrence of from with to, line by line, leaving
// every other byte untouched. A file is rewritten whole; for a folder only
// the scripts in its bin folder are considered. It returns the number of
// changed lines, 0 meaning there was nothing to change.
func (r Relocator) Relocate(path, from, to string) (int, error) {
	if path == "" || from == "" || from == to {
		return 0, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, &RelocationError{Op: "read", Path: path, Err: err}
	}
	if !info.IsDir() {
		return r.relocateFile(path, []byte(from), []byte(to))
	}

	bin := path
	if filepath.Base(path) != BinDir {
		bin = filepath.Join(path, BinDir)
	}
	entries, err := os.ReadDir(bin)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, &RelocationError{Op: "read", Path: bin, Err: err}
	}

	total := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		script := filepath.Join(bin, entry.Name())
		if !isScript(script) {
			continue
		}
		n, err := r.relocateFile(script, []byte(from), []byte(to))
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r Relocator) relocateFile(path string, from, to []byte) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, &RelocationError{Op: "read", Path: path, Err: err}
	}

	lines := bytes.SplitAfter(data, []byte("\n"))
	changed := 0
	for i, line := range lines {
		if bytes.Contains(line, from) {
			lines[i] = bytes.ReplaceAll(line, from, to)
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}

	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if r.DryRun {
		logger.Info(fmt.Sprintf("Would relocate %d lines in %s", changed, path))
		return changed, nil
	}
	if err := os.WriteFile(path, bytes.Join(lines, nil), 0o644); err != nil {
		return 0, &RelocationError{Op: "write", Path: path, Err: err}
	}
	logger.Debug("Relocated script", "path", path, "lines", changed)
	return changed, nil
}

// isScript reports whether path looks like a text file: entry points and
// activation scripts, not compiled executables.
func isScript(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 || info.Size() > maxScriptSize {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		// Let relocateFile report the read failure.
		return true
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := f.Read(head)
	return !bytes.Contains(head[:n], []byte{0})
}
