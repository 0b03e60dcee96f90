package sharedvenv

import (
	"io/fs"
	"iter"
	"path/filepath"
)

// FindVenvs yields the bin folders of the environments found under root,
// in filesystem walk order. The walk is lazy and starts over on every
// iteration; unreadable folders are skipped.
func FindVenvs(root string) iter.Seq[string] {
	return func(yield func(string) bool) {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			if d.Name() != BinDir {
				return nil
			}
			if !yield(path) {
				return fs.SkipAll
			}
			return fs.SkipDir
		})
	}
}
