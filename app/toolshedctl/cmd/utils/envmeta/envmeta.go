// Package envmeta stores the attributes of a shared environment that cannot
// be derived from its contents: when it was created and with which python and
// backend. The file lives inside the environment and must only be written
// while the environment's lock is held.
package envmeta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/fileops"
)

// FileName is the metadata file inside an environment's base folder.
const FileName = ".toolshed.json"

// ErrNotFound is returned by Load when the environment has no metadata yet.
var ErrNotFound = errors.New("environment metadata not found")

// Metadata holds the stored attributes of one environment.
type Metadata struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
	Python    string    `json:"python,omitempty"`
	Backend   string    `json:"backend,omitempty"`
	// Installed records the last version installed per module. It is
	// informational only: the freeze manifest stays authoritative.
	Installed map[string]string `json:"installed,omitempty"`
}

// Store defines the metadata operations for one environment.
type Store interface {
	// Load reads the metadata. Returns ErrNotFound if the file is missing.
	Load() (Metadata, error)

	// Save replaces the metadata file.
	Save(ctx context.Context, m Metadata) error

	// RecordInstall stores version as the last installed version of module,
	// creating the file if needed.
	RecordInstall(ctx context.Context, module, version string) error

	// Path returns the metadata file path.
	Path() string
}

type storeImpl struct {
	fops fileops.FileOps
	path string
	now  func() time.Time
}

// New returns the Store of the environment rooted at base. Writes go through
// fops, so they honour its dry-run mode.
func New(fops fileops.FileOps, base string) Store {
	return &storeImpl{fops: fops, path: filepath.Join(base, FileName), now: time.Now}
}

// Path implements the Store interface.
func (s *storeImpl) Path() string {
	return s.path
}

// Load implements the Store interface.
func (s *storeImpl) Load() (Metadata, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, ErrNotFound
		}
		return Metadata{}, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if len(data) == 0 {
		return Metadata{}, ErrNotFound
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("failed to unmarshal metadata from %s: %w", s.path, err)
	}
	return m, nil
}

// Save implements the Store interface.
func (s *storeImpl) Save(ctx context.Context, m Metadata) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	s.fops.Write(ctx, s.path, string(data)+"\n", true)
	return nil
}

// RecordInstall implements the Store interface.
func (s *storeImpl) RecordInstall(ctx context.Context, module, version string) error {
	m, err := s.Load()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if m.Installed == nil {
		m.Installed = map[string]string{}
	}
	m.Installed[module] = version
	m.UpdatedAt = s.now().UTC()
	return s.Save(ctx, m)
}
