// Package sharedvenv manages shared, per-tool isolated environments: it
// creates them, detects which module versions they hold, installs or upgrades
// modules when stale, rewrites embedded paths when an environment moves, and
// discovers environments on disk.
//
// A Venv borrows a held *softlock.Lock for the environment's base folder. It
// never locks by itself, so callers can batch several mutations under one
// acquisition.
package sharedvenv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/abort"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/envmeta"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/fileops"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/runner"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/softlock"
)

// BinDir is the executable-entry-points folder of an environment. Creation,
// detection and relocation all rely on this name.
const BinDir = "bin"

// DefaultStalenessWindow is used when Options.StalenessWindow is zero.
const DefaultStalenessWindow = 24 * time.Hour

// Options configures a Venv.
type Options struct {
	// Backend is used as is when set; otherwise BackendName is resolved
	// through Backends().
	Backend     Backend
	BackendName string
	Python      string
	Index       string
	// StalenessWindow is how long an installed entry point counts as fresh.
	StalenessWindow time.Duration

	Runner  runner.Runner
	FileOps fileops.FileOps
	Logger  *slog.Logger

	// Fatal makes a failing creation or install subprocess abort through
	// Aborter instead of returning Failed.
	Fatal   bool
	Aborter abort.Aborter

	// LookPath locates the creation tool; defaults to runner.Which.
	LookPath func(string) string
	// Now defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() (Options, error) {
	if o.Backend == nil {
		b, err := Backends().Resolve(o.BackendName)
		if err != nil {
			return o, err
		}
		o.Backend = b
	}
	if o.Python == "" {
		o.Python = "python3"
	}
	if o.StalenessWindow <= 0 {
		o.StalenessWindow = DefaultStalenessWindow
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Runner == nil {
		o.Runner = runner.New(o.Logger)
	}
	if o.FileOps == nil {
		o.FileOps = fileops.New(fileops.Options{Logger: o.Logger})
	}
	if o.LookPath == nil {
		o.LookPath = runner.Which
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o, nil
}

// Package is one line of an environment's freeze manifest.
type Package struct {
	Name    string
	Version string
}

// Installation is the observed state of one module.
type Installation struct {
	Name    string
	Version string
	// Present means the entry point exists in the bin folder.
	Present bool
	// Fresh means the entry point was modified within the staleness window.
	Fresh bool
}

// Installed reports whether the entry point exists and the manifest lists
// the module. Either signal alone is not trusted.
func (i Installation) Installed() bool {
	return i.Present && i.Version != ""
}

// Venv is a shared environment rooted at its lock's target.
type Venv struct {
	lock *softlock.Lock
	base string
	opts Options
	meta envmeta.Store

	frozen []Package
}

// New opens the environment guarded by lock, creating it with the configured
// backend when it has no python yet.
func New(ctx context.Context, lock *softlock.Lock, opts Options) (*Venv, error) {
	return open(ctx, lock, lock.Target(), opts)
}

func open(ctx context.Context, lock *softlock.Lock, base string, opts Options) (*Venv, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	v := &Venv{
		lock: lock,
		base: filepath.Clean(base),
		opts: opts,
		meta: envmeta.New(opts.FileOps, base),
	}
	if _, err := os.Stat(v.Python()); err == nil {
		return v, nil
	}
	if err := v.create(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Venv) create(ctx context.Context) error {
	if !v.lock.Locked() {
		return ErrLockNotHeld
	}
	tool := v.opts.Backend.Tool()
	toolPath := v.opts.LookPath(tool)
	if toolPath == "" {
		return &ToolingError{Tool: tool}
	}

	name, args := v.opts.Backend.CreateCommand(toolPath, v.opts.Python, v.base)
	if v.opts.FileOps.DryRun() {
		v.opts.Logger.InfoContext(ctx, fmt.Sprintf("Would create environment %s", v.base), "command", commandLine(name, args))
		return nil
	}
	v.opts.Logger.InfoContext(ctx, "Creating environment", "path", v.base, "backend", v.opts.Backend.Name(), "python", v.opts.Python)
	if _, err := v.run(ctx, name, args); err != nil {
		return err
	}
	return v.meta.Save(ctx, envmeta.Metadata{
		CreatedAt: v.opts.Now().UTC(),
		Python:    v.opts.Python,
		Backend:   v.opts.Backend.Name(),
	})
}

// Base returns the environment's base folder.
func (v *Venv) Base() string {
	return v.base
}

// Python returns the environment's python executable.
func (v *Venv) Python() string {
	return filepath.Join(v.base, BinDir, "python")
}

// EntryPoint returns the path of the executable named name.
func (v *Venv) EntryPoint(name string) string {
	return filepath.Join(v.base, BinDir, name)
}

// Metadata returns the stored environment attributes.
func (v *Venv) Metadata() (envmeta.Metadata, error) {
	return v.meta.Load()
}

// Frozen returns the environment's installed modules, in manifest order.
// The manifest is queried once and cached until the next install.
func (v *Venv) Frozen(ctx context.Context) ([]Package, error) {
	if v.frozen != nil {
		return v.frozen, nil
	}
	pkgs, err := Manifest(ctx, v.opts.Runner, v.opts.Backend, v.base)
	if err != nil {
		return nil, err
	}
	v.frozen = pkgs
	return v.frozen, nil
}

// Manifest lists the installed modules of the environment at base without
// its lock. The answer is advisory: it may reflect an install in progress.
func Manifest(ctx context.Context, r runner.Runner, b Backend, base string) ([]Package, error) {
	name, args := b.FreezeCommand(base)
	out, err := r.Run(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	return parseFreeze(out), nil
}

// parseFreeze reads "name==version" lines, ignoring anything else.
func parseFreeze(out string) []Package {
	pkgs := []Package{}
	for line := range strings.Lines(out) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, version, ok := strings.Cut(line, "==")
		name, version = strings.TrimSpace(name), strings.TrimSpace(version)
		if !ok || name == "" || version == "" {
			continue
		}
		pkgs = append(pkgs, Package{Name: name, Version: version})
	}
	return pkgs
}

// lookup returns the version of the first manifest entry matching name,
// ignoring case.
func lookup(pkgs []Package, name string) string {
	for _, p := range pkgs {
		if strings.EqualFold(p.Name, name) {
			return p.Version
		}
	}
	return ""
}

// InstalledModule reports the state of module name. A missing entry point
// short-circuits without querying the manifest.
func (v *Venv) InstalledModule(ctx context.Context, name string) (Installation, error) {
	inst := Installation{Name: name}
	info, err := os.Stat(v.EntryPoint(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return inst, nil
		}
		return inst, fmt.Errorf("can't inspect %s: %w", v.EntryPoint(name), err)
	}
	inst.Present = true
	inst.Fresh = v.opts.Now().Sub(info.ModTime()) < v.opts.StalenessWindow

	pkgs, err := v.Frozen(ctx)
	if err != nil {
		return inst, err
	}
	inst.Version = lookup(pkgs, name)
	if inst.Version == "" {
		v.opts.Logger.DebugContext(ctx, "Entry point present but not in manifest", "module", name, "path", v.base)
	}
	return inst, nil
}

// run executes a mutating subprocess, honouring the Fatal option.
func (v *Venv) run(ctx context.Context, name string, args []string) (string, error) {
	p := runner.Program{Runner: v.opts.Runner, Aborter: v.opts.Aborter}
	return p.Run(ctx, v.opts.Fatal, name, args...)
}

func commandLine(name string, args []string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}
