package sharedvenv

import (
	"context"
	"fmt"
)

// Result is the outcome of EnsureInstalled.
type Result int

const (
	AlreadyCurrent Result = iota
	Installed
	Upgraded
	Failed
)

// String returns a human-readable form of the result.
func (r Result) String() string {
	switch r {
	case AlreadyCurrent:
		return "already current"
	case Installed:
		return "installed"
	case Upgraded:
		return "upgraded"
	default:
		return "failed"
	}
}

// EnsureInstalled makes sure spec is installed and current. The state is
// re-checked here, under the caller's lock, since another process may have
// just finished the same work.
//
//   - absent: install, Installed
//   - present, not satisfying spec: install spec, Upgraded
//   - present, satisfying, fresh: AlreadyCurrent
//   - present, constrained and satisfied, stale: touch, AlreadyCurrent
//   - present, unconstrained, stale: upgrade; Upgraded if the version
//     changed, otherwise touch, AlreadyCurrent
//
// Installing is not transactional: a failed install may leave the
// environment partially updated. Use Rebuild when atomicity matters.
func (v *Venv) EnsureInstalled(ctx context.Context, spec string) (Result, error) {
	ms, err := ParseSpec(spec)
	if err != nil {
		return Failed, err
	}
	if !v.lock.Locked() {
		return Failed, ErrLockNotHeld
	}

	inst, err := v.InstalledModule(ctx, ms.Name)
	if err != nil {
		return Failed, err
	}
	logger := v.opts.Logger.With("module", ms.Name, "path", v.base)

	switch {
	case !inst.Installed():
		return v.install(ctx, ms, ms.Raw, false, Installed)

	case !ms.Satisfied(inst.Version):
		logger.InfoContext(ctx, "Installed version does not satisfy request", "installed", inst.Version, "requested", ms.Raw)
		return v.install(ctx, ms, ms.Raw, false, Upgraded)

	case inst.Fresh:
		logger.DebugContext(ctx, "Module is current", "version", inst.Version)
		return AlreadyCurrent, nil

	case ms.Constrained():
		logger.DebugContext(ctx, "Constrained module is stale but satisfied, refreshing", "version", inst.Version)
		v.opts.FileOps.Touch(ctx, v.EntryPoint(ms.Name))
		return AlreadyCurrent, nil
	}

	logger.InfoContext(ctx, "Module is stale, checking for upgrade", "version", inst.Version)
	res, err := v.install(ctx, ms, ms.Name, true, Upgraded)
	if err != nil || v.opts.FileOps.DryRun() {
		return res, err
	}
	after, err := v.InstalledModule(ctx, ms.Name)
	if err != nil {
		return Failed, err
	}
	if after.Version == inst.Version {
		v.opts.FileOps.Touch(ctx, v.EntryPoint(ms.Name))
		return AlreadyCurrent, nil
	}
	return Upgraded, nil
}

// install runs the package manager and verifies the manifest afterwards.
func (v *Venv) install(ctx context.Context, ms ModuleSpec, requirement string, upgrade bool, success Result) (Result, error) {
	name, args := v.opts.Backend.InstallCommand(v.base, v.opts.Index, requirement, upgrade)
	if v.opts.FileOps.DryRun() {
		v.opts.Logger.InfoContext(ctx, fmt.Sprintf("Would install %s in %s", requirement, v.base), "command", commandLine(name, args))
		return success, nil
	}

	v.opts.Logger.InfoContext(ctx, "Installing module", "requirement", requirement, "path", v.base, "upgrade", upgrade)
	_, err := v.run(ctx, name, args)
	v.frozen = nil
	if err != nil {
		return Failed, err
	}

	inst, err := v.InstalledModule(ctx, ms.Name)
	if err != nil {
		return Failed, err
	}
	if !inst.Installed() {
		return Failed, fmt.Errorf("%s %w", ms.Name, ErrInstallUnverified)
	}
	if err := v.meta.RecordInstall(ctx, ms.Name, inst.Version); err != nil {
		v.opts.Logger.WarnContext(ctx, "Can't record install in environment metadata", "error", err)
	}
	v.opts.Logger.InfoContext(ctx, "Module installed", "module", ms.Name, "version", inst.Version)
	return success, nil
}
