package sharedvenv

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/fileops"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/softlock"
)

// Rebuild replaces the environment at the lock's target with a fresh one
// holding spec, so that the live environment is never mutated in place:
//
//  1. create <base>.tmp-<id> and install spec into it
//  2. rewrite <base>.tmp-<id> into <base> inside its scripts
//  3. move the live environment aside, move the new one in
//  4. delete the old one
//
// The caller must hold lock. On failure before step 3 the live environment
// is untouched and the temporary one is removed.
func Rebuild(ctx context.Context, lock *softlock.Lock, opts Options, spec string) (Result, error) {
	if !lock.Locked() {
		return Failed, ErrLockNotHeld
	}
	if _, err := ParseSpec(spec); err != nil {
		return Failed, err
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return Failed, err
	}
	base := lock.Target()
	fops := opts.FileOps
	if fops.DryRun() {
		opts.Logger.InfoContext(ctx, fmt.Sprintf("Would rebuild %s with %s", base, spec))
		return Installed, nil
	}

	id := uuid.NewString()
	tmp := fmt.Sprintf("%s.tmp-%s", base, id)
	old := fmt.Sprintf("%s.old-%s", base, id)
	staged := false
	defer func() {
		if !staged {
			fops.Delete(ctx, tmp, false)
		}
	}()

	fresh, err := open(ctx, lock, tmp, opts)
	if err != nil {
		return Failed, err
	}
	res, err := fresh.EnsureInstalled(ctx, spec)
	if err != nil {
		return Failed, err
	}
	if _, err := (Relocator{Logger: opts.Logger}).Relocate(tmp, tmp, base); err != nil {
		return Failed, err
	}

	_, statErr := os.Stat(base)
	hadLive := statErr == nil
	if hadLive {
		if fops.Move(ctx, base, old, false) != fileops.Done {
			return Failed, fmt.Errorf("can't move %s aside", base)
		}
	}
	if fops.Move(ctx, tmp, base, false) != fileops.Done {
		if hadLive {
			fops.Move(ctx, old, base, false)
		}
		return Failed, fmt.Errorf("can't move %s into place", tmp)
	}
	staged = true
	if hadLive {
		fops.Delete(ctx, old, false)
	}
	opts.Logger.InfoContext(ctx, "Environment rebuilt", "path", base, "spec", spec)
	return res, nil
}
