package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/sharedvenv"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/softlock"
)

var relocateCmd = &cobra.Command{
	Use:   "relocate <path> <old-prefix> <new-prefix>",
	Short: "Rewrite the absolute paths embedded in moved scripts",
	Long: `Replace every occurrence of <old-prefix> with <new-prefix> in a script, or
in the scripts of an environment's bin folder when <path> is a folder.
Binaries are left alone. The owning environment is locked while scripts are
rewritten.

Example:
  toolshedctl relocate /opt/venvs/pex /build/venvs/pex /opt/venvs/pex`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelocate(cmd.Context(), shed, cmd.OutOrStdout(), args[0], args[1], args[2])
	},
}

func init() {
	rootCmd.AddCommand(relocateCmd)
}

func runRelocate(ctx context.Context, a *app, out io.Writer, path, from, to string) error {
	base, err := relocationBase(path)
	if err != nil {
		return &sharedvenv.RelocationError{Op: "read", Path: path, Err: err}
	}

	var n int
	err = softlock.WithLock(ctx, base, a.settings.LockTimeout, func(*softlock.Lock) error {
		r := sharedvenv.Relocator{DryRun: a.fops.DryRun(), Logger: a.logger}
		var relocErr error
		n, relocErr = r.Relocate(path, from, to)
		return relocErr
	}, a.lockOptions()...)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintf(out, "%s nothing to relocate in %s\n", mutedStyle.Render("•"), path)
		return nil
	}
	verb := "rewrote"
	if a.fops.DryRun() {
		verb = "would rewrite"
	}
	fmt.Fprintf(out, "%s %s %d line(s) in %s\n", successStyle.Render("✅"), verb, n, path)
	return nil
}

// relocationBase returns the environment whose lock covers path: the folder
// itself, or the environment above a bin folder or a script inside one.
func relocationBase(path string) (string, error) {
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	dir := path
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}
	if filepath.Base(dir) == "bin" {
		return filepath.Dir(dir), nil
	}
	return dir, nil
}
