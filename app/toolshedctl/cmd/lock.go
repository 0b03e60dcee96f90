package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/softlock"
)

var lockClearForce bool

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect and clear environment locks",
	Long: `Every environment is guarded by <path>.lock, holding the id of the process
that owns it. Arguments are tool names (resolved under the root) or paths.`,
}

var lockStatusCmd = &cobra.Command{
	Use:   "status <tool|path>...",
	Short: "Show who holds the lock on an environment",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLockStatus(shed, cmd.OutOrStdout(), args)
	},
}

var lockClearCmd = &cobra.Command{
	Use:   "clear <tool|path>",
	Short: "Remove a lock left behind by a dead process",
	Long: `Remove the lock file of an environment whose holder is no longer running.
With --force the file is removed even if its holder is alive; only do that
when you know the holder is stuck.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLockClear(shed, cmd.OutOrStdout(), args[0], lockClearForce)
	},
}

func init() {
	rootCmd.AddCommand(lockCmd)
	lockCmd.AddCommand(lockStatusCmd, lockClearCmd)
	lockClearCmd.Flags().BoolVar(&lockClearForce, "force", false, "Remove the lock even if its holder is alive")
}

func runLockStatus(a *app, out io.Writer, targets []string) error {
	for _, arg := range targets {
		st, err := softlock.Inspect(a.envPath(arg))
		if err != nil {
			return err
		}
		fmt.Fprintln(out, describeLock(st, time.Now()))
	}
	return nil
}

func describeLock(st softlock.Status, now time.Time) string {
	switch {
	case !st.Held:
		return fmt.Sprintf("%s %s %s", successStyle.Render("🔓"), st.LockPath, mutedStyle.Render("free"))
	case st.Stale():
		return fmt.Sprintf("%s %s %s", warningStyle.Render("⚠️"), st.LockPath,
			warningStyle.Render(fmt.Sprintf("stale (pid %d is gone)", st.Holder.PID)))
	}

	holder := fmt.Sprintf("pid %d", st.Holder.PID)
	if st.Holder.Empty {
		holder = "being written"
	}
	if st.ProcessName != "" {
		holder += " " + st.ProcessName
	}
	since := st.Holder.AcquiredAt
	if since.IsZero() {
		since = st.Holder.ModTime
	}
	age := now.Sub(since).Round(time.Second)
	return fmt.Sprintf("%s %s held by %s for %s", errorStyle.Render("🔒"), st.LockPath, holder, age)
}

func runLockClear(a *app, out io.Writer, arg string, force bool) error {
	target := a.envPath(arg)
	if a.fops.DryRun() {
		st, err := softlock.Inspect(target)
		if err != nil {
			return err
		}
		if st.Held && (force || st.Stale()) {
			a.logger.Info(fmt.Sprintf("Would remove %s", st.LockPath))
		}
		fmt.Fprintln(out, describeLock(st, time.Now()))
		return nil
	}

	removed, err := softlock.ClearStale(target, force)
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintf(out, "%s removed %s\n", successStyle.Render("✅"), softlock.LockPath(target))
		return nil
	}

	st, err := softlock.Inspect(target)
	if err != nil {
		return err
	}
	if st.Held {
		return fmt.Errorf("%s is held by a running process (pid %d); use --force to remove it anyway", st.LockPath, st.Holder.PID)
	}
	fmt.Fprintf(out, "%s %s %s\n", mutedStyle.Render("•"), st.LockPath, mutedStyle.Render("free"))
	return nil
}
