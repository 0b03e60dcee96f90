package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/sharedvenv"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/softlock"
)

var ensureCmd = &cobra.Command{
	Use:   "ensure <module-spec>...",
	Short: "Install a tool, or upgrade it when its environment is stale",
	Long: `Install each requested tool into its own shared environment under
<root>/.venvs/<name>, creating the environment when needed.

A tool that is already installed is left alone while its entry point is
younger than the staleness window. After that, unpinned tools are upgraded
and pinned ones are only checked against their version clause.

Examples:
  toolshedctl ensure pex
  toolshedctl ensure "black>=23,<25" ruff==0.4.1`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnsure(cmd.Context(), shed, cmd.OutOrStdout(), args)
	},
}

func init() {
	rootCmd.AddCommand(ensureCmd)
}

// runEnsure processes the specs in order and stops at the first failure.
func runEnsure(ctx context.Context, a *app, out io.Writer, specs []string) error {
	for _, spec := range specs {
		ms, err := sharedvenv.ParseSpec(spec)
		if err != nil {
			return err
		}

		var (
			res     sharedvenv.Result
			version string
		)
		err = a.spin("Ensuring "+ms.Name, func() error {
			return softlock.WithLock(ctx, a.settings.VenvPath(ms.Name), a.settings.LockTimeout, func(l *softlock.Lock) error {
				v, err := sharedvenv.New(ctx, l, a.venvOptions())
				if err != nil {
					return err
				}
				if res, err = v.EnsureInstalled(ctx, spec); err != nil {
					return err
				}
				if !a.fops.DryRun() {
					inst, err := v.InstalledModule(ctx, ms.Name)
					if err != nil {
						return err
					}
					version = inst.Version
				}
				return nil
			}, a.lockOptions()...)
		})
		if err != nil {
			fmt.Fprintf(out, "%s %s\n", errorStyle.Render("❌"), ms.Name)
			return describeFailure(ms.Name, err)
		}
		printResult(out, ms.Name, version, res, a.fops.DryRun())
	}
	return nil
}

func printResult(out io.Writer, name, version string, res sharedvenv.Result, dryRun bool) {
	label := name
	if version != "" {
		label += " " + version
	}
	switch {
	case dryRun:
		fmt.Fprintf(out, "%s %s %s\n", warningStyle.Render("📝"), label, mutedStyle.Render("(dry run: "+res.String()+")"))
	case res == sharedvenv.AlreadyCurrent:
		fmt.Fprintf(out, "%s %s %s\n", successStyle.Render("✔"), label, mutedStyle.Render("already current"))
	case res == sharedvenv.Upgraded:
		fmt.Fprintf(out, "%s %s %s\n", accentStyle.Render("⬆"), label, "upgraded")
	default:
		fmt.Fprintf(out, "%s %s %s\n", successStyle.Render("✅"), label, res.String())
	}
}

// describeFailure adds a hint for the failures a user can act on.
func describeFailure(name string, err error) error {
	switch {
	case errors.Is(err, softlock.ErrLockTimeout):
		return fmt.Errorf("%s: %w (see 'toolshedctl lock status %s')", name, err, name)
	case errors.Is(err, sharedvenv.ErrToolingNotFound):
		return fmt.Errorf("%s: %w (is it installed and on PATH?)", name, err)
	}
	return fmt.Errorf("%s: %w", name, err)
}
