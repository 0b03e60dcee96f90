package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/sharedvenv"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/softlock"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild <module-spec>",
	Short: "Rebuild a tool environment from scratch and swap it in",
	Long: `Build a fresh environment next to the live one, install the tool into
it, then swap it in. The live environment keeps working until the swap and
is left untouched when the build fails.

Example:
  toolshedctl rebuild ruff==0.4.1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRebuild(cmd.Context(), shed, cmd.OutOrStdout(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(ctx context.Context, a *app, out io.Writer, spec string) error {
	ms, err := sharedvenv.ParseSpec(spec)
	if err != nil {
		return err
	}

	var res sharedvenv.Result
	err = a.spin("Rebuilding "+ms.Name, func() error {
		return softlock.WithLock(ctx, a.settings.VenvPath(ms.Name), a.settings.LockTimeout, func(l *softlock.Lock) error {
			var err error
			res, err = sharedvenv.Rebuild(ctx, l, a.venvOptions(), spec)
			return err
		}, a.lockOptions()...)
	})
	if err != nil {
		fmt.Fprintf(out, "%s %s\n", errorStyle.Render("❌"), ms.Name)
		return describeFailure(ms.Name, err)
	}
	if a.fops.DryRun() {
		printResult(out, ms.Name, "", res, true)
		return nil
	}
	fmt.Fprintf(out, "%s %s rebuilt in %s\n", successStyle.Render("✅"), ms.Name, mutedStyle.Render(a.settings.VenvPath(ms.Name)))
	return nil
}
