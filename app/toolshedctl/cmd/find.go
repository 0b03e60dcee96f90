package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/toolshed/toolshed/app/panichandler"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/envmeta"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/sharedvenv"
	"golang.org/x/sync/errgroup"
)

var (
	findManifest bool
	findJSON     bool
)

var findCmd = &cobra.Command{
	Use:   "find [folder]",
	Short: "List the environments found under a folder",
	Long: `Walk a folder (default: the environments folder under the root) and list
every environment in it, that is every folder holding a bin folder.

With --manifest the installed modules of each environment are listed too.
Manifests are read without taking any lock, so an environment being
updated may show a partial list.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := shed.settings.VenvsDir()
		if len(args) == 1 {
			root = args[0]
		}
		return runFind(cmd.Context(), shed, cmd.OutOrStdout(), root, findManifest, findJSON)
	},
}

func init() {
	rootCmd.AddCommand(findCmd)
	findCmd.Flags().BoolVar(&findManifest, "manifest", false, "Also list the installed modules of each environment")
	findCmd.Flags().BoolVar(&findJSON, "json", false, "Output in JSON format")
}

// FoundEnv is one discovered environment.
type FoundEnv struct {
	Path     string               `json:"path"`
	Backend  string               `json:"backend,omitempty"`
	Packages []sharedvenv.Package `json:"packages,omitempty"`
	Error    string               `json:"error,omitempty"`
}

func runFind(ctx context.Context, a *app, out io.Writer, root string, manifest, asJSON bool) error {
	var envs []FoundEnv
	for bin := range sharedvenv.FindVenvs(root) {
		envs = append(envs, FoundEnv{Path: filepath.Dir(bin)})
	}

	if manifest {
		err := a.spin(fmt.Sprintf("Reading %d manifest(s)", len(envs)), func() error {
			return readManifests(ctx, a, envs)
		})
		if err != nil {
			return err
		}
	}

	if asJSON {
		if envs == nil {
			envs = []FoundEnv{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(envs)
	}

	if len(envs) == 0 {
		fmt.Fprintf(out, "%s no environments under %s\n", mutedStyle.Render("•"), root)
		return nil
	}
	for _, env := range envs {
		fmt.Fprintln(out, accentStyle.Render(env.Path))
		if env.Error != "" {
			fmt.Fprintf(out, "  %s %s\n", errorStyle.Render("❌"), env.Error)
			continue
		}
		for _, p := range env.Packages {
			fmt.Fprintf(out, "  %s==%s\n", p.Name, p.Version)
		}
	}
	return nil
}

// readManifests fills in the packages of every environment, a few at a time.
// A failing environment is reported in its entry and does not stop the
// others.
func readManifests(ctx context.Context, a *app, envs []FoundEnv) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(2, runtime.NumCPU()/2))
	for i := range envs {
		env := &envs[i]
		g.Go(func() (err error) {
			defer panichandler.RecoverError("manifest "+env.Path, &err)

			env.Backend = a.settings.Backend
			meta, merr := envmeta.New(a.fops, env.Path).Load()
			switch {
			case merr == nil && meta.Backend != "":
				env.Backend = meta.Backend
			case merr != nil && !errors.Is(merr, envmeta.ErrNotFound):
				a.logger.DebugContext(ctx, "Ignoring unreadable environment metadata", "path", env.Path, "error", merr)
			}

			backend, berr := sharedvenv.Backends().Resolve(env.Backend)
			if berr != nil {
				env.Error = berr.Error()
				return nil
			}
			pkgs, perr := sharedvenv.Manifest(ctx, a.runner, backend, env.Path)
			if perr != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				env.Error = perr.Error()
				return nil
			}
			env.Packages = pkgs
			return nil
		})
	}
	return g.Wait()
}
