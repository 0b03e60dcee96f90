package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/toolshed/toolshed/app/paniclogger"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/abort"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/settings"
)

// Global flags, applied over the configuration files and environment.
var (
	flagRoot        string
	flagConfig      []string
	flagEnvFile     string
	flagBackend     string
	flagPython      string
	flagIndex       string
	flagLockTimeout time.Duration
	flagDryRun      bool
	flagLogLevel    string
)

// shed is the runtime of the running command, set by the root pre-run hook.
var shed *app

var rootCmd = &cobra.Command{
	Use:     "toolshedctl",
	Short:   "Shared tool environment manager",
	Version: Version,
	Long: `
🧰 toolshedctl (` + Version + `)

Installs command line tools into shared, per-tool isolated environments and
keeps them current. Concurrent invocations, from any number of processes,
serialize on a lock file next to each environment.

ENVIRONMENTS:
  ensure      Install a tool, or upgrade it when its environment is stale
  rebuild     Rebuild a tool environment from scratch and swap it in
  relocate    Rewrite the absolute paths embedded in moved scripts
  find        List the environments found under a folder

LOCKS:
  lock status Show who holds the lock on an environment
  lock clear  Remove a lock left behind by a dead process

OTHER:
  version     Display version information

CONFIGURATION:
  <root>/config.toml, --config files, a .env file and TOOLSHED_* variables
  are read in that order; flags win over all of them.

EXAMPLES:
  toolshedctl ensure pex
  toolshedctl ensure "black>=23,<25" --backend uv
  toolshedctl rebuild ruff==0.4.1
  toolshedctl find ~/.local/toolshed --manifest
  toolshedctl lock status pex
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		shed = a
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the CLI. Interrupts cancel the command context so that held
// locks are released on the way out.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := runRoot(ctx)
	_ = paniclogger.Close()
	var aborted *abort.Error
	if errors.As(err, &aborted) {
		fmt.Fprintf(os.Stderr, "❌ %s\n", aborted.Message)
		os.Exit(1)
	}
	if err != nil {
		fmt.Println("❌ Error:", err)
		os.Exit(1)
	}
}

// runRoot executes the root command. Fatal aborts raised below it come back as
// *abort.Error once every deferred lock release has run.
func runRoot(ctx context.Context) (err error) {
	defer recoverAbort(&err)
	return rootCmd.ExecuteContext(ctx)
}

// recoverAbort stores a recovered *abort.Error in errp. Any other panic keeps
// unwinding.
func recoverAbort(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	aborted, ok := r.(*abort.Error)
	if !ok {
		panic(r)
	}
	*errp = aborted
}

func init() {
	// Disable Cobra's automatic "completion" command
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	// Version is set via ldflags, so it has to be read at init time
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("toolshedctl {{.Version}}\n")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagRoot, "root", "", "Root folder of the shared environments (default ~/.local/toolshed)")
	pf.StringArrayVar(&flagConfig, "config", nil, "Additional TOML config file, may be repeated")
	pf.StringVar(&flagEnvFile, "env-file", ".env", "dotenv file with TOOLSHED_* defaults")
	pf.StringVar(&flagBackend, "backend", settings.DefaultBackend, "Environment backend (pip or uv)")
	pf.StringVar(&flagPython, "python", settings.DefaultPython, "Interpreter used to create environments")
	pf.StringVar(&flagIndex, "index", "", "Package index URL")
	pf.DurationVar(&flagLockTimeout, "lock-timeout", settings.DefaultLockTimeout, "How long to wait for an environment lock")
	pf.BoolVar(&flagDryRun, "dry-run", false, "Log what would change without touching anything")
	pf.StringVar(&flagLogLevel, "log-level", settings.DefaultLogLevel, "Log level (debug, info, warn, error)")
}

// loadApp resolves the configuration layers, then the flags the user set.
func loadApp(cmd *cobra.Command) (*app, error) {
	s, err := settings.Load(settings.Options{
		Root:        flagRoot,
		ConfigFiles: flagConfig,
		EnvFile:     flagEnvFile,
	})
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		s.Backend = strings.ToLower(strings.TrimSpace(flagBackend))
	}
	if flags.Changed("python") {
		s.Python = flagPython
	}
	if flags.Changed("index") {
		s.Index = flagIndex
	}
	if flags.Changed("lock-timeout") {
		s.LockTimeout = flagLockTimeout
	}
	if flags.Changed("dry-run") {
		s.DryRun = flagDryRun
	}
	if flags.Changed("log-level") {
		s.LogLevel = strings.ToLower(flagLogLevel)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	a := newApp(s, os.Stderr)
	slog.SetDefault(a.logger)
	if !s.DryRun {
		if err := paniclogger.Init(s.LogsDir()); err != nil {
			a.logger.Debug("Panic log unavailable", "error", err)
		}
	}
	a.logger.Debug("Configuration loaded", "root", s.Root, "backend", s.Backend, "files", s.ConfigPaths, "dry_run", s.DryRun)
	return a, nil
}
