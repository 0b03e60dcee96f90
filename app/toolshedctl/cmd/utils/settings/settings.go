// Package settings loads the toolshedctl configuration.
//
// Values are layered, later layers overriding earlier ones:
//
//	defaults -> TOML config files -> .env file -> TOOLSHED_* environment -> CLI flags
//
// The result is a plain value passed explicitly to every component.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "TOOLSHED_"
	// ConfigFileName is the config file looked up in the root folder.
	ConfigFileName = "config.toml"

	DefaultBackend         = "pip"
	DefaultPython          = "python3"
	DefaultLockTimeout     = 30 * time.Second
	DefaultStalenessWindow = 24 * time.Hour
	DefaultLogLevel        = "info"
)

// Settings holds the effective configuration.
type Settings struct {
	Root            string        `validate:"required"`
	Python          string        `validate:"required"`
	Backend         string        `validate:"required"`
	Index           string        `validate:"omitempty,url"`
	LockTimeout     time.Duration `validate:"gte=0"`
	StalenessWindow time.Duration `validate:"gte=0"`
	DryRun          bool
	LogLevel        string `validate:"oneof=debug info warn error"`

	// ConfigPaths lists the config files considered, in load order.
	ConfigPaths []string `validate:"-"`
}

// fileConfig mirrors the TOML file. Durations are strings ("30s", "12h").
type fileConfig struct {
	Root            string `toml:"root"`
	Python          string `toml:"python"`
	Backend         string `toml:"backend"`
	Index           string `toml:"index"`
	LockTimeout     string `toml:"lock_timeout"`
	StalenessWindow string `toml:"staleness_window"`
	DryRun          bool   `toml:"dry_run"`
	LogLevel        string `toml:"log_level"`
}

// Options controls where Load looks for configuration.
type Options struct {
	// Root overrides the default root folder before any file is read.
	Root string
	// ConfigFiles are loaded after <root>/config.toml.
	ConfigFiles []string
	// EnvFile is the dotenv file to read; empty means ".env" in the working
	// folder. A missing file is ignored.
	EnvFile string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

var validate = validator.New()

// Defaults returns the built-in configuration.
func Defaults() Settings {
	return Settings{
		Root:            defaultRoot(),
		Python:          DefaultPython,
		Backend:         DefaultBackend,
		LockTimeout:     DefaultLockTimeout,
		StalenessWindow: DefaultStalenessWindow,
		LogLevel:        DefaultLogLevel,
	}
}

func defaultRoot() string {
	if dir, err := os.UserHomeDir(); err == nil && dir != "" {
		return filepath.Join(dir, ".local", "toolshed")
	}
	return filepath.Join(os.TempDir(), "toolshed")
}

// Load builds Settings from every layer except CLI flags, which the caller
// applies afterwards before calling Validate.
func Load(opts Options) (Settings, error) {
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	dotenv, err := readDotenv(opts.EnvFile)
	if err != nil {
		return Settings{}, err
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			return v, true
		}
		v, ok := dotenv[EnvPrefix+key]
		return v, ok
	}

	s := Defaults()
	if opts.Root != "" {
		s.Root = opts.Root
	} else if v, ok := env("ROOT"); ok && strings.TrimSpace(v) != "" {
		s.Root = strings.TrimSpace(v)
	}

	files := append([]string{filepath.Join(s.Root, ConfigFileName)}, opts.ConfigFiles...)
	for _, path := range files {
		if err := s.LoadFile(path); err != nil {
			return Settings{}, err
		}
	}

	if err := s.applyEnv(env); err != nil {
		return Settings{}, err
	}
	if opts.Root != "" {
		s.Root = opts.Root
	}
	return s, nil
}

// LoadFile merges the TOML file at path into s and records it in
// ConfigPaths. A missing file is recorded and otherwise ignored.
func (s *Settings) LoadFile(path string) error {
	s.ConfigPaths = append(s.ConfigPaths, path)

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load config %s: %w", path, err)
	}

	if meta.IsDefined("root") {
		s.Root = strings.TrimSpace(raw.Root)
	}
	if meta.IsDefined("python") {
		s.Python = strings.TrimSpace(raw.Python)
	}
	if meta.IsDefined("backend") {
		s.Backend = strings.ToLower(strings.TrimSpace(raw.Backend))
	}
	if meta.IsDefined("index") {
		s.Index = strings.TrimSpace(raw.Index)
	}
	if meta.IsDefined("lock_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.LockTimeout))
		if err != nil {
			return fmt.Errorf("parse lock_timeout in %s: %w", path, err)
		}
		s.LockTimeout = d
	}
	if meta.IsDefined("staleness_window") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.StalenessWindow))
		if err != nil {
			return fmt.Errorf("parse staleness_window in %s: %w", path, err)
		}
		s.StalenessWindow = d
	}
	if meta.IsDefined("dry_run") {
		s.DryRun = raw.DryRun
	}
	if meta.IsDefined("log_level") {
		s.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}
	return nil
}

func (s *Settings) applyEnv(env func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := env(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := env(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s must be a duration like 30s: %w", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("ROOT", &s.Root)
	str("PYTHON", &s.Python)
	str("BACKEND", &s.Backend)
	str("INDEX", &s.Index)
	str("LOG_LEVEL", &s.LogLevel)
	s.Backend = strings.ToLower(s.Backend)
	s.LogLevel = strings.ToLower(s.LogLevel)
	if err := dur("LOCK_TIMEOUT", &s.LockTimeout); err != nil {
		return err
	}
	if err := dur("STALENESS_WINDOW", &s.StalenessWindow); err != nil {
		return err
	}
	if v, ok := env("DRY_RUN"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sDRY_RUN must be a boolean: %w", EnvPrefix, err)
		}
		s.DryRun = b
	}
	return nil
}

func readDotenv(path string) (map[string]string, error) {
	if path == "" {
		path = ".env"
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return values, nil
}

// Validate checks the settings after every layer has been applied.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid setting %s: failed '%s' check (value %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return err
	}
	return nil
}

// LogsDir is where panic logs are written.
func (s Settings) LogsDir() string {
	return filepath.Join(s.Root, "logs")
}

// VenvsDir holds one shared environment per tool.
func (s Settings) VenvsDir() string {
	return filepath.Join(s.Root, ".venvs")
}

// VenvPath returns the base folder of the shared environment for tool.
func (s Settings) VenvPath(tool string) string {
	return filepath.Join(s.VenvsDir(), tool)
}
