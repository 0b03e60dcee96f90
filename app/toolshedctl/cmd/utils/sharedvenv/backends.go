package sharedvenv

import (
	"path/filepath"

	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/implmap"
)

// Backend knows the command lines that create an environment, list its
// installed modules and install into it.
type Backend interface {
	// Name is the key the backend is registered under.
	Name() string

	// Tool is the program that creates environments; it must be on PATH.
	Tool() string

	// CreateCommand returns the command creating an environment at base.
	CreateCommand(toolPath, python, base string) (string, []string)

	// FreezeCommand returns the command printing "name==version" lines.
	FreezeCommand(base string) (string, []string)

	// InstallCommand returns the command installing requirement into base.
	InstallCommand(base, index, requirement string, upgrade bool) (string, []string)
}

// Backends returns the registry of known backends.
func Backends() *implmap.Map[Backend] {
	return implmap.New[Backend]("backend").
		MustRegister("pip", func() (Backend, error) { return pipBackend{}, nil }).
		MustRegister("uv", func() (Backend, error) { return uvBackend{}, nil })
}

// pipBackend creates environments with virtualenv and manages them with the
// environment's own pip.
type pipBackend struct{}

func (pipBackend) Name() string { return "pip" }

func (pipBackend) Tool() string { return "virtualenv" }

func (pipBackend) CreateCommand(toolPath, python, base string) (string, []string) {
	return toolPath, []string{"-p", python, base}
}

func (pipBackend) FreezeCommand(base string) (string, []string) {
	return filepath.Join(base, BinDir, "pip"), []string{"freeze", "--all"}
}

func (pipBackend) InstallCommand(base, index, requirement string, upgrade bool) (string, []string) {
	args := []string{"install"}
	if index != "" {
		args = append(args, "-i", index)
	}
	if upgrade {
		args = append(args, "--upgrade")
	}
	return filepath.Join(base, BinDir, "pip"), append(args, requirement)
}

// uvBackend delegates everything to uv, pointed at the environment's python.
type uvBackend struct{}

func (uvBackend) Name() string { return "uv" }

func (uvBackend) Tool() string { return "uv" }

func (uvBackend) CreateCommand(toolPath, python, base string) (string, []string) {
	return toolPath, []string{"venv", "--python", python, base}
}

func (uvBackend) FreezeCommand(base string) (string, []string) {
	return "uv", []string{"pip", "freeze", "--python", filepath.Join(base, BinDir, "python")}
}

func (uvBackend) InstallCommand(base, index, requirement string, upgrade bool) (string, []string) {
	args := []string{"pip", "install", "--python", filepath.Join(base, BinDir, "python")}
	if index != "" {
		args = append(args, "--index-url", index)
	}
	if upgrade {
		args = append(args, "--upgrade")
	}
	return "uv", append(args, requirement)
}
