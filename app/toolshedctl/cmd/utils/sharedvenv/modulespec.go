package sharedvenv

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ModuleSpec is a requested module: a bare name ("pex") or a name followed
// by version clauses ("pex==2.1.0", "black>=23,<25").
type ModuleSpec struct {
	Name string
	// Raw is the requirement handed to the package manager.
	Raw string
	// Pin is the exact version of a single "==" clause.
	Pin        string
	constraint *semver.Constraints
}

// ParseSpec parses a module specification.
func ParseSpec(spec string) (ModuleSpec, error) {
	raw := strings.Join(strings.Fields(spec), "")
	if raw == "" {
		return ModuleSpec{}, &SpecError{Spec: spec, Err: errors.New("empty")}
	}
	i := strings.IndexAny(raw, "<>=!~^")
	if i < 0 {
		i = len(raw)
	}
	ms := ModuleSpec{Name: raw[:i], Raw: raw}
	if err := checkName(ms.Name); err != nil {
		return ModuleSpec{}, &SpecError{Spec: spec, Err: err}
	}
	if i == len(raw) {
		return ms, nil
	}

	clauses := strings.Split(raw[i:], ",")
	if strings.Contains(raw[i:], "===") {
		// Arbitrary equality compares the version string as is.
		if len(clauses) != 1 || !strings.HasPrefix(clauses[0], "===") {
			return ModuleSpec{}, &SpecError{Spec: spec, Err: errors.New("=== can't be combined with other clauses")}
		}
		ms.Pin = strings.TrimPrefix(clauses[0], "===")
		if ms.Pin == "" {
			return ModuleSpec{}, &SpecError{Spec: spec, Err: errors.New("missing version")}
		}
		return ms, nil
	}
	if len(clauses) == 1 && strings.HasPrefix(clauses[0], "==") {
		ms.Pin = strings.TrimPrefix(clauses[0], "==")
		if ms.Pin == "" {
			return ModuleSpec{}, &SpecError{Spec: spec, Err: errors.New("missing version")}
		}
	}

	converted := make([]string, 0, len(clauses))
	for _, c := range clauses {
		converted = append(converted, toSemverClause(c))
	}
	constraint, err := semver.NewConstraint(strings.Join(converted, ","))
	if err != nil {
		if ms.Pin != "" {
			// Non-semver pins are still honoured by exact comparison.
			return ms, nil
		}
		return ModuleSpec{}, &SpecError{Spec: spec, Err: err}
	}
	ms.constraint = constraint
	return ms, nil
}

// checkName rejects names that can't serve as an environment folder name.
func checkName(name string) error {
	switch {
	case name == "":
		return errors.New("missing module name")
	case name == "." || name == "..":
		return fmt.Errorf("invalid module name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("module name %q contains a path separator", name)
	}
	return nil
}

// toSemverClause rewrites package-index operators into their semver form.
func toSemverClause(c string) string {
	switch {
	case strings.HasPrefix(c, "=="):
		return "=" + c[2:]
	case strings.HasPrefix(c, "~="):
		return compatibleRange(c[2:])
	}
	return c
}

// compatibleRange expands "~=V": the last release segment of V may grow,
// the ones before it are fixed.
func compatibleRange(v string) string {
	parts := strings.Split(v, ".")
	if len(parts) < 2 {
		return "~" + v
	}
	prefix := parts[:len(parts)-2]
	bump, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return "~" + v
	}
	upper := append(slices.Clone(prefix), strconv.Itoa(bump+1))
	return ">=" + v + ",<" + strings.Join(upper, ".")
}

// Constrained reports whether the spec carries a version clause.
func (m ModuleSpec) Constrained() bool {
	return m.Pin != "" || m.constraint != nil
}

// Satisfied reports whether version fulfils the spec. Unconstrained specs
// accept any version; versions that are not semver only match an exact pin.
func (m ModuleSpec) Satisfied(version string) bool {
	if !m.Constrained() {
		return true
	}
	if m.Pin != "" && m.Pin == version {
		return true
	}
	if m.constraint == nil {
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return m.constraint.Check(v)
}

// String returns the requirement.
func (m ModuleSpec) String() string {
	return m.Raw
}
