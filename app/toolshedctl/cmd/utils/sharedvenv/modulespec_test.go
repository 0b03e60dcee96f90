package sharedvenv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpec(t *testing.T) {
	tests := []struct {
		spec        string
		name        string
		raw         string
		pin         string
		constrained bool
	}{
		{spec: "pex", name: "pex", raw: "pex"},
		{spec: " pex == 2.1.0 ", name: "pex", raw: "pex==2.1.0", pin: "2.1.0", constrained: true},
		{spec: "black>=23,<25", name: "black", raw: "black>=23,<25", constrained: true},
		{spec: "ruff~=0.4", name: "ruff", raw: "ruff~=0.4", constrained: true},
		{spec: "tox==4.0.0b1", name: "tox", raw: "tox==4.0.0b1", pin: "4.0.0b1", constrained: true},
		{spec: "pex===1.0", name: "pex", raw: "pex===1.0", pin: "1.0", constrained: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			ms, err := ParseSpec(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.name, ms.Name)
			assert.Equal(t, tt.raw, ms.String())
			assert.Equal(t, tt.pin, ms.Pin)
			assert.Equal(t, tt.constrained, ms.Constrained())
		})
	}
}

func TestParseSpecErrors(t *testing.T) {
	for _, spec := range []string{
		"", "   ", "==1.0", "pex==", "pex>=abc", "pex===", "pex===1.0,<2",
		"../../x", "a/b", `a\b`, ".", "..", "..==1.0",
	} {
		_, err := ParseSpec(spec)
		var specErr *SpecError
		assert.ErrorAs(t, err, &specErr, spec)
	}
}

func TestSatisfied(t *testing.T) {
	tests := []struct {
		spec    string
		version string
		want    bool
	}{
		{"pex", "anything", true},
		{"pex==2.1.0", "2.1.0", true},
		{"pex==2.1", "2.1.0", true},
		{"pex==2.1.0", "2.1.1", false},
		{"black>=23,<25", "24.2.0", true},
		{"black>=23,<25", "25.1.0", false},
		{"black!=24.1.0", "24.1.0", false},
		{"ruff~=0.4", "0.9.1", true},
		{"ruff~=0.4", "1.0.0", false},
		{"ruff~=1.4", "1.9.0", true},
		{"ruff~=1.4", "2.0.0", false},
		{"ruff~=1.4.5", "1.4.9", true},
		{"ruff~=1.4.5", "1.5.0", false},
		{"tox==4.0.0b1", "4.0.0b1", true},
		{"pex===1.0", "1.0", true},
		{"pex===1.0", "1.0.0", false},
		{"black>=23", "not-a-version", false},
	}
	for _, tt := range tests {
		ms, err := ParseSpec(tt.spec)
		require.NoError(t, err, tt.spec)
		assert.Equal(t, tt.want, ms.Satisfied(tt.version), "%s vs %s", tt.spec, tt.version)
	}
}
