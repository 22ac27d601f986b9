package configvalidator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type nested struct {
	Workers int `mapstructure:"workers"`
}

type testConfig struct {
	Path   string `mapstructure:"path"`
	Debug  bool
	Verify nested `mapstructure:"verify"`
}

func TestCheckForUnknownFields(t *testing.T) {
	require.NoError(t, CheckForUnknownFields(map[string]any{
		"path":   "/cache",
		"debug":  true,
		"verify": map[string]any{"workers": 4},
	}, testConfig{}))

	for name, m := range map[string]map[string]any{
		"top level":  {"paths": "/cache"},
		"nested":     {"verify": map[string]any{"worker": 4}},
		"map scalar": {"path": map[string]any{"a": 1}},
		"scalar map": {"verify": 1},
	} {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, CheckForUnknownFields(m, testConfig{}), ErrUnknownField)
		})
	}
}
