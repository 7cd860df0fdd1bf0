package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCLIErrorCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		args        []string
		errContains string
	}{
		{
			name:        "unknown root flag",
			args:        []string{"--badflag"},
			errContains: "unknown flag",
		},
		{
			name:        "unknown subcommand flag",
			args:        []string{"embed", "--bogus", "f.wav"},
			errContains: "unknown flag",
		},
		{
			name:        "embed missing arg",
			args:        []string{"embed"},
			errContains: "requires at least 1 arg(s)",
		},
		{
			name:        "compare needs two files",
			args:        []string{"compare", "a.wav"},
			errContains: "requires at least 2 arg(s)",
		},
		{
			name:        "embed nonexistent file",
			args:        []string{"embed", "/no/such/file.wav"},
			errContains: "audio file not found",
		},
		{
			name:        "root treats arguments as audio files",
			args:        []string{"/no/such/file.wav"},
			errContains: "audio file not found",
		},
		{
			name:        "unknown output format",
			args:        []string{"embed", "--format", "yaml", "a.wav"},
			errContains: "unknown output format",
		},
		{
			name:        "models takes no args",
			args:        []string{"models", "extra"},
			errContains: "unknown command",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := runCommand(t, tt.args)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestSetupRejectsNonexistentCustomModelPath(t *testing.T) {
	t.Parallel()

	_, _, err := runCommand(t, []string{"setup", "--model", "/no/such/path/model.onnx", "--model-dir", t.TempDir()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "custom model path does not exist")
}

func TestSetupRejectsUnknownModelName(t *testing.T) {
	t.Parallel()

	_, _, err := runCommand(t, []string{"setup", "--model", "ecapa", "--model-dir", t.TempDir()})
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown model "ecapa"`)
}

func TestVersionFlagOutput(t *testing.T) {
	t.Parallel()

	stdout, _, err := runCommand(t, []string{"--version"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(stdout, "voxprint v"), "expected version prefix, got: %s", stdout)
}

func TestVersionCommandOutput(t *testing.T) {
	t.Parallel()

	stdout, _, err := runCommand(t, []string{"version"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(stdout, "voxprint v"), "expected version prefix, got: %s", stdout)
}
