package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{
		"migrate", "serve", "watch", "enforce", "process", "killswitch", "segment",
		"tune", "evolve", "review", "experiment", "import", "config", "settings",
	}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "autoprice", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestSegmentCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range segmentCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "freeze", "unfreeze", "tier", "stats"} {
		assert.True(t, names[name], "expected segment subcommand %q not found", name)
	}
}

func TestTuneCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range tuneCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"run", "list", "apply", "dismiss"} {
		assert.True(t, names[name], "expected tune subcommand %q not found", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)

	watch := serveCmd.Flags().Lookup("watch")
	require.NotNil(t, watch)
	assert.Equal(t, "false", watch.DefValue)
}

func TestImportCommand_RequiresCSV(t *testing.T) {
	flag := importCmd.Flags().Lookup("csv")
	require.NotNil(t, flag)
	assert.Contains(t, flag.Annotations, "cobra_annotation_bash_completion_one_required_flag")
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"0", 0, false},
		{"2", 2, false},
		{"tier3", 3, false},
		{"TIER1", 1, false},
		{"4", 0, true},
		{"-1", 0, true},
		{"x", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTier(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, int(got))
		})
	}
}

func TestParseOnOff(t *testing.T) {
	for _, s := range []string{"on", "ON", "true", "enable"} {
		v, err := parseOnOff(s)
		require.NoError(t, err)
		assert.True(t, v, s)
	}
	for _, s := range []string{"off", "false", "Disabled"} {
		v, err := parseOnOff(s)
		require.NoError(t, err)
		assert.False(t, v, s)
	}
	_, err := parseOnOff("maybe")
	assert.Error(t, err)
}

func TestParseModeFlag(t *testing.T) {
	m, err := parseModeFlag("", "shadow")
	require.NoError(t, err)
	assert.Equal(t, "SHADOW", m.String())

	m, err = parseModeFlag("enforce_lite", "SHADOW")
	require.NoError(t, err)
	assert.Equal(t, "ENFORCE_LITE", m.String())

	_, err = parseModeFlag("fast", "SHADOW")
	assert.Error(t, err)
}
