package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"run", "calibrate", "validate", "report", "runs", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "auditlens", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	flag := runCmd.Flags().Lookup("input")
	require.NotNil(t, flag, "run command should have --input flag")

	limit := runCmd.Flags().Lookup("limit")
	require.NotNil(t, limit, "run command should have --limit flag")
	assert.Equal(t, "25", limit.DefValue)
}

func TestCalibrateCommand_Flags(t *testing.T) {
	flag := calibrateCmd.Flags().Lookup("input")
	require.NotNil(t, flag, "calibrate command should have --input flag")
}

func TestValidateCommand_Flags(t *testing.T) {
	for _, name := range []string{"input", "json"} {
		assert.NotNil(t, validateCmd.Flags().Lookup(name), "validate should have --%s flag", name)
	}
}

func TestReportCommand_Flags(t *testing.T) {
	format := reportCmd.Flags().Lookup("format")
	require.NotNil(t, format, "report command should have --format flag")
	assert.Equal(t, "table", format.DefValue)

	for _, name := range []string{"run", "output", "tier", "agency", "limit"} {
		assert.NotNil(t, reportCmd.Flags().Lookup(name), "report should have --%s flag", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["show"])
}

func TestAgencyCSVPath(t *testing.T) {
	assert.Equal(t, "scores-agencies.csv", agencyCSVPath("scores.csv"))
	assert.Equal(t, "out-agencies.csv", agencyCSVPath("out"))
}
