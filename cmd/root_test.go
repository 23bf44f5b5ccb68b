package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"pgharness/internal/config"
	"pgharness/internal/fixerr"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3-test")
	assert.Equal(t, "1.2.3-test", GetVersion())
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "pgharness", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)
}

func TestVersionTemplate(t *testing.T) {
	testCmd := &cobra.Command{
		Use:     "test",
		Version: "1.0.0",
	}
	testCmd.SetVersionTemplate(`{{printf "pgharness version %s\n" .Version}}`)

	var buf bytes.Buffer
	testCmd.SetOut(&buf)
	testCmd.SetArgs([]string{"--version"})
	if err := testCmd.Execute(); err != nil {
		t.Fatalf("Error executing version command: %v", err)
	}
	assert.Equal(t, "pgharness version 1.0.0\n", buf.String())
}

func TestSubcommands(t *testing.T) {
	found := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		found[c.Name()] = true
	}
	for _, name := range []string{"version", "run", "check", "mock-proxy"} {
		assert.True(t, found[name], "missing subcommand %s", name)
	}
}

func TestPersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "log-level"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "missing flag %s", name)
	}
}

func TestGetExitCode(t *testing.T) {
	var validation config.ValidationErrors
	validation.Add("run.concurrency", "must be at least 1", 0)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plain error", errors.New("boom"), ExitCodeError},
		{"usage error", fixerr.Usage("bad flag"), ExitCodeUsage},
		{"wrapped usage error", fmt.Errorf("run: %w", fixerr.Usage("bad flag")), ExitCodeUsage},
		{"validation errors", validation, ExitCodeUsage},
		{"process error", fixerr.Process("exited"), ExitCodeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, getExitCode(tt.err))
		})
	}
}
