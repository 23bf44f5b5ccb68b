package cmd

import (
	"fmt"
	"os/exec"
	"path/filepath"

	"pgharness/internal/fixerr"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

type toolStatus struct {
	name string
	path string
	err  error
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and locate the required executables",
		Long: `Check validates the configuration and resolves pgtwixt, initdb and
pg_ctl the same way a run would, without starting anything.

Examples:
  pgharness check
  pgharness check --config ci/pgharness.yaml`,
		Args: cobra.NoArgs,
		RunE: runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	tools := []toolStatus{locate("pgtwixt", "", cfg.Proxy.Path)}
	for _, tool := range []string{"initdb", "pg_ctl"} {
		tools = append(tools, locate(tool, cfg.Postgres.BinDir, tool))
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Executable", "Path", "Status"})

	missing := 0
	for _, tool := range tools {
		status := text.FgGreen.Sprint("✅ found")
		path := tool.path
		if tool.err != nil {
			missing++
			status = text.FgRed.Sprint("❌ missing")
			path = tool.err.Error()
		}
		t.AppendRow(table.Row{tool.name, path, status})
	}
	t.Render()

	if missing > 0 {
		return fixerr.NotFound("%d required executables not found", missing)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Configuration OK")
	return nil
}

// locate resolves name inside dir, or on PATH when dir is empty.
func locate(label, dir, name string) toolStatus {
	candidate := name
	if dir != "" {
		candidate = filepath.Join(dir, name)
	}
	path, err := exec.LookPath(candidate)
	return toolStatus{name: label, path: path, err: err}
}
