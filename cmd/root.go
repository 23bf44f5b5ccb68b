package cmd

import (
	"errors"
	"os"

	"pgharness/internal/config"
	"pgharness/internal/fixerr"
	"pgharness/pkg/logging"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a failed run or a command error.
	ExitCodeError = 1
	// ExitCodeUsage indicates invalid arguments or configuration.
	ExitCodeUsage = 2
)

var (
	configPath string
	logLevel   string

	// cfg is loaded before any subcommand runs.
	cfg config.Config
)

// rootCmd represents the base command for the pgharness application.
var rootCmd = &cobra.Command{
	Use:   "pgharness",
	Short: "Acceptance tests for the pgtwixt PostgreSQL proxy",
	Long: `pgharness runs plain-text feature files against a pgtwixt build.

Each scenario gets throwaway PostgreSQL servers and its own pgtwixt
process on free ports. Steps connect clients through the proxy and check
the connection counters pgtwixt exports in Prometheus text format.
Everything a scenario started is torn down when it ends, pass or fail.`,
	// SilenceUsage keeps failed runs from printing the usage text.
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "pgharness version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps usage and configuration errors to ExitCodeUsage.
func getExitCode(err error) int {
	var validation config.ValidationErrors
	if errors.As(err, &validation) || errors.Is(err, fixerr.ErrUsage) {
		return ExitCodeUsage
	}
	return ExitCodeError
}

// loadConfig reads the configuration file and sets up logging. The
// --log-level flag wins over log_level in the file.
func loadConfig(cmd *cobra.Command, args []string) error {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return fixerr.Usage("%v", err)
	}
	logging.InitForCLI(level, cmd.ErrOrStderr())

	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("log-level") && loaded.LogLevel != "" {
		fileLevel, err := logging.ParseLevel(loaded.LogLevel)
		if err != nil {
			return fixerr.Usage("log_level: %v", err)
		}
		logging.InitForCLI(fileLevel, cmd.ErrOrStderr())
	}

	cfg = loaded
	return nil
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newMockProxyCmd())

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigFile, "Path to the pgharness configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}
