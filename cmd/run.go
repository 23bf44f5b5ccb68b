package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pgharness/internal/backend/pgnode"
	"pgharness/internal/config"
	"pgharness/internal/metrics"
	"pgharness/internal/pgclient"
	"pgharness/internal/ports"
	"pgharness/internal/proxy"
	"pgharness/internal/report"
	"pgharness/internal/scenario"
	"pgharness/internal/steps"
	"pgharness/internal/watch"
	"pgharness/pkg/logging"

	"github.com/briandowns/spinner"
	"github.com/cucumber/godog"
	"github.com/spf13/cobra"
)

type runFlags struct {
	proxyPath   string
	tags        string
	format      string
	concurrency int
	reportPath  string
	basePort    int
	lenient     bool
	watch       bool
}

func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run [feature paths...]",
		Short: "Run feature files against pgtwixt",
		Long: `Run executes every scenario in the given feature files or directories
(run.paths from the configuration when none are given).

Each scenario starts its own PostgreSQL servers and pgtwixt process.
A summary table is printed at the end; with --report, a JSON report is
also written to that directory. The command exits non-zero when any
scenario fails.

Examples:
  pgharness run
  pgharness run features/simple_proxy.feature
  pgharness run --tags '~@slow' --concurrency 4
  pgharness run --proxy ./target/debug/pgtwixt --report reports/
  pgharness run --watch features/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeatures(cmd, args, flags)
		},
	}

	cmd.Flags().StringVar(&flags.proxyPath, "proxy", "", "Path to the pgtwixt executable (overrides proxy.path)")
	cmd.Flags().StringVar(&flags.tags, "tags", "", "Tag expression selecting scenarios (overrides run.tags)")
	cmd.Flags().StringVar(&flags.format, "format", "", "Output formatter: pretty, progress, cucumber, junit (overrides run.format)")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "Scenarios run at once (overrides run.concurrency)")
	cmd.Flags().StringVar(&flags.reportPath, "report", "", "Directory for the JSON run report (overrides run.report_path)")
	cmd.Flags().IntVar(&flags.basePort, "base-port", 0, "First port of the fixture port range; 0 uses ephemeral ports (overrides ports.base_port)")
	cmd.Flags().BoolVar(&flags.lenient, "lenient", false, "Do not fail the run on undefined or pending steps")
	cmd.Flags().BoolVarP(&flags.watch, "watch", "w", false, "Run again whenever a feature file changes")

	return cmd
}

// applyRunFlags overlays explicitly set flags and positional paths on c.
func applyRunFlags(cmd *cobra.Command, args []string, flags runFlags, c config.Config) config.Config {
	if len(args) > 0 {
		c.Run.Paths = args
	}
	if cmd.Flags().Changed("proxy") {
		c.Proxy.Path = flags.proxyPath
	}
	if cmd.Flags().Changed("tags") {
		c.Run.Tags = flags.tags
	}
	if cmd.Flags().Changed("format") {
		c.Run.Format = flags.format
	}
	if cmd.Flags().Changed("concurrency") {
		c.Run.Concurrency = flags.concurrency
	}
	if cmd.Flags().Changed("report") {
		c.Run.ReportPath = flags.reportPath
	}
	if cmd.Flags().Changed("base-port") {
		c.Ports.BasePort = flags.basePort
	}
	if flags.lenient {
		c.Run.Strict = false
	}
	return c
}

func runFeatures(cmd *cobra.Command, args []string, flags runFlags) error {
	c := applyRunFlags(cmd, args, flags, cfg)
	if err := c.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !flags.watch {
		return runOnce(ctx, cmd.OutOrStdout(), c)
	}
	return runWatching(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), c)
}

// runWatching repeats the run after every change to the feature files
// until interrupted. Failed runs are reported and do not end the loop.
func runWatching(ctx context.Context, out, status io.Writer, c config.Config) error {
	w, err := watch.New(c.Run.Paths, watch.DefaultDebounce)
	if err != nil {
		return fmt.Errorf("watch feature paths: %w", err)
	}
	defer w.Close()

	for {
		if err := runOnce(ctx, out, c); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.Warn("Run", "%v", err)
		}

		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(status))
		s.Suffix = " Waiting for feature file changes..."
		s.Start()
		changed, err := w.Next(ctx)
		s.Stop()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		logging.Info("Run", "%s changed, running again", changed)
	}
}

func runOnce(ctx context.Context, out io.Writer, c config.Config) error {
	suite, alloc := buildSuite(c)
	ports.SetDefault(alloc)

	logging.Info("Run", "Running %v against %s", c.Run.Paths, c.Proxy.Path)
	status := godog.TestSuite{
		Name:                "pgharness",
		ScenarioInitializer: suite.InitializeScenario,
		Options: &godog.Options{
			Format:         c.Run.Format,
			Paths:          c.Run.Paths,
			Tags:           c.Run.Tags,
			Concurrency:    c.Run.Concurrency,
			Strict:         c.Run.Strict,
			Output:         out,
			DefaultContext: ctx,
		},
	}.Run()

	fmt.Fprintln(out)
	suite.Reporter.Render(out)

	if c.Run.ReportPath != "" {
		path, err := suite.Reporter.Save(c.Run.ReportPath)
		if err != nil {
			logging.Error("Run", err, "Failed to write report")
		} else {
			fmt.Fprintf(out, "\n📄 Report saved to %s\n", path)
		}
	}

	if leaked := alloc.Reserved(); leaked > 0 {
		logging.Warn("Run", "%d fixture ports still reserved after the run", leaked)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("run interrupted: %w", context.Cause(ctx))
	}
	if status != 0 {
		return fmt.Errorf("feature run failed: %d of %d scenarios failed (status %d)",
			suite.Reporter.Failed(), len(suite.Reporter.Outcomes()), status)
	}
	return nil
}

// buildSuite wires the configured fixture libraries into a step suite.
func buildSuite(c config.Config) (*steps.Suite, *ports.Allocator) {
	alloc := ports.New(ports.Options{
		Host:     c.Proxy.Host,
		BasePort: c.Ports.BasePort,
		Range:    c.Ports.Range,
	})

	scraper := metrics.NewClient(metrics.Options{
		Path:    c.Metrics.Path,
		Timeout: c.Metrics.ScrapeTimeout,
	})

	sides := metrics.SidesByLabel(c.Metrics.SideLabel, c.Metrics.FrontendValue, c.Metrics.BackendValue)
	if c.Metrics.SideLabel == "" {
		sides = metrics.SidesByPresence(c.Metrics.FrontendLabel, c.Metrics.BackendLabel)
	}

	node := pgnode.Options{
		BinDir:       c.Postgres.BinDir,
		Host:         c.Postgres.Host,
		User:         c.Postgres.User,
		Database:     c.Postgres.Database,
		StartTimeout: c.Postgres.StartTimeout,
		Ports:        alloc,
	}

	return &steps.Suite{
		Scenario: scenario.Config{
			Proxy: proxy.Options{
				Path:          c.Proxy.Path,
				Args:          c.Proxy.Args,
				Env:           c.Proxy.Env,
				Host:          c.Proxy.Host,
				ShutdownGrace: c.Proxy.ShutdownGrace,
				ReadyTimeout:  c.Proxy.ReadyTimeout,
				ReadyInterval: c.Proxy.ReadyInterval,
				ProbeFrontend: c.Proxy.ProbeFrontend,
				Metrics:       scraper,
			},
			Backends: pgnode.Initializer(node),
			Ports:    alloc,
		},
		LocationFormat: c.Postgres.LocationFormat,
		SSLMode:        c.Postgres.SSLMode,
		Client: pgclient.Options{
			User:     c.Postgres.User,
			Database: c.Postgres.Database,
		},
		Metrics: scraper,
		Families: steps.Families{
			Connects:    c.Metrics.Connects,
			Disconnects: c.Metrics.Disconnects,
			Connections: c.Metrics.Connections,
		},
		Sides:    sides,
		Retry:    c.Metrics.Retry,
		Reporter: report.New(),
	}, alloc
}
