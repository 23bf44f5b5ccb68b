package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"pgharness/internal/mock"

	"github.com/spf13/cobra"
)

func newMockProxyCmd() *cobra.Command {
	var (
		metricsPath string
		dialTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mock-proxy <frontend> <metrics> <backend>",
		Short: "Run a stand-in for pgtwixt",
		Long: `mock-proxy accepts the same three arguments as pgtwixt: the frontend
listen address, the metrics listen address and the backend location (a
host:port or a libpq keyword/value string). It relays bytes between
clients and the backend and exports pgtwixt's connection metrics.

It is used to exercise pgharness itself without a pgtwixt build:
  proxy:
    path: pgharness
    args: [mock-proxy]`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return mock.Run(ctx, mock.Config{
				Frontend:    args[0],
				Metrics:     args[1],
				Backend:     args[2],
				MetricsPath: metricsPath,
				Labels: mock.Labels{
					Connects:    cfg.Metrics.Connects,
					Disconnects: cfg.Metrics.Disconnects,
					Connections: cfg.Metrics.Connections,
					Side:        cfg.Metrics.SideLabel,
					Frontend:    cfg.Metrics.FrontendValue,
					Backend:     cfg.Metrics.BackendValue,
				},
				DialTimeout: dialTimeout,
			})
		},
	}

	cmd.Flags().StringVar(&metricsPath, "metrics-path", "/metrics", "HTTP path of the metrics endpoint")
	cmd.Flags().DurationVar(&dialTimeout, "dial-timeout", mock.DefaultDialTimeout, "Timeout for backend dials")
	return cmd
}
