// Package logging provides the structured logger shared by every pgharness
// package.
//
// It is a thin layer over log/slog: records carry a "subsystem" attribute and
// an optional "error" attribute, and messages use printf-style formatting.
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Proxy", "Started %s on %s", name, addr)
//	logging.Debug("Ports", "Reserved port %d for %s", port, owner)
//	logging.Error("Cleanup", err, "Release action %q failed", name)
//
// Until InitForCLI is called only warnings and errors are emitted, through
// the slog default logger. Calling InitForCLI again replaces the handler,
// which is how tests capture output.
//
// Subsystems in use: Config, Ports, Cleanup, Process, Proxy, Backend, PGNode,
// Scenario, Metrics, Steps, MockProxy, Report.
package logging
