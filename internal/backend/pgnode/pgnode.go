// Package pgnode runs throwaway PostgreSQL servers for fixtures.
//
// A node is a fresh cluster in a temporary directory, created with initdb and
// driven with pg_ctl. It listens on a port reserved from the shared
// allocator and on a private Unix socket directory.
package pgnode

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pgharness/internal/backend"
	"pgharness/internal/fixerr"
	"pgharness/internal/ports"
	"pgharness/pkg/logging"

	"github.com/lib/pq"
)

const (
	DefaultUser         = "postgres"
	DefaultDatabase     = "postgres"
	DefaultStartTimeout = 30 * time.Second

	pingInterval = 100 * time.Millisecond
)

// Runner executes a PostgreSQL binary and returns its combined output.
type Runner func(ctx context.Context, path string, args ...string) ([]byte, error)

// Options configures new nodes.
type Options struct {
	// BinDir holds initdb and pg_ctl. Empty means look them up on PATH.
	BinDir string
	// Host is the TCP listen address.
	Host     string
	User     string
	Database string
	// BaseDir is where node directories are created. Empty means the
	// system temp directory.
	BaseDir      string
	StartTimeout time.Duration

	Ports *ports.Allocator
	Run   Runner
	// OpenDB opens the connection pool used for readiness checks.
	OpenDB func(dsn string) (*sql.DB, error)
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = ports.DefaultHost
	}
	if o.User == "" {
		o.User = DefaultUser
	}
	if o.Database == "" {
		o.Database = DefaultDatabase
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = DefaultStartTimeout
	}
	if o.Ports == nil {
		o.Ports = ports.Default()
	}
	if o.Run == nil {
		o.Run = runCommand
	}
	if o.OpenDB == nil {
		o.OpenDB = openDB
	}
	return o
}

func runCommand(ctx context.Context, path string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, path, args...).CombinedOutput()
}

func openDB(dsn string) (*sql.DB, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}

// Node is one PostgreSQL cluster.
type Node struct {
	name  string
	opts  Options
	owner string

	baseDir string
	dataDir string
	sockDir string
	logFile string
	port    int

	mu      sync.Mutex
	running bool
	cleaned bool
}

// Initializer adapts Initialize to the backend fixture contract.
func Initializer(opts Options) backend.Initializer {
	return func(ctx context.Context, name string) (backend.Instance, error) {
		return Initialize(ctx, name, opts)
	}
}

// Initialize creates the node directory, reserves its port and runs initdb.
// Nothing is left behind on failure.
func Initialize(ctx context.Context, name string, opts Options) (*Node, error) {
	opts = opts.withDefaults()

	baseDir, err := os.MkdirTemp(opts.BaseDir, "pgharness-"+sanitizeName(name)+"-")
	if err != nil {
		return nil, fmt.Errorf("create node directory: %w", err)
	}

	n := &Node{
		name:    name,
		opts:    opts,
		owner:   "pgnode " + name + " " + filepath.Base(baseDir),
		baseDir: baseDir,
		dataDir: filepath.Join(baseDir, "data"),
		sockDir: filepath.Join(baseDir, "sock"),
		logFile: filepath.Join(baseDir, "postgresql.log"),
	}

	if err := os.Mkdir(n.sockDir, 0o700); err != nil {
		os.RemoveAll(baseDir)
		return nil, fmt.Errorf("create socket directory: %w", err)
	}

	n.port, err = opts.Ports.Reserve(n.owner)
	if err != nil {
		os.RemoveAll(baseDir)
		return nil, err
	}

	if err := n.pg(ctx, "initdb", "-D", n.dataDir, "-U", opts.User, "-A", "trust", "--no-sync"); err != nil {
		n.release()
		return nil, err
	}

	logging.Info("PGNode", "Initialized %s in %s (port %d)", name, baseDir, n.port)
	return n, nil
}

// Name returns the node name.
func (n *Node) Name() string { return n.name }

// BaseDir returns the directory holding all node files.
func (n *Node) BaseDir() string { return n.baseDir }

// DataDir returns the cluster data directory.
func (n *Node) DataDir() string { return n.dataDir }

// Location implements backend.Instance.
func (n *Node) Location() backend.Location {
	return backend.Location{Host: n.opts.Host, Port: n.port}
}

// DSN returns a keyword/value string for connecting as the node's user.
func (n *Node) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=disable connect_timeout=2",
		n.opts.Host, n.port, n.opts.User, n.opts.Database)
}

// Start launches the server and waits until it answers queries.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cleaned {
		return fixerr.Usage("node %s was cleaned up", n.name)
	}
	if n.running {
		return fixerr.Usage("node %s already running", n.name)
	}

	serverOpts := fmt.Sprintf("-p %d -k %s -c listen_addresses=%s", n.port, n.sockDir, n.opts.Host)
	if err := n.pg(ctx, "pg_ctl", "-D", n.dataDir, "-l", n.logFile, "-o", serverOpts, "-w", "start"); err != nil {
		return err
	}
	n.running = true

	if err := n.waitReady(ctx); err != nil {
		return err
	}
	return nil
}

func (n *Node) waitReady(ctx context.Context) error {
	db, err := n.opts.OpenDB(n.DSN())
	if err != nil {
		return fmt.Errorf("open %s: %w", n.name, err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, n.opts.StartTimeout)
	defer cancel()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		err := db.PingContext(ctx)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return fixerr.Network("%s not accepting connections after %s: %v\n%s",
				n.name, n.opts.StartTimeout, err, n.serverLog())
		case <-ticker.C:
		}
	}

	var version string
	if err := db.QueryRowContext(ctx, "SHOW server_version").Scan(&version); err != nil {
		return fmt.Errorf("query server version on %s: %w", n.name, err)
	}
	logging.Info("PGNode", "Started %s: PostgreSQL %s on %s", n.name, version, n.Location().Address())
	return nil
}

// ConfigureTrust rewrites pg_hba.conf to accept every local connection
// without a password, reloading a running server.
func (n *Node) ConfigureTrust(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cleaned {
		return fixerr.Usage("node %s was cleaned up", n.name)
	}

	hba := strings.Join([]string{
		"# TYPE  DATABASE  USER  ADDRESS       METHOD",
		"local   all       all                 trust",
		"host    all       all   127.0.0.1/32  trust",
		"host    all       all   ::1/128       trust",
		"",
	}, "\n")
	if err := os.WriteFile(filepath.Join(n.dataDir, "pg_hba.conf"), []byte(hba), 0o600); err != nil {
		return fmt.Errorf("write pg_hba.conf for %s: %w", n.name, err)
	}

	if n.running {
		return n.pg(ctx, "pg_ctl", "-D", n.dataDir, "reload")
	}
	return nil
}

// Stop shuts a running server down with fast mode.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stopLocked(ctx)
}

func (n *Node) stopLocked(ctx context.Context) error {
	if !n.running {
		return nil
	}
	n.running = false
	if err := n.pg(ctx, "pg_ctl", "-D", n.dataDir, "-m", "fast", "-w", "stop"); err != nil {
		return err
	}
	logging.Info("PGNode", "Stopped %s", n.name)
	return nil
}

// Cleanup stops the server, removes its directory and releases its port.
// It is idempotent.
func (n *Node) Cleanup() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cleaned {
		return nil
	}
	n.cleaned = true

	stopErr := n.stopLocked(context.Background())
	return errors.Join(stopErr, n.release())
}

func (n *Node) release() error {
	n.opts.Ports.Release(n.port, n.owner)
	if err := os.RemoveAll(n.baseDir); err != nil {
		return fmt.Errorf("remove %s: %w", n.baseDir, err)
	}
	logging.Debug("PGNode", "Removed %s", n.baseDir)
	return nil
}

func (n *Node) pg(ctx context.Context, tool string, args ...string) error {
	path, err := n.binary(tool)
	if err != nil {
		return err
	}
	logging.Debug("PGNode", "Running %s %s", path, strings.Join(args, " "))
	out, err := n.opts.Run(ctx, path, args...)
	if err != nil {
		return fixerr.Process("%s for %s failed: %v\n%s", tool, n.name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (n *Node) binary(tool string) (string, error) {
	if n.opts.BinDir != "" {
		return filepath.Join(n.opts.BinDir, tool), nil
	}
	path, err := exec.LookPath(tool)
	if err != nil {
		return "", fixerr.Process("%s not found on PATH; set postgres.bin_dir", tool)
	}
	return path, nil
}

func (n *Node) serverLog() string {
	data, err := os.ReadFile(n.logFile)
	if err != nil {
		return ""
	}
	return string(data)
}

// sanitizeName makes name safe to embed in a directory name.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "node"
	}
	return b.String()
}
