// Package pgclient opens single PostgreSQL client connections for scenarios.
package pgclient

import (
	"context"
	"database/sql/driver"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"pgharness/internal/fixerr"

	"github.com/lib/pq"
)

// Options describes the connection target.
type Options struct {
	Host     string
	Port     int
	User     string
	Database string
	SSLMode  string
	// ConnectTimeout in seconds; zero leaves the libpq default.
	ConnectTimeout int
}

// DSN renders opts as a keyword/value connection string.
func (o Options) DSN() string {
	parts := []string{
		"host=" + quote(o.Host),
		"port=" + strconv.Itoa(o.Port),
	}
	if o.User != "" {
		parts = append(parts, "user="+quote(o.User))
	}
	if o.Database != "" {
		parts = append(parts, "dbname="+quote(o.Database))
	}
	sslmode := o.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	parts = append(parts, "sslmode="+sslmode)
	if o.ConnectTimeout > 0 {
		parts = append(parts, "connect_timeout="+strconv.Itoa(o.ConnectTimeout))
	}
	return strings.Join(parts, " ")
}

func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Conn is one open client connection.
type Conn interface {
	Close() error
}

// Dialer opens a client connection.
type Dialer func(ctx context.Context, opts Options) (Conn, error)

// Client is a single wire-protocol connection.
type Client struct {
	conn    driver.Conn
	options Options

	once     sync.Once
	closeErr error
}

// Connect opens exactly one connection, completing the startup handshake.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	connector, err := pq.NewConnector(opts.DSN())
	if err != nil {
		return nil, fixerr.Usage("invalid connection options: %v", err)
	}
	conn, err := connector.Connect(ctx)
	if err != nil {
		return nil, fixerr.Network("connect to %s: %v", net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)), err)
	}
	return &Client{conn: conn, options: opts}, nil
}

// Dial is a Dialer backed by Connect.
func Dial(ctx context.Context, opts Options) (Conn, error) {
	c, err := Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Options returns what the client connected with.
func (c *Client) Options() Options { return c.options }

// Ping runs an empty round trip on the connection.
func (c *Client) Ping(ctx context.Context) error {
	pinger, ok := c.conn.(driver.Pinger)
	if !ok {
		return fmt.Errorf("connection does not support ping")
	}
	return pinger.Ping(ctx)
}

// Close terminates the connection. Later calls return the first result.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// TCPConn is a raw TCP connection, for targets that do not speak the
// PostgreSQL protocol.
type TCPConn struct {
	net.Conn
	once     sync.Once
	closeErr error
}

// Close closes the socket once.
func (c *TCPConn) Close() error {
	c.once.Do(func() {
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}

// DialTCP is a Dialer that opens a plain TCP connection.
func DialTCP(ctx context.Context, opts Options) (Conn, error) {
	var d net.Dialer
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fixerr.Network("dial %s: %v", addr, err)
	}
	return &TCPConn{Conn: conn}, nil
}
