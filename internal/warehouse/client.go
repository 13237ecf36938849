// Package warehouse reads call metrics from the ClickHouse analytics
// warehouse.
package warehouse

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog"
)

const (
	defaultHTTPPort  = 8123
	defaultHTTPSPort = 8443
)

// Config holds ClickHouse connection settings.
type Config struct {
	// Addr accepts "host", "host:port" or a full http(s) URL.
	Addr        string
	Username    string
	Password    string
	Database    string
	Secure      bool
	DialTimeout time.Duration
	ReadTimeout time.Duration
	// ExcludedNumbers are caller numbers left out of every metric.
	ExcludedNumbers []string
}

// DefaultConfig returns a Config for a local ClickHouse.
func DefaultConfig() Config {
	return Config{
		Addr:        "localhost:8123",
		Username:    "default",
		Database:    "default",
		DialTimeout: 30 * time.Second,
		ReadTimeout: 120 * time.Second,
	}
}

// QuerySettings are applied to every query. Day-long windows over the event
// tables need generous limits.
var QuerySettings = clickhouse.Settings{
	"max_execution_time": 180,
	"max_memory_usage":   int64(10_000_000_000),
	"max_threads":        16,
}

// Scope bounds a metric query to one organization, source node and
// half-open time interval [Start, End).
type Scope struct {
	OrgID        string
	SourceNodeID string
	Timezone     string
	Start        time.Time
	End          time.Time
}

// Client queries call metrics from ClickHouse.
type Client struct {
	db       *sql.DB
	addr     string
	excluded []string
	logger   zerolog.Logger
}

// ResolveAddr normalizes a configured address into host:port, applying the
// default HTTP or HTTPS port when none is given.
func ResolveAddr(raw string, secure bool) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "localhost"
	}

	defaultPort := defaultHTTPPort
	if secure {
		defaultPort = defaultHTTPSPort
	}

	host := raw
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("parse clickhouse URL: %w", err)
		}
		host = u.Host
	}

	h, p, err := net.SplitHostPort(host)
	if err != nil {
		// No port present.
		if host == "" {
			host = "localhost"
		}
		return net.JoinHostPort(host, strconv.Itoa(defaultPort)), nil
	}
	if h == "" {
		h = "localhost"
	}
	if _, err := strconv.Atoi(p); err != nil {
		return net.JoinHostPort(h, strconv.Itoa(defaultPort)), nil
	}
	return net.JoinHostPort(h, p), nil
}

// ParseExcludedNumbers splits a comma-separated list, dropping blanks.
func ParseExcludedNumbers(raw string) []string {
	var out []string
	for _, n := range strings.Split(raw, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// New opens a ClickHouse connection over the HTTP interface. The connection
// is established lazily; call Ping to verify it.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	addr, err := ResolveAddr(cfg.Addr, cfg.Secure)
	if err != nil {
		return nil, err
	}

	opts := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.HTTP,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings:    QuerySettings,
		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.ReadTimeout,
	}
	if cfg.Secure {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c := &Client{
		db:       clickhouse.OpenDB(opts),
		addr:     addr,
		excluded: cfg.ExcludedNumbers,
		logger:   logger.With().Str("component", "warehouse").Logger(),
	}

	c.logger.Info().
		Str("addr", addr).
		Bool("secure", cfg.Secure).
		Str("database", cfg.Database).
		Int("excluded_numbers", len(cfg.ExcludedNumbers)).
		Msg("clickhouse client configured")
	return c, nil
}

// Ping verifies the warehouse is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping clickhouse %s: %w", c.addr, err)
	}
	return nil
}

// Close releases the underlying connections.
func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) args(s Scope, extra ...any) []any {
	args := []any{
		clickhouse.Named("org_id", s.OrgID),
		clickhouse.Named("node_id", s.SourceNodeID),
		clickhouse.Named("start", s.Start.Format(time.RFC3339)),
		clickhouse.Named("end", s.End.Format(time.RFC3339)),
	}
	if len(c.excluded) > 0 {
		args = append(args, clickhouse.Named("excluded", c.excluded))
	}
	return append(args, extra...)
}

func (c *Client) query(ctx context.Context, metric, query string, args []any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", metric, err)
	}
	c.logger.Debug().
		Str("metric", metric).
		Dur("duration", time.Since(start)).
		Msg("warehouse query executed")
	return rows, nil
}
