// Package adapter connects the migrator to its two databases: the SQL
// Server instance object definitions are read from, and the PostgreSQL
// database the converted DDL is applied to.
package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Config holds common adapter configuration.
type Config struct {
	DSN             string
	Schema          string // SQL Server schema to read objects from
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	QueryTimeout    time.Duration
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Schema:          "dbo",
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
		QueryTimeout:    30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Schema == "" {
		c.Schema = def.Schema
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = def.MaxOpenConns
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = def.MaxIdleConns
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = def.ConnMaxIdleTime
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = def.QueryTimeout
	}
	return c
}

// baseAdapter provides the database/sql plumbing shared by sql.DB backed
// adapters.
type baseAdapter struct {
	db     *sql.DB
	config Config
}

// Close closes the database connection.
func (a *baseAdapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// HealthCheck pings the server and runs a trivial query.
func (a *baseAdapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var result int
	if err := a.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

// configurePool sets connection pool parameters.
func (a *baseAdapter) configurePool() {
	if a.config.MaxOpenConns > 0 {
		a.db.SetMaxOpenConns(a.config.MaxOpenConns)
	}
	if a.config.MaxIdleConns > 0 {
		a.db.SetMaxIdleConns(a.config.MaxIdleConns)
	}
	if a.config.ConnMaxLifetime > 0 {
		a.db.SetConnMaxLifetime(a.config.ConnMaxLifetime)
	}
	if a.config.ConnMaxIdleTime > 0 {
		a.db.SetConnMaxIdleTime(a.config.ConnMaxIdleTime)
	}
}

// queryContext bounds a catalog query by the configured timeout.
func (a *baseAdapter) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.config.QueryTimeout)
}

// scanStrings collects a single string column from rows.
func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
