package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ha1tch/tsqlpg/transpiler"
)

// Postgres applies converted DDL to a PostgreSQL database.
type Postgres struct {
	pool   *pgxpool.Pool
	config Config
}

// OpenPostgres connects to PostgreSQL with a pgx pool.
func OpenPostgres(ctx context.Context, cfg Config) (*Postgres, error) {
	cfg = cfg.withDefaults()
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
	pcfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool, config: cfg}, nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Exec runs one DDL script. Scripts are sent through the simple protocol so
// that several statements and dollar-quoted bodies can travel together.
func (p *Postgres) Exec(ctx context.Context, ddl string) error {
	if _, err := p.pool.Exec(ctx, ddl, pgx.QueryExecModeSimpleProtocol); err != nil {
		return err
	}
	return nil
}

const relkindQuery = `
SELECT c.relkind::text
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE c.relname = $1 AND n.nspname = ANY (current_schemas(false))
ORDER BY array_position(current_schemas(false), n.nspname)
LIMIT 1`

// RelationKind reports what currently occupies name in the search path.
func (p *Postgres) RelationKind(ctx context.Context, name string) (transpiler.RelationKind, error) {
	var relkind string
	err := p.pool.QueryRow(ctx, relkindQuery, name).Scan(&relkind)
	if errors.Is(err, pgx.ErrNoRows) {
		return transpiler.RelationNone, nil
	}
	if err != nil {
		return transpiler.RelationUnknown, fmt.Errorf("relation kind of %s: %w", name, err)
	}
	return relationKind(relkind), nil
}

// relationKind maps pg_class.relkind. Tables and other relation kinds are
// reported as unknown so that the guarded preamble is used.
func relationKind(relkind string) transpiler.RelationKind {
	switch relkind {
	case "v":
		return transpiler.RelationView
	case "m":
		return transpiler.RelationMaterialized
	}
	return transpiler.RelationUnknown
}

// SQLSTATE codes raised when DDL references an object that does not exist
// yet.
var missingDependencyCodes = map[string]bool{
	"42P01": true, // undefined_table
	"42703": true, // undefined_column
	"42883": true, // undefined_function
	"42704": true, // undefined_object
	"3F000": true, // invalid_schema_name
}

// IsMissingDependency reports whether err was raised because the statement
// references a relation, column, function, type or schema that does not
// exist yet.
func IsMissingDependency(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return missingDependencyCodes[pgErr.Code]
	}
	return false
}
