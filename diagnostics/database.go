package diagnostics

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// DefaultTable is the table diagnostics are written to.
const DefaultTable = "tsqlpg_diagnostics"

// DatabaseSink writes diagnostics to a table so a migration can be
// reviewed with SQL. Object outcomes go to a second table named
// <table>_objects.
type DatabaseSink struct {
	db      *sql.DB
	table   string
	dialect string // sqlite or postgres
	logger  *slog.Logger
}

// NewSQLiteSink opens (or creates) a SQLite database file.
func NewSQLiteSink(ctx context.Context, path string) (*DatabaseSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return newDatabaseSink(ctx, db, DefaultTable, "sqlite")
}

// NewPostgresSink writes diagnostics into a PostgreSQL database, usually
// the migration target.
func NewPostgresSink(ctx context.Context, dsn, table string) (*DatabaseSink, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if table == "" {
		table = DefaultTable
	}
	return newDatabaseSink(ctx, db, table, "postgres")
}

// NewDatabaseSink writes to an existing connection. The tables are created
// when missing.
func NewDatabaseSink(ctx context.Context, db *sql.DB, table, dialect string) (*DatabaseSink, error) {
	if table == "" {
		table = DefaultTable
	}
	return newDatabaseSink(ctx, db, table, dialect)
}

func newDatabaseSink(ctx context.Context, db *sql.DB, table, dialect string) (*DatabaseSink, error) {
	s := &DatabaseSink{db: db, table: table, dialect: dialect, logger: slog.Default()}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *DatabaseSink) createTables(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    kind TEXT NOT NULL,
    object TEXT NOT NULL,
    statement TEXT NOT NULL,
    reason TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`, s.table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_objects (
    kind TEXT NOT NULL,
    object TEXT NOT NULL,
    duration_ms BIGINT NOT NULL,
    error TEXT,
    created_at TIMESTAMP NOT NULL
)`, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create diagnostics table: %w", err)
		}
	}
	return nil
}

func (s *DatabaseSink) placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		switch s.dialect {
		case "postgres":
			ph[i] = fmt.Sprintf("$%d", i+1)
		default:
			ph[i] = "?"
		}
	}
	return strings.Join(ph, ", ")
}

// Record inserts the entry.
func (s *DatabaseSink) Record(ctx context.Context, e Entry) error {
	query := fmt.Sprintf("INSERT INTO %s (kind, object, statement, reason, created_at) VALUES (%s)",
		s.table, s.placeholders(5))
	_, err := s.db.ExecContext(ctx, query, e.Kind, e.Object, e.Statement, e.Reason, e.Timestamp.UTC())
	return err
}

// ObjectDone inserts the object outcome. Insert failures are logged, since
// the outcome has no caller to return them to.
func (s *DatabaseSink) ObjectDone(ctx context.Context, kind, object string, duration time.Duration, err error) {
	var msg sql.NullString
	if err != nil {
		msg = sql.NullString{String: err.Error(), Valid: true}
	}
	query := fmt.Sprintf("INSERT INTO %s_objects (kind, object, duration_ms, error, created_at) VALUES (%s)",
		s.table, s.placeholders(5))
	if _, execErr := s.db.ExecContext(ctx, query, kind, object, duration.Milliseconds(), msg, time.Now().UTC()); execErr != nil {
		s.logger.WarnContext(ctx, "diagnostics insert failed", slog.String("object", object), slog.String("error", execErr.Error()))
	}
}

// Close closes the database.
func (s *DatabaseSink) Close() error {
	return s.db.Close()
}
