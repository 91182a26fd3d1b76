package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/ha1tch/tsqlpg/transpiler"
)

// ErrObjectNotFound is returned when a named object does not exist in the
// source schema.
var ErrObjectNotFound = errors.New("object not found")

// Object type codes from sys.objects.
const (
	objectTable     = "U"
	objectView      = "V"
	objectProcedure = "P"
)

// SQLServer reads object definitions and table metadata from SQL Server.
type SQLServer struct {
	baseAdapter
}

// OpenSQLServer connects to SQL Server using go-mssqldb.
func OpenSQLServer(ctx context.Context, cfg Config) (*SQLServer, error) {
	cfg = cfg.withDefaults()
	dsn := cfg.DSN
	if strings.HasPrefix(dsn, "mssql://") {
		dsn = "sqlserver://" + strings.TrimPrefix(dsn, "mssql://")
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlserver: %w", err)
	}
	a := &SQLServer{baseAdapter{db: db, config: cfg}}
	a.configurePool()
	if err := a.HealthCheck(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlserver: %w", err)
	}
	return a, nil
}

// NewSQLServer wraps an existing connection.
func NewSQLServer(db *sql.DB, cfg Config) *SQLServer {
	return &SQLServer{baseAdapter{db: db, config: cfg.withDefaults()}}
}

// Schema returns the schema objects are read from.
func (a *SQLServer) Schema() string {
	return a.config.Schema
}

// Tables lists the user tables of the configured schema.
func (a *SQLServer) Tables(ctx context.Context) ([]string, error) {
	return a.objects(ctx, objectTable)
}

// Views lists the views of the configured schema.
func (a *SQLServer) Views(ctx context.Context) ([]string, error) {
	return a.objects(ctx, objectView)
}

// Procedures lists the stored procedures of the configured schema.
func (a *SQLServer) Procedures(ctx context.Context) ([]string, error) {
	return a.objects(ctx, objectProcedure)
}

const listObjectsQuery = `
SELECT o.name
FROM sys.objects o
JOIN sys.schemas s ON s.schema_id = o.schema_id
WHERE o.type = @type AND o.is_ms_shipped = 0 AND s.name = @schema
ORDER BY o.create_date, o.name`

func (a *SQLServer) objects(ctx context.Context, typ string) ([]string, error) {
	ctx, cancel := a.queryContext(ctx)
	defer cancel()
	rows, err := a.db.QueryContext(ctx, listObjectsQuery,
		sql.Named("type", typ), sql.Named("schema", a.config.Schema))
	if err != nil {
		return nil, fmt.Errorf("list objects of type %s: %w", typ, err)
	}
	names, err := scanStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("list objects of type %s: %w", typ, err)
	}
	return names, nil
}

// qualified returns schema.name for catalog lookups.
func (a *SQLServer) qualified(name string) string {
	return "[" + a.config.Schema + "].[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// Definition returns an object's source text, rejoined from the rows
// sp_helptext returns.
func (a *SQLServer) Definition(ctx context.Context, name string) (string, error) {
	ctx, cancel := a.queryContext(ctx)
	defer cancel()
	rows, err := a.db.QueryContext(ctx, "EXEC sp_helptext @objname", sql.Named("objname", a.qualified(name)))
	if err != nil {
		if isMissingObject(err) {
			return "", fmt.Errorf("definition of %s: %w", name, ErrObjectNotFound)
		}
		return "", fmt.Errorf("definition of %s: %w", name, err)
	}
	lines, err := scanStrings(rows)
	if err != nil {
		return "", fmt.Errorf("definition of %s: %w", name, err)
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("definition of %s: %w", name, ErrObjectNotFound)
	}
	return transpiler.RejoinDefinition(lines, transpiler.DefinitionWidth), nil
}

// isMissingObject reports the error sp_helptext raises for unknown objects.
func isMissingObject(err error) bool {
	var merr mssql.Error
	if errors.As(err, &merr) {
		return merr.Number == 15009
	}
	return false
}

const columnsQuery = `
SELECT c.COLUMN_NAME, c.DATA_TYPE,
       COALESCE(c.CHARACTER_MAXIMUM_LENGTH, 0),
       COALESCE(CAST(c.NUMERIC_PRECISION AS int), 0),
       COALESCE(c.NUMERIC_SCALE, 0),
       CASE WHEN c.IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
       COALESCE(COLUMNPROPERTY(OBJECT_ID(QUOTENAME(c.TABLE_SCHEMA) + '.' + QUOTENAME(c.TABLE_NAME)), c.COLUMN_NAME, 'IsIdentity'), 0),
       COALESCE(c.COLUMN_DEFAULT, '')
FROM INFORMATION_SCHEMA.COLUMNS c
WHERE c.TABLE_SCHEMA = @schema AND c.TABLE_NAME = @name
ORDER BY c.ORDINAL_POSITION`

const primaryKeyQuery = `
SELECT col.name
FROM sys.indexes i
JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
JOIN sys.columns col ON col.object_id = ic.object_id AND col.column_id = ic.column_id
WHERE i.is_primary_key = 1 AND i.object_id = OBJECT_ID(@object)
ORDER BY ic.key_ordinal`

// Table reads the column and primary key metadata of a table.
func (a *SQLServer) Table(ctx context.Context, name string) (transpiler.Table, error) {
	ctx, cancel := a.queryContext(ctx)
	defer cancel()

	table := transpiler.Table{Name: name}
	rows, err := a.db.QueryContext(ctx, columnsQuery,
		sql.Named("schema", a.config.Schema), sql.Named("name", name))
	if err != nil {
		return table, fmt.Errorf("columns of %s: %w", name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var col transpiler.Column
		var nullable, identity int
		if err := rows.Scan(&col.Name, &col.DataType, &col.Length, &col.Precision, &col.Scale,
			&nullable, &identity, &col.Default); err != nil {
			return table, fmt.Errorf("columns of %s: %w", name, err)
		}
		col.Nullable = nullable == 1
		col.Identity = identity == 1
		if !isDecimalType(col.DataType) {
			col.Precision, col.Scale = 0, 0
		}
		table.Columns = append(table.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return table, fmt.Errorf("columns of %s: %w", name, err)
	}
	if len(table.Columns) == 0 {
		return table, fmt.Errorf("columns of %s: %w", name, ErrObjectNotFound)
	}

	pkRows, err := a.db.QueryContext(ctx, primaryKeyQuery, sql.Named("object", a.qualified(name)))
	if err != nil {
		return table, fmt.Errorf("primary key of %s: %w", name, err)
	}
	if table.PrimaryKey, err = scanStrings(pkRows); err != nil {
		return table, fmt.Errorf("primary key of %s: %w", name, err)
	}
	return table, nil
}

func isDecimalType(dataType string) bool {
	switch strings.ToLower(dataType) {
	case "decimal", "numeric":
		return true
	}
	return false
}

const paramsQuery = `
SELECT p.name, TYPE_NAME(p.user_type_id), p.max_length,
       CAST(p.precision AS int), CAST(p.scale AS int), p.is_output
FROM sys.parameters p
WHERE p.object_id = OBJECT_ID(@object) AND p.parameter_id > 0
ORDER BY p.parameter_id`

// ProcedureParams reads parameter metadata from sys.parameters. Default
// values are not recorded in the catalog for T-SQL procedures and stay
// empty.
func (a *SQLServer) ProcedureParams(ctx context.Context, name string) ([]transpiler.ProcParam, error) {
	ctx, cancel := a.queryContext(ctx)
	defer cancel()
	rows, err := a.db.QueryContext(ctx, paramsQuery, sql.Named("object", a.qualified(name)))
	if err != nil {
		return nil, fmt.Errorf("parameters of %s: %w", name, err)
	}
	defer rows.Close()

	params := []transpiler.ProcParam{}
	for rows.Next() {
		var pname, typ string
		var maxLength, precision, scale int
		var output bool
		if err := rows.Scan(&pname, &typ, &maxLength, &precision, &scale, &output); err != nil {
			return nil, fmt.Errorf("parameters of %s: %w", name, err)
		}
		params = append(params, catalogParam(pname, typ, maxLength, precision, scale, output))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("parameters of %s: %w", name, err)
	}
	return params, nil
}

// catalogParam converts one sys.parameters row. max_length is in bytes,
// so it is halved for the two-byte character types.
func catalogParam(name, typ string, maxLength, precision, scale int, output bool) transpiler.ProcParam {
	length := maxLength
	switch strings.ToLower(typ) {
	case "nvarchar", "nchar":
		if length > 0 {
			length /= 2
		}
	}
	if !isDecimalType(typ) {
		precision, scale = 0, 0
	}
	return transpiler.ProcParam{
		Name:     strings.ToLower(strings.TrimPrefix(name, "@")),
		PGType:   transpiler.MapType(typ, length, precision, scale),
		IsOutput: output,
	}
}
