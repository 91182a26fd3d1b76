package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ha1tch/tsqlpg/resolver"
	"github.com/ha1tch/tsqlpg/transpiler"
)

// Database records applied DDL in memory. A view that reads an expected
// relation which has not been created yet fails the way PostgreSQL does,
// with SQLSTATE 42P01.
type Database struct {
	mu       sync.Mutex
	executed []string
	views    map[string]bool
	others   map[string]bool
	expected map[string]bool
	failures map[string]error
}

// NewDatabase creates an empty database.
func NewDatabase() *Database {
	return &Database{
		views:    make(map[string]bool),
		others:   make(map[string]bool),
		expected: make(map[string]bool),
		failures: make(map[string]error),
	}
}

// Expect marks relations that will be created during the run. References
// to any other relation are assumed to exist already.
func (d *Database) Expect(names ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range names {
		d.expected[transpiler.ObjectName(n)] = true
	}
}

// Fail makes every statement creating name return err.
func (d *Database) Fail(name string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[transpiler.ObjectName(name)] = err
}

// Exec applies one DDL script.
func (d *Database) Exec(ctx context.Context, ddl string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kind, name := createdObject(ddl)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.failures[name]; ok && name != "" {
		return err
	}
	if kind == "view" {
		for _, ref := range resolver.References(ddl) {
			if ref != name && d.expected[ref] && !d.views[ref] && !d.others[ref] {
				return &pgconn.PgError{
					Severity: "ERROR",
					Code:     "42P01",
					Message:  fmt.Sprintf("relation %q does not exist", ref),
				}
			}
		}
		d.views[name] = true
	} else if name != "" {
		d.others[name] = true
	}
	d.executed = append(d.executed, ddl)
	return nil
}

// RelationKind reports RelationView for created views, RelationUnknown for
// other created relations and RelationNone otherwise.
func (d *Database) RelationKind(ctx context.Context, name string) (transpiler.RelationKind, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name = transpiler.ObjectName(name)
	switch {
	case d.views[name]:
		return transpiler.RelationView, nil
	case d.others[name]:
		return transpiler.RelationUnknown, nil
	}
	return transpiler.RelationNone, nil
}

// Executed returns the applied scripts in order.
func (d *Database) Executed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.executed...)
}

// Created reports whether a relation or procedure has been created.
func (d *Database) Created(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	name = transpiler.ObjectName(name)
	return d.views[name] || d.others[name]
}

// Close does nothing.
func (d *Database) Close() error {
	return nil
}

// createdObject finds the first CREATE [OR REPLACE] VIEW, TABLE or
// PROCEDURE in a script and returns its kind and name.
func createdObject(ddl string) (string, string) {
	var toks []transpiler.Token
	for _, t := range transpiler.Tokenize(ddl) {
		if !t.IsTrivia() {
			toks = append(toks, t)
		}
	}
	for i := 0; i+1 < len(toks); i++ {
		if !toks[i].Is("CREATE") {
			continue
		}
		j := i + 1
		if toks[j].Is("OR") && j+2 < len(toks) {
			j += 2
		}
		kind := strings.ToLower(toks[j].Text)
		switch kind {
		case "view", "table", "procedure":
		default:
			continue
		}
		j++
		if j+2 < len(toks) && toks[j].Is("IF") {
			j += 3 // IF NOT EXISTS
		}
		if j >= len(toks) || toks[j].Kind == transpiler.TokenEndOfInput {
			return "", ""
		}
		return kind, transpiler.ObjectName(toks[j].Text)
	}
	return "", ""
}
