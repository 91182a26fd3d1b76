// Package mock provides an in-memory SQL Server catalog and PostgreSQL
// target. They stand in for live databases in offline runs and tests.
package mock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/ha1tch/tsqlpg/adapter"
	"github.com/ha1tch/tsqlpg/transpiler"
)

// Catalog holds object definitions in memory. Names are stored the way
// transpiler.ObjectName reduces them.
type Catalog struct {
	mu         sync.RWMutex
	tables     map[string]transpiler.Table
	defs       map[string]string
	views      []string
	procedures []string
	params     map[string][]transpiler.ProcParam

	// Skipped lists the first line of every batch LoadDir could not
	// classify.
	Skipped []string
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		tables: make(map[string]transpiler.Table),
		defs:   make(map[string]string),
		params: make(map[string][]transpiler.ProcParam),
	}
}

// LoadDir reads every .sql file in dir. Files are split at GO lines and
// each procedure or view batch is added; other batches are recorded in
// Skipped.
func LoadDir(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}
	c := NewCatalog()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".sql") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		for _, batch := range transpiler.SplitBatches(string(data)) {
			if _, err := c.AddDefinition(batch); err != nil {
				line, _, _ := strings.Cut(batch, "\n")
				c.Skipped = append(c.Skipped, entry.Name()+": "+strings.TrimSpace(line))
			}
		}
	}
	return c, nil
}

// AddTable adds or replaces a table.
func (c *Catalog) AddTable(t transpiler.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[transpiler.ObjectName(t.Name)] = t
}

// AddDefinition adds a procedure or view definition and returns its name.
// A later definition of the same name replaces the earlier one.
func (c *Catalog) AddDefinition(def string) (string, error) {
	kind, name := transpiler.DescribeDefinition(def)
	if kind == "" || name == "" {
		return "", fmt.Errorf("not a procedure or view definition")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.defs[name]; !exists {
		if kind == "view" {
			c.views = append(c.views, name)
		} else {
			c.procedures = append(c.procedures, name)
		}
	}
	c.defs[name] = def
	return name, nil
}

// SetParams stores catalog parameter metadata for a procedure.
func (c *Catalog) SetParams(procedure string, params []transpiler.ProcParam) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params[transpiler.ObjectName(procedure)] = params
}

// Tables returns the table names in sorted order.
func (c *Catalog) Tables(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Views returns the view names in the order they were added.
func (c *Catalog) Views(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.views), nil
}

// Procedures returns the procedure names in the order they were added.
func (c *Catalog) Procedures(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.procedures), nil
}

// Table returns a table's metadata.
func (c *Catalog) Table(ctx context.Context, name string) (transpiler.Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[transpiler.ObjectName(name)]
	if !ok {
		return transpiler.Table{}, fmt.Errorf("table %s: %w", name, adapter.ErrObjectNotFound)
	}
	return t, nil
}

// Definition returns a procedure or view definition.
func (c *Catalog) Definition(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[transpiler.ObjectName(name)]
	if !ok {
		return "", fmt.Errorf("definition of %s: %w", name, adapter.ErrObjectNotFound)
	}
	return def, nil
}

// ProcedureParams returns the parameters set with SetParams, or nil.
func (c *Catalog) ProcedureParams(ctx context.Context, name string) ([]transpiler.ProcParam, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params[transpiler.ObjectName(name)], nil
}

// Close does nothing.
func (c *Catalog) Close() error {
	return nil
}
