package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Options selects and configures sinks.
type Options struct {
	// Sinks names the sinks to write to: slog, file, sqlite, postgres or
	// nop. Empty means slog.
	Sinks []string

	Path       string // file sink path
	Format     string // file format, json or text
	SQLitePath string // sqlite database file
	DSN        string // postgres connection string
	Table      string // database table name
	BatchSize  int    // buffer database inserts when > 0
}

// Open builds the sinks named in opts. More than one sink is combined
// with a MultiSink.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Sink, error) {
	names := opts.Sinks
	if len(names) == 0 {
		names = []string{"slog"}
	}
	var sinks []Sink
	closeAll := func() {
		for _, s := range sinks {
			s.Close()
		}
	}
	for _, name := range names {
		s, err := openOne(ctx, name, opts, logger)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return NewMultiSink(sinks...), nil
}

func openOne(ctx context.Context, name string, opts Options, logger *slog.Logger) (Sink, error) {
	switch name {
	case "slog":
		return NewSlogSink(logger), nil
	case "nop":
		return NopSink{}, nil
	case "file":
		if opts.Path == "" {
			return nil, errors.New("diagnostics: file sink needs a path")
		}
		return NewFileSink(opts.Path, opts.Format)
	case "sqlite":
		if opts.SQLitePath == "" {
			return nil, errors.New("diagnostics: sqlite sink needs a database path")
		}
		s, err := NewSQLiteSink(ctx, opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		return buffered(s, opts.BatchSize), nil
	case "postgres":
		if opts.DSN == "" {
			return nil, errors.New("diagnostics: postgres sink needs a dsn")
		}
		s, err := NewPostgresSink(ctx, opts.DSN, opts.Table)
		if err != nil {
			return nil, err
		}
		return buffered(s, opts.BatchSize), nil
	}
	return nil, fmt.Errorf("diagnostics: unknown sink %q", name)
}

func buffered(s Sink, batchSize int) Sink {
	if batchSize > 0 {
		return NewBufferedSink(s, batchSize)
	}
	return s
}
