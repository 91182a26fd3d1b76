// Package diagnostics records statements that need manual conversion,
// together with the outcome of each migrated object.
//
// A Sink receives one Entry per unconverted statement and one ObjectDone
// call per object. Several implementations are provided: structured
// logging, a JSON or text file, a SQLite or PostgreSQL table, and the
// Multi, Buffered, Memory and Nop helpers.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ha1tch/tsqlpg/transpiler"
)

// Entry is one statement that needs manual conversion.
type Entry struct {
	// Kind is the object kind: "procedure", "view" or "table".
	Kind string `json:"kind"`

	// Object is the object name.
	Object string `json:"object"`

	// Statement is the original T-SQL text.
	Statement string `json:"statement"`

	// Reason says why the statement was not converted.
	Reason string `json:"reason"`

	Timestamp time.Time `json:"timestamp"`
}

// FromDiagnostic builds an Entry from a transpiler diagnostic.
func FromDiagnostic(kind string, d transpiler.Diagnostic) Entry {
	return Entry{
		Kind:      kind,
		Object:    d.Object,
		Statement: strings.TrimSpace(d.Statement),
		Reason:    d.Reason,
		Timestamp: time.Now(),
	}
}

// ToJSON returns the entry as JSON.
func (e Entry) ToJSON() string {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal: %v"}`, err)
	}
	return string(b)
}

// String renders the entry as one text line.
func (e Entry) String() string {
	stmt := strings.Join(strings.Fields(e.Statement), " ")
	return fmt.Sprintf("[%s] %s %s: %s: %s", e.Timestamp.Format(time.RFC3339), e.Kind, e.Object, e.Reason, stmt)
}

// Sink is the interface for recording conversion diagnostics.
type Sink interface {
	// Record stores one unconverted statement.
	Record(ctx context.Context, e Entry) error

	// ObjectDone reports that an object finished, with the error that
	// stopped it, if any.
	ObjectDone(ctx context.Context, kind, object string, duration time.Duration, err error)

	// Close flushes and releases the sink.
	Close() error
}

// RecordAll records every diagnostic of one object and returns the first
// error.
func RecordAll(ctx context.Context, s Sink, kind string, diags []transpiler.Diagnostic) error {
	var firstErr error
	for _, d := range diags {
		if err := s.Record(ctx, FromDiagnostic(kind, d)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
