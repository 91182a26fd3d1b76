package diagnostics

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MultiSink records to several sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink that writes to every given sink.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Record records to all sinks and returns the first error.
func (m *MultiSink) Record(ctx context.Context, e Entry) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Record(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ObjectDone reports to all sinks.
func (m *MultiSink) ObjectDone(ctx context.Context, kind, object string, duration time.Duration, err error) {
	for _, s := range m.sinks {
		s.ObjectDone(ctx, kind, object, duration, err)
	}
}

// Close closes every sink.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BufferedSink collects entries and hands them to the inner sink in
// batches, on Flush and on Close.
type BufferedSink struct {
	inner     Sink
	mu        sync.Mutex
	buffer    []Entry
	batchSize int
}

// NewBufferedSink wraps inner.
func NewBufferedSink(inner Sink, batchSize int) *BufferedSink {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &BufferedSink{inner: inner, batchSize: batchSize, buffer: make([]Entry, 0, batchSize)}
}

// Record buffers the entry and flushes a full batch.
func (b *BufferedSink) Record(ctx context.Context, e Entry) error {
	b.mu.Lock()
	b.buffer = append(b.buffer, e)
	full := len(b.buffer) >= b.batchSize
	b.mu.Unlock()
	if full {
		return b.Flush(ctx)
	}
	return nil
}

// ObjectDone delegates to the inner sink.
func (b *BufferedSink) ObjectDone(ctx context.Context, kind, object string, duration time.Duration, err error) {
	b.inner.ObjectDone(ctx, kind, object, duration, err)
}

// Flush writes all buffered entries.
func (b *BufferedSink) Flush(ctx context.Context) error {
	b.mu.Lock()
	entries := b.buffer
	b.buffer = make([]Entry, 0, b.batchSize)
	b.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		if err := b.inner.Record(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close flushes and closes the inner sink.
func (b *BufferedSink) Close() error {
	flushErr := b.Flush(context.Background())
	return errors.Join(flushErr, b.inner.Close())
}

// Outcome is one ObjectDone call kept by a MemorySink.
type Outcome struct {
	Kind   string
	Object string
	Err    error
}

// MemorySink keeps everything in memory.
type MemorySink struct {
	mu       sync.Mutex
	Entries  []Entry
	Outcomes []Outcome
}

// Record appends the entry.
func (m *MemorySink) Record(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, e)
	return nil
}

// ObjectDone appends the outcome.
func (m *MemorySink) ObjectDone(ctx context.Context, kind, object string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outcomes = append(m.Outcomes, Outcome{Kind: kind, Object: object, Err: err})
}

// Close does nothing.
func (m *MemorySink) Close() error {
	return nil
}

// NopSink discards everything.
type NopSink struct{}

// Record does nothing.
func (NopSink) Record(ctx context.Context, e Entry) error { return nil }

// ObjectDone does nothing.
func (NopSink) ObjectDone(ctx context.Context, kind, object string, duration time.Duration, err error) {
}

// Close does nothing.
func (NopSink) Close() error { return nil }
