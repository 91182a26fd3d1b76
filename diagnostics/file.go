package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// FileSink appends diagnostics to a file in JSON lines or text format.
type FileSink struct {
	file   *os.File
	mu     sync.Mutex
	format string // "json" or "text"
}

// NewFileSink opens path for appending.
func NewFileSink(path string, format string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open diagnostics file: %w", err)
	}
	if format != "json" && format != "text" {
		format = "json"
	}
	return &FileSink{file: f, format: format}, nil
}

// Record writes the entry as one line.
func (s *FileSink) Record(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var line string
	if s.format == "json" {
		line = e.ToJSON() + "\n"
	} else {
		line = e.String() + "\n"
	}
	_, err := s.file.WriteString(line)
	return err
}

type outcome struct {
	Kind       string    `json:"kind"`
	Object     string    `json:"object"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ObjectDone writes the outcome of failed objects. Successes are not
// written.
func (s *FileSink) ObjectDone(ctx context.Context, kind, object string, duration time.Duration, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.format == "json" {
		b, _ := json.Marshal(outcome{
			Kind:       kind,
			Object:     object,
			DurationMS: duration.Milliseconds(),
			Error:      err.Error(),
			Timestamp:  time.Now(),
		})
		s.file.Write(append(b, '\n'))
		return
	}
	fmt.Fprintf(s.file, "[%s] FAILED %s %s: duration=%v error=%v\n", time.Now().Format(time.RFC3339), kind, object, duration, err)
}

// Close closes the file.
func (s *FileSink) Close() error {
	return s.file.Close()
}
