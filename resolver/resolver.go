package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ha1tch/tsqlpg/adapter"
	"github.com/ha1tch/tsqlpg/transpiler"
)

// DefaultExtraPasses is added to the number of pending views to bound the
// retry passes of a Run.
const DefaultExtraPasses = 5

// ErrDependencyUnresolvable is wrapped by UnresolvableError.
var ErrDependencyUnresolvable = errors.New("view dependency unresolvable")

// UnresolvableError reports a view whose DDL could not be applied within
// the retry passes. The DDL is attached for manual review.
type UnresolvableError struct {
	View string
	DDL  string
	Err  error // last error returned by the apply function
}

func (e *UnresolvableError) Error() string {
	return fmt.Sprintf("view %s: %v: %v", e.View, ErrDependencyUnresolvable, e.Err)
}

// Unwrap exposes both ErrDependencyUnresolvable and the last apply error.
func (e *UnresolvableError) Unwrap() []error {
	return []error{ErrDependencyUnresolvable, e.Err}
}

// ApplyFunc applies the DDL of one view.
type ApplyFunc func(ctx context.Context, v View) error

// Resolver applies views in dependency order with bounded retries.
type Resolver struct {
	// ExtraPasses bounds the passes at pending + ExtraPasses. Zero means
	// DefaultExtraPasses.
	ExtraPasses int

	// IsMissing classifies an apply error as a missing dependency. Nil
	// means adapter.IsMissingDependency.
	IsMissing func(error) bool

	Logger *slog.Logger
}

// Report is the outcome of a Run.
type Report struct {
	Order   []string
	Applied []string
	Failed  []*UnresolvableError
	Passes  int
}

// String summarizes the report.
func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "views: %d applied, %d failed, %d pass(es)\n", len(r.Applied), len(r.Failed), r.Passes)
	for _, f := range r.Failed {
		fmt.Fprintf(&sb, "  FAILED %s: %v\n", f.View, f.Err)
	}
	return sb.String()
}

// Run applies views with the default settings.
func Run(ctx context.Context, views []View, apply ApplyFunc) (*Report, error) {
	return (&Resolver{}).Run(ctx, views, apply)
}

// pending tracks a view between passes.
type pending struct {
	view     View
	lastErr  error
	failures int // attempts that failed for reasons other than a missing dependency
}

// Run applies views in topological order. Each pass attempts every pending
// view: a missing-dependency failure defers the view to the next pass, any
// other failure is retried once more before it is final. Passes stop when
// a pass changes nothing or after pending + ExtraPasses passes. The
// returned error is non-nil only when ctx is done.
func (r *Resolver) Run(ctx context.Context, views []View, apply ApplyFunc) (*Report, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	isMissing := r.IsMissing
	if isMissing == nil {
		isMissing = adapter.IsMissingDependency
	}
	extra := r.ExtraPasses
	if extra <= 0 {
		extra = DefaultExtraPasses
	}

	graph := BuildGraph(views)
	for _, name := range graph.Names() {
		if deps := graph.Dependencies(name); len(deps) > 0 {
			logger.DebugContext(ctx, "view dependencies", slog.String("view", name), slog.Any("depends_on", deps))
		}
	}
	byName := make(map[string]View, len(views))
	for _, v := range views {
		name := transpiler.ObjectName(v.Name)
		if _, ok := byName[name]; !ok {
			byName[name] = v
		}
	}

	report := &Report{Order: graph.Order()}
	queue := make([]*pending, 0, len(report.Order))
	for _, name := range report.Order {
		queue = append(queue, &pending{view: byName[name]})
	}

	maxPasses := len(queue) + extra
	for pass := 1; pass <= maxPasses && len(queue) > 0; pass++ {
		report.Passes = pass
		changed := false
		var next []*pending
		for _, p := range queue {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			err := apply(ctx, p.view)
			switch {
			case err == nil:
				report.Applied = append(report.Applied, p.view.Name)
				changed = true
				logger.DebugContext(ctx, "view applied", slog.String("view", p.view.Name), slog.Int("pass", pass))
			case isMissing(err):
				p.lastErr = err
				next = append(next, p)
				logger.DebugContext(ctx, "view deferred", slog.String("view", p.view.Name), slog.Int("pass", pass), slog.String("error", err.Error()))
			default:
				p.lastErr = err
				p.failures++
				changed = true
				if p.failures > 1 {
					report.Failed = append(report.Failed, &UnresolvableError{View: p.view.Name, DDL: p.view.DDL, Err: err})
					logger.ErrorContext(ctx, "view failed", slog.String("view", p.view.Name), slog.String("error", err.Error()))
					continue
				}
				next = append(next, p)
			}
		}
		queue = next
		if !changed {
			break
		}
	}

	for _, p := range queue {
		report.Failed = append(report.Failed, &UnresolvableError{View: p.view.Name, DDL: p.view.DDL, Err: p.lastErr})
		logger.ErrorContext(ctx, "view unresolved",
			slog.String("view", p.view.Name),
			slog.Any("depends_on", graph.Dependencies(p.view.Name)),
			slog.String("error", fmt.Sprint(p.lastErr)))
	}
	return report, nil
}
