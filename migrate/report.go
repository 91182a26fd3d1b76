package migrate

import (
	"fmt"
	"strings"
	"time"
)

// Report collects the results of a migration.
type Report struct {
	Results    []Result
	ViewPasses int
	Duration   time.Duration
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
}

// Count returns the number of results with the given status.
func (r *Report) Count(status Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Failed reports whether any object failed or needs manual conversion.
func (r *Report) Failed() bool {
	return r.Count(StatusFailed) > 0 || r.Count(StatusIncomplete) > 0
}

// String renders a summary followed by one line per object that was not
// migrated.
func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d applied, %d converted, %d incomplete, %d failed",
		r.Count(StatusApplied), r.Count(StatusConverted), r.Count(StatusIncomplete), r.Count(StatusFailed))
	if r.ViewPasses > 0 {
		fmt.Fprintf(&sb, ", %d view pass(es)", r.ViewPasses)
	}
	if r.Duration > 0 {
		fmt.Fprintf(&sb, " in %s", r.Duration.Round(time.Millisecond))
	}
	sb.WriteString("\n")
	for _, res := range r.Results {
		switch res.Status {
		case StatusFailed:
			fmt.Fprintf(&sb, "  FAILED     %s %s: %v\n", res.Kind, res.Name, res.Err)
		case StatusIncomplete:
			fmt.Fprintf(&sb, "  INCOMPLETE %s %s: %d statement(s) need manual conversion\n", res.Kind, res.Name, res.Diagnostics)
		}
	}
	return sb.String()
}
