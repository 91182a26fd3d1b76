package transpiler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyDefinition is returned when an object definition has no
	// tokens to convert.
	ErrEmptyDefinition = errors.New("empty object definition")

	// ErrProcedureIncomplete is wrapped by IncompleteError for procedures
	// whose body holds statements that could not be converted.
	ErrProcedureIncomplete = errors.New("procedure conversion incomplete")

	// ErrViewIncomplete is wrapped by IncompleteError for views.
	ErrViewIncomplete = errors.New("view conversion incomplete")

	// ErrUnrecognizedShape is returned by ConvertCondition for conditions
	// that no recognizer matched.
	ErrUnrecognizedShape = errors.New("unrecognized condition shape")
)

// Diagnostic records one statement that needs manual conversion.
type Diagnostic struct {
	Object    string // procedure or view name
	Statement string // original T-SQL text, verbatim
	Reason    string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %s", d.Object, d.Reason, strings.TrimSpace(d.Statement))
}

// IncompleteError reports an object that was only partly converted. No DDL
// is produced for it; Converted and Unconverted are kept for review.
type IncompleteError struct {
	Kind        string // "procedure" or "view"
	Object      string
	Converted   string
	Unconverted string
	Diagnostics []Diagnostic
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%s %s: %d statement(s) need manual conversion", e.Kind, e.Object, len(e.Diagnostics))
}

// Unwrap lets errors.Is match ErrProcedureIncomplete or ErrViewIncomplete.
func (e *IncompleteError) Unwrap() error {
	if e.Kind == "view" {
		return ErrViewIncomplete
	}
	return ErrProcedureIncomplete
}

// Report renders the converted text followed by the unconverted remainder,
// for manual remediation.
func (e *IncompleteError) Report() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "-- %s %s: converted statements\n", e.Kind, e.Object)
	sb.WriteString(e.Converted)
	if !strings.HasSuffix(e.Converted, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("-- needs manual conversion\n")
	for _, d := range e.Diagnostics {
		fmt.Fprintf(&sb, "-- %s\n", d.Reason)
	}
	sb.WriteString(e.Unconverted)
	return sb.String()
}
