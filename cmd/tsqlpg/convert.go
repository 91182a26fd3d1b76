package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ha1tch/tsqlpg/pgcheck"
	"github.com/ha1tch/tsqlpg/transpiler"
)

type convertOptions struct {
	kind    string
	schema  string
	replace bool
	check   bool
	output  string
	force   bool
}

func newConvertCmd() *cobra.Command {
	opts := &convertOptions{}
	cmd := &cobra.Command{
		Use:   "convert [file.sql]",
		Short: "Convert one procedure, view or statement batch to PostgreSQL",
		Long: `Convert reads a T-SQL object definition from a file, or from stdin when no
file or "-" is given, and prints the PostgreSQL DDL.

A procedure or view with any statement that cannot be converted produces no
DDL. Its review report is printed instead and the exit status is 1.`,
		Args: maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, args, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.kind, "kind", "k", "auto", "object kind: auto, procedure, view, statements")
	f.StringVar(&opts.schema, "schema", transpiler.DefaultSchema, "SQL Server schema prefix to strip")
	f.BoolVar(&opts.replace, "replace-views", false, "emit CREATE OR REPLACE VIEW instead of a guarded DROP")
	f.BoolVar(&opts.check, "check", false, "parse the generated DDL with the PostgreSQL parser")
	f.StringVarP(&opts.output, "output", "o", "", "write to file instead of stdout")
	f.BoolVarP(&opts.force, "force", "f", false, "allow overwriting the output file")
	return cmd
}

func runConvert(cmd *cobra.Command, args []string, opts *convertOptions) error {
	switch opts.kind {
	case "auto", "procedure", "view", "statements":
	default:
		return usagef("unknown kind %q (valid: auto, procedure, view, statements)", opts.kind)
	}

	name := "stdin"
	var source []byte
	var err error
	if len(args) == 1 && args[0] != "-" {
		name = args[0]
		source, err = os.ReadFile(name)
	} else {
		source, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}

	tr := transpiler.New(transpiler.Options{Schema: opts.schema, ReplaceViews: opts.replace})
	kind := opts.kind
	if kind == "auto" {
		kind = detectKind(string(source))
	}

	var ddl string
	switch kind {
	case "procedure":
		var res *transpiler.ProcedureResult
		if res, err = tr.ConvertProcedure(transpiler.ProcedureSource{Definition: string(source)}); err == nil {
			ddl = res.DDL
		}
	case "view":
		var res *transpiler.ViewResult
		if res, err = tr.ConvertView(transpiler.ViewSource{Definition: string(source)}); err == nil {
			ddl = res.DDL
		}
	default:
		out, diags := tr.ConvertStatements(name, string(source))
		ddl = out.Converted
		if len(diags) > 0 {
			err = &transpiler.IncompleteError{
				Kind:        "statements",
				Object:      name,
				Converted:   out.Converted,
				Unconverted: out.NeedsConversion,
				Diagnostics: diags,
			}
		}
	}

	var inc *transpiler.IncompleteError
	if errors.As(err, &inc) {
		for _, d := range inc.Diagnostics {
			fmt.Fprintf(cmd.ErrOrStderr(), "needs manual conversion: %s\n", d)
		}
		fmt.Fprintln(cmd.OutOrStdout(), inc.Report())
		return errNotMigrated
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	if opts.check {
		if err := pgcheck.Check(name, ddl); err != nil {
			return err
		}
	}
	return writeOutput(cmd, opts, ddl)
}

// detectKind maps a definition header to a convert kind.
func detectKind(source string) string {
	if kind, _ := transpiler.DescribeDefinition(source); kind != "" {
		return kind
	}
	return "statements"
}

func writeOutput(cmd *cobra.Command, opts *convertOptions, ddl string) error {
	if opts.output == "" {
		fmt.Fprintln(cmd.OutOrStdout(), ddl)
		return nil
	}
	if !opts.force {
		if _, err := os.Stat(opts.output); err == nil {
			return fmt.Errorf("output file %s already exists (use --force to overwrite)", opts.output)
		}
	}
	if err := os.WriteFile(opts.output, []byte(ddl+"\n"), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", opts.output, err)
	}
	return nil
}
