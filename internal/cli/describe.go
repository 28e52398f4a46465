package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/factgraph/internal/compiler"
)

// DescribeOptions holds flags for the describe command.
type DescribeOptions struct {
	*RootOptions
	Spec string
}

// SpecificationInfo summarizes one compiled specification.
type SpecificationInfo struct {
	Name        string `json:"name"`
	Key         string `json:"key"`
	Description string `json:"description"`
}

// QueryInfo summarizes one compiled query.
type QueryInfo struct {
	Name  string `json:"name"`
	Query string `json:"query"`
}

// DescribeResult lists the entries of a valid document.
type DescribeResult struct {
	Specifications []SpecificationInfo `json:"specifications"`
	Queries        []QueryInfo         `json:"queries"`
}

// Text implements texter.
func (r DescribeResult) Text() string {
	var b strings.Builder
	for _, s := range r.Specifications {
		fmt.Fprintf(&b, "specification %s (%s)\n", s.Name, s.Key)
		for _, line := range strings.Split(strings.TrimRight(s.Description, "\n"), "\n") {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	for _, q := range r.Queries {
		fmt.Fprintf(&b, "query %s\n  %s\n", q.Name, q.Query)
	}
	fmt.Fprintf(&b, "%d specification(s), %d query(ies)\n", len(r.Specifications), len(r.Queries))
	return b.String()
}

// NewDescribeCommand creates the describe command.
func NewDescribeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DescribeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Validate a CUE document and describe its entries",
		Long: `Validate every specification and query in a CUE document and print
their canonical descriptions.

All problems are reported, not just the first one.

Exit codes:
  0 - Document is valid
  1 - Validation errors found
  2 - Command error (missing files, etc.)

Example:
  factgraph describe --spec ./specs`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescribe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Spec, "spec", "", "CUE file or directory (required)")
	_ = cmd.MarkFlagRequired("spec")

	return cmd
}

func runDescribe(opts *DescribeOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	v, files, err := LoadValue(opts.Spec)
	if err != nil {
		code := ErrCodeLoadFailed
		if le, ok := err.(*LoadError); ok {
			code = le.Code
		}
		return f.Fail(ExitCommandError, code, "load specification", err)
	}
	f.VerboseLog("Loaded %d CUE file(s) from %s", files, opts.Spec)

	if errs := compiler.Validate(v); len(errs) > 0 {
		if err := f.Error(ErrCodeInvalid, fmt.Sprintf("%d validation error(s)", len(errs)), errs); err != nil {
			return err
		}
		if f.Format != "json" {
			for _, e := range errs {
				fmt.Fprintf(f.Writer, "  %s\n", e)
			}
		}
		return NewExitError(ExitFailure, "validation failed")
	}

	doc, err := compiler.CompileValue(v)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeInvalid, "compile document", err)
	}

	result := DescribeResult{
		Specifications: []SpecificationInfo{},
		Queries:        []QueryInfo{},
	}
	for _, name := range doc.SpecificationNames() {
		spec, err := doc.Specification(name)
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeInvalid, "compile document", err)
		}
		result.Specifications = append(result.Specifications, SpecificationInfo{
			Name:        name,
			Key:         spec.Key(),
			Description: spec.Describe(),
		})
	}
	for _, name := range doc.QueryNames() {
		q, err := doc.Query(name)
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeInvalid, "compile document", err)
		}
		result.Queries = append(result.Queries, QueryInfo{Name: name, Query: q.String()})
	}
	return f.Success(result)
}
