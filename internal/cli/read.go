package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// ReadOptions holds flags for the read command.
type ReadOptions struct {
	*RootOptions
	Spec  string
	Name  string
	Given []string
}

// ReadResult holds the rows a specification produced.
type ReadResult struct {
	Specification string `json:"specification"`
	Rows          []Row  `json:"rows"`
}

// Text implements texter: one row per line, tuple first.
func (r ReadResult) Text() string {
	var b strings.Builder
	for _, row := range r.Rows {
		labels := make([]string, 0, len(row.Tuple))
		for label := range row.Tuple {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		parts := make([]string, len(labels))
		for i, label := range labels {
			parts[i] = label + "=" + row.Tuple[label]
		}
		fmt.Fprintf(&b, "%s => %s\n", strings.Join(parts, " "), text(row.Result))
	}
	fmt.Fprintf(&b, "%d row(s)\n", len(r.Rows))
	return b.String()
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Evaluate a specification from given facts",
		Long: `Evaluate a named specification from a CUE document against the
store, starting from one fact per given.

Example:
  factgraph read --spec chores.cue --name currentNames --given User:9c1e...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Spec, "spec", "", "CUE file or directory (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "specification name (required)")
	cmd.Flags().StringSliceVar(&opts.Given, "given", nil, "given facts as Type:hash, in order")
	_ = cmd.MarkFlagRequired("spec")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func runRead(opts *ReadOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	doc, err := LoadDocument(opts.Spec)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeLoadFailed, "load specification", err)
	}
	spec, err := doc.Specification(opts.Name)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "load specification", err)
	}
	given, err := parseReferences(opts.Given)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "invalid --given", err)
	}
	if len(given) != len(spec.Given) {
		return f.Fail(ExitCommandError, ErrCodeInput,
			fmt.Sprintf("specification %s takes %d given fact(s), got %d", opts.Name, len(spec.Given), len(given)), nil)
	}

	s, err := opts.openSession(cmd.Context(), f)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "open store", err)
	}
	defer s.Close()

	results, err := s.source.Read(cmd.Context(), given, spec)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "read", err)
	}
	return f.Success(ReadResult{Specification: opts.Name, Rows: toRows(results)})
}
