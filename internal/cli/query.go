package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/factgraph/internal/compiler"
	"github.com/roach88/factgraph/internal/query"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Root string
	Spec string
}

// QueryResult holds the paths a query walked.
type QueryResult struct {
	Root  string     `json:"root"`
	Query string     `json:"query"`
	Paths [][]string `json:"paths"`
}

// Text implements texter.
func (r QueryResult) Text() string {
	var b strings.Builder
	for _, p := range r.Paths {
		fmt.Fprintln(&b, strings.Join(p, " "))
	}
	fmt.Fprintf(&b, "%d path(s)\n", len(r.Paths))
	return b.String()
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <query>",
		Short: "Walk a query from a root fact",
		Long: `Walk a query from a root fact and print every result path.

The query is a descriptive string, or the name of a query in the
document given with --spec.

Examples:
  factgraph query --root List:3f2a... 'S.list F.type="Task" N(S.task F.type="Completion")'
  factgraph query --root List:3f2a... --spec chores.cue openTasks`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Root, "root", "", "root fact as Type:hash (required)")
	cmd.Flags().StringVar(&opts.Spec, "spec", "", "CUE file or directory with named queries")
	_ = cmd.MarkFlagRequired("root")

	return cmd
}

func runQuery(opts *QueryOptions, text string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	roots, err := parseReferences([]string{opts.Root})
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "invalid --root", err)
	}
	q, err := resolveQuery(opts.Spec, text)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "invalid query", err)
	}
	f.VerboseLog("Query: %s", q)

	s, err := opts.openSession(cmd.Context(), f)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "open store", err)
	}
	defer s.Close()

	paths, err := s.source.Query(cmd.Context(), roots[0], q)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "query", err)
	}
	result := QueryResult{Root: roots[0].String(), Query: q.String(), Paths: make([][]string, len(paths))}
	for i, p := range paths {
		result.Paths[i] = pathStrings(p)
	}
	return f.Success(result)
}

// resolveQuery looks text up in the document at specPath when one is
// given, and otherwise parses it.
func resolveQuery(specPath, text string) (query.Query, error) {
	if specPath != "" {
		doc, err := LoadDocument(specPath)
		if err != nil {
			return query.Query{}, err
		}
		q, err := doc.Query(text)
		if err == nil {
			return q, nil
		}
		if !errors.Is(err, compiler.ErrUnknownName) {
			return query.Query{}, err
		}
	}
	q, err := query.Parse(text)
	if err != nil {
		return query.Query{}, err
	}
	if err := query.Validate(q); err != nil {
		return query.Query{}, err
	}
	return q, nil
}
