package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/factgraph/internal/inverse"
	"github.com/roach88/factgraph/internal/query"
)

// InvertOptions holds flags for the invert command.
type InvertOptions struct {
	*RootOptions
	RootType string
	Spec     string
	Name     string
}

// InverseInfo is the output form of one inverse rule.
type InverseInfo struct {
	AppliedToType string `json:"appliedToType"`
	Affected      string `json:"affected"`
	Added         string `json:"added,omitempty"`
	Removed       string `json:"removed,omitempty"`
	Guard         string `json:"guard,omitempty"`
	Recheck       string `json:"recheck,omitempty"`
	Backtrack     int    `json:"backtrack"`
}

// InvertResult holds the rules compiled for one query.
type InvertResult struct {
	Query    string        `json:"query"`
	Inverses []InverseInfo `json:"inverses"`

	rules []inverse.Inverse
}

// Text implements texter.
func (r InvertResult) Text() string {
	if len(r.rules) == 0 {
		return "no inverses\n"
	}
	return inverse.Describe(r.rules) + "\n"
}

// NewInvertCommand creates the invert command.
func NewInvertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invert [query]",
		Short: "Print the inverse rules of a query or specification",
		Long: `Compile a query, or a single-given specification, into the inverse
rules the notification engine evaluates when a fact is saved.

Examples:
  factgraph invert 'S.list F.type="Task"' --root-type List
  factgraph invert --spec chores.cue --name openTasks`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvert(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RootType, "root-type", "", "type of the root fact")
	cmd.Flags().StringVar(&opts.Spec, "spec", "", "CUE file or directory")
	cmd.Flags().StringVar(&opts.Name, "name", "", "specification or query name in --spec")

	return cmd
}

func runInvert(opts *InvertOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	q, rules, err := opts.compile(args)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "invert", err)
	}

	result := InvertResult{Query: q.String(), Inverses: make([]InverseInfo, len(rules)), rules: rules}
	for i, rule := range rules {
		result.Inverses[i] = InverseInfo{
			AppliedToType: rule.AppliedToType,
			Affected:      rule.Affected.String(),
			Added:         optionalQuery(rule.Added),
			Removed:       optionalQuery(rule.Removed),
			Guard:         optionalQuery(rule.Guard),
			Recheck:       optionalQuery(rule.Recheck),
			Backtrack:     rule.Backtrack,
		}
	}
	return f.Success(result)
}

// compile resolves the query to invert. A named specification is lowered
// through its single given.
func (o *InvertOptions) compile(args []string) (query.Query, []inverse.Inverse, error) {
	if o.Spec != "" && o.Name != "" {
		doc, err := LoadDocument(o.Spec)
		if err != nil {
			return query.Query{}, nil, err
		}
		if spec, err := doc.Specification(o.Name); err == nil {
			q, err := spec.ToQuery()
			if err != nil {
				return query.Query{}, nil, err
			}
			rules, err := inverse.InvertSpecification(spec)
			return q, rules, err
		}
		q, err := doc.Query(o.Name)
		if err != nil {
			return query.Query{}, nil, err
		}
		rules, err := o.invert(q)
		return q, rules, err
	}
	if len(args) == 0 {
		return query.Query{}, nil, errNoQuery
	}
	q, err := resolveQuery(o.Spec, args[0])
	if err != nil {
		return query.Query{}, nil, err
	}
	rules, err := o.invert(q)
	return q, rules, err
}

func (o *InvertOptions) invert(q query.Query) ([]inverse.Inverse, error) {
	if o.RootType != "" {
		return inverse.InvertFrom(o.RootType, q)
	}
	return inverse.Invert(q)
}

func optionalQuery(q *query.Query) string {
	if q == nil {
		return ""
	}
	return q.String()
}
