package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/harness"
)

// SaveResult lists the facts a save persisted.
type SaveResult struct {
	Saved   []string `json:"saved"`
	Skipped int      `json:"skipped"`
}

// Text implements texter.
func (r SaveResult) Text() string {
	var b strings.Builder
	for _, ref := range r.Saved {
		fmt.Fprintln(&b, ref)
	}
	fmt.Fprintf(&b, "%d saved, %d already stored\n", len(r.Saved), r.Skipped)
	return b.String()
}

// NewSaveCommand creates the save command.
func NewSaveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "save <fact-file>...",
		Short: "Save facts from YAML or JSON files",
		Long: `Save facts to the configured store.

A YAML file holds a facts list whose entries name each other by local id:

  facts:
    - id: alice
      type: User
      fields: {publicKey: alice}
    - id: chores
      type: List
      fields: {name: chores}
      predecessors: {owner: alice}

A JSON file holds an array of envelopes; their hashes are verified.
All files are saved as one batch.

Example:
  factgraph save facts.yaml --driver sqlite --dsn chores.db`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSave(rootOpts, args, cmd)
		},
	}
}

func runSave(opts *RootOptions, files []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	var envelopes []fact.Envelope
	for _, file := range files {
		envs, err := harness.LoadFactFile(file)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeInput, "load facts", err)
		}
		f.VerboseLog("Loaded %d fact(s) from %s", len(envs), file)
		envelopes = append(envelopes, envs...)
	}

	s, err := opts.openSession(cmd.Context(), f)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "open store", err)
	}
	defer s.Close()

	saved, err := s.source.Save(cmd.Context(), envelopes)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "save facts", err)
	}

	result := SaveResult{Saved: make([]string, len(saved))}
	for i, env := range saved {
		result.Saved[i] = env.Reference().String()
	}
	result.Skipped = len(fact.Unique(referencesOf(envelopes))) - len(saved)
	return f.Success(result)
}

func referencesOf(envs []fact.Envelope) []fact.Reference {
	refs := make([]fact.Reference, len(envs))
	for i, env := range envs {
		refs[i] = env.Reference()
	}
	return refs
}
