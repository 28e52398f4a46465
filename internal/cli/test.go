package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/factgraph/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // "match", "updated" or "missing"
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// Text implements texter.
func (r TestResult) Text() string {
	if r.Total == 0 {
		return "No scenarios found.\n"
	}
	var b strings.Builder
	for _, s := range r.Scenarios {
		mark := "✓"
		if !s.Pass {
			mark = "✗"
		}
		suffix := ""
		if s.Golden == "updated" {
			suffix = " (golden updated)"
		}
		fmt.Fprintf(&b, "%s %s%s\n", mark, s.Name, suffix)
		for _, e := range s.Errors {
			for _, line := range strings.Split(e, "\n") {
				fmt.Fprintf(&b, "  %s\n", line)
			}
		}
	}
	fmt.Fprintf(&b, "\n%d passed, %d failed, %d total\n", r.Passed, r.Failed, r.Total)
	return b.String()
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario>...",
		Short: "Run conformance scenarios",
		Long: `Run scenario files through the conformance harness.

Each argument is a scenario file or a directory searched recursively for
.yaml and .yml files. A scenario's trace is compared with golden/<name>.golden
next to the scenario file when that file exists.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  factgraph test ./scenarios
  factgraph test ./scenarios --filter "current-*"
  factgraph test ./scenarios --update`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, paths []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	var files []string
	for _, p := range paths {
		found, err := findScenarioFiles(p, opts.Filter)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeNotFound, "find scenarios", err)
		}
		files = append(files, found...)
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "load config", err)
	}
	logger, err := cfg.Log.Logger(f.GetErrWriter())
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "configure logging", err)
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, file := range files {
		f.VerboseLog("Running %s", file)
		sr := runScenario(cmd, file, opts.Update, harness.WithLogger(logger))
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, sr)
	}

	if err := f.Success(result); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.Total))
	}
	return nil
}

// findScenarioFiles returns path itself when it is a file, or the YAML
// files under it when it is a directory. Golden directories are skipped.
func findScenarioFiles(path, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, p)
		return nil
	})
	return files, err
}

// runScenario loads, runs and golden-checks one scenario file.
func runScenario(cmd *cobra.Command, file string, update bool, opts ...harness.Option) ScenarioResult {
	sr := ScenarioResult{Name: filepath.Base(file), File: file}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("load: %v", err)}
		return sr
	}
	sr.Name = scenario.Name

	result, err := harness.Run(cmd.Context(), scenario, opts...)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("setup: %v", err)}
		return sr
	}
	sr.Pass = result.Pass
	sr.Errors = result.Errors

	goldenPath := goldenFilePath(file)
	trace := []byte(harness.FormatTrace(result.Trace))
	if update {
		if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("golden: %v", err))
			return sr
		}
		if err := os.WriteFile(goldenPath, trace, 0o644); err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("golden: %v", err))
			return sr
		}
		sr.Golden = "updated"
		return sr
	}

	want, err := os.ReadFile(goldenPath)
	if os.IsNotExist(err) {
		sr.Golden = "missing"
		return sr
	}
	if err != nil {
		sr.Pass = false
		sr.Errors = append(sr.Errors, fmt.Sprintf("golden: %v", err))
		return sr
	}
	if !bytes.Equal(want, trace) {
		sr.Pass = false
		sr.Errors = append(sr.Errors, "trace does not match golden file (run with --update to regenerate)")
		return sr
	}
	sr.Golden = "match"
	return sr
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}
