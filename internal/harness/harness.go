package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/factgraph/internal/compiler"
	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/observable"
	"github.com/roach88/factgraph/internal/query"
	"github.com/roach88/factgraph/internal/specification"
	"github.com/roach88/factgraph/internal/storage"
	"github.com/roach88/factgraph/internal/storage/memory"
	"github.com/roach88/factgraph/internal/storage/sqlstore"
	"github.com/roach88/factgraph/internal/testutil"
)

// Harness is the scenario execution engine. Each run gets a fresh store and
// notification source, and deterministic subscription ids.
type Harness struct {
	source   *observable.Source
	facts    *FactSet
	doc      *compiler.Document
	render   renderer
	logger   *slog.Logger
	scenario *Scenario

	// active maps subscription ids to their dispose func.
	active map[string]func()

	// pending collects callback output until the step that caused it has
	// written its own line.
	pending []string
}

// Option configures a run.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger routes engine and store logs to l. Runs are silent by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Run executes a scenario and returns the result. A returned error means
// the scenario could not be set up; step failures, expectation mismatches
// and failed assertions are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	facts, err := BuildFacts(scenario.Facts)
	if err != nil {
		return nil, fmt.Errorf("failed to build facts: %w", err)
	}
	var doc *compiler.Document
	if scenario.Specifications != "" {
		doc, err = compiler.CompileString(scenario.Name+".cue", scenario.Specifications)
		if err != nil {
			return nil, fmt.Errorf("failed to compile specifications: %w", err)
		}
	}

	store, cleanup, err := openStore(ctx, scenario.Store, o.logger)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	source := observable.NewSource(store,
		observable.WithLogger(o.logger),
		observable.WithIDGenerator(testutil.NewSequentialIDs("sub")),
	)
	h := &Harness{
		source:   source,
		facts:    facts,
		doc:      doc,
		render:   renderer{facts: facts},
		logger:   o.logger,
		scenario: scenario,
		active:   map[string]func(){},
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, step, result); err != nil {
			result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
			break
		}
	}
	for _, dispose := range h.active {
		dispose()
	}

	if scenario.Expect != nil {
		if msg := compareTrace(scenario.Expect, result.Trace); msg != "" {
			result.AddError(msg)
		}
	}
	for _, msg := range EvaluateAssertions(ctx, result, scenario.Assertions, h) {
		result.AddError(msg)
	}
	return result, nil
}

// openStore returns the store a scenario runs against and a func that
// closes it and removes anything it wrote.
func openStore(ctx context.Context, kind string, logger *slog.Logger) (observable.Store, func(), error) {
	if kind != StoreSQLite {
		st := memory.New(memory.WithLogger(logger))
		return st, func() { _ = st.Close() }, nil
	}
	dir, err := os.MkdirTemp("", "factgraph-scenario-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	st, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, filepath.Join(dir, "facts.db"), sqlstore.WithLogger(logger))
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	return st, func() {
		_ = st.Close()
		_ = os.RemoveAll(dir)
	}, nil
}

// executeStep runs one step, writes its line and then whatever the
// listeners delivered while it ran.
func (h *Harness) executeStep(ctx context.Context, step Step, result *Result) error {
	kind, err := step.kind()
	if err != nil {
		return err
	}

	var header string
	switch kind {
	case "save":
		header, err = h.save(ctx, step.Save)
	case "subscribe":
		header, err = "subscribe "+step.Subscribe, h.subscribe(ctx, step.Subscribe)
	case "dispose":
		header, err = "dispose "+step.Dispose, h.dispose(step.Dispose)
	case "read":
		header, err = h.read(ctx, step.Read)
	case "query":
		header, err = h.query(ctx, step.Query)
	}

	if step.Error != "" {
		if err == nil {
			return fmt.Errorf("%s: expected error containing %q, got none", kind, step.Error)
		}
		if !strings.Contains(err.Error(), step.Error) {
			return fmt.Errorf("%s: expected error containing %q, got: %v", kind, step.Error, err)
		}
		result.AddTrace(errorHeader(kind, step) + " => error")
		result.AddTrace(h.flush()...)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	result.AddTrace(header)
	result.AddTrace(h.flush()...)
	h.logger.Debug("step completed", "kind", kind, "line", header)
	return nil
}

// errorHeader names a failed step without any output it would have had.
func errorHeader(kind string, step Step) string {
	switch kind {
	case "save":
		return "save " + strings.Join(step.Save, " ")
	case "subscribe":
		return "subscribe " + step.Subscribe
	case "dispose":
		return "dispose " + step.Dispose
	case "read":
		return fmt.Sprintf("read %s(%s)", step.Read.Specification, strings.Join(step.Read.Given, ", "))
	default:
		return "query " + step.Query.Root
	}
}

func (h *Harness) flush() []string {
	out := h.pending
	h.pending = nil
	return out
}

func (h *Harness) save(ctx context.Context, ids []string) (string, error) {
	envs, err := h.facts.Envelopes(ids...)
	if err != nil {
		return "", err
	}
	saved, err := h.source.Save(ctx, envs)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("save %s (%d new)", strings.Join(ids, " "), len(saved)), nil
}

func (h *Harness) subscription(id string) (SubscriptionDef, error) {
	for _, sub := range h.scenario.Subscriptions {
		if sub.ID == id {
			return sub, nil
		}
	}
	return SubscriptionDef{}, fmt.Errorf("unknown subscription %q", id)
}

func (h *Harness) subscribe(ctx context.Context, id string) error {
	if _, ok := h.active[id]; ok {
		return fmt.Errorf("subscription %q is already active", id)
	}
	def, err := h.subscription(id)
	if err != nil {
		return err
	}

	if def.Listener {
		spec, err := h.specification(def.Specification)
		if err != nil {
			return err
		}
		handle, err := h.source.AddSpecificationListener(spec, func(_ context.Context, rows []storage.ProjectedResult) error {
			h.pending = append(h.pending, fmt.Sprintf("%s => %s", id, h.render.results(rows)))
			return nil
		})
		if err != nil {
			return err
		}
		h.active[id] = func() { h.source.RemoveSpecificationListener(handle) }
		return nil
	}

	root, err := h.facts.Reference(def.Root)
	if err != nil {
		return err
	}
	var obs *observable.Observable
	if def.Specification != "" {
		spec, err := h.specification(def.Specification)
		if err != nil {
			return err
		}
		obs, err = h.source.FromSpecification(root, spec)
		if err != nil {
			return err
		}
	} else {
		q, err := h.resolveQuery(def.Query)
		if err != nil {
			return err
		}
		obs, err = h.source.From(root, q)
		if err != nil {
			return err
		}
	}

	sub, err := obs.Subscribe(ctx,
		func(_ context.Context, path storage.FactPath) error {
			h.pending = append(h.pending, fmt.Sprintf("%s + %s", id, h.render.path(path)))
			return nil
		},
		func(_ context.Context, path storage.FactPath) error {
			h.pending = append(h.pending, fmt.Sprintf("%s - %s", id, h.render.path(path)))
			return nil
		},
	)
	if err != nil {
		return err
	}
	h.active[id] = sub.Dispose
	return nil
}

func (h *Harness) dispose(id string) error {
	dispose, ok := h.active[id]
	if !ok {
		return fmt.Errorf("subscription %q is not active", id)
	}
	dispose()
	delete(h.active, id)
	return nil
}

func (h *Harness) read(ctx context.Context, step *ReadStep) (string, error) {
	spec, err := h.specification(step.Specification)
	if err != nil {
		return "", err
	}
	given := make([]fact.Reference, len(step.Given))
	for i, id := range step.Given {
		if given[i], err = h.facts.Reference(id); err != nil {
			return "", err
		}
	}
	rows, err := h.source.Read(ctx, given, spec)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("read %s(%s) => %s",
		step.Specification, strings.Join(step.Given, ", "), h.render.results(rows)), nil
}

func (h *Harness) query(ctx context.Context, step *QueryStep) (string, error) {
	root, err := h.facts.Reference(step.Root)
	if err != nil {
		return "", err
	}
	q, err := h.resolveQuery(step.Query)
	if err != nil {
		return "", err
	}
	paths, err := h.source.Query(ctx, root, q)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("query %s => %s", step.Root, h.render.paths(paths)), nil
}

func (h *Harness) specification(name string) (specification.Specification, error) {
	if h.doc == nil {
		return specification.Specification{}, fmt.Errorf("specification %q: scenario has no specifications", name)
	}
	return h.doc.Specification(name)
}

// resolveQuery looks text up as a query name first, then parses it.
func (h *Harness) resolveQuery(text string) (query.Query, error) {
	if h.doc != nil {
		if q, err := h.doc.Query(text); err == nil {
			return q, nil
		}
	}
	q, err := query.Parse(text)
	if err != nil {
		return query.Query{}, err
	}
	return q, query.Validate(q)
}

// compareTrace reports the first difference between want and got, or "".
func compareTrace(want, got []string) string {
	for i := 0; i < len(want) || i < len(got); i++ {
		switch {
		case i >= len(got):
			return fmt.Sprintf("trace ended early: line %d: want %q", i+1, want[i])
		case i >= len(want):
			return fmt.Sprintf("unexpected trace line %d: %q", i+1, got[i])
		case want[i] != got[i]:
			return fmt.Sprintf("trace line %d: want %q, got %q", i+1, want[i], got[i])
		}
	}
	return ""
}
