package observable

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/matcher"
	"github.com/roach88/factgraph/internal/metrics"
	"github.com/roach88/factgraph/internal/query"
	"github.com/roach88/factgraph/internal/specification"
	"github.com/roach88/factgraph/internal/storage"
	"github.com/roach88/factgraph/internal/topo"
)

// Store is what a Source decorates: the storage contract plus the point
// lookups rule walks run on. The memory and SQL stores satisfy it, and so
// does Source.
type Store interface {
	storage.Storage
	matcher.Graph
}

// Source persists batches through a Store and notifies listeners. Create
// one per store with NewSource; its listeners belong to it alone.
type Source struct {
	store    Store
	registry *registry

	// saveMu serializes Save, from persistence through the last
	// notification.
	saveMu sync.Mutex
	// delivering counts callbacks in flight.
	delivering atomic.Int32

	ids     IDGenerator
	logger  *slog.Logger
	metrics *metrics.Metrics
}

var _ Store = (*Source)(nil)

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// WithMetrics sets the collectors. Default is unregistered collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Source) { s.metrics = m }
}

// WithIDGenerator sets how subscription and listener ids are made.
// Default is UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Source) { s.ids = g }
}

// NewSource wraps store.
func NewSource(store Store, opts ...Option) *Source {
	s := &Source{
		store:    store,
		registry: newRegistry(),
		ids:      UUIDv7Generator{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	return s
}

// notifyingKey marks contexts handed to listener callbacks.
type notifyingKey struct{}

// saveScope is the state of one outermost Save, shared with the saves its
// callbacks make. It is only touched under the save lock.
type saveScope struct {
	source *Source
	// hidden holds facts written but not yet notified.
	hidden map[fact.Reference]struct{}
	// queue holds batches saved from callbacks, notified after the current
	// batch.
	queue [][]fact.Envelope
}

func (s *Source) scope(ctx context.Context) *saveScope {
	if sc, _ := ctx.Value(notifyingKey{}).(*saveScope); sc != nil && sc.source == s {
		return sc
	}
	return nil
}

// lockSave takes the save lock unless ctx comes from one of this source's
// callbacks, which already run under it.
//
// A callback that saves or subscribes with any other context waits on the
// lock its own save holds and never returns. That cannot be told apart from
// another goroutine saving, so waiting while a callback runs is logged.
func (s *Source) lockSave(ctx context.Context) func() {
	if s.scope(ctx) != nil {
		return func() {}
	}
	if s.delivering.Load() > 0 {
		s.logger.Warn("save waiting for a listener callback to return; a callback must save with the context it was given")
	}
	s.saveMu.Lock()
	return s.saveMu.Unlock
}

// enter returns the scope ctx already carries, or starts one. outer
// reports whether the caller started it and so must drain it.
func (s *Source) enter(ctx context.Context) (context.Context, *saveScope, bool) {
	if sc := s.scope(ctx); sc != nil {
		return ctx, sc, false
	}
	sc := &saveScope{source: s, hidden: map[fact.Reference]struct{}{}}
	return context.WithValue(ctx, notifyingKey{}, sc), sc, true
}

// drain notifies queued batches in order, one fact at a time.
func (s *Source) drain(ctx context.Context, sc *saveScope) {
	for len(sc.queue) > 0 {
		batch := sc.queue[0]
		sc.queue = sc.queue[1:]
		for _, env := range batch {
			delete(sc.hidden, env.Reference())
			s.notify(ctx, sc.view(), env.Fact)
		}
	}
}

func (sc *saveScope) view() visibility {
	return visibility{Graph: sc.source.store, hidden: sc.hidden}
}

// Save orders envelopes so predecessors come first, persists them in one
// store call, and notifies listeners of each newly written fact in order.
// It returns the newly written envelopes in that order.
//
// A batch that references a predecessor neither stored nor in the batch
// fails with *topo.IncompleteError and nothing is written.
//
// A callback may save with the context it was given. That batch is written
// immediately, but it is notified after the batch being notified, and its
// facts stay invisible to rule walks until then. Such a save returns before
// its own listeners run. Callback contexts must not be used from other
// goroutines.
func (s *Source) Save(ctx context.Context, envelopes []fact.Envelope) ([]fact.Envelope, error) {
	unlock := s.lockSave(ctx)
	defer unlock()

	envelopes = storage.Coalesce(envelopes)
	sorted, err := s.sort(ctx, envelopes)
	if err != nil {
		return nil, err
	}

	saved, err := s.store.Save(ctx, sorted)
	if err != nil {
		return nil, fmt.Errorf("save batch: %w", err)
	}
	if len(saved) == 0 {
		return saved, nil
	}

	ctx, sc, outer := s.enter(ctx)
	for _, env := range saved {
		sc.hidden[env.Reference()] = struct{}{}
	}
	sc.queue = append(sc.queue, saved)
	if outer {
		s.drain(ctx, sc)
	}
	return saved, nil
}

// sort seeds a fresh sorter with the predecessors already stored, then
// orders the batch.
func (s *Source) sort(ctx context.Context, envelopes []fact.Envelope) ([]fact.Envelope, error) {
	byRef := make(map[fact.Reference]fact.Envelope, len(envelopes))
	for _, env := range envelopes {
		byRef[env.Reference()] = env
	}
	var external []fact.Reference
	for _, env := range envelopes {
		for _, pred := range env.Fact.AllPredecessors() {
			if _, ok := byRef[pred]; !ok {
				external = append(external, pred)
			}
		}
	}

	sorter := topo.NewSorter[fact.Reference]()
	if len(external) > 0 {
		existing, err := s.store.WhichExist(ctx, fact.Unique(external))
		if err != nil {
			return nil, fmt.Errorf("check predecessors: %w", err)
		}
		for _, ref := range existing {
			sorter.MarkVisited(ref, ref)
		}
	}

	order := sorter.Sort(fact.Records(envelopes), func(_ []fact.Reference, r fact.Record) fact.Reference {
		return r.Reference()
	})
	if err := sorter.Err(); err != nil {
		return nil, err
	}
	sorted := make([]fact.Envelope, len(order))
	for i, ref := range order {
		sorted[i] = byRef[ref]
	}
	return sorted, nil
}

// Query delegates to the store.
func (s *Source) Query(ctx context.Context, start fact.Reference, q query.Query) ([]storage.FactPath, error) {
	return s.store.Query(ctx, start, q)
}

// Read delegates to the store.
func (s *Source) Read(ctx context.Context, given []fact.Reference, spec specification.Specification) ([]storage.ProjectedResult, error) {
	return s.store.Read(ctx, given, spec)
}

// WhichExist delegates to the store.
func (s *Source) WhichExist(ctx context.Context, refs []fact.Reference) ([]fact.Reference, error) {
	return s.store.WhichExist(ctx, refs)
}

// Load delegates to the store.
func (s *Source) Load(ctx context.Context, refs []fact.Reference) ([]fact.Record, error) {
	return s.store.Load(ctx, refs)
}

// Predecessors delegates to the store.
func (s *Source) Predecessors(ctx context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	return s.store.Predecessors(ctx, ref, role)
}

// Successors delegates to the store.
func (s *Source) Successors(ctx context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	return s.store.Successors(ctx, ref, role)
}

// Close closes the store. Listeners stay registered but will not be
// notified again.
func (s *Source) Close() error {
	return s.store.Close()
}
