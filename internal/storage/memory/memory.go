// Package memory is an in-process fact store. A batch is applied under one
// write lock, and reads evaluate under one read lock, so a reader sees
// either all of a batch or none of it.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/matcher"
	"github.com/roach88/factgraph/internal/metrics"
	"github.com/roach88/factgraph/internal/query"
	"github.com/roach88/factgraph/internal/specification"
	"github.com/roach88/factgraph/internal/storage"
)

const storeLabel = "memory"

type entry struct {
	record     fact.Record
	signatures []fact.Signature
	seq        int64
}

type edgeKey struct {
	predecessor fact.Reference
	role        string
}

// Store holds facts in maps guarded by a RWMutex.
type Store struct {
	mu         sync.RWMutex
	facts      map[fact.Reference]*entry
	successors map[edgeKey][]fact.Reference
	clock      *storage.Clock
	closed     bool

	logger  *slog.Logger
	metrics *metrics.Metrics
}

var (
	_ storage.Storage = (*Store)(nil)
	_ matcher.Graph   = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the collectors. Default is unregistered collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		facts:      map[fact.Reference]*entry{},
		successors: map[edgeKey][]fact.Reference{},
		clock:      storage.NewClockAt(0),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	return s
}

// Save stores the batch atomically. Every predecessor must be stored or in
// the batch; otherwise nothing is written.
func (s *Store) Save(ctx context.Context, envelopes []fact.Envelope) ([]fact.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	started := time.Now()
	envelopes = storage.Coalesce(envelopes)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	err := storage.CheckPredecessors(fact.Records(envelopes), func(ref fact.Reference) (bool, error) {
		_, ok := s.facts[ref]
		return ok, nil
	})
	if err != nil {
		return nil, err
	}

	var saved []fact.Envelope
	for _, env := range envelopes {
		ref := env.Reference()
		if existing, ok := s.facts[ref]; ok {
			existing.signatures = fact.MergeSignatures(existing.signatures, env.Signatures)
			continue
		}
		s.facts[ref] = &entry{record: env.Fact, signatures: env.Signatures, seq: s.clock.Next()}
		for _, role := range env.Fact.Roles() {
			for _, pred := range env.Fact.PredecessorsOf(role) {
				k := edgeKey{predecessor: pred, role: role}
				s.successors[k] = append(s.successors[k], ref)
			}
		}
		saved = append(saved, env)
	}

	s.metrics.ObserveSave(storeLabel, len(saved), started)
	s.logger.Debug("saved batch", "received", len(envelopes), "saved", len(saved))
	return saved, nil
}

// Query evaluates q from start under a read lock.
func (s *Store) Query(ctx context.Context, start fact.Reference, q query.Query) ([]storage.FactPath, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	return matcher.Query(ctx, view{s}, start, q)
}

// Read evaluates spec from given under a read lock.
func (s *Store) Read(ctx context.Context, given []fact.Reference, spec specification.Specification) ([]storage.ProjectedResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	return matcher.Read(ctx, view{s}, given, spec)
}

// WhichExist returns the stored subset of refs.
func (s *Store) WhichExist(ctx context.Context, refs []fact.Reference) ([]fact.Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	var out []fact.Reference
	for _, ref := range refs {
		if _, ok := s.facts[ref]; ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

// Load returns the records for refs.
func (s *Store) Load(ctx context.Context, refs []fact.Reference) ([]fact.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	return view{s}.Load(ctx, refs)
}

// Predecessors returns the references ref holds under role.
func (s *Store) Predecessors(ctx context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s}.Predecessors(ctx, ref, role)
}

// Successors returns the facts referencing ref under role in insertion
// order.
func (s *Store) Successors(ctx context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s}.Successors(ctx, ref, role)
}

// Signatures returns the signatures stored for ref.
func (s *Store) Signatures(ref fact.Reference) ([]fact.Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.facts[ref]
	if !ok {
		return nil, &storage.NotFoundError{Ref: ref}
	}
	return append([]fact.Signature(nil), e.signatures...), nil
}

// Len returns the number of stored facts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.facts)
}

// Close marks the store closed. Further calls fail with storage.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// view reads the maps of a store whose lock the caller holds.
type view struct {
	s *Store
}

func (v view) Load(_ context.Context, refs []fact.Reference) ([]fact.Record, error) {
	out := make([]fact.Record, len(refs))
	for i, ref := range refs {
		e, ok := v.s.facts[ref]
		if !ok {
			return nil, &storage.NotFoundError{Ref: ref}
		}
		out[i] = e.record
	}
	return out, nil
}

func (v view) Predecessors(_ context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	e, ok := v.s.facts[ref]
	if !ok {
		return nil, &storage.NotFoundError{Ref: ref}
	}
	return e.record.PredecessorsOf(role), nil
}

func (v view) Successors(_ context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	return append([]fact.Reference(nil), v.s.successors[edgeKey{predecessor: ref, role: role}]...), nil
}
