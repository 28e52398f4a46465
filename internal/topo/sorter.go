// Package topo orders batches of facts so that every fact is processed after
// all of its predecessors.
package topo

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/factgraph/internal/fact"
)

// FoldFunc computes the value of f from the already-computed values of its
// direct predecessors, given in the order of f.AllPredecessors().
type FoldFunc[T any] func(predecessors []T, f fact.Record) T

// Sorter folds facts in dependency order. State persists between Sort
// calls: a fact whose predecessors have not arrived yet waits and is folded
// by the call that supplies its last missing predecessor.
//
// A Sorter is not safe for concurrent use.
type Sorter[T any] struct {
	visited map[fact.Reference]T
	// waiting maps an unresolved predecessor to the facts blocked on it.
	waiting map[fact.Reference][]fact.Record
}

// NewSorter returns an empty Sorter.
func NewSorter[T any]() *Sorter[T] {
	return &Sorter[T]{
		visited: make(map[fact.Reference]T),
		waiting: make(map[fact.Reference][]fact.Record),
	}
}

// MarkVisited records refs as already folded to value, so facts that depend
// on them (for example facts already in storage) are not held back.
func (s *Sorter[T]) MarkVisited(value T, refs ...fact.Reference) {
	for _, ref := range refs {
		s.visited[ref] = value
	}
}

// Visited reports whether ref has been folded or marked.
func (s *Sorter[T]) Visited(ref fact.Reference) bool {
	_, ok := s.visited[ref]
	return ok
}

// Sort folds every fact of the batch whose dependencies are satisfied and
// returns the values in processing order. Facts already visited are
// skipped; a fact repeated within the batch is folded once.
func (s *Sorter[T]) Sort(facts []fact.Record, fold FoldFunc[T]) []T {
	var results []T
	queue := slices.Clone(facts)
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		ref := f.Reference()
		if _, done := s.visited[ref]; done {
			continue
		}

		preds := f.AllPredecessors()
		var outstanding []fact.Reference
		for _, p := range preds {
			if _, ok := s.visited[p]; !ok && !slices.Contains(outstanding, p) {
				outstanding = append(outstanding, p)
			}
		}
		if len(outstanding) > 0 {
			for _, p := range outstanding {
				if !containsFact(s.waiting[p], ref) {
					s.waiting[p] = append(s.waiting[p], f)
				}
			}
			continue
		}

		values := make([]T, len(preds))
		for i, p := range preds {
			values[i] = s.visited[p]
		}
		v := fold(values, f)
		s.visited[ref] = v
		results = append(results, v)

		if blocked, ok := s.waiting[ref]; ok {
			delete(s.waiting, ref)
			for _, b := range blocked {
				if !containsFact(queue, b.Reference()) {
					queue = append(queue, b)
				}
			}
		}
	}
	return results
}

// Finished reports whether no fact is still waiting on a predecessor.
func (s *Sorter[T]) Finished() bool {
	return len(s.waiting) == 0
}

// Waiting returns the predecessors that blocked facts are waiting on,
// sorted by reference.
func (s *Sorter[T]) Waiting() []fact.Reference {
	refs := make([]fact.Reference, 0, len(s.waiting))
	for ref := range s.waiting {
		refs = append(refs, ref)
	}
	slices.SortFunc(refs, fact.Compare)
	return refs
}

// Blocked returns the facts that are still waiting, sorted by reference.
func (s *Sorter[T]) Blocked() []fact.Reference {
	seen := make(map[fact.Reference]struct{})
	for _, facts := range s.waiting {
		for _, f := range facts {
			seen[f.Reference()] = struct{}{}
		}
	}
	refs := make([]fact.Reference, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}
	slices.SortFunc(refs, fact.Compare)
	return refs
}

// Err returns an IncompleteError when facts are still waiting.
func (s *Sorter[T]) Err() error {
	if s.Finished() {
		return nil
	}
	return &IncompleteError{Missing: s.Waiting(), Blocked: s.Blocked()}
}

func containsFact(facts []fact.Record, ref fact.Reference) bool {
	return slices.ContainsFunc(facts, func(f fact.Record) bool { return f.Reference() == ref })
}

// IncompleteError reports a batch in which some facts could not be ordered
// because a predecessor was never supplied (or the batch is cyclic).
type IncompleteError struct {
	// Missing are the unresolved predecessors.
	Missing []fact.Reference
	// Blocked are the facts waiting on them.
	Blocked []fact.Reference
}

func (e *IncompleteError) Error() string {
	keys := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		keys[i] = m.Key()
	}
	return fmt.Sprintf("incomplete batch: %d fact(s) waiting on missing predecessor(s) %s",
		len(e.Blocked), strings.Join(keys, ", "))
}

// IsIncomplete reports whether err wraps an IncompleteError.
func IsIncomplete(err error) bool {
	var ie *IncompleteError
	return errors.As(err, &ie)
}
