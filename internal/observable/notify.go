package observable

import (
	"context"
	"fmt"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/inverse"
	"github.com/roach88/factgraph/internal/matcher"
	"github.com/roach88/factgraph/internal/metrics"
	"github.com/roach88/factgraph/internal/storage"
)

// notify runs every rule and specification listener keyed by rec's type.
// view hides the facts of the batch that come after rec.
// ctx carries the save scope and is what callbacks receive.
func (s *Source) notify(ctx context.Context, view visibility, rec fact.Record) {
	for _, snap := range s.registry.ruleSnapshots(rec.Type()) {
		s.notifyRule(ctx, view, rec, snap)
	}
	for _, snap := range s.registry.specSnapshots(rec.Type()) {
		s.notifySpecification(ctx, view, rec, snap)
	}
}

func (s *Source) notifyRule(ctx context.Context, view visibility, rec fact.Record, snap ruleSnapshot) {
	var live []*pathListener
	byRoot := map[fact.Reference][]*pathListener{}
	for _, l := range snap.listeners {
		if !l.disposed.Load() {
			live = append(live, l)
			byRoot[l.root] = append(byRoot[l.root], l)
		}
	}
	if len(live) == 0 {
		return
	}
	rule := snap.rule
	ref := rec.Reference()

	backs, err := matcher.Query(ctx, view, ref, rule.Affected)
	if err != nil {
		s.failAll(live, rec.Type(), metrics.StageAffected, err)
		return
	}
	if rule.Guard != nil {
		rows, err := matcher.Query(ctx, view, ref, *rule.Guard)
		if err != nil {
			s.failAll(live, rec.Type(), metrics.StageGuard, err)
			return
		}
		if len(rows) == 0 {
			return
		}
	}

	delivered := map[string]struct{}{}
	for _, back := range backs {
		root, ok := back.Last()
		listeners := byRoot[root]
		if !ok || len(listeners) == 0 {
			continue
		}
		added, removed, stage, err := s.delta(ctx, view, rule, root, reversedPrefix(back, ref))
		if err != nil {
			s.failAll(listeners, rec.Type(), stage, err)
			continue
		}
		for _, path := range added {
			if !once(delivered, "+", path) {
				continue
			}
			for _, l := range listeners {
				s.deliver(l.id, rec.Type(), metrics.StageHandler, func() error { return l.onAdded(ctx, path) })
				s.metrics.Notifications.WithLabelValues(metrics.KindAdded).Inc()
			}
		}
		for _, path := range removed {
			if !once(delivered, "-", path) {
				continue
			}
			for _, l := range listeners {
				if l.onRemoved == nil {
					continue
				}
				s.deliver(l.id, rec.Type(), metrics.StageHandler, func() error { return l.onRemoved(ctx, path) })
				s.metrics.Notifications.WithLabelValues(metrics.KindRemoved).Inc()
			}
		}
	}
}

// reversedPrefix turns an affected walk (new fact's predecessors back to
// the root, root last) into the path from the root's first successor down
// to the new fact.
func reversedPrefix(back storage.FactPath, newFact fact.Reference) storage.FactPath {
	prefix := make(storage.FactPath, 0, len(back))
	for i := len(back) - 2; i >= 0; i-- {
		prefix = append(prefix, back[i])
	}
	return append(prefix, newFact)
}

// delta computes the paths rule adds and removes for one confirmed root.
// Delivered paths start with the root.
func (s *Source) delta(ctx context.Context, view visibility, rule inverse.Inverse, root fact.Reference, prefix storage.FactPath) (added, removed []storage.FactPath, stage string, err error) {
	newFact := prefix[len(prefix)-1]
	if rule.Recheck == nil {
		rows, err := matcher.Query(ctx, view, newFact, *rule.Added)
		if err != nil {
			return nil, nil, metrics.StageAdded, err
		}
		for _, row := range rows {
			added = append(added, concat(root, prefix, row))
		}
		return added, nil, "", nil
	}

	stage = metrics.StageAdded
	cut := rule.Backtrack
	if rule.Removed != nil {
		stage = metrics.StageRemoved
		cut = rule.Removed.PathLength()
	}
	if cut > len(prefix) {
		return nil, nil, stage, fmt.Errorf("rule backtracks %d facts over a path of %d", cut, len(prefix))
	}
	trimmed := prefix[:len(prefix)-cut]
	pivot := root
	if len(trimmed) > 0 {
		pivot = trimmed[len(trimmed)-1]
	}

	after, err := matcher.Query(ctx, view, pivot, *rule.Recheck)
	if err != nil {
		return nil, nil, stage, err
	}
	before, err := matcher.Query(ctx, view.without(newFact), pivot, *rule.Recheck)
	if err != nil {
		return nil, nil, stage, err
	}
	if rule.Added != nil {
		for _, row := range difference(after, before) {
			added = append(added, concat(root, trimmed, row))
		}
	}
	if rule.Removed != nil {
		for _, row := range difference(before, after) {
			removed = append(removed, concat(root, trimmed, row))
		}
	}
	return added, removed, stage, nil
}

// difference returns the rows of a that are not in b, keeping a's order.
func difference(a, b []storage.FactPath) []storage.FactPath {
	in := make(map[string]struct{}, len(b))
	for _, row := range b {
		in[row.String()] = struct{}{}
	}
	var out []storage.FactPath
	for _, row := range a {
		if _, ok := in[row.String()]; !ok {
			out = append(out, row)
		}
	}
	return out
}

func concat(root fact.Reference, prefix, row storage.FactPath) storage.FactPath {
	out := make(storage.FactPath, 0, 1+len(prefix)+len(row))
	out = append(out, root)
	out = append(out, prefix...)
	return append(out, row...)
}

func once(seen map[string]struct{}, sign string, path storage.FactPath) bool {
	key := sign + path.String()
	if _, dup := seen[key]; dup {
		return false
	}
	seen[key] = struct{}{}
	return true
}

func (s *Source) notifySpecification(ctx context.Context, view visibility, rec fact.Record, snap specSnapshot) {
	var live []*specListener
	for _, l := range snap.listeners {
		if !l.disposed.Load() {
			live = append(live, l)
		}
	}
	if len(live) == 0 {
		return
	}
	results, err := matcher.Read(ctx, view, []fact.Reference{rec.Reference()}, snap.spec)
	if err != nil {
		for _, l := range live {
			s.failure(l.id, rec.Type(), metrics.StageRead, err)
		}
		return
	}
	for _, l := range live {
		s.deliver(l.id, rec.Type(), metrics.StageHandler, func() error { return l.onResult(ctx, results) })
		s.metrics.Notifications.WithLabelValues(metrics.KindResult).Inc()
	}
}

// deliver runs one callback, converting a panic into a failure.
func (s *Source) deliver(id, factType, stage string, fn func() error) {
	s.delivering.Add(1)
	defer s.delivering.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			s.failure(id, factType, stage, fmt.Errorf("listener panic: %v", r))
		}
	}()
	if err := fn(); err != nil {
		s.failure(id, factType, stage, err)
	}
}

func (s *Source) failAll(listeners []*pathListener, factType, stage string, err error) {
	for _, l := range listeners {
		s.failure(l.id, factType, stage, err)
	}
}

func (s *Source) failure(id, factType, stage string, err error) {
	s.metrics.NotificationFailures.WithLabelValues(stage).Inc()
	s.logger.Error("listener notification failed",
		"subscription", id, "fact_type", factType, "stage", stage, "error", err)
}
