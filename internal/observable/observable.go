package observable

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/inverse"
	"github.com/roach88/factgraph/internal/matcher"
	"github.com/roach88/factgraph/internal/metrics"
	"github.com/roach88/factgraph/internal/query"
	"github.com/roach88/factgraph/internal/specification"
	"github.com/roach88/factgraph/internal/storage"
)

const (
	listenerKindPath = "path"
	listenerKindSpec = "specification"
)

// Observable is a query bound to a root, compiled to inverse rules once and
// ready to be subscribed any number of times.
type Observable struct {
	source *Source
	root   fact.Reference
	query  query.Query
	rules  []inverse.Inverse
}

// From compiles q walked from root. The query must have at least one join
// and every successor join must name its type.
func (s *Source) From(root fact.Reference, q query.Query) (*Observable, error) {
	rules, err := inverse.InvertFrom(root.Type, q)
	if err != nil {
		return nil, err
	}
	return &Observable{source: s, root: root, query: q, rules: rules}, nil
}

// FromSpecification lowers a linear single-given specification and binds
// it to root, which must have the given's type.
func (s *Source) FromSpecification(root fact.Reference, spec specification.Specification) (*Observable, error) {
	if err := spec.RequireSingleGiven(); err != nil {
		return nil, err
	}
	if root.Type != spec.Given[0].Type {
		return nil, fmt.Errorf("root %s does not have the given type %s", root, spec.Given[0].Type)
	}
	q, err := spec.ToQuery()
	if err != nil {
		return nil, err
	}
	return s.From(root, q)
}

// Root returns the bound root.
func (o *Observable) Root() fact.Reference { return o.root }

// Query returns the walked query.
func (o *Observable) Query() query.Query { return o.query }

// Rules returns the compiled inverse rules.
func (o *Observable) Rules() []inverse.Inverse {
	return append([]inverse.Inverse(nil), o.rules...)
}

// Subscription is a live registration. Dispose it to stop delivery; a
// subscription that is never disposed is never released.
type Subscription struct {
	id       string
	source   *Source
	disposed atomic.Bool
	once     sync.Once
	entries  []subscriptionEntry
}

type subscriptionEntry struct {
	key      ruleKey
	listener *pathListener
}

// ID returns the subscription id used in logs.
func (sub *Subscription) ID() string { return sub.id }

// Subscribe registers onAdded and the optional onRemoved, then delivers
// every current result path to onAdded. Registration and the initial load
// run under the save lock, so no write falls between them.
func (o *Observable) Subscribe(ctx context.Context, onAdded, onRemoved PathFunc) (*Subscription, error) {
	if onAdded == nil {
		return nil, errors.New("subscribe: onAdded is required")
	}
	s := o.source
	unlock := s.lockSave(ctx)
	defer unlock()
	ctx, sc, outer := s.enter(ctx)

	sub := &Subscription{id: s.ids.Generate(), source: s}
	for _, rule := range o.rules {
		l := &pathListener{
			id:        sub.id,
			root:      o.root,
			onAdded:   onAdded,
			onRemoved: onRemoved,
			disposed:  &sub.disposed,
		}
		sub.entries = append(sub.entries, subscriptionEntry{key: s.registry.addRule(rule, l), listener: l})
	}
	s.metrics.Listeners.WithLabelValues(listenerKindPath).Inc()

	paths, err := matcher.Query(ctx, sc.view(), o.root, o.query)
	if err != nil {
		sub.Dispose()
		return nil, fmt.Errorf("initial load: %w", err)
	}
	for _, p := range paths {
		full := withRoot(o.root, p)
		s.deliver(sub.id, "", metrics.StageHandler, func() error { return onAdded(ctx, full) })
		s.metrics.Notifications.WithLabelValues(metrics.KindAdded).Inc()
	}
	s.logger.Debug("subscribed", "subscription", sub.id, "root", o.root.String(),
		"query", o.query.String(), "rules", len(o.rules), "initial", len(paths))
	if outer {
		s.drain(ctx, sc)
	}
	return sub, nil
}

// Dispose unregisters the subscription. Safe to call more than once. A
// notification already running may still deliver one callback.
func (sub *Subscription) Dispose() {
	sub.once.Do(func() {
		sub.disposed.Store(true)
		for _, e := range sub.entries {
			sub.source.registry.removeRule(e.key, e.listener)
		}
		sub.source.metrics.Listeners.WithLabelValues(listenerKindPath).Dec()
		sub.source.logger.Debug("disposed", "subscription", sub.id)
	})
}

// ListenerHandle identifies a specification listener.
type ListenerHandle struct {
	id       string
	key      specKey
	listener *specListener
	once     sync.Once
}

// ID returns the listener id used in logs.
func (h *ListenerHandle) ID() string { return h.id }

// AddSpecificationListener calls onResult with Read([f], spec) for every
// newly saved fact f of the given's type. spec must have exactly one given.
func (s *Source) AddSpecificationListener(spec specification.Specification, onResult ResultFunc) (*ListenerHandle, error) {
	if onResult == nil {
		return nil, errors.New("add specification listener: onResult is required")
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := spec.RequireSingleGiven(); err != nil {
		return nil, err
	}
	l := &specListener{id: s.ids.Generate(), onResult: onResult}
	key := s.registry.addSpec(spec, l)
	s.metrics.Listeners.WithLabelValues(listenerKindSpec).Inc()
	return &ListenerHandle{id: l.id, key: key, listener: l}, nil
}

// RemoveSpecificationListener unregisters h. Safe to call more than once.
func (s *Source) RemoveSpecificationListener(h *ListenerHandle) {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.listener.disposed.Store(true)
		s.registry.removeSpec(h.key, h.listener)
		s.metrics.Listeners.WithLabelValues(listenerKindSpec).Dec()
	})
}

func withRoot(root fact.Reference, path storage.FactPath) storage.FactPath {
	full := make(storage.FactPath, 0, len(path)+1)
	full = append(full, root)
	return append(full, path...)
}
