package observable

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/inverse"
	"github.com/roach88/factgraph/internal/specification"
	"github.com/roach88/factgraph/internal/storage"
)

// PathFunc receives one added or removed result path.
type PathFunc func(ctx context.Context, path storage.FactPath) error

// ResultFunc receives the fresh results of a specification listener.
type ResultFunc func(ctx context.Context, results []storage.ProjectedResult) error

// ruleKey groups path listeners that share an inverse rule.
type ruleKey struct {
	factType  string
	signature string
}

// specKey groups specification listeners that share a specification.
type specKey struct {
	givenType string
	key       string
}

type pathListener struct {
	id        string
	root      fact.Reference
	onAdded   PathFunc
	onRemoved PathFunc
	disposed  *atomic.Bool
}

type specListener struct {
	id       string
	onResult ResultFunc
	disposed atomic.Bool
}

type ruleBucket struct {
	rule      inverse.Inverse
	listeners []*pathListener
}

type specBucket struct {
	spec      specification.Specification
	listeners []*specListener
}

// registry holds every listener of one Source. Buckets are shared by all
// listeners with the same key and pruned when their last listener goes.
type registry struct {
	mu    sync.RWMutex
	rules map[ruleKey]*ruleBucket
	specs map[specKey]*specBucket
}

func newRegistry() *registry {
	return &registry{
		rules: map[ruleKey]*ruleBucket{},
		specs: map[specKey]*specBucket{},
	}
}

func (r *registry) addRule(rule inverse.Inverse, l *pathListener) ruleKey {
	key := ruleKey{factType: rule.AppliedToType, signature: rule.Signature()}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rules[key]
	if !ok {
		b = &ruleBucket{rule: rule}
		r.rules[key] = b
	}
	b.listeners = append(b.listeners, l)
	return key
}

func (r *registry) removeRule(key ruleKey, l *pathListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rules[key]
	if !ok {
		return
	}
	b.listeners = slices.DeleteFunc(b.listeners, func(x *pathListener) bool { return x == l })
	if len(b.listeners) == 0 {
		delete(r.rules, key)
	}
}

func (r *registry) addSpec(spec specification.Specification, l *specListener) specKey {
	key := specKey{givenType: spec.Given[0].Type, key: spec.Key()}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.specs[key]
	if !ok {
		b = &specBucket{spec: spec}
		r.specs[key] = b
	}
	b.listeners = append(b.listeners, l)
	return key
}

func (r *registry) removeSpec(key specKey, l *specListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.specs[key]
	if !ok {
		return
	}
	b.listeners = slices.DeleteFunc(b.listeners, func(x *specListener) bool { return x == l })
	if len(b.listeners) == 0 {
		delete(r.specs, key)
	}
}

type ruleSnapshot struct {
	key       ruleKey
	rule      inverse.Inverse
	listeners []*pathListener
}

// ruleSnapshots copies the buckets for factType, ordered by signature.
// Listeners added after the copy may or may not see the current fact.
func (r *registry) ruleSnapshots(factType string) []ruleSnapshot {
	r.mu.RLock()
	var out []ruleSnapshot
	for key, b := range r.rules {
		if key.factType == factType {
			out = append(out, ruleSnapshot{key: key, rule: b.rule, listeners: slices.Clone(b.listeners)})
		}
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b ruleSnapshot) int { return cmp.Compare(a.key.signature, b.key.signature) })
	return out
}

type specSnapshot struct {
	key       specKey
	spec      specification.Specification
	listeners []*specListener
}

func (r *registry) specSnapshots(factType string) []specSnapshot {
	r.mu.RLock()
	var out []specSnapshot
	for key, b := range r.specs {
		if key.givenType == factType {
			out = append(out, specSnapshot{key: key, spec: b.spec, listeners: slices.Clone(b.listeners)})
		}
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b specSnapshot) int { return cmp.Compare(a.key.key, b.key.key) })
	return out
}

// size returns the number of buckets and listeners.
func (r *registry) size() (buckets, listeners int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.rules {
		buckets++
		listeners += len(b.listeners)
	}
	for _, b := range r.specs {
		buckets++
		listeners += len(b.listeners)
	}
	return buckets, listeners
}
