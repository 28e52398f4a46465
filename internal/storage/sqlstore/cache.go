package sqlstore

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/metrics"
)

// recordCache holds records whose hash has already been verified. Facts are
// immutable, so entries never go stale; they are only evicted.
type recordCache struct {
	arc     *lru.ARCCache
	metrics *metrics.Metrics
}

// newRecordCache returns a cache of size entries, or a disabled cache when
// size is zero.
func newRecordCache(size int, m *metrics.Metrics) (*recordCache, error) {
	c := &recordCache{metrics: m}
	if size <= 0 {
		return c, nil
	}
	arc, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}
	c.arc = arc
	return c, nil
}

func (c *recordCache) get(ref fact.Reference) (fact.Record, bool) {
	if c.arc == nil {
		return fact.Record{}, false
	}
	v, ok := c.arc.Get(ref)
	if !ok {
		c.metrics.CacheLookups.WithLabelValues("miss").Inc()
		return fact.Record{}, false
	}
	c.metrics.CacheLookups.WithLabelValues("hit").Inc()
	return v.(fact.Record), true
}

func (c *recordCache) add(r fact.Record) {
	if c.arc == nil {
		return
	}
	c.arc.Add(r.Reference(), r)
}

func (c *recordCache) len() int {
	if c.arc == nil {
		return 0
	}
	return c.arc.Len()
}
