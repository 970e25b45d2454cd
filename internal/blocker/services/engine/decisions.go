package engine

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/trackerblock/internal/blocker/domain"
)

// DecisionKey identifies a lookup within one page. TopHost is the event's top document
// host, which usually equals the page's.
type DecisionKey struct {
	ElementType domain.ElementType
	TopHost     string
	URL         string
}

// Decision is a memoized lookup result. Blocked is not stored; it depends on the
// configuration, not on the lists.
type Decision struct {
	Hit          bool
	ParentDomain string
	Method       domain.DetectionMethod
}

// decisionCache is an LRU-backed DecisionCache with hit, miss and eviction counters.
type decisionCache struct {
	lru       *lru.Cache[DecisionKey, Decision]
	hits      uint64
	misses    uint64
	evictions uint64
}

// disabledCache always misses; used when size <= 0.
type disabledCache struct{}

// NewDecisionCache returns a cache holding up to size decisions, or a disabled
// cache when size <= 0.
func NewDecisionCache(size int) (DecisionCache, error) {
	if size <= 0 {
		return &disabledCache{}, nil
	}
	var dc decisionCache
	cache, err := lru.NewWithEvict(size, func(_ DecisionKey, _ Decision) {
		atomic.AddUint64(&dc.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	dc.lru = cache
	return &dc, nil
}

func (c *decisionCache) Get(key DecisionKey) (Decision, bool) {
	if val, ok := c.lru.Get(key); ok {
		atomic.AddUint64(&c.hits, 1)
		return val, true
	}
	atomic.AddUint64(&c.misses, 1)
	return Decision{}, false
}

func (c *decisionCache) Put(key DecisionKey, d Decision) { c.lru.Add(key, d) }

func (c *decisionCache) Len() int { return c.lru.Len() }

// Purge clears all entries. Evictions are counted via the eviction callback.
func (c *decisionCache) Purge() { c.lru.Purge() }

func (c *decisionCache) Stats() (hits, misses, evictions uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses), atomic.LoadUint64(&c.evictions)
}

func (d *disabledCache) Get(DecisionKey) (Decision, bool) { return Decision{}, false }

func (d *disabledCache) Put(DecisionKey, Decision) {}

func (d *disabledCache) Len() int { return 0 }

func (d *disabledCache) Purge() {}

func (d *disabledCache) Stats() (uint64, uint64, uint64) { return 0, 0, 0 }

var _ DecisionCache = (*decisionCache)(nil)
var _ DecisionCache = (*disabledCache)(nil)
