package engine

import (
	"github.com/haukened/trackerblock/internal/blocker/domain"
)

// Host is the page-side receiver of engine messages.
type Host interface {
	Post(msg domain.HostMessage) error
}

// TrackerDirectory resolves a request host to the company operating it.
type TrackerDirectory interface {
	ResolveParent(host string) (domain.Tracker, bool)
}

// ListSource supplies unescaped filter list text.
type ListSource interface {
	Raw(kind domain.ListKind) string
}

// ParsedCache stores serialized compiled lists by name.
type ParsedCache interface {
	Get(name string) (string, bool)
	Put(name, data string)
	Remove(name string)
	Ready(names ...string) bool
}

// DecisionCache memoizes detection lookups for one page.
type DecisionCache interface {
	Get(key DecisionKey) (Decision, bool)
	Put(key DecisionKey, d Decision)
	Len() int
	Purge()
	Stats() (hits, misses, evictions uint64)
}
