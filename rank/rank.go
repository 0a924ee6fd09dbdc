// Package rank provides the bounded sorted collections that accumulate
// and prune nearest-neighbor answers during search. The threshold
// distance of a full collection is the pruning radius handed back to the
// search algorithm.
//
// Collections are not safe for concurrent use; a query evaluation owns
// its collection.
package rank

import (
	"math"
	"sort"
	"strings"

	"github.com/hupe1980/metrigo/model"
)

// RankedObject pairs an object with its distance from the query target.
type RankedObject struct {
	Object   model.Object
	Distance float32
}

// compare orders by ascending distance with a deterministic tie-break on
// object ID.
func compare(a, b *RankedObject) int {
	switch {
	case a.Distance < b.Distance:
		return -1
	case a.Distance > b.Distance:
		return 1
	default:
		return strings.Compare(a.Object.ID(), b.Object.ID())
	}
}

// SortedCollection is a bounded sorted multiset of RankedObjects,
// ascending by distance. When full, adding a closer element evicts the
// current maximum.
type SortedCollection struct {
	capacity int // <= 0 means unbounded
	items    []*RankedObject
}

// NewSortedCollection creates a collection holding at most capacity
// elements; capacity <= 0 means unbounded.
func NewSortedCollection(capacity int) *SortedCollection {
	return &SortedCollection{capacity: capacity}
}

// Add inserts obj under distance unless the collection is full and the
// distance is not below the threshold. Reports whether the element was
// retained at all (it may still be evicted by later adds).
func (c *SortedCollection) Add(obj model.Object, distance float32) bool {
	added, _ := c.insert(&RankedObject{Object: obj, Distance: distance})
	return added
}

// insert binary-search-inserts r (after equal elements) and evicts the
// maximum if the capacity is exceeded, returning it.
func (c *SortedCollection) insert(r *RankedObject) (added bool, evicted *RankedObject) {
	if c.Full() && r.Distance >= c.ThresholdDistance() {
		return false, nil
	}

	pos := sort.Search(len(c.items), func(j int) bool {
		return compare(c.items[j], r) > 0
	})
	c.items = append(c.items, nil)
	copy(c.items[pos+1:], c.items[pos:])
	c.items[pos] = r

	if c.capacity > 0 && len(c.items) > c.capacity {
		evicted = c.items[len(c.items)-1]
		c.items[len(c.items)-1] = nil
		c.items = c.items[:c.capacity]
	}
	return true, evicted
}

// Len returns the number of retained elements.
func (c *SortedCollection) Len() int { return len(c.items) }

// Full reports whether the collection reached its capacity.
func (c *SortedCollection) Full() bool {
	return c.capacity > 0 && len(c.items) >= c.capacity
}

// ThresholdDistance returns the pruning radius: the distance of the
// current maximum when full, +Inf otherwise.
func (c *SortedCollection) ThresholdDistance() float32 {
	if !c.Full() {
		return float32(math.Inf(1))
	}
	return c.items[len(c.items)-1].Distance
}

// Items returns the retained elements in ascending distance order. The
// returned slice is the collection's own; treat it as read-only.
func (c *SortedCollection) Items() []*RankedObject { return c.items }

// First returns the closest element, or nil when empty.
func (c *SortedCollection) First() *RankedObject {
	if len(c.items) == 0 {
		return nil
	}
	return c.items[0]
}

// Last returns the farthest retained element, or nil when empty.
func (c *SortedCollection) Last() *RankedObject {
	if len(c.items) == 0 {
		return nil
	}
	return c.items[len(c.items)-1]
}
