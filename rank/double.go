package rank

import (
	"math"

	"github.com/hupe1980/metrigo/model"
)

// RerankFunc derives the sort distance of an element from the object and
// its original distance.
type RerankFunc func(obj model.Object, originalDistance float32) float32

// DoubleSortedCollection is the re-ranking variant of SortedCollection:
// elements are ordered by a transformed distance, while the original
// distance is kept in a side table so the pruning threshold stays correct
// with respect to the true metric.
//
// The threshold object — the retained element with maximal original
// distance — is cached; it is re-found by a linear scan only when an
// eviction removes it.
type DoubleSortedCollection struct {
	coll   *SortedCollection
	rerank RerankFunc

	original  map[*RankedObject]float32
	threshold *RankedObject
}

// NewDoubleSortedCollection creates a re-ranking collection with the
// given capacity (<= 0 unbounded) and transformation.
func NewDoubleSortedCollection(capacity int, rerank RerankFunc) *DoubleSortedCollection {
	return &DoubleSortedCollection{
		coll:     NewSortedCollection(capacity),
		rerank:   rerank,
		original: make(map[*RankedObject]float32),
	}
}

// Add inserts obj under its transformed distance and records the
// original distance in the side table. Reports whether the element was
// retained.
func (d *DoubleSortedCollection) Add(obj model.Object, originalDistance float32) bool {
	elem := &RankedObject{
		Object:   obj,
		Distance: d.rerank(obj, originalDistance),
	}

	added, evicted := d.coll.insert(elem)
	if !added {
		return false
	}

	d.original[elem] = originalDistance
	if evicted != nil {
		if evicted == d.threshold {
			d.threshold = nil
		}
		delete(d.original, evicted)
	}

	switch {
	case d.threshold == nil:
		d.rescanThreshold()
	case originalDistance > d.original[d.threshold]:
		d.threshold = elem
	}
	return true
}

// rescanThreshold re-finds the retained element with maximal original
// distance. O(n); triggered only on eviction of the current maximum or
// on the first add.
func (d *DoubleSortedCollection) rescanThreshold() {
	d.threshold = nil
	best := float32(math.Inf(-1))
	for elem, dist := range d.original {
		if d.threshold == nil || dist > best {
			d.threshold, best = elem, dist
		}
	}
}

// ThresholdDistance returns the maximal original distance among retained
// elements when the collection is full, +Inf otherwise.
func (d *DoubleSortedCollection) ThresholdDistance() float32 {
	if !d.coll.Full() || d.threshold == nil {
		return float32(math.Inf(1))
	}
	return d.original[d.threshold]
}

// ThresholdObject returns the cached element with maximal original
// distance, or nil when empty.
func (d *DoubleSortedCollection) ThresholdObject() *RankedObject { return d.threshold }

// OriginalDistance returns the original distance recorded for a retained
// element.
func (d *DoubleSortedCollection) OriginalDistance(elem *RankedObject) (float32, bool) {
	dist, ok := d.original[elem]
	return dist, ok
}

// Len returns the number of retained elements.
func (d *DoubleSortedCollection) Len() int { return d.coll.Len() }

// Full reports whether the collection reached its capacity.
func (d *DoubleSortedCollection) Full() bool { return d.coll.Full() }

// Items returns the retained elements ordered by transformed distance.
// Treat the slice as read-only.
func (d *DoubleSortedCollection) Items() []*RankedObject { return d.coll.Items() }
