// Package query provides the scan-based query operators evaluated
// against a bucket. Traversal strategies beyond a linear scan belong to
// external query algorithms; these operators define the result-collection
// contract they share.
package query

import (
	"fmt"

	"github.com/hupe1980/metrigo/bucket"
	"github.com/hupe1980/metrigo/model"
	"github.com/hupe1980/metrigo/rank"
)

// KNN collects the K nearest neighbors of Target.
type KNN struct {
	Target model.MetricObject
	K      int

	// Result holds the answer after Process, ascending by distance.
	Result *rank.SortedCollection
}

// NewKNN creates a k-nearest-neighbor query.
func NewKNN(target model.MetricObject, k int) *KNN {
	return &KNN{Target: target, K: k}
}

// Process implements bucket.Query by scanning the bucket's contents. The
// collection's threshold distance prunes nothing in a plain scan but is
// the contract smarter traversals rely on.
func (q *KNN) Process(b *bucket.Bucket) error {
	q.Result = rank.NewSortedCollection(q.K)

	it := b.Objects()
	for it.Next() {
		obj := it.Object()
		d, err := q.Target.Distance(obj)
		b.CountDistanceComputations(1)
		if err != nil {
			return fmt.Errorf("distance to %s: %w", obj.ID(), err)
		}
		if d < q.Result.ThresholdDistance() {
			q.Result.Add(obj, d)
		}
	}
	return it.Err()
}

// RerankedKNN collects the K nearest neighbors ordered by a transformed
// distance while thresholding on the original one.
type RerankedKNN struct {
	Target model.MetricObject
	K      int
	Rerank rank.RerankFunc

	// Result holds the answer after Process, ordered by the transformed
	// distance.
	Result *rank.DoubleSortedCollection
}

// NewRerankedKNN creates a re-ranking k-nearest-neighbor query.
func NewRerankedKNN(target model.MetricObject, k int, rerank rank.RerankFunc) *RerankedKNN {
	return &RerankedKNN{Target: target, K: k, Rerank: rerank}
}

// Process implements bucket.Query.
func (q *RerankedKNN) Process(b *bucket.Bucket) error {
	q.Result = rank.NewDoubleSortedCollection(q.K, q.Rerank)

	it := b.Objects()
	for it.Next() {
		obj := it.Object()
		d, err := q.Target.Distance(obj)
		b.CountDistanceComputations(1)
		if err != nil {
			return fmt.Errorf("distance to %s: %w", obj.ID(), err)
		}
		q.Result.Add(obj, d)
	}
	return it.Err()
}

// Range collects every object within Radius of Target.
type Range struct {
	Target model.MetricObject
	Radius float32

	// Result holds the answer after Process, ascending by distance.
	Result *rank.SortedCollection
}

// NewRange creates a range query.
func NewRange(target model.MetricObject, radius float32) *Range {
	return &Range{Target: target, Radius: radius}
}

// Process implements bucket.Query.
func (q *Range) Process(b *bucket.Bucket) error {
	q.Result = rank.NewSortedCollection(0)

	it := b.Objects()
	for it.Next() {
		obj := it.Object()
		d, err := q.Target.Distance(obj)
		b.CountDistanceComputations(1)
		if err != nil {
			return fmt.Errorf("distance to %s: %w", obj.ID(), err)
		}
		if d <= q.Radius {
			q.Result.Add(obj, d)
		}
	}
	return it.Err()
}
