// Package stats exposes operation counters for buckets. Counting
// semantics are owned by the callers (the bucket façade only increments
// through hooks), so the registry here is a thin layer over a metrics
// set.
package stats

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

var set = metrics.NewSet()

// BucketCounters groups the per-bucket operation counters.
type BucketCounters struct {
	Adds                 *metrics.Counter
	Deletes              *metrics.Counter
	Queries              *metrics.Counter
	DistanceComputations *metrics.Counter
}

// ForBucket returns (creating on first use) the counters of a bucket.
func ForBucket(id uint64) *BucketCounters {
	return &BucketCounters{
		Adds:                 counter("metrigo_bucket_adds_total", id),
		Deletes:              counter("metrigo_bucket_deletes_total", id),
		Queries:              counter("metrigo_bucket_queries_total", id),
		DistanceComputations: counter("metrigo_bucket_distance_computations_total", id),
	}
}

func counter(name string, id uint64) *metrics.Counter {
	return set.GetOrCreateCounter(fmt.Sprintf(`%s{bucket="%d"}`, name, id))
}

// WritePrometheus dumps all counters in Prometheus text format.
func WritePrometheus(w io.Writer) {
	set.WritePrometheus(w)
}
