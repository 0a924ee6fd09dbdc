// Package model defines the object contracts shared by the storage,
// index and query layers.
package model

import (
	"github.com/hupe1980/metrigo/serial"
)

// Object is the unit everything in a bucket stores: an identified,
// serializable record. IDs are unique per bucket unless the bucket
// accepts duplicates.
type Object interface {
	serial.Serializable

	// ID returns the object identifier used as the bucket index key.
	ID() string
}

// MetricObject is an Object living in a metric space.
type MetricObject interface {
	Object

	// Distance returns the metric distance to other. Implementations
	// return an error for incompatible operands (wrong type, wrong
	// dimension).
	Distance(other Object) (float32, error)
}
