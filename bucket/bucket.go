// Package bucket couples a storage and an ordered index into the façade
// query algorithms run against, with capacity and occupation accounting.
package bucket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/metrigo/index"
	"github.com/hupe1980/metrigo/model"
	"github.com/hupe1980/metrigo/replication"
	"github.com/hupe1980/metrigo/serial"
	"github.com/hupe1980/metrigo/stats"
	"github.com/hupe1980/metrigo/storage"
)

var (
	// ErrCapacityExceeded is returned when an insert would push the
	// occupation over the hard capacity. Nothing is stored for the
	// failing object.
	ErrCapacityExceeded = errors.New("bucket capacity exceeded")

	// ErrDuplicate is returned by uniqueness-enforcing buckets when the
	// key is already held.
	ErrDuplicate = errors.New("duplicate object")

	// ErrNotFound is returned for deletes of absent ids. It matches the
	// index layer's absence sentinel.
	ErrNotFound = index.ErrNoSuchElement

	// ErrLowOccupation is returned when a delete would drop the
	// occupation below the low watermark.
	ErrLowOccupation = errors.New("occupation below low watermark")
)

// OccupationUnit selects how occupation is measured.
type OccupationUnit int

const (
	// UnitObjects counts stored objects.
	UnitObjects OccupationUnit = iota
	// UnitBytes sums serialized payload sizes.
	UnitBytes
)

// Options configure a bucket.
type Options struct {
	// Capacity is the hard ceiling; occupation never exceeds it.
	// 0 means unlimited.
	Capacity uint64

	// SoftCapacity is the advisory ceiling exposed for higher-level
	// admission control. It is never enforced here.
	SoftCapacity uint64

	// LowOccupation is the floor below which deletions are refused.
	LowOccupation uint64

	// Unit selects the occupation measure.
	Unit OccupationUnit

	// AcceptDuplicates permits multiple objects under one ID.
	AcceptDuplicates bool

	// Logger receives structured diagnostics. Discarded if nil.
	Logger *slog.Logger

	// Replicator optionally mirrors writes to a remote copy,
	// fire-and-forget.
	Replicator replication.Replicator

	// OnDistanceComputed is the counter-increment hook for the
	// externally-owned distance-computation statistic.
	OnDistanceComputed func(n int)
}

// DefaultOptions are the defaults applied for zero-valued fields.
var DefaultOptions = Options{
	AcceptDuplicates: true,
}

var nextBucketID atomic.Uint64

// Bucket is a storage+index pair with capacity and occupation policy.
// The invariant occupation <= capacity holds at all times.
type Bucket struct {
	id       uint64
	opts     Options
	logger   *slog.Logger
	counters *stats.BucketCounters

	idx *index.OrderedIndex[string, model.Object]

	mu         sync.Mutex
	occupation uint64
}

// New creates a bucket over st, indexed by object ID.
func New(st storage.Storage[model.Object], opts Options) *Bucket {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	cmp := index.Funcs[string, model.Object]{
		Extract: func(o model.Object) string { return o.ID() },
		Compare: strings.Compare,
	}

	id := nextBucketID.Add(1)
	return &Bucket{
		id:       id,
		opts:     opts,
		logger:   opts.Logger.With(slog.Uint64("bucket", id)),
		counters: stats.ForBucket(id),
		idx:      index.New[string, model.Object](cmp, st),
	}
}

// Attach creates a bucket over a storage that already holds records,
// e.g. a disk storage reattached after a restart. The storage must
// support enumeration; the index and occupation are rebuilt from it.
func Attach(st storage.Storage[model.Object], opts Options) (*Bucket, error) {
	enum, ok := st.(storage.Enumerator[model.Object])
	if !ok {
		return nil, fmt.Errorf("bucket: storage %T does not support enumeration", st)
	}

	b := New(st, opts)

	addrs, err := enum.Addresses()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		obj, err := addr.Read()
		if err != nil {
			return nil, fmt.Errorf("bucket: rebuilding index: %w", err)
		}
		weight, err := b.weigh(obj)
		if err != nil {
			return nil, err
		}
		b.idx.Adopt(obj, addr)
		b.occupation += weight
	}

	b.logger.Info("bucket attached",
		slog.Int("objects", b.idx.Len()), slog.Uint64("occupation", b.occupation))
	return b, nil
}

// ID returns the bucket identity.
func (b *Bucket) ID() uint64 { return b.id }

// Index exposes the ordered index for cursor-based search.
func (b *Bucket) Index() *index.OrderedIndex[string, model.Object] { return b.idx }

// Capacity returns the hard ceiling (0 = unlimited).
func (b *Bucket) Capacity() uint64 { return b.opts.Capacity }

// SoftCapacity returns the advisory ceiling.
func (b *Bucket) SoftCapacity() uint64 { return b.opts.SoftCapacity }

// LowOccupation returns the deletion floor.
func (b *Bucket) LowOccupation() uint64 { return b.opts.LowOccupation }

// Occupation returns the current usage in the configured unit.
func (b *Bucket) Occupation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.occupation
}

// IsSoftCapacityExceeded reports whether occupation reached the advisory
// ceiling; admission control above the bucket queries this.
func (b *Bucket) IsSoftCapacityExceeded() bool {
	if b.opts.SoftCapacity == 0 {
		return false
	}
	return b.Occupation() >= b.opts.SoftCapacity
}

// weigh returns the occupation cost of obj in the configured unit.
func (b *Bucket) weigh(obj model.Object) (uint64, error) {
	if b.opts.Unit == UnitObjects {
		return 1, nil
	}
	n, err := serial.Measure(obj)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// AddObject stores obj. The capacity check happens before anything is
// persisted, so a failing add leaves the occupation unchanged and
// nothing partially stored.
func (b *Bucket) AddObject(obj model.Object) error {
	weight, err := b.weigh(obj)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.opts.Capacity > 0 && b.occupation+weight > b.opts.Capacity {
		return ErrCapacityExceeded
	}
	if !b.opts.AcceptDuplicates {
		if cur := b.idx.SearchKey(obj.ID(), true); cur.Next() {
			return fmt.Errorf("%w: %s", ErrDuplicate, obj.ID())
		}
	}

	if err := b.idx.Add(obj); err != nil {
		if errors.Is(err, storage.ErrFull) {
			return fmt.Errorf("%w: %v", ErrCapacityExceeded, err)
		}
		return err
	}
	b.occupation += weight
	b.counters.Adds.Inc()

	b.replicateStore(obj)
	return nil
}

// AddObjects stores the given objects one by one, each fail-atomic on
// its own. On error, objects preceding the failure remain stored; the
// caller must treat a raised error as "some prefix succeeded".
func (b *Bucket) AddObjects(objs []model.Object) error {
	for i, obj := range objs {
		if err := b.AddObject(obj); err != nil {
			return fmt.Errorf("object %d of %d: %w", i+1, len(objs), err)
		}
	}
	return nil
}

// DeleteObject removes the oldest object stored under id and returns it.
// ErrNotFound if absent, ErrLowOccupation if the delete would fall below
// the watermark.
func (b *Bucket) DeleteObject(id string) (model.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.deleteLocked(id)
}

func (b *Bucket) deleteLocked(id string) (model.Object, error) {
	cur := b.idx.SearchKey(id, true)
	if !cur.Next() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	obj, err := cur.Current()
	if err != nil {
		return nil, err
	}
	weight, err := b.weigh(obj)
	if err != nil {
		return nil, err
	}
	if b.opts.LowOccupation > 0 && b.occupation-weight < b.opts.LowOccupation {
		return nil, ErrLowOccupation
	}

	if err := cur.Remove(); err != nil {
		return nil, err
	}
	b.occupation -= weight
	b.counters.Deletes.Inc()

	b.replicateRemove(id)
	return obj, nil
}

// DeleteObjects removes the given ids, returning the removed objects and
// the ids that were not found (the input stripped of the found ones).
// Unlike the single delete, absent ids are not an error.
func (b *Bucket) DeleteObjects(ids []string) (removed []model.Object, missing []string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range ids {
		obj, err := b.deleteLocked(id)
		switch {
		case errors.Is(err, ErrNotFound):
			missing = append(missing, id)
		case err != nil:
			return removed, missing, err
		default:
			removed = append(removed, obj)
		}
	}
	return removed, missing, nil
}

// Destroy releases the bucket's storage.
func (b *Bucket) Destroy() error {
	return b.idx.Storage().Destroy()
}

// CountDistanceComputations feeds the distance-computation statistic;
// query operators call it once per evaluated distance.
func (b *Bucket) CountDistanceComputations(n int) {
	b.counters.DistanceComputations.Add(n)
	if b.opts.OnDistanceComputed != nil {
		b.opts.OnDistanceComputed(n)
	}
}

// Query is evaluated against the bucket's contents.
type Query interface {
	Process(b *Bucket) error
}

// ProcessQuery evaluates q against this bucket.
func (b *Bucket) ProcessQuery(q Query) error {
	b.counters.Queries.Inc()
	return q.Process(b)
}

// replicateStore mirrors a successful store, fire-and-forget. A remote
// failure is logged, never propagated or rolled back.
func (b *Bucket) replicateStore(obj model.Object) {
	if b.opts.Replicator == nil {
		return
	}
	go func() {
		if err := b.opts.Replicator.ReplicateStore(context.Background(), obj); err != nil {
			b.logger.Warn("replicating store failed",
				slog.String("id", obj.ID()), slog.Any("error", err))
		}
	}()
}

func (b *Bucket) replicateRemove(id string) {
	if b.opts.Replicator == nil {
		return
	}
	go func() {
		if err := b.opts.Replicator.ReplicateRemove(context.Background(), id); err != nil {
			b.logger.Warn("replicating remove failed",
				slog.String("id", id), slog.Any("error", err))
		}
	}()
}
