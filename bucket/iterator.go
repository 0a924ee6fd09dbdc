package bucket

import (
	"iter"

	"github.com/hupe1980/metrigo/model"
)

// Iterator is a lazy sequence over the bucket's current contents in key
// order. Every Objects call starts a fresh sequence. Removal through the
// iterator updates the bucket occupation immediately.
type Iterator struct {
	b   *Bucket
	cur cursor
	obj model.Object
	err error
}

// cursor is the subset of index cursor behavior the iterator needs.
type cursor interface {
	Next() bool
	Current() (model.Object, error)
	Remove() error
}

// Objects returns a fresh iterator over the bucket's current contents.
func (b *Bucket) Objects() *Iterator {
	return &Iterator{b: b, cur: b.idx.Search()}
}

// Next advances to the following object, reporting whether one is
// available. After false, check Err.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.cur.Next() {
		return false
	}
	obj, err := it.cur.Current()
	if err != nil {
		it.err = err
		return false
	}
	it.obj = obj
	return true
}

// Object returns the object Next advanced to.
func (it *Iterator) Object() model.Object { return it.obj }

// Err returns the first failure encountered, if any.
func (it *Iterator) Err() error { return it.err }

// Remove deletes the current object from the bucket, updating occupation
// immediately. The low-occupation watermark applies.
func (it *Iterator) Remove() error {
	it.b.mu.Lock()
	defer it.b.mu.Unlock()

	weight, err := it.b.weigh(it.obj)
	if err != nil {
		return err
	}
	if it.b.opts.LowOccupation > 0 && it.b.occupation-weight < it.b.opts.LowOccupation {
		return ErrLowOccupation
	}

	if err := it.cur.Remove(); err != nil {
		return err
	}
	it.b.occupation -= weight
	it.b.counters.Deletes.Inc()

	it.b.replicateRemove(it.obj.ID())
	return nil
}

// ProvideObjects returns the contents as a range-over-func sequence. A
// failing read terminates the sequence with the error.
func (b *Bucket) ProvideObjects() iter.Seq2[model.Object, error] {
	return func(yield func(model.Object, error) bool) {
		it := b.Objects()
		for it.Next() {
			if !yield(it.Object(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(nil, err)
		}
	}
}
