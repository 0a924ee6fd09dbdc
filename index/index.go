// Package index maintains a sorted view of a storage's contents by an
// extracted key and exposes cloneable cursors over it.
//
// The order is kept in an in-memory array of (key, address) pairs:
// insertion binary-searches the splice point (O(log n) compares, O(n)
// splice) and equal keys keep insertion order, so traversal and deletion
// among duplicates is FIFO.
package index

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/metrigo/storage"
)

// ErrNoSuchElement is returned for lookups of absent keys and cursor
// access outside the valid range.
var ErrNoSuchElement = errors.New("no such element")

// Comparator extracts the ordering key from an object and defines a
// total order over keys. It also compares a key against an object
// directly, for range queries that avoid materializing keys.
type Comparator[K, T any] interface {
	ExtractKey(obj T) K
	CompareKeys(a, b K) int
	CompareKeyObject(key K, obj T) int
}

// Funcs adapts plain functions to a Comparator.
type Funcs[K, T any] struct {
	Extract func(T) K
	Compare func(a, b K) int
}

func (f Funcs[K, T]) ExtractKey(obj T) K { return f.Extract(obj) }

func (f Funcs[K, T]) CompareKeys(a, b K) int { return f.Compare(a, b) }

func (f Funcs[K, T]) CompareKeyObject(key K, obj T) int { return f.Compare(key, f.Extract(obj)) }

type entry[K, T any] struct {
	key  K
	addr storage.Address[T]
}

// OrderedIndex keeps the addresses of a storage's records sorted by key.
// Duplicate keys are permitted (multiset).
//
// Methods are individually consistent, but open cursors observe
// structural mutation with undefined positional effect unless the caller
// holds the storage's lock capability for the cursor's lifetime.
type OrderedIndex[K, T any] struct {
	mu  sync.RWMutex
	cmp Comparator[K, T]
	st  storage.Storage[T]

	entries []entry[K, T]
}

// New creates an empty index over st ordered by cmp.
func New[K, T any](cmp Comparator[K, T], st storage.Storage[T]) *OrderedIndex[K, T] {
	return &OrderedIndex[K, T]{cmp: cmp, st: st}
}

// Storage returns the underlying storage, e.g. to reach its lock or
// idle-close capability.
func (i *OrderedIndex[K, T]) Storage() storage.Storage[T] { return i.st }

// Len returns the number of indexed entries.
func (i *OrderedIndex[K, T]) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return len(i.entries)
}

// Add stores obj and splices its address into the order. Among entries
// with an equal key the new one comes last.
func (i *OrderedIndex[K, T]) Add(obj T) error {
	key := i.cmp.ExtractKey(obj)

	i.mu.Lock()
	defer i.mu.Unlock()

	pos := i.upperBound(key)

	addr, err := i.st.Store(obj)
	if err != nil {
		return err
	}

	i.entries = append(i.entries, entry[K, T]{})
	copy(i.entries[pos+1:], i.entries[pos:])
	i.entries[pos] = entry[K, T]{key: key, addr: addr}
	return nil
}

// Adopt splices an already-stored record into the order without storing
// it again, e.g. when rebuilding the index from a reattached storage.
func (i *OrderedIndex[K, T]) Adopt(obj T, addr storage.Address[T]) {
	key := i.cmp.ExtractKey(obj)

	i.mu.Lock()
	defer i.mu.Unlock()

	pos := i.upperBound(key)
	i.entries = append(i.entries, entry[K, T]{})
	copy(i.entries[pos+1:], i.entries[pos:])
	i.entries[pos] = entry[K, T]{key: key, addr: addr}
}

// removeAt deletes the record at pos from the storage and splices the
// entry out. An address that is already invalid still gets unindexed.
func (i *OrderedIndex[K, T]) removeAt(pos int) error {
	if pos < 0 || pos >= len(i.entries) {
		return ErrNoSuchElement
	}

	err := i.entries[pos].addr.Remove()
	if err != nil && !errors.Is(err, storage.ErrInvalidAddress) {
		return err
	}

	i.entries = append(i.entries[:pos], i.entries[pos+1:]...)
	return nil
}

// lowerBound returns the first position whose key is >= key.
func (i *OrderedIndex[K, T]) lowerBound(key K) int {
	return sort.Search(len(i.entries), func(j int) bool {
		return i.cmp.CompareKeys(i.entries[j].key, key) >= 0
	})
}

// upperBound returns the first position whose key is > key.
func (i *OrderedIndex[K, T]) upperBound(key K) int {
	return sort.Search(len(i.entries), func(j int) bool {
		return i.cmp.CompareKeys(i.entries[j].key, key) > 0
	})
}

func (i *OrderedIndex[K, T]) readAt(pos int) (T, error) {
	obj, err := i.entries[pos].addr.Read()
	if err != nil {
		var zero T
		// An indexed address that fails to read back means the index and
		// storage disagree; surface it as corruption, not absence.
		return zero, fmt.Errorf("index: corrupted entry at position %d: %w", pos, err)
	}
	return obj, nil
}
