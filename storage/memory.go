package storage

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// MemoryStorage keeps records in process memory. Removed slots are
// tracked in a roaring bitmap and recycled lowest-first.
type MemoryStorage[T any] struct {
	mu     sync.Mutex
	lockMu sync.Mutex

	slots []T
	free  *roaring.Bitmap
	count int
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage[T any]() *MemoryStorage[T] {
	return &MemoryStorage[T]{free: roaring.New()}
}

// Store implements Storage.
func (s *MemoryStorage[T]) Store(obj T) (Address[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var slot uint32
	if !s.free.IsEmpty() {
		slot = s.free.Minimum()
		s.free.Remove(slot)
		s.slots[slot] = obj
	} else {
		slot = uint32(len(s.slots))
		s.slots = append(s.slots, obj)
	}
	s.count++

	return &memoryAddress[T]{s: s, slot: slot}, nil
}

// Count implements Storage.
func (s *MemoryStorage[T]) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.count
}

// Destroy implements Storage.
func (s *MemoryStorage[T]) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slots = nil
	s.free = roaring.New()
	s.count = 0
	return nil
}

// Addresses implements Enumerator.
func (s *MemoryStorage[T]) Addresses() ([]Address[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addrs := make([]Address[T], 0, s.count)
	for slot := range s.slots {
		if !s.free.Contains(uint32(slot)) {
			addrs = append(addrs, &memoryAddress[T]{s: s, slot: uint32(slot)})
		}
	}
	return addrs, nil
}

// Lock acquires the storage lock capability for a multi-step atomic
// sequence. Not reentrant.
func (s *MemoryStorage[T]) Lock() { s.lockMu.Lock() }

// Unlock releases the storage lock capability.
func (s *MemoryStorage[T]) Unlock() { s.lockMu.Unlock() }

type memoryAddress[T any] struct {
	s    *MemoryStorage[T]
	slot uint32
}

// Read implements Address.
func (a *memoryAddress[T]) Read() (T, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	var zero T
	if int(a.slot) >= len(a.s.slots) || a.s.free.Contains(a.slot) {
		return zero, ErrInvalidAddress
	}
	return a.s.slots[a.slot], nil
}

// Remove implements Address.
func (a *memoryAddress[T]) Remove() error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	if int(a.slot) >= len(a.s.slots) || a.s.free.Contains(a.slot) {
		return ErrInvalidAddress
	}

	var zero T
	a.s.slots[a.slot] = zero
	a.s.free.Add(a.slot)
	a.s.count--
	return nil
}
