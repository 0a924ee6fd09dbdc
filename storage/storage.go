package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cast"

	"github.com/hupe1980/metrigo/serial"
)

var (
	// ErrIO is returned for disk or channel failures, including records
	// truncated mid-frame. The cause is wrapped.
	ErrIO = errors.New("storage I/O error")

	// ErrFull is returned by Store when the storage capacity bound is
	// reached. Nothing is stored for the failing object.
	ErrFull = errors.New("storage full")

	// ErrInvalidAddress is returned when an address no longer refers to a
	// stored record (it was removed, or the slot recycled).
	ErrInvalidAddress = errors.New("invalid address")

	// ErrIncompatible is returned when reattaching a disk storage to a
	// file that does not exist or is structurally incompatible.
	ErrIncompatible = errors.New("incompatible storage file")
)

// Address is an opaque per-storage location token. Equality is
// storage+location identity. After Remove the address is invalid;
// reading through it fails, though a recycled location may transparently
// hold a different record.
type Address[T any] interface {
	// Read re-locates and deserializes the referent. A temporarily closed
	// storage is reopened transparently.
	Read() (T, error)

	// Remove deletes the record. The address is invalid afterwards.
	Remove() error
}

// Storage owns zero or more serialized records. It is created with its
// bucket and destroyed with it.
type Storage[T any] interface {
	// Store serializes and persists obj, returning its address. Fails
	// with ErrFull or an ErrIO-wrapped cause.
	Store(obj T) (Address[T], error)

	// Count returns the number of stored records.
	Count() int

	// Destroy releases the storage and its persistent resources.
	Destroy() error
}

// Enumerator is the optional enumeration capability of a storage: it
// lists the addresses of all currently stored records, e.g. to rebuild
// an index after reattaching a persistent storage.
type Enumerator[T any] interface {
	Addresses() ([]Address[T], error)
}

// Locker is the optional lock capability of a storage. It serializes
// multi-step atomic sequences among cooperating callers; single storage
// operations are internally consistent without it. The lock is not
// reentrant.
type Locker interface {
	Lock()
	Unlock()
}

// Parameters is the named-parameter set a Factory resolves storage
// construction from. Values are converted leniently (strings holding
// numbers are accepted), so the set can come straight from a parsed
// configuration file.
type Parameters map[string]any

// String returns the parameter as a string, or def when absent.
func (p Parameters) String(key, def string) string {
	v, ok := p[key]
	if !ok {
		return def
	}
	return cast.ToString(v)
}

// Int returns the parameter as an int, or def when absent.
func (p Parameters) Int(key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	return cast.ToInt(v)
}

// Bool returns the parameter as a bool, or def when absent.
func (p Parameters) Bool(key string, def bool) bool {
	v, ok := p[key]
	if !ok {
		return def
	}
	return cast.ToBool(v)
}

// FactoryFunc builds a storage from a named-parameter set.
type FactoryFunc[T serial.Serializable] func(p Parameters) (Storage[T], error)

// Factory resolves storage kinds by configuration string. The built-in
// kinds "memory" and "disk" are pre-registered; additional kinds (e.g. a
// database-backed variant) can be registered at startup.
type Factory[T serial.Serializable] struct {
	mu    sync.RWMutex
	kinds map[string]FactoryFunc[T]
}

// NewFactory creates a Factory with the built-in kinds registered.
func NewFactory[T serial.Serializable]() *Factory[T] {
	f := &Factory[T]{kinds: make(map[string]FactoryFunc[T])}

	f.Register("memory", func(Parameters) (Storage[T], error) {
		return NewMemoryStorage[T](), nil
	})
	f.Register("disk", func(p Parameters) (Storage[T], error) {
		opts := DefaultDiskOptions
		opts.Path = p.String("path", "")
		opts.Capacity = p.Int("capacity", 0)
		opts.BufferSize = p.Int("buffer_size", opts.BufferSize)
		opts.DirectIO = p.Bool("direct_io", false)
		opts.ReadWorkers = int64(p.Int("read_workers", int(opts.ReadWorkers)))
		opts.Compression = p.String("compression", "")
		return NewDiskStorage[T](opts)
	})

	return f
}

// Register adds or replaces a storage kind.
func (f *Factory[T]) Register(kind string, fn FactoryFunc[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.kinds[kind] = fn
}

// Create builds a storage of the given kind.
func (f *Factory[T]) Create(kind string, p Parameters) (Storage[T], error) {
	f.mu.RLock()
	fn, ok := f.kinds[kind]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown storage kind %q", kind)
	}
	return fn(p)
}
