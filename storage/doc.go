// Package storage provides the object storage abstraction the index and
// bucket layers build on: a Storage persists serialized records and hands
// out opaque Addresses that can re-locate and remove their referent.
//
// Two implementations are provided. MemoryStorage keeps records in
// process memory with slot reuse tracked by a roaring bitmap.
// DiskStorage persists records into a single growable file with buffered
// I/O, free-block recycling, optional per-record compression and idle
// file-handle reclamation with transparent reopening.
//
// Storages are selected through a Factory keyed by a configuration
// string, resolved once at startup.
package storage
