package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/metrigo/resource"
	"github.com/hupe1980/metrigo/serial"
)

const (
	// MagicNumber identifies a disk storage file.
	MagicNumber uint32 = 0x4d475342 // "MGSB"

	// FormatVersion is the current disk layout version.
	FormatVersion uint16 = 1

	fileHeaderSize   = 8  // magic(4) + version(2) + codec(1) + reserved(1)
	recordHeaderSize = 13 // flags(1) + blockLen(4) + storedLen(4) + rawLen(4)

	flagDeleted byte = 1 << 0
	flagTypeDef byte = 1 << 1
)

// DiskOptions are the construction parameters of a DiskStorage.
type DiskOptions struct {
	// Path is the backing file. Created if absent; an existing file must
	// be structurally compatible or construction fails.
	Path string

	// Capacity bounds the number of stored records. 0 means unlimited.
	Capacity int

	// BufferSize is the write buffer size in bytes.
	BufferSize int

	// DirectIO bypasses the write buffer: every record write goes
	// straight to the file.
	DirectIO bool

	// ReadWorkers bounds concurrent asynchronous reads.
	ReadWorkers int64

	// Compression selects the record payload codec: "none", "zstd" or
	// "lz4". Ignored when reattaching; the file's codec wins.
	Compression string

	// Serializator frames the records. A fresh one is created if nil.
	// The instance must be dedicated to this storage: its tag table is
	// rebuilt from the file on reattach, and tags cached elsewhere would
	// suppress the definition frames the file needs.
	Serializator *serial.Serializator

	// Controller optionally rate-limits file I/O.
	Controller *resource.Controller

	// Logger receives structured diagnostics. Discarded if nil.
	Logger *slog.Logger
}

// DefaultDiskOptions holds the defaults applied for zero-valued fields.
var DefaultDiskOptions = DiskOptions{
	BufferSize:  256 * 1024,
	ReadWorkers: 4,
}

// DiskStorage is a persistent Storage over one growable file. Records are
// framed by the serialization protocol inside fixed record headers;
// removed blocks are recycled best-fit. The file handle can be released
// while idle and is reopened transparently on the next access.
//
// Blocks carrying a type definition frame are retired on removal instead
// of recycled, so the tag table can always be rebuilt when reattaching.
type DiskStorage[T serial.Serializable] struct {
	opts    DiskOptions
	ser     *serial.Serializator
	codec   compressor
	logger  *slog.Logger
	ctrl    *resource.Controller
	readSem *semaphore.Weighted

	lockMu sync.Mutex

	mu          sync.Mutex
	file        *os.File // nil while temporarily closed
	wbuf        []byte   // pending appends not yet written through
	fileEnd     int64    // logical file length including pending appends
	free        map[int64]uint32
	count       int
	storedBytes int64
	accesses    int64
	lastReset   int64
}

// NewDiskStorage creates or reattaches a disk storage at opts.Path.
// Reattaching scans the file to rebuild the free-block map and the
// serializator tag table; a structurally incompatible file fails with
// ErrIncompatible.
func NewDiskStorage[T serial.Serializable](opts DiskOptions) (*DiskStorage[T], error) {
	if opts.Path == "" {
		return nil, errors.New("disk storage: path is required")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultDiskOptions.BufferSize
	}
	if opts.ReadWorkers <= 0 {
		opts.ReadWorkers = DefaultDiskOptions.ReadWorkers
	}
	if opts.Serializator == nil {
		opts.Serializator = serial.NewSerializator()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	codec, err := newCompressor(opts.Compression)
	if err != nil {
		return nil, err
	}

	s := &DiskStorage[T]{
		opts:    opts,
		ser:     opts.Serializator,
		codec:   codec,
		logger:  opts.Logger,
		ctrl:    opts.Controller,
		readSem: semaphore.NewWeighted(opts.ReadWorkers),
		free:    make(map[int64]uint32),
	}

	f, err := os.OpenFile(opts.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	s.file = f

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	if info.Size() == 0 {
		if err := s.writeFileHeaderLocked(); err != nil {
			_ = f.Close()
			return nil, err
		}
		s.fileEnd = fileHeaderSize
		return s, nil
	}

	if err := s.reattachLocked(info.Size()); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func (s *DiskStorage[T]) writeFileHeaderLocked() error {
	var hdr [fileHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], MagicNumber)
	binary.LittleEndian.PutUint16(hdr[4:6], FormatVersion)
	hdr[6] = byte(s.codec.id())

	if _, err := s.file.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func (s *DiskStorage[T]) reattachLocked(size int64) error {
	if size < fileHeaderSize {
		return fmt.Errorf("%w: file shorter than header", ErrIncompatible)
	}

	var hdr [fileHeaderSize]byte
	if _, err := s.file.ReadAt(hdr[:], 0); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if magic := binary.LittleEndian.Uint32(hdr[0:4]); magic != MagicNumber {
		return fmt.Errorf("%w: bad magic 0x%08x", ErrIncompatible, magic)
	}
	if version := binary.LittleEndian.Uint16(hdr[4:6]); version != FormatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrIncompatible, version)
	}

	codec, err := compressorByID(codecID(hdr[6]))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIncompatible, err)
	}
	s.codec = codec

	pos := int64(fileHeaderSize)
	for pos < size {
		var rec [recordHeaderSize]byte
		if _, err := s.file.ReadAt(rec[:], pos); err != nil {
			return fmt.Errorf("%w: truncated record header at %d", ErrIncompatible, pos)
		}
		flags := rec[0]
		blockLen := binary.LittleEndian.Uint32(rec[1:5])
		storedLen := binary.LittleEndian.Uint32(rec[5:9])
		rawLen := binary.LittleEndian.Uint32(rec[9:13])

		if storedLen > blockLen || pos+recordHeaderSize+int64(blockLen) > size {
			return fmt.Errorf("%w: corrupt record at %d", ErrIncompatible, pos)
		}

		if flags&flagTypeDef != 0 {
			raw, err := s.readPayloadLocked(pos+recordHeaderSize, storedLen, rawLen)
			if err != nil {
				return fmt.Errorf("%w: type definition at %d: %v", ErrIncompatible, pos, err)
			}
			if err := s.ser.ReadDef(bytes.NewReader(raw)); err != nil {
				return fmt.Errorf("%w: type definition at %d: %v", ErrIncompatible, pos, err)
			}
		}

		switch {
		case flags&flagDeleted == 0:
			s.count++
			s.storedBytes += int64(storedLen)
		case flags&flagTypeDef == 0:
			s.free[pos] = blockLen
		}

		pos += recordHeaderSize + int64(blockLen)
	}

	s.fileEnd = pos
	s.logger.Debug("reattached disk storage",
		slog.String("path", s.opts.Path),
		slog.Int("count", s.count),
		slog.Int("free_blocks", len(s.free)))
	return nil
}

func (s *DiskStorage[T]) readPayloadLocked(off int64, storedLen, rawLen uint32) ([]byte, error) {
	stored := make([]byte, storedLen)
	if err := s.readAtLocked(stored, off); err != nil {
		return nil, err
	}
	if storedLen == rawLen {
		return stored, nil
	}
	return s.codec.decompress(stored, int(rawLen))
}

// Store implements Storage.
func (s *DiskStorage[T]) Store(obj T) (Address[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Capacity > 0 && s.count >= s.opts.Capacity {
		return nil, ErrFull
	}
	if err := s.ensureOpenLocked(); err != nil {
		return nil, err
	}
	s.accesses++

	isDef := !s.ser.Knows(obj.SerialName())

	var frame bytes.Buffer
	if _, err := s.ser.Write(&frame, obj); err != nil {
		return nil, err
	}
	raw := frame.Bytes()

	stored, err := s.codec.compress(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: compression: %v", ErrIO, err)
	}
	if len(stored) >= len(raw) {
		stored = raw
	}

	need := uint32(len(stored))
	off, blockLen, reused := s.allocateLocked(need, isDef)

	var hdr [recordHeaderSize]byte
	if isDef {
		hdr[0] = flagTypeDef
	}
	binary.LittleEndian.PutUint32(hdr[1:5], blockLen)
	binary.LittleEndian.PutUint32(hdr[5:9], need)
	binary.LittleEndian.PutUint32(hdr[9:13], uint32(len(raw)))

	rec := make([]byte, 0, recordHeaderSize+len(stored))
	rec = append(rec, hdr[:]...)
	rec = append(rec, stored...)

	if reused {
		if err := s.writeAtLocked(rec, off); err != nil {
			return nil, err
		}
	} else {
		if err := s.appendLocked(rec, int64(blockLen)-int64(need)); err != nil {
			return nil, err
		}
	}

	s.count++
	s.storedBytes += int64(need)
	return &diskAddress[T]{s: s, off: off}, nil
}

// allocateLocked picks a free block that fits (best fit) or assigns space
// at the file end. Definition-bearing records always go to the end so the
// block retirement rule keeps them scannable.
func (s *DiskStorage[T]) allocateLocked(need uint32, isDef bool) (off int64, blockLen uint32, reused bool) {
	if !isDef {
		bestOff, bestLen := int64(-1), uint32(0)
		for fo, fl := range s.free {
			if fl >= need && (bestOff < 0 || fl < bestLen) {
				bestOff, bestLen = fo, fl
			}
		}
		if bestOff >= 0 {
			delete(s.free, bestOff)
			return bestOff, bestLen, true
		}
	}
	return s.fileEnd, need, false
}

// appendLocked buffers rec at the logical file end, plus pad zero bytes.
func (s *DiskStorage[T]) appendLocked(rec []byte, pad int64) error {
	total := int64(len(rec)) + pad
	if s.opts.DirectIO {
		if pad > 0 {
			rec = append(rec, make([]byte, pad)...)
		}
		if err := s.writeAtLocked(rec, s.fileEnd); err != nil {
			return err
		}
		s.fileEnd += total
		return nil
	}

	s.wbuf = append(s.wbuf, rec...)
	if pad > 0 {
		s.wbuf = append(s.wbuf, make([]byte, pad)...)
	}
	s.fileEnd += total
	if len(s.wbuf) >= s.opts.BufferSize {
		return s.flushLocked()
	}
	return nil
}

func (s *DiskStorage[T]) flushLocked() error {
	if len(s.wbuf) == 0 {
		return nil
	}
	off := s.fileEnd - int64(len(s.wbuf))
	if err := s.writeAtLocked(s.wbuf, off); err != nil {
		return err
	}
	s.wbuf = s.wbuf[:0]
	return nil
}

func (s *DiskStorage[T]) writeAtLocked(p []byte, off int64) error {
	s.acquireIO(len(p))
	if _, err := s.file.WriteAt(p, off); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func (s *DiskStorage[T]) readAtLocked(p []byte, off int64) error {
	if err := s.flushLocked(); err != nil {
		return err
	}
	s.acquireIO(len(p))
	if _, err := s.file.ReadAt(p, off); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func (s *DiskStorage[T]) acquireIO(n int) {
	if s.ctrl != nil {
		_ = s.ctrl.AcquireIO(context.Background(), n)
	}
}

func (s *DiskStorage[T]) ensureOpenLocked() error {
	if s.file != nil {
		return nil
	}
	f, err := os.OpenFile(s.opts.Path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("%w: reopening %s: %v", ErrIO, s.opts.Path, err)
	}
	s.file = f
	s.logger.Debug("reopened disk storage", slog.String("path", s.opts.Path))
	return nil
}

func (s *DiskStorage[T]) readLocked(off int64) (T, error) {
	var zero T

	if err := s.ensureOpenLocked(); err != nil {
		return zero, err
	}
	s.accesses++

	var hdr [recordHeaderSize]byte
	if err := s.readAtLocked(hdr[:], off); err != nil {
		return zero, err
	}
	if hdr[0]&flagDeleted != 0 {
		return zero, ErrInvalidAddress
	}
	storedLen := binary.LittleEndian.Uint32(hdr[5:9])
	rawLen := binary.LittleEndian.Uint32(hdr[9:13])

	raw, err := s.readPayloadLocked(off+recordHeaderSize, storedLen, rawLen)
	if err != nil {
		if errors.Is(err, ErrIO) {
			return zero, err
		}
		return zero, fmt.Errorf("%w: %v", ErrIO, err)
	}

	obj, err := serial.ReadObjectAs[T](s.ser, bytes.NewReader(raw))
	if err != nil {
		if errors.Is(err, serial.ErrSerialization) {
			return zero, err
		}
		return zero, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return obj, nil
}

func (s *DiskStorage[T]) removeLocked(off int64) error {
	if err := s.ensureOpenLocked(); err != nil {
		return err
	}
	s.accesses++

	var hdr [recordHeaderSize]byte
	if err := s.readAtLocked(hdr[:], off); err != nil {
		return err
	}
	if hdr[0]&flagDeleted != 0 {
		return ErrInvalidAddress
	}
	blockLen := binary.LittleEndian.Uint32(hdr[1:5])
	storedLen := binary.LittleEndian.Uint32(hdr[5:9])

	hdr[0] |= flagDeleted
	if err := s.writeAtLocked(hdr[:1], off); err != nil {
		return err
	}

	if hdr[0]&flagTypeDef == 0 {
		s.free[off] = blockLen
	}
	s.count--
	s.storedBytes -= int64(storedLen)
	return nil
}

// Count implements Storage.
func (s *DiskStorage[T]) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.count
}

// StoredBytes returns the sum of stored payload sizes.
func (s *DiskStorage[T]) StoredBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.storedBytes
}

// Addresses implements Enumerator: it walks the record headers and
// returns the addresses of all live records in file order.
func (s *DiskStorage[T]) Addresses() ([]Address[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpenLocked(); err != nil {
		return nil, err
	}
	s.accesses++
	if err := s.flushLocked(); err != nil {
		return nil, err
	}

	var addrs []Address[T]
	pos := int64(fileHeaderSize)
	for pos < s.fileEnd {
		var hdr [recordHeaderSize]byte
		if err := s.readAtLocked(hdr[:], pos); err != nil {
			return nil, err
		}
		if hdr[0]&flagDeleted == 0 {
			addrs = append(addrs, &diskAddress[T]{s: s, off: pos})
		}
		pos += recordHeaderSize + int64(binary.LittleEndian.Uint32(hdr[1:5]))
	}
	return addrs, nil
}

// Path returns the backing file path. This is the only piece of state a
// bucket persists about its storage.
func (s *DiskStorage[T]) Path() string {
	return s.opts.Path
}

// Flush writes pending buffered appends through to the file.
func (s *DiskStorage[T]) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	return s.flushLocked()
}

// Close flushes and closes the file handle. The storage reopens
// transparently on the next access.
func (s *DiskStorage[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closeLocked()
}

func (s *DiskStorage[T]) closeLocked() error {
	if s.file == nil {
		return nil
	}
	if err := s.flushLocked(); err != nil {
		return err
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	s.file = nil
	return nil
}

// CloseTemporarilyIfIdle implements resource.IdleClosable. It returns
// false if the storage was accessed since the last counter reset; with
// resetCounter set the current access count becomes the new baseline, so
// a periodic caller closes the storage on the pass following one with no
// intervening accesses.
func (s *DiskStorage[T]) CloseTemporarilyIfIdle(resetCounter bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accesses != s.lastReset {
		if resetCounter {
			s.lastReset = s.accesses
		}
		return false
	}

	if s.file == nil {
		return true
	}
	if err := s.closeLocked(); err != nil {
		s.logger.Warn("idle close failed", slog.String("path", s.opts.Path), slog.Any("error", err))
		return false
	}
	s.logger.Debug("closed idle disk storage", slog.String("path", s.opts.Path))
	return true
}

// Destroy implements Storage: closes the handle and deletes the file.
func (s *DiskStorage[T]) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if err := os.Remove(s.opts.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// Lock acquires the storage lock capability for a multi-step atomic
// sequence. Not reentrant.
func (s *DiskStorage[T]) Lock() { s.lockMu.Lock() }

// Unlock releases the storage lock capability.
func (s *DiskStorage[T]) Unlock() { s.lockMu.Unlock() }

// ReadResult is the outcome of an asynchronous read.
type ReadResult[T any] struct {
	Object T
	Err    error
}

// ReadAsync performs addr.Read on a bounded background worker. It blocks
// while all read slots are busy (or until ctx is canceled).
func (s *DiskStorage[T]) ReadAsync(ctx context.Context, addr Address[T]) (<-chan ReadResult[T], error) {
	if err := s.readSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	ch := make(chan ReadResult[T], 1)
	go func() {
		defer s.readSem.Release(1)
		obj, err := addr.Read()
		ch <- ReadResult[T]{Object: obj, Err: err}
	}()
	return ch, nil
}

type diskAddress[T serial.Serializable] struct {
	s   *DiskStorage[T]
	off int64
}

// Read implements Address.
func (a *diskAddress[T]) Read() (T, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	return a.s.readLocked(a.off)
}

// Remove implements Address.
func (a *diskAddress[T]) Remove() error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	return a.s.removeLocked(a.off)
}
