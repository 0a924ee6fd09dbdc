package serial

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// Serializable is implemented by objects that can pass through the binary
// protocol. SerialName must be stable across processes; it is what gets
// written to the stream the first time a type occurs.
type Serializable interface {
	// SerialName returns the stable type identifier.
	SerialName() string

	// WriteData writes the object payload and returns the number of bytes
	// written. The payload must be readable back by ReadData without any
	// out-of-band length information beyond the frame.
	WriteData(w io.Writer) (int, error)

	// ReadData restores the object from a payload previously produced by
	// WriteData.
	ReadData(r io.Reader) error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func() Serializable)
)

// Register makes a type constructible by name during decoding. It is
// typically called from an init function of the package defining the type.
// Registering the same name twice panics.
func Register(name string, factory func() Serializable) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, ok := registry[name]; ok {
		panic("serial: duplicate registration of " + name)
	}
	registry[name] = factory
}

func factoryFor(name string) (func() Serializable, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	f, ok := registry[name]
	return f, ok
}

// Serializator frames Serializable objects onto byte streams and reads
// them back. The numeric tag table is per instance: a tag written by one
// Serializator is meaningless to another unless the defining frame is
// replayed through it (see ReadDef).
//
// The tag table is safe for concurrent use, so independent positioned
// streams over one seekable file may share a Serializator. A single
// stream, however, must not be read or written concurrently.
type Serializator struct {
	mu        sync.RWMutex
	tags      map[string]uint64
	factories map[uint64]func() Serializable
	names     map[uint64]string
}

// NewSerializator creates a Serializator with an empty tag table.
func NewSerializator() *Serializator {
	return &Serializator{
		tags:      make(map[string]uint64),
		factories: make(map[uint64]func() Serializable),
		names:     make(map[uint64]string),
	}
}

// Knows reports whether the type name already has a cached tag, i.e.
// whether the next Write of such an object will emit the short form.
func (s *Serializator) Knows(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.tags[name]
	return ok
}

func (s *Serializator) define(tag uint64, name string, factory func() Serializable) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tags[name] = tag
	s.factories[tag] = factory
	s.names[tag] = name
}

// Write frames obj onto w and returns the number of bytes written. The
// first occurrence of a type writes a definition frame carrying the full
// type name; subsequent occurrences write only the short numeric tag.
func (s *Serializator) Write(w io.Writer, obj Serializable) (int, error) {
	var payload bytes.Buffer
	if _, err := obj.WriteData(&payload); err != nil {
		return 0, fmt.Errorf("%w: encoding %s: %v", ErrSerialization, obj.SerialName(), err)
	}

	name := obj.SerialName()

	s.mu.Lock()
	tag, known := s.tags[name]
	if !known {
		tag = uint64(len(s.tags)) + 1
		s.tags[name] = tag
		s.names[tag] = name
		if factory, ok := factoryFor(name); ok {
			s.factories[tag] = factory
		}
	}
	s.mu.Unlock()

	var frame []byte
	if !known {
		frame = binary.AppendUvarint(frame, 0)
		frame = binary.AppendUvarint(frame, tag)
		frame = binary.AppendUvarint(frame, uint64(len(name)))
		frame = append(frame, name...)
	} else {
		frame = binary.AppendUvarint(frame, tag)
	}
	frame = binary.AppendUvarint(frame, uint64(payload.Len()))
	frame = append(frame, payload.Bytes()...)

	n, err := w.Write(frame)
	if err != nil {
		return n, err
	}
	return n, nil
}

// ReadObject decodes the next frame from r. A clean end of stream at the
// frame boundary returns ErrEndOfStream; a stream that ends inside a frame
// returns an error wrapping io.ErrUnexpectedEOF.
func (s *Serializator) ReadObject(r io.Reader) (Serializable, error) {
	marker, err := readUvarint(r, true)
	if err != nil {
		return nil, err
	}

	tag := marker
	if marker == 0 {
		tag, err = readUvarint(r, false)
		if err != nil {
			return nil, err
		}
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		factory, ok := factoryFor(name)
		if !ok {
			return nil, fmt.Errorf("%w: unregistered type %q", ErrSerialization, name)
		}
		s.define(tag, name, factory)
	}

	s.mu.RLock()
	factory, ok := s.factories[tag]
	name := s.names[tag]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown type tag %d", ErrSerialization, tag)
	}

	payloadLen, err := readUvarint(r, false)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, truncated(err)
	}

	obj := factory()
	pr := bytes.NewReader(payload)
	if err := obj.ReadData(pr); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrSerialization, name, err)
	}
	if pr.Len() != 0 {
		return nil, fmt.Errorf("%w: %s left %d undecoded payload bytes", ErrSerialization, name, pr.Len())
	}
	return obj, nil
}

// ReadObjectAs decodes the next frame and asserts its concrete type.
func ReadObjectAs[T Serializable](s *Serializator, r io.Reader) (T, error) {
	var zero T

	obj, err := s.ReadObject(r)
	if err != nil {
		return zero, err
	}
	typed, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("%w: decoded %s, expected %T", ErrSerialization, obj.SerialName(), zero)
	}
	return typed, nil
}

// ReadDef primes the tag table from a frame that starts with a type
// definition. Frames using the short form are skipped silently. Used when
// rebuilding the table from a persisted file in arbitrary record order.
func (s *Serializator) ReadDef(r io.Reader) error {
	marker, err := readUvarint(r, true)
	if err != nil {
		return err
	}
	if marker != 0 {
		return nil
	}

	tag, err := readUvarint(r, false)
	if err != nil {
		return err
	}
	name, err := readString(r)
	if err != nil {
		return err
	}
	factory, ok := factoryFor(name)
	if !ok {
		return fmt.Errorf("%w: unregistered type %q", ErrSerialization, name)
	}
	s.define(tag, name, factory)
	return nil
}

// Measure returns the payload size of obj in bytes, without writing
// anything. Framing overhead is excluded.
func Measure(obj Serializable) (int64, error) {
	var cw countingWriter
	if _, err := obj.WriteData(&cw); err != nil {
		return 0, fmt.Errorf("%w: measuring %s: %v", ErrSerialization, obj.SerialName(), err)
	}
	return cw.n, nil
}

type countingWriter struct{ n int64 }

func (cw *countingWriter) Write(p []byte) (int, error) {
	cw.n += int64(len(p))
	return len(p), nil
}

func truncated(err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("serial: truncated record: %w", err)
}

// readUvarint reads a varint one byte at a time so no bytes beyond the
// value are consumed from the stream. With boundary set, a clean EOF on
// the very first byte maps to ErrEndOfStream.
func readUvarint(r io.Reader, boundary bool) (uint64, error) {
	var (
		x     uint64
		shift uint
		buf   [1]byte
		first = true
	)
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			if first && boundary && err == io.EOF {
				return 0, ErrEndOfStream
			}
			return 0, truncated(err)
		}
		first = false

		b := buf[0]
		if shift >= 64 || (shift == 63 && b > 1) {
			return 0, fmt.Errorf("%w: varint overflow", ErrSerialization)
		}
		if b < 0x80 {
			return x | uint64(b)<<shift, nil
		}
		x |= uint64(b&0x7f) << shift
		shift += 7
	}
}

func readString(r io.Reader) (string, error) {
	n, err := readUvarint(r, false)
	if err != nil {
		return "", err
	}
	if n > 1<<20 {
		return "", fmt.Errorf("%w: implausible type name length %d", ErrSerialization, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", truncated(err)
	}
	return string(buf), nil
}
