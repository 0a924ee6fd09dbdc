// Package serial implements the binary serialization protocol used by the
// storage layer.
//
// Records are framed back-to-back with no separators. Every frame starts
// with a varint marker: a zero marker introduces a type definition (the
// assigned numeric tag plus the full type name), any other marker is the
// numeric tag of a previously defined type. A Serializator caches tags per
// instance, so homogeneous streams pay the full type name exactly once.
//
// A clean end of stream exactly at a frame boundary is reported as
// ErrEndOfStream; a frame cut short is reported as an I/O failure wrapping
// io.ErrUnexpectedEOF. The two conditions are deliberately distinct.
package serial
