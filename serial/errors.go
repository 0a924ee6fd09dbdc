package serial

import "errors"

// ErrEndOfStream is returned when a stream ends cleanly at a frame
// boundary. It signals expected termination and is never wrapped into an
// I/O error.
var ErrEndOfStream = errors.New("end of stream")

// ErrSerialization is returned for unknown type tags, unregistered type
// names and corrupt frames.
var ErrSerialization = errors.New("serialization error")
