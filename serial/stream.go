package serial

import (
	"bufio"
	"io"
	"time"
)

// DefaultReadBackoff is the retry interval applied while a channel yields
// no data without being closed.
const DefaultReadBackoff = 100 * time.Millisecond

// ChannelReader adapts a channel-like source for frame decoding: a read
// that returns zero bytes without an error is retried after a fixed
// backoff until data arrives or the source reports closure. Closure
// surfaces as io.EOF to the decoder, which maps it to ErrEndOfStream at a
// frame boundary.
//
// A ChannelReader is not safe for concurrent use.
type ChannelReader struct {
	src     io.Reader
	backoff time.Duration
}

// NewChannelReader wraps src with the default backoff.
func NewChannelReader(src io.Reader) *ChannelReader {
	return &ChannelReader{src: src, backoff: DefaultReadBackoff}
}

// NewChannelReaderBackoff wraps src with an explicit retry interval.
func NewChannelReaderBackoff(src io.Reader, backoff time.Duration) *ChannelReader {
	if backoff <= 0 {
		backoff = DefaultReadBackoff
	}
	return &ChannelReader{src: src, backoff: backoff}
}

// Read blocks until at least one byte is available or the source is
// closed. A blocked read is not cancellable; interruption of the
// underlying source surfaces as its I/O error.
func (cr *ChannelReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := cr.src.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
		time.Sleep(cr.backoff)
	}
}

// FileInput is a positioned, buffered frame source over a seekable file.
// Every FileInput keeps its own offset, so independent FileInputs over the
// same underlying file are safe to use concurrently (each one alone is
// not).
type FileInput struct {
	src     io.ReaderAt
	pos     int64
	br      *bufio.Reader
	bufSize int
}

// NewFileInput creates a FileInput positioned at offset 0. bufSize <= 0
// selects a 64KB buffer.
func NewFileInput(src io.ReaderAt, bufSize int) *FileInput {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	fi := &FileInput{src: src, bufSize: bufSize}
	fi.br = bufio.NewReaderSize((*fileInputReader)(fi), bufSize)
	return fi
}

// SeekTo repositions the input at an absolute offset previously obtained
// from the storage layer. Sequential decoding resumes from there.
func (fi *FileInput) SeekTo(offset int64) {
	fi.pos = offset
	fi.br.Reset((*fileInputReader)(fi))
}

// Position returns the offset of the next byte Read will deliver.
func (fi *FileInput) Position() int64 {
	return fi.pos - int64(fi.br.Buffered())
}

// Read implements io.Reader over the buffered view.
func (fi *FileInput) Read(p []byte) (int, error) {
	return fi.br.Read(p)
}

// fileInputReader feeds the bufio layer from the ReaderAt at the raw
// position, which tracks bytes pulled into the buffer (not bytes handed
// out; Position corrects for that).
type fileInputReader FileInput

func (r *fileInputReader) Read(p []byte) (int, error) {
	n, err := r.src.ReadAt(p, r.pos)
	r.pos += int64(n)
	if n > 0 && err == io.EOF {
		// Partial tail read; report the data now, EOF on the next call.
		return n, nil
	}
	return n, err
}
