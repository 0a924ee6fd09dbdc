package serial_test

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/metrigo/model"
	"github.com/hupe1980/metrigo/serial"
)

// stutterReader yields no data for a number of reads before delegating,
// imitating a channel with nothing buffered yet.
type stutterReader struct {
	src     io.Reader
	stalls  int
	retries int
}

func (r *stutterReader) Read(p []byte) (int, error) {
	if r.stalls > 0 {
		r.stalls--
		r.retries++
		return 0, nil
	}
	return r.src.Read(p)
}

func TestChannelReader_RetriesEmptyReads(t *testing.T) {
	s := serial.NewSerializator()
	var buf bytes.Buffer
	_, err := s.Write(&buf, model.NewVector("a", []float32{1, 2}))
	require.NoError(t, err)

	src := &stutterReader{src: &buf, stalls: 3}
	cr := serial.NewChannelReaderBackoff(src, time.Millisecond)

	got, err := serial.ReadObjectAs[*model.Vector](serial.NewSerializator(), cr)
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID())
	assert.Equal(t, 3, src.retries)

	// Source closure surfaces as a clean end of stream at the boundary.
	_, err = serial.NewSerializator().ReadObject(cr)
	assert.ErrorIs(t, err, serial.ErrEndOfStream)
}

func TestFileInput_SequentialAndSeek(t *testing.T) {
	s := serial.NewSerializator()
	var buf bytes.Buffer

	v1 := model.NewVector("first", []float32{1, 2, 3})
	v2 := model.NewVector("second", []float32{4, 5, 6})

	n1, err := s.Write(&buf, v1)
	require.NoError(t, err)
	_, err = s.Write(&buf, v2)
	require.NoError(t, err)

	data := buf.Bytes()

	// Small buffer so refills happen mid-frame.
	fi := serial.NewFileInput(bytes.NewReader(data), 16)
	r := serial.NewSerializator()

	got, err := serial.ReadObjectAs[*model.Vector](r, fi)
	require.NoError(t, err)
	assert.Equal(t, "first", got.ID())
	assert.Equal(t, int64(n1), fi.Position())

	got, err = serial.ReadObjectAs[*model.Vector](r, fi)
	require.NoError(t, err)
	assert.Equal(t, "second", got.ID())
	assert.Equal(t, int64(len(data)), fi.Position())

	_, err = r.ReadObject(fi)
	assert.ErrorIs(t, err, serial.ErrEndOfStream)

	// Seek back to the second frame and decode it again.
	fi.SeekTo(int64(n1))
	assert.Equal(t, int64(n1), fi.Position())

	got, err = serial.ReadObjectAs[*model.Vector](r, fi)
	require.NoError(t, err)
	assert.Equal(t, "second", got.ID())
}

func TestFileInput_IndependentPositions(t *testing.T) {
	s := serial.NewSerializator()
	var buf bytes.Buffer
	_, err := s.Write(&buf, model.NewVector("a", []float32{1}))
	require.NoError(t, err)

	data := bytes.NewReader(buf.Bytes())
	r := serial.NewSerializator()

	a := serial.NewFileInput(data, 0)
	b := serial.NewFileInput(data, 0)

	got, err := serial.ReadObjectAs[*model.Vector](r, a)
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID())

	// b still stands at offset 0.
	got, err = serial.ReadObjectAs[*model.Vector](r, b)
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID())
}
