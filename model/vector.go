package model

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/hupe1980/metrigo/metric"
	"github.com/hupe1980/metrigo/serial"
)

func init() {
	serial.Register("metrigo.Vector", func() serial.Serializable { return &Vector{} })
	serial.Register("metrigo.MetaVector", func() serial.Serializable { return &MetaVector{} })
}

// Vector is a float32 vector object with an L2 metric.
// Payload format: [idLen uvarint][id][dim:4][values N*4], little-endian.
type Vector struct {
	id     string
	values []float32
}

// NewVector creates a Vector. The values slice is retained, not copied.
func NewVector(id string, values []float32) *Vector {
	return &Vector{id: id, values: values}
}

// ID returns the object identifier.
func (v *Vector) ID() string { return v.id }

// Values returns the vector components. Treat as read-only.
func (v *Vector) Values() []float32 { return v.values }

// SerialName implements serial.Serializable.
func (v *Vector) SerialName() string { return "metrigo.Vector" }

// WriteData implements serial.Serializable.
func (v *Vector) WriteData(w io.Writer) (int, error) {
	buf := binary.AppendUvarint(nil, uint64(len(v.id)))
	buf = append(buf, v.id...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.values)))
	for _, f := range v.values {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return w.Write(buf)
}

// ReadData implements serial.Serializable.
func (v *Vector) ReadData(r io.Reader) error {
	id, err := readLenString(r)
	if err != nil {
		return err
	}
	v.id = id

	var dim uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return err
	}
	v.values = make([]float32, dim)
	for i := range v.values {
		var bits uint32
		if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
			return err
		}
		v.values[i] = math.Float32frombits(bits)
	}
	return nil
}

// Distance returns the Euclidean distance to other, which must be a
// vector object of the same dimension.
func (v *Vector) Distance(other Object) (float32, error) {
	switch o := other.(type) {
	case *Vector:
		return metric.L2(v.values, o.values)
	case *MetaVector:
		return metric.L2(v.values, o.values)
	default:
		return 0, fmt.Errorf("incompatible object type %T", other)
	}
}

// MetaVector is a Vector carrying an opaque payload alongside the vector
// data, for callers that attach application records to the metric object.
type MetaVector struct {
	Vector
	payload []byte
}

// NewMetaVector creates a MetaVector. Slices are retained, not copied.
func NewMetaVector(id string, values []float32, payload []byte) *MetaVector {
	return &MetaVector{Vector: Vector{id: id, values: values}, payload: payload}
}

// Payload returns the opaque payload. Treat as read-only.
func (m *MetaVector) Payload() []byte { return m.payload }

// SerialName implements serial.Serializable.
func (m *MetaVector) SerialName() string { return "metrigo.MetaVector" }

// WriteData implements serial.Serializable.
func (m *MetaVector) WriteData(w io.Writer) (int, error) {
	n, err := m.Vector.WriteData(w)
	if err != nil {
		return n, err
	}

	buf := binary.AppendUvarint(nil, uint64(len(m.payload)))
	buf = append(buf, m.payload...)
	n2, err := w.Write(buf)
	return n + n2, err
}

// ReadData implements serial.Serializable.
func (m *MetaVector) ReadData(r io.Reader) error {
	if err := m.Vector.ReadData(r); err != nil {
		return err
	}

	plen, err := binary.ReadUvarint(byteReader{r})
	if err != nil {
		return err
	}
	m.payload = make([]byte, plen)
	_, err = io.ReadFull(r, m.payload)
	return err
}

func readLenString(r io.Reader) (string, error) {
	n, err := binary.ReadUvarint(byteReader{r})
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// byteReader adapts an io.Reader for binary.ReadUvarint without
// over-reading.
type byteReader struct{ r io.Reader }

func (b byteReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}
