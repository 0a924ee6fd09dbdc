package storage

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// codecID identifies the record compression codec in the file header.
type codecID byte

const (
	codecNone codecID = iota
	codecZstd
	codecLZ4
)

// compressor compresses record payloads. If compression does not shrink
// the payload, callers store the raw bytes instead (detected on read by
// storedLen == rawLen), so compress may return src unchanged.
type compressor interface {
	id() codecID
	compress(src []byte) ([]byte, error)
	decompress(src []byte, rawLen int) ([]byte, error)
}

func newCompressor(name string) (compressor, error) {
	switch name {
	case "", "none":
		return noneCodec{}, nil
	case "zstd":
		return newZstdCodec()
	case "lz4":
		return &lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("unknown compression codec %q", name)
	}
}

func compressorByID(id codecID) (compressor, error) {
	switch id {
	case codecNone:
		return noneCodec{}, nil
	case codecZstd:
		return newZstdCodec()
	case codecLZ4:
		return &lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("unknown compression codec id %d", id)
	}
}

type noneCodec struct{}

func (noneCodec) id() codecID { return codecNone }

func (noneCodec) compress(src []byte) ([]byte, error) { return src, nil }

func (noneCodec) decompress(src []byte, _ int) ([]byte, error) { return src, nil }

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec() (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (c *zstdCodec) id() codecID { return codecZstd }

func (c *zstdCodec) compress(src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, nil), nil
}

func (c *zstdCodec) decompress(src []byte, rawLen int) ([]byte, error) {
	return c.dec.DecodeAll(src, make([]byte, 0, rawLen))
}

type lz4Codec struct {
	c lz4.Compressor
}

func (c *lz4Codec) id() codecID { return codecLZ4 }

func (c *lz4Codec) compress(src []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := c.c.CompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Incompressible; caller stores raw bytes.
		return src, nil
	}
	return dst[:n], nil
}

func (c *lz4Codec) decompress(src []byte, rawLen int) ([]byte, error) {
	dst := make([]byte, rawLen)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}
