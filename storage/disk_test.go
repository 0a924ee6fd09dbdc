package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/metrigo/model"
	"github.com/hupe1980/metrigo/storage"
)

func newDisk(t *testing.T, opts storage.DiskOptions) *storage.DiskStorage[*model.Vector] {
	t.Helper()

	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "bucket.store")
	}
	s, err := storage.NewDiskStorage[*model.Vector](opts)
	require.NoError(t, err)
	return s
}

func TestDiskStorage_StoreReadRemove(t *testing.T) {
	s := newDisk(t, storage.DiskOptions{})
	defer s.Destroy()

	addr, err := s.Store(model.NewVector("a", []float32{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count())
	assert.Positive(t, s.StoredBytes())

	got, err := addr.Read()
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID())
	assert.Equal(t, []float32{1, 2, 3}, got.Values())

	require.NoError(t, addr.Remove())
	assert.Equal(t, 0, s.Count())
	assert.Zero(t, s.StoredBytes())

	_, err = addr.Read()
	assert.ErrorIs(t, err, storage.ErrInvalidAddress)
	assert.ErrorIs(t, addr.Remove(), storage.ErrInvalidAddress)
}

func TestDiskStorage_Reattach(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bucket.store")

	s := newDisk(t, storage.DiskOptions{Path: path})
	a1, err := s.Store(model.NewVector("a", []float32{1}))
	require.NoError(t, err)
	a2, err := s.Store(model.NewVector("b", []float32{2}))
	require.NoError(t, err)
	_, err = s.Store(model.NewVector("c", []float32{3}))
	require.NoError(t, err)
	require.NoError(t, a2.Remove())
	require.NoError(t, s.Close())
	_ = a1

	// A fresh storage over the same file adopts its contents, including
	// the serializator tag table rebuilt from the definition frames.
	s2 := newDisk(t, storage.DiskOptions{Path: path})
	defer s2.Destroy()
	assert.Equal(t, 2, s2.Count())

	addrs, err := s2.Addresses()
	require.NoError(t, err)
	require.Len(t, addrs, 2)

	var ids []string
	for _, addr := range addrs {
		obj, err := addr.Read()
		require.NoError(t, err)
		ids = append(ids, obj.ID())
	}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)
}

func TestDiskStorage_ReattachIncompatible(t *testing.T) {
	t.Run("bad magic", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "garbage.store")
		require.NoError(t, os.WriteFile(path, []byte("definitely not a storage"), 0o644))

		_, err := storage.NewDiskStorage[*model.Vector](storage.DiskOptions{Path: path})
		assert.ErrorIs(t, err, storage.ErrIncompatible)
	})

	t.Run("short file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "short.store")
		require.NoError(t, os.WriteFile(path, []byte{0x42}, 0o644))

		_, err := storage.NewDiskStorage[*model.Vector](storage.DiskOptions{Path: path})
		assert.ErrorIs(t, err, storage.ErrIncompatible)
	})
}

func TestDiskStorage_TemporaryCloseReopensTransparently(t *testing.T) {
	s := newDisk(t, storage.DiskOptions{})
	defer s.Destroy()

	var addrs []storage.Address[*model.Vector]
	for i, id := range []string{"a", "b", "c"} {
		addr, err := s.Store(model.NewVector(id, []float32{float32(i)}))
		require.NoError(t, err)
		addrs = append(addrs, addr)
	}

	// First pass observes the accesses and only resets the counter; the
	// second pass finds the storage idle and releases the handle.
	assert.False(t, s.CloseTemporarilyIfIdle(true))
	assert.True(t, s.CloseTemporarilyIfIdle(true))

	// Reads through existing addresses reopen the file transparently.
	for i, id := range []string{"a", "b", "c"} {
		got, err := addrs[i].Read()
		require.NoError(t, err)
		assert.Equal(t, id, got.ID())
	}

	// That read counts as an access again.
	assert.False(t, s.CloseTemporarilyIfIdle(true))
}

func TestDiskStorage_FreeBlockReuse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bucket.store")
	s := newDisk(t, storage.DiskOptions{Path: path})
	defer s.Destroy()

	// Same id length and dimension, so the records occupy equal blocks.
	_, err := s.Store(model.NewVector("aa", []float32{1, 2}))
	require.NoError(t, err)
	a2, err := s.Store(model.NewVector("bb", []float32{3, 4}))
	require.NoError(t, err)
	_, err = s.Store(model.NewVector("cc", []float32{5, 6}))
	require.NoError(t, err)

	require.NoError(t, s.Flush())
	info, err := os.Stat(path)
	require.NoError(t, err)
	sizeBefore := info.Size()

	require.NoError(t, a2.Remove())
	a4, err := s.Store(model.NewVector("dd", []float32{7, 8}))
	require.NoError(t, err)

	// The freed block was recycled; the file did not grow.
	require.NoError(t, s.Flush())
	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, sizeBefore, info.Size())

	got, err := a4.Read()
	require.NoError(t, err)
	assert.Equal(t, "dd", got.ID())
}

func TestDiskStorage_Capacity(t *testing.T) {
	s := newDisk(t, storage.DiskOptions{Capacity: 2})
	defer s.Destroy()

	_, err := s.Store(model.NewVector("a", []float32{1}))
	require.NoError(t, err)
	_, err = s.Store(model.NewVector("b", []float32{2}))
	require.NoError(t, err)

	_, err = s.Store(model.NewVector("c", []float32{3}))
	assert.ErrorIs(t, err, storage.ErrFull)
	assert.Equal(t, 2, s.Count())
}

func TestDiskStorage_Compression(t *testing.T) {
	for _, codec := range []string{"zstd", "lz4"} {
		t.Run(codec, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bucket.store")
			s := newDisk(t, storage.DiskOptions{Path: path, Compression: codec})

			// Highly compressible payload.
			values := make([]float32, 512)
			addr, err := s.Store(model.NewVector("big", values))
			require.NoError(t, err)

			got, err := addr.Read()
			require.NoError(t, err)
			assert.Equal(t, values, got.Values())

			require.NoError(t, s.Close())

			// Reattaching adopts the file's codec regardless of options.
			s2 := newDisk(t, storage.DiskOptions{Path: path})
			defer s2.Destroy()

			addrs, err := s2.Addresses()
			require.NoError(t, err)
			require.Len(t, addrs, 1)

			got, err = addrs[0].Read()
			require.NoError(t, err)
			assert.Equal(t, "big", got.ID())
			assert.Equal(t, values, got.Values())
		})
	}
}

func TestDiskStorage_DirectIO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bucket.store")
	s := newDisk(t, storage.DiskOptions{Path: path, DirectIO: true})
	defer s.Destroy()

	_, err := s.Store(model.NewVector("a", []float32{1, 2}))
	require.NoError(t, err)

	// No write buffer: the record is on disk without a flush.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(8))
}

func TestDiskStorage_ReadAsync(t *testing.T) {
	s := newDisk(t, storage.DiskOptions{ReadWorkers: 2})
	defer s.Destroy()

	addr, err := s.Store(model.NewVector("a", []float32{1, 2}))
	require.NoError(t, err)

	ch, err := s.ReadAsync(context.Background(), addr)
	require.NoError(t, err)

	res := <-ch
	require.NoError(t, res.Err)
	assert.Equal(t, "a", res.Object.ID())
}

func TestDiskStorage_Destroy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bucket.store")
	s := newDisk(t, storage.DiskOptions{Path: path})

	_, err := s.Store(model.NewVector("a", []float32{1}))
	require.NoError(t, err)

	require.NoError(t, s.Destroy())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
