package index_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/metrigo/index"
	"github.com/hupe1980/metrigo/model"
	"github.com/hupe1980/metrigo/storage"
)

func newIndex(t *testing.T) *index.OrderedIndex[string, *model.Vector] {
	t.Helper()

	cmp := index.Funcs[string, *model.Vector]{
		Extract: func(v *model.Vector) string { return v.ID() },
		Compare: strings.Compare,
	}
	return index.New[string, *model.Vector](cmp, storage.NewMemoryStorage[*model.Vector]())
}

func vec(id string, mark float32) *model.Vector {
	return model.NewVector(id, []float32{mark})
}

// keysOf drains a cursor forward and collects the keys it visits.
func keysOf(t *testing.T, c *index.Cursor[string, *model.Vector]) []string {
	t.Helper()

	var keys []string
	for c.Next() {
		k, err := c.CurrentKey()
		require.NoError(t, err)
		keys = append(keys, k)
	}
	return keys
}

func TestOrderedIndex_AddKeepsOrder(t *testing.T) {
	idx := newIndex(t)

	for _, id := range []string{"5", "3", "8", "1"} {
		require.NoError(t, idx.Add(vec(id, 0)))
	}
	assert.Equal(t, 4, idx.Len())
	assert.Equal(t, []string{"1", "3", "5", "8"}, keysOf(t, idx.Search()))
}

func TestOrderedIndex_DuplicatesAreFIFO(t *testing.T) {
	idx := newIndex(t)

	// Two objects under the key "3"; the marks tell them apart.
	require.NoError(t, idx.Add(vec("5", 0)))
	require.NoError(t, idx.Add(vec("3", 1)))
	require.NoError(t, idx.Add(vec("3", 2)))
	require.NoError(t, idx.Add(vec("8", 0)))

	c := idx.SearchKey("3", true)
	require.True(t, c.Next())
	first, err := c.Current()
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, first.Values())

	require.True(t, c.Next())
	second, err := c.Current()
	require.NoError(t, err)
	assert.Equal(t, []float32{2}, second.Values())

	assert.False(t, c.Next())

	// Deletion among duplicates removes the oldest first.
	c = idx.SearchKey("3", true)
	require.True(t, c.Next())
	require.NoError(t, c.Remove())

	c = idx.SearchKey("3", true)
	require.True(t, c.Next())
	remaining, err := c.Current()
	require.NoError(t, err)
	assert.Equal(t, []float32{2}, remaining.Values())
}

func TestOrderedIndex_SearchKeyUnrestricted(t *testing.T) {
	idx := newIndex(t)
	for _, id := range []string{"1", "3", "5", "8"} {
		require.NoError(t, idx.Add(vec(id, 0)))
	}

	// Anchored at an absent key: Next yields entries >= key, Previous
	// yields entries < key.
	c := idx.SearchKey("4", false)
	assert.Equal(t, []string{"5", "8"}, keysOf(t, c))

	c = idx.SearchKey("4", false)
	require.True(t, c.Previous())
	k, err := c.CurrentKey()
	require.NoError(t, err)
	assert.Equal(t, "3", k)
}

func TestOrderedIndex_SearchKeyAbsent(t *testing.T) {
	idx := newIndex(t)
	require.NoError(t, idx.Add(vec("3", 0)))

	c := idx.SearchKey("4", true)
	assert.False(t, c.Next())
	assert.False(t, c.OnElement())
	_, err := c.Current()
	assert.ErrorIs(t, err, index.ErrNoSuchElement)
}

func TestOrderedIndex_SearchRange(t *testing.T) {
	idx := newIndex(t)
	for _, id := range []string{"1", "3", "5", "8"} {
		require.NoError(t, idx.Add(vec(id, 0)))
	}

	assert.Equal(t, []string{"3", "5"}, keysOf(t, idx.SearchRange("2", "6")))
	assert.Equal(t, []string{"3", "5"}, keysOf(t, idx.SearchRange("3", "5")))
	assert.Empty(t, keysOf(t, idx.SearchRange("6", "2")))
	assert.Empty(t, keysOf(t, idx.SearchRange("9", "z")))
}

func TestOrderedIndex_SearchKeyRange(t *testing.T) {
	idx := newIndex(t)
	for _, id := range []string{"1", "3", "5", "8"} {
		require.NoError(t, idx.Add(vec(id, 0)))
	}

	// Anchored inside the range: backward traversal stops at the range
	// edge, not the index edge.
	c := idx.SearchKeyRange("5", "3", "8")
	require.True(t, c.Previous())
	k, err := c.CurrentKey()
	require.NoError(t, err)
	assert.Equal(t, "3", k)
	assert.False(t, c.Previous())

	// Anchor below the range clamps to before its first element.
	c = idx.SearchKeyRange("0", "3", "8")
	assert.Equal(t, []string{"3", "5", "8"}, keysOf(t, c))
}

func TestOrderedIndex_SearchPositions(t *testing.T) {
	idx := newIndex(t)
	for _, id := range []string{"1", "3", "5", "8"} {
		require.NoError(t, idx.Add(vec(id, 0)))
	}

	assert.Equal(t, []string{"3", "5"}, keysOf(t, idx.SearchPositions(1, 2)))
	// Out-of-range positions are clamped.
	assert.Equal(t, []string{"1", "3", "5", "8"}, keysOf(t, idx.SearchPositions(-3, 99)))
}

func TestCursor_NextPreviousExhaustion(t *testing.T) {
	idx := newIndex(t)
	require.NoError(t, idx.Add(vec("a", 0)))
	require.NoError(t, idx.Add(vec("b", 0)))

	c := idx.Search()
	assert.False(t, c.OnElement())
	assert.True(t, c.Next())
	assert.True(t, c.Next())
	assert.False(t, c.Next())
	assert.False(t, c.Next())

	// Exhausted forward; stepping back lands on the last element.
	assert.True(t, c.Previous())
	k, err := c.CurrentKey()
	require.NoError(t, err)
	assert.Equal(t, "b", k)
}

func TestCursor_Skip(t *testing.T) {
	idx := newIndex(t)
	for _, id := range []string{"1", "3", "5", "8"} {
		require.NoError(t, idx.Add(vec(id, 0)))
	}

	c := idx.Search()
	require.True(t, c.Skip(2))
	k, err := c.CurrentKey()
	require.NoError(t, err)
	assert.Equal(t, "3", k)

	require.True(t, c.Skip(-1))
	k, err = c.CurrentKey()
	require.NoError(t, err)
	assert.Equal(t, "1", k)

	// A destination outside the range leaves the cursor unmoved.
	assert.False(t, c.Skip(10))
	assert.False(t, c.Skip(-10))
	k, err = c.CurrentKey()
	require.NoError(t, err)
	assert.Equal(t, "1", k)
}

func TestCursor_Remove(t *testing.T) {
	idx := newIndex(t)
	for _, id := range []string{"1", "3", "5"} {
		require.NoError(t, idx.Add(vec(id, 0)))
	}

	c := idx.Search()
	require.True(t, c.Next())
	require.True(t, c.Next()) // on "3"
	require.NoError(t, c.Remove())

	// The next step lands on the removed element's successor.
	require.True(t, c.Next())
	k, err := c.CurrentKey()
	require.NoError(t, err)
	assert.Equal(t, "5", k)

	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, 2, idx.Storage().Count())

	// Removing while not on an element fails.
	c2 := idx.Search()
	assert.ErrorIs(t, c2.Remove(), index.ErrNoSuchElement)
}

func TestCursor_Clone(t *testing.T) {
	idx := newIndex(t)
	for _, id := range []string{"1", "3", "5"} {
		require.NoError(t, idx.Add(vec(id, 0)))
	}

	c := idx.Search()
	require.True(t, c.Next())

	clone := c.Clone()
	require.True(t, clone.Next())

	// The clone moved; the original did not.
	k, err := clone.CurrentKey()
	require.NoError(t, err)
	assert.Equal(t, "3", k)

	k, err = c.CurrentKey()
	require.NoError(t, err)
	assert.Equal(t, "1", k)
}

func TestOrderedIndex_Adopt(t *testing.T) {
	st := storage.NewMemoryStorage[*model.Vector]()
	cmp := index.Funcs[string, *model.Vector]{
		Extract: func(v *model.Vector) string { return v.ID() },
		Compare: strings.Compare,
	}

	// Records stored outside the index, as after reattaching a file.
	a1, err := st.Store(vec("5", 0))
	require.NoError(t, err)
	a2, err := st.Store(vec("1", 0))
	require.NoError(t, err)

	idx := index.New[string, *model.Vector](cmp, st)
	v1, err := a1.Read()
	require.NoError(t, err)
	idx.Adopt(v1, a1)
	v2, err := a2.Read()
	require.NoError(t, err)
	idx.Adopt(v2, a2)

	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, 2, st.Count())
	assert.Equal(t, []string{"1", "5"}, keysOf(t, idx.Search()))
}
