package index

// Cursor is a stateful position within the index order, optionally
// restricted to a contiguous range. A cursor either stands on an element
// or in a gap between elements; a fresh cursor starts in the gap before
// its first element. Next and Previous step onto the adjacent element or
// into the edge gap when none remains in that direction.
//
// Cursors provide no isolation: structural mutation during a cursor's
// lifetime has undefined positional effect unless the caller holds the
// storage's lock capability.
type Cursor[K, T any] struct {
	idx *OrderedIndex[K, T]

	lo, hi int  // inclusive element bounds
	pos    int  // element when on, otherwise the gap after this element
	on     bool // standing on an element vs. in a gap
}

// Search returns an unrestricted cursor over the full order, positioned
// before the first element.
func (i *OrderedIndex[K, T]) Search() *Cursor[K, T] {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return &Cursor[K, T]{idx: i, lo: 0, hi: len(i.entries) - 1, pos: -1}
}

// SearchKey returns a cursor anchored at key. With restrictEqual the
// cursor is limited to the contiguous run of entries equal to key (in
// insertion order), positioned before the first of them; otherwise it
// covers the full order and stands in the gap at key's insertion point,
// so Next yields entries >= key and Previous yields entries < key,
// greatest first.
func (i *OrderedIndex[K, T]) SearchKey(key K, restrictEqual bool) *Cursor[K, T] {
	i.mu.RLock()
	defer i.mu.RUnlock()

	lb := i.lowerBound(key)
	if restrictEqual {
		ub := i.upperBound(key)
		return &Cursor[K, T]{idx: i, lo: lb, hi: ub - 1, pos: lb - 1}
	}
	return &Cursor[K, T]{idx: i, lo: 0, hi: len(i.entries) - 1, pos: lb - 1}
}

// SearchRange returns a cursor restricted to the closed key range
// [from, to], positioned before its first element. from > to yields an
// empty cursor.
func (i *OrderedIndex[K, T]) SearchRange(from, to K) *Cursor[K, T] {
	i.mu.RLock()
	defer i.mu.RUnlock()

	lo := i.lowerBound(from)
	hi := i.upperBound(to) - 1
	return &Cursor[K, T]{idx: i, lo: lo, hi: hi, pos: lo - 1}
}

// SearchKeyRange returns a cursor restricted to [from, to] with its
// initial gap anchored at key's insertion point, clamped into the range.
func (i *OrderedIndex[K, T]) SearchKeyRange(key, from, to K) *Cursor[K, T] {
	i.mu.RLock()
	defer i.mu.RUnlock()

	lo := i.lowerBound(from)
	hi := i.upperBound(to) - 1
	pos := i.lowerBound(key) - 1
	if pos < lo-1 {
		pos = lo - 1
	}
	if pos > hi {
		pos = hi
	}
	return &Cursor[K, T]{idx: i, lo: lo, hi: hi, pos: pos}
}

// SearchPositions returns a cursor restricted to the absolute positions
// [from, to] of the current order, positioned before its first element.
func (i *OrderedIndex[K, T]) SearchPositions(from, to int) *Cursor[K, T] {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if from < 0 {
		from = 0
	}
	if to > len(i.entries)-1 {
		to = len(i.entries) - 1
	}
	return &Cursor[K, T]{idx: i, lo: from, hi: to, pos: from - 1}
}

// Next advances to the following element, reporting whether the cursor
// now stands on one. With none remaining it moves into the gap after the
// last element.
func (c *Cursor[K, T]) Next() bool {
	target := c.pos + 1
	if target > c.hi {
		if c.on {
			c.on = false
		}
		return false
	}
	c.pos = target
	c.on = true
	return true
}

// Previous moves back to the preceding element, reporting whether the
// cursor now stands on one. From a gap it steps onto the element just
// before the gap.
func (c *Cursor[K, T]) Previous() bool {
	target := c.pos
	if c.on {
		target--
	}
	if target < c.lo {
		if c.on {
			c.pos, c.on = c.lo-1, false
		}
		return false
	}
	c.pos = target
	c.on = true
	return true
}

// Skip moves n steps forward (n > 0) or |n| backward (n < 0), equivalent
// to that many Next or Previous calls. It reports whether the
// destination is a valid element; a destination outside the range leaves
// the cursor unmoved and returns false.
func (c *Cursor[K, T]) Skip(n int) bool {
	if n == 0 {
		return c.on
	}
	target := c.pos + n
	if !c.on && n < 0 {
		// The first backward step out of a gap lands on the element just
		// before it.
		target++
	}
	if target < c.lo || target > c.hi {
		return false
	}
	c.pos = target
	c.on = true
	return true
}

// OnElement reports whether the cursor currently stands on an element.
func (c *Cursor[K, T]) OnElement() bool {
	return c.on
}

// Current reads the object the cursor stands on. ErrNoSuchElement if the
// cursor is in a gap; a failing read of an indexed address is reported
// as corruption.
func (c *Cursor[K, T]) Current() (T, error) {
	c.idx.mu.RLock()
	defer c.idx.mu.RUnlock()

	var zero T
	if !c.on || c.pos >= len(c.idx.entries) {
		return zero, ErrNoSuchElement
	}
	return c.idx.readAt(c.pos)
}

// CurrentKey returns the key of the element the cursor stands on.
func (c *Cursor[K, T]) CurrentKey() (K, error) {
	c.idx.mu.RLock()
	defer c.idx.mu.RUnlock()

	var zero K
	if !c.on || c.pos >= len(c.idx.entries) {
		return zero, ErrNoSuchElement
	}
	return c.idx.entries[c.pos].key, nil
}

// Remove deletes the element the cursor stands on from the storage and
// the index. The cursor moves into the gap the element occupied, so the
// following Next lands on the removed element's successor.
func (c *Cursor[K, T]) Remove() error {
	c.idx.mu.Lock()
	defer c.idx.mu.Unlock()

	if !c.on || c.pos >= len(c.idx.entries) {
		return ErrNoSuchElement
	}
	if err := c.idx.removeAt(c.pos); err != nil {
		return err
	}
	c.hi--
	c.pos--
	c.on = false
	return nil
}

// Clone returns an independent cursor at the same position with the same
// range restriction.
func (c *Cursor[K, T]) Clone() *Cursor[K, T] {
	clone := *c
	return &clone
}
