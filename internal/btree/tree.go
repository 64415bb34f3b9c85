package btree

import (
	"github.com/sphildreth/decentdb/internal/overflow"
	"github.com/sphildreth/decentdb/internal/storage"
)

// Tree is an on-disk B+Tree keyed by int64, storing an opaque byte
// payload per key. Oversized payloads are pushed to an overflow chain
// once they exceed PageSize/4.
type Tree struct {
	pager       *storage.Pager
	root        uint32
	pageSize    int
	threshold   int
	hasSnapshot bool
	snapshotLSN uint64
}

// Create allocates a brand-new single-leaf tree and returns it.
func Create(p *storage.Pager) (*Tree, error) {
	rootID, err := p.Allocate()
	if err != nil {
		return nil, err
	}
	h, err := p.Pin(rootID)
	if err != nil {
		return nil, err
	}
	copy(h.Bytes(), newLeafPage(p.PageSize()))
	h.Unpin(true)
	return newTree(p, rootID), nil
}

// Open wraps an existing tree whose root page is already rootPage, for
// use by the current writer (always sees the live cache).
func Open(p *storage.Pager, rootPage uint32) *Tree {
	return newTree(p, rootPage)
}

// OpenSnapshot wraps an existing tree for a reader whose view must be
// pinned to snapshotLSN: every page is read via Pager.ReadPageAsOf
// instead of the live cache, giving the reader snapshot isolation
// across concurrent commits.
func OpenSnapshot(p *storage.Pager, rootPage uint32, snapshotLSN uint64) *Tree {
	t := newTree(p, rootPage)
	t.hasSnapshot = true
	t.snapshotLSN = snapshotLSN
	return t
}

func newTree(p *storage.Pager, root uint32) *Tree {
	return &Tree{pager: p, root: root, pageSize: p.PageSize(), threshold: p.PageSize() / 4}
}

func (t *Tree) RootPage() uint32 { return t.root }

// readPage returns pageID's bytes as this tree should see them: the
// live cache for a writer, or the reader's pinned snapshot version when
// OpenSnapshot configured one.
func (t *Tree) readPage(pageID uint32) ([]byte, error) {
	if t.hasSnapshot {
		return t.pager.ReadPageAsOf(pageID, t.snapshotLSN)
	}
	h, err := t.pager.Pin(pageID)
	if err != nil {
		return nil, err
	}
	defer h.Unpin(false)
	out := make([]byte, len(h.Bytes()))
	copy(out, h.Bytes())
	return out, nil
}

// descend walks from the root to the leaf that should contain key,
// returning the chain of ancestor internal page ids (root-to-parent, not
// including the leaf itself) and the leaf's page id.
func (t *Tree) descend(key int64) ([]uint32, uint32, error) {
	var ancestors []uint32
	page := t.root
	for {
		buf, err := t.readPage(page)
		if err != nil {
			return nil, 0, err
		}
		if pageType(buf) == nodeLeaf {
			return ancestors, page, nil
		}
		firstChild, entries, err := decodeInternal(buf)
		if err != nil {
			return nil, 0, err
		}
		ancestors = append(ancestors, page)
		page = childForKey(firstChild, entries, key)
	}
}

// Find returns the resolved value stored for key, if any.
func (t *Tree) Find(key int64) ([]byte, bool, error) {
	_, leafID, err := t.descend(key)
	if err != nil {
		return nil, false, err
	}
	buf, err := t.readPage(leafID)
	if err != nil {
		return nil, false, err
	}
	entries, err := decodeLeaf(buf)
	if err != nil {
		return nil, false, err
	}
	idx, found := findLeafIndex(entries, key)
	if !found {
		return nil, false, nil
	}
	value, err := t.resolve(entries[idx])
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (t *Tree) resolve(e leafEntry) ([]byte, error) {
	if e.inline {
		return e.value, nil
	}
	return overflow.ReadChain(t.pager, e.overflow)
}

func (t *Tree) leafCapacity() int { return t.pageSize - nodeHeaderSize }

func (t *Tree) internalCapacity() int { return t.pageSize - nodeHeaderSize }

// Insert adds or replaces the value stored for key.
func (t *Tree) Insert(key int64, value []byte) error {
	ancestors, leafID, err := t.descend(key)
	if err != nil {
		return err
	}

	h, err := t.pager.Pin(leafID)
	if err != nil {
		return err
	}
	entries, err := decodeLeaf(h.Bytes())
	next := leafNext(h.Bytes())
	h.Unpin(false)
	if err != nil {
		return err
	}

	newEntry, err := t.makeLeafEntry(key, value)
	if err != nil {
		return err
	}

	idx, found := findLeafIndex(entries, key)
	if found {
		if !entries[idx].inline {
			if err := overflow.FreeChain(t.pager, entries[idx].overflow); err != nil {
				return err
			}
		}
		entries[idx] = newEntry
	} else {
		entries = append(entries, leafEntry{})
		copy(entries[idx+1:], entries[idx:])
		entries[idx] = newEntry
	}

	if encodeLeafSize(entries) <= t.leafCapacity() {
		return t.writeLeaf(leafID, next, entries)
	}
	return t.splitLeaf(ancestors, leafID, next, entries)
}

func (t *Tree) makeLeafEntry(key int64, value []byte) (leafEntry, error) {
	if len(value) <= t.threshold {
		return leafEntry{key: key, inline: true, value: value}, nil
	}
	firstPage, err := overflow.WriteChain(t.pager, value)
	if err != nil {
		return leafEntry{}, err
	}
	return leafEntry{key: key, inline: false, origLen: uint64(len(value)), overflow: firstPage}, nil
}

func (t *Tree) writeLeaf(pageID uint32, next uint32, entries []leafEntry) error {
	h, err := t.pager.Pin(pageID)
	if err != nil {
		return err
	}
	copy(h.Bytes(), encodeLeaf(t.pageSize, next, entries))
	h.Unpin(true)
	return nil
}

func (t *Tree) writeInternal(pageID uint32, firstChild uint32, entries []internalEntry) error {
	h, err := t.pager.Pin(pageID)
	if err != nil {
		return err
	}
	copy(h.Bytes(), encodeInternal(t.pageSize, firstChild, entries))
	h.Unpin(true)
	return nil
}

func (t *Tree) splitLeaf(ancestors []uint32, leafID uint32, oldNext uint32, entries []leafEntry) error {
	mid := len(entries) / 2
	left := entries[:mid]
	right := entries[mid:]

	rightID, err := t.pager.Allocate()
	if err != nil {
		return err
	}
	if err := t.writeLeaf(rightID, oldNext, right); err != nil {
		return err
	}
	if err := t.writeLeaf(leafID, rightID, left); err != nil {
		return err
	}

	return t.insertIntoParent(ancestors, leafID, right[0].key, rightID)
}

// insertIntoParent threads a new (separator, rightChild) pair into the
// parent of the node that just split, splitting the parent in turn and
// recursing upward, or creating a new root if leftChild had none.
func (t *Tree) insertIntoParent(ancestors []uint32, leftChild uint32, sepKey int64, rightChild uint32) error {
	if len(ancestors) == 0 {
		newRootID, err := t.pager.Allocate()
		if err != nil {
			return err
		}
		if err := t.writeInternal(newRootID, leftChild, []internalEntry{{key: sepKey, child: rightChild}}); err != nil {
			return err
		}
		t.root = newRootID
		return nil
	}

	parentID := ancestors[len(ancestors)-1]
	h, err := t.pager.Pin(parentID)
	if err != nil {
		return err
	}
	firstChild, entries, err := decodeInternal(h.Bytes())
	h.Unpin(false)
	if err != nil {
		return err
	}

	pos := 0
	for pos < len(entries) && entries[pos].key <= sepKey {
		pos++
	}
	entries = append(entries, internalEntry{})
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = internalEntry{key: sepKey, child: rightChild}

	if encodeInternalSize(entries) <= t.internalCapacity() {
		return t.writeInternal(parentID, firstChild, entries)
	}

	mid := len(entries) / 2
	median := entries[mid]
	leftEntries := entries[:mid]
	rightEntries := entries[mid+1:]

	newInternalID, err := t.pager.Allocate()
	if err != nil {
		return err
	}
	if err := t.writeInternal(newInternalID, median.child, rightEntries); err != nil {
		return err
	}
	if err := t.writeInternal(parentID, firstChild, leftEntries); err != nil {
		return err
	}

	return t.insertIntoParent(ancestors[:len(ancestors)-1], parentID, median.key, newInternalID)
}

// Delete removes the entry for key, if present. Emptied leaves are kept
// in the sibling chain rather than unlinked and reclaimed: there is no
// rebalance-on-delete here, and reclaiming a leaf safely would require
// a doubly-linked sibling chain this format does not carry.
func (t *Tree) Delete(key int64) (bool, error) {
	_, leafID, err := t.descend(key)
	if err != nil {
		return false, err
	}
	h, err := t.pager.Pin(leafID)
	if err != nil {
		return false, err
	}
	entries, err := decodeLeaf(h.Bytes())
	next := leafNext(h.Bytes())
	h.Unpin(false)
	if err != nil {
		return false, err
	}

	idx, found := findLeafIndex(entries, key)
	if !found {
		return false, nil
	}
	if !entries[idx].inline {
		if err := overflow.FreeChain(t.pager, entries[idx].overflow); err != nil {
			return false, err
		}
	}
	entries = append(entries[:idx], entries[idx+1:]...)
	return true, t.writeLeaf(leafID, next, entries)
}

// DeleteKeyValue removes the entry for key whose inline value matches
// value exactly, used by non-unique secondary indexes where several
// entries can share a key. Entries whose value was pushed to an overflow
// chain are never matched; index payloads are small rowid pointers that
// never reach the overflow threshold.
func (t *Tree) DeleteKeyValue(key int64, value []byte) (bool, error) {
	_, leafID, err := t.descend(key)
	if err != nil {
		return false, err
	}
	h, err := t.pager.Pin(leafID)
	if err != nil {
		return false, err
	}
	entries, err := decodeLeaf(h.Bytes())
	next := leafNext(h.Bytes())
	h.Unpin(false)
	if err != nil {
		return false, err
	}

	for i, e := range entries {
		if e.key != key || !e.inline || !bytesEqual(e.value, value) {
			continue
		}
		entries = append(entries[:i], entries[i+1:]...)
		return true, t.writeLeaf(leafID, next, entries)
	}
	return false, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Cursor iterates leaf entries in ascending key order starting at a
// given key, following sibling pointers across leaf pages.
type Cursor struct {
	tree    *Tree
	leafID  uint32
	entries []leafEntry
	idx     int
	err     error
}

// OpenCursor positions a Cursor at the first entry with key >= startKey.
func (t *Tree) OpenCursor(startKey int64) (*Cursor, error) {
	_, leafID, err := t.descend(startKey)
	if err != nil {
		return nil, err
	}
	c := &Cursor{tree: t, leafID: leafID}
	if err := c.loadLeaf(); err != nil {
		return nil, err
	}
	c.idx, _ = findLeafIndex(c.entries, startKey)
	c.skipToNonEmpty()
	return c, nil
}

func (c *Cursor) loadLeaf() error {
	buf, err := c.tree.readPage(c.leafID)
	if err != nil {
		return err
	}
	entries, err := decodeLeaf(buf)
	if err != nil {
		return err
	}
	c.entries = entries
	c.idx = 0
	return nil
}

// skipToNonEmpty advances across empty leaves left behind by Delete.
func (c *Cursor) skipToNonEmpty() {
	for c.idx >= len(c.entries) {
		buf, err := c.tree.readPage(c.leafID)
		if err != nil {
			c.err = err
			return
		}
		next := leafNext(buf)
		if next == 0 {
			return
		}
		c.leafID = next
		if err := c.loadLeaf(); err != nil {
			c.err = err
			return
		}
	}
}

// Next returns the next (key, resolved value) pair, or ok=false once the
// tree is exhausted.
func (c *Cursor) Next() (key int64, value []byte, ok bool, err error) {
	if c.err != nil {
		return 0, nil, false, c.err
	}
	if c.idx >= len(c.entries) {
		return 0, nil, false, nil
	}
	e := c.entries[c.idx]
	c.idx++
	v, err := c.tree.resolve(e)
	if err != nil {
		return 0, nil, false, err
	}
	c.skipToNonEmpty()
	return e.key, v, true, nil
}
