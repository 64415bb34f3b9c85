// Package btree implements an on-disk B+Tree: int64-keyed leaf/internal
// pages with overflow for oversized values, grounded on novasql's
// internal/btree package (tree.go, leaf.go, meta.go) and generalized
// from its slot-page-backed, single-height design to an
// arbitrary-height tree whose pages encode and decode themselves
// directly, the way the intellect4all-storage-engines and
// LemonLoser-SearchEngine B+Trees do.
package btree

import (
	"sort"

	"github.com/sphildreth/decentdb/internal/dberr"
	"github.com/sphildreth/decentdb/internal/pagefmt"
)

type nodeType uint8

const (
	nodeLeaf nodeType = 1
	nodeInternal nodeType = 2
)

// page header: [type:u8][next_leaf:u32][num_keys:u32]
const nodeHeaderSize = 9

// leaf cell: [key:varint][flag:u8]
//   flag 0 (inline):   [value_len:uvarint][value bytes]
//   flag 1 (overflow): [orig_len:uvarint][overflow_page:u32]
type leafEntry struct {
	key      int64
	inline   bool
	value    []byte
	origLen  uint64
	overflow uint32
}

// internal cell: first child has no key; each subsequent child is
// preceded by its separator key. [key:varint][child:u32] per slot after
// the first child.
type internalEntry struct {
	key   int64
	child uint32
}

func newLeafPage(pageSize int) []byte {
	buf := make([]byte, pageSize)
	buf[0] = byte(nodeLeaf)
	return buf
}

func newInternalPage(pageSize int) []byte {
	buf := make([]byte, pageSize)
	buf[0] = byte(nodeInternal)
	return buf
}

func pageType(buf []byte) nodeType { return nodeType(buf[0]) }

func leafNext(buf []byte) uint32        { return pagefmt.GetU32(buf, 1) }
func setLeafNext(buf []byte, next uint32) { pagefmt.PutU32(buf, 1, next) }

func decodeLeaf(buf []byte) ([]leafEntry, error) {
	count := pagefmt.GetU32(buf, 5)
	off := nodeHeaderSize
	out := make([]leafEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		key, w := pagefmt.GetVarint(buf, off)
		if w <= 0 {
			return nil, dberr.New(dberr.CORRUPTION, "btree: malformed leaf key varint")
		}
		off += w
		if off >= len(buf) {
			return nil, dberr.New(dberr.CORRUPTION, "btree: truncated leaf flag")
		}
		flag := buf[off]
		off++
		if flag == 0 {
			n, w2 := pagefmt.GetUvarint(buf, off)
			if w2 <= 0 {
				return nil, dberr.New(dberr.CORRUPTION, "btree: malformed leaf value-length varint")
			}
			off += w2
			if off+int(n) > len(buf) {
				return nil, dberr.New(dberr.CORRUPTION, "btree: truncated leaf value")
			}
			v := make([]byte, n)
			copy(v, buf[off:off+int(n)])
			off += int(n)
			out = append(out, leafEntry{key: key, inline: true, value: v})
		} else {
			origLen, w2 := pagefmt.GetUvarint(buf, off)
			if w2 <= 0 {
				return nil, dberr.New(dberr.CORRUPTION, "btree: malformed leaf orig-length varint")
			}
			off += w2
			if off+4 > len(buf) {
				return nil, dberr.New(dberr.CORRUPTION, "btree: truncated leaf overflow pointer")
			}
			page := pagefmt.GetU32(buf, off)
			off += 4
			out = append(out, leafEntry{key: key, inline: false, origLen: origLen, overflow: page})
		}
	}
	return out, nil
}

func encodeLeafSize(entries []leafEntry) int {
	n := 0
	for _, e := range entries {
		n += varintLen(zigzag(e.key))
		n++ // flag
		if e.inline {
			n += uvarintLen(uint64(len(e.value))) + len(e.value)
		} else {
			n += uvarintLen(e.origLen) + 4
		}
	}
	return n
}

func encodeLeaf(pageSize int, next uint32, entries []leafEntry) []byte {
	buf := newLeafPage(pageSize)
	setLeafNext(buf, next)
	pagefmt.PutU32(buf, 5, uint32(len(entries)))
	body := make([]byte, 0, pageSize-nodeHeaderSize)
	for _, e := range entries {
		body = pagefmt.PutVarint(body, e.key)
		if e.inline {
			body = append(body, 0)
			body = pagefmt.PutUvarint(body, uint64(len(e.value)))
			body = append(body, e.value...)
		} else {
			body = append(body, 1)
			body = pagefmt.PutUvarint(body, e.origLen)
			var ob [4]byte
			pagefmt.LE.PutUint32(ob[:], e.overflow)
			body = append(body, ob[:]...)
		}
	}
	copy(buf[nodeHeaderSize:], body)
	return buf
}

func decodeInternal(buf []byte) (firstChild uint32, entries []internalEntry, err error) {
	count := pagefmt.GetU32(buf, 5)
	off := nodeHeaderSize
	if off+4 > len(buf) {
		return 0, nil, dberr.New(dberr.CORRUPTION, "btree: truncated internal first child")
	}
	firstChild = pagefmt.GetU32(buf, off)
	off += 4
	entries = make([]internalEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		key, w := pagefmt.GetVarint(buf, off)
		if w <= 0 {
			return 0, nil, dberr.New(dberr.CORRUPTION, "btree: malformed internal key varint")
		}
		off += w
		if off+4 > len(buf) {
			return 0, nil, dberr.New(dberr.CORRUPTION, "btree: truncated internal child pointer")
		}
		child := pagefmt.GetU32(buf, off)
		off += 4
		entries = append(entries, internalEntry{key: key, child: child})
	}
	return firstChild, entries, nil
}

func encodeInternalSize(entries []internalEntry) int {
	n := 4 // first child
	for _, e := range entries {
		n += varintLen(zigzag(e.key)) + 4
	}
	return n
}

func encodeInternal(pageSize int, firstChild uint32, entries []internalEntry) []byte {
	buf := newInternalPage(pageSize)
	pagefmt.PutU32(buf, 5, uint32(len(entries)))
	body := make([]byte, 0, pageSize-nodeHeaderSize)
	var fc [4]byte
	pagefmt.LE.PutUint32(fc[:], firstChild)
	body = append(body, fc[:]...)
	for _, e := range entries {
		body = pagefmt.PutVarint(body, e.key)
		var cb [4]byte
		pagefmt.LE.PutUint32(cb[:], e.child)
		body = append(body, cb[:]...)
	}
	copy(buf[nodeHeaderSize:], body)
	return buf
}

// findLeafIndex returns the index of the first entry with key >= target,
// and whether an exact match exists at that index.
func findLeafIndex(entries []leafEntry, target int64) (int, bool) {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].key >= target })
	if i < len(entries) && entries[i].key == target {
		return i, true
	}
	return i, false
}

// childForKey returns which child pointer to descend into for key,
// given an internal node's first child and sorted separator entries.
func childForKey(firstChild uint32, entries []internalEntry, key int64) uint32 {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].key > key })
	if i == 0 {
		return firstChild
	}
	return entries[i-1].child
}

func zigzag(v int64) uint64 { return uint64((v << 1) ^ (v >> 63)) }

func varintLen(u uint64) int {
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

func uvarintLen(u uint64) int { return varintLen(u) }
