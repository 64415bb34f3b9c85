package storage

import "github.com/sphildreth/decentdb/internal/pagefmt"

// Trunk page layout: [next_trunk:u32][count:u32][page_id:u32]*, mirroring
// the freelist chain novasql's internal/storage/sm.go manages per segment,
// generalized here to a single whole-file chain.
const (
	trunkHeaderSize = 8
	trunkEntrySize  = 4
)

func trunkCapacity(pageSize int) int {
	return (pageSize - trunkHeaderSize) / trunkEntrySize
}

func encodeTrunk(nextTrunk uint32, ids []uint32, pageSize int) []byte {
	buf := make([]byte, pageSize)
	pagefmt.PutU32(buf, 0, nextTrunk)
	pagefmt.PutU32(buf, 4, uint32(len(ids)))
	off := trunkHeaderSize
	for _, id := range ids {
		pagefmt.PutU32(buf, off, id)
		off += trunkEntrySize
	}
	return buf
}

func decodeTrunk(buf []byte) (nextTrunk uint32, ids []uint32) {
	nextTrunk = pagefmt.GetU32(buf, 0)
	count := pagefmt.GetU32(buf, 4)
	ids = make([]uint32, count)
	off := trunkHeaderSize
	for i := range ids {
		ids[i] = pagefmt.GetU32(buf, off)
		off += trunkEntrySize
	}
	return nextTrunk, ids
}

// pageStore is the slice of Pager that Freelist needs: raw page I/O and
// the ability to extend the file for pages the freelist has none to
// offer. Kept minimal so Freelist has no circular dependency on Pager.
type pageStore interface {
	readPage(pageID uint32) ([]byte, error)
	writePage(pageID uint32, data []byte) error
	extendFile() uint32
	pageSize() int
}

// Freelist manages the trunk-page chain of reclaimed pages.
// RootFreelistPage in the header is reserved for future use;
// HeadPage is the live chain head.
type Freelist struct {
	store    pageStore
	headPage uint32
	count    uint32
}

func NewFreelist(store pageStore, headPage, count uint32) *Freelist {
	return &Freelist{store: store, headPage: headPage, count: count}
}

func (f *Freelist) HeadPage() uint32 { return f.headPage }

func (f *Freelist) Count() uint32 { return f.count }

// Allocate returns a reclaimed page id if the freelist has one, otherwise
// extends the file by one page.
func (f *Freelist) Allocate() (uint32, error) {
	if f.headPage == 0 {
		return f.store.extendFile(), nil
	}
	buf, err := f.store.readPage(f.headPage)
	if err != nil {
		return 0, err
	}
	next, ids := decodeTrunk(buf)
	if len(ids) == 0 {
		reused := f.headPage
		f.headPage = next
		return reused, nil
	}
	last := ids[len(ids)-1]
	ids = ids[:len(ids)-1]
	f.count--
	if err := f.store.writePage(f.headPage, encodeTrunk(next, ids, f.store.pageSize())); err != nil {
		return 0, err
	}
	return last, nil
}

// Free returns pageID to the freelist: appended to the current trunk if
// it has room, otherwise pageID itself becomes the new trunk head.
func (f *Freelist) Free(pageID uint32) error {
	capacity := trunkCapacity(f.store.pageSize())
	if f.headPage != 0 {
		buf, err := f.store.readPage(f.headPage)
		if err != nil {
			return err
		}
		next, ids := decodeTrunk(buf)
		if len(ids) < capacity {
			ids = append(ids, pageID)
			f.count++
			return f.store.writePage(f.headPage, encodeTrunk(next, ids, f.store.pageSize()))
		}
	}
	if err := f.store.writePage(pageID, encodeTrunk(f.headPage, nil, f.store.pageSize())); err != nil {
		return err
	}
	f.headPage = pageID
	return nil
}
