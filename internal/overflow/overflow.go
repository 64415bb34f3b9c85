// Package overflow stores and retrieves values too large to fit inline
// in a B+Tree cell as a chain of pages, grounded on novasql's
// internal/storage/overflow.go OverflowManager, re-targeted from a
// dedicated overflow FileSet onto the shared Pager page cache.
package overflow

import (
	"github.com/sphildreth/decentdb/internal/dberr"
	"github.com/sphildreth/decentdb/internal/pagefmt"
	"github.com/sphildreth/decentdb/internal/storage"
)

// chainHeaderSize is [next_page_id:u32][chunk_len:u32].
const chainHeaderSize = 8

// noNext is the sentinel marking the last page in a chain.
const noNext = 0

func chunkCapacity(pageSize int) int { return pageSize - chainHeaderSize }

// WriteChain splits data across as many pages as needed and returns the
// id of the first page in the chain.
func WriteChain(p *storage.Pager, data []byte) (uint32, error) {
	capacity := chunkCapacity(p.PageSize())
	if capacity <= 0 {
		return 0, dberr.New(dberr.INTERNAL, "overflow: page too small for a chain header")
	}

	nChunks := (len(data) + capacity - 1) / capacity
	if nChunks == 0 {
		nChunks = 1
	}

	pageIDs := make([]uint32, nChunks)
	for i := range pageIDs {
		id, err := p.Allocate()
		if err != nil {
			return 0, err
		}
		pageIDs[i] = id
	}

	off := 0
	for i, pageID := range pageIDs {
		end := off + capacity
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]
		off = end

		next := uint32(noNext)
		if i+1 < len(pageIDs) {
			next = pageIDs[i+1]
		}

		buf := make([]byte, p.PageSize())
		pagefmt.PutU32(buf, 0, next)
		pagefmt.PutU32(buf, 4, uint32(len(chunk)))
		copy(buf[chainHeaderSize:], chunk)

		h, err := p.Pin(pageID)
		if err != nil {
			return 0, err
		}
		copy(h.Bytes(), buf)
		h.Unpin(true)
	}

	return pageIDs[0], nil
}

// ReadChain returns the full contents of the overflow chain starting at
// firstPage.
func ReadChain(p *storage.Pager, firstPage uint32) ([]byte, error) {
	var out []byte
	page := firstPage
	for page != noNext {
		h, err := p.Pin(page)
		if err != nil {
			return nil, err
		}
		buf := h.Bytes()
		if len(buf) < chainHeaderSize {
			h.Unpin(false)
			return nil, dberr.New(dberr.CORRUPTION, "overflow: page too short for chain header")
		}
		next := pagefmt.GetU32(buf, 0)
		length := pagefmt.GetU32(buf, 4)
		if chainHeaderSize+int(length) > len(buf) {
			h.Unpin(false)
			return nil, dberr.New(dberr.CORRUPTION, "overflow: chunk length exceeds page size")
		}
		out = append(out, buf[chainHeaderSize:chainHeaderSize+int(length)]...)
		h.Unpin(false)
		page = next
	}
	return out, nil
}

// FreeChain walks the chain starting at firstPage and returns every page
// in it to the pager's freelist.
func FreeChain(p *storage.Pager, firstPage uint32) error {
	page := firstPage
	for page != noNext {
		h, err := p.Pin(page)
		if err != nil {
			return err
		}
		next := pagefmt.GetU32(h.Bytes(), 0)
		h.Unpin(false)
		if err := p.Free(page); err != nil {
			return err
		}
		page = next
	}
	return nil
}
