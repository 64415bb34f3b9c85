package storage

import (
	"errors"
	"io"
	"sync"

	"github.com/sphildreth/decentdb/internal/dberr"
	"github.com/sphildreth/decentdb/internal/vfs"
)

// WALSource lets the Pager ask for an older version of a page when a
// reader's snapshot predates the page's last commit: snapshot isolation
// via a WAL overlay keyed by reader snapshot LSN. The wal package's
// Manager implements it; Pager only depends on the interface so the two
// packages can be built and tested independently.
type WALSource interface {
	PageAsOf(pageID uint32, snapshotLSN uint64) (data []byte, found bool, err error)
}

// DirtyPage is a point-in-time copy of a cached page that differs from
// the on-disk file, handed to the WAL when a transaction commits.
type DirtyPage struct {
	PageID uint32
	Data   []byte
}

// Options configures a Pager, the novasql-style plain-struct
// configuration convention generalized from internal/bufferpool's
// fixed-capacity constructor args to a named Options value.
type Options struct {
	// PageSize applies only when creating a brand-new file; an existing
	// file's page size always comes from its header.
	PageSize int
	// CacheCapacity is the total number of resident pages across every
	// shard; defaults to 4096 pages.
	CacheCapacity int
}

// Pager owns the database file, its header, the sharded page cache, and
// the freelist. It is the sole writer of page bytes; callers serialize
// writes themselves via the single-writer model.
type Pager struct {
	// barrier is the rollback-barrier lock: readers hold it for the
	// duration of a single page read, a rollback takes it exclusively
	// before discarding dirty cache entries.
	barrier sync.RWMutex

	file vfs.File
	hdr  Header
	psz  int

	cache    *cache
	freelist *Freelist
	wal      WALSource

	mu        sync.Mutex
	pageCount uint32

	// trackAlloc and allocated implement rollback-time page-allocation
	// undo: while a write transaction is open, every page
	// Allocate hands out is recorded so a rollback can return them all to
	// the freelist instead of leaking them as permanently-reachable-from-
	// nowhere pages.
	trackAlloc bool
	allocated  []uint32
}

var _ pageStore = (*Pager)(nil)

// Open opens an existing database file or creates one if it does not
// exist, bootstrapping a fresh header the way novasql's pager.go
// (other_examples chirst-cdb reference) initializes page 1 on first use.
func Open(vv vfs.VFS, path string, opts Options) (*Pager, error) {
	existed, err := vv.Exists(path)
	if err != nil {
		return nil, dberr.Wrap(dberr.IO, "pager: stat file", err)
	}

	f, err := vv.Open(path, true)
	if err != nil {
		return nil, dberr.Wrap(dberr.IO, "pager: open file", err)
	}

	size, err := f.Size()
	if err != nil {
		return nil, dberr.Wrap(dberr.IO, "pager: stat size", err)
	}

	var hdr Header
	if !existed || size == 0 {
		pageSize := opts.PageSize
		if pageSize == 0 {
			pageSize = DefaultPageSize
		}
		if !isValidPageSize(pageSize) {
			return nil, dberr.New(dberr.INTERNAL, "pager: invalid page size").WithContext("page_size", pageSize)
		}
		hdr = NewHeader(pageSize)
		buf := make([]byte, pageSize)
		copy(buf, hdr.Encode())
		if _, err := f.WriteAt(buf, 0); err != nil {
			return nil, dberr.Wrap(dberr.IO, "pager: write initial header", err)
		}
		if err := f.Sync(); err != nil {
			return nil, dberr.Wrap(dberr.IO, "pager: sync initial header", err)
		}
		size = int64(pageSize)
	} else {
		hbuf := make([]byte, HeaderSize)
		if _, err := f.ReadAt(hbuf, 0); err != nil {
			return nil, dberr.Wrap(dberr.IO, "pager: read header", err)
		}
		hdr, err = DecodeHeader(hbuf)
		if err != nil {
			return nil, err
		}
		if size%int64(hdr.PageSize) != 0 {
			return nil, dberr.New(dberr.CORRUPTION, "pager: file size not a multiple of page size").
				WithContext("size", size).WithContext("page_size", hdr.PageSize)
		}
	}

	capacity := opts.CacheCapacity
	if capacity <= 0 {
		capacity = 4096
	}

	p := &Pager{
		file:      f,
		hdr:       hdr,
		psz:       int(hdr.PageSize),
		cache:     newCache(capacity),
		pageCount: uint32(size / int64(hdr.PageSize)),
	}
	p.freelist = NewFreelist(p, hdr.FreelistHeadPage, hdr.FreelistCount)
	return p, nil
}

func (p *Pager) PageSize() int { return p.psz }

func (p *Pager) Header() Header {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.hdr
	h.FreelistHeadPage = p.freelist.HeadPage()
	h.FreelistCount = p.freelist.Count()
	return h
}

// SetSchemaRoots updates the catalog/freelist root pointers carried in
// the header, called once by the catalog layer after it creates its
// first page.
func (p *Pager) SetSchemaRoots(schemaCookie, rootCatalogPage uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hdr.SchemaCookie = schemaCookie
	p.hdr.RootCatalogPage = rootCatalogPage
}

func (p *Pager) RootCatalogPage() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hdr.RootCatalogPage
}

// AttachWAL wires a WAL manager into the pager so reads can be served
// an older page version for a reader whose snapshot predates the page's
// latest commit.
func (p *Pager) AttachWAL(w WALSource) { p.wal = w }

func (p *Pager) loadFromFile(pageID uint32) ([]byte, uint64, error) {
	buf := make([]byte, p.psz)
	off := int64(pageID-1) * int64(p.psz)
	_, err := p.file.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, vfs.ErrShortIO) {
		return nil, 0, dberr.Wrap(dberr.IO, "pager: read page", err).WithContext("page_id", pageID)
	}
	return buf, 0, nil
}

// pageStore implementation, used by Freelist.

func (p *Pager) readPage(pageID uint32) ([]byte, error) {
	e, err := p.cache.pin(pageID, p.loadFromFile)
	if err != nil {
		return nil, err
	}
	defer p.cache.unpin(pageID, false)
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

func (p *Pager) writePage(pageID uint32, data []byte) error {
	e, err := p.cache.pin(pageID, p.loadFromFile)
	if err != nil {
		return err
	}
	copy(e.data, data)
	p.cache.unpin(pageID, true)
	return nil
}

func (p *Pager) extendFile() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pageCount++
	return p.pageCount
}

func (p *Pager) pageSize() int { return p.psz }

// Allocate reserves a page id, reusing one from the freelist when
// available.
func (p *Pager) Allocate() (uint32, error) {
	id, err := p.freelist.Allocate()
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	if p.trackAlloc {
		p.allocated = append(p.allocated, id)
	}
	p.mu.Unlock()
	return id, nil
}

// Free returns pageID to the freelist for future reuse.
func (p *Pager) Free(pageID uint32) error {
	return p.freelist.Free(pageID)
}

// BeginTxnAllocTracking starts recording every page id Allocate hands
// out, for a later RollbackTxnPageAllocations to undo.
func (p *Pager) BeginTxnAllocTracking() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trackAlloc = true
	p.allocated = p.allocated[:0]
}

// EndTxnAllocTracking stops recording allocations, called once a
// transaction commits and its allocations no longer need to be
// reversible.
func (p *Pager) EndTxnAllocTracking() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trackAlloc = false
	p.allocated = nil
}

// RollbackTxnPageAllocations returns every page allocated since the last
// BeginTxnAllocTracking to the freelist.
func (p *Pager) RollbackTxnPageAllocations() error {
	p.mu.Lock()
	ids := p.allocated
	p.allocated = nil
	p.trackAlloc = false
	p.mu.Unlock()

	for _, id := range ids {
		if err := p.Free(id); err != nil {
			return err
		}
	}
	return nil
}

// PageHandle is a pinned reference to a cached page's live buffer,
// returned by Pin so callers (the B+Tree, overflow chain, catalog) can
// mutate page bytes in place without an extra copy.
type PageHandle struct {
	pager *Pager
	id    uint32
	entry *clockEntry
}

func (h *PageHandle) PageID() uint32 { return h.id }

func (h *PageHandle) Bytes() []byte { return h.entry.data }

// Unpin releases the pin. dirty must be true if the caller mutated
// Bytes(); it is sticky until a checkpoint flushes the page to file.
func (h *PageHandle) Unpin(dirty bool) {
	h.pager.cache.unpin(h.id, dirty)
}

// Pin loads (or returns the already-resident) page pageID and pins it
// against eviction until Unpin is called.
func (p *Pager) Pin(pageID uint32) (*PageHandle, error) {
	e, err := p.cache.pin(pageID, p.loadFromFile)
	if err != nil {
		return nil, err
	}
	return &PageHandle{pager: p, id: pageID, entry: e}, nil
}

// WithPageRO pins pageID, invokes fn with its current bytes, and unpins
// before returning. Readers that must respect a snapshot LSN should use
// ReadPageAsOf instead.
func (p *Pager) WithPageRO(pageID uint32, fn func(data []byte) error) error {
	p.barrier.RLock()
	defer p.barrier.RUnlock()
	e, err := p.cache.pin(pageID, p.loadFromFile)
	if err != nil {
		return err
	}
	defer p.cache.unpin(pageID, false)
	return fn(e.data)
}

// ReadPageAsOf returns pageID's bytes as visible to a reader whose
// snapshot is snapshotLSN: the live cached copy if it was last committed
// at or before snapshotLSN, otherwise an older version served from the
// attached WAL's overlay.
func (p *Pager) ReadPageAsOf(pageID uint32, snapshotLSN uint64) ([]byte, error) {
	p.barrier.RLock()
	defer p.barrier.RUnlock()

	e, err := p.cache.pin(pageID, p.loadFromFile)
	if err != nil {
		return nil, err
	}
	defer p.cache.unpin(pageID, false)

	if p.wal != nil && e.lsn > snapshotLSN {
		data, found, werr := p.wal.PageAsOf(pageID, snapshotLSN)
		if werr != nil {
			return nil, werr
		}
		if found {
			out := make([]byte, len(data))
			copy(out, data)
			return out, nil
		}
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

// SnapshotDirtyPages copies every page the cache holds dirty, for the
// WAL to append as PAGE frames ahead of a commit.
func (p *Pager) SnapshotDirtyPages() ([]DirtyPage, error) {
	var out []DirtyPage
	err := p.cache.forEachDirty(func(pageID uint32, data []byte) error {
		cp := make([]byte, len(data))
		copy(cp, data)
		out = append(out, DirtyPage{PageID: pageID, Data: cp})
		return nil
	})
	return out, err
}

// MarkCommitted stamps lsn on every page in pageIDs once their
// transaction's COMMIT frame has been written to the WAL (and fsynced,
// when the WAL's sync mode calls for it).
func (p *Pager) MarkCommitted(pageIDs []uint32, lsn uint64) {
	for _, id := range pageIDs {
		p.cache.markCommitted(id, lsn)
	}
}

// RollbackCache discards every dirty page under the rollback barrier, so
// no reader observes a partially-applied write.
func (p *Pager) RollbackCache() {
	p.barrier.Lock()
	defer p.barrier.Unlock()
	var ids []uint32
	if p.wal != nil {
		_ = p.cache.forEachDirty(func(pageID uint32, _ []byte) error {
			ids = append(ids, pageID)
			return nil
		})
	}
	p.cache.evictAllDirty()
	for _, id := range ids {
		if data, found, err := p.wal.PageAsOf(id, ^uint64(0)); err == nil && found {
			load := func(uint32) ([]byte, uint64, error) { return data, ^uint64(0), nil }
			if _, err := p.cache.pin(id, load); err == nil {
				p.cache.unpin(id, true)
			}
		}
	}
}

// Checkpoint applies every dirty cached page to the main file and clears
// its dirty bit, then persists the header (including the freelist and
// checkpoint LSN). Callers are responsible for truncating or recycling
// WAL frames once this returns successfully.
func (p *Pager) Checkpoint(checkpointLSN uint64) error {
	err := p.cache.flushAndClear(func(pageID uint32, data []byte) error {
		off := int64(pageID-1) * int64(p.psz)
		if _, err := p.file.WriteAt(data, off); err != nil {
			return dberr.Wrap(dberr.IO, "pager: checkpoint flush", err).WithContext("page_id", pageID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.hdr.LastCheckpointLSN = checkpointLSN
	p.mu.Unlock()
	if err := p.WriteHeader(); err != nil {
		return err
	}
	return p.file.Sync()
}

// WriteHeader re-encodes and persists the header page, including the
// freelist head/count the Freelist has accumulated since the header was
// last written.
func (p *Pager) WriteHeader() error {
	p.mu.Lock()
	h := p.hdr
	h.FreelistHeadPage = p.freelist.HeadPage()
	h.FreelistCount = p.freelist.Count()
	p.hdr = h
	p.mu.Unlock()

	buf := make([]byte, p.psz)
	copy(buf, h.Encode())
	if _, err := p.file.WriteAt(buf, 0); err != nil {
		return dberr.Wrap(dberr.IO, "pager: write header", err)
	}
	return nil
}

// Sync fsyncs the underlying file.
func (p *Pager) Sync() error {
	if err := p.file.Sync(); err != nil {
		return dberr.Wrap(dberr.IO, "pager: sync", err)
	}
	return nil
}

func (p *Pager) Close() error {
	if err := p.WriteHeader(); err != nil {
		return err
	}
	if err := p.file.Sync(); err != nil {
		return dberr.Wrap(dberr.IO, "pager: sync on close", err)
	}
	if err := p.file.Close(); err != nil {
		return dberr.Wrap(dberr.IO, "pager: close file", err)
	}
	return nil
}
