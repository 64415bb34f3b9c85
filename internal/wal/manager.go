package wal

import (
	"errors"
	"io"
	"sync"

	"github.com/sphildreth/decentdb/internal/dberr"
	"github.com/sphildreth/decentdb/internal/storage"
	"github.com/sphildreth/decentdb/internal/vfs"
)

// SyncMode controls how aggressively Manager fsyncs the log file on
// commit.
type SyncMode int

const (
	// SyncFull fsyncs after every commit: the strongest durability,
	// weakest throughput.
	SyncFull SyncMode = iota
	// SyncNormal fsyncs roughly every syncBatchSize commits.
	SyncNormal
	// SyncOff never fsyncs explicitly, relying on a later checkpoint or
	// the OS to make data durable; used only for bulk-load style
	// workloads that accept a wider commit-loss window.
	SyncOff
)

const syncBatchSize = 16

type versionedPage struct {
	lsn  uint64
	data []byte
}

// Manager owns the WAL file: frame append, commit sequencing, the
// snapshot-isolation overlay, and recovery/checkpoint.
type Manager struct {
	mu sync.Mutex

	file     vfs.File
	pager    *storage.Pager
	syncMode SyncMode

	nextLSN     uint64
	writeOffset int64
	unsynced    int

	overlay map[uint32][]versionedPage
	readers map[uint64]int
}

var _ storage.WALSource = (*Manager)(nil)

// Open opens (creating if missing) the WAL file at path, replays any
// frames left from a prior run via recover, and attaches itself to
// pager's snapshot-read path.
func Open(vv vfs.VFS, path string, pager *storage.Pager, mode SyncMode) (*Manager, error) {
	f, err := vv.Open(path, true)
	if err != nil {
		return nil, dberr.Wrap(dberr.IO, "wal: open log file", err)
	}
	m := &Manager{
		file:     f,
		pager:    pager,
		syncMode: mode,
		nextLSN:  1,
		overlay:  make(map[uint32][]versionedPage),
		readers:  make(map[uint64]int),
	}
	if err := m.recover(); err != nil {
		return nil, err
	}
	pager.AttachWAL(m)
	return m, nil
}

// recover scans the log from the start, applying every complete
// transaction (a run of PAGE frames followed by a COMMIT frame) to the
// pager. It stops at the first incomplete or checksum-invalid frame,
// discarding any PAGE frames that were never followed by a COMMIT — the
// torn-write behavior a crash mid-append must not corrupt the log.
func (m *Manager) recover() error {
	size, err := m.file.Size()
	if err != nil {
		return dberr.Wrap(dberr.IO, "wal: stat log file", err)
	}
	if size == 0 {
		return nil
	}

	buf := make([]byte, size)
	if _, err := m.file.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
		return dberr.Wrap(dberr.IO, "wal: read log file", err)
	}

	var pending []frame
	var maxLSN uint64
	off := 0
	for {
		f, next, ok := decodeFrame(buf, off)
		if !ok {
			break
		}
		switch f.typ {
		case framePage:
			pending = append(pending, f)
		case frameCommit:
			pageIDs := make([]uint32, 0, len(pending))
			for _, pf := range pending {
				h, err := m.pager.Pin(pf.pageID)
				if err != nil {
					return err
				}
				copy(h.Bytes(), pf.payload)
				h.Unpin(true)
				pageIDs = append(pageIDs, pf.pageID)
				m.recordOverlay(pf.pageID, f.lsn, pf.payload)
			}
			m.pager.MarkCommitted(pageIDs, f.lsn)
			if f.lsn > maxLSN {
				maxLSN = f.lsn
			}
			pending = pending[:0]
		case frameCheckpoint:
			pending = pending[:0]
		}
		off = next
	}

	m.nextLSN = maxLSN + 1
	m.writeOffset = int64(off)
	return nil
}

func (m *Manager) recordOverlay(pageID uint32, lsn uint64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.overlay[pageID] = append(m.overlay[pageID], versionedPage{lsn: lsn, data: cp})
}

// PageAsOf implements storage.WALSource.
func (m *Manager) PageAsOf(pageID uint32, snapshotLSN uint64) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.overlay[pageID]
	var best *versionedPage
	for i := range versions {
		v := &versions[i]
		if v.lsn <= snapshotLSN && (best == nil || v.lsn > best.lsn) {
			best = v
		}
	}
	if best == nil {
		return nil, false, nil
	}
	out := make([]byte, len(best.data))
	copy(out, best.data)
	return out, true, nil
}

// BeginRead registers a new reader snapshot at the latest committed LSN
// and returns it; EndRead must be called once the reader is done so the
// overlay and WAL can eventually be pruned.
func (m *Manager) BeginRead() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	lsn := m.nextLSN - 1
	m.readers[lsn]++
	return lsn
}

func (m *Manager) EndRead(lsn uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readers[lsn]--
	if m.readers[lsn] <= 0 {
		delete(m.readers, lsn)
	}
}

func (m *Manager) minReaderLSN() (uint64, bool) {
	min := uint64(0)
	found := false
	for lsn := range m.readers {
		if !found || lsn < min {
			min = lsn
			found = true
		}
	}
	return min, found
}

func (m *Manager) appendFrame(f frame) error {
	buf := encodeFrame(f)
	if _, err := m.file.WriteAt(buf, m.writeOffset); err != nil {
		return dberr.Wrap(dberr.IO, "wal: append frame", err)
	}
	m.writeOffset += int64(len(buf))
	return nil
}

// Commit appends PAGE frames for every page in dirty followed by a
// COMMIT frame, fsyncing per syncMode, then stamps the pager's cache
// entries with the resulting LSN. Returns the commit's LSN.
func (m *Manager) Commit(dirty []storage.DirtyPage) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lsn := m.nextLSN
	m.nextLSN++

	pageIDs := make([]uint32, 0, len(dirty))
	for _, dp := range dirty {
		if err := m.appendFrame(frame{typ: framePage, pageID: dp.PageID, payload: dp.Data, lsn: lsn}); err != nil {
			return 0, err
		}
		pageIDs = append(pageIDs, dp.PageID)
	}
	if err := m.appendFrame(frame{typ: frameCommit, pageID: 0, payload: nil, lsn: lsn}); err != nil {
		return 0, err
	}

	switch m.syncMode {
	case SyncFull:
		if err := m.file.Sync(); err != nil {
			return 0, dberr.Wrap(dberr.IO, "wal: fsync on commit", err)
		}
		m.unsynced = 0
	case SyncNormal:
		m.unsynced++
		if m.unsynced >= syncBatchSize {
			if err := m.file.Sync(); err != nil {
				return 0, dberr.Wrap(dberr.IO, "wal: fsync on commit", err)
			}
			m.unsynced = 0
		}
	case SyncOff:
		// no explicit fsync
	}

	for _, dp := range dirty {
		m.recordOverlay(dp.PageID, lsn, dp.Data)
	}
	m.pager.MarkCommitted(pageIDs, lsn)
	return lsn, nil
}

// Checkpoint flushes every dirty cached page to the main file, prunes
// overlay history no live reader can still need, and truncates the log.
func (m *Manager) Checkpoint() error {
	m.mu.Lock()
	checkpointLSN := m.nextLSN - 1
	keepFrom, haveReaders := m.minReaderLSN()
	m.mu.Unlock()

	if err := m.pager.Checkpoint(checkpointLSN); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for pageID, versions := range m.overlay {
		m.overlay[pageID] = pruneVersions(versions, keepFrom, haveReaders)
		if len(m.overlay[pageID]) == 0 {
			delete(m.overlay, pageID)
		}
	}
	if err := m.appendFrame(frame{typ: frameCheckpoint, pageID: 0, payload: nil, lsn: checkpointLSN}); err != nil {
		return err
	}
	if err := m.file.Sync(); err != nil {
		return dberr.Wrap(dberr.IO, "wal: fsync checkpoint", err)
	}
	if err := m.file.Truncate(0); err != nil {
		return dberr.Wrap(dberr.IO, "wal: truncate log file", err)
	}
	m.writeOffset = 0
	return nil
}

// pruneVersions keeps every version newer than keepFrom plus, if any
// live reader's snapshot is older than that, the single newest version
// at or before keepFrom (the version such a reader still needs).
func pruneVersions(versions []versionedPage, keepFrom uint64, haveReaders bool) []versionedPage {
	if !haveReaders {
		return nil
	}
	var out []versionedPage
	var bestAtOrBefore *versionedPage
	for i := range versions {
		v := versions[i]
		if v.lsn > keepFrom {
			out = append(out, v)
		} else if bestAtOrBefore == nil || v.lsn > bestAtOrBefore.lsn {
			bestAtOrBefore = &versions[i]
		}
	}
	if bestAtOrBefore != nil {
		out = append(out, *bestAtOrBefore)
	}
	return out
}

// Size returns the current length of the WAL file, used by the
// CheckpointThreshold auto-checkpoint trigger in Options.
func (m *Manager) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeOffset
}

func (m *Manager) Close() error {
	if err := m.file.Sync(); err != nil {
		return dberr.Wrap(dberr.IO, "wal: sync on close", err)
	}
	return m.file.Close()
}
