package vfs

import (
	"sync"
)

// FailPoint names a specific injected fault. Tests arm fail-points by
// name to exercise crash recovery at a precise moment, the way the
// eaglepoint WAL torn-write-recovery reference truncates a journal file
// mid-frame to exercise its recovery scan.
type FailPoint string

const (
	// FailShortWrite truncates the next WriteAt to TornAtByte bytes.
	FailShortWrite FailPoint = "short_write"
	// FailWriteError fails the next WriteAt outright.
	FailWriteError FailPoint = "write_error"
	// FailShortRead truncates the next ReadAt to TornAtByte bytes.
	FailShortRead FailPoint = "short_read"
	// FailReadError fails the next ReadAt outright.
	FailReadError FailPoint = "read_error"
	// FailSyncError fails the next Sync outright, simulating an fsync
	// that never reaches stable media.
	FailSyncError FailPoint = "sync_error"
)

// Fault describes one armed fail-point. TornAtByte bounds a short
// read/write to that many bytes (0 means "zero bytes written/read").
type Fault struct {
	Point      FailPoint
	TornAtByte int
	Err        error
	// Repeat, when true, keeps the fault armed after it fires once.
	Repeat bool
}

// FaultVFS wraps a VFS and injects named faults into File operations,
// used only by recovery tests.
type FaultVFS struct {
	Inner VFS

	mu     sync.Mutex
	faults map[FailPoint]*Fault
}

var _ VFS = (*FaultVFS)(nil)

func NewFaultVFS(inner VFS) *FaultVFS {
	return &FaultVFS{Inner: inner, faults: make(map[FailPoint]*Fault)}
}

// Arm installs a fault that fires on the next matching operation.
func (f *FaultVFS) Arm(fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[fault.Point] = &fault
}

// Disarm removes a previously armed fault.
func (f *FaultVFS) Disarm(point FailPoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.faults, point)
}

func (f *FaultVFS) take(point FailPoint) (*Fault, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fault, ok := f.faults[point]
	if !ok {
		return nil, false
	}
	if !fault.Repeat {
		delete(f.faults, point)
	}
	return fault, true
}

func (f *FaultVFS) Open(path string, createIfMissing bool) (File, error) {
	inner, err := f.Inner.Open(path, createIfMissing)
	if err != nil {
		return nil, err
	}
	return &faultFile{inner: inner, owner: f}, nil
}

func (f *FaultVFS) Remove(path string) error { return f.Inner.Remove(path) }

func (f *FaultVFS) Exists(path string) (bool, error) { return f.Inner.Exists(path) }

type faultFile struct {
	inner File
	owner *FaultVFS
}

func (ff *faultFile) ReadAt(buf []byte, offset int64) (int, error) {
	if fault, ok := ff.owner.take(FailReadError); ok {
		return 0, fault.Err
	}
	if fault, ok := ff.owner.take(FailShortRead); ok {
		n := fault.TornAtByte
		if n > len(buf) {
			n = len(buf)
		}
		if n > 0 {
			if _, err := ff.inner.ReadAt(buf[:n], offset); err != nil {
				return 0, err
			}
		}
		return n, ErrShortIO
	}
	return ff.inner.ReadAt(buf, offset)
}

func (ff *faultFile) WriteAt(buf []byte, offset int64) (int, error) {
	if fault, ok := ff.owner.take(FailWriteError); ok {
		return 0, fault.Err
	}
	if fault, ok := ff.owner.take(FailShortWrite); ok {
		n := fault.TornAtByte
		if n > len(buf) {
			n = len(buf)
		}
		if n > 0 {
			if _, err := ff.inner.WriteAt(buf[:n], offset); err != nil {
				return 0, err
			}
		}
		return n, ErrShortIO
	}
	return ff.inner.WriteAt(buf, offset)
}

func (ff *faultFile) Sync() error {
	if fault, ok := ff.owner.take(FailSyncError); ok {
		return fault.Err
	}
	return ff.inner.Sync()
}

func (ff *faultFile) Truncate(size int64) error { return ff.inner.Truncate(size) }

func (ff *faultFile) Size() (int64, error) { return ff.inner.Size() }

func (ff *faultFile) Close() error { return ff.inner.Close() }
