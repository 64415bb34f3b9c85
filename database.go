package decentdb

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sphildreth/decentdb/internal/catalog"
	"github.com/sphildreth/decentdb/internal/dberr"
	"github.com/sphildreth/decentdb/internal/storage"
	"github.com/sphildreth/decentdb/internal/vfs"
	"github.com/sphildreth/decentdb/internal/wal"
)

// SyncMode controls how aggressively the WAL fsyncs on commit.
type SyncMode int

const (
	// SyncFull fsyncs after every commit.
	SyncFull SyncMode = iota
	// SyncNormal fsyncs roughly every syncBatchSize commits.
	SyncNormal
	// SyncDeferred never explicitly fsyncs; the caller accepts the loss
	// of the last batch of commits on a crash.
	SyncDeferred
)

// defaultCheckpointTimeout is chosen to be long enough that an
// ordinary short-lived reader never
// trips it, short enough that a leaked reader handle doesn't wedge
// checkpointing forever.
const defaultCheckpointTimeout = 30 * time.Second

// defaultCheckpointThreshold triggers an automatic checkpoint once the
// WAL has accumulated this many bytes since the last one.
const defaultCheckpointThreshold = 4 << 20 // 4MB

// Options configures Open.
type Options struct {
	// CacheSize is either a page count ("4096") or a "NNMB" byte budget
	// ("64MB"); empty defaults to 4096 pages.
	CacheSize string
	SyncMode  SyncMode
	// CheckpointThreshold is the WAL size in bytes that triggers an
	// automatic checkpoint after a commit. Zero uses
	// defaultCheckpointThreshold.
	CheckpointThreshold int64
	// CheckpointTimeout bounds how long a checkpoint will consider
	// truncating the WAL on behalf of a long-held reader snapshot before
	// logging a warning and skipping truncation for this round. Zero uses
	// defaultCheckpointTimeout.
	CheckpointTimeout time.Duration
	ReadOnly          bool
}

func (o Options) withDefaults() Options {
	if o.CheckpointThreshold <= 0 {
		o.CheckpointThreshold = defaultCheckpointThreshold
	}
	if o.CheckpointTimeout <= 0 {
		o.CheckpointTimeout = defaultCheckpointTimeout
	}
	return o
}

// parseCacheSize resolves Options.CacheSize to a page count.
func parseCacheSize(s string, pageSize int) int {
	const defaultPages = 4096
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultPages
	}
	upper := strings.ToUpper(s)
	if strings.HasSuffix(upper, "MB") {
		n, err := strconv.Atoi(strings.TrimSuffix(upper, "MB"))
		if err != nil || n <= 0 {
			return defaultPages
		}
		pages := (n << 20) / pageSize
		if pages < 16 {
			pages = 16
		}
		return pages
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return defaultPages
	}
	return n
}

// Database is an open DecentDB file: the pager, WAL, and catalog bound
// together behind a single-writer/many-readers API.
type Database struct {
	path string
	vv   vfs.VFS
	opts Options

	pager *storage.Pager
	wlog  *wal.Manager

	// writerMu is the single writer mutex: at most one WriteTxn is ever
	// open at a time.
	writerMu sync.Mutex
	cat      *catalog.Catalog

	readersMu         sync.Mutex
	activeReaders     int
	oldestReaderBegan time.Time

	closeMu sync.Mutex
	closed  bool
}

// Open opens path, creating a fresh database if it does not exist, and
// runs WAL recovery.
func Open(path string, opts Options) (*Database, error) {
	opts = opts.withDefaults()

	dbPath := path
	if !strings.HasSuffix(dbPath, ".ddb") {
		dbPath += ".ddb"
	}
	walPath := dbPath + "-wal"

	vv := vfs.VFS(vfs.OS{})
	pageSize := storage.DefaultPageSize
	cachePages := parseCacheSize(opts.CacheSize, pageSize)

	pager, err := storage.Open(vv, dbPath, storage.Options{PageSize: pageSize, CacheCapacity: cachePages})
	if err != nil {
		return nil, err
	}

	var syncMode wal.SyncMode
	switch opts.SyncMode {
	case SyncFull:
		syncMode = wal.SyncFull
	case SyncNormal:
		syncMode = wal.SyncNormal
	case SyncDeferred:
		syncMode = wal.SyncOff
	}

	wlog, err := wal.Open(vv, walPath, pager, syncMode)
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Load(pager)
	if err != nil {
		return nil, err
	}

	// A brand-new database's first catalog.Load call bootstraps the
	// system tree, dirtying its root page directly in the pager's cache
	// outside any user transaction. Commit that bootstrap through the WAL
	// immediately so the header's RootCatalogPage pointer a later
	// rollback might reload from is never left pointing at a page that
	// was never durably recorded.
	dirty, err := pager.SnapshotDirtyPages()
	if err != nil {
		return nil, err
	}
	if len(dirty) > 0 {
		if _, err := wlog.Commit(dirty); err != nil {
			return nil, err
		}
	}

	db := &Database{
		path:  dbPath,
		vv:    vv,
		opts:  opts,
		pager: pager,
		wlog:  wlog,
		cat:   cat,
	}
	return db, nil
}

// Close flushes, fsyncs, and truncates the WAL if possible.
func (db *Database) Close() error {
	db.closeMu.Lock()
	defer db.closeMu.Unlock()
	if db.closed {
		return nil
	}
	if err := db.wlog.Checkpoint(); err != nil {
		slog.Warn("decentdb: checkpoint on close failed", "path", db.path, "error", err)
	}
	if err := db.wlog.Close(); err != nil {
		return err
	}
	if err := db.pager.Close(); err != nil {
		return err
	}
	db.closed = true
	return nil
}

// Checkpoint copies committed WAL frames to the main file, advances
// header.last_checkpoint_lsn, and truncates the WAL.
// If the oldest active reader snapshot has been open longer than
// CheckpointTimeout, it logs a warning and skips this round instead of
// reclaiming space out from under that reader.
func (db *Database) Checkpoint() error {
	db.readersMu.Lock()
	stale := db.activeReaders > 0 && time.Since(db.oldestReaderBegan) > db.opts.CheckpointTimeout
	db.readersMu.Unlock()
	if stale {
		slog.Warn("decentdb: checkpoint skipping WAL truncation, oldest reader exceeds checkpoint_timeout",
			"path", db.path, "timeout", db.opts.CheckpointTimeout)
		return nil
	}
	return db.wlog.Checkpoint()
}

// ListTables returns every table name in the catalog.
func (db *Database) ListTables() []string { return db.cat.ListTables() }

// ListIndexes returns every index name in the catalog.
func (db *Database) ListIndexes() []string { return db.cat.ListIndexes() }

// GetTableColumns returns table's column definitions, or ok=false if no
// such table exists.
func (db *Database) GetTableColumns(table string) ([]ColumnInfo, bool) {
	t, ok := db.cat.Table(table)
	if !ok {
		return nil, false
	}
	return t.Columns, true
}

func (db *Database) requireWritable() error {
	if db.opts.ReadOnly {
		return dberr.New(dberr.READONLY, "database was opened read-only")
	}
	return nil
}
