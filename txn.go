package decentdb

import (
	"time"

	"github.com/sphildreth/decentdb/internal/catalog"
	"github.com/sphildreth/decentdb/internal/dberr"
)

// WriteTxn is the single concurrent write transaction a Database
// allows: BeginWrite blocks (or TryBeginWrite fails) until any prior
// WriteTxn on the same Database commits or rolls back.
type WriteTxn struct {
	db   *Database
	done bool
}

// BeginWrite blocks until the writer lock is free, then opens a write
// transaction.
func (db *Database) BeginWrite() (*WriteTxn, error) {
	if err := db.requireWritable(); err != nil {
		return nil, err
	}
	db.writerMu.Lock()
	db.pager.BeginTxnAllocTracking()
	return &WriteTxn{db: db}, nil
}

// TryBeginWrite is BeginWrite but returns a BUSY error immediately
// instead of blocking if another WriteTxn is already open.
func (db *Database) TryBeginWrite() (*WriteTxn, error) {
	if err := db.requireWritable(); err != nil {
		return nil, err
	}
	if !db.writerMu.TryLock() {
		return nil, dberr.New(dberr.BUSY, "another write transaction is open")
	}
	db.pager.BeginTxnAllocTracking()
	return &WriteTxn{db: db}, nil
}

func (tx *WriteTxn) checkOpen() error {
	if tx.done {
		return dberr.New(dberr.INTERNAL, "transaction already committed or rolled back")
	}
	return nil
}

// Commit snapshots every page the transaction dirtied, appends it to
// the WAL as a single atomic commit record, and releases the writer
// lock.
func (tx *WriteTxn) Commit() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	tx.done = true
	defer tx.db.writerMu.Unlock()
	defer tx.db.pager.EndTxnAllocTracking()

	dirty, err := tx.db.pager.SnapshotDirtyPages()
	if err != nil {
		return err
	}
	if _, err := tx.db.wlog.Commit(dirty); err != nil {
		return err
	}

	if tx.db.wlog.Size() >= tx.db.opts.CheckpointThreshold {
		_ = tx.db.Checkpoint()
	}
	return nil
}

// Rollback discards every page the transaction dirtied (evicting them
// from the cache so the next read re-fetches the committed version),
// frees any page the transaction allocated, and reloads the catalog
// from the now-clean pager image. Readers are blocked from observing
// any intermediate state by Pager's rollback barrier.
func (tx *WriteTxn) Rollback() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	tx.done = true
	defer tx.db.writerMu.Unlock()

	tx.db.pager.RollbackCache()
	if err := tx.db.pager.RollbackTxnPageAllocations(); err != nil {
		return err
	}
	cat, err := catalog.Load(tx.db.pager)
	if err != nil {
		return err
	}
	tx.db.cat = cat
	return nil
}

// CreateTable defines a new table.
func (tx *WriteTxn) CreateTable(schema TableSchema) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	_, err := tx.db.cat.CreateTable(schema.Name, toColumnDefs(schema.Columns), toForeignKeys(schema.ForeignKeys))
	return err
}

// DropTable removes a table and every index defined on it.
func (tx *WriteTxn) DropTable(name string) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	return tx.db.cat.DropTable(name)
}

// CreateIndex defines a new index tree on table. Matching the
// teacher's convention, it does not backfill existing rows — an index
// only reflects rows inserted after it was created.
func (tx *WriteTxn) CreateIndex(spec IndexSpec) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	_, err := tx.db.cat.CreateIndex(spec.Name, spec.Table, spec.Column, spec.Unique)
	return err
}

// DropIndex removes an index.
func (tx *WriteTxn) DropIndex(name string) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	return tx.db.cat.DropIndex(name)
}

func (tx *WriteTxn) requireTable(name string) (*catalog.TableMeta, error) {
	t, ok := tx.db.cat.Table(name)
	if !ok {
		return nil, dberr.New(dberr.SCHEMA, "no such table").WithContext("table", name)
	}
	return t, nil
}

// InsertRow appends a new row to table and returns its assigned rowid.
func (tx *WriteTxn) InsertRow(table string, values []Value) (int64, error) {
	if err := tx.checkOpen(); err != nil {
		return 0, err
	}
	t, err := tx.requireTable(table)
	if err != nil {
		return 0, err
	}
	return tx.db.cat.InsertRow(t, values)
}

// UpdateRow replaces the values of rowid in table.
func (tx *WriteTxn) UpdateRow(table string, rowid int64, values []Value) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	t, err := tx.requireTable(table)
	if err != nil {
		return err
	}
	return tx.db.cat.UpdateRow(t, rowid, values)
}

// DeleteRow removes rowid from table.
func (tx *WriteTxn) DeleteRow(table string, rowid int64) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	t, err := tx.requireTable(table)
	if err != nil {
		return err
	}
	return tx.db.cat.DeleteRow(t, rowid)
}

// BulkLoad inserts every row in rows into table without per-row
// secondary-index backfill round trips.
func (tx *WriteTxn) BulkLoad(table string, rows [][]Value) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	t, err := tx.requireTable(table)
	if err != nil {
		return err
	}
	return tx.db.cat.BulkLoad(t, rows)
}

// ScanTable returns an iterator over every row in table in rowid order,
// reflecting this transaction's own uncommitted writes.
func (tx *WriteTxn) ScanTable(table string) (*RowIterator, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	t, err := tx.requireTable(table)
	if err != nil {
		return nil, err
	}
	return tx.db.cat.ScanTable(t)
}

// IndexSeek looks up v in the named index, returning the matching
// rowid if present.
func (tx *WriteTxn) IndexSeek(indexName string, v Value) (int64, bool, error) {
	if err := tx.checkOpen(); err != nil {
		return 0, false, err
	}
	idx, ok := tx.db.cat.Index(indexName)
	if !ok {
		return 0, false, dberr.New(dberr.SCHEMA, "no such index").WithContext("index", indexName)
	}
	return tx.db.cat.IndexSeek(idx, v)
}

// RowIterator yields rows from a ScanTable/ScanTableAsOf call.
type RowIterator = catalog.RowIterator

// ReadTxn is a snapshot-isolated reader pinned to the LSN committed at
// BeginRead time. Multiple ReadTxns and at most one WriteTxn may be
// open concurrently.
type ReadTxn struct {
	db          *Database
	snapshotLSN uint64
	tables      map[string]catalog.TableMeta
	indexes     map[string]catalog.IndexMeta
	closed      bool
}

// BeginRead opens a new read snapshot pinned to the most recent commit.
func (db *Database) BeginRead() *ReadTxn {
	lsn := db.wlog.BeginRead()
	db.readersMu.Lock()
	if db.activeReaders == 0 {
		db.oldestReaderBegan = time.Now()
	}
	db.activeReaders++
	db.readersMu.Unlock()
	return &ReadTxn{
		db:          db,
		snapshotLSN: lsn,
		tables:      db.cat.SnapshotTables(),
		indexes:     db.cat.SnapshotIndexes(),
	}
}

// Close releases the read snapshot, allowing a checkpoint to reclaim
// WAL space pinned on its behalf.
func (rx *ReadTxn) Close() error {
	if rx.closed {
		return nil
	}
	rx.closed = true
	rx.db.wlog.EndRead(rx.snapshotLSN)
	rx.db.readersMu.Lock()
	rx.db.activeReaders--
	rx.db.readersMu.Unlock()
	return nil
}

func (rx *ReadTxn) requireTable(name string) (*catalog.TableMeta, error) {
	t, ok := rx.tables[name]
	if !ok {
		return nil, dberr.New(dberr.SCHEMA, "no such table").WithContext("table", name)
	}
	return &t, nil
}

// ScanTable returns an iterator over table as of this snapshot.
func (rx *ReadTxn) ScanTable(table string) (*RowIterator, error) {
	t, err := rx.requireTable(table)
	if err != nil {
		return nil, err
	}
	return rx.db.cat.ScanTableAsOf(t, rx.snapshotLSN)
}

// IndexSeek looks up v in the named index as of this snapshot.
func (rx *ReadTxn) IndexSeek(indexName string, v Value) (int64, bool, error) {
	idx, ok := rx.indexes[indexName]
	if !ok {
		return 0, false, dberr.New(dberr.SCHEMA, "no such index").WithContext("index", indexName)
	}
	return rx.db.cat.IndexSeekAsOf(&idx, v, rx.snapshotLSN)
}

// GetTableColumns returns table's column definitions as of this
// snapshot, or ok=false if no such table existed at BeginRead time.
func (rx *ReadTxn) GetTableColumns(table string) ([]ColumnInfo, bool) {
	t, ok := rx.tables[table]
	if !ok {
		return nil, false
	}
	return t.Columns, true
}
