package catalog

import (
	"sync"

	"github.com/sphildreth/decentdb/internal/btree"
	"github.com/sphildreth/decentdb/internal/dberr"
	"github.com/sphildreth/decentdb/internal/storage"
)

// Catalog is the schema layer: table and index metadata, persisted in
// its own B+Tree (the "system table"), plus the reverse-FK cache built
// at load (and kept current by CreateTable/DropTable) so a delete can
// cheaply check whether any other table still references the row being
// removed.
//
// mu guards every map and TableMeta/IndexMeta field below. The engine's
// single-writer model means it never has two callers mutating the
// catalog at once, so mu is not a contention point; it exists so a
// reader's Begin snapshot (SnapshotTables/SnapshotIndexes) never races
// the writer's in-place TableMeta.RootPage/NextRowID updates that happen
// on every row insert.
type Catalog struct {
	pager *storage.Pager
	sys   *btree.Tree

	mu      sync.RWMutex
	tables  map[string]*TableMeta
	indexes map[string]*IndexMeta

	// reverseFK[table] lists foreign keys in other tables that point at
	// table, built with a single forward walk over every table's
	// ForeignKeys when the catalog loads and updated by CreateTable and
	// DropTable.
	reverseFK map[string][]fkRef

	nextObjectID uint32
}

type fkRef struct {
	fromTable string
	fk        ForeignKey
}

// Load opens the catalog rooted at pager's header, creating a fresh
// system tree on a brand-new database.
func Load(pager *storage.Pager) (*Catalog, error) {
	c := &Catalog{
		pager:     pager,
		tables:    make(map[string]*TableMeta),
		indexes:   make(map[string]*IndexMeta),
		reverseFK: make(map[string][]fkRef),
	}

	root := pager.RootCatalogPage()
	if root == 0 {
		tree, err := btree.Create(pager)
		if err != nil {
			return nil, err
		}
		c.sys = tree
		pager.SetSchemaRoots(1, tree.RootPage())
		return c, nil
	}

	c.sys = btree.Open(pager, root)
	cursor, err := c.sys.OpenCursor(-1 << 63)
	if err != nil {
		return nil, err
	}
	for {
		key, value, ok, err := cursor.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if len(value) == 0 {
			continue
		}
		switch value[0] {
		case tagTable:
			t := decodeTableMeta(value)
			c.tables[t.Name] = t
			if uint32(key) >= c.nextObjectID {
				c.nextObjectID = uint32(key) + 1
			}
		case tagIndex:
			idx := decodeIndexMeta(value)
			c.indexes[idx.Name] = idx
			if uint32(key) >= c.nextObjectID {
				c.nextObjectID = uint32(key) + 1
			}
		}
	}

	for _, t := range c.tables {
		for _, fk := range t.ForeignKeys {
			c.reverseFK[fk.RefTable] = append(c.reverseFK[fk.RefTable], fkRef{fromTable: t.Name, fk: fk})
		}
	}

	return c, nil
}

func (c *Catalog) Table(name string) (*TableMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	return t, ok
}

func (c *Catalog) Index(name string) (*IndexMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.indexes[name]
	return idx, ok
}

// IndexesOn returns every index defined on table, in no particular
// order. It takes c.mu's read lock itself; Catalog methods that already
// hold c.mu use indexesOnLocked instead.
func (c *Catalog) IndexesOn(table string) []*IndexMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexesOnLocked(table)
}

func (c *Catalog) indexesOnLocked(table string) []*IndexMeta {
	var out []*IndexMeta
	for _, idx := range c.indexes {
		if idx.Table == table {
			out = append(out, idx)
		}
	}
	return out
}

func (c *Catalog) ListTables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.tables))
	for name := range c.tables {
		out = append(out, name)
	}
	return out
}

func (c *Catalog) ListIndexes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.indexes))
	for name := range c.indexes {
		out = append(out, name)
	}
	return out
}

// SnapshotTables returns a value copy of every table's current metadata,
// for a reader to pin at ReadTxn begin time: later writer mutations to
// the live TableMeta (RootPage, NextRowID) never retroactively change a
// reader's already-captured snapshot.
func (c *Catalog) SnapshotTables() map[string]TableMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]TableMeta, len(c.tables))
	for name, t := range c.tables {
		out[name] = *t
	}
	return out
}

// SnapshotIndexes is SnapshotTables for index metadata.
func (c *Catalog) SnapshotIndexes() map[string]IndexMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]IndexMeta, len(c.indexes))
	for name, idx := range c.indexes {
		out[name] = *idx
	}
	return out
}

func (c *Catalog) putObject(id uint32, encoded []byte) error {
	return c.sys.Insert(int64(id), encoded)
}

// CreateTable allocates a new row-storage tree and persists the table's
// metadata.
func (c *Catalog) CreateTable(name string, columns []ColumnDef, fks []ForeignKey) (*TableMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tables[name]; exists {
		return nil, dberr.New(dberr.SCHEMA, "table already exists").WithContext("table", name)
	}
	for _, fk := range fks {
		if _, ok := c.tables[fk.RefTable]; !ok {
			return nil, dberr.New(dberr.SCHEMA, "foreign key references unknown table").WithContext("ref_table", fk.RefTable)
		}
	}

	rowTree, err := btree.Create(c.pager)
	if err != nil {
		return nil, err
	}

	id := c.nextObjectID
	c.nextObjectID++
	t := &TableMeta{ID: id, Name: name, Columns: columns, ForeignKeys: fks, RootPage: rowTree.RootPage(), NextRowID: 1}
	if err := c.putObject(id, encodeTableMeta(t)); err != nil {
		return nil, err
	}

	c.tables[name] = t
	for _, fk := range fks {
		c.reverseFK[fk.RefTable] = append(c.reverseFK[fk.RefTable], fkRef{fromTable: name, fk: fk})
	}
	return t, nil
}

// DropTable removes a table's catalog entry. It refuses when another
// table's foreign key still references it. The dropped table's data
// pages are not reclaimed; they remain allocated.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	if !ok {
		return dberr.New(dberr.SCHEMA, "table does not exist").WithContext("table", name)
	}
	if refs := c.reverseFK[name]; len(refs) > 0 {
		return dberr.New(dberr.CONSTRAINT, "table is referenced by a foreign key").WithContext("table", name)
	}
	for _, idx := range c.indexesOnLocked(name) {
		if err := c.dropIndexLocked(idx.Name); err != nil {
			return err
		}
	}
	if _, err := c.sys.Delete(int64(t.ID)); err != nil {
		return err
	}
	delete(c.tables, name)
	for _, fk := range t.ForeignKeys {
		kept := c.reverseFK[fk.RefTable][:0]
		for _, ref := range c.reverseFK[fk.RefTable] {
			if ref.fromTable != name {
				kept = append(kept, ref)
			}
		}
		c.reverseFK[fk.RefTable] = kept
	}
	return nil
}

func (c *Catalog) saveTable(t *TableMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putObject(t.ID, encodeTableMeta(t))
}

// CreateIndex allocates a new index tree and persists its metadata.
func (c *Catalog) CreateIndex(name, table, column string, unique bool) (*IndexMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.indexes[name]; exists {
		return nil, dberr.New(dberr.SCHEMA, "index already exists").WithContext("index", name)
	}
	t, ok := c.tables[table]
	if !ok {
		return nil, dberr.New(dberr.SCHEMA, "table does not exist").WithContext("table", table)
	}
	if t.ColumnIndex(column) < 0 {
		return nil, dberr.New(dberr.SCHEMA, "column does not exist").WithContext("column", column)
	}

	idxTree, err := btree.Create(c.pager)
	if err != nil {
		return nil, err
	}

	id := c.nextObjectID
	c.nextObjectID++
	idx := &IndexMeta{ID: id, Name: name, Table: table, Column: column, Unique: unique, RootPage: idxTree.RootPage()}
	if err := c.putObject(id, encodeIndexMeta(idx)); err != nil {
		return nil, err
	}
	c.indexes[name] = idx
	return idx, nil
}

// DropIndex removes an index's catalog entry. Like DropTable, it does
// not reclaim the index tree's pages.
func (c *Catalog) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropIndexLocked(name)
}

func (c *Catalog) dropIndexLocked(name string) error {
	idx, ok := c.indexes[name]
	if !ok {
		return dberr.New(dberr.SCHEMA, "index does not exist").WithContext("index", name)
	}
	if _, err := c.sys.Delete(int64(idx.ID)); err != nil {
		return err
	}
	delete(c.indexes, name)
	return nil
}
