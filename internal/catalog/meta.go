// Package catalog implements the system-table-backed schema catalog and
// row-storage layer: table/index metadata persisted in their own
// B+Tree, constraint enforcement, and the rowid-keyed row storage each
// table's data lives in. Grounded on novasql's internal/heap/table.go
// (Insert/Get/Update/Delete/Scan shape, pageCountHook convention) and
// internal/catalog/model.go (TableMeta), re-targeted from slotted heap
// pages onto a B+Tree keyed by rowid.
package catalog

import "github.com/sphildreth/decentdb/internal/pagefmt"

// ColumnType is a column's declared storage type. Unlike record.Kind,
// it never names an overflow or compressed variant — those are wire
// details the row codec chooses at encode time, not part of the schema.
type ColumnType uint8

const (
	ColBool ColumnType = iota
	ColInt64
	ColFloat64
	ColText
	ColBlob
)

type ColumnDef struct {
	Name       string
	Type       ColumnType
	NotNull    bool
	PrimaryKey bool
	Unique     bool
}

// ForeignKey constrains Column to values present in RefTable.RefColumn.
// Only RESTRICT and NO ACTION delete behaviors are supported; CASCADE
// and SET NULL are not.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
	// Restrict, when true, refuses to delete a referenced row while
	// children exist. When false (NO ACTION) the same refusal applies
	// at constraint-check time — the two differ only in when a
	// database that supported deferred constraints would check, which
	// this engine does not implement, so both enforce immediately.
	Restrict bool
}

// TableMeta is the durable description of one table.
type TableMeta struct {
	ID          uint32
	Name        string
	Columns     []ColumnDef
	ForeignKeys []ForeignKey
	RootPage    uint32
	NextRowID   int64
}

func (t *TableMeta) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// IndexMeta is the durable description of one secondary index.
type IndexMeta struct {
	ID       uint32
	Name     string
	Table    string
	Column   string
	Unique   bool
	RootPage uint32
}

const (
	tagTable byte = 0
	tagIndex byte = 1
)

func appendString(buf []byte, s string) []byte {
	buf = pagefmt.PutUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func readString(buf []byte, off int) (string, int) {
	n, w := pagefmt.GetUvarint(buf, off)
	off += w
	return string(buf[off : off+int(n)]), off + int(n)
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	pagefmt.LE.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func readU32(buf []byte, off int) (uint32, int) {
	return pagefmt.GetU32(buf, off), off + 4
}

func encodeColumnDef(buf []byte, c ColumnDef) []byte {
	buf = appendString(buf, c.Name)
	buf = append(buf, byte(c.Type))
	var flags byte
	if c.NotNull {
		flags |= 1
	}
	if c.PrimaryKey {
		flags |= 2
	}
	if c.Unique {
		flags |= 4
	}
	buf = append(buf, flags)
	return buf
}

func decodeColumnDef(buf []byte, off int) (ColumnDef, int) {
	name, off := readString(buf, off)
	typ := ColumnType(buf[off])
	off++
	flags := buf[off]
	off++
	return ColumnDef{
		Name:       name,
		Type:       typ,
		NotNull:    flags&1 != 0,
		PrimaryKey: flags&2 != 0,
		Unique:     flags&4 != 0,
	}, off
}

func encodeForeignKey(buf []byte, fk ForeignKey) []byte {
	buf = appendString(buf, fk.Column)
	buf = appendString(buf, fk.RefTable)
	buf = appendString(buf, fk.RefColumn)
	if fk.Restrict {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func decodeForeignKey(buf []byte, off int) (ForeignKey, int) {
	column, off := readString(buf, off)
	refTable, off := readString(buf, off)
	refColumn, off := readString(buf, off)
	restrict := buf[off] != 0
	off++
	return ForeignKey{Column: column, RefTable: refTable, RefColumn: refColumn, Restrict: restrict}, off
}

func encodeTableMeta(t *TableMeta) []byte {
	buf := []byte{tagTable}
	buf = appendU32(buf, t.ID)
	buf = appendString(buf, t.Name)
	buf = appendU32(buf, t.RootPage)
	buf = pagefmt.PutVarint(buf, t.NextRowID)
	buf = pagefmt.PutUvarint(buf, uint64(len(t.Columns)))
	for _, c := range t.Columns {
		buf = encodeColumnDef(buf, c)
	}
	buf = pagefmt.PutUvarint(buf, uint64(len(t.ForeignKeys)))
	for _, fk := range t.ForeignKeys {
		buf = encodeForeignKey(buf, fk)
	}
	return buf
}

func decodeTableMeta(buf []byte) *TableMeta {
	off := 1 // tag already checked by caller
	id, off := readU32(buf, off)
	name, off := readString(buf, off)
	rootPage, off := readU32(buf, off)
	nextRowID, w := pagefmt.GetVarint(buf, off)
	off += w
	numCols, w := pagefmt.GetUvarint(buf, off)
	off += w
	cols := make([]ColumnDef, 0, numCols)
	for i := uint64(0); i < numCols; i++ {
		var c ColumnDef
		c, off = decodeColumnDef(buf, off)
		cols = append(cols, c)
	}
	numFKs, w := pagefmt.GetUvarint(buf, off)
	off += w
	fks := make([]ForeignKey, 0, numFKs)
	for i := uint64(0); i < numFKs; i++ {
		var fk ForeignKey
		fk, off = decodeForeignKey(buf, off)
		fks = append(fks, fk)
	}
	return &TableMeta{ID: id, Name: name, Columns: cols, ForeignKeys: fks, RootPage: rootPage, NextRowID: nextRowID}
}

func encodeIndexMeta(idx *IndexMeta) []byte {
	buf := []byte{tagIndex}
	buf = appendU32(buf, idx.ID)
	buf = appendString(buf, idx.Name)
	buf = appendString(buf, idx.Table)
	buf = appendString(buf, idx.Column)
	if idx.Unique {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendU32(buf, idx.RootPage)
	return buf
}

func decodeIndexMeta(buf []byte) *IndexMeta {
	off := 1
	id, off := readU32(buf, off)
	name, off := readString(buf, off)
	table, off := readString(buf, off)
	column, off := readString(buf, off)
	unique := buf[off] != 0
	off++
	rootPage, _ := readU32(buf, off)
	return &IndexMeta{ID: id, Name: name, Table: table, Column: column, Unique: unique, RootPage: rootPage}
}
