package decentdb

import "github.com/sphildreth/decentdb/internal/catalog"

// ColumnType is a column's declared storage type.
type ColumnType = catalog.ColumnType

const (
	TypeBool    = catalog.ColBool
	TypeInt64   = catalog.ColInt64
	TypeFloat64 = catalog.ColFloat64
	TypeText    = catalog.ColText
	TypeBlob    = catalog.ColBlob
)

// ColumnSpec describes one column of a CreateTable call.
type ColumnSpec struct {
	Name       string
	Type       ColumnType
	NotNull    bool
	PrimaryKey bool
	Unique     bool
}

// ForeignKeySpec constrains Column to values present in RefTable's
// RefColumn. Only RESTRICT/NO ACTION delete semantics are supported;
// CASCADE and SET NULL are not.
type ForeignKeySpec struct {
	Column    string
	RefTable  string
	RefColumn string
	Restrict  bool
}

// TableSchema is the CreateTable request shape.
type TableSchema struct {
	Name        string
	Columns     []ColumnSpec
	ForeignKeys []ForeignKeySpec
}

// IndexSpec is the CreateIndex request shape.
type IndexSpec struct {
	Name   string
	Table  string
	Column string
	Unique bool
}

// ColumnInfo describes one column as returned by GetTableColumns.
type ColumnInfo = catalog.ColumnDef

func toColumnDefs(cols []ColumnSpec) []catalog.ColumnDef {
	out := make([]catalog.ColumnDef, len(cols))
	for i, c := range cols {
		out[i] = catalog.ColumnDef{
			Name:       c.Name,
			Type:       c.Type,
			NotNull:    c.NotNull,
			PrimaryKey: c.PrimaryKey,
			Unique:     c.Unique,
		}
	}
	return out
}

func toForeignKeys(fks []ForeignKeySpec) []catalog.ForeignKey {
	out := make([]catalog.ForeignKey, len(fks))
	for i, fk := range fks {
		out[i] = catalog.ForeignKey{
			Column:    fk.Column,
			RefTable:  fk.RefTable,
			RefColumn: fk.RefColumn,
			Restrict:  fk.Restrict,
		}
	}
	return out
}
