package catalog

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sphildreth/decentdb/internal/record"
	"github.com/sphildreth/decentdb/internal/storage"
	"github.com/sphildreth/decentdb/internal/vfs"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.ddb")
	p, err := storage.Open(vfs.OS{}, path, storage.Options{PageSize: 4096})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	cat, err := Load(p)
	require.NoError(t, err)
	return cat
}

func usersSchema() []ColumnDef {
	return []ColumnDef{
		{Name: "id", Type: ColInt64, NotNull: true, PrimaryKey: true},
		{Name: "name", Type: ColText, NotNull: true},
		{Name: "active", Type: ColBool, NotNull: true},
	}
}

func TestCreateTableAndInsertScan(t *testing.T) {
	cat := newTestCatalog(t)
	tbl, err := cat.CreateTable("users", usersSchema(), nil)
	require.NoError(t, err)

	for i := int64(1); i <= 5; i++ {
		_, err := cat.InsertRow(tbl, []record.Value{
			record.Int64Value(i), record.TextValue(fmt.Sprintf("user-%d", i)), record.BoolValue(i%2 == 0),
		})
		require.NoError(t, err)
	}

	it, err := cat.ScanTable(tbl)
	require.NoError(t, err)
	count := 0
	for {
		_, _, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, 5, count)
}

func TestNotNullConstraintRejected(t *testing.T) {
	cat := newTestCatalog(t)
	tbl, err := cat.CreateTable("users", usersSchema(), nil)
	require.NoError(t, err)

	_, err = cat.InsertRow(tbl, []record.Value{
		record.Int64Value(1), record.Null(), record.BoolValue(true),
	})
	require.Error(t, err)
}

func TestUniqueIndexRejectsDuplicateKey(t *testing.T) {
	cat := newTestCatalog(t)
	tbl, err := cat.CreateTable("users", usersSchema(), nil)
	require.NoError(t, err)
	_, err = cat.CreateIndex("idx_id", "users", "id", true)
	require.NoError(t, err)

	_, err = cat.InsertRow(tbl, []record.Value{record.Int64Value(1), record.TextValue("a"), record.BoolValue(false)})
	require.NoError(t, err)
	_, err = cat.InsertRow(tbl, []record.Value{record.Int64Value(1), record.TextValue("b"), record.BoolValue(false)})
	require.Error(t, err)
}

func TestIndexSeekFindsInsertedRow(t *testing.T) {
	cat := newTestCatalog(t)
	tbl, err := cat.CreateTable("users", usersSchema(), nil)
	require.NoError(t, err)
	idx, err := cat.CreateIndex("idx_id", "users", "id", true)
	require.NoError(t, err)

	rowid, err := cat.InsertRow(tbl, []record.Value{record.Int64Value(42), record.TextValue("the answer"), record.BoolValue(true)})
	require.NoError(t, err)

	got, ok, err := cat.IndexSeek(idx, record.Int64Value(42))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rowid, got)

	_, ok, err = cat.IndexSeek(idx, record.Int64Value(999))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateRowChangesValuesButKeepsRowid(t *testing.T) {
	cat := newTestCatalog(t)
	tbl, err := cat.CreateTable("users", usersSchema(), nil)
	require.NoError(t, err)
	rowid, err := cat.InsertRow(tbl, []record.Value{record.Int64Value(1), record.TextValue("old"), record.BoolValue(false)})
	require.NoError(t, err)

	require.NoError(t, cat.UpdateRow(tbl, rowid, []record.Value{record.Int64Value(1), record.TextValue("new"), record.BoolValue(true)}))

	values, ok, err := cat.GetRow(tbl, rowid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new", values[1].Text())
	require.True(t, values[2].Bool)
}

func TestDeleteRowRemovesFromScan(t *testing.T) {
	cat := newTestCatalog(t)
	tbl, err := cat.CreateTable("users", usersSchema(), nil)
	require.NoError(t, err)

	var rowid3 int64
	for i := int64(1); i <= 5; i++ {
		rowid, err := cat.InsertRow(tbl, []record.Value{record.Int64Value(i), record.TextValue(fmt.Sprintf("u%d", i)), record.BoolValue(false)})
		require.NoError(t, err)
		if i == 3 {
			rowid3 = rowid
		}
	}
	require.NoError(t, cat.DeleteRow(tbl, rowid3))

	_, ok, err := cat.GetRow(tbl, rowid3)
	require.NoError(t, err)
	require.False(t, ok)

	it, err := cat.ScanTable(tbl)
	require.NoError(t, err)
	count := 0
	for {
		_, _, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, 4, count)
}

func TestForeignKeyRestrictBlocksDeleteOfReferencedRow(t *testing.T) {
	cat := newTestCatalog(t)
	parent, err := cat.CreateTable("teams", []ColumnDef{
		{Name: "id", Type: ColInt64, NotNull: true, PrimaryKey: true},
	}, nil)
	require.NoError(t, err)
	_, err = cat.CreateIndex("idx_teams_id", "teams", "id", true)
	require.NoError(t, err)

	child, err := cat.CreateTable("players", []ColumnDef{
		{Name: "id", Type: ColInt64, NotNull: true, PrimaryKey: true},
		{Name: "team_id", Type: ColInt64, NotNull: true},
	}, []ForeignKey{{Column: "team_id", RefTable: "teams", RefColumn: "id", Restrict: true}})
	require.NoError(t, err)
	_, err = cat.CreateIndex("idx_players_team", "players", "team_id", false)
	require.NoError(t, err)

	teamRowid, err := cat.InsertRow(parent, []record.Value{record.Int64Value(1)})
	require.NoError(t, err)
	_, err = cat.InsertRow(child, []record.Value{record.Int64Value(100), record.Int64Value(1)})
	require.NoError(t, err)

	err = cat.DeleteRow(parent, teamRowid)
	require.Error(t, err, "deleting a team with a player referencing it must be rejected")
}

func TestForeignKeyRejectsInsertOfUnknownReference(t *testing.T) {
	cat := newTestCatalog(t)
	_, err := cat.CreateTable("teams", []ColumnDef{
		{Name: "id", Type: ColInt64, NotNull: true, PrimaryKey: true},
	}, nil)
	require.NoError(t, err)
	_, err = cat.CreateIndex("idx_teams_id", "teams", "id", true)
	require.NoError(t, err)

	child, err := cat.CreateTable("players", []ColumnDef{
		{Name: "id", Type: ColInt64, NotNull: true, PrimaryKey: true},
		{Name: "team_id", Type: ColInt64, NotNull: true},
	}, []ForeignKey{{Column: "team_id", RefTable: "teams", RefColumn: "id", Restrict: true}})
	require.NoError(t, err)

	_, err = cat.InsertRow(child, []record.Value{record.Int64Value(1), record.Int64Value(999)})
	require.Error(t, err)
}

func TestDropTableAlsoDropsItsIndexes(t *testing.T) {
	cat := newTestCatalog(t)
	_, err := cat.CreateTable("users", usersSchema(), nil)
	require.NoError(t, err)
	_, err = cat.CreateIndex("idx_id", "users", "id", true)
	require.NoError(t, err)

	require.NoError(t, cat.DropTable("users"))

	_, ok := cat.Table("users")
	require.False(t, ok)
	_, ok = cat.Index("idx_id")
	require.False(t, ok)
}

func TestBulkLoadInsertsEveryRow(t *testing.T) {
	cat := newTestCatalog(t)
	tbl, err := cat.CreateTable("users", usersSchema(), nil)
	require.NoError(t, err)

	rows := make([][]record.Value, 0, 20)
	for i := int64(0); i < 20; i++ {
		rows = append(rows, []record.Value{record.Int64Value(i), record.TextValue(fmt.Sprintf("u%d", i)), record.BoolValue(false)})
	}
	require.NoError(t, cat.BulkLoad(tbl, rows))

	it, err := cat.ScanTable(tbl)
	require.NoError(t, err)
	count := 0
	for {
		_, _, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, 20, count)
}

func TestSnapshotTablesIsIndependentOfLiveMutation(t *testing.T) {
	cat := newTestCatalog(t)
	tbl, err := cat.CreateTable("users", usersSchema(), nil)
	require.NoError(t, err)

	snap := cat.SnapshotTables()
	snapshotTable := snap["users"]
	rootBefore := snapshotTable.RootPage

	for i := int64(0); i < 500; i++ {
		_, err := cat.InsertRow(tbl, []record.Value{record.Int64Value(i), record.TextValue("x"), record.BoolValue(false)})
		require.NoError(t, err)
	}

	require.Equal(t, rootBefore, snapshotTable.RootPage, "a captured snapshot value must not change as the live table mutates")
	live, _ := cat.Table("users")
	require.NotEqual(t, rootBefore, live.RootPage, "the live table's root is expected to have moved after enough splits")
}
