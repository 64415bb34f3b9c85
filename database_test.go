package decentdb

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSchema() TableSchema {
	return TableSchema{
		Name: "users",
		Columns: []ColumnSpec{
			{Name: "id", Type: TypeInt64, NotNull: true, PrimaryKey: true},
			{Name: "name", Type: TypeText, NotNull: true},
			{Name: "active", Type: TypeBool, NotNull: true},
		},
	}
}

// TestCommitDurability covers rows committed before Close are visible
// after a fresh Open of the same file.
func TestCommitDurability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commit")

	db, err := Open(path, Options{})
	require.NoError(t, err)

	tx, err := db.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, tx.CreateTable(newTestSchema()))
	for i := int64(1); i <= 5; i++ {
		_, err := tx.InsertRow("users", []Value{
			Int64Value(i), TextValue(fmt.Sprintf("user-%d", i)), BoolValue(i%2 == 0),
		})
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())
	require.NoError(t, db.Close())

	db2, err := Open(path, Options{})
	require.NoError(t, err)
	defer db2.Close()

	rx := db2.BeginRead()
	defer rx.Close()
	it, err := rx.ScanTable("users")
	require.NoError(t, err)
	seen := map[int64]string{}
	for {
		rowid, values, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		seen[rowid] = values[1].Text()
	}
	require.Len(t, seen, 5)
}

// TestRollbackDiscardsUncommittedWrites covers the rollback-barrier
// safety scenario: a rolled-back transaction's writes must never be
// observable, and subsequent transactions must still work correctly.
func TestRollbackDiscardsUncommittedWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollback")
	db, err := Open(path, Options{})
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, tx.CreateTable(newTestSchema()))
	require.NoError(t, tx.Commit())

	tx, err = db.BeginWrite()
	require.NoError(t, err)
	_, err = tx.InsertRow("users", []Value{Int64Value(1), TextValue("ghost"), BoolValue(false)})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	tx, err = db.BeginWrite()
	require.NoError(t, err)
	_, err = tx.InsertRow("users", []Value{Int64Value(2), TextValue("real"), BoolValue(true)})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	rx := db.BeginRead()
	defer rx.Close()
	it, err := rx.ScanTable("users")
	require.NoError(t, err)
	var names []string
	for {
		_, values, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		names = append(names, values[1].Text())
	}
	require.Equal(t, []string{"real"}, names)
}

// TestSnapshotIsolation covers the scenario where a reader's
// snapshot must not observe writes committed after BeginRead.
func TestSnapshotIsolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot")
	db, err := Open(path, Options{})
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, tx.CreateTable(newTestSchema()))
	_, err = tx.InsertRow("users", []Value{Int64Value(1), TextValue("before"), BoolValue(false)})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	rx := db.BeginRead()
	defer rx.Close()

	tx, err = db.BeginWrite()
	require.NoError(t, err)
	_, err = tx.InsertRow("users", []Value{Int64Value(2), TextValue("after"), BoolValue(true)})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	it, err := rx.ScanTable("users")
	require.NoError(t, err)
	var names []string
	for {
		_, values, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		names = append(names, values[1].Text())
	}
	require.Equal(t, []string{"before"}, names, "reader snapshot must not observe the later commit")

	rx2 := db.BeginRead()
	defer rx2.Close()
	it2, err := rx2.ScanTable("users")
	require.NoError(t, err)
	var names2 []string
	for {
		_, values, ok, err := it2.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		names2 = append(names2, values[1].Text())
	}
	require.ElementsMatch(t, []string{"before", "after"}, names2)
}

func TestTryBeginWriteReturnsBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy")
	db, err := Open(path, Options{})
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.BeginWrite()
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = db.TryBeginWrite()
	require.Error(t, err)
	kind, ok := ErrorKind(err)
	require.True(t, ok)
	require.Equal(t, KindBusy, kind)
}

func TestUniqueIndexRejectsDuplicate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unique")
	db, err := Open(path, Options{})
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, tx.CreateTable(newTestSchema()))
	require.NoError(t, tx.CreateIndex(IndexSpec{Name: "idx_id", Table: "users", Column: "id", Unique: true}))
	_, err = tx.InsertRow("users", []Value{Int64Value(1), TextValue("a"), BoolValue(false)})
	require.NoError(t, err)
	_, err = tx.InsertRow("users", []Value{Int64Value(1), TextValue("b"), BoolValue(false)})
	require.Error(t, err)
	kind, ok := ErrorKind(err)
	require.True(t, ok)
	require.Equal(t, KindConstraint, kind)
	require.NoError(t, tx.Rollback())
}

func TestCheckpointPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint")
	db, err := Open(path, Options{})
	require.NoError(t, err)

	tx, err := db.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, tx.CreateTable(newTestSchema()))
	require.NoError(t, tx.CreateIndex(IndexSpec{Name: "idx_id", Table: "users", Column: "id", Unique: true}))
	_, err = tx.InsertRow("users", []Value{Int64Value(1), TextValue("a"), BoolValue(false)})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, db.Checkpoint())
	require.NoError(t, db.Close())

	db2, err := Open(path, Options{})
	require.NoError(t, err)
	defer db2.Close()
	rx := db2.BeginRead()
	defer rx.Close()
	rowid, ok, err := rx.IndexSeek("idx_id", Int64Value(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), rowid)
}
