// Command decentdbtool is a hand-driven smoke test of the decentdb API,
// in the spirit of novasql's manual_test/database/main.go: no
// SQL text, just direct calls against Open/CreateTable/Insert/Scan/
// Checkpoint/Close.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sphildreth/decentdb"
)

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func mustf(ok bool, format string, args ...any) {
	if !ok {
		panic(fmt.Sprintf(format, args...))
	}
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	dataDir := "./data/test"
	must(os.MkdirAll(dataDir, 0o755))
	dbPath := filepath.Join(dataDir, "manual")
	_ = os.Remove(dbPath + ".ddb")
	_ = os.Remove(dbPath + ".ddb-wal")

	slog.Info("=== MANUAL TEST START ===", "path", dbPath)

	db, err := decentdb.Open(dbPath, decentdb.Options{})
	must(err)
	defer func() { _ = db.Close() }()

	slog.Info("=== CASE A: create schema, insert rows, index seek ===")
	tx, err := db.BeginWrite()
	must(err)

	must(tx.CreateTable(decentdb.TableSchema{
		Name: "users",
		Columns: []decentdb.ColumnSpec{
			{Name: "id", Type: decentdb.TypeInt64, NotNull: true, PrimaryKey: true},
			{Name: "name", Type: decentdb.TypeText, NotNull: true},
			{Name: "active", Type: decentdb.TypeBool, NotNull: true},
		},
	}))
	must(tx.CreateIndex(decentdb.IndexSpec{Name: "idx_users_id", Table: "users", Column: "id", Unique: true}))

	for i := int64(1); i <= 10; i++ {
		_, err := tx.InsertRow("users", []decentdb.Value{
			decentdb.Int64Value(i),
			decentdb.TextValue(fmt.Sprintf("user-%d", i)),
			decentdb.BoolValue(i%2 == 0),
		})
		must(err)
	}
	must(tx.Commit())

	rx := db.BeginRead()
	rowid, ok, err := rx.IndexSeek("idx_users_id", decentdb.Int64Value(7))
	must(err)
	mustf(ok, "expected to find rowid for id=7")
	slog.Info("IndexSeek(7) found rowid", "rowid", rowid)
	must(rx.Close())

	slog.Info("=== CASE B: update a row, re-seek ===")
	tx, err = db.BeginWrite()
	must(err)
	must(tx.UpdateRow("users", rowid, []decentdb.Value{
		decentdb.Int64Value(7),
		decentdb.TextValue("user-7-renamed"),
		decentdb.BoolValue(true),
	}))
	must(tx.Commit())

	rx = db.BeginRead()
	it, err := rx.ScanTable("users")
	must(err)
	count := 0
	for {
		_, values, ok, err := it.Next()
		must(err)
		if !ok {
			break
		}
		count++
		if values[1].Text() == "user-7-renamed" {
			slog.Info("scan observed renamed row", "values", values)
		}
	}
	mustf(count == 10, "expected 10 rows, got %d", count)
	must(rx.Close())

	slog.Info("=== CASE C: delete a row, checkpoint, reopen ===")
	tx, err = db.BeginWrite()
	must(err)
	must(tx.DeleteRow("users", rowid))
	must(tx.Commit())
	must(db.Checkpoint())
	must(db.Close())

	db2, err := decentdb.Open(dbPath, decentdb.Options{})
	must(err)
	defer func() { _ = db2.Close() }()

	rx = db2.BeginRead()
	_, found, err := rx.IndexSeek("idx_users_id", decentdb.Int64Value(7))
	must(err)
	mustf(!found, "expected id=7 to be gone after delete+checkpoint+reopen")
	must(rx.Close())

	slog.Info("=== MANUAL TEST DONE ===")
}
