package btree

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sphildreth/decentdb/internal/storage"
	"github.com/sphildreth/decentdb/internal/vfs"
)

func newTestPager(t *testing.T) *storage.Pager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.ddb")
	p, err := storage.Open(vfs.OS{}, path, storage.Options{PageSize: 4096})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestInsertFindAndCursorOrder(t *testing.T) {
	p := newTestPager(t)
	tree, err := Create(p)
	require.NoError(t, err)

	const n = 200
	for i := int64(0); i < n; i++ {
		require.NoError(t, tree.Insert(i, []byte(fmt.Sprintf("value-%d", i))))
	}

	for i := int64(0); i < n; i++ {
		v, ok, err := tree.Find(i)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("value-%d", i), string(v))
	}

	cur, err := tree.OpenCursor(-1 << 63)
	require.NoError(t, err)
	var got []int64
	for {
		k, _, ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, k)
	}
	require.Len(t, got, n)
	for i := int64(0); i < n; i++ {
		require.Equal(t, i, got[i], "cursor must yield keys in ascending order across split pages")
	}
}

func TestDeleteRemovesKeyButCursorSkipsEmptyLeaves(t *testing.T) {
	p := newTestPager(t)
	tree, err := Create(p)
	require.NoError(t, err)

	// enough keys to split the root leaf, so the cursor has to walk past
	// more than one emptied leaf.
	const n = 1000
	for i := int64(0); i < n; i++ {
		require.NoError(t, tree.Insert(i, []byte(fmt.Sprintf("v%d", i))))
	}
	for i := int64(0); i < n; i++ {
		ok, err := tree.Delete(i)
		require.NoError(t, err)
		require.True(t, ok)
	}

	for i := int64(0); i < n; i++ {
		_, ok, err := tree.Find(i)
		require.NoError(t, err)
		require.False(t, ok)
	}

	cur, err := tree.OpenCursor(-1 << 63)
	require.NoError(t, err)
	_, _, ok, err := cur.Next()
	require.NoError(t, err)
	require.False(t, ok, "cursor must skip every emptied leaf and yield nothing")
}

func TestDeleteKeyValueRemovesOnlyMatchingEntry(t *testing.T) {
	p := newTestPager(t)
	tree, err := Create(p)
	require.NoError(t, err)

	// non-unique index entries: same key, different values.
	require.NoError(t, tree.Insert(1, []byte("a")))
	require.NoError(t, tree.Insert(1, []byte("b")))
	require.NoError(t, tree.Insert(1, []byte("c")))

	ok, err := tree.DeleteKeyValue(1, []byte("b"))
	require.NoError(t, err)
	require.True(t, ok)

	cur, err := tree.OpenCursor(1)
	require.NoError(t, err)
	var remaining []string
	for {
		k, v, ok, err := cur.Next()
		require.NoError(t, err)
		if !ok || k != 1 {
			break
		}
		remaining = append(remaining, string(v))
	}
	require.ElementsMatch(t, []string{"a", "c"}, remaining)
}

func TestReopenPersistsTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.ddb")
	p, err := storage.Open(vfs.OS{}, path, storage.Options{PageSize: 4096})
	require.NoError(t, err)

	tree, err := Create(p)
	require.NoError(t, err)
	for i := int64(0); i < 50; i++ {
		require.NoError(t, tree.Insert(i, []byte(fmt.Sprintf("row-%d", i))))
	}
	root := tree.RootPage()
	require.NoError(t, p.WriteHeader())
	require.NoError(t, p.Checkpoint(0))
	require.NoError(t, p.Close())

	p2, err := storage.Open(vfs.OS{}, path, storage.Options{})
	require.NoError(t, err)
	defer p2.Close()
	tree2 := Open(p2, root)
	v, ok, err := tree2.Find(25)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "row-25", string(v))
}
