package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sphildreth/decentdb/internal/vfs"
)

func newTestPager(t *testing.T) (*Pager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.ddb")
	p, err := Open(vfs.OS{}, path, Options{PageSize: DefaultPageSize, CacheCapacity: 64})
	require.NoError(t, err)
	return p, path
}

func TestPagerAllocateWriteReadRoundTrip(t *testing.T) {
	p, _ := newTestPager(t)
	defer p.Close()

	id, err := p.Allocate()
	require.NoError(t, err)

	h, err := p.Pin(id)
	require.NoError(t, err)
	copy(h.Bytes(), []byte("hello page"))
	h.Unpin(true)

	var got []byte
	require.NoError(t, p.WithPageRO(id, func(data []byte) error {
		got = append([]byte(nil), data[:len("hello page")]...)
		return nil
	}))
	require.Equal(t, "hello page", string(got))
}

// TestFreelistReuse covers the scenario where a freed page's id is
// handed back out by a subsequent Allocate instead of growing the file.
func TestFreelistReuse(t *testing.T) {
	p, _ := newTestPager(t)
	defer p.Close()

	id1, err := p.Allocate()
	require.NoError(t, err)
	id2, err := p.Allocate()
	require.NoError(t, err)
	require.NoError(t, p.Free(id1))

	id3, err := p.Allocate()
	require.NoError(t, err)
	require.Equal(t, id1, id3, "freed page should be reused before extending the file")
	require.NotEqual(t, id2, id3)
}

func TestTxnAllocTrackingRollback(t *testing.T) {
	p, _ := newTestPager(t)
	defer p.Close()

	before, err := p.Allocate()
	require.NoError(t, err)

	p.BeginTxnAllocTracking()
	a, err := p.Allocate()
	require.NoError(t, err)
	b, err := p.Allocate()
	require.NoError(t, err)
	require.NoError(t, p.RollbackTxnPageAllocations())

	// both pages allocated during the tracked transaction must be
	// returned to the freelist and handed back out again.
	reuse1, err := p.Allocate()
	require.NoError(t, err)
	reuse2, err := p.Allocate()
	require.NoError(t, err)
	require.ElementsMatch(t, []uint32{a, b}, []uint32{reuse1, reuse2})
	require.NotEqual(t, before, a)
}

func TestHeaderPersistsAcrossReopen(t *testing.T) {
	p, path := newTestPager(t)
	p.SetSchemaRoots(42, 7)
	require.NoError(t, p.WriteHeader())
	require.NoError(t, p.Close())

	p2, err := Open(vfs.OS{}, path, Options{})
	require.NoError(t, err)
	defer p2.Close()
	require.Equal(t, uint32(7), p2.RootCatalogPage())
}
