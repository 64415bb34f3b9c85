package overflow

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sphildreth/decentdb/internal/storage"
	"github.com/sphildreth/decentdb/internal/vfs"
)

func newTestPager(t *testing.T, pageSize int) *storage.Pager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.ddb")
	p, err := storage.Open(vfs.OS{}, path, storage.Options{PageSize: pageSize})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// TestOverflowChainRoundTrip covers the scenario where a value
// spanning several pages is written and read back byte-for-byte.
func TestOverflowChainRoundTrip(t *testing.T) {
	p := newTestPager(t, 2048)
	data := bytes.Repeat([]byte("0123456789abcdef"), 1000) // 16000 bytes, several pages

	first, err := WriteChain(p, data)
	require.NoError(t, err)

	got, err := ReadChain(p, first)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestOverflowChainSinglePageSmallValue(t *testing.T) {
	p := newTestPager(t, 4096)
	data := []byte("small overflow value")
	first, err := WriteChain(p, data)
	require.NoError(t, err)
	got, err := ReadChain(p, first)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFreeChainReturnsPagesToFreelist(t *testing.T) {
	p := newTestPager(t, 2048)
	// Multi-page chain: writing and freeing it must return every page it
	// used, not just the head, to the freelist.
	data := bytes.Repeat([]byte("x"), 5000)
	first, err := WriteChain(p, data)
	require.NoError(t, err)

	require.NoError(t, FreeChain(p, first))

	// Three chain pages were freed; the next three allocations must reuse
	// them instead of growing the file.
	seen := map[uint32]bool{}
	for i := 0; i < 3; i++ {
		id, err := p.Allocate()
		require.NoError(t, err)
		// a fresh pager lays the chain out on first, first+1, first+2.
		require.True(t, id >= first && id < first+3, "allocation must reuse a freed chain page")
		seen[id] = true
	}
	require.Len(t, seen, 3)
}
