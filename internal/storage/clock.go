package storage

// clockEntry is one slot in a shard's clock array. A slot with pageID
// zero is a tombstone: a vacated slot awaiting reuse or compaction.
type clockEntry struct {
	pageID uint32
	data   []byte
	dirty  bool
	pin    int32
	ref    bool
	lsn    uint64
}

func (e *clockEntry) isTombstone() bool { return e == nil || e.pageID == 0 }

// splitmix64 hashes a page id to a shard index the way novasql's
// bufferpool hashes frame ids, generalized to an explicit splitmix64
// shard-selection scheme.
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	x = x ^ (x >> 31)
	return x
}
