package storage

import (
	"sync"

	"github.com/sphildreth/decentdb/internal/dberr"
)

const defaultShardCount = 16

// loaderFunc loads a page's bytes (and the LSN it was committed at, 0 if
// never written through the WAL) from the underlying file when it is not
// already resident in the cache.
type loaderFunc func(pageID uint32) ([]byte, uint64, error)

// shard is one partition of a sharded CLOCK cache, generalized from
// novasql's single-relation internal/bufferpool.Pool to a fixed
// number of page-id-hashed partitions.
type shard struct {
	mu       sync.Mutex
	capacity int
	entries  []*clockEntry
	index    map[uint32]int
	hand     int
	tombs    int
}

func newShard(capacity int) *shard {
	if capacity < 1 {
		capacity = 1
	}
	return &shard{
		capacity: capacity,
		entries:  make([]*clockEntry, 0, capacity),
		index:    make(map[uint32]int, capacity),
	}
}

// pin returns the cache entry for pageID, loading it via load if absent.
// Pin count is incremented and the reference bit is set on every pin,
// matching novasql's bufferpool GetPage semantics.
func (s *shard) pin(pageID uint32, load loaderFunc) (*clockEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.index[pageID]; ok {
		e := s.entries[idx]
		e.pin++
		e.ref = true
		return e, nil
	}

	idx, err := s.admissionSlot()
	if err != nil {
		return nil, err
	}

	data, lsn, err := load(pageID)
	if err != nil {
		return nil, err
	}

	e := &clockEntry{pageID: pageID, data: data, pin: 1, ref: true, lsn: lsn}
	if idx == len(s.entries) {
		s.entries = append(s.entries, e)
	} else {
		if old := s.entries[idx]; old.isTombstone() {
			s.tombs--
		}
		s.entries[idx] = e
	}
	s.index[pageID] = idx
	return e, nil
}

// admissionSlot finds a slot for a newly cached page: a reused tombstone,
// an appended slot if under capacity, or a CLOCK-evicted slot.
// Caller must hold s.mu.
func (s *shard) admissionSlot() (int, error) {
	for i, e := range s.entries {
		if e.isTombstone() {
			return i, nil
		}
	}
	if len(s.entries) < s.capacity {
		return len(s.entries), nil
	}
	return s.evictSlot()
}

// evictSlot runs the CLOCK sweep. Pinned and dirty entries are never
// evicted: a dirty entry may only be evicted after its containing
// transaction commits. An entry with ref set is given a second chance.
// Caller must hold s.mu.
func (s *shard) evictSlot() (int, error) {
	n := len(s.entries)
	if n == 0 {
		return -1, dberr.New(dberr.INTERNAL, "pager: cache shard has zero capacity")
	}
	nonTomb := n - s.tombs
	maxScan := 2 * nonTomb
	if maxScan == 0 {
		maxScan = 2 * n
	}
	for scanned := 0; scanned < maxScan; scanned++ {
		idx := s.hand
		s.hand = (s.hand + 1) % n
		e := s.entries[idx]
		if e.isTombstone() || e.pin > 0 || e.dirty {
			continue
		}
		if e.ref {
			e.ref = false
			continue
		}
		delete(s.index, e.pageID)
		s.entries[idx] = &clockEntry{}
		s.tombs++
		s.maybeCompact()
		return idx, nil
	}
	return -1, dberr.New(dberr.INTERNAL, "pager: no unpinned cache entry available")
}

// maybeCompact rebuilds the clock array once tombstones exceed 25% of
// its length. Caller must hold s.mu.
func (s *shard) maybeCompact() {
	if len(s.entries) == 0 || s.tombs*4 <= len(s.entries) {
		return
	}
	compacted := make([]*clockEntry, 0, len(s.entries)-s.tombs)
	for _, e := range s.entries {
		if e.isTombstone() {
			continue
		}
		compacted = append(compacted, e)
	}
	s.entries = compacted
	s.tombs = 0
	s.hand = 0
	s.index = make(map[uint32]int, len(s.entries))
	for i, e := range s.entries {
		s.index[e.pageID] = i
	}
}

func (s *shard) unpin(pageID uint32, dirty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.index[pageID]
	if !ok {
		return
	}
	e := s.entries[idx]
	if dirty {
		e.dirty = true
	}
	if e.pin > 0 {
		e.pin--
	}
}

func (s *shard) peek(pageID uint32) (*clockEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.index[pageID]
	if !ok {
		return nil, false
	}
	return s.entries[idx], true
}

// markCommitted stamps the LSN a page was last committed at. dirty is
// left untouched: it tracks divergence from the on-disk file, which only
// a checkpoint resolves, not a commit (the WAL, not the file, is the
// durable copy of a committed-but-not-yet-checkpointed page).
func (s *shard) markCommitted(pageID uint32, lsn uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.index[pageID]; ok {
		s.entries[idx].lsn = lsn
	}
}

// forEachDirty calls fn for every dirty entry currently resident in the
// shard, holding the shard lock for the duration.
func (s *shard) forEachDirty(fn func(pageID uint32, data []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.isTombstone() || !e.dirty {
			continue
		}
		if err := fn(e.pageID, e.data); err != nil {
			return err
		}
	}
	return nil
}

// flushAndClear calls fn for every dirty entry and clears its dirty bit
// once fn succeeds, used by checkpoint to apply the cache's view onto the
// main file and retire the WAL frames that shadowed it.
func (s *shard) flushAndClear(fn func(pageID uint32, data []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.isTombstone() || !e.dirty {
			continue
		}
		if err := fn(e.pageID, e.data); err != nil {
			return err
		}
		e.dirty = false
	}
	return nil
}

// evictAllDirty forcibly clears every dirty entry regardless of pin
// state, used by the rollback barrier to guarantee no reader can observe
// a rolled-back write.
func (s *shard) evictAllDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.isTombstone() || !e.dirty {
			continue
		}
		delete(s.index, e.pageID)
		s.entries[i] = &clockEntry{}
		s.tombs++
	}
	s.maybeCompact()
}

// cache is the sharded CLOCK page cache.
type cache struct {
	shards []*shard
}

func newCache(capacity int) *cache {
	if capacity < defaultShardCount {
		capacity = defaultShardCount
	}
	per := capacity / defaultShardCount
	shards := make([]*shard, defaultShardCount)
	for i := range shards {
		shards[i] = newShard(per)
	}
	return &cache{shards: shards}
}

func (c *cache) shardFor(pageID uint32) *shard {
	h := splitmix64(uint64(pageID))
	return c.shards[h%uint64(len(c.shards))]
}

func (c *cache) pin(pageID uint32, load loaderFunc) (*clockEntry, error) {
	return c.shardFor(pageID).pin(pageID, load)
}

func (c *cache) unpin(pageID uint32, dirty bool) {
	c.shardFor(pageID).unpin(pageID, dirty)
}

func (c *cache) peek(pageID uint32) (*clockEntry, bool) {
	return c.shardFor(pageID).peek(pageID)
}

func (c *cache) markCommitted(pageID uint32, lsn uint64) {
	c.shardFor(pageID).markCommitted(pageID, lsn)
}

func (c *cache) forEachDirty(fn func(pageID uint32, data []byte) error) error {
	for _, s := range c.shards {
		if err := s.forEachDirty(fn); err != nil {
			return err
		}
	}
	return nil
}

func (c *cache) flushAndClear(fn func(pageID uint32, data []byte) error) error {
	for _, s := range c.shards {
		if err := s.flushAndClear(fn); err != nil {
			return err
		}
	}
	return nil
}

func (c *cache) evictAllDirty() {
	for _, s := range c.shards {
		s.evictAllDirty()
	}
}
