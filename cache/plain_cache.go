package cache

import (
	"runtime"
	"sync/atomic"

	"github.com/kvtier/tiercache/internal/util"
	"github.com/kvtier/tiercache/value"
)

// PlainCache is a Manager-owned cache with LRU-only buckets — no
// transaction-scoped blacklisting.
type PlainCache struct {
	manager *Manager
	md      *metadata

	openOperations util.PaddedAtomicInt64
	shuttingDown   atomic.Bool
	insertionCount util.PaddedAtomicUint64

	stats   *frequencyBuffer[stat]
	metrics Metrics
}

func newPlainCache(m *Manager, md *metadata) *PlainCache {
	return &PlainCache{
		manager: m,
		md:      md,
		stats:   newFrequencyBuffer[stat](256),
		metrics: NoopMetrics{},
	}
}

func (c *PlainCache) SetMetrics(m Metrics) {
	if m == nil {
		m = NoopMetrics{}
	}
	c.metrics = m
}

// getBucket resolves the bucket that owns hash, transparently following a
// bucket's migrated flag into the auxiliary table while a migration is in
// flight. The returned bucket is locked; the caller must unlock it.
func (c *PlainCache) getBucket(hash uint32, maxTries int64) (*plainBucket, bool) {
	for {
		c.md.lock()
		t, _ := c.md.table.(*plainTable)
		ls := c.md.logSize
		aux := c.md.auxiliaryTable
		auxLs := c.md.auxiliaryLogSize
		c.md.unlock()

		if t == nil {
			return nil, false
		}
		idx := hash & ((uint32(1) << ls) - 1)
		b := &t.buckets[idx]
		if !b.lock(maxTries) {
			return nil, false
		}
		if !b.isMigrated() {
			return b, true
		}
		b.unlock()
		if aux == nil {
			continue
		}
		at, _ := aux.(*plainTable)
		if at == nil {
			continue
		}
		aidx := hash & ((uint32(1) << auxLs) - 1)
		ab := &at.buckets[aidx]
		if !ab.lock(maxTries) {
			return nil, false
		}
		return ab, true
	}
}

func (c *PlainCache) Insert(key, val []byte) error {
	if c.shuttingDown.Load() {
		return ErrNotOperational
	}
	c.openOperations.Add(1)
	defer c.openOperations.Add(-1)

	hash := hashKey(key)
	b, ok := c.getBucket(hash, -1)
	if !ok {
		return ErrBusy
	}
	// Migration pressure is sampled on every insert attempt, after the
	// bucket is unlocked (deferred calls run last-in first-out): migrate
	// locks every bucket of the table, this one included.
	defer func() {
		if n := c.insertionCount.Add(1); n&insertionSampleMask == 0 {
			c.maybeRequestMigration()
		}
	}()
	defer b.unlock()

	v := value.New(key, val)
	size := int64(v.Size()) + recordOverhead

	evicted := statNoEviction

	// The bucket's slot array is fixed-size regardless of remaining global
	// headroom, so a full bucket must evict before the new entry can be
	// placed at all, even when adjustUsageIfAllowed would otherwise permit it.
	for b.isFull() && b.find(hash, key, false) == nil {
		cand := b.evictionCandidate()
		if cand == nil {
			return ErrOutOfCapacity
		}
		b.evict(cand, false)
		c.md.lock()
		c.md.adjustUsageIfAllowed(-(int64(cand.Size()) + recordOverhead))
		c.md.unlock()
		c.metrics.Evict(EvictLRU)
		evicted = statEviction
	}

	for {
		c.md.lock()
		allowed := c.md.adjustUsageIfAllowed(size)
		c.md.unlock()
		if allowed {
			break
		}
		cand := b.evictionCandidate()
		if cand == nil {
			return ErrOutOfCapacity
		}
		b.evict(cand, false)
		c.md.lock()
		c.md.adjustUsageIfAllowed(-(int64(cand.Size()) + recordOverhead))
		c.md.unlock()
		c.metrics.Evict(EvictLRU)
		evicted = statEviction
	}

	if existing := b.find(hash, key, false); existing != nil {
		b.evict(existing, false)
		c.md.lock()
		c.md.adjustUsageIfAllowed(-(int64(existing.Size()) + recordOverhead))
		c.md.unlock()
	}
	b.insert(hash, v)

	c.stats.insertRecord(evicted)
	c.manager.reportAccess(c.md)
	return nil
}

func (c *PlainCache) Find(key []byte) Finding {
	if c.shuttingDown.Load() {
		return Finding{}
	}
	c.openOperations.Add(1)
	defer c.openOperations.Add(-1)

	hash := hashKey(key)
	b, ok := c.getBucket(hash, -1)
	if !ok {
		return Finding{}
	}
	defer b.unlock()

	v := b.find(hash, key, true)
	c.manager.reportAccess(c.md)
	if v == nil {
		c.metrics.Miss()
		return Finding{}
	}
	c.metrics.Hit()
	return newFinding(v)
}

func (c *PlainCache) Remove(key []byte) error {
	if c.shuttingDown.Load() {
		return ErrNotOperational
	}
	c.openOperations.Add(1)
	defer c.openOperations.Add(-1)

	hash := hashKey(key)
	b, ok := c.getBucket(hash, -1)
	if !ok {
		return ErrBusy
	}
	defer b.unlock()

	v := b.remove(hash, key)
	if v != nil {
		c.md.lock()
		c.md.adjustUsageIfAllowed(-(int64(v.Size()) + recordOverhead))
		c.md.unlock()
		c.metrics.Evict(EvictExplicit)
		v.Release()
	}
	return nil
}

func (c *PlainCache) Size() (usage, limit uint64) {
	c.md.lock()
	defer c.md.unlock()
	return c.md.usage, c.md.hardLimit
}

func (c *PlainCache) Close() error {
	if !c.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	for c.openOperations.Load() > 0 {
		runtime.Gosched()
	}
	c.manager.unregisterCache(c.md)
	return nil
}

// freeMemory evicts from every bucket in turn until usage drops to the
// cache's soft limit. Invoked by the manager's Executor under memory
// pressure.
func (c *PlainCache) freeMemory() {
	c.md.lock()
	t, _ := c.md.table.(*plainTable)
	target := c.md.softLimit
	c.md.unlock()
	if t == nil {
		return
	}

	for i := range t.buckets {
		if c.usageAtMost(target) {
			return
		}
		b := &t.buckets[i]
		if !b.lock(1) {
			continue
		}
		for !c.usageAtMost(target) {
			cand := b.evictionCandidate()
			if cand == nil {
				break
			}
			b.evict(cand, false)
			c.md.lock()
			c.md.adjustUsageIfAllowed(-(int64(cand.Size()) + recordOverhead))
			c.md.unlock()
			c.metrics.Evict(EvictLRU)
		}
		b.unlock()
	}
}

func (c *PlainCache) usageAtMost(target uint64) bool {
	c.md.lock()
	defer c.md.unlock()
	return c.md.usage <= target
}

// migrate rehashes every entry from the main table into the auxiliary
// table granted by the manager, then swaps them in. Entries that can't fit
// in their target bucket (every slot leased, none freeable) are dropped —
// migration is best-effort, matching the original's behavior.
func (c *PlainCache) migrate() {
	c.md.lock()
	aux, ok := c.md.auxiliaryTable.(*plainTable)
	auxLs := c.md.auxiliaryLogSize
	oldTable, _ := c.md.table.(*plainTable)
	c.md.unlock()
	if !ok || oldTable == nil {
		return
	}

	for i := range oldTable.buckets {
		b := &oldTable.buckets[i]
		b.lock(-1)
		for slot := 0; slot < plainSlotsData; slot++ {
			h := b.hashes[slot]
			if h == 0 {
				continue
			}
			v := b.data[slot]
			aidx := h & ((uint32(1) << auxLs) - 1)
			ab := &aux.buckets[aidx]
			ab.lock(-1)
			switch {
			case !ab.isFull():
				ab.insert(h, v)
			default:
				if cand := ab.evictionCandidate(); cand != nil {
					ab.evict(cand, true)
					ab.insert(h, v)
				}
				c.metrics.Evict(EvictMigration)
			}
			ab.unlock()
		}
		b.clear()
		b.setMigrated()
		b.unlock()
	}

	c.md.lock()
	c.md.swapTables()
	old := c.md.releaseAuxiliaryTable()
	c.md.unlock()
	if old != nil {
		c.manager.reclaimTable(old)
	}
	c.metrics.Migration()
}

func (c *PlainCache) clearTables() {
	c.md.lock()
	t, _ := c.md.table.(*plainTable)
	c.md.unlock()
	if t == nil {
		return
	}
	for i := range t.buckets {
		b := &t.buckets[i]
		b.lock(-1)
		b.clear()
		b.unlock()
	}
}

// maybeRequestMigration looks at the recent insert/evict ratio and, once
// evictions dominate, asks the manager to grow the table.
func (c *PlainCache) maybeRequestMigration() {
	var evictions, noEvictions uint64
	for _, f := range c.stats.getFrequencies() {
		switch f.Token {
		case statEviction:
			evictions = f.Count
		case statNoEviction:
			noEvictions = f.Count
		}
	}
	if evictions == 0 {
		return
	}
	if noEvictions == 0 || evictions/noEvictions >= migrationEvictionRatio {
		c.md.lock()
		nextLogSize := c.md.logSize + 1
		c.md.unlock()
		c.manager.requestMigrate(Plain, c.md, nextLogSize)
	}
}
