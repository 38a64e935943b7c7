package cache

import (
	"runtime"
	"sync/atomic"

	"github.com/kvtier/tiercache/internal/util"
	"github.com/kvtier/tiercache/value"
)

// TransactionalCache adds transaction-scoped negative caching to the same
// bucket-table machinery PlainCache uses, wiring in the blacklist-bearing
// bucket and the manager's transaction term in place of plain LRU-only
// buckets.
type TransactionalCache struct {
	manager *Manager
	md      *metadata

	openOperations util.PaddedAtomicInt64
	shuttingDown   atomic.Bool
	insertionCount util.PaddedAtomicUint64

	stats   *frequencyBuffer[stat]
	metrics Metrics
}

func newTransactionalCache(m *Manager, md *metadata) *TransactionalCache {
	return &TransactionalCache{
		manager: m,
		md:      md,
		stats:   newFrequencyBuffer[stat](256),
		metrics: NoopMetrics{},
	}
}

func (c *TransactionalCache) SetMetrics(m Metrics) {
	if m == nil {
		m = NoopMetrics{}
	}
	c.metrics = m
}

func (c *TransactionalCache) getBucket(hash uint32, maxTries int64) (*transactionalBucket, bool) {
	term := c.manager.TransactionTerm()
	for {
		c.md.lock()
		t, _ := c.md.table.(*transactionalTable)
		ls := c.md.logSize
		aux := c.md.auxiliaryTable
		auxLs := c.md.auxiliaryLogSize
		c.md.unlock()

		if t == nil {
			return nil, false
		}
		idx := hash & ((uint32(1) << ls) - 1)
		b := &t.buckets[idx]
		if !b.lock(term, maxTries) {
			return nil, false
		}
		if !b.isMigrated() {
			return b, true
		}
		b.unlock()
		if aux == nil {
			continue
		}
		at, _ := aux.(*transactionalTable)
		if at == nil {
			continue
		}
		aidx := hash & ((uint32(1) << auxLs) - 1)
		ab := &at.buckets[aidx]
		if !ab.lock(term, maxTries) {
			return nil, false
		}
		return ab, true
	}
}

func (c *TransactionalCache) Insert(key, val []byte) error {
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

	if b.isBlacklisted(hash) {
		// An open transaction marked this key invalid; silently drop the
		// write rather than resurrect stale data.
		return nil
	}

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

func (c *TransactionalCache) Find(key []byte) Finding {
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

	if b.isBlacklisted(hash) {
		c.metrics.Miss()
		return Finding{}
	}

	v := b.find(hash, key, true)
	c.manager.reportAccess(c.md)
	if v == nil {
		c.metrics.Miss()
		return Finding{}
	}
	c.metrics.Hit()
	return newFinding(v)
}

func (c *TransactionalCache) Remove(key []byte) error {
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

// Blacklist marks key as invalid for the remainder of the manager's
// current transaction term. Any value currently cached under key is
// evicted immediately; future writes under the same term are dropped by
// Insert until the term advances past the bucket's recorded blacklist term.
func (c *TransactionalCache) Blacklist(key []byte) error {
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

	if v := b.find(hash, key, false); v != nil {
		c.md.lock()
		c.md.adjustUsageIfAllowed(-(int64(v.Size()) + recordOverhead))
		c.md.unlock()
		c.metrics.Evict(EvictBlacklist)
	}
	b.blacklist(hash, key)
	return nil
}

func (c *TransactionalCache) Size() (usage, limit uint64) {
	c.md.lock()
	defer c.md.unlock()
	return c.md.usage, c.md.hardLimit
}

func (c *TransactionalCache) Close() error {
	if !c.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	for c.openOperations.Load() > 0 {
		runtime.Gosched()
	}
	c.manager.unregisterCache(c.md)
	return nil
}

func (c *TransactionalCache) freeMemory() {
	c.md.lock()
	t, _ := c.md.table.(*transactionalTable)
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
		if !b.lock(c.manager.TransactionTerm(), 1) {
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

func (c *TransactionalCache) usageAtMost(target uint64) bool {
	c.md.lock()
	defer c.md.unlock()
	return c.md.usage <= target
}

func (c *TransactionalCache) migrate() {
	c.md.lock()
	aux, ok := c.md.auxiliaryTable.(*transactionalTable)
	auxLs := c.md.auxiliaryLogSize
	oldTable, _ := c.md.table.(*transactionalTable)
	c.md.unlock()
	if !ok || oldTable == nil {
		return
	}

	term := c.manager.TransactionTerm()
	for i := range oldTable.buckets {
		b := &oldTable.buckets[i]
		b.lock(term, -1)
		for slot := 0; slot < transactionalSlotsData; slot++ {
			h := b.hashes[slot]
			if h == 0 {
				continue
			}
			v := b.data[slot]
			aidx := h & ((uint32(1) << auxLs) - 1)
			ab := &aux.buckets[aidx]
			ab.lock(term, -1)
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

func (c *TransactionalCache) clearTables() {
	c.md.lock()
	t, _ := c.md.table.(*transactionalTable)
	c.md.unlock()
	if t == nil {
		return
	}
	term := c.manager.TransactionTerm()
	for i := range t.buckets {
		b := &t.buckets[i]
		b.lock(term, -1)
		b.clear()
		b.unlock()
	}
}

func (c *TransactionalCache) maybeRequestMigration() {
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
		c.manager.requestMigrate(Transactional, c.md, nextLogSize)
	}
}
