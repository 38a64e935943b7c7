package cache

import "testing"

// A table returned to the pool after serving as a migration source must not
// carry its migrated flag into its next tenant — otherwise getBucket's
// "follow into the auxiliary table" loop spins forever once that table is
// reused and has no auxiliary table of its own.
func TestManager_ReclaimTableClearsMigratedFlag(t *testing.T) {
	t.Parallel()

	mgr, err := NewManager(ManagerOptions{GlobalLimit: 1 << 20})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	const logSize = 5
	tbl := mgr.leaseTable(Plain, logSize)
	pt, ok := tbl.(*plainTable)
	if !ok {
		t.Fatal("expected a *plainTable lease")
	}
	pt.buckets[0].lock(-1)
	pt.buckets[0].setMigrated()
	pt.buckets[0].unlock()
	if !pt.buckets[0].isMigrated() {
		t.Fatal("setup: expected bucket to be marked migrated")
	}

	mgr.reclaimTable(tbl)

	reused := mgr.leaseTable(Plain, logSize)
	if reused != tbl {
		t.Fatal("expected the pooled table to be reused rather than a fresh allocation")
	}
	rt := reused.(*plainTable)
	if rt.buckets[0].isMigrated() {
		t.Fatal("expected the migrated flag to be cleared once a table re-enters service")
	}
}

// Same defect, transactional flavor: reclaim must also clear any stale
// blacklist state alongside the migrated flag.
func TestManager_ReclaimTransactionalTableClearsMigratedAndBlacklist(t *testing.T) {
	t.Parallel()

	mgr, err := NewManager(ManagerOptions{GlobalLimit: 1 << 20})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	const logSize = 5
	tbl := mgr.leaseTable(Transactional, logSize)
	tt, ok := tbl.(*transactionalTable)
	if !ok {
		t.Fatal("expected a *transactionalTable lease")
	}
	tt.buckets[0].lock(7, -1)
	tt.buckets[0].setMigrated()
	tt.buckets[0].blacklist(hashKey([]byte("k")), []byte("k"))
	tt.buckets[0].unlock()
	if !tt.buckets[0].isMigrated() || !tt.buckets[0].isBlacklisted(hashKey([]byte("k"))) {
		t.Fatal("setup: expected bucket to be migrated and blacklisted")
	}

	mgr.reclaimTable(tbl)

	reused := mgr.leaseTable(Transactional, logSize)
	rt := reused.(*transactionalTable)
	if rt.buckets[0].isMigrated() {
		t.Fatal("expected the migrated flag to be cleared once a table re-enters service")
	}
	if rt.buckets[0].isBlacklisted(hashKey([]byte("k"))) {
		t.Fatal("expected stale blacklist state to be cleared once a table re-enters service")
	}
}

// End-to-end coverage for incremental migration: sustained eviction
// pressure must grow a cache's table across more than one round, and a key
// inserted right before a migration must still be found right after it.
func TestPlainCache_MigrationGrowsTableAcrossMultipleRounds(t *testing.T) {
	t.Parallel()

	mgr, err := NewManager(ManagerOptions{
		GlobalLimit: 1 << 20,
		Executor:    inlineExecutor{},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	c, err := mgr.CreateCache(Plain, 1<<minLogSize)
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	pc := c.(*PlainCache)
	logSizeOf := func() uint32 {
		pc.md.lock()
		defer pc.md.unlock()
		return pc.md.logSize
	}

	initial := logSizeOf()
	var lastKey []byte
	var seen uint32

	for round := 0; round < 3; round++ {
		before := logSizeOf()
		grew := false
		for i := 0; i < (insertionSampleMask+1)*2 && !grew; i++ {
			seen++
			k := []byte{byte(seen), byte(seen >> 8), byte(seen >> 16), byte(seen >> 24)}
			err := c.Insert(k, []byte("v"))
			if err != nil && err != ErrOutOfCapacity {
				t.Fatalf("insert: %v", err)
			}
			if err == nil {
				lastKey = k
			}
			if logSizeOf() > before {
				grew = true
			}
		}
		if !grew {
			t.Fatalf("round %d: expected table growth under sustained eviction pressure", round)
		}
	}

	if logSizeOf() <= initial {
		t.Fatalf("expected table log size to have grown from %d, got %d", initial, logSizeOf())
	}

	if f := c.Find(lastKey); !f.Found() {
		t.Fatal("expected the most recently inserted key to survive migration")
	} else {
		f.Release()
	}
}
