package cache

import (
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestTransactionalCache_InsertFindRemove(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, 1<<20)
	c, err := mgr.CreateCache(Transactional, 64<<10)
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	f := c.Find([]byte("a"))
	if !f.Found() {
		t.Fatal("expected hit for a")
	}
	if string(f.Value().Value()) != "1" {
		t.Fatalf("unexpected value %q", f.Value().Value())
	}
	f.Release()

	if err := c.Remove([]byte("a")); err != nil {
		t.Fatalf("remove a: %v", err)
	}
	if f := c.Find([]byte("a")); f.Found() {
		t.Fatal("expected miss after remove")
	}
}

// Blacklisting a key during an open transaction must evict any current
// entry and block subsequent writes until the term advances past the
// bucket's recorded blacklist term.
func TestTransactionalCache_BlacklistBlocksWriteUntilTermAdvances(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, 1<<20)
	c, err := mgr.CreateCache(Transactional, 64<<10)
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	bl, ok := c.(Blacklister)
	if !ok {
		t.Fatal("transactional cache must implement Blacklister")
	}

	if err := c.Insert([]byte("k"), []byte("old")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	mgr.StartTransaction()
	if err := bl.Blacklist([]byte("k")); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	if f := c.Find([]byte("k")); f.Found() {
		f.Release()
		t.Fatal("expected miss immediately after blacklist")
	}

	if err := c.Insert([]byte("k"), []byte("stale")); err != nil {
		t.Fatalf("insert during open transaction: %v", err)
	}
	if f := c.Find([]byte("k")); f.Found() {
		f.Release()
		t.Fatal("expected write during the blacklisting transaction to be dropped")
	}

	mgr.EndTransaction()

	if err := c.Insert([]byte("k"), []byte("fresh")); err != nil {
		t.Fatalf("insert after transaction end: %v", err)
	}
	f := c.Find([]byte("k"))
	if !f.Found() {
		t.Fatal("expected hit once the blacklisting term has passed")
	}
	if string(f.Value().Value()) != "fresh" {
		t.Fatalf("unexpected value %q", f.Value().Value())
	}
	f.Release()
}

// A bucket with every data slot occupied by unleased entries must still
// evict one (LRU) to admit a new key, the same as a plain cache's buckets.
func TestTransactionalCache_BucketFullEvictsLRU(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, 64<<20)
	c, err := mgr.CreateCache(Transactional, 16<<20)
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	tc := c.(*TransactionalCache)
	tc.md.lock()
	logSize := tc.md.logSize
	tc.md.unlock()

	mask := (uint32(1) << logSize) - 1
	var idx uint32
	keys := make([][]byte, 0, transactionalSlotsData+1)
	for i := uint32(0); len(keys) < transactionalSlotsData+1; i++ {
		k := []byte{byte(i), byte(i >> 8), byte(i >> 16), byte(i >> 24)}
		h := hashKey(k)
		if len(keys) == 0 {
			idx = h & mask
		}
		if h&mask == idx {
			keys = append(keys, k)
		}
	}

	for _, k := range keys {
		if err := c.Insert(k, []byte("v")); err != nil {
			t.Fatalf("insert %x: %v", k, err)
		}
	}

	if f := c.Find(keys[0]); f.Found() {
		f.Release()
		t.Fatal("expected the oldest same-bucket key to have been evicted")
	}
	if f := c.Find(keys[len(keys)-1]); !f.Found() {
		t.Fatal("expected the most recently inserted key to be present")
	} else {
		f.Release()
	}
}

func TestTransactionalCache_ConcurrentTrafficStaysWithinLimit(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, 4<<20)
	c, err := mgr.CreateCache(Transactional, 256<<10)
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < 200; i++ {
				k := []byte{byte(w), byte(i), byte(i >> 8)}
				if err := c.Insert(k, []byte("value")); err != nil && err != ErrOutOfCapacity {
					return err
				}
				if f := c.Find(k); f.Found() {
					f.Release()
				}
				_ = c.Remove(k)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent traffic: %v", err)
	}

	usage, limit := c.Size()
	if usage > limit {
		t.Fatalf("usage %d exceeded limit %d", usage, limit)
	}
}
