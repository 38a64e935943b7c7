// Package cache implements a family of Manager-owned, bucket-sharded
// caches built for high-concurrency read/write traffic under a shared
// global memory budget.
//
// A Manager owns the global byte budget and the pool of bucket tables its
// caches lease from. CreateCache reserves a share of that budget and
// returns a Cache: Plain caches are plain LRU, Transactional caches add a
// transaction-scoped negative cache (Blacklist) so a write racing with an
// in-flight transaction can't resurrect a value that transaction has
// already invalidated.
//
// Concurrency model: every bucket and every cache's metadata record carries
// its own bounded-CAS spinlock (see state.go) rather than an OS mutex —
// contention is expected to be brief, so spinning avoids a syscall round
// trip. Buckets are fixed-size slot arrays (5 slots for Plain, 3 data + 4
// blacklist slots for Transactional) so a lookup, insert, or eviction never
// allocates. Growing a cache happens by incremental migration: a second,
// differently-sized table is leased alongside the existing one, and
// buckets are rehashed into it one at a time while ordinary traffic
// continues to flow (transparently following a bucket's migrated flag into
// the new table mid-flight) — there is no whole-cache stop-the-world
// resize.
//
// Example:
//
//	mgr, err := cache.NewManager(cache.ManagerOptions{GlobalLimit: 64 << 20})
//	if err != nil {
//		log.Fatal(err)
//	}
//	c, err := mgr.CreateCache(cache.Plain, 4<<20)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	c.Insert([]byte("k"), []byte("v"))
//	if f := c.Find([]byte("k")); f.Found() {
//		defer f.Release()
//		use(f.Value().Value())
//	}
package cache
