package cache

import (
	"testing"

	"github.com/kvtier/tiercache/value"
)

func TestTransactionalBucket_BlacklistBlocksFind(t *testing.T) {
	t.Parallel()

	var b transactionalBucket
	b.lock(1, -1)
	defer b.unlock()

	v := value.New([]byte("k"), []byte("v"))
	b.insert(1, v)

	b.blacklist(1, []byte("k"))
	if b.find(1, []byte("k"), false) != nil {
		t.Fatal("blacklist must evict any existing entry")
	}
	if !b.isBlacklisted(1) {
		t.Fatal("expected hash to be blacklisted")
	}
}

// Once the fixed blacklist slots are exhausted, the bucket degrades to
// fullyBlacklisted and treats every hash as blacklisted.
func TestTransactionalBucket_FullyBlacklistedOverflow(t *testing.T) {
	t.Parallel()

	var b transactionalBucket
	b.lock(1, -1)
	defer b.unlock()

	for h := uint32(1); h <= transactionalSlotsBlacklist; h++ {
		b.blacklist(h, []byte{byte(h)})
	}
	if b.fullyBlacklisted {
		t.Fatal("should not overflow yet")
	}

	b.blacklist(transactionalSlotsBlacklist+1, []byte("overflow"))
	if !b.fullyBlacklisted {
		t.Fatal("expected overflow to fully blacklist the bucket")
	}
	if !b.isBlacklisted(9999) {
		t.Fatal("fullyBlacklisted bucket must report every hash as blacklisted")
	}
}

// Locking with a new transaction term clears a stale blacklist.
func TestTransactionalBucket_TermAdvanceClearsBlacklist(t *testing.T) {
	t.Parallel()

	var b transactionalBucket
	b.lock(1, -1)
	b.blacklist(5, []byte("k"))
	b.unlock()

	b.lock(3, -1)
	defer b.unlock()
	if b.isBlacklisted(5) {
		t.Fatal("blacklist should have cleared on term advance")
	}
}
