package cache

import "github.com/kvtier/tiercache/value"

// transactionalBucket adds transaction-scoped negative caching to the
// plain bucket layout: transactionalSlotsBlacklist extra hash slots record
// keys that were written during a transaction still considered "open" by
// some other participant, so a stale read from disk can't resurrect them.
type transactionalBucket struct {
	st               state
	blacklistTerm    uint64
	fullyBlacklisted bool
	hashes           [transactionalSlotsData]uint32
	data             [transactionalSlotsData]*value.Handle
	blacklistHashes  [transactionalSlotsBlacklist]uint32
}

func (b *transactionalBucket) unlock()          { b.st.unlock() }
func (b *transactionalBucket) isMigrated() bool { return b.st.isSet(flagMigrated) }
func (b *transactionalBucket) setMigrated()     { b.st.toggleFlag(flagMigrated) }

// lock acquires the bucket and, if the supplied transaction term has moved
// past the bucket's own blacklistTerm, clears the stale blacklist first.
// A term is only ever even at quiescence and odd while some transaction is
// open — clearing on term advance is what lets blacklist entries expire
// once every transaction that predates them has ended.
func (b *transactionalBucket) lock(transactionTerm uint64, maxTries int64) bool {
	if !b.st.lock(maxTries, nil) {
		return false
	}
	b.updateBlacklistTerm(transactionTerm)
	return true
}

func (b *transactionalBucket) updateBlacklistTerm(term uint64) {
	if term == 0 || term == b.blacklistTerm {
		return
	}
	b.blacklistTerm = term
	b.fullyBlacklisted = false
	for i := range b.blacklistHashes {
		b.blacklistHashes[i] = 0
	}
}

func (b *transactionalBucket) isFull() bool {
	return b.hashes[transactionalSlotsData-1] != 0
}

func (b *transactionalBucket) find(hash uint32, key []byte, moveToFront bool) *value.Handle {
	for i := 0; i < transactionalSlotsData; i++ {
		if b.hashes[i] == 0 {
			break
		}
		if b.hashes[i] == hash && b.data[i].KeyMatches(key) {
			v := b.data[i]
			if moveToFront && i != 0 {
				b.moveSlot(i, true)
			}
			return v
		}
	}
	return nil
}

func (b *transactionalBucket) insert(hash uint32, v *value.Handle) {
	for i := 0; i < transactionalSlotsData; i++ {
		if b.hashes[i] == 0 {
			b.hashes[i] = hash
			b.data[i] = v
			if i != 0 {
				b.moveSlot(i, true)
			}
			return
		}
	}
}

func (b *transactionalBucket) remove(hash uint32, key []byte) *value.Handle {
	v := b.find(hash, key, false)
	if v != nil {
		b.evict(v, false)
	}
	return v
}

func (b *transactionalBucket) evictionCandidate() *value.Handle {
	for i := transactionalSlotsData - 1; i >= 0; i-- {
		if b.hashes[i] == 0 {
			continue
		}
		if b.data[i].IsFreeable() {
			return b.data[i]
		}
	}
	return nil
}

func (b *transactionalBucket) evict(v *value.Handle, optimizeForInsertion bool) {
	for i := transactionalSlotsData - 1; i >= 0; i-- {
		if b.data[i] == v {
			b.hashes[i] = 0
			b.data[i] = nil
			b.moveSlot(i, optimizeForInsertion)
			return
		}
	}
}

func (b *transactionalBucket) clear() {
	for {
		v := b.evictionCandidate()
		if v == nil {
			return
		}
		b.evict(v, false)
	}
}

// isBlacklisted reports whether hash is recorded in the negative cache,
// either explicitly or via the fullyBlacklisted overflow flag.
func (b *transactionalBucket) isBlacklisted(hash uint32) bool {
	if b.fullyBlacklisted {
		return true
	}
	for _, h := range b.blacklistHashes {
		if h == hash {
			return true
		}
	}
	return false
}

// blacklist records hash in the negative cache, evicting any existing
// entry for the same key first. Once the fixed-size blacklist slot array
// is exhausted, the bucket degrades to fullyBlacklisted — every read
// within the current term is treated as a miss until the term advances.
func (b *transactionalBucket) blacklist(hash uint32, key []byte) {
	if v := b.find(hash, key, false); v != nil {
		b.evict(v, false)
	}
	if b.fullyBlacklisted || b.isBlacklisted(hash) {
		return
	}
	for i := range b.blacklistHashes {
		if b.blacklistHashes[i] == 0 {
			b.blacklistHashes[i] = hash
			return
		}
	}
	b.fullyBlacklisted = true
}

func (b *transactionalBucket) moveSlot(slot int, moveToFront bool) {
	hash := b.hashes[slot]
	v := b.data[slot]
	i := slot
	if moveToFront {
		for ; i >= 1; i-- {
			b.hashes[i] = b.hashes[i-1]
			b.data[i] = b.data[i-1]
		}
	} else {
		for ; i < transactionalSlotsData-1 && b.hashes[i+1] != 0; i++ {
			b.hashes[i] = b.hashes[i+1]
			b.data[i] = b.data[i+1]
		}
	}
	if i != slot {
		b.hashes[i] = hash
		b.data[i] = v
	}
}
