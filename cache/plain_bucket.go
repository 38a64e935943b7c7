package cache

import "github.com/kvtier/tiercache/value"

// plainBucket is a cache-line-sized, independently lockable slot array
// holding up to plainSlotsData entries with per-bucket LRU ordering.
// Non-empty slots always form a prefix 0..k; slot 0 is most-recently-used.
//
// Size note: state(4) + hashes(5*4=20) + data(5*8=40) already sums to the
// target 64 bytes on a 64-bit platform. A 32-bit build would need explicit
// padding to hold the line; this module targets 64-bit.
type plainBucket struct {
	st     state
	hashes [plainSlotsData]uint32
	data   [plainSlotsData]*value.Handle
}

func (b *plainBucket) lock(maxTries int64) bool { return b.st.lock(maxTries, nil) }
func (b *plainBucket) unlock()                  { b.st.unlock() }
func (b *plainBucket) isMigrated() bool         { return b.st.isSet(flagMigrated) }
func (b *plainBucket) setMigrated()             { b.st.toggleFlag(flagMigrated) }

func (b *plainBucket) isFull() bool {
	return b.hashes[plainSlotsData-1] != 0
}

// find scans for a matching (hash,key) pair. On a hit, if moveToFront,
// the slot is promoted to position 0.
func (b *plainBucket) find(hash uint32, key []byte, moveToFront bool) *value.Handle {
	for i := 0; i < plainSlotsData; i++ {
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

// insert writes into the first empty slot and promotes it to the front.
// If the bucket is full, the insert is silently dropped — callers are
// expected to have evicted a candidate first.
func (b *plainBucket) insert(hash uint32, v *value.Handle) {
	for i := 0; i < plainSlotsData; i++ {
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

// remove finds and evicts a matching entry, returning the removed handle
// (now owned by the caller) or nil on a miss.
func (b *plainBucket) remove(hash uint32, key []byte) *value.Handle {
	v := b.find(hash, key, false)
	if v != nil {
		b.evict(v, false)
	}
	return v
}

// evictionCandidate scans back-to-front for the first freeable value —
// approximate LRU restricted to currently-unleased entries.
func (b *plainBucket) evictionCandidate() *value.Handle {
	for i := plainSlotsData - 1; i >= 0; i-- {
		if b.hashes[i] == 0 {
			continue
		}
		if b.data[i].IsFreeable() {
			return b.data[i]
		}
	}
	return nil
}

// evict clears the slot holding v and compacts the slot array.
// optimizeForInsertion controls where the gap goes: true shifts the entries
// in front of the slot back by one so the gap opens at slot 0, where an
// insert made right afterwards lands without further shifting; false shifts
// trailing entries forward so the gap closes up and the non-empty slots stay
// a prefix. After evict with true, the prefix layout holds again only once
// that insert has been made.
func (b *plainBucket) evict(v *value.Handle, optimizeForInsertion bool) {
	for i := plainSlotsData - 1; i >= 0; i-- {
		if b.data[i] == v {
			b.hashes[i] = 0
			b.data[i] = nil
			b.moveSlot(i, optimizeForInsertion)
			return
		}
	}
}

// clear evicts every freeable entry in the bucket, in preparation for the
// table that holds it being dropped. Entries still leased are left in
// place — a cache never forcibly invalidates a handle a caller still holds.
func (b *plainBucket) clear() {
	for {
		v := b.evictionCandidate()
		if v == nil {
			return
		}
		b.evict(v, false)
	}
}

// moveSlot relocates the entry at slot toward the front (moveToFront=true)
// or toward the back, shifting intervening entries to fill the gap.
func (b *plainBucket) moveSlot(slot int, moveToFront bool) {
	hash := b.hashes[slot]
	v := b.data[slot]
	i := slot
	if moveToFront {
		for ; i >= 1; i-- {
			b.hashes[i] = b.hashes[i-1]
			b.data[i] = b.data[i-1]
		}
	} else {
		for ; i < plainSlotsData-1 && b.hashes[i+1] != 0; i++ {
			b.hashes[i] = b.hashes[i+1]
			b.data[i] = b.data[i+1]
		}
	}
	if i != slot {
		b.hashes[i] = hash
		b.data[i] = v
	}
}
