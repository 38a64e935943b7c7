package cache

import "github.com/kvtier/tiercache/internal/util"

// hashKey computes the bucket-routing hash for a key. It clamps to a
// non-zero result because the bucket layout reserves hash==0 to mean
// "empty slot". FNV-1a is used as a convenient, dependency-free,
// non-cryptographic hash; the exact algorithm is not part of the cache's
// contract with callers.
func hashKey(key []byte) uint32 {
	return util.NonZero32(util.FNV32a(key))
}
