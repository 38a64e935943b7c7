package cache

// Cache is the public surface shared by every cache kind a Manager can
// produce.
type Cache interface {
	// Insert stores val under key, evicting as needed to stay within the
	// cache's current limit. It returns ErrNotOperational once the cache
	// has begun shutting down.
	Insert(key, val []byte) error

	// Find looks up key. The returned Finding must be released exactly
	// once; see Finding's doc comment.
	Find(key []byte) Finding

	// Remove deletes any entry for key. It is not an error for key to be
	// absent.
	Remove(key []byte) error

	// Size returns current usage and hard limit, in bytes.
	Size() (usage, limit uint64)

	// SetMetrics installs the Metrics sink used for subsequent operations.
	// Passing nil reverts to NoopMetrics.
	SetMetrics(Metrics)

	// Close drains in-flight operations and releases the cache's tables
	// back to the manager. After Close, Insert and Remove (and Blacklist on
	// a Transactional cache) return ErrNotOperational, Find reports a miss,
	// and a further Close returns nil.
	Close() error

	freeMemory()
	migrate()
	clearTables()
}

// Blacklister is implemented by Transactional caches in addition to Cache.
type Blacklister interface {
	// Blacklist marks key as invalid for the duration of the manager's
	// current transaction term, even if a concurrent Insert races with it.
	Blacklist(key []byte) error
}
