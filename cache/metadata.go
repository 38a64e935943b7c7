package cache

// metadata is the manager's per-cache bookkeeping record: usage, soft/hard
// byte limits, and the main/auxiliary table leases. The manager's cache
// registry gives these stable addresses (a slice of *metadata, never
// reallocated elements) so that a Cache can hold a direct, long-lived
// reference into the registry.
//
// All accessors require metadata.st to be locked by the caller.
type metadata struct {
	st state

	cache cacheHandle // weak back-reference, never an owner

	usage     uint64
	softLimit uint64
	hardLimit uint64

	// globalCharge is the total byte amount this cache has reserved out of
	// the manager's globalAllocation: what CreateCache charged (its hard
	// limit at creation, its first table's footprint and recordOverhead)
	// plus any growth later granted by requestResize. unregisterCache
	// refunds exactly this amount. A Resize shrink or a table migration
	// leaves it unchanged.
	globalCharge uint64

	table          tableLease
	auxiliaryTable tableLease

	logSize          uint32
	auxiliaryLogSize uint32
}

// tableLease is an opaque handle to a leased bucket-table allocation. Both
// plainTable and transactionalTable implement it so the manager's pool can
// hold either flavor uniformly.
type tableLease interface {
	logSize() uint32
	// reset clears every bucket's migrated flag and any still-evictable
	// slots, so a table coming out of the pool for reuse never carries
	// state left over from its previous tenant.
	reset()
}

// cacheHandle is the manager's view of a registered cache: just enough to
// dispatch its background maintenance tasks (memory reclaim, migration,
// table clearing) without the manager needing to know which bucket flavor
// backs it.
type cacheHandle interface {
	freeMemory()
	migrate()
	clearTables()
}

func newMetadata(cache cacheHandle, hardLimit uint64) *metadata {
	return &metadata{
		cache:     cache,
		softLimit: hardLimit,
		hardLimit: hardLimit,
	}
}

func (m *metadata) lock()   { m.st.lock(-1, nil) }
func (m *metadata) unlock() { m.st.unlock() }

// adjustUsageIfAllowed commits usage+delta if it does not exceed hardLimit
// (always allowed when delta <= 0). Requires the lock held.
func (m *metadata) adjustUsageIfAllowed(delta int64) bool {
	if delta <= 0 {
		next := int64(m.usage) + delta
		if next < 0 {
			next = 0
		}
		m.usage = uint64(next)
		return true
	}
	if m.usage+uint64(delta) > m.hardLimit {
		return false
	}
	m.usage += uint64(delta)
	return true
}

// adjustLimits requires usage <= newHard; otherwise it refuses and leaves
// limits untouched. Requires the lock held.
func (m *metadata) adjustLimits(newSoft, newHard uint64) bool {
	if m.usage > newHard {
		return false
	}
	m.softLimit = newSoft
	m.hardLimit = newHard
	return true
}

// grantAuxiliaryTable attaches a freshly leased table as the auxiliary
// table. Requires the lock held.
func (m *metadata) grantAuxiliaryTable(t tableLease, logSize uint32) {
	m.auxiliaryTable = t
	m.auxiliaryLogSize = logSize
}

// swapTables exchanges main and auxiliary table fields. Requires the lock held.
func (m *metadata) swapTables() {
	m.table, m.auxiliaryTable = m.auxiliaryTable, m.table
	m.logSize, m.auxiliaryLogSize = m.auxiliaryLogSize, m.logSize
}

// releaseTable detaches and returns the main table for reclaiming.
// Requires the lock held.
func (m *metadata) releaseTable() tableLease {
	t := m.table
	m.table = nil
	return t
}

// releaseAuxiliaryTable detaches and returns the auxiliary table for
// reclaiming. Requires the lock held.
func (m *metadata) releaseAuxiliaryTable() tableLease {
	t := m.auxiliaryTable
	m.auxiliaryTable = nil
	return t
}
