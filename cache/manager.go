package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvtier/tiercache/internal/util"
)

// Executor dispatches a cache's background bookkeeping (freeing memory,
// migrating to a resized table) off the caller's goroutine. The manager
// never assumes anything about how this happens beyond "eventually, and
// not reentrantly for the same cache." See tasks.go for the default
// implementation.
type Executor interface {
	Submit(func())
}

// ManagerOptions configures a Manager. A zero GlobalLimit is invalid.
type ManagerOptions struct {
	GlobalLimit uint64
	Executor    Executor
	Metrics     ManagerMetrics
}

// ManagerMetrics exposes manager-level observability hooks, independent of
// any one cache's Metrics.
type ManagerMetrics interface {
	GlobalSize(allocation, limit uint64)
	TransactionTerm(term uint64)
}

// NoopManagerMetrics implements ManagerMetrics with no-ops.
type NoopManagerMetrics struct{}

func (NoopManagerMetrics) GlobalSize(_, _ uint64)  {}
func (NoopManagerMetrics) TransactionTerm(_ uint64) {}

// Manager owns the shared memory budget across every cache it creates, the
// bucket-table pool those caches lease from, and the transaction term used
// by Transactional caches' blacklists. It is the sole entry point for
// constructing caches: a registry of stable-address per-cache metadata, a
// table free-list pool bucketed by (kind, logSize), global soft/hard
// limits guarded by mu, and a frequency buffer of
// cache activity used to pick shrink order when the global limit is
// lowered.
type Manager struct {
	st state

	mu       sync.Mutex // guards registry and tables pool slice headers
	registry []*metadata
	tables   [2][64][]tableLease

	globalSoftLimit  uint64
	globalHardLimit  uint64
	globalAllocation uint64

	openTransactions uint64
	term             atomic.Uint64

	accessCounter util.PaddedAtomicUint64
	accessStats   *frequencyBuffer[*metadata]

	lastResize time.Time

	executor Executor
	metrics  ManagerMetrics
}

// NewManager constructs a Manager with the given global byte budget.
func NewManager(opts ManagerOptions) (*Manager, error) {
	minTableLS := tableLogSizeFor(minLogSize)
	minCharge := (uint64(1) << minLogSize) + tableByteSize(minTableLS) + recordOverhead
	if opts.GlobalLimit < minCharge {
		return nil, ErrOutOfCapacity
	}
	exec := opts.Executor
	if exec == nil {
		exec = newSemaphoreExecutor(util.ReasonableParallelism())
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NoopManagerMetrics{}
	}
	return &Manager{
		globalSoftLimit: opts.GlobalLimit,
		globalHardLimit: opts.GlobalLimit,
		accessStats:     newFrequencyBuffer[*metadata](1024),
		executor:        exec,
		metrics:         metrics,
	}, nil
}

func tableLogSizeFor(cacheLogSize uint32) uint32 {
	if cacheLogSize <= tableLogSizeAdjustment {
		return minTableLogSize
	}
	ls := cacheLogSize - tableLogSizeAdjustment
	if ls < minTableLogSize {
		return minTableLogSize
	}
	return ls
}

// tableByteSize is the resident footprint of a table with the given log2
// bucket count: one bucketSize-byte bucket per slot.
func tableByteSize(logSize uint32) uint64 {
	return bucketSize * (uint64(1) << logSize)
}

// CreateCache reserves requestedBytes out of the global budget and returns
// a new cache of the given kind. It fails with ErrOutOfCapacity if even
// minCacheSize cannot be reserved. The global budget is charged for the
// cache's own byte limit, its bucket table's resident footprint, and a
// flat recordOverhead for the metadata record itself — not just the
// requested byte limit in isolation.
func (m *Manager) CreateCache(kind Kind, requestedBytes uint64) (Cache, error) {
	logSize := util.LogSizeFor(requestedBytes)
	if logSize < minLogSize {
		logSize = minLogSize
	}
	size := uint64(1) << logSize
	tableLS := tableLogSizeFor(logSize)
	charge := size + tableByteSize(tableLS) + recordOverhead

	m.mu.Lock()
	if m.globalAllocation+charge > m.globalHardLimit {
		logSize = minLogSize
		size = uint64(1) << logSize
		tableLS = tableLogSizeFor(logSize)
		charge = size + tableByteSize(tableLS) + recordOverhead
		if m.globalAllocation+charge > m.globalHardLimit {
			m.mu.Unlock()
			return nil, ErrOutOfCapacity
		}
	}
	m.globalAllocation += charge
	m.mu.Unlock()

	md := newMetadata(nil, size)
	md.table = m.leaseTable(kind, tableLS)
	md.logSize = tableLS
	md.globalCharge = charge

	var c Cache
	switch kind {
	case Plain:
		c = newPlainCache(m, md)
	case Transactional:
		c = newTransactionalCache(m, md)
	default:
		panic("tiercache: unknown cache kind")
	}
	md.cache = c.(cacheHandle)

	m.mu.Lock()
	m.registry = append(m.registry, md)
	m.mu.Unlock()

	return c, nil
}

// unregisterCache removes md from the registry and releases its tables and
// reserved allocation back to the global pool. Called once by a cache's
// shutdown path.
func (m *Manager) unregisterCache(md *metadata) {
	md.lock()
	main := md.releaseTable()
	aux := md.releaseAuxiliaryTable()
	freed := md.globalCharge
	md.unlock()

	m.mu.Lock()
	for i, entry := range m.registry {
		if entry == md {
			m.registry = append(m.registry[:i], m.registry[i+1:]...)
			break
		}
	}
	if m.globalAllocation >= freed {
		m.globalAllocation -= freed
	} else {
		m.globalAllocation = 0
	}
	m.mu.Unlock()

	if main != nil {
		m.reclaimTable(main)
	}
	if aux != nil {
		m.reclaimTable(aux)
	}
}

// Close shuts the manager down. It refuses with ErrBusy while any cache
// remains registered — callers must close every cache it produced first.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.registry) > 0 {
		return ErrBusy
	}
	m.st.lock(-1, nil)
	if !m.st.isSet(flagShutdown) {
		m.st.toggleFlag(flagShutdown)
	}
	m.st.unlock()
	return nil
}

// GlobalLimit returns the current global hard byte limit.
func (m *Manager) GlobalLimit() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.globalHardLimit
}

// GlobalAllocation returns the sum of every registered cache's reservation.
func (m *Manager) GlobalAllocation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.globalAllocation
}

// TransactionTerm returns the manager's current transaction generation: a
// quiescent manager (no open transactions) always reports an even number;
// it is odd for as long as at least one transaction is open.
func (m *Manager) TransactionTerm() uint64 { return m.term.Load() }

// StartTransaction marks the beginning of a transaction's lifetime.
func (m *Manager) StartTransaction() {
	m.mu.Lock()
	m.openTransactions++
	if m.openTransactions == 1 {
		m.term.Add(1)
	}
	m.mu.Unlock()
}

// EndTransaction marks a transaction's end. Once the last open transaction
// ends, the term advances again to an even value.
func (m *Manager) EndTransaction() {
	m.mu.Lock()
	if m.openTransactions > 0 {
		m.openTransactions--
		if m.openTransactions == 0 {
			m.term.Add(1)
		}
	}
	m.mu.Unlock()
}

// reportAccess is called by every cache Insert and Find; it samples 1-in-N calls
// (accessReportMask) into the manager's own activity buffer so that a
// later resize can shrink the coldest caches first.
func (m *Manager) reportAccess(md *metadata) {
	n := m.accessCounter.Add(1)
	if n&accessReportMask != 0 {
		return
	}
	m.accessStats.insertRecord(md)
}

// increaseAllowed reports whether md may grow its reservation by delta
// bytes without the manager's global allocation exceeding its hard limit.
func (m *Manager) increaseAllowed(delta uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.globalAllocation+delta <= m.globalHardLimit
}

// requestResize asks the manager to grant a cache a larger reservation. It
// is not rate-limited (resizeCooldown applies only to Resize) and is
// all-or-nothing: if the requested size doesn't currently fit within the
// global budget, the cache's limits are left untouched and the caller can
// retry later.
func (m *Manager) requestResize(md *metadata, requestedHard uint64) bool {
	md.lock()
	current := md.hardLimit
	md.unlock()

	if requestedHard <= current {
		return true
	}
	delta := requestedHard - current
	if !m.increaseAllowed(delta) {
		return false
	}

	m.mu.Lock()
	m.globalAllocation += delta
	m.mu.Unlock()

	md.lock()
	ok := md.adjustLimits(requestedHard, requestedHard)
	if ok {
		md.globalCharge += delta
	}
	md.unlock()
	if !ok {
		m.mu.Lock()
		m.globalAllocation -= delta
		m.mu.Unlock()
	}
	return ok
}

// requestMigrate grants md an auxiliary table at newLogSize and schedules
// the cache's migrate() task via the executor. Returns false if an
// auxiliary table is already outstanding.
func (m *Manager) requestMigrate(kind Kind, md *metadata, newLogSize uint32) bool {
	md.lock()
	if md.auxiliaryTable != nil {
		md.unlock()
		return false
	}
	aux := m.leaseTable(kind, newLogSize)
	md.grantAuxiliaryTable(aux, newLogSize)
	handle := md.cache
	md.unlock()

	m.executor.Submit(handle.migrate)
	return true
}

// Resize adjusts the manager's global hard limit. Growing always succeeds.
// A shrink requested less than resizeCooldown after the previous one
// returns false and changes nothing. Any other shrink starts with a gentle
// pass (every cache's limits lowered in proportion, coldest caches first; a
// cache whose usage is above its new limit keeps its old limits). If the
// per-cache hard limits still sum to more than the new global limit, an
// aggressive pass follows (each cache that kept its old limits gets its
// soft limit lowered, runs freeMemory, and has the proportional limit
// applied again). If the sum still does not fit, Resize returns false,
// leaving the global soft limit at newGlobalLimit and the hard limit as it
// was.
func (m *Manager) Resize(newGlobalLimit uint64) bool {
	m.mu.Lock()
	if newGlobalLimit >= m.globalHardLimit {
		m.globalSoftLimit = newGlobalLimit
		m.globalHardLimit = newGlobalLimit
		m.mu.Unlock()
		return true
	}
	if time.Since(m.lastResize) < resizeCooldown {
		m.mu.Unlock()
		return false
	}
	m.lastResize = time.Now()
	registrySnapshot := append([]*metadata(nil), m.registry...)
	oldLimit := m.globalHardLimit
	m.mu.Unlock()

	ordered := m.coldestFirst(registrySnapshot)

	ratio := float64(newGlobalLimit) / float64(oldLimit)
	targets := make(map[*metadata]uint64, len(ordered))
	for _, md := range ordered {
		md.lock()
		target := uint64(float64(md.hardLimit) * ratio)
		if target < minCacheSize {
			target = minCacheSize
		}
		targets[md] = target
		md.adjustLimits(target, target)
		md.unlock()
	}

	if m.sumHardLimits() <= newGlobalLimit {
		m.commitGlobalLimit(newGlobalLimit)
		return true
	}

	for _, md := range ordered {
		md.lock()
		target := targets[md]
		if md.hardLimit <= target {
			md.unlock()
			continue
		}
		md.softLimit = target
		cache := md.cache
		md.unlock()
		cache.freeMemory()
		md.lock()
		md.adjustLimits(target, target)
		md.unlock()
	}

	if m.sumHardLimits() <= newGlobalLimit {
		m.commitGlobalLimit(newGlobalLimit)
		return true
	}
	m.mu.Lock()
	m.globalSoftLimit = newGlobalLimit
	m.mu.Unlock()
	return false
}

func (m *Manager) commitGlobalLimit(limit uint64) {
	m.mu.Lock()
	m.globalSoftLimit = limit
	m.globalHardLimit = limit
	m.mu.Unlock()
}

func (m *Manager) sumHardLimits() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum uint64
	for _, md := range m.registry {
		md.lock()
		sum += md.hardLimit
		md.unlock()
	}
	return sum
}

// coldestFirst orders the given registry snapshot by ascending observed
// access frequency, falling back to registration order for caches the
// sampler hasn't seen recently.
func (m *Manager) coldestFirst(registry []*metadata) []*metadata {
	freq := m.accessStats.getFrequencies()
	rank := make(map[*metadata]int, len(freq))
	for i, f := range freq {
		rank[f.Token] = i
	}
	ordered := append([]*metadata(nil), registry...)
	sortByRank(ordered, rank)
	return ordered
}

func sortByRank(mds []*metadata, rank map[*metadata]int) {
	// insertion sort: registries are small (one entry per long-lived cache).
	for i := 1; i < len(mds); i++ {
		for j := i; j > 0 && rankOf(mds[j], rank) < rankOf(mds[j-1], rank); j-- {
			mds[j], mds[j-1] = mds[j-1], mds[j]
		}
	}
}

func rankOf(md *metadata, rank map[*metadata]int) int {
	if r, ok := rank[md]; ok {
		return r
	}
	return -1
}

// leaseTable pops a pooled table of the right (kind, logSize) if one is
// free, otherwise allocates a fresh one.
func (m *Manager) leaseTable(kind Kind, logSize uint32) tableLease {
	m.mu.Lock()
	pool := m.tables[kind][logSize]
	if len(pool) > 0 {
		t := pool[len(pool)-1]
		m.tables[kind][logSize] = pool[:len(pool)-1]
		m.mu.Unlock()
		return t
	}
	m.mu.Unlock()

	switch kind {
	case Plain:
		return newPlainTable(logSize)
	case Transactional:
		return newTransactionalTable(logSize)
	default:
		panic("tiercache: unknown cache kind")
	}
}

// reclaimTable returns a released table to the pool for reuse. The table
// is reset first: a table that just finished serving as a migration
// source has every bucket's migrated flag set, and leaseTable hands pooled
// tables back as-is (it only zeroes buckets for a brand-new allocation),
// so skipping this would let a reused bucket's getBucket loop spin forever
// chasing an auxiliary table that no longer exists.
func (m *Manager) reclaimTable(t tableLease) {
	t.reset()

	kind := Plain
	if _, ok := t.(*transactionalTable); ok {
		kind = Transactional
	}
	ls := t.logSize()

	m.mu.Lock()
	m.tables[kind][ls] = append(m.tables[kind][ls], t)
	m.mu.Unlock()
}

// freeUnusedTables drops every pooled table, for use under sustained
// memory pressure when recycling no longer pays for itself.
func (m *Manager) freeUnusedTables() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.tables {
		for ls := range m.tables[k] {
			m.tables[k][ls] = nil
		}
	}
}

type plainTable struct {
	ls      uint32
	buckets []plainBucket
}

func newPlainTable(logSize uint32) *plainTable {
	return &plainTable{ls: logSize, buckets: make([]plainBucket, uint64(1)<<logSize)}
}

func (t *plainTable) logSize() uint32 { return t.ls }

func (t *plainTable) reset() {
	for i := range t.buckets {
		b := &t.buckets[i]
		b.lock(-1)
		b.clear()
		if b.isMigrated() {
			b.setMigrated()
		}
		b.unlock()
	}
}

type transactionalTable struct {
	ls      uint32
	buckets []transactionalBucket
}

func newTransactionalTable(logSize uint32) *transactionalTable {
	return &transactionalTable{ls: logSize, buckets: make([]transactionalBucket, uint64(1)<<logSize)}
}

func (t *transactionalTable) logSize() uint32 { return t.ls }

func (t *transactionalTable) reset() {
	for i := range t.buckets {
		b := &t.buckets[i]
		b.lock(0, -1)
		b.clear()
		if b.isMigrated() {
			b.setMigrated()
		}
		b.blacklistTerm = 0
		b.fullyBlacklisted = false
		for j := range b.blacklistHashes {
			b.blacklistHashes[j] = 0
		}
		b.unlock()
	}
}
