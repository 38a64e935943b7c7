// Package prom adapts tiercache's Metrics/ManagerMetrics interfaces onto
// Prometheus client metrics.
package prom

import (
	"github.com/kvtier/tiercache/cache"
	"github.com/prometheus/client_golang/prometheus"
)

// Adapter implements cache.Metrics and exports per-cache Prometheus
// counters/gauges. Safe for concurrent use; all Prometheus metric types
// are goroutine-safe.
type Adapter struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	evicts     *prometheus.CounterVec
	migrations prometheus.Counter
	usage      prometheus.Gauge
	limit      prometheus.Gauge
}

// New constructs a Prometheus metrics adapter for a single cache.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Cache hits",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Cache misses",
			ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "evictions_total",
				Help:        "Cache evictions by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		migrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "migrations_total",
			Help:        "Completed table migrations",
			ConstLabels: constLabels,
		}),
		usage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "usage_bytes",
			Help:        "Resident byte usage",
			ConstLabels: constLabels,
		}),
		limit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "limit_bytes",
			Help:        "Current hard byte limit",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.migrations, a.usage, a.limit)
	return a
}

func (a *Adapter) Hit()  { a.hits.Inc() }
func (a *Adapter) Miss() { a.misses.Inc() }

func (a *Adapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(reason(r)).Inc()
}

func (a *Adapter) Migration() { a.migrations.Inc() }

func (a *Adapter) Size(usage, limit uint64) {
	a.usage.Set(float64(usage))
	a.limit.Set(float64(limit))
}

func reason(r cache.EvictReason) string {
	switch r {
	case cache.EvictLRU:
		return "lru"
	case cache.EvictExplicit:
		return "explicit"
	case cache.EvictMigration:
		return "migration"
	case cache.EvictBlacklist:
		return "blacklist"
	default:
		return "unknown"
	}
}

// Compile-time check: ensure Adapter implements cache.Metrics.
var _ cache.Metrics = (*Adapter)(nil)

// ManagerAdapter implements cache.ManagerMetrics, exporting the global
// allocation/limit and the transaction term.
type ManagerAdapter struct {
	allocation prometheus.Gauge
	limit      prometheus.Gauge
	term       prometheus.Gauge
}

// NewManagerAdapter constructs a manager-level Prometheus metrics adapter.
func NewManagerAdapter(reg prometheus.Registerer, ns string, constLabels prometheus.Labels) *ManagerAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &ManagerAdapter{
		allocation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   "manager",
			Name:        "global_allocation_bytes",
			Help:        "Sum of every registered cache's reservation",
			ConstLabels: constLabels,
		}),
		limit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   "manager",
			Name:        "global_limit_bytes",
			Help:        "Current global hard byte limit",
			ConstLabels: constLabels,
		}),
		term: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   "manager",
			Name:        "transaction_term",
			Help:        "Current transaction term (odd while any transaction is open)",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.allocation, a.limit, a.term)
	return a
}

func (a *ManagerAdapter) GlobalSize(allocation, limit uint64) {
	a.allocation.Set(float64(allocation))
	a.limit.Set(float64(limit))
}

func (a *ManagerAdapter) TransactionTerm(term uint64) { a.term.Set(float64(term)) }

var _ cache.ManagerMetrics = (*ManagerAdapter)(nil)
