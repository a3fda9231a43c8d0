package litho

import (
	"github.com/prometheus/client_golang/prometheus"
)

var GenerationsRun = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "litho",
	Subsystem: "runner",
	Name:      "generations",
}, []string{"tree", "result"})

var GenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "litho",
	Subsystem: "runner",
	Name:      "generation_duration_seconds",
	Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
}, []string{"tree"})

var UpdatesEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "litho",
	Subsystem: "state",
	Name:      "updates_enqueued",
}, []string{"tree"})

var UpdatesApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "litho",
	Subsystem: "state",
	Name:      "updates_applied",
}, []string{"tree"})

var ContainersCollected = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "litho",
	Subsystem: "state",
	Name:      "containers_collected",
}, []string{"tree"})

// StoreCollector exports the live sizes of one store's internal maps.
type StoreCollector struct {
	store *StateStore
	tree  string

	containers     *prometheus.Desc
	pendingKeys    *prometheus.Desc
	pendingUpdates *prometheus.Desc
}

func NewStoreCollector(tree string, store *StateStore) *StoreCollector {
	labels := prometheus.Labels{"tree": tree}
	return &StoreCollector{
		store: store,
		tree:  tree,
		containers: prometheus.NewDesc(
			"litho_state_containers",
			"Number of state containers currently held by the committed store",
			nil, labels,
		),
		pendingKeys: prometheus.NewDesc(
			"litho_state_pending_keys",
			"Number of keys with at least one pending update",
			nil, labels,
		),
		pendingUpdates: prometheus.NewDesc(
			"litho_state_pending_updates",
			"Total number of pending updates across all keys",
			nil, labels,
		),
	}
}

func (sc *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sc.containers
	ch <- sc.pendingKeys
	ch <- sc.pendingUpdates
}

func (sc *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	containers, pendingKeys, pendingUpdates := sc.store.sizes()

	ch <- prometheus.MustNewConstMetric(
		sc.containers,
		prometheus.GaugeValue,
		float64(containers),
	)
	ch <- prometheus.MustNewConstMetric(
		sc.pendingKeys,
		prometheus.GaugeValue,
		float64(pendingKeys),
	)
	ch <- prometheus.MustNewConstMetric(
		sc.pendingUpdates,
		prometheus.GaugeValue,
		float64(pendingUpdates),
	)
}

// PoolCollector exports hit/miss counts for each of a tree's internal pools.
type PoolCollector struct {
	pools *Pools
	tree  string

	hits   *prometheus.Desc
	misses *prometheus.Desc
}

func NewPoolCollector(tree string, pools *Pools) *PoolCollector {
	labels := prometheus.Labels{"tree": tree}
	return &PoolCollector{
		pools: pools,
		tree:  tree,
		hits: prometheus.NewDesc(
			"litho_pool_hits",
			"Acquire calls served from a recycled container",
			[]string{"pool"}, labels,
		),
		misses: prometheus.NewDesc(
			"litho_pool_misses",
			"Acquire calls that fell back to allocation",
			[]string{"pool"}, labels,
		),
	}
}

func (pc *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pc.hits
	ch <- pc.misses
}

func (pc *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	collect := func(pool string, hits, misses uint64) {
		ch <- prometheus.MustNewConstMetric(
			pc.hits,
			prometheus.CounterValue,
			float64(hits),
			pool,
		)
		ch <- prometheus.MustNewConstMetric(
			pc.misses,
			prometheus.CounterValue,
			float64(misses),
			pool,
		)
	}

	hits, misses := pc.pools.updateLists.Stats()
	collect("update_lists", hits, misses)
	hits, misses = pc.pools.pendingMaps.Stats()
	collect("pending_maps", hits, misses)
	hits, misses = pc.pools.containerMaps.Stats()
	collect("container_maps", hits, misses)
}

// Metrics returns everything a Runner exports, ready for registration with
// a prometheus registry.
func (r *Runner) Metrics() []prometheus.Collector {
	return []prometheus.Collector{
		GenerationsRun,
		GenerationDuration,
		UpdatesEnqueued,
		UpdatesApplied,
		ContainersCollected,
		NewStoreCollector(r.name, r.committed),
		NewPoolCollector(r.name, r.pools),
	}
}
