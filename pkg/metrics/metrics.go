// Package metrics registers the Prometheus collectors the engine exposes.
// None of these are required by the specification's four core subsystems,
// but every hot path the teacher instruments (buffer pool, log flush,
// allocation, B-tree structural modifications, lock waits) gets a
// counter or histogram here, the way etcd instruments mvcc/wal/backend.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// BufferPoolHits counts frame lookups that found the page resident.
	BufferPoolHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zero",
		Subsystem: "bufferpool",
		Name:      "hits_total",
		Help:      "Number of page fixes satisfied without I/O.",
	})
	// BufferPoolMisses counts frame lookups that required a page-in.
	BufferPoolMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zero",
		Subsystem: "bufferpool",
		Name:      "misses_total",
		Help:      "Number of page fixes that required reading from disk.",
	})
	// BufferPoolEvictions counts frames reclaimed by the evictioner.
	BufferPoolEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zero",
		Subsystem: "bufferpool",
		Name:      "evictions_total",
		Help:      "Number of frames reclaimed by the evictioner.",
	})
	// BufferPoolFreeListLen tracks the current free-list length.
	BufferPoolFreeListLen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "zero",
		Subsystem: "bufferpool",
		Name:      "free_list_length",
		Help:      "Current length of the buffer pool free list.",
	})

	// WALFlushBytes sums bytes written per flush.
	WALFlushBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zero",
		Subsystem: "wal",
		Name:      "flush_bytes_total",
		Help:      "Total bytes written to log partitions.",
	})
	// WALFlushLatency observes flush durations.
	WALFlushLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "zero",
		Subsystem: "wal",
		Name:      "flush_latency_seconds",
		Help:      "Latency of log flush operations.",
		Buckets:   prometheus.DefBuckets,
	})
	// WALDurableLSNOffset exposes the durable LSN's byte offset.
	WALDurableLSNOffset = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "zero",
		Subsystem: "wal",
		Name:      "durable_lsn_offset",
		Help:      "Byte offset component of the current durable LSN.",
	})

	// AllocExtentLoads counts lazy bitmap-page loads.
	AllocExtentLoads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zero",
		Subsystem: "alloc",
		Name:      "extent_loads_total",
		Help:      "Number of allocation bitmap pages lazily loaded.",
	})

	// BtreeSplits counts foster-child splits performed.
	BtreeSplits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zero",
		Subsystem: "btree",
		Name:      "splits_total",
		Help:      "Number of btree_split SSXs performed.",
	})
	// BtreeAdopts counts foster-child adoptions performed.
	BtreeAdopts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zero",
		Subsystem: "btree",
		Name:      "adopts_total",
		Help:      "Number of btree_foster_adopt SSXs performed.",
	})
	// BtreeCompresses counts fence-key compressions performed.
	BtreeCompresses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zero",
		Subsystem: "btree",
		Name:      "compresses_total",
		Help:      "Number of btree_compress_page SSXs performed.",
	})
	// BtreeGhostReclaims counts ghost-reclaim SSXs performed.
	BtreeGhostReclaims = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zero",
		Subsystem: "btree",
		Name:      "ghost_reclaims_total",
		Help:      "Number of btree_ghost_reclaim SSXs performed.",
	})
	// BtreeNorecAllocs counts empty-child allocations performed.
	BtreeNorecAllocs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zero",
		Subsystem: "btree",
		Name:      "norec_allocs_total",
		Help:      "Number of btree_norec_alloc SSXs performed.",
	})

	// LockWaits counts lock requests that had to wait.
	LockWaits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zero",
		Subsystem: "lock",
		Name:      "waits_total",
		Help:      "Number of lock requests that blocked.",
	})
	// LockRetries counts eLOCKRETRY returns surfaced to callers.
	LockRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zero",
		Subsystem: "lock",
		Name:      "retries_total",
		Help:      "Number of LockRetry results returned to callers.",
	})
)

// Register registers all collectors on reg. Call once at startup.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		BufferPoolHits, BufferPoolMisses, BufferPoolEvictions, BufferPoolFreeListLen,
		WALFlushBytes, WALFlushLatency, WALDurableLSNOffset,
		AllocExtentLoads,
		BtreeSplits, BtreeAdopts, BtreeCompresses, BtreeGhostReclaims, BtreeNorecAllocs,
		LockWaits, LockRetries,
	)
}
