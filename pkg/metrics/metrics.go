// Package metrics collects the prometheus registrations shared across
// the runtime's components, following the cdc-sink-redshift reference
// material's stage/metrics.go pattern: one promauto-registered vector
// per observable event, labeled by the dimension that matters for that
// component, with shared bucket/label definitions exported so each
// package's own metrics.go stays a short declaration list.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LatencyBuckets are the default histogram buckets for call/invoke/store
// durations, seconds.
var LatencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// ActorTypeLabels labels a metric by the actor type it concerns.
var ActorTypeLabels = []string{"actor_type"}

// ActionLabels labels a metric by actor type and action name.
var ActionLabels = []string{"actor_type", "action"}

var (
	// InvokeDurations tracks portal.Call latency per actor type/action.
	InvokeDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "darlean_invoke_duration_seconds",
		Help:    "the length of time a remote actor invocation took end to end, including retries",
		Buckets: LatencyBuckets,
	}, ActionLabels)
	// InvokeAttempts counts every transport attempt a portal call made,
	// including retries and redirects.
	InvokeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "darlean_invoke_attempts_total",
		Help: "the number of transport attempts made per invocation, including retries",
	}, ActionLabels)
	// InvokeErrors counts invocations that ultimately failed, labeled by
	// the actorerror.Code that terminated them.
	InvokeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "darlean_invoke_errors_total",
		Help: "the number of invocations that failed, labeled by terminal error code",
	}, []string{"actor_type", "action", "code"})

	// ActivationDurations tracks wrapper activation latency per actor type.
	ActivationDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "darlean_activation_duration_seconds",
		Help:    "the length of time activating an actor instance took",
		Buckets: LatencyBuckets,
	}, ActorTypeLabels)
	// ActiveInstances reports the current instance count per actor type.
	ActiveInstances = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "darlean_active_instances",
		Help: "the number of currently active instances per actor type",
	}, ActorTypeLabels)
	// Evictions counts container LRU/max-age evictions per actor type.
	Evictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "darlean_instance_evictions_total",
		Help: "the number of instances evicted from a per-type container, labeled by reason",
	}, []string{"actor_type", "reason"})

	// LockAcquireDurations tracks distributed lock acquire latency.
	LockAcquireDurations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "darlean_lock_acquire_duration_seconds",
		Help:    "the length of time a distributed lock acquire took across the replica quorum",
		Buckets: LatencyBuckets,
	})
	// LockConflicts counts lock acquire attempts rejected by a replica
	// because of a live competing lease.
	LockConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "darlean_lock_conflicts_total",
		Help: "the number of lock acquire attempts rejected due to a competing lease",
	})

	// RegistryPushes counts applications' registry push calls.
	RegistryPushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "darlean_registry_pushes_total",
		Help: "the number of registry push calls received",
	})
	// RegistryObtainWaits counts long-poll obtain calls that had to wait
	// for a nonce change rather than returning immediately.
	RegistryObtainWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "darlean_registry_obtain_waits_total",
		Help: "the number of registry obtain calls that blocked waiting for a nonce change",
	})

	// PersistenceBatchSize observes how many items were coalesced into
	// one submitted storage batch.
	PersistenceBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "darlean_persistence_batch_items",
		Help:    "the number of items coalesced into one submitted storage batch",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
	// PersistenceStoreErrors counts storage handler errors, labeled by
	// compartment.
	PersistenceStoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "darlean_persistence_store_errors_total",
		Help: "the number of storage handler errors, labeled by compartment",
	}, []string{"compartment"})

	// TablePutConflicts counts rejected puts, labeled by the rejecting
	// reason (baseline_mismatch or version_conflict).
	TablePutConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "darlean_table_put_conflicts_total",
		Help: "the number of rejected table puts, labeled by rejection reason",
	}, []string{"reason"})
)
