// Package metrics exposes the Prometheus instrumentation for sessions,
// pools, transactions and the router, following the vector-per-concern
// shape of the teacher proxy's own metrics package.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueryTotal counts queries by endpoint and outcome.
	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usubpg_query_total",
			Help: "Total number of queries executed",
		},
		[]string{"endpoint", "ok"},
	)

	// QueryLatency tracks query latency by endpoint.
	QueryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "usubpg_query_latency_seconds",
			Help:    "Query latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// PoolLiveConns tracks live session count per endpoint.
	PoolLiveConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "usubpg_pool_live_conns",
			Help: "Current number of live sessions in a pool",
		},
		[]string{"endpoint"},
	)

	// PoolIdleConns tracks idle session count per endpoint.
	PoolIdleConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "usubpg_pool_idle_conns",
			Help: "Current number of idle sessions in a pool",
		},
		[]string{"endpoint"},
	)

	// PoolReaped counts sessions reaped due to fatal errors or health gating.
	PoolReaped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usubpg_pool_reaped_total",
			Help: "Total sessions reaped by a pool",
		},
		[]string{"endpoint"},
	)

	// TxCommitted / TxRolledBack count transaction terminal outcomes.
	TxCommitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usubpg_tx_committed_total",
			Help: "Total transactions committed",
		},
		[]string{"endpoint"},
	)
	TxRolledBack = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usubpg_tx_rolled_back_total",
			Help: "Total transactions rolled back",
		},
		[]string{"endpoint"},
	)

	// RouterCircuitState tracks each node's circuit breaker state (0/1/2).
	RouterCircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "usubpg_router_circuit_state",
			Help: "Circuit breaker state per node: 0=closed 1=half_open 2=open",
		},
		[]string{"node"},
	)

	// RouterNodeHealthy tracks each node's last observed health (1/0).
	RouterNodeHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "usubpg_router_node_healthy",
			Help: "Last observed health of a node",
		},
		[]string{"node"},
	)

	// RouterReplicaLag tracks last observed replication lag per node.
	RouterReplicaLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "usubpg_router_replica_lag_ms",
			Help: "Last observed replication lag in milliseconds",
		},
		[]string{"node"},
	)

	once sync.Once
)

// Init registers all metrics with the default Prometheus registry.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(QueryTotal)
		prometheus.MustRegister(QueryLatency)
		prometheus.MustRegister(PoolLiveConns)
		prometheus.MustRegister(PoolIdleConns)
		prometheus.MustRegister(PoolReaped)
		prometheus.MustRegister(TxCommitted)
		prometheus.MustRegister(TxRolledBack)
		prometheus.MustRegister(RouterCircuitState)
		prometheus.MustRegister(RouterNodeHealthy)
		prometheus.MustRegister(RouterReplicaLag)
	})
}

// Handler returns the Prometheus HTTP scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
