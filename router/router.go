// Package router selects which topology node a query should run
// against: primary for writes and strong-consistency reads, lag-aware
// replica selection otherwise, with a circuit breaker per node and a
// background health-probe loop. Grounded on the teacher's
// replica.Pool round-robin/health-map shape (replica/pool.go),
// generalised from a single primary+replica-list model to the spec's
// full role/consistency/circuit-breaker topology, with the breaker
// itself modelled on davidleathers' CircuitBreaker.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/usub-dev/usubpg/config"
	"github.com/usub-dev/usubpg/metrics"
	"github.com/usub-dev/usubpg/pool"
	"github.com/usub-dev/usubpg/qkind"
	"github.com/usub-dev/usubpg/reactor"
	"github.com/usub-dev/usubpg/session"
)

// ErrNoHealthyNode is returned when no candidate node satisfies a hint.
var ErrNoHealthyNode = errors.New("router: no healthy node satisfies the routing hint")

// Hint describes what a caller needs from the node it is routed to.
type Hint struct {
	Consistency    config.Consistency
	ReadOnly       bool
	MaxStalenessMS int64 // 0 means "use the router's configured default"
	MaxLSNLag      int64 // 0 means "use the router's configured default"
}

// Node is one topology member: its endpoint pool, health state and
// circuit breaker.
type Node struct {
	Name   string
	Role   config.Role
	Weight int
	Pool   *pool.Pool
	CB     *CircuitBreaker

	mu      sync.RWMutex
	healthy bool
	lagMS   int64
	lsnLag  int64
	rttMS   int64
}

func (n *Node) setHealth(healthy bool, lagMS, lsnLag, rttMS int64) {
	n.mu.Lock()
	n.healthy = healthy
	n.lagMS = lagMS
	n.lsnLag = lsnLag
	n.rttMS = rttMS
	n.mu.Unlock()
}

func (n *Node) snapshot() (healthy bool, lagMS, lsnLag, rttMS int64) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.healthy, n.lagMS, n.lsnLag, n.rttMS
}

// usableRole reports whether a node of this role may ever be routed to;
// Archive and Maintenance nodes are never live routing targets.
func usableRole(role config.Role) bool {
	return role != config.Archive && role != config.Maintenance
}

// Router holds the full topology and policy.
type Router struct {
	cfg     config.RoutingConfig
	nodes   []*Node
	primary *Node

	pinMu sync.Mutex
	pins  map[string]time.Time // name -> pin expiry, routes to primary until then
}

// New builds a Router from a routing config, constructing one pool.Pool
// per node.
func New(cfg config.RoutingConfig, waiter reactor.Waiter) *Router {
	r := &Router{cfg: cfg, pins: make(map[string]time.Time)}
	for _, nc := range cfg.Nodes {
		maxConns := cfg.PoolDefaultMaxConns
		if nc.Role == config.Analytics {
			maxConns = cfg.PoolAnalyticsMaxConns
		}
		ep := nc.Endpoint
		ep.ConnectTimeout = cfg.ConnectTimeout
		node := &Node{
			Name:    nc.Name,
			Role:    nc.Role,
			Weight:  nc.Weight,
			Pool:    pool.New(ep, maxConns, waiter),
			CB:      NewCircuitBreaker(cfg.CBQuiet, cfg.CBBackoff, cfg.CBMax),
			healthy: true,
		}
		r.nodes = append(r.nodes, node)
		if nc.Role == config.Primary {
			r.primary = node
		}
	}
	return r
}

// Route selects a node for a standalone read per hint.
func (r *Router) Route(hint Hint) (*Node, error) {
	if hint.Consistency == config.Strong || !hint.ReadOnly {
		return r.routePrimary()
	}
	if node := r.routeReplica(hint); node != nil {
		return node, nil
	}
	// No healthy replica within budget: degrade to primary rather than fail outright.
	node, err := r.routePrimary()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoHealthyNode, err)
	}
	return node, nil
}

// RouteForTx selects a node for a transaction: Serializable always
// implies Strong consistency; a read-only, deferrable transaction
// prefers the SyncReplica with the smallest replication lag (PostgreSQL
// itself snapshots a deferrable transaction at its first statement, so a
// low-lag replica is safe); anything else falls back to Route's own
// write/consistency rules.
func (r *Router) RouteForTx(readOnly, serializable, deferrable bool, consistency config.Consistency) (*Node, error) {
	if serializable {
		consistency = config.Strong
	}
	if readOnly && deferrable {
		if n := r.bestSyncReplicaByLag(); n != nil {
			return n, nil
		}
	}
	return r.Route(Hint{Consistency: consistency, ReadOnly: readOnly})
}

// bestSyncReplicaByLag returns the healthy SyncReplica whose breaker is not open
// with the lowest observed replication lag, or nil if none qualify.
func (r *Router) bestSyncReplicaByLag() *Node {
	var best *Node
	var bestLag int64
	for _, n := range r.nodes {
		if n.Role != config.SyncReplica {
			continue
		}
		healthy, lag, _, _ := n.snapshot()
		if !healthy || !n.CB.Allow(time.Now()) {
			continue
		}
		if best == nil || lag < bestLag {
			best, bestLag = n, lag
		}
	}
	return best
}

// RouteForSQL infers Hint.ReadOnly from the statement's own leading
// keyword via qkind.Classify, for callers that haven't already decided
// read/write routing themselves. An unclassifiable statement (Unknown)
// routes as a write, matching qkind's own safety recommendation.
func (r *Router) RouteForSQL(sql string, consistency config.Consistency) (*Node, error) {
	readOnly := qkind.Classify(sql) == qkind.Read
	return r.Route(Hint{Consistency: consistency, ReadOnly: readOnly})
}

// Pin routes every subsequent RouteWithPin call under name to the primary until
// the configured ReadMyWritesTTL elapses, implementing read-your-writes
// after a caller-identified write.
func (r *Router) Pin(name string) {
	if r.cfg.ReadMyWritesTTL <= 0 {
		return
	}
	r.pinMu.Lock()
	r.pins[name] = time.Now().Add(r.cfg.ReadMyWritesTTL)
	r.pinMu.Unlock()
}

// RouteWithPin behaves like Route but honours an active Pin for name.
func (r *Router) RouteWithPin(name string, hint Hint) (*Node, error) {
	r.pinMu.Lock()
	expiry, pinned := r.pins[name]
	if pinned && time.Now().After(expiry) {
		delete(r.pins, name)
		pinned = false
	}
	r.pinMu.Unlock()
	if pinned {
		return r.routePrimary()
	}
	return r.Route(hint)
}

// failoverOrder returns the node sequence routePrimary tries, in
// PrimaryFailover's explicit order when configured, else
// Primary -> SyncReplica -> AsyncReplica.
func (r *Router) failoverOrder() []*Node {
	if len(r.cfg.PrimaryFailover) > 0 {
		byName := make(map[string]*Node, len(r.nodes))
		for _, n := range r.nodes {
			byName[n.Name] = n
		}
		var order []*Node
		for _, name := range r.cfg.PrimaryFailover {
			if n, ok := byName[name]; ok {
				order = append(order, n)
			}
		}
		return order
	}

	var order []*Node
	for _, role := range []config.Role{config.Primary, config.SyncReplica, config.AsyncReplica} {
		for _, n := range r.nodes {
			if n.Role == role {
				order = append(order, n)
			}
		}
	}
	return order
}

// routePrimary walks the failover order for a usable (not
// circuit-broken, healthy) node, degrades to any usable Primary
// ignoring health, and finally to any usable node at all.
func (r *Router) routePrimary() (*Node, error) {
	order := r.failoverOrder()
	for _, n := range order {
		if !usableRole(n.Role) || !n.CB.Allow(time.Now()) {
			continue
		}
		if healthy, _, _, _ := n.snapshot(); healthy {
			return n, nil
		}
	}
	for _, n := range order {
		if usableRole(n.Role) && n.Role == config.Primary {
			return n, nil
		}
	}
	for _, n := range r.nodes {
		if usableRole(n.Role) {
			return n, nil
		}
	}
	return nil, fmt.Errorf("router: no usable node for primary routing")
}

// routeReplica picks the best healthy, lag-acceptable replica whose
// breaker is not open, ordered by (rtt ascending, then weight descending); returns
// nil if none qualify.
func (r *Router) routeReplica(hint Hint) *Node {
	maxStaleness := hint.MaxStalenessMS
	if maxStaleness == 0 {
		maxStaleness = r.cfg.MaxStalenessMS
	}
	maxLSN := hint.MaxLSNLag
	if maxLSN == 0 {
		maxLSN = r.cfg.MaxLSNLag
	}

	var candidates []*Node
	for _, n := range r.nodes {
		if n.Role != config.SyncReplica && n.Role != config.AsyncReplica && n.Role != config.Analytics {
			continue
		}
		healthy, lag, lsnLag, _ := n.snapshot()
		if !healthy || !n.CB.Allow(time.Now()) {
			continue
		}
		if hint.Consistency == config.BoundedStaleness {
			if maxStaleness > 0 && lag > maxStaleness {
				continue
			}
			if maxLSN > 0 && lsnLag > maxLSN {
				continue
			}
		}
		candidates = append(candidates, n)
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		_, _, _, rttI := candidates[i].snapshot()
		_, _, _, rttJ := candidates[j].snapshot()
		if rttI != rttJ {
			return rttI < rttJ
		}
		return candidates[i].Weight > candidates[j].Weight
	})
	return candidates[0]
}

// StartHealthChecks runs the health/RTT/replication-lag probe loop for
// every node until ctx is done, mirroring replica.Pool.StartHealthChecks.
func (r *Router) StartHealthChecks(ctx context.Context) {
	if r.cfg.HealthInterval <= 0 {
		return
	}
	ticker := time.NewTicker(r.cfg.HealthInterval)
	defer ticker.Stop()

	r.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.probeAll(ctx)
		}
	}
}

func (r *Router) probeAll(ctx context.Context) {
	for _, n := range r.nodes {
		go r.probeNode(ctx, n)
	}
}

// probeNode runs the three health-loop probes the spec describes for one
// node: SELECT 1 (or ProbeSQL) for plain health, RTTProbeSQL timed
// separately for rtt, and the replication-lag query for replay_lag/lsn
// lag — then applies the circuit breaker transition for the outcome.
func (r *Router) probeNode(ctx context.Context, n *Node) {
	probeCtx, cancel := context.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	sess, err := n.Pool.Acquire(probeCtx)
	if err != nil {
		n.setHealth(false, 0, 0, 0)
		n.CB.RecordFailure(time.Now())
		r.reportNode(n)
		log.Printf("router: node %s acquire failed: %v", n.Name, err)
		return
	}

	healthSQL := r.cfg.ProbeSQL
	if healthSQL == "" {
		healthSQL = "SELECT 1"
	}
	result, err := sess.ExecSimpleQuery(probeCtx, healthSQL)
	if err != nil || result == nil || !result.OK {
		n.Pool.MarkDead(sess)
		n.setHealth(false, 0, 0, 0)
		n.CB.RecordFailure(time.Now())
		r.reportNode(n)
		return
	}

	rtt := r.probeRTT(probeCtx, sess)
	lagMS, lsnLag := r.probeReplicationLag(probeCtx, sess, n)
	n.Pool.Release(sess)

	healthy := true
	if n.Role == config.Primary {
		healthy = lagMS <= 0
	} else if r.cfg.LagThresholdMS > 0 && lagMS > r.cfg.LagThresholdMS {
		healthy = false
	}

	n.setHealth(healthy, lagMS, lsnLag, rtt)
	if healthy {
		n.CB.RecordSuccess()
	} else {
		n.CB.RecordFailure(time.Now())
	}
	r.reportNode(n)
}

// probeRTT times RTTProbeSQL (default SELECT 1) as a dedicated
// round-trip-time measurement, independent of the plain health probe.
func (r *Router) probeRTT(ctx context.Context, sess *session.Session) int64 {
	sql := r.cfg.RTTProbeSQL
	if sql == "" {
		sql = "SELECT 1"
	}
	start := time.Now()
	if _, err := sess.ExecSimpleQuery(ctx, sql); err != nil {
		return 0
	}
	return time.Since(start).Milliseconds()
}

// probeReplicationLag runs the router's replication-lag query, which is
// expected to return (lag_ms, lsn_lag); a probe failure or a Primary
// node yields (0, 0) rather than failing the whole health check.
func (r *Router) probeReplicationLag(ctx context.Context, sess *session.Session, n *Node) (lagMS, lsnLag int64) {
	if n.Role == config.Primary || r.cfg.ReplicationLagSQL == "" {
		return 0, 0
	}
	result, err := sess.ExecSimpleQuery(ctx, r.cfg.ReplicationLagSQL)
	if err != nil || !result.OK || len(result.Rows) == 0 {
		return 0, 0
	}
	row := result.Rows[0]
	if len(row) > 0 && row[0] != nil {
		if f, err := strconv.ParseFloat(*row[0], 64); err == nil {
			lagMS = int64(f)
		}
	}
	if len(row) > 1 && row[1] != nil {
		if f, err := strconv.ParseFloat(*row[1], 64); err == nil {
			lsnLag = int64(f)
		}
	}
	return lagMS, lsnLag
}

func (r *Router) reportNode(n *Node) {
	healthy, lag, _, _ := n.snapshot()
	h := 0.0
	if healthy {
		h = 1.0
	}
	metrics.RouterNodeHealthy.WithLabelValues(n.Name).Set(h)
	metrics.RouterReplicaLag.WithLabelValues(n.Name).Set(float64(lag))
	metrics.RouterCircuitState.WithLabelValues(n.Name).Set(float64(n.CB.State()))
}
