package router

import (
	"testing"

	"github.com/usub-dev/usubpg/config"
)

func newTestNode(name string, role config.Role, weight int, healthy bool, lagMS, rttMS int64) *Node {
	n := &Node{Name: name, Role: role, Weight: weight, CB: NewCircuitBreaker(0, 0, 0)}
	n.setHealth(healthy, lagMS, 0, rttMS)
	return n
}

func TestRouteReplicaSkipsUnhealthyAndStale(t *testing.T) {
	r := &Router{cfg: config.RoutingConfig{MaxStalenessMS: 100}}
	r.nodes = []*Node{
		newTestNode("down", config.AsyncReplica, 1, false, 0, 0),
		newTestNode("stale", config.AsyncReplica, 1, true, 500, 0),
		newTestNode("fresh", config.AsyncReplica, 1, true, 10, 0),
	}

	n := r.routeReplica(Hint{Consistency: config.BoundedStaleness})
	if n == nil || n.Name != "fresh" {
		t.Fatalf("expected to route to the only healthy, in-budget replica, got %v", n)
	}
}

func TestRouteReplicaIgnoresStalenessOutsideBoundedStaleness(t *testing.T) {
	r := &Router{cfg: config.RoutingConfig{MaxStalenessMS: 100}}
	r.nodes = []*Node{newTestNode("stale", config.AsyncReplica, 1, true, 500, 0)}

	n := r.routeReplica(Hint{Consistency: config.Eventual})
	if n == nil || n.Name != "stale" {
		t.Fatalf("expected staleness budget to only apply under BoundedStaleness, got %v", n)
	}
}

func TestRouteReplicaSkipsLSNLagBeyondBudget(t *testing.T) {
	r := &Router{cfg: config.RoutingConfig{MaxLSNLag: 1000}}
	fresh := &Node{Name: "fresh", Role: config.AsyncReplica, CB: NewCircuitBreaker(0, 0, 0)}
	fresh.setHealth(true, 0, 10, 0)
	behind := &Node{Name: "behind", Role: config.AsyncReplica, CB: NewCircuitBreaker(0, 0, 0)}
	behind.setHealth(true, 0, 5000, 0)
	r.nodes = []*Node{behind, fresh}

	n := r.routeReplica(Hint{Consistency: config.BoundedStaleness})
	if n == nil || n.Name != "fresh" {
		t.Fatalf("expected the node within the lsn lag budget, got %v", n)
	}
}

func TestRouteReplicaReturnsNilWhenNoneQualify(t *testing.T) {
	r := &Router{cfg: config.RoutingConfig{}}
	r.nodes = []*Node{newTestNode("down", config.AsyncReplica, 1, false, 0, 0)}
	if n := r.routeReplica(Hint{}); n != nil {
		t.Fatalf("expected nil when no replica qualifies, got %v", n)
	}
}

func TestRouteStrongConsistencyGoesToPrimary(t *testing.T) {
	primary := newTestNode("primary", config.Primary, 1, true, 0, 0)
	r := &Router{cfg: config.RoutingConfig{}, primary: primary}
	r.nodes = []*Node{primary}

	n, err := r.Route(Hint{Consistency: config.Strong, ReadOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if n != primary {
		t.Fatalf("expected strong consistency read to route to primary")
	}
}

func TestRouteForSQLInfersReadOnlyFromStatement(t *testing.T) {
	primary := newTestNode("primary", config.Primary, 1, true, 0, 0)
	replica := newTestNode("replica", config.AsyncReplica, 1, true, 0, 0)
	r := &Router{cfg: config.RoutingConfig{}, primary: primary}
	r.nodes = []*Node{primary, replica}

	n, err := r.RouteForSQL("SELECT * FROM users", config.Eventual)
	if err != nil {
		t.Fatal(err)
	}
	if n != replica {
		t.Fatalf("expected a SELECT to route to the replica, got %s", n.Name)
	}

	n, err = r.RouteForSQL("UPDATE users SET name = 'x'", config.Eventual)
	if err != nil {
		t.Fatal(err)
	}
	if n != primary {
		t.Fatalf("expected an UPDATE to route to the primary, got %s", n.Name)
	}
}

func TestRouteReplicaOrdersByRTTThenWeight(t *testing.T) {
	slow := newTestNode("slow", config.AsyncReplica, 5, true, 0, 50)
	fast := newTestNode("fast", config.AsyncReplica, 1, true, 0, 5)
	r := &Router{cfg: config.RoutingConfig{}}
	r.nodes = []*Node{slow, fast}

	n := r.routeReplica(Hint{})
	if n != fast {
		t.Fatalf("expected the lower-rtt node regardless of weight, got %v", n)
	}
}

func TestRouteReplicaBreaksRTTTieByWeight(t *testing.T) {
	low := newTestNode("low", config.AsyncReplica, 1, true, 0, 10)
	high := newTestNode("high", config.AsyncReplica, 3, true, 0, 10)
	r := &Router{cfg: config.RoutingConfig{}}
	r.nodes = []*Node{low, high}

	n := r.routeReplica(Hint{})
	if n != high {
		t.Fatalf("expected the higher-weight node to win an rtt tie, got %v", n)
	}
}

func TestRoutePrimaryUsesExplicitFailoverOrder(t *testing.T) {
	primary := newTestNode("primary", config.Primary, 1, false, 0, 0) // down
	syncR := newTestNode("sync", config.SyncReplica, 1, true, 0, 0)
	asyncR := newTestNode("async", config.AsyncReplica, 1, true, 0, 0)
	r := &Router{
		cfg:     config.RoutingConfig{PrimaryFailover: []string{"primary", "sync", "async"}},
		primary: primary,
	}
	r.nodes = []*Node{primary, syncR, asyncR}

	n, err := r.routePrimary()
	if err != nil {
		t.Fatal(err)
	}
	if n != syncR {
		t.Fatalf("expected the first healthy node in the explicit failover order, got %v", n)
	}
}

func TestRoutePrimaryDegradesToUnhealthyPrimaryBeforeAnyReplica(t *testing.T) {
	primary := newTestNode("primary", config.Primary, 1, false, 0, 0) // down, but still Primary role
	r := &Router{cfg: config.RoutingConfig{}, primary: primary}
	r.nodes = []*Node{primary}

	n, err := r.routePrimary()
	if err != nil {
		t.Fatal(err)
	}
	if n != primary {
		t.Fatalf("expected degradation to the unhealthy primary, got %v", n)
	}
}
