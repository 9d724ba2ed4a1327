package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Role is a node's position in the topology.
type Role int

const (
	Primary Role = iota
	SyncReplica
	AsyncReplica
	Analytics
	Archive
	Maintenance
)

func (r Role) String() string {
	switch r {
	case Primary:
		return "primary"
	case SyncReplica:
		return "sync_replica"
	case AsyncReplica:
		return "async_replica"
	case Analytics:
		return "analytics"
	case Archive:
		return "archive"
	case Maintenance:
		return "maintenance"
	default:
		return "unknown"
	}
}

func parseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary":
		return Primary
	case "sync_replica", "sync-replica":
		return SyncReplica
	case "async_replica", "async-replica", "replica":
		return AsyncReplica
	case "analytics":
		return Analytics
	case "archive":
		return Archive
	case "maintenance":
		return Maintenance
	default:
		return AsyncReplica
	}
}

// Consistency is the read-consistency requirement of a routing hint.
type Consistency int

const (
	Strong Consistency = iota
	BoundedStaleness
	Eventual
)

func parseConsistency(s string) Consistency {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strong":
		return Strong
	case "bounded_staleness", "bounded-staleness":
		return BoundedStaleness
	default:
		return Eventual
	}
}

// NodeConfig is one entry of the routing topology.
type NodeConfig struct {
	Name     string
	Role     Role
	Endpoint Endpoint
	Weight   int
}

// RoutingConfig is the full multi-node topology and policy configuration.
type RoutingConfig struct {
	Nodes           []NodeConfig
	PrimaryFailover []string

	DefaultConsistency Consistency
	MaxStalenessMS     int64
	MaxLSNLag          int64
	ReadMyWritesTTL    time.Duration

	PoolDefaultMaxConns   int
	PoolAnalyticsMaxConns int

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	HealthInterval  time.Duration
	LagThresholdMS  int64
	ProbeSQL        string
	RTTProbeSQL     string
	ReplicationLagSQL string

	CBQuiet   time.Duration
	CBBackoff time.Duration
	CBMax     time.Duration
}

// DefaultRoutingConfig returns the spec's baseline policy values.
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		DefaultConsistency:   Eventual,
		PoolDefaultMaxConns:  10,
		PoolAnalyticsMaxConns: 4,
		ConnectTimeout:       5 * time.Second,
		ReadTimeout:          30 * time.Second,
		WriteTimeout:         30 * time.Second,
		HealthInterval:       5 * time.Second,
		LagThresholdMS:       1000,
		ProbeSQL:             "SELECT 1",
		RTTProbeSQL:          "SELECT 1",
		ReplicationLagSQL:    "SELECT EXTRACT(EPOCH FROM (now() - pg_last_xact_replay_timestamp()))*1000, pg_wal_lsn_diff(pg_last_wal_receive_lsn(), pg_last_wal_replay_lsn())",
		CBQuiet:              5 * time.Second,
		CBBackoff:            15 * time.Second,
		CBMax:                60 * time.Second,
	}
}

// LoadRouting reads routing topology and policy from an INI file, the way
// the teacher's config.Load reads [protocol.backend] sections, with
// environment overrides for the listen-style knobs that operators tend
// to need per-deployment.
func LoadRouting(path string) (*RoutingConfig, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultRoutingConfig()
	routing := f.Section("routing")
	if routing.HasKey("default_consistency") {
		cfg.DefaultConsistency = parseConsistency(routing.Key("default_consistency").String())
	}
	cfg.MaxStalenessMS = routing.Key("max_staleness_ms").MustInt64(0)
	cfg.MaxLSNLag = routing.Key("max_lsn_lag").MustInt64(0)
	cfg.ReadMyWritesTTL = time.Duration(routing.Key("read_my_writes_ttl_ms").MustInt(0)) * time.Millisecond
	cfg.PoolDefaultMaxConns = routing.Key("pool_default_max_conns").MustInt(cfg.PoolDefaultMaxConns)
	cfg.PoolAnalyticsMaxConns = routing.Key("pool_analytics_max_conns").MustInt(cfg.PoolAnalyticsMaxConns)
	cfg.ConnectTimeout = time.Duration(routing.Key("connect_timeout_ms").MustInt(int(cfg.ConnectTimeout/time.Millisecond))) * time.Millisecond
	cfg.ReadTimeout = time.Duration(routing.Key("read_timeout_ms").MustInt(int(cfg.ReadTimeout/time.Millisecond))) * time.Millisecond
	cfg.WriteTimeout = time.Duration(routing.Key("write_timeout_ms").MustInt(int(cfg.WriteTimeout/time.Millisecond))) * time.Millisecond
	cfg.HealthInterval = time.Duration(routing.Key("health_interval_ms").MustInt(int(cfg.HealthInterval/time.Millisecond))) * time.Millisecond
	cfg.LagThresholdMS = routing.Key("lag_threshold_ms").MustInt64(cfg.LagThresholdMS)
	cfg.ProbeSQL = routing.Key("probe_sql").MustString(cfg.ProbeSQL)
	cfg.RTTProbeSQL = routing.Key("rtt_probe_sql").MustString(cfg.RTTProbeSQL)
	cfg.CBQuiet = time.Duration(routing.Key("cb_quiet_ms").MustInt(int(cfg.CBQuiet/time.Millisecond))) * time.Millisecond
	cfg.CBBackoff = time.Duration(routing.Key("cb_backoff_ms").MustInt(int(cfg.CBBackoff/time.Millisecond))) * time.Millisecond
	cfg.CBMax = time.Duration(routing.Key("cb_max_ms").MustInt(int(cfg.CBMax/time.Millisecond))) * time.Millisecond

	if raw := routing.Key("primary_failover").String(); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			cfg.PrimaryFailover = append(cfg.PrimaryFailover, strings.TrimSpace(name))
		}
	}

	const prefix = "node."
	for _, sec := range f.Sections() {
		name := sec.Name()
		if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		nodeName := name[len(prefix):]
		node := NodeConfig{
			Name:   nodeName,
			Role:   parseRole(sec.Key("role").MustString("async_replica")),
			Weight: sec.Key("weight").MustInt(1),
			Endpoint: Endpoint{
				Host:     sec.Key("host").String(),
				Port:     sec.Key("port").MustInt(5432),
				User:     sec.Key("user").String(),
				Database: sec.Key("dbname").String(),
				Password: sec.Key("password").String(),
				SSLMode:  sec.Key("sslmode").MustString("prefer"),
			},
		}
		cfg.Nodes = append(cfg.Nodes, node)
	}

	if v := os.Getenv("USUBPG_HEALTH_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.HealthInterval = time.Duration(ms) * time.Millisecond
		}
	}

	return &cfg, nil
}
