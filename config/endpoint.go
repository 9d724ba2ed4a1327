// Package config holds connection endpoint and routing configuration,
// loaded from an INI file the way the teacher proxy's own config package
// does (gopkg.in/ini.v1), plus environment variable overrides.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Endpoint describes one PostgreSQL connection target.
type Endpoint struct {
	Host           string
	HostAddr       string // set when Host is resolved to an IP literal already
	ServerHostname string // when set with an IP Host, emits hostaddr+host so SSL name checks use the hostname
	Port           int
	User           string
	Database       string
	Password       string

	SSLMode     string // disable, allow, prefer, require, verify-ca, verify-full
	SSLRootCert string
	SSLCert     string
	SSLKey      string
	SSLCRL      string

	Keepalive         bool
	KeepaliveIdle     int
	KeepaliveInterval int
	KeepaliveCount    int

	ConnectTimeout time.Duration
}

// BuildConninfo renders the libpq key=value conninfo string for this
// endpoint, injecting SSL and keepalive parameters and deriving
// connect_timeout from timeout (minimum 1 second) when unset.
func BuildConninfo(e Endpoint, timeout time.Duration) string {
	var pairs [][2]string

	host := e.Host
	if e.ServerHostname != "" && isIPLiteral(e.Host) {
		pairs = append(pairs, [2]string{"hostaddr", e.Host})
		host = e.ServerHostname
	}
	if host != "" {
		pairs = append(pairs, [2]string{"host", host})
	}
	if e.Port != 0 {
		pairs = append(pairs, [2]string{"port", strconv.Itoa(e.Port)})
	}
	if e.User != "" {
		pairs = append(pairs, [2]string{"user", e.User})
	}
	if e.Database != "" {
		pairs = append(pairs, [2]string{"dbname", e.Database})
	}
	if e.Password != "" {
		pairs = append(pairs, [2]string{"password", e.Password})
	}

	if e.SSLMode != "" {
		pairs = append(pairs, [2]string{"sslmode", e.SSLMode})
	}
	if e.SSLRootCert != "" {
		pairs = append(pairs, [2]string{"sslrootcert", e.SSLRootCert})
	}
	if e.SSLCert != "" {
		pairs = append(pairs, [2]string{"sslcert", e.SSLCert})
	}
	if e.SSLKey != "" {
		pairs = append(pairs, [2]string{"sslkey", e.SSLKey})
	}
	if e.SSLCRL != "" {
		pairs = append(pairs, [2]string{"sslcrl", e.SSLCRL})
	}

	// Keepalive keys are only emitted when enabled: the spec mirrors the
	// original's behaviour of leaving libpq defaults intact otherwise,
	// never emitting keepalives=0.
	if e.Keepalive {
		pairs = append(pairs, [2]string{"keepalives", "1"})
		if e.KeepaliveIdle > 0 {
			pairs = append(pairs, [2]string{"keepalives_idle", strconv.Itoa(e.KeepaliveIdle)})
		}
		if e.KeepaliveInterval > 0 {
			pairs = append(pairs, [2]string{"keepalives_interval", strconv.Itoa(e.KeepaliveInterval)})
		}
		if e.KeepaliveCount > 0 {
			pairs = append(pairs, [2]string{"keepalives_count", strconv.Itoa(e.KeepaliveCount)})
		}
	}

	if timeout > 0 {
		secs := int(timeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		pairs = append(pairs, [2]string{"connect_timeout", strconv.Itoa(secs)})
	}

	var sb strings.Builder
	for i, kv := range pairs {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(kv[0])
		sb.WriteByte('=')
		sb.WriteString(quoteConninfoValue(kv[1]))
	}
	return sb.String()
}

func quoteConninfoValue(v string) string {
	if v == "" {
		return "''"
	}
	needsQuote := strings.ContainsAny(v, " '\\")
	if !needsQuote {
		return v
	}
	var sb strings.Builder
	sb.WriteByte('\'')
	for _, r := range v {
		if r == '\'' || r == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	sb.WriteByte('\'')
	return sb.String()
}

func isIPLiteral(host string) bool {
	return net.ParseIP(host) != nil
}

// Redacted returns a copy of e with Password cleared, for building a
// conninfo string safe to put in a log line.
func (e Endpoint) Redacted() Endpoint {
	e.Password = ""
	return e
}

// String renders the endpoint as a human-readable "host:port/db" label,
// used in logs and metrics — never the conninfo (which may carry a
// password).
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d/%s", e.Host, e.Port, e.Database)
}
