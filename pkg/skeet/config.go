// Package skeet provides the service configuration model and the layered
// configuration store for the skeet gateway.
package skeet

// Kind identifies one of the supported backend service kinds.
type Kind string

// Well-known service kinds. The set is closed: configuration sources may
// only contribute entries for these four kinds.
const (
	KindPostgres   Kind = "postgres"
	KindMySQL      Kind = "mysql"
	KindRedis      Kind = "redis"
	KindOpenSearch Kind = "opensearch"
)

// Kinds returns the well-known service kinds in stable order.
func Kinds() []Kind {
	return []Kind{KindPostgres, KindMySQL, KindRedis, KindOpenSearch}
}

// IsKnownKind reports whether k is one of the well-known service kinds.
func IsKnownKind(k Kind) bool {
	switch k {
	case KindPostgres, KindMySQL, KindRedis, KindOpenSearch:
		return true
	}
	return false
}

// Connection describes a single backend connection as delivered by the
// remote configuration authority. It is decoded once at the store boundary
// so connectors never handle loosely-typed option bags.
type Connection struct {
	DSN       string `json:"dsn"`
	Name      string `json:"name"`
	IsPrimary bool   `json:"is_primary"`
}

// ServiceConfig holds the resolved configuration for one service kind.
type ServiceConfig struct {
	Enabled          bool           `json:"enabled"`
	ConnectionString string         `json:"connection_string,omitempty"`
	Connection       *Connection    `json:"connection,omitempty"`
	Options          map[string]any `json:"options,omitempty"`
}

// DSN returns the connection source for this config in strict priority:
// the remote connection descriptor first, then the connection string.
// An empty return means no source is available.
func (c ServiceConfig) DSN() string {
	if c.Connection != nil && c.Connection.DSN != "" {
		return c.Connection.DSN
	}
	return c.ConnectionString
}

// Config maps every well-known service kind to its resolved configuration.
// A Config is rebuilt from scratch on every resolve cycle and never
// incrementally mutated across cycles.
type Config map[Kind]ServiceConfig

// Baseline returns the all-disabled starting point: every well-known kind
// present, nothing enabled.
func Baseline() Config {
	cfg := make(Config, len(Kinds()))
	for _, k := range Kinds() {
		cfg[k] = ServiceConfig{}
	}
	return cfg
}

// EnabledKinds returns the kinds with Enabled set, in stable order.
func (c Config) EnabledKinds() []Kind {
	var out []Kind
	for _, k := range Kinds() {
		if c[k].Enabled {
			out = append(out, k)
		}
	}
	return out
}
