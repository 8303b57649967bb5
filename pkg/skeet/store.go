package skeet

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
)

const (
	// DefaultConfigFile is the service configuration file looked up in the
	// working directory when SKEET_CONFIG_PATH is not set.
	DefaultConfigFile = "skeet-config.json"

	// EnvConfigPath overrides the service configuration file path.
	EnvConfigPath = "SKEET_CONFIG_PATH"

	// EnvAPIURL and EnvAPIKey configure the remote configuration authority.
	EnvAPIURL = "SKEET_API_URL"
	EnvAPIKey = "SKEET_API_KEY"
)

// envURLVars maps each service kind to the environment variable carrying
// its connection URL.
var envURLVars = map[Kind]string{
	KindPostgres:   "SKEET_POSTGRES_URL",
	KindMySQL:      "SKEET_MYSQL_URL",
	KindRedis:      "SKEET_REDIS_URL",
	KindOpenSearch: "SKEET_OPENSEARCH_URL",
}

// Store resolves one consistent Config snapshot from three layered sources
// in fixed precedence: environment, file, remote. Later sources overwrite
// the fields they set; a source that does not mention a kind leaves prior
// layers' settings for that kind untouched.
type Store struct {
	env     func(string) string
	fetcher Fetcher
	logger  *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithEnv overrides the environment lookup, primarily for tests.
func WithEnv(env func(string) string) StoreOption {
	return func(s *Store) { s.env = env }
}

// WithFetcher injects the remote configuration fetcher. When nil and
// SKEET_API_KEY is set, a default HTTP fetcher is built per resolve.
func WithFetcher(f Fetcher) StoreOption {
	return func(s *Store) { s.fetcher = f }
}

// WithLogger overrides the store logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a configuration store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		env:    os.Getenv,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve produces a fresh Config snapshot. It never fails: the worst case
// is the all-disabled baseline, which callers must treat as a valid
// "no backends" state.
func (s *Store) Resolve(ctx context.Context) Config {
	cfg := Baseline()
	s.applyEnv(cfg)
	s.applyFile(cfg)
	s.applyRemote(ctx, cfg)
	return cfg
}

// applyEnv enables every kind whose URL-bearing environment variable is set.
func (s *Store) applyEnv(cfg Config) {
	for _, kind := range Kinds() {
		url := s.env(envURLVars[kind])
		if url == "" {
			continue
		}
		cfg[kind] = ServiceConfig{
			Enabled:          true,
			ConnectionString: url,
		}
	}
}

// fileServiceConfig is the on-disk shape of one service entry. Fields not
// present in the file must not clobber values from earlier layers, so
// pointers distinguish absent from zero.
type fileServiceConfig struct {
	Enabled          *bool          `json:"enabled"`
	ConnectionString *string        `json:"connectionString"`
	Options          map[string]any `json:"options"`
}

// applyFile merges the optional JSON configuration file onto cfg. A missing
// file is normal; a malformed file is logged and ignored.
func (s *Store) applyFile(cfg Config) {
	path := s.env(EnvConfigPath)
	if path == "" {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is operator-controlled
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("skeet config: cannot read config file", "path", path, "error", err)
		}
		return
	}

	var file map[string]fileServiceConfig
	if err := json.Unmarshal(data, &file); err != nil {
		s.logger.Warn("skeet config: malformed config file ignored", "path", path, "error", err)
		return
	}

	for rawKind, entry := range file {
		kind := Kind(rawKind)
		if !IsKnownKind(kind) {
			s.logger.Warn("skeet config: unknown service kind in config file ignored", "kind", rawKind)
			continue
		}

		current := cfg[kind]
		// A kind mentioned in the file is enabled unless the file says otherwise.
		current.Enabled = true
		if entry.Enabled != nil {
			current.Enabled = *entry.Enabled
		}
		if entry.ConnectionString != nil {
			current.ConnectionString = *entry.ConnectionString
		}
		if entry.Options != nil {
			current.Options = entry.Options
		}
		cfg[kind] = current
	}
}

// applyRemote overlays primary connections from the remote configuration
// authority. Every remote failure mode degrades to "remote contributed
// nothing" and resolution continues with the prior layers' result.
func (s *Store) applyRemote(ctx context.Context, cfg Config) {
	fetcher := s.fetcher
	if fetcher == nil {
		apiKey := s.env(EnvAPIKey)
		if apiKey == "" {
			return
		}
		fetcher = NewHTTPFetcher(s.env(EnvAPIURL), apiKey, WithFetcherLogger(s.logger))
	}

	resp, err := fetcher.FetchIntegrations(ctx)
	if err != nil {
		s.logger.Warn("skeet config: remote fetch failed, continuing without remote config", "error", err)
		return
	}
	if resp == nil {
		return
	}

	for rawKind, integration := range resp.Integrations {
		kind := Kind(rawKind)
		if !IsKnownKind(kind) {
			continue
		}

		primary := primaryConnection(integration.Connections)
		if primary == nil {
			// No primary flagged: this kind stays as set by earlier layers.
			continue
		}

		current := cfg[kind]
		current.Enabled = true
		current.ConnectionString = primary.DSN
		current.Connection = primary
		cfg[kind] = current
	}
}

// primaryConnection returns the connection flagged primary, or nil.
func primaryConnection(conns []Connection) *Connection {
	for i := range conns {
		if conns[i].IsPrimary {
			return &conns[i]
		}
	}
	return nil
}
