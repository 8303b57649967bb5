package skeet

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

// envFromMap builds an environment lookup that answers only from m, so
// resolution is isolated from the test process's real environment.
func envFromMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

// writeConfigFile writes a service config file in a temp dir and returns
// its path.
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "skeet-config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

// noFile points the file layer at a path that does not exist, so tests do
// not accidentally pick up a skeet-config.json from the working directory.
func noFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "absent.json")
}

// stubFetcher is a canned remote configuration authority.
type stubFetcher struct {
	resp *IntegrationsResponse
	err  error
}

func (s *stubFetcher) FetchIntegrations(context.Context) (*IntegrationsResponse, error) {
	return s.resp, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolve_NothingConfiguredYieldsBaseline(t *testing.T) {
	store := NewStore(
		WithEnv(envFromMap(map[string]string{EnvConfigPath: noFile(t)})),
		WithLogger(discardLogger()),
	)

	cfg := store.Resolve(context.Background())
	if kinds := cfg.EnabledKinds(); len(kinds) != 0 {
		t.Fatalf("EnabledKinds() = %v, want empty", kinds)
	}
}

func TestResolve_EnvEnablesKind(t *testing.T) {
	store := NewStore(
		WithEnv(envFromMap(map[string]string{
			"SKEET_POSTGRES_URL": "postgres://env-host/db",
			EnvConfigPath:        noFile(t),
		})),
		WithLogger(discardLogger()),
	)

	cfg := store.Resolve(context.Background())

	pg := cfg[KindPostgres]
	if !pg.Enabled {
		t.Fatal("postgres not enabled from environment")
	}
	if pg.DSN() != "postgres://env-host/db" {
		t.Errorf("DSN() = %q, want env URL", pg.DSN())
	}
	if cfg[KindRedis].Enabled {
		t.Error("redis enabled without any source")
	}
}

// The file layer overrides the environment, and a remote response with no
// primary connection for the kind leaves the file's value standing.
func TestResolve_FileOverridesEnvWhenRemoteHasNoPrimary(t *testing.T) {
	path := writeConfigFile(t, `{"postgres": {"connectionString": "postgres://file-host/db"}}`)
	fetcher := &stubFetcher{resp: &IntegrationsResponse{
		Integrations: map[string]Integration{
			"postgres": {Connections: []Connection{
				{DSN: "postgres://remote-host/db", Name: "replica", IsPrimary: false},
			}},
		},
	}}

	store := NewStore(
		WithEnv(envFromMap(map[string]string{
			"SKEET_POSTGRES_URL": "postgres://env-host/db",
			EnvConfigPath:        path,
		})),
		WithFetcher(fetcher),
		WithLogger(discardLogger()),
	)

	cfg := store.Resolve(context.Background())

	pg := cfg[KindPostgres]
	if !pg.Enabled {
		t.Fatal("postgres not enabled")
	}
	if pg.DSN() != "postgres://file-host/db" {
		t.Errorf("DSN() = %q, want file URL", pg.DSN())
	}
	if pg.Connection != nil {
		t.Error("non-primary remote connection must not be adopted")
	}
}

func TestResolve_RemotePrimaryOverridesFileAndEnv(t *testing.T) {
	path := writeConfigFile(t, `{"postgres": {"connectionString": "postgres://file-host/db"}}`)
	fetcher := &stubFetcher{resp: &IntegrationsResponse{
		Integrations: map[string]Integration{
			"postgres": {Connections: []Connection{
				{DSN: "postgres://replica-host/db", Name: "replica"},
				{DSN: "postgres://remote-host/db", Name: "prod", IsPrimary: true},
			}},
		},
	}}

	store := NewStore(
		WithEnv(envFromMap(map[string]string{
			"SKEET_POSTGRES_URL": "postgres://env-host/db",
			EnvConfigPath:        path,
		})),
		WithFetcher(fetcher),
		WithLogger(discardLogger()),
	)

	cfg := store.Resolve(context.Background())

	pg := cfg[KindPostgres]
	if pg.DSN() != "postgres://remote-host/db" {
		t.Errorf("DSN() = %q, want remote primary URL", pg.DSN())
	}
	if pg.Connection == nil || pg.Connection.Name != "prod" {
		t.Errorf("Connection = %+v, want the primary descriptor", pg.Connection)
	}
}

func TestResolve_FileCanDisableKind(t *testing.T) {
	path := writeConfigFile(t, `{"redis": {"enabled": false, "connectionString": "redis://file-host"}}`)

	store := NewStore(
		WithEnv(envFromMap(map[string]string{
			"SKEET_REDIS_URL": "redis://env-host",
			EnvConfigPath:    path,
		})),
		WithLogger(discardLogger()),
	)

	cfg := store.Resolve(context.Background())
	if cfg[KindRedis].Enabled {
		t.Error("redis enabled despite explicit enabled:false in file")
	}
}

// A kind mentioned in the file without an explicit enabled flag is enabled.
func TestResolve_FilePresenceImpliesEnabled(t *testing.T) {
	path := writeConfigFile(t, `{"mysql": {"connectionString": "mysql://file-host/db"}}`)

	store := NewStore(
		WithEnv(envFromMap(map[string]string{EnvConfigPath: path})),
		WithLogger(discardLogger()),
	)

	cfg := store.Resolve(context.Background())
	my := cfg[KindMySQL]
	if !my.Enabled {
		t.Fatal("mysql not enabled by file presence")
	}
	if my.DSN() != "mysql://file-host/db" {
		t.Errorf("DSN() = %q, want file URL", my.DSN())
	}
}

func TestResolve_FileOptionsCarried(t *testing.T) {
	path := writeConfigFile(t, `{"postgres": {
		"connectionString": "postgres://file-host/db",
		"options": {"max_open_conns": 10}
	}}`)

	store := NewStore(
		WithEnv(envFromMap(map[string]string{EnvConfigPath: path})),
		WithLogger(discardLogger()),
	)

	cfg := store.Resolve(context.Background())
	opts := cfg[KindPostgres].Options
	if opts == nil {
		t.Fatal("options not carried from file")
	}
	if v, ok := opts["max_open_conns"].(float64); !ok || v != 10 {
		t.Errorf("options[max_open_conns] = %v, want 10", opts["max_open_conns"])
	}
}

func TestResolve_MalformedFileIgnored(t *testing.T) {
	path := writeConfigFile(t, `{"postgres": not json`)

	store := NewStore(
		WithEnv(envFromMap(map[string]string{
			"SKEET_POSTGRES_URL": "postgres://env-host/db",
			EnvConfigPath:        path,
		})),
		WithLogger(discardLogger()),
	)

	cfg := store.Resolve(context.Background())
	if cfg[KindPostgres].DSN() != "postgres://env-host/db" {
		t.Error("malformed file must not disturb the environment layer")
	}
}

func TestResolve_UnknownKindInFileIgnored(t *testing.T) {
	path := writeConfigFile(t, `{
		"mongodb": {"connectionString": "mongodb://nope"},
		"redis": {"connectionString": "redis://file-host"}
	}`)

	store := NewStore(
		WithEnv(envFromMap(map[string]string{EnvConfigPath: path})),
		WithLogger(discardLogger()),
	)

	cfg := store.Resolve(context.Background())
	if len(cfg) != len(Kinds()) {
		t.Errorf("unknown kind leaked into config: %v", cfg)
	}
	if !cfg[KindRedis].Enabled {
		t.Error("known kind alongside unknown kind was not applied")
	}
}

func TestResolve_RemoteFailureIsNonFatal(t *testing.T) {
	store := NewStore(
		WithEnv(envFromMap(map[string]string{
			"SKEET_OPENSEARCH_URL": "http://env-host:9200",
			EnvConfigPath:          noFile(t),
		})),
		WithFetcher(&stubFetcher{err: context.DeadlineExceeded}),
		WithLogger(discardLogger()),
	)

	cfg := store.Resolve(context.Background())
	if cfg[KindOpenSearch].DSN() != "http://env-host:9200" {
		t.Error("remote failure must leave earlier layers intact")
	}
}

func TestResolve_RemoteContributingNothingLeavesPriorLayers(t *testing.T) {
	store := NewStore(
		WithEnv(envFromMap(map[string]string{
			"SKEET_REDIS_URL": "redis://env-host",
			EnvConfigPath:     noFile(t),
		})),
		WithFetcher(&stubFetcher{}),
		WithLogger(discardLogger()),
	)

	cfg := store.Resolve(context.Background())
	if cfg[KindRedis].DSN() != "redis://env-host" {
		t.Error("nil remote response must leave earlier layers intact")
	}
}

func TestResolve_RemoteUnknownKindIgnored(t *testing.T) {
	fetcher := &stubFetcher{resp: &IntegrationsResponse{
		Integrations: map[string]Integration{
			"cassandra": {Connections: []Connection{{DSN: "x", IsPrimary: true}}},
		},
	}}

	store := NewStore(
		WithEnv(envFromMap(map[string]string{EnvConfigPath: noFile(t)})),
		WithFetcher(fetcher),
		WithLogger(discardLogger()),
	)

	cfg := store.Resolve(context.Background())
	if kinds := cfg.EnabledKinds(); len(kinds) != 0 {
		t.Errorf("EnabledKinds() = %v, want empty", kinds)
	}
}

// Each resolve rebuilds from scratch: a kind that disappears from its only
// source is disabled on the next cycle.
func TestResolve_FreshSnapshotPerResolve(t *testing.T) {
	env := map[string]string{
		"SKEET_MYSQL_URL": "mysql://env-host/db",
		EnvConfigPath:     noFile(t),
	}
	store := NewStore(WithEnv(envFromMap(env)), WithLogger(discardLogger()))

	cfg := store.Resolve(context.Background())
	if !cfg[KindMySQL].Enabled {
		t.Fatal("mysql not enabled on first resolve")
	}

	delete(env, "SKEET_MYSQL_URL")
	cfg = store.Resolve(context.Background())
	if cfg[KindMySQL].Enabled {
		t.Error("mysql still enabled after its source disappeared")
	}
}
