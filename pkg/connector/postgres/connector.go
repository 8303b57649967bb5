// Package postgres provides the PostgreSQL connector for the skeet gateway.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/skeetlabs/mcp-skeet-gateway/pkg/connector"
	"github.com/skeetlabs/mcp-skeet-gateway/pkg/skeet"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
)

// Connector owns one PostgreSQL connection pool.
type Connector struct {
	// mu guards the handle. The registry may shut a connector down while a
	// tool call is in flight; Execute snapshots the handle under mu and
	// database/sql drains the remaining call after Close.
	mu     sync.Mutex
	db     *sql.DB
	logger *slog.Logger
}

// New creates an uninitialized PostgreSQL connector.
func New(logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{logger: logger}
}

// Kind returns the service kind.
func (*Connector) Kind() skeet.Kind { return skeet.KindPostgres }

// Initialize opens the pool and probes the backend with a trivial read.
func (c *Connector) Initialize(ctx context.Context, cfg skeet.ServiceConfig) error {
	dsn, err := connector.ResolveDSN(skeet.KindPostgres, cfg)
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return &connector.Error{Kind: skeet.KindPostgres, Op: "initialize", Err: err}
	}
	configurePool(db, cfg.Options)

	if err := probe(ctx, db); err != nil {
		_ = db.Close()
		return &connector.Error{Kind: skeet.KindPostgres, Op: "probe", Err: err}
	}

	c.mu.Lock()
	c.db = db
	c.mu.Unlock()
	c.logger.Info("postgres connector initialized")
	return nil
}

// handle snapshots the pool reference.
func (c *Connector) handle() *sql.DB {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db
}

// configurePool applies pool limits, honoring overrides from the options bag.
func configurePool(db *sql.DB, options map[string]any) {
	maxOpen := defaultMaxOpenConns
	maxIdle := defaultMaxIdleConns
	lifetime := defaultConnMaxLifetime

	if v, ok := options["max_open_conns"].(float64); ok {
		maxOpen = int(v)
	}
	if v, ok := options["max_idle_conns"].(float64); ok {
		maxIdle = int(v)
	}
	if v, ok := options["conn_max_lifetime"].(string); ok {
		if d, err := time.ParseDuration(v); err == nil {
			lifetime = d
		}
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)
}

// probe pings the pool and runs a trivial read.
func probe(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("liveness query: %w", err)
	}
	return nil
}

// Tools returns the connector's static tool declarations.
func (*Connector) Tools() []connector.ToolDeclaration {
	return []connector.ToolDeclaration{
		{
			Name:        "postgres_query",
			Description: "Execute a SQL query against PostgreSQL inside a transaction that is always rolled back",
			Params: []connector.Param{
				{Name: "sql", Type: "string", Description: "The SQL query to execute", Required: true},
			},
		},
		{
			Name:        "postgres_list_tables",
			Description: "List tables visible in PostgreSQL, optionally filtered by schema",
			Params: []connector.Param{
				{Name: "schema", Type: "string", Description: "Schema name filter (default: public)"},
			},
		},
		{
			Name:        "postgres_describe_table",
			Description: "Describe the columns of a PostgreSQL table",
			Params: []connector.Param{
				{Name: "table", Type: "string", Description: "Table name", Required: true},
				{Name: "schema", Type: "string", Description: "Schema name (default: public)"},
			},
		},
	}
}

// Execute dispatches one tool call against the pool snapshot taken on
// entry, so a concurrent Shutdown cannot pull the handle out from under a
// call in flight.
func (c *Connector) Execute(ctx context.Context, tool string, args map[string]any) (any, error) {
	db := c.handle()
	if db == nil {
		return nil, connector.ErrNotInitialized
	}

	switch tool {
	case "postgres_query":
		query, ok := args["sql"].(string)
		if !ok || query == "" {
			return nil, &connector.Error{Kind: skeet.KindPostgres, Op: tool, Err: fmt.Errorf("sql argument is required")}
		}
		return c.runRolledBack(ctx, db, query)
	case "postgres_list_tables":
		return c.listTables(ctx, db, stringArg(args, "schema", "public"))
	case "postgres_describe_table":
		table, ok := args["table"].(string)
		if !ok || table == "" {
			return nil, &connector.Error{Kind: skeet.KindPostgres, Op: tool, Err: fmt.Errorf("table argument is required")}
		}
		return c.describeTable(ctx, db, stringArg(args, "schema", "public"), table)
	default:
		return nil, fmt.Errorf("%w: %s", connector.ErrUnknownTool, tool)
	}
}

// runRolledBack executes query inside a transaction that is rolled back
// regardless of outcome, so no statement can leave a persistent side effect.
func (c *Connector) runRolledBack(ctx context.Context, db *sql.DB, query string) (any, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &connector.UpstreamError{Kind: skeet.KindPostgres, Err: err}
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			c.logger.Warn("postgres: rollback failed", "error", err)
		}
	}()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, &connector.UpstreamError{Kind: skeet.KindPostgres, Err: err}
	}
	defer func() { _ = rows.Close() }()

	return rowsToMaps(rows)
}

// listTables queries information_schema for base tables in a schema.
func (c *Connector) listTables(ctx context.Context, db *sql.DB, schema string) (any, error) {
	query, queryArgs, err := sq.Select("table_schema", "table_name").
		From("information_schema.tables").
		Where(sq.Eq{"table_schema": schema, "table_type": "BASE TABLE"}).
		OrderBy("table_name").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, &connector.Error{Kind: skeet.KindPostgres, Op: "postgres_list_tables", Err: err}
	}
	return c.queryMaps(ctx, db, query, queryArgs...)
}

// describeTable queries information_schema for a table's column shapes.
func (c *Connector) describeTable(ctx context.Context, db *sql.DB, schema, table string) (any, error) {
	query, queryArgs, err := sq.Select("column_name", "data_type", "is_nullable", "column_default").
		From("information_schema.columns").
		Where(sq.Eq{"table_schema": schema, "table_name": table}).
		OrderBy("ordinal_position").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, &connector.Error{Kind: skeet.KindPostgres, Op: "postgres_describe_table", Err: err}
	}
	return c.queryMaps(ctx, db, query, queryArgs...)
}

// queryMaps runs a read query outside any transaction wrapper.
func (c *Connector) queryMaps(ctx context.Context, db *sql.DB, query string, args ...any) (any, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &connector.UpstreamError{Kind: skeet.KindPostgres, Err: err}
	}
	defer func() { _ = rows.Close() }()
	return rowsToMaps(rows)
}

// rowsToMaps materializes a result set as ordered column/value maps.
func rowsToMaps(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// stringArg reads an optional string argument with a default.
func stringArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Shutdown releases the pool. Safe to call repeatedly, before Initialize,
// or while a tool call is in flight.
func (c *Connector) Shutdown(_ context.Context) error {
	c.mu.Lock()
	db := c.db
	c.db = nil
	c.mu.Unlock()

	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return &connector.Error{Kind: skeet.KindPostgres, Op: "shutdown", Err: err}
	}
	c.logger.Info("postgres connector shut down")
	return nil
}

// Verify interface compliance.
var _ connector.Connector = (*Connector)(nil)
