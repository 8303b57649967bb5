// Package mysql provides the MySQL connector for the skeet gateway.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"github.com/skeetlabs/mcp-skeet-gateway/pkg/connector"
	"github.com/skeetlabs/mcp-skeet-gateway/pkg/skeet"
)

const (
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 5
	defaultConnLifetime = 5 * time.Minute
)

// Connector owns one MySQL connection pool.
type Connector struct {
	// mu guards the handle. The registry may shut a connector down while a
	// tool call is in flight; Execute snapshots the handle under mu and
	// database/sql drains the remaining call after Close.
	mu     sync.Mutex
	db     *sql.DB
	logger *slog.Logger
}

// New creates an uninitialized MySQL connector.
func New(logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{logger: logger}
}

// Kind returns the service kind.
func (*Connector) Kind() skeet.Kind { return skeet.KindMySQL }

// Initialize opens the pool and probes the backend.
func (c *Connector) Initialize(ctx context.Context, cfg skeet.ServiceConfig) error {
	raw, err := connector.ResolveDSN(skeet.KindMySQL, cfg)
	if err != nil {
		return err
	}

	dsn, err := normalizeDSN(raw)
	if err != nil {
		return &connector.Error{Kind: skeet.KindMySQL, Op: "initialize", Err: err}
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return &connector.Error{Kind: skeet.KindMySQL, Op: "initialize", Err: err}
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return &connector.Error{Kind: skeet.KindMySQL, Op: "probe", Err: err}
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		_ = db.Close()
		return &connector.Error{Kind: skeet.KindMySQL, Op: "probe", Err: err}
	}

	c.mu.Lock()
	c.db = db
	c.mu.Unlock()
	c.logger.Info("mysql connector initialized")
	return nil
}

// handle snapshots the pool reference.
func (c *Connector) handle() *sql.DB {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db
}

// normalizeDSN accepts either a go-sql-driver DSN or a mysql:// URL and
// returns the driver's native form (user:pass@tcp(host:port)/db).
func normalizeDSN(raw string) (string, error) {
	if !strings.HasPrefix(raw, "mysql://") {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing mysql url: %w", err)
	}

	host := u.Host
	if u.Port() == "" {
		host += ":3306"
	}

	var creds string
	if u.User != nil {
		creds = u.User.Username()
		if pass, ok := u.User.Password(); ok {
			creds += ":" + pass
		}
		creds += "@"
	}

	dbName := strings.TrimPrefix(u.Path, "/")
	dsn := fmt.Sprintf("%stcp(%s)/%s", creds, host, dbName)
	if u.RawQuery != "" {
		dsn += "?" + u.RawQuery
	}
	return dsn, nil
}

// Tools returns the connector's static tool declarations.
func (*Connector) Tools() []connector.ToolDeclaration {
	return []connector.ToolDeclaration{
		{
			Name:        "mysql_query",
			Description: "Execute a SQL query against MySQL inside a transaction that is always rolled back",
			Params: []connector.Param{
				{Name: "sql", Type: "string", Description: "The SQL query to execute", Required: true},
			},
		},
		{
			Name:        "mysql_list_tables",
			Description: "List tables in the connected MySQL database",
			Params: []connector.Param{
				{Name: "schema", Type: "string", Description: "Schema name filter (default: the connected database)"},
			},
		},
		{
			Name:        "mysql_describe_table",
			Description: "Describe the columns of a MySQL table",
			Params: []connector.Param{
				{Name: "table", Type: "string", Description: "Table name", Required: true},
				{Name: "schema", Type: "string", Description: "Schema name (default: the connected database)"},
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
	case "mysql_query":
		query, ok := args["sql"].(string)
		if !ok || query == "" {
			return nil, &connector.Error{Kind: skeet.KindMySQL, Op: tool, Err: fmt.Errorf("sql argument is required")}
		}
		return c.runRolledBack(ctx, db, query)
	case "mysql_list_tables":
		return c.listTables(ctx, db, optionalSchema(args))
	case "mysql_describe_table":
		table, ok := args["table"].(string)
		if !ok || table == "" {
			return nil, &connector.Error{Kind: skeet.KindMySQL, Op: tool, Err: fmt.Errorf("table argument is required")}
		}
		return c.describeTable(ctx, db, optionalSchema(args), table)
	default:
		return nil, fmt.Errorf("%w: %s", connector.ErrUnknownTool, tool)
	}
}

// optionalSchema reads the schema argument, empty meaning "the connected
// database" (DATABASE() in information_schema predicates).
func optionalSchema(args map[string]any) string {
	v, _ := args["schema"].(string)
	return v
}

// runRolledBack executes query inside a transaction that is rolled back
// regardless of outcome.
func (c *Connector) runRolledBack(ctx context.Context, db *sql.DB, query string) (any, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &connector.UpstreamError{Kind: skeet.KindMySQL, Err: err}
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			c.logger.Warn("mysql: rollback failed", "error", err)
		}
	}()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, &connector.UpstreamError{Kind: skeet.KindMySQL, Err: err}
	}
	defer func() { _ = rows.Close() }()

	return collectRows(rows)
}

// listTables queries information_schema for base tables.
func (c *Connector) listTables(ctx context.Context, db *sql.DB, schema string) (any, error) {
	builder := sq.Select("table_schema", "table_name").
		From("information_schema.tables").
		Where(sq.Eq{"table_type": "BASE TABLE"}).
		OrderBy("table_name")
	builder = withSchemaFilter(builder, schema)

	query, queryArgs, err := builder.ToSql()
	if err != nil {
		return nil, &connector.Error{Kind: skeet.KindMySQL, Op: "mysql_list_tables", Err: err}
	}
	return c.queryMaps(ctx, db, query, queryArgs...)
}

// describeTable queries information_schema for column shapes.
func (c *Connector) describeTable(ctx context.Context, db *sql.DB, schema, table string) (any, error) {
	builder := sq.Select("column_name", "column_type", "is_nullable", "column_key", "column_default").
		From("information_schema.columns").
		Where(sq.Eq{"table_name": table}).
		OrderBy("ordinal_position")
	builder = withSchemaFilter(builder, schema)

	query, queryArgs, err := builder.ToSql()
	if err != nil {
		return nil, &connector.Error{Kind: skeet.KindMySQL, Op: "mysql_describe_table", Err: err}
	}
	return c.queryMaps(ctx, db, query, queryArgs...)
}

// withSchemaFilter scopes a builder to an explicit schema, or to the
// connected database when none is given.
func withSchemaFilter(builder sq.SelectBuilder, schema string) sq.SelectBuilder {
	if schema != "" {
		return builder.Where(sq.Eq{"table_schema": schema})
	}
	return builder.Where(sq.Expr("table_schema = DATABASE()"))
}

// queryMaps runs a read query outside any transaction wrapper.
func (c *Connector) queryMaps(ctx context.Context, db *sql.DB, query string, args ...any) (any, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &connector.UpstreamError{Kind: skeet.KindMySQL, Err: err}
	}
	defer func() { _ = rows.Close() }()
	return collectRows(rows)
}

// collectRows materializes a result set. The MySQL driver returns []byte for
// most text columns, so those are converted to strings.
func collectRows(rows *sql.Rows) ([]map[string]any, error) {
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
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			default:
				row[col] = v
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
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
		return &connector.Error{Kind: skeet.KindMySQL, Op: "shutdown", Err: err}
	}
	c.logger.Info("mysql connector shut down")
	return nil
}

// Verify interface compliance.
var _ connector.Connector = (*Connector)(nil)
