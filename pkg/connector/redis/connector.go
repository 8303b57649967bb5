// Package redis provides the Redis connector for the skeet gateway.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/skeetlabs/mcp-skeet-gateway/pkg/connector"
	"github.com/skeetlabs/mcp-skeet-gateway/pkg/skeet"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// Connector owns one Redis client.
type Connector struct {
	// mu guards the handle. The registry may shut a connector down while a
	// tool call is in flight; Execute snapshots the handle under mu and
	// go-redis tolerates Close racing the remaining call.
	mu     sync.Mutex
	client *goredis.Client
	logger *slog.Logger
}

// New creates an uninitialized Redis connector.
func New(logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{logger: logger}
}

// Kind returns the service kind.
func (*Connector) Kind() skeet.Kind { return skeet.KindRedis }

// Initialize builds the client and probes the backend with PING.
func (c *Connector) Initialize(ctx context.Context, cfg skeet.ServiceConfig) error {
	dsn, err := connector.ResolveDSN(skeet.KindRedis, cfg)
	if err != nil {
		return err
	}

	opts, err := clientOptions(dsn)
	if err != nil {
		return &connector.Error{Kind: skeet.KindRedis, Op: "initialize", Err: err}
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return &connector.Error{Kind: skeet.KindRedis, Op: "probe", Err: err}
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	c.logger.Info("redis connector initialized", "db", opts.DB)
	return nil
}

// handle snapshots the client reference.
func (c *Connector) handle() *goredis.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// clientOptions parses a redis:// URL, falling back to treating the value
// as a bare host:port address.
func clientOptions(dsn string) (*goredis.Options, error) {
	if strings.Contains(dsn, "://") {
		opts, err := goredis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		applyTimeouts(opts)
		return opts, nil
	}

	opts := &goredis.Options{Addr: dsn}
	applyTimeouts(opts)
	return opts, nil
}

func applyTimeouts(opts *goredis.Options) {
	opts.DialTimeout = defaultDialTimeout
	opts.ReadTimeout = defaultReadTimeout
	opts.WriteTimeout = defaultWriteTimeout
}

// Tools returns the connector's static tool declarations.
func (*Connector) Tools() []connector.ToolDeclaration {
	return []connector.ToolDeclaration{
		{
			Name:        "redis_query",
			Description: "Execute an allow-listed Redis command (read commands plus SET-type mutations)",
			Params: []connector.Param{
				{Name: "command", Type: "string", Description: "Redis command with arguments, e.g. 'GET mykey'", Required: true},
			},
		},
		{
			Name:        "redis_get",
			Description: "Read the value and TTL of a Redis key",
			Params: []connector.Param{
				{Name: "key", Type: "string", Description: "Key to read", Required: true},
			},
		},
		{
			Name:        "redis_set",
			Description: "Set a Redis key, optionally with an expiry in seconds",
			Params: []connector.Param{
				{Name: "key", Type: "string", Description: "Key to set", Required: true},
				{Name: "value", Type: "string", Description: "Value to store", Required: true},
				{Name: "expiry", Type: "integer", Description: "Expiry in seconds (0 = no expiry)"},
			},
		},
	}
}

// Execute dispatches one tool call against the client snapshot taken on
// entry, so a concurrent Shutdown cannot pull the handle out from under a
// call in flight.
func (c *Connector) Execute(ctx context.Context, tool string, args map[string]any) (any, error) {
	client := c.handle()
	if client == nil {
		return nil, connector.ErrNotInitialized
	}

	switch tool {
	case "redis_query":
		command, ok := args["command"].(string)
		if !ok || strings.TrimSpace(command) == "" {
			return nil, &connector.Error{Kind: skeet.KindRedis, Op: tool, Err: fmt.Errorf("command argument is required")}
		}
		return c.runCommand(ctx, client, command)
	case "redis_get":
		key, ok := args["key"].(string)
		if !ok || key == "" {
			return nil, &connector.Error{Kind: skeet.KindRedis, Op: tool, Err: fmt.Errorf("key argument is required")}
		}
		return c.get(ctx, client, key)
	case "redis_set":
		return c.set(ctx, client, args)
	default:
		return nil, fmt.Errorf("%w: %s", connector.ErrUnknownTool, tool)
	}
}

// runCommand tokenizes a free-form command, checks it against the
// allow-list, and dispatches it. Disallowed commands fail before reaching
// the backend.
func (c *Connector) runCommand(ctx context.Context, client *goredis.Client, command string) (any, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, &connector.Error{Kind: skeet.KindRedis, Op: "redis_query", Err: fmt.Errorf("empty command")}
	}

	if !commandAllowed(fields[0]) {
		return nil, fmt.Errorf("%w: %s", connector.ErrCommandNotAllowed, strings.ToUpper(fields[0]))
	}

	cmdArgs := make([]any, len(fields))
	for i, f := range fields {
		cmdArgs[i] = f
	}

	result, err := client.Do(ctx, cmdArgs...).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, &connector.UpstreamError{Kind: skeet.KindRedis, Err: err}
	}
	return result, nil
}

// get reads a key along with existence and TTL metadata.
func (c *Connector) get(ctx context.Context, client *goredis.Client, key string) (any, error) {
	val, err := client.Get(ctx, key).Result()
	if err == goredis.Nil {
		return map[string]any{"key": key, "exists": false}, nil
	}
	if err != nil {
		return nil, &connector.UpstreamError{Kind: skeet.KindRedis, Err: err}
	}

	ttl, _ := client.TTL(ctx, key).Result()
	return map[string]any{
		"key":    key,
		"exists": true,
		"value":  val,
		"ttl":    int(ttl.Seconds()),
	}, nil
}

// set writes a key with an optional expiry in seconds.
func (c *Connector) set(ctx context.Context, client *goredis.Client, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok || key == "" {
		return nil, &connector.Error{Kind: skeet.KindRedis, Op: "redis_set", Err: fmt.Errorf("key argument is required")}
	}
	value, ok := args["value"].(string)
	if !ok {
		return nil, &connector.Error{Kind: skeet.KindRedis, Op: "redis_set", Err: fmt.Errorf("value argument is required")}
	}

	var expiry time.Duration
	switch v := args["expiry"].(type) {
	case float64:
		expiry = time.Duration(v) * time.Second
	case int:
		expiry = time.Duration(v) * time.Second
	}

	if err := client.Set(ctx, key, value, expiry).Err(); err != nil {
		return nil, &connector.UpstreamError{Kind: skeet.KindRedis, Err: err}
	}
	return map[string]any{"key": key, "stored": true, "expiry_seconds": int(expiry.Seconds())}, nil
}

// Shutdown releases the client. Safe to call repeatedly, before Initialize,
// or while a tool call is in flight.
func (c *Connector) Shutdown(_ context.Context) error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil {
		return &connector.Error{Kind: skeet.KindRedis, Op: "shutdown", Err: err}
	}
	c.logger.Info("redis connector shut down")
	return nil
}

// Verify interface compliance.
var _ connector.Connector = (*Connector)(nil)
