// Package connector defines the uniform lifecycle and tool contract every
// backend connector implements, plus the shared error taxonomy.
package connector

import (
	"context"
	"fmt"

	"github.com/skeetlabs/mcp-skeet-gateway/pkg/skeet"
)

// Connector owns one live connection handle to a single backend and exposes
// that backend's tools. Instances are exclusively owned by the registry.
//
// Lifecycle: constructed → Initialize → Execute* → Shutdown. Initialize
// returns an error instead of panicking so the registry's control flow over
// sibling connectors stays explicit. Shutdown is idempotent and safe on a
// never-initialized instance.
type Connector interface {
	// Kind returns the service kind this connector serves.
	Kind() skeet.Kind

	// Initialize builds the connection handle from cfg and runs one
	// backend-specific liveness probe. On error the instance must be
	// discarded, not retried.
	Initialize(ctx context.Context, cfg skeet.ServiceConfig) error

	// Tools returns the connector's static tool declarations. It does not
	// require the connection to be live.
	Tools() []ToolDeclaration

	// Execute runs one named tool. It fails with ErrNotInitialized when the
	// connector has not been (or is no longer) initialized.
	Execute(ctx context.Context, tool string, args map[string]any) (any, error)

	// Shutdown releases the handle unconditionally and resets the connector
	// to its uninitialized state. It may run concurrently with an in-flight
	// Execute; the call in flight finishes against its own handle snapshot.
	Shutdown(ctx context.Context) error
}

// ResolveDSN picks the connection source from cfg in strict priority: the
// remote connection descriptor first, then the plain connection string.
func ResolveDSN(kind skeet.Kind, cfg skeet.ServiceConfig) (string, error) {
	if dsn := cfg.DSN(); dsn != "" {
		return dsn, nil
	}
	return "", &Error{Kind: kind, Op: "initialize", Err: fmt.Errorf("no connection source configured")}
}
