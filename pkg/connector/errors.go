package connector

import (
	"errors"
	"fmt"

	"github.com/skeetlabs/mcp-skeet-gateway/pkg/skeet"
)

// Sentinel errors shared across connectors and the registry.
var (
	// ErrNotInitialized is returned when a tool targets a connector that has
	// not been initialized or has been shut down.
	ErrNotInitialized = errors.New("service not initialized")

	// ErrUnknownTool is returned for a tool name no connector declares.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrCommandNotAllowed is returned by the key-value connector for
	// commands outside its allow-list.
	ErrCommandNotAllowed = errors.New("command not allowed")
)

// Error wraps a connector-level failure with its kind and operation.
type Error struct {
	Kind skeet.Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s connector: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// UpstreamError carries a failure reported by the backend itself. It is
// propagated verbatim to the caller, never swallowed.
type UpstreamError struct {
	Kind skeet.Kind
	Err  error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s backend error: %v", e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
