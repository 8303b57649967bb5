// Package registry provides the service orchestration core: it drives
// connector lifecycle from resolved configuration, aggregates tool
// declarations, and routes tool invocations to the owning connector.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skeetlabs/mcp-skeet-gateway/pkg/connector"
	"github.com/skeetlabs/mcp-skeet-gateway/pkg/metrics"
	"github.com/skeetlabs/mcp-skeet-gateway/pkg/skeet"
)

// RefreshToolName is the built-in tool that re-resolves configuration and
// rebuilds every connector. It is always present in the tool list.
const RefreshToolName = "refresh_skeet_tools"

const defaultOpTimeout = 30 * time.Second

// State is the registry lifecycle state.
type State int

// Registry lifecycle states.
const (
	StateUninitialized State = iota
	StateReady
	StateRefreshing
	StateShutDown
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRefreshing:
		return "refreshing"
	case StateShutDown:
		return "shutdown"
	default:
		return "uninitialized"
	}
}

// Factory constructs one uninitialized connector for a service kind.
type Factory func(logger *slog.Logger) connector.Connector

// RefreshResult summarizes one refresh cycle for the caller.
type RefreshResult struct {
	Status         string   `json:"status"`
	Message        string   `json:"message"`
	APIIntegrated  bool     `json:"apiIntegrated"`
	ActiveServices []string `json:"activeServices"`
}

// Registry owns the set of active connectors. All lifecycle-mutating
// operations (Initialize, Refresh, Shutdown) hold the state lock for their
// full duration, so they are serialized against each other and against
// Execute's connector snapshot; Execute releases the lock before the
// potentially slow backend call.
type Registry struct {
	store     *skeet.Store
	factories map[skeet.Kind]Factory
	logger    *slog.Logger
	metrics   *metrics.Metrics
	opTimeout time.Duration

	// onRefresh runs after every successful refresh, outside the state
	// lock, so the transport can resync its advertised tool surface.
	onRefresh func()

	// staticRoutes maps every declarable tool name to its owning kind.
	// Built once at construction from the connectors' static declarations;
	// routing a known tool with no active connector is a distinct failure
	// from routing an unknown tool.
	staticRoutes map[string]skeet.Kind

	mu            sync.RWMutex
	state         State
	active        map[skeet.Kind]connector.Connector
	tools         []connector.ToolDeclaration
	apiIntegrated bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger overrides the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithFactories replaces the built-in connector factories.
func WithFactories(f map[skeet.Kind]Factory) Option {
	return func(r *Registry) { r.factories = f }
}

// WithOpTimeout bounds each connector lifecycle operation.
func WithOpTimeout(d time.Duration) Option {
	return func(r *Registry) { r.opTimeout = d }
}

// OnRefresh registers a callback invoked after every successful refresh.
func (r *Registry) OnRefresh(fn func()) {
	r.onRefresh = fn
}

// New creates a registry in the uninitialized state.
func New(store *skeet.Store, opts ...Option) *Registry {
	r := &Registry{
		store:     store,
		factories: BuiltinFactories(),
		logger:    slog.Default(),
		opTimeout: defaultOpTimeout,
		active:    make(map[skeet.Kind]connector.Connector),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.staticRoutes = buildStaticRoutes(r.factories, r.logger)
	return r
}

// buildStaticRoutes reads every factory's static tool declarations into a
// tool-name → kind routing table. Declarations do not require a live
// connection, so this is safe at construction time.
func buildStaticRoutes(factories map[skeet.Kind]Factory, logger *slog.Logger) map[string]skeet.Kind {
	routes := make(map[string]skeet.Kind)
	for kind, factory := range factories {
		for _, decl := range factory(logger).Tools() {
			routes[decl.Name] = kind
		}
	}
	return routes
}

// Initialize resolves configuration and attempts to bring up a connector
// for every enabled kind. Individual connector failures are logged and the
// kind is left out of the active set; only an unexpected internal error
// fails the call as a whole.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateShutDown {
		return fmt.Errorf("registry is shut down")
	}
	r.initializeLocked(ctx)
	return nil
}

// initializeLocked runs one full configuration-to-connectors cycle and
// returns how many enabled connectors failed to come up. The caller must
// hold the write lock.
func (r *Registry) initializeLocked(ctx context.Context) int {
	cfg := r.store.Resolve(ctx)

	active := make(map[skeet.Kind]connector.Connector)
	tools := make([]connector.ToolDeclaration, 0, 8)
	apiIntegrated := false
	failures := 0

	for _, kind := range skeet.Kinds() {
		svc := cfg[kind]
		if !svc.Enabled {
			continue
		}
		if svc.Connection != nil {
			apiIntegrated = true
		}

		factory, ok := r.factories[kind]
		if !ok {
			r.logger.Warn("skeet registry: no factory for configured kind", "kind", kind)
			continue
		}

		conn := factory(r.logger)
		initCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
		err := conn.Initialize(initCtx, svc)
		cancel()
		if err != nil {
			// Half-initialized instances are discarded, never retained.
			r.logger.Warn("skeet registry: connector failed to initialize, service disabled",
				"kind", kind, "error", err)
			failures++
			continue
		}

		active[kind] = conn
		tools = append(tools, conn.Tools()...)
	}

	tools = append(tools, refreshToolDeclaration())

	r.active = active
	r.tools = tools
	r.apiIntegrated = apiIntegrated
	r.state = StateReady

	services := activeNames(active)
	if len(services) == 0 {
		r.logger.Warn("skeet registry: no backend services active; only the refresh tool is available")
	} else {
		r.logger.Info("skeet registry: initialized", "active_services", services)
	}
	if r.metrics != nil {
		r.metrics.SetActiveServices(len(services))
	}
	return failures
}

// refreshToolDeclaration is the built-in refresh tool. It takes no arguments.
func refreshToolDeclaration() connector.ToolDeclaration {
	return connector.ToolDeclaration{
		Name:        RefreshToolName,
		Description: "Re-resolve configuration and rebuild all backend connectors",
	}
}

// Refresh atomically tears down every active connector and re-runs the full
// initialize cycle. Concurrent Execute calls block on the state lock until
// the refresh completes, so they never observe a half-cleared registry.
func (r *Registry) Refresh(ctx context.Context) (RefreshResult, error) {
	r.mu.Lock()

	if r.state == StateShutDown {
		r.mu.Unlock()
		return RefreshResult{}, fmt.Errorf("registry is shut down")
	}

	r.state = StateRefreshing
	r.shutdownAllLocked(ctx)
	failures := r.initializeLocked(ctx)
	if r.metrics != nil {
		var cycleErr error
		if failures > 0 {
			cycleErr = fmt.Errorf("%d connector(s) failed to initialize", failures)
		}
		r.metrics.RecordRefresh(cycleErr)
	}

	result := RefreshResult{
		Status:         "ok",
		Message:        "services refreshed",
		APIIntegrated:  r.apiIntegrated,
		ActiveServices: activeNames(r.active),
	}
	if len(result.ActiveServices) == 0 {
		result.Message = "services refreshed; no backends active"
	}
	onRefresh := r.onRefresh
	r.mu.Unlock()

	if onRefresh != nil {
		onRefresh()
	}
	return result, nil
}

// shutdownAllLocked shuts down every active connector best-effort and clears
// the registry state. The caller must hold the write lock.
func (r *Registry) shutdownAllLocked(ctx context.Context) {
	for kind, conn := range r.active {
		stopCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
		if err := conn.Shutdown(stopCtx); err != nil {
			r.logger.Warn("skeet registry: connector shutdown failed", "kind", kind, "error", err)
		}
		cancel()
	}
	r.active = make(map[skeet.Kind]connector.Connector)
	r.tools = nil
	r.apiIntegrated = false
}

// Tools returns the current tool declarations: the refresh tool plus the
// union of all active connectors' tools. The slice is a copy.
func (r *Registry) Tools() []connector.ToolDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.state == StateUninitialized || r.state == StateShutDown {
		return []connector.ToolDeclaration{refreshToolDeclaration()}
	}
	out := make([]connector.ToolDeclaration, len(r.tools))
	copy(out, r.tools)
	return out
}

// ActiveServices returns the names of the currently active service kinds in
// stable order.
func (r *Registry) ActiveServices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return activeNames(r.active)
}

// State returns the current lifecycle state.
func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Execute routes one tool invocation. The refresh tool is handled
// in-registry; every other tool is dispatched to its owning connector. The
// state lock is held only long enough to snapshot the connector reference,
// so a slow backend call does not block a concurrent refresh indefinitely.
func (r *Registry) Execute(ctx context.Context, tool string, args map[string]any) (any, error) {
	result, err := r.execute(ctx, tool, args)
	if r.metrics != nil {
		r.metrics.RecordToolCall(tool, err)
	}
	return result, err
}

func (r *Registry) execute(ctx context.Context, tool string, args map[string]any) (any, error) {
	if tool == RefreshToolName {
		return r.Refresh(ctx)
	}

	kind, known := r.staticRoutes[tool]
	if !known {
		return nil, fmt.Errorf("%w: %s", connector.ErrUnknownTool, tool)
	}

	r.mu.RLock()
	conn, active := r.active[kind]
	r.mu.RUnlock()

	if !active {
		return nil, fmt.Errorf("%s service: %w", kind, connector.ErrNotInitialized)
	}
	return conn.Execute(ctx, tool, args)
}

// Shutdown tears down every active connector and leaves the registry in the
// terminal state. It is idempotent.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateShutDown {
		return nil
	}

	r.shutdownAllLocked(ctx)
	r.state = StateShutDown
	if r.metrics != nil {
		r.metrics.SetActiveServices(0)
	}
	r.logger.Info("skeet registry: shut down")
	return nil
}

// IsNotInitialized reports whether err is the service-not-initialized failure.
func IsNotInitialized(err error) bool {
	return errors.Is(err, connector.ErrNotInitialized)
}

// activeNames lists active kinds in the well-known stable order.
func activeNames(active map[skeet.Kind]connector.Connector) []string {
	names := make([]string, 0, len(active))
	for _, kind := range skeet.Kinds() {
		if _, ok := active[kind]; ok {
			names = append(names, string(kind))
		}
	}
	return names
}
