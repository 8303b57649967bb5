// Package server wires the configuration store, the service registry, and
// the MCP server into a runnable gateway.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/skeetlabs/mcp-skeet-gateway/pkg/auth"
	"github.com/skeetlabs/mcp-skeet-gateway/pkg/gateway"
	"github.com/skeetlabs/mcp-skeet-gateway/pkg/health"
	"github.com/skeetlabs/mcp-skeet-gateway/pkg/metrics"
	"github.com/skeetlabs/mcp-skeet-gateway/pkg/middleware"
	"github.com/skeetlabs/mcp-skeet-gateway/pkg/registry"
	"github.com/skeetlabs/mcp-skeet-gateway/pkg/skeet"
)

// Version is set at build time.
var Version = "dev"

const httpShutdownTimeout = 10 * time.Second

// Server is the running gateway: one MCP server fronting one service
// registry.
type Server struct {
	cfg       *gateway.Config
	logger    *slog.Logger
	registry  *registry.Registry
	mcpServer *mcp.Server
	metrics   *metrics.Metrics
	checker   *health.Checker

	// advertised tracks which tool names are currently registered with the
	// MCP server so refresh can remove stale ones.
	mu         sync.Mutex
	advertised map[string]bool
}

// Option configures a Server.
type Option func(*options)

type options struct {
	store    *skeet.Store
	registry *registry.Registry
	logger   *slog.Logger
}

// WithStore injects a configuration store (tests).
func WithStore(s *skeet.Store) Option {
	return func(o *options) { o.store = s }
}

// WithRegistry injects a pre-built registry (tests).
func WithRegistry(r *registry.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithLogger overrides the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds a gateway server from configuration.
func New(cfg *gateway.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = gateway.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	m := metrics.New()

	reg := o.registry
	if reg == nil {
		store := o.store
		if store == nil {
			store = skeet.NewStore(skeet.WithLogger(o.logger))
		}
		reg = registry.New(store,
			registry.WithLogger(o.logger),
			registry.WithMetrics(m),
			registry.WithOpTimeout(cfg.Skeet.OpTimeout),
		)
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
	}, nil)
	mcpServer.AddReceivingMiddleware(middleware.ToolCallLogging(o.logger))

	s := &Server{
		cfg:        cfg,
		logger:     o.logger,
		registry:   reg,
		mcpServer:  mcpServer,
		metrics:    m,
		checker:    health.NewChecker(),
		advertised: make(map[string]bool),
	}

	reg.OnRefresh(func() {
		s.syncTools()
		s.checker.SetServices(reg.ActiveServices())
	})

	return s, nil
}

// Start initializes the registry and advertises its tools.
func (s *Server) Start(ctx context.Context) error {
	if err := s.registry.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing service registry: %w", err)
	}
	s.syncTools()
	s.checker.SetReady(s.registry.ActiveServices())
	return nil
}

// Shutdown drains the gateway and tears down every connector. It must be
// awaited before process exit so no backend handle is abandoned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.checker.SetDraining()
	return s.registry.Shutdown(ctx)
}

// Registry returns the service registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// syncTools reconciles the MCP server's advertised tool set with the
// registry's current declarations: new tools are added, stale ones removed.
// The MCP server notifies connected clients of the change itself.
func (s *Server) syncTools() {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]bool)
	for _, decl := range s.registry.Tools() {
		current[decl.Name] = true
		if s.advertised[decl.Name] {
			continue
		}
		s.mcpServer.AddTool(&mcp.Tool{
			Name:        decl.Name,
			Description: decl.Description,
			InputSchema: decl.InputSchema(),
		}, s.toolHandler(decl.Name))
		s.advertised[decl.Name] = true
	}

	var stale []string
	for name := range s.advertised {
		if !current[name] {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		s.mcpServer.RemoveTools(stale...)
		for _, name := range stale {
			delete(s.advertised, name)
		}
	}
}

// toolHandler adapts one named tool to the registry's Execute call. Tool
// failures are reported as MCP error results, not protocol errors.
func (s *Server) toolHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]any{}
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
		}

		result, err := s.registry.Execute(ctx, name, args)
		if err != nil {
			return errorResult(err.Error()), nil
		}

		body, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return errorResult(fmt.Sprintf("encoding result: %v", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(body)}},
		}, nil
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// Run serves the configured transport until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	switch s.cfg.Server.Transport {
	case "stdio":
		return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
	case "http":
		return s.runHTTP(ctx)
	default:
		return fmt.Errorf("unknown transport: %s", s.cfg.Server.Transport)
	}
}

// runHTTP serves the streamable MCP endpoint plus health and metrics routes.
func (s *Server) runHTTP(ctx context.Context) error {
	router := mux.NewRouter()

	streamHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
	router.Handle("/mcp", auth.APIKeyMiddleware(s.cfg.Auth.APIKeys)(streamHandler))
	router.HandleFunc("/healthz", s.checker.LivenessHandler())
	router.HandleFunc("/readyz", s.checker.ReadinessHandler())
	if s.cfg.Metrics.Enabled {
		router.Handle("/metrics", s.metrics.Handler())
	}

	httpServer := &http.Server{
		Addr:              s.cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.Server.TLS.Enabled {
			err = httpServer.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		errCh <- err
	}()

	s.logger.Info("http transport listening", "address", s.cfg.Server.Address)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
