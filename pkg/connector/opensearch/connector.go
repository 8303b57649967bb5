// Package opensearch provides the OpenSearch connector for the skeet gateway.
package opensearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	opensearchclient "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/skeetlabs/mcp-skeet-gateway/pkg/connector"
	"github.com/skeetlabs/mcp-skeet-gateway/pkg/skeet"
)

// Connector owns one OpenSearch client.
type Connector struct {
	// mu guards the handle. The registry may shut a connector down while a
	// tool call is in flight; Execute snapshots the handle under mu so the
	// remaining call finishes against its own client reference.
	mu     sync.Mutex
	client *opensearchclient.Client
	logger *slog.Logger
}

// New creates an uninitialized OpenSearch connector.
func New(logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{logger: logger}
}

// Kind returns the service kind.
func (*Connector) Kind() skeet.Kind { return skeet.KindOpenSearch }

// Initialize builds the client and probes the cluster info endpoint.
func (c *Connector) Initialize(ctx context.Context, cfg skeet.ServiceConfig) error {
	dsn, err := connector.ResolveDSN(skeet.KindOpenSearch, cfg)
	if err != nil {
		return err
	}

	client, err := opensearchclient.NewClient(opensearchclient.Config{
		Addresses: []string{dsn},
	})
	if err != nil {
		return &connector.Error{Kind: skeet.KindOpenSearch, Op: "initialize", Err: err}
	}

	res, err := opensearchapi.InfoRequest{}.Do(ctx, client)
	if err != nil {
		return &connector.Error{Kind: skeet.KindOpenSearch, Op: "probe", Err: err}
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() {
		return &connector.Error{Kind: skeet.KindOpenSearch, Op: "probe",
			Err: fmt.Errorf("cluster info returned %s", res.Status())}
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	c.logger.Info("opensearch connector initialized")
	return nil
}

// handle snapshots the client reference.
func (c *Connector) handle() *opensearchclient.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// Tools returns the connector's static tool declarations.
func (*Connector) Tools() []connector.ToolDeclaration {
	return []connector.ToolDeclaration{
		{
			Name:        "opensearch_search",
			Description: "Search OpenSearch with a structured query body or a plain query string",
			Params: []connector.Param{
				{Name: "query", Type: "string", Description: "JSON query body or plain query string", Required: true},
				{Name: "index", Type: "string", Description: "Index to search (default: all indices)"},
			},
		},
		{
			Name:        "opensearch_list_indices",
			Description: "List indices in the OpenSearch cluster",
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
	case "opensearch_search":
		query, ok := args["query"].(string)
		if !ok || query == "" {
			return nil, &connector.Error{Kind: skeet.KindOpenSearch, Op: tool, Err: fmt.Errorf("query argument is required")}
		}
		index, _ := args["index"].(string)
		return c.search(ctx, client, query, index)
	case "opensearch_list_indices":
		return c.listIndices(ctx, client)
	default:
		return nil, fmt.Errorf("%w: %s", connector.ErrUnknownTool, tool)
	}
}

// search runs a query. A query that parses as a JSON object is used as the
// request body verbatim; anything else is wrapped in a query_string search.
// The fallback is a usability affordance, not an error path.
func (c *Connector) search(ctx context.Context, client *opensearchclient.Client, query, index string) (any, error) {
	body := buildBody(query)

	req := opensearchapi.SearchRequest{
		Body: strings.NewReader(body),
	}
	if index != "" {
		req.Index = []string{index}
	}

	res, err := req.Do(ctx, client)
	if err != nil {
		return nil, &connector.UpstreamError{Kind: skeet.KindOpenSearch, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	return decodeResponse(res)
}

// buildBody returns the search request body for a raw query input.
func buildBody(query string) string {
	var structured map[string]any
	if err := json.Unmarshal([]byte(query), &structured); err == nil {
		return query
	}

	wrapper := map[string]any{
		"query": map[string]any{
			"query_string": map[string]any{
				"query": query,
			},
		},
	}
	b, _ := json.Marshal(wrapper)
	return string(b)
}

// listIndices returns the cluster's indices via the cat API.
func (c *Connector) listIndices(ctx context.Context, client *opensearchclient.Client) (any, error) {
	format := "json"
	res, err := opensearchapi.CatIndicesRequest{Format: format}.Do(ctx, client)
	if err != nil {
		return nil, &connector.UpstreamError{Kind: skeet.KindOpenSearch, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return nil, &connector.UpstreamError{Kind: skeet.KindOpenSearch,
			Err: fmt.Errorf("cat indices returned %s", res.Status())}
	}

	var indices []map[string]any
	if err := json.NewDecoder(res.Body).Decode(&indices); err != nil {
		return nil, &connector.Error{Kind: skeet.KindOpenSearch, Op: "opensearch_list_indices", Err: err}
	}
	return indices, nil
}

// decodeResponse parses a search response, surfacing backend-reported
// failures verbatim.
func decodeResponse(res *opensearchapi.Response) (any, error) {
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &connector.Error{Kind: skeet.KindOpenSearch, Op: "search", Err: err}
	}

	if res.IsError() {
		return nil, &connector.UpstreamError{Kind: skeet.KindOpenSearch,
			Err: fmt.Errorf("search returned %s: %s", res.Status(), string(raw))}
	}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &connector.Error{Kind: skeet.KindOpenSearch, Op: "search", Err: err}
	}
	return parsed, nil
}

// Shutdown drops the client. The underlying HTTP transport holds no
// persistent connections that require explicit teardown, so this only
// resets state. Safe to call repeatedly, before Initialize, or while a
// tool call is in flight.
func (c *Connector) Shutdown(_ context.Context) error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	c.logger.Info("opensearch connector shut down")
	return nil
}

// Verify interface compliance.
var _ connector.Connector = (*Connector)(nil)
