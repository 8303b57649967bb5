package opensearch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/skeetlabs/mcp-skeet-gateway/pkg/connector"
	"github.com/skeetlabs/mcp-skeet-gateway/pkg/skeet"
)

const clusterInfoBody = `{
	"name": "test-node",
	"cluster_name": "test-cluster",
	"version": {"distribution": "opensearch", "number": "2.11.0"}
}`

// fakeCluster serves just enough of the OpenSearch API surface for the
// connector: cluster info, search, and cat indices.
type fakeCluster struct {
	server *httptest.Server

	lastSearchBody string
	lastSearchPath string
	searchStatus   int
	searchBody     string
}

func newFakeCluster(t *testing.T) *fakeCluster {
	t.Helper()
	fc := &fakeCluster{
		searchStatus: http.StatusOK,
		searchBody:   `{"took": 3, "hits": {"total": {"value": 1}, "hits": [{"_id": "1"}]}}`,
	}
	fc.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/":
			_, _ = w.Write([]byte(clusterInfoBody))
		case strings.HasSuffix(r.URL.Path, "/_search"):
			body, _ := io.ReadAll(r.Body)
			fc.lastSearchBody = string(body)
			fc.lastSearchPath = r.URL.Path
			w.WriteHeader(fc.searchStatus)
			_, _ = w.Write([]byte(fc.searchBody))
		case r.URL.Path == "/_cat/indices":
			_, _ = w.Write([]byte(`[{"index": "logs-2026.08", "health": "green", "docs.count": "120"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(fc.server.Close)
	return fc
}

func newTestConnector(t *testing.T) (*Connector, *fakeCluster) {
	t.Helper()
	fc := newFakeCluster(t)

	c := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := c.Initialize(context.Background(), skeet.ServiceConfig{
		Enabled:          true,
		ConnectionString: fc.server.URL,
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return c, fc
}

func TestInitialize_UnreachableCluster(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	c := New(nil)
	err := c.Initialize(context.Background(), skeet.ServiceConfig{
		Enabled:          true,
		ConnectionString: server.URL,
	})
	if err == nil {
		t.Fatal("expected the probe to fail against a closed server")
	}
}

func TestExecute_NotInitialized(t *testing.T) {
	c := New(nil)
	_, err := c.Execute(context.Background(), "opensearch_search", map[string]any{"query": "x"})
	if !errors.Is(err, connector.ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
}

func TestBuildBody(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "structured json used verbatim",
			query: `{"query": {"match": {"title": "error"}}}`,
			want:  `{"query": {"match": {"title": "error"}}}`,
		},
		{
			name:  "plain string wrapped in query_string",
			query: "status:500 AND service:gateway",
			want:  `{"query":{"query_string":{"query":"status:500 AND service:gateway"}}}`,
		},
		{
			name:  "json array is not a valid body, wrapped",
			query: `[1, 2]`,
			want:  `{"query":{"query_string":{"query":"[1, 2]"}}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildBody(tt.query); got != tt.want {
				t.Errorf("buildBody(%q) = %s, want %s", tt.query, got, tt.want)
			}
		})
	}
}

func TestSearch_StructuredQuery(t *testing.T) {
	c, fc := newTestConnector(t)

	result, err := c.Execute(context.Background(), "opensearch_search",
		map[string]any{"query": `{"query": {"match_all": {}}}`})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	parsed := result.(map[string]any)
	if parsed["took"] != float64(3) {
		t.Errorf("parsed response = %v", parsed)
	}
	if fc.lastSearchBody != `{"query": {"match_all": {}}}` {
		t.Errorf("request body = %s, want the structured query verbatim", fc.lastSearchBody)
	}
}

func TestSearch_PlainStringFallback(t *testing.T) {
	c, fc := newTestConnector(t)

	if _, err := c.Execute(context.Background(), "opensearch_search",
		map[string]any{"query": "level:error"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(fc.lastSearchBody), &body); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	query := body["query"].(map[string]any)
	if _, ok := query["query_string"]; !ok {
		t.Errorf("request body = %s, want a query_string wrapper", fc.lastSearchBody)
	}
}

func TestSearch_ScopedToIndex(t *testing.T) {
	c, fc := newTestConnector(t)

	if _, err := c.Execute(context.Background(), "opensearch_search",
		map[string]any{"query": "error", "index": "logs-2026.08"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fc.lastSearchPath != "/logs-2026.08/_search" {
		t.Errorf("search path = %q, want index-scoped path", fc.lastSearchPath)
	}
}

func TestSearch_BackendErrorSurfacesAsUpstream(t *testing.T) {
	c, fc := newTestConnector(t)
	fc.searchStatus = http.StatusBadRequest
	fc.searchBody = `{"error": {"type": "parsing_exception", "reason": "unknown field"}}`

	_, err := c.Execute(context.Background(), "opensearch_search",
		map[string]any{"query": `{"bogus": true}`})
	if err == nil {
		t.Fatal("expected the backend error to surface")
	}
	var upstream *connector.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("err = %T, want *connector.UpstreamError", err)
	}
	if !strings.Contains(err.Error(), "parsing_exception") {
		t.Errorf("err = %v, want the backend failure verbatim", err)
	}
}

func TestSearch_RequiresQuery(t *testing.T) {
	c, _ := newTestConnector(t)
	if _, err := c.Execute(context.Background(), "opensearch_search", nil); err == nil {
		t.Fatal("expected an error for a missing query argument")
	}
}

func TestListIndices(t *testing.T) {
	c, _ := newTestConnector(t)

	result, err := c.Execute(context.Background(), "opensearch_list_indices", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	indices := result.([]map[string]any)
	if len(indices) != 1 || indices[0]["index"] != "logs-2026.08" {
		t.Errorf("indices = %v", indices)
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	c, _ := newTestConnector(t)
	_, err := c.Execute(context.Background(), "opensearch_delete_index", nil)
	if !errors.Is(err, connector.ErrUnknownTool) {
		t.Fatalf("err = %v, want ErrUnknownTool", err)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	c, _ := newTestConnector(t)
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if err := New(nil).Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown before Initialize: %v", err)
	}
}

func TestShutdown_ConcurrentWithExecute(t *testing.T) {
	c, _ := newTestConnector(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			// Calls racing the shutdown are expected to fail; the handle
			// access itself must stay safe.
			_, _ = c.Execute(context.Background(), "opensearch_list_indices", nil)
		}
	}()

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	<-done
}
