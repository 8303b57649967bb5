package skeet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// defaultAPIEndpoint is used when SKEET_API_URL is not set.
	defaultAPIEndpoint = "https://api.skeet.dev/v1/integrations"

	// defaultFetchTimeout bounds the one-shot remote configuration call so a
	// stuck authority cannot wedge a registry refresh.
	defaultFetchTimeout = 10 * time.Second

	// maxResponseBytes caps how much of the response body is read.
	maxResponseBytes = 1 << 20
)

// IntegrationsResponse is the remote configuration authority's response body.
type IntegrationsResponse struct {
	Integrations map[string]Integration `json:"integrations"`
}

// Integration lists the connections provisioned for one service kind.
type Integration struct {
	Connections []Connection `json:"connections"`
}

// Fetcher retrieves service configuration from the remote authority.
// A (nil, nil) return means the authority contributed nothing; an error is
// reserved for transport-level or parse failures.
type Fetcher interface {
	FetchIntegrations(ctx context.Context) (*IntegrationsResponse, error)
}

// HTTPFetcher performs a one-shot HTTP call to the configuration authority.
type HTTPFetcher struct {
	endpoint   string
	credential string
	client     *http.Client
	logger     *slog.Logger
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithHTTPClient overrides the HTTP client, primarily for tests.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithFetcherLogger overrides the fetcher logger.
func WithFetcherLogger(l *slog.Logger) FetcherOption {
	return func(f *HTTPFetcher) { f.logger = l }
}

// NewHTTPFetcher creates a fetcher for the given endpoint and credential.
// An empty endpoint falls back to the default authority URL.
func NewHTTPFetcher(endpoint, credential string, opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		endpoint:   endpoint,
		credential: credential,
		client:     &http.Client{Timeout: defaultFetchTimeout},
		logger:     slog.Default(),
	}
	if f.endpoint == "" {
		f.endpoint = defaultAPIEndpoint
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchIntegrations calls the authority once. HTTP 200 with valid JSON
// returns the parsed body. Any other status is logged and returns (nil, nil)
// so the caller treats the authority as having contributed nothing. Only
// transport and JSON parse failures surface as errors.
func (f *HTTPFetcher) FetchIntegrations(ctx context.Context) (*IntegrationsResponse, error) {
	req, err := f.buildRequest(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling config authority: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading config authority response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		f.logger.Warn("skeet config: authority returned non-OK status",
			"status", resp.StatusCode, "body", string(body))
		return nil, nil
	}

	var parsed IntegrationsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing config authority response: %w", err)
	}
	return &parsed, nil
}

// buildRequest constructs the GET request. Credentials that look like a JWT
// travel as a bearer token; anything else is passed as the api_key query
// parameter.
func (f *HTTPFetcher) buildRequest(ctx context.Context) (*http.Request, error) {
	endpoint := f.endpoint
	useBearer := f.credentialIsJWT()
	if !useBearer && f.credential != "" {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid config authority endpoint: %w", err)
		}
		q := u.Query()
		q.Set("api_key", f.credential)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building config authority request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if useBearer {
		req.Header.Set("Authorization", "Bearer "+f.credential)
	}
	return req, nil
}

// credentialIsJWT reports whether the credential parses as a JWT. The token
// is not verified here; the authority does that. Expired tokens are worth a
// warning because the fetch is about to fail authentication.
func (f *HTTPFetcher) credentialIsJWT() bool {
	if f.credential == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(f.credential, claims); err != nil {
		return false
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
		f.logger.Warn("skeet config: authority credential is an expired JWT", "expired_at", exp.Time)
	}
	return true
}
