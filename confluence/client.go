// Package confluence is a thin read-only client for the Confluence REST API.
// Responses are returned as raw JSON so callers can forward them unchanged.
package confluence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ivanarama/ConfluenceMCP/observability"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// MaxSearchLimit is the largest page size the search endpoint accepts.
	MaxSearchLimit = 100

	DefaultTimeout = 30 * time.Second

	maxErrorBodyBytes = 1 << 10
)

// APIError is returned when Confluence answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Status     string
	URL        string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("confluence API error: %s for url: %s", e.Status, e.URL)
}

// Client issues authenticated GET requests against one Confluence site. It
// is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authorize  func(*http.Request)
	limiter    *rate.Limiter
	logger     observability.Logger
	group      singleflight.Group
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBearerToken authenticates with a personal access token.
func WithBearerToken(token string) ClientOption {
	return func(c *Client) {
		c.authorize = func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithBasicAuth authenticates with a username and API token.
func WithBasicAuth(username, apiToken string) ClientOption {
	return func(c *Client) {
		c.authorize = func(req *http.Request) {
			req.SetBasicAuth(username, apiToken)
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. The client is copied so
// later options never mutate the caller's value.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			cp := *httpClient
			c.httpClient = &cp
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the client logger.
func WithLogger(logger observability.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the site rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("confluence base URL cannot be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid confluence base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid confluence base URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		authorize:  func(*http.Request) {},
		logger:     observability.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Search runs a CQL query. limit is clamped to MaxSearchLimit.
func (c *Client) Search(ctx context.Context, cql string, limit int, expand []string) (json.RawMessage, error) {
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	query := url.Values{}
	query.Set("cql", cql)
	query.Set("limit", strconv.Itoa(limit))
	setExpand(query, expand)

	return c.get(ctx, "/rest/api/content/search", query)
}

// GetContent fetches a single content item by id.
func (c *Client) GetContent(ctx context.Context, id string, expand []string) (json.RawMessage, error) {
	if id == "" {
		return nil, errors.New("content id cannot be empty")
	}

	query := url.Values{}
	setExpand(query, expand)

	return c.get(ctx, "/rest/api/content/"+url.PathEscape(id), query)
}

// ListSpaces lists the spaces visible to the authenticated user.
func (c *Client) ListSpaces(ctx context.Context, limit int) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))

	return c.get(ctx, "/rest/api/space", query)
}

func setExpand(query url.Values, expand []string) {
	var parts []string
	for _, e := range expand {
		if e = strings.TrimSpace(e); e != "" {
			parts = append(parts, e)
		}
	}
	if len(parts) > 0 {
		query.Set("expand", strings.Join(parts, ","))
	}
}

// get performs a GET and returns the body. Identical requests in flight at
// the same time share one upstream call.
func (c *Client) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	endpoint := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	// The shared call outlives any single caller; each caller stops waiting
	// when its own context ends.
	ch := c.group.DoChan(endpoint, func() (interface{}, error) {
		return c.do(context.WithoutCancel(ctx), path, endpoint)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.WithFields(map[string]interface{}{"path": path}).Debug("Shared in-flight Confluence response")
		}
		return res.Val.(json.RawMessage), nil
	}
}

func (c *Client) do(ctx context.Context, path, endpoint string) (body json.RawMessage, err error) {
	ctx, span := observability.StartSpan(ctx, "confluence.Client.get")
	defer span.End()
	defer func() { observability.RecordError(span, err) }()

	span.SetAttributes(attribute.String("confluence.path", path))

	logger := c.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"path": path,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.WithErr(err).Warn("Confluence request failed")
		return nil, fmt.Errorf("confluence request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	logger.WithFields(map[string]interface{}{
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Confluence response received")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        endpoint,
			Body:       string(snippet),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read confluence response: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("confluence returned invalid JSON from %s", path)
	}
	return json.RawMessage(data), nil
}
