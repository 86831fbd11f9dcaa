// Package origin implements the client the proxy uses to fetch a response
// from the upstream origin server on a cache miss or a scheduled refresh.
package origin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/haloreach/cacheproxy/internal/httputil"
)

// FailureKind classifies why a fetch did not produce a usable response.
// Decode failure is deliberately absent: a body that doesn't parse as JSON
// is still a usable response (it gets served uncached), not a fetch
// failure — see Response.DecodeFailed.
type FailureKind string

const FailureTransport FailureKind = "transport"

// Error wraps a classified origin failure.
type Error struct {
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("origin: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Response is what a successful fetch returns. Non-2xx statuses are not
// failures: the pipeline and TTL policy decide whether to cache them.
type Response struct {
	Status      int
	ContentType string
	Body        []byte

	// DecodeFailed reports that decodeJSON was requested but the body did
	// not parse as JSON. The response is still servable — callers must
	// pass it through uncached rather than treat it as a fetch error.
	DecodeFailed bool
}

const defaultContentType = "application/octet-stream"

// Client fetches responses from a single upstream base URL over a
// long-lived, connection-pooled HTTP client.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	maxBodyBytes   int64
}

// Config configures a Client.
type Config struct {
	BaseURL             string
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxBodyBytes        int64
}

// New builds a Client with a bounded connection pool, grounded on the
// teacher's approach of holding one shared client per outbound dependency
// rather than constructing one per request.
func New(cfg Config) *Client {
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = httputil.DefaultMaxResponseBodyBytes
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseURL:      cfg.BaseURL,
		httpClient:   &http.Client{Transport: transport, Timeout: cfg.Timeout},
		maxBodyBytes: cfg.MaxBodyBytes,
	}
}

// Fetch issues GET {baseURL}{path} and returns the response verbatim, or a
// classified *Error on transport failure. decodeJSON, when true, attempts a
// JSON validity check on the body (used by the pipeline to decide whether a
// response is cacheable JSON); a failed check never turns into an error and
// never alters the bytes returned to the caller — it only sets
// Response.DecodeFailed so the pipeline can serve the body uncached.
func (c *Client) Fetch(ctx context.Context, path string, decodeJSON bool) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return Response{}, &Error{Kind: FailureTransport, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.Canceled) {
			return Response{}, &Error{Kind: FailureTransport, Err: ctx.Err()}
		}
		return Response{}, &Error{Kind: FailureTransport, Err: err}
	}
	defer resp.Body.Close()

	body, err := httputil.ReadLimitedBody(resp.Body, c.maxBodyBytes)
	if err != nil {
		return Response{}, &Error{Kind: FailureTransport, Err: err}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}

	decodeFailed := false
	if decodeJSON && len(body) > 0 {
		var probe json.RawMessage
		if err := json.Unmarshal(body, &probe); err != nil {
			decodeFailed = true
		}
	}

	return Response{Status: resp.StatusCode, ContentType: contentType, Body: body, DecodeFailed: decodeFailed}, nil
}

// Close releases idle connections held by the underlying transport.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
