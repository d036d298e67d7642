package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const defaultCacheSize = 256

// Client talks to the BuildGuard backend REST and event-stream API
type Client struct {
	baseURL string
	http    *resty.Client
	stream  *resty.Client // no timeout, long-lived text/event-stream responses
	cache   *lruCache
}

// Option customizes a Client
type Option func(*Client)

// WithTimeout overrides the request timeout for REST calls
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(timeout)
	}
}

// WithRetries overrides how many times idempotent requests are retried
func WithRetries(count int) Option {
	return func(c *Client) {
		c.http.SetRetryCount(count)
	}
}

// WithRateLimit caps REST calls at rps requests per second with the given
// burst. Stream connections are not limited. rps <= 0 leaves calls unlimited.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			return
		}
		limiter := rate.NewLimiter(rate.Limit(rps), burst)
		c.http.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			return limiter.Wait(r.Context())
		})
	}
}

// WithCacheTTL overrides how long cached GET responses stay fresh
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.cache.ttl = ttl
	}
}

// NewClient creates a new BuildGuard API client. token may be empty when the
// backend session cookie is the only credential.
func NewClient(baseURL, token string, opts ...Option) *Client {
	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		cache:   newLRUCache(defaultCacheSize, time.Minute),
	}

	client.http = resty.New().
		SetHeader("Accept", "application/json").
		SetTimeout(120 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil {
				return false
			}
			// Never replay a POST: creating the same export job twice is not harmless
			if r.Request.Method == http.MethodPost {
				return false
			}
			return r.StatusCode() == 429 || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})

	// The stream client shares the cookie jar so the session cookie rides along
	client.stream = resty.New().
		SetCookieJar(client.http.GetClient().Jar)

	if token != "" {
		client.http.SetAuthToken(token)
		client.stream.SetAuthToken(token)
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// BaseURL returns the backend root this client was created for
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs a GET request to the backend
func (c *Client) Get(ctx context.Context, endpoint string, params map[string]string) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx)
	if params != nil {
		req.SetQueryParams(params)
	}
	return req.Get(c.buildURL(endpoint))
}

// Post performs a POST request with a JSON body
func (c *Client) Post(ctx context.Context, endpoint string, payload interface{}) (*resty.Response, error) {
	return c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(c.buildURL(endpoint))
}

// Put performs a PUT request with a JSON body
func (c *Client) Put(ctx context.Context, endpoint string, payload interface{}) (*resty.Response, error) {
	return c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Put(c.buildURL(endpoint))
}

// Delete performs a DELETE request
func (c *Client) Delete(ctx context.Context, endpoint string, params map[string]string) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx)
	if params != nil {
		req.SetQueryParams(params)
	}
	return req.Delete(c.buildURL(endpoint))
}

// GetBytes fetches a binary payload. Non-2xx responses become *APIError.
func (c *Client) GetBytes(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	resp, err := c.Get(ctx, endpoint, params)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, newAPIError(resp.StatusCode(), resp.Status(), resp.Body())
	}
	return resp.Body(), nil
}

// GetJSON fetches endpoint and decodes the JSON body into out
func (c *Client) GetJSON(ctx context.Context, endpoint string, params map[string]string, out interface{}) error {
	body, err := c.GetBytes(ctx, endpoint, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// GetCached is GetJSON backed by the response cache. Use it for listing and
// detail reads that are invalidated on mutation.
func (c *Client) GetCached(ctx context.Context, endpoint string, params map[string]string, out interface{}) error {
	key := cacheKey(endpoint, params)
	if body, ok := c.cache.Get(key); ok {
		if err := json.Unmarshal(body, out); err == nil {
			return nil
		}
	}

	body, err := c.GetBytes(ctx, endpoint, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	c.cache.Put(key, body)
	return nil
}

// Invalidate drops cached responses whose endpoint starts with prefix
func (c *Client) Invalidate(prefix string) {
	c.cache.RemovePrefix(strings.TrimPrefix(prefix, "/"))
}

// PostJSON sends payload and decodes the response into out (if non-nil)
func (c *Client) PostJSON(ctx context.Context, endpoint string, payload, out interface{}) error {
	resp, err := c.Post(ctx, endpoint, payload)
	return decodeResponse(resp, err, out)
}

// PutJSON sends payload and decodes the response into out (if non-nil)
func (c *Client) PutJSON(ctx context.Context, endpoint string, payload, out interface{}) error {
	resp, err := c.Put(ctx, endpoint, payload)
	return decodeResponse(resp, err, out)
}

// OpenStream opens a text/event-stream response. The caller owns the
// returned body and must close it; cancelling ctx also tears it down.
func (c *Client) OpenStream(ctx context.Context, endpoint string) (io.ReadCloser, error) {
	resp, err := c.stream.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Cache-Control", "no-cache").
		Get(c.buildURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to open event stream %s: %w", endpoint, err)
	}

	body := resp.RawBody()
	if !resp.IsSuccess() {
		var excerpt []byte
		if body != nil {
			excerpt, _ = io.ReadAll(io.LimitReader(body, 4096))
			body.Close()
		}
		return nil, newAPIError(resp.StatusCode(), resp.Status(), excerpt)
	}
	return body, nil
}

// SetTimeout allows customizing the timeout for specific operations
func (c *Client) SetTimeout(timeout time.Duration) {
	c.http.SetTimeout(timeout)
}

func decodeResponse(resp *resty.Response, err error, out interface{}) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if !resp.IsSuccess() {
		return newAPIError(resp.StatusCode(), resp.Status(), resp.Body())
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// buildURL constructs the full URL for an endpoint
func (c *Client) buildURL(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "/")
	return fmt.Sprintf("%s/%s", c.baseURL, endpoint)
}

func cacheKey(endpoint string, params map[string]string) string {
	endpoint = strings.TrimPrefix(endpoint, "/")
	if len(params) == 0 {
		return endpoint
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	// Encode sorts by key
	return endpoint + "?" + values.Encode()
}
