package esi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// DefaultBaseURL is the public ESI endpoint.
const DefaultBaseURL = "https://esi.evetech.net/latest"

// ErrNotFound matches 404 responses (e.g. history for a type that never traded in a region).
var ErrNotFound = errors.New("esi: not found")

// StatusError is a non-2xx ESI response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ESI %d: %s", e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// RequestObserver is notified after every ESI round trip (status 0 = transport error).
type RequestObserver interface {
	ObserveRequest(endpoint string, status int, d time.Duration)
}

// Client is a rate-limited ESI HTTP client.
type Client struct {
	http      *http.Client
	baseURL   string
	userAgent string
	sem       chan struct{}
	orders    *OrderCache
	observer  RequestObserver
}

// NewClient creates an ESI client allowing maxConcurrent requests in flight.
// Empty baseURL / userAgent fall back to defaults.
func NewClient(baseURL, userAgent string, maxConcurrent int, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = "eve-trade-analytics/1.0"
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 20
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		baseURL:   baseURL,
		userAgent: userAgent,
		sem:       make(chan struct{}, maxConcurrent),
		orders:    NewOrderCache(),
	}
}

// SetObserver installs a request observer (metrics). Not safe to call concurrently with requests.
func (c *Client) SetObserver(o RequestObserver) {
	c.observer = o
}

// HealthCheck pings ESI to verify connectivity.
func (c *Client) HealthCheck(ctx context.Context) error {
	var status struct {
		Players int `json:"players"`
	}
	if err := c.GetJSON(ctx, "status", c.baseURL+"/status/?datasource=tranquility", &status); err != nil {
		return fmt.Errorf("esi status: %w", err)
	}
	return nil
}

func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() { <-c.sem }

func (c *Client) newRequest(ctx context.Context, url, accessToken string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return req, nil
}

// do performs one request under the semaphore. The caller owns resp.Body on success.
func (c *Client) do(ctx context.Context, endpoint string, req *http.Request) (*http.Response, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	start := time.Now()
	resp, err := c.http.Do(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if c.observer != nil {
		c.observer.ObserveRequest(endpoint, status, time.Since(start))
	}
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}

// GetJSON fetches a URL and decodes JSON into dst. endpoint is a short label for metrics.
func (c *Client) GetJSON(ctx context.Context, endpoint, url string, dst interface{}) error {
	return c.getJSON(ctx, endpoint, url, "", dst)
}

// AuthGetJSON is GetJSON with a bearer token.
func (c *Client) AuthGetJSON(ctx context.Context, endpoint, url, accessToken string, dst interface{}) error {
	return c.getJSON(ctx, endpoint, url, accessToken, dst)
}

func (c *Client) getJSON(ctx context.Context, endpoint, url, accessToken string, dst interface{}) error {
	req, err := c.newRequest(ctx, url, accessToken)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, endpoint, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(dst)
}

// pageMeta is the caching metadata of page 1 of a paginated response.
type pageMeta struct {
	pages   int
	etag    string
	expires time.Time
}

// getPaginated fetches every page of url (which must already carry a query string).
// Pages beyond the first are fetched concurrently; any page failure fails the call.
func getPaginated[T any](ctx context.Context, c *Client, endpoint, url string) ([]T, pageMeta, error) {
	req, err := c.newRequest(ctx, url+"&page=1", "")
	if err != nil {
		return nil, pageMeta{}, err
	}
	resp, err := c.do(ctx, endpoint, req)
	if err != nil {
		return nil, pageMeta{}, err
	}

	meta := pageMeta{pages: 1, etag: resp.Header.Get("ETag"), expires: parseExpires(resp)}
	if p := resp.Header.Get("X-Pages"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 1 {
			meta.pages = n
		}
	}

	var page1 []T
	err = json.NewDecoder(resp.Body).Decode(&page1)
	resp.Body.Close()
	if err != nil {
		return nil, meta, fmt.Errorf("decode page 1: %w", err)
	}
	if meta.pages == 1 {
		return page1, meta, nil
	}

	type pageResult struct {
		data []T
		err  error
	}
	results := make(chan pageResult, meta.pages-1)
	for p := 2; p <= meta.pages; p++ {
		go func(pageNum int) {
			var data []T
			pageURL := fmt.Sprintf("%s&page=%d", url, pageNum)
			err := c.GetJSON(ctx, endpoint, pageURL, &data)
			results <- pageResult{data: data, err: err}
		}(p)
	}

	all := make([]T, 0, len(page1)*meta.pages)
	all = append(all, page1...)
	var firstErr error
	for i := 0; i < meta.pages-1; i++ {
		r := <-results
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		all = append(all, r.data...)
	}
	if firstErr != nil {
		return nil, meta, firstErr
	}
	return all, meta, nil
}

// parseExpires reads the Expires header from an ESI response.
// Falls back to 5-minute TTL if header is missing or unparseable.
func parseExpires(resp *http.Response) time.Time {
	if exp := resp.Header.Get("Expires"); exp != "" {
		if t, err := time.Parse(time.RFC1123, exp); err == nil {
			return t
		}
	}
	return time.Now().Add(5 * time.Minute)
}
