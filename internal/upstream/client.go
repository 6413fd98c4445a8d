// Package upstream talks to the remote paginated JSON API.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"pagecache/internal/core"
)

// DefaultMaxBodySize caps decoded response bodies.
const DefaultMaxBodySize = 10 * 1024 * 1024 // 10 MB

// Query parameters understood by the upstream API
const (
	pageParam  = "_page"
	limitParam = "_limit"
)

// TotalCountHeader carries the unfiltered-by-page item count.
const TotalCountHeader = "X-Total-Count"

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. https://jsonplaceholder.typicode.com
	BaseURL string
	// RequiredFields must be present on every item of a response
	RequiredFields []string
	// FilterParams maps a filter dimension to its query parameter name (default: the dimension name)
	FilterParams map[string]string
	// Headers are added to every request
	Headers map[string]string
	// Estimator decides the total item count when the response carries none
	Estimator TotalEstimator
	// MaxBodySize caps decoded bodies (default: 10 MB)
	MaxBodySize int64
}

// Client issues GET requests against the upstream API.
type Client struct {
	baseURL      *url.URL
	httpClient   *http.Client
	required     []string
	filterParams map[string]string
	headers      map[string]string
	estimator    TotalEstimator
	maxBodySize  int64
}

// New creates a Client. A nil httpClient uses http.DefaultClient.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("upstream base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("upstream base URL must be http or https, got %q", cfg.BaseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	estimator := cfg.Estimator
	if estimator == nil {
		estimator = ShortPageEstimator{}
	}
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}
	return &Client{
		baseURL:      base,
		httpClient:   httpClient,
		required:     cfg.RequiredFields,
		filterParams: cfg.FilterParams,
		headers:      cfg.Headers,
		estimator:    estimator,
		maxBodySize:  maxBody,
	}, nil
}

// FetchPage fetches one page of resource filtered by filters.
func FetchPage[T any](ctx context.Context, c *Client, resource string, pageNumber, pageSize int, filters core.Filters) (core.Page[T], error) {
	query := c.filterQuery(filters)
	query.Set(pageParam, strconv.Itoa(pageNumber))
	query.Set(limitParam, strconv.Itoa(pageSize))

	body, header, err := c.get(ctx, resource, query)
	if err != nil {
		return core.Page[T]{}, err
	}
	items, bodyTotal, err := decodeItems[T](resource, body, c.required)
	if err != nil {
		return core.Page[T]{}, err
	}

	total, ok := headerTotal(header)
	if !ok {
		total, ok = bodyTotal, bodyTotal >= 0
	}
	if !ok {
		total = c.estimator.Estimate(pageNumber, pageSize, len(items), filters)
	}
	return core.Page[T]{
		Items:      items,
		Pagination: core.NewPagination(pageNumber, pageSize, total),
	}, nil
}

// FetchAll fetches the whole resource in one request.
func FetchAll[T any](ctx context.Context, c *Client, resource string, filters core.Filters) ([]T, error) {
	body, _, err := c.get(ctx, resource, c.filterQuery(filters))
	if err != nil {
		return nil, err
	}
	items, _, err := decodeItems[T](resource, body, c.required)
	return items, err
}

// PageFetcher binds FetchPage to a resource for use by a Pager.
func PageFetcher[T any](c *Client, resource string) core.FetchPageFunc[T] {
	return func(ctx context.Context, pageNumber, pageSize int, filters core.Filters) (core.Page[T], error) {
		return FetchPage[T](ctx, c, resource, pageNumber, pageSize, filters)
	}
}

// AllFetcher binds FetchAll to a resource for use by a Resource controller.
func AllFetcher[T any](c *Client, resource string, filters core.Filters) core.FetchAllFunc[[]T] {
	filters = filters.Clone()
	return func(ctx context.Context) ([]T, error) {
		return FetchAll[T](ctx, c, resource, filters)
	}
}

func (c *Client) filterQuery(filters core.Filters) url.Values {
	query := url.Values{}
	active := filters.Active()
	for _, dim := range active.Dimensions() {
		name := dim
		if mapped, ok := c.filterParams[dim]; ok && mapped != "" {
			name = mapped
		}
		query.Set(name, active[dim])
	}
	return query
}

func (c *Client) get(ctx context.Context, resource string, query url.Values) ([]byte, http.Header, error) {
	u := c.baseURL.JoinPath(resource)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, core.NewNetworkError(resource, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br")
	if requestID := core.GetRequestID(ctx); requestID != "" {
		req.Header.Set(core.RequestIDHeader, requestID)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, core.NewNetworkError(resource, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp, c.maxBodySize)
	if err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, nil, core.NewHTTPError(resource, resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		return nil, nil, core.NewMalformedError(resource, "reading response body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, core.ParseUpstreamError(resource, resp.StatusCode, body)
	}
	return body, resp.Header, nil
}

func headerTotal(h http.Header) (int, bool) {
	v := h.Get(TotalCountHeader)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
