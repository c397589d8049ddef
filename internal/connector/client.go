package connector

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flowdeck-labs/flowdeck-go/internal/credential"
)

// Client is the shared outbound HTTP client of all tool adapters. It applies
// resolved auth, bounds every request, retries transient failures and logs
// each call into the execution log stream.
type Client struct {
	httpClient *http.Client
	baseURL    string
	auth       credential.Auth
	sink       LogSink
	retry      RetryPolicy
}

// Option adjusts client construction.
type Option func(*Client)

// WithRetryPolicy overrides the shared retry budget.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) { c.retry = policy }
}

// WithHTTPClient overrides the base transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(auth credential.Auth, sink LogSink, opts ...Option) *Client {
	if sink == nil {
		sink = NopSink{}
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(auth.URL, "/"),
		auth:       auth,
		sink:       sink,
		retry:      DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient = auth.HTTPClient(context.Background(), c.httpClient)
	return c
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	headers     map[string]string
}

// do performs one retried request and returns the response body. Non-2xx
// statuses become CallErrors carrying the status and response detail.
func (c *Client) do(ctx context.Context, op string, req request) ([]byte, error) {
	var body []byte
	err := Retry(ctx, c.sink, op, c.retry, func() error {
		var callErr error
		body, callErr = c.doOnce(ctx, op, req)
		return callErr
	})
	return body, err
}

func (c *Client) doOnce(ctx context.Context, op string, req request) ([]byte, error) {
	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var reader io.Reader
	if req.body != nil {
		reader = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, reader)
	if err != nil {
		return nil, &CallError{Op: op, Err: err}
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}
	c.auth.Decorate(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.sink.Logf("%s %s failed: %v", req.method, req.path, err)
		return nil, &CallError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, &CallError{Op: op, Err: err}
	}

	c.sink.Logf("%s %s -> %d", req.method, req.path, resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &CallError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Detail:     truncateDetail(payload),
		}
	}
	return payload, nil
}

func truncateDetail(body []byte) string {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 512 {
		detail = detail[:512]
	}
	return detail
}
