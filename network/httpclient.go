package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds every request made by the HTTP clients in this package.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of a failed response body is kept in errors.
	maxErrorBody = 4096

	// maxResponseBody caps successful response bodies (holder lists can be large).
	maxResponseBody = 32 << 20
)

// newHTTPClient returns a pooled client with the given timeout.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 10,
		},
	}
}

// restAPI is the shared plumbing for the explorer and indexer REST clients.
type restAPI struct {
	base    string
	headers map[string]string
	client  *http.Client
}

// statusError is returned for non-2xx responses.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// do sends a request and returns the body of a 2xx response.
func (a *restAPI) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	if a.base == "" {
		return nil, fmt.Errorf("%w: empty base URL", ErrNotConfigured)
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("network: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(a.base, "/")+path, body)
	if err != nil {
		return nil, fmt.Errorf("network: create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrConnectionFailed, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &statusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrInvalidResponse, err)
	}
	return respBody, nil
}

// getJSON GETs path and decodes the response into out.
func (a *restAPI) getJSON(ctx context.Context, path string, out interface{}) error {
	body, err := a.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrInvalidResponse, path, err)
	}
	return nil
}

// trimQuotes strips whitespace and surrounding quote characters.
func trimQuotes(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}
