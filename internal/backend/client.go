// Package backend calls the protected backend API.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Response is the body of a successful GET /protected.
type Response struct {
	Message  string `json:"message"`
	OID      string `json:"oid"`
	IssuedAt int64  `json:"issued_at"`
}

// Result is a decoded response together with the exact body received.
type Result struct {
	Response
	Raw json.RawMessage
}

// HTTPError is a failed call. StatusCode is 0 when no response was received.
type HTTPError struct {
	URL        string
	StatusCode int
	StatusText string
	Err        error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("Http failure response for %s: %d %s", e.URL, e.StatusCode, e.StatusText)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// ParseError is a 2xx response whose body is not the expected JSON.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string { return "Http failure during parsing for " + e.URL }

func (e *ParseError) Unwrap() error { return e.Err }

// Client issues the protected call. Authorization is added by the http.Client's transport.
type Client struct {
	http *http.Client
	url  string
}

func NewClient(httpClient *http.Client, url string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, url: url}
}

// URL is the protected endpoint the client calls.
func (c *Client) URL() string { return c.url }

// CallProtected performs one GET against the protected endpoint. There is no retry.
func (c *Client) CallProtected(ctx context.Context) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &HTTPError{URL: c.url, StatusText: "Unknown Error", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &HTTPError{URL: c.url, StatusCode: resp.StatusCode, StatusText: statusText(resp), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{URL: c.url, StatusCode: resp.StatusCode, StatusText: statusText(resp)}
	}

	var out Result
	if err := json.Unmarshal(body, &out.Response); err != nil {
		return nil, &ParseError{URL: c.url, Err: err}
	}
	out.Raw = json.RawMessage(body)
	return &out, nil
}

func statusText(resp *http.Response) string {
	if _, text, ok := strings.Cut(resp.Status, " "); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
