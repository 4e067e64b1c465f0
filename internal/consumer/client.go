package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tjfontaine/pmdev-translator/internal/relay"
)

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 64 << 10

// Translator opens translation streams. *Client is the production
// implementation.
type Translator interface {
	Translate(ctx context.Context, req relay.TranslateRequest) (io.ReadCloser, error)
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client talks to a relay.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the relay at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the relay address.
func (c *Client) BaseURL() string { return c.baseURL }

// Translate posts req and returns the event-stream body. The caller owns the
// body and must close it. Every failure is a *TransportError.
func (c *Client) Translate(ctx context.Context, req relay.TranslateRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+relay.TranslatePath, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "request", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, &TransportError{
			Op:         "request",
			StatusCode: resp.StatusCode,
			Detail:     errorDetail(resp.Body),
		}
	}

	return resp.Body, nil
}

// errorDetail extracts the relay's {"error": ...} message, if any.
func errorDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return ""
	}
	var resp relay.ErrorResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return ""
	}
	return resp.Error
}
