// Package remote is the JSON-over-HTTP transport shared by the ledger, minter
// and unit manager clients. It separates transport failures from business
// rejections reported by the remote side.
package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/psantana5/unit-provisioner/pkg/tracing"
)

// Rejection is a business-level refusal reported by the remote service
// (HTTP 4xx with a JSON body). Anything else that goes wrong is a transport
// failure.
type Rejection struct {
	Status  int    `json:"-"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (r *Rejection) Error() string {
	if r.Code != "" {
		return fmt.Sprintf("rejected (%s): %s", r.Code, r.Message)
	}
	return "rejected: " + r.Message
}

// IsRejection reports whether err is a remote business rejection
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

// RequestHook may decorate every outgoing request. body is the exact payload.
type RequestHook func(req *http.Request, body []byte)

// Client manages communication with one remote service
type Client struct {
	baseURL    string
	httpClient *http.Client
	hook       RequestHook
}

// NewClient creates a client for baseURL with the given request timeout.
// A zero timeout leaves cancellation to the caller's context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithRequestHook returns a copy of c that runs hook before sending
func (c *Client) WithRequestHook(hook RequestHook) *Client {
	cp := *c
	cp.hook = hook
	return &cp
}

// WithTLSConfig returns a copy of c that dials with cfg
func (c *Client) WithTLSConfig(cfg *tls.Config) *Client {
	cp := *c
	cp.httpClient = &http.Client{
		Timeout:   c.httpClient.Timeout,
		Transport: &http.Transport{TLSClientConfig: cfg},
	}
	return &cp
}

// BaseURL returns the service root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get fetches path and decodes the JSON response into out
func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.Do(ctx, http.MethodGet, c.baseURL+path, nil, out)
}

// Put sends in as JSON to path and decodes the response into out
func (c *Client) Put(ctx context.Context, path string, in, out interface{}) error {
	return c.Do(ctx, http.MethodPut, c.baseURL+path, in, out)
}

// Post sends in as JSON to path and decodes the response into out
func (c *Client) Post(ctx context.Context, path string, in, out interface{}) error {
	return c.Do(ctx, http.MethodPost, c.baseURL+path, in, out)
}

// Do performs one request against an absolute URL
func (c *Client) Do(ctx context.Context, method, url string, in, out interface{}) error {
	var (
		body io.Reader
		data []byte
	)
	if in != nil {
		var err error
		data, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	tracing.InjectHTTPHeaders(ctx, req)
	if c.hook != nil {
		c.hook(req, data)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		raw, _ := io.ReadAll(resp.Body)
		rejection := &Rejection{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, rejection); err != nil || rejection.Message == "" {
			rejection.Message = strings.TrimSpace(string(raw))
		}
		return rejection
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s failed with status %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
