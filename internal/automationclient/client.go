// Package automationclient is the HTTP client for the internal APIs exposed
// by automation services. Every call carries the shared service token in the
// X-Service-Token header.
package automationclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const serviceTokenHeader = "X-Service-Token"

var (
	ErrEmptyBaseURL  = errors.New("automation base url is empty")
	ErrUnauthorized  = errors.New("automation rejected service token")
	ErrUpstreamError = errors.New("automation returned an error")
)

// ProvisionRequest is the activation payload sent to an automation service.
type ProvisionRequest struct {
	UserAutomationID string `json:"user_automation_id"`
	UserID           string `json:"user_id"`
	BotToken         string `json:"bot_token,omitempty"`
	DemoTokens       int64  `json:"demo_tokens"`
}

// ProvisionResponse is the automation's acknowledgement.
type ProvisionResponse struct {
	Success    bool   `json:"success"`
	ServiceURL string `json:"service_url,omitempty"`
	Message    string `json:"message,omitempty"`
}

// KBStatus reports the knowledge base state of a provisioned integration.
type KBStatus struct {
	Status         string `json:"status"`
	LastUpdated    string `json:"last_updated,omitempty"`
	TotalDocuments int64  `json:"total_documents"`
	Healthy        bool   `json:"healthy"`
}

// HealthStatus is the automation service's own health report.
type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Uptime  int64  `json:"uptime,omitempty"`
}

// Client talks to one automation service deployment.
type Client struct {
	baseURL      string
	serviceToken string
	client       *http.Client
}

// Option adjusts client construction.
type Option func(*Client)

// WithTransport swaps the underlying round tripper, used by tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.client.Transport = rt
	}
}

// New builds a client for the automation rooted at baseURL.
func New(baseURL, serviceToken string, timeout time.Duration, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, ErrEmptyBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL:      base,
		serviceToken: serviceToken,
		client:       &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Provision activates an integration on the automation side.
func (c *Client) Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, error) {
	var resp ProvisionResponse
	if err := c.do(ctx, http.MethodPost, "/provision", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// KBStatus fetches the knowledge base state for one integration.
func (c *Client) KBStatus(ctx context.Context, userAutomationID string) (*KBStatus, error) {
	var status KBStatus
	path := fmt.Sprintf("/kb/status?user_automation_id=%s", userAutomationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// KBReset clears the knowledge base for one integration.
func (c *Client) KBReset(ctx context.Context, userAutomationID string) error {
	path := fmt.Sprintf("/kb/reset?user_automation_id=%s", userAutomationID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// Health probes the automation service.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var status HealthStatus
	if err := c.do(ctx, http.MethodGet, "/health", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(serviceTokenHeader, c.serviceToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 400:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrUpstreamError, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
