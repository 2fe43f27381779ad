package evaluatorhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ArticleReview/internal/config"
	"ArticleReview/internal/domain"
	"ArticleReview/internal/ports"
)

const maxResponseBytes = 1 << 20

// Client talks to a standalone evaluator microservice over HTTP.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.Evaluator = (*Client)(nil)

// NewClient creates a reusable HTTP client. Timeouts come from the caller's context.
func NewClient(cfg config.HTTPConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		http:     httpClient,
	}
}

// Name identifies the provider inside the registry.
func (c *Client) Name() string { return "http" }

// Evaluate posts the article to /evaluate and returns the raw response body.
func (c *Client) Evaluate(ctx context.Context, req domain.EvaluationRequest) ([]byte, error) {
	return c.post(ctx, "/evaluate", req)
}

// SuggestLinks posts the article to /suggest-links and returns the raw response body.
func (c *Client) SuggestLinks(ctx context.Context, req domain.EvaluationRequest) ([]byte, error) {
	return c.post(ctx, "/suggest-links", req)
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("evaluator endpoint is not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr)
		}
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := resp.Body.Close(); err != nil {
		return nil, fmt.Errorf("close response body: %w", err)
	}
	if len(raw) > maxResponseBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxResponseBytes)
	}
	return raw, nil
}
