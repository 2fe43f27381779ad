package llm

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

// OpenAIEvaluator implements ports.Evaluator backed by OpenAI-compatible chat APIs.
type OpenAIEvaluator struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	httpClient   *http.Client
}

var _ ports.Evaluator = (*OpenAIEvaluator)(nil)

// NewOpenAIEvaluator builds a client from configuration. Timeouts come from
// the caller's context.
func NewOpenAIEvaluator(cfg config.OpenAIConfig, httpClient *http.Client) *OpenAIEvaluator {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OpenAIEvaluator{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		httpClient:   httpClient,
	}
}

// Name identifies the provider inside the registry.
func (c *OpenAIEvaluator) Name() string { return "openai" }

// Evaluate requests the publishing evaluation payload.
func (c *OpenAIEvaluator) Evaluate(ctx context.Context, req domain.EvaluationRequest) ([]byte, error) {
	return c.complete(ctx, EvaluationInstruction, ArticlePrompt(req))
}

// SuggestLinks requests the internal link payload.
func (c *OpenAIEvaluator) SuggestLinks(ctx context.Context, req domain.EvaluationRequest) ([]byte, error) {
	return c.complete(ctx, LinkInstruction, ArticlePrompt(req))
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIEvaluator) complete(ctx context.Context, instruction, article string) ([]byte, error) {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return nil, fmt.Errorf("openai evaluator misconfigured")
	}

	body, err := json.Marshal(map[string]any{
		"model":           c.model,
		"temperature":     0.2,
		"response_format": map[string]string{"type": "json_object"},
		"messages": []map[string]string{
			{"role": "system", "content": safePrompt(c.systemPrompt) + "\n\n" + instruction},
			{"role": "user", "content": article},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal openai payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("openai error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openai response has no choices")
	}
	return []byte(StripCodeFence(parsed.Choices[0].Message.Content)), nil
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "You are a senior medical editor."
	}
	return prompt
}
