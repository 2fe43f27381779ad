package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"ArticleReview/internal/config"
	"ArticleReview/internal/domain"
	"ArticleReview/internal/ports"
)

const defaultGeminiModel = "gemini-1.5-flash"

// GeminiEvaluator implements ports.Evaluator on the Gemini API in JSON mode.
type GeminiEvaluator struct {
	client    *genai.Client
	review    *genai.GenerativeModel
	links     *genai.GenerativeModel
	modelName string
	logger    *zap.Logger
}

var _ ports.Evaluator = (*GeminiEvaluator)(nil)

// NewGeminiEvaluator creates the client and one model per prompt.
func NewGeminiEvaluator(ctx context.Context, cfg config.GeminiConfig, logger *zap.Logger) (*GeminiEvaluator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	newModel := func(instruction string) *genai.GenerativeModel {
		model := client.GenerativeModel(cfg.Model)
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(safePrompt(cfg.SystemPrompt) + "\n\n" + instruction)},
		}
		model.ResponseMIMEType = "application/json"
		model.GenerationConfig.Temperature = genai.Ptr[float32](0.2)
		return model
	}

	logger.Info("gemini evaluator initialized", zap.String("model", cfg.Model))

	return &GeminiEvaluator{
		client:    client,
		review:    newModel(EvaluationInstruction),
		links:     newModel(LinkInstruction),
		modelName: cfg.Model,
		logger:    logger,
	}, nil
}

// Close releases the underlying client.
func (g *GeminiEvaluator) Close() error {
	return g.client.Close()
}

// Name identifies the provider inside the registry.
func (g *GeminiEvaluator) Name() string { return "gemini" }

// Evaluate requests the publishing evaluation payload.
func (g *GeminiEvaluator) Evaluate(ctx context.Context, req domain.EvaluationRequest) ([]byte, error) {
	return g.generate(ctx, g.review, ArticlePrompt(req))
}

// SuggestLinks requests the internal link payload.
func (g *GeminiEvaluator) SuggestLinks(ctx context.Context, req domain.EvaluationRequest) ([]byte, error) {
	return g.generate(ctx, g.links, ArticlePrompt(req))
}

func (g *GeminiEvaluator) generate(ctx context.Context, model *genai.GenerativeModel, prompt string) ([]byte, error) {
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from gemini")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return nil, fmt.Errorf("unexpected response type from gemini")
	}
	g.logger.Debug("gemini response received",
		zap.String("model", g.modelName),
		zap.Int("bytes", b.Len()))
	return []byte(StripCodeFence(b.String())), nil
}
