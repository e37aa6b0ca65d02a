package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"partfinder/internal/metrics"
	"partfinder/internal/types"
)

// GeminiClient implements Client over the Gemini API.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewGeminiClient creates a Gemini-backed LLM client.
func NewGeminiClient(ctx context.Context, apiKey, model string, temperature float64, logger *zap.Logger, m *metrics.Metrics) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       model,
		temperature: float32(temperature),
		logger:      logger,
		metrics:     m,
	}, nil
}

// generate runs one plain-text completion. All SDK failures wrap
// ErrLLMFailure so callers can classify with errors.Is.
func (c *GeminiClient) generate(ctx context.Context, kind, prompt string) (string, error) {
	c.metrics.RecordLLMCall(kind)

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrLLMFailure, kind, err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: %s: empty response", ErrLLMFailure, kind)
	}
	c.logger.Debug("llm completion",
		zap.String("kind", kind),
		zap.Int("prompt_len", len(prompt)),
		zap.Int("response_len", len(text)))
	return text, nil
}

// GenerateSearchTerms implements Client.
func (c *GeminiClient) GenerateSearchTerms(ctx context.Context, item types.BomRow) ([]string, error) {
	resp, err := c.generate(ctx, "search_terms", buildSearchTermPrompt(item))
	if err != nil {
		return nil, err
	}
	return ParseSearchTerms(resp), nil
}

// ChooseBestPart implements Client.
func (c *GeminiClient) ChooseBestPart(ctx context.Context, item types.BomRow, projectDesc string, bom []types.BomRow, candidates []types.Part) (string, error) {
	resp, err := c.generate(ctx, "evaluation", buildEvaluationPrompt(item, projectDesc, bom, candidates))
	if err != nil {
		return "", err
	}
	return ExtractMpn(resp)
}

// NormalizeBomRows implements Client.
func (c *GeminiClient) NormalizeBomRows(ctx context.Context, rows []map[string]any) ([]types.BomRow, error) {
	prompt, err := buildNormalizePrompt(rows)
	if err != nil {
		return nil, err
	}
	resp, err := c.generate(ctx, "normalize", prompt)
	if err != nil {
		return nil, err
	}
	normalized, err := parseBomRows(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: normalize: %v", ErrLLMFailure, err)
	}
	return normalized, nil
}
