// Package openai provides an OpenAI-backed analysis Provider.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/relayops/gatekeep"
)

const systemPrompt = `You review content for factual accuracy. Respond with a JSON object:
{"score": <0..1 accuracy confidence>, "summary": "<one sentence>", "findings": [{"category": "<kind of issue>", "detail": "<what is wrong>", "confidence": <0..1>}]}
Respond with JSON only.`

// Provider performs content analysis via the OpenAI chat API.
type Provider struct {
	name        string
	model       string
	baseURL     string
	client      *goopenai.Client
	costPerUnit float64
}

var _ gatekeep.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithName sets the provider name. Default: "openai".
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithModel sets the model. Default: gpt-4o-mini.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithCostPerUnit sets the per-unit cost used by EstimateCost.
func WithCostPerUnit(cost float64) Option {
	return func(p *Provider) { p.costPerUnit = cost }
}

// New creates an OpenAI-backed provider.
func New(auth gatekeep.Auth, opts ...Option) *Provider {
	p := &Provider{
		name:        "openai",
		model:       goopenai.GPT4oMini,
		costPerUnit: 0.00015,
	}
	for _, opt := range opts {
		opt(p)
	}

	cfg := goopenai.DefaultConfig(auth.APIKey)
	if p.baseURL != "" {
		cfg.BaseURL = p.baseURL
	}
	p.client = goopenai.NewClientWithConfig(cfg)
	return p
}

func (p *Provider) Name() string { return p.name }

// analysisPayload is the JSON shape the model is asked to produce.
type analysisPayload struct {
	Score    float64 `json:"score"`
	Summary  string  `json:"summary"`
	Findings []struct {
		Category   string  `json:"category"`
		Detail     string  `json:"detail"`
		Confidence float64 `json:"confidence"`
	} `json:"findings"`
}

func (p *Provider) Analyze(ctx context.Context, req gatekeep.AnalysisRequest) (gatekeep.AnalysisResult, error) {
	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: p.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: req.Content},
		},
	})
	if err != nil {
		return gatekeep.AnalysisResult{}, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return gatekeep.AnalysisResult{}, fmt.Errorf("%w: empty response", gatekeep.ErrProviderUnavailable)
	}

	result := gatekeep.AnalysisResult{
		ID:       resp.ID,
		Provider: p.name,
		Model:    resp.Model,
		Usage: gatekeep.Usage{
			InputUnits:  int64(resp.Usage.PromptTokens),
			OutputUnits: int64(resp.Usage.CompletionTokens),
			TotalUnits:  int64(resp.Usage.TotalTokens),
		},
	}

	content := resp.Choices[0].Message.Content
	var payload analysisPayload
	if err := json.Unmarshal([]byte(stripFences(content)), &payload); err != nil {
		// Model ignored the JSON instruction; keep the raw text.
		result.Summary = content
		return result, nil
	}

	result.Score = payload.Score
	result.Summary = payload.Summary
	for _, f := range payload.Findings {
		result.Findings = append(result.Findings, gatekeep.Finding{
			Category:   f.Category,
			Detail:     f.Detail,
			Confidence: f.Confidence,
		})
	}
	return result, nil
}

func (p *Provider) ValidateCredentials(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return classifyError(err)
	}
	return nil
}

func (p *Provider) ProbeHealth(ctx context.Context) gatekeep.ProbeResult {
	start := time.Now()
	_, err := p.client.ListModels(ctx)
	latency := time.Since(start)

	if err != nil {
		return gatekeep.ProbeResult{Healthy: false, Latency: latency, Err: classifyError(err)}
	}
	return gatekeep.ProbeResult{Healthy: true, Latency: latency}
}

// EstimateUnits approximates token usage: ~4 chars per token plus prompt
// overhead.
func (p *Provider) EstimateUnits(req gatekeep.AnalysisRequest) int64 {
	return int64(len(req.Content))/4 + int64(len(systemPrompt))/4 + 8
}

func (p *Provider) EstimateCost(units int64) float64 {
	return float64(units) * p.costPerUnit
}

// classifyError maps OpenAI API errors onto the gatekeep taxonomy.
func classifyError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return fmt.Errorf("%w: %v", gatekeep.ErrAuthFailed, err)
		case apiErr.HTTPStatusCode == 429:
			return fmt.Errorf("%w: %v", gatekeep.ErrRateLimited, err)
		case apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500:
			return fmt.Errorf("%w: %v", gatekeep.ErrInvalidInput, err)
		}
		return fmt.Errorf("%w: %v", gatekeep.ErrProviderUnavailable, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", gatekeep.ErrProviderUnavailable, err)
}

// stripFences removes a markdown code fence around a JSON reply.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
