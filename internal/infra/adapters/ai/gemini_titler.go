package ai

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"report-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.TitleGenerator = (*GeminiTitler)(nil)

type GeminiTitler struct {
	client *genai.Client
	model  string
}

func NewGeminiTitler(ctx context.Context, apiKey, model string) (*GeminiTitler, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiTitler{client: c, model: model}, nil
}

func (t *GeminiTitler) GenerateTitle(ctx context.Context, problem string) (string, error) {
	contents := []*genai.Content{
		{Role: genai.RoleUser, Parts: []*genai.Part{{Text: titlePrompt + "\n\n" + clipProblem(problem)}}},
	}
	resp, err := t.client.Models.GenerateContent(ctx, t.model, contents, &genai.GenerateContentConfig{
		MaxOutputTokens: 32,
	})
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini: empty response")
	}
	return cleanTitle(resp.Candidates[0].Content.Parts[0].Text), nil
}
