package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"report-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.TitleGenerator = (*OpenAITitler)(nil)

const titlePrompt = "Generate a short title (at most 6 words) for a conversation that starts with the following engineering problem. Reply with the title only, no quotes."

type OpenAITitler struct {
	client openai.Client
	model  string
}

func NewOpenAITitler(apiKey, model string) (*OpenAITitler, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAITitler{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

func (t *OpenAITitler) GenerateTitle(ctx context.Context, problem string) (string, error) {
	resp, err := t.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(t.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(titlePrompt),
			openai.UserMessage(clipProblem(problem)),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choice content")
	}
	return cleanTitle(resp.Choices[0].Message.Content), nil
}

// clipProblem bounds what we send for titling; the first part of the
// problem statement is enough signal.
func clipProblem(s string) string {
	const max = 2000
	if len(s) > max {
		return s[:max]
	}
	return s
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return s
}
