// Package suggest provides the optional answer-suggestion capability behind
// exam.Suggester. The core runs fine without it; when configured, its output
// is stored as a fallback grading reference only.
package suggest

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/examgate/examgate/internal/exam"
)

// OpenAISuggester implements exam.Suggester using the OpenAI chat API.
// It also works against OpenAI-compatible endpoints via BaseURL.
type OpenAISuggester struct {
	client *openai.Client
	model  string
}

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

func NewOpenAISuggester(cfg Config) (*OpenAISuggester, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAISuggester{client: openai.NewClientWithConfig(c), model: model}, nil
}

func (s *OpenAISuggester) SuggestAnswer(ctx context.Context, question string, options []exam.Option) (string, error) {
	prompt := buildPrompt(question, options)
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   64,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("suggest answer: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("suggest answer: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

const systemPrompt = "You are an exam author's assistant. Answer the question as briefly as possible. " +
	"For multiple choice, reply with the single option key only. Do not explain."

func buildPrompt(question string, options []exam.Option) string {
	var b strings.Builder
	b.WriteString(question)
	if len(options) > 0 {
		b.WriteString("\nOptions:\n")
		for _, o := range options {
			fmt.Fprintf(&b, "%s) %s\n", o.Key, o.Text)
		}
	}
	return b.String()
}
