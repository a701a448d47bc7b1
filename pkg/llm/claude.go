package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// claudeProvider backs the "claude" model family with the Anthropic API.
type claudeProvider struct {
	client anthropic.Client
	model  anthropic.Model
}

// RegisterClaude installs the claude factory in the registry.
func RegisterClaude() {
	Register("claude", func(apiKey, baseURL string) (Provider, error) {
		if apiKey == "" {
			return nil, fmt.Errorf("claude: api key required")
		}
		opts := []option.RequestOption{option.WithAPIKey(apiKey)}
		if baseURL != "" {
			opts = append(opts, option.WithBaseURL(baseURL))
		}
		return &claudeProvider{
			client: anthropic.NewClient(opts...),
			model:  anthropic.Model("claude-3-5-haiku-latest"),
		}, nil
	})
}

func (p *claudeProvider) Name() string { return "claude" }

func (p *claudeProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return nil, err
	}
	if len(message.Content) == 0 {
		return nil, fmt.Errorf("claude: empty response")
	}
	block := message.Content[0]
	if block.Type != "text" {
		return nil, fmt.Errorf("claude: unexpected block type %s", block.Type)
	}
	return &Response{
		Content: block.Text,
		Model:   string(p.model),
		Tokens:  message.Usage.InputTokens + message.Usage.OutputTokens,
	}, nil
}
