// Package anthropic implements provider.Provider on the official
// anthropic-sdk-go client with a single non-streaming Messages call per turn.
package anthropic

import (
	"context"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/ragbase/kbchat/pkg/provider"
)

const defaultMaxTokens = 1024

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
}

type Provider struct {
	model     string
	maxTokens int
	client    sdk.Client
}

var _ provider.Provider = &Provider{}

func New(cfg Config) (*Provider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic provider: missing API key")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("anthropic provider: missing model")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
	}
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Provider{
		model:     model,
		maxTokens: maxTokens,
		client:    sdk.NewClient(opts...),
	}, nil
}

func (p *Provider) Answer(ctx context.Context, req provider.Request) (provider.Answer, error) {
	if p == nil {
		return provider.Answer{}, errors.New("anthropic provider: nil provider")
	}
	if strings.TrimSpace(req.Message) == "" {
		return provider.Answer{}, errors.New("anthropic provider: empty message")
	}

	messages := make([]sdk.MessageParam, 0, len(req.History)*2+1)
	for _, ex := range req.History {
		if strings.TrimSpace(ex.UserMessage) != "" {
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(ex.UserMessage)))
		}
		if strings.TrimSpace(ex.AgentResponse) != "" {
			messages = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(ex.AgentResponse)))
		}
	}
	messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(req.Message)))

	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		Messages:  messages,
	}
	system := strings.TrimSpace(req.SystemPrompt)
	if req.StoreName != "" {
		// The grounding hint travels in the system prompt; document retrieval
		// itself lives behind the provider API.
		system = strings.TrimSpace(system + "\n\nAnswer using the knowledge base: " + req.StoreName)
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return provider.Answer{}, errors.Wrap(err, "anthropic provider: messages.new")
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return provider.Answer{}, errors.New("anthropic provider: empty completion")
	}
	return provider.Answer{Text: text}, nil
}
