package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/majordome-ai/majordome/pkg/config"
)

const defaultMaxOutputTokens = 4096

// messagesClient is the slice of the Anthropic SDK we call. Narrow so tests
// can stub it.
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// anthropicClient binds one Anthropic model.
type anthropicClient struct {
	name     string
	messages messagesClient
	config   *config.LLMProviderConfig
}

func newAnthropicClient(name string, cfg *config.LLMProviderConfig) (*anthropicClient, error) {
	apiKey, err := resolveAPIKey(cfg, "ANTHROPIC_API_KEY")
	if err != nil {
		return nil, fmt.Errorf("anthropic provider %s: %w", name, err)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := sdk.NewClient(opts...)

	return &anthropicClient{name: name, messages: &client.Messages, config: cfg}, nil
}

func (c *anthropicClient) Name() string { return c.name }

func (c *anthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.config.MaxOutputTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.config.Model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.User)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	switch {
	case req.Temperature != nil:
		params.Temperature = sdk.Float(*req.Temperature)
	case c.config.Temperature != nil:
		params.Temperature = sdk.Float(*c.config.Temperature)
	}

	msg, err := c.messages.New(ctx, params)
	if err != nil {
		if isAnthropicRateLimit(err) {
			return Response{}, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return Response{}, fmt.Errorf("anthropic messages.new: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return Response{
		Text:       text.String(),
		Model:      string(msg.Model),
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}, nil
}

func isAnthropicRateLimit(err error) bool {
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}
