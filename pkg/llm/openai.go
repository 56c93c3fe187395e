package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/majordome-ai/majordome/pkg/config"
)

// chatClient is the slice of the OpenAI SDK we call.
type chatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// openAIClient binds one OpenAI chat model.
type openAIClient struct {
	name   string
	chat   chatClient
	config *config.LLMProviderConfig
}

func newOpenAIClient(name string, cfg *config.LLMProviderConfig) (*openAIClient, error) {
	apiKey, err := resolveAPIKey(cfg, "OPENAI_API_KEY")
	if err != nil {
		return nil, fmt.Errorf("openai provider %s: %w", name, err)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := sdk.NewClient(opts...)

	return &openAIClient{name: name, chat: &client.Chat.Completions, config: cfg}, nil
}

func (c *openAIClient) Name() string { return c.name }

func (c *openAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.config.MaxOutputTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}

	var messages []sdk.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, sdk.SystemMessage(req.System))
	}
	messages = append(messages, sdk.UserMessage(req.User))

	params := sdk.ChatCompletionNewParams{
		Model:               shared.ChatModel(c.config.Model),
		Messages:            messages,
		MaxCompletionTokens: sdk.Int(int64(maxTokens)),
	}
	switch {
	case req.Temperature != nil:
		params.Temperature = sdk.Float(*req.Temperature)
	case c.config.Temperature != nil:
		params.Temperature = sdk.Float(*c.config.Temperature)
	}

	completion, err := c.chat.New(ctx, params)
	if err != nil {
		if isOpenAIRateLimit(err) {
			return Response{}, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return Response{}, fmt.Errorf("openai chat.completions.new: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Response{}, fmt.Errorf("openai returned no choices")
	}

	return Response{
		Text:       completion.Choices[0].Message.Content,
		Model:      completion.Model,
		TokensUsed: int(completion.Usage.TotalTokens),
	}, nil
}

func isOpenAIRateLimit(err error) bool {
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}
