// Package openai wraps the official OpenAI SDK behind the provider.Client
// contract. Generic OpenAI-compatible endpoints should use openaicompat
// instead; this client is for the first-party API.
package openai

import (
	"context"
	"errors"
	"net/http"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/cardforge/cardforge/internal/provider"
)

const (
	providerName = "openai"
	modelsURL    = "https://api.openai.com/v1/models"
	probeTimeout = 5 * time.Second
)

type Config struct {
	APIKey      string
	Model       string
	BaseURL     string // optional override, e.g. an Azure deployment
	Temperature float64
	MaxTokens   int
}

type Client struct {
	cfg    Config
	client sdk.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, provider.NewError(provider.KindInvalidConfig, false, providerName, "missing required config: api key")
	}
	if cfg.Model == "" {
		return nil, provider.NewError(provider.KindInvalidConfig, false, providerName, "missing required config: model")
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}

	// Retries belong to the dispatch router, not the SDK.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{cfg: cfg, client: sdk.NewClient(opts...)}, nil
}

func (c *Client) Name() string {
	return providerName
}

func (c *Client) GenerateCompletion(ctx context.Context, messages []provider.Message) (*provider.Response, error) {
	msgs := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case provider.RoleSystem:
			msgs = append(msgs, sdk.SystemMessage(m.Content))
		case provider.RoleAssistant:
			msgs = append(msgs, sdk.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, sdk.UserMessage(m.Content))
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, sdk.ChatCompletionNewParams{
		Model:               sdk.ChatModel(c.cfg.Model),
		Messages:            msgs,
		Temperature:         sdk.Float(c.cfg.Temperature),
		MaxCompletionTokens: sdk.Int(int64(c.cfg.MaxTokens)),
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, provider.NewError(provider.KindParseError, false, providerName, "invalid response format: missing choices")
	}

	choice := resp.Choices[0]
	finish := string(choice.FinishReason)
	if finish == "" {
		finish = "stop"
	}

	return &provider.Response{
		Content: choice.Message.Content,
		Usage: provider.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		Model:        resp.Model,
		FinishReason: finish,
		Provider:     providerName,
	}, nil
}

// IsAvailable checks the models listing endpoint directly rather than
// through the SDK so a broken key still reads as unavailable quickly.
func (c *Client) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	url := modelsURL
	if c.cfg.BaseURL != "" {
		url = c.cfg.BaseURL + "/models"
	}
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed
}

func classify(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		return provider.ClassifyStatus(providerName, apierr.StatusCode, apierr.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.WrapError(provider.KindTimeout, true, providerName, err)
	}
	return provider.WrapError(provider.KindNetworkError, true, providerName, err)
}
