// Package openaicompat implements the generic OpenAI-compatible chat
// completion client. It speaks to anything exposing the /chat/completions
// shape: Ollama, LM Studio, OpenRouter, or OpenAI itself.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cardforge/cardforge/internal/provider"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 2000
	defaultTimeout     = 60 * time.Second
	probeTimeout       = 5 * time.Second
)

type Config struct {
	Name        string // registry name, e.g. "ollama"
	Endpoint    string // full chat completions URL
	Model       string
	APIKey      string // optional; local backends run without one
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

type chatRequest struct {
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
}

type chatResponse struct {
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Message      *provider.Message `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// New validates the config and returns a client. Endpoint and model are
// required; a missing one is an invalid_config error.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, provider.NewError(provider.KindInvalidConfig, false, cfg.Name, "missing required config: endpoint")
	}
	if cfg.Model == "" {
		return nil, provider.NewError(provider.KindInvalidConfig, false, cfg.Name, "missing required config: model")
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) Name() string {
	return c.cfg.Name
}

func (c *Client) GenerateCompletion(ctx context.Context, messages []provider.Message) (*provider.Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return nil, provider.WrapError(provider.KindAPIError, false, c.cfg.Name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, provider.WrapError(provider.KindInvalidConfig, false, c.cfg.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(c.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, provider.ClassifyStatus(c.cfg.Name, resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, provider.WrapError(provider.KindParseError, false, c.cfg.Name, err)
	}
	return c.normalize(chatResp)
}

func (c *Client) normalize(resp chatResponse) (*provider.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, provider.NewError(provider.KindParseError, false, c.cfg.Name, "invalid response format: missing choices")
	}
	choice := resp.Choices[0]
	if choice.Message == nil {
		return nil, provider.NewError(provider.KindParseError, false, c.cfg.Name, "invalid response format: missing message")
	}

	model := resp.Model
	if model == "" {
		model = c.cfg.Model
	}
	finish := choice.FinishReason
	if finish == "" {
		finish = "stop"
	}

	return &provider.Response{
		Content: choice.Message.Content,
		Usage: provider.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Model:        model,
		FinishReason: finish,
		Provider:     c.cfg.Name,
	}, nil
}

// IsAvailable probes the models listing endpoint derived from the chat
// endpoint. 200, 404 and 405 all count as reachable: some local backends
// do not implement /models at all.
func (c *Client) IsAvailable(ctx context.Context) bool {
	probeURL := strings.TrimSuffix(c.cfg.Endpoint, "/chat/completions") + "/models"

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, probeURL, nil)
	if err != nil {
		return false
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNotFound, http.StatusMethodNotAllowed:
		return true
	default:
		return false
	}
}

func classifyTransport(name string, err error) *provider.Error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return provider.WrapError(provider.KindTimeout, true, name, fmt.Errorf("request timeout: %w", err))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.WrapError(provider.KindTimeout, true, name, err)
	}
	return provider.WrapError(provider.KindNetworkError, true, name, err)
}
