// Package claude implements the provider.Client contract against the
// native Anthropic messages API.
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cardforge/cardforge/internal/provider"
)

const (
	providerName     = "claude"
	defaultBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
	probeTimeout     = 5 * time.Second
)

type Config struct {
	APIKey    string
	Model     string
	BaseURL   string // overridable for tests
	MaxTokens int
	Timeout   time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content    []claudeContent `json:"content"`
	Model      string          `json:"model"`
	StopReason string          `json:"stop_reason"`
	Usage      claudeUsage     `json:"usage"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, provider.NewError(provider.KindInvalidConfig, false, providerName, "missing required config: api key")
	}
	if cfg.Model == "" {
		return nil, provider.NewError(provider.KindInvalidConfig, false, providerName, "missing required config: model")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) Name() string {
	return providerName
}

func (c *Client) GenerateCompletion(ctx context.Context, messages []provider.Message) (*provider.Response, error) {
	body, err := json.Marshal(c.mapRequest(messages))
	if err != nil {
		return nil, provider.WrapError(provider.KindAPIError, false, providerName, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, provider.WrapError(provider.KindInvalidConfig, false, providerName, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, provider.ClassifyStatus(providerName, resp.StatusCode, string(respBody))
	}

	var claudeResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return nil, provider.WrapError(provider.KindParseError, false, providerName, err)
	}
	if len(claudeResp.Content) == 0 {
		return nil, provider.NewError(provider.KindParseError, false, providerName, "invalid response format: missing content")
	}

	finish := claudeResp.StopReason
	if finish == "" {
		finish = "stop"
	}

	return &provider.Response{
		Content: claudeResp.Content[0].Text,
		Usage: provider.Usage{
			PromptTokens:     claudeResp.Usage.InputTokens,
			CompletionTokens: claudeResp.Usage.OutputTokens,
			TotalTokens:      claudeResp.Usage.InputTokens + claudeResp.Usage.OutputTokens,
		},
		Model:        claudeResp.Model,
		FinishReason: finish,
		Provider:     providerName,
	}, nil
}

// mapRequest lifts the system message into the dedicated field; everything
// that is not assistant becomes a user turn.
func (c *Client) mapRequest(messages []provider.Message) claudeRequest {
	var system string
	var msgs []claudeMessage
	for _, m := range messages {
		if m.Role == provider.RoleSystem {
			system = m.Content
			continue
		}
		role := provider.RoleUser
		if m.Role == provider.RoleAssistant {
			role = provider.RoleAssistant
		}
		msgs = append(msgs, claudeMessage{Role: role, Content: m.Content})
	}
	return claudeRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    system,
		Messages:  msgs,
	}
}

func (c *Client) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.cfg.BaseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed
}

func classifyTransport(err error) *provider.Error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return provider.WrapError(provider.KindTimeout, true, providerName, err)
	}
	return provider.WrapError(provider.KindNetworkError, true, providerName, err)
}
