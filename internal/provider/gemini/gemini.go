// Package gemini implements the provider.Client contract against the
// native Gemini generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cardforge/cardforge/internal/provider"
)

const (
	providerName   = "gemini"
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	probeTimeout   = 5 * time.Second
)

type Config struct {
	APIKey      string
	Model       string
	BaseURL     string // overridable for tests
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate   `json:"candidates"`
	UsageMetadata geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
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
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
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

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.cfg.BaseURL, c.cfg.Model, c.cfg.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, provider.WrapError(provider.KindInvalidConfig, false, providerName, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, provider.ClassifyStatus(providerName, resp.StatusCode, string(respBody))
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return nil, provider.WrapError(provider.KindParseError, false, providerName, err)
	}
	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return nil, provider.NewError(provider.KindParseError, false, providerName, "invalid response format: missing candidates")
	}

	candidate := geminiResp.Candidates[0]
	finish := candidate.FinishReason
	if finish == "" {
		finish = "stop"
	}

	return &provider.Response{
		Content: candidate.Content.Parts[0].Text,
		Usage: provider.Usage{
			PromptTokens:     geminiResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      geminiResp.UsageMetadata.TotalTokenCount,
		},
		Model:        c.cfg.Model,
		FinishReason: finish,
		Provider:     providerName,
	}, nil
}

// mapRequest lifts the system message into systemInstruction; assistant
// turns map to the "model" role.
func (c *Client) mapRequest(messages []provider.Message) geminiRequest {
	var system *geminiContent
	var contents []geminiContent
	for _, m := range messages {
		if m.Role == provider.RoleSystem {
			system = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
			continue
		}
		role := "user"
		if m.Role == provider.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}
	return geminiRequest{
		SystemInstruction: system,
		Contents:          contents,
		GenerationConfig: generationConfig{
			MaxOutputTokens: c.cfg.MaxTokens,
			Temperature:     c.cfg.Temperature,
		},
	}
}

func (c *Client) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1beta/models?key=%s", c.cfg.BaseURL, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

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
