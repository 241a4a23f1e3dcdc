// Package llm wraps the text-generation backends used by the relevance and
// synthesis stages.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"

	"github.com/TobiSchelling/feedcurator/internal/config"
)

// ErrNotConfigured is returned when the selected provider has no credential
// or endpoint. Stages treat it as fatal at startup.
var ErrNotConfigured = errors.New("llm provider not configured")

// Request is one generation call.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
	Name() string
}

const defaultTimeout = 120 * time.Second

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	Model       string
	BaseURL     string
	Temperature float64
	client      *http.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string, temperature float64, timeout time.Duration) *OllamaProvider {
	return &OllamaProvider{
		Model:       model,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Temperature: temperature,
		client:      &http.Client{Timeout: timeout},
	}
}

func (o *OllamaProvider) Name() string { return "ollama/" + o.Model }

// Generate sends a chat request to Ollama and returns the response.
func (o *OllamaProvider) Generate(ctx context.Context, r Request) (string, error) {
	body := map[string]any{
		"model":    o.Model,
		"messages": messages(r),
		"stream":   false,
		"options": map[string]any{
			"num_predict": r.MaxTokens,
			"temperature": o.Temperature,
		},
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := postJSON(ctx, o.client, o.BaseURL+"/api/chat", nil, body, &result); err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	return result.Message.Content, nil
}

// OpenAIProvider is an OpenAI-compatible chat completions provider.
type OpenAIProvider struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	client      *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(model, apiKey string, temperature float64, timeout time.Duration) *OpenAIProvider {
	return &OpenAIProvider{
		Model:       model,
		APIKey:      apiKey,
		BaseURL:     "https://api.openai.com/v1",
		Temperature: temperature,
		client:      &http.Client{Timeout: timeout},
	}
}

func (o *OpenAIProvider) Name() string { return "openai/" + o.Model }

// Generate sends a chat completion request and returns the first choice.
func (o *OpenAIProvider) Generate(ctx context.Context, r Request) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("openai: %w", ErrNotConfigured)
	}
	body := map[string]any{
		"model":       o.Model,
		"messages":    messages(r),
		"max_tokens":  r.MaxTokens,
		"temperature": o.Temperature,
	}
	headers := map[string]string{"Authorization": "Bearer " + o.APIKey}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := postJSON(ctx, o.client, o.BaseURL+"/chat/completions", headers, body, &result); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI response")
	}
	return result.Choices[0].Message.Content, nil
}

// AnthropicProvider calls the Anthropic messages API through llmkit.
type AnthropicProvider struct {
	Model       string
	APIKey      string
	Temperature float64
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(model, apiKey string, temperature float64) *AnthropicProvider {
	return &AnthropicProvider{Model: model, APIKey: apiKey, Temperature: temperature}
}

func (a *AnthropicProvider) Name() string { return "anthropic/" + a.Model }

// Generate sends one prompt and returns the first text block. llmkit has no
// context parameter, so cancellation abandons the call rather than aborting it.
func (a *AnthropicProvider) Generate(ctx context.Context, r Request) (string, error) {
	if a.APIKey == "" {
		return "", fmt.Errorf("anthropic: %w", ErrNotConfigured)
	}
	settings := types.RequestSettings{
		Model:       a.Model,
		MaxTokens:   r.MaxTokens,
		Temperature: a.Temperature,
	}

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		response, err := anthropic.PromptWithSettings(r.System, r.Prompt, "", a.APIKey, settings)
		if err != nil {
			done <- reply{err: err}
			return
		}
		if len(response.Content) == 0 {
			done <- reply{err: errors.New("no content in response")}
			return
		}
		done <- reply{text: response.Content[0].Text}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case out := <-done:
		if out.err != nil {
			return "", fmt.Errorf("anthropic: %w", out.err)
		}
		return out.text, nil
	}
}

// New builds the provider selected in cfg. model overrides the provider's
// configured model when non-empty, so stages can use different models.
func New(cfg config.LLM, model string, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	pick := func(fallback string) string {
		if model != "" {
			return model
		}
		return fallback
	}

	var p Provider
	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		if cfg.OllamaURL == "" {
			return nil, fmt.Errorf("ollama_url is empty: %w", ErrNotConfigured)
		}
		p = NewOllamaProvider(pick(cfg.OllamaModel), cfg.OllamaURL, cfg.Temperature, timeout)
	case "openai", "":
		key := os.Getenv(cfg.OpenAIAPIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("%s is not set: %w", cfg.OpenAIAPIKeyEnv, ErrNotConfigured)
		}
		p = NewOpenAIProvider(pick(cfg.OpenAIModel), key, cfg.Temperature, timeout)
	case "anthropic":
		key := os.Getenv(cfg.AnthropicAPIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("%s is not set: %w", cfg.AnthropicAPIKeyEnv, ErrNotConfigured)
		}
		p = NewAnthropicProvider(pick(cfg.AnthropicModel), key, cfg.Temperature)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	logger.Debug("llm provider ready", "provider", p.Name())
	return p, nil
}

func messages(r Request) []map[string]string {
	var msgs []map[string]string
	if r.System != "" {
		msgs = append(msgs, map[string]string{"role": "system", "content": r.System})
	}
	return append(msgs, map[string]string{"role": "user", "content": r.Prompt})
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
