package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"vendora/internal/common/config"
)

// Provider adapts the client to a concrete model API wire format.
type Provider interface {
	Name() string
	NewRequest(ctx context.Context, cfg config.ModelConfig, req Request) (*http.Request, error)
	ParseResponse(body []byte) (string, error)
}

func providerFor(name string) (Provider, error) {
	switch name {
	case "gemini":
		return geminiProvider{}, nil
	case "openrouter":
		return openRouterProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", name)
	}
}

// ==========================
// Gemini
// ==========================

type geminiProvider struct{}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	SystemInstruct   *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (geminiProvider) Name() string { return "gemini" }

func (geminiProvider) NewRequest(ctx context.Context, cfg config.ModelConfig, req Request) (*http.Request, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: req.Prompt}},
		}},
		GenerationConfig: &geminiGenConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.System != "" {
		payload.SystemInstruct = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", cfg.BaseURL, cfg.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", cfg.APIKey)
	return httpReq, nil
}

func (geminiProvider) ParseResponse(body []byte) (string, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse model response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("model response contained no candidates")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

// ==========================
// OpenRouter
// ==========================

type openRouterProvider struct{}

type openRouterRequest struct {
	Model       string              `json:"model"`
	Messages    []openRouterMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterResponse struct {
	Choices []struct {
		Message openRouterMessage `json:"message"`
	} `json:"choices"`
}

func (openRouterProvider) Name() string { return "openrouter" }

func (openRouterProvider) NewRequest(ctx context.Context, cfg config.ModelConfig, req Request) (*http.Request, error) {
	messages := make([]openRouterMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openRouterMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openRouterMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(openRouterRequest{
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	return httpReq, nil
}

func (openRouterProvider) ParseResponse(body []byte) (string, error) {
	var resp openRouterResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse model response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model response contained no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
