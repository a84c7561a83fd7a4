package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"perps-control-plane/internal/database"
	"perps-control-plane/internal/logging"
)

const (
	llmTimeout     = 60 * time.Second
	llmTemperature = 0.7
	llmMaxTokens   = 2000

	systemPrompt = "You are a professional crypto trader. Respond with JSON only."

	anthropicVersion = "2023-06-01"
)

// LLMClient dispatches decision prompts to a provider's HTTP API based
// on its provider_type.
type LLMClient struct {
	httpClient *http.Client
	logger     *logging.Logger
}

// NewLLMClient creates an LLM HTTP client with the standard timeout.
func NewLLMClient(logger *logging.Logger) *LLMClient {
	return &LLMClient{
		httpClient: &http.Client{Timeout: llmTimeout},
		logger:     logger.WithComponent("llm_client"),
	}
}

// chatMessage is the OpenAI-style message shape.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Complete sends the prompt to the provider and returns the response
// text and total token usage when the provider reports it.
func (c *LLMClient) Complete(ctx context.Context, provider *database.Provider, modelName, userPrompt string) (string, int, error) {
	switch provider.ProviderType {
	case database.ProviderOpenAI, database.ProviderAzureOpenAI, database.ProviderDeepSeek:
		return c.completeChat(ctx, provider, modelName, userPrompt)
	case database.ProviderAnthropic:
		return c.completeAnthropic(ctx, provider, modelName, userPrompt)
	case database.ProviderGemini:
		return c.completeGemini(ctx, provider, modelName, userPrompt)
	default:
		return "", 0, fmt.Errorf("unsupported provider type: %s", provider.ProviderType)
	}
}

func (c *LLMClient) completeChat(ctx context.Context, provider *database.Provider, modelName, userPrompt string) (string, int, error) {
	reqBody := struct {
		Model       string        `json:"model"`
		Messages    []chatMessage `json:"messages"`
		Temperature float64       `json:"temperature"`
		MaxTokens   int           `json:"max_tokens"`
	}{
		Model: modelName,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: llmTemperature,
		MaxTokens:   llmMaxTokens,
	}

	headers := map[string]string{"Authorization": "Bearer " + provider.APIKey}
	if provider.ProviderType == database.ProviderAzureOpenAI {
		headers["api-key"] = provider.APIKey
	}

	body, err := c.post(ctx, baseURL(provider)+"/v1/chat/completions", headers, reqBody)
	if err != nil {
		return "", 0, err
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", 0, fmt.Errorf("error parsing chat response: %w", err)
	}
	if resp.Error != nil {
		return "", 0, fmt.Errorf("provider error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", 0, fmt.Errorf("provider returned no choices")
	}
	return resp.Choices[0].Message.Content, resp.Usage.TotalTokens, nil
}

func (c *LLMClient) completeAnthropic(ctx context.Context, provider *database.Provider, modelName, userPrompt string) (string, int, error) {
	reqBody := struct {
		Model       string        `json:"model"`
		MaxTokens   int           `json:"max_tokens"`
		Temperature float64       `json:"temperature"`
		System      string        `json:"system"`
		Messages    []chatMessage `json:"messages"`
	}{
		Model:       modelName,
		MaxTokens:   llmMaxTokens,
		Temperature: llmTemperature,
		System:      systemPrompt,
		Messages:    []chatMessage{{Role: "user", Content: userPrompt}},
	}

	headers := map[string]string{
		"x-api-key":         provider.APIKey,
		"anthropic-version": anthropicVersion,
	}

	body, err := c.post(ctx, baseURL(provider)+"/v1/messages", headers, reqBody)
	if err != nil {
		return "", 0, err
	}

	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", 0, fmt.Errorf("error parsing anthropic response: %w", err)
	}
	if resp.Error != nil {
		return "", 0, fmt.Errorf("provider error: %s", resp.Error.Message)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", 0, fmt.Errorf("provider returned no text content")
	}
	return text.String(), resp.Usage.InputTokens + resp.Usage.OutputTokens, nil
}

func (c *LLMClient) completeGemini(ctx context.Context, provider *database.Provider, modelName, userPrompt string) (string, int, error) {
	type geminiPart struct {
		Text string `json:"text"`
	}
	type geminiContent struct {
		Parts []geminiPart `json:"parts"`
	}
	reqBody := struct {
		Contents         []geminiContent `json:"contents"`
		GenerationConfig struct {
			Temperature     float64 `json:"temperature"`
			MaxOutputTokens int     `json:"maxOutputTokens"`
		} `json:"generationConfig"`
	}{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: systemPrompt + "\n\n" + userPrompt}}}},
	}
	reqBody.GenerationConfig.Temperature = llmTemperature
	reqBody.GenerationConfig.MaxOutputTokens = llmMaxTokens

	url := fmt.Sprintf("%s/v1/%s:generateContent?key=%s", baseURL(provider), modelName, provider.APIKey)

	body, err := c.post(ctx, url, nil, reqBody)
	if err != nil {
		return "", 0, err
	}

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			TotalTokenCount int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", 0, fmt.Errorf("error parsing gemini response: %w", err)
	}
	if resp.Error != nil {
		return "", 0, fmt.Errorf("provider error: %s", resp.Error.Message)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", 0, fmt.Errorf("provider returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), resp.UsageMetadata.TotalTokenCount, nil
}

func (c *LLMClient) post(ctx context.Context, url string, headers map[string]string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("error encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading provider response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, truncate(string(body), 500))
	}
	return body, nil
}

func baseURL(provider *database.Provider) string {
	return strings.TrimRight(provider.APIURL, "/")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
