package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-sonnet-4-20250514"
	anthropicVersion        = "2023-06-01"
)

// AnthropicClient wraps the Anthropic messages API. Same passthrough
// contract as ChatClient, different auth headers and payload shape.
type AnthropicClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	modelID    string
}

// NewAnthropicClientFromEnv constructs an AnthropicClient using
// ANTHROPIC_API_KEY and optional ANTHROPIC_BASE_URL / ANTHROPIC_MODEL_ID.
func NewAnthropicClientFromEnv() (*AnthropicClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL"))
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("llm: invalid base URL %q", baseURL)
	}

	modelID := strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL_ID"))
	if modelID == "" {
		modelID = defaultAnthropicModel
	}

	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		modelID:    modelID,
	}, nil
}

func (c *AnthropicClient) Enabled() bool {
	return c != nil && c.apiKey != ""
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	System      string        `json:"system,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat sends the messages to the Anthropic messages endpoint. The
// system prompt travels in its own field rather than as a message.
func (c *AnthropicClient) Chat(ctx context.Context, model string, messages []ChatMessage, temperature float64, maxTokens int, system string) (*ChatResult, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	// Anthropic rejects system-role messages inside the turn list.
	turns := make([]ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if strings.EqualFold(strings.TrimSpace(msg.Role), "system") {
			if system == "" {
				system = msg.Content
			}
			continue
		}
		turns = append(turns, msg)
	}
	if len(turns) == 0 {
		return nil, errors.New("llm: messages cannot be empty")
	}

	if strings.TrimSpace(model) == "" {
		model = c.modelID
	}
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	payload := anthropicRequest{
		Model:       model,
		Messages:    turns,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		System:      system,
	}

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return nil, fmt.Errorf("llm: encode request: %w", err)
	}

	endpoint := c.baseURL + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("llm: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response: %w", err)
	}

	var decoded anthropicResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}

	content := ""
	for _, block := range decoded.Content {
		if block.Type == "text" {
			content = strings.TrimSpace(block.Text)
			break
		}
	}
	if content == "" {
		return nil, errors.New("llm: response contains no text content")
	}

	result := &ChatResult{Raw: raw, Content: content}
	if decoded.Usage != nil {
		result.Usage = &ChatUsage{
			PromptTokens:     decoded.Usage.InputTokens,
			CompletionTokens: decoded.Usage.OutputTokens,
			TotalTokens:      decoded.Usage.InputTokens + decoded.Usage.OutputTokens,
		}
	}
	return result, nil
}
