package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o"
	whisperModelID       = "whisper-1"

	defaultTemperature = 0.7
	defaultMaxTokens   = 1000
)

var ErrDisabled = errors.New("llm: service disabled")

// ChatClient wraps the HTTP calls to an OpenAI compatible chat
// completions API, plus Whisper transcription.
type ChatClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	modelID    string
}

// NewChatClientFromEnv constructs a ChatClient using environment variables.
//
// Expected variables:
//   - OPENAI_API_KEY: required; the client is disabled without it
//   - OPENAI_BASE_URL: optional override for the API base URL
//   - OPENAI_MODEL_ID: optional override for the default model
func NewChatClientFromEnv() (*ChatClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("llm: invalid base URL %q", baseURL)
	}

	modelID := strings.TrimSpace(os.Getenv("OPENAI_MODEL_ID"))
	if modelID == "" {
		modelID = defaultOpenAIModel
	}

	return &ChatClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		modelID:    modelID,
	}, nil
}

func (c *ChatClient) Enabled() bool {
	return c != nil && c.apiKey != ""
}

func (c *ChatClient) DefaultModel() string {
	if c == nil {
		return defaultOpenAIModel
	}
	return c.modelID
}

// chatCompletionRequest represents the request body sent to the model.
type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

// chatCompletionResponse captures the subset of fields we parse out of
// the otherwise verbatim passthrough payload.
type chatCompletionResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Usage *ChatUsage `json:"usage"`
}

// Chat sends the conversational messages to the provider and returns
// the raw completion payload along with the first assistant reply.
func (c *ChatClient) Chat(ctx context.Context, model string, messages []ChatMessage, temperature float64, maxTokens int) (*ChatResult, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	if len(messages) == 0 {
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

	payload := chatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      false,
	}

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return nil, fmt.Errorf("llm: encode request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

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

	var decoded chatCompletionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("llm: response contains no choices")
	}

	return &ChatResult{
		Raw:     raw,
		Content: strings.TrimSpace(decoded.Choices[0].Message.Content),
		Usage:   decoded.Usage,
	}, nil
}

// Transcribe sends the given audio bytes to the Whisper transcription
// endpoint and returns the recognized text.
func (c *ChatClient) Transcribe(ctx context.Context, audio []byte, filename, contentType string) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	if len(audio) == 0 {
		return "", errors.New("llm: audio payload cannot be empty")
	}
	if strings.TrimSpace(filename) == "" {
		filename = "audio.webm"
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = "audio/webm"
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("llm: build multipart body: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("llm: build multipart body: %w", err)
	}
	if err := writer.WriteField("model", whisperModelID); err != nil {
		return "", fmt.Errorf("llm: build multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("llm: build multipart body: %w", err)
	}

	endpoint := c.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("llm: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	return decoded.Text, nil
}
