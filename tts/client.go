package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"persona_back/cache"
	"persona_back/storage"

	"github.com/redis/go-redis/v9"
)

const (
	defaultBaseURL      = "https://api.elevenlabs.io"
	defaultModelID      = "eleven_multilingual_v2"
	defaultOutputFormat = "mp3_44100_128"

	// Provider-side hard limit on a single synthesis request.
	maxTextChars = 5000

	voicesCacheTTL = 24 * time.Hour
)

var (
	ErrDisabled     = errors.New("tts: service disabled")
	ErrEmptyText    = errors.New("tts: text cannot be empty")
	ErrTextTooLong  = fmt.Errorf("tts: text exceeds %d characters", maxTextChars)
	ErrUnknownVoice = errors.New("tts: unknown voice id")
)

// Client wraps the ElevenLabs HTTP API: voice catalog and non-streaming
// text-to-speech. Synthesized audio is written to the media store so the
// asset-upload step can read it back by filename.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	modelID      string
	outputFormat string
	store        *storage.MediaStore
	redis        *redis.Client
}

// NewClientFromEnv constructs a Client using environment variables.
//
// Expected variables:
//   - ELEVENLABS_API_KEY: required; the client is disabled without it
//   - ELEVENLABS_BASE_URL: optional override (defaults to defaultBaseURL)
//   - ELEVENLABS_MODEL_ID: optional model override
//   - ELEVENLABS_OUTPUT_FORMAT: optional output format override
func NewClientFromEnv(store *storage.MediaStore) (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("ELEVENLABS_BASE_URL"))
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("tts: invalid base URL %q", baseURL)
	}

	modelID := strings.TrimSpace(os.Getenv("ELEVENLABS_MODEL_ID"))
	if modelID == "" {
		modelID = defaultModelID
	}

	outputFormat := strings.TrimSpace(os.Getenv("ELEVENLABS_OUTPUT_FORMAT"))
	if outputFormat == "" {
		outputFormat = defaultOutputFormat
	}

	redisClient, err := cache.Client()
	if err != nil {
		log.Printf("tts: voice catalog cache unavailable: %v", err)
	}

	return &Client{
		httpClient:   &http.Client{Timeout: 45 * time.Second},
		baseURL:      baseURL,
		apiKey:       strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")),
		modelID:      modelID,
		outputFormat: outputFormat,
		store:        store,
		redis:        redisClient,
	}, nil
}

func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// voiceListResponse mirrors the subset of the provider voices payload we
// consume. Labels carry language and gender as free-form tags.
type voiceListResponse struct {
	Voices []struct {
		VoiceID    string            `json:"voice_id"`
		Name       string            `json:"name"`
		Labels     map[string]string `json:"labels"`
		PreviewURL string            `json:"preview_url"`
	} `json:"voices"`
}

// Voices returns the provider voice catalog, cached in Redis under a
// same-day key so the list is fetched at most once per day.
func (c *Client) Voices(ctx context.Context) ([]Voice, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	cacheKey := cache.DayKey("tts:voices")
	if c.redis != nil {
		if data, err := c.redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached []Voice
			if err := json.Unmarshal(data, &cached); err == nil && len(cached) > 0 {
				return cached, nil
			}
		}
	}

	endpoint := c.baseURL + "/v1/voices"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("tts: create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("tts: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var decoded voiceListResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("tts: decode response: %w", err)
	}

	voices := make([]Voice, 0, len(decoded.Voices))
	for _, raw := range decoded.Voices {
		id := strings.TrimSpace(raw.VoiceID)
		if id == "" {
			continue
		}
		voice := Voice{
			ID:         id,
			Name:       raw.Name,
			PreviewURL: raw.PreviewURL,
		}
		if raw.Labels != nil {
			voice.Language = firstNonEmpty(raw.Labels["language"], raw.Labels["accent"])
			voice.Gender = raw.Labels["gender"]
		}
		if voice.Language == "" {
			voice.Language = "en"
		}
		voices = append(voices, voice)
	}

	if c.redis != nil && len(voices) > 0 {
		if payload, err := json.Marshal(voices); err == nil {
			if err := c.redis.Set(ctx, cacheKey, payload, voicesCacheTTL).Err(); err != nil {
				log.Printf("tts: store voice catalog cache failed: %v", err)
			}
		}
	}

	return voices, nil
}

type synthesisRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize renders the given text with the given voice and stores the
// resulting audio as audio-<unix-millis>.<ext> in the media store.
func (c *Client) Synthesize(ctx context.Context, voiceID, text string) (*SpeechResult, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		return nil, errors.New("tts: voice id cannot be empty")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if utf8.RuneCountInString(text) > maxTextChars {
		return nil, ErrTextTooLong
	}
	if err := c.validateVoice(ctx, voiceID); err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(synthesisRequest{Text: text, ModelID: c.modelID}); err != nil {
		return nil, fmt.Errorf("tts: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		c.baseURL, url.PathEscape(voiceID), url.QueryEscape(c.outputFormat))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("tts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("tts: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, storage.MaxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("tts: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("tts: provider returned empty audio")
	}
	if int64(len(audio)) > storage.MaxMediaBytes {
		return nil, fmt.Errorf("tts: audio exceeds %d bytes", storage.MaxMediaBytes)
	}

	mime := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if mime == "" {
		mime = "audio/mpeg"
	}

	filename := fmt.Sprintf("audio-%d%s", time.Now().UnixMilli(), extensionForMime(mime))
	if err := c.store.Put(ctx, filename, audio, mime); err != nil {
		return nil, fmt.Errorf("tts: store audio: %w", err)
	}

	return &SpeechResult{Filename: filename, MimeType: mime}, nil
}

// validateVoice checks the voice id against the provider catalog. When
// the catalog cannot be fetched the check is skipped and synthesis
// relies on the provider rejecting unknown voices.
func (c *Client) validateVoice(ctx context.Context, voiceID string) error {
	voices, err := c.Voices(ctx)
	if err != nil {
		return nil
	}
	for _, voice := range voices {
		if voice.ID == voiceID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownVoice, voiceID)
}

func extensionForMime(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".mp3"
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
