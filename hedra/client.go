package hedra

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
	"net/url"
	"os"
	"strings"
	"time"

	"persona_back/storage"
)

const (
	defaultBaseURL = "https://api.hedra.com/web-app/public"
	defaultModelID = "d1dd37a3-e39a-4854-a298-6510289f9cf2"
)

var (
	ErrDisabled = errors.New("hedra: service disabled")

	// ErrMalformedResponse flags a vendor payload that is missing a
	// required field. Shape violations are caught here at the boundary
	// instead of surfacing as empty ids downstream.
	ErrMalformedResponse = errors.New("hedra: malformed vendor response")
)

// Client wraps the Hedra asset and generation API. Binary payloads for
// asset uploads are read back from the media store by filename.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	modelID    string
	store      *storage.MediaStore
}

// NewClientFromEnv constructs a Client using environment variables.
//
// Expected variables:
//   - HEDRA_API_KEY: required; the client is disabled without it
//   - HEDRA_BASE_URL: optional override (defaults to defaultBaseURL)
//   - HEDRA_AI_MODEL_ID: optional render model override
func NewClientFromEnv(store *storage.MediaStore) (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("HEDRA_BASE_URL"))
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("hedra: invalid base URL %q", baseURL)
	}

	modelID := strings.TrimSpace(os.Getenv("HEDRA_AI_MODEL_ID"))
	if modelID == "" {
		modelID = defaultModelID
	}

	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(os.Getenv("HEDRA_API_KEY")),
		modelID:    modelID,
		store:      store,
	}, nil
}

func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// ModelID returns the render model attached to generation requests.
func (c *Client) ModelID() string {
	if c == nil {
		return ""
	}
	return c.modelID
}

// Register creates an empty placeholder asset of the declared media
// type. The returned id is the handle for the follow-up binary upload.
func (c *Client) Register(ctx context.Context, assetType, name string) (*Asset, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	assetType = strings.TrimSpace(assetType)
	name = strings.TrimSpace(name)
	if assetType == "" || name == "" {
		return nil, errors.New("hedra: asset type and name are required")
	}

	payload := map[string]string{"name": name, "type": assetType}
	var decoded Asset
	if err := c.postJSON(ctx, "/assets", payload, &decoded); err != nil {
		return nil, err
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return nil, fmt.Errorf("%w: asset id missing", ErrMalformedResponse)
	}
	return &decoded, nil
}

// uploadResponse mirrors the vendor upload acknowledgement, which nests
// the populated asset descriptor.
type uploadResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Asset *struct {
		URL string `json:"url"`
	} `json:"asset"`
}

// Upload transfers the binary for a previously registered asset. The
// payload is looked up in the media store under the given filename.
// Calling Upload twice for the same asset is not guarded; the vendor
// contract leaves that behavior unspecified.
func (c *Client) Upload(ctx context.Context, assetID, filename string) (*Asset, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	assetID = strings.TrimSpace(assetID)
	filename = strings.TrimSpace(filename)
	if assetID == "" || filename == "" {
		return nil, errors.New("hedra: asset id and filename are required")
	}

	data, contentType, err := c.store.Get(ctx, filename)
	if err != nil {
		return nil, fmt.Errorf("hedra: load upload payload: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("hedra: build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("hedra: build multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("hedra: build multipart body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/assets/%s/upload", c.baseURL, url.PathEscape(assetID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("hedra: create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hedra: execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp)
	}

	var decoded uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("hedra: decode response: %w", err)
	}
	if decoded.Asset == nil || strings.TrimSpace(decoded.Asset.URL) == "" {
		return nil, fmt.Errorf("%w: asset url missing after upload", ErrMalformedResponse)
	}

	asset := &Asset{ID: decoded.ID, Name: decoded.Name, Type: decoded.Type, URL: decoded.Asset.URL}
	if asset.ID == "" {
		asset.ID = assetID
	}
	return asset, nil
}

// assetListResponse mirrors the vendor asset query payload.
type assetListResponse []struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Asset *struct {
		URL string `json:"url"`
	} `json:"asset"`
}

// Get reads back a single asset descriptor by id and type.
func (c *Client) Get(ctx context.Context, assetID, assetType string) (*Asset, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	assetID = strings.TrimSpace(assetID)
	if assetID == "" {
		return nil, errors.New("hedra: asset id is required")
	}

	endpoint := fmt.Sprintf("%s/assets?type=%s&ids=%s",
		c.baseURL, url.QueryEscape(assetType), url.QueryEscape(assetID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("hedra: create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hedra: execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp)
	}

	var decoded assetListResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("hedra: decode response: %w", err)
	}
	if len(decoded) == 0 {
		return nil, fmt.Errorf("%w: asset %s not found", ErrMalformedResponse, assetID)
	}

	first := decoded[0]
	asset := &Asset{ID: first.ID, Name: first.Name, Type: first.Type}
	if first.Asset != nil {
		asset.URL = first.Asset.URL
	}
	return asset, nil
}

// SubmitGeneration requests a rendering job. Both asset ids must be
// present; validation happens before any network call.
func (c *Client) SubmitGeneration(ctx context.Context, input GenerationInput) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	if strings.TrimSpace(input.StartKeyframeID) == "" {
		return "", errors.New("hedra: start keyframe asset id is required")
	}
	if strings.TrimSpace(input.AudioID) == "" {
		return "", errors.New("hedra: audio asset id is required")
	}
	if strings.TrimSpace(input.Type) == "" {
		input.Type = "video"
	}
	if strings.TrimSpace(input.AIModelID) == "" {
		input.AIModelID = c.modelID
	}

	var decoded struct {
		ID string `json:"id"`
	}
	if err := c.postJSON(ctx, "/generations", input, &decoded); err != nil {
		return "", err
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return "", fmt.Errorf("%w: generation id missing", ErrMalformedResponse)
	}
	return decoded.ID, nil
}

// GenerationStatus performs a single status read for a rendering job.
func (c *Client) GenerationStatus(ctx context.Context, jobID string) (*GenerationStatus, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, errors.New("hedra: generation id is required")
	}

	endpoint := fmt.Sprintf("%s/generations/%s/status", c.baseURL, url.PathEscape(jobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("hedra: create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hedra: execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp)
	}

	var decoded GenerationStatus
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("hedra: decode response: %w", err)
	}
	if strings.TrimSpace(decoded.Status) == "" {
		return nil, fmt.Errorf("%w: generation status missing", ErrMalformedResponse)
	}
	if decoded.ID == "" {
		decoded.ID = jobID
	}
	return &decoded, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return fmt.Errorf("hedra: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("hedra: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hedra: execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("hedra: decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return fmt.Errorf("hedra: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
}
