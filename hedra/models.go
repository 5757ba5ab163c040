package hedra

import "strings"

// Asset is a vendor-managed storage object (image, audio or video)
// identified by an opaque id. URL stays empty until the binary upload
// for the asset has been acknowledged.
type Asset struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// VideoInputs is the fixed render configuration attached to a
// generation request.
type VideoInputs struct {
	TextPrompt  string `json:"text_prompt"`
	Resolution  string `json:"resolution"`
	AspectRatio string `json:"aspect_ratio"`
}

// GenerationInput references one uploaded image asset and one uploaded
// audio asset plus the render options.
type GenerationInput struct {
	Type            string      `json:"type"`
	AIModelID       string      `json:"ai_model_id"`
	StartKeyframeID string      `json:"start_keyframe_id"`
	AudioID         string      `json:"audio_id"`
	VideoInputs     VideoInputs `json:"generated_video_inputs"`
}

// GenerationStatus is a single status read of a rendering job.
type GenerationStatus struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	URL     string `json:"url,omitempty"`
	AssetID string `json:"asset_id,omitempty"`
	Message string `json:"error_message,omitempty"`
}

const (
	StatusComplete = "complete"
	StatusError    = "error"
)

// Terminal reports whether the job has reached a final status. Anything
// that is neither complete nor error counts as still pending.
func (g GenerationStatus) Terminal() bool {
	switch strings.ToLower(strings.TrimSpace(g.Status)) {
	case StatusComplete, StatusError:
		return true
	default:
		return false
	}
}

// Failed reports whether the vendor explicitly marked the job failed.
func (g GenerationStatus) Failed() bool {
	return strings.EqualFold(strings.TrimSpace(g.Status), StatusError)
}
