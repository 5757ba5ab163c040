package tts

import "context"

// Voice describes one selectable synthesis voice from the provider
// catalog, reduced to the fields the character wizard consumes.
type Voice struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Language   string `json:"language"`
	Gender     string `json:"gender"`
	PreviewURL string `json:"preview_url"`
}

// SpeechResult references a synthesized audio binary held in the media
// store. The URL-bearing vendor asset is created later by the asset
// register/upload sequence.
type SpeechResult struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
}

// Synthesizer is the capability the workflow orchestrator depends on.
type Synthesizer interface {
	Enabled() bool
	Voices(ctx context.Context) ([]Voice, error)
	Synthesize(ctx context.Context, voiceID, text string) (*SpeechResult, error)
}
