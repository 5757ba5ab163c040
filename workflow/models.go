package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"persona_back/hedra"
	"persona_back/tts"
)

// RunState is the lifecycle of one generation run. A run starts
// SUBMITTED, moves to PENDING once the rendering job is queued with the
// vendor, and ends in exactly one terminal state. Terminal states are
// never left.
type RunState string

const (
	StateSubmitted RunState = "submitted"
	StatePending   RunState = "pending"
	StateComplete  RunState = "complete"
	StateError     RunState = "error"
	StateTimeout   RunState = "timeout"
)

// Terminal reports whether the state admits no further transitions.
func (s RunState) Terminal() bool {
	switch s {
	case StateComplete, StateError, StateTimeout:
		return true
	default:
		return false
	}
}

// canTransition encodes the legal edges of the run state machine.
func (s RunState) canTransition(next RunState) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StateSubmitted:
		return next == StatePending || next.Terminal()
	case StatePending:
		return next == StatePending || next.Terminal()
	default:
		return false
	}
}

// Workflow step names, surfaced in run snapshots and progress events.
const (
	StepSynthesize    = "synthesize_audio"
	StepRegisterAsset = "register_asset"
	StepUploadAsset   = "upload_asset"
	StepSubmitJob     = "submit_generation"
	StepPoll          = "poll_generation"
	StepDone          = "done"
)

// Run tracks one animation workflow instance. Runs are independent;
// there is no shared mutable state between them beyond the store map.
type Run struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	State        RunState  `json:"state"`
	Step         string    `json:"step"`
	VoiceID      string    `json:"voice_id,omitempty"`
	Text         string    `json:"text,omitempty"`
	ImageAssetID string    `json:"image_asset_id"`
	AudioAssetID string    `json:"audio_asset_id,omitempty"`
	JobID        string    `json:"job_id,omitempty"`
	VideoURL     string    `json:"video_url,omitempty"`
	VideoAssetID string    `json:"video_asset_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Event is one progress notification for a run.
type Event struct {
	RunID string    `json:"run_id"`
	State RunState  `json:"state"`
	Step  string    `json:"step"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// Result is the product of a completed generation chain.
type Result struct {
	VideoURL     string `json:"video_url"`
	VideoAssetID string `json:"video_asset_id"`
	JobID        string `json:"job_id,omitempty"`
	AudioAssetID string `json:"audio_asset_id,omitempty"`
	Cached       bool   `json:"cached,omitempty"`
}

var (
	// ErrValidation marks input rejected before any network call.
	ErrValidation = errors.New("workflow: invalid input")

	// ErrPollTimeout is returned when a rendering job never reaches a
	// terminal status within the configured attempt budget. Distinct
	// from an upstream failure: the vendor job may still be running.
	ErrPollTimeout = errors.New("workflow: generation polling timed out")

	// ErrGenerationFailed is returned when the vendor reports the job
	// failed.
	ErrGenerationFailed = errors.New("workflow: generation failed")
)

// StepError tags a failure with the workflow step that produced it.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("workflow: %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepErr(step string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

// SpeechSynthesizer is the slice of the tts module the orchestrator
// needs.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, voiceID, text string) (*tts.SpeechResult, error)
}

// AssetService covers the vendor asset and generation operations the
// orchestrator chains together.
type AssetService interface {
	Register(ctx context.Context, assetType, name string) (*hedra.Asset, error)
	Upload(ctx context.Context, assetID, filename string) (*hedra.Asset, error)
	SubmitGeneration(ctx context.Context, input hedra.GenerationInput) (string, error)
	GenerationStatus(ctx context.Context, jobID string) (*hedra.GenerationStatus, error)
}
