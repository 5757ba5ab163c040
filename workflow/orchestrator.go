package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"persona_back/cache"
	"persona_back/hedra"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPollInterval    = 5 * time.Second
	defaultMaxPollAttempts = 60

	defaultTextPrompt  = "Speak generally."
	defaultResolution  = "540p"
	defaultAspectRatio = "9:16"

	idleVideoCacheKeyPrefix = "workflow:idle_video:"
	idleVideoCacheTTL       = 30 * 24 * time.Hour

	runDeadline = 30 * time.Minute
)

// Orchestrator chains the dependent vendor calls of one "produce a
// talking character video" operation: synthesize audio, register and
// upload the audio asset, submit the rendering job, poll to a terminal
// status. Each step depends on the identifier produced by the previous
// one, so the chain is strictly sequential.
type Orchestrator struct {
	synth            SpeechSynthesizer
	assets           AssetService
	runs             *RunStore
	idleVideos       idleVideoCache
	pollInterval     time.Duration
	maxPollAttempts  int
	idleAudioAssetID string
	renderOptions    hedra.VideoInputs
}

// idleVideoCache is the slice of redis the orchestrator needs to keep
// one idle loop per portrait.
type idleVideoCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type redisIdleVideoCache struct {
	client *redis.Client
}

func (c redisIdleVideoCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func (c redisIdleVideoCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// idleVideoRecord is the cache payload: the vendor asset id plus the
// playable URL, so a cache hit carries everything the consumer needs.
type idleVideoRecord struct {
	AssetID string `json:"asset_id"`
	URL     string `json:"url"`
}

// NewOrchestratorFromEnv builds an Orchestrator on top of the given
// synthesizer and asset service.
//
// Optional variables:
//   - WORKFLOW_POLL_INTERVAL_SECONDS: delay between status polls (default 5)
//   - WORKFLOW_POLL_MAX_ATTEMPTS: poll budget before timing out (default 60)
//   - IDLE_AUDIO_ASSET_ID: stock background-noise audio asset used for
//     idle loops
//   - WORKFLOW_TEXT_PROMPT / WORKFLOW_RESOLUTION / WORKFLOW_ASPECT_RATIO:
//     render option overrides
func NewOrchestratorFromEnv(synth SpeechSynthesizer, assets AssetService) *Orchestrator {
	var idleVideos idleVideoCache
	if redisClient, err := cache.Client(); err != nil {
		log.Printf("workflow: idle video cache unavailable: %v", err)
	} else if redisClient != nil {
		idleVideos = redisIdleVideoCache{client: redisClient}
	}

	interval := defaultPollInterval
	if raw := strings.TrimSpace(os.Getenv("WORKFLOW_POLL_INTERVAL_SECONDS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			interval = time.Duration(parsed) * time.Second
		}
	}

	attempts := defaultMaxPollAttempts
	if raw := strings.TrimSpace(os.Getenv("WORKFLOW_POLL_MAX_ATTEMPTS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			attempts = parsed
		}
	}

	options := hedra.VideoInputs{
		TextPrompt:  defaultTextPrompt,
		Resolution:  defaultResolution,
		AspectRatio: defaultAspectRatio,
	}
	if v := strings.TrimSpace(os.Getenv("WORKFLOW_TEXT_PROMPT")); v != "" {
		options.TextPrompt = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKFLOW_RESOLUTION")); v != "" {
		options.Resolution = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKFLOW_ASPECT_RATIO")); v != "" {
		options.AspectRatio = v
	}

	return &Orchestrator{
		synth:            synth,
		assets:           assets,
		runs:             NewRunStore(),
		idleVideos:       idleVideos,
		pollInterval:     interval,
		maxPollAttempts:  attempts,
		idleAudioAssetID: strings.TrimSpace(os.Getenv("IDLE_AUDIO_ASSET_ID")),
		renderOptions:    options,
	}
}

// NewOrchestrator builds an orchestrator with explicit settings. Used
// by tests and by callers that do not want env-driven defaults.
func NewOrchestrator(synth SpeechSynthesizer, assets AssetService, pollInterval time.Duration, maxPollAttempts int) *Orchestrator {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if maxPollAttempts <= 0 {
		maxPollAttempts = defaultMaxPollAttempts
	}
	return &Orchestrator{
		synth:           synth,
		assets:          assets,
		runs:            NewRunStore(),
		pollInterval:    pollInterval,
		maxPollAttempts: maxPollAttempts,
		renderOptions: hedra.VideoInputs{
			TextPrompt:  defaultTextPrompt,
			Resolution:  defaultResolution,
			AspectRatio: defaultAspectRatio,
		},
	}
}

// Runs exposes the run store for the HTTP module.
func (o *Orchestrator) Runs() *RunStore {
	return o.runs
}

// GenerateSpeechVideo drives the full chain synchronously and returns
// the playable video URL. Inputs are validated before any network call.
func (o *Orchestrator) GenerateSpeechVideo(ctx context.Context, voiceID, text, imageAssetID string) (*Result, error) {
	if err := validateSpeechInput(voiceID, text, imageAssetID); err != nil {
		return nil, err
	}
	return o.runSpeechChain(ctx, voiceID, text, imageAssetID, nil)
}

// GenerateIdleVideo renders a silent looping video for the given
// portrait using the stock background-noise audio asset. The resulting
// video asset id is cached per portrait so the idle loop is generated
// at most once per image.
func (o *Orchestrator) GenerateIdleVideo(ctx context.Context, imageAssetID string) (*Result, error) {
	imageAssetID = strings.TrimSpace(imageAssetID)
	if imageAssetID == "" {
		return nil, fmt.Errorf("%w: image asset id is required", ErrValidation)
	}
	if o.idleAudioAssetID == "" {
		return nil, fmt.Errorf("%w: IDLE_AUDIO_ASSET_ID is not configured", ErrValidation)
	}

	cacheKey := idleVideoCacheKeyPrefix + imageAssetID
	if o.idleVideos != nil {
		if cached, err := o.idleVideos.Get(ctx, cacheKey); err == nil {
			var record idleVideoRecord
			// Records without a playable URL are regenerated.
			if err := json.Unmarshal([]byte(cached), &record); err == nil && record.URL != "" {
				return &Result{VideoAssetID: record.AssetID, VideoURL: record.URL, Cached: true}, nil
			}
		}
	}

	result, err := o.renderVideo(ctx, imageAssetID, o.idleAudioAssetID, nil)
	if err != nil {
		return nil, err
	}

	if o.idleVideos != nil && result.VideoURL != "" {
		payload, err := json.Marshal(idleVideoRecord{AssetID: result.VideoAssetID, URL: result.VideoURL})
		if err == nil {
			if err := o.idleVideos.Set(ctx, cacheKey, string(payload), idleVideoCacheTTL); err != nil {
				log.Printf("workflow: cache idle video failed: %v", err)
			}
		}
	}
	return result, nil
}

// StartRun validates the input, records a new run and executes the
// chain in the background. The run outlives the originating HTTP
// request; progress is observable through the run store.
func (o *Orchestrator) StartRun(voiceID, text, imageAssetID string) (*Run, error) {
	if err := validateSpeechInput(voiceID, text, imageAssetID); err != nil {
		return nil, err
	}

	run := o.runs.Create("speech", voiceID, text, imageAssetID)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), runDeadline)
		defer cancel()

		result, err := o.runSpeechChain(ctx, voiceID, text, imageAssetID, func(step string) {
			state := StateSubmitted
			if step == StepPoll {
				state = StatePending
			}
			o.runs.Advance(run.ID, state, step, nil)
		})
		if err != nil {
			state := StateError
			if errors.Is(err, ErrPollTimeout) {
				state = StateTimeout
			}
			o.runs.Advance(run.ID, state, "", func(r *Run) { r.Error = err.Error() })
			log.Printf("workflow: run %s failed: %v", run.ID, err)
			return
		}

		o.runs.Advance(run.ID, StateComplete, StepDone, func(r *Run) {
			r.VideoURL = result.VideoURL
			r.VideoAssetID = result.VideoAssetID
			r.JobID = result.JobID
			r.AudioAssetID = result.AudioAssetID
		})
	}()

	return run, nil
}

func validateSpeechInput(voiceID, text, imageAssetID string) error {
	if strings.TrimSpace(voiceID) == "" {
		return fmt.Errorf("%w: voice id is required", ErrValidation)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text is required", ErrValidation)
	}
	if strings.TrimSpace(imageAssetID) == "" {
		return fmt.Errorf("%w: image asset id is required", ErrValidation)
	}
	return nil
}

type progressFunc func(step string)

func (o *Orchestrator) runSpeechChain(ctx context.Context, voiceID, text, imageAssetID string, progress progressFunc) (*Result, error) {
	notify := func(step string) {
		if progress != nil {
			progress(step)
		}
	}

	notify(StepSynthesize)
	speech, err := o.synth.Synthesize(ctx, voiceID, text)
	if err != nil {
		return nil, stepErr(StepSynthesize, err)
	}

	notify(StepRegisterAsset)
	registered, err := o.assets.Register(ctx, "audio", speech.Filename)
	if err != nil {
		return nil, stepErr(StepRegisterAsset, err)
	}

	notify(StepUploadAsset)
	uploaded, err := o.assets.Upload(ctx, registered.ID, registered.Name)
	if err != nil {
		return nil, stepErr(StepUploadAsset, err)
	}
	if strings.TrimSpace(uploaded.URL) == "" {
		return nil, stepErr(StepUploadAsset, errors.New("uploaded asset has no url"))
	}

	result, err := o.renderVideo(ctx, imageAssetID, registered.ID, progress)
	if err != nil {
		return nil, err
	}
	result.AudioAssetID = registered.ID
	return result, nil
}

// renderVideo submits the generation job and polls it to a terminal
// status. Both asset ids must already exist vendor-side.
func (o *Orchestrator) renderVideo(ctx context.Context, imageAssetID, audioAssetID string, progress progressFunc) (*Result, error) {
	notify := func(step string) {
		if progress != nil {
			progress(step)
		}
	}

	notify(StepSubmitJob)
	jobID, err := o.assets.SubmitGeneration(ctx, hedra.GenerationInput{
		Type:            "video",
		StartKeyframeID: imageAssetID,
		AudioID:         audioAssetID,
		VideoInputs:     o.renderOptions,
	})
	if err != nil {
		return nil, stepErr(StepSubmitJob, err)
	}

	notify(StepPoll)
	status, err := o.AwaitGeneration(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &Result{
		VideoURL:     status.URL,
		VideoAssetID: status.AssetID,
		JobID:        jobID,
	}, nil
}

// AwaitGeneration polls the rendering job until it reaches a terminal
// status. The first read happens immediately; subsequent reads are
// spaced by the poll interval. The attempt budget bounds the loop: a
// job that never terminates yields ErrPollTimeout rather than hanging
// forever.
func (o *Orchestrator) AwaitGeneration(ctx context.Context, jobID string) (*hedra.GenerationStatus, error) {
	for attempt := 1; attempt <= o.maxPollAttempts; attempt++ {
		status, err := o.assets.GenerationStatus(ctx, jobID)
		if err != nil {
			return nil, stepErr(StepPoll, err)
		}

		if status.Failed() {
			message := strings.TrimSpace(status.Message)
			if message == "" {
				message = "vendor reported status error"
			}
			return nil, stepErr(StepPoll, fmt.Errorf("%w: %s", ErrGenerationFailed, message))
		}
		if status.Terminal() {
			return status, nil
		}

		if attempt == o.maxPollAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, stepErr(StepPoll, ctx.Err())
		case <-time.After(o.pollInterval):
		}
	}

	return nil, stepErr(StepPoll, fmt.Errorf("%w after %d attempts", ErrPollTimeout, o.maxPollAttempts))
}
