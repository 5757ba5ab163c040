package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"persona_back/hedra"
	"persona_back/tts"
)

type fakeSynth struct {
	calls  int
	result *tts.SpeechResult
	err    error
}

func (f *fakeSynth) Synthesize(ctx context.Context, voiceID, text string) (*tts.SpeechResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &tts.SpeechResult{Filename: "audio-1.mp3", MimeType: "audio/mpeg"}, nil
}

type fakeAssets struct {
	registerCalls int
	uploadCalls   int
	submitCalls   int
	statusCalls   int

	registered  *hedra.Asset
	uploaded    *hedra.Asset
	registerErr error
	uploadErr   error

	jobID     string
	submitErr error

	statuses  []hedra.GenerationStatus
	statusErr error

	lastInput hedra.GenerationInput
}

func (f *fakeAssets) Register(ctx context.Context, assetType, name string) (*hedra.Asset, error) {
	f.registerCalls++
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	if f.registered != nil {
		return f.registered, nil
	}
	return &hedra.Asset{ID: "aud-100", Name: name, Type: assetType}, nil
}

func (f *fakeAssets) Upload(ctx context.Context, assetID, filename string) (*hedra.Asset, error) {
	f.uploadCalls++
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	if f.uploaded != nil {
		return f.uploaded, nil
	}
	return &hedra.Asset{ID: assetID, Name: filename, Type: "audio", URL: "https://cdn/" + filename}, nil
}

func (f *fakeAssets) SubmitGeneration(ctx context.Context, input hedra.GenerationInput) (string, error) {
	f.submitCalls++
	f.lastInput = input
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if f.jobID != "" {
		return f.jobID, nil
	}
	return "job-1", nil
}

func (f *fakeAssets) GenerationStatus(ctx context.Context, jobID string) (*hedra.GenerationStatus, error) {
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	idx := f.statusCalls - 1
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	status := f.statuses[idx]
	return &status, nil
}

func newTestOrchestrator(synth *fakeSynth, assets *fakeAssets) *Orchestrator {
	return NewOrchestrator(synth, assets, time.Millisecond, 3)
}

func TestGenerateSpeechVideoFullChain(t *testing.T) {
	synth := &fakeSynth{result: &tts.SpeechResult{Filename: "audio-42.mp3", MimeType: "audio/mpeg"}}
	assets := &fakeAssets{
		jobID: "job-7",
		statuses: []hedra.GenerationStatus{
			{ID: "job-7", Status: "queued"},
			{ID: "job-7", Status: "processing"},
			{ID: "job-7", Status: "complete", URL: "https://cdn/job-7.mp4", AssetID: "v1"},
		},
	}
	o := newTestOrchestrator(synth, assets)

	result, err := o.GenerateSpeechVideo(context.Background(), "voice-1", "hello there", "img-42")
	require.NoError(t, err)
	require.Equal(t, "https://cdn/job-7.mp4", result.VideoURL)
	require.Equal(t, "v1", result.VideoAssetID)
	require.Equal(t, "job-7", result.JobID)
	require.Equal(t, "aud-100", result.AudioAssetID)

	require.Equal(t, 1, synth.calls)
	require.Equal(t, 1, assets.registerCalls)
	require.Equal(t, 1, assets.uploadCalls)
	require.Equal(t, 1, assets.submitCalls)
	// Terminal status arrived on the third read; no fourth poll.
	require.Equal(t, 3, assets.statusCalls)

	require.Equal(t, "img-42", assets.lastInput.StartKeyframeID)
	require.Equal(t, "aud-100", assets.lastInput.AudioID)
	require.Equal(t, "video", assets.lastInput.Type)
	require.Equal(t, "540p", assets.lastInput.VideoInputs.Resolution)
	require.Equal(t, "9:16", assets.lastInput.VideoInputs.AspectRatio)
}

func TestGenerateSpeechVideoValidatesBeforeNetwork(t *testing.T) {
	cases := []struct {
		name    string
		voiceID string
		text    string
		imageID string
	}{
		{"missing voice", "", "hello", "img-1"},
		{"missing text", "voice-1", "   ", "img-1"},
		{"missing image", "voice-1", "hello", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			synth := &fakeSynth{}
			assets := &fakeAssets{statuses: []hedra.GenerationStatus{{Status: "complete"}}}
			o := newTestOrchestrator(synth, assets)

			_, err := o.GenerateSpeechVideo(context.Background(), tc.voiceID, tc.text, tc.imageID)
			require.ErrorIs(t, err, ErrValidation)
			require.Zero(t, synth.calls)
			require.Zero(t, assets.registerCalls)
			require.Zero(t, assets.submitCalls)
			require.Zero(t, assets.statusCalls)
		})
	}
}

func TestGenerateSpeechVideoSynthesisFailureWraps(t *testing.T) {
	boom := errors.New("provider unavailable")
	synth := &fakeSynth{err: boom}
	assets := &fakeAssets{}
	o := newTestOrchestrator(synth, assets)

	_, err := o.GenerateSpeechVideo(context.Background(), "voice-1", "hi", "img-1")
	require.ErrorIs(t, err, boom)

	var step *StepError
	require.ErrorAs(t, err, &step)
	require.Equal(t, StepSynthesize, step.Step)
	require.Zero(t, assets.registerCalls)
}

func TestGenerateSpeechVideoUploadWithoutURLFails(t *testing.T) {
	synth := &fakeSynth{}
	assets := &fakeAssets{
		uploaded: &hedra.Asset{ID: "aud-100", Name: "audio-1.mp3", Type: "audio"},
	}
	o := newTestOrchestrator(synth, assets)

	_, err := o.GenerateSpeechVideo(context.Background(), "voice-1", "hi", "img-1")
	require.Error(t, err)

	var step *StepError
	require.ErrorAs(t, err, &step)
	require.Equal(t, StepUploadAsset, step.Step)
	require.Zero(t, assets.submitCalls)
}

func TestAwaitGenerationErrorOnFirstPollFailsImmediately(t *testing.T) {
	assets := &fakeAssets{
		statuses: []hedra.GenerationStatus{
			{ID: "job-1", Status: "error", Message: "face not detected"},
		},
	}
	o := NewOrchestrator(&fakeSynth{}, assets, time.Hour, 10)

	start := time.Now()
	_, err := o.AwaitGeneration(context.Background(), "job-1")
	require.ErrorIs(t, err, ErrGenerationFailed)
	require.Contains(t, err.Error(), "face not detected")
	require.Equal(t, 1, assets.statusCalls)
	// A one-hour poll interval never elapsed, so failure was immediate.
	require.Less(t, time.Since(start), time.Second)
}

func TestAwaitGenerationTimesOutAfterBudget(t *testing.T) {
	assets := &fakeAssets{
		statuses: []hedra.GenerationStatus{{ID: "job-1", Status: "processing"}},
	}
	o := NewOrchestrator(&fakeSynth{}, assets, time.Millisecond, 4)

	_, err := o.AwaitGeneration(context.Background(), "job-1")
	require.ErrorIs(t, err, ErrPollTimeout)
	require.Equal(t, 4, assets.statusCalls)
}

func TestAwaitGenerationHonorsContextCancellation(t *testing.T) {
	assets := &fakeAssets{
		statuses: []hedra.GenerationStatus{{ID: "job-1", Status: "processing"}},
	}
	o := NewOrchestrator(&fakeSynth{}, assets, time.Hour, 10)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := o.AwaitGeneration(ctx, "job-1")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, assets.statusCalls)
}

func TestGenerateIdleVideoRequiresConfiguredAudioAsset(t *testing.T) {
	o := newTestOrchestrator(&fakeSynth{}, &fakeAssets{})

	_, err := o.GenerateIdleVideo(context.Background(), "img-1")
	require.ErrorIs(t, err, ErrValidation)
}

type mapIdleVideoCache struct {
	entries map[string]string
}

func newMapIdleVideoCache() *mapIdleVideoCache {
	return &mapIdleVideoCache{entries: make(map[string]string)}
}

func (c *mapIdleVideoCache) Get(ctx context.Context, key string) (string, error) {
	value, ok := c.entries[key]
	if !ok {
		return "", errors.New("cache miss")
	}
	return value, nil
}

func (c *mapIdleVideoCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.entries[key] = value
	return nil
}

func TestGenerateIdleVideoCacheHitReturnsPlayableURL(t *testing.T) {
	assets := &fakeAssets{}
	o := newTestOrchestrator(&fakeSynth{}, assets)
	o.idleAudioAssetID = "stock-noise"

	cache := newMapIdleVideoCache()
	cache.entries[idleVideoCacheKeyPrefix+"img-1"] = `{"asset_id":"idle-1","url":"https://cdn/idle-1.mp4"}`
	o.idleVideos = cache

	result, err := o.GenerateIdleVideo(context.Background(), "img-1")
	require.NoError(t, err)
	require.True(t, result.Cached)
	require.Equal(t, "idle-1", result.VideoAssetID)
	require.Equal(t, "https://cdn/idle-1.mp4", result.VideoURL)
	require.Zero(t, assets.submitCalls)
	require.Zero(t, assets.statusCalls)
}

func TestGenerateIdleVideoGeneratesOncePerPortrait(t *testing.T) {
	assets := &fakeAssets{
		jobID:    "job-9",
		statuses: []hedra.GenerationStatus{{ID: "job-9", Status: "complete", AssetID: "idle-1", URL: "https://cdn/idle-1.mp4"}},
	}
	o := newTestOrchestrator(&fakeSynth{}, assets)
	o.idleAudioAssetID = "stock-noise"
	o.idleVideos = newMapIdleVideoCache()

	first, err := o.GenerateIdleVideo(context.Background(), "img-1")
	require.NoError(t, err)
	require.False(t, first.Cached)
	require.Equal(t, 1, assets.submitCalls)

	second, err := o.GenerateIdleVideo(context.Background(), "img-1")
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, first.VideoAssetID, second.VideoAssetID)
	require.Equal(t, "https://cdn/idle-1.mp4", second.VideoURL)
	require.Equal(t, 1, assets.submitCalls)
}

func TestGenerateIdleVideoRegeneratesRecordWithoutURL(t *testing.T) {
	assets := &fakeAssets{
		jobID:    "job-9",
		statuses: []hedra.GenerationStatus{{ID: "job-9", Status: "complete", AssetID: "idle-2", URL: "https://cdn/idle-2.mp4"}},
	}
	o := newTestOrchestrator(&fakeSynth{}, assets)
	o.idleAudioAssetID = "stock-noise"

	cache := newMapIdleVideoCache()
	cache.entries[idleVideoCacheKeyPrefix+"img-1"] = "idle-legacy"
	o.idleVideos = cache

	result, err := o.GenerateIdleVideo(context.Background(), "img-1")
	require.NoError(t, err)
	require.False(t, result.Cached)
	require.Equal(t, "https://cdn/idle-2.mp4", result.VideoURL)
	require.Equal(t, 1, assets.submitCalls)
}

func TestGenerateIdleVideoUsesStockAudio(t *testing.T) {
	assets := &fakeAssets{
		jobID:    "job-9",
		statuses: []hedra.GenerationStatus{{ID: "job-9", Status: "complete", AssetID: "idle-1", URL: "https://cdn/idle.mp4"}},
	}
	o := newTestOrchestrator(&fakeSynth{}, assets)
	o.idleAudioAssetID = "stock-noise"

	result, err := o.GenerateIdleVideo(context.Background(), "img-1")
	require.NoError(t, err)
	require.False(t, result.Cached)
	require.Equal(t, "idle-1", result.VideoAssetID)
	require.Equal(t, "stock-noise", assets.lastInput.AudioID)
	require.Equal(t, "img-1", assets.lastInput.StartKeyframeID)
}

func TestStartRunReachesCompleteState(t *testing.T) {
	synth := &fakeSynth{}
	assets := &fakeAssets{
		jobID: "job-3",
		statuses: []hedra.GenerationStatus{
			{ID: "job-3", Status: "queued"},
			{ID: "job-3", Status: "complete", URL: "https://cdn/job-3.mp4", AssetID: "vid-3"},
		},
	}
	o := newTestOrchestrator(synth, assets)

	run, err := o.StartRun("voice-1", "hello", "img-1")
	require.NoError(t, err)
	require.Equal(t, StateSubmitted, run.State)

	require.Eventually(t, func() bool {
		current, ok := o.Runs().Get(run.ID)
		return ok && current.State == StateComplete
	}, 2*time.Second, 5*time.Millisecond)

	final, ok := o.Runs().Get(run.ID)
	require.True(t, ok)
	require.Equal(t, "https://cdn/job-3.mp4", final.VideoURL)
	require.Equal(t, "vid-3", final.VideoAssetID)
	require.Equal(t, "job-3", final.JobID)
}

func TestStartRunTimeoutYieldsTimeoutState(t *testing.T) {
	synth := &fakeSynth{}
	assets := &fakeAssets{
		statuses: []hedra.GenerationStatus{{Status: "processing"}},
	}
	o := NewOrchestrator(synth, assets, time.Millisecond, 2)

	run, err := o.StartRun("voice-1", "hello", "img-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, ok := o.Runs().Get(run.ID)
		return ok && current.State == StateTimeout
	}, 2*time.Second, 5*time.Millisecond)

	final, _ := o.Runs().Get(run.ID)
	require.Contains(t, final.Error, "after 2 attempts")
}

func TestStartRunRejectsInvalidInput(t *testing.T) {
	o := newTestOrchestrator(&fakeSynth{}, &fakeAssets{})

	_, err := o.StartRun("", "hello", "img-1")
	require.ErrorIs(t, err, ErrValidation)
}
