package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"persona_back/storage"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *storage.MediaStore) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	t.Setenv("ELEVENLABS_API_KEY", "test-key")
	t.Setenv("ELEVENLABS_BASE_URL", server.URL)
	t.Setenv("MINIO_ENDPOINT", "")
	t.Setenv("UPLOAD_DIR", t.TempDir())

	store, err := storage.NewMediaStoreFromEnv()
	require.NoError(t, err)

	client, err := NewClientFromEnv(store)
	require.NoError(t, err)
	client.redis = nil
	return client, store
}

func TestVoicesMapsLabels(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/voices", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("xi-api-key"))
		_, _ = w.Write([]byte(`{"voices":[
			{"voice_id":"v1","name":"Rachel","labels":{"language":"en","gender":"female"},"preview_url":"https://cdn/v1.mp3"},
			{"voice_id":"v2","name":"Jiro","labels":{"accent":"japanese"}},
			{"voice_id":"","name":"broken"}
		]}`))
	}))

	voices, err := client.Voices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 2)

	require.Equal(t, "v1", voices[0].ID)
	require.Equal(t, "female", voices[0].Gender)
	require.Equal(t, "en", voices[0].Language)
	require.Equal(t, "https://cdn/v1.mp3", voices[0].PreviewURL)

	// Accent label backfills language; missing labels default to en.
	require.Equal(t, "japanese", voices[1].Language)
}

func TestVoicesDisabledWithoutKey(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	client.apiKey = ""

	_, err := client.Voices(context.Background())
	require.ErrorIs(t, err, ErrDisabled)
}

// catalogThen serves the voice catalog on /v1/voices and delegates
// everything else to the synthesis handler.
func catalogThen(synthesis http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/voices" {
			_, _ = w.Write([]byte(`{"voices":[{"voice_id":"v1","name":"Rachel"}]}`))
			return
		}
		synthesis(w, r)
	}
}

func TestSynthesizeStoresAudio(t *testing.T) {
	client, store := newTestClient(t, catalogThen(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/text-to-speech/v1", r.URL.Path)
		require.Equal(t, "mp3_44100_128", r.URL.Query().Get("output_format"))
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3-bytes"))
	}))

	result, err := client.Synthesize(context.Background(), "v1", "hello world")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(result.Filename, "audio-"))
	require.True(t, strings.HasSuffix(result.Filename, ".mp3"))
	require.Equal(t, "audio/mpeg", result.MimeType)

	data, contentType, err := store.Get(context.Background(), result.Filename)
	require.NoError(t, err)
	require.Equal(t, []byte("mp3-bytes"), data)
	require.Equal(t, "audio/mpeg", contentType)
}

func TestSynthesizeRejectsUnknownVoice(t *testing.T) {
	synthesisCalls := 0
	client, _ := newTestClient(t, catalogThen(func(w http.ResponseWriter, r *http.Request) {
		synthesisCalls++
	}))

	_, err := client.Synthesize(context.Background(), "v999", "hello")
	require.ErrorIs(t, err, ErrUnknownVoice)
	require.Zero(t, synthesisCalls)
}

func TestSynthesizeSkipsVoiceCheckWhenCatalogUnavailable(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/voices" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3-bytes"))
	}))

	result, err := client.Synthesize(context.Background(), "v999", "hello")
	require.NoError(t, err)
	require.NotEmpty(t, result.Filename)
}

func TestSynthesizeCountsCharactersNotBytes(t *testing.T) {
	client, _ := newTestClient(t, catalogThen(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3-bytes"))
	}))

	// Multi-byte text at exactly the character limit passes.
	_, err := client.Synthesize(context.Background(), "v1", strings.Repeat("é", maxTextChars))
	require.NoError(t, err)

	_, err = client.Synthesize(context.Background(), "v1", strings.Repeat("é", maxTextChars+1))
	require.ErrorIs(t, err, ErrTextTooLong)
}

func TestSynthesizeValidatesBeforeNetwork(t *testing.T) {
	requests := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))

	_, err := client.Synthesize(context.Background(), "v1", "   ")
	require.ErrorIs(t, err, ErrEmptyText)

	_, err = client.Synthesize(context.Background(), "v1", strings.Repeat("a", maxTextChars+1))
	require.ErrorIs(t, err, ErrTextTooLong)

	_, err = client.Synthesize(context.Background(), "", "hello")
	require.Error(t, err)

	require.Zero(t, requests)
}

func TestSynthesizeUpstreamFailureWraps(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":"rate limited"}`))
	}))

	_, err := client.Synthesize(context.Background(), "v1", "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate limited")
}

func TestSynthesizeRejectsEmptyAudio(t *testing.T) {
	client, _ := newTestClient(t, catalogThen(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
	}))

	_, err := client.Synthesize(context.Background(), "v1", "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty audio")
}
