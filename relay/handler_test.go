package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, token string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("RELAY_ACCESS_TOKEN", token)

	router := gin.New()
	_, err := RegisterRoutes(router)
	require.NoError(t, err)
	return router
}

func proxyCall(t *testing.T, router *gin.Engine, token string, payload proxyRequest) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/proxy", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestProxyForwardsRequest(t *testing.T) {
	var gotMethod, gotHeader, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Custom")
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		gotBody = buf.String()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(upstream.Close)

	router := newTestRouter(t, "secret")
	recorder := proxyCall(t, router, "secret", proxyRequest{
		URL:     upstream.URL,
		Method:  "post",
		Headers: map[string]string{"X-Custom": "yes"},
		Body:    `{"payload":1}`,
	})

	// Upstream status and body pass through verbatim.
	require.Equal(t, http.StatusTeapot, recorder.Code)
	require.Equal(t, `{"ok":true}`, recorder.Body.String())
	require.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, "yes", gotHeader)
	require.Equal(t, `{"payload":1}`, gotBody)
}

func TestProxyRejectsMissingToken(t *testing.T) {
	router := newTestRouter(t, "secret")

	recorder := proxyCall(t, router, "", proxyRequest{URL: "https://example.com"})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = proxyCall(t, router, "wrong", proxyRequest{URL: "https://example.com"})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestProxyDisabledWithoutConfiguredToken(t *testing.T) {
	router := newTestRouter(t, "")

	recorder := proxyCall(t, router, "anything", proxyRequest{URL: "https://example.com"})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestProxyRejectsRelativeURL(t *testing.T) {
	router := newTestRouter(t, "secret")

	recorder := proxyCall(t, router, "secret", proxyRequest{URL: "/internal/admin"})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, recorder.Body.String(), "absolute")
}

func TestProxyStripsHopByHopHeaders(t *testing.T) {
	var gotConnection string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConnection = r.Header.Get("X-Forwarded-Connection")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(upstream.Close)

	router := newTestRouter(t, "secret")
	recorder := proxyCall(t, router, "secret", proxyRequest{
		URL:     upstream.URL,
		Headers: map[string]string{"Connection": "close", "X-Forwarded-Connection": "kept"},
	})

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "kept", gotConnection)
}
