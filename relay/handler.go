package relay

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const maxRelayBodyBytes = 10 * 1024 * 1024

// hopByHopHeaders are stripped before forwarding; they describe the
// connection between the caller and the relay, not the upstream call.
var hopByHopHeaders = map[string]struct{}{
	"Connection":        {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
	"Host":              {},
	"Content-Length":    {},
}

type Module struct {
	accessToken string
	httpClient  *http.Client
}

// RegisterRoutes mounts the outbound proxy endpoint. The endpoint is
// registered even when RELAY_ACCESS_TOKEN is unset; every request is
// rejected until a token is configured.
func RegisterRoutes(router *gin.Engine) (*Module, error) {
	module := &Module{
		accessToken: strings.TrimSpace(os.Getenv("RELAY_ACCESS_TOKEN")),
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}

	router.POST("/proxy", module.handleProxy)

	return module, nil
}

type proxyRequest struct {
	URL     string            `json:"url" binding:"required"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

func (m *Module) authorized(c *gin.Context) bool {
	if m.accessToken == "" {
		return false
	}
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")) == m.accessToken
}

func (m *Module) handleProxy(c *gin.Context) {
	if !m.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}

	var req proxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request payload"})
		return
	}

	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "url must be absolute"})
		return
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != "" {
		body = bytes.NewReader([]byte(req.Body))
	}

	outbound, err := http.NewRequestWithContext(c.Request.Context(), method, req.URL, body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid url or method"})
		return
	}
	for key, value := range req.Headers {
		if _, skip := hopByHopHeaders[http.CanonicalHeaderKey(key)]; skip {
			continue
		}
		outbound.Header.Set(key, value)
	}

	resp, err := m.httpClient.Do(outbound)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "upstream request failed"})
		return
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "failed to read upstream response"})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(resp.StatusCode, contentType, payload)
}
