package tts

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"persona_back/storage"

	"github.com/gin-gonic/gin"
)

type Module struct {
	client *Client
}

// RegisterRoutes mounts the speech endpoints under /api/elevenlabs.
func RegisterRoutes(router *gin.Engine, store *storage.MediaStore) (*Module, error) {
	client, err := NewClientFromEnv(store)
	if err != nil {
		return nil, err
	}

	module := &Module{client: client}

	group := router.Group("/api/elevenlabs")
	group.GET("/voices", module.handleVoices)
	group.POST("/tts", module.handleSynthesize)

	return module, nil
}

func (m *Module) Enabled() bool {
	return m != nil && m.client != nil && m.client.Enabled()
}

func (m *Module) Voices(ctx context.Context) ([]Voice, error) {
	if m == nil || m.client == nil {
		return nil, ErrDisabled
	}
	return m.client.Voices(ctx)
}

func (m *Module) Synthesize(ctx context.Context, voiceID, text string) (*SpeechResult, error) {
	if m == nil || m.client == nil {
		return nil, ErrDisabled
	}
	return m.client.Synthesize(ctx, voiceID, text)
}

func (m *Module) handleVoices(c *gin.Context) {
	voices, err := m.Voices(c.Request.Context())
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, ErrDisabled) {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": voices})
}

type synthesizeRequest struct {
	VoiceID string `json:"voiceId" binding:"required"`
	Text    string `json:"text" binding:"required"`
}

func (m *Module) handleSynthesize(c *gin.Context) {
	var req synthesizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "voiceId and text are required"})
		return
	}

	result, err := m.Synthesize(c.Request.Context(), strings.TrimSpace(req.VoiceID), req.Text)
	if err != nil {
		switch {
		case errors.Is(err, ErrDisabled):
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "speech synthesis is not configured"})
		case errors.Is(err, ErrEmptyText), errors.Is(err, ErrTextTooLong), errors.Is(err, ErrUnknownVoice):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "filename": result.Filename})
}
