package llm

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

const defaultSystemPrompt = "You are a helpful AI assistant focused on competitive intelligence. " +
	"You help analyze market trends, competitor activities, and provide strategic insights."

const maxTranscriptionBytes = 5 * 1024 * 1024

type Module struct {
	openai    *ChatClient
	anthropic *AnthropicClient
	sessions  *SessionStore
}

// RegisterRoutes mounts the chat passthrough endpoints and the session
// management endpoints.
func RegisterRoutes(router *gin.Engine) (*Module, error) {
	openaiClient, err := NewChatClientFromEnv()
	if err != nil {
		return nil, err
	}
	anthropicClient, err := NewAnthropicClientFromEnv()
	if err != nil {
		return nil, err
	}

	module := &Module{
		openai:    openaiClient,
		anthropic: anthropicClient,
		sessions:  NewSessionStore(),
	}

	openaiGroup := router.Group("/api/openai")
	openaiGroup.POST("/chat", module.handleOpenAIChat)
	openaiGroup.POST("/whisper", module.handleWhisper)

	anthropicGroup := router.Group("/api/anthropic")
	anthropicGroup.POST("/chat", module.handleAnthropicChat)

	sessionGroup := router.Group("/api/sessions")
	sessionGroup.POST("", module.handleCreateSession)
	sessionGroup.GET("/:id", module.handleGetSession)
	sessionGroup.DELETE("/:id", module.handleDeleteSession)

	return module, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system"`
	SessionID   string        `json:"session_id"`
}

// resolveMessages threads stored session history in front of the new
// turns when a session id is supplied.
func (m *Module) resolveMessages(req chatRequest) ([]ChatMessage, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		if len(req.Messages) == 0 {
			return nil, errors.New("messages are required")
		}
		return req.Messages, nil
	}

	history, err := m.sessions.History(req.SessionID)
	if err != nil {
		return nil, err
	}
	return append(history, req.Messages...), nil
}

// recordTurns appends the user turns and the assistant reply to the
// session, when one is in play.
func (m *Module) recordTurns(req chatRequest, reply string) {
	if strings.TrimSpace(req.SessionID) == "" {
		return
	}
	turns := append([]ChatMessage(nil), req.Messages...)
	turns = append(turns, ChatMessage{Role: "assistant", Content: reply})
	_ = m.sessions.Append(req.SessionID, turns...)
}

func (m *Module) handleOpenAIChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request payload"})
		return
	}
	if !m.openai.Enabled() {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "OpenAI API key not configured"})
		return
	}

	messages, err := m.resolveMessages(req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}

	result, err := m.openai.Chat(c.Request.Context(), req.Model, messages, req.Temperature, req.MaxTokens)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	m.recordTurns(req, result.Content)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": json.RawMessage(result.Raw)})
}

func (m *Module) handleAnthropicChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request payload"})
		return
	}
	if !m.anthropic.Enabled() {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Anthropic API key not configured"})
		return
	}

	messages, err := m.resolveMessages(req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}

	result, err := m.anthropic.Chat(c.Request.Context(), req.Model, messages, req.Temperature, req.MaxTokens, req.System)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	m.recordTurns(req, result.Content)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": json.RawMessage(result.Raw)})
}

func (m *Module) handleWhisper(c *gin.Context) {
	fileHeader, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "No audio file provided"})
		return
	}
	if !m.openai.Enabled() {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "OpenAI API key not configured"})
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "failed to read audio file"})
		return
	}
	defer src.Close()

	audio, err := io.ReadAll(io.LimitReader(src, maxTranscriptionBytes+1))
	if err != nil || len(audio) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "failed to read audio file"})
		return
	}
	if len(audio) > maxTranscriptionBytes {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "audio file too large"})
		return
	}

	text, err := m.openai.Transcribe(c.Request.Context(), audio, fileHeader.Filename, fileHeader.Header.Get("Content-Type"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "text": text})
}

type createSessionRequest struct {
	SystemPrompt string `json:"system_prompt"`
}

func (m *Module) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request payload"})
		return
	}

	prompt := strings.TrimSpace(req.SystemPrompt)
	if prompt == "" {
		prompt = strings.TrimSpace(os.Getenv("CHAT_SYSTEM_PROMPT"))
	}
	if prompt == "" {
		prompt = defaultSystemPrompt
	}

	session := m.sessions.Create(prompt)
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": gin.H{"id": session.ID}})
}

func (m *Module) handleGetSession(c *gin.Context) {
	session, err := m.sessions.Snapshot(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": session})
}

func (m *Module) handleDeleteSession(c *gin.Context) {
	if err := m.sessions.Delete(strings.TrimSpace(c.Param("id"))); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
