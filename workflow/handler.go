package workflow

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type Module struct {
	orchestrator *Orchestrator
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The browser client lives on a different origin than the API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterRoutes mounts the orchestration endpoints under /api/workflow.
func RegisterRoutes(router *gin.Engine, orchestrator *Orchestrator) (*Module, error) {
	if orchestrator == nil {
		return nil, errors.New("workflow: orchestrator is required")
	}

	module := &Module{orchestrator: orchestrator}

	group := router.Group("/api/workflow")
	group.POST("/animations", module.handleStartAnimation)
	group.GET("/runs/:id", module.handleGetRun)
	group.GET("/runs/:id/events", module.handleRunEvents)

	return module, nil
}

// Orchestrator exposes the orchestrator to sibling modules.
func (m *Module) Orchestrator() *Orchestrator {
	if m == nil {
		return nil
	}
	return m.orchestrator
}

type startAnimationRequest struct {
	VoiceID string `json:"voice_id" binding:"required"`
	Text    string `json:"text" binding:"required"`
	ImageID string `json:"image_id" binding:"required"`
}

func (m *Module) handleStartAnimation(c *gin.Context) {
	var req startAnimationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "voice_id, text and image_id are required"})
		return
	}

	run, err := m.orchestrator.StartRun(req.VoiceID, req.Text, req.ImageID)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true, "data": gin.H{"run_id": run.ID}})
}

func (m *Module) handleGetRun(c *gin.Context) {
	runID := strings.TrimSpace(c.Param("id"))
	run, ok := m.orchestrator.Runs().Get(runID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": run})
}

// handleRunEvents streams step transitions for a run over a websocket.
// The stream closes after the terminal event; dropping the socket does
// not cancel the run, which is server-owned.
func (m *Module) handleRunEvents(c *gin.Context) {
	runID := strings.TrimSpace(c.Param("id"))
	if _, ok := m.orchestrator.Runs().Get(runID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "run not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("workflow: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := m.orchestrator.Runs().Subscribe(runID)
	defer cancel()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
			if event.State.Terminal() {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(event.State)))
				return
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}
