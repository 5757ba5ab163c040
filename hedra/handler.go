package hedra

import (
	"errors"
	"net/http"
	"strings"

	"persona_back/storage"

	"github.com/gin-gonic/gin"
)

type Module struct {
	client *Client
}

// RegisterRoutes mounts the asset and generation endpoints under
// /api/hedra, mirroring the surface the character wizard consumes.
func RegisterRoutes(router *gin.Engine, store *storage.MediaStore) (*Module, error) {
	client, err := NewClientFromEnv(store)
	if err != nil {
		return nil, err
	}

	module := &Module{client: client}

	group := router.Group("/api/hedra")
	group.POST("/assets", module.handleRegisterAsset)
	group.POST("/assets/upload", module.handleUploadAsset)
	group.GET("/assets/:id/:type", module.handleGetAsset)
	group.POST("/generate", module.handleSubmitGeneration)
	group.GET("/generate/:id", module.handleGenerationStatus)

	return module, nil
}

// Client exposes the underlying vendor client for the orchestrator.
func (m *Module) Client() *Client {
	if m == nil {
		return nil
	}
	return m.client
}

type registerAssetRequest struct {
	Name string `json:"name" binding:"required"`
	Type string `json:"type" binding:"required"`
}

func (m *Module) handleRegisterAsset(c *gin.Context) {
	var req registerAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "name and type are required"})
		return
	}

	asset, err := m.client.Register(c.Request.Context(), req.Type, req.Name)
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": asset})
}

type uploadAssetRequest struct {
	ID   string `json:"id" binding:"required"`
	Name string `json:"name" binding:"required"`
}

func (m *Module) handleUploadAsset(c *gin.Context) {
	var req uploadAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "id and name are required"})
		return
	}

	asset, err := m.client.Upload(c.Request.Context(), req.ID, req.Name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "no stored file named " + req.Name})
			return
		}
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": asset})
}

func (m *Module) handleGetAsset(c *gin.Context) {
	assetID := strings.TrimSpace(c.Param("id"))
	assetType := strings.TrimSpace(c.Param("type"))
	if assetID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "asset id is required"})
		return
	}

	asset, err := m.client.Get(c.Request.Context(), assetID, assetType)
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": []Asset{*asset}})
}

func (m *Module) handleSubmitGeneration(c *gin.Context) {
	var input GenerationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request payload"})
		return
	}
	if strings.TrimSpace(input.StartKeyframeID) == "" || strings.TrimSpace(input.AudioID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "start_keyframe_id and audio_id are required"})
		return
	}

	jobID, err := m.client.SubmitGeneration(c.Request.Context(), input)
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"id": jobID}})
}

func (m *Module) handleGenerationStatus(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "generation id is required"})
		return
	}

	status, err := m.client.GenerationStatus(c.Request.Context(), jobID)
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": status})
}

func respondUpstreamError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrDisabled):
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "hedra API key not configured"})
	case errors.Is(err, ErrMalformedResponse):
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
	}
}
