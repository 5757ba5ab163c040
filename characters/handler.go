package characters

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"persona_back/workflow"
)

// IdleVideoRenderer produces the looping idle clip shown while a
// character is not speaking.
type IdleVideoRenderer interface {
	GenerateIdleVideo(ctx context.Context, imageAssetID string) (*workflow.Result, error)
}

type Module struct {
	db       *gorm.DB
	renderer IdleVideoRenderer
}

// RegisterRoutes opens the characters database, runs migrations and
// mounts the character CRUD endpoints. The renderer may be nil; created
// characters then carry no idle video.
func RegisterRoutes(router *gin.Engine, renderer IdleVideoRenderer) (*Module, error) {
	db, err := openDatabaseFromEnv()
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Character{}); err != nil {
		return nil, err
	}

	module := &Module{db: db, renderer: renderer}

	group := router.Group("/api/characters")
	group.POST("", module.handleCreate)
	group.GET("", module.handleList)
	group.GET("/:id", module.handleGet)
	group.DELETE("/:id", module.handleDelete)

	return module, nil
}

type createCharacterRequest struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	VoiceID       string         `json:"voice_id"`
	ImageAssetID  string         `json:"image_id"`
	RenderOptions datatypes.JSON `json:"render_options"`
}

func (r createCharacterRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("character name is required")
	}
	if strings.TrimSpace(r.ImageAssetID) == "" {
		return errors.New("image id is required")
	}
	return nil
}

func (m *Module) handleCreate(c *gin.Context) {
	var req createCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request payload"})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	character := Character{
		Name:          strings.TrimSpace(req.Name),
		ImageAssetID:  strings.TrimSpace(req.ImageAssetID),
		RenderOptions: req.RenderOptions,
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		character.Description = &desc
	}
	if voice := strings.TrimSpace(req.VoiceID); voice != "" {
		character.VoiceID = &voice
	}

	if m.renderer != nil {
		result, err := m.renderer.GenerateIdleVideo(c.Request.Context(), character.ImageAssetID)
		switch {
		case err == nil:
			if result.VideoURL != "" {
				url := result.VideoURL
				character.IdleVideoURL = &url
			}
			if result.VideoAssetID != "" {
				assetID := result.VideoAssetID
				character.VideoAssetID = &assetID
			}
		case errors.Is(err, workflow.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		default:
			// The character is still usable without an idle clip.
			log.Printf("characters: idle video generation failed: %v", err)
		}
	}

	if err := m.db.WithContext(c.Request.Context()).Create(&character).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to save character"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": character})
}

func (m *Module) handleList(c *gin.Context) {
	var list []Character
	if err := m.db.WithContext(c.Request.Context()).Order("created_at DESC").Find(&list).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to load characters"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": list})
}

func (m *Module) handleGet(c *gin.Context) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid character id"})
		return
	}

	var character Character
	if err := m.db.WithContext(c.Request.Context()).First(&character, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "character not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to load character"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": character})
}

func (m *Module) handleDelete(c *gin.Context) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid character id"})
		return
	}

	result := m.db.WithContext(c.Request.Context()).Delete(&Character{}, id)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to delete character"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "character not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
