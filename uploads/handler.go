package uploads

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"persona_back/storage"
)

var allowedKinds = map[string]struct{}{
	"image": {},
	"audio": {},
	"video": {},
}

type Module struct {
	store *storage.MediaStore
}

// RegisterRoutes mounts the generic media upload endpoint and the
// download endpoint for stored files.
func RegisterRoutes(router *gin.Engine, store *storage.MediaStore) (*Module, error) {
	if store == nil {
		return nil, errors.New("uploads: media store is required")
	}

	module := &Module{store: store}

	group := router.Group("/api/uploads")
	group.POST("", module.handleUpload)
	group.GET("/:filename", module.handleDownload)

	return module, nil
}

func (m *Module) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "No file provided"})
		return
	}

	kind := strings.TrimSpace(c.PostForm("type"))
	if kind == "" {
		kind = "image"
	}
	if _, ok := allowedKinds[kind]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unsupported upload type"})
		return
	}

	filename, err := m.store.SaveUpload(c.Request.Context(), fileHeader, kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "filename": filename})
}

func (m *Module) handleDownload(c *gin.Context) {
	name := strings.TrimSpace(c.Param("filename"))
	data, contentType, err := m.store.Get(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to read file"})
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, data)
}
