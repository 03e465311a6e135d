package handler

import (
	"errors"
	"net/http"

	"assetflow/internal/storage"
	"assetflow/pkg/response"

	"github.com/gin-gonic/gin"
)

// UploadHandler serves stored request and deployment photos to signed-in users.
type UploadHandler struct {
	store storage.Store
}

func NewUploadHandler(store storage.Store) *UploadHandler {
	return &UploadHandler{store: store}
}

// Serve streams one stored photo
// @Summary      Get uploaded photo
// @Tags         uploads
// @Security     BearerAuth
// @Produce      image/png,image/jpeg
// @Param        filename  path  string  true  "Stored file name"
// @Success      200
// @Failure      404  {object}  response.Response
// @Router       /uploads/{filename} [get]
func (h *UploadHandler) Serve(c *gin.Context) {
	if _, ok := currentActor(c); !ok {
		return
	}

	name := c.Param("filename")
	rc, err := h.store.Open(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, "File not found"))
			return
		}
		respondError(c, err)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, -1, storage.ContentTypeFor(name), rc, map[string]string{
		"Cache-Control": "private, max-age=86400",
	})
}
