package integrity

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/assetwatch/internal/validation"
)

// Handler exposes the digest preview for audits.
type Handler struct {
	committer *Committer
}

func NewHandler(c *Committer) *Handler {
	return &Handler{committer: c}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/assets/:id/integrity", h.GetDigest)
}

// GetDigest handles GET /v1/assets/:id/integrity
func (h *Handler) GetDigest(c *gin.Context) {
	assetID, ok := validation.AssetID(c)
	if !ok {
		return
	}
	res, err := h.committer.Digest(c.Request.Context(), assetID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute digest",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"assetId":    assetID,
		"window":     h.committer.Window(),
		"hash":       res.Hash,
		"readings":   res.Readings,
		"skipReason": res.SkipReason,
	})
}
