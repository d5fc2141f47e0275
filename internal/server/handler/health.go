package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/scrtlabs/attest-hub/internal/hub"
)

// HandleHealth handles GET /health.
func HandleHealth(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, h.GetServiceHealth())
	}
}
