package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler implements GET /health (spec.md §6).
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

func (h *HealthHandler) Health(c *gin.Context) {
	respondOK(c, http.StatusOK, "ok")
}
